package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/sagabank/sagabank/config"
	"github.com/sagabank/sagabank/pkg/creditscore"
	"github.com/sagabank/sagabank/pkg/ledger"
	"github.com/sagabank/sagabank/pkg/logger"
	"github.com/sagabank/sagabank/pkg/saga"
)

// demoCustomer is one seeded customer with a funded checking account.
// Balances and credit scores cover every tier plus one rejection.
type demoCustomer struct {
	ucid    string
	owner   string
	account string
	balance int64
	score   int
}

func demoCustomers(cfg *config.Config) map[string][]demoCustomer {
	return map[string][]demoCustomer{
		cfg.Banks.BankA: {
			{ucid: "UC-1001", owner: "Amara Diallo", account: "AC00DEMO1001", balance: 100000, score: 700},
			{ucid: "UC-1002", owner: "Bruno Costa", account: "AC00DEMO1002", balance: 150000, score: 810},
		},
		cfg.Banks.BankB: {
			{ucid: "UC-2001", owner: "Chen Wei", account: "AC00DEMO2001", balance: 120000, score: 640},
			{ucid: "UC-2002", owner: "Dina Petrova", account: "AC00DEMO2002", balance: 90000, score: 830},
		},
	}
}

// seedDemoData loads demo customers into the ledgers, the customer
// directory and the credit score service. Seeding is idempotent:
// accounts that already exist are left alone.
func seedDemoData(
	ctx context.Context,
	cfg *config.Config,
	stores map[string]ledger.Store,
	directory *saga.Directory,
	creditSvc *creditscore.Service,
	log logger.Logger,
) error {
	for bankName, customers := range demoCustomers(cfg) {
		store, ok := stores[bankName]
		if !ok {
			return fmt.Errorf("no ledger store for bank %s", bankName)
		}
		for _, c := range customers {
			err := store.CreateAccount(ctx, ledger.Account{
				Number:  c.account,
				UCID:    c.ucid,
				Owner:   c.owner,
				Kind:    ledger.AccountChecking,
				Balance: c.balance,
			})
			switch {
			case errors.Is(err, ledger.ErrAccountExists):
				// Already seeded on a previous run.
			case err != nil:
				return fmt.Errorf("seed account %s at %s: %w", c.account, bankName, err)
			default:
				log.Info("Seeded demo account",
					"bank", bankName,
					"ucid", c.ucid,
					"account", c.account,
					"balance", c.balance,
				)
			}

			_ = directory.Register(c.ucid, bankName)
			creditSvc.SetScore(c.ucid, c.score)
		}
	}
	return nil
}
