// Command seeder loads demo customers and funded checking accounts into
// the configured durable ledgers. Credit scores live in the credit score
// participant's memory, so the server seeds those itself with -demo.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"

	"github.com/sagabank/sagabank/config"
	"github.com/sagabank/sagabank/pkg/ledger"
	"github.com/sagabank/sagabank/pkg/logger"
)

var configPath = flag.String("config", "", "Path to configuration file")

type seedAccount struct {
	ucid    string
	owner   string
	account string
	balance int64
}

func seedAccounts(cfg *config.Config) map[string][]seedAccount {
	return map[string][]seedAccount{
		cfg.Banks.BankA: {
			{ucid: "UC-1001", owner: "Amara Diallo", account: "AC00DEMO1001", balance: 100000},
			{ucid: "UC-1002", owner: "Bruno Costa", account: "AC00DEMO1002", balance: 150000},
		},
		cfg.Banks.BankB: {
			{ucid: "UC-2001", owner: "Chen Wei", account: "AC00DEMO2001", balance: 120000},
			{ucid: "UC-2002", owner: "Dina Petrova", account: "AC00DEMO2002", balance: 90000},
		},
	}
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration:\n%s\n", err)
		os.Exit(1)
	}

	log := logger.New(&logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: "stdout",
	})
	defer log.Close()

	ctx := context.Background()
	if err := run(ctx, cfg, log); err != nil {
		log.Error("Seeding failed", "error", err)
		os.Exit(1)
	}
	log.Info("Seeding complete")
}

func run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	for bankName, accounts := range seedAccounts(cfg) {
		store, err := openStore(ctx, cfg, bankName)
		if err != nil {
			return fmt.Errorf("open ledger for %s: %w", bankName, err)
		}

		for _, a := range accounts {
			err := store.CreateAccount(ctx, ledger.Account{
				Number:  a.account,
				UCID:    a.ucid,
				Owner:   a.owner,
				Kind:    ledger.AccountChecking,
				Balance: a.balance,
			})
			switch {
			case errors.Is(err, ledger.ErrAccountExists):
				log.Info("Account already seeded", "bank", bankName, "account", a.account)
			case err != nil:
				_ = store.Close()
				return fmt.Errorf("seed account %s at %s: %w", a.account, bankName, err)
			default:
				log.Info("Seeded account",
					"bank", bankName,
					"ucid", a.ucid,
					"account", a.account,
					"balance", a.balance,
				)
			}
		}

		if err := store.Close(); err != nil {
			return fmt.Errorf("close ledger for %s: %w", bankName, err)
		}
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, bankName string) (ledger.Store, error) {
	switch cfg.Storage.Type {
	case "badger":
		opts := badger.DefaultOptions(filepath.Join(cfg.Storage.Dir, bankName)).WithLogger(nil)
		db, err := badger.Open(opts)
		if err != nil {
			return nil, err
		}
		return ledger.NewBadgerStore(db)

	case "postgres":
		conn := cfg.Storage.PostgresBankA
		if bankName == cfg.Banks.BankB {
			conn = cfg.Storage.PostgresBankB
		}
		store, err := ledger.NewPostgresStore(ctx, conn)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			return nil, err
		}
		return store, nil

	default:
		return nil, fmt.Errorf("storage type %q cannot be seeded out of process", cfg.Storage.Type)
	}
}
