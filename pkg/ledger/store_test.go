package ledger

import (
	"context"
	"errors"
	"testing"
)

func newTestAccount(number, ucid string, balance int64) Account {
	return Account{
		Number:  number,
		UCID:    ucid,
		Owner:   "Test Owner",
		Kind:    AccountChecking,
		Balance: balance,
	}
}

func mustCreate(t *testing.T, store Store, account Account) {
	t.Helper()
	if err := store.CreateAccount(context.Background(), account); err != nil {
		t.Fatalf("create account %s: %v", account.Number, err)
	}
}

func TestMemoryStoreAccountLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	mustCreate(t, store, newTestAccount("AC001", "UC-1", 500))

	if err := store.CreateAccount(ctx, newTestAccount("AC001", "UC-1", 0)); !errors.Is(err, ErrAccountExists) {
		t.Fatalf("duplicate create: got %v, want ErrAccountExists", err)
	}

	account, err := store.GetAccount(ctx, "AC001")
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if account.Balance != 500 {
		t.Fatalf("balance = %d, want 500", account.Balance)
	}
	if account.CreatedAt.IsZero() {
		t.Fatal("expected created_at to be set")
	}

	if _, err := store.GetAccount(ctx, "AC999"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("get missing: got %v, want ErrAccountNotFound", err)
	}

	if err := store.DeleteAccount(ctx, "AC001"); err != nil {
		t.Fatalf("delete account: %v", err)
	}
	if err := store.DeleteAccount(ctx, "AC001"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("delete missing: got %v, want ErrAccountNotFound", err)
	}
}

func TestMemoryStoreCreditDebit(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	mustCreate(t, store, newTestAccount("AC001", "UC-1", 100))

	balance, err := store.Credit(ctx, "AC001", 50)
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if balance != 150 {
		t.Fatalf("balance after credit = %d, want 150", balance)
	}

	balance, err = store.Debit(ctx, "AC001", 120)
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if balance != 30 {
		t.Fatalf("balance after debit = %d, want 30", balance)
	}

	if _, err := store.Debit(ctx, "AC001", 31); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("overdraw: got %v, want ErrInsufficientFunds", err)
	}
	account, err := store.GetAccount(ctx, "AC001")
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if account.Balance != 30 {
		t.Fatalf("failed debit changed balance to %d", account.Balance)
	}

	if _, err := store.Credit(ctx, "AC001", 0); err == nil {
		t.Fatal("expected zero credit to be rejected")
	}
	if _, err := store.Debit(ctx, "AC001", -5); err == nil {
		t.Fatal("expected negative debit to be rejected")
	}
}

func TestMemoryStoreTransfer(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	mustCreate(t, store, newTestAccount("AC001", "UC-1", 300))
	mustCreate(t, store, newTestAccount("AC002", "UC-2", 100))

	if err := store.Transfer(ctx, "AC001", "AC002", 200); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	assertBalance(t, store, "AC001", 100)
	assertBalance(t, store, "AC002", 300)

	if err := store.Transfer(ctx, "AC001", "AC002", 101); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("overdrawn transfer: got %v, want ErrInsufficientFunds", err)
	}
	assertBalance(t, store, "AC001", 100)
	assertBalance(t, store, "AC002", 300)

	if err := store.Transfer(ctx, "AC001", "AC999", 10); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("transfer to missing: got %v, want ErrAccountNotFound", err)
	}
	assertBalance(t, store, "AC001", 100)
}

func assertBalance(t *testing.T, store Store, number string, want int64) {
	t.Helper()
	account, err := store.GetAccount(context.Background(), number)
	if err != nil {
		t.Fatalf("get account %s: %v", number, err)
	}
	if account.Balance != want {
		t.Fatalf("account %s balance = %d, want %d", number, account.Balance, want)
	}
}

func TestMemoryStoreFindAccountByUCID(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	mustCreate(t, store, newTestAccount("AC001", "UC-1", 100))
	card := newTestAccount("CC001", "UC-1", 2000)
	card.Kind = AccountCredit
	mustCreate(t, store, card)

	account, err := store.FindAccountByUCID(ctx, "UC-1", AccountChecking)
	if err != nil {
		t.Fatalf("find checking: %v", err)
	}
	if account.Number != "AC001" {
		t.Fatalf("find checking: got %s, want AC001", account.Number)
	}

	account, err = store.FindAccountByUCID(ctx, "UC-1", AccountCredit)
	if err != nil {
		t.Fatalf("find credit: %v", err)
	}
	if account.Number != "CC001" {
		t.Fatalf("find credit: got %s, want CC001", account.Number)
	}

	if _, err := store.FindAccountByUCID(ctx, "UC-9", AccountChecking); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("find unknown customer: got %v, want ErrAccountNotFound", err)
	}

	mustCreate(t, store, newTestAccount("AC002", "UC-1", 50))
	if _, err := store.FindAccountByUCID(ctx, "UC-1", AccountChecking); !errors.Is(err, ErrAmbiguousAccount) {
		t.Fatalf("ambiguous find: got %v, want ErrAmbiguousAccount", err)
	}
}

func TestMemoryStoreListAccountsOrdered(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	mustCreate(t, store, newTestAccount("AC003", "UC-3", 1))
	mustCreate(t, store, newTestAccount("AC001", "UC-1", 1))
	mustCreate(t, store, newTestAccount("AC002", "UC-2", 1))

	accounts, err := store.ListAccounts(ctx)
	if err != nil {
		t.Fatalf("list accounts: %v", err)
	}
	if len(accounts) != 3 {
		t.Fatalf("len = %d, want 3", len(accounts))
	}
	for i, want := range []string{"AC001", "AC002", "AC003"} {
		if accounts[i].Number != want {
			t.Fatalf("accounts[%d] = %s, want %s", i, accounts[i].Number, want)
		}
	}
}

func TestMemoryStoreJournal(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	entry := NewEntry("saga-1", KindDeposit, "AC001", 100)
	if err := store.PutJournal(ctx, entry); err != nil {
		t.Fatalf("put journal: %v", err)
	}

	got, err := store.GetJournal(ctx, "saga-1", KindDeposit)
	if err != nil {
		t.Fatalf("get journal: %v", err)
	}
	if got.ID != entry.ID || got.Status != StatusActive {
		t.Fatalf("got entry %+v, want id %s status Active", got, entry.ID)
	}

	if _, err := store.GetJournal(ctx, "saga-1", KindWithdraw); !errors.Is(err, ErrJournalNotFound) {
		t.Fatalf("get missing journal: got %v, want ErrJournalNotFound", err)
	}

	if err := store.UpdateJournalStatus(ctx, "saga-1", KindDeposit, StatusCompleting); err != nil {
		t.Fatalf("update journal status: %v", err)
	}
	if err := store.UpdateJournalStatus(ctx, "saga-1", KindDeposit, StatusCompensated); err == nil {
		t.Fatal("expected invalid transition to be rejected")
	}
	got, err = store.GetJournal(ctx, "saga-1", KindDeposit)
	if err != nil {
		t.Fatalf("get journal: %v", err)
	}
	if got.Status != StatusCompleting {
		t.Fatalf("status = %s, want Completing", got.Status)
	}

	if err := store.PutJournal(ctx, NewEntry("saga-1", KindWithdraw, "AC002", 50)); err != nil {
		t.Fatalf("put second journal: %v", err)
	}
	if err := store.PutJournal(ctx, NewEntry("saga-2", KindDeposit, "AC003", 10)); err != nil {
		t.Fatalf("put third journal: %v", err)
	}
	entries, err := store.ListJournal(ctx, "saga-1")
	if err != nil {
		t.Fatalf("list journal: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("list journal len = %d, want 2", len(entries))
	}

	if err := store.PutJournal(ctx, Entry{Kind: KindDeposit}); err == nil {
		t.Fatal("expected journal without saga id to be rejected")
	}
}
