package saga

import "testing"

func TestSessionCrossBank(t *testing.T) {
	same := Session{Bank: "banka"}
	if same.CrossBank() {
		t.Fatal("session without counterparty reported cross-bank")
	}
	self := Session{Bank: "banka", CounterpartyBank: "banka"}
	if self.CrossBank() {
		t.Fatal("session with same counterparty reported cross-bank")
	}
	cross := Session{Bank: "banka", CounterpartyBank: "bankb"}
	if !cross.CrossBank() {
		t.Fatal("session with distinct counterparty not reported cross-bank")
	}
}

func TestSessionParticipants(t *testing.T) {
	same := Session{Bank: "banka"}
	if got := same.Participants(); len(got) != 1 || got[0] != "banka" {
		t.Fatalf("participants = %v, want [banka]", got)
	}
	cross := Session{Bank: "banka", CounterpartyBank: "bankb"}
	got := cross.Participants()
	if len(got) != 2 || got[0] != "banka" || got[1] != "bankb" {
		t.Fatalf("participants = %v, want [banka bankb]", got)
	}
}

func TestReadyToCommitNewAccount(t *testing.T) {
	session := Session{Operation: OpNewBankAccount, Bank: "banka"}
	if session.ReadyToCommit() {
		t.Fatal("ready before account reply")
	}
	session.AccountsReplied = true
	if !session.ReadyToCommit() {
		t.Fatal("not ready after account reply")
	}
}

func TestReadyToCommitNewCreditCard(t *testing.T) {
	session := Session{Operation: OpNewCreditCard, Bank: "banka"}

	session.CreditScoreReplied = true
	if session.ReadyToCommit() {
		t.Fatal("ready with score only")
	}
	session.AccountsReplied = true
	if session.ReadyToCommit() {
		t.Fatal("ready before set-balance reply")
	}
	if !session.CardPhaseReady() {
		t.Fatal("card phase not ready with score and card")
	}
	session.SecondAccountsReplied = true
	if !session.ReadyToCommit() {
		t.Fatal("not ready with all three replies")
	}
}

func TestCardPhaseReadyEitherOrder(t *testing.T) {
	session := Session{Operation: OpNewCreditCard, Bank: "banka"}
	session.AccountsReplied = true
	if session.CardPhaseReady() {
		t.Fatal("phase ready without score")
	}
	session.CreditScoreReplied = true
	if !session.CardPhaseReady() {
		t.Fatal("phase not ready with both replies")
	}

	other := Session{Operation: OpNewBankAccount, CreditScoreReplied: true, AccountsReplied: true}
	if other.CardPhaseReady() {
		t.Fatal("non-card operation reported card phase ready")
	}
}

func TestReadyToCommitTransfer(t *testing.T) {
	same := Session{Operation: OpTransfer, Bank: "banka"}
	if same.ReadyToCommit() {
		t.Fatal("same-bank transfer ready before transact reply")
	}
	same.AccountsReplied = true
	if !same.ReadyToCommit() {
		t.Fatal("same-bank transfer not ready after transact reply")
	}

	cross := Session{Operation: OpTransfer, Bank: "banka", CounterpartyBank: "bankb"}
	cross.WithdrawReplied = true
	if cross.ReadyToCommit() {
		t.Fatal("cross-bank transfer ready with one leg")
	}
	cross.DepositReplied = true
	if !cross.ReadyToCommit() {
		t.Fatal("cross-bank transfer not ready with both legs")
	}
}

func TestReadyToCommitUnknownOperation(t *testing.T) {
	session := Session{Operation: OperationType("unknown"), AccountsReplied: true}
	if session.ReadyToCommit() {
		t.Fatal("unknown operation reported ready")
	}
}
