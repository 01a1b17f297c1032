package eventbus

// Saga operation types. These name the unit of work a request asks for
// and echo back on every reply's operation_type field.
const (
	OpDeposit                 = "deposit"
	OpWithdraw                = "withdraw"
	OpTransact                = "transact"
	OpNewBankAccount          = "new_bank_account"
	OpNewCreditCard           = "new_credit_card"
	OpNewCreditCardSetBalance = "new_credit_card_set_balance"
	OpCreditCheck             = "credit_check"
	OpViewBalance             = "view_balance"
)

// Reply results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Signal actions.
const (
	SignalCommit   = "commit"
	SignalRollback = "rollback"
)

// Request is the payload of a KindRequest envelope. Fields are
// operation-specific; unused ones stay empty.
type Request struct {
	UCID          string `json:"ucid,omitempty"`
	Owner         string `json:"owner,omitempty"`
	AccountNumber string `json:"account_number,omitempty"`
	CardNumber    string `json:"cc_number,omitempty"`
	FromAccount   string `json:"from_account,omitempty"`
	ToAccount     string `json:"to_account,omitempty"`
	Amount        int64  `json:"balance_amount,omitempty"`
}

// Reply is the payload of a KindReply envelope.
type Reply struct {
	Result        string `json:"result"`
	OperationType string `json:"operation_type"`
	Participant   string `json:"participant"`
	BalanceAmount int64  `json:"balance_amount,omitempty"`
	AccountNumber string `json:"account_number,omitempty"`
	CardNumber    string `json:"cc_number,omitempty"`
	CreditScore   int    `json:"credit_score,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// Succeeded reports whether the reply is a success.
func (r Reply) Succeeded() bool { return r.Result == ResultSuccess }

// Signal is the payload of a KindSignal envelope.
type Signal struct {
	Action string `json:"action"`
}
