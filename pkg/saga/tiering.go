package saga

// MinimumCreditScore is the score at or below which a credit card
// application is rejected.
const MinimumCreditScore = 650

// CreditLimitFor maps a credit score to a card limit in minor units.
// The second return is false when the score does not qualify.
func CreditLimitFor(score int) (int64, bool) {
	switch {
	case score <= MinimumCreditScore:
		return 0, false
	case score <= 720:
		return 2000, true
	case score <= 780:
		return 5000, true
	case score <= 820:
		return 10000, true
	default:
		return 20000, true
	}
}
