package history

// PurchaseEvent records one miner purchase.
type PurchaseEvent struct {
	AccountID      int64
	Kind           string
	Cost           float64
	PrincipalAfter float64
	RateBasis      float64
	PendingCredit  float64
}

// ClaimEvent records one successful claim.
type ClaimEvent struct {
	AccountID   int64
	Amount      float64
	RewardAfter float64
}

// CreditEvent records a funding credit (welcome bonus or operator top-up).
type CreditEvent struct {
	AccountID int64
	Amount    float64
	Source    string // "WELCOME" or "ADMIN"
}

// AccrualRunEvent summarizes one scheduler accrual pass.
type AccrualRunEvent struct {
	Distributed float64
	Accounts    int
	Positions   int
}

// Trail persists an audit history of engine events for analysis.
type Trail interface {
	RecordPurchase(evt *PurchaseEvent) error
	RecordClaim(evt *ClaimEvent) error
	RecordCredit(evt *CreditEvent) error
	RecordAccrualRun(evt *AccrualRunEvent) error
	Close() error
}
