package store

import (
	"context"
	"errors"
	"time"

	"TonMiner/internal/model"
)

var (
	// ErrAccountNotFound is returned when the referenced account does not exist.
	ErrAccountNotFound = errors.New("account not found")
	// ErrUnavailable is returned once storage retries are exhausted.
	ErrUnavailable = errors.New("storage unavailable")
)

// AccrualAdvance advances one position's accrual clock and banks the yield
// computed for the covered interval into its pending counter. The clock
// advance and the pending credit are applied together or not at all.
type AccrualAdvance struct {
	Kind          model.Kind
	PendingDelta  float64
	LastAccruedAt time.Time
}

// PurchaseMutation is the atomic effect of one miner purchase: the funding
// debit plus the resulting position row. Position carries the full desired
// row state (principal after the purchase, fresh rate basis and clock);
// PendingCredit banks yield accrued on pre-existing principal before the
// clock refresh, so a top-up never discards earned yield.
type PurchaseMutation struct {
	AccountID     int64
	Cost          float64
	PendingCredit float64
	Position      model.Position
}

// ClaimMutation is the atomic effect of a successful claim: every pending
// counter of the account is zeroed and the reward and lifetime balances
// are credited with their sum.
type ClaimMutation struct {
	AccountID int64
	Amount    float64
	ClaimedAt time.Time
}

// Totals aggregates across all accounts for the daily digest.
type Totals struct {
	Accounts        int
	Positions       int
	TotalPrincipal  float64
	TotalPending    float64
	TotalFunding    float64
	TotalReward     float64
	LifetimeClaimed float64
}

// Store is the durable record of accounts and their miner positions.
// Mutations are a fixed, typed set; there is no generic field update.
// Callers serialize mutations per account; the store guarantees each
// mutation is applied atomically.
type Store interface {
	GetAccount(ctx context.Context, id int64) (*model.Account, error)
	CreateAccount(ctx context.Context, a *model.Account) error
	ListPositions(ctx context.Context, accountID int64) ([]*model.Position, error)
	ListAccountIDs(ctx context.Context) ([]int64, error)
	CreditFunding(ctx context.Context, accountID int64, amount float64, at time.Time) error
	ApplyPurchase(ctx context.Context, m *PurchaseMutation) error
	ApplyAccrual(ctx context.Context, accountID int64, advances []AccrualAdvance, at time.Time) error
	ApplyClaim(ctx context.Context, m *ClaimMutation) error
	Stats(ctx context.Context) (*Totals, error)
	Close() error
}
