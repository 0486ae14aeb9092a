package model

import "time"

// Account holds one player's balances. FundingBalance buys miners;
// RewardBalance holds claimed yield and is only credited by a claim.
// LifetimeClaimed is an audit counter and never decreases.
type Account struct {
	ID              int64
	FundingBalance  float64
	RewardBalance   float64
	LifetimeClaimed float64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Position is one purchased miner of a given tier. Repeat purchases of the
// same kind merge into the same row: principal accumulates, the rate basis
// is re-snapshotted, and the accrual clock refreshes.
type Position struct {
	AccountID     int64
	Kind          Kind
	Principal     float64
	RateBasis     float64
	Pending       float64 // accrued but unclaimed yield
	OpenedAt      time.Time
	LastAccruedAt time.Time // yield accrues over (LastAccruedAt, now]
}
