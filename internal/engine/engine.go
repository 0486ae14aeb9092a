// Package engine implements the purchase, claim and accrual operations of
// the miner game on top of a durable store. Every mutation of an account
// and its positions runs under that account's lock.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"TonMiner/internal/history"
	"TonMiner/internal/model"
	"TonMiner/internal/pricing"
	"TonMiner/internal/store"
	"TonMiner/internal/yield"
)

var (
	// ErrInsufficientFunds is returned when the funding balance cannot cover the tier cost.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInvalidKind is returned for an unknown miner tier.
	ErrInvalidKind = errors.New("invalid miner kind")
	// ErrBelowMinimum is returned when the pending yield is under the claim floor.
	// The accrual clocks still advance and the computed amount is banked.
	ErrBelowMinimum = errors.New("pending yield below claim minimum")
	// ErrUnauthorized is returned when a non-operator calls a privileged operation.
	ErrUnauthorized = errors.New("unauthorized")
)

// Config holds the engine policy knobs.
type Config struct {
	ClaimMinimum  float64 // fixed claim floor
	WelcomeCredit float64 // funding granted on first contact
	AdminID       int64   // the only identity allowed to call AdminCredit
}

// Engine executes game operations against the store.
type Engine struct {
	store   store.Store
	pricing pricing.Source
	trail   history.Trail
	cfg     Config
	locks   *accountLocks
	now     func() time.Time
}

func New(st store.Store, src pricing.Source, trail history.Trail, cfg Config) *Engine {
	return &Engine{
		store:   st,
		pricing: src,
		trail:   trail,
		cfg:     cfg,
		locks:   newAccountLocks(),
		now:     time.Now,
	}
}

// PurchaseResult summarizes an executed purchase.
type PurchaseResult struct {
	Spec            model.MinerSpec
	Principal       float64 // position principal after the purchase
	PendingCredited float64 // yield banked from the old principal before the clock refresh
	FundingLeft     float64
}

// Snapshot is a read-only view of one account. PendingYield includes the
// live accrual since each position's clock, without mutating anything.
type Snapshot struct {
	Account      model.Account
	Positions    []*model.Position
	PendingYield float64
}

// AccrualRun summarizes one full accrual pass across all accounts.
type AccrualRun struct {
	StartedAt   time.Time
	Accounts    int
	Positions   int
	Distributed float64
}

// EnsureAccount loads the account, creating it with the welcome credit on
// first contact. Accounts are never deleted.
func (e *Engine) EnsureAccount(ctx context.Context, id int64) (*model.Account, bool, error) {
	mu := e.locks.get(id)
	mu.Lock()
	defer mu.Unlock()

	acc, err := e.store.GetAccount(ctx, id)
	if err == nil {
		return acc, false, nil
	}
	if !errors.Is(err, store.ErrAccountNotFound) {
		return nil, false, err
	}

	now := e.now()
	acc = &model.Account{
		ID:             id,
		FundingBalance: e.cfg.WelcomeCredit,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.store.CreateAccount(ctx, acc); err != nil {
		return nil, false, err
	}
	if e.cfg.WelcomeCredit > 0 {
		e.record("credit", e.trail.RecordCredit(&history.CreditEvent{
			AccountID: id, Amount: e.cfg.WelcomeCredit, Source: "WELCOME",
		}))
	}
	return acc, true, nil
}

// Purchase buys one miner of the given kind. If the account already holds a
// position of that kind, yield accrued on the existing principal is banked
// first, then the principal grows by the tier cost and the rate basis and
// accrual clock are refreshed.
func (e *Engine) Purchase(ctx context.Context, accountID int64, kind model.Kind) (*PurchaseResult, error) {
	spec, ok := model.SpecFor(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}

	mu := e.locks.get(accountID)
	mu.Lock()
	defer mu.Unlock()

	acc, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acc.FundingBalance < spec.Cost {
		return nil, fmt.Errorf("%w: have %.8f, need %.8f", ErrInsufficientFunds, acc.FundingBalance, spec.Cost)
	}

	positions, err := e.store.ListPositions(ctx, accountID)
	if err != nil {
		return nil, err
	}
	var existing *model.Position
	for _, p := range positions {
		if p.Kind == kind {
			existing = p
			break
		}
	}

	now := e.now()
	basis := e.pricing.Valuation()
	m := &store.PurchaseMutation{AccountID: accountID, Cost: spec.Cost}
	if existing != nil {
		accrued, _ := yield.Accrue(existing, now)
		// The accrual clock never moves backward, even if the wall clock
		// stepped behind the stored timestamp.
		last := now
		if existing.LastAccruedAt.After(now) {
			last = existing.LastAccruedAt
		}
		m.PendingCredit = accrued
		m.Position = model.Position{
			AccountID:     accountID,
			Kind:          kind,
			Principal:     existing.Principal + spec.Cost,
			RateBasis:     basis,
			OpenedAt:      existing.OpenedAt,
			LastAccruedAt: last,
		}
	} else {
		m.Position = model.Position{
			AccountID:     accountID,
			Kind:          kind,
			Principal:     spec.Cost,
			RateBasis:     basis,
			OpenedAt:      now,
			LastAccruedAt: now,
		}
	}

	if err := e.store.ApplyPurchase(ctx, m); err != nil {
		return nil, err
	}

	e.record("purchase", e.trail.RecordPurchase(&history.PurchaseEvent{
		AccountID:      accountID,
		Kind:           string(kind),
		Cost:           spec.Cost,
		PrincipalAfter: m.Position.Principal,
		RateBasis:      basis,
		PendingCredit:  m.PendingCredit,
	}))

	return &PurchaseResult{
		Spec:            spec,
		Principal:       m.Position.Principal,
		PendingCredited: m.PendingCredit,
		FundingLeft:     acc.FundingBalance - spec.Cost,
	}, nil
}

// Claim moves all pending yield into the reward balance. The accrual
// clocks advance and the computed yield is banked whether or not the claim
// clears the minimum, so a failed claim never loses anything.
func (e *Engine) Claim(ctx context.Context, accountID int64) (float64, error) {
	mu := e.locks.get(accountID)
	mu.Lock()
	defer mu.Unlock()

	acc, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	positions, err := e.store.ListPositions(ctx, accountID)
	if err != nil {
		return 0, err
	}

	now := e.now()
	var total float64
	var advances []store.AccrualAdvance
	for _, pos := range positions {
		accrued, newLast := yield.Accrue(pos, now)
		total += pos.Pending + accrued
		advances = append(advances, store.AccrualAdvance{
			Kind:          pos.Kind,
			PendingDelta:  accrued,
			LastAccruedAt: newLast,
		})
	}
	if err := e.store.ApplyAccrual(ctx, accountID, advances, now); err != nil {
		return 0, err
	}

	if total < e.cfg.ClaimMinimum {
		return 0, fmt.Errorf("%w: pending %.8f, minimum %.8f", ErrBelowMinimum, total, e.cfg.ClaimMinimum)
	}

	if err := e.store.ApplyClaim(ctx, &store.ClaimMutation{
		AccountID: accountID,
		Amount:    total,
		ClaimedAt: now,
	}); err != nil {
		return 0, err
	}

	e.record("claim", e.trail.RecordClaim(&history.ClaimEvent{
		AccountID:   accountID,
		Amount:      total,
		RewardAfter: acc.RewardBalance + total,
	}))
	return total, nil
}

// Snapshot returns a read-only view of the account; it mutates nothing.
func (e *Engine) Snapshot(ctx context.Context, accountID int64) (*Snapshot, error) {
	mu := e.locks.get(accountID)
	mu.Lock()
	defer mu.Unlock()

	acc, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	positions, err := e.store.ListPositions(ctx, accountID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	snap := &Snapshot{Account: *acc, Positions: positions}
	for _, pos := range positions {
		accrued, _ := yield.Accrue(pos, now)
		snap.PendingYield += pos.Pending + accrued
	}
	return snap, nil
}

// AdminCredit tops up an account's funding balance. Only the configured
// operator identity may call it.
func (e *Engine) AdminCredit(ctx context.Context, callerID, accountID int64, amount float64) error {
	if e.cfg.AdminID == 0 || callerID != e.cfg.AdminID {
		return fmt.Errorf("%w: caller %d", ErrUnauthorized, callerID)
	}
	if amount <= 0 {
		return fmt.Errorf("credit amount must be positive, got %.8f", amount)
	}

	mu := e.locks.get(accountID)
	mu.Lock()
	defer mu.Unlock()

	if err := e.store.CreditFunding(ctx, accountID, amount, e.now()); err != nil {
		return err
	}
	e.record("credit", e.trail.RecordCredit(&history.CreditEvent{
		AccountID: accountID, Amount: amount, Source: "ADMIN",
	}))
	return nil
}

// AccrueAll recomputes accrued yield for every open position and banks it
// into the per-position pending counters. Driven by the scheduler tick;
// the computation is based on the wall-clock delta since each position's
// accrual point, so missed ticks are caught up in one pass.
func (e *Engine) AccrueAll(ctx context.Context) (*AccrualRun, error) {
	ids, err := e.store.ListAccountIDs(ctx)
	if err != nil {
		return nil, err
	}

	run := &AccrualRun{StartedAt: e.now()}
	for _, id := range ids {
		distributed, touched, err := e.accrueAccount(ctx, id)
		if err != nil {
			log.Printf("[ERROR] accrue account %d: %v", id, err)
			continue
		}
		if touched > 0 {
			run.Accounts++
			run.Positions += touched
			run.Distributed += distributed
		}
	}

	e.record("accrual run", e.trail.RecordAccrualRun(&history.AccrualRunEvent{
		Distributed: run.Distributed,
		Accounts:    run.Accounts,
		Positions:   run.Positions,
	}))
	return run, nil
}

// Totals aggregates all balances for the operator digest.
func (e *Engine) Totals(ctx context.Context) (*store.Totals, error) {
	return e.store.Stats(ctx)
}

func (e *Engine) accrueAccount(ctx context.Context, accountID int64) (float64, int, error) {
	mu := e.locks.get(accountID)
	mu.Lock()
	defer mu.Unlock()

	positions, err := e.store.ListPositions(ctx, accountID)
	if err != nil {
		return 0, 0, err
	}

	now := e.now()
	var distributed float64
	var advances []store.AccrualAdvance
	for _, pos := range positions {
		accrued, newLast := yield.Accrue(pos, now)
		if accrued <= 0 {
			continue
		}
		distributed += accrued
		advances = append(advances, store.AccrualAdvance{
			Kind:          pos.Kind,
			PendingDelta:  accrued,
			LastAccruedAt: newLast,
		})
	}
	if err := e.store.ApplyAccrual(ctx, accountID, advances, now); err != nil {
		return 0, 0, err
	}
	return distributed, len(advances), nil
}

func (e *Engine) record(op string, err error) {
	if err != nil {
		log.Printf("[ERROR] record %s: %v", op, err)
	}
}
