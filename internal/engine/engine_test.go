package engine

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"TonMiner/internal/history"
	"TonMiner/internal/model"
	"TonMiner/internal/pricing"
	"TonMiner/internal/store"
	"TonMiner/internal/yield"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestEngine(cfg Config) (*Engine, *store.MemoryStore, *clock) {
	st := store.NewMemoryStore()
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	e := New(st, pricing.NewStatic(1.0), history.NewNoopTrail(), cfg)
	e.now = clk.Now
	return e, st, clk
}

func basicSpec(t *testing.T) model.MinerSpec {
	t.Helper()
	spec, ok := model.SpecFor(model.KindBasic)
	if !ok {
		t.Fatal("basic tier missing from catalog")
	}
	return spec
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestEnsureAccount_WelcomeCredit(t *testing.T) {
	e, _, _ := newTestEngine(Config{WelcomeCredit: 100})
	ctx := context.Background()

	acc, created, err := e.EnsureAccount(ctx, 42)
	if err != nil {
		t.Fatalf("ensure account: %v", err)
	}
	if !created {
		t.Error("expected account to be created on first contact")
	}
	if acc.FundingBalance != 100 {
		t.Errorf("expected welcome credit 100, got %.2f", acc.FundingBalance)
	}

	_, created, err = e.EnsureAccount(ctx, 42)
	if err != nil {
		t.Fatalf("ensure account again: %v", err)
	}
	if created {
		t.Error("second contact must not create a new account")
	}
}

func TestPurchase_DebitsOnlyTheBuyer(t *testing.T) {
	e, _, _ := newTestEngine(Config{WelcomeCredit: 100})
	ctx := context.Background()
	spec := basicSpec(t)

	e.EnsureAccount(ctx, 1)
	e.EnsureAccount(ctx, 2)

	res, err := e.Purchase(ctx, 1, model.KindBasic)
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if !approx(res.FundingLeft, 100-spec.Cost) {
		t.Errorf("expected funding left %.2f, got %.2f", 100-spec.Cost, res.FundingLeft)
	}

	buyer, _ := e.store.GetAccount(ctx, 1)
	other, _ := e.store.GetAccount(ctx, 2)
	if !approx(buyer.FundingBalance, 100-spec.Cost) {
		t.Errorf("buyer balance %.2f, want %.2f", buyer.FundingBalance, 100-spec.Cost)
	}
	if other.FundingBalance != 100 {
		t.Errorf("other account's balance changed: %.2f", other.FundingBalance)
	}
}

func TestPurchase_InsufficientFunds(t *testing.T) {
	e, st, _ := newTestEngine(Config{WelcomeCredit: 5})
	ctx := context.Background()
	e.EnsureAccount(ctx, 1)

	_, err := e.Purchase(ctx, 1, model.KindBasic)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	acc, _ := st.GetAccount(ctx, 1)
	if acc.FundingBalance != 5 {
		t.Errorf("failed purchase mutated balance: %.2f", acc.FundingBalance)
	}
	positions, _ := st.ListPositions(ctx, 1)
	if len(positions) != 0 {
		t.Errorf("failed purchase created a position")
	}
}

func TestPurchase_InvalidKind(t *testing.T) {
	e, _, _ := newTestEngine(Config{WelcomeCredit: 100})
	ctx := context.Background()
	e.EnsureAccount(ctx, 1)

	_, err := e.Purchase(ctx, 1, model.Kind("GHOST"))
	if !errors.Is(err, ErrInvalidKind) {
		t.Fatalf("expected ErrInvalidKind, got %v", err)
	}
}

func TestPurchase_AccountNotFound(t *testing.T) {
	e, _, _ := newTestEngine(Config{})
	_, err := e.Purchase(context.Background(), 99, model.KindBasic)
	if !errors.Is(err, store.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestPurchase_TopUpBanksPendingBeforeClockRefresh(t *testing.T) {
	e, st, clk := newTestEngine(Config{WelcomeCredit: 100})
	ctx := context.Background()
	spec := basicSpec(t)
	e.EnsureAccount(ctx, 1)

	if _, err := e.Purchase(ctx, 1, model.KindBasic); err != nil {
		t.Fatalf("first purchase: %v", err)
	}

	clk.Advance(yield.Period / 2)

	res, err := e.Purchase(ctx, 1, model.KindBasic)
	if err != nil {
		t.Fatalf("second purchase: %v", err)
	}

	wantPending := spec.Cost * 1.0 * spec.Rate * 0.5
	if !approx(res.PendingCredited, wantPending) {
		t.Errorf("expected %.12f banked before top-up, got %.12f", wantPending, res.PendingCredited)
	}
	if !approx(res.Principal, 2*spec.Cost) {
		t.Errorf("expected merged principal %.2f, got %.2f", 2*spec.Cost, res.Principal)
	}

	positions, _ := st.ListPositions(ctx, 1)
	if len(positions) != 1 {
		t.Fatalf("expected one merged position, got %d", len(positions))
	}
	pos := positions[0]
	if !approx(pos.Pending, wantPending) {
		t.Errorf("stored pending %.12f, want %.12f", pos.Pending, wantPending)
	}
	if !pos.LastAccruedAt.Equal(clk.Now()) {
		t.Errorf("accrual clock not refreshed: %v", pos.LastAccruedAt)
	}
}

func TestPurchase_TopUpClockSkewNeverRewindsAccrualClock(t *testing.T) {
	e, st, clk := newTestEngine(Config{WelcomeCredit: 100})
	ctx := context.Background()
	spec := basicSpec(t)
	e.EnsureAccount(ctx, 1)

	if _, err := e.Purchase(ctx, 1, model.KindBasic); err != nil {
		t.Fatalf("first purchase: %v", err)
	}
	firstAt := clk.Now()

	// Wall clock steps behind the stored accrual point.
	clk.Advance(-time.Hour)

	res, err := e.Purchase(ctx, 1, model.KindBasic)
	if err != nil {
		t.Fatalf("second purchase: %v", err)
	}
	if res.PendingCredited != 0 {
		t.Errorf("banked %.12f for pre-purchase time", res.PendingCredited)
	}

	positions, _ := st.ListPositions(ctx, 1)
	pos := positions[0]
	if pos.LastAccruedAt.Before(firstAt) {
		t.Fatalf("accrual clock moved backward: %v before %v", pos.LastAccruedAt, firstAt)
	}

	// Once the wall clock recovers, yield covers only time after the first
	// purchase; the skewed hour must not be paid out.
	clk.Advance(time.Hour + yield.Period/2)
	amount, err := e.Claim(ctx, 1)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	want := 2 * spec.Cost * 1.0 * spec.Rate * 0.5
	if !approx(amount, want) {
		t.Errorf("claimed %.12f, want %.12f", amount, want)
	}
}

func TestClaim_HalfPeriodYield(t *testing.T) {
	e, st, clk := newTestEngine(Config{WelcomeCredit: 100})
	ctx := context.Background()
	spec := basicSpec(t)
	e.EnsureAccount(ctx, 1)
	e.Purchase(ctx, 1, model.KindBasic)

	clk.Advance(yield.Period / 2)

	amount, err := e.Claim(ctx, 1)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	want := spec.Cost * 1.0 * spec.Rate * 0.5
	if !approx(amount, want) {
		t.Errorf("claimed %.12f, want %.12f", amount, want)
	}

	acc, _ := st.GetAccount(ctx, 1)
	if !approx(acc.RewardBalance, want) {
		t.Errorf("reward balance %.12f, want %.12f", acc.RewardBalance, want)
	}
	if !approx(acc.LifetimeClaimed, want) {
		t.Errorf("lifetime claimed %.12f, want %.12f", acc.LifetimeClaimed, want)
	}
	positions, _ := st.ListPositions(ctx, 1)
	if positions[0].Pending != 0 {
		t.Errorf("pending not zeroed after claim: %.12f", positions[0].Pending)
	}
}

func TestClaim_IdempotentWithNoElapsedTime(t *testing.T) {
	e, st, clk := newTestEngine(Config{WelcomeCredit: 100})
	ctx := context.Background()
	e.EnsureAccount(ctx, 1)
	e.Purchase(ctx, 1, model.KindBasic)
	clk.Advance(yield.Period / 2)

	first, err := e.Claim(ctx, 1)
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	second, err := e.Claim(ctx, 1)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if second != 0 {
		t.Errorf("second immediate claim yielded %.12f, want 0", second)
	}

	acc, _ := st.GetAccount(ctx, 1)
	if !approx(acc.LifetimeClaimed, first) {
		t.Errorf("lifetime claimed %.12f, want %.12f", acc.LifetimeClaimed, first)
	}
}

func TestClaim_BelowMinimumBanksPendingAndAdvancesClock(t *testing.T) {
	e, st, clk := newTestEngine(Config{WelcomeCredit: 100, ClaimMinimum: 1000})
	ctx := context.Background()
	spec := basicSpec(t)
	e.EnsureAccount(ctx, 1)
	e.Purchase(ctx, 1, model.KindBasic)

	clk.Advance(yield.Period / 2)
	claimTime := clk.Now()

	_, err := e.Claim(ctx, 1)
	if !errors.Is(err, ErrBelowMinimum) {
		t.Fatalf("expected ErrBelowMinimum, got %v", err)
	}

	acc, _ := st.GetAccount(ctx, 1)
	if acc.RewardBalance != 0 {
		t.Errorf("below-minimum claim credited reward: %.12f", acc.RewardBalance)
	}

	positions, _ := st.ListPositions(ctx, 1)
	pos := positions[0]
	wantPending := spec.Cost * 1.0 * spec.Rate * 0.5
	if !approx(pos.Pending, wantPending) {
		t.Errorf("pending %.12f not banked, want %.12f", pos.Pending, wantPending)
	}
	if !pos.LastAccruedAt.Equal(claimTime) {
		t.Errorf("accrual clock did not advance: %v", pos.LastAccruedAt)
	}

	// A later claim over the same store recovers the carried amount in full.
	clk.Advance(yield.Period / 2)
	relaxed := New(st, pricing.NewStatic(1.0), history.NewNoopTrail(), Config{})
	relaxed.now = clk.Now
	amount, err := relaxed.Claim(ctx, 1)
	if err != nil {
		t.Fatalf("later claim: %v", err)
	}
	if !approx(amount, 2*wantPending) {
		t.Errorf("later claim recovered %.12f, want %.12f", amount, 2*wantPending)
	}
}

func TestClaim_ConcurrentNoDoubleCredit(t *testing.T) {
	e, st, clk := newTestEngine(Config{WelcomeCredit: 100})
	ctx := context.Background()
	spec := basicSpec(t)
	e.EnsureAccount(ctx, 1)
	e.Purchase(ctx, 1, model.KindBasic)
	clk.Advance(yield.Period / 2)

	trueYield := spec.Cost * 1.0 * spec.Rate * 0.5

	const claimers = 8
	amounts := make([]float64, claimers)
	var wg sync.WaitGroup
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			amount, err := e.Claim(ctx, 1)
			if err != nil {
				t.Errorf("claim %d: %v", i, err)
				return
			}
			amounts[i] = amount
		}(i)
	}
	wg.Wait()

	var total float64
	for _, a := range amounts {
		total += a
	}
	if !approx(total, trueYield) {
		t.Errorf("concurrent claims paid out %.12f total, want %.12f", total, trueYield)
	}

	acc, _ := st.GetAccount(ctx, 1)
	if acc.LifetimeClaimed > trueYield+1e-9 {
		t.Errorf("lifetime claimed %.12f exceeds true yield %.12f", acc.LifetimeClaimed, trueYield)
	}
}

func TestSnapshot_TriggersNoMutation(t *testing.T) {
	e, st, clk := newTestEngine(Config{WelcomeCredit: 100})
	ctx := context.Background()
	spec := basicSpec(t)
	e.EnsureAccount(ctx, 1)
	e.Purchase(ctx, 1, model.KindBasic)
	openedAt := clk.Now()
	clk.Advance(yield.Period / 2)

	want := spec.Cost * 1.0 * spec.Rate * 0.5
	for i := 0; i < 2; i++ {
		snap, err := e.Snapshot(ctx, 1)
		if err != nil {
			t.Fatalf("snapshot: %v", err)
		}
		if !approx(snap.PendingYield, want) {
			t.Errorf("snapshot %d pending yield %.12f, want %.12f", i, snap.PendingYield, want)
		}
	}

	positions, _ := st.ListPositions(ctx, 1)
	pos := positions[0]
	if pos.Pending != 0 {
		t.Errorf("snapshot banked pending: %.12f", pos.Pending)
	}
	if !pos.LastAccruedAt.Equal(openedAt) {
		t.Errorf("snapshot advanced accrual clock: %v", pos.LastAccruedAt)
	}
}

func TestAdminCredit_Authorization(t *testing.T) {
	e, st, _ := newTestEngine(Config{WelcomeCredit: 100, AdminID: 7})
	ctx := context.Background()
	e.EnsureAccount(ctx, 1)

	if err := e.AdminCredit(ctx, 2, 1, 50); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non-operator, got %v", err)
	}
	acc, _ := st.GetAccount(ctx, 1)
	if acc.FundingBalance != 100 {
		t.Errorf("unauthorized credit mutated balance: %.2f", acc.FundingBalance)
	}

	if err := e.AdminCredit(ctx, 7, 1, 50); err != nil {
		t.Fatalf("operator credit: %v", err)
	}
	acc, _ = st.GetAccount(ctx, 1)
	if acc.FundingBalance != 150 {
		t.Errorf("expected 150 after credit, got %.2f", acc.FundingBalance)
	}

	if err := e.AdminCredit(ctx, 7, 99, 50); !errors.Is(err, store.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound for unknown target, got %v", err)
	}
}

func TestAccrueAll_CatchesUpAfterGap(t *testing.T) {
	e, st, clk := newTestEngine(Config{WelcomeCredit: 500})
	ctx := context.Background()
	basic := basicSpec(t)
	turbo, _ := model.SpecFor(model.KindTurbo)

	e.EnsureAccount(ctx, 1)
	e.EnsureAccount(ctx, 2)
	e.Purchase(ctx, 1, model.KindBasic)
	e.Purchase(ctx, 2, model.KindTurbo)

	// A full period passes with no ticks; one pass must account for all of it.
	clk.Advance(yield.Period)

	run, err := e.AccrueAll(ctx)
	if err != nil {
		t.Fatalf("accrue all: %v", err)
	}
	want := basic.Cost*basic.Rate + turbo.Cost*turbo.Rate
	if !approx(run.Distributed, want) {
		t.Errorf("distributed %.12f, want %.12f", run.Distributed, want)
	}
	if run.Accounts != 2 || run.Positions != 2 {
		t.Errorf("expected 2 accounts / 2 positions, got %d / %d", run.Accounts, run.Positions)
	}

	positions, _ := st.ListPositions(ctx, 1)
	if !approx(positions[0].Pending, basic.Cost*basic.Rate) {
		t.Errorf("account 1 pending %.12f, want %.12f", positions[0].Pending, basic.Cost*basic.Rate)
	}

	// Immediately re-running must find nothing to distribute.
	run, err = e.AccrueAll(ctx)
	if err != nil {
		t.Fatalf("second accrue all: %v", err)
	}
	if run.Positions != 0 || run.Distributed != 0 {
		t.Errorf("second pass distributed %.12f over %d positions, want none", run.Distributed, run.Positions)
	}
}
