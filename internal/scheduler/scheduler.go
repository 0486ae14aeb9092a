package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"TonMiner/internal/engine"
	"TonMiner/internal/model"
	"TonMiner/internal/notifier"
	"TonMiner/internal/store"

	"github.com/robfig/cron/v3"
)

// Scheduler manages the accrual tick and the operator digest, and routes
// user commands from the bot layer into the engine.
type Scheduler struct {
	Cron     *cron.Cron
	Engine   *engine.Engine
	Notifier *notifier.TelegramNotifier
	Ctx      context.Context
}

// NewScheduler creates a new Scheduler.
func NewScheduler(ctx context.Context, eng *engine.Engine, tn *notifier.TelegramNotifier) *Scheduler {
	return &Scheduler{
		Cron:     cron.New(cron.WithSeconds()),
		Engine:   eng,
		Notifier: tn,
		Ctx:      ctx,
	}
}

// RegisterAll registers the accrual tick and the daily digest.
func (s *Scheduler) RegisterAll(accrualCron, digestCron string) error {
	if _, err := s.Cron.AddFunc(accrualCron, s.accrualTick); err != nil {
		return fmt.Errorf("register accrual tick: %w", err)
	}
	if _, err := s.Cron.AddFunc(digestCron, s.dailyDigest); err != nil {
		return fmt.Errorf("register daily digest: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	log.Println("[INFO] scheduler started")
}

// Stop stops the cron scheduler gracefully.
func (s *Scheduler) Stop() {
	s.Cron.Stop()
	log.Println("[INFO] scheduler stopped")
}

// RunAccrualNow executes an accrual pass immediately (for RUN_ON_START).
func (s *Scheduler) RunAccrualNow() {
	s.accrualTick()
}

func (s *Scheduler) accrualTick() {
	run, err := s.Engine.AccrueAll(s.Ctx)
	if err != nil {
		log.Printf("[ERROR] accrual tick: %v", err)
		return
	}
	if run.Positions > 0 {
		log.Printf("[INFO] accrual tick: %.8f distributed over %d positions (%d accounts)",
			run.Distributed, run.Positions, run.Accounts)
	}
}

func (s *Scheduler) dailyDigest() {
	log.Println("[INFO] running daily digest")
	totals, err := s.Engine.Totals(s.Ctx)
	if err != nil {
		log.Printf("[ERROR] daily digest: %v", err)
		return
	}
	s.trySendAdmin(notifier.FormatDigest(totals))
}

// HandleCommand processes one user command and returns the reply text.
func (s *Scheduler) HandleCommand(userID int64, firstName, text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return notifier.FormatHelp()
	}

	switch fields[0] {
	case "/start":
		_, created, err := s.Engine.EnsureAccount(s.Ctx, userID)
		if err != nil {
			return replyError(err)
		}
		return notifier.FormatWelcome(firstName, created)

	case "/shop":
		return notifier.FormatCatalog()

	case "/buy":
		if len(fields) < 2 {
			return notifier.FormatCatalog()
		}
		kind, ok := model.ParseKind(fields[1])
		if !ok {
			return fmt.Sprintf("❌ Unknown miner %q. Try /shop.", fields[1])
		}
		if _, _, err := s.Engine.EnsureAccount(s.Ctx, userID); err != nil {
			return replyError(err)
		}
		res, err := s.Engine.Purchase(s.Ctx, userID, kind)
		if err != nil {
			return replyError(err)
		}
		return notifier.FormatPurchase(res)

	case "/claim":
		if _, _, err := s.Engine.EnsureAccount(s.Ctx, userID); err != nil {
			return replyError(err)
		}
		amount, err := s.Engine.Claim(s.Ctx, userID)
		if err != nil {
			return replyError(err)
		}
		return notifier.FormatClaim(amount)

	case "/stats":
		if _, _, err := s.Engine.EnsureAccount(s.Ctx, userID); err != nil {
			return replyError(err)
		}
		snap, err := s.Engine.Snapshot(s.Ctx, userID)
		if err != nil {
			return replyError(err)
		}
		return notifier.FormatSnapshot(snap)

	case "/credit":
		if len(fields) < 3 {
			return "Usage: /credit <account_id> <amount>"
		}
		target, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return fmt.Sprintf("❌ Bad account id %q", fields[1])
		}
		amount, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return fmt.Sprintf("❌ Bad amount %q", fields[2])
		}
		if err := s.Engine.AdminCredit(s.Ctx, userID, target, amount); err != nil {
			return replyError(err)
		}
		return fmt.Sprintf("✅ Credited %.8f USDT to account %d", amount, target)

	default:
		return notifier.FormatHelp()
	}
}

func replyError(err error) string {
	switch {
	case errors.Is(err, engine.ErrInsufficientFunds):
		return "❌ Not enough funding balance. Ask the operator for a top-up."
	case errors.Is(err, engine.ErrInvalidKind):
		return "❌ Unknown miner tier. Try /shop."
	case errors.Is(err, engine.ErrBelowMinimum):
		return "⏳ Not enough yield accrued yet. It keeps building, try again later."
	case errors.Is(err, engine.ErrUnauthorized):
		return "🚫 This command is restricted to the operator."
	case errors.Is(err, store.ErrAccountNotFound):
		return "❌ Account not found. Send /start first."
	case errors.Is(err, store.ErrUnavailable):
		return "⚠️ Storage is busy, nothing was changed. Please retry."
	default:
		log.Printf("[ERROR] command failed: %v", err)
		return "⚠️ Something went wrong. Please retry."
	}
}

func (s *Scheduler) trySendAdmin(text string) {
	if err := s.Notifier.SendToAdminWithRetry(s.Ctx, text, 3); err != nil {
		log.Printf("[ERROR] send digest: %v", err)
	}
}
