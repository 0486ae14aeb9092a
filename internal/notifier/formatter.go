package notifier

import (
	"fmt"
	"strings"
	"time"

	"TonMiner/internal/engine"
	"TonMiner/internal/model"
	"TonMiner/internal/store"
)

// FormatWelcome greets a user on /start.
func FormatWelcome(firstName string, created bool) string {
	var b strings.Builder
	if created {
		b.WriteString(fmt.Sprintf("👋 Welcome %s! Your miner account is ready.\n\n", firstName))
		b.WriteString("You received a starting funding balance. ")
	} else {
		b.WriteString(fmt.Sprintf("👋 Welcome back %s!\n\n", firstName))
	}
	b.WriteString("Buy miners with /buy, watch them accrue yield and collect it with /claim.\n\n")
	b.WriteString("• /shop: miner catalog\n")
	b.WriteString("• /stats: balances and miners\n")
	b.WriteString("• /claim: collect accrued yield")
	return b.String()
}

// FormatCatalog lists the miner tiers with cost and per-quarter rate.
func FormatCatalog() string {
	var b strings.Builder
	b.WriteString("🛒 <b>Miner Shop</b>\n\n")
	for _, s := range model.Catalog {
		b.WriteString(fmt.Sprintf("%s\n   cost %.0f USDT | %.0f%% per quarter\n",
			s.Label, s.Cost, s.Rate*100))
	}
	b.WriteString("\nBuy with /buy basic, /buy turbo or /buy quantum.")
	return b.String()
}

// FormatPurchase confirms an executed purchase.
func FormatPurchase(res *engine.PurchaseResult) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("✅ Bought %s for %.0f USDT\n\n", res.Spec.Label, res.Spec.Cost))
	b.WriteString(fmt.Sprintf("Position principal: %.2f USDT\n", res.Principal))
	if res.PendingCredited > 0 {
		b.WriteString(fmt.Sprintf("Yield banked before top-up: %.8f USDT\n", res.PendingCredited))
	}
	b.WriteString(fmt.Sprintf("Funding left: %.2f USDT", res.FundingLeft))
	return b.String()
}

// FormatClaim confirms a successful claim.
func FormatClaim(amount float64) string {
	return fmt.Sprintf("💰 Claimed %.8f USDT into your reward balance!", amount)
}

// FormatSnapshot renders the stats view in the miner app's voice.
func FormatSnapshot(snap *engine.Snapshot) string {
	var b strings.Builder
	b.WriteString("📊 <b>Your Miner Stats</b>\n\n")
	b.WriteString(fmt.Sprintf("Funding balance: %.2f USDT\n", snap.Account.FundingBalance))
	b.WriteString(fmt.Sprintf("Reward balance: %.8f USDT\n", snap.Account.RewardBalance))
	b.WriteString(fmt.Sprintf("Pending yield: %.8f USDT\n", snap.PendingYield))
	b.WriteString(fmt.Sprintf("Lifetime claimed: %.8f USDT\n", snap.Account.LifetimeClaimed))

	if len(snap.Positions) > 0 {
		b.WriteString("\n⛏ <b>Miners:</b>\n")
		for _, p := range snap.Positions {
			spec, _ := model.SpecFor(p.Kind)
			b.WriteString(fmt.Sprintf("  %s | principal %.2f | since %s\n",
				spec.Label, p.Principal, p.OpenedAt.Format("2006-01-02")))
		}
	} else {
		b.WriteString("\nNo miners yet. Visit the /shop!")
	}
	return b.String()
}

// FormatDigest renders the daily operator digest.
func FormatDigest(t *store.Totals) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("📦 <b>TonMiner Daily Digest</b> | %s\n\n", time.Now().Format("2006-01-02")))
	b.WriteString(fmt.Sprintf("Accounts: %d\n", t.Accounts))
	b.WriteString(fmt.Sprintf("Positions: %d (principal %.2f USDT)\n", t.Positions, t.TotalPrincipal))
	b.WriteString(fmt.Sprintf("Funding total: %.2f USDT\n", t.TotalFunding))
	b.WriteString(fmt.Sprintf("Pending yield: %.8f USDT\n", t.TotalPending))
	b.WriteString(fmt.Sprintf("Reward total: %.8f USDT\n", t.TotalReward))
	b.WriteString(fmt.Sprintf("Lifetime claimed: %.8f USDT\n", t.LifetimeClaimed))
	return b.String()
}

// FormatHelp lists available commands.
func FormatHelp() string {
	return "Available commands:\n• /start\n• /shop\n• /buy <tier>\n• /claim\n• /stats"
}
