// Package yield implements the accrual math for miner positions.
//
// Accrual is strictly linear within a period: a position earns
// principal * rateBasis * rate * elapsed/Period, with no intra-period
// compounding. The formula is applied to whatever wall-clock delta has
// elapsed since the position's last accrual point, so a long scheduler gap
// is caught up in a single computation.
package yield

import (
	"time"

	"TonMiner/internal/model"
)

// Period is the accrual period: one quarter (90 days).
const Period = 90 * 24 * time.Hour

// Accrue computes the yield earned by pos over (pos.LastAccruedAt, now]
// and the new accrual point. The accrual clock never moves backward: if
// now is not after LastAccruedAt the amount is zero and the clock is
// returned unchanged. Accrue is pure; the caller must persist the credit
// and the clock advance atomically.
func Accrue(pos *model.Position, now time.Time) (float64, time.Time) {
	elapsed := now.Sub(pos.LastAccruedAt)
	if elapsed <= 0 || pos.Principal <= 0 {
		return 0, pos.LastAccruedAt
	}
	spec, ok := model.SpecFor(pos.Kind)
	if !ok {
		return 0, pos.LastAccruedAt
	}
	f := elapsed.Seconds() / Period.Seconds()
	return pos.Principal * pos.RateBasis * spec.Rate * f, now
}
