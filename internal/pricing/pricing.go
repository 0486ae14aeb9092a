package pricing

import "fmt"

// Source provides the valuation snapshot recorded as a position's rate
// basis at purchase time.
type Source interface {
	Name() string
	Valuation() float64
}

// Static returns a fixed valuation from config. Live price feeds are out
// of scope; the game values everything in USDT at a constant basis.
type Static struct {
	value float64
}

// NewStatic creates a Static source. Non-positive values fall back to 1.0.
func NewStatic(value float64) *Static {
	if value <= 0 {
		value = 1.0
	}
	return &Static{value: value}
}

func (s *Static) Name() string {
	return fmt.Sprintf("static(%.4f)", s.value)
}

func (s *Static) Valuation() float64 { return s.value }
