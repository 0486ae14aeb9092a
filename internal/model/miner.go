package model

import "strings"

// Kind identifies a miner tier.
type Kind string

const (
	KindBasic   Kind = "BASIC"
	KindTurbo   Kind = "TURBO"
	KindQuantum Kind = "QUANTUM"
)

// MinerSpec defines a tier's fixed acquisition cost and per-period yield
// rate. Rate is the fraction of principal*rateBasis earned per full period.
type MinerSpec struct {
	Kind  Kind
	Label string
	Cost  float64
	Rate  float64
}

// Catalog is the fixed tier table, cheapest first.
var Catalog = []MinerSpec{
	{Kind: KindBasic, Label: "⛏ Basic Miner", Cost: 10, Rate: 0.03},
	{Kind: KindTurbo, Label: "⚡ Turbo Miner", Cost: 50, Rate: 0.04},
	{Kind: KindQuantum, Label: "🔮 Quantum Miner", Cost: 250, Rate: 0.05},
}

// SpecFor looks up a tier by kind.
func SpecFor(kind Kind) (MinerSpec, bool) {
	for _, s := range Catalog {
		if s.Kind == kind {
			return s, true
		}
	}
	return MinerSpec{}, false
}

// ParseKind maps user input like "basic" or "TURBO" to a Kind.
func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := SpecFor(k); !ok {
		return "", false
	}
	return k, true
}
