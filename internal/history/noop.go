package history

// NoopTrail is a no-op implementation used when history is not configured.
type NoopTrail struct{}

func NewNoopTrail() *NoopTrail { return &NoopTrail{} }

func (n *NoopTrail) RecordPurchase(_ *PurchaseEvent) error     { return nil }
func (n *NoopTrail) RecordClaim(_ *ClaimEvent) error           { return nil }
func (n *NoopTrail) RecordCredit(_ *CreditEvent) error         { return nil }
func (n *NoopTrail) RecordAccrualRun(_ *AccrualRunEvent) error { return nil }
func (n *NoopTrail) Close() error                              { return nil }
