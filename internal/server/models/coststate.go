package models

import "time"

// CostTier is the per-tenant budget tier gating expensive downstream work.
type CostTier string

const (
	CostTierNormal    CostTier = "normal"
	CostTierCaution   CostTier = "caution"
	CostTierThrottled CostTier = "throttled"
	CostTierBlocked   CostTier = "blocked"
)

// CostState is the current budget standing of one organization.
type CostState struct {
	OrganizationID    string
	Tier              CostTier
	MonthlyUsageCents int64
	BudgetCents       int64
	UpdatedAt         time.Time
}

// AllowsIndexing reports whether the tier permits enqueueing new
// indexing work.
func (s CostTier) AllowsIndexing() bool {
	return s != CostTierThrottled && s != CostTierBlocked
}
