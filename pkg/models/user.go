package models

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Plan names. Plans are resolved at session creation and held locally; the
// admission gate never re-fetches them per attempt.
const (
	PlanTrial = "trial"
	PlanPlus  = "plus"
	PlanPro   = "pro"
)

// Feature identifiers gated by plan entitlement.
const (
	FeatureDeepAnalysis = "deep_analysis"
)

// Plan describes a subscription tier and the features it unlocks.
type Plan struct {
	Name     string   `json:"name"`
	Features []string `json:"features"`
}

// PlanByName resolves a stored plan name into the product catalog entry.
// Unknown names degrade to the trial plan rather than failing auth.
func PlanByName(name string) Plan {
	switch name {
	case PlanPlus:
		return Plan{Name: PlanPlus, Features: []string{FeatureDeepAnalysis}}
	case PlanPro:
		return Plan{Name: PlanPro, Features: []string{FeatureDeepAnalysis}}
	default:
		return Plan{Name: PlanTrial}
	}
}

// HasFeature reports whether the plan includes the named feature.
func (p Plan) HasFeature(feature string) bool {
	for _, f := range p.Features {
		if f == feature {
			return true
		}
	}
	return false
}

// User is the authenticated caller resolved from a session key. Subject and
// LegacyID come from the upstream identity provider; either may be absent,
// which is why billing resolves identity by trying several fields in order.
type User struct {
	ID        uuid.UUID  `db:"id"         json:"id"`
	Subject   string     `db:"subject"    json:"subject,omitempty"`
	LegacyID  int64      `db:"legacy_id"  json:"legacy_id,omitempty"`
	Email     string     `db:"email"      json:"email,omitempty"`
	Anonymous bool       `db:"anonymous"  json:"anonymous"`
	Admin     bool       `db:"admin"      json:"admin"`
	Plan      Plan       `db:"-"          json:"plan"`
	PlanName  string     `db:"plan"       json:"-"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at" json:"-"`
}

// BillingIdentity resolves the identity string used by the credit ledger.
// It tries, in order: the upstream subject claim, the legacy numeric id, the
// email address. An empty return means no billable identity exists and any
// deduction must be skipped.
func (u User) BillingIdentity() string {
	if u.Subject != "" {
		return u.Subject
	}
	if u.LegacyID != 0 {
		return strconv.FormatInt(u.LegacyID, 10)
	}
	return u.Email
}
