package domain

// GlobalTenantID is the rule store partition that applies to all tenants.
// It is reserved and never accepted as a caller tenant.
const GlobalTenantID = "*"

// RuleConfig defines a probability adjustment rule.
type RuleConfig struct {
	ID          string `json:"id" koanf:"id"`
	TenantID    string `json:"tenantId,omitempty" koanf:"-"`
	Name        string `json:"name" koanf:"name"`
	Description string `json:"description" koanf:"description"`
	Version     string `json:"version" koanf:"version"`

	// CEL predicate; must evaluate to bool
	Expression string `json:"expression" koanf:"expression"`

	// Added to the base probability when the predicate holds
	Delta float64 `json:"delta" koanf:"delta"`

	// Whether rule is active
	Enabled bool `json:"enabled" koanf:"enabled"`
}

// RuleHit records a rule that fired during scoring.
type RuleHit struct {
	RuleID string  `json:"ruleId"`
	Name   string  `json:"name"`
	Delta  float64 `json:"delta"`
}

// Default rule identifiers.
const (
	RuleHighClaimAmount     = "high-claim-amount"
	RuleFrequentPriorClaims = "frequent-prior-claims"
	RuleSuspiciousDiagnosis = "suspicious-diagnosis"
	RulePrivateHospital     = "private-hospital"
)
