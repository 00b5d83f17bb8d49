package domain

import (
	"time"
)

// Verdict is the binary outcome of a scoring call.
type Verdict string

const (
	VerdictFraud      Verdict = "Fraud"
	VerdictLegitimate Verdict = "Legitimate"
)

// IsFraud reports whether the verdict flags the claim.
func (v Verdict) IsFraud() bool {
	return v == VerdictFraud
}

// ScoringResult is the immutable audit record of one scoring decision.
type ScoringResult struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	// Snapshot of inputs
	Claim   ClaimInput      `json:"claim"`
	Profile CustomerProfile `json:"profile"`

	// Outcome
	Verdict         Verdict   `json:"verdict"`
	Probability     float64   `json:"probability"`
	BaseProbability float64   `json:"baseProbability"`
	RulesFired      []RuleHit `json:"rulesFired"`

	// Provenance
	ModelVersion   string   `json:"modelVersion"`
	ModelDegraded  bool     `json:"modelDegraded"`
	FallbackFields []string `json:"fallbackFields,omitempty"`
	AuditPersisted bool     `json:"auditPersisted"`

	Timestamp time.Time `json:"timestamp"`
}

// ScoreResponse is the API response for a scoring call.
type ScoreResponse struct {
	ScoreID         string            `json:"scoreId"`
	TenantID        string            `json:"tenantId"`
	Verdict         Verdict           `json:"verdict"`
	Probability     float64           `json:"probability"`
	BaseProbability float64           `json:"baseProbability"`
	RulesFired      []RuleHit         `json:"rulesFired,omitempty"`
	AuditPersisted  bool              `json:"auditPersisted"`
	Metadata        ScoreResponseMeta `json:"metadata"`
}

// ScoreResponseMeta carries request processing information.
type ScoreResponseMeta struct {
	TraceID      string `json:"traceId"`
	TotalMs      int64  `json:"totalMs"`
	ModelVersion string `json:"modelVersion"`
	Version      string `json:"version"`
	Replayed     bool   `json:"replayed,omitempty"`
}

// ToResponse converts a ScoringResult to an API response.
func (r *ScoringResult) ToResponse() *ScoreResponse {
	return &ScoreResponse{
		ScoreID:         r.ID,
		TenantID:        r.TenantID,
		Verdict:         r.Verdict,
		Probability:     r.Probability,
		BaseProbability: r.BaseProbability,
		RulesFired:      r.RulesFired,
		AuditPersisted:  r.AuditPersisted,
		Metadata: ScoreResponseMeta{
			ModelVersion: r.ModelVersion,
		},
	}
}
