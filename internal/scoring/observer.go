package scoring

import "github.com/opensource-finance/claimguard/internal/domain"

// Observer receives degraded-mode and outcome notifications from the scorer.
// Implementations must be safe for concurrent use.
type Observer interface {
	// ModelDegraded is called when inference failed and the base probability fell back to 0.
	ModelDegraded(tenantID string, err error)

	// CategoryFallback is called for each categorical field that used the fallback code.
	CategoryFallback(tenantID, feature, value string)

	// AuditFailed is called when a result could not be persisted.
	AuditFailed(tenantID string, err error)

	// Scored is called once per completed scoring call.
	Scored(result *domain.ScoringResult)
}

// NopObserver discards all notifications.
type NopObserver struct{}

func (NopObserver) ModelDegraded(string, error)             {}
func (NopObserver) CategoryFallback(string, string, string) {}
func (NopObserver) AuditFailed(string, error)               {}
func (NopObserver) Scored(*domain.ScoringResult)            {}
