// Package decision turns an adjusted fraud probability into a verdict.
package decision

import (
	"fmt"
	"math"

	"github.com/opensource-finance/claimguard/internal/domain"
)

// Policy clamps an adjusted probability and compares it to the fraud threshold.
type Policy struct {
	// Threshold above which a claim is flagged as Fraud (strictly greater)
	Threshold float64

	// Clamp bounds
	MinProbability float64
	MaxProbability float64
}

// NewPolicy creates a policy with the default threshold and bounds.
func NewPolicy() *Policy {
	cfg := domain.DefaultDecisionConfig()
	return &Policy{
		Threshold:      cfg.Threshold,
		MinProbability: cfg.MinProbability,
		MaxProbability: cfg.MaxProbability,
	}
}

// NewPolicyFromConfig creates a policy from configuration.
func NewPolicyFromConfig(cfg domain.DecisionConfig) (*Policy, error) {
	p := &Policy{
		Threshold:      cfg.Threshold,
		MinProbability: cfg.MinProbability,
		MaxProbability: cfg.MaxProbability,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks that the bounds are ordered and the threshold lies within them.
func (p *Policy) Validate() error {
	for _, v := range []float64{p.Threshold, p.MinProbability, p.MaxProbability} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: decision values must be finite", domain.ErrInvalidInput)
		}
	}
	if p.MinProbability >= p.MaxProbability {
		return fmt.Errorf("%w: min probability %.4f must be below max %.4f",
			domain.ErrInvalidInput, p.MinProbability, p.MaxProbability)
	}
	if p.Threshold < p.MinProbability || p.Threshold > p.MaxProbability {
		return fmt.Errorf("%w: threshold %.4f outside [%.4f, %.4f]",
			domain.ErrInvalidInput, p.Threshold, p.MinProbability, p.MaxProbability)
	}
	return nil
}

// Clamp bounds p to [MinProbability, MaxProbability]. NaN maps to the minimum.
func (p *Policy) Clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < p.MinProbability:
		return p.MinProbability
	case v > p.MaxProbability:
		return p.MaxProbability
	default:
		return v
	}
}

// Finalize clamps the adjusted probability and derives the verdict.
func (p *Policy) Finalize(adjusted float64) (domain.Verdict, float64) {
	final := p.Clamp(adjusted)
	if final > p.Threshold {
		return domain.VerdictFraud, final
	}
	return domain.VerdictLegitimate, final
}
