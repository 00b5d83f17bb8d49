// Package scoring composes encoding, inference, rule adjustment and the
// decision policy into a single auditable scoring call.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/claimguard/internal/decision"
	"github.com/opensource-finance/claimguard/internal/domain"
	"github.com/opensource-finance/claimguard/internal/encoder"
)

var tracer = otel.Tracer("claimguard-scoring")

// RuleApplier adjusts a base probability. Implemented by rules.Engine.
type RuleApplier interface {
	Apply(ctx context.Context, base float64, claim *domain.ClaimInput, profile *domain.CustomerProfile) (float64, []domain.RuleHit)
}

// Deps are the collaborators of a Scorer.
type Deps struct {
	History  domain.HistoryStore
	Audit    domain.AuditSink
	Encoders *encoder.Set
	Model    domain.ProbabilityModel
	Rules    RuleApplier
	Policy   *decision.Policy

	// Optional
	Observer Observer
	Now      func() time.Time
	NewID    func() string
}

// Scorer runs the scoring pipeline. It holds no per-call state and is safe
// for concurrent use.
type Scorer struct {
	history  domain.HistoryStore
	audit    domain.AuditSink
	encoders *encoder.Set
	model    domain.ProbabilityModel
	rules    RuleApplier
	policy   *decision.Policy
	observer Observer
	now      func() time.Time
	newID    func() string
}

// New creates a scorer from its dependencies.
func New(deps Deps) (*Scorer, error) {
	if deps.History == nil {
		return nil, fmt.Errorf("history store is required")
	}
	if deps.Audit == nil {
		return nil, fmt.Errorf("audit sink is required")
	}
	if deps.Encoders == nil {
		return nil, fmt.Errorf("encoders are required")
	}
	if deps.Model == nil {
		return nil, fmt.Errorf("probability model is required")
	}
	if deps.Rules == nil {
		return nil, fmt.Errorf("rule engine is required")
	}

	s := &Scorer{
		history:  deps.History,
		audit:    deps.Audit,
		encoders: deps.Encoders,
		model:    deps.Model,
		rules:    deps.Rules,
		policy:   deps.Policy,
		observer: deps.Observer,
		now:      deps.Now,
		newID:    deps.NewID,
	}
	if s.policy == nil {
		s.policy = decision.NewPolicy()
	}
	if s.observer == nil {
		s.observer = NopObserver{}
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.newID == nil {
		s.newID = func() string { return uuid.New().String() }
	}
	return s, nil
}

// ModelVersion returns the version of the loaded probability model.
func (s *Scorer) ModelVersion() string {
	return s.model.Version()
}

// Score runs the full pipeline for one claim within a tenant scope.
//
// Returns domain.ErrProfileNotFound when the customer has no history and
// domain.ErrInvalidClaimData when a numeric field cannot be coerced; no
// audit record is written in either case. Model and audit failures do not
// fail the call.
func (s *Scorer) Score(ctx context.Context, tenantID string, req *domain.ClaimRequest) (*domain.ScoringResult, error) {
	ctx, span := tracer.Start(ctx, "scoring.Score",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.String("customer.id", req.CustomerID),
		),
	)
	defer span.End()

	// 1. Latest customer profile
	profile, err := s.history.LatestProfile(ctx, tenantID, req.CustomerID, req.Name)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, domain.ErrProfileNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to look up customer profile: %w", err)
	}
	if profile == nil {
		span.SetStatus(codes.Error, domain.ErrProfileNotFound.Error())
		return nil, domain.ErrProfileNotFound
	}

	// 2. Coercion and encoding
	claim, err := coerceClaim(req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if profile.Age < 0 || profile.PreviousClaims < 0 {
		span.SetStatus(codes.Error, "negative profile field")
		return nil, fmt.Errorf("%w: profile has negative age or previous claims", domain.ErrInvalidClaimData)
	}

	features, fallbacks := s.encode(tenantID, claim, profile)

	// 3. Base probability, fail-open to 0
	base, modelErr := s.predict(features)
	if modelErr != nil {
		slog.Warn("model inference degraded, using base probability 0",
			"tenant_id", tenantID,
			"customer_id", claim.CustomerID,
			"error", modelErr,
		)
		s.observer.ModelDegraded(tenantID, modelErr)
	}

	// 4. Rules and decision
	adjusted, hits := s.rules.Apply(ctx, base, claim, profile)
	verdict, probability := s.policy.Finalize(adjusted)

	result := &domain.ScoringResult{
		ID:              s.newID(),
		TenantID:        tenantID,
		Claim:           *claim,
		Profile:         *profile,
		Verdict:         verdict,
		Probability:     probability,
		BaseProbability: base,
		RulesFired:      hits,
		ModelVersion:    s.model.Version(),
		ModelDegraded:   modelErr != nil,
		FallbackFields:  fallbacks,
		Timestamp:       s.now(),
	}

	// 5. Audit
	if err := s.audit.Append(ctx, result); err != nil {
		slog.Error("failed to persist scoring result",
			"tenant_id", tenantID,
			"score_id", result.ID,
			"error", err,
		)
		s.observer.AuditFailed(tenantID, err)
	} else {
		result.AuditPersisted = true
	}

	span.SetAttributes(
		attribute.String("score.id", result.ID),
		attribute.String("score.verdict", string(verdict)),
		attribute.Float64("score.probability", probability),
		attribute.Int("score.rules_fired", len(hits)),
	)
	s.observer.Scored(result)

	return result, nil
}

func (s *Scorer) encode(tenantID string, claim *domain.ClaimInput, profile *domain.CustomerProfile) (domain.EncodedFeatures, []string) {
	var fallbacks []string

	diagnosis, ok := encoder.Encode(claim.Diagnosis, s.encoders.Diagnosis)
	if !ok {
		fallbacks = append(fallbacks, encoder.FeatureDiagnosis)
		s.observer.CategoryFallback(tenantID, encoder.FeatureDiagnosis, claim.Diagnosis)
	}
	hospital, ok := encoder.Encode(claim.HospitalType, s.encoders.HospitalType)
	if !ok {
		fallbacks = append(fallbacks, encoder.FeatureHospitalType)
		s.observer.CategoryFallback(tenantID, encoder.FeatureHospitalType, claim.HospitalType)
	}

	return domain.EncodedFeatures{
		ClaimAmount:    claim.ClaimAmount,
		Age:            profile.Age,
		DiagnosisCode:  diagnosis,
		HospitalCode:   hospital,
		PreviousClaims: profile.PreviousClaims,
	}, fallbacks
}

func (s *Scorer) predict(features domain.EncodedFeatures) (p float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			p, err = 0, fmt.Errorf("model panicked: %v", r)
		}
	}()

	p, err = s.model.PredictFraudProbability(features)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(p) || p < 0 || p > 1 {
		return 0, fmt.Errorf("model returned out-of-range probability %v", p)
	}
	return p, nil
}

func coerceClaim(req *domain.ClaimRequest) (*domain.ClaimInput, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(string(req.ClaimAmount)))
	if err != nil {
		return nil, fmt.Errorf("%w: claim amount %q is not a number", domain.ErrInvalidClaimData, req.ClaimAmount)
	}
	if amount.IsNegative() {
		return nil, fmt.Errorf("%w: claim amount must not be negative", domain.ErrInvalidClaimData)
	}
	f, _ := amount.Float64()
	if math.IsInf(f, 0) {
		return nil, fmt.Errorf("%w: claim amount out of range", domain.ErrInvalidClaimData)
	}

	return &domain.ClaimInput{
		CustomerID:   req.CustomerID,
		Name:         req.Name,
		Diagnosis:    req.Diagnosis,
		HospitalType: req.HospitalType,
		ClaimAmount:  f,
	}, nil
}
