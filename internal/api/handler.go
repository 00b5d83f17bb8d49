package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/opensource-finance/claimguard/internal/domain"
	"github.com/opensource-finance/claimguard/internal/metrics"
	"github.com/opensource-finance/claimguard/internal/rules"
	"github.com/opensource-finance/claimguard/internal/worker"
)

const (
	maxBodyBytes      = 1 << 20
	defaultScoreLimit = 50
	maxScoreLimit     = 500
)

// ClaimScorer runs the scoring pipeline for one claim.
type ClaimScorer interface {
	Score(ctx context.Context, tenantID string, req *domain.ClaimRequest) (*domain.ScoringResult, error)
	ModelVersion() string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	repo           domain.Repository
	cache          domain.Cache
	bus            domain.EventBus
	worker         *worker.Worker
	scorer         ClaimScorer
	engine         *rules.Engine
	metrics        *metrics.Metrics
	validate       *validator.Validate
	idempotencyTTL time.Duration
	version        string
}

// NewHandler creates a new API handler.
func NewHandler(opts Options) *Handler {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Handler{
		repo:           opts.Repo,
		cache:          opts.Cache,
		bus:            opts.Bus,
		worker:         opts.Worker,
		scorer:         opts.Scorer,
		engine:         opts.Engine,
		metrics:        opts.Metrics,
		validate:       validate,
		idempotencyTTL: opts.Idempotency.TTL,
		version:        opts.Version,
	}
}

// Score handles POST /score requests.
func (h *Handler) Score(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)
	idempotencyKey := r.Header.Get(IdempotencyKeyHeader)

	if resp := h.replay(ctx, tenantID, idempotencyKey); resp != nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	var req domain.ClaimRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.scorer.Score(ctx, tenantID, &req)
	if err != nil {
		writeScoreError(w, tenantID, &req, err)
		return
	}

	resp := result.ToResponse()
	resp.Metadata.TraceID = traceID
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	h.remember(ctx, tenantID, idempotencyKey, resp)
	h.publishDecision(ctx, tenantID, GetRequestID(ctx), traceID, resp)

	writeJSON(w, http.StatusOK, resp)
}

// SubmitClaim handles POST /score/async. The claim is validated for shape
// and queued for the scoring worker. Tenants without a consumer get a 503
// instead of a 202 for a claim nobody would score.
func (h *Handler) SubmitClaim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event bus not available")
		return
	}
	if !h.consumesClaims(tenantID) {
		writeError(w, http.StatusServiceUnavailable, "async scoring is not enabled for this tenant")
		return
	}

	var req domain.ClaimRequest
	if !h.decode(w, r, &req) {
		return
	}

	msg := domain.ClaimMessage{
		RequestID: GetRequestID(ctx),
		TraceID:   GetTraceID(ctx),
		Claim:     req,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode claim")
		return
	}

	if err := h.bus.Publish(ctx, tenantID, domain.TopicClaimSubmitted, payload); err != nil {
		slog.Error("failed to queue claim",
			"tenant_id", tenantID,
			"request_id", msg.RequestID,
			"error", err,
		)
		writeError(w, http.StatusServiceUnavailable, "failed to queue claim")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"requestId": msg.RequestID,
		"status":    "queued",
	})
}

// subscriberCounter is implemented by buses whose consumers all live in
// this process.
type subscriberCounter interface {
	SubscriberCount(tenantID, topic string) int
}

// consumesClaims reports whether a submitted claim for the tenant will be
// picked up, either by the local worker or by any in-process subscriber.
func (h *Handler) consumesClaims(tenantID string) bool {
	if h.worker != nil && h.worker.Serves(tenantID) {
		return true
	}
	if local, ok := h.bus.(subscriberCounter); ok {
		return local.SubscriberCount(tenantID, domain.TopicClaimSubmitted) > 0
	}
	return false
}

// GetScore retrieves an audited scoring result by ID.
func (h *Handler) GetScore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	scoreID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	result, err := h.repo.GetScoringResult(ctx, tenantID, scoreID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "score not found")
			return
		}
		slog.Error("failed to get scoring result", "score_id", scoreID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get score")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ListCustomerScores returns a customer's audited results, newest first.
func (h *Handler) ListCustomerScores(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	customerID := chi.URLParam(r, "id")

	limit := defaultScoreLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxScoreLimit)
	}

	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	results, err := h.repo.ListScoringResults(ctx, tenantID, customerID, limit)
	if err != nil {
		slog.Error("failed to list scoring results", "customer_id", customerID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list scores")
		return
	}
	if results == nil {
		results = []*domain.ScoringResult{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"scores": results,
		"count":  len(results),
	})
}

// CustomerRecordRequest is the request body for POST /customers/records.
type CustomerRecordRequest struct {
	CustomerID     string     `json:"customerId" validate:"required"`
	Name           string     `json:"name" validate:"required"`
	RecordedAt     *time.Time `json:"recordedAt,omitempty"`
	Age            int        `json:"age" validate:"gte=0,lte=150"`
	Diagnosis      string     `json:"diagnosis"`
	HospitalType   string     `json:"hospitalType"`
	PreviousClaims int        `json:"previousClaims" validate:"gte=0"`
	ClaimAmount    float64    `json:"claimAmount" validate:"gte=0"`
}

// AppendCustomerRecord adds one row to the tenant's customer history.
func (h *Handler) AppendCustomerRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	var req CustomerRecordRequest
	if !h.decode(w, r, &req) {
		return
	}

	rec := &domain.CustomerRecord{
		CustomerID:     req.CustomerID,
		Name:           req.Name,
		Age:            req.Age,
		Diagnosis:      req.Diagnosis,
		HospitalType:   req.HospitalType,
		PreviousClaims: req.PreviousClaims,
		ClaimAmount:    req.ClaimAmount,
	}
	if req.RecordedAt != nil {
		rec.RecordedAt = req.RecordedAt.UTC()
	}

	if err := h.repo.AppendCustomerRecord(ctx, tenantID, rec); err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("failed to append customer record", "customer_id", req.CustomerID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save customer record")
		return
	}

	writeJSON(w, http.StatusCreated, rec)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	resp := map[string]any{
		"status":  status,
		"version": h.version,
	}
	if h.scorer != nil {
		resp["modelVersion"] = h.scorer.ModelVersion()
	}
	if h.engine != nil {
		resp["rules"] = h.engine.RulesCount()
	}
	if c, ok := h.cache.(interface{ Stats() (int, int) }); ok {
		size, capacity := c.Stats()
		resp["cache"] = map[string]int{"size": size, "capacity": capacity}
	}
	if b, ok := h.bus.(interface{ Stats() domain.BusStats }); ok {
		resp["bus"] = b.Stats()
	}
	if h.worker != nil {
		resp["worker"] = h.worker.GetStats()
	}

	writeJSON(w, http.StatusOK, resp)
}

// Ready reports whether the scoring pipeline can serve traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.scorer == nil || h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"ready": "false"})
		return
	}
	if err := h.repo.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready":  "false",
			"reason": "repository unreachable",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"ready": "true"})
}

// decode reads and validates a JSON body, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return false
	}

	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			writeError(w, http.StatusBadRequest, err.Error())
			return false
		}
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fieldMessage(fe))
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": fields,
		})
		return false
	}

	return true
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	}
	return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
}

func writeScoreError(w http.ResponseWriter, tenantID string, req *domain.ClaimRequest, err error) {
	switch {
	case errors.Is(err, domain.ErrProfileNotFound):
		writeError(w, http.StatusNotFound, "customer profile not found")
	case errors.Is(err, domain.ErrInvalidClaimData):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		slog.Error("scoring failed",
			"tenant_id", tenantID,
			"customer_id", req.CustomerID,
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "scoring failed")
	}
}

// replay returns the stored response for an idempotency key, or nil.
func (h *Handler) replay(ctx context.Context, tenantID, key string) *domain.ScoreResponse {
	if key == "" || h.cache == nil || h.idempotencyTTL <= 0 {
		return nil
	}

	stored, err := h.cache.GetResponse(ctx, tenantID, key)
	if err != nil {
		slog.Warn("idempotency lookup failed", "tenant_id", tenantID, "error", err)
		return nil
	}
	if stored == nil {
		return nil
	}

	resp := *stored
	resp.Metadata.Replayed = true
	if h.metrics != nil {
		h.metrics.Replayed(tenantID)
	}
	return &resp
}

func (h *Handler) remember(ctx context.Context, tenantID, key string, resp *domain.ScoreResponse) {
	if key == "" || h.cache == nil || h.idempotencyTTL <= 0 {
		return
	}
	if err := h.cache.SetResponse(ctx, tenantID, key, resp, h.idempotencyTTL); err != nil {
		slog.Warn("failed to store idempotent response", "tenant_id", tenantID, "error", err)
	}
}

// publishDecision emits the scored event, and the flagged event for fraud.
// Publishing is best effort; the decision is already audited.
func (h *Handler) publishDecision(ctx context.Context, tenantID, requestID, traceID string, resp *domain.ScoreResponse) {
	if h.bus == nil {
		return
	}

	payload, err := json.Marshal(domain.ClaimEvent{
		RequestID: requestID,
		TraceID:   traceID,
		Result:    resp,
	})
	if err != nil {
		return
	}

	topics := []string{domain.TopicClaimScored}
	if resp.Verdict.IsFraud() {
		topics = append(topics, domain.TopicClaimFlagged)
	}
	for _, topic := range topics {
		if err := h.bus.Publish(ctx, tenantID, topic, payload); err != nil {
			slog.Warn("failed to publish decision",
				"tenant_id", tenantID,
				"score_id", resp.ScoreID,
				"topic", topic,
				"error", err,
			)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
