// Package worker scores claims submitted through the event bus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/opensource-finance/claimguard/internal/domain"
)

// ClaimScorer scores a single claim. Implemented by scoring.Scorer.
type ClaimScorer interface {
	Score(ctx context.Context, tenantID string, req *domain.ClaimRequest) (*domain.ScoringResult, error)
}

// Worker processes submitted claims asynchronously from the EventBus.
type Worker struct {
	bus    domain.EventBus
	scorer ClaimScorer

	mu            sync.Mutex
	subscriptions []domain.Subscription
	tenants       map[string]struct{}
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process
	TenantIDs []string
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, scorer ClaimScorer) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:     bus,
		scorer:  scorer,
		tenants: make(map[string]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins processing messages for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return fmt.Errorf("at least one tenant is required")
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startTenantWorker subscribes to submitted claims for a specific tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicClaimSubmitted, func(ctx context.Context, msg *domain.Message) error {
		return w.processClaim(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.tenants[tenantID] = struct{}{}
	w.mu.Unlock()

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicClaimSubmitted,
	)

	return nil
}

// processClaim scores one submitted claim and publishes the outcome.
// The subscription tenant is authoritative; a tenant in the payload is ignored.
func (w *Worker) processClaim(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var claimMsg domain.ClaimMessage
	if err := json.Unmarshal(msg.Payload, &claimMsg); err != nil {
		slog.Error("failed to parse claim message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	requestID := claimMsg.RequestID
	if requestID == "" {
		requestID = msg.ID
	}

	event := &domain.ClaimEvent{
		RequestID: requestID,
		TraceID:   claimMsg.TraceID,
	}

	result, err := w.scorer.Score(ctx, tenantID, &claimMsg.Claim)
	if err != nil {
		event.Error = err.Error()
		w.publish(ctx, tenantID, domain.TopicClaimRejected, event)

		if errors.Is(err, domain.ErrProfileNotFound) || errors.Is(err, domain.ErrInvalidClaimData) {
			slog.Warn("claim rejected",
				"request_id", requestID,
				"tenant_id", tenantID,
				"customer_id", claimMsg.Claim.CustomerID,
				"error", err,
			)
			return nil
		}
		return fmt.Errorf("failed to score claim %s: %w", requestID, err)
	}

	event.Result = result.ToResponse()
	event.Result.Metadata.TraceID = claimMsg.TraceID
	event.Result.Metadata.TotalMs = time.Since(start).Milliseconds()

	w.publish(ctx, tenantID, domain.TopicClaimScored, event)
	if result.Verdict.IsFraud() {
		w.publish(ctx, tenantID, domain.TopicClaimFlagged, event)
	}

	slog.Info("claim processed",
		"request_id", requestID,
		"score_id", result.ID,
		"tenant_id", tenantID,
		"verdict", result.Verdict,
		"probability", result.Probability,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

func (w *Worker) publish(ctx context.Context, tenantID, topic string, event *domain.ClaimEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal claim event",
			"request_id", event.RequestID,
			"error", err,
		)
		return
	}
	if err := w.bus.Publish(ctx, tenantID, topic, payload); err != nil {
		slog.Error("failed to publish claim event",
			"request_id", event.RequestID,
			"topic", topic,
			"error", err,
		)
	}
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil
	w.tenants = make(map[string]struct{})

	slog.Info("workers stopped")
	return nil
}

// Serves reports whether submitted claims for the tenant are being consumed.
func (w *Worker) Serves(tenantID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.tenants[tenantID]
	return ok
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Tenants           []string `json:"tenants"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	tenants := make([]string, 0, len(w.tenants))
	for id := range w.tenants {
		tenants = append(tenants, id)
	}
	sort.Strings(tenants)

	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Tenants:           tenants,
	}
}
