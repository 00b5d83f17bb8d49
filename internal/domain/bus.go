package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels or NATS.
// All methods require tenantID for strict multi-tenancy isolation.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// BusStats is a point-in-time view of an event bus, reported by /health.
type BusStats struct {
	Type          string `json:"type"`
	Subscriptions int    `json:"subscriptions"`
	InMsgs        uint64 `json:"inMsgs"`
	OutMsgs       uint64 `json:"outMsgs"`
	Reconnects    uint64 `json:"reconnects"`
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `koanf:"type"`

	ChannelBufferSize int `koanf:"channel_buffer_size"`

	NATSUrl           string `koanf:"nats_url"`
	NATSToken         string `koanf:"nats_token"`
	NATSMaxReconnects int    `koanf:"nats_max_reconnects"`
	NATSReconnectWait int    `koanf:"nats_reconnect_wait"` // seconds
}

// Standard topic names for the scoring pipeline.
const (
	TopicClaimSubmitted = "claimguard.claim.submitted"
	TopicClaimScored    = "claimguard.claim.scored"
	TopicClaimFlagged   = "claimguard.claim.flagged"
	TopicClaimRejected  = "claimguard.claim.rejected"
)

// ClaimMessage is the payload of TopicClaimSubmitted.
type ClaimMessage struct {
	RequestID string       `json:"requestId"`
	TraceID   string       `json:"traceId,omitempty"`
	Claim     ClaimRequest `json:"claim"`
}

// ClaimEvent is the payload of the scored, flagged and rejected topics.
type ClaimEvent struct {
	RequestID string         `json:"requestId"`
	TraceID   string         `json:"traceId,omitempty"`
	Result    *ScoreResponse `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
}
