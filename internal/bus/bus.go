// Package bus provides the event transports that carry asynchronous
// scoring requests and scoring decisions.
package bus

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/claimguard/internal/domain"
)

var (
	_ domain.EventBus = (*ChannelBus)(nil)
	_ domain.EventBus = (*NATSBus)(nil)
)

// New creates a new event bus based on configuration.
// channel: in-process ChannelBus. nats: NATSBus.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// newMessage wraps a payload in the envelope shared by all transports.
func newMessage(tenantID, topic string, payload []byte) *domain.Message {
	return &domain.Message{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}
}
