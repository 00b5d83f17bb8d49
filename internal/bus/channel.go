package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/opensource-finance/claimguard/internal/domain"
)

// ChannelBus implements EventBus using Go channels.
// Used as the single-node event bus.
type ChannelBus struct {
	mu            sync.RWMutex
	bufferSize    int
	subscriptions map[string][]*channelSubscription
	closed        bool

	published atomic.Uint64
	delivered atomic.Uint64
}

type channelSubscription struct {
	id      string
	key     string
	topic   string
	handler domain.MessageHandler
	msgCh   chan *domain.Message
	ctx     context.Context
	cancel  context.CancelFunc
	bus     *ChannelBus
}

// NewChannelBus creates a new channel-based event bus.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		bufferSize:    bufferSize,
		subscriptions: make(map[string][]*channelSubscription),
	}
}

// Publish sends a message to a topic.
// Delivery is best effort: a subscriber whose buffer is full misses the message.
func (b *ChannelBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("bus is closed")
	}

	msg := newMessage(tenantID, topic, payload)
	b.published.Add(1)

	// Send to all matching subscribers (non-blocking)
	for _, sub := range b.subscriptions[b.makeKey(tenantID, topic)] {
		select {
		case sub.msgCh <- msg:
		default:
			slog.Warn("subscriber buffer full, message dropped",
				"tenant_id", tenantID,
				"topic", topic,
				"message_id", msg.ID,
			)
		}
	}

	return nil
}

// Subscribe registers a handler for a topic.
func (b *ChannelBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	subCtx, cancel := context.WithCancel(ctx)

	key := b.makeKey(tenantID, topic)
	sub := &channelSubscription{
		id:      uuid.New().String(),
		key:     key,
		topic:   topic,
		handler: handler,
		msgCh:   make(chan *domain.Message, b.bufferSize),
		ctx:     subCtx,
		cancel:  cancel,
		bus:     b,
	}

	// Start message handler goroutine
	go b.handleMessages(sub)

	b.subscriptions[key] = append(b.subscriptions[key], sub)

	return sub, nil
}

// handleMessages processes messages for a subscription.
func (b *ChannelBus) handleMessages(sub *channelSubscription) {
	for {
		select {
		case <-sub.ctx.Done():
			return
		case msg := <-sub.msgCh:
			b.delivered.Add(1)
			if err := sub.handler(sub.ctx, msg); err != nil {
				slog.Error("handler error",
					"topic", sub.topic,
					"message_id", msg.ID,
					"error", err,
				)
			}
		}
	}
}

// Ping checks bus health.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}
	return nil
}

// Close closes the event bus and stops all subscriptions.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true

	// Cancel all subscriptions
	for _, subs := range b.subscriptions {
		for _, sub := range subs {
			sub.cancel()
		}
	}

	b.subscriptions = make(map[string][]*channelSubscription)
	return nil
}

// SubscriberCount returns the number of active subscriptions for a tenant
// topic. Everything consuming a ChannelBus lives in this process, so zero
// means a published message has no reader.
func (b *ChannelBus) SubscriberCount(tenantID, topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscriptions[b.makeKey(tenantID, topic)])
}

// Stats reports subscription and message counters.
func (b *ChannelBus) Stats() domain.BusStats {
	b.mu.RLock()
	n := 0
	for _, subs := range b.subscriptions {
		n += len(subs)
	}
	b.mu.RUnlock()

	return domain.BusStats{
		Type:          "channel",
		Subscriptions: n,
		InMsgs:        b.delivered.Load(),
		OutMsgs:       b.published.Load(),
	}
}

func (b *ChannelBus) makeKey(tenantID, topic string) string {
	return tenantID + ":" + topic
}

func (b *ChannelBus) remove(sub *channelSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscriptions[sub.key]
	for i, s := range subs {
		if s.id == sub.id {
			b.subscriptions[sub.key] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subscriptions[sub.key]) == 0 {
		delete(b.subscriptions, sub.key)
	}
}

// Unsubscribe stops receiving messages.
func (s *channelSubscription) Unsubscribe() error {
	s.cancel()
	s.bus.remove(s)
	return nil
}

// Topic returns the subscribed topic.
func (s *channelSubscription) Topic() string {
	return s.topic
}
