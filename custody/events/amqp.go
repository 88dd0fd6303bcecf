package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/openvault/custody-engine/custody/log"
)

// AMQP publisher errors.
var (
	// ErrChannelRequired indicates no AMQP channel was provided.
	ErrChannelRequired = errors.New("amqp channel is required")
	// ErrConfirmModeUnavailable indicates the channel rejected confirm mode.
	ErrConfirmModeUnavailable = errors.New("channel does not support confirm mode")
	// ErrPublishNacked indicates the broker rejected the message.
	ErrPublishNacked = errors.New("message was nacked by broker")
	// ErrConfirmTimeout indicates broker confirmation did not arrive in time.
	ErrConfirmTimeout = errors.New("confirmation timed out")
	// ErrPublisherClosed indicates the publisher was closed.
	ErrPublisherClosed = errors.New("publisher is closed")
)

// DefaultConfirmTimeout is the default wait for broker confirmation.
const DefaultConfirmTimeout = 5 * time.Second

// confirmChannelBuffer sizes the confirmation channel; must cover the max
// number of unconfirmed messages to avoid blocking the broker reader.
const confirmChannelBuffer = 64

// Channel is the subset of an AMQP channel the publisher needs.
type Channel interface {
	Confirm(noWait bool) error
	NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation
	PublishWithContext(
		ctx context.Context,
		exchange, key string,
		mandatory, immediate bool,
		msg amqp.Publishing,
	) error
	Close() error
}

// AMQPPublisher publishes custody events to an exchange with publisher
// confirms enabled. Publishes are serialized per instance to preserve
// confirm ordering without delivery-tag correlation state.
type AMQPPublisher struct {
	ch             Channel
	exchange       string
	confirms       chan amqp.Confirmation
	confirmTimeout time.Duration
	logger         log.Logger

	mu     sync.Mutex
	closed bool
}

// Compile-time assertion: *AMQPPublisher implements Publisher.
var _ Publisher = (*AMQPPublisher)(nil)

// AMQPOption configures an AMQPPublisher.
type AMQPOption func(*AMQPPublisher)

// WithLogger sets a structured logger for the publisher.
func WithLogger(logger log.Logger) AMQPOption {
	return func(p *AMQPPublisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithConfirmTimeout sets the timeout for waiting on broker confirmation.
func WithConfirmTimeout(timeout time.Duration) AMQPOption {
	return func(p *AMQPPublisher) {
		if timeout > 0 {
			p.confirmTimeout = timeout
		}
	}
}

// NewAMQPPublisher enables confirm mode on ch and returns a publisher bound
// to the given exchange. Routing keys are the event types.
func NewAMQPPublisher(ch Channel, exchange string, opts ...AMQPOption) (*AMQPPublisher, error) {
	if ch == nil {
		return nil, ErrChannelRequired
	}

	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfirmModeUnavailable, err)
	}

	confirms := make(chan amqp.Confirmation, confirmChannelBuffer)
	ch.NotifyPublish(confirms)

	publisher := &AMQPPublisher{
		ch:             ch,
		exchange:       exchange,
		confirms:       confirms,
		confirmTimeout: DefaultConfirmTimeout,
		logger:         log.NewNop(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(publisher)
		}
	}

	return publisher, nil
}

// Publish sends the event and waits for broker confirmation.
func (p *AMQPPublisher) Publish(ctx context.Context, event Event) error {
	if ctx == nil {
		ctx = context.Background()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPublisherClosed
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Unix(event.OccurredAt, 0).UTC(),
		Type:         string(event.Type),
		Body:         body,
	}

	if err := p.ch.PublishWithContext(ctx, p.exchange, string(event.Type), false, false, msg); err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	return p.waitForConfirm(ctx)
}

func (p *AMQPPublisher) waitForConfirm(ctx context.Context) error {
	timeout := time.NewTimer(p.confirmTimeout)
	defer timeout.Stop()

	select {
	case confirmed, ok := <-p.confirms:
		if !ok {
			return ErrPublisherClosed
		}

		if !confirmed.Ack {
			return fmt.Errorf("%w: delivery_tag=%d", ErrPublishNacked, confirmed.DeliveryTag)
		}

		return nil
	case <-timeout.C:
		return ErrConfirmTimeout
	case <-ctx.Done():
		return fmt.Errorf("context cancelled: %w", ctx.Err())
	}
}

// Close closes the underlying channel and rejects further publishes.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	p.closed = true

	if err := p.ch.Close(); err != nil {
		return fmt.Errorf("closing publisher channel: %w", err)
	}

	return nil
}
