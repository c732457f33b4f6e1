package amqp

import (
	"context"
	"errors"
	"fmt"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/united-manufacturing-hub/data-collector/internal"
	"go.uber.org/zap"
	"sync"
	"time"
)

var ErrForwarderClosed = errors.New("forwarder is closed")

// Forwarder publishes persistent messages to durable queues on the default exchange.
// The channel is opened on first use and re-established when the connection was lost.
type Forwarder struct {
	dial Dialer

	mu       sync.Mutex
	conn     Connection
	channel  Channel
	declared map[string]bool
	closed   bool
}

func NewForwarder(dial Dialer) *Forwarder {
	return &Forwarder{
		dial:     dial,
		declared: make(map[string]bool),
	}
}

// Connect establishes the connection and channel ahead of the first Publish.
// It is used at startup so broker outages surface before consumption begins.
func (f *Forwarder) Connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrForwarderClosed
	}
	_, err := f.ensureChannel()
	return err
}

// Publish delivers payload to destination. Every failure is transient, the channel is dropped
// so the next call starts from a fresh one.
func (f *Forwarder) Publish(ctx context.Context, destination string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return internal.NewTransientError(ErrForwarderClosed)
	}

	channel, err := f.ensureChannel()
	if err != nil {
		return internal.NewTransientError(err)
	}
	if !f.declared[destination] {
		if err = declareDurable(channel, destination); err != nil {
			f.resetChannel()
			return internal.NewTransientError(err)
		}
		f.declared[destination] = true
	}

	err = channel.PublishWithContext(ctx, "", destination, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    internal.MessageID(destination, payload),
		Timestamp:    time.Now().UTC(),
		Body:         payload,
	})
	if err != nil {
		f.resetChannel()
		return internal.NewTransientError(fmt.Errorf("failed to publish to %s: %w", destination, err))
	}
	return nil
}

func (f *Forwarder) ensureChannel() (Channel, error) {
	if f.channel != nil && !f.channel.IsClosed() && f.conn != nil && !f.conn.IsClosed() {
		return f.channel, nil
	}
	if f.conn == nil || f.conn.IsClosed() {
		if f.conn != nil {
			zap.S().Warnf("Forwarder connection was closed, reconnecting")
		}
		f.channel = nil
		conn, err := f.dial()
		if err != nil {
			return nil, err
		}
		f.conn = conn
	}
	channel, err := f.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	f.channel = channel
	// queue declarations are per channel
	f.declared = make(map[string]bool)
	return channel, nil
}

func (f *Forwarder) resetChannel() {
	if f.channel != nil && !f.channel.IsClosed() {
		if err := f.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			zap.S().Debugf("Failed to close broken channel: %s", err)
		}
	}
	f.channel = nil
}

// Close releases channel then connection. It is safe to call repeatedly and after a failed Connect.
func (f *Forwarder) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	err := closeQuietly(f.channel, f.conn)
	f.channel = nil
	f.conn = nil
	zap.S().Infof("Forwarder closed")
	return err
}
