package amqp

import (
	"errors"
	"fmt"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/united-manufacturing-hub/data-collector/cmd/data-collector/shared"
	"go.uber.org/zap"
	"sync"
	"sync/atomic"
)

// PrefetchCount bounds the unacknowledged deliveries the broker hands to one consumer.
const PrefetchCount = 1

var ErrConsumerClosed = errors.New("consumer is closed")

// Consumer reads the inbound queue with manual acknowledgements.
// It owns its connection and channel and is the only one allowed to close them.
type Consumer struct {
	dial  Dialer
	queue string
	tag   string

	mu       sync.Mutex
	conn     Connection
	channel  Channel
	started  bool
	messages chan shared.Delivery
	done     chan struct{}

	running   atomic.Bool
	delivered atomic.Uint64
	acked     atomic.Uint64
	requeued  atomic.Uint64
	closeOnce sync.Once
	closeErr  error
}

func NewConsumer(dial Dialer, queue string, tag string) *Consumer {
	return &Consumer{
		dial:     dial,
		queue:    queue,
		tag:      tag,
		messages: make(chan shared.Delivery),
		done:     make(chan struct{}),
	}
}

// Start connects, limits prefetch to PrefetchCount, declares the durable queue and begins consuming.
// If any step fails everything acquired so far is released.
func (c *Consumer) Start() (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		return ErrConsumerClosed
	default:
	}
	if c.started {
		return errors.New("consumer already started")
	}

	conn, err := c.dial()
	if err != nil {
		return err
	}
	var channel Channel
	defer func() {
		if err != nil {
			_ = closeQuietly(channel, conn)
		}
	}()

	channel, err = conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	if err = channel.Qos(PrefetchCount, 0, false); err != nil {
		return fmt.Errorf("failed to set prefetch: %w", err)
	}
	if err = declareDurable(channel, c.queue); err != nil {
		return err
	}
	deliveries, err := channel.Consume(c.queue, c.tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume %s: %w", c.queue, err)
	}

	c.conn = conn
	c.channel = channel
	c.started = true
	c.running.Store(true)
	go c.forward(deliveries)
	zap.S().Infof("Consuming %s (prefetch %d)", c.queue, PrefetchCount)
	return nil
}

func (c *Consumer) forward(deliveries <-chan amqp.Delivery) {
	defer close(c.messages)
	defer c.running.Store(false)
	for {
		select {
		case <-c.done:
			return
		case d, ok := <-deliveries:
			if !ok {
				zap.S().Warnf("Delivery stream of %s ended", c.queue)
				return
			}
			c.delivered.Add(1)
			select {
			case c.messages <- &delivery{d: d, consumer: c}:
			case <-c.done:
				// Not acknowledged, the broker redelivers it once the channel is gone.
				return
			}
		}
	}
}

// GetMessages returns the delivery stream. It is closed when consumption stops.
func (c *Consumer) GetMessages() <-chan shared.Delivery {
	return c.messages
}

func (c *Consumer) IsRunning() bool {
	return c.running.Load()
}

// GetStats returns how many deliveries were acknowledged and requeued.
func (c *Consumer) GetStats() (acked uint64, requeued uint64) {
	return c.acked.Load(), c.requeued.Load()
}

// Pending returns how many handed out deliveries are neither acknowledged nor requeued.
func (c *Consumer) Pending() uint64 {
	settled := c.acked.Load() + c.requeued.Load()
	delivered := c.delivered.Load()
	if settled >= delivered {
		return 0
	}
	return delivered - settled
}

// Close cancels the subscription and releases channel and connection exactly once.
// It is safe to call before Start, after a failed Start, and repeatedly.
func (c *Consumer) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.channel != nil && !c.channel.IsClosed() {
			if err := c.channel.Cancel(c.tag, false); err != nil && !errors.Is(err, amqp.ErrClosed) {
				zap.S().Warnf("Failed to cancel consumer %s: %s", c.tag, err)
			}
		}
		c.closeErr = closeQuietly(c.channel, c.conn)
		if !c.started {
			close(c.messages)
		}
		zap.S().Infof("Consumer of %s closed", c.queue)
	})
	return c.closeErr
}

type delivery struct {
	d        amqp.Delivery
	consumer *Consumer
}

func (d *delivery) Body() []byte {
	return d.d.Body
}

func (d *delivery) Redelivered() bool {
	return d.d.Redelivered
}

func (d *delivery) Ack() error {
	if err := d.d.Ack(false); err != nil {
		return err
	}
	d.consumer.acked.Add(1)
	return nil
}

func (d *delivery) Requeue() error {
	if err := d.d.Nack(false, true); err != nil {
		return err
	}
	d.consumer.requeued.Add(1)
	return nil
}
