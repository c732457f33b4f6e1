package amqp

import (
	"context"
	"errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"sync"
)

type fakeChannel struct {
	mu         sync.Mutex
	closed     bool
	closeCalls int
	prefetch   int
	declared   []string
	consumed   string
	cancelled  bool
	published  []amqp.Publishing
	keys       []string
	publishErr error
	deliveries chan amqp.Delivery
}

func (c *fakeChannel) Qos(prefetchCount, _ int, _ bool) error {
	c.prefetch = prefetchCount
	return nil
}

func (c *fakeChannel) QueueDeclare(name string, durable, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	if !durable {
		return amqp.Queue{}, errors.New("queue must be durable")
	}
	c.declared = append(c.declared, name)
	return amqp.Queue{Name: name}, nil
}

func (c *fakeChannel) Consume(queue, _ string, autoAck, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	if autoAck {
		return nil, errors.New("auto ack is not allowed")
	}
	c.consumed = queue
	return c.deliveries, nil
}

func (c *fakeChannel) Cancel(string, bool) error {
	c.cancelled = true
	return nil
}

func (c *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return c.publishErr
	}
	c.keys = append(c.keys, key)
	c.published = append(c.published, msg)
	return nil
}

func (c *fakeChannel) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCalls++
	if c.closed {
		return amqp.ErrClosed
	}
	c.closed = true
	return nil
}

type fakeConnection struct {
	mu         sync.Mutex
	closed     bool
	closeCalls int
	channels   []*fakeChannel
	channelErr error
	deliveries chan amqp.Delivery
}

func (c *fakeConnection) Channel() (Channel, error) {
	if c.channelErr != nil {
		return nil, c.channelErr
	}
	ch := &fakeChannel{deliveries: c.deliveries}
	c.channels = append(c.channels, ch)
	return ch, nil
}

func (c *fakeConnection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCalls++
	if c.closed {
		return amqp.ErrClosed
	}
	c.closed = true
	return nil
}

// fakeBroker hands out a new fakeConnection per dial and remembers all of them.
type fakeBroker struct {
	connections []*fakeConnection
	dialErr     error
	deliveries  chan amqp.Delivery
}

func (b *fakeBroker) dial() (Connection, error) {
	if b.dialErr != nil {
		return nil, b.dialErr
	}
	conn := &fakeConnection{deliveries: b.deliveries}
	b.connections = append(b.connections, conn)
	return conn, nil
}

type fakeAcknowledger struct {
	mu       sync.Mutex
	acked    []uint64
	nacked   []uint64
	requeued bool
}

func (a *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = append(a.acked, tag)
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacked = append(a.nacked, tag)
	a.requeued = requeue
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}
