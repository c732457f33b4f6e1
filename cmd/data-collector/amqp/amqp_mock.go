package amqp

import (
	"context"
	"github.com/united-manufacturing-hub/data-collector/cmd/data-collector/shared"
	"sync"
	"testing"
)

type MockConsumer struct {
	MessagesToSend chan shared.Delivery
}

func (c *MockConsumer) GetMessages() <-chan shared.Delivery {
	return c.MessagesToSend
}

func GetMockConsumer(t *testing.T) *MockConsumer {
	// Passing t here to ensure it is not used in production code
	t.Logf("Using mock consumer")
	return &MockConsumer{
		MessagesToSend: make(chan shared.Delivery),
	}
}

// MockDelivery records how the worker settled it.
type MockDelivery struct {
	Payload     []byte
	IsRedeliver bool
	AckErr      error
	RequeueErr  error

	mu       sync.Mutex
	acked    int
	requeued int
	settled  chan struct{}
	once     sync.Once
}

func NewMockDelivery(payload []byte) *MockDelivery {
	return &MockDelivery{Payload: payload, settled: make(chan struct{})}
}

func (d *MockDelivery) Body() []byte {
	return d.Payload
}

func (d *MockDelivery) Redelivered() bool {
	return d.IsRedeliver
}

func (d *MockDelivery) Ack() error {
	d.mu.Lock()
	d.acked++
	d.mu.Unlock()
	d.once.Do(func() { close(d.settled) })
	return d.AckErr
}

func (d *MockDelivery) Requeue() error {
	d.mu.Lock()
	d.requeued++
	d.mu.Unlock()
	d.once.Do(func() { close(d.settled) })
	return d.RequeueErr
}

// Settled is closed by the first Ack or Requeue.
func (d *MockDelivery) Settled() <-chan struct{} {
	return d.settled
}

func (d *MockDelivery) Acked() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acked
}

func (d *MockDelivery) Requeued() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.requeued
}

type PublishedMessage struct {
	Destination string
	Payload     []byte
}

// MockPublisher keeps every published payload. While FailWith is set, Publish returns it instead.
type MockPublisher struct {
	mu        sync.Mutex
	FailWith  error
	Published []PublishedMessage
}

func GetMockPublisher(t *testing.T) *MockPublisher {
	t.Logf("Using mock publisher")
	return &MockPublisher{Published: make([]PublishedMessage, 0)}
}

func (p *MockPublisher) Publish(_ context.Context, destination string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailWith != nil {
		return p.FailWith
	}
	p.Published = append(p.Published, PublishedMessage{Destination: destination, Payload: payload})
	return nil
}

func (p *MockPublisher) SetFailure(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.FailWith = err
}

// To returns the payloads published to destination, in order.
func (p *MockPublisher) To(destination string) [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	payloads := make([][]byte, 0)
	for _, m := range p.Published {
		if m.Destination == destination {
			payloads = append(payloads, m.Payload)
		}
	}
	return payloads
}
