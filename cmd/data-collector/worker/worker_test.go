package worker

import (
	"context"
	"errors"
	"fmt"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/united-manufacturing-hub/data-collector/cmd/data-collector/amqp"
	"github.com/united-manufacturing-hub/data-collector/cmd/data-collector/shared"
	"github.com/united-manufacturing-hub/data-collector/cmd/data-collector/store"
	"github.com/united-manufacturing-hub/data-collector/internal"
	"sync"
	"testing"
	"time"
)

var testQueues = Queues{Validated: "collected_data", ValidationError: "validation_errors"}

type pipeline struct {
	consumer  *amqp.MockConsumer
	publisher *amqp.MockPublisher
	store     shared.Store
	worker    *Worker
	cancel    context.CancelFunc
	done      chan error
}

func startPipeline(t *testing.T, s shared.Store) *pipeline {
	t.Helper()
	if s == nil {
		s = store.NewMemoryStore()
	}
	p := &pipeline{
		consumer:  amqp.GetMockConsumer(t),
		publisher: amqp.GetMockPublisher(t),
		store:     s,
		done:      make(chan error, 1),
	}
	p.worker = NewWorker(p.consumer, s, p.publisher, testQueues)
	var ctx context.Context
	ctx, p.cancel = context.WithCancel(context.Background())
	go func() {
		p.done <- p.worker.Run(ctx)
	}()
	t.Cleanup(p.cancel)
	return p
}

// send hands payload to the worker and waits until it was acknowledged or requeued.
func (p *pipeline) send(t *testing.T, payload string) *amqp.MockDelivery {
	t.Helper()
	d := amqp.NewMockDelivery([]byte(payload))
	p.consumer.MessagesToSend <- d
	select {
	case <-d.Settled():
	case <-time.After(5 * time.Second):
		t.Errorf("delivery was not settled: %s", payload)
	}
	return d
}

func (p *pipeline) lastError(t *testing.T) shared.ValidationError {
	t.Helper()
	published := p.publisher.To(testQueues.ValidationError)
	require.NotEmpty(t, published)
	var verr shared.ValidationError
	require.NoError(t, json.Unmarshal(published[len(published)-1], &verr))
	return verr
}

func (p *pipeline) lastValidated(t *testing.T) shared.WrapperMessage {
	t.Helper()
	published := p.publisher.To(testQueues.Validated)
	require.NotEmpty(t, published)
	var message shared.WrapperMessage
	require.NoError(t, json.Unmarshal(published[len(published)-1], &message))
	return message
}

func TestDedupWithoutConflict(t *testing.T) {
	p := startPipeline(t, nil)
	d := p.send(t, `{"wrapper_id":"w1","data":[{"x":"a","y":1},{"x":"b","y":2},{"x":"a","y":1}],"metadata":{}}`)
	assert.Equal(t, 1, d.Acked())

	message := p.lastValidated(t)
	require.Len(t, message.Data, 2)
	assert.Equal(t, "a", message.Data[0].X.String())
	assert.Equal(t, "b", message.Data[1].X.String())

	stats, err := p.store.GetStats(context.Background(), "w1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.LastDataCount)
	assert.Equal(t, shared.XTypeString, stats.XValueType)
}

func TestDedupConflict(t *testing.T) {
	p := startPipeline(t, nil)
	d := p.send(t, `{"wrapper_id":"w1","data":[{"x":"a","y":1},{"x":"a","y":2}],"metadata":{}}`)
	assert.Equal(t, 1, d.Acked())
	assert.Equal(t, 0, d.Requeued())

	verr := p.lastError(t)
	assert.Equal(t, shared.ValidationFault, verr.ErrorType)
	assert.Contains(t, verr.ErrorMessage, "1")
	assert.Contains(t, verr.ErrorMessage, "2")
	assert.Equal(t, "w1", verr.WrapperID)
	assert.Empty(t, p.publisher.To(testQueues.Validated))

	stats, err := p.store.GetStats(context.Background(), "w1")
	require.NoError(t, err)
	assert.Nil(t, stats)
	last, err := p.store.GetLastMessage(context.Background())
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestCoherence(t *testing.T) {
	p := startPipeline(t, nil)
	p.send(t, `{"wrapper_id":"w1","data":[{"x":1,"y":1}],"metadata":{}}`)
	d := p.send(t, `{"wrapper_id":"w1","data":[{"x":"north","y":1}],"metadata":{}}`)
	assert.Equal(t, 1, d.Acked())

	verr := p.lastError(t)
	assert.Equal(t, shared.CoherenceError, verr.ErrorType)
	assert.Contains(t, verr.ErrorMessage, "number")
	assert.Contains(t, verr.ErrorMessage, "string")
	assert.JSONEq(t, `{"wrapper_id":"w1","data":[{"x":"north","y":1}],"metadata":{}}`, string(verr.OriginalData))

	stats, err := p.store.GetStats(context.Background(), "w1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalMessages)
	assert.Equal(t, shared.XTypeNumber, stats.XValueType)
}

func TestEmptyDataPassThrough(t *testing.T) {
	p := startPipeline(t, nil)
	ctx := context.Background()
	p.send(t, `{"wrapper_id":"w1","data":[{"x":1,"y":1}],"metadata":{}}`)
	d := p.send(t, `{"wrapper_id":"w1","data":[],"metadata":{"note":"idle"}}`)
	assert.Equal(t, 1, d.Acked())
	assert.Empty(t, p.publisher.To(testQueues.ValidationError))

	message := p.lastValidated(t)
	assert.Equal(t, "w1", message.WrapperID)
	assert.Empty(t, message.Data)

	last, err := p.store.GetWrapperLastMessage(ctx, "w1")
	require.NoError(t, err)
	assert.Empty(t, last.Data)
	metadata, err := p.store.GetLastMessageMetadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, metadata.DataPointsCount)

	stats, err := p.store.GetStats(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalMessages)
	assert.Equal(t, 1, stats.LastDataCount)

	// a wrapper that only ever sent empty messages has no statistics
	p.send(t, `{"wrapper_id":"w2","data":[],"metadata":{}}`)
	stats, err = p.store.GetStats(ctx, "w2")
	require.NoError(t, err)
	assert.Nil(t, stats)
}

func TestSchemaViolation(t *testing.T) {
	p := startPipeline(t, nil)
	d := p.send(t, `{"data":[{"x":1,"y":1}],"metadata":{}}`)
	assert.Equal(t, 1, d.Acked())

	verr := p.lastError(t)
	assert.Equal(t, shared.SchemaError, verr.ErrorType)
	assert.Equal(t, "unknown", verr.WrapperID)
}

func TestInvalidJSON(t *testing.T) {
	p := startPipeline(t, nil)
	d := p.send(t, "\x00not json")
	assert.Equal(t, 1, d.Acked())

	verr := p.lastError(t)
	assert.Equal(t, shared.SchemaError, verr.ErrorType)
	assert.Equal(t, "unknown", verr.WrapperID)
	var original string
	require.NoError(t, json.Unmarshal(verr.OriginalData, &original))
	assert.Equal(t, "AG5vdCBqc29u", original)
}

func TestForwardFailureRequeues(t *testing.T) {
	p := startPipeline(t, nil)
	p.publisher.SetFailure(internal.NewTransientError(errors.New("broker unavailable")))

	d := p.send(t, `{"wrapper_id":"w1","data":[{"x":1,"y":1}],"metadata":{}}`)
	assert.Equal(t, 0, d.Acked())
	assert.Equal(t, 1, d.Requeued())

	// validation errors that cannot be reported are handed back as well
	d = p.send(t, `{"data":[]}`)
	assert.Equal(t, 0, d.Acked())
	assert.Equal(t, 1, d.Requeued())

	p.publisher.SetFailure(nil)
	d = p.send(t, `{"wrapper_id":"w1","data":[{"x":1,"y":1}],"metadata":{}}`)
	assert.Equal(t, 1, d.Acked())
}

type failingStore struct {
	*store.MemoryStore
	storeErr error
	statsErr error
}

func (f *failingStore) StoreMessage(ctx context.Context, message *shared.WrapperMessage) error {
	if f.storeErr != nil {
		return f.storeErr
	}
	return f.MemoryStore.StoreMessage(ctx, message)
}

func (f *failingStore) GetStats(ctx context.Context, wrapperID string) (*shared.WrapperStatistics, error) {
	if f.statsErr != nil {
		return nil, f.statsErr
	}
	return f.MemoryStore.GetStats(ctx, wrapperID)
}

func TestStoreFailureRequeues(t *testing.T) {
	s := &failingStore{MemoryStore: store.NewMemoryStore(), storeErr: internal.NewTransientError(errors.New("redis down"))}
	p := startPipeline(t, s)

	d := p.send(t, `{"wrapper_id":"w1","data":[{"x":1,"y":1}],"metadata":{}}`)
	assert.Equal(t, 1, d.Requeued())
	assert.Empty(t, p.publisher.Published)
}

func TestStatsLookupFailureRequeues(t *testing.T) {
	s := &failingStore{MemoryStore: store.NewMemoryStore(), statsErr: errors.New("redis down")}
	p := startPipeline(t, s)

	d := p.send(t, `{"wrapper_id":"w1","data":[{"x":1,"y":1}],"metadata":{}}`)
	assert.Equal(t, 0, d.Acked())
	assert.Equal(t, 1, d.Requeued())
	assert.Empty(t, p.publisher.To(testQueues.ValidationError))
}

func TestAbandonDuringShutdown(t *testing.T) {
	publisher := amqp.GetMockPublisher(t)
	publisher.SetFailure(context.Canceled)
	w := NewWorker(amqp.GetMockConsumer(t), store.NewMemoryStore(), publisher, testQueues)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := amqp.NewMockDelivery([]byte(`{"wrapper_id":"w1","data":[{"x":1,"y":1}],"metadata":{}}`))
	w.handle(ctx, d)

	assert.Equal(t, 0, d.Acked())
	assert.Equal(t, 0, d.Requeued())
}

func TestRunStops(t *testing.T) {
	p := startPipeline(t, nil)
	p.cancel()
	select {
	case err := <-p.done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}

	p = startPipeline(t, nil)
	close(p.consumer.MessagesToSend)
	select {
	case err := <-p.done:
		assert.ErrorIs(t, err, ErrConsumerStopped)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestConcurrentWorkersShareCounter(t *testing.T) {
	const workers = 20
	s := store.NewMemoryStore()
	pipelines := make([]*pipeline, 0, workers)
	for i := 0; i < workers; i++ {
		pipelines = append(pipelines, startPipeline(t, s))
	}

	var wg sync.WaitGroup
	for i, p := range pipelines {
		wg.Add(1)
		go func(i int, p *pipeline) {
			defer wg.Done()
			p.send(t, fmt.Sprintf(`{"wrapper_id":"shared","data":[{"x":%d,"y":1}],"metadata":{}}`, i))
		}(i, p)
	}
	wg.Wait()

	stats, err := s.GetStats(context.Background(), "shared")
	require.NoError(t, err)
	assert.Equal(t, int64(workers), stats.TotalMessages)
}

func TestRedeliveryIsProcessedAndCounted(t *testing.T) {
	p := startPipeline(t, nil)
	before := testutil.ToFloat64(deliveriesRedelivered)

	d := amqp.NewMockDelivery([]byte(`{"wrapper_id":"w1","data":[{"x":1,"y":1}],"metadata":{}}`))
	d.IsRedeliver = true
	p.consumer.MessagesToSend <- d
	select {
	case <-d.Settled():
	case <-time.After(5 * time.Second):
		t.Fatal("delivery was not settled")
	}

	assert.Equal(t, 1, d.Acked())
	assert.Equal(t, before+1, testutil.ToFloat64(deliveriesRedelivered))
	assert.Len(t, p.publisher.To(testQueues.Validated), 1)
}

func TestDeliveryStateString(t *testing.T) {
	assert.Equal(t, "STATS_UPDATED", StateStatsUpdated.String())
	assert.Equal(t, "ABANDONED", StateAbandoned.String())
	assert.Equal(t, "UNKNOWN", DeliveryState(200).String())
}
