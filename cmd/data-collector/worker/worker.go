package worker

import (
	"context"
	"errors"
	"fmt"
	"github.com/goccy/go-json"
	"github.com/united-manufacturing-hub/data-collector/cmd/data-collector/shared"
	"github.com/united-manufacturing-hub/data-collector/cmd/data-collector/validation"
	"github.com/united-manufacturing-hub/data-collector/internal"
	"go.uber.org/zap"
	"time"
)

var ErrConsumerStopped = errors.New("inbound delivery stream closed")

type Consumer interface {
	GetMessages() <-chan shared.Delivery
}

type Publisher interface {
	Publish(ctx context.Context, destination string, payload []byte) error
}

type Queues struct {
	Validated       string
	ValidationError string
}

// Worker takes one delivery at a time from the consumer and settles it before taking the next.
// It never closes the consumer, the publisher or the store.
type Worker struct {
	consumer  Consumer
	validator *validation.Validator
	stats     shared.StatsTracker
	cache     shared.CacheStore
	publisher Publisher
	queues    Queues

	// consecutive transient failures, paces requeues
	failures int64
}

func NewWorker(consumer Consumer, store shared.Store, publisher Publisher, queues Queues) *Worker {
	return &Worker{
		consumer:  consumer,
		validator: validation.NewValidator(store),
		stats:     store,
		cache:     store,
		publisher: publisher,
		queues:    queues,
	}
}

// Run processes deliveries until ctx is cancelled or the delivery stream ends.
// A cancelled ctx is a normal stop and returns nil.
func (w *Worker) Run(ctx context.Context) error {
	zap.S().Debugf("Started work loop")
	messages := w.consumer.GetMessages()
	for {
		select {
		case <-ctx.Done():
			zap.S().Infof("Work loop stopped")
			return nil
		case d, ok := <-messages:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrConsumerStopped
			}
			w.handle(ctx, d)
		}
	}
}

func (w *Worker) handle(ctx context.Context, d shared.Delivery) {
	start := time.Now()
	deliveriesReceived.Inc()
	body := d.Body()
	id := internal.MessageID("", body)[:12]
	state := StateReceived
	move := func(next DeliveryState) {
		zap.S().Debugf("Delivery %s: %s -> %s", id, state, next)
		state = next
	}
	defer func() {
		processingDuration.Observe(time.Since(start).Seconds())
	}()
	if d.Redelivered() {
		deliveriesRedelivered.Inc()
		zap.S().Infof("Delivery %s is a redelivery", id)
	}

	err := w.process(ctx, body, move)
	if err == nil {
		w.failures = 0
		if ackErr := d.Ack(); ackErr != nil {
			// the broker will redeliver it
			zap.S().Warnf("Failed to acknowledge delivery %s: %s", id, ackErr)
			return
		}
		move(StateAcked)
		return
	}

	if ctx.Err() != nil {
		zap.S().Infof("Abandoning delivery %s in state %s during shutdown: %s", id, state, err)
		move(StateAbandoned)
		deliveriesAbandoned.Inc()
		return
	}

	if internal.IsPermanent(err) {
		// A message that can be neither forwarded nor reported is still handed back.
		// Dropping it would lose data, retrying it only delays it.
		zap.S().Errorf("Delivery %s failed permanently in state %s: %s", id, state, err)
	} else {
		zap.S().Warnf("Delivery %s failed in state %s: %s", id, state, err)
	}
	w.failures++
	if sleepErr := internal.SleepBackedOff(ctx, w.failures, internal.RequeueSlotTime, internal.RequeueMaxDelay); sleepErr != nil {
		move(StateAbandoned)
		deliveriesAbandoned.Inc()
		return
	}
	if requeueErr := d.Requeue(); requeueErr != nil {
		zap.S().Warnf("Failed to requeue delivery %s: %s", id, requeueErr)
		return
	}
	move(StateRequeued)
	deliveriesRequeued.Inc()
}

// process returns nil once the delivery may be acknowledged.
func (w *Worker) process(ctx context.Context, body []byte, move func(DeliveryState)) error {
	move(StateParsing)
	if !json.Valid(body) {
		return w.reject(ctx, shared.NewValidationError(shared.UnknownWrapperID, shared.SchemaError, "Payload is not valid JSON", body), move)
	}

	move(StateValidating)
	message, xType, err := w.validator.Validate(ctx, body)
	if err != nil {
		var validationErr *shared.ValidationError
		if errors.As(err, &validationErr) {
			return w.reject(ctx, validationErr, move)
		}
		return err
	}
	move(StateValidated)

	if len(message.Data) > 0 {
		if err = w.stats.UpdateStats(ctx, message.WrapperID, message, xType); err != nil {
			return err
		}
		move(StateStatsUpdated)
	}

	if err = w.cache.StoreMessage(ctx, message); err != nil {
		return err
	}
	move(StateCached)

	payload, err := json.Marshal(message)
	if err != nil {
		return internal.NewPermanentError(fmt.Errorf("failed to encode validated message: %w", err))
	}
	if err = w.publisher.Publish(ctx, w.queues.Validated, payload); err != nil {
		return err
	}
	move(StateForwarded)
	messagesValidated.Inc()
	zap.S().Debugf("Forwarded message of wrapper %s with %d points", message.WrapperID, len(message.Data))
	return nil
}

func (w *Worker) reject(ctx context.Context, validationErr *shared.ValidationError, move func(DeliveryState)) error {
	move(StateRejected)
	zap.S().Infow("Rejected message",
		"wrapper_id", validationErr.WrapperID,
		"error_type", validationErr.ErrorType,
		"error_message", validationErr.ErrorMessage)

	payload, err := json.Marshal(validationErr)
	if err != nil {
		return internal.NewPermanentError(fmt.Errorf("failed to encode validation error: %w", err))
	}
	if err = w.publisher.Publish(ctx, w.queues.ValidationError, payload); err != nil {
		return err
	}
	move(StateForwarded)
	messagesRejected.WithLabelValues(string(validationErr.ErrorType)).Inc()
	return nil
}
