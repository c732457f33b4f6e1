package amqp

import (
	"errors"
	"fmt"
	"github.com/heptiolabs/healthcheck"
	"sync"
	"time"
)

// StallTimeout is how long a delivery may stay unsettled before the consumer counts as stuck.
const StallTimeout = 5 * time.Minute

func GetReadinessCheck(consumer *Consumer) healthcheck.Check {
	return func() error {
		if consumer.IsRunning() {
			return nil
		}
		return errors.New("amqp consumer is not running")
	}
}

// GetLivenessCheck fails when the consumer stopped, or when a delivery is in flight and nothing
// was settled for StallTimeout. An idle queue is not a failure.
func GetLivenessCheck(consumer *Consumer) healthcheck.Check {
	return newLivenessCheck(consumer, StallTimeout, time.Now)
}

func newLivenessCheck(consumer *Consumer, stallAfter time.Duration, now func() time.Time) healthcheck.Check {
	var mu sync.Mutex
	var lastSettled uint64
	lastProgress := now()
	return func() error {
		if !consumer.IsRunning() {
			return errors.New("amqp consumer stopped")
		}
		acked, requeued := consumer.GetStats()
		settled := acked + requeued

		mu.Lock()
		defer mu.Unlock()
		t := now()
		if settled != lastSettled || consumer.Pending() == 0 {
			lastSettled = settled
			lastProgress = t
			return nil
		}
		if stalled := t.Sub(lastProgress); stalled > stallAfter {
			return fmt.Errorf("delivery in flight without progress for %s", stalled.Round(time.Second))
		}
		return nil
	}
}
