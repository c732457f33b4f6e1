package internal

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

type GracefulShutdownHandler interface {
	Shutdown()          // Triggers a graceful shutdown programmatically.
	ShuttingDown() bool // Quickly checks if a shutdown is in progress.
	Wait()              // Blocks until shutdown tasks are complete.
}

type gracefulShutdown struct {
	quit         chan os.Signal // Blocks until a SIGTERM/SIGINT signal is received.
	shuttingDown chan bool      // Indicates if a shutdown is happening.
	wg           sync.WaitGroup // Waits until all shutdown tasks are complete.
	timeout      time.Duration
}

// NewGracefulShutdown initializes a graceful shutdown handler.
// onShutdown runs once after a SIGTERM/SIGINT signal (or Shutdown) is received, if not nil.
// If it does not return within timeout the process exits with status 1.
func NewGracefulShutdown(onShutdown func() error, timeout time.Duration) GracefulShutdownHandler {
	gs := &gracefulShutdown{
		quit:         make(chan os.Signal, 1),
		shuttingDown: make(chan bool, 1),
		wg:           sync.WaitGroup{},
		timeout:      timeout,
	}
	gs.wg.Add(1)
	signal.Notify(gs.quit, syscall.SIGINT, syscall.SIGTERM)

	go func(gs *gracefulShutdown, onShutdown func() error) {
		defer gs.wg.Done()
		// Kubernetes sends SIGTERM 30 seconds before
		// shutting down the pod.
		sig := <-gs.quit
		signal.Stop(gs.quit)
		gs.shuttingDown <- true
		zap.S().Infow("Received signal, shutting down", "signal", sig.String())
		if onShutdown == nil {
			return
		}

		zap.S().Infow("Waiting for shutdown tasks to complete", "timeout", gs.timeout)
		watchdog := time.AfterFunc(gs.timeout, func() {
			zap.S().Errorw("Shutdown tasks did not complete in time", "timeout", gs.timeout)
			// Flush buffer
			_ = zap.S().Sync()
			os.Exit(1)
		})
		defer watchdog.Stop()

		if err := onShutdown(); err != nil {
			zap.S().Errorw("Error during shutdown", "error", err)
			return
		}
		zap.S().Info("Shutdown tasks completed. Ready to exit.")
	}(gs, onShutdown)

	return gs
}

func (gs *gracefulShutdown) ShuttingDown() bool {
	select {
	case <-gs.shuttingDown:
		// Put the value back, in case it's checked again later during shutdown.
		gs.shuttingDown <- true
		return true
	default:
		return false
	}
}

func (gs *gracefulShutdown) Shutdown() {
	// Only send a SIGTERM signal if we are not already shutting down.
	if !gs.ShuttingDown() {
		select {
		case gs.quit <- syscall.SIGTERM:
		default:
		}
	}
}

func (gs *gracefulShutdown) Wait() {
	gs.wg.Wait()
}
