// Package clock runs periodic background work on an injectable time source.
package clock

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Task is a single pass of periodic work.
type Task func(ctx context.Context) error

// New returns the wall clock used outside of tests.
func New() clockwork.Clock {
	return clockwork.NewRealClock()
}

// Every invokes task on every tick of interval until ctx is cancelled.
//
// A pass that returns an error or panics is logged and the loop waits for the next
// tick. Passes run on a context detached from ctx so that shutdown lets an
// in-flight pass finish instead of aborting it halfway.
func Every(ctx context.Context, clk clockwork.Clock, interval time.Duration, name string, logger *zap.Logger, task Task) error {
	if interval <= 0 {
		return fmt.Errorf("%s: interval must be positive, got %s", name, interval)
	}
	if clk == nil {
		clk = New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ticker := clk.NewTicker(interval)
	defer ticker.Stop()

	passCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.Debug("periodic task stopped", zap.String("task", name))
			return nil
		case <-ticker.Chan():
			runPass(passCtx, name, logger, task)
		}
	}
}

func runPass(ctx context.Context, name string, logger *zap.Logger, task Task) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("periodic task panicked", zap.String("task", name), zap.Any("panic", r))
		}
	}()

	if err := task(ctx); err != nil {
		logger.Warn("periodic task failed", zap.String("task", name), zap.Error(err))
	}
}
