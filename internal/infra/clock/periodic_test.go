package clock

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestEveryRunsTaskOnEachTick(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clockwork.NewFakeClock()
	var passes atomic.Int32

	done := make(chan error, 1)
	go func() {
		done <- Every(ctx, clk, time.Minute, "test", zaptest.NewLogger(t), func(context.Context) error {
			passes.Add(1)
			return nil
		})
	}()

	require.NoError(t, clk.BlockUntilContext(ctx, 1))

	for i := int32(1); i <= 3; i++ {
		clk.Advance(time.Minute)
		want := i
		require.Eventually(t, func() bool { return passes.Load() == want }, time.Second, time.Millisecond)
	}

	cancel()
	require.NoError(t, <-done)
}

func TestEverySurvivesFailingAndPanickingPasses(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clockwork.NewFakeClock()
	var passes atomic.Int32

	done := make(chan error, 1)
	go func() {
		done <- Every(ctx, clk, time.Second, "flaky", zaptest.NewLogger(t), func(context.Context) error {
			switch passes.Add(1) {
			case 1:
				return errors.New("store unavailable")
			case 2:
				panic("boom")
			}
			return nil
		})
	}()

	require.NoError(t, clk.BlockUntilContext(ctx, 1))

	for i := int32(1); i <= 3; i++ {
		clk.Advance(time.Second)
		want := i
		require.Eventually(t, func() bool { return passes.Load() == want }, time.Second, time.Millisecond)
	}

	cancel()
	require.NoError(t, <-done)
}

func TestEveryPassesDetachedContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	clk := clockwork.NewFakeClock()

	started := make(chan struct{})
	release := make(chan struct{})
	observed := make(chan error, 1)

	done := make(chan error, 1)
	go func() {
		done <- Every(ctx, clk, time.Second, "slow", zaptest.NewLogger(t), func(passCtx context.Context) error {
			close(started)
			<-release
			observed <- passCtx.Err()
			return nil
		})
	}()

	require.NoError(t, clk.BlockUntilContext(ctx, 1))
	clk.Advance(time.Second)

	// Cancel while the pass is still running; the pass must see a live context.
	<-started
	cancel()
	close(release)

	require.NoError(t, <-observed)
	require.NoError(t, <-done)
}

func TestEveryRejectsNonPositiveInterval(t *testing.T) {
	err := Every(context.Background(), clockwork.NewFakeClock(), 0, "bad", nil, func(context.Context) error { return nil })
	require.Error(t, err)
}
