package security

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	"github.com/arklim/transit-tracker/internal/core/domain"
	"github.com/arklim/transit-tracker/internal/core/port"
	"github.com/arklim/transit-tracker/internal/infra/clock"
	"github.com/arklim/transit-tracker/internal/infra/logger"
)

const lockoutCacheName = "lockout"

// ErrInvalidConfig is returned by constructors when options cannot produce a working cache.
var ErrInvalidConfig = errors.New("security: invalid configuration")

// LockoutOptions controls adaptive lockout behaviour.
type LockoutOptions struct {
	// MaxAttempts is the failure count at which a key becomes locked out.
	MaxAttempts int
	// InitialDuration is the lockout applied by the failure that reaches MaxAttempts.
	InitialDuration time.Duration
	// IncrementalDuration is added for every failure beyond MaxAttempts.
	IncrementalDuration time.Duration
	// ResetInterval is the inactivity after which an unlocked failure record is forgotten.
	ResetInterval time.Duration
	// SweepInterval is the period of the background eviction pass.
	SweepInterval time.Duration
}

func (o LockoutOptions) validate() error {
	var errs []error
	if o.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("max attempts must be positive, got %d", o.MaxAttempts))
	}
	if o.InitialDuration <= 0 {
		errs = append(errs, fmt.Errorf("initial duration must be positive, got %s", o.InitialDuration))
	}
	if o.IncrementalDuration <= 0 {
		errs = append(errs, fmt.Errorf("incremental duration must be positive, got %s", o.IncrementalDuration))
	}
	if o.ResetInterval <= 0 {
		errs = append(errs, fmt.Errorf("reset interval must be positive, got %s", o.ResetInterval))
	}
	if o.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("sweep interval must be positive, got %s", o.SweepInterval))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: lockout: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// attemptState is the per-key value. It is replaced, never mutated, so a loaded copy is safe to read.
type attemptState struct {
	failure domain.FailureRecord
	lockout domain.LockoutEntry
}

// LockoutTracker counts failed attempts per identity key and escalates lockouts for sustained abuse.
//
// Every per-key transition runs inside xsync's Compute, which serialises updates of the
// same key while leaving unrelated keys independent.
type LockoutTracker struct {
	opts    LockoutOptions
	entries *xsync.MapOf[string, attemptState]
	clock   clockwork.Clock
	logger  *zap.Logger
	metrics port.LockoutMetrics
}

// LockoutOption configures optional LockoutTracker collaborators.
type LockoutOption func(*LockoutTracker)

// WithLockoutClock overrides the time source, primarily for tests.
func WithLockoutClock(clk clockwork.Clock) LockoutOption {
	return func(t *LockoutTracker) {
		if clk != nil {
			t.clock = clk
		}
	}
}

// WithLockoutLogger sets the logger used for lockout transitions and sweep failures.
func WithLockoutLogger(log *zap.Logger) LockoutOption {
	return func(t *LockoutTracker) {
		if log != nil {
			t.logger = log
		}
	}
}

// WithLockoutMetrics wires telemetry hooks.
func WithLockoutMetrics(metrics port.LockoutMetrics) LockoutOption {
	return func(t *LockoutTracker) {
		t.metrics = metrics
	}
}

// NewLockoutTracker validates opts and constructs an empty tracker.
func NewLockoutTracker(opts LockoutOptions, options ...LockoutOption) (*LockoutTracker, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	tracker := &LockoutTracker{
		opts:    opts,
		entries: xsync.NewMapOf[string, attemptState](),
		clock:   clock.New(),
		logger:  zap.NewNop(),
	}
	for _, opt := range options {
		if opt != nil {
			opt(tracker)
		}
	}
	return tracker, nil
}

// IsLockedOut reports whether any of the keys is under an active lockout.
// Expired entries are left for the sweep.
func (t *LockoutTracker) IsLockedOut(keys ...string) bool {
	now := t.clock.Now()
	for _, key := range normalizeKeys(keys) {
		state, ok := t.entries.Load(key)
		if ok && state.lockout.IsActive(now) {
			if t.metrics != nil {
				t.metrics.IncBlocked()
			}
			return true
		}
	}
	return false
}

// RecordFailure adds one failure to every key, installing or extending lockouts at the threshold.
func (t *LockoutTracker) RecordFailure(keys ...string) {
	now := t.clock.Now()
	for _, key := range normalizeKeys(keys) {
		var lockedUntil time.Time
		t.entries.Compute(key, func(state attemptState, loaded bool) (attemptState, bool) {
			if !loaded || t.evictable(state, now) {
				// Elapsed lockouts and stale records the sweep has not reached yet start clean.
				state = attemptState{failure: domain.FailureRecord{Key: key}}
			}

			state.failure.Count++
			state.failure.LastFailureAt = now

			if state.failure.Count >= t.opts.MaxAttempts {
				state.lockout = domain.LockoutEntry{Key: key, ExpiresAt: t.lockoutExpiry(now, state.failure.Count)}
				lockedUntil = state.lockout.ExpiresAt
			}
			return state, false
		})

		if t.metrics != nil {
			t.metrics.IncFailure()
		}
		if !lockedUntil.IsZero() {
			if t.metrics != nil {
				t.metrics.IncLockout()
			}
			t.logger.Info("identity key locked out",
				zap.String("key", logger.MaskKey(key)),
				zap.Time("locked_until", lockedUntil),
			)
		}
	}
}

// ResetAttempts forgets both the failure history and any lockout of the keys.
func (t *LockoutTracker) ResetAttempts(keys ...string) {
	for _, key := range normalizeKeys(keys) {
		t.entries.Delete(key)
	}
}

// Inspect returns the current failure record and lockout entry of a key.
func (t *LockoutTracker) Inspect(key string) (domain.FailureRecord, domain.LockoutEntry, bool) {
	keys := normalizeKeys([]string{key})
	if len(keys) == 0 {
		return domain.FailureRecord{}, domain.LockoutEntry{}, false
	}
	state, ok := t.entries.Load(keys[0])
	return state.failure, state.lockout, ok
}

// Sweep evicts elapsed lockouts together with their history, and stale unlocked failure records.
func (t *LockoutTracker) Sweep(_ context.Context) error {
	now := t.clock.Now()
	evicted := 0

	t.entries.Range(func(key string, _ attemptState) bool {
		t.entries.Compute(key, func(state attemptState, loaded bool) (attemptState, bool) {
			if !loaded {
				return state, true
			}
			if t.evictable(state, now) {
				evicted++
				return state, true
			}
			return state, false
		})
		return true
	})

	size := t.entries.Size()
	if t.metrics != nil {
		t.metrics.AddSweepEvictions(lockoutCacheName, evicted)
		t.metrics.SetLockoutSize(size)
	}
	if evicted > 0 {
		t.logger.Debug("lockout sweep evicted entries", zap.Int("evicted", evicted), zap.Int("remaining", size))
	}
	return nil
}

// Run sweeps on every SweepInterval tick until ctx is cancelled.
func (t *LockoutTracker) Run(ctx context.Context) error {
	return clock.Every(ctx, t.clock, t.opts.SweepInterval, "lockout-sweep", t.logger, func(passCtx context.Context) error {
		if err := t.Sweep(passCtx); err != nil {
			if t.metrics != nil {
				t.metrics.IncSweepError(lockoutCacheName)
			}
			return err
		}
		return nil
	})
}

func (t *LockoutTracker) evictable(state attemptState, now time.Time) bool {
	if state.lockout.IsActive(now) {
		return false
	}
	if state.lockout.IsExpired(now) {
		return true
	}
	return state.failure.IsStale(now, t.opts.ResetInterval)
}

// lockoutExpiry applies InitialDuration at the threshold and IncrementalDuration per failure
// beyond it, saturating at the largest representable duration.
func (t *LockoutTracker) lockoutExpiry(now time.Time, count int) time.Time {
	beyond := int64(count - t.opts.MaxAttempts)
	duration := time.Duration(math.MaxInt64)
	if beyond <= (int64(duration)-int64(t.opts.InitialDuration))/int64(t.opts.IncrementalDuration) {
		duration = t.opts.InitialDuration + time.Duration(beyond)*t.opts.IncrementalDuration
	}
	return now.Add(duration)
}

// normalizeKeys lower-cases, trims and de-duplicates keys so one call counts a key once.
func normalizeKeys(keys []string) []string {
	normalized := make([]string, 0, len(keys))
	for _, key := range keys {
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			continue
		}
		duplicate := false
		for _, seen := range normalized {
			if seen == key {
				duplicate = true
				break
			}
		}
		if !duplicate {
			normalized = append(normalized, key)
		}
	}
	return normalized
}

var _ port.LockoutTracker = (*LockoutTracker)(nil)
