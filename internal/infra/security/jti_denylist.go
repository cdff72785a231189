package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/puzpuzpuz/xsync/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/transit-tracker/internal/core/domain"
	"github.com/arklim/transit-tracker/internal/core/port"
	"github.com/arklim/transit-tracker/internal/infra/clock"
)

const (
	denylistCacheName  = "denylist"
	denylistTracerName = "transit-tracker/security/denylist"
)

// ErrTokenIDRequired is returned when a denial is requested without a token identifier.
var ErrTokenIDRequired = errors.New("security: token id is required")

// DenylistOptions controls the denylist sweep cadence and store call budgets.
type DenylistOptions struct {
	SweepInterval time.Duration
	// LoadTimeout bounds the one-time startup load.
	LoadTimeout time.Duration
	// StoreTimeout bounds each insert and sweep delete issued to the store.
	StoreTimeout time.Duration
}

func (o DenylistOptions) validate() error {
	var errs []error
	if o.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("sweep interval must be positive, got %s", o.SweepInterval))
	}
	if o.LoadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("load timeout must be positive, got %s", o.LoadTimeout))
	}
	if o.StoreTimeout <= 0 {
		errs = append(errs, fmt.Errorf("store timeout must be positive, got %s", o.StoreTimeout))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: denylist: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// TokenDenylist serves revocation checks from memory while mirroring every denial to a durable store.
//
// Construction starts an asynchronous load of the store's active entries. Every public
// method waits for that load first, so a token denied before the last restart is never
// reported as allowed and a denial issued right after startup is never overwritten.
type TokenDenylist struct {
	store   port.DeniedTokenStore
	opts    DenylistOptions
	entries *xsync.MapOf[string, time.Time]
	ready   chan struct{}
	loadErr error

	clock   clockwork.Clock
	logger  *zap.Logger
	metrics port.DenylistMetrics
	tracer  trace.Tracer
}

// DenylistOption configures optional TokenDenylist collaborators.
type DenylistOption func(*TokenDenylist)

// WithDenylistClock overrides the time source, primarily for tests.
func WithDenylistClock(clk clockwork.Clock) DenylistOption {
	return func(d *TokenDenylist) {
		if clk != nil {
			d.clock = clk
		}
	}
}

// WithDenylistLogger sets the logger used for load and sweep diagnostics.
func WithDenylistLogger(log *zap.Logger) DenylistOption {
	return func(d *TokenDenylist) {
		if log != nil {
			d.logger = log
		}
	}
}

// WithDenylistMetrics wires telemetry hooks.
func WithDenylistMetrics(metrics port.DenylistMetrics) DenylistOption {
	return func(d *TokenDenylist) {
		d.metrics = metrics
	}
}

// NewTokenDenylist validates opts, returns immediately and loads active denials from store in the background.
func NewTokenDenylist(store port.DeniedTokenStore, opts DenylistOptions, options ...DenylistOption) (*TokenDenylist, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: denylist: store is required", ErrInvalidConfig)
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	denylist := &TokenDenylist{
		store:   store,
		opts:    opts,
		entries: xsync.NewMapOf[string, time.Time](),
		ready:   make(chan struct{}),
		clock:   clock.New(),
		logger:  zap.NewNop(),
		tracer:  otel.Tracer(denylistTracerName),
	}
	for _, opt := range options {
		if opt != nil {
			opt(denylist)
		}
	}

	go denylist.load()

	return denylist, nil
}

// Ready is closed once the startup load has finished, successfully or not.
func (d *TokenDenylist) Ready() <-chan struct{} {
	return d.ready
}

// LoadErr reports the startup load failure, if any. It is only meaningful after Ready is closed.
func (d *TokenDenylist) LoadErr() error {
	select {
	case <-d.ready:
		return d.loadErr
	default:
		return nil
	}
}

// Size returns the number of in-memory entries, including expired ones not yet swept.
func (d *TokenDenylist) Size() int {
	return d.entries.Size()
}

// Deny persists the token identifier until expiresAt and then adds it to memory.
// A store failure is returned to the caller and leaves memory untouched.
func (d *TokenDenylist) Deny(ctx context.Context, jti string, expiresAt time.Time) error {
	jti = strings.TrimSpace(jti)
	if jti == "" {
		return ErrTokenIDRequired
	}

	if err := d.awaitReady(ctx); err != nil {
		return err
	}

	expiresAt = expiresAt.UTC()
	if !expiresAt.After(d.clock.Now()) {
		// Already expired tokens are rejected by signature validation; nothing to remember.
		return nil
	}

	ctx, span := d.tracer.Start(ctx, "denylist.deny", trace.WithAttributes(
		attribute.String("jti.fingerprint", Fingerprint(jti)),
	))
	defer span.End()

	token := domain.DeniedToken{JTI: jti, ExpiresAt: expiresAt}
	if err := d.persist(ctx, span, token); err != nil {
		return err
	}

	d.remember(token)
	d.recordDenial()
	return nil
}

// Claim denies the token identifier only if it is not denied already and reports
// whether it was. Among concurrent claims of one identifier exactly one gets false.
// The entry is reserved in memory before the store write and released again when
// that write fails, so a failed claim can be retried.
func (d *TokenDenylist) Claim(ctx context.Context, jti string, expiresAt time.Time) (bool, error) {
	jti = strings.TrimSpace(jti)
	if jti == "" {
		return false, ErrTokenIDRequired
	}

	if err := d.awaitReady(ctx); err != nil {
		return false, err
	}

	now := d.clock.Now()
	expiresAt = expiresAt.UTC()
	if !expiresAt.After(now) {
		return false, nil
	}

	alreadyDenied := false
	d.entries.Compute(jti, func(current time.Time, loaded bool) (time.Time, bool) {
		if loaded && current.After(now) {
			alreadyDenied = true
			return current, false
		}
		return expiresAt, false
	})
	if alreadyDenied {
		return true, nil
	}

	ctx, span := d.tracer.Start(ctx, "denylist.claim", trace.WithAttributes(
		attribute.String("jti.fingerprint", Fingerprint(jti)),
	))
	defer span.End()

	if err := d.persist(ctx, span, domain.DeniedToken{JTI: jti, ExpiresAt: expiresAt}); err != nil {
		d.entries.Compute(jti, func(current time.Time, loaded bool) (time.Time, bool) {
			// A concurrent Deny may have extended the entry; keep that one.
			return current, loaded && current.Equal(expiresAt)
		})
		return false, err
	}

	d.recordDenial()
	return false, nil
}

func (d *TokenDenylist) persist(ctx context.Context, span trace.Span, token domain.DeniedToken) error {
	storeCtx, cancel := context.WithTimeout(ctx, d.opts.StoreTimeout)
	defer cancel()

	if err := d.store.Insert(storeCtx, token); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist denied token")
		return fmt.Errorf("persist denied token: %w", err)
	}
	return nil
}

func (d *TokenDenylist) recordDenial() {
	if d.metrics != nil {
		d.metrics.IncDenial()
		d.metrics.SetDenylistSize(d.entries.Size())
	}
}

// IsDenied reports whether the token identifier was revoked and has not yet expired.
// It never reaches the store. A context cancelled before the startup load finishes
// yields true so an unloaded denylist is never read as "not denied".
func (d *TokenDenylist) IsDenied(ctx context.Context, jti string) bool {
	jti = strings.TrimSpace(jti)
	if jti == "" {
		return false
	}

	if err := d.awaitReady(ctx); err != nil {
		return true
	}

	expiresAt, ok := d.entries.Load(jti)
	hit := ok && expiresAt.After(d.clock.Now())
	if d.metrics != nil {
		d.metrics.IncLookup(hit)
	}
	return hit
}

// Sweep evicts expired entries from memory and asks the store to delete them.
// The two evictions are independent: a store failure is returned after memory has been pruned.
func (d *TokenDenylist) Sweep(ctx context.Context) error {
	if err := d.awaitReady(ctx); err != nil {
		return err
	}

	ctx, span := d.tracer.Start(ctx, "denylist.sweep")
	defer span.End()

	now := d.clock.Now()
	evicted := 0
	d.entries.Range(func(jti string, _ time.Time) bool {
		d.entries.Compute(jti, func(expiresAt time.Time, loaded bool) (time.Time, bool) {
			if !loaded {
				return expiresAt, true
			}
			if !expiresAt.After(now) {
				evicted++
				return expiresAt, true
			}
			return expiresAt, false
		})
		return true
	})

	size := d.entries.Size()
	span.SetAttributes(attribute.Int("evicted", evicted), attribute.Int("remaining", size))
	if d.metrics != nil {
		d.metrics.AddSweepEvictions(denylistCacheName, evicted)
		d.metrics.SetDenylistSize(size)
	}

	storeCtx, cancel := context.WithTimeout(ctx, d.opts.StoreTimeout)
	defer cancel()

	removed, err := d.store.DeleteExpired(storeCtx, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delete expired denied tokens")
		return fmt.Errorf("delete expired denied tokens: %w", err)
	}

	if evicted > 0 || removed > 0 {
		d.logger.Debug("denylist sweep completed",
			zap.Int("evicted", evicted),
			zap.Int64("store_removed", removed),
			zap.Int("remaining", size),
		)
	}
	return nil
}

// Run sweeps on every SweepInterval tick until ctx is cancelled.
func (d *TokenDenylist) Run(ctx context.Context) error {
	return clock.Every(ctx, d.clock, d.opts.SweepInterval, "denylist-sweep", d.logger, func(passCtx context.Context) error {
		if err := d.Sweep(passCtx); err != nil {
			if d.metrics != nil {
				d.metrics.IncSweepError(denylistCacheName)
			}
			return err
		}
		return nil
	})
}

// load runs once per process. It only adds entries and it owns its own context,
// so callers waiting on ready never hold anything the load needs.
func (d *TokenDenylist) load() {
	defer close(d.ready)

	ctx, cancel := context.WithTimeout(context.Background(), d.opts.LoadTimeout)
	defer cancel()

	ctx, span := d.tracer.Start(ctx, "denylist.load")
	defer span.End()

	started := d.clock.Now()
	tokens, err := d.store.LoadActive(ctx, started)
	if err != nil {
		d.loadErr = fmt.Errorf("load denied tokens: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "load denied tokens")
		d.logger.Error("denylist startup load failed, starting empty", zap.Error(err))
		return
	}

	for _, token := range tokens {
		if strings.TrimSpace(token.JTI) == "" {
			continue
		}
		d.remember(token)
	}

	size := d.entries.Size()
	span.SetAttributes(attribute.Int("loaded", size))
	if d.metrics != nil {
		d.metrics.ObserveDenylistLoad(d.clock.Since(started))
		d.metrics.SetDenylistSize(size)
	}
	d.logger.Info("denylist loaded", zap.Int("entries", size))
}

// remember stores the later of the known and supplied expiry for the token.
func (d *TokenDenylist) remember(token domain.DeniedToken) {
	expiresAt := token.ExpiresAt.UTC()
	d.entries.Compute(token.JTI, func(current time.Time, loaded bool) (time.Time, bool) {
		if loaded && current.After(expiresAt) {
			return current, false
		}
		return expiresAt, false
	})
}

func (d *TokenDenylist) awaitReady(ctx context.Context) error {
	select {
	case <-d.ready:
		return nil
	default:
	}

	select {
	case <-d.ready:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("await denylist load: %w", ctx.Err())
	}
}

// Fingerprint returns a short, non-reversible identifier of a token id suitable for logs and spans.
func Fingerprint(jti string) string {
	sum := sha256.Sum256([]byte(jti))
	return hex.EncodeToString(sum[:6])
}

var _ port.TokenDenylist = (*TokenDenylist)(nil)
