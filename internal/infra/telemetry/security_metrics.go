package telemetry

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arklim/transit-tracker/internal/core/port"
)

// SecurityMetricsOptions configures the security cache collectors.
type SecurityMetricsOptions struct {
	Registerer prometheus.Registerer
	Namespace  string
	Subsystem  string
}

// SecurityMetrics exposes Prometheus collectors for the lockout tracker and token denylist.
type SecurityMetrics struct {
	Failures        prometheus.Counter
	Lockouts        prometheus.Counter
	Blocked         prometheus.Counter
	LockoutEntries  prometheus.Gauge
	Denials         prometheus.Counter
	Lookups         *prometheus.CounterVec
	DenylistEntries prometheus.Gauge
	LoadDuration    prometheus.Histogram
	SweepEvictions  *prometheus.CounterVec
	SweepErrors     *prometheus.CounterVec
}

// NewSecurityMetrics constructs the collectors and registers them with the provided registerer.
// Collectors already registered under the same name are reused.
func NewSecurityMetrics(opts SecurityMetricsOptions) (*SecurityMetrics, error) {
	namespace := opts.Namespace
	if namespace == "" {
		namespace = "tracker"
	}

	subsystem := opts.Subsystem
	if subsystem == "" {
		subsystem = "security"
	}

	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help})
	}
	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help}, labels)
	}

	m := &SecurityMetrics{}
	var errs []error
	m.Failures = register(reg, counter("lockout_failures_total", "Failed attempts recorded per identity key."), &errs)
	m.Lockouts = register(reg, counter("lockouts_total", "Lockouts installed or extended."), &errs)
	m.Blocked = register(reg, counter("lockout_checks_blocked_total", "Requests rejected because a key was locked out."), &errs)
	m.LockoutEntries = register(reg, gauge("lockout_entries", "Identity keys currently tracked by the lockout tracker."), &errs)
	m.Denials = register(reg, counter("denylist_denials_total", "Tokens added to the denylist."), &errs)
	m.Lookups = register(reg, counterVec("denylist_lookups_total", "Denylist lookups partitioned by result.", "result"), &errs)
	m.DenylistEntries = register(reg, gauge("denylist_entries", "Token identifiers currently held by the denylist."), &errs)
	m.LoadDuration = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "denylist_load_duration_seconds",
		Help:      "Duration of the startup load of denied tokens from the durable store.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
	}), &errs)
	m.SweepEvictions = register(reg, counterVec("sweep_evictions_total", "Entries evicted by periodic sweeps.", "cache"), &errs)
	m.SweepErrors = register(reg, counterVec("sweep_errors_total", "Periodic sweeps that returned an error.", "cache"), &errs)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return m, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, collector T, errs *[]error) T {
	if err := reg.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
			*errs = append(*errs, fmt.Errorf("existing collector has unexpected type %T", already.ExistingCollector))
			return collector
		}
		*errs = append(*errs, fmt.Errorf("register collector: %w", err))
	}
	return collector
}

func (m *SecurityMetrics) IncFailure() { m.Failures.Inc() }

func (m *SecurityMetrics) IncLockout() { m.Lockouts.Inc() }

func (m *SecurityMetrics) IncBlocked() { m.Blocked.Inc() }

func (m *SecurityMetrics) SetLockoutSize(n int) { m.LockoutEntries.Set(float64(n)) }

func (m *SecurityMetrics) IncDenial() { m.Denials.Inc() }

func (m *SecurityMetrics) IncLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.Lookups.WithLabelValues(result).Inc()
}

func (m *SecurityMetrics) SetDenylistSize(n int) { m.DenylistEntries.Set(float64(n)) }

func (m *SecurityMetrics) ObserveDenylistLoad(d time.Duration) { m.LoadDuration.Observe(d.Seconds()) }

func (m *SecurityMetrics) AddSweepEvictions(cache string, n int) {
	m.SweepEvictions.WithLabelValues(cache).Add(float64(n))
}

func (m *SecurityMetrics) IncSweepError(cache string) { m.SweepErrors.WithLabelValues(cache).Inc() }

var (
	_ port.LockoutMetrics  = (*SecurityMetrics)(nil)
	_ port.DenylistMetrics = (*SecurityMetrics)(nil)
)
