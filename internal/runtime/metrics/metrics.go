// Package metrics exposes Prometheus collectors for handler admission, chain
// builds and chain execution. All methods are safe on a nil *Metrics, which
// records nothing.
package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/phaseflow/internal/runtime/chain"
	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
)

const namespace = "phaseflow"

// Metrics groups the phaseflow collectors.
type Metrics struct {
	mu         sync.Mutex
	registerer prometheus.Registerer
	registered bool

	admissions        *prometheus.CounterVec
	admissionFailures *prometheus.CounterVec
	builds            *prometheus.CounterVec
	buildDuration     *prometheus.HistogramVec
	chainHandlers     *prometheus.GaugeVec
	invocations       *prometheus.CounterVec
	invocationLatency *prometheus.HistogramVec
}

func newCounterVec(subsystem, name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help},
		labels,
	)
}

func newHistogramVec(subsystem, name, help string, buckets []float64, labels []string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help, Buckets: buckets},
		labels,
	)
}

// New creates the collectors. A nil registerer uses prometheus.DefaultRegisterer.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Metrics{
		registerer:        registerer,
		admissions:        newCounterVec("holder", "admissions_total", "Handlers admitted into a phase", []string{"flow", "phase"}),
		admissionFailures: newCounterVec("holder", "admission_failures_total", "Handlers rejected during admission", []string{"flow", "reason"}),
		builds:            newCounterVec("chain", "builds_total", "Chain builds by outcome", []string{"flow", "target", "result"}),
		buildDuration:     newHistogramVec("chain", "build_duration_seconds", "Time spent building a chain", prometheus.DefBuckets, []string{"target"}),
		chainHandlers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Namespace: namespace, Subsystem: "chain", Name: "handlers", Help: "Handlers in the most recent chain built per consumer"},
			[]string{"consumer", "flow", "target"},
		),
		invocations:       newCounterVec("engine", "invocations_total", "Handler invocations by phase and outcome", []string{"flow", "phase", "result"}),
		invocationLatency: newHistogramVec("engine", "invocation_duration_seconds", "Handler invocation latency", []float64{.0005, .001, .005, .01, .05, .1, .5, 1}, []string{"flow", "phase"}),
	}
}

// Register registers the collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.admissions,
		m.admissionFailures,
		m.builds,
		m.buildDuration,
		m.chainHandlers,
		m.invocations,
		m.invocationLatency,
	}
	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}
	m.registered = true
	return nil
}

// ObserveAdmission counts a handler admitted into phaseName.
func (m *Metrics) ObserveAdmission(flow, phaseName string) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(flow, phaseName).Inc()
}

// ObserveAdmissionFailure counts a rejected handler, labelled by Reason(err).
func (m *Metrics) ObserveAdmissionFailure(flow string, err error) {
	if m == nil {
		return
	}
	m.admissionFailures.WithLabelValues(flow, Reason(err)).Inc()
}

// ObserveInvocation records one handler execution.
func (m *Metrics) ObserveInvocation(flow, phaseName string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.invocations.WithLabelValues(flow, phaseName, result).Inc()
	m.invocationLatency.WithLabelValues(flow, phaseName).Observe(d.Seconds())
}

// Hooks returns build hooks that feed the build collectors.
func (m *Metrics) Hooks() chain.BuildHooks {
	if m == nil {
		return chain.BuildHooks{}
	}
	return chain.BuildHooks{
		OnBuildDone: func(ctx chain.BuildContext) {
			m.builds.WithLabelValues(ctx.Flow.String(), ctx.Target.String(), "ok").Inc()
			m.buildDuration.WithLabelValues(ctx.Target.String()).Observe(ctx.Duration.Seconds())
			m.chainHandlers.WithLabelValues(ctx.Consumer, ctx.Flow.String(), ctx.Target.String()).Set(float64(ctx.Handlers))
		},
		OnBuildError: func(ctx chain.BuildContext, err error) {
			m.builds.WithLabelValues(ctx.Flow.String(), ctx.Target.String(), "error").Inc()
			m.buildDuration.WithLabelValues(ctx.Target.String()).Observe(ctx.Duration.Seconds())
		},
	}
}

var reasons = []struct {
	err   error
	label string
}{
	{errspkg.ErrUnknownPhase, "unknown_phase"},
	{errspkg.ErrUnknownSibling, "unknown_sibling"},
	{errspkg.ErrSlotTaken, "slot_taken"},
	{errspkg.ErrConflictingOrder, "conflicting_order"},
	{errspkg.ErrDuplicateHandler, "duplicate_handler"},
	{errspkg.ErrFlowSealed, "flow_sealed"},
	{errspkg.ErrFlowNotSelected, "flow_not_selected"},
	{errspkg.ErrUnknownFlow, "unknown_flow"},
	{errspkg.ErrHandlerNameRequired, "invalid_descriptor"},
	{errspkg.ErrPhaseNameRequired, "invalid_descriptor"},
	{errspkg.ErrInstantiation, "instantiation"},
	{errspkg.ErrNotInstantiated, "not_instantiated"},
	{errspkg.ErrSinkRejected, "sink_rejected"},
}

// Reason maps a phaseflow error to a low-cardinality label.
func Reason(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.label
		}
	}
	return "other"
}
