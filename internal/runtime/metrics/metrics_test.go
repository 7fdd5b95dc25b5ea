package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/phaseflow/internal/runtime/chain"
	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
	"github.com/drblury/phaseflow/internal/runtime/phase"
)

func TestMetrics_RegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	require.NoError(t, m.Register())
	require.NoError(t, m.Register())

	other := New(reg)
	require.NoError(t, other.Register(), "already registered collectors are tolerated")
}

func TestMetrics_Admissions(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveAdmission("inbound", "Security")
	m.ObserveAdmission("inbound", "Security")
	m.ObserveAdmissionFailure("inbound", errspkg.NewPhaseResolutionError("inbound", "Nope", "bogus", errspkg.ErrUnknownPhase, nil))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.admissions.WithLabelValues("inbound", "Security")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.admissionFailures.WithLabelValues("inbound", "unknown_phase")))
}

func TestMetrics_Hooks(t *testing.T) {
	m := New(prometheus.NewRegistry())
	hooks := m.Hooks()

	ctx := chain.BuildContext{Consumer: "orders", Flow: phase.Outbound, Target: chain.TargetGlobal, Handlers: 4, Duration: time.Millisecond}
	hooks.OnBuildDone(ctx)
	hooks.OnBuildError(ctx, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.builds.WithLabelValues("outbound", "global", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.builds.WithLabelValues("outbound", "global", "error")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.chainHandlers.WithLabelValues("orders", "outbound", "global")))
}

func TestMetrics_Invocations(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveInvocation("inbound", "Dispatch", time.Millisecond, nil)
	m.ObserveInvocation("inbound", "Dispatch", time.Millisecond, errors.New("x"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.invocations.WithLabelValues("inbound", "Dispatch", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.invocations.WithLabelValues("inbound", "Dispatch", "error")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NoError(t, m.Register())
	m.ObserveAdmission("inbound", "Security")
	m.ObserveAdmissionFailure("inbound", errors.New("x"))
	m.ObserveInvocation("inbound", "Security", 0, nil)
	assert.Nil(t, m.Hooks().OnBuildDone)
}

func TestReason(t *testing.T) {
	assert.Equal(t, "slot_taken", Reason(errspkg.NewPhaseResolutionError("", "", "", errspkg.ErrSlotTaken, nil)))
	assert.Equal(t, "instantiation", Reason(errspkg.NewPhaseResolutionError("", "", "", errspkg.ErrInstantiation, errors.New("cause"))))
	assert.Equal(t, "invalid_descriptor", Reason(errspkg.ErrPhaseNameRequired))
	assert.Equal(t, "other", Reason(errors.New("x")))
}
