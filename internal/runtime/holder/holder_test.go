package holder

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/drblury/phaseflow/internal/runtime/chain"
	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
	"github.com/drblury/phaseflow/internal/runtime/factory"
	"github.com/drblury/phaseflow/internal/runtime/logging"
	"github.com/drblury/phaseflow/internal/runtime/metrics"
	"github.com/drblury/phaseflow/internal/runtime/params"
	"github.com/drblury/phaseflow/internal/runtime/phase"
	"github.com/drblury/phaseflow/internal/runtime/registry"
)

type captureSink struct {
	calls  int
	flow   phase.Flow
	phases []chain.Phase
	err    error
}

func (s *captureSink) SetPhases(phases []chain.Phase, flow phase.Flow) error {
	s.calls++
	if s.err != nil {
		return s.err
	}
	s.flow = flow
	s.phases = phases
	return nil
}

type closingHandler struct {
	closed bool
}

func (h *closingHandler) Init(phase.Descriptor) error  { return nil }
func (h *closingHandler) Handle(*message.Message) error { return nil }
func (h *closingHandler) Close() error {
	h.closed = true
	return nil
}

func noop(*message.Message) error { return nil }

// tb is satisfied by both *testing.T and *rapid.T.
type tb interface {
	require.TestingT
	Helper()
}

func newRegistry(t tb) *registry.Registry {
	t.Helper()
	reg, err := registry.New(&registry.Declarations{
		Inbound:       []string{"Security", "Dispatch", "MessageProcessing"},
		Outbound:      []string{"MessageOut", "Security"},
		FaultInbound:  []string{"Security"},
		FaultOutbound: []string{"FaultOut"},
	})
	require.NoError(t, err)
	return reg
}

func newHolder(t tb, deps Dependencies) *PhaseHolder {
	t.Helper()
	if deps.Logger == nil {
		deps.Logger = logging.NopLogger()
	}
	h, err := New(newRegistry(t), deps)
	require.NoError(t, err)
	return h
}

func live(name, phaseName string) phase.Descriptor {
	return phase.Descriptor{Name: name, Phase: phaseName, Handler: phase.HandlerFunc(noop)}
}

func TestNewRequiresRegistry(t *testing.T) {
	_, err := New(nil, Dependencies{})
	require.Error(t, err)

	var cfgErr errspkg.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
	assert.ErrorIs(t, err, errspkg.ErrRegistryRequired)
}

func TestNewPopulatesEmptyPhases(t *testing.T) {
	h := newHolder(t, Dependencies{})

	assert.Equal(t, map[string][]string{
		"PreDispatch":       {},
		"Security":          {},
		"Dispatch":          {},
		"MessageProcessing": {},
	}, h.Phases(phase.Inbound))
	assert.Nil(t, h.Phases(phase.Flow(0)))
}

func TestAddHandlerRequiresSelectedFlow(t *testing.T) {
	h := newHolder(t, Dependencies{})

	_, ok := h.SelectedFlow()
	assert.False(t, ok)

	err := h.AddHandler(live("authN", "Security"))
	assert.ErrorIs(t, err, errspkg.ErrFlowNotSelected)
}

func TestSelectFlowRejectsUnknown(t *testing.T) {
	h := newHolder(t, Dependencies{})

	err := h.SelectFlow(phase.Flow(42))
	assert.ErrorIs(t, err, errspkg.ErrUnknownFlow)

	require.NoError(t, h.SelectFlow(phase.Outbound))
	f, ok := h.SelectedFlow()
	assert.True(t, ok)
	assert.Equal(t, phase.Outbound, f)
}

func TestServiceChainInPhaseOrder(t *testing.T) {
	sink := &captureSink{}
	h := newHolder(t, Dependencies{Sink: sink})

	require.NoError(t, h.SelectFlow(phase.Inbound))
	require.NoError(t, h.AddHandler(live("authN", "Security")))
	require.NoError(t, h.AddHandler(live("route", "Dispatch")))

	c, err := h.BuildServiceChain(phase.Inbound)
	require.NoError(t, err)

	assert.Equal(t, []string{"authN", "route"}, c.HandlerNames())
	assert.Equal(t, []string{"PreDispatch", "Security", "Dispatch", "MessageProcessing"}, c.PhaseNames())
	assert.Empty(t, c.Phases[0].Links)
	assert.Empty(t, c.Phases[3].Links)

	require.Equal(t, 1, sink.calls)
	assert.Equal(t, phase.Inbound, sink.flow)
	assert.Len(t, sink.phases, 4)
}

func TestServiceChainWithoutSink(t *testing.T) {
	h := newHolder(t, Dependencies{})
	require.NoError(t, h.AddHandlerTo(phase.Outbound, live("sign", "Security")))

	c, err := h.BuildServiceChain(phase.Outbound)
	require.NoError(t, err)
	assert.Equal(t, []string{"MessageOut", "Security", "PreDispatch"}, c.PhaseNames())
	assert.Equal(t, []string{"sign"}, c.HandlerNames())
}

func TestUnknownPhaseIsRejectedWithoutMutation(t *testing.T) {
	h := newHolder(t, Dependencies{})
	require.NoError(t, h.SelectFlow(phase.Inbound))
	before := h.Phases(phase.Inbound)

	err := h.AddHandler(live("bogus", "DoesNotExist"))
	require.Error(t, err)

	var resErr *errspkg.PhaseResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.ErrorIs(t, err, errspkg.ErrUnknownPhase)
	assert.Contains(t, err.Error(), "bogus")
	assert.Contains(t, err.Error(), "DoesNotExist")
	assert.Equal(t, before, h.Phases(phase.Inbound))
}

func TestAdmissionTrimsNames(t *testing.T) {
	h := newHolder(t, Dependencies{})

	require.NoError(t, h.AddHandlerTo(phase.Inbound, live(" authN ", " Security")))
	later := live("authZ", "Security ")
	later.Order = phase.Order{After: " authN"}
	require.NoError(t, h.AddHandlerTo(phase.Inbound, later))

	assert.Equal(t, []string{"authN", "authZ"}, h.Phases(phase.Inbound)["Security"])
}

func TestSecondFirstClaimFails(t *testing.T) {
	h := newHolder(t, Dependencies{})
	require.NoError(t, h.SelectFlow(phase.Inbound))

	first := live("a", "Security")
	first.Order = phase.Order{First: true}
	second := live("b", "Security")
	second.Order = phase.Order{First: true}

	require.NoError(t, h.AddHandler(first))
	err := h.AddHandler(second)
	assert.ErrorIs(t, err, errspkg.ErrSlotTaken)

	var resErr *errspkg.PhaseResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, "b", resErr.Handler)
	assert.Equal(t, "Security", resErr.Phase)
	assert.Equal(t, []string{"a"}, h.Phases(phase.Inbound)["Security"])
}

func TestBeforeMissingSiblingFails(t *testing.T) {
	h := newHolder(t, Dependencies{})
	d := live("late", "Dispatch")
	d.Order = phase.Order{Before: "ghost"}

	err := h.AddHandlerTo(phase.Inbound, d)
	assert.ErrorIs(t, err, errspkg.ErrUnknownSibling)
}

func TestFlowsAreIndependent(t *testing.T) {
	h := newHolder(t, Dependencies{})
	require.NoError(t, h.AddHandlerTo(phase.Inbound, live("authN", "Security")))
	require.NoError(t, h.AddHandlerTo(phase.FaultInbound, live("authN", "Security")))

	assert.Equal(t, []string{"authN"}, h.Phases(phase.Inbound)["Security"])
	assert.Equal(t, []string{"authN"}, h.Phases(phase.FaultInbound)["Security"])
	assert.Empty(t, h.Phases(phase.Outbound)["Security"])
}

func TestBuildSealsFlow(t *testing.T) {
	h := newHolder(t, Dependencies{})
	require.NoError(t, h.AddHandlerTo(phase.Inbound, live("authN", "Security")))

	_, err := h.BuildServiceChain(phase.Inbound)
	require.NoError(t, err)
	assert.True(t, h.Sealed(phase.Inbound))
	assert.False(t, h.Sealed(phase.Outbound))

	err = h.AddHandlerTo(phase.Inbound, live("late", "Dispatch"))
	assert.ErrorIs(t, err, errspkg.ErrFlowSealed)

	require.NoError(t, h.AddHandlerTo(phase.Outbound, live("sign", "Security")))
}

func TestFailedBuildDoesNotSeal(t *testing.T) {
	h := newHolder(t, Dependencies{})
	require.NoError(t, h.AddHandlerTo(phase.Inbound, phase.Descriptor{Name: "meta", Phase: "Security"}))

	_, err := h.BuildServiceChain(phase.Inbound)
	assert.ErrorIs(t, err, errspkg.ErrNotInstantiated)
	assert.False(t, h.Sealed(phase.Inbound))
}

func TestTransportChainInstantiatesAndDelivers(t *testing.T) {
	inst := factory.NewRegistry()
	var got params.Params
	inst.Register("log", func(p params.Params) (phase.Handler, error) {
		got = p
		return phase.HandlerFunc(noop), nil
	})

	h := newHolder(t, Dependencies{Instantiator: inst})
	require.NoError(t, h.AddHandlerTo(phase.Outbound, phase.Descriptor{
		Name:           "audit",
		Implementation: "log",
		Phase:          "MessageOut",
		Params:         params.New("level", "debug"),
	}))

	sink := &captureSink{}
	require.NoError(t, h.BuildTransportChain(sink, phase.Outbound))

	require.Equal(t, 1, sink.calls)
	assert.Equal(t, phase.Outbound, sink.flow)
	assert.Equal(t, "debug", got.String("level", ""))
	assert.Equal(t, "audit", sink.phases[0].Links[0].Name)
}

func TestTransportChainNeedsSink(t *testing.T) {
	h := newHolder(t, Dependencies{Instantiator: factory.NewRegistry()})

	err := h.BuildTransportChain(nil, phase.Inbound)
	assert.ErrorIs(t, err, errspkg.ErrSinkRequired)
	assert.False(t, h.Sealed(phase.Inbound))
}

func TestGlobalChainFallsBackToDefaultSink(t *testing.T) {
	sink := &captureSink{}
	h := newHolder(t, Dependencies{Sink: sink, Instantiator: factory.NewRegistry()})

	require.NoError(t, h.BuildGlobalChain(nil, phase.FaultOutbound))
	assert.Equal(t, 1, sink.calls)
	assert.Equal(t, phase.FaultOutbound, sink.flow)
}

func TestInstantiationFailureAbortsWithoutDelivery(t *testing.T) {
	inst := factory.NewRegistry()
	inst.Register("ok", func(params.Params) (phase.Handler, error) { return phase.HandlerFunc(noop), nil })

	h := newHolder(t, Dependencies{Instantiator: inst})
	require.NoError(t, h.AddHandlers(phase.Inbound,
		phase.Descriptor{Name: "fine", Implementation: "ok", Phase: "Security"},
		phase.Descriptor{Name: "broken", Implementation: "missing", Phase: "Dispatch"},
	))

	sink := &captureSink{}
	err := h.BuildGlobalChain(sink, phase.Inbound)
	require.Error(t, err)
	assert.ErrorIs(t, err, errspkg.ErrInstantiation)
	assert.Contains(t, err.Error(), "broken")
	assert.Zero(t, sink.calls)
}

func TestSinkRejectionReleasesHandlers(t *testing.T) {
	handler := &closingHandler{}
	inst := factory.NewRegistry()
	inst.RegisterHandler("closer", handler)

	h := newHolder(t, Dependencies{Instantiator: inst})
	require.NoError(t, h.AddHandlerTo(phase.Inbound, phase.Descriptor{Name: "c", Implementation: "closer", Phase: "Security"}))

	sink := &captureSink{err: errors.New("context is shutting down")}
	err := h.BuildGlobalChain(sink, phase.Inbound)
	assert.ErrorIs(t, err, errspkg.ErrSinkRejected)
	assert.True(t, handler.closed)
	assert.False(t, h.Sealed(phase.Inbound))
}

func TestGlobalAndServiceChainsAgree(t *testing.T) {
	descs := []phase.Descriptor{
		{Name: "authN", Implementation: "noop", Phase: "Security"},
		{Name: "authZ", Implementation: "noop", Phase: "Security", Order: phase.Order{After: "authN"}},
		{Name: "trace", Implementation: "noop", Phase: "PreDispatch", Order: phase.Order{First: true}},
		{Name: "route", Implementation: "noop", Phase: "Dispatch"},
		{Name: "guard", Implementation: "noop", Phase: "Security", Order: phase.Order{Before: "authN"}},
	}

	inst := factory.NewRegistry()
	inst.Register("noop", func(params.Params) (phase.Handler, error) { return phase.HandlerFunc(noop), nil })

	global := newHolder(t, Dependencies{Instantiator: inst})
	require.NoError(t, global.AddHandlers(phase.Inbound, descs...))
	sink := &captureSink{}
	require.NoError(t, global.BuildGlobalChain(sink, phase.Inbound))

	service := newHolder(t, Dependencies{})
	for _, d := range descs {
		d.Handler = phase.HandlerFunc(noop)
		require.NoError(t, service.AddHandlerTo(phase.Inbound, d))
	}
	c, err := service.BuildServiceChain(phase.Inbound)
	require.NoError(t, err)

	delivered := chain.Chain{Flow: phase.Inbound, Phases: sink.phases}
	assert.Equal(t, delivered.HandlerNames(), c.HandlerNames())
	assert.Equal(t, []string{"trace", "guard", "authN", "authZ", "route"}, c.HandlerNames())
}

func TestPlanSealsAndDescribes(t *testing.T) {
	h := newHolder(t, Dependencies{})
	require.NoError(t, h.AddHandlerTo(phase.Inbound, phase.Descriptor{Name: "authN", Implementation: "jwt", Phase: "Security"}))

	plan, err := h.Plan(phase.Inbound)
	require.NoError(t, err)
	assert.Equal(t, "inbound", plan.Flow)
	assert.Equal(t, []string{"authN"}, plan.HandlerNames())
	assert.True(t, h.Sealed(phase.Inbound))

	_, err = h.Plan(phase.Flow(9))
	assert.ErrorIs(t, err, errspkg.ErrUnknownFlow)
}

func TestMetricsAndHooksObserveBuilds(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	require.NoError(t, m.Register())

	var started, done int
	hooks := chain.BuildHooks{
		OnBuildStart: func(chain.BuildContext) { started++ },
		OnBuildDone: func(ctx chain.BuildContext) {
			done++
			assert.Equal(t, "orders", ctx.Consumer)
			assert.NotEmpty(t, ctx.BuildID)
		},
	}

	h := newHolder(t, Dependencies{Name: "orders", Metrics: m, Hooks: hooks})
	require.NoError(t, h.AddHandlerTo(phase.Inbound, live("authN", "Security")))
	require.Error(t, h.AddHandlerTo(phase.Inbound, live("bogus", "Nowhere")))

	_, err := h.BuildServiceChain(phase.Inbound)
	require.NoError(t, err)

	assert.Equal(t, 1, started)
	assert.Equal(t, 1, done)
	assert.Equal(t, 1, testutil.CollectAndCount(reg, "phaseflow_holder_admissions_total"))
	assert.Equal(t, 1, testutil.CollectAndCount(reg, "phaseflow_holder_admission_failures_total"))
	assert.Equal(t, 1, testutil.CollectAndCount(reg, "phaseflow_chain_builds_total"))
}

func TestBuildIsDeterministic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		names := []string{"PreDispatch", "Security", "Dispatch", "MessageProcessing"}
		n := rapid.IntRange(0, 12).Draw(rt, "handlers")

		var descs []phase.Descriptor
		for i := 0; i < n; i++ {
			d := live(fmt.Sprintf("h%d", i), rapid.SampledFrom(names).Draw(rt, "phase"))
			if i > 0 && rapid.Bool().Draw(rt, "constrained") {
				sibling := descs[rapid.IntRange(0, len(descs)-1).Draw(rt, "sibling")]
				if sibling.Phase == d.Phase {
					if rapid.Bool().Draw(rt, "before") {
						d.Order.Before = sibling.Name
					} else {
						d.Order.After = sibling.Name
					}
				}
			}
			descs = append(descs, d)
		}

		build := func() ([]string, []error) {
			h := newHolder(rt, Dependencies{})
			var errs []error
			for _, d := range descs {
				errs = append(errs, h.AddHandlerTo(phase.Inbound, d))
			}
			c, err := h.BuildServiceChain(phase.Inbound)
			require.NoError(rt, err)
			return c.HandlerNames(), errs
		}

		first, firstErrs := build()
		second, secondErrs := build()
		require.Equal(rt, first, second)
		require.Equal(rt, len(firstErrs), len(secondErrs))
		for i := range firstErrs {
			require.Equal(rt, firstErrs[i] == nil, secondErrs[i] == nil)
		}
	})
}

func TestUnknownPhaseNeverCreated(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		h := newHolder(rt, Dependencies{})
		f := rapid.SampledFrom(phase.Flows).Draw(rt, "flow")
		name := rapid.StringMatching(`[A-Z][a-zA-Z]{0,12}`).Draw(rt, "phase")
		if h.registry.Has(f, name) {
			return
		}

		err := h.AddHandlerTo(f, live("h", name))
		require.ErrorIs(rt, err, errspkg.ErrUnknownPhase)
		_, exists := h.Phases(f)[name]
		require.False(rt, exists)
	})
}
