// Package holder implements the phase holder: a consumer's private working copy
// of the registry's phase lists, into which handler descriptors are admitted
// by phase name and from which chains are built.
//
// A PhaseHolder belongs to the activation that created it (one service, one
// transport, or the engine) and is not safe for concurrent use.
package holder

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/phaseflow/internal/runtime/chain"
	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
	"github.com/drblury/phaseflow/internal/runtime/factory"
	"github.com/drblury/phaseflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/phaseflow/internal/runtime/logging"
	"github.com/drblury/phaseflow/internal/runtime/metrics"
	"github.com/drblury/phaseflow/internal/runtime/phase"
	"github.com/drblury/phaseflow/internal/runtime/registry"
)

const tracerName = "github.com/drblury/phaseflow/holder"

// Dependencies holds the optional collaborators of a PhaseHolder. Leave
// fields zero to use the defaults.
type Dependencies struct {
	// Name identifies the consumer in logs, metrics and spans.
	Name string
	// Sink is the default sink. Service chains are delivered to it, and
	// transport or global builds fall back to it when called with a nil sink.
	Sink chain.Sink
	// Instantiator builds handlers for transport and global chains. Defaults
	// to factory.DefaultRegistry.
	Instantiator chain.Instantiator
	// Logger defaults to slog.Default().
	Logger  loggingpkg.Logger
	Hooks   chain.BuildHooks
	Metrics *metrics.Metrics
	// Tracer defaults to the global OpenTelemetry tracer provider.
	Tracer trace.Tracer
}

type flowState struct {
	phases []*phase.Phase
	sealed bool
}

// PhaseHolder accepts handler descriptors for the four flows and builds
// their chains.
type PhaseHolder struct {
	registry     *registry.Registry
	name         string
	sink         chain.Sink
	instantiator chain.Instantiator
	logger       loggingpkg.Logger
	hooks        chain.BuildHooks
	metrics      *metrics.Metrics
	tracer       trace.Tracer

	flows   map[phase.Flow]*flowState
	current phase.Flow
}

// New creates a holder with an empty phase for every name the registry
// declares in every flow.
func New(reg *registry.Registry, deps Dependencies) (*PhaseHolder, error) {
	if reg == nil {
		return nil, errspkg.NewConfigurationError(errspkg.ErrRegistryRequired)
	}

	h := &PhaseHolder{
		registry:     reg,
		name:         deps.Name,
		sink:         deps.Sink,
		instantiator: deps.Instantiator,
		hooks:        deps.Hooks.Merge(deps.Metrics.Hooks()),
		metrics:      deps.Metrics,
		tracer:       deps.Tracer,
		flows:        make(map[phase.Flow]*flowState, len(phase.Flows)),
	}
	if h.instantiator == nil {
		h.instantiator = factory.DefaultRegistry
	}
	if h.tracer == nil {
		h.tracer = otel.Tracer(tracerName)
	}
	h.logger = loggingpkg.OrDefault(deps.Logger)
	if h.name != "" {
		h.logger = h.logger.With(loggingpkg.LogFields{"consumer": h.name})
	}

	for _, f := range phase.Flows {
		names := reg.Phases(f)
		state := &flowState{phases: make([]*phase.Phase, len(names))}
		for i, name := range names {
			state.phases[i] = phase.New(name)
		}
		h.flows[f] = state
	}
	return h, nil
}

// Name returns the consumer name given in Dependencies.
func (h *PhaseHolder) Name() string { return h.name }

// SelectFlow makes f the flow used by AddHandler.
func (h *PhaseHolder) SelectFlow(f phase.Flow) error {
	if !f.Valid() {
		return errspkg.NewPhaseResolutionError(f.String(), "", "", errspkg.ErrUnknownFlow, nil)
	}
	h.current = f
	return nil
}

// SelectedFlow returns the flow chosen by SelectFlow, if any.
func (h *PhaseHolder) SelectedFlow() (phase.Flow, bool) {
	return h.current, h.current.Valid()
}

// AddHandler admits desc into the selected flow.
func (h *PhaseHolder) AddHandler(desc phase.Descriptor) error {
	if !h.current.Valid() {
		err := errspkg.NewPhaseResolutionError("", desc.Phase, desc.Name, errspkg.ErrFlowNotSelected, nil)
		h.rejected("", desc, err)
		return err
	}
	return h.AddHandlerTo(h.current, desc)
}

// AddHandlerTo admits desc into flow f. The descriptor's phase must be
// declared in f; unknown phases are rejected, never created. On error no
// phase is modified.
func (h *PhaseHolder) AddHandlerTo(f phase.Flow, desc phase.Descriptor) error {
	desc = desc.Normalize()
	state, ok := h.flows[f]
	if !ok {
		err := errspkg.NewPhaseResolutionError(f.String(), desc.Phase, desc.Name, errspkg.ErrUnknownFlow, nil)
		h.rejected(f.String(), desc, err)
		return err
	}
	if err := desc.Validate(); err != nil {
		resErr := errspkg.NewPhaseResolutionError(f.String(), desc.Phase, desc.Name, err, nil)
		h.rejected(f.String(), desc, resErr)
		return resErr
	}
	if state.sealed {
		err := errspkg.NewPhaseResolutionError(f.String(), desc.Phase, desc.Name, errspkg.ErrFlowSealed, nil)
		h.rejected(f.String(), desc, err)
		return err
	}

	target := findPhase(state.phases, desc.Phase)
	if target == nil {
		err := errspkg.NewPhaseResolutionError(f.String(), desc.Phase, desc.Name, errspkg.ErrUnknownPhase, nil)
		h.rejected(f.String(), desc, err)
		return err
	}
	if err := target.Add(desc); err != nil {
		resErr := &errspkg.PhaseResolutionError{Flow: f.String(), Phase: desc.Phase, Handler: desc.Name, Err: err}
		h.rejected(f.String(), desc, resErr)
		return resErr
	}

	h.metrics.ObserveAdmission(f.String(), desc.Phase)
	h.logger.Debug("Handler admitted", loggingpkg.LogFields{
		"flow":    f.String(),
		"phase":   desc.Phase,
		"handler": desc.Name,
		"order":   desc.Order.String(),
	})
	return nil
}

// AddHandlers admits descs into f in order, stopping at the first failure.
func (h *PhaseHolder) AddHandlers(f phase.Flow, descs ...phase.Descriptor) error {
	for _, d := range descs {
		if err := h.AddHandlerTo(f, d); err != nil {
			return err
		}
	}
	return nil
}

func (h *PhaseHolder) rejected(flow string, desc phase.Descriptor, err error) {
	h.metrics.ObserveAdmissionFailure(flow, err)
	h.logger.Error("Handler rejected", err, loggingpkg.LogFields{
		"flow":    flow,
		"phase":   desc.Phase,
		"handler": desc.Name,
	})
}

func findPhase(phases []*phase.Phase, name string) *phase.Phase {
	for _, p := range phases {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// Phases returns the phase names of flow f with their current handler names.
func (h *PhaseHolder) Phases(f phase.Flow) map[string][]string {
	state, ok := h.flows[f]
	if !ok {
		return nil
	}
	out := make(map[string][]string, len(state.phases))
	for _, p := range state.phases {
		out[p.Name()] = p.HandlerNames()
	}
	return out
}

// Sealed reports whether a chain or plan has been built for f.
func (h *PhaseHolder) Sealed(f phase.Flow) bool {
	state, ok := h.flows[f]
	return ok && state.sealed
}

// Plan resolves f without building handlers.
func (h *PhaseHolder) Plan(f phase.Flow) (chain.Plan, error) {
	state, ok := h.flows[f]
	if !ok {
		return chain.Plan{}, errspkg.NewPhaseResolutionError(f.String(), "", "", errspkg.ErrUnknownFlow, nil)
	}
	state.sealed = true
	return chain.NewPlan(f, state.phases), nil
}

// BuildServiceChain returns the chain of f built from the live handlers on
// each descriptor. The chain is also delivered to the default sink, if any.
func (h *PhaseHolder) BuildServiceChain(f phase.Flow) (chain.Chain, error) {
	return h.build(f, chain.TargetService, h.sink, false)
}

// BuildTransportChain instantiates the handlers of f and delivers the chain
// to sink, or to the default sink when sink is nil.
func (h *PhaseHolder) BuildTransportChain(sink chain.Sink, f phase.Flow) error {
	_, err := h.build(f, chain.TargetTransport, h.sinkOrDefault(sink), true)
	return err
}

// BuildGlobalChain instantiates the handlers of f and delivers the chain to
// the engine-wide sink, or to the default sink when sink is nil.
func (h *PhaseHolder) BuildGlobalChain(sink chain.Sink, f phase.Flow) error {
	_, err := h.build(f, chain.TargetGlobal, h.sinkOrDefault(sink), true)
	return err
}

func (h *PhaseHolder) sinkOrDefault(sink chain.Sink) chain.Sink {
	if sink != nil {
		return sink
	}
	return h.sink
}

func (h *PhaseHolder) build(f phase.Flow, target chain.Target, sink chain.Sink, sinkRequired bool) (chain.Chain, error) {
	state, ok := h.flows[f]
	if !ok {
		return chain.Chain{}, errspkg.NewPhaseResolutionError(f.String(), "", "", errspkg.ErrUnknownFlow, nil)
	}
	if sinkRequired && sink == nil {
		return chain.Chain{}, errspkg.NewPhaseResolutionError(f.String(), "", "", errspkg.ErrSinkRequired, nil)
	}

	buildID := ids.NewBuildID()
	ctx, span := h.tracer.Start(context.Background(), "phaseflow.BuildChain",
		trace.WithAttributes(
			attribute.String("phaseflow.build_id", buildID),
			attribute.String("phaseflow.consumer", h.name),
			attribute.String("phaseflow.flow", f.String()),
			attribute.String("phaseflow.target", target.String()),
		),
	)
	defer span.End()

	fields := loggingpkg.LogFields{
		"build_id": buildID,
		"flow":     f.String(),
		"target":   target.String(),
	}

	bctx := chain.BuildContext{
		BuildID:   buildID,
		Consumer:  h.name,
		Flow:      f,
		Target:    target,
		Context:   ctx,
		StartedAt: time.Now(),
	}
	built, err := h.hooks.Observe(bctx, func() (chain.Chain, error) {
		c, err := chain.Build(f, state.phases, target, h.instantiator)
		if err != nil {
			return chain.Chain{}, err
		}
		if sink != nil {
			if err := c.DeliverTo(sink); err != nil {
				if target.Instantiates() {
					chain.Release(c)
				}
				return chain.Chain{}, err
			}
		}
		return c, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.logger.Error("Chain build failed", err, fields)
		return chain.Chain{}, err
	}

	state.sealed = true
	span.SetAttributes(attribute.Int("phaseflow.handlers", built.Len()))
	fields["handlers"] = built.Len()
	fields["phases"] = len(built.Phases)
	h.logger.Info("Chain built", fields)
	return built, nil
}
