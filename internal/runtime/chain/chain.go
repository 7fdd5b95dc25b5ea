// Package chain flattens a flow's ordered phases into an executable handler
// chain. One algorithm serves every consumer; the Target decides whether
// handlers are built from their implementation reference or taken as already
// live, and a Sink receives the result.
package chain

import (
	"fmt"
	"io"
	"reflect"
	"slices"

	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
	"github.com/drblury/phaseflow/internal/runtime/params"
	"github.com/drblury/phaseflow/internal/runtime/phase"
)

// Target identifies the consumer a chain is built for.
type Target int

const (
	// TargetService chains reuse the live handler carried by each descriptor.
	TargetService Target = iota + 1
	// TargetTransport chains instantiate handlers for a transport activation.
	TargetTransport
	// TargetGlobal chains instantiate handlers for the engine-wide context.
	TargetGlobal
)

func (t Target) String() string {
	switch t {
	case TargetService:
		return "service"
	case TargetTransport:
		return "transport"
	case TargetGlobal:
		return "global"
	default:
		return fmt.Sprintf("target(%d)", int(t))
	}
}

// Instantiates reports whether chains for t build their own handler instances.
func (t Target) Instantiates() bool {
	return t == TargetTransport || t == TargetGlobal
}

// Instantiator turns an implementation reference into a live handler.
type Instantiator interface {
	Instantiate(implementation string, p params.Params) (phase.Handler, error)
}

// InstantiatorFunc adapts a function to Instantiator.
type InstantiatorFunc func(implementation string, p params.Params) (phase.Handler, error)

func (f InstantiatorFunc) Instantiate(implementation string, p params.Params) (phase.Handler, error) {
	return f(implementation, p)
}

// Sink receives the built phases of exactly one flow per call.
type Sink interface {
	SetPhases(phases []Phase, flow phase.Flow) error
}

// Link is one handler of a built chain.
type Link struct {
	Name           string
	Implementation string
	Handler        phase.Handler
}

// Phase is a built phase. Empty phases are kept so consumers can attribute
// work and failures to phase boundaries.
type Phase struct {
	Name  string
	Links []Link
}

// Chain is the ordered, phase-grouped handler sequence of one flow.
type Chain struct {
	Flow   phase.Flow
	Phases []Phase
}

// Len returns the number of handlers across all phases.
func (c Chain) Len() int {
	n := 0
	for _, p := range c.Phases {
		n += len(p.Links)
	}
	return n
}

// PhaseNames returns the phase boundaries in order.
func (c Chain) PhaseNames() []string {
	names := make([]string, len(c.Phases))
	for i, p := range c.Phases {
		names[i] = p.Name
	}
	return names
}

// HandlerNames returns the flattened handler names in execution order.
func (c Chain) HandlerNames() []string {
	names := make([]string, 0, c.Len())
	for _, p := range c.Phases {
		for _, l := range p.Links {
			names = append(names, l.Name)
		}
	}
	return names
}

// Handlers returns the flattened live handlers in execution order.
func (c Chain) Handlers() []phase.Handler {
	handlers := make([]phase.Handler, 0, c.Len())
	for _, p := range c.Phases {
		for _, l := range p.Links {
			handlers = append(handlers, l.Handler)
		}
	}
	return handlers
}

// DeliverTo hands a copy of the phases to s.
func (c Chain) DeliverTo(s Sink) error {
	if s == nil {
		return errspkg.NewPhaseResolutionError(c.Flow.String(), "", "", errspkg.ErrSinkRequired, nil)
	}
	if err := s.SetPhases(clonePhases(c.Phases), c.Flow); err != nil {
		return errspkg.NewPhaseResolutionError(c.Flow.String(), "", "", errspkg.ErrSinkRejected, err)
	}
	return nil
}

// Build flattens phases for target. It stops at the first failure and never
// returns a partial chain; handlers it already built are closed if they
// implement io.Closer.
func Build(flow phase.Flow, phases []*phase.Phase, target Target, inst Instantiator) (Chain, error) {
	if target.Instantiates() && inst == nil {
		return Chain{}, errspkg.NewPhaseResolutionError(flow.String(), "", "", errspkg.ErrInstantiation,
			fmt.Errorf("no instantiator configured for %s chains", target))
	}

	built := Chain{Flow: flow, Phases: make([]Phase, 0, len(phases))}
	for _, p := range phases {
		bp := Phase{Name: p.Name(), Links: make([]Link, 0, p.Len())}
		for _, desc := range p.Descriptors() {
			h, err := resolve(desc, target, inst)
			if err != nil {
				if target.Instantiates() {
					release(built, bp)
				}
				return Chain{}, errspkg.NewPhaseResolutionError(flow.String(), p.Name(), desc.Name, reasonOf(err), causeOf(err))
			}
			bp.Links = append(bp.Links, Link{Name: desc.Name, Implementation: desc.Implementation, Handler: h})
		}
		built.Phases = append(built.Phases, bp)
	}
	return built, nil
}

type buildFailure struct {
	reason error
	cause  error
}

func (b *buildFailure) Error() string { return b.reason.Error() }

func reasonOf(err error) error {
	if bf, ok := err.(*buildFailure); ok {
		return bf.reason
	}
	return errspkg.ErrInstantiation
}

func causeOf(err error) error {
	if bf, ok := err.(*buildFailure); ok {
		return bf.cause
	}
	return err
}

func resolve(desc phase.Descriptor, target Target, inst Instantiator) (phase.Handler, error) {
	if !target.Instantiates() {
		if desc.Handler == nil {
			return nil, &buildFailure{reason: errspkg.ErrNotInstantiated}
		}
		return desc.Handler, nil
	}

	h, err := instantiate(inst, desc)
	if err != nil {
		return nil, &buildFailure{reason: errspkg.ErrInstantiation, cause: err}
	}
	if err := initialize(h, desc); err != nil {
		closeHandler(h)
		return nil, &buildFailure{reason: errspkg.ErrInstantiation, cause: err}
	}
	return h, nil
}

func instantiate(inst Instantiator, desc phase.Descriptor) (h phase.Handler, err error) {
	defer func() {
		if r := recover(); r != nil {
			h, err = nil, fmt.Errorf("constructing %q panicked: %v", desc.Implementation, r)
		}
	}()

	h, err = inst.Instantiate(desc.Implementation, desc.Params.Clone())
	if err != nil {
		return nil, err
	}
	if isNil(h) {
		return nil, fmt.Errorf("implementation %q produced no handler", desc.Implementation)
	}
	return h, nil
}

// isNil also catches a nil pointer wrapped in the Handler interface.
func isNil(h phase.Handler) bool {
	if h == nil {
		return true
	}
	v := reflect.ValueOf(h)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Func, reflect.Chan, reflect.Slice, reflect.Interface:
		return v.IsNil()
	}
	return false
}

func initialize(h phase.Handler, desc phase.Descriptor) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("initializing %q panicked: %v", desc.Name, r)
		}
	}()

	own := desc
	own.Params = desc.Params.Clone()
	own.Handler = nil
	return h.Init(own)
}

func release(done Chain, current Phase) {
	Release(done)
	for _, l := range current.Links {
		closeHandler(l.Handler)
	}
}

// Release closes every handler of c that implements io.Closer. Callers use it
// to discard an instantiated chain that will not be delivered.
func Release(c Chain) {
	for _, p := range c.Phases {
		for _, l := range p.Links {
			closeHandler(l.Handler)
		}
	}
}

func closeHandler(h phase.Handler) {
	if c, ok := h.(io.Closer); ok {
		_ = c.Close()
	}
}

func clonePhases(phases []Phase) []Phase {
	out := make([]Phase, len(phases))
	for i, p := range phases {
		out[i] = Phase{Name: p.Name, Links: slices.Clone(p.Links)}
	}
	return out
}
