// Package sink provides the consumers that receive built chains: a service
// context, a transport descriptor and the engine context. Each keeps the last
// chain delivered per flow and is safe for concurrent readers.
package sink

import (
	"errors"
	"fmt"
	"sync"

	"github.com/drblury/phaseflow/internal/runtime/chain"
	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
	"github.com/drblury/phaseflow/internal/runtime/phase"
)

type store struct {
	mu     sync.RWMutex
	chains map[phase.Flow]chain.Chain
	closed bool
	// owned stores close the handlers of chains they replace or drop.
	owned bool
}

func (s *store) set(phases []chain.Phase, flow phase.Flow) error {
	if !flow.Valid() {
		return fmt.Errorf("%w: %s", errspkg.ErrUnknownFlow, flow)
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errClosed
	}
	if s.chains == nil {
		s.chains = make(map[phase.Flow]chain.Chain, len(phase.Flows))
	}
	old, replaced := s.chains[flow]
	s.chains[flow] = chain.Chain{Flow: flow, Phases: phases}
	s.mu.Unlock()

	if replaced && s.owned {
		chain.Release(old)
	}
	return nil
}

func (s *store) get(flow phase.Flow) (chain.Chain, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chains[flow]
	return c, ok
}

func (s *store) flows() []phase.Flow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]phase.Flow, 0, len(s.chains))
	for _, f := range phase.Flows {
		if _, ok := s.chains[f]; ok {
			out = append(out, f)
		}
	}
	return out
}

// close releases every owned handler and refuses further deliveries.
func (s *store) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.owned {
		for _, c := range s.chains {
			chain.Release(c)
		}
	}
	s.chains = nil
}

var errClosed = errors.New("phaseflow: sink is closed")

// ServiceContext receives the service-level chains of one deployed service.
type ServiceContext struct {
	name string
	store
}

var _ chain.Sink = (*ServiceContext)(nil)

// NewServiceContext returns an empty context for the named service.
func NewServiceContext(name string) *ServiceContext {
	return &ServiceContext{name: name}
}

func (s *ServiceContext) Name() string { return s.name }

func (s *ServiceContext) SetPhases(phases []chain.Phase, flow phase.Flow) error {
	return s.set(phases, flow)
}

// Chain returns the chain delivered for flow, if any.
func (s *ServiceContext) Chain(flow phase.Flow) (chain.Chain, bool) { return s.get(flow) }

// Flows lists the flows with a delivered chain, in flow order.
func (s *ServiceContext) Flows() []phase.Flow { return s.flows() }

// Close drops the delivered chains. Service handlers are owned by the service,
// so they are not closed here.
func (s *ServiceContext) Close() error {
	s.close()
	return nil
}

// TransportDescriptor receives the chains of one transport, such as an HTTP
// listener or a message queue receiver.
type TransportDescriptor struct {
	name string
	store
}

var _ chain.Sink = (*TransportDescriptor)(nil)

func NewTransportDescriptor(name string) *TransportDescriptor {
	return &TransportDescriptor{name: name, store: store{owned: true}}
}

func (t *TransportDescriptor) Name() string { return t.name }

func (t *TransportDescriptor) SetPhases(phases []chain.Phase, flow phase.Flow) error {
	return t.set(phases, flow)
}

func (t *TransportDescriptor) Chain(flow phase.Flow) (chain.Chain, bool) { return t.get(flow) }

func (t *TransportDescriptor) Flows() []phase.Flow { return t.flows() }

// Close releases the instantiated transport handlers. A later delivery for a
// flow releases the handlers of the chain it replaces.
func (t *TransportDescriptor) Close() error {
	t.close()
	return nil
}

// EngineContext receives the engine-wide global chains.
type EngineContext struct {
	store
}

var _ chain.Sink = (*EngineContext)(nil)

func NewEngineContext() *EngineContext {
	return &EngineContext{store: store{owned: true}}
}

func (e *EngineContext) SetPhases(phases []chain.Phase, flow phase.Flow) error {
	return e.set(phases, flow)
}

func (e *EngineContext) Chain(flow phase.Flow) (chain.Chain, bool) { return e.get(flow) }

func (e *EngineContext) Flows() []phase.Flow { return e.flows() }

// Close releases the instantiated global handlers.
func (e *EngineContext) Close() error {
	e.close()
	return nil
}
