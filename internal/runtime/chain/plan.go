package chain

import (
	"github.com/drblury/phaseflow/internal/runtime/params"
	"github.com/drblury/phaseflow/internal/runtime/phase"
)

// Plan is the resolved descriptor order of a flow, without live handlers.
type Plan struct {
	Flow   string        `json:"flow" yaml:"flow"`
	Phases []PlannedPhase `json:"phases" yaml:"phases"`
}

// PlannedPhase is one phase boundary of a Plan.
type PlannedPhase struct {
	Name     string           `json:"name" yaml:"name"`
	Handlers []PlannedHandler `json:"handlers" yaml:"handlers"`
}

// PlannedHandler describes one resolved handler.
type PlannedHandler struct {
	Name           string        `json:"name" yaml:"name"`
	Implementation string        `json:"implementation,omitempty" yaml:"implementation,omitempty"`
	Order          string        `json:"order" yaml:"order"`
	Params         params.Params `json:"params,omitempty" yaml:"params,omitempty"`
}

// NewPlan captures the current order of phases.
func NewPlan(flow phase.Flow, phases []*phase.Phase) Plan {
	plan := Plan{Flow: flow.String(), Phases: make([]PlannedPhase, 0, len(phases))}
	for _, p := range phases {
		pp := PlannedPhase{Name: p.Name(), Handlers: make([]PlannedHandler, 0, p.Len())}
		for _, d := range p.Descriptors() {
			var ps params.Params
			if len(d.Params) > 0 {
				ps = d.Params.Clone()
			}
			pp.Handlers = append(pp.Handlers, PlannedHandler{
				Name:           d.Name,
				Implementation: d.Implementation,
				Order:          d.Order.String(),
				Params:         ps,
			})
		}
		plan.Phases = append(plan.Phases, pp)
	}
	return plan
}

// HandlerNames returns the flattened handler names in execution order.
func (p Plan) HandlerNames() []string {
	var names []string
	for _, ph := range p.Phases {
		for _, h := range ph.Handlers {
			names = append(names, h.Name)
		}
	}
	return names
}
