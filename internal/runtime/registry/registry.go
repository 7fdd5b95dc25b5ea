// Package registry holds the system-wide phase order of each flow. A Registry
// is built once at startup and is read-only afterwards, so any number of phase
// holders may read it concurrently.
package registry

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
	"github.com/drblury/phaseflow/internal/runtime/phase"
)

// PreDispatch is the reserved phase every flow carries at its message-facing
// boundary so dispatch-critical system handlers run at a fixed point.
const PreDispatch = "PreDispatch"

// Declarations are the globally configured phase names per flow, without the
// reserved PreDispatch phase.
type Declarations struct {
	Inbound       []string
	Outbound      []string
	FaultInbound  []string
	FaultOutbound []string
}

// Of returns the declared names for flow f.
func (d Declarations) Of(f phase.Flow) []string {
	switch f {
	case phase.Inbound:
		return d.Inbound
	case phase.Outbound:
		return d.Outbound
	case phase.FaultInbound:
		return d.FaultInbound
	case phase.FaultOutbound:
		return d.FaultOutbound
	}
	return nil
}

// Registry is the canonical list of phase names for each flow.
type Registry struct {
	flows map[phase.Flow][]string
}

// New validates decl and builds the four flow lists, adding PreDispatch at
// the leading boundary of receiving flows and the trailing boundary of
// sending flows. Every failure is a ConfigurationError.
func New(decl *Declarations) (*Registry, error) {
	if decl == nil {
		return nil, errspkg.NewConfigurationError(errspkg.ErrConfigRequired)
	}

	empty := true
	for _, f := range phase.Flows {
		if len(decl.Of(f)) > 0 {
			empty = false
			break
		}
	}
	if empty {
		return nil, errspkg.NewConfigurationError(fmt.Errorf("%w: no phases declared for any flow", errspkg.ErrConfigRequired))
	}

	r := &Registry{flows: make(map[phase.Flow][]string, len(phase.Flows))}
	var errs []error
	for _, f := range phase.Flows {
		names, err := withPreDispatch(f, decl.Of(f))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s flow: %w", f, err))
			continue
		}
		r.flows[f] = names
	}
	if err := errors.Join(errs...); err != nil {
		return nil, errspkg.NewConfigurationError(err)
	}
	return r, nil
}

func withPreDispatch(f phase.Flow, declared []string) ([]string, error) {
	names := make([]string, 0, len(declared)+1)
	seen := make(map[string]struct{}, len(declared)+1)
	var errs []error

	for i, raw := range declared {
		name := strings.TrimSpace(raw)
		if name == "" {
			errs = append(errs, fmt.Errorf("phase #%d: %w", i+1, errspkg.ErrPhaseNameRequired))
			continue
		}
		if _, dup := seen[name]; dup {
			errs = append(errs, fmt.Errorf("phase %q is declared more than once", name))
			continue
		}
		if name == PreDispatch {
			atBoundary := (f.ReceivesMessages() && i == 0) || (!f.ReceivesMessages() && i == len(declared)-1)
			if !atBoundary {
				errs = append(errs, fmt.Errorf("reserved phase %q may only be declared at the %s boundary", PreDispatch, boundary(f)))
			}
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if f.ReceivesMessages() {
		return append([]string{PreDispatch}, names...), nil
	}
	return append(names, PreDispatch), nil
}

func boundary(f phase.Flow) string {
	if f.ReceivesMessages() {
		return "leading"
	}
	return "trailing"
}

// Phases returns a copy of the ordered phase names of flow f, or nil for an
// unknown flow.
func (r *Registry) Phases(f phase.Flow) []string {
	return slices.Clone(r.flows[f])
}

// Has reports whether flow f declares a phase called name.
func (r *Registry) Has(f phase.Flow, name string) bool {
	return slices.Contains(r.flows[f], name)
}
