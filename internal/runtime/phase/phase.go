// Package phase provides the ordering primitives of a handler chain: flows,
// handler descriptors, and the named phases that hold them.
package phase

import (
	"fmt"
	"slices"

	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
)

// Phase is a named, ordered bucket of handler descriptors. The zero value is
// not usable; call New.
type Phase struct {
	name     string
	handlers []Descriptor
	hasFirst bool
	hasLast  bool
}

// New returns an empty phase.
func New(name string) *Phase {
	return &Phase{name: name}
}

func (p *Phase) Name() string { return p.name }

func (p *Phase) Len() int { return len(p.handlers) }

// Descriptors returns the handlers in resolved order.
func (p *Phase) Descriptors() []Descriptor {
	return slices.Clone(p.handlers)
}

// HandlerNames returns the handler names in resolved order.
func (p *Phase) HandlerNames() []string {
	names := make([]string, len(p.handlers))
	for i, h := range p.handlers {
		names[i] = h.Name
	}
	return names
}

// Add places desc according to its Order. On error the phase is unchanged.
func (p *Phase) Add(desc Descriptor) error {
	if desc.Name == "" {
		return errspkg.ErrHandlerNameRequired
	}
	if err := desc.Order.validate(desc.Name); err != nil {
		return err
	}
	if p.index(desc.Name) >= 0 {
		return errspkg.ErrDuplicateHandler
	}

	pos, err := p.position(desc.Order)
	if err != nil {
		return err
	}

	p.handlers = slices.Insert(p.handlers, pos, desc)
	if desc.Order.First {
		p.hasFirst = true
	}
	if desc.Order.Last {
		p.hasLast = true
	}
	return nil
}

// bounds returns the range of insertion indexes not reserved by a first or
// last handler.
func (p *Phase) bounds() (lo, hi int) {
	hi = len(p.handlers)
	if p.hasFirst {
		lo = 1
	}
	if p.hasLast {
		hi--
	}
	return lo, hi
}

func (p *Phase) position(o Order) (int, error) {
	switch {
	case o.First && o.Last:
		if len(p.handlers) > 0 {
			return 0, fmt.Errorf("%w: a handler that is both first and last must be alone in the phase", errspkg.ErrSlotTaken)
		}
		return 0, nil
	case o.First:
		if p.hasFirst {
			return 0, fmt.Errorf("%w: first is held by %q", errspkg.ErrSlotTaken, p.handlers[0].Name)
		}
		return 0, nil
	case o.Last:
		if p.hasLast {
			return 0, fmt.Errorf("%w: last is held by %q", errspkg.ErrSlotTaken, p.handlers[len(p.handlers)-1].Name)
		}
		return len(p.handlers), nil
	}

	lo, hi := p.bounds()
	pos := hi
	if o.After != "" {
		idx := p.index(o.After)
		if idx < 0 {
			return 0, fmt.Errorf("%w: after %q", errspkg.ErrUnknownSibling, o.After)
		}
		pos = idx + 1
	}
	if o.Before != "" {
		idx := p.index(o.Before)
		if idx < 0 {
			return 0, fmt.Errorf("%w: before %q", errspkg.ErrUnknownSibling, o.Before)
		}
		if o.After == "" {
			pos = idx
		} else if pos > idx {
			return 0, fmt.Errorf("%w: %q does not precede %q", errspkg.ErrConflictingOrder, o.After, o.Before)
		}
	}

	if pos < lo {
		return 0, fmt.Errorf("%w: cannot place before the phase-first handler %q", errspkg.ErrSlotTaken, p.handlers[0].Name)
	}
	if pos > hi {
		return 0, fmt.Errorf("%w: cannot place after the phase-last handler %q", errspkg.ErrSlotTaken, p.handlers[len(p.handlers)-1].Name)
	}
	return pos, nil
}

func (p *Phase) index(name string) int {
	for i, h := range p.handlers {
		if h.Name == name {
			return i
		}
	}
	return -1
}
