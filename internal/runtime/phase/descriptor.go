package phase

import (
	"fmt"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
	"github.com/drblury/phaseflow/internal/runtime/params"
)

// Handler is one live processing step. Init receives the descriptor the
// handler was built from before the handler joins a chain.
type Handler interface {
	Init(desc Descriptor) error
	Handle(msg *message.Message) error
}

// HandlerFunc adapts a plain function to Handler. Init is a no-op.
type HandlerFunc func(msg *message.Message) error

func (f HandlerFunc) Init(Descriptor) error { return nil }

func (f HandlerFunc) Handle(msg *message.Message) error { return f(msg) }

// Order is the optional intra-phase placement rule of a handler.
type Order struct {
	Before string `mapstructure:"before" json:"before,omitempty" yaml:"before,omitempty"`
	After  string `mapstructure:"after" json:"after,omitempty" yaml:"after,omitempty"`
	First  bool   `mapstructure:"first" json:"first,omitempty" yaml:"first,omitempty"`
	Last   bool   `mapstructure:"last" json:"last,omitempty" yaml:"last,omitempty"`
}

// IsZero reports whether no constraint is set, meaning declaration order.
func (o Order) IsZero() bool {
	return o == Order{}
}

func (o Order) String() string {
	if o.IsZero() {
		return "declaration order"
	}
	var parts []string
	if o.First {
		parts = append(parts, "first")
	}
	if o.Last {
		parts = append(parts, "last")
	}
	if o.After != "" {
		parts = append(parts, "after "+o.After)
	}
	if o.Before != "" {
		parts = append(parts, "before "+o.Before)
	}
	return strings.Join(parts, ", ")
}

func (o Order) validate(self string) error {
	if (o.First || o.Last) && (o.Before != "" || o.After != "") {
		return fmt.Errorf("%w: %s", errspkg.ErrConflictingOrder, o)
	}
	if o.Before != "" && o.Before == o.After {
		return fmt.Errorf("%w: before and after both name %q", errspkg.ErrConflictingOrder, o.Before)
	}
	if self != "" && (o.Before == self || o.After == self) {
		return fmt.Errorf("%w: handler is placed relative to itself", errspkg.ErrConflictingOrder)
	}
	return nil
}

// Descriptor is the metadata of one handler: where it goes and how to build it.
type Descriptor struct {
	Name string
	// Implementation names the factory that builds the handler.
	Implementation string
	// Phase is resolved by name against the active flow's phase list.
	Phase  string
	Order  Order
	Params params.Params
	// Handler is a live instance supplied up front. Service chains use it as is;
	// transport and global chains build their own from Implementation.
	Handler Handler
}

// Normalize trims surrounding whitespace from the names the descriptor is
// matched by, the same way phase declarations are trimmed.
func (d Descriptor) Normalize() Descriptor {
	d.Name = strings.TrimSpace(d.Name)
	d.Implementation = strings.TrimSpace(d.Implementation)
	d.Phase = strings.TrimSpace(d.Phase)
	d.Order.Before = strings.TrimSpace(d.Order.Before)
	d.Order.After = strings.TrimSpace(d.Order.After)
	return d
}

// Validate checks the fields every admission needs.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return errspkg.ErrHandlerNameRequired
	}
	if strings.TrimSpace(d.Phase) == "" {
		return errspkg.ErrPhaseNameRequired
	}
	return d.Order.validate(d.Name)
}
