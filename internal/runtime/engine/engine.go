// Package engine executes built chains against watermill messages.
package engine

import (
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/phaseflow/internal/runtime/chain"
	loggingpkg "github.com/drblury/phaseflow/internal/runtime/logging"
	"github.com/drblury/phaseflow/internal/runtime/metrics"
)

const tracerName = "github.com/drblury/phaseflow/engine"

// HandlerError attributes a failed or panicking handler to its phase.
type HandlerError struct {
	Flow    string
	Phase   string
	Handler string
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("phaseflow: handler %q in phase %q of the %s flow failed: %v", e.Handler, e.Phase, e.Flow, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// Options configures chain execution. Zero values are replaced with defaults.
type Options struct {
	Logger  loggingpkg.Logger
	Metrics *metrics.Metrics
	Tracer  trace.Tracer
}

func (o Options) withDefaults() Options {
	if o.Tracer == nil {
		o.Tracer = otel.Tracer(tracerName)
	}
	o.Logger = loggingpkg.OrDefault(o.Logger)
	return o
}

// Chain is a built chain ready to run. It holds no per-message state and may
// be shared by concurrent router handlers as long as its handlers allow it.
type Chain struct {
	built chain.Chain
	flow  string
	opts  Options
}

// New wraps c for execution.
func New(c chain.Chain, opts Options) *Chain {
	return &Chain{built: c, flow: c.Flow.String(), opts: opts.withDefaults()}
}

// Flow returns the flow name of the wrapped chain.
func (c *Chain) Flow() string { return c.flow }

// Len returns the number of handlers in the chain.
func (c *Chain) Len() int { return c.built.Len() }

// Run invokes every handler in phase order and stops at the first failure.
// Empty phases are skipped. A nil *Chain runs nothing.
func (c *Chain) Run(msg *message.Message) error {
	if c == nil {
		return nil
	}
	for _, p := range c.built.Phases {
		if len(p.Links) == 0 {
			continue
		}
		if err := c.runPhase(msg, p); err != nil {
			return err
		}
	}
	return nil
}

func (c *Chain) runPhase(msg *message.Message, p chain.Phase) error {
	parent := msg.Context()
	ctx, span := c.opts.Tracer.Start(parent, "phaseflow.phase "+p.Name,
		trace.WithAttributes(
			attribute.String("phaseflow.flow", c.flow),
			attribute.String("phaseflow.phase", p.Name),
			attribute.String("message.uuid", msg.UUID),
		),
	)
	defer span.End()
	msg.SetContext(ctx)
	defer msg.SetContext(parent)

	for _, l := range p.Links {
		start := time.Now()
		err := invoke(l, msg)
		c.opts.Metrics.ObserveInvocation(c.flow, p.Name, time.Since(start), err)
		if err == nil {
			continue
		}

		hErr := &HandlerError{Flow: c.flow, Phase: p.Name, Handler: l.Name, Err: err}
		span.RecordError(hErr)
		span.SetStatus(codes.Error, hErr.Error())
		c.opts.Logger.Error("Handler failed", err, loggingpkg.LogFields{
			"flow":         c.flow,
			"phase":        p.Name,
			"handler":      l.Name,
			"message_uuid": msg.UUID,
		})
		return hErr
	}
	return nil
}

func invoke(l chain.Link, msg *message.Message) (err error) {
	if l.Handler == nil {
		return fmt.Errorf("handler %q has no instance", l.Name)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return l.Handler.Handle(msg)
}
