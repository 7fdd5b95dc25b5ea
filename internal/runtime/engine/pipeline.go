package engine

import (
	"fmt"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/phaseflow/internal/runtime/chain"
	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/phaseflow/internal/runtime/logging"
	"github.com/drblury/phaseflow/internal/runtime/phase"
)

const (
	// FaultMetadataKey marks a message as a fault. Inbound faults take the
	// fault-inbound chain and produced faults take the fault-outbound chain.
	FaultMetadataKey = "phaseflow_fault"
	// ErrorMetadataKey carries the error that turned a message into a fault.
	ErrorMetadataKey = "phaseflow_error"
)

// ChainSource yields the delivered chain of a flow. The sink contexts
// implement it.
type ChainSource interface {
	Chain(flow phase.Flow) (chain.Chain, bool)
}

// Pipeline runs the four flows of one consumer around a watermill handler.
type Pipeline struct {
	Inbound       *Chain
	Outbound      *Chain
	FaultInbound  *Chain
	FaultOutbound *Chain

	logger loggingpkg.Logger
}

// NewPipeline builds a pipeline from the chains held by src. Every flow must
// have a delivered chain, even an empty one; otherwise the consumer refuses to
// start and ErrChainMissing names the absent flows.
func NewPipeline(src ChainSource, opts Options) (*Pipeline, error) {
	opts = opts.withDefaults()
	chains := make(map[phase.Flow]*Chain, len(phase.Flows))
	var missing []string
	for _, f := range phase.Flows {
		c, ok := src.Chain(f)
		if !ok {
			missing = append(missing, f.String())
			continue
		}
		chains[f] = New(c, opts)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", errspkg.ErrChainMissing, strings.Join(missing, ", "))
	}
	return &Pipeline{
		Inbound:       chains[phase.Inbound],
		Outbound:      chains[phase.Outbound],
		FaultInbound:  chains[phase.FaultInbound],
		FaultOutbound: chains[phase.FaultOutbound],
		logger:        opts.Logger,
	}, nil
}

// IsFault reports whether msg carries the fault marker.
func IsFault(msg *message.Message) bool {
	return msg.Metadata.Get(FaultMetadataKey) == "true"
}

// MarkFault sets the fault marker and the causing error on msg.
func MarkFault(msg *message.Message, err error) {
	msg.Metadata.Set(FaultMetadataKey, "true")
	if err != nil {
		msg.Metadata.Set(ErrorMetadataKey, err.Error())
	}
}

// Middleware returns a watermill middleware that runs the receiving chain
// before the handler and the sending chain on every produced message. Errors
// from the receiving chain or the handler run the fault-outbound chain on a
// marked copy of the incoming message before being returned to the router.
// The incoming message is never marked, so a retried delivery takes the same
// receiving chain again.
func (p *Pipeline) Middleware() message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			in := p.Inbound
			if IsFault(msg) {
				in = p.FaultInbound
			}
			if err := in.Run(msg); err != nil {
				p.fault(msg, err)
				return nil, err
			}

			produced, err := h(msg)
			if err != nil {
				p.fault(msg, err)
				return nil, err
			}

			for _, out := range produced {
				c := p.Outbound
				if IsFault(out) {
					c = p.FaultOutbound
				}
				if err := c.Run(out); err != nil {
					return nil, err
				}
			}
			return produced, nil
		}
	}
}

func (p *Pipeline) fault(msg *message.Message, cause error) {
	faulted := msg.Copy()
	faulted.SetContext(msg.Context())
	MarkFault(faulted, cause)
	if err := p.FaultOutbound.Run(faulted); err != nil {
		p.logger.Error("Fault chain failed", err, loggingpkg.LogFields{
			"message_uuid": msg.UUID,
			"cause":        cause.Error(),
		})
	}
}
