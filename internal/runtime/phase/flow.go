package phase

import (
	"fmt"
	"strings"

	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
)

// Flow selects one of the four message-processing directions.
type Flow int

const (
	Inbound Flow = iota + 1
	Outbound
	FaultInbound
	FaultOutbound
)

// Flows lists every flow in registry order.
var Flows = []Flow{Inbound, Outbound, FaultInbound, FaultOutbound}

func (f Flow) String() string {
	switch f {
	case Inbound:
		return "inbound"
	case Outbound:
		return "outbound"
	case FaultInbound:
		return "fault_inbound"
	case FaultOutbound:
		return "fault_outbound"
	default:
		return fmt.Sprintf("flow(%d)", int(f))
	}
}

// Valid reports whether f is one of the four declared flows.
func (f Flow) Valid() bool {
	return f >= Inbound && f <= FaultOutbound
}

// ReceivesMessages is true for the flows that handle messages arriving at the
// engine. Those flows run PreDispatch first; sending flows run it last.
func (f Flow) ReceivesMessages() bool {
	return f == Inbound || f == FaultInbound
}

// ParseFlow accepts the String form as well as the common in/out spellings.
func ParseFlow(s string) (Flow, error) {
	normalized := strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.ToLower(strings.TrimSpace(s)))
	switch normalized {
	case "inbound", "in", "inflow":
		return Inbound, nil
	case "outbound", "out", "outflow":
		return Outbound, nil
	case "faultinbound", "faultin", "faultinflow":
		return FaultInbound, nil
	case "faultoutbound", "faultout", "faultoutflow":
		return FaultOutbound, nil
	}
	return 0, fmt.Errorf("%w: %q", errspkg.ErrUnknownFlow, s)
}
