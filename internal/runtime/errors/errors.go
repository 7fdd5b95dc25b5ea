package errors

import (
	sterrors "errors"
	"fmt"
	"strings"
)

var (
	ErrConfigRequired      = sterrors.New("phaseflow: phase declarations are required")
	ErrRegistryRequired    = sterrors.New("phaseflow: phase registry is required")
	ErrHandlerNameRequired = sterrors.New("phaseflow: handler name is required")
	ErrPhaseNameRequired   = sterrors.New("phaseflow: phase name is required")
	ErrUnknownFlow         = sterrors.New("phaseflow: unknown flow")
	ErrFlowNotSelected     = sterrors.New("phaseflow: no flow selected")
	ErrSinkRequired        = sterrors.New("phaseflow: chain sink is required")
	ErrChainMissing        = sterrors.New("phaseflow: no chain delivered for flow")
)

// Reasons carried by PhaseResolutionError. Match them with errors.Is.
var (
	ErrUnknownPhase     = sterrors.New("phase is not declared in this flow")
	ErrUnknownSibling   = sterrors.New("ordering constraint names a handler that is not in the phase")
	ErrSlotTaken        = sterrors.New("phase boundary slot is already claimed")
	ErrConflictingOrder = sterrors.New("ordering constraints conflict")
	ErrDuplicateHandler = sterrors.New("handler is already present in the phase")
	ErrFlowSealed       = sterrors.New("a chain has already been built for this flow")
	ErrInstantiation    = sterrors.New("handler instantiation failed")
	ErrNotInstantiated  = sterrors.New("handler has no live instance")
	ErrSinkRejected     = sterrors.New("chain sink rejected the phases")
)

// ConfigurationError reports missing or malformed phase declarations. It is
// fatal at startup.
type ConfigurationError struct {
	Err error
}

func (e ConfigurationError) Error() string {
	return "phaseflow: invalid phase configuration: " + e.Err.Error()
}

func (e ConfigurationError) Unwrap() error {
	return e.Err
}

// NewConfigurationError wraps err, returning nil when err is nil.
func NewConfigurationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigurationError{Err: err}
}

// PhaseResolutionError reports a handler that cannot be placed into, or built
// from, a flow's phase list. Handler and Phase are always part of the message
// because they are what an operator needs to fix the deployment.
type PhaseResolutionError struct {
	Flow    string
	Phase   string
	Handler string
	Err     error
}

func (e *PhaseResolutionError) Error() string {
	var b strings.Builder
	b.WriteString("phaseflow: cannot resolve handler ")
	b.WriteString(quoteOrUnset(e.Handler))
	b.WriteString(" in phase ")
	b.WriteString(quoteOrUnset(e.Phase))
	if e.Flow != "" {
		fmt.Fprintf(&b, " of the %s flow", e.Flow)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *PhaseResolutionError) Unwrap() error {
	return e.Err
}

// NewPhaseResolutionError builds a PhaseResolutionError for the given reason.
// An optional cause is joined to the reason so both stay reachable through
// errors.Is and errors.As.
func NewPhaseResolutionError(flow, phase, handler string, reason, cause error) *PhaseResolutionError {
	err := reason
	if cause != nil {
		err = fmt.Errorf("%w: %w", reason, cause)
	}
	return &PhaseResolutionError{
		Flow:    flow,
		Phase:   phase,
		Handler: handler,
		Err:     err,
	}
}

func quoteOrUnset(s string) string {
	if s == "" {
		return "<unset>"
	}
	return fmt.Sprintf("%q", s)
}
