// Package phaseflow resolves named, ordered phases and the handlers bound to
// them into execution chains for the four message flows: inbound, outbound,
// fault-inbound and fault-outbound.
//
// The global phase order is declared once (see Config and NewRegistry). Every
// consumer, whether a service, a transport or the engine itself, gets its own
// PhaseHolder seeded with empty phases from the registry. Handlers are
// admitted by phase name; a name the flow does not declare is rejected with a
// PhaseResolutionError that names both the handler and the phase. Within a
// phase handlers keep declaration order unless an Order asks for first, last,
// before or after placement.
//
// # Chains
//
// A holder builds chains three ways from a single algorithm:
//   - BuildServiceChain uses the live handlers already attached to descriptors
//   - BuildTransportChain instantiates handlers through an Instantiator
//   - BuildGlobalChain does the same for the engine-wide chain
//
// Builds are all or nothing. A failed instantiation aborts the build, closes
// whatever was already created, and delivers nothing to the sink. Once a flow
// has been built it is sealed against further admissions.
//
// # Execution
//
// NewPipeline turns the delivered chains into a watermill middleware and fails
// with ErrChainMissing when any flow has no delivered chain. The receiving
// chain runs before the handler and produced messages traverse the sending
// chain. Failures are routed through the fault-outbound chain on a copy of the
// message marked by MetadataKeyFault.
//
// # Observability
//
// Holders and runners accept a Logger, a Metrics set of Prometheus collectors,
// and an OpenTelemetry tracer. BuildHooks expose OnBuildStart, OnBuildDone and
// OnBuildError for custom alerting around chain builds.
package phaseflow
