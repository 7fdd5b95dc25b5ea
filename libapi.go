package phaseflow

import (
	"github.com/drblury/phaseflow/internal/runtime/chain"
	configpkg "github.com/drblury/phaseflow/internal/runtime/config"
	"github.com/drblury/phaseflow/internal/runtime/engine"
	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
	"github.com/drblury/phaseflow/internal/runtime/factory"
	"github.com/drblury/phaseflow/internal/runtime/holder"
	idspkg "github.com/drblury/phaseflow/internal/runtime/ids"
	"github.com/drblury/phaseflow/internal/runtime/inspect"
	jsoncodec "github.com/drblury/phaseflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/phaseflow/internal/runtime/logging"
	metricspkg "github.com/drblury/phaseflow/internal/runtime/metrics"
	"github.com/drblury/phaseflow/internal/runtime/params"
	"github.com/drblury/phaseflow/internal/runtime/phase"
	"github.com/drblury/phaseflow/internal/runtime/registry"
	"github.com/drblury/phaseflow/internal/runtime/sink"
)

type (
	Config        = configpkg.Config
	PhaseLists    = configpkg.PhaseLists
	HandlerLists  = configpkg.HandlerLists
	HandlerConfig = configpkg.Handler

	Flow        = phase.Flow
	Order       = phase.Order
	Descriptor  = phase.Descriptor
	Handler     = phase.Handler
	HandlerFunc = phase.HandlerFunc
	Params      = params.Params

	Registry     = registry.Registry
	Declarations = registry.Declarations

	PhaseHolder  = holder.PhaseHolder
	Dependencies = holder.Dependencies

	Chain            = chain.Chain
	ChainPhase       = chain.Phase
	Link             = chain.Link
	Plan             = chain.Plan
	Target           = chain.Target
	Sink             = chain.Sink
	Instantiator     = chain.Instantiator
	InstantiatorFunc = chain.InstantiatorFunc

	// Build lifecycle hooks
	BuildContext = chain.BuildContext
	BuildHooks   = chain.BuildHooks

	Factory         = factory.Factory
	FactoryRegistry = factory.Registry

	ServiceContext      = sink.ServiceContext
	TransportDescriptor = sink.TransportDescriptor
	EngineContext       = sink.EngineContext

	Runner       = engine.Chain
	RunOptions   = engine.Options
	Pipeline     = engine.Pipeline
	ChainSource  = engine.ChainSource
	HandlerError = engine.HandlerError

	Metrics = metricspkg.Metrics

	InspectHandler  = inspect.Handler
	InspectSource   = inspect.Source
	InspectConsumer = inspect.Consumer

	LogFields = loggingpkg.LogFields
	Logger    = loggingpkg.Logger

	ConfigurationError   = errspkg.ConfigurationError
	PhaseResolutionError = errspkg.PhaseResolutionError
)

const (
	Inbound       = phase.Inbound
	Outbound      = phase.Outbound
	FaultInbound  = phase.FaultInbound
	FaultOutbound = phase.FaultOutbound

	TargetService   = chain.TargetService
	TargetTransport = chain.TargetTransport
	TargetGlobal    = chain.TargetGlobal

	PreDispatch = registry.PreDispatch

	// MetadataKeyFault marks a message for the fault flows.
	MetadataKeyFault = engine.FaultMetadataKey
	// MetadataKeyError carries the error that produced a fault.
	MetadataKeyError = engine.ErrorMetadataKey
)

var (
	LoadConfig  = configpkg.Load
	ParseConfig = configpkg.Parse
	ParseFlow   = phase.ParseFlow
	Flows       = phase.Flows

	NewRegistry = registry.New
	NewHolder   = holder.New
	NewParams   = params.New

	NewFactoryRegistry     = factory.NewRegistry
	DefaultFactoryRegistry = factory.DefaultRegistry
	RegisterFactory        = factory.Register

	NewServiceContext      = sink.NewServiceContext
	NewTransportDescriptor = sink.NewTransportDescriptor
	NewEngineContext       = sink.NewEngineContext

	NewRunner   = engine.New
	NewPipeline = engine.NewPipeline
	IsFault     = engine.IsFault
	MarkFault   = engine.MarkFault

	// Build lifecycle hooks
	LoggingHooks  = chain.LoggingHooks
	AlertingHooks = chain.AlertingHooks

	NewMetrics = metricspkg.New

	NewInspectHandler = inspect.NewHandler

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	EncodePlans   = jsoncodec.EncodePlans
	DecodePlans   = jsoncodec.DecodePlans
	MarshalChain  = jsoncodec.MarshalChain

	NewSlogLogger      = loggingpkg.NewSlogLogger
	NewWatermillLogger = loggingpkg.NewWatermillLogger
	NopLogger          = loggingpkg.NopLogger

	NewBuildID = idspkg.NewBuildID

	ErrConfigRequired      = errspkg.ErrConfigRequired
	ErrRegistryRequired    = errspkg.ErrRegistryRequired
	ErrHandlerNameRequired = errspkg.ErrHandlerNameRequired
	ErrPhaseNameRequired   = errspkg.ErrPhaseNameRequired
	ErrUnknownFlow         = errspkg.ErrUnknownFlow
	ErrFlowNotSelected     = errspkg.ErrFlowNotSelected
	ErrSinkRequired        = errspkg.ErrSinkRequired
	ErrChainMissing        = errspkg.ErrChainMissing
	ErrUnknownPhase        = errspkg.ErrUnknownPhase
	ErrUnknownSibling      = errspkg.ErrUnknownSibling
	ErrSlotTaken           = errspkg.ErrSlotTaken
	ErrConflictingOrder    = errspkg.ErrConflictingOrder
	ErrDuplicateHandler    = errspkg.ErrDuplicateHandler
	ErrFlowSealed          = errspkg.ErrFlowSealed
	ErrInstantiation       = errspkg.ErrInstantiation
	ErrNotInstantiated     = errspkg.ErrNotInstantiated
	ErrSinkRejected        = errspkg.ErrSinkRejected
)

// NewHolderFromConfig builds the registry described by cfg and a holder on
// top of it, then admits every declared handler flow by flow.
func NewHolderFromConfig(cfg *Config, deps Dependencies) (*PhaseHolder, error) {
	if cfg == nil {
		return nil, errspkg.NewConfigurationError(errspkg.ErrConfigRequired)
	}
	reg, err := cfg.Registry()
	if err != nil {
		return nil, err
	}
	h, err := holder.New(reg, deps)
	if err != nil {
		return nil, err
	}
	for _, f := range phase.Flows {
		if err := h.AddHandlers(f, cfg.Descriptors(f)...); err != nil {
			return nil, err
		}
	}
	return h, nil
}
