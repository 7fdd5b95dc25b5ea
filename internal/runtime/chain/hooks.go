package chain

import (
	"context"
	"time"

	loggingpkg "github.com/drblury/phaseflow/internal/runtime/logging"
	"github.com/drblury/phaseflow/internal/runtime/phase"
)

// BuildContext describes one chain build to hooks.
type BuildContext struct {
	// BuildID correlates the hooks, log lines and span of one build.
	BuildID string
	// Consumer names the service, transport or engine the chain is for.
	Consumer string
	Flow     phase.Flow
	Target   Target
	Context  context.Context
	// StartedAt is when the build began.
	StartedAt time.Time
	// Duration is only set in OnBuildDone and OnBuildError.
	Duration time.Duration
	// Handlers is the chain size, only set in OnBuildDone.
	Handlers int
}

// BuildHooks are optional callbacks around chain builds. Nil hooks are skipped.
type BuildHooks struct {
	OnBuildStart func(ctx BuildContext)
	OnBuildDone  func(ctx BuildContext)
	OnBuildError func(ctx BuildContext, err error)
}

// Merge combines two hook sets; hooks from other run after those from h.
func (h BuildHooks) Merge(other BuildHooks) BuildHooks {
	return BuildHooks{
		OnBuildStart: chainHooks(h.OnBuildStart, other.OnBuildStart),
		OnBuildDone:  chainHooks(h.OnBuildDone, other.OnBuildDone),
		OnBuildError: chainErrorHooks(h.OnBuildError, other.OnBuildError),
	}
}

func (h BuildHooks) start(ctx BuildContext) {
	if h.OnBuildStart != nil {
		h.OnBuildStart(ctx)
	}
}

func (h BuildHooks) done(ctx BuildContext) {
	if h.OnBuildDone != nil {
		h.OnBuildDone(ctx)
	}
}

func (h BuildHooks) fail(ctx BuildContext, err error) {
	if h.OnBuildError != nil {
		h.OnBuildError(ctx, err)
	}
}

func chainHooks(a, b func(BuildContext)) func(BuildContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx BuildContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(BuildContext, error)) func(BuildContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx BuildContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

// Observe runs build between the start and completion hooks, filling in
// Duration and Handlers.
func (h BuildHooks) Observe(ctx BuildContext, build func() (Chain, error)) (Chain, error) {
	if ctx.StartedAt.IsZero() {
		ctx.StartedAt = time.Now()
	}
	h.start(ctx)

	built, err := build()
	ctx.Duration = time.Since(ctx.StartedAt)
	if err != nil {
		h.fail(ctx, err)
		return Chain{}, err
	}
	ctx.Handlers = built.Len()
	h.done(ctx)
	return built, nil
}

// LoggingHooks returns hooks that log build lifecycle events.
func LoggingHooks(logger loggingpkg.Logger) BuildHooks {
	return BuildHooks{
		OnBuildDone: func(ctx BuildContext) {
			logger.Info("Chain built", loggingpkg.LogFields{
				"build_id":    ctx.BuildID,
				"consumer":    ctx.Consumer,
				"flow":        ctx.Flow.String(),
				"target":      ctx.Target.String(),
				"handlers":    ctx.Handlers,
				"duration_ms": ctx.Duration.Milliseconds(),
			})
		},
		OnBuildError: func(ctx BuildContext, err error) {
			logger.Error("Chain build failed", err, loggingpkg.LogFields{
				"build_id": ctx.BuildID,
				"consumer": ctx.Consumer,
				"flow":     ctx.Flow.String(),
				"target":   ctx.Target.String(),
			})
		},
	}
}

// AlertingHooks returns hooks that call alertFunc when a build fails.
func AlertingHooks(alertFunc func(ctx BuildContext, err error)) BuildHooks {
	return BuildHooks{OnBuildError: alertFunc}
}
