package workflow

import (
	"context"

	"github.com/specialistvlad/stagerun/internal/ctxlog"
)

// Observer receives progress events from Run. Implementations must not block
// for long; they are called synchronously between stage steps.
type Observer interface {
	// OnRunStart is called once with the stage names in execution order.
	OnRunStart(ctx context.Context, stages []string)

	// OnStageStart is called right before a stage executes.
	OnStageStart(ctx context.Context, stage string, reason Reason)

	// OnStageResolved is called when a stage is resolved or failed.
	OnStageResolved(ctx context.Context, result StageResult, err error)

	// OnRunComplete is called when Run returns.
	OnRunComplete(ctx context.Context, report *Report, err error)
}

// NoopObserver implements Observer with empty methods. Embed it to override
// only some of them.
type NoopObserver struct{}

func (*NoopObserver) OnRunStart(context.Context, []string)                {}
func (*NoopObserver) OnStageStart(context.Context, string, Reason)        {}
func (*NoopObserver) OnStageResolved(context.Context, StageResult, error) {}
func (*NoopObserver) OnRunComplete(context.Context, *Report, error)       {}

type observers []Observer

// each calls fn for every observer. A panicking observer is logged and does
// not break the run.
func (o observers) each(ctx context.Context, event string, fn func(Observer)) {
	for _, obs := range o {
		func() {
			defer func() {
				if r := recover(); r != nil {
					ctxlog.FromContext(ctx).Error("Observer panicked.", "event", event, "panic", r)
				}
			}()
			fn(obs)
		}()
	}
}

func (o observers) runStart(ctx context.Context, stages []string) {
	o.each(ctx, "run_start", func(obs Observer) { obs.OnRunStart(ctx, stages) })
}

func (o observers) stageStart(ctx context.Context, stage string, reason Reason) {
	o.each(ctx, "stage_start", func(obs Observer) { obs.OnStageStart(ctx, stage, reason) })
}

func (o observers) stageResolved(ctx context.Context, result StageResult, err error) {
	o.each(ctx, "stage_resolved", func(obs Observer) { obs.OnStageResolved(ctx, result, err) })
}

func (o observers) runComplete(ctx context.Context, report *Report, err error) {
	o.each(ctx, "run_complete", func(obs Observer) { obs.OnRunComplete(ctx, report, err) })
}
