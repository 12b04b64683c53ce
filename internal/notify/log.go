package notify

import (
	"context"

	"github.com/specialistvlad/stagerun/internal/ctxlog"
	"github.com/specialistvlad/stagerun/internal/workflow"
)

// LogObserver logs the run boundaries. Per-stage progress is logged by the
// workflow itself.
type LogObserver struct {
	workflow.NoopObserver
}

var _ workflow.Observer = (*LogObserver)(nil)

func (*LogObserver) OnRunStart(ctx context.Context, stages []string) {
	ctxlog.FromContext(ctx).Debug("Run started.", "stages", len(stages))
}

func (*LogObserver) OnStageResolved(ctx context.Context, result workflow.StageResult, err error) {
	if err != nil {
		ctxlog.FromContext(ctx).Error("❌ Stage failed.", "stage", result.Stage, "error", err)
	}
}

func (*LogObserver) OnRunComplete(ctx context.Context, report *workflow.Report, err error) {
	if report == nil {
		return
	}
	logger := ctxlog.FromContext(ctx).With(
		"ran", len(report.Ran()),
		"skipped", len(report.Skipped()),
		"downloaded", len(report.Downloaded()),
	)
	if err != nil {
		logger.Error("Run aborted.")
		return
	}
	logger.Info("Run summary.")
}
