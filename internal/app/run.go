package app

import (
	"context"
	"fmt"

	"github.com/specialistvlad/stagerun/internal/ctxlog"
)

// Run resolves every stage of the workflow in declaration order.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")
	defer a.Close()

	if len(a.workflow.Stages()) == 0 {
		a.logger.Warn("No stages found in workflow, execution not required.")
		return nil
	}

	a.logger.Info("🚀 Starting workflow.", "stages", len(a.workflow.Stages()), "kinds", a.registry.Kinds())
	report, err := a.workflow.Run(ctx)
	if err != nil {
		return fmt.Errorf("workflow failed: %w", err)
	}

	fmt.Fprintf(a.outW, "Workflow completed! ran=%d skipped=%d downloaded=%d\n",
		len(report.Ran()), len(report.Skipped()), len(report.Downloaded()))
	a.logger.Debug("App.Run method finished.")
	return nil
}
