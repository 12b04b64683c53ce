package app

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/specialistvlad/stagerun/internal/ctxlog"
)

// Query prints the freshness status of every stage without running anything.
func (a *App) Query(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)

	statuses, err := a.workflow.QueryAll(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(a.outW, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STAGE\tLOCAL\tCACHE\tNEWEST\tLOCAL TIME\tCACHE TIME\tSTAGE TIME")
	for _, st := range a.workflow.Stages() {
		s := statuses[st.Name()]
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			st.Name(), yesNo(s.Local), yesNo(s.Cache), s.Newest,
			formatTime(s.LocalTime), formatTime(s.CacheTime), formatTime(s.StageTime))
	}
	return tw.Flush()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// formatTime renders the zero time as "-".
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}
