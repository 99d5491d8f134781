package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/dagucloud/herd/internal/core"
	"github.com/dagucloud/herd/internal/run"
)

// stageOutcome classifies a stage of res.
func stageOutcome(res run.Result, stage core.Stage) (Outcome, *run.StageReport) {
	for i := range res.Stages {
		if res.Stages[i].Stage == stage {
			r := &res.Stages[i]
			if r.Errors > 0 {
				return Failed, r
			}
			return Succeeded, r
		}
	}
	if res.Aborted {
		return Aborted, nil
	}
	return Skipped, nil
}

// RunOutcome classifies the run as a whole.
func RunOutcome(res run.Result) Outcome {
	if res.Aborted {
		return Aborted
	}
	for _, r := range res.Stages {
		if r.Errors > 0 {
			return Failed
		}
	}
	return Succeeded
}

// WriteSummary renders res as a small tree: the run, then one line per
// stage.
func WriteSummary(w io.Writer, res run.Result) {
	o := RunOutcome(res)
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s (%s) %s\n", o.Symbol(), res.Name, res.ID, o.Colorize(o.String()))
	if res.Aborted {
		fmt.Fprintf(&b, "│ reason: %s\n", res.Reason)
	}
	for i, stage := range core.Stages {
		branch := "├─"
		if i == len(core.Stages)-1 {
			branch = "└─"
		}
		so, report := stageOutcome(res, stage)
		detail := so.String()
		if report != nil {
			detail = fmt.Sprintf("%d contexts, %d errors, %s", report.Contexts, report.Errors, report.Duration.Round(1e6))
		}
		fmt.Fprintf(&b, "%s %s %-9s %s\n", branch, so.Colorize(so.Symbol()), stage, detail)
	}
	_, _ = io.WriteString(w, b.String())
}
