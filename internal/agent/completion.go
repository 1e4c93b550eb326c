package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/aacode/pkg/models"
)

// completionErrorMarkers taint the recent step window: a task whose last
// actions failed is never declared complete without a fix.
var completionErrorMarkers = []string{
	"traceback", "exception", "failed", "error", "错误", "失败",
}

const (
	// completionWindow is how many trailing steps the error scan covers.
	completionWindow = 3

	// completionTimeout bounds the YES/NO confirmation call.
	completionTimeout = 30 * time.Second
)

// completionPrompt asks the model for a one-word verdict.
const completionPrompt = `任务: %s

最后一轮思考: %s

最近执行情况:
%s
以上任务是否已经完成？只回答 YES 或 NO。`

// checkCompletion decides whether an action-free iteration terminates the
// run. Recent errors always mean "not done". Otherwise the model is asked
// for a YES/NO verdict; an unreachable or unparseable verdict fails open to
// complete, since the model already chose to stop acting.
func (d *Driver) checkCompletion(ctx context.Context, task, thought string) bool {
	if models.HasErrors(d.steps, completionWindow, completionErrorMarkers) {
		d.Metrics.IncCompletionCheck("errors")
		return false
	}

	cctx, cancel := context.WithTimeout(ctx, completionTimeout)
	defer cancel()

	prompt := fmt.Sprintf(completionPrompt, task, thought, recentStepSummary(d.steps))
	reply, err := d.caller.Call(cctx, []models.Message{
		{Role: models.RoleUser, Content: prompt},
	})
	if err != nil {
		d.logger.Warn("completion check unavailable", "error", err)
		d.Metrics.IncCompletionCheck("unavailable")
		return true
	}

	verdict := strings.ToUpper(strings.TrimSpace(reply))
	switch {
	case strings.HasPrefix(verdict, "YES"):
		d.Metrics.IncCompletionCheck("yes")
		return true
	case strings.HasPrefix(verdict, "NO"):
		d.Metrics.IncCompletionCheck("no")
		return false
	default:
		d.logger.Warn("completion verdict unparseable", "reply", firstLine(reply))
		d.Metrics.IncCompletionCheck("unparseable")
		return true
	}
}

// recentStepSummary renders the trailing step window as tagged one-liners
// for the completion prompt.
func recentStepSummary(steps []models.Step) string {
	start := len(steps) - completionWindow
	if start < 0 {
		start = 0
	}
	if start == len(steps) {
		return "（无已执行动作）\n"
	}
	var b strings.Builder
	for _, step := range steps[start:] {
		for _, action := range step.Actions {
			tag := "✅"
			lower := strings.ToLower(action.Observation)
			for _, marker := range completionErrorMarkers {
				if strings.Contains(lower, marker) {
					tag = "⚠️"
					break
				}
			}
			fmt.Fprintf(&b, "%s %s: %s\n", tag, action.Action, excerpt(action.Observation, 120))
		}
	}
	if b.Len() == 0 {
		return "（无已执行动作）\n"
	}
	return b.String()
}
