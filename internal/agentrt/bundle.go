package agentrt

import (
	"context"
	"log/slog"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/wire"
)

// StepRunner executes one already-resolved bundle step synchronously and
// returns its outcome. Steps arrive pre-resolved over the wire (Code,
// ExecutorCmd, Args already joined in by the dispatcher) since the Agent has
// no repository access of its own to turn an eid into a runnable command
// (§3 Bundle script).
type StepRunner interface {
	RunStep(ctx context.Context, step wire.BundleStepFrame) wire.BundleStepResultFrame
}

// RunBundle executes steps strictly in order. A step with ContinueOnError
// false halts the bundle on first failure; every remaining step is recorded
// as skipped rather than silently omitted, so the reported bundle result
// always has one entry per configured step (§9 ordering note).
func RunBundle(ctx context.Context, runner StepRunner, steps []wire.BundleStepFrame, logger *slog.Logger) []wire.BundleStepResultFrame {
	results := make([]wire.BundleStepResultFrame, 0, len(steps))
	halted := false

	for _, step := range steps {
		if halted {
			results = append(results, wire.BundleStepResultFrame{Eid: step.Eid, Skipped: true})
			continue
		}

		result := runner.RunStep(ctx, step)
		results = append(results, result)

		if result.ExitStatus != "success" && !step.ContinueOnError {
			logger.Warn("bundle step failed, halting remaining steps",
				"eid", step.Eid, "exit_status", result.ExitStatus)
			halted = true
		}
	}
	return results
}
