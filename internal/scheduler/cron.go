// Package scheduler decides WHEN each timer fires and WHICH action to
// dispatch: once/timer/daemon/flow scheduling modes, retry with backoff,
// and kill propagation (§4.D). It never decides WHERE a job runs — that is
// the dispatcher's job, which this package calls into.
package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
)

// secondParser understands the 6-field (sec first) expressions timer_expr
// produces, matching §4.D "evaluation is second-resolution".
var secondParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// nextFire returns the next fire time strictly after after, for a timer
// evaluated on the Console (domain.TimerEvalConsole; §4.D open question
// resolved in DESIGN.md).
func nextFire(expr domain.TimerExpr, after time.Time) (time.Time, error) {
	sched, err := secondParser.Parse(expr.WithSeconds())
	if err != nil {
		return time.Time{}, fmt.Errorf("scheduler: parse cron %q: %w", expr.WithSeconds(), domain.ErrInvalidCronExpr)
	}
	return sched.Next(after), nil
}
