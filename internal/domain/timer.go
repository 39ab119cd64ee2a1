package domain

import "errors"

var ErrInvalidCronExpr = errors.New("invalid cron expression")

// ScheduleType is the mode under which a timer/job is driven (§4.D).
type ScheduleType string

const (
	ScheduleOnce   ScheduleType = "once"
	ScheduleTimer  ScheduleType = "timer"
	ScheduleFlow   ScheduleType = "flow"
	ScheduleDaemon ScheduleType = "daemon"
)

// TimerExpr is the versioned JSON record carried by timer.timer_expr (§9
// design note: JSON columns carry an explicit version and enumerations;
// unknown variants are rejected, not tolerated).
type TimerExpr struct {
	V    int    `json:"v"`
	Sec  string `json:"sec"`
	Min  string `json:"min"`
	Hour string `json:"hour"`
	Dom  string `json:"dom"`
	Mon  string `json:"mon"`
	Dow  string `json:"dow"`
	// Mode tells the scheduler whether cron evaluation happens on the
	// Console (default, also used when Mode is empty; preferred per §4.D
	// open question) or on the agent. scheduler.Engine skips agent-mode
	// timers and nothing sends start_timer/stop_timer, so an agent-mode
	// timer does not fire.
	Mode TimerEvalMode `json:"mode"`
}

type TimerEvalMode string

const (
	TimerEvalConsole TimerEvalMode = "console"
	TimerEvalAgent   TimerEvalMode = "agent"
)

const TimerExprVersion = 1

// Standard returns the robfig/cron standard 5-field expression built from
// the record's fields, dropping Sec (second-resolution is handled by the
// parser variant the caller selects — see internal/scheduler).
func (t TimerExpr) Standard() string {
	return t.Min + " " + t.Hour + " " + t.Dom + " " + t.Mon + " " + t.Dow
}

// WithSeconds returns the 6-field expression (sec first) understood by
// robfig/cron's second-resolution parser, matching §4.D "evaluation is
// second-resolution".
func (t TimerExpr) WithSeconds() string {
	return t.Sec + " " + t.Standard()
}

// Timer is a persistent, named cron definition bound to an eid. Targets is
// the target_selector the dispatcher resolves on every fire (the schema
// enumerated in §3 names timer_expr/job_type but leaves target association
// implicit; DESIGN.md records this as a resolved Open Question).
type Timer struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Eid       string         `json:"eid"`
	TimerExpr TimerExpr      `json:"timerExpr"`
	JobType   JobType        `json:"jobType"`
	Targets   TargetSelector `json:"targets"`
	Enabled   bool           `json:"enabled"`
}
