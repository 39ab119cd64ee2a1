package domain

import "time"

// ExecHistory is an append-only row per (ScheduleID, Eid, InstanceID, RunID)
// (§3 Exec history, invariant 3: every row references a schedule_history row).
type ExecHistory struct {
	ID                 string     `json:"id"`
	ScheduleID         string     `json:"scheduleId"`
	Eid                string     `json:"eid"`
	InstanceID         string     `json:"instanceId"`
	RunID              string     `json:"runId"`
	ExitCode           *int       `json:"exitCode,omitempty"`
	ExitStatus         ExitStatus `json:"exitStatus,omitempty"`
	Output             string     `json:"output"`
	OutputTruncated    bool       `json:"outputTruncated"`
	BundleScriptResult []BundleStepResult `json:"bundleScriptResult,omitempty"`
	StartTime          time.Time  `json:"startTime"`
	EndTime            *time.Time `json:"endTime,omitempty"`
}

// BundleStepResult records the outcome of one bundle script step, aggregated
// into exec_history.bundle_script_result (§3 Bundle script, §9 ordering note).
type BundleStepResult struct {
	EidRef     string     `json:"eidRef"`
	ExitCode   int        `json:"exitCode"`
	ExitStatus ExitStatus `json:"exitStatus"`
	Output     string     `json:"output"`
	Skipped    bool       `json:"skipped"`
}

// ScheduleHistory is an append-only snapshot of a dispatch decision
// (§3 Schedule history, §4.C step 4).
type ScheduleHistory struct {
	ID             string            `json:"id"`
	ScheduleID     string            `json:"scheduleId"`
	Eid            string            `json:"eid"`
	Action         Action            `json:"action"`
	ScheduleType   ScheduleType      `json:"scheduleType"`
	DispatchResult map[string]string `json:"dispatchResult"`
	DispatchData   []byte            `json:"dispatchData"`
	SnapshotData   []byte            `json:"snapshotData"`
	CreatedAt      time.Time         `json:"createdAt"`
}
