package domain

import "errors"

var (
	ErrJobNotFound   = errors.New("job not found")
	ErrUnknownEid    = errors.New("unknown eid")
	ErrExecutorInUse = errors.New("executor is referenced by a job")
	ErrDuplicateEid  = errors.New("eid already exists")

	ErrExecutorNotFound = errors.New("executor not found")
)

// JobType distinguishes a single-script job from an ordered bundle of steps.
type JobType string

const (
	JobTypeDefault JobType = "default"
	JobTypeBundle  JobType = "bundle"
)

// BundleStep is one ordered entry of a bundle job, resolved at dispatch time.
type BundleStep struct {
	EidRef          string            `json:"eidRef"`
	ArgsOverride    map[string]string `json:"argsOverride,omitempty"`
	ContinueOnError bool              `json:"continueOnError"`
}

// Job is the stable scheduling/execution unit identified by Eid. Eid is
// immutable once referenced by any history or running-status row (invariant 1).
type Job struct {
	ID             string       `json:"id"`
	Eid            string       `json:"eid"`
	TeamID         string       `json:"teamId"`
	Name           string       `json:"name"`
	ExecutorID     string       `json:"executorId"`
	JobType        JobType      `json:"jobType"`
	Code           string       `json:"code"`
	Args           []string     `json:"args"`
	WorkDir        string       `json:"workDir"`
	WorkUser       string       `json:"workUser"`
	TimeoutSeconds int          `json:"timeoutSeconds"`
	MaxRetry       int          `json:"maxRetry"`
	MaxParallel    int          `json:"maxParallel"`
	BundleScript   []BundleStep `json:"bundleScript,omitempty"`
	IsPublic       bool         `json:"isPublic"`
}

// Snapshot is the immutable (job, executor) pair captured at dispatch
// decision time and persisted as schedule_history.snapshot_data (§4.C step 4).
type Snapshot struct {
	Job      Job      `json:"job"`
	Executor Executor `json:"executor"`
}
