package domain

import "time"

// Executor is a named interpreter recipe, e.g. "bash -c". It is immutable
// once a job snapshot references it for scheduling.
type Executor struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Command            string    `json:"command"`
	Platform           string    `json:"platform"`
	ReadCodeFromStdin  bool      `json:"readCodeFromStdin"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}
