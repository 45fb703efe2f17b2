// Package core provides the domain models and interfaces for the fanin package.
package core

import (
	"time"
)

// JobStatus represents the current state of a fan-in job.
type JobStatus string

const (
	StatusActive   JobStatus = "active"
	StatusComplete JobStatus = "complete"
	StatusPartial  JobStatus = "partial"
	StatusTimeout  JobStatus = "timeout"
	StatusFailed   JobStatus = "failed" // Reserved for stub jobs created from orphan reports
)

// Terminal reports whether the status is final. Only active jobs are
// evaluated by the monitor.
func (s JobStatus) Terminal() bool {
	return s != StatusActive && s != ""
}

// SubtaskFailure is the normalized summary of a failure report.
type SubtaskFailure struct {
	Message    string    `json:"message"`
	Code       string    `json:"code,omitempty"`
	Type       string    `json:"type,omitempty"`
	RetryCount int       `json:"retryCount,omitempty"`
	FailedAt   time.Time `json:"failedAt"`
}

// Job is one orchestrated unit of work spanning multiple subtasks.
//
// SubtaskIDs is fixed at creation. Completed and Failed grow as reports
// arrive; both use set semantics so duplicate or out-of-order reports
// converge to the same state. Status, ProcessedAt and ProcessingNote are
// written only by the monitor.
type Job struct {
	ID             string                    `json:"id"`
	Status         JobStatus                 `json:"status"`
	SubtaskIDs     []string                  `json:"subtaskIds"`
	Completed      []string                  `json:"completed,omitempty"`
	Failed         map[string]SubtaskFailure `json:"failed,omitempty"`
	Metadata       map[string]string         `json:"metadata,omitempty"`
	CreatedAt      time.Time                 `json:"createdAt"`
	UpdatedAt      time.Time                 `json:"updatedAt"`
	ProcessedAt    *time.Time                `json:"processedAt,omitempty"`
	ProcessingNote string                    `json:"processingNote,omitempty"`
}

// HasSubtask reports whether id is one of the job's expected subtasks.
func (j *Job) HasSubtask(id string) bool {
	for _, s := range j.SubtaskIDs {
		if s == id {
			return true
		}
	}
	return false
}

// IsCompleted reports whether id has a recorded success.
func (j *Job) IsCompleted(id string) bool {
	for _, s := range j.Completed {
		if s == id {
			return true
		}
	}
	return false
}

// MarkCompleted records a success for id. A success takes precedence over
// any earlier failure report for the same subtask. Returns false if the
// success was already recorded.
func (j *Job) MarkCompleted(id string) bool {
	delete(j.Failed, id)
	if j.IsCompleted(id) {
		return false
	}
	j.Completed = append(j.Completed, id)
	return true
}

// MarkFailed records a failure for id. Ignored if the subtask already
// reported success. A repeated failure report replaces the stored summary
// so the latest retry count wins.
func (j *Job) MarkFailed(id string, f SubtaskFailure) bool {
	if j.IsCompleted(id) {
		return false
	}
	if j.Failed == nil {
		j.Failed = make(map[string]SubtaskFailure)
	}
	j.Failed[id] = f
	return true
}

// DoneCount returns the number of subtasks that reported success.
func (j *Job) DoneCount() int {
	return len(j.Completed)
}

// CompletionRatio returns the fraction of subtasks that reported success.
func (j *Job) CompletionRatio() float64 {
	if len(j.SubtaskIDs) == 0 {
		return 0
	}
	return float64(len(j.Completed)) / float64(len(j.SubtaskIDs))
}

// Clone returns a deep copy of the job.
func (j *Job) Clone() *Job {
	c := *j
	c.SubtaskIDs = append([]string(nil), j.SubtaskIDs...)
	c.Completed = append([]string(nil), j.Completed...)
	if j.Failed != nil {
		c.Failed = make(map[string]SubtaskFailure, len(j.Failed))
		for k, v := range j.Failed {
			c.Failed[k] = v
		}
	}
	if j.Metadata != nil {
		c.Metadata = make(map[string]string, len(j.Metadata))
		for k, v := range j.Metadata {
			c.Metadata[k] = v
		}
	}
	if j.ProcessedAt != nil {
		t := *j.ProcessedAt
		c.ProcessedAt = &t
	}
	return &c
}

// TriggerRecord is the audit record written after a downstream message is
// sent. It doubles as a best-effort duplicate-send guard and expires after
// a TTL since it is not required for correctness.
type TriggerRecord struct {
	JobID   string    `json:"jobId"`
	Queue   string    `json:"queue"`
	Message []byte    `json:"message"`
	SentAt  time.Time `json:"sentAt"`
}
