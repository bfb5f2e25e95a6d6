// Package queue runs named job queues under one shared concurrency ceiling.
package queue

import (
	"context"
	"time"
)

// JobStatus is the lifecycle state of a job. Completed jobs are removed, so there is no completed status.
type JobStatus string

const (
	JobWaiting    JobStatus = "waiting"
	JobProcessing JobStatus = "processing"
	JobFailed     JobStatus = "failed"
)

// Job is one unit of work on a named queue.
type Job struct {
	ID         string      `json:"id"`
	Queue      string      `json:"queue"`
	Type       string      `json:"type"`
	Payload    interface{} `json:"payload"`
	Status     JobStatus   `json:"status"`
	Error      string      `json:"error,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	StartedAt  time.Time   `json:"started_at,omitempty"`
	FinishedAt time.Time   `json:"finished_at,omitempty"`
}

// Followup is a job a handler asks the scheduler to enqueue once the current job succeeds.
type Followup struct {
	Queue   string
	Type    string
	Payload interface{}
}

// Handler processes a job. Returned follow-ups are enqueued only when err is nil.
type Handler func(ctx context.Context, job *Job) ([]Followup, error)

// QueueStats counts the jobs of one queue.
type QueueStats struct {
	Waiting    int `json:"waiting"`
	Processing int `json:"processing"`
	Failed     int `json:"failed"`
}

// Stats is a snapshot of the job table.
type Stats struct {
	Total         int                   `json:"total"`
	Waiting       int                   `json:"waiting"`
	Processing    int                   `json:"processing"`
	Failed        int                   `json:"failed"`
	MaxConcurrent int                   `json:"max_concurrent"`
	PerQueue      map[string]QueueStats `json:"per_queue"`
}
