// Package queue moves scheduled deployment jobs from the dispatcher to the
// worker pool. Delivery is at-least-once; consumers deduplicate through the
// schedule claim, not the queue.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrClosed signals an operation against a closed queue.
var ErrClosed = errors.New("queue: closed")

// Job is one unit of schedule work. JobID is unique per enqueue so a stale
// re-enqueue of the same schedule is distinguishable from the original.
type Job struct {
	JobID      string    `json:"job_id"`
	ScheduleID string    `json:"schedule_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Queue is a FIFO job transport. Dequeue blocks until a job arrives, the
// context is done, or the queue is closed.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Dequeue(ctx context.Context) (Job, error)
	Close() error
}

func encodeJob(job Job) ([]byte, error) {
	return json.Marshal(job)
}

func decodeJob(data []byte) (Job, error) {
	var job Job
	err := json.Unmarshal(data, &job)
	return job, err
}
