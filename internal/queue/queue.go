// Package queue delivers "process photo" jobs at least once, with bounded
// retries and a dead-letter channel, over NATS JetStream, asynq or memory.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const TaskProcessPhoto = "photo:process"

// Task is the job payload. It carries only the photo id; everything else
// is read from the store when the job runs.
type Task struct {
	PhotoID    uuid.UUID `json:"photo_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Delivery is one attempt at a task. Attempt starts at 1.
type Delivery struct {
	Task
	Attempt int
}

type Handler func(ctx context.Context, d Delivery) error

// DeadLetter describes a task that will not be retried.
type DeadLetter struct {
	PhotoID  uuid.UUID `json:"photo_id"`
	Attempts int       `json:"attempts"`
	Error    string    `json:"error"`
	At       time.Time `json:"at"`
}

type Producer interface {
	Enqueue(ctx context.Context, photoID uuid.UUID) error
	Close()
}

type Consumer interface {
	// Start launches the workers and returns; they stop when ctx is done.
	Start(ctx context.Context, h Handler) error
	Close()
}

// Policy decides what happens to a failed delivery.
type Policy struct {
	MaxAttempts  int
	Backoff      func(attempt int) time.Duration
	Retryable    func(err error) bool
	OnDeadLetter func(ctx context.Context, dl DeadLetter)
}

type verdict int

const (
	ack verdict = iota
	retry
	deadLetter
)

func (p Policy) decide(attempt int, err error) (verdict, time.Duration) {
	if err == nil {
		return ack, 0
	}
	if p.Retryable != nil && !p.Retryable(err) {
		return deadLetter, 0
	}
	if attempt >= p.maxAttempts() {
		return deadLetter, 0
	}
	if p.Backoff == nil {
		return retry, 0
	}
	return retry, p.Backoff(attempt)
}

func (p Policy) maxAttempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p Policy) deadLetter(ctx context.Context, d Delivery, err error) DeadLetter {
	dl := DeadLetter{
		PhotoID:  d.PhotoID,
		Attempts: d.Attempt,
		Error:    err.Error(),
		At:       time.Now().UTC(),
	}
	if p.OnDeadLetter != nil {
		p.OnDeadLetter(ctx, dl)
	}
	return dl
}

func encodeTask(id uuid.UUID) ([]byte, error) {
	payload, err := json.Marshal(Task{PhotoID: id, EnqueuedAt: time.Now().UTC()})
	if err != nil {
		return nil, fmt.Errorf("marshal task: %w", err)
	}
	return payload, nil
}

func decodeTask(data []byte) (Task, error) {
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return Task{}, fmt.Errorf("unmarshal task: %w", err)
	}
	if t.PhotoID == uuid.Nil {
		return Task{}, fmt.Errorf("task without photo id")
	}
	return t, nil
}
