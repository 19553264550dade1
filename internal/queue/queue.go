// Package queue carries background ingestion tasks between the assistant API
// and the ingest worker.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"doc-assistant/internal/retry"
)

// TaskType enumerates supported task categories.
type TaskType string

const (
	// TaskTypeRegisterLink fetches, summarizes and registers one URL.
	TaskTypeRegisterLink TaskType = "register_link"
	// TaskTypeIngestFile summarizes an uploaded file already stored on disk.
	TaskTypeIngestFile TaskType = "ingest_file"
)

// Task is one unit of background work.
type Task struct {
	ID      uuid.UUID
	Type    TaskType
	Payload []byte
}

// RegisterLinkPayload is the payload of a TaskTypeRegisterLink task.
type RegisterLinkPayload struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// IngestFilePayload is the payload of a TaskTypeIngestFile task.
type IngestFilePayload struct {
	SessionID string `json:"session_id"`
	FileName  string `json:"file_name"`
	Path      string `json:"path"`
}

// NewTask encodes payload into a task that runs exactly once. Tasks wrap
// billable model calls, so a failed handler is never redelivered.
func NewTask(taskType TaskType, payload any) (Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Task{}, fmt.Errorf("encode %s payload: %w", taskType, err)
	}
	return Task{ID: uuid.New(), Type: taskType, Payload: body}, nil
}

// Decode unmarshals the task payload into v.
func (t Task) Decode(v any) error {
	if err := json.Unmarshal(t.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", t.Type, err)
	}
	return nil
}

type Handler func(context.Context, Task) error

// Queue exposes a minimal contract to enqueue and consume tasks.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	Worker(ctx context.Context, taskType TaskType, handler Handler) error
}

// EnqueueWithRetry attempts to enqueue with retries and exponential backoff.
// Only the publish is retried; a delivered task runs once.
func EnqueueWithRetry(ctx context.Context, q Queue, task Task, attempts int, base time.Duration) error {
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		if err := q.Enqueue(ctx, task); err == nil {
			return nil
		} else if attempt == attempts-1 {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retry.ExponentialBackoff(attempt, base)):
		}
	}
	return nil
}
