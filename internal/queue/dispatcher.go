// Package queue delivers delayed background jobs, either through the asynq
// broker or through an in-process timer based executor.
package queue

import (
	"context"
	"time"
)

const (
	TargetPublishThread = "thread:publish"
	TargetProcessVideo  = "video:process"
)

type PublishThreadPayload struct {
	ThreadID string `json:"thread_id"`
}

type ProcessVideoPayload struct {
	JobID string `json:"job_id"`
}

// Dispatcher schedules a payload for the handler registered under target.
type Dispatcher interface {
	// Publish returns an opaque handle that can later be passed to Cancel.
	Publish(ctx context.Context, target string, payload []byte, notBefore time.Time) (string, error)
	// Cancel is best effort: unknown handles and failures are logged and ignored.
	Cancel(ctx context.Context, handle string)
}

type HandlerFunc func(ctx context.Context, payload []byte) error

type Registrar interface {
	Handle(target string, h HandlerFunc)
}
