package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"
)

const DefaultQueue = "default"

type AsynqDispatcher struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	queue     string
	timeout   time.Duration
}

func NewAsynqDispatcher(client *asynq.Client, inspector *asynq.Inspector, timeout time.Duration) *AsynqDispatcher {
	return &AsynqDispatcher{
		client:    client,
		inspector: inspector,
		queue:     DefaultQueue,
		timeout:   timeout,
	}
}

func (d *AsynqDispatcher) Publish(ctx context.Context, target string, payload []byte, notBefore time.Time) (string, error) {
	task := asynq.NewTask(target, payload)

	info, err := d.client.EnqueueContext(ctx, task,
		asynq.TaskID(uuid.NewString()),
		asynq.Queue(d.queue),
		asynq.ProcessAt(notBefore),
		asynq.MaxRetry(0),
		asynq.Timeout(d.timeout),
	)
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", target, err)
	}

	log.Info().Str("target", target).Str("handle", info.ID).Time("not_before", notBefore).Msg("task scheduled")
	return info.ID, nil
}

func (d *AsynqDispatcher) Cancel(ctx context.Context, handle string) {
	if handle == "" {
		return
	}
	err := d.inspector.DeleteTask(d.queue, handle)
	switch {
	case err == nil:
		log.Info().Str("handle", handle).Msg("task canceled")
	case errors.Is(err, asynq.ErrTaskNotFound):
	default:
		log.Warn().Err(err).Str("handle", handle).Msg("cancel task")
	}
}

// AsynqRegistrar adapts HandlerFuncs onto an asynq.ServeMux. Handler errors
// are wrapped with asynq.SkipRetry: jobs are never retried by the broker.
type AsynqRegistrar struct {
	mux *asynq.ServeMux
}

func NewAsynqRegistrar() *AsynqRegistrar {
	return &AsynqRegistrar{mux: asynq.NewServeMux()}
}

func (r *AsynqRegistrar) Handle(target string, h HandlerFunc) {
	r.mux.HandleFunc(target, func(ctx context.Context, t *asynq.Task) error {
		if err := h(ctx, t.Payload()); err != nil {
			return fmt.Errorf("%s: %v: %w", target, err, asynq.SkipRetry)
		}
		return nil
	})
}

func (r *AsynqRegistrar) ProcessTask(ctx context.Context, t *asynq.Task) error {
	return r.mux.ProcessTask(ctx, t)
}
