package job

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/maheshrc27/threadflow/internal/queue"
	"github.com/maheshrc27/threadflow/internal/service"
	"github.com/rs/zerolog/log"
)

// Worker executes dispatched jobs. The same handlers serve the asynq server
// and the local dispatcher.
type Worker struct {
	publisher service.PublishService
	videos    service.VideoService
}

func NewWorker(publisher service.PublishService, videos service.VideoService) *Worker {
	return &Worker{
		publisher: publisher,
		videos:    videos,
	}
}

func (w *Worker) Register(r queue.Registrar) {
	r.Handle(queue.TargetPublishThread, w.HandlePublishThread)
	r.Handle(queue.TargetProcessVideo, w.HandleProcessVideo)
}

func (w *Worker) HandlePublishThread(ctx context.Context, payload []byte) error {
	var p queue.PublishThreadPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.ThreadID == "" {
		return fmt.Errorf("invalid publish payload %q: %v", payload, err)
	}

	res, err := w.publisher.PublishThread(ctx, p.ThreadID)
	if err != nil {
		log.Error().Err(err).Str("thread_id", p.ThreadID).Msg("publish thread")
		return err
	}

	ev := log.Info()
	if res.Outcome != service.OutcomePublished && res.Outcome != service.OutcomeSkipped {
		ev = log.Warn()
	}
	ev.Str("thread_id", p.ThreadID).Str("outcome", string(res.Outcome)).Str("thread_url", res.ThreadURL).
		Str("error", res.Error).Msg("publish job done")
	return nil
}

func (w *Worker) HandleProcessVideo(ctx context.Context, payload []byte) error {
	var p queue.ProcessVideoPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.JobID == "" {
		return fmt.Errorf("invalid video payload %q: %v", payload, err)
	}
	return w.videos.Process(ctx, p.JobID)
}
