package job

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/maheshrc27/threadflow/internal/clock"
	"github.com/maheshrc27/threadflow/internal/models"
	"github.com/maheshrc27/threadflow/internal/queue"
	"github.com/maheshrc27/threadflow/internal/repository"
	"github.com/rs/zerolog/log"
)

const (
	ReconcileSpec  = "@every 5m"
	reconcileBatch = 100
)

const stuckMessage = "publishing was interrupted"

// ScheduleReconcileJob re-dispatches threads whose publish time passed a while
// ago without the job firing, e.g. timers lost on a local mode restart. It also
// settles posts left in publishing by a run that died or could not save.
type ScheduleReconcileJob struct {
	posts      repository.PostRepository
	history    repository.PostingHistoryRepository
	dispatcher queue.Dispatcher
	clk        clock.Clock
	grace      time.Duration
	stuckAfter time.Duration
}

func NewScheduleReconcileJob(
	posts repository.PostRepository,
	history repository.PostingHistoryRepository,
	dispatcher queue.Dispatcher,
	clk clock.Clock,
	grace time.Duration,
	stuckAfter time.Duration) *ScheduleReconcileJob {
	return &ScheduleReconcileJob{
		posts:      posts,
		history:    history,
		dispatcher: dispatcher,
		clk:        clk,
		grace:      grace,
		stuckAfter: stuckAfter,
	}
}

func (j *ScheduleReconcileJob) Reconcile() {
	ctx := context.Background()
	now := j.clk.Now()

	j.settleStuck(ctx, now)
	j.redispatchStale(ctx, now)
}

// settleStuck marks stuck posts published when the history shows they went
// live, and failed otherwise, so the thread can be resumed or edited.
func (j *ScheduleReconcileJob) settleStuck(ctx context.Context, now time.Time) {
	stuck, err := j.posts.ListStuckPublishing(ctx, now.Add(-j.stuckAfter), reconcileBatch)
	if err != nil {
		log.Error().Err(err).Msg("list stuck publishing posts")
		return
	}
	if len(stuck) == 0 {
		return
	}

	ids := make([]int64, len(stuck))
	for i, p := range stuck {
		ids[i] = p.ID
	}
	history, err := j.history.ListByPostIDs(ctx, ids)
	if err != nil {
		log.Error().Err(err).Msg("load posting history")
		return
	}
	live := make(map[int64]*models.PostingHistory)
	for _, h := range history {
		if h.ExternalPostID != "" {
			live[h.PostID] = h
		}
	}

	var published, failed int
	for _, p := range stuck {
		if h, ok := live[p.ID]; ok {
			if err := j.posts.MarkPublished(ctx, p.ID, h.ExternalPostID, "", h.CreatedAt); err != nil {
				log.Error().Err(err).Int64("post_id", p.ID).Msg("settle published post")
				continue
			}
			published++
			continue
		}
		if err := j.posts.MarkFailed(ctx, p.ID, stuckMessage); err != nil {
			log.Error().Err(err).Int64("post_id", p.ID).Msg("settle failed post")
			continue
		}
		failed++
	}
	log.Info().Int("published", published).Int("failed", failed).Msg("stuck posts settled")
}

func (j *ScheduleReconcileJob) redispatchStale(ctx context.Context, now time.Time) {
	stale, err := j.posts.ListStaleScheduled(ctx, now.Add(-j.grace).UnixMilli(), reconcileBatch)
	if err != nil {
		log.Error().Err(err).Msg("list stale scheduled threads")
		return
	}
	if len(stale) == 0 {
		return
	}

	var wg sync.WaitGroup

	concurrencyLimit := 10
	semaphore := make(chan struct{}, concurrencyLimit)

	for _, p := range stale {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(p *models.Post) {
			defer wg.Done()
			defer func() { <-semaphore }()
			j.redispatch(ctx, p, now)
		}(p)
	}
	wg.Wait()

	log.Info().Int("threads", len(stale)).Msg("stale schedules re-dispatched")
}

func (j *ScheduleReconcileJob) redispatch(ctx context.Context, p *models.Post, now time.Time) {
	if p.JobID != "" {
		j.dispatcher.Cancel(ctx, p.JobID)
	}

	payload, err := json.Marshal(queue.PublishThreadPayload{ThreadID: p.ThreadID})
	if err != nil {
		return
	}
	handle, err := j.dispatcher.Publish(ctx, queue.TargetPublishThread, payload, now)
	if err != nil {
		log.Error().Err(err).Str("thread_id", p.ThreadID).Msg("re-dispatch thread")
		return
	}
	if err := j.posts.SetJobID(ctx, p.ThreadID, handle); err != nil {
		log.Error().Err(err).Str("thread_id", p.ThreadID).Str("handle", handle).Msg("store job handle")
	}
}
