package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/maheshrc27/threadflow/internal/apperr"
	"github.com/maheshrc27/threadflow/internal/clock"
	"github.com/maheshrc27/threadflow/internal/models"
	"github.com/maheshrc27/threadflow/internal/queue"
	"github.com/maheshrc27/threadflow/internal/repository"
	"github.com/maheshrc27/threadflow/internal/slots"
	"github.com/maheshrc27/threadflow/internal/transfer"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"
)

const MaxThreadLength = 25

type ThreadService interface {
	CreateThread(ctx context.Context, userID int64, email string, tc *transfer.ThreadCreation) (*transfer.ThreadView, error)
	UpdateThread(ctx context.Context, userID int64, threadID string, tc *transfer.ThreadCreation) (*transfer.ThreadView, error)
	DeleteThread(ctx context.Context, userID int64, threadID string) error
	QueueThread(ctx context.Context, userID int64, threadID string) (*transfer.QueuedThread, error)
	BulkQueue(ctx context.Context, userID int64, req *transfer.BulkQueueRequest) ([]transfer.QueuedThread, error)
	// PublishNow dispatches the thread immediately. A partially published
	// thread resumes after its last published post.
	PublishNow(ctx context.Context, userID int64, threadID string) (*transfer.ThreadView, error)
	GetThread(ctx context.Context, userID int64, threadID string) (*transfer.ThreadView, error)
	ListThreads(ctx context.Context, userID int64) ([]*transfer.ThreadView, error)
}

type threadService struct {
	posts      repository.PostRepository
	history    repository.PostingHistoryRepository
	accounts   AccountService
	slots      SlotService
	dispatcher queue.Dispatcher
	clk        clock.Clock
}

func NewThreadService(
	posts repository.PostRepository,
	history repository.PostingHistoryRepository,
	accounts AccountService,
	slots SlotService,
	dispatcher queue.Dispatcher,
	clk clock.Clock) ThreadService {
	return &threadService{
		posts:      posts,
		history:    history,
		accounts:   accounts,
		slots:      slots,
		dispatcher: dispatcher,
		clk:        clk,
	}
}

func newThreadID() (string, error) {
	return gonanoid.New()
}

func validateThread(tc *transfer.ThreadCreation) error {
	if tc == nil || len(tc.Posts) == 0 {
		return apperr.Validation(apperr.ReasonInvalidThread, "a thread needs at least one post")
	}
	if len(tc.Posts) > MaxThreadLength {
		return apperr.Validation(apperr.ReasonInvalidThread, fmt.Sprintf("a thread can have at most %d posts", MaxThreadLength))
	}
	for i, p := range tc.Posts {
		n := utf8.RuneCountInString(p.Content)
		if n > models.MaxContentLength {
			return apperr.Validation(apperr.ReasonContentTooLong,
				fmt.Sprintf("post %d is %d characters, the limit is %d", i+1, n, models.MaxContentLength))
		}
		if strings.TrimSpace(p.Content) == "" && len(p.Media) == 0 {
			return apperr.Validation(apperr.ReasonInvalidThread, fmt.Sprintf("post %d is empty", i+1))
		}
		if p.DelayMs < 0 {
			return apperr.Validation(apperr.ReasonInvalidThread, fmt.Sprintf("post %d has a negative delay", i+1))
		}
	}
	switch tc.Mode {
	case "", transfer.ModeDraft, transfer.ModeSchedule, transfer.ModeQueue, transfer.ModeNow:
	default:
		return apperr.Validation(apperr.ReasonInvalidSchedule, "unknown mode "+tc.Mode)
	}
	return nil
}

func buildPosts(userID, accountID int64, threadID string, inputs []transfer.PostInput) []*models.Post {
	posts := make([]*models.Post, len(inputs))
	for i, in := range inputs {
		posts[i] = &models.Post{
			UserID:    userID,
			AccountID: accountID,
			ThreadID:  threadID,
			Position:  i,
			Content:   in.Content,
			Media:     models.MediaList(in.Media),
			DelayMs:   in.DelayMs,
			Status:    models.PostStatusDraft,
		}
	}
	return posts
}

// scheduleTime parses the manual time up front so a bad request never creates rows.
func (s *threadService) scheduleTime(tc *transfer.ThreadCreation) (time.Time, error) {
	if tc.Mode != transfer.ModeSchedule {
		return time.Time{}, nil
	}
	at, err := time.Parse(time.RFC3339, tc.ScheduledAt)
	if err != nil {
		return time.Time{}, apperr.Validation(apperr.ReasonInvalidSchedule, "scheduled_at must be an RFC3339 time")
	}
	if !at.After(s.clk.Now()) {
		return time.Time{}, apperr.Validation(apperr.ReasonInvalidSchedule, "scheduled_at must be in the future")
	}
	return at, nil
}

func (s *threadService) CreateThread(ctx context.Context, userID int64, email string, tc *transfer.ThreadCreation) (*transfer.ThreadView, error) {
	if err := validateThread(tc); err != nil {
		return nil, err
	}
	at, err := s.scheduleTime(tc)
	if err != nil {
		return nil, err
	}

	acc, err := s.accounts.Resolve(ctx, userID, email, tc.AccountID)
	if err != nil {
		return nil, err
	}

	// The slot is picked before any row exists so a full calendar leaves nothing behind.
	if tc.Mode == transfer.ModeQueue {
		if at, err = s.slots.NextSlot(ctx, userID, acc.ID); err != nil {
			return nil, err
		}
	}

	threadID, err := newThreadID()
	if err != nil {
		return nil, fmt.Errorf("generate thread id: %w", err)
	}

	posts := buildPosts(userID, acc.ID, threadID, tc.Posts)
	if err := s.posts.CreateThread(ctx, posts); err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}

	if err := s.applyMode(ctx, userID, posts, tc.Mode, at); err != nil {
		if _, derr := s.posts.DeleteByThreadID(context.WithoutCancel(ctx), threadID); derr != nil {
			log.Error().Err(derr).Str("thread_id", threadID).Msg("remove unscheduled thread")
		}
		return nil, err
	}
	return s.view(ctx, threadID)
}

func (s *threadService) UpdateThread(ctx context.Context, userID int64, threadID string, tc *transfer.ThreadCreation) (*transfer.ThreadView, error) {
	if err := validateThread(tc); err != nil {
		return nil, err
	}
	at, err := s.scheduleTime(tc)
	if err != nil {
		return nil, err
	}

	existing, err := s.owned(ctx, userID, threadID)
	if err != nil {
		return nil, err
	}
	if err := mutable(existing); err != nil {
		return nil, err
	}

	accountID := existing[0].AccountID
	if tc.AccountID != 0 && tc.AccountID != accountID {
		acc, err := s.accounts.Resolve(ctx, userID, "", tc.AccountID)
		if err != nil {
			return nil, err
		}
		accountID = acc.ID
	}

	s.cancelJobs(ctx, existing)

	posts := buildPosts(userID, accountID, threadID, tc.Posts)
	if err := s.posts.ReplaceThread(ctx, threadID, posts); err != nil {
		return nil, fmt.Errorf("replace thread: %w", err)
	}

	if err := s.applyMode(ctx, userID, posts, tc.Mode, at); err != nil {
		return nil, err
	}
	return s.view(ctx, threadID)
}

func (s *threadService) DeleteThread(ctx context.Context, userID int64, threadID string) error {
	posts, err := s.owned(ctx, userID, threadID)
	if err != nil {
		return err
	}
	if err := mutable(posts); err != nil {
		return err
	}

	s.cancelJobs(ctx, posts)

	n, err := s.posts.DeleteByThreadID(ctx, threadID)
	if err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	log.Info().Str("thread_id", threadID).Int64("posts", n).Msg("thread deleted")
	return nil
}

func (s *threadService) QueueThread(ctx context.Context, userID int64, threadID string) (*transfer.QueuedThread, error) {
	posts, err := s.owned(ctx, userID, threadID)
	if err != nil {
		return nil, err
	}
	if err := mutable(posts); err != nil {
		return nil, err
	}

	at, err := s.slots.NextSlot(ctx, userID, posts[0].AccountID)
	if err != nil {
		return nil, err
	}
	s.cancelJobs(ctx, posts)
	if err := s.dispatch(ctx, threadID, models.PostStatusQueued, at); err != nil {
		return nil, err
	}
	return &transfer.QueuedThread{ThreadID: threadID, ScheduledAt: at}, nil
}

func (s *threadService) BulkQueue(ctx context.Context, userID int64, req *transfer.BulkQueueRequest) ([]transfer.QueuedThread, error) {
	if req == nil || len(req.ThreadIDs) == 0 {
		return nil, apperr.Validation(apperr.ReasonInvalidThread, "no threads to queue")
	}
	spacing := slots.Spacing(req.Spacing)
	if spacing == "" {
		spacing = slots.SpacingOptimal
	}
	if !spacing.Valid() {
		return nil, apperr.Validation(apperr.ReasonInvalidSchedule, "unknown spacing "+req.Spacing)
	}

	// Threads are grouped per account so each account gets its own run of slots,
	// handed out in request order.
	threads := make(map[string][]*models.Post, len(req.ThreadIDs))
	byAccount := make(map[int64][]string)
	var accountOrder []int64
	for _, id := range req.ThreadIDs {
		if _, dup := threads[id]; dup {
			continue
		}
		posts, err := s.owned(ctx, userID, id)
		if err != nil {
			return nil, err
		}
		if err := mutable(posts); err != nil {
			return nil, err
		}
		threads[id] = posts
		acc := posts[0].AccountID
		if _, seen := byAccount[acc]; !seen {
			accountOrder = append(accountOrder, acc)
		}
		byAccount[acc] = append(byAccount[acc], id)
	}

	slotFor := make(map[string]time.Time, len(threads))
	for _, acc := range accountOrder {
		ids := byAccount[acc]
		times, err := s.slots.Allocate(ctx, userID, acc, len(ids), spacing)
		if err != nil {
			return nil, err
		}
		for i, id := range ids {
			slotFor[id] = times[i]
		}
	}

	var queued []transfer.QueuedThread
	for _, id := range req.ThreadIDs {
		at, ok := slotFor[id]
		if !ok {
			continue
		}
		delete(slotFor, id)
		s.cancelJobs(ctx, threads[id])
		if err := s.dispatch(ctx, id, models.PostStatusQueued, at); err != nil {
			return queued, err
		}
		queued = append(queued, transfer.QueuedThread{ThreadID: id, ScheduledAt: at})
	}
	return queued, nil
}

func (s *threadService) PublishNow(ctx context.Context, userID int64, threadID string) (*transfer.ThreadView, error) {
	posts, err := s.owned(ctx, userID, threadID)
	if err != nil {
		return nil, err
	}
	switch models.DeriveThreadStatus(posts) {
	case models.ThreadStatusPublished:
		return nil, apperr.Conflict(apperr.ReasonThreadPublished, "thread is already published")
	case models.ThreadStatusPublishing:
		return nil, apperr.Conflict(apperr.ReasonThreadPublished, "thread is being published")
	}

	s.cancelJobs(ctx, posts)
	if err := s.dispatch(ctx, threadID, models.PostStatusScheduled, s.clk.Now()); err != nil {
		return nil, err
	}
	return s.view(ctx, threadID)
}

func (s *threadService) GetThread(ctx context.Context, userID int64, threadID string) (*transfer.ThreadView, error) {
	posts, err := s.owned(ctx, userID, threadID)
	if err != nil {
		return nil, err
	}

	v := threadView(posts)
	ids := make([]int64, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}
	if v.History, err = s.history.ListByPostIDs(ctx, ids); err != nil {
		return nil, fmt.Errorf("load posting history: %w", err)
	}
	return v, nil
}

func (s *threadService) ListThreads(ctx context.Context, userID int64) ([]*transfer.ThreadView, error) {
	posts, err := s.posts.ListByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	var views []*transfer.ThreadView
	index := make(map[string]int)
	var grouped [][]*models.Post
	for _, p := range posts {
		i, ok := index[p.ThreadID]
		if !ok {
			i = len(grouped)
			index[p.ThreadID] = i
			grouped = append(grouped, nil)
		}
		grouped[i] = append(grouped[i], p)
	}
	for _, g := range grouped {
		views = append(views, threadView(g))
	}
	return views, nil
}

func (s *threadService) applyMode(ctx context.Context, userID int64, posts []*models.Post, mode string, at time.Time) error {
	threadID := posts[0].ThreadID
	switch mode {
	case transfer.ModeSchedule:
		return s.dispatch(ctx, threadID, models.PostStatusScheduled, at)
	case transfer.ModeQueue:
		if at.IsZero() {
			slot, err := s.slots.NextSlot(ctx, userID, posts[0].AccountID)
			if err != nil {
				return err
			}
			at = slot
		}
		return s.dispatch(ctx, threadID, models.PostStatusQueued, at)
	case transfer.ModeNow:
		return s.dispatch(ctx, threadID, models.PostStatusScheduled, s.clk.Now())
	}
	return nil
}

// dispatch marks the thread pending at `at` and hands it to the dispatcher. When
// the dispatcher refuses the job the thread goes back to draft.
func (s *threadService) dispatch(ctx context.Context, threadID string, status models.PostStatus, at time.Time) error {
	if err := s.posts.SetSchedule(ctx, threadID, status, at.UnixMilli()); err != nil {
		return fmt.Errorf("set schedule: %w", err)
	}

	payload, err := json.Marshal(queue.PublishThreadPayload{ThreadID: threadID})
	if err != nil {
		return err
	}
	handle, err := s.dispatcher.Publish(ctx, queue.TargetPublishThread, payload, at)
	if err != nil {
		if rerr := s.posts.SetSchedule(context.WithoutCancel(ctx), threadID, models.PostStatusDraft, 0); rerr != nil {
			log.Error().Err(rerr).Str("thread_id", threadID).Msg("revert schedule")
		}
		return apperr.External(apperr.ReasonUpstream, "could not schedule the thread").Wrap(err)
	}

	if err := s.posts.SetJobID(ctx, threadID, handle); err != nil {
		log.Error().Err(err).Str("thread_id", threadID).Str("handle", handle).Msg("store job handle")
	}
	log.Info().Str("thread_id", threadID).Str("handle", handle).Time("at", at).Str("status", string(status)).Msg("thread dispatched")
	return nil
}

func (s *threadService) cancelJobs(ctx context.Context, posts []*models.Post) {
	for _, p := range posts {
		if p.JobID != "" {
			s.dispatcher.Cancel(ctx, p.JobID)
		}
	}
}

// owned loads a thread and checks it belongs to the user. Missing and foreign
// threads look the same to the caller.
func (s *threadService) owned(ctx context.Context, userID int64, threadID string) ([]*models.Post, error) {
	posts, err := s.posts.ListByThreadID(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if len(posts) == 0 || posts[0].UserID != userID {
		return nil, apperr.NotFound("thread not found")
	}
	return posts, nil
}

func mutable(posts []*models.Post) error {
	for _, p := range posts {
		switch p.Status {
		case models.PostStatusPublished:
			return apperr.Conflict(apperr.ReasonThreadPublished, "thread has published posts")
		case models.PostStatusPublishing:
			return apperr.Conflict(apperr.ReasonThreadPublished, "thread is being published")
		}
	}
	return nil
}

func (s *threadService) view(ctx context.Context, threadID string) (*transfer.ThreadView, error) {
	posts, err := s.posts.ListByThreadID(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return threadView(posts), nil
}

func threadView(posts []*models.Post) *transfer.ThreadView {
	v := &transfer.ThreadView{
		Status: models.DeriveThreadStatus(posts),
		Posts:  posts,
	}
	if len(posts) == 0 {
		return v
	}
	v.ThreadID = posts[0].ThreadID
	v.AccountID = posts[0].AccountID
	for _, p := range posts {
		if p.Status.Pending() && p.ScheduledAt > 0 {
			at := time.UnixMilli(p.ScheduledAt).UTC()
			v.ScheduledAt = &at
			break
		}
	}
	return v
}
