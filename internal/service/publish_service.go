package service

import (
	"context"
	"fmt"
	"time"

	"github.com/maheshrc27/threadflow/internal/apperr"
	"github.com/maheshrc27/threadflow/internal/clock"
	"github.com/maheshrc27/threadflow/internal/models"
	"github.com/maheshrc27/threadflow/internal/repository"
	"github.com/rs/zerolog/log"
)

type PublishOutcome string

const (
	OutcomePublished          PublishOutcome = "published"
	OutcomePartiallyPublished PublishOutcome = "partially_published"
	OutcomeFailed             PublishOutcome = "failed"
	// OutcomeSkipped means the job had nothing to do: the thread was deleted,
	// already published, edited back to draft, or claimed by another run.
	OutcomeSkipped PublishOutcome = "skipped"
)

type PublishedPost struct {
	PostID     int64  `json:"post_id"`
	ExternalID string `json:"external_id"`
	URL        string `json:"url"`
}

type PublishResult struct {
	ThreadID   string          `json:"thread_id"`
	Outcome    PublishOutcome  `json:"outcome"`
	Published  []PublishedPost `json:"published"`
	ThreadURL  string          `json:"thread_url,omitempty"`
	Error      string          `json:"error,omitempty"`
	RetryAfter *time.Time      `json:"retry_after,omitempty"`
}

type PublishService interface {
	PublishThread(ctx context.Context, threadID string) (*PublishResult, error)
}

type publishService struct {
	posts   repository.PostRepository
	history repository.PostingHistoryRepository
	clients SocialClientFactory
	clk     clock.Clock
}

func NewPublishService(
	posts repository.PostRepository,
	history repository.PostingHistoryRepository,
	clients SocialClientFactory,
	clk clock.Clock) PublishService {
	return &publishService{
		posts:   posts,
		history: history,
		clients: clients,
		clk:     clk,
	}
}

func skipped(res *PublishResult, reason string) (*PublishResult, error) {
	res.Outcome = OutcomeSkipped
	res.Error = reason
	log.Info().Str("thread_id", res.ThreadID).Str("reason", reason).Msg("publish skipped")
	return res, nil
}

func (s *publishService) PublishThread(ctx context.Context, threadID string) (*PublishResult, error) {
	res := &PublishResult{ThreadID: threadID}

	posts, err := s.posts.ListByThreadID(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("load thread: %w", err)
	}
	if len(posts) == 0 {
		return skipped(res, "thread not found")
	}

	var pending int
	for _, p := range posts {
		if p.Status == models.PostStatusPublished {
			continue
		}
		if !p.Status.Pending() {
			return skipped(res, fmt.Sprintf("post %d is %s", p.ID, p.Status))
		}
		pending++
	}
	if pending == 0 {
		return skipped(res, "already published")
	}

	claimed, err := s.posts.ClaimForPublishing(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("claim thread: %w", err)
	}
	if claimed != int64(pending) {
		return skipped(res, "thread claimed by another run")
	}

	client, err := s.clients.ForAccount(ctx, posts[0].AccountID)
	if err != nil {
		msg := errorText(err)
		if ferr := s.posts.FailUnpublished(ctx, threadID, msg); ferr != nil {
			log.Error().Err(ferr).Str("thread_id", threadID).Msg("mark thread failed")
		}
		res.Outcome = OutcomeFailed
		res.Error = msg
		return res, nil
	}

	var replyTo, rootID string
	var hadPublished, attempted bool
	for _, p := range posts {
		if p.Status == models.PostStatusPublished {
			hadPublished = true
			replyTo = p.ExternalPostID
			if rootID == "" {
				rootID = p.ExternalPostID
			}
			continue
		}

		if attempted && p.DelayMs > 0 {
			if err := s.clk.Sleep(ctx, time.Duration(p.DelayMs)*time.Millisecond); err != nil {
				s.fail(ctx, res, p, err)
				break
			}
		}
		attempted = true

		externalID, err := client.CreatePost(ctx, p.Content, mediaIDs(p.Media), replyTo)
		if err != nil {
			s.fail(ctx, res, p, err)
			break
		}

		s.record(ctx, p, externalID, "")
		perr := s.markPublished(ctx, p.ID, externalID, replyTo)

		res.Published = append(res.Published, PublishedPost{PostID: p.ID, ExternalID: externalID, URL: client.PostURL(externalID)})
		replyTo = externalID
		if rootID == "" {
			rootID = externalID
		}
		if perr != nil {
			s.persistFailed(ctx, res, p, externalID, perr)
			break
		}
	}

	if rootID != "" {
		res.ThreadURL = client.PostURL(rootID)
	}
	switch {
	case res.Outcome == OutcomeFailed && (hadPublished || len(res.Published) > 0):
		res.Outcome = OutcomePartiallyPublished
	case res.Outcome == "":
		res.Outcome = OutcomePublished
	}

	log.Info().Str("thread_id", threadID).Str("outcome", string(res.Outcome)).
		Int("published", len(res.Published)).Msg("thread publish finished")
	return res, nil
}

// fail stops the chain at p: p becomes failed and everything after it goes back to draft.
func (s *publishService) fail(ctx context.Context, res *PublishResult, p *models.Post, cause error) {
	msg := errorText(cause)
	ctx = context.WithoutCancel(ctx)

	s.record(ctx, p, "", msg)
	if err := s.posts.MarkFailed(ctx, p.ID, msg); err != nil {
		log.Error().Err(err).Int64("post_id", p.ID).Msg("mark post failed")
	}
	if err := s.posts.ResetAfter(ctx, p.ThreadID, p.Position); err != nil {
		log.Error().Err(err).Str("thread_id", p.ThreadID).Msg("reset remaining posts")
	}

	res.Outcome = OutcomeFailed
	res.Error = msg
	if at, ok := apperr.RetryAfter(cause); ok {
		res.RetryAfter = &at
	}
	log.Warn().Err(cause).Str("thread_id", p.ThreadID).Int64("post_id", p.ID).Int("position", p.Position).Msg("post failed")
}

// markPublished persists a live post, retrying once.
func (s *publishService) markPublished(ctx context.Context, postID int64, externalID, replyTo string) error {
	ctx = context.WithoutCancel(ctx)
	err := s.posts.MarkPublished(ctx, postID, externalID, replyTo, s.clk.Now())
	if err == nil {
		return nil
	}
	log.Warn().Err(err).Int64("post_id", postID).Str("external_id", externalID).Msg("persist published post, retrying")
	return s.posts.MarkPublished(ctx, postID, externalID, replyTo, s.clk.Now())
}

// persistFailed stops the chain after a post went live but could not be
// saved. The post keeps its publishing status until the reconcile job settles
// it from the posting history; the rest of the thread goes back to draft.
func (s *publishService) persistFailed(ctx context.Context, res *PublishResult, p *models.Post, externalID string, cause error) {
	ctx = context.WithoutCancel(ctx)
	if err := s.posts.ResetAfter(ctx, p.ThreadID, p.Position); err != nil {
		log.Error().Err(err).Str("thread_id", p.ThreadID).Msg("reset remaining posts")
	}

	res.Outcome = OutcomeFailed
	res.Error = fmt.Sprintf("post %d is live as %s but could not be saved", p.ID, externalID)
	log.Error().Err(cause).Str("thread_id", p.ThreadID).Int64("post_id", p.ID).Str("external_id", externalID).
		Msg("published post not persisted")
}

func (s *publishService) record(ctx context.Context, p *models.Post, externalID, errMsg string) {
	_, err := s.history.Create(context.WithoutCancel(ctx), &models.PostingHistory{
		PostID:         p.ID,
		AccountID:      p.AccountID,
		ExternalPostID: externalID,
		ErrorMessage:   errMsg,
	})
	if err != nil {
		log.Error().Err(err).Int64("post_id", p.ID).Msg("save posting history")
	}
}

func mediaIDs(media models.MediaList) []string {
	var ids []string
	for _, m := range media {
		if m.ExternalMediaID != "" {
			ids = append(ids, m.ExternalMediaID)
		}
	}
	return ids
}

func errorText(err error) string {
	if msg := apperr.Message(err); apperr.KindOf(err) != apperr.KindInternal {
		return msg
	}
	return err.Error()
}
