package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/h2non/filetype"
	"github.com/maheshrc27/threadflow/internal/apperr"
	"github.com/maheshrc27/threadflow/internal/clock"
	"github.com/maheshrc27/threadflow/internal/models"
	"github.com/maheshrc27/threadflow/internal/queue"
	"github.com/maheshrc27/threadflow/internal/repository"
	"github.com/maheshrc27/threadflow/internal/transfer"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"
)

const (
	MaxVideoBytes    = 512 << 20
	MaxVideoDuration = 140 * time.Second
)

type VideoService interface {
	Submit(ctx context.Context, userID int64, email string, vs *transfer.VideoSubmission) (*models.VideoJob, error)
	// Process runs the download, transcode and upload stages for a job. It is
	// called from the background worker.
	Process(ctx context.Context, jobID string) error
	Status(ctx context.Context, userID int64, jobID string) (*models.VideoJob, error)
}

// ThreadPublisher is the part of the thread service the pipeline needs for auto posting.
type ThreadPublisher interface {
	PublishNow(ctx context.Context, userID int64, threadID string) (*transfer.ThreadView, error)
}

type videoService struct {
	jobs       repository.VideoJobRepository
	posts      repository.PostRepository
	accounts   AccountService
	detector   *PlatformDetector
	extractor  Extractor
	transcoder Transcoder
	store      ObjectStore
	clients    SocialClientFactory
	dispatcher queue.Dispatcher
	threads    ThreadPublisher
	clk        clock.Clock
	httpClient *http.Client
}

func NewVideoService(
	jobs repository.VideoJobRepository,
	posts repository.PostRepository,
	accounts AccountService,
	detector *PlatformDetector,
	extractor Extractor,
	transcoder Transcoder,
	store ObjectStore,
	clients SocialClientFactory,
	dispatcher queue.Dispatcher,
	threads ThreadPublisher,
	clk clock.Clock,
	httpClient *http.Client) VideoService {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Minute}
	}
	return &videoService{
		jobs:       jobs,
		posts:      posts,
		accounts:   accounts,
		detector:   detector,
		extractor:  extractor,
		transcoder: transcoder,
		store:      store,
		clients:    clients,
		dispatcher: dispatcher,
		threads:    threads,
		clk:        clk,
		httpClient: httpClient,
	}
}

func unsupportedPlatform(rawURL string) error {
	return apperr.Validation(apperr.ReasonUnsupportedPlatform, "unsupported video URL: "+rawURL)
}

func (s *videoService) Submit(ctx context.Context, userID int64, email string, vs *transfer.VideoSubmission) (*models.VideoJob, error) {
	if vs == nil {
		return nil, apperr.Validation(apperr.ReasonUnsupportedPlatform, "source_url is required")
	}
	platform, ok := s.detector.Detect(vs.SourceURL)
	if !ok {
		return nil, unsupportedPlatform(vs.SourceURL)
	}

	post, err := s.targetPost(ctx, userID, email, vs)
	if err != nil {
		return nil, err
	}

	job := &models.VideoJob{
		ID:        uuid.NewString(),
		UserID:    userID,
		AccountID: post.AccountID,
		PostID:    post.ID,
		SourceURL: vs.SourceURL,
		Platform:  platform.Name,
		Status:    models.VideoStatusDownloading,
		AutoPost:  vs.AutoPost,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create video job: %w", err)
	}
	if err := s.posts.SetVideoStatus(ctx, post.ID, models.VideoStatusDownloading, ""); err != nil {
		log.Error().Err(err).Int64("post_id", post.ID).Msg("mirror video status")
	}

	payload, err := json.Marshal(queue.ProcessVideoPayload{JobID: job.ID})
	if err != nil {
		return nil, err
	}
	handle, err := s.dispatcher.Publish(ctx, queue.TargetProcessVideo, payload, s.clk.Now())
	if err != nil {
		derr := apperr.External(apperr.ReasonUpstream, "could not start video processing").Wrap(err)
		s.fail(ctx, job, derr)
		return nil, derr
	}

	log.Info().Str("job_id", job.ID).Str("handle", handle).Str("platform", platform.Name).
		Int64("post_id", post.ID).Msg("video job submitted")
	return job, nil
}

// targetPost returns the post the video attaches to, creating a one-post draft
// thread when the submission names none.
func (s *videoService) targetPost(ctx context.Context, userID int64, email string, vs *transfer.VideoSubmission) (*models.Post, error) {
	if vs.PostID != 0 {
		post, err := s.posts.GetByID(ctx, vs.PostID)
		if err != nil {
			return nil, err
		}
		if post == nil || post.UserID != userID {
			return nil, apperr.NotFound("post not found")
		}
		if post.Status == models.PostStatusPublished || post.Status == models.PostStatusPublishing {
			return nil, apperr.Conflict(apperr.ReasonThreadPublished, "post is already published")
		}
		return post, nil
	}

	acc, err := s.accounts.Resolve(ctx, userID, email, vs.AccountID)
	if err != nil {
		return nil, err
	}
	threadID, err := newThreadID()
	if err != nil {
		return nil, fmt.Errorf("generate thread id: %w", err)
	}
	post := &models.Post{
		UserID:    userID,
		AccountID: acc.ID,
		ThreadID:  threadID,
		Status:    models.PostStatusDraft,
	}
	if err := s.posts.CreateThread(ctx, []*models.Post{post}); err != nil {
		return nil, fmt.Errorf("create draft post: %w", err)
	}
	return post, nil
}

func (s *videoService) Process(ctx context.Context, jobID string) error {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		log.Warn().Str("job_id", jobID).Msg("video job vanished")
		return nil
	}
	if job.Status.Terminal() {
		return nil
	}

	if err := s.run(ctx, job); err != nil {
		s.fail(ctx, job, err)
		return err
	}
	return nil
}

func (s *videoService) run(ctx context.Context, job *models.VideoJob) error {
	platform, ok := s.detector.Detect(job.SourceURL)
	if !ok {
		return unsupportedPlatform(job.SourceURL)
	}

	video, err := s.extractor.Extract(ctx, platform.Actor, job.SourceURL)
	if err != nil {
		return err
	}
	if video.Duration > MaxVideoDuration {
		return tooLong(video.Duration)
	}

	data, err := s.download(ctx, video.URL)
	if err != nil {
		return err
	}

	if err := s.setStatus(ctx, job, models.VideoStatusTranscoding); err != nil {
		return err
	}
	if out, err := s.transcoder.Transcode(ctx, data); err != nil {
		log.Warn().Err(err).Str("job_id", job.ID).Msg("transcode failed, keeping source bytes")
	} else {
		data = out
	}

	if len(data) > MaxVideoBytes {
		return apperr.Validation(apperr.ReasonMediaTooLarge, "video is larger than 512MB")
	}
	if !filetype.IsVideo(data) {
		return apperr.Validation(apperr.ReasonBadFormat, "downloaded file is not a video")
	}
	kind, _ := filetype.Match(data)
	mimeType := kind.MIME.Value

	duration := video.Duration
	if duration == 0 {
		if duration, err = s.transcoder.Probe(ctx, data); err != nil {
			log.Warn().Err(err).Str("job_id", job.ID).Msg("probe duration")
		}
	}
	if duration > MaxVideoDuration {
		return tooLong(duration)
	}

	if err := s.setStatus(ctx, job, models.VideoStatusUploading); err != nil {
		return err
	}

	name, err := gonanoid.New()
	if err != nil {
		return err
	}
	key := fmt.Sprintf("videos/%d/%s.%s", job.UserID, name, kind.Extension)
	url, err := s.store.Put(ctx, key, data, mimeType)
	if err != nil {
		return apperr.External(apperr.ReasonUpstream, "could not store the video").Wrap(err)
	}

	client, err := s.clients.ForAccount(ctx, job.AccountID)
	if err != nil {
		return err
	}
	mediaID, err := client.UploadMedia(ctx, data, mimeType, MediaCategoryVideo)
	if err != nil {
		return err
	}

	item := models.MediaItem{
		ObjectKey:       key,
		ExternalMediaID: mediaID,
		Type:            models.MediaTypeVideo,
		URL:             url,
	}
	if err := s.posts.AppendMedia(ctx, job.PostID, item); err != nil {
		return fmt.Errorf("attach media: %w", err)
	}
	if err := s.jobs.Complete(ctx, job.ID, item); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if err := s.posts.SetVideoStatus(ctx, job.PostID, models.VideoStatusComplete, ""); err != nil {
		log.Error().Err(err).Int64("post_id", job.PostID).Msg("mirror video status")
	}
	job.Status = models.VideoStatusComplete
	job.Media = &item
	log.Info().Str("job_id", job.ID).Str("media_id", mediaID).Int("bytes", len(data)).Msg("video attached")

	if job.AutoPost {
		s.autoPost(ctx, job)
	}
	return nil
}

func (s *videoService) autoPost(ctx context.Context, job *models.VideoJob) {
	post, err := s.posts.GetByID(ctx, job.PostID)
	if err != nil || post == nil {
		log.Error().Err(err).Int64("post_id", job.PostID).Msg("auto post: load post")
		return
	}
	if _, err := s.threads.PublishNow(ctx, job.UserID, post.ThreadID); err != nil {
		log.Error().Err(err).Str("thread_id", post.ThreadID).Str("job_id", job.ID).Msg("auto post")
	}
}

func (s *videoService) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperr.External(apperr.ReasonExtractionFailed, "extracted media URL is invalid").Wrap(err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, apperr.External(apperr.ReasonUpstream, "video download failed").Wrap(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperr.External(apperr.ReasonUpstream, fmt.Sprintf("video download returned %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxVideoBytes+1))
	if err != nil {
		return nil, apperr.External(apperr.ReasonUpstream, "video download interrupted").Wrap(err)
	}
	if len(data) > MaxVideoBytes {
		return nil, apperr.Validation(apperr.ReasonMediaTooLarge, "video is larger than 512MB")
	}
	return data, nil
}

func (s *videoService) setStatus(ctx context.Context, job *models.VideoJob, status models.VideoStatus) error {
	if err := s.jobs.UpdateStatus(ctx, job.ID, status, ""); err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if err := s.posts.SetVideoStatus(ctx, job.PostID, status, ""); err != nil {
		log.Error().Err(err).Int64("post_id", job.PostID).Msg("mirror video status")
	}
	job.Status = status
	log.Info().Str("job_id", job.ID).Str("status", string(status)).Msg("video job stage")
	return nil
}

func (s *videoService) fail(ctx context.Context, job *models.VideoJob, cause error) {
	msg := errorText(cause)
	ctx = context.WithoutCancel(ctx)

	if err := s.jobs.UpdateStatus(ctx, job.ID, models.VideoStatusFailed, msg); err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("mark video job failed")
	}
	if err := s.posts.SetVideoStatus(ctx, job.PostID, models.VideoStatusFailed, msg); err != nil {
		log.Error().Err(err).Int64("post_id", job.PostID).Msg("mirror video status")
	}
	job.Status = models.VideoStatusFailed
	job.ErrorMessage = msg
	log.Warn().Err(cause).Str("job_id", job.ID).Str("reason", apperr.ReasonOf(cause)).Msg("video job failed")
}

func (s *videoService) Status(ctx context.Context, userID int64, jobID string) (*models.VideoJob, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil || job.UserID != userID {
		return nil, apperr.NotFound("video job not found")
	}
	return job, nil
}

func tooLong(d time.Duration) error {
	return apperr.Validation(apperr.ReasonMediaTooLong,
		fmt.Sprintf("video is %.0fs long, the limit is %.0fs", d.Seconds(), MaxVideoDuration.Seconds()))
}
