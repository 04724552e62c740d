package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/maheshrc27/threadflow/internal/apperr"
	"github.com/maheshrc27/threadflow/internal/backoff"
	"github.com/maheshrc27/threadflow/internal/clock"
	"github.com/maheshrc27/threadflow/internal/transfer"
	"github.com/rs/zerolog/log"
)

const (
	runStatusSucceeded = "SUCCEEDED"
	runStatusFailed    = "FAILED"
	runStatusAborted   = "ABORTED"
	runStatusTimedOut  = "TIMED-OUT"
)

type ExtractedVideo struct {
	URL      string
	Duration time.Duration // zero when the source did not report it
}

type Extractor interface {
	// Extract resolves a public post URL to a direct media URL, waiting for the
	// extraction run to finish.
	Extract(ctx context.Context, actor, sourceURL string) (*ExtractedVideo, error)
}

type ExtractorConfig struct {
	BaseURL      string
	Token        string
	DefaultActor string
}

type extractorService struct {
	cfg    ExtractorConfig
	client *http.Client
	clk    clock.Clock
	policy backoff.Policy
}

func NewExtractorService(cfg ExtractorConfig, client *http.Client, clk clock.Clock, policy backoff.Policy) Extractor {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &extractorService{
		cfg:    cfg,
		client: client,
		clk:    clk,
		policy: policy,
	}
}

func (s *extractorService) Extract(ctx context.Context, actor, sourceURL string) (*ExtractedVideo, error) {
	if actor == "" {
		actor = s.cfg.DefaultActor
	}
	if actor == "" {
		return nil, apperr.External(apperr.ReasonExtractionFailed, "no extraction actor configured")
	}

	run, err := s.startRun(ctx, actor, sourceURL)
	if err != nil {
		return nil, err
	}
	log.Info().Str("run_id", run.ID).Str("actor", actor).Msg("extraction started")

	var finished *transfer.ExtractorRun
	err = backoff.Poll(ctx, s.clk, s.policy, func(ctx context.Context, attempt int) (bool, error) {
		r, err := s.runStatus(ctx, run.ID)
		if err != nil {
			log.Warn().Err(err).Str("run_id", run.ID).Int("attempt", attempt).Msg("extraction status check failed")
			return false, nil
		}
		switch r.Status {
		case runStatusSucceeded:
			finished = r
			return true, nil
		case runStatusFailed, runStatusAborted, runStatusTimedOut:
			msg := fmt.Sprintf("extraction run %s", strings.ToLower(r.Status))
			if r.StatusMessage != "" {
				msg += ": " + r.StatusMessage
			}
			return false, apperr.External(apperr.ReasonExtractionFailed, msg)
		}
		return false, nil
	})
	if err != nil {
		if errors.Is(err, backoff.ErrExhausted) {
			return nil, apperr.Timeout(apperr.ReasonExtractionTimeout, "video extraction did not finish in time")
		}
		return nil, err
	}

	items, err := s.items(ctx, finished.DefaultDatasetID)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if v := videoFromItem(item); v != nil {
			return v, nil
		}
	}
	return nil, apperr.External(apperr.ReasonExtractionFailed, "no video found at the source URL")
}

// videoFromItem reads the first item that carries a direct media URL.
func videoFromItem(item transfer.ExtractorItem) *ExtractedVideo {
	u := item.VideoURL
	if u == "" {
		u = item.DownloadURL
	}
	if u == "" {
		u = item.MediaURL
	}
	if u == "" {
		return nil
	}

	secs := item.Duration
	if secs == 0 {
		secs = item.VideoDuration
	}
	return &ExtractedVideo{URL: u, Duration: time.Duration(secs * float64(time.Second))}
}

func (s *extractorService) endpoint(path string, query url.Values) string {
	if query == nil {
		query = url.Values{}
	}
	query.Set("token", s.cfg.Token)
	return strings.TrimRight(s.cfg.BaseURL, "/") + path + "?" + query.Encode()
}

func (s *extractorService) startRun(ctx context.Context, actor, sourceURL string) (*transfer.ExtractorRun, error) {
	body, err := json.Marshal(transfer.ExtractorRunInput{
		StartURLs: []transfer.ExtractorStartURL{{URL: sourceURL}},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.endpoint("/v2/acts/"+url.PathEscape(actor)+"/runs", nil), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var out transfer.ExtractorRunResponse
	if err := s.doJSON(req, &out); err != nil {
		return nil, apperr.External(apperr.ReasonExtractionFailed, "could not start extraction").Wrap(err)
	}
	if out.Data.ID == "" {
		return nil, apperr.External(apperr.ReasonExtractionFailed, "extraction service returned no run id")
	}
	return &out.Data, nil
}

func (s *extractorService) runStatus(ctx context.Context, runID string) (*transfer.ExtractorRun, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint("/v2/actor-runs/"+url.PathEscape(runID), nil), nil)
	if err != nil {
		return nil, err
	}
	var out transfer.ExtractorRunResponse
	if err := s.doJSON(req, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

func (s *extractorService) items(ctx context.Context, datasetID string) ([]transfer.ExtractorItem, error) {
	q := url.Values{}
	q.Set("format", "json")
	q.Set("clean", "true")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint("/v2/datasets/"+url.PathEscape(datasetID)+"/items", q), nil)
	if err != nil {
		return nil, err
	}
	var out []transfer.ExtractorItem
	if err := s.doJSON(req, &out); err != nil {
		return nil, apperr.External(apperr.ReasonExtractionFailed, "could not read extraction results").Wrap(err)
	}
	return out, nil
}

func (s *extractorService) doJSON(req *http.Request, out interface{}) error {
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("extractor returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
