package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/maheshrc27/threadflow/internal/apperr"
	"github.com/maheshrc27/threadflow/internal/backoff"
	"github.com/maheshrc27/threadflow/internal/clock"
	"github.com/maheshrc27/threadflow/internal/transfer"
)

func extractorServer(t *testing.T, statuses []string, items []transfer.ExtractorItem) (*httptest.Server, *int32) {
	t.Helper()
	var polls int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v2/acts/{actor}/runs", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var in transfer.ExtractorRunInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil || len(in.StartURLs) != 1 {
			http.Error(w, "bad input", http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusCreated, transfer.ExtractorRunResponse{Data: transfer.ExtractorRun{ID: "run-1", Status: "READY"}})
	})
	mux.HandleFunc("GET /v2/actor-runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		n := int(atomic.AddInt32(&polls, 1)) - 1
		status := statuses[len(statuses)-1]
		if n < len(statuses) {
			status = statuses[n]
		}
		writeJSON(w, http.StatusOK, transfer.ExtractorRunResponse{Data: transfer.ExtractorRun{
			ID: "run-1", Status: status, DefaultDatasetID: "ds-1", StatusMessage: "actor crashed",
		}})
	})
	mux.HandleFunc("GET /v2/datasets/{id}/items", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, items)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &polls
}

func newTestExtractor(srv *httptest.Server, clk clock.Clock, p backoff.Policy) Extractor {
	return NewExtractorService(ExtractorConfig{BaseURL: srv.URL, Token: "tok", DefaultActor: "default~actor"}, srv.Client(), clk, p)
}

func TestExtractSucceeds(t *testing.T) {
	t.Parallel()
	srv, polls := extractorServer(t, []string{"RUNNING", "RUNNING", "SUCCEEDED"}, []transfer.ExtractorItem{
		{Duration: 12},
		{DownloadURL: "https://cdn.example.com/v.mp4", VideoDuration: 42.5},
	})
	clk := clock.NewFake(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))

	v, err := newTestExtractor(srv, clk, backoff.ExtractionPolicy()).Extract(context.Background(), "", "https://www.tiktok.com/@a/video/1")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if v.URL != "https://cdn.example.com/v.mp4" || v.Duration != 42500*time.Millisecond {
		t.Fatalf("video = %+v", v)
	}
	if *polls != 3 {
		t.Fatalf("polls = %d, want 3", *polls)
	}
	want := []time.Duration{1500 * time.Millisecond, 1875 * time.Millisecond, 2343750 * time.Microsecond}
	got := clk.Sleeps()
	if len(got) != len(want) {
		t.Fatalf("Sleeps = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Sleeps[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestExtractRunFailed(t *testing.T) {
	t.Parallel()
	srv, _ := extractorServer(t, []string{"RUNNING", "FAILED"}, nil)
	clk := clock.NewFake(time.Now())

	_, err := newTestExtractor(srv, clk, backoff.ExtractionPolicy()).Extract(context.Background(), "a~b", "https://www.tiktok.com/@a/video/1")
	if apperr.KindOf(err) != apperr.KindExternal || !apperr.Is(err, apperr.ReasonExtractionFailed) {
		t.Fatalf("err = %v, want external extraction_failed", err)
	}
}

func TestExtractTimesOut(t *testing.T) {
	t.Parallel()
	srv, polls := extractorServer(t, []string{"RUNNING"}, nil)
	clk := clock.NewFake(time.Now())
	p := backoff.Policy{Initial: time.Second, Multiplier: 1, Max: time.Second, MaxAttempts: 4}

	_, err := newTestExtractor(srv, clk, p).Extract(context.Background(), "", "https://www.tiktok.com/@a/video/1")
	if apperr.KindOf(err) != apperr.KindTimeout || !apperr.Is(err, apperr.ReasonExtractionTimeout) {
		t.Fatalf("err = %v, want timeout extraction_timeout", err)
	}
	if *polls != 4 {
		t.Fatalf("polls = %d, want 4", *polls)
	}
}

func TestExtractNoVideo(t *testing.T) {
	t.Parallel()
	srv, _ := extractorServer(t, []string{"SUCCEEDED"}, []transfer.ExtractorItem{{Duration: 3}})
	clk := clock.NewFake(time.Now())

	_, err := newTestExtractor(srv, clk, backoff.ExtractionPolicy()).Extract(context.Background(), "", "https://www.tiktok.com/@a/video/1")
	if !apperr.Is(err, apperr.ReasonExtractionFailed) {
		t.Fatalf("err = %v, want extraction_failed", err)
	}
}
