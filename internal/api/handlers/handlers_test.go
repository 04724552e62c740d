package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/threadflow/internal/apperr"
	"github.com/maheshrc27/threadflow/internal/models"
	"github.com/maheshrc27/threadflow/internal/slots"
	"github.com/maheshrc27/threadflow/internal/transfer"
)

type stubThreads struct {
	userID int64
	email  string
	err    error
}

func (s *stubThreads) CreateThread(ctx context.Context, userID int64, email string, tc *transfer.ThreadCreation) (*transfer.ThreadView, error) {
	s.userID, s.email = userID, email
	if s.err != nil {
		return nil, s.err
	}
	return &transfer.ThreadView{ThreadID: "t1", AccountID: tc.AccountID, Status: models.ThreadStatusDraft}, nil
}

func (s *stubThreads) UpdateThread(ctx context.Context, userID int64, threadID string, tc *transfer.ThreadCreation) (*transfer.ThreadView, error) {
	return &transfer.ThreadView{ThreadID: threadID}, s.err
}

func (s *stubThreads) DeleteThread(ctx context.Context, userID int64, threadID string) error {
	return s.err
}

func (s *stubThreads) QueueThread(ctx context.Context, userID int64, threadID string) (*transfer.QueuedThread, error) {
	return &transfer.QueuedThread{ThreadID: threadID}, s.err
}

func (s *stubThreads) BulkQueue(ctx context.Context, userID int64, req *transfer.BulkQueueRequest) ([]transfer.QueuedThread, error) {
	return nil, s.err
}

func (s *stubThreads) PublishNow(ctx context.Context, userID int64, threadID string) (*transfer.ThreadView, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &transfer.ThreadView{ThreadID: threadID, Status: models.ThreadStatusPublishing}, nil
}

func (s *stubThreads) GetThread(ctx context.Context, userID int64, threadID string) (*transfer.ThreadView, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &transfer.ThreadView{ThreadID: threadID}, nil
}

func (s *stubThreads) ListThreads(ctx context.Context, userID int64) ([]*transfer.ThreadView, error) {
	return nil, s.err
}

func newThreadApp(s *stubThreads) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user_id", "42")
		c.Locals("email", "a@example.com")
		return c.Next()
	})
	h := NewThreadHandler(s)
	app.Post("/threads", h.CreateThread)
	app.Post("/threads/queue", h.BulkQueue)
	app.Get("/threads/:id", h.GetThread)
	app.Delete("/threads/:id", h.DeleteThread)
	app.Post("/threads/:id/publish", h.PublishNow)
	return app
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return req
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	b, _ := io.ReadAll(resp.Body)
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("decode %q: %v", b, err)
	}
	return m
}

func TestCreateThread(t *testing.T) {
	t.Parallel()
	s := &stubThreads{}
	resp, err := newThreadApp(s).Test(jsonRequest(http.MethodPost, "/threads", `{"account_id":7,"posts":[{"content":"hi"}]}`))
	if err != nil {
		t.Fatalf("Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusCreated)
	}
	body := decode(t, resp)
	if body["thread_id"] != "t1" || body["account_id"] != float64(7) {
		t.Fatalf("body = %v", body)
	}
	if s.userID != 42 || s.email != "a@example.com" {
		t.Fatalf("caller = %d %q, want 42 a@example.com", s.userID, s.email)
	}
}

func TestThreadErrorMapping(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		req    *http.Request
		err    error
		status int
		reason string
	}{
		{
			name:   "bad json",
			req:    jsonRequest(http.MethodPost, "/threads", `{`),
			status: fiber.StatusBadRequest,
		},
		{
			name:   "validation",
			req:    jsonRequest(http.MethodPost, "/threads", `{"posts":[]}`),
			err:    apperr.Validation(apperr.ReasonInvalidThread, "a thread needs at least one post"),
			status: fiber.StatusBadRequest,
			reason: apperr.ReasonInvalidThread,
		},
		{
			name:   "not found",
			req:    httptest.NewRequest(http.MethodGet, "/threads/nope", nil),
			err:    apperr.NotFound("thread not found"),
			status: fiber.StatusNotFound,
		},
		{
			name:   "published thread",
			req:    httptest.NewRequest(http.MethodDelete, "/threads/t1", nil),
			err:    apperr.Conflict(apperr.ReasonThreadPublished, "thread already published"),
			status: fiber.StatusConflict,
			reason: apperr.ReasonThreadPublished,
		},
		{
			name:   "no account",
			req:    httptest.NewRequest(http.MethodPost, "/threads/t1/publish", nil),
			err:    apperr.Auth("no connected social account"),
			status: fiber.StatusUnauthorized,
		},
		{
			name:   "empty bulk queue",
			req:    jsonRequest(http.MethodPost, "/threads/queue", `{"thread_ids":[]}`),
			status: fiber.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			resp, err := newThreadApp(&stubThreads{err: tt.err}).Test(tt.req)
			if err != nil {
				t.Fatalf("Test: %v", err)
			}
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			body := decode(t, resp)
			if tt.reason != "" && body["reason"] != tt.reason {
				t.Fatalf("reason = %v, want %s", body["reason"], tt.reason)
			}
		})
	}
}

func TestRateLimitedSetsRetryAfter(t *testing.T) {
	t.Parallel()
	s := &stubThreads{err: apperr.RateLimited("slow down", time.Now().Add(90*time.Second))}
	resp, err := newThreadApp(s).Test(httptest.NewRequest(http.MethodPost, "/threads/t1/publish", nil))
	if err != nil {
		t.Fatalf("Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusTooManyRequests)
	}
	if ra := resp.Header.Get(fiber.HeaderRetryAfter); ra == "" || ra == "0" {
		t.Fatalf("Retry-After = %q", ra)
	}
}

func TestInternalErrorHidesDetails(t *testing.T) {
	t.Parallel()
	s := &stubThreads{err: io.ErrUnexpectedEOF}
	resp, _ := newThreadApp(s).Test(httptest.NewRequest(http.MethodGet, "/threads/t1", nil))
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	if body := decode(t, resp); body["error"] != "internal error" {
		t.Fatalf("error = %v, want internal error", body["error"])
	}
}

type stubAccounts struct {
	requested int64
}

func (s *stubAccounts) Resolve(ctx context.Context, userID int64, email string, requestedID int64) (*models.SocialAccount, error) {
	s.requested = requestedID
	if requestedID == 0 {
		return &models.SocialAccount{ID: 7, UserID: userID}, nil
	}
	return &models.SocialAccount{ID: requestedID, UserID: userID}, nil
}

func (s *stubAccounts) SetActive(ctx context.Context, userID int64, email string, accountID int64) error {
	return nil
}

func (s *stubAccounts) List(ctx context.Context, userID int64) ([]*models.SocialAccount, error) {
	return nil, nil
}

func (s *stubAccounts) Disconnect(ctx context.Context, userID, accountID int64) error {
	return nil
}

type stubSlots struct {
	next time.Time
	err  error
}

func (s *stubSlots) NextSlot(ctx context.Context, userID, accountID int64) (time.Time, error) {
	return s.next, s.err
}

func (s *stubSlots) Allocate(ctx context.Context, userID, accountID int64, n int, spacing slots.Spacing) ([]time.Time, error) {
	return nil, nil
}

func TestNextSlotPreview(t *testing.T) {
	t.Parallel()
	next := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		target  string
		slotErr error
		status  int
		account float64
	}{
		{target: "/slots/next", status: fiber.StatusOK, account: 7},
		{target: "/slots/next?account_id=9", status: fiber.StatusOK, account: 9},
		{target: "/slots/next", slotErr: apperr.Conflict(apperr.ReasonQueueFull, "no free slot"), status: fiber.StatusConflict},
	}
	for _, tt := range tests {
		app := fiber.New()
		h := NewSettingsHandler(nil, &stubSlots{next: next, err: tt.slotErr}, &stubAccounts{})
		app.Get("/slots/next", h.NextSlot)

		resp, err := app.Test(httptest.NewRequest(http.MethodGet, tt.target, nil))
		if err != nil {
			t.Fatalf("Test: %v", err)
		}
		if resp.StatusCode != tt.status {
			t.Fatalf("%s: status = %d, want %d", tt.target, resp.StatusCode, tt.status)
		}
		if tt.status != fiber.StatusOK {
			continue
		}
		body := decode(t, resp)
		if body["account_id"] != tt.account || body["next"] != "2024-01-01T10:00:00Z" {
			t.Fatalf("%s: body = %v", tt.target, body)
		}
	}
}
