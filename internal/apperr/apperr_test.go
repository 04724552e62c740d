package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestKindAndStatusThroughWrapping(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		err    error
		kind   Kind
		status int
	}{
		{name: "validation", err: Validation(ReasonContentTooLong, "too long"), kind: KindValidation, status: http.StatusBadRequest},
		{name: "auth", err: Auth("no account"), kind: KindAuth, status: http.StatusUnauthorized},
		{name: "conflict wrapped", err: fmt.Errorf("delete: %w", Conflict(ReasonThreadPublished, "published")), kind: KindConflict, status: http.StatusConflict},
		{name: "not found", err: NotFound("missing"), kind: KindNotFound, status: http.StatusNotFound},
		{name: "timeout", err: Timeout(ReasonExtractionTimeout, "slow"), kind: KindTimeout, status: http.StatusGatewayTimeout},
		{name: "external", err: External(ReasonUpstream, "boom"), kind: KindExternal, status: http.StatusBadGateway},
		{name: "plain", err: errors.New("boom"), kind: KindInternal, status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.kind {
				t.Fatalf("KindOf = %s, want %s", got, tt.kind)
			}
			if got := HTTPStatus(tt.err); got != tt.status {
				t.Fatalf("HTTPStatus = %d, want %d", got, tt.status)
			}
		})
	}
}

func TestRetryAfterOnlyForRateLimits(t *testing.T) {
	t.Parallel()
	at := time.Unix(1700000000, 0)
	err := fmt.Errorf("post: %w", RateLimited("slow down", at))

	got, ok := RetryAfter(err)
	if !ok || !got.Equal(at) {
		t.Fatalf("RetryAfter = %v, %v; want %v, true", got, ok, at)
	}
	if _, ok := RetryAfter(External(ReasonUpstream, "x")); ok {
		t.Fatal("expected no retry-after for a plain external error")
	}
	if !Is(err, ReasonRateLimited) {
		t.Fatal("expected rate limited reason")
	}
}

func TestErrorMessageIncludesCause(t *testing.T) {
	t.Parallel()
	err := External(ReasonUpstream, "upload failed").Wrap(errors.New("EOF"))
	if err.Error() != "upload failed: EOF" {
		t.Fatalf("Error() = %q", err.Error())
	}
	if Message(err) != "upload failed" {
		t.Fatalf("Message() = %q", Message(err))
	}
	if Message(errors.New("db down")) != "internal error" {
		t.Fatal("internal errors must not leak")
	}
}
