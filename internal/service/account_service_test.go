package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/maheshrc27/threadflow/internal/apperr"
	"github.com/maheshrc27/threadflow/internal/clock"
	"github.com/maheshrc27/threadflow/internal/models"
	"github.com/maheshrc27/threadflow/internal/repository"
	"github.com/maheshrc27/threadflow/internal/slots"
	"github.com/maheshrc27/threadflow/internal/transfer"
)

func accountsFixture() *memAccounts {
	return newMemAccounts(
		&models.SocialAccount{ID: 1, UserID: 1, Platform: models.PlatformX, Status: models.AccountStatusRevoked},
		&models.SocialAccount{ID: 2, UserID: 1, Platform: models.PlatformX, Status: models.AccountStatusActive},
		&models.SocialAccount{ID: 3, UserID: 1, Platform: models.PlatformX, Status: models.AccountStatusActive},
		&models.SocialAccount{ID: 4, UserID: 2, Platform: models.PlatformX, Status: models.AccountStatusActive},
	)
}

func TestResolveAccount(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		userID    int64
		requested int64
		active    map[string]repository.ActiveAccount
		kvErr     error
		want      int64
		wantAuth  bool
	}{
		{name: "requested", userID: 1, requested: 3, want: 3},
		{name: "requested revoked", userID: 1, requested: 1, wantAuth: true},
		{name: "requested foreign", userID: 1, requested: 4, wantAuth: true},
		{name: "active from kv", userID: 1, active: map[string]repository.ActiveAccount{"a@b.c": {AccountID: 3}}, want: 3},
		{name: "stale kv entry", userID: 1, active: map[string]repository.ActiveAccount{"a@b.c": {AccountID: 4}}, want: 2},
		{name: "kv down", userID: 1, kvErr: errors.New("redis down"), want: 2},
		{name: "first active", userID: 1, want: 2},
		{name: "none connected", userID: 9, wantAuth: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			svc := NewAccountService(accountsFixture(), &memActive{rows: tt.active, err: tt.kvErr})
			acc, err := svc.Resolve(context.Background(), tt.userID, "a@b.c", tt.requested)
			if tt.wantAuth {
				if apperr.KindOf(err) != apperr.KindAuth {
					t.Fatalf("err = %v, want auth", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if acc.ID != tt.want {
				t.Fatalf("Resolve = %d, want %d", acc.ID, tt.want)
			}
		})
	}
}

func TestSetActiveAccount(t *testing.T) {
	t.Parallel()
	kv := &memActive{}
	svc := NewAccountService(accountsFixture(), kv)

	if err := svc.SetActive(context.Background(), 1, "a@b.c", 3); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	if kv.rows["a@b.c"].AccountID != 3 || kv.rows["a@b.c"].Platform != models.PlatformX {
		t.Fatalf("stored = %+v", kv.rows["a@b.c"])
	}
	if err := svc.SetActive(context.Background(), 1, "a@b.c", 4); apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("foreign account err = %v, want not found", err)
	}
	if err := svc.SetActive(context.Background(), 1, "a@b.c", 1); apperr.KindOf(err) != apperr.KindAuth {
		t.Fatalf("revoked account err = %v, want auth", err)
	}
}

func TestSettingsUpdateValidation(t *testing.T) {
	t.Parallel()
	svc := NewSettingsService(&memSettings{})
	tests := []struct {
		name string
		su   transfer.SettingsUpdate
		ok   bool
	}{
		{name: "valid", su: transfer.SettingsUpdate{Timezone: "Europe/Berlin", WindowStart: 8, WindowEnd: 18, PostsPerDay: 3}, ok: true},
		{name: "default timezone", su: transfer.SettingsUpdate{WindowStart: 0, WindowEnd: 24, PostsPerDay: 1}, ok: true},
		{name: "bad timezone", su: transfer.SettingsUpdate{Timezone: "Mars/Olympus", WindowStart: 8, WindowEnd: 18, PostsPerDay: 3}},
		{name: "inverted window", su: transfer.SettingsUpdate{WindowStart: 18, WindowEnd: 8, PostsPerDay: 3}},
		{name: "zero posts", su: transfer.SettingsUpdate{WindowStart: 8, WindowEnd: 18, PostsPerDay: 0}},
		{name: "hourly policy", su: transfer.SettingsUpdate{WindowStart: 8, WindowEnd: 18, PostsPerDay: 3, SlotPolicy: "hourly"}, ok: true},
		{name: "unknown policy", su: transfer.SettingsUpdate{WindowStart: 8, WindowEnd: 18, PostsPerDay: 3, SlotPolicy: "random"}},
	}
	for _, tt := range tests {
		su := tt.su
		_, err := svc.Update(context.Background(), 1, &su)
		if tt.ok != (err == nil) {
			t.Fatalf("%s: Update err = %v", tt.name, err)
		}
		if !tt.ok && !apperr.Is(err, apperr.ReasonInvalidSchedule) {
			t.Fatalf("%s: reason = %s", tt.name, apperr.ReasonOf(err))
		}
	}

	got, err := NewSettingsService(&memSettings{}).Get(context.Background(), 5)
	if err != nil || got.Timezone != "UTC" || got.WindowStart != 8 || got.WindowEnd != 22 || got.PostsPerDay != 3 || got.SlotPolicy != "preset" {
		t.Fatalf("defaults = %+v, %v", got, err)
	}
}

func TestSlotServiceFollowsSlotPolicy(t *testing.T) {
	t.Parallel()
	tests := []struct {
		policy string
		want   time.Time
	}{
		{policy: "", want: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)},
		{policy: "preset", want: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)},
		{policy: "hourly", want: time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.policy, func(t *testing.T) {
			t.Parallel()
			settings := NewSettingsService(&memSettings{})
			su := &transfer.SettingsUpdate{Timezone: "UTC", WindowStart: 8, WindowEnd: 18, PostsPerDay: 3, SlotPolicy: tt.policy}
			if _, err := settings.Update(context.Background(), 1, su); err != nil {
				t.Fatalf("Update: %v", err)
			}
			clk := clock.NewFake(time.Date(2024, 1, 1, 10, 30, 0, 0, time.UTC))
			svc := NewSlotService(settings, newMemPosts(), slots.New(0), clk)

			got, err := svc.NextSlot(context.Background(), 1, 7)
			if err != nil {
				t.Fatalf("NextSlot: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("NextSlot = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSlotServiceUsesTimezoneAndOccupancy(t *testing.T) {
	t.Parallel()
	if _, err := time.LoadLocation("Etc/GMT-2"); err != nil {
		t.Skip("timezone data not available")
	}
	loc := time.FixedZone("UTC+2", 2*3600)
	settings := NewSettingsService(&memSettings{rows: map[int64]*models.Settings{
		1: {UserID: 1, Timezone: "Etc/GMT-2", WindowStart: 8, WindowEnd: 18, PostsPerDay: 3},
	}})
	posts := newMemPosts()
	clk := clock.NewFake(time.Date(2024, 1, 1, 9, 0, 0, 0, loc))
	taken := time.Date(2024, 1, 1, 10, 0, 0, 0, loc)
	posts.add(&models.Post{UserID: 1, AccountID: 7, ThreadID: "q", Status: models.PostStatusQueued, ScheduledAt: taken.UnixMilli()})

	svc := NewSlotService(settings, posts, slots.New(0), clk)
	next, err := svc.NextSlot(context.Background(), 1, 7)
	if err != nil {
		t.Fatalf("NextSlot: %v", err)
	}
	want := time.Date(2024, 1, 1, 12, 0, 0, 0, loc)
	if !next.Equal(want) {
		t.Fatalf("NextSlot = %s, want %s", next, want)
	}

	// another account does not see the occupied slot
	other, err := svc.NextSlot(context.Background(), 1, 8)
	if err != nil || !other.Equal(taken) {
		t.Fatalf("NextSlot(other) = %s, %v, want %s", other, err, taken)
	}
}
