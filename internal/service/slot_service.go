package service

import (
	"context"
	"time"

	"github.com/maheshrc27/threadflow/internal/clock"
	"github.com/maheshrc27/threadflow/internal/repository"
	"github.com/maheshrc27/threadflow/internal/slots"
	"github.com/rs/zerolog/log"
)

// SlotService feeds the allocator with the user's posting window and the
// account's occupied slots. Occupancy is read at call time and nothing is
// reserved, so two concurrent callers can receive the same slot.
type SlotService interface {
	NextSlot(ctx context.Context, userID, accountID int64) (time.Time, error)
	Allocate(ctx context.Context, userID, accountID int64, n int, spacing slots.Spacing) ([]time.Time, error)
}

type slotService struct {
	settings SettingsService
	posts    repository.PostRepository
	alloc    slots.Allocator
	clk      clock.Clock
}

func NewSlotService(settings SettingsService, posts repository.PostRepository, alloc slots.Allocator, clk clock.Clock) SlotService {
	return &slotService{
		settings: settings,
		posts:    posts,
		alloc:    alloc,
		clk:      clk,
	}
}

func (s *slotService) request(ctx context.Context, userID, accountID int64) (slots.Request, slots.Policy, slots.Occupied, error) {
	settings, err := s.settings.Get(ctx, userID)
	if err != nil {
		return slots.Request{}, slots.PolicyPreset, nil, err
	}

	loc, err := time.LoadLocation(settings.Timezone)
	if err != nil {
		log.Warn().Err(err).Int64("user_id", userID).Str("timezone", settings.Timezone).Msg("falling back to UTC")
		loc = time.UTC
	}
	policy, ok := slots.ParsePolicy(settings.SlotPolicy)
	if !ok {
		log.Warn().Int64("user_id", userID).Str("slot_policy", settings.SlotPolicy).Msg("unknown slot policy, using preset")
	}

	now := s.clk.Now()
	taken, err := s.posts.ListQueuedSlots(ctx, accountID, now.UnixMilli())
	if err != nil {
		return slots.Request{}, slots.PolicyPreset, nil, err
	}

	req := slots.Request{
		Now:         now,
		Location:    loc,
		Window:      slots.Window{StartHour: settings.WindowStart, EndHour: settings.WindowEnd},
		PostsPerDay: settings.PostsPerDay,
	}
	return req, policy, slots.NewOccupied(taken...), nil
}

func (s *slotService) NextSlot(ctx context.Context, userID, accountID int64) (time.Time, error) {
	req, policy, occ, err := s.request(ctx, userID, accountID)
	if err != nil {
		return time.Time{}, err
	}
	return s.alloc.Next(req, policy, occ)
}

func (s *slotService) Allocate(ctx context.Context, userID, accountID int64, n int, spacing slots.Spacing) ([]time.Time, error) {
	req, _, occ, err := s.request(ctx, userID, accountID)
	if err != nil {
		return nil, err
	}
	return s.alloc.Bulk(req, spacing, occ, n)
}
