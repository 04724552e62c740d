// Package slots picks conflict-free publication times for queued threads.
//
// Everything here is pure: callers pass the current time, the user's posting
// window and the set of already occupied slots, and get timestamps back.
package slots

import (
	"fmt"
	"time"

	"github.com/maheshrc27/threadflow/internal/apperr"
)

const (
	DefaultMaxDays = 90
	MaxDaysLimit   = 365
)

type Policy int

const (
	// PolicyPreset only uses the preset hours for the user's posting frequency.
	PolicyPreset Policy = iota
	// PolicyHourly uses every whole hour inside the window.
	PolicyHourly
)

var policyNames = map[Policy]string{
	PolicyPreset: "preset",
	PolicyHourly: "hourly",
}

func (p Policy) String() string {
	if name, ok := policyNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// ParsePolicy maps a stored policy name to a Policy. An empty name is the preset policy.
func ParsePolicy(name string) (Policy, bool) {
	if name == "" {
		return PolicyPreset, true
	}
	for p, n := range policyNames {
		if n == name {
			return p, true
		}
	}
	return PolicyPreset, false
}

type Spacing string

const (
	SpacingHourly  Spacing = "hourly"
	SpacingDaily   Spacing = "daily"
	SpacingOptimal Spacing = "optimal"
)

func (s Spacing) Valid() bool {
	switch s {
	case SpacingHourly, SpacingDaily, SpacingOptimal:
		return true
	}
	return false
}

var dailyHours = []int{9, 13, 17}

// Window is a half-open range of local hours [StartHour, EndHour).
type Window struct {
	StartHour int
	EndHour   int
}

func (w Window) Valid() bool {
	return w.StartHour >= 0 && w.StartHour < w.EndHour && w.EndHour <= 24
}

func (w Window) contains(hour int) bool {
	return hour >= w.StartHour && hour < w.EndHour
}

type Request struct {
	Now         time.Time
	Location    *time.Location
	Window      Window
	PostsPerDay int
}

func (r Request) location() *time.Location {
	if r.Location == nil {
		return time.UTC
	}
	return r.Location
}

func (r Request) postsPerDay() int {
	if r.PostsPerDay < 1 {
		return 1
	}
	return r.PostsPerDay
}

// Occupied is a set of unix millisecond timestamps already taken by queued posts.
type Occupied map[int64]struct{}

func NewOccupied(ms ...int64) Occupied {
	o := make(Occupied, len(ms))
	for _, m := range ms {
		o[m] = struct{}{}
	}
	return o
}

func (o Occupied) Has(t time.Time) bool {
	_, ok := o[t.UnixMilli()]
	return ok
}

func (o Occupied) Add(t time.Time) {
	o[t.UnixMilli()] = struct{}{}
}

type Allocator struct {
	maxDays int
}

// New returns an allocator that searches at most maxDays days ahead. Values
// outside [DefaultMaxDays, MaxDaysLimit] are clamped.
func New(maxDays int) Allocator {
	switch {
	case maxDays < DefaultMaxDays:
		maxDays = DefaultMaxDays
	case maxDays > MaxDaysLimit:
		maxDays = MaxDaysLimit
	}
	return Allocator{maxDays: maxDays}
}

func (a Allocator) MaxDays() int {
	return a.maxDays
}

// PresetHours maps a posting frequency to its preferred local hours.
func PresetHours(postsPerDay int) []int {
	switch {
	case postsPerDay <= 1:
		return []int{10}
	case postsPerDay == 2:
		return []int{10, 12}
	default:
		return []int{10, 12, 14}
	}
}

func hourlyHours(w Window) []int {
	hours := make([]int, 0, w.EndHour-w.StartHour)
	for h := w.StartHour; h < w.EndHour; h++ {
		hours = append(hours, h)
	}
	return hours
}

func filterHours(candidates []int, w Window) []int {
	var hours []int
	for _, h := range candidates {
		if w.contains(h) {
			hours = append(hours, h)
		}
	}
	return hours
}

func (a Allocator) hoursFor(req Request, policy Policy) []int {
	if policy == PolicyHourly {
		return hourlyHours(req.Window)
	}
	if hours := filterHours(PresetHours(req.postsPerDay()), req.Window); len(hours) > 0 {
		return hours
	}
	return hourlyHours(req.Window)
}

// Next returns the earliest free slot strictly after req.Now.
func (a Allocator) Next(req Request, policy Policy, occ Occupied) (time.Time, error) {
	if !req.Window.Valid() {
		return time.Time{}, invalidWindow(req.Window)
	}
	return a.scan(req, a.hoursFor(req, policy), occ)
}

func (a Allocator) scan(req Request, hours []int, occ Occupied) (time.Time, error) {
	loc := req.location()
	now := req.Now.In(loc)
	y, m, d := now.Date()

	for day := 0; day < a.maxDays; day++ {
		for _, h := range hours {
			t, ok := wallClock(y, m, d+day, h, loc)
			if !ok || !t.After(now) || occ.Has(t) {
				continue
			}
			return t, nil
		}
	}
	return time.Time{}, a.queueFull()
}

// wallClock builds the local time for the given hour, reporting false when the
// hour does not exist on that day (DST gap).
func wallClock(y int, m time.Month, d, hour int, loc *time.Location) (time.Time, bool) {
	t := time.Date(y, m, d, hour, 0, 0, 0, loc)
	return t, t.Hour() == hour && t.Minute() == 0
}

// Bulk allocates n slots with the given spacing. Each slot is added to occ as
// it is picked.
func (a Allocator) Bulk(req Request, spacing Spacing, occ Occupied, n int) ([]time.Time, error) {
	if n <= 0 {
		return nil, nil
	}
	if !req.Window.Valid() {
		return nil, invalidWindow(req.Window)
	}
	if occ == nil {
		occ = Occupied{}
	}

	switch spacing {
	case SpacingHourly:
		return a.bulkScan(req, hourlyHours(req.Window), occ, n)
	case SpacingDaily:
		hours := filterHours(dailyHours, req.Window)
		if len(hours) == 0 {
			hours = []int{req.Window.StartHour}
		}
		return a.bulkScan(req, hours, occ, n)
	case SpacingOptimal:
		return a.bulkOptimal(req, occ, n)
	default:
		return nil, apperr.Validation(apperr.ReasonInvalidSchedule, fmt.Sprintf("unknown spacing %q", spacing))
	}
}

func (a Allocator) bulkScan(req Request, hours []int, occ Occupied, n int) ([]time.Time, error) {
	out := make([]time.Time, 0, n)
	for len(out) < n {
		t, err := a.scan(req, hours, occ)
		if err != nil {
			return nil, err
		}
		occ.Add(t)
		out = append(out, t)
	}
	return out, nil
}

func (a Allocator) bulkOptimal(req Request, occ Occupied, n int) ([]time.Time, error) {
	first, err := a.Next(req, PolicyPreset, occ)
	if err != nil {
		return nil, err
	}
	occ.Add(first)
	out := append(make([]time.Time, 0, n), first)

	interval := 24 * time.Hour / time.Duration(req.postsPerDay()) / 2
	if interval < time.Hour {
		interval = time.Hour
	}

	loc := req.location()
	limit := req.Now.AddDate(0, 0, a.maxDays)
	cur := first
	for len(out) < n {
		cand := a.fitWindow(cur.Add(interval), req.Window, loc)
		for occ.Has(cand) || !cand.After(req.Now) {
			cand = a.fitWindow(cand.Add(30*time.Minute), req.Window, loc)
			if cand.After(limit) {
				return nil, a.queueFull()
			}
		}
		if cand.After(limit) {
			return nil, a.queueFull()
		}
		occ.Add(cand)
		out = append(out, cand)
		cur = cand
	}
	return out, nil
}

// fitWindow moves t forward to the window start when it falls outside the window.
func (a Allocator) fitWindow(t time.Time, w Window, loc *time.Location) time.Time {
	local := t.In(loc)
	y, m, d := local.Date()
	switch {
	case local.Hour() < w.StartHour:
		return time.Date(y, m, d, w.StartHour, 0, 0, 0, loc)
	case local.Hour() >= w.EndHour:
		return time.Date(y, m, d+1, w.StartHour, 0, 0, 0, loc)
	}
	return local
}

func (a Allocator) queueFull() error {
	return apperr.Conflict(apperr.ReasonQueueFull, fmt.Sprintf("no free slot in the next %d days", a.maxDays))
}

func invalidWindow(w Window) error {
	return apperr.Validation(apperr.ReasonInvalidSchedule,
		fmt.Sprintf("invalid posting window %d-%d", w.StartHour, w.EndHour))
}
