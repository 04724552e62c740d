package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/maheshrc27/threadflow/internal/clock"
	"github.com/rs/zerolog/log"
)

const localHandlePrefix = "local_"

type LocalOptions struct {
	// Delay is how long after Publish a job fires unless HonorSchedule is set.
	Delay         time.Duration
	HonorSchedule bool
	JobTimeout    time.Duration
}

// LocalDispatcher runs jobs in-process on timers. Nothing is persisted, so
// pending jobs are lost on restart.
type LocalDispatcher struct {
	clk  clock.Clock
	opts LocalOptions

	mu       sync.Mutex
	handlers map[string]HandlerFunc
	timers   map[string]clock.Timer
	running  sync.WaitGroup
}

func NewLocalDispatcher(clk clock.Clock, opts LocalOptions) *LocalDispatcher {
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 20 * time.Minute
	}
	return &LocalDispatcher{
		clk:      clk,
		opts:     opts,
		handlers: make(map[string]HandlerFunc),
		timers:   make(map[string]clock.Timer),
	}
}

func (d *LocalDispatcher) Handle(target string, h HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[target] = h
}

func (d *LocalDispatcher) Publish(ctx context.Context, target string, payload []byte, notBefore time.Time) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	h, ok := d.handlers[target]
	if !ok {
		return "", fmt.Errorf("no handler registered for %q", target)
	}

	wait := d.opts.Delay
	if d.opts.HonorSchedule {
		wait = notBefore.Sub(d.clk.Now())
	}
	if wait < 0 {
		wait = 0
	}

	handle := localHandlePrefix + uuid.NewString()
	body := append([]byte(nil), payload...)
	d.timers[handle] = d.clk.AfterFunc(wait, func() {
		d.fire(handle, target, h, body)
	})

	log.Info().Str("target", target).Str("handle", handle).Dur("wait", wait).Msg("local task scheduled")
	return handle, nil
}

func (d *LocalDispatcher) fire(handle, target string, h HandlerFunc, payload []byte) {
	d.mu.Lock()
	if _, ok := d.timers[handle]; !ok {
		d.mu.Unlock()
		return
	}
	delete(d.timers, handle)
	d.running.Add(1)
	d.mu.Unlock()
	defer d.running.Done()

	ctx, cancel := context.WithTimeout(context.Background(), d.opts.JobTimeout)
	defer cancel()

	if err := h(ctx, payload); err != nil {
		log.Error().Err(err).Str("target", target).Str("handle", handle).Msg("local task failed")
	}
}

func (d *LocalDispatcher) Cancel(ctx context.Context, handle string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, ok := d.timers[handle]
	if !ok {
		return
	}
	t.Stop()
	delete(d.timers, handle)
	log.Info().Str("handle", handle).Msg("local task canceled")
}

// Pending returns the number of jobs that have not fired yet.
func (d *LocalDispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}

// Shutdown drops pending jobs and waits for running ones to return.
func (d *LocalDispatcher) Shutdown() {
	d.mu.Lock()
	for handle, t := range d.timers {
		t.Stop()
		delete(d.timers, handle)
	}
	d.mu.Unlock()
	d.running.Wait()
}
