package variables

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Source produces the current value of a dynamic variable.
type Source func(ctx context.Context) (any, error)

// dynamicSource is one registered source with its schedule state.
type dynamicSource struct {
	name     string
	schedule cron.Schedule
	next     time.Time
	fn       Source
}

// Refresher re-pulls registered dynamic variable sources into the store
// on cron schedules, so rendered requests see current values without an
// engine call per cycle. One Refresher per store.
type Refresher struct {
	store    Store
	parser   cron.Parser
	logger   *slog.Logger
	interval time.Duration

	mu      sync.Mutex
	sources map[string]*dynamicSource
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewRefresher creates a Refresher polling at the given tick interval
// (zero means one minute).
func NewRefresher(store Store, interval time.Duration, logger *slog.Logger) *Refresher {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Refresher{
		store:    store,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:   logger,
		interval: interval,
		sources:  make(map[string]*dynamicSource),
	}
}

// Register adds a dynamic source under the given variable name with a
// five-field cron spec. The source fires on the first tick after Start.
func (r *Refresher) Register(name, spec string, fn Source) error {
	schedule, err := r.parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("parse cron spec %q for %q: %w", spec, name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[name] = &dynamicSource{name: name, schedule: schedule, fn: fn}
	return nil
}

// Start launches the background refresh loop. An immediate refresh of
// all sources runs before the first tick.
func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.done != nil {
		r.mu.Unlock()
		return fmt.Errorf("refresher already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.mu.Unlock()

	go r.loop(loopCtx)
	r.logger.Info("variable refresher started", slog.Duration("interval", r.interval))
	return nil
}

// Stop halts the loop and waits for it to exit.
func (r *Refresher) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (r *Refresher) loop(ctx context.Context) {
	defer close(r.done)

	r.RefreshNow(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.tick(ctx, now)
		}
	}
}

// tick refreshes every source whose schedule is due.
func (r *Refresher) tick(ctx context.Context, now time.Time) {
	for _, src := range r.dueSources(now) {
		r.refresh(ctx, src)
	}
}

// RefreshNow refreshes all sources immediately regardless of schedule.
func (r *Refresher) RefreshNow(ctx context.Context) {
	r.mu.Lock()
	all := make([]*dynamicSource, 0, len(r.sources))
	now := time.Now()
	for _, src := range r.sources {
		src.next = src.schedule.Next(now)
		all = append(all, src)
	}
	r.mu.Unlock()

	for _, src := range all {
		r.refresh(ctx, src)
	}
}

// dueSources returns the sources due at now and advances their schedules.
func (r *Refresher) dueSources(now time.Time) []*dynamicSource {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []*dynamicSource
	for _, src := range r.sources {
		if !src.next.After(now) {
			src.next = src.schedule.Next(now)
			due = append(due, src)
		}
	}
	return due
}

func (r *Refresher) refresh(ctx context.Context, src *dynamicSource) {
	val, err := src.fn(ctx)
	if err != nil {
		r.logger.Warn("dynamic source failed",
			slog.String("variable", src.name), slog.String("error", err.Error()))
		return
	}
	if err := r.store.Set(ctx, src.name, val); err != nil {
		r.logger.Warn("store dynamic variable failed",
			slog.String("variable", src.name), slog.String("error", err.Error()))
	}
}
