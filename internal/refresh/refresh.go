// Package refresh pulls frames from a source onto the panel, on demand or
// on a cron schedule.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "lcdpanel/internal/log"
	"lcdpanel/internal/source"
)

var (
	// ErrNoSource is returned by RunOnce when no source is configured.
	ErrNoSource = errors.New("refresh: no source configured")
	// ErrBusy is returned when a refresh is already running.
	ErrBusy = errors.New("refresh: already running")
)

// Drawer is the panel side of a refresh. *drawer.Panel implements it.
type Drawer interface {
	Bounds() image.Rectangle
	Draw(r image.Rectangle, src image.Image, sp image.Point) error
}

// Status describes past and upcoming refreshes.
type Status struct {
	Source      string    `json:"source"`
	Schedule    string    `json:"schedule,omitempty"`
	Next        time.Time `json:"next,omitempty"`
	LastRun     time.Time `json:"last_run,omitempty"`
	LastSuccess time.Time `json:"last_success,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	Duration    string    `json:"duration,omitempty"`
	Runs        uint64    `json:"runs"`
	Failures    uint64    `json:"failures"`
}

// Runner draws frames from src onto dst.
type Runner struct {
	src source.Source
	dst Drawer

	busy sync.Mutex
	wg   sync.WaitGroup

	mu     sync.Mutex
	status Status
	cron   *cron.Cron
	entry  cron.EntryID
}

// New returns a Runner. src may be nil, in which case RunOnce fails with
// ErrNoSource.
func New(src source.Source, dst Drawer) *Runner {
	r := &Runner{src: src, dst: dst}
	if src != nil {
		r.status.Source = src.String()
	}
	return r
}

// RunOnce fetches one frame and draws it. It does not wait for a refresh
// already in progress.
func (r *Runner) RunOnce(ctx context.Context) error {
	if r.src == nil {
		return ErrNoSource
	}
	if !r.busy.TryLock() {
		return ErrBusy
	}
	defer r.busy.Unlock()

	start := time.Now()
	err := r.run(ctx)
	elapsed := time.Since(start)

	r.mu.Lock()
	r.status.Runs++
	r.status.LastRun = start
	r.status.Duration = elapsed.Round(time.Millisecond).String()
	if err != nil {
		r.status.Failures++
		r.status.LastError = err.Error()
	} else {
		r.status.LastSuccess = start
		r.status.LastError = ""
	}
	r.mu.Unlock()

	if err != nil {
		appLog.Error("refresh failed", err, "source", r.src.String())
		return err
	}
	appLog.Info("refresh done", "source", r.src.String(), "elapsed", elapsed)
	return nil
}

func (r *Runner) run(ctx context.Context) error {
	img, err := r.src.Frame(ctx)
	if err != nil {
		return err
	}
	b := r.dst.Bounds()
	if err := r.dst.Draw(b, img, img.Bounds().Min); err != nil {
		return fmt.Errorf("refresh: draw: %w", err)
	}
	return nil
}

// Go runs RunOnce in the background. Stop waits for it.
func (r *Runner) Go(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		_ = r.RunOnce(ctx)
	}()
}

// Start schedules RunOnce with a standard 5-field cron spec. ctx bounds
// every scheduled run; Stop ends the schedule.
func (r *Runner) Start(ctx context.Context, spec string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return errors.New("refresh: already started")
	}
	c := cron.New()
	id, err := c.AddFunc(spec, func() {
		if err := r.RunOnce(ctx); errors.Is(err, ErrBusy) {
			appLog.Warn("refresh skipped, previous run still active")
		}
	})
	if err != nil {
		return fmt.Errorf("refresh: bad schedule %q: %w", spec, err)
	}
	c.Start()
	r.cron = c
	r.entry = id
	r.status.Schedule = spec
	appLog.Info("refresh scheduled", "spec", spec, "next", c.Entry(id).Next)
	return nil
}

// Stop ends the schedule and waits for scheduled, background and
// in-flight refreshes to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
	r.wg.Wait()
	r.busy.Lock()
	r.busy.Unlock()
}

// Status returns a copy of the current status.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.status
	if r.cron != nil {
		st.Next = r.cron.Entry(r.entry).Next
	}
	return st
}
