// Package poller reads an action's result log from the authority until it
// appears, pacing attempts according to the action's priority.
package poller

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/catalogue-reservation/internal/authority"
	"github.com/iliyamo/catalogue-reservation/internal/config"
	"github.com/iliyamo/catalogue-reservation/internal/model"
)

// ErrExhausted is returned by Wait when a HIGH priority action used up
// its attempts without the log appearing.
var ErrExhausted = errors.New("poller: attempts exhausted")

// LogSource reads result logs.  A nil log with a nil error means the log
// is not available yet.
type LogSource interface {
	FetchResultLog(ctx context.Context, logID string) (*authority.ResultLog, error)
}

// Schedule paces attempts.  MaxAttempts of zero means unbounded.
type Schedule struct {
	Interval    time.Duration
	MaxAttempts int
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// AttemptFunc is told about every attempt that did not produce a log.
type AttemptFunc func(a *model.PendingAction, attempt int, err error)

type Poller struct {
	src   LogSource
	high  Schedule
	low   Schedule
	sleep SleepFunc
	log   *zap.SugaredLogger
}

type Option func(*Poller)

// WithSleep replaces the wall-clock sleep.
func WithSleep(f SleepFunc) Option {
	return func(p *Poller) { p.sleep = f }
}

// New builds a poller with the intervals from cfg.  LOW priority polling
// is never bounded.
func New(src LogSource, cfg config.PollConfig, log *zap.SugaredLogger, opts ...Option) *Poller {
	p := &Poller{
		src:   src,
		high:  Schedule{Interval: cfg.HighInterval, MaxAttempts: cfg.HighAttempts},
		low:   Schedule{Interval: cfg.LowInterval},
		sleep: Sleep,
		log:   log.Named("poller"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ScheduleFor returns the pacing used for priority pr.
func (p *Poller) ScheduleFor(pr model.Priority) Schedule {
	if pr == model.PriorityLow {
		return p.low
	}
	return p.high
}

// Poll makes one attempt to read a's result log.  Failures to reach the
// authority are treated as the log not being there yet.  An attempt that
// comes back empty is reported to onAttempt, if set, as the given attempt
// number unless ctx is already done.
func (p *Poller) Poll(ctx context.Context, a *model.PendingAction, attempt int, onAttempt AttemptFunc) *authority.ResultLog {
	l, err := p.src.FetchResultLog(ctx, a.LogID())
	if err == nil && l != nil {
		pollAttempts.WithLabelValues(string(a.Priority), "found").Inc()
		return l
	}
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		p.log.Debugw("poll failed", "action", a.ID, "log_id", a.LogID(), "attempt", attempt, "err", err)
	}
	pollAttempts.WithLabelValues(string(a.Priority), "absent").Inc()
	if onAttempt != nil {
		onAttempt(a, attempt, err)
	}
	return nil
}

// Wait polls until the log appears, the schedule for a.Priority runs out
// or ctx is done.  It sleeps one interval before every attempt and tells
// onAttempt, if set, about every attempt that came back empty.
func (p *Poller) Wait(ctx context.Context, a *model.PendingAction, onAttempt AttemptFunc) (*authority.ResultLog, error) {
	sched := p.ScheduleFor(a.Priority)
	for attempt := 1; sched.MaxAttempts == 0 || attempt <= sched.MaxAttempts; attempt++ {
		if err := p.sleep(ctx, sched.Interval); err != nil {
			return nil, err
		}
		if l := p.Poll(ctx, a, attempt, onAttempt); l != nil {
			return l, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	p.log.Infow("high priority polling exhausted", "action", a.ID, "log_id", a.LogID(), "attempts", sched.MaxAttempts)
	return nil, ErrExhausted
}

// Sleep waits for d unless ctx finishes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
