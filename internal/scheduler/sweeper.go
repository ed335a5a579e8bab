package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/daap14/pagelease/internal/deployment"
	"github.com/daap14/pagelease/internal/metrics"
	"github.com/daap14/pagelease/internal/notify"
)

const defaultBatchSize = 500

// Lifecycle is the part of the deployment manager the sweeper drives.
type Lifecycle interface {
	DueForArchive(ctx context.Context, now time.Time, limit int) ([]deployment.Deployment, error)
	ArchiveExpired(ctx context.Context, d deployment.Deployment, now time.Time) (bool, error)
	DueForDeletion(ctx context.Context, now time.Time, limit int) ([]deployment.Deployment, error)
	DeleteAfterGrace(ctx context.Context, d deployment.Deployment, now time.Time) (bool, error)
	DueForReminder(ctx context.Context, now time.Time, limit int) ([]deployment.Deployment, error)
	ClaimReminder(ctx context.Context, d deployment.Deployment, now time.Time) (bool, error)
}

// Notifier delivers expiry reminders.
type Notifier interface {
	SendExpiryReminder(ctx context.Context, r notify.Reminder) error
}

// Result counts the rows each sweep step changed.
type Result struct {
	Archived int `json:"archived"`
	Deleted  int `json:"deleted"`
	Reminded int `json:"reminded"`
}

// Sweeper re-evaluates deployments against the clock: expired actives are
// archived, archived rows past their grace period are deleted, and owners of
// soon-to-expire sites are reminded once. Overlapping sweeps are safe; each
// row change is a predicate update that only one sweep can win.
type Sweeper struct {
	lifecycle Lifecycle
	notifier  Notifier
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// WithBatchSize bounds how many rows each step handles per sweep.
func WithBatchSize(n int) Option {
	return func(s *Sweeper) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// New creates a new Sweeper. interval is only used by Start.
func New(lifecycle Lifecycle, notifier Notifier, interval time.Duration, opts ...Option) *Sweeper {
	s := &Sweeper{
		lifecycle: lifecycle,
		notifier:  notifier,
		interval:  interval,
		batchSize: defaultBatchSize,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs a sweep every interval. It blocks until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	slog.Info("scheduler started", "interval", s.interval.String())
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				slog.Error("scheduler: sweep failed", "error", err)
			}
		}
	}
}

// Sweep runs the archive, delete and remind steps once. A failing step does
// not stop the others; their errors are joined.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	started := time.Now()
	now := s.now()

	var res Result
	var errs []error

	n, err := s.step(ctx, "archive", now, s.lifecycle.DueForArchive, s.lifecycle.ArchiveExpired)
	res.Archived = n
	errs = append(errs, err)

	n, err = s.step(ctx, "delete", now, s.lifecycle.DueForDeletion, s.lifecycle.DeleteAfterGrace)
	res.Deleted = n
	errs = append(errs, err)

	if s.notifier != nil {
		n, err = s.step(ctx, "remind", now, s.lifecycle.DueForReminder, s.remind)
		res.Reminded = n
		errs = append(errs, err)
	}

	metrics.SweepDuration.Observe(time.Since(started).Seconds())
	metrics.SweepAffected.WithLabelValues("archive").Add(float64(res.Archived))
	metrics.SweepAffected.WithLabelValues("delete").Add(float64(res.Deleted))
	metrics.SweepAffected.WithLabelValues("remind").Add(float64(res.Reminded))

	if err := errors.Join(errs...); err != nil {
		metrics.SweepRuns.WithLabelValues("error").Inc()
		return res, err
	}
	metrics.SweepRuns.WithLabelValues("ok").Inc()

	if res != (Result{}) {
		slog.Info("scheduler: sweep complete",
			"archived", res.Archived,
			"deleted", res.Deleted,
			"reminded", res.Reminded,
		)
	}
	return res, nil
}

type selectFunc func(ctx context.Context, now time.Time, limit int) ([]deployment.Deployment, error)

type applyFunc func(ctx context.Context, d deployment.Deployment, now time.Time) (bool, error)

func (s *Sweeper) step(ctx context.Context, name string, now time.Time, sel selectFunc, apply applyFunc) (int, error) {
	due, err := sel(ctx, now, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("%s: selecting deployments: %w", name, err)
	}

	changed := 0
	var failed int
	for _, d := range due {
		if ctx.Err() != nil {
			return changed, ctx.Err()
		}
		ok, err := apply(ctx, d, now)
		if err != nil {
			failed++
			slog.Error("scheduler: step failed for deployment", "step", name, "deployment", d.ID, "error", err)
			continue
		}
		if ok {
			changed++
		}
	}

	if failed > 0 {
		return changed, fmt.Errorf("%s: %d of %d deployments failed", name, failed, len(due))
	}
	return changed, nil
}

// remind claims the reminder and then sends it, so a reminder is sent at
// most once per expiry even when sweeps overlap.
func (s *Sweeper) remind(ctx context.Context, d deployment.Deployment, now time.Time) (bool, error) {
	if d.NotifyEmail == nil || *d.NotifyEmail == "" {
		return false, nil
	}
	claimed, err := s.lifecycle.ClaimReminder(ctx, d, now)
	if err != nil || !claimed {
		return false, err
	}

	err = s.notifier.SendExpiryReminder(ctx, notify.Reminder{
		To:        *d.NotifyEmail,
		SiteURL:   d.PagesURL,
		ExpiresAt: d.ExpiresAt,
		Now:       now,
	})
	if err != nil {
		metrics.ExternalEffectFailures.WithLabelValues("remind").Inc()
		slog.Warn("scheduler: reminder not delivered", "deployment", d.ID, "error", err)
	}
	return true, nil
}
