// Package pipeline contains scheduled background jobs and the orchestrator
// that supervises long-running workers.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/matchbook/internal/domain"
)

// sweepLockKey fences the archive sweep across instances sharing a store.
const sweepLockKey = "archive:sweep"

// Archiver periodically moves aged audit entries and resolved markets to
// blob storage. Retention is expressed in days; everything older than the
// cutoff is archived.
type Archiver struct {
	archive       domain.Archiver
	retentionDays int
	logger        *slog.Logger

	locks   domain.LockManager
	lockTTL time.Duration
	trigger <-chan struct{}
}

// NewArchiver creates an archive job with the given retention window.
func NewArchiver(archive domain.Archiver, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		archive:       archive,
		retentionDays: retentionDays,
		logger:        logger.With(slog.String("component", "archiver")),
	}
}

// WithLock fences every pass with a distributed lock so only one instance
// sweeps at a time. A pass that finds the lock held is skipped, not failed.
// Returns the archiver for chaining.
func (a *Archiver) WithLock(lm domain.LockManager, ttl time.Duration) *Archiver {
	a.locks = lm
	a.lockTTL = ttl
	return a
}

// WithTrigger makes RunCron also run a pass whenever the channel receives,
// in addition to the schedule. Returns the archiver for chaining.
func (a *Archiver) WithTrigger(ch <-chan struct{}) *Archiver {
	a.trigger = ch
	return a
}

// Run executes one archive pass, honoring the lock fence when configured.
// Both archive steps are attempted even if one fails; failures are joined
// into the returned error.
func (a *Archiver) Run(ctx context.Context) error {
	if a.locks != nil {
		unlock, err := a.locks.Acquire(ctx, sweepLockKey, a.lockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				a.logger.InfoContext(ctx, "archive sweep already running elsewhere")
				return nil
			}
			return fmt.Errorf("archive lock: %w", err)
		}
		defer unlock()
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -a.retentionDays)

	var errs []error

	auditCount, err := a.archive.ArchiveAudit(ctx, cutoff)
	if err != nil {
		errs = append(errs, fmt.Errorf("archive audit: %w", err))
	} else {
		a.logger.InfoContext(ctx, "audit archive pass complete",
			slog.Int64("archived", auditCount),
			slog.Time("cutoff", cutoff))
	}

	marketCount, err := a.archive.ArchiveMarkets(ctx, cutoff)
	if err != nil {
		errs = append(errs, fmt.Errorf("archive markets: %w", err))
	} else {
		a.logger.InfoContext(ctx, "market archive pass complete",
			slog.Int64("archived", marketCount),
			slog.Time("cutoff", cutoff))
	}

	return errors.Join(errs...)
}

// RunCron runs archive passes on the given five field cron schedule
// (minute, hour, day of month, month, day of week) until the context is
// cancelled. A receive on the trigger channel, when configured, runs a pass
// ahead of schedule. A failing pass is logged and the schedule keeps going.
func (a *Archiver) RunCron(ctx context.Context, spec string) error {
	sched, err := parseCron(spec)
	if err != nil {
		return fmt.Errorf("parse cron %q: %w", spec, err)
	}

	a.logger.InfoContext(ctx, "archive schedule active", slog.String("cron", spec))

	for {
		next, err := sched.next(time.Now())
		if err != nil {
			return fmt.Errorf("cron %q: %w", spec, err)
		}

		// A nil trigger channel blocks forever, leaving only the schedule.
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		case <-a.trigger:
			timer.Stop()
			a.logger.InfoContext(ctx, "archive pass requested ahead of schedule")
		}

		if err := a.Run(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.ErrorContext(ctx, "archive pass failed", slog.String("error", err.Error()))
		}
	}
}

// cronField is the admitted value set for one cron position. any is set for
// a bare "*"; otherwise values holds every admitted number.
type cronField struct {
	any    bool
	values map[int]struct{}
}

func (f cronField) hit(v int) bool {
	if f.any {
		return true
	}
	_, ok := f.values[v]
	return ok
}

// cronSchedule is a parsed five field cron expression. A time matches when
// every field admits it.
type cronSchedule struct {
	minute     cronField
	hour       cronField
	dayOfMonth cronField
	month      cronField
	dayOfWeek  cronField
}

func (s cronSchedule) matches(t time.Time) bool {
	return s.minute.hit(t.Minute()) &&
		s.hour.hit(t.Hour()) &&
		s.dayOfMonth.hit(t.Day()) &&
		s.month.hit(int(t.Month())) &&
		s.dayOfWeek.hit(int(t.Weekday()))
}

// next returns the first matching time strictly after the given one,
// searching minute by minute for up to a year.
func (s cronSchedule) next(after time.Time) (time.Time, error) {
	t := after.Truncate(time.Minute).Add(time.Minute)
	limit := 366 * 24 * 60
	for i := 0; i < limit; i++ {
		if s.matches(t) {
			return t, nil
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}, errors.New("no matching time within 366 days")
}

// parseCron parses a five field cron expression. Each field accepts "*",
// "*/step", single numbers, "a-b" ranges with an optional "/step", and
// comma separated lists of the above.
func parseCron(spec string) (cronSchedule, error) {
	fields := strings.Fields(spec)
	if len(fields) != 5 {
		return cronSchedule{}, fmt.Errorf("want 5 fields, got %d", len(fields))
	}

	var (
		sched cronSchedule
		err   error
	)
	if sched.minute, err = parseCronField(fields[0], 0, 59); err != nil {
		return cronSchedule{}, fmt.Errorf("minute: %w", err)
	}
	if sched.hour, err = parseCronField(fields[1], 0, 23); err != nil {
		return cronSchedule{}, fmt.Errorf("hour: %w", err)
	}
	if sched.dayOfMonth, err = parseCronField(fields[2], 1, 31); err != nil {
		return cronSchedule{}, fmt.Errorf("day of month: %w", err)
	}
	if sched.month, err = parseCronField(fields[3], 1, 12); err != nil {
		return cronSchedule{}, fmt.Errorf("month: %w", err)
	}
	if sched.dayOfWeek, err = parseCronField(fields[4], 0, 6); err != nil {
		return cronSchedule{}, fmt.Errorf("day of week: %w", err)
	}
	return sched, nil
}

func parseCronField(raw string, lo, hi int) (cronField, error) {
	if raw == "*" {
		return cronField{any: true}, nil
	}

	field := cronField{values: make(map[int]struct{})}
	for _, term := range strings.Split(raw, ",") {
		if err := expandCronTerm(field.values, term, lo, hi); err != nil {
			return cronField{}, err
		}
	}
	return field, nil
}

// expandCronTerm adds every value admitted by a single term to the set.
func expandCronTerm(set map[int]struct{}, term string, lo, hi int) error {
	step := 1
	if base, stepStr, ok := strings.Cut(term, "/"); ok {
		n, err := strconv.Atoi(stepStr)
		if err != nil || n < 1 {
			return fmt.Errorf("bad step in %q", term)
		}
		step = n
		term = base
	}

	start, end := lo, hi
	switch {
	case term == "*":
		// full range
	case strings.Contains(term, "-"):
		fromStr, toStr, _ := strings.Cut(term, "-")
		from, err1 := strconv.Atoi(fromStr)
		to, err2 := strconv.Atoi(toStr)
		if err1 != nil || err2 != nil {
			return fmt.Errorf("bad range %q", term)
		}
		start, end = from, to
	default:
		n, err := strconv.Atoi(term)
		if err != nil {
			return fmt.Errorf("bad value %q", term)
		}
		start, end = n, n
	}

	if start < lo || end > hi || start > end {
		return fmt.Errorf("%q out of range %d-%d", term, lo, hi)
	}
	for v := start; v <= end; v += step {
		set[v] = struct{}{}
	}
	return nil
}
