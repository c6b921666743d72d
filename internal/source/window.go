package source

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/adhocore/gronx"

	"github.com/JakeFAU/icrawler/internal/ingest"
	"github.com/JakeFAU/icrawler/internal/retry"
)

// ErrUnknownRunSchema is returned for run schemas other than always, repeat and cron.
var ErrUnknownRunSchema = errors.New("invalid run time schema")

var windowPoint = regexp.MustCompile(`^[0-7]/\d{2}:\d{2}$`)

const (
	weekStart = "0/00:00"
	weekEnd   = "7/25:00"
)

// WaitForWindow blocks until cfg's run schema allows fetching, polling every
// interval. It returns ctx's error if ctx ends first.
func WaitForWindow(ctx context.Context, cfg ingest.PluginConfig, clock ingest.Clock, interval time.Duration) error {
	switch cfg.RunSchema {
	case ingest.RunAlways, "":
		return nil
	case ingest.RunRepeat:
		for {
			ok, err := InWindows(cfg.ValidTime, clock.Now())
			if err != nil {
				return err
			}
			if ok {
				return nil
			}
			if err := retry.Sleep(ctx, interval); err != nil {
				return err
			}
		}
	case ingest.RunCron:
		if !gronx.IsValid(cfg.Cron) {
			return fmt.Errorf("%w: cron expression %q", ingest.ErrInvalidConfig, cfg.Cron)
		}
		g := gronx.New()
		for {
			now := clock.Now()
			due, err := g.IsDue(cfg.Cron, now)
			if err != nil {
				return fmt.Errorf("evaluate cron %q: %w", cfg.Cron, err)
			}
			if due {
				return nil
			}
			wait := interval
			if next, err := gronx.NextTickAfter(cfg.Cron, now, false); err == nil && next.Sub(now) < wait {
				wait = next.Sub(now)
			}
			if err := retry.Sleep(ctx, wait); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownRunSchema, cfg.RunSchema)
	}
}

// InWindows reports whether now falls in any "D/HH:MM-D/HH:MM" window,
// where D is the weekday with Monday as 1. A window whose start sorts after
// its end wraps across the end of the week.
func InWindows(windows []string, now time.Time) (bool, error) {
	point := WeekPoint(now)
	for _, w := range windows {
		start, end, found := strings.Cut(w, "-")
		start, end = strings.TrimSpace(start), strings.TrimSpace(end)
		if !found || !windowPoint.MatchString(start) || !windowPoint.MatchString(end) {
			return false, fmt.Errorf("%w: valid_time window %q", ingest.ErrInvalidConfig, w)
		}
		if start <= end {
			if start <= point && point <= end {
				return true, nil
			}
			continue
		}
		if (start <= point && point <= weekEnd) || (weekStart <= point && point <= end) {
			return true, nil
		}
	}
	return false, nil
}

// WeekPoint formats t as "D/HH:MM" with Monday as 1 and Sunday as 7.
func WeekPoint(t time.Time) string {
	day := int(t.Weekday())
	if day == 0 {
		day = 7
	}
	return fmt.Sprintf("%d/%s", day, t.Format("15:04"))
}
