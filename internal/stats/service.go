package stats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"hostelhub/internal/attendance"
	"hostelhub/internal/clock"
	"hostelhub/internal/metrics"
)

// ErrInvalidPeriod is returned for a month outside 1..12 or a bad year.
var ErrInvalidPeriod = errors.New("invalid year or month")

// Service computes monthly summaries, read-through a Cache when one is set.
type Service struct {
	store   attendance.Store
	cache   Cache
	ttl     time.Duration
	clock   clock.Clock
	loc     *time.Location
	log     *slog.Logger
	metrics *metrics.Collectors
	group   singleflight.Group
}

// NewService builds a Service. cache may be nil.
func NewService(store attendance.Store, cache Cache, ttl time.Duration, clk clock.Clock, loc *time.Location, log *slog.Logger, m *metrics.Collectors) *Service {
	if clk == nil {
		clk = clock.Real{}
	}
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:   store,
		cache:   cache,
		ttl:     ttl,
		clock:   clk,
		loc:     loc,
		log:     log.With("component", "stats"),
		metrics: m,
	}
}

// Monthly returns the summary for userID in the given month. Concurrent
// misses for the same key share one computation.
func (s *Service) Monthly(ctx context.Context, userID string, year int, month time.Month) (Summary, error) {
	if month < time.January || month > time.December || year < 1970 || year > 9999 {
		return Summary{}, ErrInvalidPeriod
	}
	key := CacheKey(userID, year, month)
	if s.cache != nil {
		sum, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			s.log.Warn("stats cache read failed", "key", key, "error", err)
		}
		s.metrics.CacheLookup(ok)
		if ok {
			return sum, nil
		}
	}

	// The computation is shared, so one caller's cancellation must not
	// fail the others waiting on it.
	shared := context.WithoutCancel(ctx)
	v, err, _ := s.group.Do(key, func() (any, error) {
		sum, err := s.compute(shared, userID, year, month)
		if err != nil {
			return Summary{}, err
		}
		if s.cache != nil {
			if err := s.cache.Set(shared, key, sum, s.ttl); err != nil {
				s.log.Warn("stats cache write failed", "key", key, "error", err)
			}
		}
		return sum, nil
	})
	if err != nil {
		return Summary{}, err
	}
	return v.(Summary), nil
}

func (s *Service) compute(ctx context.Context, userID string, year int, month time.Month) (Summary, error) {
	student, err := s.store.FindStudent(ctx, userID)
	if err != nil {
		return Summary{}, err
	}
	first := time.Date(year, month, 1, 0, 0, 0, 0, s.loc)
	from := first.Format(attendance.DayLayout)
	to := first.AddDate(0, 1, -1).Format(attendance.DayLayout)

	records, err := s.store.ListRecords(ctx, userID, from, to)
	if err != nil {
		return Summary{}, fmt.Errorf("list records: %w", err)
	}
	leaves, err := s.store.ApprovedLeaves(ctx, userID, from, to)
	if err != nil {
		return Summary{}, fmt.Errorf("approved leaves: %w", err)
	}
	holiday, err := s.store.HolidayWindow(ctx, student.HostelBlock)
	if err != nil {
		return Summary{}, fmt.Errorf("holiday window: %w", err)
	}
	return Aggregate(Input{
		Records: records,
		Leaves:  leaves,
		Holiday: holiday,
		Year:    year,
		Month:   month,
		Now:     s.clock.Now().In(s.loc),
	}), nil
}

// Invalidate drops the cached summary covering day for userID.
func (s *Service) Invalidate(ctx context.Context, userID, day string) error {
	if s.cache == nil {
		return nil
	}
	d, err := attendance.ParseDay(day)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, CacheKey(userID, d.Year(), d.Month()))
}

// Flush drops every cached summary, used when a session cutoff passes and
// unmarked sessions turn into absences.
func (s *Service) Flush(ctx context.Context) (int, error) {
	if s.cache == nil {
		return 0, nil
	}
	return s.cache.Flush(ctx)
}
