// ABOUTME: This file implements the multi-service request governor
// ABOUTME: Enforces per-second, per-minute and per-day ceilings per named service
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Limit configures the ceilings for one named service. RequestsPerSecond of
// zero disables the per-second window.
type Limit struct {
	RequestsPerSecond int
	RequestsPerMinute int
	RequestsPerDay    int
}

// Status reports the current counters for one service.
type Status struct {
	RequestsThisMinute int
	RequestsToday      int
	MinuteLimit        int
	DayLimit           int
}

// Governor admits outbound requests for a set of named services. Admission is
// serialized per service; distinct services never contend. Await never fails
// except by context cancellation.
type Governor struct {
	mu       sync.RWMutex
	services map[string]*serviceLimiter
	logger   *slog.Logger
	now      func() time.Time
}

type serviceLimiter struct {
	mu            sync.Mutex
	limit         Limit
	history       []time.Time // monotonically ordered, trimmed to the last minute
	dailyCount    int
	lastResetDate string // local calendar date of the last daily reset
}

// NewGovernor creates an empty governor. Services are registered with
// AddService before use; awaiting an unknown service is a no-op.
func NewGovernor(logger *slog.Logger) *Governor {
	return &Governor{
		services: make(map[string]*serviceLimiter),
		logger:   logger,
		now:      time.Now,
	}
}

// AddService registers (or replaces) the limit for a named service.
func (g *Governor) AddService(name string, limit Limit) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.services[name] = &serviceLimiter{
		limit:         limit,
		lastResetDate: g.now().Format("2006-01-02"),
	}
}

// Await blocks until a request to the named service can be admitted under
// all configured windows, or until ctx is cancelled. The day cap can extend
// the wait to the next local midnight, so callers must pass a cancellable
// context.
func (g *Governor) Await(ctx context.Context, name string) error {
	limiter := g.limiter(name)
	if limiter == nil {
		return nil
	}

	for {
		limiter.mu.Lock()
		wait := limiter.waitTime(g.now())
		limiter.mu.Unlock()

		if wait <= 0 {
			return nil
		}

		g.logger.Debug("rate limit wait", "service", name, "wait", wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Record appends the current instant to the service history. Call it after
// the admitted request has been issued.
func (g *Governor) Record(name string) {
	limiter := g.limiter(name)
	if limiter == nil {
		return
	}

	limiter.mu.Lock()
	defer limiter.mu.Unlock()

	now := g.now()
	limiter.resetDailyIfNeeded(now)
	limiter.history = append(limiter.history, now)
	limiter.dailyCount++
}

// Status returns the current counters for a service, or the zero Status for
// an unknown name.
func (g *Governor) Status(name string) Status {
	limiter := g.limiter(name)
	if limiter == nil {
		return Status{}
	}

	limiter.mu.Lock()
	defer limiter.mu.Unlock()

	now := g.now()
	limiter.resetDailyIfNeeded(now)
	limiter.trimHistory(now)

	return Status{
		RequestsThisMinute: len(limiter.history),
		RequestsToday:      limiter.dailyCount,
		MinuteLimit:        limiter.limit.RequestsPerMinute,
		DayLimit:           limiter.limit.RequestsPerDay,
	}
}

func (g *Governor) limiter(name string) *serviceLimiter {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.services[name]
}

// waitTime computes the minimum sleep before a request can be admitted.
// Zero or negative means immediate admission. Caller holds the lock.
func (l *serviceLimiter) waitTime(now time.Time) time.Duration {
	l.resetDailyIfNeeded(now)
	l.trimHistory(now)

	// Day ceiling: wait until the next local midnight.
	if l.limit.RequestsPerDay > 0 && l.dailyCount >= l.limit.RequestsPerDay {
		year, month, day := now.Date()
		midnight := time.Date(year, month, day, 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
		return midnight.Sub(now)
	}

	var wait time.Duration

	// Minute ceiling: wait until the oldest in-window request expires.
	if l.limit.RequestsPerMinute > 0 && len(l.history) >= l.limit.RequestsPerMinute {
		oldest := l.history[0]
		if w := time.Minute - now.Sub(oldest); w > wait {
			wait = w
		}
	}

	// Second ceiling: count the tail within the last second.
	if l.limit.RequestsPerSecond > 0 {
		recent := 0
		for i := len(l.history) - 1; i >= 0; i-- {
			if now.Sub(l.history[i]) >= time.Second {
				break
			}
			recent++
		}
		if recent >= l.limit.RequestsPerSecond {
			if w := time.Second - now.Sub(l.history[len(l.history)-1]); w > wait {
				wait = w
			}
		}
	}

	return wait
}

func (l *serviceLimiter) trimHistory(now time.Time) {
	cutoff := 0
	for cutoff < len(l.history) && now.Sub(l.history[cutoff]) > time.Minute {
		cutoff++
	}
	if cutoff > 0 {
		l.history = append(l.history[:0], l.history[cutoff:]...)
	}
}

func (l *serviceLimiter) resetDailyIfNeeded(now time.Time) {
	date := now.Format("2006-01-02")
	if date != l.lastResetDate {
		l.dailyCount = 0
		l.lastResetDate = date
	}
}
