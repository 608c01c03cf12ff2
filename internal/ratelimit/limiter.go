package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/peakstranding/internal/metrics"
	"go.uber.org/zap"
)

// Class names an operation that carries its own cooldown.
type Class string

const (
	ClassSubmit Class = "submit"
	ClassSample Class = "sample"
	ClassLike   Class = "like"
)

// ErrTooManyRequests indicates the cooldown for the identity and class has not elapsed.
var ErrTooManyRequests = errors.New("ratelimit: cooldown not elapsed")

// Cooldowns configures the minimum spacing between actions per class.
type Cooldowns struct {
	Submit time.Duration
	Sample time.Duration
	Like   time.Duration
}

// Config describes the dependencies of a Limiter.
type Config struct {
	Cooldowns Cooldowns
	Clock     func() time.Time
	Logger    *zap.Logger
	Metrics   *metrics.Registry
}

type tracker struct {
	cooldown time.Duration
	last     sync.Map
}

// Limiter tracks the last recorded action per identity and class in process memory.
// Check and Record are individually synchronized but not atomic as a pair: two
// requests racing on the same key may both pass Check before either records.
type Limiter struct {
	trackers map[Class]*tracker
	clock    func() time.Time
	logger   *zap.Logger
	metrics  *metrics.Registry
}

// NewLimiter constructs a limiter from the configured cooldowns.
func NewLimiter(cfg Config) *Limiter {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{
		trackers: map[Class]*tracker{
			ClassSubmit: {cooldown: cfg.Cooldowns.Submit},
			ClassSample: {cooldown: cfg.Cooldowns.Sample},
			ClassLike:   {cooldown: cfg.Cooldowns.Like},
		},
		clock:   clock,
		logger:  logger,
		metrics: cfg.Metrics,
	}
}

// Check reports whether identity may perform an action of class now. Unknown classes are not limited.
func (l *Limiter) Check(identity int64, class Class) bool {
	t, ok := l.trackers[class]
	if !ok {
		return true
	}
	value, ok := t.last.Load(identity)
	if !ok {
		return true
	}
	return l.clock().Sub(value.(time.Time)) >= t.cooldown
}

// Record stores now as the last action time for identity and class.
func (l *Limiter) Record(identity int64, class Class, now time.Time) {
	t, ok := l.trackers[class]
	if !ok {
		return
	}
	t.last.Store(identity, now)
}

// Admit runs Check and, when allowed, Record with the current time. A rejection is
// logged and returned as ErrTooManyRequests; it is never queued.
func (l *Limiter) Admit(identity int64, class Class) error {
	if !l.Check(identity, class) {
		l.metrics.ObserveRateLimited(string(class))
		l.logger.Info("rate limit exceeded",
			zap.Int64("user_id", identity),
			zap.String("class", string(class)))
		return fmt.Errorf("%w: %s", ErrTooManyRequests, class)
	}
	l.Record(identity, class, l.clock())
	return nil
}

// Sweep forgets entries whose cooldown has already elapsed and returns how many were removed.
// Forgotten entries behave exactly like entries that were never recorded.
func (l *Limiter) Sweep(now time.Time) int {
	removed := 0
	for _, t := range l.trackers {
		t.last.Range(func(key, value any) bool {
			recorded, ok := value.(time.Time)
			if !ok || now.Sub(recorded) < t.cooldown {
				return true
			}
			// A Record landing after the load keeps its newer value.
			if t.last.CompareAndDelete(key, value) {
				removed++
			}
			return true
		})
	}
	return removed
}

// RunSweeper calls Sweep every interval until ctx is done.
func (l *Limiter) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := l.Sweep(l.clock()); removed > 0 {
				l.logger.Debug("rate limit entries swept", zap.Int("removed", removed))
			}
		}
	}
}
