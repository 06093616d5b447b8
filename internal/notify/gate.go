package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/orderflowbot/internal/domain"
)

// DefaultStartupCooldown suppresses repeated startup notifications from a
// process that is crash-looping.
const DefaultStartupCooldown = 10 * time.Minute

// MemoryGate is an in-process domain.CooldownGate.
type MemoryGate struct {
	mu    sync.Mutex
	until map[string]time.Time
	now   func() time.Time
}

// NewMemoryGate creates an empty MemoryGate.
func NewMemoryGate() *MemoryGate {
	return &MemoryGate{until: make(map[string]time.Time), now: time.Now}
}

// Allow claims key for ttl unless an earlier claim is still live.
func (g *MemoryGate) Allow(_ context.Context, key string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	if t, ok := g.until[key]; ok && now.Before(t) {
		return false, nil
	}
	g.until[key] = now.Add(ttl)
	return true, nil
}

// MemoryLimiter is an in-process sliding-window domain.RateLimiter.
type MemoryLimiter struct {
	mu     sync.Mutex
	events map[string][]time.Time
	now    func() time.Time
}

// NewMemoryLimiter creates an empty MemoryLimiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{events: make(map[string][]time.Time), now: time.Now}
}

// Allow implements domain.RateLimiter.
func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	cutoff := now.Add(-window)
	kept := l.events[key][:0]
	for _, t := range l.events[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= limit {
		l.events[key] = kept
		return false, nil
	}
	l.events[key] = append(kept, now)
	return true, nil
}

// StartupGate sends the startup notification at most once per cooldown for a
// symbol. The cooldown state lives in the gate, which may be shared across
// restarts when backed by Redis.
type StartupGate struct {
	gate     domain.CooldownGate
	cooldown time.Duration
	logger   *slog.Logger
}

// NewStartupGate creates a StartupGate. A non-positive cooldown selects
// DefaultStartupCooldown.
func NewStartupGate(gate domain.CooldownGate, cooldown time.Duration, logger *slog.Logger) *StartupGate {
	if cooldown <= 0 {
		cooldown = DefaultStartupCooldown
	}
	return &StartupGate{gate: gate, cooldown: cooldown, logger: logger.With(slog.String("component", "startup_gate"))}
}

// Announce sends the startup message unless the cooldown is active. It
// returns domain.ErrCooldown when suppressed.
func (s *StartupGate) Announce(ctx context.Context, n *Notifier, symbol string, testnet bool, runID string) error {
	ok, err := s.gate.Allow(ctx, "startup:"+symbol, s.cooldown)
	if err != nil {
		return err
	}
	if !ok {
		s.logger.InfoContext(ctx, "startup notification suppressed", slog.String("symbol", symbol))
		return domain.ErrCooldown
	}
	title, msg := StartupMessage(symbol, testnet, runID)
	return n.Notify(ctx, EventStartup, title, msg)
}

// Throttle limits how often an event type is delivered per key.
type Throttle struct {
	limiter domain.RateLimiter
	limit   int
	window  time.Duration
}

// NewThrottle allows limit deliveries per window.
func NewThrottle(limiter domain.RateLimiter, limit int, window time.Duration) *Throttle {
	return &Throttle{limiter: limiter, limit: limit, window: window}
}

// Notify delivers through n if the throttle admits key. A suppressed delivery
// returns domain.ErrCooldown.
func (t *Throttle) Notify(ctx context.Context, n *Notifier, key, event, title, message string) error {
	if !n.Allows(event) {
		return nil
	}
	ok, err := t.limiter.Allow(ctx, event+":"+key, t.limit, t.window)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrCooldown
	}
	return n.Notify(ctx, event, title, message)
}

var (
	_ domain.CooldownGate = (*MemoryGate)(nil)
	_ domain.RateLimiter  = (*MemoryLimiter)(nil)
)
