package common

import (
	"sync"
	"time"

	"devstash/internal/config"
	"devstash/internal/core"
)

// RateLimiter ограничивает число вызовов субъекта в скользящем окне.
// Субъекты без вызовов дольше окна удаляются при очередной проверке.
type RateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	hits   map[core.Subject][]time.Time
	swept  time.Time
	now    func() time.Time
}

// NewRateLimiter создает limiter: не больше limit вызовов за window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &RateLimiter{
		limit:  limit,
		window: window,
		hits:   make(map[core.Subject][]time.Time),
		now:    time.Now,
	}
}

// NewRateLimiterFromConfig возвращает nil, если лимит отключен.
func NewRateLimiterFromConfig(cfg config.RateLimit) *RateLimiter {
	if cfg.Limit <= 0 {
		return nil
	}
	return NewRateLimiter(cfg.Limit, cfg.Window())
}

// Allow учитывает вызов субъекта и сообщает, укладывается ли он в лимит.
func (l *RateLimiter) Allow(s core.Subject) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	if now.Sub(l.swept) >= l.window {
		l.sweep(cutoff)
		l.swept = now
	}

	kept := l.hits[s][:0]
	for _, ts := range l.hits[s] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.limit {
		l.hits[s] = kept
		return false
	}
	l.hits[s] = append(kept, now)
	return true
}

// sweep удаляет субъектов, последний вызов которых вышел за окно.
func (l *RateLimiter) sweep(cutoff time.Time) {
	for s, ts := range l.hits {
		if len(ts) == 0 || !ts[len(ts)-1].After(cutoff) {
			delete(l.hits, s)
		}
	}
}

// Subjects число отслеживаемых субъектов.
func (l *RateLimiter) Subjects() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hits)
}
