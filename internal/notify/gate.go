package notify

import (
	"sync"
	"time"
)

type Category string

const (
	CategoryHighLatency Category = "high_latency"
	CategoryVPN         Category = "vpn"
	CategorySiteDown    Category = "site_down"
)

// DefaultCooldowns are the minimum gaps between two alerts of a category.
// site_down has none because site monitoring is already edge-triggered.
var DefaultCooldowns = map[Category]time.Duration{
	CategoryHighLatency: 60 * time.Second,
	CategoryVPN:         30 * time.Second,
	CategorySiteDown:    0,
}

// Gate rate-limits alerts per category. Each category has its own clock.
type Gate struct {
	mu        sync.Mutex
	cooldowns map[Category]time.Duration
	lastSent  map[Category]time.Time
}

func NewGate(cooldowns map[Category]time.Duration) *Gate {
	if cooldowns == nil {
		cooldowns = DefaultCooldowns
	}
	c := make(map[Category]time.Duration, len(cooldowns))
	for k, v := range cooldowns {
		c[k] = v
	}
	return &Gate{
		cooldowns: c,
		lastSent:  make(map[Category]time.Time),
	}
}

// ShouldNotify reports whether an alert of category may be sent at now and,
// when it may, records now as the category's last send.
func (g *Gate) ShouldNotify(category Category, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if last, ok := g.lastSent[category]; ok && now.Sub(last) < g.cooldowns[category] {
		return false
	}
	g.lastSent[category] = now
	return true
}

// LastSent returns when category last fired.
func (g *Gate) LastSent(category Category) (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.lastSent[category]
	return t, ok
}
