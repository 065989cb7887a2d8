package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGate_HighLatencyCooldown(t *testing.T) {
	t.Parallel()

	g := NewGate(nil)
	start := time.Unix(1_000, 0)

	assert.True(t, g.ShouldNotify(CategoryHighLatency, start))
	assert.False(t, g.ShouldNotify(CategoryHighLatency, start.Add(10*time.Second)))
	assert.True(t, g.ShouldNotify(CategoryHighLatency, start.Add(61*time.Second)))
}

func TestGate_SuppressedCallDoesNotResetClock(t *testing.T) {
	t.Parallel()

	g := NewGate(nil)
	start := time.Unix(1_000, 0)

	assert.True(t, g.ShouldNotify(CategoryVPN, start))
	assert.False(t, g.ShouldNotify(CategoryVPN, start.Add(20*time.Second)))
	assert.True(t, g.ShouldNotify(CategoryVPN, start.Add(30*time.Second)))

	last, ok := g.LastSent(CategoryVPN)
	assert.True(t, ok)
	assert.Equal(t, start.Add(30*time.Second), last)
}

func TestGate_CategoriesAreIndependent(t *testing.T) {
	t.Parallel()

	g := NewGate(nil)
	now := time.Unix(1_000, 0)

	assert.True(t, g.ShouldNotify(CategoryHighLatency, now))
	assert.True(t, g.ShouldNotify(CategoryVPN, now))
	assert.True(t, g.ShouldNotify(CategorySiteDown, now))
	assert.True(t, g.ShouldNotify(CategorySiteDown, now))
	assert.False(t, g.ShouldNotify(CategoryHighLatency, now.Add(time.Second)))
}

func TestMulti_SkipsNil(t *testing.T) {
	t.Parallel()

	var got []string
	n := Multi(nil, NotifierFunc(func(a Alert) { got = append(got, a.Title) }), nil)
	n.Notify(Alert{Title: "one"})
	assert.Equal(t, []string{"one"}, got)
}
