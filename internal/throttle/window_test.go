package throttle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWindow_TickAndRate(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w := NewWindow(base)

	for i := 0; i < 5; i++ {
		w.Tick(base)
	}
	assert.Equal(t, int64(5), w.Rate(base))

	w.Tick(base.Add(10 * time.Second))
	assert.Equal(t, int64(6), w.Rate(base.Add(10*time.Second)))
}

func TestWindow_BucketExpiry(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w := NewWindow(base)

	for i := 0; i < 10; i++ {
		w.Tick(base)
	}
	assert.Equal(t, int64(10), w.Rate(base))

	// 70s later, the original bucket's epoch is outside the 60s window.
	later := base.Add(70 * time.Second)
	assert.Equal(t, int64(0), w.Rate(later))
}

func TestWindow_BucketRollover(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w := NewWindow(base)

	w.Tick(base)
	w.Tick(base)
	assert.Equal(t, int64(2), w.Rate(base))

	// exactly one window-length later, same bucket index, but the bucket's
	// epoch has rolled over so it should read zero before the new tick.
	oneWindowLater := base.Add(windowDuration)
	w.Tick(oneWindowLater)
	assert.Equal(t, int64(1), w.Rate(oneWindowLater))
}

func TestEffectiveLimit(t *testing.T) {
	// limit=600/min, bucket resolution 10s, no tolerance -> 100 per bucket.
	got := EffectiveLimit(600, time.Minute, 0)
	assert.Equal(t, int64(100), got)

	// with 10% tolerance, floor(100*0.9) = 90
	got = EffectiveLimit(600, time.Minute, 0.1)
	assert.Equal(t, int64(90), got)
}

func TestEffectiveLimit_NoInterval(t *testing.T) {
	assert.Equal(t, int64(-1), EffectiveLimit(0, 0, 0))
}

func TestAlert_FlipsAboveAndBelowLimit(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w := NewWindow(base)
	alert := NewAlert(w, 5)

	assert.Equal(t, BelowLimit, alert.Evaluate(base))

	for i := 0; i < 6; i++ {
		w.Tick(base)
	}
	assert.Equal(t, AboveLimit, alert.Evaluate(base))

	later := base.Add(70 * time.Second)
	assert.Equal(t, BelowLimit, alert.Evaluate(later))
}

func TestAlert_InfiniteLimitAlwaysBelow(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w := NewWindow(base)
	alert := NewAlert(w, -1)

	for i := 0; i < 1000; i++ {
		w.Tick(base)
	}
	assert.Equal(t, BelowLimit, alert.Evaluate(base))
}

func TestRegistry_WindowForCreatesOncePerKey(t *testing.T) {
	reg := NewRegistry()
	now := time.Now()

	w1 := reg.WindowFor("conn-1", now)
	w2 := reg.WindowFor("conn-1", now)
	assert.Same(t, w1, w2)

	w3 := reg.WindowFor("conn-2", now)
	assert.NotSame(t, w1, w3)
}

func TestRegistry_AlertForCreatesOncePerKeyAndSharesWindow(t *testing.T) {
	reg := NewRegistry()
	now := time.Now()

	a1 := reg.AlertFor("conn-1", now, 5)
	a2 := reg.AlertFor("conn-1", now, 999) // limit ignored on the cached alert
	assert.Same(t, a1, a2)

	w := reg.WindowFor("conn-1", now)
	for i := 0; i < 6; i++ {
		w.Tick(now)
	}
	assert.Equal(t, AboveLimit, a1.Evaluate(now))

	a3 := reg.AlertFor("conn-2", now, 5)
	assert.NotSame(t, a1, a3)
}
