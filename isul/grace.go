package isul

import (
	"context"
	"log/slog"
	"time"

	"github.com/CloudNativeWorks/isul-sdk/isul/token"
	"github.com/CloudNativeWorks/isul-sdk/isul/tokenstore"
)

// withinGrace reports whether an expired token may still be honoured offline.
// Both the time since expiry and the number of offline launches are bounded.
func withinGrace(product ProductInfo, claims *token.Claims, counters tokenstore.Counters, now time.Time) bool {
	exp := claims.ExpiresTime()
	if exp.IsZero() {
		return true
	}
	if now.Sub(exp) >= product.GracePeriod() {
		return false
	}
	return counters.OfflineLaunchCount < product.MaxOfflineLaunches
}

// phoneHomeDue reports whether a valid token should be renewed with the
// license service. Tokens that never connected count from their issue time.
func phoneHomeDue(product ProductInfo, claims *token.Claims, counters tokenstore.Counters, now time.Time) bool {
	interval := product.PhoneHomeInterval()
	if interval <= 0 {
		return false
	}
	last := counters.LastSuccessfulConnect
	if issued := claims.IssuedTime(); issued.After(last) {
		last = issued
	}
	return now.Sub(last) >= interval
}

// aboutToExpire reports whether exp falls inside the warning window.
func aboutToExpire(product ProductInfo, exp, now time.Time) bool {
	if exp.IsZero() {
		return false
	}
	return exp.Sub(now) <= product.ExpirationWarning()
}

// loadCounters returns the stored grace counters, seeded from the product
// properties when nothing has been stored yet.
func (m *Manager) loadCounters(ctx context.Context) tokenstore.Counters {
	seed := tokenstore.Counters{
		OfflineLaunchCount:    m.product.OfflineLaunchCount,
		LastSuccessfulConnect: m.product.LastSuccessfulConnect,
		LastDayOfExpiration:   m.product.LastDayOfExpiration,
	}
	c, ok, err := m.store.LoadCounters()
	if err != nil {
		m.logWarn(ctx, "grace", "counters unreadable, using seed", slog.String("error", err.Error()))
		return seed
	}
	if !ok {
		return seed
	}
	return c
}

func (m *Manager) saveCounters(ctx context.Context, c tokenstore.Counters) {
	if err := m.store.SaveCounters(c); err != nil {
		m.logError(ctx, "grace", "failed to save counters", slog.String("error", err.Error()))
	}
}

// countOfflineLaunch records a launch that could not reach the license service.
func (m *Manager) countOfflineLaunch(ctx context.Context, c tokenstore.Counters) {
	c.OfflineLaunchCount++
	m.saveCounters(ctx, c)
	m.logWarn(ctx, "grace", "offline launch counted",
		slog.Int("offline_launch_count", c.OfflineLaunchCount),
		slog.Int("max_offline_launches", m.product.MaxOfflineLaunches),
	)
}
