package isul

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CloudNativeWorks/isul-sdk/isul/token"
	"github.com/CloudNativeWorks/isul-sdk/isul/tokenstore"
)

func TestCanTransition(t *testing.T) {
	assert.True(t, canTransition(Unactivated, Validating))
	assert.True(t, canTransition(Validating, Expiring))
	assert.True(t, canTransition(Deactivating, Activated))
	assert.True(t, canTransition(DeactivatedState, Validating))

	assert.False(t, canTransition(Unactivated, Activated))
	assert.False(t, canTransition(Activated, Expired))
	assert.False(t, canTransition(Validating, Deactivating))
	assert.False(t, canTransition(Validating, DeactivatedState))

	// Every state can start a new operation except the two in-flight states.
	for s := Unactivated; s <= Expired; s++ {
		if s == Validating || s == Deactivating {
			continue
		}
		assert.True(t, canTransition(s, Validating), s.String())
		assert.True(t, canTransition(s, Deactivating), s.String())
	}
}

func TestStatus(t *testing.T) {
	ok := NewStatus(OK, "")
	assert.True(t, ok.OK())
	assert.NoError(t, ok.Err())
	assert.Equal(t, "OK", ok.String())
	assert.Zero(t, ok.ExpiredDateUnix())

	exp := time.Date(2027, 3, 1, 0, 0, 0, 0, time.UTC)
	st := NewStatus(LicenseExpired, "gone").withExpiry(exp, true)
	assert.False(t, st.OK())
	assert.True(t, st.IsAboutToExpire())
	assert.Equal(t, exp.Unix(), st.ExpiredDateUnix())
	assert.Equal(t, "LicenseExpired: gone", st.String())
	assert.ErrorIs(t, st.Err(), ErrLicenseExpired)
	assert.NotErrorIs(t, st.Err(), ErrConnection)

	assert.Equal(t, "ValidationResult(42)", ValidationResult(42).String())
	assert.Equal(t, "expiring", Expiring.String())
	assert.Equal(t, "Programflow", Programflow.String())
	assert.Equal(t, "ResponseReceived", ResponseReceived.String())
}

func TestStatusFromError(t *testing.T) {
	tests := []struct {
		err  error
		want ValidationResult
	}{
		{nil, OK},
		{context.Canceled, ActivationCancelled},
		{context.DeadlineExceeded, ConnectionError},
		{fmt.Errorf("wrapped: %w", ErrConnection), ConnectionError},
		{token.ErrExpired, LicenseExpired},
		{fmt.Errorf("%w: bad sig", token.ErrInvalid), ValidationFailed},
		{ErrServer, ServerError},
		{&APIError{StatusCode: 500, Code: "X"}, ServerError},
		{errors.New("disk on fire"), InternalError},
		{ErrManagerClosed, InternalError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFromError(tt.err).Result(), fmt.Sprint(tt.err))
	}
}

func TestGrace(t *testing.T) {
	product := ProductInfo{
		GracePeriodDays:        14,
		MaxOfflineLaunches:     3,
		ExpirationWarningDays:  7,
		PhoneHomeIntervalHours: 24,
	}
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	claims := func(issued, exp time.Time) *token.Claims {
		c := &token.Claims{}
		if !issued.IsZero() {
			c.IssuedAt = jwt.NewNumericDate(issued)
		}
		if !exp.IsZero() {
			c.ExpiresAt = jwt.NewNumericDate(exp)
		}
		return c
	}

	t.Run("WithinGrace", func(t *testing.T) {
		expired := claims(time.Time{}, now.Add(-24*time.Hour))
		assert.True(t, withinGrace(product, expired, tokenstore.Counters{}, now))
		assert.False(t, withinGrace(product, expired, tokenstore.Counters{OfflineLaunchCount: 3}, now))
		assert.False(t, withinGrace(product, claims(time.Time{}, now.Add(-14*24*time.Hour)), tokenstore.Counters{}, now))
		assert.True(t, withinGrace(product, claims(time.Time{}, time.Time{}), tokenstore.Counters{OfflineLaunchCount: 99}, now))
	})

	t.Run("PhoneHomeDue", func(t *testing.T) {
		issued := now.Add(-2 * time.Hour)
		c := claims(issued, now.Add(time.Hour))
		assert.False(t, phoneHomeDue(product, c, tokenstore.Counters{}, now))
		assert.True(t, phoneHomeDue(product, c, tokenstore.Counters{}, issued.Add(24*time.Hour)))
		connected := tokenstore.Counters{LastSuccessfulConnect: now.Add(-time.Hour)}
		assert.False(t, phoneHomeDue(product, claims(now.Add(-48*time.Hour), time.Time{}), connected, now))

		off := product
		off.PhoneHomeIntervalHours = 0
		assert.False(t, phoneHomeDue(off, claims(time.Time{}, time.Time{}), tokenstore.Counters{}, now))
	})

	t.Run("AboutToExpire", func(t *testing.T) {
		assert.True(t, aboutToExpire(product, now.Add(7*24*time.Hour), now))
		assert.False(t, aboutToExpire(product, now.Add(8*24*time.Hour), now))
		assert.True(t, aboutToExpire(product, now.Add(-time.Hour), now))
		assert.False(t, aboutToExpire(product, time.Time{}, now))
	})
}

func TestSerialDispatcher(t *testing.T) {
	d := newSerialDispatcher()
	var got []int
	for i := 0; i < 100; i++ {
		d.Dispatch(func() { got = append(got, i) })
	}
	d.Close()
	d.Close()

	require.Len(t, got, 100, "Close drains queued callbacks")
	for i, v := range got {
		assert.Equal(t, i, v)
	}

	d.Dispatch(func() { t.Error("dispatched after Close") })
}

func TestDispatchSync(t *testing.T) {
	d := newSerialDispatcher()
	defer d.Close()

	v, err := dispatchSync(context.Background(), d, func() string { return "ui" })
	require.NoError(t, err)
	assert.Equal(t, "ui", v)

	block := make(chan struct{})
	d.Dispatch(func() { <-block })
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = dispatchSync(ctx, d, func() bool { return true })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(block)
}

func TestPending(t *testing.T) {
	p := newPending()
	assert.Equal(t, InternalError, p.Status().Result())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	p.resolve(NewStatus(OK, "first"))
	p.resolve(NewStatus(InternalError, "second"))
	<-p.Done()
	st, err := p.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", st.Description())
	assert.Equal(t, OK, p.Status().Result())
}
