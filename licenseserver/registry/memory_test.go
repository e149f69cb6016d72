package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ Registry = (*MemoryRegistry)(nil)
	_ Registry = (*PostgresRegistry)(nil)
	_ Registry = (*MongoRegistry)(nil)
)

func TestMemoryRegistry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewMemoryRegistry(WithClock(func() time.Time { return now }))

	t.Run("RegisterIsUpsertByKeyAndFingerprint", func(t *testing.T) {
		first, err := r.Register(ctx, Activation{ID: "a1", LicenseKey: "K1", Fingerprint: "fp1", Hostname: "old"})
		require.NoError(t, err)
		assert.Equal(t, "a1", first.ID)
		assert.Equal(t, now, first.ActivatedAt)

		now = now.Add(time.Hour)
		again, err := r.Register(ctx, Activation{ID: "a2", LicenseKey: "K1", Fingerprint: "fp1", Hostname: "new"})
		require.NoError(t, err)
		assert.Equal(t, "a1", again.ID, "existing activation keeps its ID")
		assert.Equal(t, first.ActivatedAt, again.ActivatedAt)
		assert.Equal(t, now, again.LastSeenAt)
		assert.Equal(t, "new", again.Hostname)

		n, err := r.Count(ctx, "K1")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("GetAndDeregister", func(t *testing.T) {
		a, err := r.Get(ctx, "a1")
		require.NoError(t, err)
		assert.Equal(t, "fp1", a.Fingerprint)

		require.NoError(t, r.Deregister(ctx, "a1"))
		_, err = r.Get(ctx, "a1")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, r.Deregister(ctx, "a1"), ErrNotFound)
		assert.ErrorIs(t, r.Ping(ctx, "a1"), ErrNotFound)
	})

	t.Run("ListAndPrune", func(t *testing.T) {
		_, err := r.Register(ctx, Activation{ID: "b1", LicenseKey: "K2", Fingerprint: "fp1"})
		require.NoError(t, err)
		now = now.Add(time.Hour)
		_, err = r.Register(ctx, Activation{ID: "b2", LicenseKey: "K2", Fingerprint: "fp2"})
		require.NoError(t, err)
		_, err = r.Register(ctx, Activation{ID: "c1", LicenseKey: "K3", Fingerprint: "fp1"})
		require.NoError(t, err)

		list, err := r.List(ctx, "K2")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "b1", list[0].ID)
		assert.Equal(t, "b2", list[1].ID)

		now = now.Add(30 * time.Minute)
		require.NoError(t, r.Ping(ctx, "b2"))

		pruned, err := r.Prune(ctx, "K2", time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 1, pruned)

		list, err = r.List(ctx, "K2")
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "b2", list[0].ID)

		n, err := r.Count(ctx, "K3")
		require.NoError(t, err)
		assert.Equal(t, 1, n, "prune is scoped to one license key")
	})

	require.NoError(t, r.Close(ctx))
}
