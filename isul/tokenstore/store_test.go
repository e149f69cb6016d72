package tokenstore

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_LoadMissing(t *testing.T) {
	t.Parallel()

	s := New(filepath.Join(t.TempDir(), "nested", "product"))
	a, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, a)

	c, ok, err := s.LoadCounters()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, c)
}

func TestStore_SaveLoadRemove(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "product")
	s := New(dir)
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, s.Save(&Activation{Token: "tok-1", ActivationID: "act-1", SavedAt: now}))

	got, err := s.Load()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "tok-1", got.Token)
	assert.Equal(t, "act-1", got.ActivationID)
	assert.True(t, now.Equal(got.SavedAt))

	info, err := os.Stat(filepath.Join(dir, activationFile))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(filePerm), info.Mode().Perm())

	require.NoError(t, s.Remove())
	got, err = s.Load()
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.Remove(), "removing twice is not an error")
}

func TestStore_NoTempFilesLeft(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := New(dir)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Save(&Activation{Token: "tok"}))
		require.NoError(t, s.SaveCounters(Counters{OfflineLaunchCount: i}))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{activationFile, countersFile, lockFile}, names)
}

func TestStore_Counters(t *testing.T) {
	t.Parallel()

	s := New(t.TempDir())
	last := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveCounters(Counters{
		OfflineLaunchCount:    3,
		LastSuccessfulConnect: last,
	}))

	c, ok, err := s.LoadCounters()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, c.OfflineLaunchCount)
	assert.True(t, last.Equal(c.LastSuccessfulConnect))
	assert.True(t, c.LastDayOfExpiration.IsZero())
}

func TestStore_CorruptFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, activationFile), []byte("{not json"), 0600))

	s := New(dir)
	_, err := s.Load()
	require.ErrorIs(t, err, ErrCorrupt)
	assert.Contains(t, err.Error(), "decode")

	require.NoError(t, s.Remove())
	a, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, a)

	require.NoError(t, os.WriteFile(filepath.Join(dir, countersFile), []byte("[]"), 0600))
	_, _, err = s.LoadCounters()
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestStore_ConcurrentWriters(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s1, s2 := New(dir), New(dir)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, s1.Save(&Activation{Token: "from-s1"}))
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, s2.Save(&Activation{Token: "from-s2"}))
		}()
	}
	wg.Wait()

	got, err := s1.Load()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Contains(t, []string{"from-s1", "from-s2"}, got.Token)
}
