package cache

import (
	"context"
	"testing"
	"time"

	"ingredient-recognizer/internal/infrastructure/config"
	"ingredient-recognizer/internal/pkg/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(maxSize int, ttl time.Duration) (*Manager, *time.Time) {
	m := NewManager(config.CacheConfig{Enabled: true, MaxSize: maxSize, TTL: ttl})
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	return m, &now
}

func TestManagerGetSet(t *testing.T) {
	m, _ := newTestManager(10, time.Hour)
	defer m.Close()
	ctx := context.Background()

	_, err := m.Get(ctx, "k")
	assert.ErrorIs(t, err, common.ErrCacheMiss)

	require.NoError(t, m.Set(ctx, "k", []byte("v")))
	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

func TestManagerExpiry(t *testing.T) {
	m, now := newTestManager(10, time.Minute)
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", []byte("v")))
	*now = now.Add(2 * time.Minute)

	_, err := m.Get(ctx, "k")
	assert.ErrorIs(t, err, common.ErrCacheMiss)
	assert.Equal(t, 0, m.Len())
}

func TestManagerEvictsLeastUsed(t *testing.T) {
	m, _ := newTestManager(2, time.Hour)
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "a", []byte("1")))
	require.NoError(t, m.Set(ctx, "b", []byte("2")))
	_, err := m.Get(ctx, "a")
	require.NoError(t, err)

	require.NoError(t, m.Set(ctx, "c", []byte("3")))
	assert.Equal(t, 2, m.Len())

	_, err = m.Get(ctx, "b")
	assert.ErrorIs(t, err, common.ErrCacheMiss)
	_, err = m.Get(ctx, "a")
	assert.NoError(t, err)
}

func TestKeyDependsOnModelLanguageAndImage(t *testing.T) {
	img := []byte{1, 2, 3}
	assert.Equal(t, Key("m", "EN", img), Key("m", "en", img))
	assert.NotEqual(t, Key("m", "en", img), Key("m", "it", img))
	assert.NotEqual(t, Key("m", "en", img), Key("m2", "en", img))
	assert.NotEqual(t, Key("m", "en", img), Key("m", "en", []byte{4}))
}

func TestNewDisabled(t *testing.T) {
	s, err := New(config.CacheConfig{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, s)

	_, err = New(config.CacheConfig{Enabled: true, Backend: "bogus"})
	assert.Error(t, err)
}
