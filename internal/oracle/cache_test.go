package oracle

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheKey_Deterministic(t *testing.T) {
	msgs := []Message{{Role: RoleSystem, Content: "s"}, {Role: RoleUser, Content: "u"}}
	k1 := CacheKey("p", "m", 0.2, 100, msgs)
	k2 := CacheKey("p", "m", 0.2, 100, msgs)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 64)
	assert.NotEqual(t, k1, CacheKey("p", "m", 0.3, 100, msgs))
	assert.NotEqual(t, k1, CacheKey("q", "m", 0.2, 100, msgs))
}

func TestMemoryCache(t *testing.T) {
	c := NewMemoryCache(2, time.Hour)
	c.Set("a", []byte(`1`))
	c.Set("b", []byte(`2`))
	c.Set("c", []byte(`3`))

	_, ok := c.Get("a")
	assert.False(t, ok, "oldest entry evicted")
	v, ok := c.Get("c")
	require.True(t, ok)
	assert.Equal(t, `3`, string(v))
}

func TestFileCache_RoundTripAndExpiry(t *testing.T) {
	dir := t.TempDir()
	c := NewFileCache(dir, time.Hour, quietLog())
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Set("k", []byte(`{"x":1}`))
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.JSONEq(t, `{"x":1}`, string(v))
	assert.FileExists(t, filepath.Join(dir, "k.json"))

	now = now.Add(2 * time.Hour)
	_, ok = c.Get("k")
	assert.False(t, ok, "expired entry is a miss")
}

func TestFileCache_IgnoresInvalidAndCorrupt(t *testing.T) {
	dir := t.TempDir()
	c := NewFileCache(dir, 0, quietLog())

	c.Set("bad", []byte("not json"))
	_, ok := c.Get("bad")
	assert.False(t, ok)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "corrupt.json"), []byte("{"), 0o644))
	_, ok = c.Get("corrupt")
	assert.False(t, ok)
}

func TestTiered_BackfillsEarlierTiers(t *testing.T) {
	mem := NewMemoryCache(8, time.Hour)
	file := NewFileCache(t.TempDir(), 0, quietLog())
	file.Set("k", []byte(`{"v":2}`))

	tiered := Tiered{mem, file}
	v, ok := tiered.Get("k")
	require.True(t, ok)
	assert.JSONEq(t, `{"v":2}`, string(v))

	v, ok = mem.Get("k")
	require.True(t, ok, "hit copied into memory tier")
	assert.JSONEq(t, `{"v":2}`, string(v))

	tiered.Set("n", []byte(`{}`))
	_, ok = file.Get("n")
	assert.True(t, ok)
}
