package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "token:a@b.co", Key(KindToken, "a@b.co"))
	assert.Equal(t, "preview:https://x.io/a:b", Key(KindPreview, "https://x.io/a", "b"))
}

func TestMemoryStore_ExpiresAfterTTL(t *testing.T) {
	clock := newFakeClock()
	m := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Second))

	got, ok := m.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	clock.Advance(1100 * time.Millisecond)

	_, ok = m.Get(ctx, "k")
	assert.False(t, ok, "entry must not be returned past its expiry")
	assert.Equal(t, 0, m.Len())
}

func TestMemoryStore_Miss(t *testing.T) {
	m := NewMemoryStore()
	_, ok := m.Get(context.Background(), "absent")
	assert.False(t, ok)
}

func TestMemoryStore_OverwriteResetsExpiry(t *testing.T) {
	clock := newFakeClock()
	m := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", []byte("old"), time.Second))
	clock.Advance(900 * time.Millisecond)
	require.NoError(t, m.Set(ctx, "k", []byte("new"), time.Second))
	clock.Advance(900 * time.Millisecond)

	got, ok := m.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("new"), got)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	in := []byte("abc")
	require.NoError(t, m.Set(ctx, "k", in, time.Minute))
	in[0] = 'X'

	got, _ := m.Get(ctx, "k")
	got[1] = 'Y'

	again, _ := m.Get(ctx, "k")
	assert.Equal(t, []byte("abc"), again)
}

func TestMemoryStore_SetSweepsExpired(t *testing.T) {
	clock := newFakeClock()
	m := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "short", []byte("1"), time.Second))
	require.NoError(t, m.Set(ctx, "long", []byte("2"), time.Hour))
	clock.Advance(2 * time.Second)
	require.NoError(t, m.Set(ctx, "other", []byte("3"), time.Hour))

	m.mu.Lock()
	_, stillThere := m.entries["short"]
	m.mu.Unlock()
	assert.False(t, stillThere)
	assert.Equal(t, 2, m.Len())
}

func TestMemoryStore_Delete(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, m.Delete(ctx, "k"))
	_, ok := m.Get(ctx, "k")
	assert.False(t, ok)
}

func TestMemoryStore_ConcurrentIndependentKeys(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := Key(KindToken, string(rune('a'+i%26)), time.Duration(i).String())
			_ = m.Set(ctx, key, []byte("v"), time.Minute)
			_, ok := m.Get(ctx, key)
			assert.True(t, ok)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, m.Len())
}
