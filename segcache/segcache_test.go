package segcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapCache(t *testing.T) {
	c := NewMapCache[float64]()
	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Put("a", 0.4)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 0.4, v)
	assert.Equal(t, 1, c.Len())
}

func TestLRUCacheEvicts(t *testing.T) {
	c, err := NewLRUCache[int](2)
	require.NoError(t, err)

	c.Put("a", 1)
	c.Put("b", 2)
	_, _ = c.Get("a")
	c.Put("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 2, c.Len())
}

func TestNewSelectsBackend(t *testing.T) {
	c, err := New[int](0)
	require.NoError(t, err)
	assert.IsType(t, &MapCache[int]{}, c)

	c, err = New[int](8)
	require.NoError(t, err)
	assert.IsType(t, &LRUCache[int]{}, c)
}

func TestMemoCachesSuccessOnly(t *testing.T) {
	m := NewMemo[float64](nil)
	ctx := context.Background()

	_, _, err := m.Do(ctx, "seg", func(context.Context) (float64, error) {
		return 0, errors.New("scorer down")
	})
	require.Error(t, err)
	assert.Equal(t, 0, m.Len())

	v, hit, err := m.Do(ctx, "seg", func(context.Context) (float64, error) { return 0.9, nil })
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 0.9, v)

	v, hit, err = m.Do(ctx, "seg", func(context.Context) (float64, error) {
		t.Fatal("cached value recomputed")
		return 0, nil
	})
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 0.9, v)
}

func TestMemoSharesInFlight(t *testing.T) {
	m := NewMemo[int](nil)
	var calls atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, _, err := m.Do(context.Background(), "shared", func(context.Context) (int, error) {
				calls.Add(1)
				<-release
				return 7, nil
			})
			assert.NoError(t, err)
			assert.Equal(t, 7, v)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}
