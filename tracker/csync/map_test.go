package csync

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadOrStore(t *testing.T) {
	t.Parallel()

	m := NewMap[string, string]()
	v, loaded := m.LoadOrStore("k", "a")
	require.False(t, loaded)
	require.Equal(t, "a", v)

	v, loaded = m.LoadOrStore("k", "b")
	require.True(t, loaded)
	require.Equal(t, "a", v)
}

func TestCompareAndSwap(t *testing.T) {
	t.Parallel()

	m := NewMap[string, string]()
	m.Set("k", "a")
	require.False(t, m.CompareAndSwap("k", "x", "b"))
	require.True(t, m.CompareAndSwap("k", "a", "b"))
	v, _ := m.Get("k")
	require.Equal(t, "b", v)
	require.False(t, m.CompareAndSwap("missing", "a", "b"))
}

func TestCompareAndDelete(t *testing.T) {
	t.Parallel()

	m := NewMap[string, string]()
	m.Set("k", "a")
	require.False(t, m.CompareAndDelete("k", "b"))
	require.Equal(t, 1, m.Len())
	require.True(t, m.CompareAndDelete("k", "a"))
	require.Equal(t, 0, m.Len())
}

func TestConcurrentLoadOrStoreSingleWinner(t *testing.T) {
	t.Parallel()

	m := NewMap[string, int]()
	const workers = 16

	var wg sync.WaitGroup
	winners := make([]int, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, _ := m.LoadOrStore("k", i)
			winners[i] = v
		}(i)
	}
	wg.Wait()

	first := winners[0]
	for _, w := range winners {
		require.Equal(t, first, w)
	}
}

func TestRange(t *testing.T) {
	t.Parallel()

	m := NewMap[string, int]()
	m.Set("a", 1)
	m.Set("b", 2)
	seen := map[string]int{}
	m.Range(func(k string, v int) bool {
		seen[k] = v
		return true
	})
	require.Equal(t, map[string]int{"a": 1, "b": 2}, seen)
}
