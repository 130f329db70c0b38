package cache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSnapshot_LoadStore(t *testing.T) {
	var s Snapshot[[]string]

	got, ok := s.Load()
	assert.False(t, ok)
	assert.Nil(t, got)

	s.Store([]string{"a"})
	got, ok = s.Load()
	assert.True(t, ok)
	assert.Equal(t, []string{"a"}, got)

	s.Store([]string{"b", "c"})
	got, _ = s.Load()
	assert.Equal(t, []string{"b", "c"}, got)
}

func TestSnapshot_ConcurrentReaders(t *testing.T) {
	var s Snapshot[int]
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) { defer wg.Done(); s.Store(i) }(i)
		go func() { defer wg.Done(); _, _ = s.Load() }()
	}
	wg.Wait()

	_, ok := s.Load()
	assert.True(t, ok)
}
