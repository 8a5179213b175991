package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSet_AddRemove(t *testing.T) {
	s := NewSet()
	a := NewClient(nil)
	b := NewClient(nil)

	require.True(t, s.Add(a))
	require.True(t, s.Add(b))
	assert.False(t, s.Add(a), "duplicate ID must be refused")
	assert.Equal(t, 2, s.Len())

	got, ok := s.Get(a.ID())
	require.True(t, ok)
	assert.Same(t, a, got)

	assert.True(t, s.Remove(a))
	assert.False(t, s.Remove(a))
	assert.Equal(t, []*Client{b}, s.All())
}

func TestSet_AllKeepsAdmissionOrder(t *testing.T) {
	s := NewSet()
	var want []*Client
	for i := 0; i < 20; i++ {
		c := NewClient(nil)
		want = append(want, c)
		s.Add(c)
	}
	assert.Equal(t, want, s.All())
}

func TestSet_Clear(t *testing.T) {
	s := NewSet()
	a, b := NewClient(nil), NewClient(nil)
	s.Add(a)
	s.Add(b)

	removed := s.Clear()
	assert.Equal(t, []*Client{a, b}, removed)
	assert.Zero(t, s.Len())
	assert.Empty(t, s.All())
}

func TestSet_ConcurrentMutation(t *testing.T) {
	s := NewSet()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := NewClient(nil)
			s.Add(c)
			_ = s.All()
			s.Remove(c)
		}()
	}
	wg.Wait()
	assert.Zero(t, s.Len())
}
