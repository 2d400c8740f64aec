package portpool

import (
	"testing"

	"github.com/randalmurphal/baton-dispatcher/internal/baterrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateLowestFree(t *testing.T) {
	a := New(9200, 9299)
	p1, err := a.Allocate()
	require.NoError(t, err)
	assert.Equal(t, 9200, p1)

	p2, err := a.Allocate()
	require.NoError(t, err)
	assert.Equal(t, 9201, p2)
}

func TestAllocateThenReleaseReturnsToAvailability(t *testing.T) {
	a := New(9200, 9200)
	p, err := a.Allocate()
	require.NoError(t, err)
	a.Release(p)

	p2, err := a.Allocate()
	require.NoError(t, err)
	assert.Equal(t, p, p2)
}

func TestSingletonRangeExhaustsOnSecondAllocate(t *testing.T) {
	a := New(9200, 9200)
	_, err := a.Allocate()
	require.NoError(t, err)

	_, err = a.Allocate()
	require.Error(t, err)
	var exhausted *baterrors.Exhausted
	assert.ErrorAs(t, err, &exhausted)
}

func TestReleaseUnallocatedIsNoop(t *testing.T) {
	a := New(9200, 9299)
	assert.NotPanics(t, func() { a.Release(9250) })
	assert.Equal(t, 0, a.InUseCount())
}

func TestConcurrentAllocatesArePairwiseDistinct(t *testing.T) {
	a := New(9200, 9299)
	n := 50
	results := make(chan int, n)
	for i := 0; i < n; i++ {
		go func() {
			p, err := a.Allocate()
			require.NoError(t, err)
			results <- p
		}()
	}
	seen := make(map[int]struct{})
	for i := 0; i < n; i++ {
		p := <-results
		_, dup := seen[p]
		assert.False(t, dup, "port %d allocated twice", p)
		seen[p] = struct{}{}
	}
}
