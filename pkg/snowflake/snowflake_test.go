package snowflake

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNodeBounds(t *testing.T) {
	_, err := NewNode(-1)
	require.Error(t, err)
	_, err = NewNode(1024)
	require.Error(t, err)
	_, err = NewNode(1023)
	require.NoError(t, err)
}

func TestGenerateIsUniqueAndIncreasing(t *testing.T) {
	n, err := NewNode(7)
	require.NoError(t, err)

	const workers, perWorker = 8, 500
	var mu sync.Mutex
	seen := make(map[ID]struct{}, workers*perWorker)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var last ID
			for j := 0; j < perWorker; j++ {
				id := n.Generate()
				assert.Greater(t, id, last)
				last = id
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, workers*perWorker)
}

func TestClockMovingBackwards(t *testing.T) {
	n, err := NewNode(1)
	require.NoError(t, err)
	clock := int64(1800000000000)
	n.nowFn = func() int64 { return clock }

	first := n.Generate()
	clock -= 5000
	second := n.Generate()
	assert.Greater(t, second, first)
	assert.Equal(t, time.UnixMilli(1800000000000), first.Time())
}

func TestBase36RoundTrip(t *testing.T) {
	n, err := NewNode(3)
	require.NoError(t, err)
	id := n.Generate()
	parsed, err := ParseBase36(id.Base36())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = ParseBase36("../etc")
	assert.Error(t, err)
	_, err = ParseBase36("")
	assert.Error(t, err)
}
