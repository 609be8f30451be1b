package peer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventQueueKeepsOrder(t *testing.T) {
	var (
		q    eventQueue
		mu   sync.Mutex
		seen []int
	)
	release := make(chan struct{})

	q.push(func() { <-release })
	for i := 0; i < 100; i++ {
		i := i
		q.push(func() {
			mu.Lock()
			seen = append(seen, i)
			mu.Unlock()
		})
	}
	close(release)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 100
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i, v := range seen {
		assert.Equal(t, i, v)
	}
}
