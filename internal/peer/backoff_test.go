package peer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff(t *testing.T) {
	b := NewBackoff(time.Second, 8*time.Second)
	assert.Equal(t, time.Second, b.Interval())

	var got []time.Duration
	for i := 0; i < 5; i++ {
		got = append(got, b.Failure())
	}
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second, 8 * time.Second}, got)

	assert.Equal(t, time.Second, b.Success())
	assert.Equal(t, time.Second, b.Interval())
}

func TestBackoffCeilingBelowBase(t *testing.T) {
	b := NewBackoff(time.Second, time.Millisecond)
	assert.Equal(t, time.Second, b.Failure())
}

func TestReconnectDelayGrowsLinearly(t *testing.T) {
	base := 2 * time.Second
	assert.Equal(t, 2*time.Second, reconnectDelay(base, 0))
	assert.Equal(t, 4*time.Second, reconnectDelay(base, 1))
	assert.Equal(t, 10*time.Second, reconnectDelay(base, 4))
}
