package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestThrottle_AllowsUpToLimit(t *testing.T) {
	throttle := NewThrottle(3, time.Minute)

	for i := 0; i < 3; i++ {
		assert.True(t, throttle.Allow("typing:chat:alice:bob"))
	}
	assert.False(t, throttle.Allow("typing:chat:alice:bob"))
}

func TestThrottle_KeysAreIndependent(t *testing.T) {
	throttle := NewThrottle(1, time.Minute)

	assert.True(t, throttle.Allow("typing:chat:alice:bob"))
	assert.False(t, throttle.Allow("typing:chat:alice:bob"))
	assert.True(t, throttle.Allow("typing:chat:alice:carol"))
}

func TestThrottle_WindowSlides(t *testing.T) {
	throttle := NewThrottle(2, 40*time.Millisecond)

	assert.True(t, throttle.Allow("k"))
	assert.True(t, throttle.Allow("k"))
	assert.False(t, throttle.Allow("k"))

	time.Sleep(50 * time.Millisecond)
	assert.True(t, throttle.Allow("k"))
}
