package infra

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_GrowsAndCaps(t *testing.T) {
	b := NewBackoff(100*time.Millisecond, 400*time.Millisecond, 2.0)

	for range 10 {
		wait := b.Next()
		assert.GreaterOrEqual(t, wait, 100*time.Millisecond)
		// max delay plus 20% jitter
		assert.LessOrEqual(t, wait, 480*time.Millisecond)
	}
	assert.Equal(t, 10, b.Attempts())
}

func TestBackoff_Reset(t *testing.T) {
	b := NewBackoff(10*time.Millisecond, time.Second, 3.0)
	b.Next()
	b.Next()
	b.Reset()

	assert.Equal(t, 0, b.Attempts())
	assert.LessOrEqual(t, b.Next(), 12*time.Millisecond)
}
