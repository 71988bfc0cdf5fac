package poller

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_Ceiling(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 30 * time.Second}

	assert.Equal(t, time.Second, b.Ceiling(0))
	assert.Equal(t, 2*time.Second, b.Ceiling(1))
	assert.Equal(t, 16*time.Second, b.Ceiling(4))
	assert.Equal(t, 30*time.Second, b.Ceiling(5))
	assert.Equal(t, 30*time.Second, b.Ceiling(40))
	assert.Equal(t, 30*time.Second, b.Ceiling(math.MaxInt32))
}

func TestBackoff_DelayWithinBounds(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 30 * time.Second}
	for attempt := 0; attempt < 40; attempt++ {
		for i := 0; i < 50; i++ {
			d := b.Delay(attempt)
			assert.GreaterOrEqual(t, d, time.Duration(0))
			assert.Less(t, d, b.Ceiling(attempt))
		}
	}
}

func TestBackoff_DisabledWhenZero(t *testing.T) {
	assert.Zero(t, Backoff{}.Delay(3))
}
