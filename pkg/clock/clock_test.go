package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSystem_ReturnsUTC(t *testing.T) {
	assert.Equal(t, time.UTC, System{}.Now().Location())
}

func TestManual_AdvanceAndSet(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewManual(start)
	assert.Equal(t, start, c.Now())

	c.Advance(15 * time.Minute)
	assert.Equal(t, start.Add(15*time.Minute), c.Now())

	c.Set(start)
	assert.Equal(t, start, c.Now())
}
