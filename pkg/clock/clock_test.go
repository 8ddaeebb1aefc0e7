package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSystemReturnsUTC(t *testing.T) {
	now := System().Now()

	assert.Equal(t, time.UTC, now.Location())
	assert.WithinDuration(t, time.Now().UTC(), now, time.Second)
}

func TestFake(t *testing.T) {
	start := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	fake := NewFake(start)

	assert.Equal(t, start, fake.Now())
	// Frozen until moved.
	assert.Equal(t, start, fake.Now())

	moved := fake.Advance(90 * time.Minute)
	assert.Equal(t, start.Add(90*time.Minute), moved)
	assert.Equal(t, moved, fake.Now())

	fake.Set(start)
	assert.Equal(t, start, fake.Now())
}
