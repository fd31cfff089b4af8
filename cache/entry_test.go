package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEntryExpiredAt(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	e := NewEntry("v", at)
	assert.False(t, e.ExpiredAt(at.Add(-time.Nanosecond)))
	assert.True(t, e.ExpiredAt(at))
	assert.True(t, e.ExpiredAt(at.Add(time.Second)))
}

func TestEntryIsExpired(t *testing.T) {
	assert.True(t, NewEntry(1, time.Now().Add(-time.Minute)).IsExpired())
	assert.False(t, NewEntry(1, time.Now().Add(time.Minute)).IsExpired())
}

func TestInvalid(t *testing.T) {
	now := time.Now()
	assert.True(t, Invalid[string](nil, now))
	assert.True(t, Invalid(NewEntry("v", now), now))
	assert.False(t, Invalid(NewEntry("v", now.Add(time.Millisecond)), now))
}
