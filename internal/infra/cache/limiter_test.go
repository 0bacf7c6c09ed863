package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_FixedWindow(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewLimiter()
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "submit:org-a", 3, time.Minute)
		assert.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := l.Allow(ctx, "submit:org-a", 3, time.Minute)
	assert.False(t, ok)

	ok, _ = l.Allow(ctx, "submit:org-b", 3, time.Minute)
	assert.True(t, ok, "keys are counted separately")

	now = now.Add(time.Minute)
	ok, _ = l.Allow(ctx, "submit:org-a", 3, time.Minute)
	assert.True(t, ok, "a new window resets the count")
}
