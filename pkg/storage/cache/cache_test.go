package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corralproject/corral/pkg/models"
)

func TestLRURoundTrip(t *testing.T) {
	c := NewLRU(8, time.Minute)

	_, ok := c.Get(context.Background(), "missing")
	assert.False(t, ok)

	value := []models.Candidate{{ID: "c-1", Score: 0.9}, {ID: "c-2", Score: 0.1}}
	c.Set(context.Background(), "k", value)

	got, ok := c.Get(context.Background(), "k")
	require.True(t, ok)
	require.Len(t, got, 2)
	assert.Equal(t, "c-1", got[0].ID)
	assert.Equal(t, 0.9, got[0].Score)
}

func TestLRUEvictsBeyondCapacity(t *testing.T) {
	c := NewLRU(2, time.Minute)
	c.Set(context.Background(), "a", []models.Candidate{{ID: "a"}})
	c.Set(context.Background(), "b", []models.Candidate{{ID: "b"}})
	c.Set(context.Background(), "c", []models.Candidate{{ID: "c"}})

	_, ok := c.Get(context.Background(), "a")
	assert.False(t, ok, "oldest entry evicted")
	_, ok = c.Get(context.Background(), "c")
	assert.True(t, ok)
}
