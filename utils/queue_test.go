package utils

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameQueueFIFO(t *testing.T) {
	q := NewFrameQueue(1 << 20)
	require.NoError(t, q.Drain(context.Background(), [][]byte{{1}, {2}}))
	require.NoError(t, q.Drain(context.Background(), [][]byte{{3}}))

	frames, err := q.Feed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, [][]byte{{1}, {2}, {3}}, frames)
	assert.Equal(t, 0, q.Size())
}

func TestFrameQueueFeedBlocksUntilDrain(t *testing.T) {
	q := NewFrameQueue(1 << 20)
	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = q.Drain(context.Background(), [][]byte{{7}})
	}()

	frames, err := q.Feed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, [][]byte{{7}}, frames)
}

func TestFrameQueueOverflow(t *testing.T) {
	q := NewFrameQueue(2)
	err := q.Drain(context.Background(), [][]byte{{1, 2, 3}})
	assert.ErrorIs(t, err, ErrQueueOverflow)

	_, err = q.Feed(context.Background())
	assert.ErrorIs(t, err, ErrQueueOverflow)
}

func TestFrameQueueClose(t *testing.T) {
	q := NewFrameQueue(1 << 20)
	require.NoError(t, q.Drain(context.Background(), [][]byte{{1}}))
	require.NoError(t, q.Close())

	// the tail drains, then the queue reports closed
	frames, err := q.Feed(context.Background())
	if err == nil {
		assert.Equal(t, [][]byte{{1}}, frames)
		_, err = q.Feed(context.Background())
	}
	assert.ErrorIs(t, err, ErrQueueClosed)

	assert.ErrorIs(t, q.Drain(context.Background(), [][]byte{{2}}), ErrQueueClosed)
}

func TestFrameQueueFeedHonorsContext(t *testing.T) {
	q := NewFrameQueue(1 << 20)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := q.Feed(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
