package nav

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMinWaitHoldsFastResults(t *testing.T) {
	start := time.Now()
	v, err := minWait(context.Background(), 30*time.Millisecond, func(context.Context) (int, error) {
		return 7, nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestMinWaitReturnsFailuresAtOnce(t *testing.T) {
	boom := errors.New("boom")
	start := time.Now()
	_, err := minWait(context.Background(), time.Second, func(context.Context) (int, error) {
		return 0, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Less(t, time.Since(start), time.Second)
}

func TestMinWaitHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := minWait(ctx, time.Second, func(context.Context) (int, error) {
		return 1, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
