package registry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestLoadCachesSuccess(t *testing.T) {
	r := New[string]()
	var calls atomic.Int32
	r.Register("list", func(context.Context) (string, error) {
		calls.Inc()
		return "list-page", nil
	})

	assert.False(t, r.Loaded("list"))
	for i := 0; i < 3; i++ {
		v, err := r.Load(context.Background(), "list")
		require.NoError(t, err)
		assert.Equal(t, "list-page", v)
	}
	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, r.Loaded("list"))
}

func TestLoadUnknownName(t *testing.T) {
	r := New[int]()
	_, err := r.Load(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadRetriesAfterFailure(t *testing.T) {
	r := New[int]()
	fail := true
	r.Register("flaky", func(context.Context) (int, error) {
		if fail {
			return 0, errors.New("boom")
		}
		return 42, nil
	})

	_, err := r.Load(context.Background(), "flaky")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flaky")

	fail = false
	v, err := r.Load(context.Background(), "flaky")
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestConcurrentLoadSharesOneCall(t *testing.T) {
	r := New[int]()
	var calls atomic.Int32
	release := make(chan struct{})
	r.Register("slow", func(context.Context) (int, error) {
		calls.Inc()
		<-release
		return 7, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := r.Load(context.Background(), "slow")
			assert.NoError(t, err)
			assert.Equal(t, 7, v)
		}()
	}
	close(release)
	wg.Wait()
	assert.Equal(t, int32(1), calls.Load())
}

func TestRegisterReplacesCached(t *testing.T) {
	r := New[string]()
	r.Register("p", Static("one"))
	v, _ := r.Load(context.Background(), "p")
	assert.Equal(t, "one", v)

	r.Register("p", Static("two"))
	v, _ = r.Load(context.Background(), "p")
	assert.Equal(t, "two", v)
	assert.Equal(t, []string{"p"}, r.Names())
	assert.True(t, r.Has("p"))
}
