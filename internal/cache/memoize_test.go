package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoizerRunsProducerOnceForConcurrentMisses(t *testing.T) {
	store, _ := newTestStore(t, "prices")
	memo := NewMemoizer(store)

	var calls atomic.Int32
	release := make(chan struct{})
	produce := func(context.Context) (Payload, error) {
		calls.Add(1)
		<-release
		return Payload{"full": 49.99}, nil
	}

	const workers = 8
	var (
		wg      sync.WaitGroup
		started sync.WaitGroup
		results = make([]Payload, workers)
		errs    = make([]error, workers)
	)
	started.Add(workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			started.Done()
			results[i], errs[i] = memo.Remember(context.Background(), "USD", time.Hour, produce)
		}(i)
	}
	started.Wait()
	// 给 goroutine 足够时间进入 singleflight 等待。
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0], results[i])
	}
	// 迟到的调用方要么加入进行中的调用，要么命中 leader 已写入的条目。
	assert.Equal(t, int32(1), calls.Load())

	// 后续调用命中缓存，不再触发 producer。
	before := calls.Load()
	_, err := memo.Remember(context.Background(), "USD", time.Hour, produce)
	require.NoError(t, err)
	assert.Equal(t, before, calls.Load())
}

func TestMemoizerCollapsesConcurrentCallers(t *testing.T) {
	store, _ := newTestStore(t, "prices")
	memo := NewMemoizer(store)

	var calls atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	produce := func(context.Context) (Payload, error) {
		if calls.Add(1) == 1 {
			close(entered)
		}
		<-release
		return Payload{"v": "x"}, nil
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = memo.Remember(context.Background(), "USD", time.Hour, produce)
	}()
	<-entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = memo.Remember(context.Background(), "USD", time.Hour, produce)
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

func TestMemoizerReturnsIndependentCopies(t *testing.T) {
	store, _ := newTestStore(t, "prices")
	memo := NewMemoizer(store)

	first, err := memo.Remember(context.Background(), "USD", time.Hour, func(context.Context) (Payload, error) {
		return Payload{"v": "x"}, nil
	})
	require.NoError(t, err)
	first["v"] = "mutated"

	second, err := memo.Remember(context.Background(), "USD", time.Hour, func(context.Context) (Payload, error) {
		t.Fatal("producer should not run on a cache hit")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "x", second["v"])
	assert.Same(t, store, memo.Store())
}
