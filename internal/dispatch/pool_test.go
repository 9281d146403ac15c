package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestPool_PreservesOrderPerKey verifies that tasks submitted for one key run in
// submission order even while other keys are busy.
func TestPool_PreservesOrderPerKey(t *testing.T) {
	req := require.New(t)
	pool := NewPool(4, slog.New(slog.DiscardHandler))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	var mu sync.Mutex
	seen := make(map[string][]int)
	var wg sync.WaitGroup

	// Given five rooms submitting concurrently
	for r := 0; r < 5; r++ {
		wg.Add(1)
		go func(room string) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				n := i
				pool.Submit(room, func() {
					mu.Lock()
					seen[room] = append(seen[room], n)
					mu.Unlock()
				})
			}
		}(fmt.Sprintf("channel:%d", r))
	}
	wg.Wait()

	// Then every room observes its tasks in order
	req.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, v := range seen {
			if len(v) != 200 {
				return false
			}
		}
		return len(seen) == 5
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	for room, v := range seen {
		for i := range v {
			req.Equal(i, v[i], "room %s out of order", room)
		}
	}
	mu.Unlock()

	cancel()
	<-done
}

// TestPool_SlowLaneDoesNotStallOthers checks that a blocked task only delays
// its own lane.
func TestPool_SlowLaneDoesNotStallOthers(t *testing.T) {
	req := require.New(t)
	pool := NewPool(8, slog.New(slog.DiscardHandler))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Run(ctx)

	slow, fast := "channel:slow", ""
	for i := 0; i < 100; i++ {
		candidate := fmt.Sprintf("channel:%d", i)
		if pool.LaneFor(candidate) != pool.LaneFor(slow) {
			fast = candidate
			break
		}
	}
	req.NotEmpty(fast)

	release := make(chan struct{})
	defer close(release)
	pool.Submit(slow, func() { <-release })

	ran := make(chan struct{})
	pool.Submit(fast, func() { close(ran) })

	select {
	case <-ran:
	case <-time.After(time.Second):
		req.Fail("fast lane was blocked by slow lane")
	}
}

// TestPool_RecoversFromPanickingTask ensures a panicking task does not kill
// the lane.
func TestPool_RecoversFromPanickingTask(t *testing.T) {
	req := require.New(t)
	pool := NewPool(1, slog.New(slog.DiscardHandler))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Run(ctx)

	pool.Submit("server:1", func() { panic("boom") })
	ran := make(chan struct{})
	pool.Submit("server:1", func() { close(ran) })

	select {
	case <-ran:
	case <-time.After(time.Second):
		req.Fail("lane stopped after panic")
	}
}

// TestPool_DrainsOnCancel verifies queued tasks still run when the pool stops.
func TestPool_DrainsOnCancel(t *testing.T) {
	req := require.New(t)
	pool := NewPool(2, slog.New(slog.DiscardHandler))

	count := 0
	var mu sync.Mutex
	for i := 0; i < 10; i++ {
		pool.Submit("conversation:1", func() {
			mu.Lock()
			count++
			mu.Unlock()
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pool.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	req.Equal(10, count)
}
