package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueFIFO(t *testing.T) {
	q := newJobQueue()
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Push(&Job{ID: fmt.Sprintf("job-%d", i)}))
	}

	for i := 0; i < 5; i++ {
		job, err := q.Pop(context.Background())
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("job-%d", i), job.ID)
	}
	assert.Equal(t, 0, q.Size())
}

func TestQueuePopBlocksUntilPush(t *testing.T) {
	q := newJobQueue()

	got := make(chan *Job, 1)
	go func() {
		job, err := q.Pop(context.Background())
		if err == nil {
			got <- job
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Push(&Job{ID: "late"}))

	select {
	case job := <-got:
		assert.Equal(t, "late", job.ID)
	case <-time.After(time.Second):
		t.Fatal("Pop never returned after Push")
	}
}

func TestQueuePopUnblocksOnCancel(t *testing.T) {
	q := newJobQueue()
	ctx, cancel := context.WithCancel(context.Background())

	errs := make(chan error, 1)
	go func() {
		_, err := q.Pop(ctx)
		errs <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Pop never returned after cancellation")
	}

	// The queue must stay usable for other workers.
	require.NoError(t, q.Push(&Job{ID: "after-cancel"}))
	job, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "after-cancel", job.ID)
}

func TestQueueCloseUnblocksWaiters(t *testing.T) {
	q := newJobQueue()

	const waiters = 3
	errs := make(chan error, waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			_, err := q.Pop(context.Background())
			errs <- err
		}()
	}

	time.Sleep(20 * time.Millisecond)
	q.Close()

	for i := 0; i < waiters; i++ {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, ErrQueueClosed)
		case <-time.After(time.Second):
			t.Fatal("waiter never returned after Close")
		}
	}

	assert.ErrorIs(t, q.Push(&Job{ID: "x"}), ErrQueueClosed)
}

func TestQueueDrainsAfterClose(t *testing.T) {
	q := newJobQueue()
	require.NoError(t, q.Push(&Job{ID: "queued"}))
	q.Close()

	// Jobs accepted before Close are still handed out.
	job, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "queued", job.ID)

	_, err = q.Pop(context.Background())
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestQueueConcurrentWaitersAndCancellations(t *testing.T) {
	// Mixed cancellations and pushes while many waiters block: every Pop
	// must return either a job or the waiter's own context error, and no
	// job may be lost or delivered twice.
	q := newJobQueue()

	const waiters = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	delivered := make(map[string]int)

	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx := context.Background()
			if i%2 == 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, 10*time.Millisecond)
				defer cancel()
			}
			job, err := q.Pop(ctx)
			if err != nil {
				return
			}
			mu.Lock()
			delivered[job.ID]++
			mu.Unlock()
		}(i)
	}

	time.Sleep(30 * time.Millisecond) // let half the waiters time out
	for i := 0; i < waiters; i++ {
		_ = q.Push(&Job{ID: fmt.Sprintf("job-%d", i)})
	}
	time.Sleep(30 * time.Millisecond)
	q.Close()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for id, n := range delivered {
		assert.Equal(t, 1, n, "job %s delivered %d times", id, n)
	}
}
