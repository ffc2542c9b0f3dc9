package sendqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuafuller/ipadapter/internal/endpoint"
	"github.com/joshuafuller/ipadapter/internal/errors"
)

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue(8)
	ep := endpoint.New(endpoint.IPv4, "10.0.0.1", 5683)

	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(ep, []byte(p), false))
	}

	ctx := context.Background()
	for _, want := range []string{"a", "b", "c"} {
		msg, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, string(msg.Data))
	}
}

func TestQueue_OwnsPayload(t *testing.T) {
	q := NewQueue(1)
	data := []byte("hello")
	require.NoError(t, q.Enqueue(endpoint.New(endpoint.IPv4, "10.0.0.1", 1), data, false))
	data[0] = 'J'

	msg, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello", string(msg.Data), "queued payload must not alias the caller's buffer")
}

func TestQueue_FullAndClosed(t *testing.T) {
	q := NewQueue(1)
	ep := endpoint.New(endpoint.IPv4, "10.0.0.1", 5683)

	require.NoError(t, q.Enqueue(ep, []byte("1"), false))
	assert.ErrorIs(t, q.Enqueue(ep, []byte("2"), false), errors.ErrQueueFull)

	q.Close()
	q.Close()
	assert.ErrorIs(t, q.Enqueue(ep, []byte("3"), false), errors.ErrQueueClosed)

	msg, err := q.Dequeue(context.Background())
	require.NoError(t, err, "queued message survives Close")
	assert.Equal(t, "1", string(msg.Data))

	_, err = q.Dequeue(context.Background())
	assert.ErrorIs(t, err, errors.ErrQueueClosed)
}

func TestQueue_DequeueCancelled(t *testing.T) {
	q := NewQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type recordingSender struct {
	mu   sync.Mutex
	seen []string
}

func (r *recordingSender) Dispatch(msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, string(msg.Data))
}

func TestWorker_DrainsInOrder(t *testing.T) {
	q := NewQueue(16)
	sender := &recordingSender{}
	w := NewWorker(q, sender, nil, nil)
	ep := endpoint.New(endpoint.IPv6, "::1", 5683)

	var want []string
	for _, p := range []string{"first", "second", "third", "fourth"} {
		require.NoError(t, q.Enqueue(ep, []byte(p), false))
		want = append(want, p)
	}
	q.Close()

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit after queue was closed and drained")
	}

	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Equal(t, want, sender.seen)
}

func TestWorker_StopsOnCancel(t *testing.T) {
	w := NewWorker(NewQueue(1), &recordingSender{}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker ignored cancellation")
	}
}

func TestWorker_NoDispatchAfterCancel(t *testing.T) {
	ep := endpoint.New(endpoint.IPv4, "10.0.0.1", 5683)

	for run := 0; run < 200; run++ {
		q := NewQueue(64)
		for i := 0; i < 64; i++ {
			require.NoError(t, q.Enqueue(ep, []byte{byte(i)}, false))
		}
		sender := &recordingSender{}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		q.Close()

		require.NoError(t, NewWorker(q, sender, nil, nil).Run(ctx))

		sender.mu.Lock()
		dispatched := len(sender.seen)
		sender.mu.Unlock()
		if dispatched != 0 {
			t.Fatalf("run %d: %d messages dispatched after cancellation, want 0", run, dispatched)
		}
		if q.Len() != 0 {
			t.Fatalf("run %d: %d messages left queued, want all discarded", run, q.Len())
		}
	}
}

func TestQueue_DequeuePrefersCancellation(t *testing.T) {
	q := NewQueue(4)
	require.NoError(t, q.Enqueue(endpoint.New(endpoint.IPv4, "10.0.0.1", 1), []byte("x"), false))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 100; i++ {
		_, err := q.Dequeue(ctx)
		require.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, 1, q.Discard(), "the queued message stays until discarded")
	assert.Equal(t, 0, q.Len())
}
