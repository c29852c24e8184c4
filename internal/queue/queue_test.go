package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errPermanent = errors.New("permanent")

func testPolicy(onDead func(DeadLetter)) Policy {
	return Policy{
		MaxAttempts: 3,
		Backoff:     func(attempt int) time.Duration { return time.Duration(attempt) * time.Millisecond },
		Retryable:   func(err error) bool { return !errors.Is(err, errPermanent) },
		OnDeadLetter: func(_ context.Context, dl DeadLetter) {
			if onDead != nil {
				onDead(dl)
			}
		},
	}
}

func TestPolicyDecide(t *testing.T) {
	p := testPolicy(nil)

	v, _ := p.decide(1, nil)
	assert.Equal(t, ack, v)

	v, d := p.decide(1, errors.New("flaky"))
	assert.Equal(t, retry, v)
	assert.Equal(t, time.Millisecond, d)

	v, d = p.decide(2, errors.New("flaky"))
	assert.Equal(t, retry, v)
	assert.Equal(t, 2*time.Millisecond, d)

	v, _ = p.decide(3, errors.New("flaky"))
	assert.Equal(t, deadLetter, v)

	v, _ = p.decide(1, errPermanent)
	assert.Equal(t, deadLetter, v)
}

func TestPolicyZeroValue(t *testing.T) {
	var p Policy
	v, _ := p.decide(1, errors.New("x"))
	assert.Equal(t, deadLetter, v)
}

func TestTaskCodec(t *testing.T) {
	id := uuid.New()
	data, err := encodeTask(id)
	require.NoError(t, err)
	task, err := decodeTask(data)
	require.NoError(t, err)
	assert.Equal(t, id, task.PhotoID)

	_, err = decodeTask([]byte(`{}`))
	assert.Error(t, err)
	_, err = decodeTask([]byte(`nope`))
	assert.Error(t, err)
}

func TestMemoryRetriesThenSucceeds(t *testing.T) {
	q := NewMemory(2, testPolicy(nil))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	attempts := map[int]bool{}
	require.NoError(t, q.Start(ctx, func(_ context.Context, d Delivery) error {
		mu.Lock()
		attempts[d.Attempt] = true
		mu.Unlock()
		if d.Attempt == 1 {
			return errors.New("transient write failure")
		}
		return nil
	}))

	require.NoError(t, q.Enqueue(ctx, uuid.New()))
	q.Wait()

	assert.Equal(t, map[int]bool{1: true, 2: true}, attempts)
	assert.Empty(t, q.DeadLetters())
}

func TestMemoryDeadLettersAfterMaxAttempts(t *testing.T) {
	var dead []DeadLetter
	var mu sync.Mutex
	q := NewMemory(1, testPolicy(func(dl DeadLetter) {
		mu.Lock()
		dead = append(dead, dl)
		mu.Unlock()
	}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	require.NoError(t, q.Start(ctx, func(context.Context, Delivery) error {
		calls.Add(1)
		return errors.New("still down")
	}))

	id := uuid.New()
	require.NoError(t, q.Enqueue(ctx, id))
	q.Wait()

	assert.Equal(t, int32(3), calls.Load())
	require.Len(t, q.DeadLetters(), 1)
	assert.Equal(t, id, q.DeadLetters()[0].PhotoID)
	assert.Equal(t, 3, q.DeadLetters()[0].Attempts)
	assert.Equal(t, "still down", q.DeadLetters()[0].Error)
	assert.Len(t, dead, 1)
}

func TestMemoryPermanentErrorSkipsRetry(t *testing.T) {
	q := NewMemory(1, testPolicy(nil))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	require.NoError(t, q.Start(ctx, func(context.Context, Delivery) error {
		calls.Add(1)
		return errPermanent
	}))

	require.NoError(t, q.Enqueue(ctx, uuid.New()))
	q.Wait()

	assert.Equal(t, int32(1), calls.Load())
	require.Len(t, q.DeadLetters(), 1)
	assert.Equal(t, 1, q.DeadLetters()[0].Attempts)
}

func TestMemoryWaitReturnsAfterCancelDuringBackoff(t *testing.T) {
	policy := testPolicy(nil)
	policy.Backoff = func(int) time.Duration { return 50 * time.Millisecond }
	q := NewMemory(1, policy)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	require.NoError(t, q.Start(ctx, func(context.Context, Delivery) error {
		calls.Add(1)
		cancel()
		return errors.New("shutting down")
	}))
	require.NoError(t, q.Enqueue(context.Background(), uuid.New()))

	done := make(chan struct{})
	go func() {
		q.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after the context was cancelled")
	}
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, q.DeadLetters())
}
