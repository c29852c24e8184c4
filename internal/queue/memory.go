package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process queue with the same retry and dead-letter
// behaviour as the broker-backed ones. It is meant for tests and
// single-process runs.
type Memory struct {
	policy  Policy
	workers int
	ch      chan Delivery

	pending sync.WaitGroup

	mu   sync.Mutex
	dead []DeadLetter
}

func NewMemory(workers int, policy Policy) *Memory {
	return &Memory{
		policy:  policy,
		workers: max(workers, 1),
		ch:      make(chan Delivery, 1024),
	}
}

func (m *Memory) Enqueue(ctx context.Context, photoID uuid.UUID) error {
	m.pending.Add(1)
	d := Delivery{Task: Task{PhotoID: photoID, EnqueuedAt: time.Now().UTC()}, Attempt: 1}
	select {
	case m.ch <- d:
		return nil
	case <-ctx.Done():
		m.pending.Done()
		return ctx.Err()
	}
}

func (m *Memory) Start(ctx context.Context, h Handler) error {
	for i := 0; i < m.workers; i++ {
		go func() {
			for {
				select {
				case <-ctx.Done():
					m.drain()
					return
				case d := <-m.ch:
					m.handle(ctx, d, h)
				}
			}
		}()
	}
	return nil
}

func (m *Memory) handle(ctx context.Context, d Delivery, h Handler) {
	err := h(ctx, d)
	switch v, delay := m.policy.decide(d.Attempt, err); v {
	case ack:
		m.pending.Done()
	case retry:
		next := Delivery{Task: d.Task, Attempt: d.Attempt + 1}
		time.AfterFunc(delay, func() {
			if ctx.Err() != nil {
				m.pending.Done()
				return
			}
			select {
			case m.ch <- next:
			case <-ctx.Done():
				m.pending.Done()
			}
		})
	case deadLetter:
		dl := m.policy.deadLetter(ctx, d, err)
		m.mu.Lock()
		m.dead = append(m.dead, dl)
		m.mu.Unlock()
		slog.Error("photo task dead-lettered", "photo_id", d.PhotoID, "attempts", d.Attempt, "error", err)
		m.pending.Done()
	}
}

// drain releases tasks still buffered once the workers stop, so Wait does
// not block on work that will never run.
func (m *Memory) drain() {
	for {
		select {
		case <-m.ch:
			m.pending.Done()
		default:
			return
		}
	}
}

// Wait blocks until every enqueued task is acknowledged or dead-lettered.
func (m *Memory) Wait() {
	m.pending.Wait()
}

func (m *Memory) DeadLetters() []DeadLetter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]DeadLetter(nil), m.dead...)
}

func (m *Memory) Close() {}
