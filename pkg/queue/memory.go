package queue

import (
	"context"
	"sync"
)

// Memory is an in-process FIFO used when the server runs its own worker
// without Redis, and by tests.
type Memory struct {
	jobs chan *Job

	mu   sync.Mutex
	dead []*Job
}

// NewMemory creates a bounded in-memory queue.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = 64
	}
	return &Memory{jobs: make(chan *Job, capacity)}
}

func (m *Memory) Enqueue(ctx context.Context, job *Job) error {
	select {
	case m.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrFull
	}
}

func (m *Memory) Dequeue(ctx context.Context) (*Job, error) {
	select {
	case job := <-m.jobs:
		return job, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Memory) DeadLetter(_ context.Context, job *Job, cause error) error {
	job.Attempt++
	if cause != nil {
		job.Error = cause.Error()
	}
	m.mu.Lock()
	m.dead = append(m.dead, job)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Len(context.Context) (int, error) {
	return len(m.jobs), nil
}

// Dead returns a copy of the dead-lettered jobs.
func (m *Memory) Dead() []*Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Job, len(m.dead))
	copy(out, m.dead)
	return out
}
