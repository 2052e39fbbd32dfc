package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestMemoryFIFO(t *testing.T) {
	q := NewMemory(4)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		job, err := NewJob(JobTypeSpeech, map[string]int{"n": i})
		if err != nil {
			t.Fatal(err)
		}
		if err := q.Enqueue(ctx, job); err != nil {
			t.Fatal(err)
		}
	}
	if n, _ := q.Len(ctx); n != 3 {
		t.Fatalf("Len = %d, want 3", n)
	}
	for i := 0; i < 3; i++ {
		job, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatal(err)
		}
		var p map[string]int
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			t.Fatal(err)
		}
		if p["n"] != i {
			t.Fatalf("dequeued n=%d, want %d", p["n"], i)
		}
	}
}

func TestMemoryFull(t *testing.T) {
	q := NewMemory(1)
	ctx := context.Background()
	j1, _ := NewJob(JobTypeSpeech, nil)
	j2, _ := NewJob(JobTypeSpeech, nil)
	if err := q.Enqueue(ctx, j1); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(ctx, j2); !errors.Is(err, ErrFull) {
		t.Fatalf("err = %v, want ErrFull", err)
	}
}

func TestMemoryDequeueHonorsCancel(t *testing.T) {
	q := NewMemory(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := q.Dequeue(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestMemoryDeadLetter(t *testing.T) {
	q := NewMemory(1)
	job, _ := NewJob(JobTypeSpeech, nil)
	_ = q.DeadLetter(context.Background(), job, errors.New("vendor down"))
	dead := q.Dead()
	if len(dead) != 1 || dead[0].Error != "vendor down" || dead[0].Attempt != 1 {
		t.Fatalf("unexpected dead letters %+v", dead)
	}
}
