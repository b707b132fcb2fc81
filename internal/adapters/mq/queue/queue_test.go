package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/scaleconnect/internal/domain/model"
)

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if l := q.Len(); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}

	job := model.NewJob(model.SourceStdin, []byte("a"))
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("expected enqueue to succeed, got %v", err)
	}

	if l := q.Len(); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	got := <-q.Dequeue(ctx)
	if got.ID != job.ID {
		t.Errorf("expected job %s, got %s", job.ID, got.ID)
	}
}

func TestInMemoryQueue_Full(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(1))
	ctx := context.Background()

	if err := q.Enqueue(ctx, model.NewJob(model.SourceRepeat, nil)); err != nil {
		t.Fatalf("expected first enqueue to succeed, got %v", err)
	}
	if err := q.Enqueue(ctx, model.NewJob(model.SourceRepeat, nil)); !errors.Is(err, ErrFull) {
		t.Errorf("expected ErrFull, got %v", err)
	}
}

func TestInMemoryQueue_Close(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if err := q.Enqueue(ctx, model.NewJob(model.SourceStdin, []byte("pending"))); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
	if !q.IsClosed() {
		t.Error("expected queue to be closed")
	}

	if err := q.Enqueue(ctx, model.NewJob(model.SourceStdin, nil)); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}

	ch := q.Dequeue(ctx)
	select {
	case j, ok := <-ch:
		if !ok || string(j.Payload) != "pending" {
			t.Errorf("expected pending job, got %v %q", ok, j.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("pending job was not delivered")
	}

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("channel was not closed")
	}
}

func TestInMemoryQueue_DequeueCancel(t *testing.T) {
	q := NewInMemoryQueue()
	ctx, cancel := context.WithCancel(context.Background())

	if err := q.Enqueue(context.Background(), model.NewJob(model.SourceStdin, nil)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ch := q.Dequeue(ctx)
	cancel()

	// The forwarder either delivers the job or gives up; it must not hang.
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			_ = q.Close()
			return
		}
	}
}
