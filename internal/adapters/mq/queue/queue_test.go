package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/flagrace/internal/domain/model"
)

func item(id string) Item {
	return Item{Event: model.NewSubmissionEvent(model.SubmissionRecorded{ID: id, TeamID: "t", LevelID: "l", Status: model.StatusCorrect, SubmittedAt: 1})}
}

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}

	if !q.Enqueue(ctx, item("event1")) {
		t.Error("expected enqueue to succeed")
	}
	if l := q.Len(ctx); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	got := <-q.Dequeue(ctx)
	if got.Event.ID() != "event1" {
		t.Errorf("expected event1, got %v", got.Event.ID())
	}
	if got.Attempt != 0 {
		t.Errorf("expected first attempt, got %d", got.Attempt)
	}
}

func TestInMemoryQueue_Capacity(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if !q.Enqueue(ctx, item("event1")) || !q.Enqueue(ctx, item("event2")) {
		t.Fatal("expected enqueue to succeed")
	}
	if err := q.TryEnqueue(ctx, item("event3")); !errors.Is(err, ErrFull) {
		t.Errorf("expected ErrFull when full, got %v", err)
	}
	if l := q.Len(ctx); l != 2 {
		t.Errorf("expected length 2, got %d", l)
	}
}

func TestInMemoryQueue_CanceledContext(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := q.TryEnqueue(ctx, item("event1")); !errors.Is(err, ErrCanceled) {
		t.Errorf("expected ErrCanceled, got %v", err)
	}
}

func TestInMemoryQueue_ConcurrentAccess(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(100))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	producers, perProducer := 10, 100

	var seen sync.Map
	var consumers sync.WaitGroup
	for i := 0; i < 4; i++ {
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			for it := range q.Dequeue(ctx) {
				seen.Store(it.Event.ID(), true)
			}
		}()
	}

	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				for !q.Enqueue(ctx, item(fmt.Sprintf("event%d_%d", id, j))) {
					time.Sleep(time.Millisecond)
				}
			}
		}(i)
	}
	wg.Wait()
	_ = q.Close()
	consumers.Wait()

	count := 0
	seen.Range(func(_, _ any) bool { count++; return true })
	if count != producers*perProducer {
		t.Errorf("expected %d consumed items, got %d", producers*perProducer, count)
	}
}

func TestInMemoryQueue_GracefulShutdown(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(10))
	ctx := context.Background()

	if !q.Enqueue(ctx, item("event1")) || !q.Enqueue(ctx, item("event2")) {
		t.Fatal("expected enqueue to succeed")
	}
	if q.IsClosed() {
		t.Error("expected queue to be open initially")
	}
	if err := q.Close(); err != nil {
		t.Errorf("expected close to succeed, got error: %v", err)
	}
	if !q.IsClosed() {
		t.Error("expected queue to be closed after Close()")
	}
	if err := q.TryEnqueue(ctx, item("event3")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after closing, got %v", err)
	}

	drained := 0
	timeout := time.After(time.Second)
	ch := q.Dequeue(ctx)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				if drained != 2 {
					t.Errorf("expected buffered items to drain, got %d", drained)
				}
				if err := q.Close(); err != nil {
					t.Errorf("expected second close to succeed, got error: %v", err)
				}
				return
			}
			drained++
		case <-timeout:
			t.Fatal("expected dequeue channel to be closed within timeout")
		}
	}
}

func TestInMemoryQueue_PendingUntilAcked(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(4))
	ctx := context.Background()

	q.Enqueue(ctx, item("a"))
	q.Enqueue(ctx, item("b"))
	if p := q.Pending(); p != 2 {
		t.Fatalf("expected 2 pending, got %d", p)
	}

	items := q.Dequeue(ctx)
	<-items
	if l, p := q.Len(ctx), q.Pending(); p != 2 || l > 1 {
		t.Errorf("a dequeued item stays pending until acked: len %d pending %d", l, p)
	}

	q.Enqueue(ctx, Item{Event: item("a").Event, Attempt: 1})
	q.Ack()
	if p := q.Pending(); p != 2 {
		t.Errorf("expected requeued item to stay pending, got %d", p)
	}

	<-items
	q.Ack()
	<-items
	q.Ack()
	if p := q.Pending(); p != 0 {
		t.Errorf("expected nothing pending, got %d", p)
	}

	q.Ack()
	if p := q.Pending(); p != 0 {
		t.Errorf("extra ack must not go negative, got %d", p)
	}
}
