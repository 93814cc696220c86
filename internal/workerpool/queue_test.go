package workerpool_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"folio/internal/render"
	"folio/internal/workerpool"
)

func TestQueueVisiblePreemptsPendingPrefetch(t *testing.T) {
	q := workerpool.NewQueue(32)
	for page := 0; page < 5; page++ {
		if _, err := q.Push(request(page, render.PriorityPrefetch)); err != nil {
			t.Fatalf("push prefetch %d: %v", page, err)
		}
	}
	if _, err := q.Push(request(9, render.PriorityVisible)); err != nil {
		t.Fatalf("push visible: %v", err)
	}

	job, err := q.Pop(context.Background())
	if err != nil {
		t.Fatalf("Pop returned error: %v", err)
	}
	if job.Request.Key.Page != 9 {
		t.Fatalf("expected visible page 9 first, got %d", job.Request.Key.Page)
	}
	for want := 0; want < 5; want++ {
		job, _ := q.Pop(context.Background())
		if job.Request.Key.Page != want {
			t.Fatalf("expected FIFO prefetch page %d, got %d", want, job.Request.Key.Page)
		}
	}
}

func TestQueueDeduplicatesByKey(t *testing.T) {
	q := workerpool.NewQueue(32)
	first, err := q.Push(request(3, render.PriorityVisible))
	if err != nil || first != workerpool.Enqueued {
		t.Fatalf("expected first push enqueued, got %v %v", first, err)
	}
	second, err := q.Push(request(3, render.PriorityVisible))
	if err != nil || second != workerpool.Duplicate {
		t.Fatalf("expected duplicate, got %v %v", second, err)
	}
	if q.Len() != 1 {
		t.Fatalf("expected exactly one job, got %d", q.Len())
	}
}

func TestQueuePromotesPrefetchToVisible(t *testing.T) {
	q := workerpool.NewQueue(32)
	q.Push(request(1, render.PriorityPrefetch))
	q.Push(request(2, render.PriorityPrefetch))
	q.Push(request(5, render.PriorityVisible))

	outcome, err := q.Push(request(2, render.PriorityVisible))
	if err != nil || outcome != workerpool.Promoted {
		t.Fatalf("expected promotion, got %v %v", outcome, err)
	}
	var order []int
	for q.Len() > 0 {
		job, _ := q.Pop(context.Background())
		order = append(order, job.Request.Key.Page)
	}
	want := []int{5, 2, 1}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, order)
		}
	}
}

func TestQueueDropsPrefetchWhenFull(t *testing.T) {
	q := workerpool.NewQueue(2)
	q.Push(request(0, render.PriorityPrefetch))
	q.Push(request(1, render.PriorityPrefetch))

	if _, err := q.Push(request(2, render.PriorityPrefetch)); !errors.Is(err, workerpool.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if _, err := q.Push(request(3, render.PriorityVisible)); err != nil {
		t.Fatalf("visible requests must never be dropped: %v", err)
	}
	if q.Len() != 3 || q.Dropped() != 1 {
		t.Fatalf("unexpected len=%d dropped=%d", q.Len(), q.Dropped())
	}
}

func TestQueuePopBlocksUntilPush(t *testing.T) {
	q := workerpool.NewQueue(4)
	got := make(chan int, 1)
	go func() {
		job, err := q.Pop(context.Background())
		if err == nil {
			got <- job.Request.Key.Page
		}
	}()

	select {
	case <-got:
		t.Fatal("Pop returned before any push")
	case <-time.After(20 * time.Millisecond):
	}
	q.Push(request(4, render.PriorityVisible))
	select {
	case page := <-got:
		if page != 4 {
			t.Fatalf("unexpected page %d", page)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake after push")
	}
}

func TestQueuePopHonoursContextAndClose(t *testing.T) {
	q := workerpool.NewQueue(4)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := q.Pop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}

	q.Close()
	if _, err := q.Pop(context.Background()); !errors.Is(err, workerpool.ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
	if _, err := q.Push(request(1, render.PriorityVisible)); !errors.Is(err, workerpool.ErrQueueClosed) {
		t.Fatalf("expected push after close to fail, got %v", err)
	}
}

func TestQueueCancelFlagsRemovedJobs(t *testing.T) {
	q := workerpool.NewQueue(8)
	for page := 0; page < 4; page++ {
		q.Push(request(page, render.PriorityPrefetch))
	}
	removed := q.Cancel(func(k render.PageKey) bool { return k.Page%2 == 0 })
	if len(removed) != 2 {
		t.Fatalf("expected two cancelled jobs, got %d", len(removed))
	}
	if q.Len() != 2 || q.Contains(request(1, render.PriorityPrefetch).Key) {
		t.Fatalf("expected odd pages removed, pending=%v", q.Pending())
	}

	for i := 0; i < 2; i++ {
		job, _ := q.Pop(context.Background())
		if !job.Cancelled || job.Request.Key.Page%2 != 1 {
			t.Fatalf("expected cancelled odd page first, got %+v", job)
		}
	}
	job, _ := q.Pop(context.Background())
	if job.Cancelled || job.Request.Key.Page != 0 {
		t.Fatalf("expected live page 0, got %+v", job)
	}
}

func TestQueueRequeueGoesToHead(t *testing.T) {
	q := workerpool.NewQueue(8)
	q.Push(request(1, render.PriorityVisible))
	if err := q.Requeue(workerpool.Job{Request: request(7, render.PriorityVisible), Attempt: 1}); err != nil {
		t.Fatalf("Requeue returned error: %v", err)
	}
	job, _ := q.Pop(context.Background())
	if job.Request.Key.Page != 7 || job.Attempt != 1 {
		t.Fatalf("expected requeued job at head, got %+v", job)
	}
}
