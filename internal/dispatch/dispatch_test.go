package dispatch_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"callpipe/internal/dispatch"
	"callpipe/internal/logging"
	"callpipe/internal/store"
	"callpipe/internal/testsupport"
)

type recordingQueue struct {
	mu   sync.Mutex
	uids []string
	full bool
}

func (q *recordingQueue) Submit(callUID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.full {
		return false
	}
	q.uids = append(q.uids, callUID)
	return true
}

func (q *recordingQueue) submitted() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.uids...)
}

func TestDispatcherEnqueuesCompletedCalls(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	testsupport.NewFeed(t, st, "pl-1", "downtown")
	testsupport.NewCompletedCall(t, st, "pl-1", "1201-300")
	testsupport.NewCompletedCall(t, st, "pl-1", "1201-301")
	testsupport.NewCall(t, st, "pl-1", "1201-302") // still pending, not eligible

	queue := &recordingQueue{}
	dispatcher := dispatch.NewDispatcher(cfg, st, queue, logging.NewNop())

	n, err := dispatcher.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n != 2 {
		t.Fatalf("enqueued = %d, want 2", n)
	}

	got := queue.submitted()
	if len(got) != 2 {
		t.Fatalf("submitted = %v", got)
	}
	for _, uid := range got {
		state, err := st.GetState(context.Background(), uid)
		if err != nil {
			t.Fatalf("GetState(%s): %v", uid, err)
		}
		if state.Status != store.StageQueued {
			t.Fatalf("claimed call %s has status %q", uid, state.Status)
		}
	}
}

func TestDispatcherSecondCycleFindsNothing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	testsupport.NewFeed(t, st, "pl-1", "downtown")
	testsupport.NewCompletedCall(t, st, "pl-1", "1201-310")

	queue := &recordingQueue{}
	dispatcher := dispatch.NewDispatcher(cfg, st, queue, logging.NewNop())

	if _, err := dispatcher.Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	n, err := dispatcher.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if n != 0 {
		t.Fatalf("fresh claim must not be re-dispatched, enqueued %d", n)
	}
}

func TestConcurrentDispatchersNeverDoubleEnqueue(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	testsupport.NewFeed(t, st, "pl-1", "downtown")
	testsupport.NewCompletedCall(t, st, "pl-1", "1201-320")

	queue := &recordingQueue{}
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dispatcher := dispatch.NewDispatcher(cfg, st, queue, logging.NewNop())
			if _, err := dispatcher.Run(context.Background()); err != nil {
				t.Errorf("Run: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := queue.submitted(); len(got) != 1 {
		t.Fatalf("call enqueued %d times, want exactly once: %v", len(got), got)
	}
}

func TestDispatcherFullQueueLeavesClaimForReclaim(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	testsupport.NewFeed(t, st, "pl-1", "downtown")
	testsupport.NewCompletedCall(t, st, "pl-1", "1201-330")

	queue := &recordingQueue{full: true}
	dispatcher := dispatch.NewDispatcher(cfg, st, queue, logging.NewNop())

	n, err := dispatcher.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n != 0 {
		t.Fatalf("enqueued = %d", n)
	}

	// Once the claim is stale, a later cycle picks the call back up.
	later := time.Now().Add(2 * time.Duration(cfg.Transcription.ClaimTimeout) * time.Second)
	queue.full = false
	dispatcher.WithClock(func() time.Time { return later })

	n, err = dispatcher.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if n != 1 {
		t.Fatalf("stale claim not re-dispatched, enqueued %d", n)
	}
}

func TestPoolProcessesSubmittedCalls(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]int)
	done := make(chan struct{}, 8)

	pool := dispatch.NewPool(3, 8, func(_ context.Context, callUID string) error {
		mu.Lock()
		seen[callUID]++
		mu.Unlock()
		done <- struct{}{}
		return nil
	}, logging.NewNop())

	pool.Start(context.Background())
	uids := []string{"a", "b", "c", "d", "e"}
	for _, uid := range uids {
		if !pool.Submit(uid) {
			t.Fatalf("Submit(%s) rejected", uid)
		}
	}
	for range uids {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("pool did not drain in time")
		}
	}
	pool.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != len(uids) {
		t.Fatalf("processed %d distinct calls, want %d", len(seen), len(uids))
	}
	for uid, count := range seen {
		if count != 1 {
			t.Fatalf("call %s processed %d times", uid, count)
		}
	}
}

func TestPoolSubmitRejectsWhenFull(t *testing.T) {
	block := make(chan struct{})
	pool := dispatch.NewPool(1, 1, func(_ context.Context, _ string) error {
		<-block
		return nil
	}, logging.NewNop())
	pool.Start(context.Background())

	// One in the worker, one in the buffer; the third must be rejected.
	if !pool.Submit("a") {
		t.Fatal("first Submit rejected")
	}
	// Give the worker a moment to pick up the first item.
	time.Sleep(50 * time.Millisecond)
	if !pool.Submit("b") {
		t.Fatal("second Submit rejected")
	}
	if pool.Submit("c") {
		t.Fatal("third Submit should be rejected while the queue is full")
	}

	close(block)
	pool.Close()
}
