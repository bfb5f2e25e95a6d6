package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestScheduler_CeilingSharedAcrossQueues(t *testing.T) {
	s := NewScheduler(3)
	release := make(chan struct{})
	var current, peak int32
	h := func(ctx context.Context, job *Job) ([]Followup, error) {
		n := atomic.AddInt32(&current, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		<-release
		atomic.AddInt32(&current, -1)
		return nil, nil
	}
	s.Register("image-processing", h)
	s.Register("embedding-generation", h)

	for i := 0; i < 5; i++ {
		if _, err := s.Enqueue("image-processing", "process-image", i); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Enqueue("embedding-generation", "generate-embedding", i); err != nil {
			t.Fatal(err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.InFlight() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	// Give extra ticks a chance to overshoot if the ceiling were per queue.
	time.Sleep(50 * time.Millisecond)
	if got := s.InFlight(); got != 3 {
		t.Errorf("in flight = %d, want 3", got)
	}
	st := s.Stats()
	if st.Processing != 3 || st.Waiting != 7 || st.Total != 10 {
		t.Errorf("stats = %+v", st)
	}

	close(release)
	if err := s.Wait(waitCtx(t)); err != nil {
		t.Fatal(err)
	}
	if p := atomic.LoadInt32(&peak); p > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", p)
	}
	if st := s.Stats(); st.Total != 0 {
		t.Errorf("completed jobs should be removed, stats = %+v", st)
	}
}

func TestScheduler_EnqueueDoesNotRunInline(t *testing.T) {
	s := NewScheduler(1)
	started := make(chan struct{})
	release := make(chan struct{})
	s.Register("q", func(ctx context.Context, job *Job) ([]Followup, error) {
		close(started)
		<-release
		return nil, nil
	})

	id, err := s.Enqueue("q", "t", nil)
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("empty job id")
	}
	if _, ok := s.Job(id); !ok {
		t.Error("job should be in the table right after Enqueue")
	}
	<-started
	close(release)
	if err := s.Wait(waitCtx(t)); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Job(id); ok {
		t.Error("completed job should be removed")
	}
}

func TestScheduler_FollowupsEnqueuedOnSuccess(t *testing.T) {
	s := NewScheduler(2)
	var mu sync.Mutex
	var got []string
	s.Register("image-processing", func(ctx context.Context, job *Job) ([]Followup, error) {
		img := job.Payload.(string)
		return []Followup{
			{Queue: "embedding-generation", Type: "generate-embedding", Payload: img + ":scene"},
			{Queue: "embedding-generation", Type: "generate-embedding", Payload: img + ":obj0"},
		}, nil
	})
	s.Register("embedding-generation", func(ctx context.Context, job *Job) ([]Followup, error) {
		mu.Lock()
		got = append(got, job.Payload.(string))
		mu.Unlock()
		return nil, nil
	})

	if _, err := s.Enqueue("image-processing", "process-image", "img1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Wait(waitCtx(t)); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("follow-ups run = %v", got)
	}
	seen := map[string]bool{got[0]: true, got[1]: true}
	if !seen["img1:scene"] || !seen["img1:obj0"] {
		t.Errorf("follow-ups = %v", got)
	}
}

func TestScheduler_FailedJobsRetained(t *testing.T) {
	s := NewScheduler(3)
	var followupRuns int32
	s.Register("a", func(ctx context.Context, job *Job) ([]Followup, error) {
		return []Followup{{Queue: "b", Type: "never"}}, errors.New("detector down")
	})
	s.Register("b", func(ctx context.Context, job *Job) ([]Followup, error) {
		atomic.AddInt32(&followupRuns, 1)
		return nil, nil
	})

	id, err := s.Enqueue("a", "process-image", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Wait(waitCtx(t)); err != nil {
		t.Fatal(err)
	}
	job, ok := s.Job(id)
	if !ok || job.Status != JobFailed || job.Error != "detector down" || job.FinishedAt.IsZero() {
		t.Errorf("failed job = %+v, %v", job, ok)
	}
	failed := s.FailedJobs()
	if len(failed) != 1 || failed[0].ID != id {
		t.Errorf("FailedJobs = %+v", failed)
	}
	if n := atomic.LoadInt32(&followupRuns); n != 0 {
		t.Errorf("follow-ups of a failed job ran %d times", n)
	}
	if st := s.Stats(); st.Failed != 1 || st.PerQueue["a"].Failed != 1 || st.PerQueue["b"].Failed != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestScheduler_PanicBecomesFailure(t *testing.T) {
	s := NewScheduler(1)
	s.Register("q", func(ctx context.Context, job *Job) ([]Followup, error) {
		panic("nil bbox")
	})
	id, _ := s.Enqueue("q", "t", nil)
	if err := s.Wait(waitCtx(t)); err != nil {
		t.Fatal(err)
	}
	job, ok := s.Job(id)
	if !ok || job.Status != JobFailed || job.Error != "panic: nil bbox" {
		t.Errorf("job = %+v", job)
	}
	if s.InFlight() != 0 {
		t.Error("slot not released after panic")
	}
}

func TestScheduler_FIFOWithinQueue(t *testing.T) {
	s := NewScheduler(1)
	var mu sync.Mutex
	var order []int
	s.Register("q", func(ctx context.Context, job *Job) ([]Followup, error) {
		mu.Lock()
		order = append(order, job.Payload.(int))
		mu.Unlock()
		return nil, nil
	})
	for i := 0; i < 10; i++ {
		_, _ = s.Enqueue("q", "t", i)
	}
	if err := s.Wait(waitCtx(t)); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i {
			t.Fatalf("order = %v", order)
		}
	}
	if len(order) != 10 {
		t.Errorf("ran %d jobs", len(order))
	}
}

func TestScheduler_EnqueueErrors(t *testing.T) {
	s := NewScheduler(1)
	if _, err := s.Enqueue("nope", "t", nil); !errors.Is(err, ErrUnknownQueue) {
		t.Errorf("err = %v, want ErrUnknownQueue", err)
	}
	s.Register("q", func(ctx context.Context, job *Job) ([]Followup, error) { return nil, nil })
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Enqueue("q", "t", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestScheduler_WaitRespectsContext(t *testing.T) {
	s := NewScheduler(1)
	release := make(chan struct{})
	defer close(release)
	s.Register("q", func(ctx context.Context, job *Job) ([]Followup, error) {
		<-release
		return nil, nil
	})
	_, _ = s.Enqueue("q", "t", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestScheduler_HandlersSeeSchedulerContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewScheduler(1, WithContext(ctx))
	started := make(chan struct{})
	s.Register("image-processing", func(ctx context.Context, job *Job) ([]Followup, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if _, err := s.Enqueue("image-processing", "process-image", nil); err != nil {
		t.Fatal(err)
	}
	<-started
	cancel()
	if err := s.Wait(waitCtx(t)); err != nil {
		t.Fatal(err)
	}
	failed := s.FailedJobs()
	if len(failed) != 1 || failed[0].Error != context.Canceled.Error() {
		t.Errorf("failed jobs = %+v", failed)
	}
}
