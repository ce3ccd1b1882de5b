package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/thuasta/saiblo-worker/pkg/logger"
)

// stubTask records when it ran and optionally fails.
type stubTask struct {
	name string
	err  error

	executed chan string
}

func (t *stubTask) String() string { return t.name }

func (t *stubTask) Execute(ctx context.Context) error {
	if t.executed != nil {
		t.executed <- t.name
	}
	return t.err
}

func (t *stubTask) Result() any { return t.name }

func TestStart_RunsTasksInFIFOOrder(t *testing.T) {
	t.Parallel()

	sched := New(logger.New("ERROR"))
	executed := make(chan string, 3)

	sched.Schedule(&stubTask{name: "a", executed: executed})
	sched.Schedule(&stubTask{name: "b", executed: executed})
	sched.Schedule(&stubTask{name: "c", executed: executed})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Start(ctx)

	for _, want := range []string{"a", "b", "c"} {
		select {
		case got := <-executed:
			if got != want {
				t.Fatalf("expected %q to run, got %q", want, got)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("task %q never ran", want)
		}
	}
}

func TestStart_FailedTaskStillSurfacesOnDoneQueue(t *testing.T) {
	t.Parallel()

	sched := New(logger.New("ERROR"))
	sched.Schedule(&stubTask{name: "bad", err: fmt.Errorf("broken")})
	sched.Schedule(&stubTask{name: "good"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go sched.Start(ctx)

	first, err := sched.PopDoneTask(ctx)
	if err != nil {
		t.Fatalf("PopDoneTask returned error: %v", err)
	}
	if first.String() != "bad" {
		t.Errorf("expected the failed task first, got %q", first.String())
	}

	second, err := sched.PopDoneTask(ctx)
	if err != nil {
		t.Fatalf("PopDoneTask returned error: %v", err)
	}
	if second.String() != "good" {
		t.Errorf("expected %q, got %q", "good", second.String())
	}
}

func TestIdle(t *testing.T) {
	t.Parallel()

	sched := New(logger.New("ERROR"))
	if !sched.Idle() {
		t.Error("a fresh scheduler must be idle")
	}

	sched.Schedule(&stubTask{name: "x"})
	if sched.Idle() {
		t.Error("scheduler must not be idle with a pending task")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go sched.Start(ctx)

	if _, err := sched.PopDoneTask(ctx); err != nil {
		t.Fatalf("PopDoneTask returned error: %v", err)
	}
	if !sched.Idle() {
		t.Error("scheduler must be idle after draining the pending queue")
	}
}

func TestStart_ReturnsOnContextCancel(t *testing.T) {
	t.Parallel()

	sched := New(logger.New("ERROR"))
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- sched.Start(ctx) }()

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancellation")
	}
}

func TestPopDoneTask_UnblocksOnContextCancel(t *testing.T) {
	t.Parallel()

	sched := New(logger.New("ERROR"))
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := sched.PopDoneTask(ctx)
		errCh <- err
	}()

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("PopDoneTask did not unblock after cancellation")
	}
}

func TestClean_DrainsBothQueues(t *testing.T) {
	t.Parallel()

	sched := New(logger.New("ERROR"))
	sched.Schedule(&stubTask{name: "a"})
	sched.Schedule(&stubTask{name: "b"})

	sched.Clean()

	if !sched.Idle() {
		t.Error("pending queue must be empty after Clean")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := sched.PopDoneTask(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("done queue must be empty after Clean, got %v", err)
	}
}
