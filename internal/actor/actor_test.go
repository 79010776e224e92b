package actor

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestJobsRunInOrder(t *testing.T) {
	a := New()
	defer a.Close()
	var got []int
	for i := 0; i < 100; i++ {
		i := i
		if err := a.Submit(func() { got = append(got, i) }); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	if err := a.Call(func() {}); err != nil {
		t.Fatalf("call: %v", err)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("job %d ran as %d", i, v)
		}
	}
}

func TestCloseDrainsQueuedJobs(t *testing.T) {
	a := New()
	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		_ = a.Submit(func() { ran.Add(1) })
	}
	a.Close()
	if ran.Load() != 10 {
		t.Fatalf("want 10 jobs run, got %d", ran.Load())
	}
	if err := a.Submit(func() {}); !errors.Is(err, ErrClosed) {
		t.Fatalf("want ErrClosed, got %v", err)
	}
}

func TestRunDelayed(t *testing.T) {
	a := New()
	defer a.Close()
	fired := make(chan struct{})
	a.RunDelayed(5*time.Millisecond, func() { close(fired) })
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatalf("delayed job did not run")
	}

	var cancelled atomic.Bool
	cancel := a.RunDelayed(time.Hour, func() { cancelled.Store(true) })
	cancel()
	if cancelled.Load() {
		t.Fatalf("cancelled job ran")
	}
}

func TestConditionCoalescesSignals(t *testing.T) {
	a := New()
	defer a.Close()
	var runs atomic.Int32
	block := make(chan struct{})
	_ = a.Submit(func() { <-block })
	c := a.NewCondition(func() { runs.Add(1) })
	for i := 0; i < 50; i++ {
		c.Signal()
	}
	close(block)
	if err := a.Call(func() {}); err != nil {
		t.Fatalf("call: %v", err)
	}
	if runs.Load() != 1 {
		t.Fatalf("want 1 coalesced run, got %d", runs.Load())
	}
}
