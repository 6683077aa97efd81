// internal/playsync/cancel_test.go
package playsync

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCancelHandle_Cancelled(t *testing.T) {
	handle := NewCancelHandle()
	if handle.IsCancelled() {
		t.Fatal("new handle should not be cancelled")
	}

	var finished atomic.Bool
	done := make(chan struct{})
	go func() {
		handle.Wait(&finished)
		close(done)
	}()

	handle.Cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return after Cancel")
	}

	if !handle.IsCancelled() {
		t.Error("handle should report cancelled")
	}
}

func TestCancelHandle_Finished(t *testing.T) {
	handle := NewCancelHandle()

	var finished atomic.Bool
	finished.Store(true)

	done := make(chan struct{})
	go func() {
		handle.Wait(&finished)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return with finished flag set")
	}

	if handle.IsCancelled() {
		t.Error("handle should not be cancelled when only finished")
	}
}

func TestCancelHandle_FinishedAfterWait(t *testing.T) {
	handle := NewCancelHandle()

	var finished atomic.Bool
	done := make(chan struct{})
	go func() {
		handle.Wait(&finished)
		close(done)
	}()

	// Give the waiter time to block, then flip the flag and notify.
	time.Sleep(20 * time.Millisecond)
	finished.Store(true)
	handle.Notify()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return after Notify with finished set")
	}
}

func TestCancelHandle_CancelIdempotent(t *testing.T) {
	handle := NewCancelHandle()
	handle.Cancel()
	handle.Cancel()
	if !handle.IsCancelled() {
		t.Error("handle should stay cancelled")
	}
}

func TestCancelHandle_SharedAcrossGoroutines(t *testing.T) {
	handle := NewCancelHandle()

	const waiters = 8
	var wg sync.WaitGroup
	var finished atomic.Bool
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			handle.Wait(&finished)
		}()
	}

	handle.Cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("not all waiters woke after Cancel")
	}
}

func TestBarrier_ReleasesAllParties(t *testing.T) {
	b := NewBarrier(3)

	var released atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Wait()
			released.Add(1)
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("barrier did not release all parties")
	}

	if got := released.Load(); got != 3 {
		t.Errorf("released = %d, want 3", got)
	}
}

func TestBarrier_SingleParty(t *testing.T) {
	b := NewBarrier(1)

	done := make(chan struct{})
	go func() {
		b.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("single-party barrier should release immediately")
	}
}

func TestBarrier_Reusable(t *testing.T) {
	b := NewBarrier(2)

	for round := 0; round < 3; round++ {
		done := make(chan struct{})
		go func() {
			b.Wait()
			close(done)
		}()
		b.Wait()

		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatalf("round %d: barrier did not release", round)
		}
	}
}
