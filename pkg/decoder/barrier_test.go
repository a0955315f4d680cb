package decoder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAwaitReturnsImmediatelyWithNoOverlap(t *testing.T) {
	b := NewBarrier()
	t1 := b.Register(0, 0, 10, 10)
	t2 := b.Register(100, 100, 10, 10) // disjoint region, registered after

	done := make(chan struct{})
	go func() {
		t2.Await()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("Await blocked on a non-overlapping earlier entry")
	}
	t1.Done()
	t2.Done()
}

func TestAwaitBlocksUntilOverlappingPriorDone(t *testing.T) {
	b := NewBarrier()
	first := b.Register(0, 0, 10, 10)
	second := b.Register(5, 5, 10, 10) // overlaps first

	done := make(chan struct{})
	go func() {
		second.Await()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Await returned before the overlapping prior entry finished")
	case <-time.After(50 * time.Millisecond):
	}

	first.Done()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Await never unblocked after prior Done")
	}
	second.Done()
}

func TestAwaitIgnoresLaterRegisteredEntries(t *testing.T) {
	b := NewBarrier()
	first := b.Register(0, 0, 10, 10)
	// second registers and awaits before a third (later) overlapping entry
	// exists; it must not wait on entries registered after it.
	second := b.Register(0, 0, 10, 10)

	done := make(chan struct{})
	go func() {
		second.Await()
		close(done)
	}()
	first.Done()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Await waited on a later entry or never unblocked")
	}

	third := b.Register(0, 0, 10, 10) // registered after second's Await returned
	_ = third
	second.Done()
	third.Done()
}

func TestTrimDropsCompletedPrefix(t *testing.T) {
	b := NewBarrier()
	t1 := b.Register(0, 0, 1, 1)
	t2 := b.Register(0, 0, 1, 1)
	t1.Done()
	t2.Done()

	b.mu.Lock()
	n := len(b.entries)
	b.mu.Unlock()
	require.Zero(t, n, "completed prefix should have been trimmed")
}
