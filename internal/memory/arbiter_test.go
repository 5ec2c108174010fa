package memory

import "testing"

func TestReserveGeneralSucceedsWithinBudget(t *testing.T) {
	a := New(100, 20, 20, 0.95)
	if err := a.ReserveGeneral(50); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Snapshot().AvailGeneral != 50 {
		t.Errorf("expected 50 available, got %f", a.Snapshot().AvailGeneral)
	}
}

func TestReserveGeneralFailsWhenExhausted(t *testing.T) {
	a := New(10, 20, 20, 0.95)
	if err := a.ReserveGeneral(20); err != ErrInsufficientMemory {
		t.Fatalf("expected ErrInsufficientMemory, got %v", err)
	}
	if a.Snapshot().AvailGeneral != 10 {
		t.Errorf("expected unchanged available on failure, got %f", a.Snapshot().AvailGeneral)
	}
}

func TestReserveIndexingDrawsBothCounters(t *testing.T) {
	a := New(100, 30, 30, 0.95)
	if err := a.ReserveIndexing(10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snap := a.Snapshot()
	if snap.AvailIndexing != 20 {
		t.Errorf("expected indexing 20, got %f", snap.AvailIndexing)
	}
	if snap.AvailGeneral != 90 {
		t.Errorf("expected general 90, got %f", snap.AvailGeneral)
	}
}

func TestReserveIndexingFailsWithoutMutatingEitherCounter(t *testing.T) {
	a := New(5, 30, 30, 0.95)
	if err := a.ReserveIndexing(10); err != ErrInsufficientMemory {
		t.Fatalf("expected ErrInsufficientMemory, got %v", err)
	}
	snap := a.Snapshot()
	if snap.AvailGeneral != 5 || snap.AvailIndexing != 30 {
		t.Errorf("expected both counters untouched, got %+v", snap)
	}
}

func TestReleaseIndexingRestoresBothCounters(t *testing.T) {
	a := New(100, 30, 30, 0.95)
	_ = a.ReserveIndexing(10)
	a.ReleaseIndexing(10)
	snap := a.Snapshot()
	if snap.AvailGeneral != 100 || snap.AvailIndexing != 30 {
		t.Errorf("expected both counters restored, got %+v", snap)
	}
}

func TestIsIndexFull(t *testing.T) {
	a := New(100, 30, 30, 0.95)
	if !a.IsIndexFull(10.5, 10) {
		t.Error("expected shard to be reported full")
	}
	if a.IsIndexFull(5, 10) {
		t.Error("expected shard to not be reported full")
	}
}

func TestReservationsNeverGoNegative(t *testing.T) {
	a := New(10, 10, 10, 0.95)
	for i := 0; i < 5; i++ {
		_ = a.ReserveGeneral(3)
	}
	if a.Snapshot().AvailGeneral < 0 {
		t.Errorf("available went negative: %f", a.Snapshot().AvailGeneral)
	}
}
