package observability

import (
	"testing"
	"time"
)

func TestLatencyWindowSnapshotStats(t *testing.T) {
	w := NewLatencyWindow(16)
	for _, ms := range []int{100, 200, 300, 400} {
		w.Observe(StageFirstDelta, time.Duration(ms)*time.Millisecond)
	}

	snap := w.Snapshot()
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != StageFirstDelta {
		t.Fatalf("Stage = %q, want %q", s.Stage, StageFirstDelta)
	}
	if s.Samples != 4 {
		t.Fatalf("Samples = %d, want 4", s.Samples)
	}
	if s.LastMS != 400 {
		t.Fatalf("LastMS = %v, want 400", s.LastMS)
	}
	if s.AvgMS != 250 {
		t.Fatalf("AvgMS = %v, want 250", s.AvgMS)
	}
	if s.P50MS != 250 {
		t.Fatalf("P50MS = %v, want 250", s.P50MS)
	}
}

func TestLatencyWindowRingWraps(t *testing.T) {
	w := NewLatencyWindow(4)
	for i := 0; i < 10; i++ {
		w.Observe(StageExchangeTotal, 50*time.Millisecond)
	}

	snap := w.Snapshot()
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	if got := snap.Stages[0].Samples; got != 4 {
		t.Fatalf("Samples = %d, want ring capacity 4", got)
	}
}

func TestLatencyWindowIgnoresEmptyStage(t *testing.T) {
	w := NewLatencyWindow(4)
	w.Observe("", time.Second)
	if got := len(w.Snapshot().Stages); got != 0 {
		t.Fatalf("len(Stages) = %d, want 0", got)
	}
}
