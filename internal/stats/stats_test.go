package stats

import (
	"sync"
	"testing"
)

func TestSnapshot_MergeKeepsAbsentFields(t *testing.T) {
	s := Snapshot{Fluency: 40, Volume: 55, Clarity: 12}

	got := s.Merge(Update{Fluency: Value(70), Confidence: Value(0)})

	if got.Fluency != 70 {
		t.Errorf("Expected fluency 70, got %v", got.Fluency)
	}
	if got.Volume != 55 || got.Clarity != 12 {
		t.Errorf("Expected absent fields unchanged, got %+v", got)
	}
	if got.Confidence != 0 {
		t.Errorf("Expected explicit zero to be applied, got %v", got.Confidence)
	}
	if s.Fluency != 40 {
		t.Error("Expected Merge not to modify the receiver")
	}
}

func TestUpdate_Empty(t *testing.T) {
	if !(Update{}).Empty() {
		t.Error("Expected zero update to be empty")
	}
	if (Update{SpeakingRate: Value(120)}).Empty() {
		t.Error("Expected update with a field not to be empty")
	}
}

func TestBoard_ApplyAndReset(t *testing.T) {
	b := NewBoard()

	b.Apply(Update{Fluency: Value(70)})
	b.Apply(Update{Volume: Value(30)})

	s := b.Load()
	if s.Fluency != 70 || s.Volume != 30 {
		t.Errorf("Expected fluency 70 and volume 30, got %+v", s)
	}

	b.Reset()
	if b.Load() != (Snapshot{}) {
		t.Errorf("Expected zero snapshot after reset, got %+v", b.Load())
	}
}

func TestBoard_ConcurrentFieldUpdates(t *testing.T) {
	b := NewBoard()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			b.Apply(Update{Fluency: Value(1)})
		}()
		go func() {
			defer wg.Done()
			b.Apply(Update{Volume: Value(2)})
		}()
	}
	wg.Wait()

	s := b.Load()
	if s.Fluency != 1 || s.Volume != 2 {
		t.Errorf("Expected both fields set, got %+v", s)
	}
}
