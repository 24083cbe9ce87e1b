package traffic

import (
	"sync"
	"testing"
	"time"
)

func TestRequestCount_Empty(t *testing.T) {
	Reset()
	if n := RequestCount(1 * time.Minute); n != 0 {
		t.Errorf("RequestCount() = %d, want 0", n)
	}
}

// TestRecordDenied_AndCounts verifies that denials count toward RequestCount
// and DenialCount but not toward ErrorRate.
func TestRecordDenied_AndCounts(t *testing.T) {
	Reset()
	RecordDenied()
	RecordDenied()
	RecordSuccess()
	if n := DenialCount(1 * time.Minute); n != 2 {
		t.Errorf("DenialCount() = %d, want 2", n)
	}
	if n := RequestCount(1 * time.Minute); n != 3 {
		t.Errorf("RequestCount() = %d, want 3", n)
	}
	if errs, total := ErrorRate(1 * time.Minute); errs != 0 || total != 1 {
		t.Errorf("ErrorRate() = (%d, %d), want (0, 1)", errs, total)
	}
}

func TestErrorRate_SuccessAndError(t *testing.T) {
	Reset()
	RecordSuccess()
	RecordSuccess()
	RecordError()
	errors, total := ErrorRate(1 * time.Minute)
	if errors != 1 || total != 3 {
		t.Errorf("ErrorRate() = (%d, %d), want (1, 3)", errors, total)
	}
}

func TestRequestCount_ExpiresOutsideWindow(t *testing.T) {
	Reset()
	RecordSuccess()
	if n := RequestCount(1 * time.Nanosecond); n != 0 {
		t.Errorf("RequestCount(1ns) = %d, want 0 (request outside window)", n)
	}
}

func TestTracker_Prune(t *testing.T) {
	var tr Tracker
	old := time.Now().Add(-2 * retention)
	tr.times[Error] = []time.Time{old, old}
	tr.Record(Error)
	if got := len(tr.times[Error]); got != 1 {
		t.Errorf("len(errors) after prune = %d, want 1", got)
	}
}

func TestTracker_Concurrent(t *testing.T) {
	var tr Tracker
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tr.Record(Outcome(i % 3))
		}(i)
	}
	wg.Wait()
	if n := tr.RequestCount(time.Minute); n != 50 {
		t.Errorf("RequestCount() = %d, want 50", n)
	}
}
