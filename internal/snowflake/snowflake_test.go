package snowflake

import (
	"strconv"
	"sync"
	"testing"
	"time"
)

func TestGenerate_StrictlyIncreasing(t *testing.T) {
	g := New(1, 1)
	const n = 10000
	prev := int64(-1)
	for i := 0; i < n; i++ {
		id, err := strconv.ParseInt(g.Generate(), 10, 64)
		if err != nil {
			t.Fatalf("parse id: %v", err)
		}
		if id <= prev {
			t.Fatalf("id %d not greater than previous %d (iteration %d)", id, prev, i)
		}
		prev = id
	}
}

func TestGenerate_TimestampCloseToNow(t *testing.T) {
	g := New(1, 1)
	before := time.Now()
	ts, err := Timestamp(g.Generate())
	if err != nil {
		t.Fatalf("Timestamp: %v", err)
	}
	after := time.Now()
	if ts.Before(before.Add(-5*time.Millisecond)) || ts.After(after.Add(5*time.Millisecond)) {
		t.Fatalf("embedded timestamp %v outside [%v, %v]", ts, before, after)
	}
}

func TestGenerate_ConcurrentUnique(t *testing.T) {
	g := New(2, 3)
	const workers = 8
	const perWorker = 2000

	var wg sync.WaitGroup
	ids := make(chan string, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				ids <- g.Generate()
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]struct{}, workers*perWorker)
	for id := range ids {
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = struct{}{}
	}
}

func TestGenerate_ClockRegressionPinsTimestamp(t *testing.T) {
	g := New(1, 1)
	base := time.Now()
	current := base
	g.now = func() time.Time { return current }

	first, _ := strconv.ParseInt(g.Generate(), 10, 64)

	// Move the clock backward; ids must keep increasing off the pinned
	// timestamp instead of reusing old sequence space.
	current = base.Add(-10 * time.Second)
	second, _ := strconv.ParseInt(g.Generate(), 10, 64)
	if second <= first {
		t.Fatalf("id %d issued after regression not greater than %d", second, first)
	}

	pinnedTS, _ := Timestamp(strconv.FormatInt(second, 10))
	if pinnedTS.UnixMilli() != base.UnixMilli() {
		t.Fatalf("expected pinned timestamp %d, got %d", base.UnixMilli(), pinnedTS.UnixMilli())
	}
}

func TestGenerate_WorkerProcessTags(t *testing.T) {
	g := New(7, 9)
	id, _ := strconv.ParseInt(g.Generate(), 10, 64)
	if got := (id >> workerShift) & workerMask; got != 7 {
		t.Errorf("worker tag = %d, want 7", got)
	}
	if got := (id >> processShift) & processMask; got != 9 {
		t.Errorf("process tag = %d, want 9", got)
	}
}

func TestTimestamp_Malformed(t *testing.T) {
	if _, err := Timestamp("not-a-number"); err == nil {
		t.Fatal("expected error for malformed id")
	}
}
