package eventstore

import (
	"fmt"
	"sync"
	"testing"

	"github.com/antigravity-dev/weave/internal/model"
)

func TestAppend_MonotonicIDs(t *testing.T) {
	s := New()
	var last model.EventId
	for i := 0; i < 5; i++ {
		id, err := s.Append(model.BeadEvent{Kind: model.EventCreated, BeadID: "A"})
		if err != nil {
			t.Fatalf("Append = %v, want nil", err)
		}
		if id <= last {
			t.Fatalf("Append returned id %d, want > %d", id, last)
		}
		last = id
	}
}

func TestRead_FromNilReturnsWholeLog(t *testing.T) {
	s := New()
	for i := 0; i < 3; i++ {
		if _, err := s.Append(model.BeadEvent{Kind: model.EventCreated, BeadID: "A"}); err != nil {
			t.Fatalf("Append = %v", err)
		}
	}
	got := s.Read(nil)
	if len(got) != 3 {
		t.Fatalf("Read(nil) returned %d events, want 3", len(got))
	}
}

func TestRead_StableSnapshot(t *testing.T) {
	s := New()
	if _, err := s.Append(model.BeadEvent{Kind: model.EventCreated, BeadID: "A"}); err != nil {
		t.Fatalf("Append = %v", err)
	}
	snapshot := s.Read(nil)
	if _, err := s.Append(model.BeadEvent{Kind: model.EventCreated, BeadID: "B"}); err != nil {
		t.Fatalf("Append = %v", err)
	}
	if len(snapshot) != 1 {
		t.Fatalf("earlier snapshot len = %d, want 1 (unaffected by later append)", len(snapshot))
	}
}

func TestRead_StrictlyAfter(t *testing.T) {
	s := New()
	first, err := s.Append(model.BeadEvent{Kind: model.EventCreated, BeadID: "A"})
	if err != nil {
		t.Fatalf("Append = %v", err)
	}
	if _, err := s.Append(model.BeadEvent{Kind: model.EventCreated, BeadID: "B"}); err != nil {
		t.Fatalf("Append = %v", err)
	}
	got := s.Read(&first)
	if len(got) != 1 || got[0].BeadID != "B" {
		t.Fatalf("Read(from=%d) = %+v, want a single event for bead B", first, got)
	}
}

func TestRetention_DropsOldestWithoutReusingIDs(t *testing.T) {
	s := New(WithRetention(2))
	var ids []model.EventId
	for i := 0; i < 4; i++ {
		id, err := s.Append(model.BeadEvent{Kind: model.EventCreated, BeadID: model.BeadId(fmt.Sprintf("bead-%d", i))})
		if err != nil {
			t.Fatalf("Append = %v", err)
		}
		ids = append(ids, id)
	}
	got := s.Read(nil)
	if len(got) != 2 {
		t.Fatalf("Read(nil) after retention returned %d events, want 2", len(got))
	}
	if got[0].EventID != ids[2] || got[1].EventID != ids[3] {
		t.Fatalf("retention kept wrong events: %+v, want ids %v", got, ids[2:])
	}
}

func TestAppend_ConcurrentAppendsAllAssignedUniqueIDs(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	n := 50
	ids := make(chan model.EventId, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := s.Append(model.BeadEvent{Kind: model.EventCreated, BeadID: "A"})
			if err != nil {
				t.Errorf("Append = %v", err)
				return
			}
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[model.EventId]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate event id %d assigned under concurrent append", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Fatalf("got %d unique ids, want %d", len(seen), n)
	}
}
