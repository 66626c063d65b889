package msgrpc

import "testing"

func nopHandler(any, any) {}

func TestCallTableStoreTakeHas(t *testing.T) {
	table := newCallTable(4)
	invoked := false
	id := table.Store(func(any, any) { invoked = true })
	if !table.Has(id) {
		t.Fatalf("Has(%d) = false after Store", id)
	}
	if table.Pending() != 1 {
		t.Fatalf("Pending = %d, want 1", table.Pending())
	}
	handler, ok := table.Take(id)
	if !ok {
		t.Fatalf("Take(%d) failed", id)
	}
	handler(nil, nil)
	if !invoked {
		t.Fatal("Take returned a different handler")
	}
	if table.Has(id) {
		t.Fatalf("Has(%d) = true after Take", id)
	}
	if _, ok := table.Take(id); ok {
		t.Fatalf("Take(%d) succeeded twice", id)
	}
	if table.Pending() != 0 {
		t.Fatalf("Pending = %d, want 0", table.Pending())
	}
}

func TestCallTableTakeUnknown(t *testing.T) {
	table := newCallTable(4)
	if _, ok := table.Take(2); ok {
		t.Fatal("Take of never-issued id succeeded")
	}
	if _, ok := table.Take(99); ok {
		t.Fatal("Take past table end succeeded")
	}
	if table.Has(99) {
		t.Fatal("Has past table end")
	}
}

func TestCallTableRetiredIDReusedLast(t *testing.T) {
	table := newCallTable(4)
	var first uint32
	ids := make(map[uint32]bool)
	for i := 0; i < 4; i++ {
		id := table.Store(nopHandler)
		if ids[id] {
			t.Fatalf("id %d issued twice", id)
		}
		ids[id] = true
		if i == 0 {
			first = id
		}
	}
	table.Take(first)

	// The freed slot is skipped until allocation has wrapped past every
	// slot issued since, so a late response cannot hit a fresh request.
	var reused []uint32
	for i := 0; i < 4; i++ {
		reused = append(reused, table.Store(nopHandler))
	}
	if reused[len(reused)-1] != first {
		t.Fatalf("freed id %d reused at position %v, want last", first, reused)
	}
	for _, id := range reused[:len(reused)-1] {
		if id == first {
			t.Fatalf("freed id %d reused before wraparound: %v", first, reused)
		}
	}
}

func TestCallTableDoubles(t *testing.T) {
	table := newCallTable(2)
	seen := make(map[uint32]bool)
	for i := 0; i < 100; i++ {
		id := table.Store(nopHandler)
		if seen[id] {
			t.Fatalf("id %d issued twice among in-flight requests", id)
		}
		seen[id] = true
		if id == NullMsgID {
			t.Fatal("table issued the null correlation id")
		}
	}
	if table.Pending() != 100 {
		t.Fatalf("Pending = %d, want 100", table.Pending())
	}
	for id := range seen {
		if _, ok := table.Take(id); !ok {
			t.Fatalf("Take(%d) failed after growth", id)
		}
	}
	if table.Pending() != 0 {
		t.Fatalf("Pending = %d after draining, want 0", table.Pending())
	}
}

func TestCallTableZeroCapacityClamped(t *testing.T) {
	table := newCallTable(0)
	id := table.Store(nopHandler)
	if !table.Has(id) {
		t.Fatal("store into clamped table failed")
	}
}
