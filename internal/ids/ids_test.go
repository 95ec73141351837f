package ids

import (
	"strings"
	"sync"
	"testing"
)

func TestNewIsUniqueAndSortable(t *testing.T) {
	seen := make(map[string]bool)
	var prev string
	for i := 0; i < 1000; i++ {
		id := New()
		if len(id) != 26 {
			t.Fatalf("id %q has length %d", id, len(id))
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
		if prev != "" && id <= prev {
			t.Fatalf("ids not monotonic: %q after %q", id, prev)
		}
		prev = id
	}
}

func TestNewConcurrent(t *testing.T) {
	const n = 64
	out := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out[i] = New()
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, id := range out {
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestIdemKeyPrefix(t *testing.T) {
	key := IdemKey()
	if !strings.HasPrefix(key, "idem-") {
		t.Fatalf("key %q lacks the idem- prefix", key)
	}
	if key == IdemKey() {
		t.Fatal("keys repeat")
	}
}
