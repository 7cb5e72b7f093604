package watch

import (
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestDebouncerCoalescesPaths(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		var mu sync.Mutex
		var calls [][]string
		d := NewDebouncer(100*time.Millisecond, func(paths []string) {
			mu.Lock()
			defer mu.Unlock()
			calls = append(calls, paths)
		})

		d.Add("/data/b.json")
		time.Sleep(50 * time.Millisecond)
		d.Add("/data/a.json")
		d.Add("/data/b.json")
		time.Sleep(150 * time.Millisecond)
		synctest.Wait()

		mu.Lock()
		defer mu.Unlock()
		want := [][]string{{"/data/a.json", "/data/b.json"}}
		if diff := cmp.Diff(want, calls); diff != "" {
			t.Fatalf("unexpected batches (-want +got):\n%s", diff)
		}
	})
}

func TestDebouncerStopDropsPending(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		called := false
		d := NewDebouncer(100*time.Millisecond, func([]string) { called = true })

		d.Add("/data/a.json")
		d.Stop()
		time.Sleep(200 * time.Millisecond)
		synctest.Wait()

		if called {
			t.Fatalf("stopped debouncer must not fire")
		}
	})
}
