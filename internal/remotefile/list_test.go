package remotefile

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestListAvailableSkipsPlaceholders(t *testing.T) {
	r, _ := newTestReader(t, Options{})
	mat := &countingMaterializer{}
	r.opts.Materializer = mat
	dir := t.TempDir()

	ready := writeFile(t, dir, "HealthAutoExport-2026-01-23.json", `{}`)
	writeFile(t, dir, "HealthAutoExport-2026-01-24.json", "")
	writeFile(t, dir, ".HealthAutoExport-2026-01-25.json.icloud", "stub")
	writeFile(t, dir, "notes.txt", "ignored")

	got, err := r.ListAvailable(context.Background(), dir, "HealthAutoExport-*.json")
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if diff := cmp.Diff([]string{ready}, got); diff != "" {
		t.Fatalf("unexpected available files (-want +got):\n%s", diff)
	}
	if mat.calls.Load() != 2 {
		t.Fatalf("expected materialization for placeholder and stub, got %d", mat.calls.Load())
	}
}

func TestStubPath(t *testing.T) {
	got := StubPath(filepath.Join("data", "HealthAutoExport-2026-01-25.json"))
	want := filepath.Join("data", ".HealthAutoExport-2026-01-25.json.icloud")
	if got != want {
		t.Fatalf("StubPath = %s, want %s", got, want)
	}
}
