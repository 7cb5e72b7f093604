package cache

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/solstice035/health-analytics/internal/fingerprint"
	"github.com/solstice035/health-analytics/internal/remotefile"
)

func TestGetOrComputeReusesValueUntilSourceChanges(t *testing.T) {
	coord, _ := newTestCoordinator(t, CoordinatorOptions{})
	ctx := context.Background()
	dir := t.TempDir()
	f1 := writeSource(t, dir, "f1.json", `{"a":1}`)
	f2 := writeSource(t, dir, "f2.json", `{"b":2}`)

	var calls atomic.Int32
	compute := func(context.Context) (any, error) {
		n := calls.Add(1)
		return map[string]int32{"run": n}, nil
	}

	first, err := coord.GetOrCompute(ctx, "k1", []string{f1}, compute)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	if _, err := coord.GetOrCompute(ctx, "k2", []string{f2}, compute); err != nil {
		t.Fatalf("k2 call: %v", err)
	}
	second, err := coord.GetOrCompute(ctx, "k1", []string{f1}, compute)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if string(first) != string(second) {
		t.Fatalf("expected cached value, got %s vs %s", first, second)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 computes, got %d", calls.Load())
	}

	// 修改 f1 只影响依赖它的键。
	rewriteSource(t, f1, `{"a":1,"extra":true}`)
	third, err := coord.GetOrCompute(ctx, "k1", []string{f1}, compute)
	if err != nil {
		t.Fatalf("third call: %v", err)
	}
	if string(third) == string(first) {
		t.Fatalf("expected recompute after source change")
	}
	if _, err := coord.GetOrCompute(ctx, "k2", []string{f2}, compute); err != nil {
		t.Fatalf("k2 second call: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected k2 to stay cached, computes=%d", calls.Load())
	}

	stats := coord.Stats(ctx)
	if stats.Hits != 2 || stats.Misses != 3 || stats.Stale != 1 {
		t.Fatalf("unexpected counters %+v", stats.CounterSnapshot)
	}
	if stats.HitRate != 40 {
		t.Fatalf("expected 40%% hit rate, got %v", stats.HitRate)
	}
	if stats.Entries != 2 {
		t.Fatalf("expected 2 entries, got %d", stats.Entries)
	}
}

func TestGetOrComputePropagatesComputeError(t *testing.T) {
	coord, store := newTestCoordinator(t, CoordinatorOptions{})
	ctx := context.Background()
	src := writeSource(t, t.TempDir(), "day.json", `{}`)

	boom := errors.New("boom")
	_, err := coord.GetOrCompute(ctx, "k", []string{src}, func(context.Context) (any, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected compute error unchanged, got %v", err)
	}
	if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("failed compute must not write an entry, got %v", err)
	}
}

func TestGetOrComputeMissingSource(t *testing.T) {
	coord, _ := newTestCoordinator(t, CoordinatorOptions{})
	missing := filepath.Join(t.TempDir(), "nope.json")

	called := false
	_, err := coord.GetOrCompute(context.Background(), "k", []string{missing}, func(context.Context) (any, error) {
		called = true
		return 1, nil
	})
	var unavailable *SourceUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected SourceUnavailableError, got %v", err)
	}
	if !errors.Is(err, remotefile.ErrUnavailable) || !errors.Is(err, fingerprint.ErrSourceMissing) {
		t.Fatalf("error should match both unavailable and source-missing: %v", err)
	}
	if called {
		t.Fatalf("compute must not run without sources")
	}
}

func TestGetOrComputeWithoutSources(t *testing.T) {
	coord, _ := newTestCoordinator(t, CoordinatorOptions{})
	ctx := context.Background()
	var calls int
	compute := func(context.Context) (any, error) {
		calls++
		return "value", nil
	}
	for i := 0; i < 2; i++ {
		raw, err := coord.GetOrCompute(ctx, "static", nil, compute)
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if string(raw) != `"value"` {
			t.Fatalf("unexpected value %s", raw)
		}
	}
	if calls != 1 {
		t.Fatalf("expected single compute, got %d", calls)
	}
}

func TestGetOrComputeRecoversFromCorruptEntry(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	coord, store := newTestCoordinator(t, CoordinatorOptions{Logger: logger})
	ctx := context.Background()
	src := writeSource(t, t.TempDir(), "day.json", `{}`)

	if _, err := coord.GetOrCompute(ctx, "k", []string{src}, constant(1)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	entry, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get seeded entry: %v", err)
	}
	if err := os.WriteFile(entry.FilePath, []byte("garbage"), 0o644); err != nil {
		t.Fatalf("corrupt entry: %v", err)
	}

	raw, err := coord.GetOrCompute(ctx, "k", []string{src}, constant(2))
	if err != nil {
		t.Fatalf("corrupt entry should be treated as a miss: %v", err)
	}
	if string(raw) != "2" {
		t.Fatalf("expected recomputed value, got %s", raw)
	}
	if coord.Counters().Snapshot().StoreErrors != 1 {
		t.Fatalf("expected one store error")
	}

	found := false
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Data["cache_key"] == "k" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a warning mentioning the corrupt key")
	}
}

func TestGetOrComputeExpiresByMaxAge(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	coord, store := newTestCoordinator(t, CoordinatorOptions{MaxAge: time.Hour, Now: clock})
	ctx := context.Background()
	src := writeSource(t, t.TempDir(), "day.json", `{}`)

	if _, err := store.Put(ctx, "k", json.RawMessage(`"old"`), PutOptions{
		Fingerprint: mustCombine(t, src),
		WrittenAt:   now.Add(-30 * time.Minute),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	raw, err := coord.GetOrCompute(ctx, "k", []string{src}, constant("new"))
	if err != nil {
		t.Fatalf("fresh lookup: %v", err)
	}
	if string(raw) != `"old"` {
		t.Fatalf("entry within max age should be reused, got %s", raw)
	}

	now = now.Add(2 * time.Hour)
	raw, err = coord.GetOrCompute(ctx, "k", []string{src}, constant("new"))
	if err != nil {
		t.Fatalf("expired lookup: %v", err)
	}
	if string(raw) != `"new"` {
		t.Fatalf("expired entry should be recomputed, got %s", raw)
	}
	if coord.Counters().Snapshot().Expired != 1 {
		t.Fatalf("expected expired counter to increment")
	}
}

func TestGetOrComputeCoalescesConcurrentMisses(t *testing.T) {
	coord, _ := newTestCoordinator(t, CoordinatorOptions{})
	src := writeSource(t, t.TempDir(), "day.json", `{}`)

	release := make(chan struct{})
	var calls atomic.Int32
	compute := func(context.Context) (any, error) {
		calls.Add(1)
		<-release
		return "shared", nil
	}

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			raw, err := coord.GetOrCompute(context.Background(), "k", []string{src}, compute)
			if err != nil {
				t.Errorf("call %d: %v", i, err)
				return
			}
			results[i] = string(raw)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() > 2 {
		t.Fatalf("concurrent misses should share computes, got %d", calls.Load())
	}
	for i, r := range results {
		if r != `"shared"` {
			t.Fatalf("result %d mismatch: %s", i, r)
		}
	}
}

func TestGetOrComputeFollowerSurvivesLeaderCancel(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		coord, _ := newTestCoordinator(t, CoordinatorOptions{})
		src := writeSource(t, t.TempDir(), "day.json", `{}`)

		leaderCtx, cancel := context.WithCancel(context.Background())
		var leaderErr error
		leaderDone := make(chan struct{})
		go func() {
			defer close(leaderDone)
			_, leaderErr = coord.GetOrCompute(leaderCtx, "k", []string{src}, func(ctx context.Context) (any, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			})
		}()
		synctest.Wait()

		var followerRaw json.RawMessage
		var followerErr error
		followerDone := make(chan struct{})
		go func() {
			defer close(followerDone)
			followerRaw, followerErr = coord.GetOrCompute(context.Background(), "k", []string{src}, constant("fresh"))
		}()
		synctest.Wait()

		cancel()
		<-leaderDone
		<-followerDone

		if !errors.Is(leaderErr, context.Canceled) {
			t.Fatalf("leader should see its own cancellation, got %v", leaderErr)
		}
		if followerErr != nil {
			t.Fatalf("follower with a live context should compute itself, got %v", followerErr)
		}
		if string(followerRaw) != `"fresh"` {
			t.Fatalf("unexpected follower value %s", followerRaw)
		}
	})
}

func TestInvalidateForcesRecompute(t *testing.T) {
	coord, _ := newTestCoordinator(t, CoordinatorOptions{})
	ctx := context.Background()
	src := writeSource(t, t.TempDir(), "day.json", `{}`)

	if _, err := coord.GetOrCompute(ctx, "k", []string{src}, constant(1)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := coord.Invalidate(ctx, "k"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if err := coord.Invalidate(ctx, "k"); err != nil {
		t.Fatalf("invalidate should be idempotent: %v", err)
	}
	raw, err := coord.GetOrCompute(ctx, "k", []string{src}, constant(2))
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if string(raw) != "2" {
		t.Fatalf("expected recomputed value, got %s", raw)
	}

	removed, err := coord.InvalidateAll(ctx)
	if err != nil {
		t.Fatalf("invalidate all: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if stats := coord.Stats(ctx); stats.Entries != 0 {
		t.Fatalf("expected empty cache, got %d entries", stats.Entries)
	}
}

func TestPeekDoesNotCompute(t *testing.T) {
	coord, _ := newTestCoordinator(t, CoordinatorOptions{})
	ctx := context.Background()
	src := writeSource(t, t.TempDir(), "day.json", `{}`)

	lookup, err := coord.Peek(ctx, "k", []string{src})
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if lookup.State != StateAbsent {
		t.Fatalf("expected absent, got %s", lookup.State)
	}

	if _, err := coord.GetOrCompute(ctx, "k", []string{src}, constant(1)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	lookup, err = coord.Peek(ctx, "k", []string{src})
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if lookup.State != StateValid || lookup.Stored != lookup.Current {
		t.Fatalf("expected valid lookup, got %+v", lookup)
	}

	rewriteSource(t, src, `{"changed":true}`)
	lookup, _ = coord.Peek(ctx, "k", []string{src})
	if lookup.State != StateStale {
		t.Fatalf("expected stale after rewrite, got %s", lookup.State)
	}
	if snap := coord.Counters().Snapshot(); snap.Hits != 0 || snap.Misses != 1 {
		t.Fatalf("peek must not touch counters: %+v", snap)
	}
}

func TestMaxSizePrunesAfterWrite(t *testing.T) {
	coord, store := newTestCoordinator(t, CoordinatorOptions{MaxSizeBytes: 1})
	ctx := context.Background()

	if _, err := coord.GetOrCompute(ctx, "a", nil, constant("a")); err != nil {
		t.Fatalf("a: %v", err)
	}
	if _, err := coord.GetOrCompute(ctx, "b", nil, constant("b")); err != nil {
		t.Fatalf("b: %v", err)
	}
	usage, err := store.Usage(ctx)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if usage.Entries != 0 {
		t.Fatalf("entries above the size limit should be evicted, got %d", usage.Entries)
	}
}

func TestLoadDecodesAndRecoversFromShapeChange(t *testing.T) {
	coord, store := newTestCoordinator(t, CoordinatorOptions{})
	ctx := context.Background()
	src := writeSource(t, t.TempDir(), "day.json", `{}`)

	type summary struct {
		Steps int `json:"steps"`
	}
	if _, err := store.Put(ctx, "k", json.RawMessage(`["legacy"]`), PutOptions{Fingerprint: mustCombine(t, src)}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	got, err := Load(ctx, coord, "k", []string{src}, func(context.Context) (summary, error) {
		return summary{Steps: 42}, nil
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Steps != 42 {
		t.Fatalf("unexpected value %+v", got)
	}

	got, err = Load(ctx, coord, "k", []string{src}, func(context.Context) (summary, error) {
		t.Fatalf("second load should hit the cache")
		return summary{}, nil
	})
	if err != nil || got.Steps != 42 {
		t.Fatalf("cached load mismatch: %+v %v", got, err)
	}
}

func newTestCoordinator(t *testing.T, opts CoordinatorOptions) (*Coordinator, Store) {
	t.Helper()
	store := newTestStore(t)
	coord, err := NewCoordinator(store, opts)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	return coord, store
}

func writeSource(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return path
}

// rewriteSource 改写内容并推后 mtime，保证 stat 指纹一定变化。
func rewriteSource(t *testing.T, path, content string) {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat source: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("rewrite source: %v", err)
	}
	later := info.ModTime().Add(2 * time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func mustCombine(t *testing.T, paths ...string) fingerprint.Fingerprint {
	t.Helper()
	fp, err := fingerprint.Combine(paths, fingerprint.ModeStat)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	return fp
}

func constant(v any) ComputeFunc {
	return func(context.Context) (any, error) {
		return v, nil
	}
}
