package remotefile

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

// fakeClock drives Reader time without real sleeps. onSleep runs before the
// clock advances and receives the 1-based sleep count.
type fakeClock struct {
	now     time.Time
	sleeps  []time.Duration
	onSleep func(n int)
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.sleeps = append(c.sleeps, d)
	if c.onSleep != nil {
		c.onSleep(len(c.sleeps))
	}
	c.now = c.now.Add(d)
	return nil
}

type countingMaterializer struct {
	calls atomic.Int32
}

func (m *countingMaterializer) Materialize(context.Context, string) error {
	m.calls.Add(1)
	return nil
}

func newTestReader(t *testing.T, opts Options) (*Reader, *fakeClock) {
	t.Helper()
	if opts.RetryDelay == 0 {
		opts.RetryDelay = 10 * time.Millisecond
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.MaterializeTimeout == 0 {
		opts.MaterializeTimeout = 2 * time.Second
	}
	r := NewReader(opts)
	clock := &fakeClock{now: time.Date(2026, 1, 25, 8, 0, 0, 0, time.UTC)}
	r.now = clock.Now
	r.sleep = clock.Sleep
	return r, clock
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}
