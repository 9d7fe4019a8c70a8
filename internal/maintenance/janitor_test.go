package maintenance

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/preesha73/Amdox-Website/internal/artifacts"
	"github.com/rs/zerolog"
)

// mockSweeper implements TempSweeper for testing.
type mockSweeper struct {
	mu      sync.Mutex
	calls   int
	lastAge time.Duration
	removed int64
	err     error
}

func (m *mockSweeper) SweepTemp(_ context.Context, maxAge time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.lastAge = maxAge
	if m.err != nil {
		return 0, m.err
	}
	return m.removed, nil
}

func (m *mockSweeper) getCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func TestNewCacheJanitor(t *testing.T) {
	j := NewCacheJanitor(&mockSweeper{}, 0, zerolog.Nop())

	if j.maxAge != DefaultTempMaxAge {
		t.Errorf("expected default max age, got %v", j.maxAge)
	}
	if j.running {
		t.Error("expected janitor to not be running initially")
	}
}

func TestCacheJanitor_StartStop(t *testing.T) {
	j := NewCacheJanitor(&mockSweeper{}, time.Minute, zerolog.Nop())

	if err := j.Start(); err != nil {
		t.Fatalf("unexpected error starting janitor: %v", err)
	}
	if !j.running {
		t.Error("expected janitor to be running after Start()")
	}
	if err := j.Start(); err == nil {
		t.Error("expected error when starting already-running janitor")
	}

	<-j.Stop().Done()

	if j.running {
		t.Error("expected janitor to not be running after Stop()")
	}
}

func TestCacheJanitor_StopWhenNotRunning(t *testing.T) {
	j := NewCacheJanitor(&mockSweeper{}, time.Minute, zerolog.Nop())

	ctx := j.Stop()
	select {
	case <-ctx.Done():
	default:
		t.Error("expected done context from Stop() when not running")
	}
}

func TestCacheJanitor_RunNow(t *testing.T) {
	sweeper := &mockSweeper{removed: 3}
	j := NewCacheJanitor(sweeper, 30*time.Minute, zerolog.Nop())

	j.RunNow()

	if sweeper.getCalls() != 1 {
		t.Errorf("expected 1 call, got %d", sweeper.getCalls())
	}
	if sweeper.lastAge != 30*time.Minute {
		t.Errorf("expected maxAge=30m, got %v", sweeper.lastAge)
	}
}

func TestCacheJanitor_RunNow_Error(t *testing.T) {
	sweeper := &mockSweeper{err: errors.New("permission denied")}
	j := NewCacheJanitor(sweeper, time.Minute, zerolog.Nop())

	j.RunNow()

	if sweeper.getCalls() != 1 {
		t.Errorf("expected 1 call, got %d", sweeper.getCalls())
	}
}

func TestCacheJanitor_ConcurrentRunNow(t *testing.T) {
	sweeper := &mockSweeper{}
	j := NewCacheJanitor(sweeper, time.Minute, zerolog.Nop())

	var wg sync.WaitGroup
	var completed atomic.Int32
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j.RunNow()
			completed.Add(1)
		}()
	}
	wg.Wait()

	if completed.Load() != 10 || sweeper.getCalls() != 10 {
		t.Errorf("expected 10 sweeps, got %d completions and %d calls", completed.Load(), sweeper.getCalls())
	}
}

func TestCacheJanitor_LocalStore(t *testing.T) {
	store, err := artifacts.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("create store: %v", err)
	}

	stale := filepath.Join(store.Dir(), "x.pdf.1.tmp")
	if err := os.WriteFile(stale, []byte("partial"), 0o644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-3 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatal(err)
	}
	if err := store.Put(context.Background(), "x.pdf", []byte("%PDF")); err != nil {
		t.Fatal(err)
	}

	NewCacheJanitor(store, time.Hour, zerolog.Nop()).RunNow()

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("expected stale temp file to be removed")
	}
	if _, err := os.Stat(filepath.Join(store.Dir(), "x.pdf")); err != nil {
		t.Errorf("expected committed artifact to remain: %v", err)
	}
}
