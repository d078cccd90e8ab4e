package engine

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/attest-dev/attest-ledger/pkg/schema"
)

func newTestSQLStore(t *testing.T) *SQLStore {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "attest-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	s, err := NewSQLStore(filepath.Join(tmpDir, "ledger.db"))
	if err != nil {
		t.Fatalf("NewSQLStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	return s
}

func TestSQLStore_InitializeIdempotent(t *testing.T) {
	s := newTestSQLStore(t)

	if err := s.CreateAgent("agent01", "ak_one", time.Now()); err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}

	// Re-running initialization (as on restart) must not alter existing data
	if err := s.Initialize(); err != nil {
		t.Fatalf("Second Initialize failed: %v", err)
	}

	username, err := s.ResolveKey("ak_one")
	if err != nil || username != "agent01" {
		t.Errorf("Data lost across re-initialization: %q, %v", username, err)
	}
}

func TestSQLStore_Agents(t *testing.T) {
	s := newTestSQLStore(t)

	if err := s.CreateAgent("agent01", "ak_one", time.Now()); err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}
	if err := s.CreateAgent("agent01", "ak_two", time.Now()); err != ErrUsernameTaken {
		t.Errorf("Expected ErrUsernameTaken, got %v", err)
	}

	if _, err := s.ResolveKey(""); err != ErrUnknownKey {
		t.Errorf("Expected ErrUnknownKey for empty key, got %v", err)
	}
	if _, err := s.ResolveKey("ak_nope"); err != ErrUnknownKey {
		t.Errorf("Expected ErrUnknownKey, got %v", err)
	}

	s.CreateAgent("zed", "ak_zed", time.Now())
	agents, err := s.ListAgents()
	if err != nil {
		t.Fatalf("ListAgents failed: %v", err)
	}
	if len(agents) != 2 || agents[0] != "agent01" || agents[1] != "zed" {
		t.Errorf("Expected sorted [agent01 zed], got %v", agents)
	}
}

func TestSQLStore_QuotaLimit(t *testing.T) {
	s := newTestSQLStore(t)

	for i := 1; i <= 2; i++ {
		used, allowed, err := s.IncrementUsage("agent:a", "2026-09-01", 2)
		if err != nil {
			t.Fatalf("IncrementUsage failed: %v", err)
		}
		if !allowed || used != i {
			t.Errorf("Attempt %d: expected allowed with used=%d, got allowed=%v used=%d", i, i, allowed, used)
		}
	}

	used, allowed, err := s.IncrementUsage("agent:a", "2026-09-01", 2)
	if err != nil {
		t.Fatalf("IncrementUsage failed: %v", err)
	}
	if allowed || used != 2 {
		t.Errorf("Expected rejection with count intact, got allowed=%v used=%d", allowed, used)
	}

	// Other scopes and other days are unaffected
	if _, allowed, _ := s.IncrementUsage("agent:b", "2026-09-01", 2); !allowed {
		t.Error("Scope B should have full capacity")
	}
	if _, allowed, _ := s.IncrementUsage("agent:a", "2026-09-02", 2); !allowed {
		t.Error("Day D+1 should have full capacity")
	}
}

func TestSQLStore_QuotaZeroLimit(t *testing.T) {
	s := newTestSQLStore(t)

	used, allowed, err := s.IncrementUsage("agent:a", "2026-09-01", 0)
	if err != nil {
		t.Fatalf("IncrementUsage failed: %v", err)
	}
	if allowed || used != 0 {
		t.Errorf("A zero limit must reject without creating a row, got allowed=%v used=%d", allowed, used)
	}
}

func TestSQLStore_GetUsageDoesNotIncrement(t *testing.T) {
	s := newTestSQLStore(t)

	s.IncrementUsage("agent:a", "2026-09-01", 10)
	for i := 0; i < 3; i++ {
		used, err := s.GetUsage("agent:a", "2026-09-01")
		if err != nil || used != 1 {
			t.Fatalf("GetUsage must not increment, got %d, err %v", used, err)
		}
	}
}

func TestSQLStore_QuotaContention(t *testing.T) {
	s := newTestSQLStore(t)
	const (
		limit    = 5
		attempts = 25
	)

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, allowed, err := s.IncrementUsage("agent:hot", "2026-09-01", limit)
			if err != nil {
				t.Errorf("IncrementUsage failed: %v", err)
				return
			}
			if allowed {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if granted != limit {
		t.Errorf("Expected exactly %d grants out of %d attempts, got %d", limit, attempts, granted)
	}

	used, _ := s.GetUsage("agent:hot", "2026-09-01")
	if used != limit {
		t.Errorf("Committed count must equal the limit, got %d", used)
	}
}

func TestSQLStore_EntriesRoundTrip(t *testing.T) {
	s := newTestSQLStore(t)

	t1 := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)
	t3 := t2.Add(time.Minute)

	for i, ts := range []time.Time{t1, t2, t3} {
		e := schema.Entry{
			Timestamp:   ts,
			AgentID:     "agent01",
			Domain:      "dns",
			Object:      "example.org",
			Claim:       "serves valid records",
			Confidence:  0.9,
			SignalClass: schema.SignalClassAccepted,
		}
		if i == 0 {
			e.Context = "observed from three vantage points"
		}
		if _, err := s.AppendEntry(e); err != nil {
			t.Fatalf("AppendEntry failed: %v", err)
		}
	}

	entries, err := s.RecentEntries(2)
	if err != nil {
		t.Fatalf("RecentEntries failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if !entries[0].Timestamp.Equal(t3) || !entries[1].Timestamp.Equal(t2) {
		t.Errorf("Expected [t3, t2], got [%v, %v]", entries[0].Timestamp, entries[1].Timestamp)
	}
	if entries[0].Context != "" {
		t.Errorf("Expected empty context on later entries, got %q", entries[0].Context)
	}

	all, _ := s.RecentEntries(10)
	if all[2].Context != "observed from three vantage points" {
		t.Errorf("Context did not round-trip: %q", all[2].Context)
	}
}
