package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dougsko/rdsmpx/pkg/rds"
	"github.com/dougsko/rdsmpx/pkg/stream"
)

func setupTestStore(t *testing.T, maxSessions int) *SessionStore {
	t.Helper()
	store, err := NewSessionStore(filepath.Join(t.TempDir(), "sessions.db"), maxSessions)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testStreamConfig(ps string) stream.Config {
	cfg := stream.DefaultConfig()
	cfg.Identity = rds.NewIdentity(0xC0DE, ps, "Now playing")
	return cfg
}

func TestNewSessionStore(t *testing.T) {
	t.Run("Nested Directory", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "nested", "dir", "test.db")
		store, err := NewSessionStore(dbPath, 10)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		defer store.Close()

		if _, err := os.Stat(filepath.Dir(dbPath)); os.IsNotExist(err) {
			t.Error("Expected nested directory to be created")
		}
	})

	t.Run("Tables Created", func(t *testing.T) {
		store := setupTestStore(t, 10)
		for _, table := range []string{"sessions", "settings", "session_stats"} {
			var count int
			err := store.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
			if err != nil || count != 1 {
				t.Errorf("Expected table %s to exist (count %d, err %v)", table, count, err)
			}
		}
	})
}

func TestLastConfig(t *testing.T) {
	store := setupTestStore(t, 10)

	cfg, err := store.LastConfig()
	if err != nil || cfg != nil {
		t.Fatalf("Expected no saved config, got %+v (%v)", cfg, err)
	}

	want := testStreamConfig("FIRST")
	want.EnableRDS2 = true
	want.LogoPath = "/tmp/logo.png"
	if err := store.SaveLastConfig(want); err != nil {
		t.Fatalf("SaveLastConfig failed: %v", err)
	}
	second := testStreamConfig("SECOND")
	if err := store.SaveLastConfig(second); err != nil {
		t.Fatalf("SaveLastConfig failed: %v", err)
	}

	got, err := store.LastConfig()
	if err != nil {
		t.Fatalf("LastConfig failed: %v", err)
	}
	if got.Identity != second.Identity {
		t.Errorf("Expected identity %+v, got %+v", second.Identity, got.Identity)
	}
	if got.SampleRate != second.SampleRate || got.Source != second.Source {
		t.Errorf("Config did not round trip: %+v", got)
	}
}

func TestSessionLifecycle(t *testing.T) {
	store := setupTestStore(t, 10)

	started := time.Now().Add(-10 * time.Second)
	id, err := store.RecordStart(SessionRecord{
		StartedAt:  started,
		Backend:    "null",
		Device:     "null",
		SampleRate: 192000,
		Format:     "float32",
		Config:     testStreamConfig("KXYZ"),
	})
	if err != nil {
		t.Fatalf("RecordStart failed: %v", err)
	}

	rec, err := store.GetSession(id)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if rec.Status != StatusRunning || rec.PI != "C0DE" || rec.PS != "KXYZ    " || rec.StoppedAt != nil {
		t.Errorf("Unexpected running record %+v", rec)
	}
	if rec.Source != "tone 1000 Hz" {
		t.Errorf("Expected tone source label, got %q", rec.Source)
	}

	if err := store.MarkDegraded(id, "device lost"); err != nil {
		t.Fatalf("MarkDegraded failed: %v", err)
	}
	if err := store.RecordStop(id, started.Add(10*time.Second), 1920000, 12); err != nil {
		t.Fatalf("RecordStop failed: %v", err)
	}

	rec, err = store.GetSession(id)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if rec.Status != StatusDegraded || rec.Error != "device lost" {
		t.Errorf("Expected degraded status kept, got %s (%s)", rec.Status, rec.Error)
	}
	if rec.StoppedAt == nil || rec.Produced != 1920000 || rec.Underruns != 12 {
		t.Errorf("Unexpected stopped record %+v", rec)
	}
	if rec.Config.Identity.PI != 0xC0DE {
		t.Errorf("Expected stored config, got %+v", rec.Config.Identity)
	}

	stats, err := store.GetSessionStats()
	if err != nil {
		t.Fatalf("GetSessionStats failed: %v", err)
	}
	if stats.TotalSessions != 1 || stats.TotalSeconds < 9.9 || stats.TotalSeconds > 10.1 {
		t.Errorf("Unexpected stats %+v", stats)
	}

	if err := store.RecordStop(9999, time.Now(), 0, 0); err == nil {
		t.Error("Expected error stopping unknown session")
	}
	if _, err := store.GetSession(9999); err == nil {
		t.Error("Expected error for unknown session")
	}
}

func TestRecordFailure(t *testing.T) {
	store := setupTestStore(t, 10)

	if _, err := store.RecordFailure(testStreamConfig("BAD"), errors.New("no device")); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}

	failed, err := store.GetSessions(SessionQuery{Status: StatusFailed})
	if err != nil {
		t.Fatalf("GetSessions failed: %v", err)
	}
	if len(failed) != 1 || failed[0].Error != "no device" || failed[0].StoppedAt == nil {
		t.Errorf("Unexpected failed sessions %+v", failed)
	}

	stats, _ := store.GetSessionStats()
	if stats.TotalFailures != 1 {
		t.Errorf("Expected 1 failure, got %d", stats.TotalFailures)
	}
}

func TestSessionCleanupAndQueries(t *testing.T) {
	store := setupTestStore(t, 3)

	var ids []int64
	for i, ps := range []string{"ONE", "TWO", "THREE", "FOUR", "FIVE"} {
		id, err := store.RecordStart(SessionRecord{StartedAt: time.Now().Add(time.Duration(i) * time.Second), Config: testStreamConfig(ps)})
		if err != nil {
			t.Fatalf("RecordStart failed: %v", err)
		}
		ids = append(ids, id)
	}

	count, err := store.GetSessionCount()
	if err != nil || count != 3 {
		t.Errorf("Expected 3 sessions after cleanup, got %d (%v)", count, err)
	}

	recent, err := store.GetRecentSessions(2)
	if err != nil {
		t.Fatalf("GetRecentSessions failed: %v", err)
	}
	if len(recent) != 2 || recent[0].ID != ids[4] || recent[1].ID != ids[3] {
		t.Errorf("Expected newest two sessions first, got %+v", recent)
	}

	page, err := store.GetSessions(SessionQuery{Limit: 2, Offset: 2})
	if err != nil || len(page) != 1 || page[0].ID != ids[2] {
		t.Errorf("Unexpected second page %+v (%v)", page, err)
	}

	stats, _ := store.GetSessionStats()
	if stats.TotalSessions != 5 || stats.LastCleanup.IsZero() {
		t.Errorf("Unexpected stats %+v", stats)
	}

	closed, err := store.CloseRunning()
	if err != nil || closed != 3 {
		t.Errorf("Expected 3 stale sessions closed, got %d (%v)", closed, err)
	}
	running, _ := store.GetSessions(SessionQuery{Status: StatusRunning})
	if len(running) != 0 {
		t.Errorf("Expected no running sessions, got %d", len(running))
	}
}

func TestCleanupOldSessionsAfterLimitChange(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sessions.db")
	store, err := NewSessionStore(dbPath, 10)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	for _, ps := range []string{"ONE", "TWO", "THREE", "FOUR"} {
		if _, err := store.RecordStart(SessionRecord{StartedAt: time.Now(), Config: testStreamConfig(ps)}); err != nil {
			t.Fatalf("RecordStart failed: %v", err)
		}
	}
	store.Close()

	store, err = NewSessionStore(dbPath, 2)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	defer store.Close()

	if count, _ := store.GetSessionCount(); count != 4 {
		t.Fatalf("Expected history untouched on open, got %d", count)
	}
	if err := store.CleanupOldSessions(); err != nil {
		t.Fatalf("CleanupOldSessions failed: %v", err)
	}
	if count, _ := store.GetSessionCount(); count != 2 {
		t.Errorf("Expected 2 sessions after cleanup, got %d", count)
	}
}
