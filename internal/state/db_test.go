package state

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// tempDBPath returns a path to a temp database file.
func tempDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.db")
}

// setupTestDB creates a new temporary database for testing.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMigrated(tempDBPath(t))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func TestOpen(t *testing.T) {
	tmp := t.TempDir()
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"flat", filepath.Join(tmp, "state.db"), false},
		{"nested state dir", DirDBPath(filepath.Join(tmp, "a", "b", ".kbaudit")), false},
		// files cannot be created under /proc
		{"unwritable", "/proc/nonexistent/state.db", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, err := Open(tt.path)
			if tt.wantErr {
				if err == nil {
					db.Close()
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer db.Close()
			if db.Path() != tt.path {
				t.Errorf("Path() = %q, want %q", db.Path(), tt.path)
			}
			if _, err := os.Stat(tt.path); err != nil {
				t.Errorf("database file missing: %v", err)
			}
		})
	}
}

func TestClose_RejectsLaterQueries(t *testing.T) {
	db, err := Open(tempDBPath(t))
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := db.query("SELECT 1"); err == nil {
		t.Error("query after Close should fail")
	}
}

func TestMigrate(t *testing.T) {
	db := setupTestDB(t)

	for _, table := range []string{"schema_version", "runs", "snapshots"} {
		var count int
		row := db.queryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table)
		if err := row.Scan(&count); err != nil {
			t.Errorf("failed to check table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %s does not exist", table)
		}
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	for i := 0; i < 3; i++ {
		if err := db.Migrate(); err != nil {
			t.Fatalf("Migrate (iteration %d) failed: %v", i, err)
		}
	}

	version, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("failed to get schema version: %v", err)
	}
	if version != 2 {
		t.Errorf("schema version = %d, want 2", version)
	}
}

func TestTransaction_Rollback(t *testing.T) {
	db := setupTestDB(t)
	wantErr := errors.New("boom")

	err := db.write(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO runs (id, entry_name, state, started_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			"tx-fail", "foo", "auditing", formatTime(time.Now()), formatTime(time.Now())); err != nil {
			return err
		}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}

	var count int
	if err := db.queryRow("SELECT COUNT(*) FROM runs").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Error("transaction was not rolled back")
	}
}

func TestFormatTime_Sortable(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	a := formatTime(base)
	b := formatTime(base.Add(10 * time.Millisecond))
	if !(a < b) {
		t.Errorf("%q should sort before %q", a, b)
	}
	got, err := parseTime(b)
	if err != nil || !got.Equal(base.Add(10*time.Millisecond)) {
		t.Errorf("parseTime(%q) = %v, %v", b, got, err)
	}
}

func TestMigrations_Ordered(t *testing.T) {
	ms, err := migrations()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"runs", "snapshots"}
	if len(ms) != len(want) {
		t.Fatalf("migrations = %d, want %d", len(ms), len(want))
	}
	for i, m := range ms {
		if m.version != i+1 || m.name != want[i] {
			t.Errorf("migration %d = %03d_%s", i, m.version, m.name)
		}
	}
}

func TestOpen_ForeignKeysOnEveryConnection(t *testing.T) {
	db := setupTestDB(t)
	db.conn.SetMaxOpenConns(4)
	for i := 0; i < 4; i++ {
		var on int
		if err := db.queryRow("PRAGMA foreign_keys").Scan(&on); err != nil {
			t.Fatal(err)
		}
		if on != 1 {
			t.Fatalf("foreign_keys = %d on connection %d", on, i)
		}
	}
}
