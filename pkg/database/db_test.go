package database

import (
	"path/filepath"
	"testing"
)

func TestOpenMigrateAndUniqueViolation(t *testing.T) {
	db, err := Open(Config{Path: filepath.Join(t.TempDir(), "nested", "test.db")})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("second migrate should be a no-op: %v", err)
	}

	var fk int
	if err := db.QueryRow(`PRAGMA foreign_keys`).Scan(&fk); err != nil {
		t.Fatalf("pragma: %v", err)
	}
	if fk != 1 {
		t.Fatalf("expected foreign keys on, got %d", fk)
	}

	insert := `INSERT INTO users (id, username, email, password_hash) VALUES (?, ?, ?, 'x')`
	if _, err := db.Exec(insert, "u1", "alice", "a@example.com"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	_, err = db.Exec(insert, "u2", "alice", "b@example.com")
	if !IsUniqueViolation(err) {
		t.Fatalf("expected unique violation, got %v", err)
	}
	if IsUniqueViolation(nil) {
		t.Fatalf("nil is not a unique violation")
	}
}
