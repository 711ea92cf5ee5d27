package store

import (
	"os"
	"path/filepath"
	"testing"
)

func TestListMigrationsOrdersUpFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"0002_topics.up.sql", "0001_init.up.sql", "0001_init.down.sql", "README.md"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "archive.up.sql"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	migrations, err := listMigrations(dir)
	if err != nil {
		t.Fatalf("listMigrations() error = %v", err)
	}
	if len(migrations) != 2 || migrations[0].Version != "0001_init.up.sql" || migrations[1].Version != "0002_topics.up.sql" {
		t.Fatalf("migrations = %+v", migrations)
	}
	if migrations[1].Path != filepath.Join(dir, "0002_topics.up.sql") {
		t.Fatalf("path = %q", migrations[1].Path)
	}
}

func TestListMigrationsMissingDir(t *testing.T) {
	if _, err := listMigrations(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for a missing directory")
	}
}

func TestListMigrationsRepoSchema(t *testing.T) {
	migrations, err := listMigrations(filepath.Join("..", "..", "db", "migrations"))
	if err != nil {
		t.Fatalf("listMigrations() error = %v", err)
	}
	if len(migrations) == 0 {
		t.Fatal("expected the repository schema migrations")
	}
}
