package store

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	migrationsDir := filepath.Join("..", "..", "db", "migrations")
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}

	pattern := regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)
	byVersion := map[string]map[string]bool{}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		match := pattern.FindStringSubmatch(name)
		if match == nil {
			continue
		}
		version := match[1]
		direction := match[2]
		if byVersion[version] == nil {
			byVersion[version] = map[string]bool{}
		}
		if byVersion[version][direction] {
			t.Fatalf("duplicate %s migration file for version %s", direction, version)
		}
		byVersion[version][direction] = true
	}

	if len(byVersion) == 0 {
		t.Fatal("no migrations discovered")
	}

	for version, dirs := range byVersion {
		if !dirs["up"] || !dirs["down"] {
			t.Fatalf("version %s must include both up and down files", version)
		}
	}
}

func TestInitMigrationCreatesSubmissionTables(t *testing.T) {
	sqlBytes, err := os.ReadFile(filepath.Join("..", "..", "db", "migrations", "0001_init.up.sql"))
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	sqlText := string(sqlBytes)
	for _, table := range []string{"accounts", "papers", "paper_documents", "topics", "paper_topics", "paper_options", "paper_conflicts"} {
		if !strings.Contains(sqlText, "CREATE TABLE IF NOT EXISTS "+table+" (") {
			t.Fatalf("expected migration to create %s", table)
		}
	}
	// Emails are matched case-insensitively everywhere.
	if !strings.Contains(sqlText, "ON accounts (LOWER(email))") {
		t.Fatal("expected a unique index on lowercased account email")
	}
	for col := range paperColumns {
		if !strings.Contains(sqlText, "    "+string(col)+" ") {
			t.Fatalf("papers column %s missing from migration", col)
		}
	}
}
