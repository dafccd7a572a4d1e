package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEnsureSQLiteDirCreatesParent(t *testing.T) {
	root := t.TempDir()
	url := "file:" + filepath.Join(root, "nested", "data", "caseload.db") + "?cache=shared"

	if err := ensureSQLiteDir(url); err != nil {
		t.Fatalf("ensure dir: %v", err)
	}
	info, err := os.Stat(filepath.Join(root, "nested", "data"))
	if err != nil {
		t.Fatalf("stat data dir: %v", err)
	}
	if !info.IsDir() {
		t.Fatalf("expected a directory")
	}
}

func TestEnsureSQLiteDirIgnoresMemory(t *testing.T) {
	if err := ensureSQLiteDir("file::memory:"); err != nil {
		t.Fatalf("expected no error for in-memory database, got %v", err)
	}
}

func TestPrepareDatabaseHonorsDriverAliases(t *testing.T) {
	for _, driver := range []string{"", "sqlite", "sqlite3", "SQLite3"} {
		t.Run("driver="+driver, func(t *testing.T) {
			root := t.TempDir()
			url := "file:" + filepath.Join(root, "data", "caseload.db")
			if err := prepareDatabase(driver, url); err != nil {
				t.Fatalf("prepare database: %v", err)
			}
			if _, err := os.Stat(filepath.Join(root, "data")); err != nil {
				t.Fatalf("expected data dir for driver %q: %v", driver, err)
			}
		})
	}
}

func TestPrepareDatabaseSkipsPostgres(t *testing.T) {
	root := t.TempDir()
	if err := prepareDatabase("postgres", "file:"+filepath.Join(root, "data", "caseload.db")); err != nil {
		t.Fatalf("prepare database: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "data")); !os.IsNotExist(err) {
		t.Fatalf("expected no data dir for postgres, got %v", err)
	}
	if err := prepareDatabase("oracle", ""); err == nil {
		t.Fatalf("expected an unknown driver to fail")
	}
}

func TestClaimOrphansRequiresUserID(t *testing.T) {
	cmd := rootCommand()
	cmd.SetArgs([]string{"claim-orphans"})
	t.Setenv("DATABASE_URL", "file:"+filepath.Join(t.TempDir(), "caseload.db"))

	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected an error without --user-id")
	}
}
