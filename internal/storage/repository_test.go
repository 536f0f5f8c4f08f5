package storage_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"spesebook/internal/core"
	"spesebook/internal/storage"
	"spesebook/internal/storage/storagetest"
)

func newSQLite(t *testing.T) *storage.SQLiteRepository {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "spese.db"))
	if err != nil {
		t.Fatalf("open sqlite repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSQLiteRepositoryContract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Repository {
		return newSQLite(t)
	})
}

func TestSQLiteSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "spese.db")
	repo, err := storage.NewSQLiteRepository(path)
	if err != nil {
		t.Fatalf("open sqlite repository: %v", err)
	}
	defer repo.Close()

	v, err := storage.SchemaVersion(path)
	if err != nil {
		t.Fatalf("schema version: %v", err)
	}
	if v != core.SchemaVersion {
		t.Fatalf("expected schema version %d, got %d", core.SchemaVersion, v)
	}
}

func TestSQLiteDataSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spese.db")
	ctx := context.Background()

	repo, err := storage.NewSQLiteRepository(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	g := core.Group{ID: "2024-03", Name: "March", CreatedAt: core.Now(), TotalExpenses: core.MustMoney("12.30")}
	if err := repo.InsertGroup(ctx, g); err != nil {
		t.Fatalf("insert: %v", err)
	}
	repo.Close()

	repo, err = storage.NewSQLiteRepository(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer repo.Close()

	got, err := repo.GetGroup(ctx, "2024-03")
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if !got.TotalExpenses.Equal(g.TotalExpenses) {
		t.Fatalf("expected total %s, got %s", g.TotalExpenses, got.TotalExpenses)
	}
}

func TestSQLiteClosedRepositoryReportsStorageFailure(t *testing.T) {
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "spese.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	repo.Close()

	_, err = repo.ListGroups(context.Background())
	if !errors.Is(err, core.ErrStorageFailure) {
		t.Fatalf("expected ErrStorageFailure, got %v", err)
	}
}
