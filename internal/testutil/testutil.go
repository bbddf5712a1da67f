// Package testutil provides shared test helpers for setting up databases
// and seeded research jobs.
package testutil

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/starford/sift/internal/models"
	"github.com/starford/sift/internal/store"
)

// TestDB creates a temporary database on engine that is automatically
// cleaned up. Tests asking for the vector engine are skipped when it is not
// compiled in.
func TestDB(t *testing.T, engine store.Engine) *store.DB {
	t.Helper()
	if engine == store.EngineSQLiteVec && !store.VecCompiled() {
		t.Skip("sqlite-vec not compiled in; run with -tags sqlite_vec")
	}
	dbFile, err := os.CreateTemp("", "sift-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() {
		os.Remove(dbFile.Name())
		os.Remove(dbFile.Name() + "-wal")
		os.Remove(dbFile.Name() + "-shm")
	})

	db, err := store.Open(engine, dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// QueuedJob inserts a queued job for query and returns it.
func QueuedJob(t *testing.T, db *store.DB, query string, topK int) models.ResearchJob {
	t.Helper()
	job := models.ResearchJob{ID: uuid.NewString(), Query: query, TopK: topK, Status: models.StatusQueued}
	if err := db.CreateJob(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	return job
}
