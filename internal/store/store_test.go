package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/andresmejia3/checkmates/internal/blob"
	"github.com/andresmejia3/checkmates/internal/types"
	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// newTestStore starts a pgvector container and returns a connected Store.
// It requires Docker to be running.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	// Explicitly check for Docker availability and fail hard if missing
	// We wrap this in a function to recover from panics inside testcontainers (e.g. socket not found)
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("testcontainers panicked: %v", r)
			}
		}()
		_, err = testcontainers.NewDockerClientWithOpts(ctx)
		return
	}()
	if err != nil {
		t.Fatalf("Docker not available, cannot run integration test: %v", err)
	}

	pgContainer, err := postgres.Run(ctx,
		"pgvector/pgvector:pg16",
		postgres.WithDatabase("checkmates_test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
		testcontainers.WithLogger(noopLogger{}),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	// Initialize Store (runs migrations)
	s, err := New(ctx, connStr)
	if err != nil {
		t.Fatalf("Failed to connect to store: %v", err)
	}
	t.Cleanup(func() { s.Close(ctx) })
	return s
}

// TestStoreIntegration runs a full integration test against a real Postgres container.
func TestStoreIntegration(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t.Run("blobs", func(t *testing.T) {
		ref, err := s.Put(ctx, "faces/alice@example.com.jpg", []byte("v1"), "image/jpeg")
		if err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if ref == "" {
			t.Error("Expected non-empty reference")
		}

		// Overwrite keeps exactly one object per name
		if _, err := s.Put(ctx, "faces/alice@example.com.jpg", []byte("v2"), "image/jpeg"); err != nil {
			t.Fatalf("second Put failed: %v", err)
		}
		if _, err := s.Put(ctx, "other/readme.txt", []byte("x"), "text/plain"); err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		data, err := s.Get(ctx, "faces/alice@example.com.jpg")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(data) != "v2" {
			t.Errorf("Expected overwritten bytes v2, got %q", data)
		}

		if _, err := s.Get(ctx, "faces/nobody.jpg"); !errors.Is(err, blob.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}

		var names []string
		for name, err := range s.List(ctx, "faces/") {
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			names = append(names, name)
		}
		if len(names) != 1 || names[0] != "faces/alice@example.com.jpg" {
			t.Errorf("Expected only the gallery object, got %v", names)
		}
	})

	t.Run("embedding cache", func(t *testing.T) {
		vec := make(types.Embedding, 512)
		vec[0] = 1.0 // Vector points along X axis

		if err := s.PutEmbedding(ctx, "alice@example.com", "digest-1", vec); err != nil {
			t.Fatalf("PutEmbedding failed: %v", err)
		}

		got, ok, err := s.GetEmbedding(ctx, "alice@example.com", "digest-1")
		if err != nil || !ok {
			t.Fatalf("GetEmbedding failed: ok=%v err=%v", ok, err)
		}
		if len(got) != 512 || math.Abs(got[0]-1.0) > 1e-6 {
			t.Errorf("Unexpected cached vector head %v", got[:2])
		}

		// A different digest is a miss (image re-enrolled)
		if _, ok, err := s.GetEmbedding(ctx, "alice@example.com", "digest-2"); err != nil || ok {
			t.Errorf("Expected miss for stale digest, got ok=%v err=%v", ok, err)
		}

		// Replacing moves the key to the new digest
		vec2 := make(types.Embedding, 512)
		vec2[1] = 1.0
		if err := s.PutEmbedding(ctx, "alice@example.com", "digest-2", vec2); err != nil {
			t.Fatalf("PutEmbedding failed: %v", err)
		}
		if _, ok, _ := s.GetEmbedding(ctx, "alice@example.com", "digest-1"); ok {
			t.Error("Expected old digest to be gone after replacement")
		}
	})

	t.Run("attendance ledger", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			ev := types.AttendanceEvent{
				ID:          uuid.NewString(),
				IdentityKey: "alice@example.com",
				Timestamp:   "2026-10-19 09:00:00",
				Status:      types.StatusPresent,
			}
			if err := s.AppendEvent(ctx, ev); err != nil {
				t.Fatalf("AppendEvent failed: %v", err)
			}
		}
		if err := s.AppendEvent(ctx, types.AttendanceEvent{
			ID: uuid.NewString(), IdentityKey: "bob@example.com", Timestamp: "2026-10-19 09:01:00", Status: types.StatusPresent,
		}); err != nil {
			t.Fatalf("AppendEvent failed: %v", err)
		}

		alice, err := s.ListEvents(ctx, "alice@example.com", 0)
		if err != nil {
			t.Fatalf("ListEvents failed: %v", err)
		}
		// No deduplication: both events are kept
		if len(alice) != 2 {
			t.Errorf("Expected 2 events for alice, got %d", len(alice))
		}

		latest, err := s.ListEvents(ctx, "", 1)
		if err != nil {
			t.Fatalf("ListEvents failed: %v", err)
		}
		if len(latest) != 1 || latest[0].IdentityKey != "bob@example.com" {
			t.Errorf("Expected newest event for bob, got %+v", latest)
		}
		if latest[0].Status != types.StatusPresent {
			t.Errorf("Expected status %q, got %q", types.StatusPresent, latest[0].Status)
		}
	})

	t.Run("reset", func(t *testing.T) {
		if err := s.Reset(ctx); err != nil {
			t.Fatalf("Reset failed: %v", err)
		}
		if _, err := s.ListEvents(ctx, "", 0); err == nil {
			t.Error("Expected error querying dropped table")
		}
	})
}

type noopLogger struct{}

func (n noopLogger) Printf(format string, v ...interface{}) {}
