package repository_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notifyhub/formsync/internal/db"
	"github.com/notifyhub/formsync/internal/domain"
	"github.com/notifyhub/formsync/internal/repository"
)

// pgRepo connects to FORMSYNC_TEST_DATABASE_URL, applies migrations and
// truncates the table. The test is skipped when the variable is unset.
func pgRepo(t *testing.T) repository.QueueRepository {
	t.Helper()
	dsn := os.Getenv("FORMSYNC_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("FORMSYNC_TEST_DATABASE_URL not set")
	}

	if err := db.Migrate("file://../../migrations", dsn); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	if _, err := pool.Exec(ctx, `TRUNCATE queue_items RESTART IDENTITY`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return repository.NewPgQueueRepository(pool)
}

func TestPgQueueRepository_Lifecycle(t *testing.T) {
	repo := pgRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	a := newItem("X", domain.PriorityNormal)
	b := newItem("X", domain.PriorityHigh)
	c := newItem("Y", domain.PriorityNormal)
	for _, it := range []*domain.QueueItem{a, b, c} {
		if _, err := repo.Enqueue(ctx, it); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	pending, err := repo.SelectPending(ctx, 10)
	if err != nil {
		t.Fatalf("select pending: %v", err)
	}
	if len(pending) != 3 || pending[0].ID != b.ID {
		t.Fatalf("expected high priority item first, got %+v", pending)
	}
	if pending[0].Settings.AudienceID != "X" || pending[0].Payload["email"] != "jane@example.com" {
		t.Fatalf("expected settings and payload to round-trip, got %+v", pending[0])
	}

	n, err := repo.MarkProcessing(ctx, "batch-1", []int64{b.ID, a.ID}, now)
	if err != nil || n != 2 {
		t.Fatalf("mark processing: n=%d err=%v", n, err)
	}
	if n, _ := repo.MarkProcessing(ctx, "batch-2", []int64{a.ID}, now); n != 0 {
		t.Fatalf("expected compare-and-set to reject a second claim, moved %d", n)
	}

	batch, err := repo.FindByBatch(ctx, "batch-1")
	if err != nil || len(batch) != 2 || batch[0].ID != b.ID || batch[1].ID != a.ID {
		t.Fatalf("expected batch in submission order [b a], got %+v err=%v", batch, err)
	}

	if still, _ := repo.StillPending(ctx, []int64{a.ID, b.ID, c.ID}); len(still) != 1 || still[0] != c.ID {
		t.Fatalf("expected only c still pending, got %v", still)
	}

	ids, _ := repo.ProcessingBatchIDs(ctx)
	if len(ids) != 1 || ids[0] != "batch-1" {
		t.Fatalf("expected [batch-1], got %v", ids)
	}

	if ok, _ := repo.MarkCompleted(ctx, b.ID, "batch-1", now); !ok {
		t.Fatal("expected completion to apply")
	}
	if ok, _ := repo.MarkFailed(ctx, a.ID, "batch-1", "invalid email", now); !ok {
		t.Fatal("expected failure to apply")
	}

	for i := 0; i < 3; i++ {
		_, _ = repo.RecordSubmitFailure(ctx, []int64{c.ID}, "timeout", 3, now)
	}
	got, _ := repo.GetByID(ctx, c.ID)
	if got.Status != domain.StatusFailed || got.Attempts != 3 {
		t.Fatalf("expected failed after 3 attempts, got %s/%d", got.Status, got.Attempts)
	}

	d := newItem("Y", domain.PriorityNormal)
	_, _ = repo.Enqueue(ctx, d)
	_, _ = repo.RecordSubmitFailure(ctx, []int64{d.ID}, "timeout", 3, now)
	_, _ = repo.RecordSubmitFailure(ctx, []int64{d.ID}, "timeout", 3, now)
	if n, _ := repo.RecordSubmitFailure(ctx, []int64{d.ID}, "timeout", 1, now); n != 1 {
		t.Fatalf("expected a lowered cap to still update the item, moved %d", n)
	}
	got, _ = repo.GetByID(ctx, d.ID)
	if got.Status != domain.StatusFailed || got.Attempts != 2 {
		t.Fatalf("expected failed/2 under a lowered cap, got %s/%d", got.Status, got.Attempts)
	}

	stats, err := repo.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 4 || stats.Completed != 1 || stats.Failed != 3 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	deleted, err := repo.DeleteOlderThan(ctx, now.Add(time.Hour), repository.TerminalStatuses)
	if err != nil || deleted != 4 {
		t.Fatalf("expected 4 deletions, got %d err=%v", deleted, err)
	}
}
