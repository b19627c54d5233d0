package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notifyhub/formsync/internal/domain"
)

const selectColumns = `
	SELECT id, form_id, payload, settings, priority, status,
	       batch_id, batch_position, attempts, error_message,
	       created_at, processing_at, completed_at, failed_at
	FROM queue_items`

type pgQueueRepository struct {
	pool *pgxpool.Pool
}

// NewPgQueueRepository returns a QueueRepository backed by PostgreSQL.
func NewPgQueueRepository(pool *pgxpool.Pool) QueueRepository {
	return &pgQueueRepository{pool: pool}
}

func (r *pgQueueRepository) Enqueue(ctx context.Context, item *domain.QueueItem) (int64, error) {
	payload, err := json.Marshal(item.Payload)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}
	settings, err := json.Marshal(item.Settings)
	if err != nil {
		return 0, fmt.Errorf("marshal settings: %w", err)
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}

	err = r.pool.QueryRow(ctx, `
		INSERT INTO queue_items (form_id, payload, settings, priority, status, attempts, created_at)
		VALUES ($1, $2, $3, $4, 'pending', 0, $5)
		RETURNING id`,
		item.FormID, payload, settings, item.Priority, item.CreatedAt,
	).Scan(&item.ID)
	if err != nil {
		return 0, fmt.Errorf("insert queue item: %w", err)
	}
	item.Status = domain.StatusPending
	return item.ID, nil
}

func (r *pgQueueRepository) GetByID(ctx context.Context, id int64) (*domain.QueueItem, error) {
	item, err := scanQueueItem(r.pool.QueryRow(ctx, selectColumns+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return item, err
}

func (r *pgQueueRepository) SelectPending(ctx context.Context, limit int) ([]*domain.QueueItem, error) {
	rows, err := r.pool.Query(ctx, selectColumns+`
		WHERE status = 'pending'
		ORDER BY CASE priority WHEN 'high' THEN 1 ELSE 0 END DESC, created_at ASC, id ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("select pending: %w", err)
	}
	defer rows.Close()
	return scanQueueItems(rows)
}

func (r *pgQueueRepository) FindByBatch(ctx context.Context, batchID string) ([]*domain.QueueItem, error) {
	rows, err := r.pool.Query(ctx, selectColumns+`
		WHERE batch_id = $1
		ORDER BY batch_position ASC NULLS LAST, id ASC`, batchID)
	if err != nil {
		return nil, fmt.Errorf("find by batch: %w", err)
	}
	defer rows.Close()
	return scanQueueItems(rows)
}

func (r *pgQueueRepository) ProcessingBatchIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT batch_id FROM queue_items
		WHERE status = 'processing' AND batch_id IS NOT NULL
		GROUP BY batch_id
		ORDER BY MIN(processing_at) ASC`)
	if err != nil {
		return nil, fmt.Errorf("list processing batches: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *pgQueueRepository) StillPending(ctx context.Context, ids []int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM queue_items
		WHERE id = ANY($1) AND status = 'pending'`, ids)
	if err != nil {
		return nil, fmt.Errorf("check pending: %w", err)
	}
	defer rows.Close()

	var pending []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		pending = append(pending, id)
	}
	return pending, rows.Err()
}

func (r *pgQueueRepository) MarkProcessing(ctx context.Context, batchID string, ids []int64, at time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE queue_items q
		SET status = 'processing', batch_id = $1, batch_position = u.pos - 1, processing_at = $2
		FROM unnest($3::bigint[]) WITH ORDINALITY AS u(id, pos)
		WHERE q.id = u.id AND q.status = 'pending'`,
		batchID, at, ids)
	if err != nil {
		return 0, fmt.Errorf("mark processing: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *pgQueueRepository) RecordSubmitFailure(ctx context.Context, ids []int64, errMsg string, maxAttempts int, at time.Time) (int64, error) {
	// Every right-hand side sees the pre-update attempts value. Items already
	// at or past a lowered cap fail without counting another attempt.
	tag, err := r.pool.Exec(ctx, `
		UPDATE queue_items
		SET attempts      = CASE WHEN attempts >= $2 THEN attempts ELSE attempts + 1 END,
		    error_message = $1,
		    status        = CASE WHEN attempts + 1 >= $2 THEN 'failed' ELSE 'pending' END,
		    failed_at     = CASE WHEN attempts + 1 >= $2 THEN $3 ELSE failed_at END
		WHERE id = ANY($4) AND status = 'pending'`,
		errMsg, maxAttempts, at, ids)
	if err != nil {
		return 0, fmt.Errorf("record submit failure: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *pgQueueRepository) MarkUnsentFailed(ctx context.Context, id int64, errMsg string, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE queue_items
		SET status = 'failed', error_message = $1, failed_at = $2
		WHERE id = $3 AND status = 'pending'`,
		errMsg, at, id)
	if err != nil {
		return false, fmt.Errorf("mark unsent failed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *pgQueueRepository) MarkCompleted(ctx context.Context, id int64, batchID string, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE queue_items
		SET status = 'completed', completed_at = $1, error_message = NULL
		WHERE id = $2 AND batch_id = $3 AND status = 'processing'`,
		at, id, batchID)
	if err != nil {
		return false, fmt.Errorf("mark completed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *pgQueueRepository) MarkFailed(ctx context.Context, id int64, batchID, errMsg string, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE queue_items
		SET status = 'failed', failed_at = $1, error_message = $2
		WHERE id = $3 AND batch_id = $4 AND status = 'processing'`,
		at, errMsg, id, batchID)
	if err != nil {
		return false, fmt.Errorf("mark failed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *pgQueueRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time, statuses []domain.Status) (int64, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM queue_items
		WHERE status = ANY($1) AND created_at < $2`,
		names, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old items: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *pgQueueRepository) Stats(ctx context.Context) (*domain.QueueStats, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM queue_items GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	var stats domain.QueueStats
	for rows.Next() {
		var (
			status string
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		addStatusCount(&stats, domain.Status(status), count)
	}
	return &stats, rows.Err()
}

// ---- helpers ----

// scanQueueItem reads a single queue row from any pgx row type.
func scanQueueItem(row pgx.Row) (*domain.QueueItem, error) {
	var (
		item              domain.QueueItem
		payload, settings []byte
		priority, status  string
	)
	err := row.Scan(
		&item.ID, &item.FormID, &payload, &settings, &priority, &status,
		&item.BatchID, &item.BatchPosition, &item.Attempts, &item.ErrorMessage,
		&item.CreatedAt, &item.ProcessingAt, &item.CompletedAt, &item.FailedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, &item.Payload); err != nil {
		return nil, fmt.Errorf("decode payload of item %d: %w", item.ID, err)
	}
	if err := json.Unmarshal(settings, &item.Settings); err != nil {
		return nil, fmt.Errorf("decode settings of item %d: %w", item.ID, err)
	}
	item.Priority = domain.Priority(priority)
	item.Status = domain.Status(status)
	return &item, nil
}

func scanQueueItems(rows pgx.Rows) ([]*domain.QueueItem, error) {
	var result []*domain.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	return result, rows.Err()
}
