package flushqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Ledger manages the materialise_jobs table, providing crash-recoverable
// persistence for in-flight claim-check references. It shares a *sql.DB
// with whatever DatabaseAdapter the gateway is already using (see
// dbadapter.SQLiteAdapter.DB), the same sole-writer pattern the teacher
// uses for its action_queue.
type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewLedger creates a Ledger over db. The materialise_jobs table must
// already exist (see dbadapter's migrations).
func NewLedger(db *sql.DB, logger *slog.Logger) *Ledger {
	return &Ledger{db: db, logger: logger}
}

// Enqueue inserts a pending reference row.
func (l *Ledger) Enqueue(ctx context.Context, objectKey, gatewayID string, deltaCount int) (*MaterialiseJobRecord, error) {
	now := time.Now().UTC()

	result, err := l.db.ExecContext(ctx,
		`INSERT INTO materialise_jobs (object_key, gateway_id, delta_count, status, attempts, created_at)
		 VALUES (?, ?, ?, '`+StatusPending+`', 0, ?)`,
		objectKey, gatewayID, deltaCount, now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("flushqueue: enqueue: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("flushqueue: enqueue last insert id: %w", err)
	}

	return &MaterialiseJobRecord{
		ID:         id,
		ObjectKey:  objectKey,
		GatewayID:  gatewayID,
		DeltaCount: deltaCount,
		Status:     StatusPending,
		CreatedAt:  now,
	}, nil
}

// ClaimOldestPending atomically claims the oldest pending job, if any.
func (l *Ledger) ClaimOldestPending(ctx context.Context) (*MaterialiseJobRecord, bool, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("flushqueue: begin claim: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT id, object_key, gateway_id, delta_count, status, attempts, last_error, created_at, claimed_at
		 FROM materialise_jobs WHERE status = '`+StatusPending+`' ORDER BY id ASC LIMIT 1`)

	rec, err := scanJobRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("flushqueue: scan claim candidate: %w", err)
	}

	now := time.Now().UTC()

	result, err := tx.ExecContext(ctx,
		`UPDATE materialise_jobs SET status = '`+StatusClaimed+`', claimed_at = ?, attempts = attempts + 1
		 WHERE id = ? AND status = '`+StatusPending+`'`, now.UnixMilli(), rec.ID)
	if err != nil {
		return nil, false, fmt.Errorf("flushqueue: claim %d: %w", rec.ID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("flushqueue: claim %d rows affected: %w", rec.ID, err)
	}

	if rows == 0 {
		// Lost a race to another consumer between the select and the
		// update; the caller should try again on its next tick.
		return nil, false, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("flushqueue: commit claim %d: %w", rec.ID, err)
	}

	rec.Status = StatusClaimed
	rec.ClaimedAt = &now
	rec.Attempts++

	return rec, true, nil
}

// Complete transitions a job from claimed to done.
func (l *Ledger) Complete(ctx context.Context, id int64) error {
	return l.transition(ctx, id, StatusClaimed, StatusDone,
		`UPDATE materialise_jobs SET status = '`+StatusDone+`', completed_at = ? WHERE id = ? AND status = '`+StatusClaimed+`'`)
}

// Fail transitions a job from claimed to failed, recording errMsg.
func (l *Ledger) Fail(ctx context.Context, id int64, errMsg string) error {
	now := time.Now().UTC().UnixMilli()

	result, err := l.db.ExecContext(ctx,
		`UPDATE materialise_jobs SET status = '`+StatusFailed+`', completed_at = ?, last_error = ?
		 WHERE id = ? AND status = '`+StatusClaimed+`'`, now, errMsg, id)
	if err != nil {
		return fmt.Errorf("flushqueue: fail %d: %w", id, err)
	}

	return requireRowsAffected(result, id, StatusClaimed)
}

// Cancel transitions a job to canceled from any status.
func (l *Ledger) Cancel(ctx context.Context, id int64) error {
	result, err := l.db.ExecContext(ctx,
		`UPDATE materialise_jobs SET status = '`+StatusCanceled+`' WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("flushqueue: cancel %d: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("flushqueue: cancel %d rows affected: %w", id, err)
	}

	if rows == 0 {
		return fmt.Errorf("flushqueue: cancel %d: %w", id, ErrJobNotFound)
	}

	return nil
}

func (l *Ledger) transition(ctx context.Context, id int64, fromStatus, _ string, query string) error {
	now := time.Now().UTC().UnixMilli()

	result, err := l.db.ExecContext(ctx, query, now, id)
	if err != nil {
		return fmt.Errorf("flushqueue: transition %d: %w", id, err)
	}

	return requireRowsAffected(result, id, fromStatus)
}

func requireRowsAffected(result sql.Result, id int64, fromStatus string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("flushqueue: %d rows affected: %w", id, err)
	}

	if rows == 0 {
		return fmt.Errorf("flushqueue: job %d: not %s: %w", id, fromStatus, ErrJobNotFound)
	}

	return nil
}

// LoadPending returns all non-terminal (pending or claimed) jobs, ordered
// by id, for crash recovery at startup.
func (l *Ledger) LoadPending(ctx context.Context) ([]MaterialiseJobRecord, error) {
	return l.queryRows(ctx,
		`WHERE status IN ('`+StatusPending+`', '`+StatusClaimed+`') ORDER BY id`)
}

// ReclaimStale resets claimed jobs older than timeout back to pending.
// Returns the number of reclaimed jobs.
func (l *Ledger) ReclaimStale(ctx context.Context, timeout time.Duration) (int, error) {
	cutoff := time.Now().Add(-timeout).UTC().UnixMilli()

	result, err := l.db.ExecContext(ctx,
		`UPDATE materialise_jobs SET status = '`+StatusPending+`', claimed_at = NULL
		 WHERE status = '`+StatusClaimed+`' AND claimed_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("flushqueue: reclaim stale: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("flushqueue: reclaim stale rows affected: %w", err)
	}

	if n > 0 {
		l.logger.Warn("flushqueue: reclaimed stale jobs", slog.Int64("count", n), slog.Duration("timeout", timeout))
	}

	return int(n), nil
}

func (l *Ledger) queryRows(ctx context.Context, whereClause string) ([]MaterialiseJobRecord, error) {
	query := `SELECT id, object_key, gateway_id, delta_count, status, attempts, last_error, created_at, claimed_at
		FROM materialise_jobs ` + whereClause //nolint:gosec // whereClause is always a compile-time constant

	rows, err := l.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("flushqueue: query: %w", err)
	}
	defer rows.Close()

	var out []MaterialiseJobRecord

	for rows.Next() {
		rec, err := scanJobRow(rows)
		if err != nil {
			return nil, fmt.Errorf("flushqueue: scan: %w", err)
		}

		out = append(out, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("flushqueue: iterate: %w", err)
	}

	return out, nil
}

// rowScanner abstracts over *sql.Row and *sql.Rows, both of which expose
// Scan with the same signature.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJobRow(s rowScanner) (*MaterialiseJobRecord, error) {
	var (
		rec       MaterialiseJobRecord
		lastError sql.NullString
		createdAt int64
		claimedAt sql.NullInt64
	)

	if err := s.Scan(&rec.ID, &rec.ObjectKey, &rec.GatewayID, &rec.DeltaCount, &rec.Status,
		&rec.Attempts, &lastError, &createdAt, &claimedAt); err != nil {
		return nil, err
	}

	rec.LastError = lastError.String
	rec.CreatedAt = time.UnixMilli(createdAt).UTC()

	if claimedAt.Valid {
		t := time.UnixMilli(claimedAt.Int64).UTC()
		rec.ClaimedAt = &t
	}

	return &rec, nil
}
