package dbadapter

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure Go driver, registers as "sqlite"

	"github.com/lakesync/lakesync/internal/deltamodel"
	"github.com/lakesync/lakesync/internal/hlc"
)

// walJournalSizeLimit caps the WAL file at 64 MiB before a checkpoint is forced.
const walJournalSizeLimit = 67108864

// deltaStatements groups the prepared statements touching the delta log,
// mirroring the teacher's per-domain statement grouping.
type deltaStatements struct {
	insert     *sql.Stmt
	sinceAll   *sql.Stmt
	rowHistory *sql.Stmt
}

type schemaStatements struct {
	upsert *sql.Stmt
}

// SQLiteAdapter is the reference Adapter implementation, backed by a
// single SQLite database in WAL mode.
type SQLiteAdapter struct {
	db     *sql.DB
	logger *slog.Logger

	deltaStmts  deltaStatements
	schemaStmts schemaStatements
}

// Open creates a SQLiteAdapter at dbPath (use ":memory:" for tests),
// applying migrations and preparing all repeated statements. logger must
// not be nil.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*SQLiteAdapter, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("dbadapter: open sqlite: %w", err)
	}

	if err := setPragmas(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	a := &SQLiteAdapter{db: db, logger: logger}

	if err := a.prepareStatements(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("dbadapter: prepare statements: %w", err)
	}

	return a, nil
}

func setPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit),
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("dbadapter: set pragma %q: %w", p, err)
		}
	}

	return nil
}

const (
	sqlInsertDelta = `INSERT OR IGNORE INTO deltas
		(delta_id, op, table_name, row_id, client_id, hlc, columns_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	sqlDeltasSinceAll = `SELECT delta_id, op, table_name, row_id, client_id, hlc, columns_json
		FROM deltas WHERE hlc > ? ORDER BY hlc ASC`

	sqlRowHistory = `SELECT delta_id, op, table_name, row_id, client_id, hlc, columns_json
		FROM deltas WHERE table_name = ? AND row_id = ? ORDER BY hlc ASC`

	sqlUpsertSchema = `INSERT INTO table_schemas (table_name, columns_json, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(table_name) DO UPDATE SET
			columns_json = excluded.columns_json,
			updated_at   = excluded.updated_at`
)

func (a *SQLiteAdapter) prepareStatements(ctx context.Context) error {
	var err error

	if a.deltaStmts.insert, err = a.db.PrepareContext(ctx, sqlInsertDelta); err != nil {
		return fmt.Errorf("prepare insertDelta: %w", err)
	}

	if a.deltaStmts.sinceAll, err = a.db.PrepareContext(ctx, sqlDeltasSinceAll); err != nil {
		return fmt.Errorf("prepare deltasSinceAll: %w", err)
	}

	if a.deltaStmts.rowHistory, err = a.db.PrepareContext(ctx, sqlRowHistory); err != nil {
		return fmt.Errorf("prepare rowHistory: %w", err)
	}

	if a.schemaStmts.upsert, err = a.db.PrepareContext(ctx, sqlUpsertSchema); err != nil {
		return fmt.Errorf("prepare upsertSchema: %w", err)
	}

	return nil
}

// EnsureSchema records the table's column list. The delta log itself is
// schema-less (each ColumnValue is self-describing), so this exists to
// let the flush pipeline and catalogue derive column ordering and types
// without re-deriving them from observed deltas.
func (a *SQLiteAdapter) EnsureSchema(ctx context.Context, schema deltamodel.TableSchema) error {
	b, err := json.Marshal(schema.Columns)
	if err != nil {
		return fmt.Errorf("dbadapter: marshal schema for %q: %w", schema.Table, err)
	}

	if _, err := a.schemaStmts.upsert.ExecContext(ctx, schema.Table, b, time.Now().UTC().UnixMilli()); err != nil {
		return fmt.Errorf("dbadapter: ensure schema for %q: %w", schema.Table, err)
	}

	return nil
}

// InsertDeltas is idempotent on DeltaID via INSERT OR IGNORE.
func (a *SQLiteAdapter) InsertDeltas(ctx context.Context, deltas []deltamodel.RowDelta) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("dbadapter: begin insert tx: %w", err)
	}

	txInsert := tx.StmtContext(ctx, a.deltaStmts.insert)

	for _, d := range deltas {
		colBytes, err := encodeColumns(d.Columns)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("dbadapter: encode columns for delta %q: %w", d.DeltaID, err)
		}

		if _, err := txInsert.ExecContext(ctx, d.DeltaID, string(d.Op), d.Table, d.RowID, d.ClientID, uint64(d.HLC), colBytes); err != nil {
			tx.Rollback()
			return fmt.Errorf("dbadapter: insert delta %q: %w", d.DeltaID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("dbadapter: commit insert tx: %w", err)
	}

	return nil
}

// QueryDeltasSince returns deltas with hlc strictly greater than since,
// ascending. When tables is non-empty, only those tables are returned.
func (a *SQLiteAdapter) QueryDeltasSince(ctx context.Context, since hlc.Timestamp, tables []string) ([]deltamodel.RowDelta, error) {
	rows, err := a.deltaStmts.sinceAll.QueryContext(ctx, uint64(since))
	if err != nil {
		return nil, fmt.Errorf("dbadapter: query deltas since: %w", err)
	}
	defer rows.Close()

	wanted := tableSet(tables)

	out, err := scanDeltaRows(rows, wanted)
	if err != nil {
		return nil, err
	}

	return out, nil
}

// GetLatestState reconstructs the LWW-merged column map for (table, rowID):
// for each column, the value from the delta with the highest hlc wins; a
// DELETE whose hlc exceeds every column-bearing delta's hlc yields nil.
func (a *SQLiteAdapter) GetLatestState(ctx context.Context, table, rowID string) (map[string]deltamodel.ColumnValue, error) {
	rows, err := a.deltaStmts.rowHistory.QueryContext(ctx, table, rowID)
	if err != nil {
		return nil, fmt.Errorf("dbadapter: query row history: %w", err)
	}
	defer rows.Close()

	type winner struct {
		hlc   hlc.Timestamp
		value deltamodel.ColumnValue
	}

	best := map[string]winner{}

	var (
		seenAny       bool
		maxColumnHLC  hlc.Timestamp
		maxDeleteHLC  hlc.Timestamp
		hasDelete     bool
	)

	for rows.Next() {
		var (
			deltaID, op, tableName, rowIDCol, clientID string
			rawHLC                                     uint64
			columnsJSON                                []byte
		)

		if err := rows.Scan(&deltaID, &op, &tableName, &rowIDCol, &clientID, &rawHLC, &columnsJSON); err != nil {
			return nil, fmt.Errorf("dbadapter: scan row history: %w", err)
		}

		seenAny = true
		ts := hlc.Timestamp(rawHLC)

		if deltamodel.Op(op) == deltamodel.OpDelete {
			hasDelete = true
			if ts > maxDeleteHLC {
				maxDeleteHLC = ts
			}

			continue
		}

		cols, err := decodeColumns(columnsJSON)
		if err != nil {
			return nil, err
		}

		if ts > maxColumnHLC {
			maxColumnHLC = ts
		}

		for _, c := range cols {
			w, ok := best[c.Column]
			if !ok || ts > w.hlc {
				best[c.Column] = winner{hlc: ts, value: c.Value}
			}
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dbadapter: iterate row history: %w", err)
	}

	if !seenAny {
		return nil, fmt.Errorf("dbadapter: %w", ErrRowNotFound)
	}

	if hasDelete && maxDeleteHLC > maxColumnHLC {
		return nil, nil
	}

	out := make(map[string]deltamodel.ColumnValue, len(best))
	for col, w := range best {
		out[col] = w.value
	}

	return out, nil
}

// DB returns the underlying connection so other packages sharing this
// database file (the flush queue's ledger, for one) can open their own
// statements against it without a second sql.Open.
func (a *SQLiteAdapter) DB() *sql.DB {
	return a.db
}

func (a *SQLiteAdapter) Close() error {
	var errs []error

	for _, stmt := range []*sql.Stmt{a.deltaStmts.insert, a.deltaStmts.sinceAll, a.deltaStmts.rowHistory, a.schemaStmts.upsert} {
		if stmt == nil {
			continue
		}

		if err := stmt.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if err := a.db.Close(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func scanDeltaRows(rows *sql.Rows, wanted map[string]struct{}) ([]deltamodel.RowDelta, error) {
	var out []deltamodel.RowDelta

	for rows.Next() {
		var (
			deltaID, op, tableName, rowID, clientID string
			rawHLC                                  uint64
			columnsJSON                             []byte
		)

		if err := rows.Scan(&deltaID, &op, &tableName, &rowID, &clientID, &rawHLC, &columnsJSON); err != nil {
			return nil, fmt.Errorf("dbadapter: scan delta row: %w", err)
		}

		if len(wanted) > 0 {
			if _, ok := wanted[tableName]; !ok {
				continue
			}
		}

		cols, err := decodeColumns(columnsJSON)
		if err != nil {
			return nil, err
		}

		out = append(out, deltamodel.RowDelta{
			DeltaID:  deltaID,
			Op:       deltamodel.Op(op),
			Table:    tableName,
			RowID:    rowID,
			ClientID: clientID,
			HLC:      hlc.Timestamp(rawHLC),
			Columns:  cols,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dbadapter: iterate delta rows: %w", err)
	}

	return out, nil
}

func tableSet(tables []string) map[string]struct{} {
	if len(tables) == 0 {
		return nil
	}

	out := make(map[string]struct{}, len(tables))
	for _, t := range tables {
		out[strings.TrimSpace(t)] = struct{}{}
	}

	return out
}
