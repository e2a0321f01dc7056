package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"weldvault/api/internal/record"
)

// Postgres implements record.Backend over a single records table keyed by
// (collection, id). Payload fields live in a JSONB column so every
// collection shares one schema; parent/child relations are foreign-key
// fields inside the payload.
type Postgres struct {
	db     *sql.DB
	limits record.Limits
}

func NewPostgres(db *sql.DB, limits record.Limits) *Postgres {
	if limits.MaxBatchOps <= 0 {
		limits.MaxBatchOps = 500
	}
	if limits.MaxInValues <= 0 {
		limits.MaxInValues = 30
	}
	return &Postgres{db: db, limits: limits}
}

func (s *Postgres) DB() *sql.DB {
	return s.db
}

func (s *Postgres) Limits() record.Limits {
	return s.limits
}

const recordColumns = `
	id, status, data,
	created_at, created_by, updated_at, updated_by,
	deleted_at, COALESCE(deleted_by, ''),
	archived_at, COALESCE(archived_by, ''),
	restored_at, COALESCE(restored_by, '')
`

func (s *Postgres) Get(ctx context.Context, collection, id string) (record.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM records
		WHERE collection=$1 AND id=$2
	`, collection, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return record.Record{}, record.ErrNotFound
	}
	if err != nil {
		return record.Record{}, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

func (s *Postgres) FetchOnce(ctx context.Context, collection string, filters []record.Filter) ([]record.Record, error) {
	where, args, err := buildWhere(collection, filters, s.limits.MaxInValues)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM records
		`+where+`
		ORDER BY created_at ASC, id ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	items := make([]record.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		items = append(items, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return items, nil
}

func (s *Postgres) Insert(ctx context.Context, collection string, rec record.Record) error {
	return execInsert(ctx, s.db, collection, rec)
}

func (s *Postgres) ApplyPatch(ctx context.Context, collection, id string, fields map[string]any, stamp record.Stamp) error {
	return execPatch(ctx, s.db, collection, id, fields, stamp)
}

func (s *Postgres) SetStatus(ctx context.Context, collection, id string, status record.Status, stamp record.Stamp) error {
	return execSetStatus(ctx, s.db, collection, id, status, stamp)
}

func (s *Postgres) Remove(ctx context.Context, collection, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE collection=$1 AND id=$2`, collection, id); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

// execer covers *sql.DB and *sql.Tx so the same statements serve single
// writes and batch commits.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func execInsert(ctx context.Context, db execer, collection string, rec record.Record) error {
	payload, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("marshal record payload: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO records (collection, id, status, data, created_at, created_by, updated_at, updated_by)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7, $8)
		ON CONFLICT (collection, id) DO UPDATE SET
			status=EXCLUDED.status,
			data=EXCLUDED.data,
			updated_at=EXCLUDED.updated_at,
			updated_by=EXCLUDED.updated_by
	`, collection, rec.ID, string(rec.Status), string(payload), rec.CreatedAt, rec.CreatedBy, rec.UpdatedAt, rec.UpdatedBy)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

func execPatch(ctx context.Context, db execer, collection, id string, fields map[string]any, stamp record.Stamp) error {
	patch, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal record patch: %w", err)
	}
	result, err := db.ExecContext(ctx, `
		UPDATE records
		SET data = data || $3::jsonb, updated_at=$4, updated_by=$5
		WHERE collection=$1 AND id=$2
	`, collection, id, string(patch), stamp.At, stamp.By)
	if err != nil {
		return fmt.Errorf("patch record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("patch record rows: %w", err)
	}
	if affected == 0 {
		return record.ErrNotFound
	}
	return nil
}

func execSetStatus(ctx context.Context, db execer, collection, id string, status record.Status, stamp record.Stamp) error {
	var query string
	switch status {
	case record.StatusDeleted:
		query = `
			UPDATE records
			SET status='deleted', updated_at=$3, updated_by=$4, deleted_at=$3, deleted_by=$4
			WHERE collection=$1 AND id=$2
		`
	case record.StatusArchived:
		query = `
			UPDATE records
			SET status='archived', updated_at=$3, updated_by=$4, archived_at=$3, archived_by=$4
			WHERE collection=$1 AND id=$2
		`
	case record.StatusActive:
		query = `
			UPDATE records
			SET status='active', updated_at=$3, updated_by=$4, restored_at=$3, restored_by=$4
			WHERE collection=$1 AND id=$2
		`
	default:
		return fmt.Errorf("%w: unknown status %q", record.ErrInvalidInput, status)
	}
	result, err := db.ExecContext(ctx, query, collection, id, stamp.At, stamp.By)
	if err != nil {
		return fmt.Errorf("set record status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set record status rows: %w", err)
	}
	if affected == 0 {
		return record.ErrNotFound
	}
	return nil
}

func buildWhere(collection string, filters []record.Filter, maxIn int) (string, []any, error) {
	clauses := []string{"collection=$1"}
	args := []any{collection}
	for _, filter := range filters {
		switch filter.Op {
		case record.OpEqual:
			if filter.Field == "status" {
				args = append(args, fmt.Sprint(filter.Value))
				clauses = append(clauses, fmt.Sprintf("status=$%d", len(args)))
			} else {
				args = append(args, filter.Field, fmt.Sprint(filter.Value))
				clauses = append(clauses, fmt.Sprintf("data->>$%d = $%d", len(args)-1, len(args)))
			}
		case record.OpNotEqual:
			if filter.Field == "status" {
				args = append(args, fmt.Sprint(filter.Value))
				clauses = append(clauses, fmt.Sprintf("status<>$%d", len(args)))
			} else {
				args = append(args, filter.Field, fmt.Sprint(filter.Value))
				clauses = append(clauses, fmt.Sprintf("data->>$%d IS DISTINCT FROM $%d", len(args)-1, len(args)))
			}
		case record.OpIn:
			values, ok := filter.Value.([]string)
			if !ok {
				return "", nil, fmt.Errorf("%w: in-set filter on %q needs string values", record.ErrInvalidInput, filter.Field)
			}
			if maxIn > 0 && len(values) > maxIn {
				return "", nil, fmt.Errorf("%w: in-set filter on %q exceeds %d values", record.ErrInvalidInput, filter.Field, maxIn)
			}
			if filter.Field == "status" {
				args = append(args, values)
				clauses = append(clauses, fmt.Sprintf("status = ANY($%d)", len(args)))
			} else {
				args = append(args, filter.Field, values)
				clauses = append(clauses, fmt.Sprintf("data->>$%d = ANY($%d)", len(args)-1, len(args)))
			}
		default:
			return "", nil, fmt.Errorf("%w: unsupported filter op %q", record.ErrInvalidInput, filter.Op)
		}
	}
	where := "WHERE " + clauses[0]
	for _, clause := range clauses[1:] {
		where += " AND " + clause
	}
	return where, args, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (record.Record, error) {
	var rec record.Record
	var status string
	var payload []byte
	var deletedAt, archivedAt, restoredAt sql.NullTime
	if err := row.Scan(
		&rec.ID,
		&status,
		&payload,
		&rec.CreatedAt,
		&rec.CreatedBy,
		&rec.UpdatedAt,
		&rec.UpdatedBy,
		&deletedAt,
		&rec.DeletedBy,
		&archivedAt,
		&rec.ArchivedBy,
		&restoredAt,
		&rec.RestoredBy,
	); err != nil {
		return record.Record{}, err
	}
	rec.Status = record.Status(status)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &rec.Fields); err != nil {
			return record.Record{}, fmt.Errorf("unmarshal record payload: %w", err)
		}
	}
	if deletedAt.Valid {
		rec.DeletedAt = &deletedAt.Time
	}
	if archivedAt.Valid {
		rec.ArchivedAt = &archivedAt.Time
	}
	if restoredAt.Valid {
		rec.RestoredAt = &restoredAt.Time
	}
	return rec, nil
}

type batchOp struct {
	apply func(ctx context.Context, tx *sql.Tx) error
}

// pgBatch applies its ops inside one transaction: all or nothing per batch.
type pgBatch struct {
	store *Postgres
	ops   []batchOp
	done  bool
}

func (s *Postgres) NewBatch() record.Batch {
	return &pgBatch{store: s}
}

func (b *pgBatch) Set(collection string, rec record.Record) {
	b.ops = append(b.ops, batchOp{apply: func(ctx context.Context, tx *sql.Tx) error {
		return execInsert(ctx, tx, collection, rec)
	}})
}

func (b *pgBatch) SetStatus(collection, id string, status record.Status, stamp record.Stamp) {
	b.ops = append(b.ops, batchOp{apply: func(ctx context.Context, tx *sql.Tx) error {
		err := execSetStatus(ctx, tx, collection, id, status, stamp)
		if errors.Is(err, record.ErrNotFound) {
			// A vanished record does not fail the batch; the mark is moot.
			return nil
		}
		return err
	}})
}

func (b *pgBatch) Delete(collection, id string) {
	b.ops = append(b.ops, batchOp{apply: func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM records WHERE collection=$1 AND id=$2`, collection, id)
		if err != nil {
			return fmt.Errorf("delete record: %w", err)
		}
		return nil
	}})
}

func (b *pgBatch) Len() int {
	return len(b.ops)
}

func (b *pgBatch) Commit(ctx context.Context) error {
	if b.done {
		return fmt.Errorf("batch already committed")
	}
	b.done = true
	if len(b.ops) > b.store.limits.MaxBatchOps {
		return fmt.Errorf("batch of %d ops exceeds limit %d", len(b.ops), b.store.limits.MaxBatchOps)
	}

	tx, err := b.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch tx: %w", err)
	}
	for _, op := range b.ops {
		if err := op.apply(ctx, tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply batch op: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// Ping verifies the database connection is alive.
func (s *Postgres) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}
