// Package journal keeps a PostgreSQL record of every fetch-all the sync
// service performs: when it ran, how long it took, what it loaded and how it
// ended.
package journal

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hms/hms-sync/internal/platform/db"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrations returns the journal schema files, rooted so db.Migrator can read
// them directly.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Run is one recorded fetch-all.
type Run struct {
	ID           uuid.UUID `json:"id"`
	Sequence     uint64    `json:"sequence"`
	StartedAt    time.Time `json:"started_at"`
	DurationMS   int64     `json:"duration_ms"`
	Doctors      int       `json:"doctors"`
	Patients     int       `json:"patients"`
	Appointments int       `json:"appointments"`
	Unresolved   int       `json:"unresolved"`
	Superseded   bool      `json:"superseded"`
	Error        string    `json:"error,omitempty"`
}

// Failed reports whether the run ended with an error.
func (r *Run) Failed() bool {
	return r.Error != ""
}

const (
	DefaultRecentLimit = 20
	MaxRecentLimit     = 500
)

type Journal struct {
	conn db.Conn
}

func New(conn db.Conn) *Journal {
	return &Journal{conn: conn}
}

// Migrate applies the journal schema.
func (j *Journal) Migrate(ctx context.Context) (int, error) {
	return db.NewMigrator(j.conn, Migrations()).Up(ctx)
}

const runCols = `id, sequence, started_at, duration_ms, doctors, patients,
	appointments, unresolved, superseded, error`

// Record inserts r, assigning an ID when it has none.
func (j *Journal) Record(ctx context.Context, r *Run) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	_, err := j.conn.Exec(ctx, `
		INSERT INTO sync_runs (`+runCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		r.ID, int64(r.Sequence), r.StartedAt, r.DurationMS, r.Doctors, r.Patients,
		r.Appointments, r.Unresolved, r.Superseded, r.Error)
	if err != nil {
		return fmt.Errorf("record sync run: %w", err)
	}
	return nil
}

func scanRun(row pgx.Row) (*Run, error) {
	var r Run
	var seq int64
	err := row.Scan(&r.ID, &seq, &r.StartedAt, &r.DurationMS, &r.Doctors, &r.Patients,
		&r.Appointments, &r.Unresolved, &r.Superseded, &r.Error)
	r.Sequence = uint64(seq)
	return &r, err
}

// Recent returns up to limit runs, newest first. limit is clamped to
// [1, MaxRecentLimit]; zero or less means DefaultRecentLimit.
func (j *Journal) Recent(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		limit = MaxRecentLimit
	}
	rows, err := j.conn.Query(ctx, `SELECT `+runCols+` FROM sync_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sync runs: %w", err)
	}
	defer rows.Close()

	runs := make([]*Run, 0, limit)
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sync runs: %w", err)
	}
	return runs, nil
}

// Prune deletes runs that started before the cutoff and returns how many were
// removed.
func (j *Journal) Prune(ctx context.Context, before time.Time) (int64, error) {
	tag, err := j.conn.Exec(ctx, `DELETE FROM sync_runs WHERE started_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("prune sync runs: %w", err)
	}
	return tag.RowsAffected(), nil
}
