package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/jnkforks/CallRecorder/internal/callstate"
)

// PostgresPoolConfig controls database/sql pool behavior.
type PostgresPoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

func (c PostgresPoolConfig) withDefaults() PostgresPoolConfig {
	out := c
	if out.MaxOpenConns <= 0 {
		out.MaxOpenConns = 10
	}
	if out.MaxIdleConns <= 0 {
		out.MaxIdleConns = 10
	}
	if out.ConnMaxLifetime <= 0 {
		out.ConnMaxLifetime = 30 * time.Minute
	}
	if out.ConnMaxIdleTime <= 0 {
		out.ConnMaxIdleTime = 5 * time.Minute
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 5 * time.Second
	}
	return out
}

// PostgresRepo stores recordings in PostgreSQL through the pgx stdlib driver.
type PostgresRepo struct {
	db *sql.DB
}

// OpenPostgres connects, pings and creates the schema if needed.
// dsn must not be logged; it contains secrets.
func OpenPostgres(ctx context.Context, dsn string, pool PostgresPoolConfig) (*PostgresRepo, error) {
	pool = pool.withDefaults()

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, pool.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping failed: %w", err)
	}

	repo := &PostgresRepo{db: db}
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS recordings (
	id               BIGSERIAL PRIMARY KEY,
	name             TEXT        NOT NULL,
	number           TEXT        NOT NULL,
	start_instant    TIMESTAMPTZ NOT NULL,
	duration_ms      BIGINT      NOT NULL DEFAULT 0,
	direction        TEXT        NOT NULL,
	save_path        TEXT        NOT NULL,
	save_format      TEXT        NOT NULL,
	is_starred       BOOLEAN     NOT NULL DEFAULT FALSE,
	skip_auto_delete BOOLEAN     NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS recordings_start_instant_idx ON recordings (start_instant);
CREATE INDEX IF NOT EXISTS recordings_number_idx ON recordings (number);
`

// EnsureSchema creates the recordings table.
func (r *PostgresRepo) EnsureSchema(ctx context.Context) error {
	return WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, schema); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
		return nil
	})
}

// TxFunc is the unit of work executed inside a transaction.
type TxFunc func(ctx context.Context, tx *sql.Tx) error

// WithTx runs fn inside a transaction.
// - If fn returns error: tx is rolled back and the error is returned.
// - If fn panics: tx is rolled back and the panic is re-thrown.
// - If commit fails: commit error is returned.
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn TxFunc) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(ctx, tx)
	return err
}

const selectColumns = `id, name, number, start_instant, duration_ms, direction, save_path, save_format, is_starred, skip_auto_delete`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecording(s rowScanner) (Recording, error) {
	var (
		rec        Recording
		durationMs int64
		direction  string
	)
	if err := s.Scan(
		&rec.ID,
		&rec.Name,
		&rec.Number,
		&rec.StartInstant,
		&durationMs,
		&direction,
		&rec.SavePath,
		&rec.SaveFormat,
		&rec.IsStarred,
		&rec.SkipAutoDelete,
	); err != nil {
		return Recording{}, err
	}
	rec.Duration = time.Duration(durationMs) * time.Millisecond
	rec.Direction = callstate.Direction(direction)
	return rec, nil
}

func (r *PostgresRepo) Insert(ctx context.Context, rec Recording) (Recording, error) {
	const q = `
INSERT INTO recordings (name, number, start_instant, duration_ms, direction, save_path, save_format, is_starred, skip_auto_delete)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id
`
	if err := r.db.QueryRowContext(ctx, q,
		rec.Name,
		rec.Number,
		rec.StartInstant,
		rec.Duration.Milliseconds(),
		string(rec.Direction),
		rec.SavePath,
		rec.SaveFormat,
		rec.IsStarred,
		rec.SkipAutoDelete,
	).Scan(&rec.ID); err != nil {
		return Recording{}, fmt.Errorf("failed to insert recording: %w", err)
	}
	return rec, nil
}

func (r *PostgresRepo) Get(ctx context.Context, id int64) (Recording, error) {
	q := `SELECT ` + selectColumns + ` FROM recordings WHERE id = $1`
	rec, err := scanRecording(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Recording{}, ErrNotFound
		}
		return Recording{}, err
	}
	return rec, nil
}

func (r *PostgresRepo) query(ctx context.Context, q string, args ...any) ([]Recording, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Recording, 0)
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) List(ctx context.Context) ([]Recording, error) {
	return r.query(ctx, `SELECT `+selectColumns+` FROM recordings ORDER BY start_instant DESC, id DESC`)
}

func (r *PostgresRepo) exec(ctx context.Context, q string, args ...any) (int64, error) {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *PostgresRepo) updateOne(ctx context.Context, q string, args ...any) error {
	n, err := r.exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) UpdateDuration(ctx context.Context, id int64, d time.Duration) error {
	return r.updateOne(ctx, `UPDATE recordings SET duration_ms = $1 WHERE id = $2`, d.Milliseconds(), id)
}

func (r *PostgresRepo) UpdateContactNames(ctx context.Context, names map[string]string) (int64, error) {
	var total int64
	err := WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		for number, name := range names {
			res, err := tx.ExecContext(ctx, `UPDATE recordings SET name = $1 WHERE number = $2`, name, number)
			if err != nil {
				return fmt.Errorf("failed to update name for %s: %w", number, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (r *PostgresRepo) ToggleStar(ctx context.Context, ids []int64) error {
	_, err := r.exec(ctx, `UPDATE recordings SET is_starred = NOT is_starred WHERE id = ANY($1)`, ids)
	return err
}

func (r *PostgresRepo) ToggleSkipAutoDelete(ctx context.Context, ids []int64) error {
	_, err := r.exec(ctx, `UPDATE recordings SET skip_auto_delete = NOT skip_auto_delete WHERE id = ANY($1)`, ids)
	return err
}

func (r *PostgresRepo) Delete(ctx context.Context, ids []int64) error {
	_, err := r.exec(ctx, `DELETE FROM recordings WHERE id = ANY($1)`, ids)
	return err
}

func (r *PostgresRepo) ListExpired(ctx context.Context, before time.Time) ([]Recording, error) {
	return r.query(ctx,
		`SELECT `+selectColumns+` FROM recordings WHERE skip_auto_delete = FALSE AND start_instant < $1 ORDER BY start_instant`,
		before)
}

func (r *PostgresRepo) Close() error {
	return r.db.Close()
}
