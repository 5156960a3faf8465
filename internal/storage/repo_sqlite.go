package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jnkforks/CallRecorder/internal/callstate"
)

// SQLiteRepo stores recordings in an embedded SQLite file next to the
// recordings. It is the default index when no Postgres DSN is configured.
type SQLiteRepo struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens or creates the index file at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteRepo, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	db, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, err
	}
	// one writer at a time; the CLI and the server may share the file
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open index %s: %w", path, err)
	}

	repo := &SQLiteRepo{db: db, path: path}
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS recordings (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	name             TEXT    NOT NULL,
	number           TEXT    NOT NULL,
	start_unix_ns    INTEGER NOT NULL,
	duration_ms      INTEGER NOT NULL DEFAULT 0,
	direction        TEXT    NOT NULL,
	save_path        TEXT    NOT NULL,
	save_format      TEXT    NOT NULL,
	is_starred       INTEGER NOT NULL DEFAULT 0,
	skip_auto_delete INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS recordings_start_idx ON recordings (start_unix_ns);
CREATE INDEX IF NOT EXISTS recordings_number_idx ON recordings (number);
`

// EnsureSchema creates the recordings table.
func (r *SQLiteRepo) EnsureSchema(ctx context.Context) error {
	return WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, sqliteSchema); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
		return nil
	})
}

// Path returns the index file.
func (r *SQLiteRepo) Path() string { return r.path }

const sqliteColumns = `id, name, number, start_unix_ns, duration_ms, direction, save_path, save_format, is_starred, skip_auto_delete`

func scanSQLiteRecording(s rowScanner) (Recording, error) {
	var (
		rec        Recording
		startNs    int64
		durationMs int64
		direction  string
		starred    int64
		skip       int64
	)
	if err := s.Scan(
		&rec.ID,
		&rec.Name,
		&rec.Number,
		&startNs,
		&durationMs,
		&direction,
		&rec.SavePath,
		&rec.SaveFormat,
		&starred,
		&skip,
	); err != nil {
		return Recording{}, err
	}
	rec.StartInstant = time.Unix(0, startNs).UTC()
	rec.Duration = time.Duration(durationMs) * time.Millisecond
	rec.Direction = callstate.Direction(direction)
	rec.IsStarred = starred != 0
	rec.SkipAutoDelete = skip != 0
	return rec, nil
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// inClause returns "(?, ?, ...)" and the ids as arguments.
func inClause(ids []int64) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return "(" + strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ") + ")", args
}

func (r *SQLiteRepo) Insert(ctx context.Context, rec Recording) (Recording, error) {
	const q = `
INSERT INTO recordings (name, number, start_unix_ns, duration_ms, direction, save_path, save_format, is_starred, skip_auto_delete)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`
	res, err := r.db.ExecContext(ctx, q,
		rec.Name,
		rec.Number,
		rec.StartInstant.UnixNano(),
		rec.Duration.Milliseconds(),
		string(rec.Direction),
		rec.SavePath,
		rec.SaveFormat,
		boolInt(rec.IsStarred),
		boolInt(rec.SkipAutoDelete),
	)
	if err != nil {
		return Recording{}, fmt.Errorf("failed to insert recording: %w", err)
	}
	if rec.ID, err = res.LastInsertId(); err != nil {
		return Recording{}, fmt.Errorf("failed to insert recording: %w", err)
	}
	return rec, nil
}

func (r *SQLiteRepo) Get(ctx context.Context, id int64) (Recording, error) {
	rec, err := scanSQLiteRecording(r.db.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM recordings WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Recording{}, ErrNotFound
		}
		return Recording{}, err
	}
	return rec, nil
}

func (r *SQLiteRepo) query(ctx context.Context, q string, args ...any) ([]Recording, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Recording, 0)
	for rows.Next() {
		rec, err := scanSQLiteRecording(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *SQLiteRepo) List(ctx context.Context) ([]Recording, error) {
	return r.query(ctx, `SELECT `+sqliteColumns+` FROM recordings ORDER BY start_unix_ns DESC, id DESC`)
}

func (r *SQLiteRepo) exec(ctx context.Context, q string, args ...any) (int64, error) {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *SQLiteRepo) UpdateDuration(ctx context.Context, id int64, d time.Duration) error {
	n, err := r.exec(ctx, `UPDATE recordings SET duration_ms = ? WHERE id = ?`, d.Milliseconds(), id)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteRepo) UpdateContactNames(ctx context.Context, names map[string]string) (int64, error) {
	var total int64
	err := WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		for number, name := range names {
			res, err := tx.ExecContext(ctx, `UPDATE recordings SET name = ? WHERE number = ?`, name, number)
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

func (r *SQLiteRepo) ToggleStar(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	in, args := inClause(ids)
	_, err := r.exec(ctx, `UPDATE recordings SET is_starred = 1 - is_starred WHERE id IN `+in, args...)
	return err
}

func (r *SQLiteRepo) ToggleSkipAutoDelete(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	in, args := inClause(ids)
	_, err := r.exec(ctx, `UPDATE recordings SET skip_auto_delete = 1 - skip_auto_delete WHERE id IN `+in, args...)
	return err
}

func (r *SQLiteRepo) Delete(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	in, args := inClause(ids)
	_, err := r.exec(ctx, `DELETE FROM recordings WHERE id IN `+in, args...)
	return err
}

func (r *SQLiteRepo) ListExpired(ctx context.Context, before time.Time) ([]Recording, error) {
	return r.query(ctx,
		`SELECT `+sqliteColumns+` FROM recordings WHERE skip_auto_delete = 0 AND start_unix_ns < ? ORDER BY start_unix_ns`,
		before.UnixNano())
}

func (r *SQLiteRepo) Close() error {
	return r.db.Close()
}
