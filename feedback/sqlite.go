package feedback

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	mm "github.com/aks129/FhirMapMaster"
)

const schema = `
CREATE TABLE IF NOT EXISTS feedback_log (
	seq           INTEGER PRIMARY KEY AUTOINCREMENT,
	id            TEXT NOT NULL UNIQUE,
	fingerprint   TEXT NOT NULL,
	resource      TEXT NOT NULL,
	field         TEXT NOT NULL,
	target_path   TEXT NOT NULL,
	chosen_path   TEXT,
	origin_kind   TEXT NOT NULL,
	origin_source TEXT NOT NULL,
	decision      TEXT NOT NULL,
	reason        TEXT,
	created_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS feedback_log_field ON feedback_log (resource, field);
`

// SQLiteStore persists the feedback log in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and runs migrations.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open db: %w", mm.ErrStorage, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: pragma: %w", mm.ErrStorage, err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: pragma busy_timeout: %w", mm.ErrStorage, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate: %w", mm.ErrStorage, err)
	}
	return &SQLiteStore{db: db}, nil
}

// Append inserts rec at the end of the log.
func (s *SQLiteStore) Append(ctx context.Context, rec Record) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO feedback_log
		 (id, fingerprint, resource, field, target_path, chosen_path,
		  origin_kind, origin_source, decision, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		rec.ID, rec.Fingerprint, rec.Resource, rec.Field, rec.TargetPath, nullable(rec.ChosenPath),
		string(rec.Origin.Kind), rec.Origin.Source, string(rec.Decision), nullable(rec.Reason),
		rec.At.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("%w: insert feedback: %w", mm.ErrStorage, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: insert feedback: %w", mm.ErrStorage, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrDuplicate, rec.ID)
	}
	return nil
}

// Records returns the log in append order.
func (s *SQLiteStore) Records(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, fingerprint, resource, field, target_path, chosen_path,
		        origin_kind, origin_source, decision, reason, created_at
		 FROM feedback_log ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("%w: query feedback: %w", mm.ErrStorage, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec            Record
			chosen, reason sql.NullString
			kind, decision string
			createdAt      string
		)
		if err := rows.Scan(&rec.ID, &rec.Fingerprint, &rec.Resource, &rec.Field, &rec.TargetPath, &chosen,
			&kind, &rec.Origin.Source, &decision, &reason, &createdAt); err != nil {
			return nil, fmt.Errorf("%w: scan feedback: %w", mm.ErrStorage, err)
		}
		rec.ChosenPath = chosen.String
		rec.Reason = reason.String
		rec.Origin.Kind = mm.OriginKind(kind)
		rec.Decision = Decision(decision)
		rec.At, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("%w: parse created_at %q: %w", mm.ErrStorage, createdAt, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate feedback: %w", mm.ErrStorage, err)
	}
	return out, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
