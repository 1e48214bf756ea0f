// Package history keeps a DuckDB log of ingestion outcomes.
package history

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/marcboeker/go-duckdb"

	"github.com/turna/console/internal/models"
)

const schema = `
	CREATE TABLE IF NOT EXISTS ingest_events (
		id          VARCHAR PRIMARY KEY,
		recorded_at TIMESTAMP NOT NULL,
		stage       VARCHAR NOT NULL,
		file_name   VARCHAR NOT NULL,
		file_size   BIGINT NOT NULL,
		file_id     VARCHAR,
		job_id      VARCHAR,
		outcome     VARCHAR NOT NULL,
		error       VARCHAR
	)
`

// Store appends ingestion events to a DuckDB file.
type Store struct {
	db     *sql.DB
	dbPath string

	// DuckDB allows one writer per process; inserts are serialized here.
	writeMu sync.Mutex
}

// Open opens or creates the history database at dbPath.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}

	connector, err := duckdb.NewConnector(dbPath, func(execer driver.ExecerContext) error {
		pragmas := []string{
			"PRAGMA threads=1",
			"PRAGMA enable_progress_bar=false",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	return &Store{db: db, dbPath: dbPath}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

// Record appends one event. Missing ids and timestamps are filled in.
func (s *Store) Record(ctx context.Context, ev models.IngestEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.RecordedAt.IsZero() {
		ev.RecordedAt = time.Now().UTC()
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingest_events (id, recorded_at, stage, file_name, file_size, file_id, job_id, outcome, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.RecordedAt, string(ev.Stage), ev.FileName, ev.FileSize,
		nullString(ev.FileID), nullString(ev.JobID), ev.Outcome, nullString(ev.Error),
	)
	if err != nil {
		return fmt.Errorf("insert ingest event: %w", err)
	}
	return nil
}

// Recent returns the latest events, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]models.IngestEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(`
		SELECT id, recorded_at, stage, file_name, file_size, file_id, job_id, outcome, error
		FROM ingest_events
		ORDER BY recorded_at DESC, id
		LIMIT %d`, limit)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query ingest events: %w", err)
	}
	defer rows.Close()

	events := make([]models.IngestEvent, 0, limit)
	for rows.Next() {
		var (
			ev                   models.IngestEvent
			stage                string
			fileID, jobID, errMs sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.RecordedAt, &stage, &ev.FileName, &ev.FileSize, &fileID, &jobID, &ev.Outcome, &errMs); err != nil {
			return nil, fmt.Errorf("scan ingest event: %w", err)
		}
		ev.Stage = models.IngestStage(stage)
		ev.FileID = fileID.String
		ev.JobID = jobID.String
		ev.Error = errMs.String
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Stats counts events per outcome.
func (s *Store) Stats(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM ingest_events GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("query ingest stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var outcome string
		var n int64
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("scan ingest stats: %w", err)
		}
		stats[outcome] = int(n)
	}
	return stats, rows.Err()
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
