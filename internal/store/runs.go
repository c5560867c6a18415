// Package store archives frozen reproducibility records in a SQL database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/agenthands/genefuse/internal/core/common"
	"github.com/agenthands/genefuse/internal/core/model"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver
)

var ErrNotFound = errors.New("run not found")

type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

func (d Dialect) driverName() string {
	if d == Postgres {
		return "pgx"
	}
	return "sqlite"
}

// timeLayout sorts lexicographically in UTC.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `CREATE TABLE IF NOT EXISTS runs (
	run_id TEXT PRIMARY KEY,
	method TEXT NOT NULL,
	status TEXT NOT NULL,
	gene_set_source TEXT NOT NULL,
	created_at TEXT NOT NULL,
	payload TEXT NOT NULL
)`

type RunSummary struct {
	RunID         string          `json:"run_id"`
	Method        string          `json:"method"`
	Status        model.RunStatus `json:"status"`
	GeneSetSource string          `json:"gene_set_source"`
	CreatedAt     time.Time       `json:"created_at"`
}

// RunStore keeps one row per run keyed by run id. Saving an existing id
// replaces the row.
type RunStore struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

// Open connects to dsn. For sqlite the dsn is a file path (":memory:" keeps
// the database in process); for postgres it is a connection string.
func Open(ctx context.Context, dialect Dialect, dsn string, logger *slog.Logger) (*RunStore, error) {
	switch dialect {
	case SQLite:
		if dsn == "" {
			dsn = "runs.db"
		}
		if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
				return nil, fmt.Errorf("create dirs: %w", err)
			}
		}
	case Postgres:
		if dsn == "" {
			return nil, fmt.Errorf("postgres archive requires a dsn")
		}
	default:
		return nil, fmt.Errorf("unsupported archive dialect %q", dialect)
	}

	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect == SQLite {
		// A single connection keeps ":memory:" databases shared.
		db.SetMaxOpenConns(1)
	}
	s, err := New(ctx, db, dialect, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database and creates the runs table if needed.
func New(ctx context.Context, db *sql.DB, dialect Dialect, logger *slog.Logger) (*RunStore, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("create runs table: %w", err)
	}
	return &RunStore{db: db, dialect: dialect, logger: common.Component(logger, "run_store")}, nil
}

func (s *RunStore) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *RunStore) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *RunStore) SaveRun(ctx context.Context, meta model.PipelineMetadata) error {
	if meta.RunID == "" {
		return fmt.Errorf("save run: empty run id")
	}
	payload, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode run %s: %w", meta.RunID, err)
	}
	q := s.rebind(`INSERT INTO runs(run_id, method, status, gene_set_source, created_at, payload)
		VALUES(?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET method=EXCLUDED.method, status=EXCLUDED.status,
		gene_set_source=EXCLUDED.gene_set_source, created_at=EXCLUDED.created_at, payload=EXCLUDED.payload`)
	_, err = s.db.ExecContext(ctx, q, meta.RunID, meta.Method, string(meta.Status), meta.GeneSetSource,
		meta.Timestamp.UTC().Format(timeLayout), string(payload))
	if err != nil {
		return fmt.Errorf("save run %s: %w", meta.RunID, err)
	}
	s.logger.Debug("archived run", slog.String("run_id", meta.RunID), slog.String("status", string(meta.Status)))
	return nil
}

func (s *RunStore) GetRun(ctx context.Context, runID string) (model.PipelineMetadata, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT payload FROM runs WHERE run_id = ?`), runID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return model.PipelineMetadata{}, ErrNotFound
	}
	if err != nil {
		return model.PipelineMetadata{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	var meta model.PipelineMetadata
	if err := json.Unmarshal([]byte(payload), &meta); err != nil {
		return model.PipelineMetadata{}, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return meta, nil
}

// ListRuns returns the newest runs first. limit <= 0 returns every run.
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	q := `SELECT run_id, method, status, gene_set_source, created_at FROM runs ORDER BY created_at DESC, run_id`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []RunSummary{}
	for rows.Next() {
		var (
			r       RunSummary
			status  string
			created string
		)
		if err := rows.Scan(&r.RunID, &r.Method, &status, &r.GeneSetSource, &created); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Status = model.RunStatus(status)
		if r.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return nil, fmt.Errorf("parse created_at for %s: %w", r.RunID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
