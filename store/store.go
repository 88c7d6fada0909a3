// Package store persists analysis runs in a SQL database. The sqlite driver
// is always available; duckdb is compiled in with the duckdb build tag.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/dexflow/analysis"
)

var log = commonlog.GetLogger("dexflow.store")

// ErrUnknownRun is returned when a run ID has no rows.
var ErrUnknownRun = errors.New("unknown run")

// ErrNoMethod is returned when a run has no summary for a method.
var ErrNoMethod = errors.New("method not in run")

var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id      TEXT PRIMARY KEY,
		module  TEXT NOT NULL,
		created BIGINT NOT NULL,
		methods INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS methods (
		run     TEXT NOT NULL,
		method  TEXT NOT NULL,
		length  INTEGER NOT NULL,
		summary BLOB NOT NULL,
		PRIMARY KEY (run, method)
	)`,
	`CREATE TABLE IF NOT EXISTS blocks (
		run       TEXT NOT NULL,
		method    TEXT NOT NULL,
		start_off INTEGER NOT NULL,
		end_off   INTEGER NOT NULL,
		insns     INTEGER NOT NULL,
		region    INTEGER NOT NULL,
		PRIMARY KEY (run, method, start_off)
	)`,
	`CREATE TABLE IF NOT EXISTS edges (
		run    TEXT NOT NULL,
		method TEXT NOT NULL,
		site   INTEGER NOT NULL,
		target INTEGER NOT NULL,
		src    INTEGER NOT NULL,
		dst    INTEGER NOT NULL
	)`,
}

// Store is an open analysis database.
type Store struct {
	db     *sql.DB
	driver string
}

// Run describes one saved registration.
type Run struct {
	ID      string
	Module  string
	Created time.Time
	Methods int
}

// Block is one stored basic block.
type Block struct {
	Start        int
	End          int
	Instructions int
	Region       int // -1 when unprotected
}

// Edge is one stored successor edge; From and To are block start offsets.
type Edge struct {
	Site   int
	Target int
	From   int
	To     int
}

// Open connects to a database. driver is "sqlite" or "duckdb"; an empty
// dsn opens an in-memory database.
func Open(driver, dsn string) (*Store, error) {
	if !slices.Contains(sql.Drivers(), driver) {
		return nil, fmt.Errorf("store: driver %q not available (duckdb needs -tags duckdb)", driver)
	}
	if dsn == "" && driver == "sqlite" {
		dsn = ":memory:"
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", driver, err)
	}
	if driver == "sqlite" {
		// in-memory sqlite databases are per connection
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: open %s: %w", driver, err)
	}
	log.Debugf("opened %s store %q", driver, dsn)
	return &Store{db: db, driver: driver}, nil
}

// Driver returns the database driver name.
func (s *Store) Driver() string { return s.driver }

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates missing tables.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

// SaveRun stores the summaries of one module registration under a new run
// ID and returns it.
func (s *Store) SaveRun(ctx context.Context, module string, summaries []*analysis.Summary) (string, error) {
	id := uuid.New().String()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO runs (id, module, created, methods) VALUES (?, ?, ?, ?)",
		id, module, time.Now().UnixNano(), len(summaries)); err != nil {
		return "", fmt.Errorf("store: save run: %w", err)
	}

	for _, sum := range summaries {
		blob, err := analysis.MarshalSummary(sum)
		if err != nil {
			return "", fmt.Errorf("store: %s: %w", sum.Method, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO methods (run, method, length, summary) VALUES (?, ?, ?, ?)",
			id, sum.Method, sum.Length, blob); err != nil {
			return "", fmt.Errorf("store: %s: %w", sum.Method, err)
		}
		for _, b := range sum.Blocks {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO blocks (run, method, start_off, end_off, insns, region) VALUES (?, ?, ?, ?, ?, ?)",
				id, sum.Method, b.Start, b.End, b.Instructions, b.Region); err != nil {
				return "", fmt.Errorf("store: %s block 0x%x: %w", sum.Method, b.Start, err)
			}
			for _, e := range b.Successors {
				if _, err := tx.ExecContext(ctx,
					"INSERT INTO edges (run, method, site, target, src, dst) VALUES (?, ?, ?, ?, ?, ?)",
					id, sum.Method, e.Site, e.Target, b.Start, e.Block); err != nil {
					return "", fmt.Errorf("store: %s edge 0x%x: %w", sum.Method, e.Site, err)
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("store: commit: %w", err)
	}
	log.Infof("saved run %s for %s: %d methods", id, module, len(summaries))
	return id, nil
}

// Runs lists saved runs, newest first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, module, created, methods FROM runs ORDER BY created DESC, id")
	if err != nil {
		return nil, fmt.Errorf("store: runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var created int64
		if err := rows.Scan(&r.ID, &r.Module, &created, &r.Methods); err != nil {
			return nil, fmt.Errorf("store: runs: %w", err)
		}
		r.Created = time.Unix(0, created)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Methods lists the method signatures saved in a run.
func (s *Store) Methods(ctx context.Context, runID string) ([]string, error) {
	if err := s.checkRun(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, "SELECT method FROM methods WHERE run = ? ORDER BY method", runID)
	if err != nil {
		return nil, fmt.Errorf("store: methods: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("store: methods: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Summary loads the full summary of one method in a run.
func (s *Store) Summary(ctx context.Context, runID, method string) (*analysis.Summary, error) {
	if err := s.checkRun(ctx, runID); err != nil {
		return nil, err
	}
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT summary FROM methods WHERE run = ? AND method = ?", runID, method).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNoMethod, method)
	}
	if err != nil {
		return nil, fmt.Errorf("store: summary: %w", err)
	}
	return analysis.UnmarshalSummary(blob)
}

// Blocks returns the blocks of one method in a run, in offset order.
func (s *Store) Blocks(ctx context.Context, runID, method string) ([]Block, error) {
	if err := s.checkRun(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT start_off, end_off, insns, region FROM blocks WHERE run = ? AND method = ? ORDER BY start_off",
		runID, method)
	if err != nil {
		return nil, fmt.Errorf("store: blocks: %w", err)
	}
	defer rows.Close()

	var out []Block
	for rows.Next() {
		var b Block
		if err := rows.Scan(&b.Start, &b.End, &b.Instructions, &b.Region); err != nil {
			return nil, fmt.Errorf("store: blocks: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Edges returns the successor edges of one method in a run, ordered by
// source block then site.
func (s *Store) Edges(ctx context.Context, runID, method string) ([]Edge, error) {
	if err := s.checkRun(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT site, target, src, dst FROM edges WHERE run = ? AND method = ? ORDER BY src, site, target",
		runID, method)
	if err != nil {
		return nil, fmt.Errorf("store: edges: %w", err)
	}
	defer rows.Close()

	var out []Edge
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.Site, &e.Target, &e.From, &e.To); err != nil {
			return nil, fmt.Errorf("store: edges: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) checkRun(ctx context.Context, runID string) error {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs WHERE id = ?", runID).Scan(&n); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	return nil
}
