// Package history archives completed discovery scans in a local SQLite
// database so past runs stay inspectable across restarts.
package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/ElZetto/espisy/internal/model"
)

//go:embed schema.sql
var schemaFS embed.FS

// ErrScanNotFound is returned when no archived scan matches an ID.
var ErrScanNotFound = errors.New("scan not found")

// Store archives scan reports. Safe for concurrent use; the pool is capped
// at one connection, which is how SQLite likes its writers.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens the history database under dataDir.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(dataDir, "history.db")
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to history database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, path: dbPath}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("reading schema: %w", err)
	}
	_, err = s.db.Exec(string(schema))
	return err
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordScan archives a completed report with its per-host outcomes.
func (s *Store) RecordScan(ctx context.Context, report *model.ScanReport) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO scans (id, network, started_at, completed_at, probed, found, added, skipped)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, report.ID, report.Network, report.StartedAt, report.CompletedAt,
		report.Probed, report.Found, report.Added, report.Skipped)
	if err != nil {
		return fmt.Errorf("inserting scan: %w", err)
	}

	for _, h := range report.Hosts {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO scan_hosts (scan_id, address, name, outcome)
			VALUES (?, ?, ?, ?)
		`, report.ID, h.Address, h.Name, h.Outcome)
		if err != nil {
			return fmt.Errorf("inserting scan host: %w", err)
		}
	}

	return tx.Commit()
}

// ListScans returns archived scans, newest first, without host details.
func (s *Store) ListScans(ctx context.Context, limit int) ([]model.ScanReport, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, network, started_at, completed_at, probed, found, added, skipped
		FROM scans
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying scans: %w", err)
	}
	defer rows.Close()

	scans := make([]model.ScanReport, 0, limit)
	for rows.Next() {
		var r model.ScanReport
		if err := rows.Scan(&r.ID, &r.Network, &r.StartedAt, &r.CompletedAt,
			&r.Probed, &r.Found, &r.Added, &r.Skipped); err != nil {
			return nil, fmt.Errorf("scanning scan row: %w", err)
		}
		scans = append(scans, r)
	}
	return scans, rows.Err()
}

// GetScan returns one archived report including host outcomes.
func (s *Store) GetScan(ctx context.Context, id string) (*model.ScanReport, error) {
	var r model.ScanReport
	err := s.db.QueryRowContext(ctx, `
		SELECT id, network, started_at, completed_at, probed, found, added, skipped
		FROM scans
		WHERE id = ?
	`, id).Scan(&r.ID, &r.Network, &r.StartedAt, &r.CompletedAt,
		&r.Probed, &r.Found, &r.Added, &r.Skipped)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%q: %w", id, ErrScanNotFound)
		}
		return nil, fmt.Errorf("querying scan: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT address, name, outcome
		FROM scan_hosts
		WHERE scan_id = ?
		ORDER BY address
	`, id)
	if err != nil {
		return nil, fmt.Errorf("querying scan hosts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var h model.HostResult
		if err := rows.Scan(&h.Address, &h.Name, &h.Outcome); err != nil {
			return nil, fmt.Errorf("scanning host row: %w", err)
		}
		r.Hosts = append(r.Hosts, h)
	}
	return &r, rows.Err()
}

// Prune deletes scans older than the newest keep entries and returns how
// many were removed. Host rows go with them via the cascade.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM scans
		WHERE id NOT IN (
			SELECT id FROM scans ORDER BY started_at DESC, id DESC LIMIT ?
		)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("pruning scans: %w", err)
	}
	return res.RowsAffected()
}
