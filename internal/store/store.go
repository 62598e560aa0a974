// Package store persists the container ID last started for each
// (user, repository) pair so it survives host restarts.
//
// Two backends share one schema: an embedded SQLite file (modernc.org/sqlite,
// no cgo) for single-host use and PostgreSQL (pgx) when several hosts share
// state.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DefaultPingTimeout bounds the connectivity check in OpenPostgres.
const DefaultPingTimeout = 2 * time.Second

// ErrUnknownDriver is returned by Open for an unsupported driver name.
var ErrUnknownDriver = errors.New("unknown store driver")

// Record is one stored session.
type Record struct {
	User        string
	RepoURL     string
	ContainerID string
	UpdatedAt   time.Time
}

// Store maps (user, repository URL) to a container ID.
type Store struct {
	db       *sql.DB
	postgres bool
	now      func() time.Time
}

// Open opens a store for driver ("sqlite" or "postgres"). For sqlite, dsn
// is a file path.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite:
		return OpenSQLite(dsn)
	case DriverPostgres:
		return OpenPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}

// OpenSQLite opens or creates a SQLite database at path.
func OpenSQLite(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// WAL lets status reads proceed while a start is writing.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// OpenPostgres connects to the PostgreSQL database at dsn and verifies the
// connection within DefaultPingTimeout.
func OpenPostgres(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, DefaultPingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{db: db, postgres: true, now: time.Now}, nil
}

// Init creates the schema. It is safe to call on an initialized database.
func (s *Store) Init(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS sessions (
		user_name    TEXT NOT NULL,
		repo_url     TEXT NOT NULL,
		container_id TEXT NOT NULL,
		updated_at   BIGINT NOT NULL,
		PRIMARY KEY (user_name, repo_url)
	)`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ContainerID returns the stored container ID, or "" when none is stored.
func (s *Store) ContainerID(ctx context.Context, user, repoURL string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT container_id FROM sessions WHERE user_name = ? AND repo_url = ?`),
		user, repoURL,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load container id: %w", err)
	}
	return id, nil
}

// SaveContainerID stores id for (user, repoURL), replacing any previous
// value. An empty id forgets the pair.
func (s *Store) SaveContainerID(ctx context.Context, user, repoURL, id string) error {
	if id == "" {
		return s.Forget(ctx, user, repoURL)
	}
	_, err := s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO sessions (user_name, repo_url, container_id, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_name, repo_url)
		 DO UPDATE SET container_id = excluded.container_id, updated_at = excluded.updated_at`),
		user, repoURL, id, s.now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("save container id: %w", err)
	}
	return nil
}

// Forget drops the stored container ID for (user, repoURL). Forgetting an
// unknown pair is not an error.
func (s *Store) Forget(ctx context.Context, user, repoURL string) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM sessions WHERE user_name = ? AND repo_url = ?`),
		user, repoURL,
	)
	if err != nil {
		return fmt.Errorf("forget container id: %w", err)
	}
	return nil
}

// List returns every stored record ordered by user and repository.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_name, repo_url, container_id, updated_at FROM sessions ORDER BY user_name, repo_url`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var updated int64
		if err := rows.Scan(&r.User, &r.RepoURL, &r.ContainerID, &updated); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		r.UpdatedAt = time.Unix(0, updated)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

// rebind rewrites ? placeholders to $N for PostgreSQL.
func (s *Store) rebind(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
