package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Store persists audit events to SQLite or PostgreSQL.
type Store struct {
	db         *sql.DB
	isPostgres bool       // true when connected to PostgreSQL
	lastHash   string     // hash of the last recorded event (for chain)
	hashMu     sync.Mutex // protects lastHash
}

// IsPostgres reports whether the store is backed by PostgreSQL.
func (s *Store) IsPostgres() bool { return s.isPostgres }

// rebind rewrites a query that uses ? placeholders into one using $N
// placeholders when the store is backed by PostgreSQL.
func rebind(isPostgres bool, query string) string {
	if !isPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		} else {
			b.WriteRune(c)
		}
	}
	return b.String()
}

// isPostgresDSN reports whether dsn selects the PostgreSQL backend.
func isPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// NewStore opens the audit store. A DSN starting with postgres:// or
// postgresql:// selects PostgreSQL (pgx); anything else is a SQLite file path.
func NewStore(dsn string) (*Store, error) {
	if dsn == "" {
		dsn = "audit.db"
	}
	isPostgres := isPostgresDSN(dsn)

	var db *sql.DB
	var err error
	if isPostgres {
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres database: %w", err)
		}
	} else {
		dir := filepath.Dir(dsn)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create audit directory: %w", err)
			}
		}
		db, err = sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open audit database: %w", err)
		}
		// SQLite allows a single writer.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}

	if err := createTables(db, isPostgres); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	s := &Store{db: db, isPostgres: isPostgres, lastHash: GenesisHash}
	if err := s.initLastHash(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init last hash: %w", err)
	}
	return s, nil
}

// initLastHash loads the hash of the most recent event from the database.
func (s *Store) initLastHash() error {
	var hash sql.NullString
	err := s.db.QueryRow(`SELECT event_hash FROM routing_events ORDER BY id DESC LIMIT 1`).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	if hash.Valid && hash.String != "" {
		s.lastHash = hash.String
	}
	return nil
}

func createTables(db *sql.DB, isPostgres bool) error {
	pkDef := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if isPostgres {
		pkDef = "BIGSERIAL PRIMARY KEY"
	}

	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS routing_events (
		id %s,
		event_id TEXT UNIQUE NOT NULL,
		timestamp TEXT NOT NULL,
		session_id TEXT,
		user_query TEXT,
		decision_agent TEXT,
		decision_kind TEXT NOT NULL,
		decision_reason TEXT,
		outcome_status TEXT NOT NULL,
		outcome_error TEXT,
		outcome_duration_ms BIGINT,
		prev_hash TEXT NOT NULL,
		event_hash TEXT NOT NULL,
		raw_json TEXT NOT NULL
	)`, pkDef)
	if _, err := db.Exec(schema); err != nil {
		return err
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_routing_session ON routing_events(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_routing_agent ON routing_events(decision_agent)`,
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			return err
		}
	}
	return nil
}

// Record appends event to the chain, filling in its ID, timestamp and hashes.
func (s *Store) Record(ctx context.Context, event *Event) error {
	if event.EventID == "" {
		event.EventID = "evt_" + uuid.New().String()[:8]
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	// Hold the lock through the write so concurrent records chain correctly.
	s.hashMu.Lock()
	defer s.hashMu.Unlock()

	event.PrevHash = s.lastHash
	event.EventHash = ComputeEventHash(event)

	rawJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	_, err = s.db.ExecContext(ctx, rebind(s.isPostgres, `
		INSERT INTO routing_events (
			event_id, timestamp, session_id, user_query,
			decision_agent, decision_kind, decision_reason,
			outcome_status, outcome_error, outcome_duration_ms,
			prev_hash, event_hash, raw_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		event.EventID,
		event.Timestamp.UTC().Format(time.RFC3339Nano),
		event.SessionID,
		event.UserQuery,
		event.Decision.Agent,
		event.Decision.Kind,
		event.Decision.Reason,
		event.Outcome.Status,
		event.Outcome.Error,
		event.Outcome.Duration.Milliseconds(),
		event.PrevHash,
		event.EventHash,
		string(rawJSON),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	s.lastHash = event.EventHash
	return nil
}

// QueryOptions filters Recent.
type QueryOptions struct {
	SessionID string
	Agent     string
	Limit     int
}

// Recent returns the newest events first.
func (s *Store) Recent(ctx context.Context, opts QueryOptions) ([]Event, error) {
	query := `SELECT raw_json FROM routing_events WHERE 1=1`
	var args []any
	if opts.SessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, opts.SessionID)
	}
	if opts.Agent != "" {
		query += ` AND decision_agent = ?`
		args = append(args, opts.Agent)
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	return s.scanEvents(ctx, rebind(s.isPostgres, query), args...)
}

// VerifyIntegrity walks the whole chain from the oldest event.
func (s *Store) VerifyIntegrity(ctx context.Context) (ChainStatus, error) {
	events, err := s.scanEvents(ctx, `SELECT raw_json FROM routing_events ORDER BY id ASC`)
	if err != nil {
		return ChainStatus{}, err
	}
	return VerifyChainStatus(events), nil
}

func (s *Store) scanEvents(ctx context.Context, query string, args ...any) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var e Event
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// LastHash returns the hash of the most recently recorded event.
func (s *Store) LastHash() string {
	s.hashMu.Lock()
	defer s.hashMu.Unlock()
	return s.lastHash
}

// DB exposes the underlying handle for tests and maintenance.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
