package engine

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/attest-dev/attest-ledger/pkg/schema"

	_ "github.com/mattn/go-sqlite3"
)

const createSchemaSQL = `
CREATE TABLE IF NOT EXISTS agents (
    username TEXT PRIMARY KEY,
    agent_key TEXT NOT NULL UNIQUE,
    created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS quota_usage (
    scope TEXT NOT NULL,
    day TEXT NOT NULL,
    count INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (scope, day)
);

CREATE TABLE IF NOT EXISTS ledger (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp TIMESTAMP NOT NULL,
    agent_id TEXT NOT NULL,
    domain TEXT NOT NULL,
    object TEXT NOT NULL,
    claim TEXT NOT NULL,
    context TEXT,
    confidence REAL NOT NULL,
    signal_class TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ledger_timestamp ON ledger(timestamp);
CREATE INDEX IF NOT EXISTS idx_agents_key ON agents(agent_key);
`

// SQLStore is the durable sqlite engine used by the daemon. Quota atomicity is
// delegated to the database: the check-and-increment is a single upsert whose
// conflict clause refuses to push a counter past its limit, so concurrent
// callers on the same (scope, day) are serialized by sqlite rather than by a
// process-wide lock.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore opens (or creates) the sqlite database at path.
func NewSQLStore(path string) (*SQLStore, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// Initialize creates the schema. Safe to call again on restart.
func (s *SQLStore) Initialize() error {
	if _, err := s.db.Exec(createSchemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) CreateAgent(username, key string, createdAt time.Time) error {
	var exists int
	err := s.db.QueryRow(`SELECT COUNT(1) FROM agents WHERE username = ?`, username).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check username: %w", err)
	}
	if exists > 0 {
		return ErrUsernameTaken
	}

	_, err = s.db.Exec(
		`INSERT INTO agents (username, agent_key, created_at) VALUES (?, ?, ?)`,
		username, key, createdAt.UTC(),
	)
	if err != nil {
		// A racing insert loses on the primary key; report it as taken
		// rather than leaking a driver error.
		var again int
		if s.db.QueryRow(`SELECT COUNT(1) FROM agents WHERE username = ?`, username).Scan(&again) == nil && again > 0 {
			return ErrUsernameTaken
		}
		return fmt.Errorf("insert agent: %w", err)
	}
	return nil
}

func (s *SQLStore) ResolveKey(key string) (string, error) {
	if key == "" {
		return "", ErrUnknownKey
	}

	var username string
	err := s.db.QueryRow(`SELECT username FROM agents WHERE agent_key = ?`, key).Scan(&username)
	if err == sql.ErrNoRows {
		return "", ErrUnknownKey
	}
	if err != nil {
		return "", fmt.Errorf("resolve key: %w", err)
	}
	return username, nil
}

func (s *SQLStore) ListAgents() ([]string, error) {
	rows, err := s.db.Query(`SELECT username FROM agents ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var list []string
	for rows.Next() {
		var username string
		if err := rows.Scan(&username); err != nil {
			return nil, err
		}
		list = append(list, username)
	}
	return list, rows.Err()
}

func (s *SQLStore) IncrementUsage(scope, day string, limit int) (int, bool, error) {
	if limit <= 0 {
		used, err := s.GetUsage(scope, day)
		if err != nil {
			return 0, false, err
		}
		return used, false, nil
	}

	// Single atomic statement: insert the first use of the day, or bump the
	// counter only while it is still under the limit. RowsAffected is the
	// admission decision.
	res, err := s.db.Exec(`
		INSERT INTO quota_usage (scope, day, count) VALUES (?, ?, 1)
		ON CONFLICT (scope, day) DO UPDATE SET count = count + 1 WHERE count < ?`,
		scope, day, limit,
	)
	if err != nil {
		return 0, false, fmt.Errorf("increment usage: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("increment usage: %w", err)
	}

	used, err := s.GetUsage(scope, day)
	if err != nil {
		return 0, false, err
	}
	return used, affected > 0, nil
}

func (s *SQLStore) GetUsage(scope, day string) (int, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT count FROM quota_usage WHERE scope = ? AND day = ?`, scope, day,
	).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get usage: %w", err)
	}
	return count, nil
}

func (s *SQLStore) AppendEntry(e schema.Entry) (int64, error) {
	var ctx sql.NullString
	if e.Context != "" {
		ctx = sql.NullString{String: e.Context, Valid: true}
	}

	res, err := s.db.Exec(`
		INSERT INTO ledger (timestamp, agent_id, domain, object, claim, context, confidence, signal_class)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Timestamp.UTC(), e.AgentID, e.Domain, e.Object, e.Claim, ctx, e.Confidence, e.SignalClass,
	)
	if err != nil {
		return 0, fmt.Errorf("append entry: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLStore) RecentEntries(limit int) ([]schema.Entry, error) {
	rows, err := s.db.Query(`
		SELECT id, timestamp, agent_id, domain, object, claim, context, confidence, signal_class
		FROM ledger
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent entries: %w", err)
	}
	defer rows.Close()

	var entries []schema.Entry
	for rows.Next() {
		var e schema.Entry
		var ctx sql.NullString
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.AgentID, &e.Domain, &e.Object, &e.Claim, &ctx, &e.Confidence, &e.SignalClass); err != nil {
			return nil, err
		}
		e.Context = ctx.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
