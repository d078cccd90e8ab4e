// Package engine defines the core storage contract and implementations for the
// attest ledger.
package engine

import (
	"errors"
	"time"

	"github.com/attest-dev/attest-ledger/pkg/schema"
)

var (
	// ErrUsernameTaken is returned when registering a username that already exists.
	ErrUsernameTaken = errors.New("username taken")
	// ErrUnknownKey is returned when an agent key does not resolve to any identity.
	ErrUnknownKey = errors.New("unknown agent key")
)

// Store is the durable state shared by every concurrent request: the agent
// registry, the quota counters, and the append-only ledger. Both the embedded
// in-memory engine and the sqlite engine implement this contract.
type Store interface {
	// Initialize prepares the store for traffic. Idempotent: calling it again
	// on restart must not alter existing data.
	Initialize() error

	// CreateAgent persists a new identity. Returns ErrUsernameTaken if the
	// username already exists. Identities are never updated or deleted.
	CreateAgent(username, key string, createdAt time.Time) error

	// ResolveKey maps an agent key to its username, or ErrUnknownKey.
	// An empty key never resolves.
	ResolveKey(key string) (string, error)

	// ListAgents returns all registered usernames.
	ListAgents() ([]string, error)

	// IncrementUsage atomically checks and increments the counter for
	// (scope, day). If the current count is below limit, the count is
	// incremented and allowed is true; otherwise the stored count is left
	// unchanged and allowed is false. The check-then-increment sequence is
	// indivisible for callers on the same (scope, day); distinct scopes do
	// not serialize against each other through a single global lock.
	// used reports the committed count after the call.
	IncrementUsage(scope, day string, limit int) (used int, allowed bool, err error)

	// GetUsage reads the committed count for (scope, day) without
	// incrementing. A missing row reads as zero.
	GetUsage(scope, day string) (int, error)

	// AppendEntry durably appends a record and returns its id. Content was
	// validated upstream; the store never rejects on content grounds.
	AppendEntry(e schema.Entry) (int64, error)

	// RecentEntries returns at most limit records, newest timestamp first,
	// ties broken by most-recently-inserted first.
	RecentEntries(limit int) ([]schema.Entry, error)

	Close() error
}

// DayKey renders the UTC calendar day a quota counter is scoped to.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
