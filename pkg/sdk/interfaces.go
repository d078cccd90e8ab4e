package sdk

import "github.com/attest-dev/attest-ledger/pkg/schema"

// Ledger is the client-side contract for the attest ledger. Both the remote
// HTTP client and the embedded in-process engine implement it.
type Ledger interface {
	// Register creates a new agent identity and returns its key. The key is
	// only ever returned here; store it.
	Register(username string) (schema.Agent, error)

	// Submit appends a claim using the configured credentials and returns
	// the post-write quota snapshot.
	Submit(entry schema.EntryInput) (schema.QuotaStatus, error)

	// Entries returns recent ledger records, newest first. A limit of 0
	// requests the server default.
	Entries(limit int) ([]schema.Entry, error)

	// Agents lists registered usernames.
	Agents() ([]string, error)

	// WhoAmI reports the quota state of the configured agent key.
	WhoAmI() (schema.QuotaStatus, error)

	// SetAgentKey configures the credential used by Submit and WhoAmI.
	SetAgentKey(key string)
	// SetWriteKey configures the admin override secret used by Submit.
	SetWriteKey(key string)

	Close() error
}
