package sdk

import (
	"github.com/attest-dev/attest-ledger/internal/engine"
	"github.com/attest-dev/attest-ledger/internal/gate"
	"github.com/attest-dev/attest-ledger/pkg/schema"
)

// Local runs the admission pipeline in-process against an embedded store.
// There is no network origin for embedded callers, so only the
// per-credential quota applies; validation and commit behave exactly as on
// the daemon.
type Local struct {
	store engine.Store
	gate  *gate.Gate

	agentKey string
	writeKey string
}

// NewLocal wraps an opened store in the embedded client. The store must
// already be initialized.
func NewLocal(store engine.Store, cfg gate.Config) *Local {
	return &Local{store: store, gate: gate.New(store, cfg)}
}

// SetAgentKey configures the credential used by Submit and WhoAmI.
func (l *Local) SetAgentKey(key string) { l.agentKey = key }

// SetWriteKey configures the admin override secret used by Submit.
func (l *Local) SetWriteKey(key string) { l.writeKey = key }

func (l *Local) Close() error { return l.store.Close() }

func (l *Local) Register(username string) (schema.Agent, error) {
	return l.gate.Register(username)
}

func (l *Local) Submit(entry schema.EntryInput) (schema.QuotaStatus, error) {
	_, status, err := l.gate.Submit(gate.SubmitRequest{
		AgentKey: l.agentKey,
		WriteKey: l.writeKey,
		Input:    entry,
	})
	return status, err
}

func (l *Local) Entries(limit int) ([]schema.Entry, error) {
	if limit <= 0 {
		limit = l.gate.Config().ListDefault
	}
	if limit > l.gate.Config().ListMax {
		limit = l.gate.Config().ListMax
	}
	return l.store.RecentEntries(limit)
}

func (l *Local) Agents() ([]string, error) {
	return l.store.ListAgents()
}

func (l *Local) WhoAmI() (schema.QuotaStatus, error) {
	return l.gate.WhoAmI(l.agentKey)
}
