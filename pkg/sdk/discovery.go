package sdk

import (
	"os"

	"github.com/attest-dev/attest-ledger/internal/engine"
	"github.com/attest-dev/attest-ledger/internal/gate"
)

// New initializes a ledger client based on the environment. Apps get the
// Ledger interface back and don't care whether it is remote or embedded.
func New(dbPath string) (Ledger, error) {
	// 1. Prefer a remote daemon when one is configured.
	if addr := os.Getenv("ATTEST_LEDGER_ADDR"); addr != "" {
		return Connect(addr)
	}

	// 2. Fall back to embedded mode: the same engine the daemon uses, but
	// inside the app process.
	if dbPath == "" {
		dbPath = "attest.db"
	}

	store, err := engine.NewSQLStore(dbPath)
	if err != nil {
		return nil, err
	}
	if err := store.Initialize(); err != nil {
		store.Close()
		return nil, err
	}

	cfg := gate.DefaultConfig()
	cfg.WriteKey = os.Getenv("ATTEST_WRITE_KEY")
	return NewLocal(store, cfg), nil
}
