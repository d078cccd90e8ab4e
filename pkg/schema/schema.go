// Package schema defines universal data structures shared by the attest-ledger
// daemon, the SDK, and the CLI.
package schema

import "time"

// SignalClassAccepted is the only signal class assigned to committed entries
// today. Future classifiers may introduce additional classes.
const SignalClassAccepted = "accepted"

// Agent represents a registered writer identity. The key is an opaque
// high-entropy secret handed out exactly once at registration.
type Agent struct {
	Username  string    `json:"username"`
	Key       string    `json:"agent_key,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Entry is a single append-only ledger record. Timestamps are assigned by the
// server at commit time; clients cannot supply their own.
type Entry struct {
	ID          int64     `json:"id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	AgentID     string    `json:"agent_id"`
	Domain      string    `json:"domain"`
	Object      string    `json:"object"`
	Claim       string    `json:"claim"`
	Context     string    `json:"context,omitempty"`
	Confidence  float64   `json:"confidence"`
	SignalClass string    `json:"signal_class"`
}

// EntryInput is the client-supplied portion of an entry, before admission.
// Confidence arrives as a raw value so the gate can report parse failures
// with a stable field name.
type EntryInput struct {
	AgentID    string `json:"agent_id"`
	Domain     string `json:"domain"`
	Object     string `json:"object"`
	Claim      string `json:"claim"`
	Context    string `json:"context"`
	Confidence any    `json:"confidence"`
}

// QuotaStatus is the snapshot returned after an accepted write or a whoami
// introspection.
type QuotaStatus struct {
	Username  string `json:"username"`
	Used      int    `json:"used"`
	Remaining int    `json:"remaining"`
}
