// Package gate implements the write-admission pipeline: credential
// resolution, dual-scope daily quotas, field validation, and the commit to
// the append-only ledger.
package gate

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/attest-dev/attest-ledger/internal/engine"
	"github.com/attest-dev/attest-ledger/internal/vault"
	"github.com/attest-dev/attest-ledger/pkg/schema"
)

// Config is the immutable admission policy, constructed once at startup and
// passed to every component that needs it.
type Config struct {
	// WriteKey is the admin override secret. Empty disables the override.
	WriteKey string

	// AgentDailyLimit bounds writes per credential per UTC day.
	AgentDailyLimit int
	// IPDailyLimit bounds all requests per origin per UTC day.
	IPDailyLimit int

	// Field length caps.
	MaxUsername int
	MaxDomain   int
	MaxObject   int
	MaxClaim    int
	MaxContext  int

	// Listing clamp band for GET /entries.
	ListDefault int
	ListMax     int
}

// DefaultConfig returns the stock policy. Operators override individual
// fields from the environment at startup.
func DefaultConfig() Config {
	return Config{
		AgentDailyLimit: 100,
		IPDailyLimit:    1000,
		MaxUsername:     64,
		MaxDomain:       128,
		MaxObject:       256,
		MaxClaim:        240,
		MaxContext:      2000,
		ListDefault:     100,
		ListMax:         500,
	}
}

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,32}$`)

// AdminFallbackIdentity is recorded when the admin override supplies no
// identity of its own.
const AdminFallbackIdentity = "admin"

// Gate orders every write through the same pipeline: auth resolve, origin
// quota, credential quota, validation, commit.
type Gate struct {
	store engine.Store
	cfg   Config
	now   func() time.Time
}

// New builds a gate over the given store and policy.
func New(store engine.Store, cfg Config) *Gate {
	return &Gate{store: store, cfg: cfg, now: time.Now}
}

// Config returns the policy the gate was built with.
func (g *Gate) Config() Config {
	return g.cfg
}

// Register validates the username, mints a fresh agent key, and persists the
// identity. Returns engine.ErrUsernameTaken on collision.
func (g *Gate) Register(username string) (schema.Agent, error) {
	if !usernamePattern.MatchString(username) {
		return schema.Agent{}, &ValidationError{
			Field:  "username",
			Reason: "must be 3-32 characters of letters, digits, or underscore",
		}
	}

	key, err := vault.NewAgentKey()
	if err != nil {
		return schema.Agent{}, fmt.Errorf("generate agent key: %w", err)
	}

	createdAt := g.now().UTC()
	if err := g.store.CreateAgent(username, key, createdAt); err != nil {
		if errors.Is(err, engine.ErrUsernameTaken) {
			return schema.Agent{}, err
		}
		return schema.Agent{}, fmt.Errorf("create agent: %w", err)
	}

	return schema.Agent{Username: username, Key: key, CreatedAt: createdAt}, nil
}

// OriginScope derives the per-origin quota scope: the first entry of the
// forwarded-for header when present, otherwise the direct peer address.
func OriginScope(forwardedFor, remoteAddr string) string {
	if ff := strings.TrimSpace(forwardedFor); ff != "" {
		first, _, _ := strings.Cut(ff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// CheckOrigin consumes one unit of the per-origin quota. Applied to every
// request, read or write, before anything else. A storage failure fails
// closed: the request is denied as if the limit were exhausted.
func (g *Gate) CheckOrigin(origin string) error {
	day := engine.DayKey(g.now())
	_, allowed, err := g.store.IncrementUsage("ip:"+origin, day, g.cfg.IPDailyLimit)
	if err != nil {
		log.Printf("origin quota check failed for %s, denying: %v", origin, err)
		return &RateLimitedError{Scope: "origin", RetryAfter: g.retryAfter()}
	}
	if !allowed {
		return &RateLimitedError{Scope: "origin", RetryAfter: g.retryAfter()}
	}
	return nil
}

// SubmitRequest carries the credentials and payload of one write attempt.
type SubmitRequest struct {
	AgentKey string
	WriteKey string
	Input    schema.EntryInput
}

// Submit runs the write path: resolve the caller, spend the per-credential
// quota, validate the payload, and commit the record with a server-assigned
// timestamp. The origin quota is consumed upstream by the caller.
//
// Known limitation: quota consumption is not rolled back if the append fails
// after the quota was already spent.
func (g *Gate) Submit(req SubmitRequest) (schema.Entry, schema.QuotaStatus, error) {
	admin := g.cfg.WriteKey != "" && req.WriteKey == g.cfg.WriteKey

	var username string
	if admin {
		username = strings.TrimSpace(req.Input.AgentID)
		if username == "" {
			username = AdminFallbackIdentity
		}
	} else {
		resolved, err := g.store.ResolveKey(req.AgentKey)
		if err != nil {
			if errors.Is(err, engine.ErrUnknownKey) {
				return schema.Entry{}, schema.QuotaStatus{}, ErrUnauthorized
			}
			return schema.Entry{}, schema.QuotaStatus{}, fmt.Errorf("resolve agent key: %w", err)
		}
		username = resolved
	}

	status := schema.QuotaStatus{Username: username, Remaining: g.cfg.AgentDailyLimit}
	if !admin {
		day := engine.DayKey(g.now())
		used, allowed, err := g.store.IncrementUsage("agent:"+username, day, g.cfg.AgentDailyLimit)
		if err != nil {
			log.Printf("agent quota check failed for %s, denying: %v", username, err)
			return schema.Entry{}, schema.QuotaStatus{}, &RateLimitedError{Scope: "agent", RetryAfter: g.retryAfter()}
		}
		if !allowed {
			return schema.Entry{}, schema.QuotaStatus{}, &RateLimitedError{Scope: "agent", RetryAfter: g.retryAfter()}
		}
		status.Used = used
		status.Remaining = g.cfg.AgentDailyLimit - used
		if status.Remaining < 0 {
			status.Remaining = 0
		}
	}

	confidence, verr := g.validateEntry(username, req.Input)
	if verr != nil {
		return schema.Entry{}, schema.QuotaStatus{}, verr
	}

	entry := schema.Entry{
		Timestamp:   g.now().UTC(),
		AgentID:     username,
		Domain:      req.Input.Domain,
		Object:      req.Input.Object,
		Claim:       req.Input.Claim,
		Context:     req.Input.Context,
		Confidence:  confidence,
		SignalClass: schema.SignalClassAccepted,
	}

	id, err := g.store.AppendEntry(entry)
	if err != nil {
		return schema.Entry{}, schema.QuotaStatus{}, fmt.Errorf("append entry: %w", err)
	}
	entry.ID = id

	return entry, status, nil
}

// WhoAmI resolves a credential and reports its quota without consuming any.
func (g *Gate) WhoAmI(key string) (schema.QuotaStatus, error) {
	username, err := g.store.ResolveKey(key)
	if err != nil {
		if errors.Is(err, engine.ErrUnknownKey) {
			return schema.QuotaStatus{}, ErrUnauthorized
		}
		return schema.QuotaStatus{}, fmt.Errorf("resolve agent key: %w", err)
	}

	used, err := g.store.GetUsage("agent:"+username, engine.DayKey(g.now()))
	if err != nil {
		return schema.QuotaStatus{}, fmt.Errorf("read usage: %w", err)
	}

	remaining := g.cfg.AgentDailyLimit - used
	if remaining < 0 {
		remaining = 0
	}
	return schema.QuotaStatus{Username: username, Used: used, Remaining: remaining}, nil
}

// validateEntry enforces the field rules in a fixed order (presence,
// emptiness after trimming, length, numeric range) so a malformed input
// always reports the same first problem.
func (g *Gate) validateEntry(username string, in schema.EntryInput) (float64, *ValidationError) {
	if in.Domain == "" {
		return 0, &ValidationError{Field: "domain", Reason: "missing"}
	}
	if in.Object == "" {
		return 0, &ValidationError{Field: "object", Reason: "missing"}
	}
	if in.Claim == "" {
		return 0, &ValidationError{Field: "claim", Reason: "missing"}
	}
	if in.Confidence == nil {
		return 0, &ValidationError{Field: "confidence", Reason: "missing"}
	}

	if strings.TrimSpace(in.Domain) == "" {
		return 0, &ValidationError{Field: "domain", Reason: "must not be blank"}
	}
	if strings.TrimSpace(in.Object) == "" {
		return 0, &ValidationError{Field: "object", Reason: "must not be blank"}
	}
	if strings.TrimSpace(in.Claim) == "" {
		return 0, &ValidationError{Field: "claim", Reason: "must not be blank"}
	}

	if len(username) > g.cfg.MaxUsername {
		return 0, &ValidationError{Field: "username", Reason: "too long"}
	}
	if len(in.Domain) > g.cfg.MaxDomain {
		return 0, &ValidationError{Field: "domain", Reason: "too long"}
	}
	if len(in.Object) > g.cfg.MaxObject {
		return 0, &ValidationError{Field: "object", Reason: "too long"}
	}
	if len(in.Claim) > g.cfg.MaxClaim {
		return 0, &ValidationError{Field: "claim", Reason: "too long"}
	}
	if in.Context != "" && len(in.Context) > g.cfg.MaxContext {
		return 0, &ValidationError{Field: "context", Reason: "too long"}
	}

	confidence, ok := parseConfidence(in.Confidence)
	if !ok {
		return 0, &ValidationError{Field: "confidence", Reason: "must be a number"}
	}
	if confidence < 0 || confidence > 1 {
		return 0, &ValidationError{Field: "confidence", Reason: "out of range"}
	}

	return confidence, nil
}

func parseConfidence(v any) (float64, bool) {
	switch c := v.(type) {
	case float64:
		return c, true
	case json.Number:
		f, err := c.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(c), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// retryAfter is the number of seconds until the next UTC midnight, when all
// daily counters observe a fresh day.
func (g *Gate) retryAfter() int {
	now := g.now().UTC()
	midnight := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
	secs := int(midnight.Sub(now).Seconds())
	if secs < 1 {
		secs = 1
	}
	return secs
}
