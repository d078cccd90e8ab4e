package engine

import (
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/attest-dev/attest-ledger/pkg/schema"
)

// MemStore is the embedded, in-process engine. It backs the SDK's embedded
// mode and the test suites.
type MemStore struct {
	mu      sync.RWMutex
	agents  map[string]schema.Agent // username -> agent
	keys    map[string]string       // agent key -> username
	entries []schema.Entry
	nextID  int64

	// Quota counters are sharded by scope so concurrent checks against
	// distinct scopes never serialize on one global lock.
	quota [quotaShards]quotaShard
}

type quotaShard struct {
	mu     sync.Mutex
	counts map[string]int // "scope\x00day" -> count
}

const quotaShards = 64

// NewMemStore initializes an empty in-memory engine.
func NewMemStore() *MemStore {
	m := &MemStore{
		agents: make(map[string]schema.Agent),
		keys:   make(map[string]string),
		nextID: 1,
	}
	for i := range m.quota {
		m.quota[i].counts = make(map[string]int)
	}
	return m
}

func (m *MemStore) Initialize() error { return nil }

func (m *MemStore) Close() error { return nil }

func (m *MemStore) CreateAgent(username, key string, createdAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.agents[username]; ok {
		return ErrUsernameTaken
	}
	m.agents[username] = schema.Agent{Username: username, Key: key, CreatedAt: createdAt}
	m.keys[key] = username
	return nil
}

func (m *MemStore) ResolveKey(key string) (string, error) {
	if key == "" {
		return "", ErrUnknownKey
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	username, ok := m.keys[key]
	if !ok {
		return "", ErrUnknownKey
	}
	return username, nil
}

func (m *MemStore) ListAgents() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]string, 0, len(m.agents))
	for username := range m.agents {
		list = append(list, username)
	}
	sort.Strings(list)
	return list, nil
}

func quotaKey(scope, day string) string {
	return scope + "\x00" + day
}

func (m *MemStore) shardFor(scope string) *quotaShard {
	h := fnv.New32a()
	h.Write([]byte(scope))
	return &m.quota[h.Sum32()%quotaShards]
}

func (m *MemStore) IncrementUsage(scope, day string, limit int) (int, bool, error) {
	s := m.shardFor(scope)
	s.mu.Lock()
	defer s.mu.Unlock()

	k := quotaKey(scope, day)
	current := s.counts[k]
	if current >= limit {
		return current, false, nil
	}
	s.counts[k] = current + 1
	return current + 1, true, nil
}

func (m *MemStore) GetUsage(scope, day string) (int, error) {
	s := m.shardFor(scope)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[quotaKey(scope, day)], nil
}

func (m *MemStore) AppendEntry(e schema.Entry) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e.ID = m.nextID
	m.nextID++
	m.entries = append(m.entries, e)
	return e.ID, nil
}

func (m *MemStore) RecentEntries(limit int) ([]schema.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]schema.Entry, len(m.entries))
	copy(out, m.entries)

	// Newest timestamp first; on equal timestamps the later insert wins.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID > out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})

	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}
