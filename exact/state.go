package exact

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	gosync "sync"
)

// DedupStateStore maps the content hash of a record to its last known
// processing outcome. A prior outcome for a hash means the record's
// content has already been resolved: the processor replays it instead of
// calling the sink, which is what guarantees at most one remote side
// effect per logical record content across reprocessing runs.
type DedupStateStore interface {
	Get(hash string) (Outcome, bool, error)
	// Put commits the outcome for a hash. It is the terminal write for
	// that hash: an existing successful outcome is never overwritten.
	Put(outcome Outcome) error
}

// DedupStateStoreFactory builds a store from the DSN following the scheme.
type DedupStateStoreFactory func(dsn string) (DedupStateStore, error)

var stateFactoryRegistry = struct {
	mu        gosync.RWMutex
	factories map[string]DedupStateStoreFactory
}{
	factories: map[string]DedupStateStoreFactory{},
}

// RegisterDedupStateStoreFactory registers a store factory for a DSN
// scheme (e.g. "file", "postgres"). Later registrations win.
func RegisterDedupStateStoreFactory(scheme string, factory DedupStateStoreFactory) {
	scheme = strings.ToLower(strings.TrimSpace(scheme))
	if scheme == "" || factory == nil {
		return
	}
	stateFactoryRegistry.mu.Lock()
	defer stateFactoryRegistry.mu.Unlock()
	stateFactoryRegistry.factories[scheme] = factory
}

// NewDedupStateStore builds a store from a DSN of the form
// "scheme:rest" (e.g. "mem:", "file:/var/lib/sync.state",
// "postgres://user@host/db"). An empty DSN selects the in-memory store.
func NewDedupStateStore(dsn string) (DedupStateStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return NewMemoryDedupStateStore(), nil
	}
	scheme, _, ok := strings.Cut(dsn, ":")
	if !ok {
		return nil, fmt.Errorf("state backend dsn %q has no scheme", dsn)
	}
	stateFactoryRegistry.mu.RLock()
	factory, exists := stateFactoryRegistry.factories[strings.ToLower(scheme)]
	stateFactoryRegistry.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("unknown state backend scheme %q", scheme)
	}
	return factory(dsn)
}

func init() {
	RegisterDedupStateStoreFactory("mem", func(string) (DedupStateStore, error) {
		return NewMemoryDedupStateStore(), nil
	})
	RegisterDedupStateStoreFactory("file", func(dsn string) (DedupStateStore, error) {
		return NewFileDedupStateStore(strings.TrimPrefix(dsn, "file:"))
	})
}

// MemoryDedupStateStore keeps outcomes for the current run only.
type MemoryDedupStateStore struct {
	mu       gosync.RWMutex
	outcomes map[string]Outcome
}

func NewMemoryDedupStateStore() *MemoryDedupStateStore {
	return &MemoryDedupStateStore{outcomes: make(map[string]Outcome)}
}

func (s *MemoryDedupStateStore) Get(hash string) (Outcome, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	outcome, exists := s.outcomes[hash]
	return outcome, exists, nil
}

func (s *MemoryDedupStateStore) Put(outcome Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, exists := s.outcomes[outcome.Hash]; exists && existing.Success {
		return nil
	}
	s.outcomes[outcome.Hash] = outcome
	return nil
}

// FileDedupStateStore persists outcomes as appended JSON lines, with an
// in-memory index rebuilt from the file on open. Appending keeps each
// Put a single write; on replayed hashes the earliest successful line
// wins during the rebuild.
type FileDedupStateStore struct {
	path string

	mu       gosync.Mutex
	outcomes map[string]Outcome
}

func NewFileDedupStateStore(path string) (*FileDedupStateStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("state file path is empty")
	}
	s := &FileDedupStateStore{path: path, outcomes: make(map[string]Outcome)}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileDedupStateStore) load() error {
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var outcome Outcome
		if err := json.Unmarshal([]byte(line), &outcome); err != nil {
			return fmt.Errorf("corrupt state line in %s: %w", s.path, err)
		}
		if existing, exists := s.outcomes[outcome.Hash]; exists && existing.Success {
			continue
		}
		s.outcomes[outcome.Hash] = outcome
	}
	return scanner.Err()
}

func (s *FileDedupStateStore) Get(hash string) (Outcome, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	outcome, exists := s.outcomes[hash]
	return outcome, exists, nil
}

func (s *FileDedupStateStore) Put(outcome Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, exists := s.outcomes[outcome.Hash]; exists && existing.Success {
		return nil
	}

	line, err := json.Marshal(outcome)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}

	s.outcomes[outcome.Hash] = outcome
	return nil
}
