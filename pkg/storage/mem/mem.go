package mem

import (
	"bytes"
	"sort"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/voidforge/foundry/pkg/storage"
)

// memStore holds everything in process memory.  It exists for tests
// and for ephemeral runs where durability is explicitly not wanted.
type memStore struct {
	mu sync.RWMutex
	m  map[string][]byte
}

func init() {
	storage.RegisterCallback(newFactory)
}

func newFactory() {
	storage.RegisterFactory("memory", func(_ hclog.Logger) (storage.Storage, error) {
		return New(), nil
	})
}

// New returns a ready to use in-memory store.
func New() storage.Storage {
	return &memStore{m: make(map[string][]byte)}
}

func (s *memStore) Get(k []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[string(k)]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (s *memStore) Put(k, v []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[string(k)] = append([]byte(nil), v...)
	return nil
}

func (s *memStore) Del(k []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, string(k))
	return nil
}

func (s *memStore) Keys(prefix []byte) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out [][]byte
	for k := range s.m {
		if bytes.HasPrefix([]byte(k), prefix) {
			out = append(out, []byte(k))
		}
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i], out[j]) < 0 })
	return out, nil
}

func (s *memStore) Close() error {
	return nil
}
