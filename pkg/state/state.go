package state

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/voidforge/foundry/pkg/storage"
)

const (
	groupPrefix  = "group/"
	jobIdxPrefix = "jobgroup/"
	workerPrefix = "worker/"
)

// New returns a store writing through to the provided blobstore.
func New(l hclog.Logger, kv storage.Storage) *Store {
	return &Store{
		l:       l.Named("state"),
		kv:      kv,
		groupMu: make(map[string]*sync.Mutex),
	}
}

func (s *Store) lockFor(groupID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.groupMu[groupID]
	if !ok {
		m = new(sync.Mutex)
		s.groupMu[groupID] = m
	}
	return m
}

// CreateGroup persists a brand new group record along with the
// job-to-group index entries used to answer job status queries.
func (s *Store) CreateGroup(g *GroupRecord) error {
	m := s.lockFor(g.ID)
	m.Lock()
	defer m.Unlock()

	if existing, _ := s.kv.Get([]byte(groupPrefix + g.ID)); existing != nil {
		return NewErrConflict(g.ID)
	}

	g.Version = 1
	if err := s.putGroup(g); err != nil {
		return err
	}
	for jobID := range g.Jobs {
		if err := s.kv.Put([]byte(jobIdxPrefix+jobID), []byte(g.ID)); err != nil {
			return err
		}
	}
	s.l.Debug("Created group", "group", g.ID, "jobs", len(g.Jobs))
	return nil
}

// Txn loads the group, applies the mutation under the group's lock,
// and persists the result as a single write.  Returning an error from
// the mutation abandons the transaction without touching durable
// state.  The committed record is returned for callers that need the
// post-transition view.
func (s *Store) Txn(groupID string, fn func(*GroupRecord) error) (*GroupRecord, error) {
	m := s.lockFor(groupID)
	m.Lock()
	defer m.Unlock()

	g, err := s.getGroup(groupID)
	if err != nil {
		return nil, err
	}
	loaded := g.Version

	if err := fn(g); err != nil {
		return nil, err
	}

	// The per-group mutex serializes writers in this process; the
	// version check catches anything writing behind our back.
	check, err := s.getGroup(groupID)
	if err != nil {
		return nil, err
	}
	if check.Version != loaded {
		s.l.Warn("Version moved under transaction", "group", groupID, "loaded", loaded, "stored", check.Version)
		return nil, NewErrConflict(groupID)
	}

	g.Version++
	if err := s.putGroup(g); err != nil {
		return nil, err
	}
	return g, nil
}

// GetGroup returns a snapshot of the group record.
func (s *Store) GetGroup(groupID string) (*GroupRecord, error) {
	m := s.lockFor(groupID)
	m.Lock()
	defer m.Unlock()
	return s.getGroup(groupID)
}

// GroupIDs enumerates every persisted group.
func (s *Store) GroupIDs() ([]string, error) {
	keys, err := s.kv.Keys([]byte(groupPrefix))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(string(k), groupPrefix))
	}
	return out, nil
}

// GroupForJob resolves a job identity to its owning group.
func (s *Store) GroupForJob(jobID string) (string, error) {
	v, err := s.kv.Get([]byte(jobIdxPrefix + jobID))
	if err != nil {
		return "", err
	}
	if v == nil {
		return "", NewErrNotFound("job", jobID)
	}
	return string(v), nil
}

// PutWorker persists a worker record.
func (s *Store) PutWorker(w *WorkerRecord) error {
	b, err := json.Marshal(w)
	if err != nil {
		return err
	}
	return s.kv.Put([]byte(workerPrefix+w.ID), b)
}

// GetWorker returns a worker record.
func (s *Store) GetWorker(id string) (*WorkerRecord, error) {
	v, err := s.kv.Get([]byte(workerPrefix + id))
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, NewErrNotFound("worker", id)
	}
	w := new(WorkerRecord)
	if err := json.Unmarshal(v, w); err != nil {
		return nil, err
	}
	return w, nil
}

// DelWorker removes a worker record.
func (s *Store) DelWorker(id string) error {
	return s.kv.Del([]byte(workerPrefix + id))
}

// Workers enumerates all persisted worker records.
func (s *Store) Workers() ([]*WorkerRecord, error) {
	keys, err := s.kv.Keys([]byte(workerPrefix))
	if err != nil {
		return nil, err
	}
	out := make([]*WorkerRecord, 0, len(keys))
	for _, k := range keys {
		v, err := s.kv.Get(k)
		if err != nil {
			return nil, err
		}
		if v == nil {
			continue
		}
		w := new(WorkerRecord)
		if err := json.Unmarshal(v, w); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

func (s *Store) getGroup(groupID string) (*GroupRecord, error) {
	v, err := s.kv.Get([]byte(groupPrefix + groupID))
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, NewErrNotFound("group", groupID)
	}
	g := new(GroupRecord)
	if err := json.Unmarshal(v, g); err != nil {
		return nil, err
	}
	return g, nil
}

func (s *Store) putGroup(g *GroupRecord) error {
	b, err := json.Marshal(g)
	if err != nil {
		return err
	}
	return s.kv.Put([]byte(groupPrefix+g.ID), b)
}
