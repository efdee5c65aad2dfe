package ledger

import "sync"

// MemoryStore is an in-memory Store for tests and single-process use.
// It provides the same write-once semantics as the SQLite store but no
// durability across restarts.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string][]*Record // runID -> records in Seq order
	nextSeq map[string]int64
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory step store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string][]*Record),
		nextSeq: make(map[string]int64),
	}
}

func (s *MemoryStore) GetStep(runID, name string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records[runID] {
		if rec.Name == name {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) PutStep(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSeq[rec.RunID]++
	cp := *rec
	cp.Seq = s.nextSeq[rec.RunID]
	s.records[rec.RunID] = append(s.records[rec.RunID], &cp)
	rec.Seq = cp.Seq
	return nil
}

func (s *MemoryStore) DeleteStep(runID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.records[runID]
	for i, rec := range recs {
		if rec.Name == name {
			s.records[runID] = append(recs[:i], recs[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *MemoryStore) ListSteps(runID string) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.records[runID]
	out := make([]*Record, len(recs))
	for i, rec := range recs {
		cp := *rec
		out[i] = &cp
	}
	return out, nil
}
