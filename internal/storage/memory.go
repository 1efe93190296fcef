package storage

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/mnboos/job-graph/internal/domain"
)

// MemoryRecordStore is an in-process record store with the same claim
// semantics as RecordStore. Used by tests and local dry runs.
type MemoryRecordStore struct {
	mu      sync.Mutex
	nextID  int64
	records map[int64]*domain.JobRecord
	byKey   map[domain.Identity]int64
	claimed map[int64]bool
	now     func() time.Time
}

// NewMemoryRecordStore creates an empty store
func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{
		records: make(map[int64]*domain.JobRecord),
		byKey:   make(map[domain.Identity]int64),
		claimed: make(map[int64]bool),
		now:     time.Now,
	}
}

func cloneRecord(r *domain.JobRecord) *domain.JobRecord {
	c := *r
	c.SourceURLs = slices.Clone(r.SourceURLs)
	c.RawPayload = slices.Clone(r.RawPayload)
	if r.Coordinate != nil {
		coord := *r.Coordinate
		c.Coordinate = &coord
	}
	if r.FirstPublishedAt != nil {
		t := *r.FirstPublishedAt
		c.FirstPublishedAt = &t
	}
	return &c
}

func (s *MemoryRecordStore) FindByIdentity(_ context.Context, id domain.Identity) (*domain.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recID, ok := s.byKey[id]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}
	return cloneRecord(s.records[recID]), nil
}

func (s *MemoryRecordStore) CreateOrGet(_ context.Context, rec *domain.JobRecord) (*domain.JobRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if recID, ok := s.byKey[rec.Identity()]; ok {
		return cloneRecord(s.records[recID]), false, nil
	}

	s.nextID++
	stored := cloneRecord(rec)
	stored.ID = s.nextID
	stored.FirstSeenAt = s.now()
	stored.LastSeenAt = stored.FirstSeenAt
	if stored.SourceURLs == nil {
		stored.SourceURLs = []string{}
	}

	s.records[stored.ID] = stored
	s.byKey[stored.Identity()] = stored.ID
	return cloneRecord(stored), true, nil
}

func (s *MemoryRecordStore) Save(_ context.Context, rec *domain.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.records[rec.ID]
	if !ok {
		return domain.ErrRecordNotFound
	}
	for _, u := range rec.SourceURLs {
		stored.AddSourceURL(u)
	}
	if stored.Coordinate == nil && rec.Coordinate != nil {
		coord := *rec.Coordinate
		stored.Coordinate = &coord
	}
	stored.LastSeenAt = s.now()

	rec.SourceURLs = slices.Clone(stored.SourceURLs)
	rec.LastSeenAt = stored.LastSeenAt
	return nil
}

func (s *MemoryRecordStore) HasMissingCoordinate(_ context.Context, exclude []int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, r := range s.records {
		if r.Coordinate == nil && !slices.Contains(exclude, id) {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryRecordStore) ClaimMissingCoordinate(_ context.Context, exclude []int64) (domain.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.sortedIDs() {
		r := s.records[id]
		if r.Coordinate != nil || s.claimed[id] || slices.Contains(exclude, id) {
			continue
		}
		s.claimed[id] = true
		return &memClaim{store: s, record: cloneRecord(r)}, nil
	}
	return nil, domain.ErrNothingToClaim
}

// Records returns a snapshot of every stored record ordered by id
func (s *MemoryRecordStore) Records() []*domain.JobRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.JobRecord, 0, len(s.records))
	for _, id := range s.sortedIDs() {
		out = append(out, cloneRecord(s.records[id]))
	}
	return out
}

func (s *MemoryRecordStore) sortedIDs() []int64 {
	ids := make([]int64, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

type memClaim struct {
	store  *MemoryRecordStore
	record *domain.JobRecord
	done   bool
}

func (c *memClaim) Record() *domain.JobRecord { return c.record }

func (c *memClaim) Commit(_ context.Context, coord domain.Coordinate) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	if c.done {
		return nil
	}
	c.done = true
	delete(c.store.claimed, c.record.ID)

	stored, ok := c.store.records[c.record.ID]
	if !ok {
		return domain.ErrRecordNotFound
	}
	if stored.Coordinate == nil {
		stored.Coordinate = &coord
	}
	c.record.Coordinate = &coord
	return nil
}

func (c *memClaim) Release() error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	if !c.done {
		c.done = true
		delete(c.store.claimed, c.record.ID)
	}
	return nil
}
