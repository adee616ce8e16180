package approval

import (
	"context"
	"slices"
	"sync"
	"time"
)

type entityKey struct {
	Type EntityType
	ID   string
}

// MemoryStore keeps everything in process. Transactions are serialised by a
// single mutex and their writes are staged until fn returns nil.
type MemoryStore struct {
	mu       sync.Mutex
	entities map[entityKey]Entity
	records  map[string]ApprovalRecord
	order    []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities: make(map[entityKey]Entity),
		records:  make(map[string]ApprovalRecord),
	}
}

func (s *MemoryStore) Transact(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{
		store:    s,
		entities: make(map[entityKey]Entity),
		records:  make(map[string]ApprovalRecord),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for k, e := range tx.entities {
		s.entities[k] = e
	}
	for id, r := range tx.records {
		s.records[id] = r
	}
	return nil
}

func (s *MemoryStore) CreateEntity(ctx context.Context, entity Entity, records []ApprovalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := entityKey{entity.Type, entity.ID}
	if _, exists := s.entities[key]; exists {
		return ErrDuplicate
	}
	for _, r := range records {
		if _, exists := s.records[r.ID]; exists {
			return ErrDuplicate
		}
	}
	s.entities[key] = entity
	for _, r := range records {
		s.records[r.ID] = r
		s.order = append(s.order, r.ID)
	}
	return nil
}

func (s *MemoryStore) GetEntity(ctx context.Context, entityType EntityType, id string) (*Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[entityKey{entityType, id}]
	if !ok {
		return nil, ErrStoreNotFound
	}
	return &e, nil
}

func (s *MemoryStore) ListOpenEntities(ctx context.Context, entityType EntityType, terminal []string) ([]Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Entity
	for k, e := range s.entities {
		if k.Type == entityType && !slices.Contains(terminal, e.Status) {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b Entity) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ListRecords(ctx context.Context, entityType EntityType, entityID string) ([]ApprovalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordsFor(entityType, entityID, nil), nil
}

func (s *MemoryStore) ListPendingForUser(ctx context.Context, userID string) ([]ApprovalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ApprovalRecord
	for _, id := range s.order {
		r := s.records[id]
		if r.UserID == userID && r.Status == StatusPending {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemoryStore) InsertRecord(ctx context.Context, rec ApprovalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.ID]; exists {
		return ErrDuplicate
	}
	for _, r := range s.records {
		if r.Status == StatusPending && rec.Status == StatusPending &&
			r.EntityType == rec.EntityType && r.EntityID == rec.EntityID &&
			r.Level == rec.Level && r.UserID == rec.UserID {
			return ErrDuplicate
		}
	}
	s.records[rec.ID] = rec
	s.order = append(s.order, rec.ID)
	return nil
}

func (s *MemoryStore) EnsureSchema(ctx context.Context) error {
	return nil
}

// recordsFor lists records in insertion order, preferring staged versions.
// Callers hold s.mu.
func (s *MemoryStore) recordsFor(entityType EntityType, entityID string, staged map[string]ApprovalRecord) []ApprovalRecord {
	var out []ApprovalRecord
	for _, id := range s.order {
		r := s.records[id]
		if st, ok := staged[id]; ok {
			r = st
		}
		if r.EntityType == entityType && r.EntityID == entityID {
			out = append(out, r)
		}
	}
	return out
}

type memoryTx struct {
	store    *MemoryStore
	entities map[entityKey]Entity
	records  map[string]ApprovalRecord
}

func (t *memoryTx) entity(key entityKey) (Entity, bool) {
	if e, ok := t.entities[key]; ok {
		return e, true
	}
	e, ok := t.store.entities[key]
	return e, ok
}

func (t *memoryTx) record(id string) (ApprovalRecord, bool) {
	if r, ok := t.records[id]; ok {
		return r, true
	}
	r, ok := t.store.records[id]
	return r, ok
}

func (t *memoryTx) LockEntity(ctx context.Context, entityType EntityType, id string) (*Entity, error) {
	e, ok := t.entity(entityKey{entityType, id})
	if !ok {
		return nil, ErrStoreNotFound
	}
	return &e, nil
}

func (t *memoryTx) GetRecord(ctx context.Context, id string) (*ApprovalRecord, error) {
	r, ok := t.record(id)
	if !ok {
		return nil, ErrStoreNotFound
	}
	return &r, nil
}

func (t *memoryTx) ListRecords(ctx context.Context, entityType EntityType, entityID string) ([]ApprovalRecord, error) {
	return t.store.recordsFor(entityType, entityID, t.records), nil
}

func (t *memoryTx) ResolveRecord(ctx context.Context, id string, status Status, at time.Time, comments *string) (bool, error) {
	r, ok := t.record(id)
	if !ok || r.Status != StatusPending {
		return false, nil
	}
	r.Status = status
	r.ActionDate = &at
	r.Comments = comments
	r.UpdatedAt = at
	t.records[id] = r
	return true, nil
}

func (t *memoryTx) SetEntityStatus(ctx context.Context, entityType EntityType, id string, status string, at time.Time) error {
	key := entityKey{entityType, id}
	e, ok := t.entity(key)
	if !ok {
		return ErrStoreNotFound
	}
	e.Status = status
	e.UpdatedAt = at
	e.Version++
	t.entities[key] = e
	return nil
}
