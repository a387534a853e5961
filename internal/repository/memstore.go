package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/catalogue-reservation/internal/model"
)

// MemPendingStore is an in-memory implementation of the pending action
// store.  It keeps the same uniqueness guarantee as the MySQL table and
// hands out copies so callers never share records with the store.
type MemPendingStore struct {
	lk      sync.Mutex
	nextID  int64
	actions map[int64]*model.PendingAction
	byRef   map[model.CatalogueRef]int64
}

func NewMemPendingStore() *MemPendingStore {
	return &MemPendingStore{
		actions: make(map[int64]*model.PendingAction),
		byRef:   make(map[model.CatalogueRef]int64),
	}
}

func (s *MemPendingStore) Insert(ctx context.Context, a *model.PendingAction) error {
	s.lk.Lock()
	defer s.lk.Unlock()

	if _, ok := s.byRef[a.Catalogue]; ok {
		return fmt.Errorf("%s: %w", a.Catalogue, ErrActionExists)
	}
	s.nextID++
	now := time.Now().UTC()
	a.ID = s.nextID
	a.CreatedAt = now
	a.UpdatedAt = now
	s.actions[a.ID] = a.Clone()
	s.byRef[a.Catalogue] = a.ID
	return nil
}

func (s *MemPendingStore) Update(ctx context.Context, a *model.PendingAction) error {
	s.lk.Lock()
	defer s.lk.Unlock()

	cur, ok := s.actions[a.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Catalogue != a.Catalogue {
		if _, taken := s.byRef[a.Catalogue]; taken {
			return fmt.Errorf("%s: %w", a.Catalogue, ErrActionExists)
		}
		delete(s.byRef, cur.Catalogue)
		s.byRef[a.Catalogue] = a.ID
	}
	a.UpdatedAt = time.Now().UTC()
	s.actions[a.ID] = a.Clone()
	return nil
}

func (s *MemPendingStore) Delete(ctx context.Context, id int64) error {
	s.lk.Lock()
	defer s.lk.Unlock()

	cur, ok := s.actions[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.byRef, cur.Catalogue)
	delete(s.actions, id)
	return nil
}

func (s *MemPendingStore) GetAll(ctx context.Context) ([]*model.PendingAction, error) {
	s.lk.Lock()
	defer s.lk.Unlock()

	out := make([]*model.PendingAction, 0, len(s.actions))
	for _, a := range s.actions {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemPendingStore) GetByCatalogue(ctx context.Context, ref model.CatalogueRef) (*model.PendingAction, error) {
	s.lk.Lock()
	defer s.lk.Unlock()

	id, ok := s.byRef[ref]
	if !ok {
		return nil, ErrNotFound
	}
	return s.actions[id].Clone(), nil
}

// MemCatalogueStore keeps catalogue records in memory.  Unlike the MySQL
// repository it also remembers payloads by reference for inspection in
// tests.
type MemCatalogueStore struct {
	lk       sync.Mutex
	nextID   uint64
	records  map[model.CatalogueRef]*model.Catalogue
	payloads map[model.CatalogueRef][]byte
}

func NewMemCatalogueStore() *MemCatalogueStore {
	return &MemCatalogueStore{
		records:  make(map[model.CatalogueRef]*model.Catalogue),
		payloads: make(map[model.CatalogueRef][]byte),
	}
}

// Put adds or replaces a catalogue record.
func (s *MemCatalogueStore) Put(c model.Catalogue, payload []byte) {
	s.lk.Lock()
	defer s.lk.Unlock()
	s.put(c)
	s.payloads[c.Ref()] = payload
}

func (s *MemCatalogueStore) put(c model.Catalogue) *model.Catalogue {
	if cur, ok := s.records[c.Ref()]; ok {
		c.ID = cur.ID
		c.CreatedAt = cur.CreatedAt
	} else {
		s.nextID++
		c.ID = s.nextID
		c.CreatedAt = time.Now().UTC()
	}
	c.UpdatedAt = time.Now().UTC()
	s.records[c.Ref()] = &c
	return &c
}

// record returns the stored record for ref, creating an empty one if needed.
func (s *MemCatalogueStore) record(ref model.CatalogueRef) *model.Catalogue {
	if c, ok := s.records[ref]; ok {
		return c
	}
	return s.put(model.Catalogue{Code: ref.Code, Version: ref.Version})
}

func (s *MemCatalogueStore) Get(ctx context.Context, ref model.CatalogueRef) (*model.Catalogue, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	c, ok := s.records[ref]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemCatalogueStore) SetBusy(ctx context.Context, ref model.CatalogueRef, busy bool) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	if c, ok := s.records[ref]; ok {
		c.Busy = busy
	}
	return nil
}

func (s *MemCatalogueStore) CreateReservedRecord(ctx context.Context, ref model.CatalogueRef, level model.Level, requester, note string) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	c := s.record(ref)
	c.ReservedLevel = &level
	c.ReservedBy = &requester
	c.ReserveNote = &note
	return nil
}

func (s *MemCatalogueStore) RemoveReservedRecord(ctx context.Context, ref model.CatalogueRef) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	if c, ok := s.records[ref]; ok {
		c.ReservedLevel, c.ReservedBy, c.ReserveNote = nil, nil, nil
	}
	return nil
}

func (s *MemCatalogueStore) MarkNeedsReconciliation(ctx context.Context, ref model.CatalogueRef) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	if c, ok := s.records[ref]; ok {
		c.NeedsReconciliation = true
	}
	return nil
}

func (s *MemCatalogueStore) BumpPublishedVersion(ctx context.Context, ref model.CatalogueRef, level model.Level) (model.CatalogueRef, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	src, ok := s.records[ref]
	if !ok {
		return model.CatalogueRef{}, fmt.Errorf("publish %s: %w", ref, ErrNotFound)
	}
	next := model.CatalogueRef{Code: ref.Code, Version: ref.Version.Bump(level)}
	pub := s.record(next)
	pub.Published = true
	s.payloads[next] = s.payloads[ref]
	src.ReservedLevel, src.ReservedBy, src.ReserveNote = nil, nil, nil
	return next, nil
}

func (s *MemCatalogueStore) ImportVersion(ctx context.Context, staged model.StagedVersion) (model.CatalogueRef, error) {
	if len(staged.Payload) == 0 {
		return model.CatalogueRef{}, fmt.Errorf("import %s: empty payload", staged.Ref())
	}
	s.lk.Lock()
	defer s.lk.Unlock()
	ref := staged.Ref()
	s.record(ref)
	s.payloads[ref] = staged.Payload
	return ref, nil
}

// Payload returns the stored payload for ref.
func (s *MemCatalogueStore) Payload(ref model.CatalogueRef) []byte {
	s.lk.Lock()
	defer s.lk.Unlock()
	return s.payloads[ref]
}
