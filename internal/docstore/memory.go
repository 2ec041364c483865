package docstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mesh-intelligence/shelf/pkg/types"
)

// Transient wraps a storage failure so callers can classify it with
// errors.Is(err, types.ErrTransient).
func Transient(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", types.ErrTransient, op, err)
}

func checkContext(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return Transient(op, err)
	}
	return nil
}

// MemoryStore keeps every collection in process memory. Documents are deep
// copied on the way in and out.
type MemoryStore struct {
	mu          sync.Mutex
	collections map[string]*memoryCollection
	closed      bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]*memoryCollection)}
}

// Collection returns the named collection, creating it on first use.
func (s *MemoryStore) Collection(name string) types.Collection {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		c = &memoryCollection{store: s, docs: make(map[string]*memoryEntry)}
		s.collections[name] = c
	}
	return c
}

// Ping reports whether the store is open.
func (s *MemoryStore) Ping(ctx context.Context) error {
	if err := checkContext(ctx, "ping"); err != nil {
		return err
	}
	if s.isClosed() {
		return types.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Later calls fail with types.ErrStoreClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *MemoryStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type memoryEntry struct {
	seq uint64
	doc types.Document
}

type memoryCollection struct {
	store *MemoryStore
	mu    sync.RWMutex
	seq   uint64
	docs  map[string]*memoryEntry
}

func (c *memoryCollection) guard(ctx context.Context, op string) error {
	if err := checkContext(ctx, op); err != nil {
		return err
	}
	if c.store.isClosed() {
		return types.ErrStoreClosed
	}
	return nil
}

// ordered returns entries in insertion order. Callers hold c.mu.
func (c *memoryCollection) ordered() []*memoryEntry {
	entries := make([]*memoryEntry, 0, len(c.docs))
	for _, e := range c.docs {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	return entries
}

// matching returns the entries that satisfy filter. Callers hold c.mu.
func (c *memoryCollection) matching(filter types.Filter, first bool) ([]*memoryEntry, error) {
	if id, ok := filter[types.IDKey].(string); ok {
		e, found := c.docs[id]
		if !found {
			return nil, nil
		}
		ok, err := Match(e.doc, filter)
		if err != nil || !ok {
			return nil, err
		}
		return []*memoryEntry{e}, nil
	}
	var out []*memoryEntry
	for _, e := range c.ordered() {
		ok, err := Match(e.doc, filter)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, e)
			if first {
				break
			}
		}
	}
	return out, nil
}

func (c *memoryCollection) Find(ctx context.Context, filter types.Filter, opts *types.FindOptions) ([]types.Document, error) {
	if err := c.guard(ctx, "find"); err != nil {
		return nil, err
	}
	c.mu.RLock()
	entries, err := c.matching(filter, false)
	docs := make([]types.Document, len(entries))
	for i, e := range entries {
		docs[i] = Clone(e.doc)
	}
	c.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return Apply(docs, opts), nil
}

func (c *memoryCollection) FindOne(ctx context.Context, filter types.Filter) (types.Document, error) {
	if err := c.guard(ctx, "find one"); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	entries, err := c.matching(filter, true)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, types.ErrNotFound
	}
	return Clone(entries[0].doc), nil
}

func (c *memoryCollection) Insert(ctx context.Context, doc types.Document) error {
	if err := c.guard(ctx, "insert"); err != nil {
		return err
	}
	id, ok := DocumentID(doc)
	if !ok {
		return fmt.Errorf("%w: missing %s", types.ErrInvalidDocument, types.IDKey)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.docs[id]; exists {
		return fmt.Errorf("%w: %s", types.ErrDuplicateID, id)
	}
	c.insertLocked(id, Clone(doc))
	return nil
}

func (c *memoryCollection) insertLocked(id string, doc types.Document) {
	c.seq++
	c.docs[id] = &memoryEntry{seq: c.seq, doc: doc}
}

func (c *memoryCollection) UpdateOne(ctx context.Context, filter types.Filter, set types.Document) error {
	_, err := c.update(ctx, "update one", filter, set, false)
	return err
}

func (c *memoryCollection) FindOneAndUpdate(ctx context.Context, filter types.Filter, set types.Document, upsert bool) (types.Document, error) {
	return c.update(ctx, "find one and update", filter, set, upsert)
}

func (c *memoryCollection) update(ctx context.Context, op string, filter types.Filter, set types.Document, upsert bool) (types.Document, error) {
	if err := c.guard(ctx, op); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entries, err := c.matching(filter, true)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		if !upsert {
			return nil, types.ErrNotFound
		}
		id, ok := DocumentID(set)
		if !ok {
			return nil, fmt.Errorf("%w: upsert without %s", types.ErrInvalidDocument, types.IDKey)
		}
		if _, exists := c.docs[id]; exists {
			return nil, fmt.Errorf("%w: %s", types.ErrDuplicateID, id)
		}
		doc := Clone(set)
		c.insertLocked(id, doc)
		return Clone(doc), nil
	}
	doc := entries[0].doc
	for k, v := range set {
		if k == types.IDKey {
			continue
		}
		doc[k] = cloneValue(v)
	}
	return Clone(doc), nil
}

func (c *memoryCollection) DeleteOne(ctx context.Context, filter types.Filter) error {
	if err := c.guard(ctx, "delete one"); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entries, err := c.matching(filter, true)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return types.ErrNotFound
	}
	id, _ := DocumentID(entries[0].doc)
	delete(c.docs, id)
	return nil
}

func (c *memoryCollection) DeleteMany(ctx context.Context, filter types.Filter) (int64, error) {
	if err := c.guard(ctx, "delete many"); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entries, err := c.matching(filter, false)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		id, _ := DocumentID(e.doc)
		delete(c.docs, id)
	}
	return int64(len(entries)), nil
}

// closedCollection fails every call with types.ErrStoreClosed.
type closedCollection struct{}

// Closed returns a collection for a store that is not attached.
func Closed() types.Collection { return closedCollection{} }

func (closedCollection) Find(context.Context, types.Filter, *types.FindOptions) ([]types.Document, error) {
	return nil, types.ErrStoreClosed
}

func (closedCollection) FindOne(context.Context, types.Filter) (types.Document, error) {
	return nil, types.ErrStoreClosed
}

func (closedCollection) Insert(context.Context, types.Document) error { return types.ErrStoreClosed }

func (closedCollection) UpdateOne(context.Context, types.Filter, types.Document) error {
	return types.ErrStoreClosed
}

func (closedCollection) FindOneAndUpdate(context.Context, types.Filter, types.Document, bool) (types.Document, error) {
	return nil, types.ErrStoreClosed
}

func (closedCollection) DeleteOne(context.Context, types.Filter) error { return types.ErrStoreClosed }

func (closedCollection) DeleteMany(context.Context, types.Filter) (int64, error) {
	return 0, types.ErrStoreClosed
}
