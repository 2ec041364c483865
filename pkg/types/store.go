package types

import (
	"context"
	"time"
)

// Document is a stored document. The "_id" key holds its identity.
type Document = map[string]any

// Filter selects documents. Top-level keys are dotted paths compared for
// equality, or one of the logical operators "$and" / "$or" holding a list of
// sub-filters. A path may map to an operator object using "$eq", "$ne",
// "$in", "$exists" or "$elemMatch". An empty filter matches every document.
type Filter = map[string]any

// IDKey is the document key holding a document's identity.
const IDKey = "_id"

// SortField orders results by a dotted path.
type SortField struct {
	Path       string
	Descending bool
}

// FindOptions bounds and orders a Find.
type FindOptions struct {
	Sort  []SortField
	Skip  int
	Limit int // 0 means unbounded.
}

// Collection is a named set of documents in the storage driver. Filters use
// nested equality, $elemMatch, $and and $or semantics.
type Collection interface {
	// Find returns every document matching filter.
	Find(ctx context.Context, filter Filter, opts *FindOptions) ([]Document, error)

	// FindOne returns the first matching document or ErrNotFound.
	FindOne(ctx context.Context, filter Filter) (Document, error)

	// Insert stores doc. doc must carry a string "_id". Returns
	// ErrDuplicateID when a document with that id exists.
	Insert(ctx context.Context, doc Document) error

	// UpdateOne sets the top-level keys of set on the first matching
	// document. Returns ErrNotFound when nothing matches.
	UpdateOne(ctx context.Context, filter Filter, set Document) error

	// FindOneAndUpdate sets the top-level keys of set on the first matching
	// document and returns the updated document. When upsert is true and
	// nothing matches, set is inserted as a new document.
	FindOneAndUpdate(ctx context.Context, filter Filter, set Document, upsert bool) (Document, error)

	// DeleteOne removes the first matching document. Returns ErrNotFound
	// when nothing matches.
	DeleteOne(ctx context.Context, filter Filter) error

	// DeleteMany removes every matching document and reports how many.
	DeleteMany(ctx context.Context, filter Filter) (int64, error)
}

// Store hands out collections addressed by name. Implementations are safe
// for concurrent use.
type Store interface {
	Collection(name string) Collection
	Ping(ctx context.Context) error
	Close() error
}

// CacheDriver is a key-value store with per-key expiry. The query cache
// uses Get, Set, Delete and Incr; Expire completes the surface for callers
// that manage key lifetimes themselves.
type CacheDriver interface {
	// Get returns the value for key, and false on a miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// Expire resets the time to live of an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// Incr atomically increments the integer stored at key.
	Incr(ctx context.Context, key string) (int64, error)
}
