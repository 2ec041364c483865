package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/mesh-intelligence/shelf/internal/docstore"
	"github.com/mesh-intelligence/shelf/internal/syntax"
	"github.com/mesh-intelligence/shelf/pkg/types"
)

// ReadOptions shape a record query.
type ReadOptions struct {
	Relationship syntax.Relationship
	// Sort is a comma separated list of slugs, "-" prefixed for descending.
	Sort   string
	Limit  int
	Offset int
}

// GetRecords returns the dumps of the space of tr that match raw.
//
// Reads without hashed predicates are served from the query cache when
// possible. Hashed reads are never cached: candidates are fetched by the
// rest of the query and verified one by one, and paging applies to the
// verified set.
func (e *Engine) GetRecords(ctx context.Context, tr *Trace, raw map[string]any, ro ReadOptions) ([]types.RecordDump, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	if ro.Limit < 0 || ro.Offset < 0 {
		return nil, fmt.Errorf("%w: limit and offset must not be negative", types.ErrInvalidQuery)
	}
	space, err := e.spaces.Get(ctx, tr.ProjectSlug, tr.SpaceSlug)
	if err != nil {
		return nil, err
	}

	done := tr.Step("compile")
	q, err := syntax.CompileQuery(raw, space.Fields, ro.Relationship)
	var sortBy []types.SortField
	if err == nil {
		sortBy, err = syntax.CompileSort(ro.Sort, space.Fields)
	}
	done()
	if err != nil {
		countCompileError(err)
		return nil, err
	}

	filter := make(types.Filter, len(q.Filter)+1)
	for k, v := range q.Filter {
		filter[k] = v
	}
	filter["space_id"] = space.SpaceID

	if len(q.Hashed) > 0 {
		return e.hashedRead(ctx, tr, space, filter, q.Hashed, sortBy, ro)
	}

	opts := &types.FindOptions{Sort: sortBy, Skip: ro.Offset, Limit: ro.Limit}
	key, keyErr := e.cache.Key(ctx, space.SpaceID, filter, opts)
	if keyErr == nil {
		if docs, ok := e.cache.Get(ctx, key); ok {
			return decodeDumps(docs)
		}
	}

	done = tr.Step("fetch")
	docs, err := e.dumps.Find(ctx, filter, opts)
	done()
	if err != nil {
		return nil, err
	}
	if keyErr == nil {
		e.cache.Put(ctx, key, docs)
	}
	return decodeDumps(docs)
}

func (e *Engine) hashedRead(ctx context.Context, tr *Trace, space *types.RecordSpace, filter types.Filter, preds []syntax.HashedPredicate, sortBy []types.SortField, ro ReadOptions) ([]types.RecordDump, error) {
	done := tr.Step("fetch")
	docs, err := e.dumps.Find(ctx, filter, &types.FindOptions{Sort: sortBy})
	done()
	if err != nil {
		return nil, err
	}
	if err := e.resolver.CheckCandidates(len(docs)); err != nil {
		countCompileError(err)
		return nil, err
	}
	if len(docs) == 0 {
		return []types.RecordDump{}, nil
	}

	ids := make([]any, len(docs))
	for i, doc := range docs {
		id, _ := docstore.DocumentID(doc)
		ids[i] = id
	}
	recDocs, err := e.records.Find(ctx, types.Filter{types.IDKey: map[string]any{docstore.OpIn: ids}}, nil)
	if err != nil {
		return nil, err
	}
	recs, err := decodeRecords(recDocs)
	if err != nil {
		return nil, err
	}

	done = tr.Step("verify")
	verified := e.resolver.ResolveForRead(recs, preds)
	done()

	keep := make(map[string]bool, len(verified))
	for _, rec := range verified {
		keep[rec.RecordID] = true
	}
	// Candidate dumps are already sorted; filter them in that order.
	matched := make([]types.Document, 0, len(verified))
	for _, doc := range docs {
		if id, _ := docstore.DocumentID(doc); keep[id] {
			matched = append(matched, doc)
		}
	}
	return decodeDumps(docstore.Apply(matched, &types.FindOptions{Skip: ro.Offset, Limit: ro.Limit}))
}

// GetRecordByID returns the dump of record id.
func (e *Engine) GetRecordByID(ctx context.Context, tr *Trace, id string) (types.RecordDump, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	space, err := e.spaces.Get(ctx, tr.ProjectSlug, tr.SpaceSlug)
	if err != nil {
		return types.RecordDump{}, err
	}
	doc, err := e.dumps.FindOne(ctx, types.Filter{types.IDKey: id, "space_id": space.SpaceID})
	if err == nil {
		var d types.RecordDump
		err = types.FromDocument(doc, &d)
		return d, err
	}
	if !errors.Is(err, types.ErrNotFound) {
		return types.RecordDump{}, err
	}
	// A failed dump sync leaves the canonical record without its dump.
	rec, err := e.record(ctx, space, id)
	if err != nil {
		return types.RecordDump{}, err
	}
	return e.projector.Refresh(ctx, space, rec), nil
}

func decodeDumps(docs []types.Document) ([]types.RecordDump, error) {
	out := make([]types.RecordDump, len(docs))
	for i, doc := range docs {
		if err := types.FromDocument(doc, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}
