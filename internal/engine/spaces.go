package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/shelf/internal/metrics"
	"github.com/mesh-intelligence/shelf/internal/structure"
	"github.com/mesh-intelligence/shelf/pkg/types"
)

// WriteOptions carry the structure contract of a write.
type WriteOptions struct {
	// Structure is the declared field structure, or nil to use the stored
	// one (inferring it from the body for a new space).
	Structure []types.FieldDeclaration
	// MutateStructure allows Structure to change the stored fields.
	MutateStructure bool
	// ClearRecords removes every record of the space before an add.
	ClearRecords bool
	// Kind is the kind of a space created by this write.
	Kind types.SpaceKind
}

// reconcile runs the reconciler, re-reading the space after every lost
// race.
func (e *Engine) reconcile(ctx context.Context, tr *Trace, existing *types.RecordSpace, req structure.Request) (*types.RecordSpace, error) {
	defer tr.Step("reconcile")()
	for attempt := 0; ; attempt++ {
		space, outcome, err := e.spaces.Reconcile(ctx, existing, req)
		if err == nil {
			metrics.Reconciled(string(outcome))
			if outcome != structure.OutcomeUnchanged {
				e.logger.Info("record space structure "+string(outcome),
					append(tr.Fields(), zap.String("space_id", space.SpaceID), zap.String("fingerprint", space.Fingerprint))...)
			}
			return space, nil
		}
		if !errors.Is(err, types.ErrStaleStructure) || attempt+1 >= reconcileAttempts {
			metrics.Reconciled("rejected")
			return nil, err
		}
		existing, err = e.spaces.Lookup(ctx, req.ProjectSlug, req.SpaceSlug)
		if err != nil {
			return nil, err
		}
	}
}

// spaceForWrite returns the space a write goes to, reconciling the declared
// or inferred structure first. allowCreate is false for writes that address
// an existing record.
func (e *Engine) spaceForWrite(ctx context.Context, tr *Trace, body map[string]any, wo WriteOptions, allowCreate bool) (*types.RecordSpace, error) {
	existing, err := e.spaces.Lookup(ctx, tr.ProjectSlug, tr.SpaceSlug)
	if err != nil {
		return nil, err
	}
	incoming := wo.Structure
	if incoming == nil {
		if existing != nil {
			return existing, nil
		}
		if !allowCreate || !e.autoCreate {
			return nil, fmt.Errorf("%w: %s/%s", types.ErrSpaceNotFound, tr.ProjectSlug, tr.SpaceSlug)
		}
		if incoming, err = structure.Infer(body); err != nil {
			return nil, err
		}
	}
	return e.reconcile(ctx, tr, existing, structure.Request{
		ProjectSlug:   tr.ProjectSlug,
		SpaceSlug:     tr.SpaceSlug,
		Kind:          wo.Kind,
		Incoming:      incoming,
		AllowMutation: wo.MutateStructure,
		AllowCreate:   allowCreate && e.autoCreate,
	})
}

// DeclareSpace explicitly creates the space of tr with fields, or
// reconciles an existing one against them.
func (e *Engine) DeclareSpace(ctx context.Context, tr *Trace, fields []types.FieldDeclaration, kind types.SpaceKind, mutate bool) (*types.RecordSpace, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	existing, err := e.spaces.Lookup(ctx, tr.ProjectSlug, tr.SpaceSlug)
	if err != nil {
		return nil, err
	}
	return e.reconcile(ctx, tr, existing, structure.Request{
		ProjectSlug:   tr.ProjectSlug,
		SpaceSlug:     tr.SpaceSlug,
		Kind:          kind,
		Incoming:      fields,
		AllowMutation: mutate,
		AllowCreate:   true,
	})
}

// GetSpace returns the space of tr.
func (e *Engine) GetSpace(ctx context.Context, tr *Trace) (*types.RecordSpace, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.spaces.Get(ctx, tr.ProjectSlug, tr.SpaceSlug)
}

// ListSpaces returns the spaces of tr's project.
func (e *Engine) ListSpaces(ctx context.Context, tr *Trace) ([]types.RecordSpace, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.spaces.List(ctx, tr.ProjectSlug)
}

// DeleteSpace removes the space of tr with all its records and dumps.
func (e *Engine) DeleteSpace(ctx context.Context, tr *Trace) error {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	space, err := e.spaces.Get(ctx, tr.ProjectSlug, tr.SpaceSlug)
	if err != nil {
		return err
	}
	n, err := e.clear(ctx, tr, space)
	if err != nil {
		return err
	}
	if err := e.spaces.Delete(ctx, space); err != nil {
		return err
	}
	e.logger.Info("record space deleted", append(tr.Fields(), zap.Int64("records", n))...)
	return nil
}

// RemoveField drops field slug from the space of tr and rewrites every
// dump without it.
func (e *Engine) RemoveField(ctx context.Context, tr *Trace, slug string) (*types.RecordSpace, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	var (
		space *types.RecordSpace
		err   error
	)
	for attempt := 0; attempt < reconcileAttempts; attempt++ {
		if space, err = e.spaces.Get(ctx, tr.ProjectSlug, tr.SpaceSlug); err != nil {
			return nil, err
		}
		space, err = e.spaces.RemoveField(ctx, space, slug)
		if !errors.Is(err, types.ErrStaleStructure) {
			break
		}
	}
	if err != nil {
		return nil, err
	}

	records, err := e.spaceRecords(ctx, space)
	if err != nil {
		return nil, err
	}
	done := tr.Step("resync")
	err = e.projector.Resync(ctx, space, records)
	done()
	if err != nil {
		metrics.DumpSyncFailed()
		e.logger.Warn("record dumps out of sync after field removal", append(tr.Fields(), zap.Error(err))...)
	}
	e.invalidate(ctx, tr, space)
	e.logger.Info("field removed", append(tr.Fields(), zap.String("field", slug))...)
	return space, nil
}

func (e *Engine) spaceRecords(ctx context.Context, space *types.RecordSpace) ([]types.Record, error) {
	docs, err := e.records.Find(ctx, types.Filter{"space_id": space.SpaceID}, nil)
	if err != nil {
		return nil, err
	}
	return decodeRecords(docs)
}

func decodeRecords(docs []types.Document) ([]types.Record, error) {
	recs := make([]types.Record, len(docs))
	for i, doc := range docs {
		if err := types.FromDocument(doc, &recs[i]); err != nil {
			return nil, err
		}
	}
	return recs, nil
}
