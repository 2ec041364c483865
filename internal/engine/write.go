package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/shelf/internal/dump"
	"github.com/mesh-intelligence/shelf/internal/metrics"
	"github.com/mesh-intelligence/shelf/internal/syntax"
	"github.com/mesh-intelligence/shelf/pkg/types"
)

// AddRecord creates a record in the space of tr from body. A single-kind
// space holds one record, so adding to it merges into that record.
//
// With wo.ClearRecords the space is emptied only after body compiles, so a
// rejected write leaves the existing records in place. Unique checks are
// skipped then: every record they could conflict with is being removed.
func (e *Engine) AddRecord(ctx context.Context, tr *Trace, body map[string]any, wo WriteOptions) (types.RecordDump, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	space, err := e.spaceForWrite(ctx, tr, body, wo, true)
	if err != nil {
		return types.RecordDump{}, err
	}
	if space.Kind == types.SpaceKindSingle && !wo.ClearRecords {
		doc, err := e.records.FindOne(ctx, types.Filter{"space_id": space.SpaceID})
		switch {
		case err == nil:
			var rec types.Record
			if err := types.FromDocument(doc, &rec); err != nil {
				return types.RecordDump{}, err
			}
			return e.merge(ctx, tr, space, &rec, body)
		case !errors.Is(err, types.ErrNotFound):
			return types.RecordDump{}, err
		}
	}

	var unique syntax.UniqueChecker
	if !wo.ClearRecords {
		unique = e.uniqueChecker(space)
	}
	done := tr.Step("compile")
	contents, err := syntax.CompileCommand(ctx, body, space.Fields, syntax.CommandOptions{ApplyDefaults: true}, unique)
	if err == nil {
		contents, err = e.resolver.HashForWrite(space.Fields, contents)
	}
	done()
	if err != nil {
		countCompileError(err)
		return types.RecordDump{}, err
	}

	if wo.ClearRecords {
		if _, err := e.clear(ctx, tr, space); err != nil {
			return types.RecordDump{}, err
		}
	}

	now := e.now()
	rec := &types.Record{
		RecordID:  e.newID(),
		SpaceID:   space.SpaceID,
		Fields:    contents,
		CreatedAt: now,
		UpdatedAt: now,
	}
	doc, err := types.ToDocument(rec)
	if err != nil {
		return types.RecordDump{}, err
	}
	done = tr.Step("store")
	err = e.records.Insert(ctx, doc)
	done()
	if err != nil {
		return types.RecordDump{}, fmt.Errorf("storing record: %w", err)
	}
	return e.afterWrite(ctx, tr, space, rec), nil
}

// UpdateRecordByID merges body into record id. Fields absent from body keep
// their content.
func (e *Engine) UpdateRecordByID(ctx context.Context, tr *Trace, id string, body map[string]any, wo WriteOptions) (types.RecordDump, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	space, err := e.spaceForWrite(ctx, tr, body, wo, false)
	if err != nil {
		return types.RecordDump{}, err
	}
	rec, err := e.record(ctx, space, id)
	if err != nil {
		return types.RecordDump{}, err
	}
	return e.merge(ctx, tr, space, rec, body)
}

func (e *Engine) merge(ctx context.Context, tr *Trace, space *types.RecordSpace, rec *types.Record, body map[string]any) (types.RecordDump, error) {
	done := tr.Step("compile")
	contents, err := syntax.CompileCommand(ctx, body, space.Fields, syntax.CommandOptions{
		RequiredFieldsAreOptional: true,
		RecordID:                  rec.RecordID,
	}, e.uniqueChecker(space))
	if err == nil {
		contents, err = e.resolver.HashForWrite(space.Fields, contents)
	}
	done()
	if err != nil {
		countCompileError(err)
		return types.RecordDump{}, err
	}
	if len(contents) == 0 {
		return dump.Project(rec, space.FieldsByID()), nil
	}

	rec.Merge(contents)
	rec.UpdatedAt = e.now()
	doc, err := types.ToDocument(rec)
	if err != nil {
		return types.RecordDump{}, err
	}
	done = tr.Step("store")
	err = e.records.UpdateOne(ctx, types.Filter{types.IDKey: rec.RecordID}, types.Document{
		"fields":     doc["fields"],
		"updated_at": doc["updated_at"],
	})
	done()
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return types.RecordDump{}, fmt.Errorf("%w: %s", types.ErrRecordNotFound, rec.RecordID)
		}
		return types.RecordDump{}, fmt.Errorf("storing record: %w", err)
	}
	return e.afterWrite(ctx, tr, space, rec), nil
}

// afterWrite syncs the dump right after the canonical write and then drops
// the space's cached reads, so no later read sees the old dump.
func (e *Engine) afterWrite(ctx context.Context, tr *Trace, space *types.RecordSpace, rec *types.Record) types.RecordDump {
	done := tr.Step("dump")
	d := e.projector.Refresh(ctx, space, rec)
	done()
	e.invalidate(ctx, tr, space)
	e.debug(tr, "record written", zap.String("record_id", rec.RecordID))
	return d
}

// DeleteRecordByID removes record id and its dump.
func (e *Engine) DeleteRecordByID(ctx context.Context, tr *Trace, id string) error {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	space, err := e.spaces.Get(ctx, tr.ProjectSlug, tr.SpaceSlug)
	if err != nil {
		return err
	}
	done := tr.Step("store")
	err = e.records.DeleteOne(ctx, types.Filter{types.IDKey: id, "space_id": space.SpaceID})
	done()
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return fmt.Errorf("%w: %s", types.ErrRecordNotFound, id)
		}
		return err
	}
	if err := e.projector.Delete(ctx, id); err != nil {
		metrics.DumpSyncFailed()
		e.logger.Warn("record dump left behind", append(tr.Fields(), zap.String("record_id", id), zap.Error(err))...)
	}
	e.invalidate(ctx, tr, space)
	return nil
}

// ClearRecords removes every record of the space of tr and reports how
// many there were.
func (e *Engine) ClearRecords(ctx context.Context, tr *Trace) (int64, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	space, err := e.spaces.Get(ctx, tr.ProjectSlug, tr.SpaceSlug)
	if err != nil {
		return 0, err
	}
	return e.clear(ctx, tr, space)
}

func (e *Engine) clear(ctx context.Context, tr *Trace, space *types.RecordSpace) (int64, error) {
	done := tr.Step("clear")
	n, err := e.records.DeleteMany(ctx, types.Filter{"space_id": space.SpaceID})
	done()
	if err != nil {
		return 0, fmt.Errorf("clearing records: %w", err)
	}
	if _, err := e.projector.Clear(ctx, space.SpaceID); err != nil {
		metrics.DumpSyncFailed()
		e.logger.Warn("record dumps left behind after clear", append(tr.Fields(), zap.Error(err))...)
	}
	e.invalidate(ctx, tr, space)
	return n, nil
}

// record loads record id of space.
func (e *Engine) record(ctx context.Context, space *types.RecordSpace, id string) (*types.Record, error) {
	doc, err := e.records.FindOne(ctx, types.Filter{types.IDKey: id, "space_id": space.SpaceID})
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", types.ErrRecordNotFound, id)
		}
		return nil, err
	}
	var rec types.Record
	if err := types.FromDocument(doc, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
