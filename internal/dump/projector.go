// Package dump maintains record dumps: slug-keyed copies of canonical
// records that answer reads without joining field metadata.
package dump

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/shelf/internal/fieldtype"
	"github.com/mesh-intelligence/shelf/internal/metrics"
	"github.com/mesh-intelligence/shelf/pkg/types"
)

// resyncWorkers bounds concurrent dump writes during a resync.
const resyncWorkers = 8

// Project builds the dump of rec. Content of hashed fields, of fields no
// longer defined, and content whose slot does not match the field's current
// type is left out.
func Project(rec *types.Record, fieldsByID map[string]types.FieldDefinition) types.RecordDump {
	data := make(map[string]any, len(rec.Fields))
	for _, c := range rec.Fields {
		f, ok := fieldsByID[c.FieldID]
		if !ok || f.Hashed {
			continue
		}
		rule, ok := fieldtype.Lookup(f.Type)
		if !ok || fieldtype.SlotOf(c) != rule.Slot {
			continue
		}
		data[f.Slug] = c.Value()
	}
	return types.RecordDump{
		RecordID:  rec.RecordID,
		SpaceID:   rec.SpaceID,
		Data:      data,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
}

// Projector writes dumps to the dumps collection.
type Projector struct {
	dumps  types.Collection
	logger *zap.Logger
}

// NewProjector returns a Projector over the dumps collection.
func NewProjector(dumps types.Collection, logger *zap.Logger) *Projector {
	return &Projector{dumps: dumps, logger: logger}
}

// Sync rewrites the stored dump in full, creating it if needed.
func (p *Projector) Sync(ctx context.Context, d types.RecordDump) error {
	doc, err := types.ToDocument(&d)
	if err != nil {
		return err
	}
	if _, err := p.dumps.FindOneAndUpdate(ctx, types.Filter{types.IDKey: d.RecordID}, doc, true); err != nil {
		return fmt.Errorf("syncing dump %s: %w", d.RecordID, err)
	}
	return nil
}

// Refresh projects rec and syncs its dump. A failed sync leaves the
// canonical write standing: it is logged and counted, and the projected
// dump is still returned.
func (p *Projector) Refresh(ctx context.Context, space *types.RecordSpace, rec *types.Record) types.RecordDump {
	d := Project(rec, space.FieldsByID())
	if err := p.Sync(ctx, d); err != nil {
		metrics.DumpSyncFailed()
		p.logger.Warn("record dump out of sync with canonical record",
			zap.String("space_id", space.SpaceID),
			zap.String("record_id", rec.RecordID),
			zap.Error(err))
	}
	return d
}

// Delete removes the dump of recordID. A missing dump is not an error.
func (p *Projector) Delete(ctx context.Context, recordID string) error {
	err := p.dumps.DeleteOne(ctx, types.Filter{types.IDKey: recordID})
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return fmt.Errorf("deleting dump %s: %w", recordID, err)
	}
	return nil
}

// Clear removes every dump of spaceID.
func (p *Projector) Clear(ctx context.Context, spaceID string) (int64, error) {
	n, err := p.dumps.DeleteMany(ctx, types.Filter{"space_id": spaceID})
	if err != nil {
		return 0, fmt.Errorf("clearing dumps of %s: %w", spaceID, err)
	}
	return n, nil
}

// Resync rewrites the dumps of records, as after a field is removed. The
// first failure cancels the remaining writes.
func (p *Projector) Resync(ctx context.Context, space *types.RecordSpace, records []types.Record) error {
	byID := space.FieldsByID()
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(resyncWorkers)
	for i := range records {
		rec := &records[i]
		g.Go(func() error {
			return p.Sync(ctx, Project(rec, byID))
		})
	}
	return g.Wait()
}
