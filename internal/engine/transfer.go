package engine

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/shelf/internal/docstore"
	"github.com/mesh-intelligence/shelf/internal/metrics"
	"github.com/mesh-intelligence/shelf/pkg/types"
)

// Entry types of an export stream.
const (
	EntrySpace  = "space"
	EntryRecord = "record"
)

// ImportResult summarizes an import.
type ImportResult struct {
	Space    *types.RecordSpace
	Imported int
	// Skipped counts records whose id already exists.
	Skipped int
	// Malformed counts lines that were not a space or record entry.
	Malformed int
}

// ExportSpace writes the space of tr and its canonical records to w as
// JSON lines. The space entry comes first.
func (e *Engine) ExportSpace(ctx context.Context, tr *Trace, w io.Writer) (int, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	space, err := e.spaces.Get(ctx, tr.ProjectSlug, tr.SpaceSlug)
	if err != nil {
		return 0, err
	}
	spaceDoc, err := types.ToDocument(space)
	if err != nil {
		return 0, err
	}
	records, err := e.records.Find(ctx, types.Filter{"space_id": space.SpaceID},
		&types.FindOptions{Sort: []types.SortField{{Path: "created_at"}, {Path: types.IDKey}}})
	if err != nil {
		return 0, err
	}

	entries := make([]types.Document, 0, len(records)+1)
	entries = append(entries, types.Document{"type": EntrySpace, "doc": spaceDoc})
	for _, doc := range records {
		entries = append(entries, types.Document{"type": EntryRecord, "doc": doc})
	}
	if err := docstore.WriteJSONL(w, entries); err != nil {
		return 0, err
	}
	e.logger.Info("record space exported", append(tr.Fields(), zap.Int("records", len(records)))...)
	return len(records), nil
}

// ImportSpace reads an export from r into the space of tr. A missing space
// is created from the exported structure. Record content is matched to the
// target fields by slug; content for fields the target lacks is dropped.
// Hashed values are restored as stored and are not hashed again.
//
// Importing back into the exported space keeps record ids and skips the
// ones already present. Importing into another space copies the records
// under new ids.
func (e *Engine) ImportSpace(ctx context.Context, tr *Trace, r io.Reader) (ImportResult, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	entries, malformed, err := docstore.ReadJSONL(r)
	if err != nil {
		return ImportResult{}, err
	}
	res := ImportResult{Malformed: malformed}

	var (
		exported *types.RecordSpace
		records  []types.Record
	)
	for _, entry := range entries {
		doc, ok := entry["doc"].(map[string]any)
		if !ok {
			res.Malformed++
			continue
		}
		switch entry["type"] {
		case EntrySpace:
			if exported != nil {
				return res, fmt.Errorf("%w: export holds more than one space", types.ErrInvalidStructure)
			}
			exported = new(types.RecordSpace)
			if err := types.FromDocument(doc, exported); err != nil {
				return res, fmt.Errorf("%w: %w", types.ErrInvalidStructure, err)
			}
		case EntryRecord:
			var rec types.Record
			if err := types.FromDocument(doc, &rec); err != nil || rec.RecordID == "" {
				res.Malformed++
				continue
			}
			records = append(records, rec)
		default:
			res.Malformed++
		}
	}
	if exported == nil {
		return res, fmt.Errorf("%w: export holds no space", types.ErrInvalidStructure)
	}

	// Field ids of the export become the target's ids for the same slug.
	exportedSlugs := make(map[string]string, len(exported.Fields))
	for _, f := range exported.Fields {
		exportedSlugs[f.FieldID] = types.SlugKey(f.Slug)
	}
	sourceID := exported.SpaceID
	exported.ProjectSlug = tr.ProjectSlug
	exported.Slug = tr.SpaceSlug
	space, err := e.spaces.Restore(ctx, exported)
	if err != nil {
		return res, err
	}
	res.Space = space
	copying := sourceID != space.SpaceID
	targetIDs := make(map[string]string, len(space.Fields))
	for _, f := range space.Fields {
		targetIDs[types.SlugKey(f.Slug)] = f.FieldID
	}

	done := tr.Step("store")
	for i := range records {
		rec := &records[i]
		rec.SpaceID = space.SpaceID
		if copying {
			rec.RecordID = e.newID()
		}
		fields := rec.Fields[:0]
		for _, c := range rec.Fields {
			if id, ok := targetIDs[exportedSlugs[c.FieldID]]; ok {
				c.FieldID = id
				fields = append(fields, c)
			}
		}
		rec.Fields = fields
		doc, err := types.ToDocument(rec)
		if err != nil {
			done()
			return res, err
		}
		if err := e.records.Insert(ctx, doc); err != nil {
			if errors.Is(err, types.ErrDuplicateID) {
				res.Skipped++
				continue
			}
			done()
			return res, fmt.Errorf("importing record %s: %w", rec.RecordID, err)
		}
		res.Imported++
	}
	done()

	all, err := e.spaceRecords(ctx, space)
	if err != nil {
		return res, err
	}
	if err := e.projector.Resync(ctx, space, all); err != nil {
		metrics.DumpSyncFailed()
		e.logger.Warn("record dumps out of sync after import", append(tr.Fields(), zap.Error(err))...)
	}
	e.invalidate(ctx, tr, space)
	e.logger.Info("record space imported", append(tr.Fields(),
		zap.Int("imported", res.Imported), zap.Int("skipped", res.Skipped), zap.Int("malformed", res.Malformed))...)
	return res, nil
}
