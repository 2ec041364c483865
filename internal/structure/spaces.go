package structure

import (
	"context"
	"errors"
	"fmt"

	"github.com/mesh-intelligence/shelf/pkg/types"
)

// Get loads the record space slug of project. A missing space returns
// types.ErrSpaceNotFound.
func (r *Reconciler) Get(ctx context.Context, project, slug string) (*types.RecordSpace, error) {
	doc, err := r.spaces.FindOne(ctx, types.Filter{types.IDKey: SpaceID(project, slug)})
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s/%s", types.ErrSpaceNotFound, project, slug)
		}
		return nil, err
	}
	var space types.RecordSpace
	if err := types.FromDocument(doc, &space); err != nil {
		return nil, err
	}
	return &space, nil
}

// Lookup is Get that reports a missing space as nil instead of an error.
func (r *Reconciler) Lookup(ctx context.Context, project, slug string) (*types.RecordSpace, error) {
	space, err := r.Get(ctx, project, slug)
	if errors.Is(err, types.ErrSpaceNotFound) {
		return nil, nil
	}
	return space, err
}

// List returns the record spaces of project ordered by slug.
func (r *Reconciler) List(ctx context.Context, project string) ([]types.RecordSpace, error) {
	docs, err := r.spaces.Find(ctx, types.Filter{"project_slug": project}, &types.FindOptions{
		Sort: []types.SortField{{Path: "slug"}},
	})
	if err != nil {
		return nil, fmt.Errorf("listing spaces of %q: %w", project, err)
	}
	spaces := make([]types.RecordSpace, 0, len(docs))
	for _, doc := range docs {
		var space types.RecordSpace
		if err := types.FromDocument(doc, &space); err != nil {
			return nil, err
		}
		spaces = append(spaces, space)
	}
	return spaces, nil
}

// Delete removes the space document. Records and dumps are the caller's to
// clear.
func (r *Reconciler) Delete(ctx context.Context, space *types.RecordSpace) error {
	if err := r.spaces.DeleteOne(ctx, types.Filter{types.IDKey: space.SpaceID}); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return fmt.Errorf("%w: %s/%s", types.ErrSpaceNotFound, space.ProjectSlug, space.Slug)
		}
		return err
	}
	return nil
}

// RemoveField drops the field slug from space. Stored content for the field
// is left in canonical records and ignored from then on.
func (r *Reconciler) RemoveField(ctx context.Context, space *types.RecordSpace, slug string) (*types.RecordSpace, error) {
	field, ok := space.Field(slug)
	if !ok {
		return nil, fmt.Errorf("%w: %q in space %q", types.ErrFieldNotFound, slug, space.Slug)
	}
	kept := make([]types.FieldDefinition, 0, len(space.Fields)-1)
	for _, f := range space.Fields {
		if f.FieldID != field.FieldID {
			kept = append(kept, f)
		}
	}
	return r.replaceFields(ctx, space, kept)
}

// Restore writes a space document read from an export. An existing space
// with the same id is left alone and returned.
func (r *Reconciler) Restore(ctx context.Context, space *types.RecordSpace) (*types.RecordSpace, error) {
	space.SpaceID = SpaceID(space.ProjectSlug, space.Slug)
	space.Fingerprint = HashDefinitions(space.Fields)
	space.HasHashedFields = hasHashed(space.Fields)
	if err := Validate(Declarations(space.Fields)); err != nil {
		return nil, err
	}
	doc, err := types.ToDocument(space)
	if err != nil {
		return nil, err
	}
	if err := r.spaces.Insert(ctx, doc); err != nil {
		if errors.Is(err, types.ErrDuplicateID) {
			return r.Get(ctx, space.ProjectSlug, space.Slug)
		}
		return nil, err
	}
	return space, nil
}
