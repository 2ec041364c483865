package structure

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/shelf/pkg/types"
)

// Outcome reports what Reconcile did to a record space.
type Outcome string

// Reconcile outcomes.
const (
	OutcomeCreated   Outcome = "created"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeMerged    Outcome = "merged"
)

// spaceNamespace scopes deterministic record space ids.
var spaceNamespace = uuid.MustParse("6f1c2a4e-8d0b-4c39-9a57-3e2f1b7d9c10")

// SpaceID returns the id of the record space slug within project. Two
// writers creating the same space race on one id, so only one insert wins.
func SpaceID(project, slug string) string {
	return uuid.NewSHA1(spaceNamespace, []byte(project+"\x00"+types.SlugKey(slug))).String()
}

// Request is one incoming structure for a record space.
type Request struct {
	ProjectSlug   string
	SpaceSlug     string
	Kind          types.SpaceKind
	Incoming      []types.FieldDeclaration
	AllowMutation bool
	AllowCreate   bool
}

// Reconciler keeps record spaces and their field lists in the spaces
// collection.
type Reconciler struct {
	spaces types.Collection
	now    func() time.Time
	newID  func() string
}

// NewReconciler returns a Reconciler over the spaces collection.
func NewReconciler(spaces types.Collection) *Reconciler {
	return &Reconciler{
		spaces: spaces,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  newFieldID,
	}
}

func newFieldID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// Reconcile brings existing in line with req.Incoming. existing is nil when
// no space has the requested slug.
//
// A lost compare-and-set against a concurrent writer returns
// types.ErrStaleStructure; the caller re-reads the space and retries.
func (r *Reconciler) Reconcile(ctx context.Context, existing *types.RecordSpace, req Request) (*types.RecordSpace, Outcome, error) {
	if err := Validate(req.Incoming); err != nil {
		return nil, "", err
	}
	if existing == nil {
		if !req.AllowCreate {
			return nil, "", fmt.Errorf("%w: %s/%s", types.ErrSpaceNotFound, req.ProjectSlug, req.SpaceSlug)
		}
		if !ValidSlug(req.SpaceSlug) {
			return nil, "", fmt.Errorf("%w: space %q", types.ErrInvalidSlug, req.SpaceSlug)
		}
		switch req.Kind {
		case "", types.SpaceKindRows, types.SpaceKindSingle:
		default:
			return nil, "", fmt.Errorf("%w: unknown space kind %q", types.ErrInvalidStructure, req.Kind)
		}
		space, err := r.create(ctx, req)
		if err != nil {
			return nil, "", err
		}
		return space, OutcomeCreated, nil
	}

	if Hash(req.Incoming) == existing.Fingerprint {
		return existing, OutcomeUnchanged, nil
	}
	merged, changed := plan(existing.Fields, req.Incoming, r.now(), r.newID)
	if !req.AllowMutation {
		if len(changed) == 0 {
			return nil, "", fmt.Errorf("%w: space %q structure differs from the stored fields", types.ErrMutationNotAllowed, existing.Slug)
		}
		return nil, "", fmt.Errorf("%w: space %q would change fields %v", types.ErrMutationNotAllowed, existing.Slug, changed)
	}
	if len(changed) == 0 {
		// Every incoming field already matches; the stored space only has
		// extra fields.
		return existing, OutcomeUnchanged, nil
	}
	space, err := r.replaceFields(ctx, existing, merged)
	if err != nil {
		return nil, "", err
	}
	return space, OutcomeMerged, nil
}

func (r *Reconciler) create(ctx context.Context, req Request) (*types.RecordSpace, error) {
	now := r.now()
	kind := req.Kind
	if kind == "" {
		kind = types.SpaceKindRows
	}
	defs := make([]types.FieldDefinition, len(req.Incoming))
	for i, d := range req.Incoming {
		defs[i] = definition(r.newID(), d, now)
	}
	space := &types.RecordSpace{
		SpaceID:         SpaceID(req.ProjectSlug, req.SpaceSlug),
		ProjectSlug:     req.ProjectSlug,
		Slug:            req.SpaceSlug,
		Kind:            kind,
		Fields:          defs,
		Fingerprint:     HashDefinitions(defs),
		HasHashedFields: hasHashed(defs),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	doc, err := types.ToDocument(space)
	if err != nil {
		return nil, err
	}
	if err := r.spaces.Insert(ctx, doc); err != nil {
		if errors.Is(err, types.ErrDuplicateID) {
			return nil, fmt.Errorf("%w: space %q created concurrently", types.ErrStaleStructure, req.SpaceSlug)
		}
		return nil, fmt.Errorf("creating space %q: %w", req.SpaceSlug, err)
	}
	return space, nil
}

// replaceFields stores fields on space if its fingerprint is still the one
// that was read. Fields, fingerprint and hashed flag change in one document
// update, so they never disagree.
func (r *Reconciler) replaceFields(ctx context.Context, space *types.RecordSpace, fields []types.FieldDefinition) (*types.RecordSpace, error) {
	next := *space
	next.Fields = fields
	next.Fingerprint = HashDefinitions(fields)
	next.HasHashedFields = hasHashed(fields)
	next.UpdatedAt = r.now()

	doc, err := types.ToDocument(&next)
	if err != nil {
		return nil, err
	}
	set := types.Document{
		"fields":            doc["fields"],
		"fingerprint":       doc["fingerprint"],
		"has_hashed_fields": doc["has_hashed_fields"],
		"updated_at":        doc["updated_at"],
	}
	filter := types.Filter{types.IDKey: space.SpaceID, "fingerprint": space.Fingerprint}
	if _, err := r.spaces.FindOneAndUpdate(ctx, filter, set, false); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, fmt.Errorf("%w: space %q", types.ErrStaleStructure, space.Slug)
		}
		return nil, fmt.Errorf("updating space %q: %w", space.Slug, err)
	}
	return &next, nil
}

// plan merges incoming into stored by slug. Stored fields absent from
// incoming are kept. changed lists the slugs that were added or altered.
func plan(stored []types.FieldDefinition, incoming []types.FieldDeclaration, now time.Time, newID func() string) ([]types.FieldDefinition, []string) {
	merged := make([]types.FieldDefinition, len(stored))
	copy(merged, stored)
	index := make(map[string]int, len(stored))
	for i, f := range stored {
		index[types.SlugKey(f.Slug)] = i
	}

	var changed []string
	for _, d := range incoming {
		i, ok := index[types.SlugKey(d.Slug)]
		if !ok {
			index[types.SlugKey(d.Slug)] = len(merged)
			merged = append(merged, definition(newID(), d, now))
			changed = append(changed, d.Slug)
			continue
		}
		cur := merged[i]
		// Slugs are immutable once stored; only the attributes follow the
		// incoming declaration.
		d.Slug = cur.Slug
		if sameDeclaration(cur.Declaration(), d) {
			continue
		}
		cur.Type = d.Type
		cur.Required = d.Required
		cur.Unique = d.Unique
		cur.Hashed = d.Hashed
		cur.Default = d.Default
		cur.UpdatedAt = now
		merged[i] = cur
		changed = append(changed, cur.Slug)
	}
	return merged, changed
}

func definition(id string, d types.FieldDeclaration, now time.Time) types.FieldDefinition {
	return types.FieldDefinition{
		FieldID:   id,
		Slug:      d.Slug,
		Type:      d.Type,
		Required:  d.Required,
		Unique:    d.Unique,
		Hashed:    d.Hashed,
		Default:   d.Default,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func hasHashed(defs []types.FieldDefinition) bool {
	for _, d := range defs {
		if d.Hashed {
			return true
		}
	}
	return false
}
