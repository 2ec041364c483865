package structure

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/shelf/internal/docstore"
	"github.com/mesh-intelligence/shelf/pkg/types"
)

var fixedNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newTestReconciler() (*Reconciler, types.Collection) {
	coll := docstore.NewMemoryStore().Collection(types.SpacesCollection)
	r := NewReconciler(coll)
	r.now = func() time.Time { return fixedNow }
	n := 0
	var mu sync.Mutex
	r.newID = func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("field-%d", n)
	}
	return r, coll
}

func createRequest(fields []types.FieldDeclaration) Request {
	return Request{
		ProjectSlug: "acme",
		SpaceSlug:   "users",
		Incoming:    fields,
		AllowCreate: true,
	}
}

func TestReconcileCreatesSpace(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestReconciler()

	space, outcome, err := r.Reconcile(ctx, nil, createRequest(baseStructure()))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome)
	assert.Equal(t, SpaceID("acme", "users"), space.SpaceID)
	assert.Equal(t, types.SpaceKindRows, space.Kind)
	assert.Len(t, space.Fields, 4)
	assert.True(t, space.HasHashedFields)
	assert.Equal(t, Hash(baseStructure()), space.Fingerprint)

	stored, err := r.Get(ctx, "acme", "USERS")
	require.NoError(t, err)
	assert.Equal(t, space.Fingerprint, stored.Fingerprint)
	assert.Equal(t, space.Slugs(), stored.Slugs())
}

func TestReconcileCreateNotAllowed(t *testing.T) {
	r, _ := newTestReconciler()
	req := createRequest(baseStructure())
	req.AllowCreate = false

	_, _, err := r.Reconcile(context.Background(), nil, req)
	assert.ErrorIs(t, err, types.ErrSpaceNotFound)
}

func TestReconcileUnchanged(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestReconciler()
	space, _, err := r.Reconcile(ctx, nil, createRequest(baseStructure()))
	require.NoError(t, err)

	reordered := baseStructure()
	reordered[0], reordered[3] = reordered[3], reordered[0]
	got, outcome, err := r.Reconcile(ctx, space, createRequest(reordered))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, outcome)
	assert.Same(t, space, got)

}

func TestReconcileSubset(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestReconciler()
	space, _, err := r.Reconcile(ctx, nil, createRequest(baseStructure()))
	require.NoError(t, err)

	subset := createRequest(baseStructure()[:1])
	require.NotEqual(t, space.Fingerprint, Hash(subset.Incoming))

	_, _, err = r.Reconcile(ctx, space, subset)
	assert.ErrorIs(t, err, types.ErrMutationNotAllowed)
	assert.ErrorIs(t, err, types.ErrConflict)

	// With mutation allowed the merge changes nothing and keeps the extra
	// stored fields.
	subset.AllowMutation = true
	got, outcome, err := r.Reconcile(ctx, space, subset)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, outcome)
	assert.Same(t, space, got)
	assert.Len(t, got.Fields, 4)
}

func TestReconcileMutationNotAllowedLeavesFieldsUntouched(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestReconciler()
	space, _, err := r.Reconcile(ctx, nil, createRequest(baseStructure()))
	require.NoError(t, err)

	changed := baseStructure()
	changed[3].Type = types.FieldTypeText
	changed[3].Default = nil
	_, _, err = r.Reconcile(ctx, space, createRequest(changed))
	assert.ErrorIs(t, err, types.ErrMutationNotAllowed)
	assert.ErrorIs(t, err, types.ErrConflict)

	stored, err := r.Get(ctx, "acme", "users")
	require.NoError(t, err)
	assert.Equal(t, space.Fingerprint, stored.Fingerprint)
	age, ok := stored.Field("age")
	require.True(t, ok)
	assert.Equal(t, types.FieldTypeNumber, age.Type)
}

func TestReconcileMergeIsAdditive(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestReconciler()
	space, _, err := r.Reconcile(ctx, nil, createRequest(baseStructure()))
	require.NoError(t, err)
	nameID := space.Fields[0].FieldID

	req := createRequest([]types.FieldDeclaration{
		{Slug: "NAME", Type: types.FieldTypeText, Required: false},
		{Slug: "active", Type: types.FieldTypeBoolean},
	})
	req.AllowMutation = true
	merged, outcome, err := r.Reconcile(ctx, space, req)
	require.NoError(t, err)
	assert.Equal(t, OutcomeMerged, outcome)
	assert.Equal(t, []string{"name", "email", "password", "age", "active"}, merged.Slugs())

	name, ok := merged.Field("name")
	require.True(t, ok)
	assert.Equal(t, nameID, name.FieldID, "field identity survives a merge")
	assert.Equal(t, "name", name.Slug, "stored slug is immutable")
	assert.False(t, name.Required)
	assert.Equal(t, HashDefinitions(merged.Fields), merged.Fingerprint)

	stored, err := r.Get(ctx, "acme", "users")
	require.NoError(t, err)
	assert.Equal(t, merged.Fingerprint, stored.Fingerprint)
	assert.Equal(t, HashDefinitions(stored.Fields), stored.Fingerprint)
}

func TestReconcileRecomputesHashedFlag(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestReconciler()
	space, _, err := r.Reconcile(ctx, nil, createRequest([]types.FieldDeclaration{
		{Slug: "token", Type: types.FieldTypeText, Hashed: true},
	}))
	require.NoError(t, err)
	require.True(t, space.HasHashedFields)

	req := createRequest([]types.FieldDeclaration{{Slug: "token", Type: types.FieldTypeText}})
	req.AllowMutation = true
	merged, _, err := r.Reconcile(ctx, space, req)
	require.NoError(t, err)
	assert.False(t, merged.HasHashedFields)
}

func TestReconcileStaleCompareAndSet(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestReconciler()
	space, _, err := r.Reconcile(ctx, nil, createRequest(baseStructure()))
	require.NoError(t, err)

	first := createRequest([]types.FieldDeclaration{{Slug: "a", Type: types.FieldTypeText}})
	first.AllowMutation = true
	_, _, err = r.Reconcile(ctx, space, first)
	require.NoError(t, err)

	// space is now a stale read.
	second := createRequest([]types.FieldDeclaration{{Slug: "b", Type: types.FieldTypeText}})
	second.AllowMutation = true
	_, _, err = r.Reconcile(ctx, space, second)
	assert.ErrorIs(t, err, types.ErrStaleStructure)

	stored, err := r.Get(ctx, "acme", "users")
	require.NoError(t, err)
	assert.Equal(t, HashDefinitions(stored.Fields), stored.Fingerprint)
	_, hasB := stored.Field("b")
	assert.False(t, hasB)
}

func TestReconcileConcurrentCreateHasOneWinner(t *testing.T) {
	ctx := context.Background()
	r, coll := newTestReconciler()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		stale   int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := r.Reconcile(ctx, nil, createRequest(baseStructure()))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case assert.ErrorIs(t, err, types.ErrStaleStructure):
				stale++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, created)
	assert.Equal(t, 7, stale)

	docs, err := coll.Find(ctx, types.Filter{}, nil)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestReconcileRejectsInvalidStructureBeforeStorage(t *testing.T) {
	ctx := context.Background()
	r, coll := newTestReconciler()

	_, _, err := r.Reconcile(ctx, nil, createRequest([]types.FieldDeclaration{
		{Slug: "a", Type: types.FieldTypeText},
		{Slug: "A", Type: types.FieldTypeNumber},
	}))
	assert.ErrorIs(t, err, types.ErrDuplicateSlug)

	docs, err := coll.Find(ctx, types.Filter{}, nil)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestSpaceAdministration(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestReconciler()
	for _, slug := range []string{"orders", "users"} {
		req := createRequest(baseStructure())
		req.SpaceSlug = slug
		_, _, err := r.Reconcile(ctx, nil, req)
		require.NoError(t, err)
	}
	other := createRequest(baseStructure())
	other.ProjectSlug = "other"
	_, _, err := r.Reconcile(ctx, nil, other)
	require.NoError(t, err)

	spaces, err := r.List(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, spaces, 2)
	assert.Equal(t, "orders", spaces[0].Slug)

	users, err := r.Get(ctx, "acme", "users")
	require.NoError(t, err)
	trimmed, err := r.RemoveField(ctx, users, "password")
	require.NoError(t, err)
	assert.False(t, trimmed.HasHashedFields)
	assert.Equal(t, []string{"name", "email", "age"}, trimmed.Slugs())

	_, err = r.RemoveField(ctx, trimmed, "password")
	assert.ErrorIs(t, err, types.ErrFieldNotFound)

	require.NoError(t, r.Delete(ctx, trimmed))
	_, err = r.Get(ctx, "acme", "users")
	assert.ErrorIs(t, err, types.ErrSpaceNotFound)
	missing, err := r.Lookup(ctx, "acme", "users")
	require.NoError(t, err)
	assert.Nil(t, missing)
	assert.ErrorIs(t, r.Delete(ctx, trimmed), types.ErrSpaceNotFound)
}

func TestInfer(t *testing.T) {
	decls, err := Infer(map[string]any{
		"name":  "Ada",
		"age":   float64(36),
		"admin": true,
		"meta":  map[string]any{"a": 1},
		"tags":  []any{"x"},
		"gone":  nil,
	})
	require.NoError(t, err)
	assert.Equal(t, []types.FieldDeclaration{
		{Slug: "admin", Type: types.FieldTypeBoolean},
		{Slug: "age", Type: types.FieldTypeNumber},
		{Slug: "meta", Type: types.FieldTypeObject},
		{Slug: "name", Type: types.FieldTypeText},
		{Slug: "tags", Type: types.FieldTypeArray},
	}, decls)

	_, err = Infer(map[string]any{"bad": struct{}{}})
	assert.ErrorIs(t, err, types.ErrInvalidStructure)
}

func TestReconcileRejectsInvalidSpaceSlug(t *testing.T) {
	r, _ := newTestReconciler()
	req := createRequest(baseStructure())
	req.SpaceSlug = "bad slug"
	_, _, err := r.Reconcile(context.Background(), nil, req)
	assert.ErrorIs(t, err, types.ErrInvalidSlug)
}

func TestReconcileRejectsUnknownKind(t *testing.T) {
	r, _ := newTestReconciler()
	req := createRequest(baseStructure())
	req.Kind = "table"

	_, _, err := r.Reconcile(context.Background(), nil, req)
	assert.ErrorIs(t, err, types.ErrInvalidStructure)
}
