package dump

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mesh-intelligence/shelf/internal/docstore"
	"github.com/mesh-intelligence/shelf/pkg/types"
)

func ptr[T any](v T) *T { return &v }

func testSpace() *types.RecordSpace {
	return &types.RecordSpace{
		SpaceID: "s1",
		Slug:    "users",
		Fields: []types.FieldDefinition{
			{FieldID: "f-name", Slug: "name", Type: types.FieldTypeText},
			{FieldID: "f-age", Slug: "age", Type: types.FieldTypeNumber},
			{FieldID: "f-pin", Slug: "pin", Type: types.FieldTypeText, Hashed: true},
			{FieldID: "f-tags", Slug: "tags", Type: types.FieldTypeArray},
		},
	}
}

func testRecord(id, name string) *types.Record {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return &types.Record{
		RecordID: id,
		SpaceID:  "s1",
		Fields: []types.FieldContent{
			{FieldID: "f-name", Text: ptr(name)},
			{FieldID: "f-age", Number: ptr(36.0)},
			{FieldID: "f-pin", Text: ptr("$2a$04$hash")},
			{FieldID: "f-tags", Array: []any{"a"}},
			{FieldID: "f-removed", Text: ptr("orphan")},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestProjectExcludesHashedAndOrphanedContent(t *testing.T) {
	d := Project(testRecord("r1", "Ada"), testSpace().FieldsByID())
	assert.Equal(t, "r1", d.RecordID)
	assert.Equal(t, "s1", d.SpaceID)
	assert.Equal(t, map[string]any{
		"name": "Ada",
		"age":  36.0,
		"tags": []any{"a"},
	}, d.Data)
}

func TestProjectSkipsContentOfChangedType(t *testing.T) {
	space := testSpace()
	space.Fields[1].Type = types.FieldTypeText
	d := Project(testRecord("r1", "Ada"), space.FieldsByID())
	assert.NotContains(t, d.Data, "age")
}

func TestSyncRewritesInFull(t *testing.T) {
	ctx := context.Background()
	coll := docstore.NewMemoryStore().Collection(types.DumpsCollection)
	p := NewProjector(coll, zaptest.NewLogger(t))
	space := testSpace()

	rec := testRecord("r1", "Ada")
	require.NoError(t, p.Sync(ctx, Project(rec, space.FieldsByID())))

	rec.Fields = rec.Fields[:1]
	rec.Fields[0].Text = ptr("Grace")
	require.NoError(t, p.Sync(ctx, Project(rec, space.FieldsByID())))

	doc, err := coll.FindOne(ctx, types.Filter{"_id": "r1"})
	require.NoError(t, err)
	var got types.RecordDump
	require.NoError(t, types.FromDocument(doc, &got))
	assert.Equal(t, map[string]any{"name": "Grace"}, got.Data)
}

type failingCollection struct {
	types.Collection
}

func (failingCollection) FindOneAndUpdate(context.Context, types.Filter, types.Document, bool) (types.Document, error) {
	return nil, docstore.Transient("find one and update", context.DeadlineExceeded)
}

func TestRefreshLogsAndContinuesOnFailure(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	p := NewProjector(failingCollection{}, zap.New(core))

	d := p.Refresh(context.Background(), testSpace(), testRecord("r1", "Ada"))
	assert.Equal(t, "Ada", d.Data["name"])

	entries := logs.FilterField(zap.String("record_id", "r1")).All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
}

func TestDeleteClearResync(t *testing.T) {
	ctx := context.Background()
	coll := docstore.NewMemoryStore().Collection(types.DumpsCollection)
	p := NewProjector(coll, zap.NewNop())
	space := testSpace()

	records := []types.Record{*testRecord("r1", "Ada"), *testRecord("r2", "Grace"), *testRecord("r3", "Linus")}
	require.NoError(t, p.Resync(ctx, space, records))

	// Removing a field and resyncing drops it from every dump.
	space.Fields = space.Fields[:1]
	require.NoError(t, p.Resync(ctx, space, records))
	docs, err := coll.Find(ctx, types.Filter{"data.age": map[string]any{"$exists": true}}, nil)
	require.NoError(t, err)
	assert.Empty(t, docs)

	require.NoError(t, p.Delete(ctx, "r1"))
	require.NoError(t, p.Delete(ctx, "r1"))

	n, err := p.Clear(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
