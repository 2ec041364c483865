package engine

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"github.com/mesh-intelligence/shelf/internal/docstore"
	"github.com/mesh-intelligence/shelf/internal/qcache"
	"github.com/mesh-intelligence/shelf/internal/syntax"
	"github.com/mesh-intelligence/shelf/pkg/types"
)

type fixture struct {
	engine *Engine
	store  *docstore.MemoryStore
}

func newFixture(t *testing.T, opts ...func(*types.Config)) fixture {
	t.Helper()
	cfg := types.DefaultConfig()
	cfg.Backend = types.BackendMemory
	cfg.HashCost = bcrypt.MinCost
	for _, o := range opts {
		o(&cfg)
	}
	store := docstore.NewMemoryStore()
	e := New(store, qcache.NewMemoryDriver(time.Minute), cfg, zaptest.NewLogger(t))
	return fixture{engine: e, store: store}
}

func trace(space string) *Trace {
	return NewTrace(Scope{ProjectSlug: "acme", SpaceSlug: space, CallerID: "tester"}, "req-1")
}

func userStructure() []types.FieldDeclaration {
	return []types.FieldDeclaration{
		{Slug: "name", Type: types.FieldTypeText, Required: true, Unique: true},
		{Slug: "age", Type: types.FieldTypeNumber, Default: 0.0},
		{Slug: "password", Type: types.FieldTypeText, Hashed: true},
		{Slug: "tags", Type: types.FieldTypeArray},
	}
}

func declareUsers(t *testing.T, f fixture) *types.RecordSpace {
	t.Helper()
	space, err := f.engine.DeclareSpace(context.Background(), trace("users"), userStructure(), "", false)
	require.NoError(t, err)
	return space
}

func addUser(t *testing.T, f fixture, body map[string]any) types.RecordDump {
	t.Helper()
	d, err := f.engine.AddRecord(context.Background(), trace("users"), body, WriteOptions{})
	require.NoError(t, err)
	return d
}

func TestAddRecordWritesCanonicalAndDump(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	space := declareUsers(t, f)

	d := addUser(t, f, map[string]any{"name": "ada", "password": "secret123"})
	assert.Equal(t, space.SpaceID, d.SpaceID)
	assert.Equal(t, map[string]any{"name": "ada", "age": 0.0}, d.Data)

	got, err := f.engine.GetRecordByID(ctx, trace("users"), d.RecordID)
	require.NoError(t, err)
	assert.Equal(t, d.Data, got.Data)
	assert.NotContains(t, got.Data, "password")

	rec, err := f.engine.record(ctx, space, d.RecordID)
	require.NoError(t, err)
	pw, _ := space.Field("password")
	c, ok := rec.Content(pw.FieldID)
	require.True(t, ok)
	require.NotNil(t, c.Text)
	assert.NotEqual(t, "secret123", *c.Text)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(*c.Text), []byte("secret123")))
}

func TestAddRecordValidation(t *testing.T) {
	f := newFixture(t)
	declareUsers(t, f)
	tr := trace("users")

	_, err := f.engine.AddRecord(context.Background(), tr, map[string]any{"age": "old", "color": "red"}, WriteOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrRequiredOmitted)
	assert.ErrorIs(t, err, types.ErrTypeMismatch)
	assert.ErrorIs(t, err, types.ErrFieldNotAllowed)
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestAddRecordInfersNewSpace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tr := trace("notes")

	d, err := f.engine.AddRecord(ctx, tr, map[string]any{"title": "hi", "stars": 3.0}, WriteOptions{})
	require.NoError(t, err)
	assert.Equal(t, "hi", d.Data["title"])

	space, err := f.engine.GetSpace(ctx, tr)
	require.NoError(t, err)
	assert.Equal(t, []string{"stars", "title"}, space.Slugs())
}

func TestAddRecordWithoutAutoCreate(t *testing.T) {
	f := newFixture(t, func(c *types.Config) { c.AutoCreateSpaces = false })

	_, err := f.engine.AddRecord(context.Background(), trace("notes"), map[string]any{"title": "hi"}, WriteOptions{})
	assert.ErrorIs(t, err, types.ErrSpaceNotFound)

	_, err = f.engine.AddRecord(context.Background(), trace("notes"), map[string]any{"title": "hi"},
		WriteOptions{Structure: []types.FieldDeclaration{{Slug: "title", Type: types.FieldTypeText}}})
	assert.ErrorIs(t, err, types.ErrSpaceNotFound)
}

func TestStructureChangeNeedsMutation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	declareUsers(t, f)
	tr := trace("users")

	grown := append(userStructure(), types.FieldDeclaration{Slug: "email", Type: types.FieldTypeText})
	body := map[string]any{"name": "ada", "email": "ada@example.com"}

	_, err := f.engine.AddRecord(ctx, tr, body, WriteOptions{Structure: grown})
	assert.ErrorIs(t, err, types.ErrMutationNotAllowed)

	d, err := f.engine.AddRecord(ctx, tr, body, WriteOptions{Structure: grown, MutateStructure: true})
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", d.Data["email"])

	// The same declaration again is unchanged, mutation flag or not.
	_, err = f.engine.AddRecord(ctx, tr, map[string]any{"name": "bob"}, WriteOptions{Structure: grown})
	require.NoError(t, err)
}

func TestUniqueFields(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	declareUsers(t, f)
	tr := trace("users")

	ada := addUser(t, f, map[string]any{"name": "ada"})
	_, err := f.engine.AddRecord(ctx, tr, map[string]any{"name": "ada"}, WriteOptions{})
	assert.ErrorIs(t, err, types.ErrUniqueViolation)
	assert.ErrorIs(t, err, types.ErrConflict)

	// A record keeps its own unique value across updates.
	_, err = f.engine.UpdateRecordByID(ctx, tr, ada.RecordID, map[string]any{"name": "ada", "age": 36}, WriteOptions{})
	require.NoError(t, err)

	bob := addUser(t, f, map[string]any{"name": "bob"})
	_, err = f.engine.UpdateRecordByID(ctx, tr, bob.RecordID, map[string]any{"name": "ada"}, WriteOptions{})
	assert.ErrorIs(t, err, types.ErrUniqueViolation)
}

func TestHashedUniqueField(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tr := trace("keys")
	_, err := f.engine.DeclareSpace(ctx, tr, []types.FieldDeclaration{
		{Slug: "token", Type: types.FieldTypeText, Hashed: true, Unique: true},
	}, "", false)
	require.NoError(t, err)

	_, err = f.engine.AddRecord(ctx, tr, map[string]any{"token": "t-1"}, WriteOptions{})
	require.NoError(t, err)
	_, err = f.engine.AddRecord(ctx, tr, map[string]any{"token": "t-2"}, WriteOptions{})
	require.NoError(t, err)
	_, err = f.engine.AddRecord(ctx, tr, map[string]any{"token": "t-1"}, WriteOptions{})
	assert.ErrorIs(t, err, types.ErrUniqueViolation)
}

func TestUpdateRecordMerges(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	declareUsers(t, f)
	tr := trace("users")

	d := addUser(t, f, map[string]any{"name": "ada", "age": 36, "tags": []any{"math"}})
	upd, err := f.engine.UpdateRecordByID(ctx, tr, d.RecordID, map[string]any{"age": 37}, WriteOptions{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "ada", "age": 37.0, "tags": []any{"math"}}, upd.Data)
	assert.True(t, d.CreatedAt.Equal(upd.CreatedAt))

	same, err := f.engine.UpdateRecordByID(ctx, tr, d.RecordID, map[string]any{}, WriteOptions{})
	require.NoError(t, err)
	assert.Equal(t, upd.Data, same.Data)
	assert.True(t, upd.UpdatedAt.Equal(same.UpdatedAt))

	_, err = f.engine.UpdateRecordByID(ctx, tr, "missing", map[string]any{"age": 1}, WriteOptions{})
	assert.ErrorIs(t, err, types.ErrRecordNotFound)
}

func TestSingleKindSpaceMerges(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tr := trace("settings")
	wo := WriteOptions{Kind: types.SpaceKindSingle}

	first, err := f.engine.AddRecord(ctx, tr, map[string]any{"theme": "dark"}, wo)
	require.NoError(t, err)

	_, err = f.engine.DeclareSpace(ctx, tr, []types.FieldDeclaration{
		{Slug: "theme", Type: types.FieldTypeText},
		{Slug: "lang", Type: types.FieldTypeText},
	}, types.SpaceKindSingle, true)
	require.NoError(t, err)

	second, err := f.engine.AddRecord(ctx, tr, map[string]any{"lang": "en"}, wo)
	require.NoError(t, err)
	assert.Equal(t, first.RecordID, second.RecordID)
	assert.Equal(t, map[string]any{"theme": "dark", "lang": "en"}, second.Data)

	all, err := f.engine.GetRecords(ctx, tr, nil, ReadOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestGetRecordsQueries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	declareUsers(t, f)
	tr := trace("users")
	addUser(t, f, map[string]any{"name": "ada", "age": 36})
	addUser(t, f, map[string]any{"name": "bob", "age": 20})
	addUser(t, f, map[string]any{"name": "cy", "age": 36})

	names := func(ds []types.RecordDump) []any {
		out := make([]any, len(ds))
		for i, d := range ds {
			out[i] = d.Data["name"]
		}
		return out
	}

	all, err := f.engine.GetRecords(ctx, tr, map[string]any{}, ReadOptions{Sort: "name"})
	require.NoError(t, err)
	assert.Equal(t, []any{"ada", "bob", "cy"}, names(all))

	aged, err := f.engine.GetRecords(ctx, tr, map[string]any{"age": "36"}, ReadOptions{Sort: "-name"})
	require.NoError(t, err)
	assert.Equal(t, []any{"cy", "ada"}, names(aged))

	either, err := f.engine.GetRecords(ctx, tr, map[string]any{"name": "bob", "age": 36},
		ReadOptions{Relationship: syntax.Or, Sort: "name"})
	require.NoError(t, err)
	assert.Equal(t, []any{"ada", "bob", "cy"}, names(either))

	page, err := f.engine.GetRecords(ctx, tr, nil, ReadOptions{Sort: "name", Offset: 1, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []any{"bob"}, names(page))

	_, err = f.engine.GetRecords(ctx, tr, map[string]any{"colour": "red"}, ReadOptions{})
	assert.ErrorIs(t, err, types.ErrUnknownField)

	_, err = f.engine.GetRecords(ctx, tr, nil, ReadOptions{Sort: "password"})
	assert.ErrorIs(t, err, types.ErrInvalidQuery)
}

func TestHashedQuery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	declareUsers(t, f)
	tr := trace("users")
	ada := addUser(t, f, map[string]any{"name": "ada", "password": "secret123"})
	addUser(t, f, map[string]any{"name": "bob", "password": "hunter2"})

	got, err := f.engine.GetRecords(ctx, tr, map[string]any{"password": "secret123"}, ReadOptions{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ada.RecordID, got[0].RecordID)

	got, err = f.engine.GetRecords(ctx, tr, map[string]any{"password": "nope"}, ReadOptions{})
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = f.engine.GetRecords(ctx, tr, map[string]any{"name": "bob", "password": "secret123"}, ReadOptions{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestHashedQueryUnderOr(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	declareUsers(t, f)
	tr := trace("users")
	addUser(t, f, map[string]any{"name": "ada", "age": 30.0, "password": "secret123"})
	addUser(t, f, map[string]any{"name": "bob", "age": 40.0, "password": "hunter2"})
	addUser(t, f, map[string]any{"name": "cy", "age": 30.0, "password": "hunter2"})
	or := ReadOptions{Relationship: syntax.Or, Sort: "name"}

	names := func(ds []types.RecordDump) []any {
		out := make([]any, len(ds))
		for i, d := range ds {
			out[i] = d.Data["name"]
		}
		return out
	}

	// name or age pick ada and bob; the password must then match, which
	// leaves bob. cy matches the password but is never a candidate.
	got, err := f.engine.GetRecords(ctx, tr, map[string]any{"name": "ada", "age": 40.0, "password": "hunter2"}, or)
	require.NoError(t, err)
	assert.Equal(t, []any{"bob"}, names(got))

	got, err = f.engine.GetRecords(ctx, tr, map[string]any{"name": "ada", "password": "hunter2"}, or)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = f.engine.GetRecords(ctx, tr, map[string]any{"name": "ada", "password": "secret123"}, or)
	require.NoError(t, err)
	assert.Equal(t, []any{"ada"}, names(got))

	got, err = f.engine.GetRecords(ctx, tr, map[string]any{"password": "hunter2"}, or)
	require.NoError(t, err)
	assert.Equal(t, []any{"bob", "cy"}, names(got))
}

// queryCacheCount reads the query cache counter for result from the
// default registry.
func queryCacheCount(t *testing.T, result string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "shelf_query_cache_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "result" && l.GetValue() == result {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestGetRecordsCountsEachCacheLookupOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	declareUsers(t, f)
	tr := trace("users")
	addUser(t, f, map[string]any{"name": "ada"})
	query := map[string]any{"name": "ada"}

	misses, hits := queryCacheCount(t, "miss"), queryCacheCount(t, "hit")
	_, err := f.engine.GetRecords(ctx, tr, query, ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, misses+1, queryCacheCount(t, "miss"))
	assert.Equal(t, hits, queryCacheCount(t, "hit"))

	_, err = f.engine.GetRecords(ctx, tr, query, ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, misses+1, queryCacheCount(t, "miss"))
	assert.Equal(t, hits+1, queryCacheCount(t, "hit"))
}

func TestHashedQueryNotSelective(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(c *types.Config) { c.HashedCandidateLimit = 1 })
	declareUsers(t, f)
	tr := trace("users")
	addUser(t, f, map[string]any{"name": "ada", "password": "secret123"})
	addUser(t, f, map[string]any{"name": "bob", "password": "secret123"})

	_, err := f.engine.GetRecords(ctx, tr, map[string]any{"password": "secret123"}, ReadOptions{})
	assert.ErrorIs(t, err, types.ErrNotSelective)

	got, err := f.engine.GetRecords(ctx, tr, map[string]any{"name": "bob", "password": "secret123"}, ReadOptions{})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestWritesInvalidateCachedReads(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	space := declareUsers(t, f)
	tr := trace("users")
	addUser(t, f, map[string]any{"name": "ada"})

	got, err := f.engine.GetRecords(ctx, tr, nil, ReadOptions{})
	require.NoError(t, err)
	require.Len(t, got, 1)

	// A dump written behind the engine's back stays invisible while the
	// cached result is fresh.
	dumps := f.store.Collection(types.DumpsCollection)
	require.NoError(t, dumps.Insert(ctx, types.Document{
		"_id": "stray", "space_id": space.SpaceID, "data": map[string]any{"name": "zed"},
	}))
	got, err = f.engine.GetRecords(ctx, tr, nil, ReadOptions{})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	addUser(t, f, map[string]any{"name": "bob"})
	got, err = f.engine.GetRecords(ctx, tr, nil, ReadOptions{})
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestGetRecordByIDRepairsMissingDump(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	declareUsers(t, f)
	d := addUser(t, f, map[string]any{"name": "ada"})

	require.NoError(t, f.store.Collection(types.DumpsCollection).DeleteOne(ctx, types.Filter{"_id": d.RecordID}))

	got, err := f.engine.GetRecordByID(ctx, trace("users"), d.RecordID)
	require.NoError(t, err)
	assert.Equal(t, d.Data, got.Data)

	_, err = f.store.Collection(types.DumpsCollection).FindOne(ctx, types.Filter{"_id": d.RecordID})
	assert.NoError(t, err)

	_, err = f.engine.GetRecordByID(ctx, trace("users"), "missing")
	assert.ErrorIs(t, err, types.ErrRecordNotFound)
}

func TestDeleteAndClearRecords(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	declareUsers(t, f)
	tr := trace("users")
	ada := addUser(t, f, map[string]any{"name": "ada"})
	addUser(t, f, map[string]any{"name": "bob"})
	addUser(t, f, map[string]any{"name": "cy"})

	require.NoError(t, f.engine.DeleteRecordByID(ctx, tr, ada.RecordID))
	assert.ErrorIs(t, f.engine.DeleteRecordByID(ctx, tr, ada.RecordID), types.ErrRecordNotFound)

	n, err := f.engine.ClearRecords(ctx, tr)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := f.engine.GetRecords(ctx, tr, nil, ReadOptions{})
	require.NoError(t, err)
	assert.Empty(t, got)

	addUser(t, f, map[string]any{"name": "dee"})
	_, err = f.engine.AddRecord(ctx, tr, map[string]any{"name": "eve"}, WriteOptions{ClearRecords: true})
	require.NoError(t, err)
	got, err = f.engine.GetRecords(ctx, tr, nil, ReadOptions{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "eve", got[0].Data["name"])
}

func TestAddRecordClearKeepsRecordsOnRejectedWrite(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	declareUsers(t, f)
	tr := trace("users")
	addUser(t, f, map[string]any{"name": "ada"})
	addUser(t, f, map[string]any{"name": "bob"})

	_, err := f.engine.AddRecord(ctx, tr, map[string]any{"name": "eve", "age": "old"}, WriteOptions{ClearRecords: true})
	require.ErrorIs(t, err, types.ErrValidation)
	_, err = f.engine.AddRecord(ctx, tr, map[string]any{"age": 3.0}, WriteOptions{ClearRecords: true})
	require.ErrorIs(t, err, types.ErrValidation)

	got, err := f.engine.GetRecords(ctx, tr, nil, ReadOptions{})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	// The records being replaced do not count against uniqueness.
	_, err = f.engine.AddRecord(ctx, tr, map[string]any{"name": "ada"}, WriteOptions{ClearRecords: true})
	require.NoError(t, err)
	got, err = f.engine.GetRecords(ctx, tr, nil, ReadOptions{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ada", got[0].Data["name"])
}

func TestDeleteSpace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	declareUsers(t, f)
	tr := trace("users")
	addUser(t, f, map[string]any{"name": "ada"})

	require.NoError(t, f.engine.DeleteSpace(ctx, tr))
	_, err := f.engine.GetSpace(ctx, tr)
	assert.ErrorIs(t, err, types.ErrSpaceNotFound)

	left, err := f.store.Collection(types.DumpsCollection).Find(ctx, types.Filter{}, nil)
	require.NoError(t, err)
	assert.Empty(t, left)

	assert.ErrorIs(t, f.engine.DeleteSpace(ctx, tr), types.ErrSpaceNotFound)
}

func TestRemoveFieldRewritesDumps(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	declareUsers(t, f)
	tr := trace("users")
	d := addUser(t, f, map[string]any{"name": "ada", "tags": []any{"x"}})

	space, err := f.engine.RemoveField(ctx, tr, "tags")
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "age", "password"}, space.Slugs())

	got, err := f.engine.GetRecordByID(ctx, tr, d.RecordID)
	require.NoError(t, err)
	assert.NotContains(t, got.Data, "tags")

	_, err = f.engine.RemoveField(ctx, tr, "tags")
	assert.ErrorIs(t, err, types.ErrFieldNotFound)
}

func TestListSpaces(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	declareUsers(t, f)
	_, err := f.engine.AddRecord(ctx, trace("notes"), map[string]any{"title": "hi"}, WriteOptions{})
	require.NoError(t, err)

	spaces, err := f.engine.ListSpaces(ctx, trace(""))
	require.NoError(t, err)
	require.Len(t, spaces, 2)
	assert.Equal(t, "notes", spaces[0].Slug)
	assert.Equal(t, "users", spaces[1].Slug)
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	declareUsers(t, f)
	addUser(t, f, map[string]any{"name": "ada", "password": "secret123"})
	addUser(t, f, map[string]any{"name": "bob"})

	var buf bytes.Buffer
	n, err := f.engine.ExportSpace(ctx, trace("users"), &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	g := newFixture(t)
	res, err := g.engine.ImportSpace(ctx, trace("people"), bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Imported)
	assert.Equal(t, "people", res.Space.Slug)

	got, err := g.engine.GetRecords(ctx, trace("people"), map[string]any{"password": "secret123"}, ReadOptions{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ada", got[0].Data["name"])

	res, err = f.engine.ImportSpace(ctx, trace("users"), bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Imported)
	assert.Equal(t, 2, res.Skipped)

	// A copy within one store gets fresh record ids.
	res, err = f.engine.ImportSpace(ctx, trace("archive"), bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Imported)

	_, err = g.engine.ImportSpace(ctx, trace("other"), bytes.NewReader([]byte("{\"type\":\"record\",\"doc\":{}}\n")))
	assert.ErrorIs(t, err, types.ErrInvalidStructure)
}

func TestConcurrentFirstWritesCreateOneSpace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tr := trace("events")

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.engine.AddRecord(ctx, tr, map[string]any{"kind": "click", "n": float64(i)}, WriteOptions{})
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}

	spaces, err := f.engine.ListSpaces(ctx, tr)
	require.NoError(t, err)
	assert.Len(t, spaces, 1)
	got, err := f.engine.GetRecords(ctx, tr, nil, ReadOptions{})
	require.NoError(t, err)
	assert.Len(t, got, 8)
}

func TestCancelledContextIsTransient(t *testing.T) {
	f := newFixture(t)
	declareUsers(t, f)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.engine.GetRecords(ctx, trace("users"), nil, ReadOptions{})
	assert.ErrorIs(t, err, types.ErrTransient)
}

func TestTraceRecordsSteps(t *testing.T) {
	f := newFixture(t)
	declareUsers(t, f)
	tr := trace("users")
	_, err := f.engine.AddRecord(context.Background(), tr, map[string]any{"name": "ada"}, WriteOptions{})
	require.NoError(t, err)

	var steps []string
	for _, tm := range tr.Timings() {
		steps = append(steps, tm.Step)
	}
	assert.Subset(t, steps, []string{"compile", "store", "dump", "invalidate"})
}
