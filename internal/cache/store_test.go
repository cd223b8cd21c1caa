package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/docworker/internal/errors"
)

func strPtr(s string) *string { return &s }

// openTestStore opens a store with schema in path, closing it with the test.
func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	store, err := Open(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.CreateSchema(context.Background()))
	return store
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return openTestStore(t, filepath.Join(t.TempDir(), "store.sqlite"))
}

func testImage() Image {
	return Image{ID: uuid.NewString(), Width: 1000, Height: 2000, URL: "http://iiif/image"}
}

func TestOpenMissingDirectory(t *testing.T) {
	t.Parallel()

	_, err := Open(filepath.Join(t.TempDir(), "missing", "store.sqlite"), nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryStoreUnavailable))
}

func TestOpenEmptyPath(t *testing.T) {
	t.Parallel()

	store, err := Open("", nil)
	require.Error(t, err)
	assert.Nil(t, store)
	assert.True(t, errors.IsCategory(err, errors.CategoryStoreUnavailable))
}

func TestOpenPathWithReservedCharacters(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"store?v2.sqlite", "store#1.sqlite", "store 100%.sqlite"} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			path := filepath.Join(dir, name)

			store := openTestStore(t, path)
			require.NoError(t, store.InsertElements(context.Background(), []Element{{ID: uuid.NewString(), Type: "page"}}))

			_, err := os.Stat(path)
			require.NoError(t, err, "cache file must be created under its exact name")

			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, name, entries[0].Name())
		})
	}
}

func TestOpenCorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "store.sqlite")
	require.NoError(t, os.WriteFile(path, []byte("this is not a sqlite database at all, just text padding the header"), 0o600))

	_, err := Open(path, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryStoreUnavailable))
}

func TestCreateSchemaIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	once := newTestStore(t)
	twice := newTestStore(t)
	require.NoError(t, twice.CreateSchema(ctx))

	onceSQL, err := once.SchemaSQL(ctx)
	require.NoError(t, err)
	twiceSQL, err := twice.SchemaSQL(ctx)
	require.NoError(t, err)

	assert.NotEmpty(t, onceSQL)
	assert.Equal(t, onceSQL, twiceSQL)

	require.NoError(t, once.Close())
	require.NoError(t, twice.Close())

	onceBytes, err := os.ReadFile(once.Path())
	require.NoError(t, err)
	twiceBytes, err := os.ReadFile(twice.Path())
	require.NoError(t, err)
	assert.Equal(t, onceBytes, twiceBytes)
}

func TestGetNotFound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.GetElement(ctx, "absent")
	assert.True(t, errors.IsNotFound(err))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.GetImage(ctx, "absent")
	assert.True(t, errors.IsNotFound(err))

	_, err = store.GetTranscription(ctx, "absent")
	assert.True(t, errors.IsNotFound(err))
}

func TestInsertAndGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)

	img := testImage()
	require.NoError(t, store.InsertImages(ctx, []Image{img}))

	el := Element{
		ID:      uuid.NewString(),
		Type:    "page",
		ImageID: strPtr(img.ID),
		Polygon: Polygon{{0, 0}, {1000, 0}, {1000, 2000}, {0, 2000}},
		Initial: true,
	}
	require.NoError(t, store.InsertElements(ctx, []Element{el}))

	tr := Transcription{ID: uuid.NewString(), ElementID: el.ID, Text: "hello", Confidence: 0.42, WorkerVersionID: uuid.NewString()}
	require.NoError(t, store.InsertTranscriptions(ctx, []Transcription{tr}))

	got, err := store.GetElement(ctx, el.ID)
	require.NoError(t, err)
	assert.Equal(t, el, *got)

	gotTr, err := store.GetTranscription(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, tr, *gotTr)

	counts, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Images: 1, Elements: 1, Transcriptions: 1}, counts)
}

func TestInsertIsAtomicPerCall(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)

	existing := Element{ID: uuid.NewString(), Type: "page"}
	require.NoError(t, store.InsertElements(ctx, []Element{existing}))

	fresh := Element{ID: uuid.NewString(), Type: "line"}
	err := store.InsertElements(ctx, []Element{fresh, existing})
	require.Error(t, err)
	assert.True(t, IsConflict(err))

	_, err = store.GetElement(ctx, fresh.ID)
	assert.True(t, errors.IsNotFound(err), "sibling row of a failed call must not be inserted")

	other := Element{ID: uuid.NewString(), Type: "line"}
	require.NoError(t, store.InsertElements(ctx, []Element{other}))

	counts, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts.Elements)
}

func TestForeignKeysEnforced(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)

	err := store.InsertElements(ctx, []Element{{ID: uuid.NewString(), Type: "page", ImageID: strPtr("no-such-image")}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingReference)

	err = store.InsertTranscriptions(ctx, []Transcription{{ID: uuid.NewString(), ElementID: "no-such-element", Text: "x", WorkerVersionID: "v"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingReference)
}

func TestFirstOrCreateImage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)

	img := testImage()
	first, err := store.FirstOrCreateImage(ctx, img)
	require.NoError(t, err)
	assert.Equal(t, img, *first)

	changed := img
	changed.Width = 1
	second, err := store.FirstOrCreateImage(ctx, changed)
	require.NoError(t, err)
	assert.Equal(t, img, *second, "images are immutable once stored")
}

func TestQueries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)

	version := uuid.NewString()
	root := Element{ID: "00000000-0000-0000-0000-000000000001", Type: "page", Initial: true}
	children := []Element{
		{ID: "00000000-0000-0000-0000-000000000002", ParentID: &root.ID, Type: "text_line"},
		{ID: "00000000-0000-0000-0000-000000000003", ParentID: &root.ID, Type: "text_line", WorkerVersionID: &version},
		{ID: "00000000-0000-0000-0000-000000000004", ParentID: &root.ID, Type: "paragraph", WorkerVersionID: &version},
	}
	require.NoError(t, store.InsertElements(ctx, append([]Element{root}, children...)))
	require.NoError(t, store.InsertTranscriptions(ctx, []Transcription{
		{ID: "10000000-0000-0000-0000-000000000001", ElementID: children[0].ID, Text: "a", Confidence: 1, WorkerVersionID: version},
		{ID: "10000000-0000-0000-0000-000000000002", ElementID: children[0].ID, Text: "b", Confidence: 0.5, WorkerVersionID: uuid.NewString()},
	}))

	initial, err := store.InitialElements(ctx)
	require.NoError(t, err)
	require.Len(t, initial, 1)
	assert.Equal(t, root.ID, initial[0].ID)

	tests := []struct {
		name  string
		query ElementQuery
		want  []string
	}{
		{"all", ElementQuery{}, []string{children[0].ID, children[1].ID, children[2].ID}},
		{"by type", ElementQuery{Type: "text_line"}, []string{children[0].ID, children[1].ID}},
		{"by version", ElementQuery{WorkerVersion: &VersionFilter{ID: version}}, []string{children[1].ID, children[2].ID}},
		{"manual", ElementQuery{WorkerVersion: &VersionFilter{Manual: true}}, []string{children[0].ID}},
		{"type and version", ElementQuery{Type: "paragraph", WorkerVersion: &VersionFilter{ID: version}}, []string{children[2].ID}},
	}
	for _, tt := range tests {
		got, err := store.ChildElements(ctx, root.ID, tt.query)
		require.NoError(t, err, tt.name)
		ids := make([]string, 0, len(got))
		for _, el := range got {
			ids = append(ids, el.ID)
		}
		assert.Equal(t, tt.want, ids, tt.name)
	}

	trs, err := store.ElementTranscriptions(ctx, children[0].ID, nil)
	require.NoError(t, err)
	assert.Len(t, trs, 2)

	trs, err = store.ElementTranscriptions(ctx, children[0].ID, &VersionFilter{ID: version})
	require.NoError(t, err)
	require.Len(t, trs, 1)
	assert.Equal(t, "a", trs[0].Text)

	existing, err := store.ExistingElementIDs(ctx, []string{root.ID, "absent"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{root.ID: true}, existing)
}

func TestPolygonBoundingBox(t *testing.T) {
	t.Parallel()

	x, y, w, h := Polygon{{10, 20}, {110, 20}, {110, 70}, {10, 70}}.BoundingBox()
	assert.Equal(t, []int{10, 20, 100, 50}, []int{x, y, w, h})

	x, y, w, h = Polygon(nil).BoundingBox()
	assert.Equal(t, []int{0, 0, 0, 0}, []int{x, y, w, h})
}
