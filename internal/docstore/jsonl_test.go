package docstore

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/shelf/pkg/types"
)

func TestJSONLFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "space.jsonl")
	docs := []types.Document{
		{"_id": "1", "name": "Ada"},
		{"_id": "2", "tags": []any{"a", "b"}},
	}
	require.NoError(t, WriteFileAtomic(path, func(w io.Writer) error {
		return WriteJSONL(w, docs)
	}))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	got, skipped, err := ReadJSONL(f)
	require.NoError(t, err)
	assert.Zero(t, skipped)
	assert.Equal(t, docs, got)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must not be left behind")
}

func TestReadJSONLSkipsMalformedLines(t *testing.T) {
	input := strings.Join([]string{
		`{"_id":"1"}`,
		``,
		`{not json`,
		`[1,2]`,
		`{"_id":"2"}`,
	}, "\n")

	docs, skipped, err := ReadJSONL(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 2, skipped)
	require.Len(t, docs, 2)
	assert.Equal(t, "2", docs[1]["_id"])
}

func TestWriteFileAtomicKeepsOldContentOnFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "space.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("old\n"), 0o644))

	err := WriteFileAtomic(path, func(w io.Writer) error {
		_, _ = w.Write([]byte("partial"))
		return errors.New("export failed")
	})
	require.Error(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "old\n", string(data))
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
