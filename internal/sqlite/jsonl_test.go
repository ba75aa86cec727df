package sqlite

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/larder/internal/testutil"
)

func TestExportImportRoundTrip(t *testing.T) {
	src := attach(t, t.TempDir())
	testutil.Seed(t, src,
		testutil.ParentRec(1, "Acme"),
		testutil.ChildRec(10, 1, "a"),
		testutil.ToyRec(toyID, 10, "ball"),
	)
	for range 5 {
		_, err := src.NextAutoIncrement("Parent")
		require.NoError(t, err)
	}

	path := filepath.Join(t.TempDir(), "snapshot.jsonl")
	require.NoError(t, src.ExportJSONL(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, `{"sequence":"parent","counter":5}`, lines[3])

	dst := attach(t, t.TempDir())
	require.NoError(t, dst.Insert(testutil.ParentRec(1, "Old name")))
	n, err := dst.ImportJSONL(path)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	want, err := src.Records()
	require.NoError(t, err)
	got, err := dst.Records()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	next, err := dst.NextAutoIncrement("Parent")
	require.NoError(t, err)
	assert.Equal(t, int64(6), next)
}

func TestImportSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.jsonl")
	content := strings.Join([]string{
		`{"class":"Parent","key":"Parent#1","values":{"id":{"t":"int","v":1},"name":{"t":"string","v":"Acme"}}}`,
		`not json`,
		``,
		`{"unrelated":true}`,
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	b := attach(t, t.TempDir())
	n, err := b.ImportJSONL(path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, ok, err := b.Find("Parent", "Parent#1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), rec.Values["id"])
}

func TestImportMissingFile(t *testing.T) {
	b := attach(t, t.TempDir())
	_, err := b.ImportJSONL(filepath.Join(t.TempDir(), "absent.jsonl"))
	assert.Error(t, err)
}
