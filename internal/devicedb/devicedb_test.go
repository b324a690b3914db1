package devicedb

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/runos-go/ofcore/internal/propsheet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "devicedb.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestAddJSON_AtomicOnError(t *testing.T) {
	db := New(nil, nil)

	require.NoError(t, db.AddJSON("first.json", []byte(`[{"selector": {"manufacturer": {"type": "any"}}, "props": {"poll": 10}}]`)))

	err := db.AddJSON("bad.json", []byte(`[{"selector": {"bogus": {"type": "any"}}, "props": {}}]`))
	require.Error(t, err)

	var loadErr *propsheet.LoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, "bad.json", loadErr.File)

	got := db.Query(Query{})
	require.Len(t, got, 1)
	assert.Equal(t, int64(10), got[0].Value.Num)
}

func TestAddJSONFile(t *testing.T) {
	path := writeTemp(t, `[{"selector": {"manufacturer": {"type": "exact", "value": "Acme"}}, "props": {"poll": 5}},
		{"selector": {"manufacturer": {"type": "any"}}, "props": {"poll": 10}}]`)

	db := New(nil, nil)
	require.NoError(t, db.AddJSONFile(path))

	got := db.Query(Query{Manufacturer: "Acme"})
	require.Len(t, got, 1)
	assert.Equal(t, int64(5), got[0].Value.Num)

	got = db.Query(Query{Manufacturer: "Other"})
	require.Len(t, got, 1)
	assert.Equal(t, int64(10), got[0].Value.Num)
}

type stubConverter struct {
	out []byte
	err error
}

func (s stubConverter) Convert(string) ([]byte, error) { return s.out, s.err }

func TestAddPropsFile_UsesConverter(t *testing.T) {
	db := New(nil, stubConverter{out: []byte(`[{"selector": {"manufacturer": {"type": "any"}}, "props": {"poll": 7}}]`)})
	require.NoError(t, db.AddPropsFile("legacy.props"))

	got := db.Query(Query{})
	require.Len(t, got, 1)
	assert.Equal(t, int64(7), got[0].Value.Num)
}

func TestAddPropsFile_ConverterError(t *testing.T) {
	db := New(nil, stubConverter{err: errors.New("boom")})
	err := db.AddPropsFile("legacy.props")
	require.Error(t, err)
}
