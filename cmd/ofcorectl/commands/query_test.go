package commands

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runos-go/ofcore/internal/devicedb"
)

func TestFormatPropertiesTable(t *testing.T) {
	t.Parallel()

	db := devicedb.New(nil, nil)
	require.NoError(t, db.AddJSON("test.json", []byte(
		`[{"selector": {"manufacturer": {"type": "exact", "value": "acme"}}, "props": {"poll_interval_ms": 500, "trusted": true}}]`,
	)))

	props := db.Query(devicedb.Query{Manufacturer: "acme"})
	out, err := formatProperties(props, formatTable)
	require.NoError(t, err)

	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "poll_interval_ms")
	assert.Contains(t, out, "500")
	assert.Contains(t, out, "trusted")
	assert.Contains(t, out, "true")
}

func TestFormatPropertiesJSON(t *testing.T) {
	t.Parallel()

	db := devicedb.New(nil, nil)
	require.NoError(t, db.AddJSON("test.json", []byte(
		`[{"selector": {"manufacturer": {"type": "exact", "value": "acme"}}, "props": {"vendor": "acme"}}]`,
	)))

	props := db.Query(devicedb.Query{Manufacturer: "acme"})
	out, err := formatProperties(props, formatJSON)
	require.NoError(t, err)

	assert.True(t, strings.Contains(out, `"name": "vendor"`))
	assert.True(t, strings.Contains(out, `"value": "acme"`))
}

func TestFormatPropertiesUnsupportedFormat(t *testing.T) {
	t.Parallel()

	_, err := formatProperties(nil, "xml")
	require.ErrorIs(t, err, errUnsupportedFormat)
}

func TestLoadConfigReadsConfiguredPropsFiles(t *testing.T) {
	t.Parallel()

	propsPath := filepath.Join(t.TempDir(), "devices.json")
	writeFile(t, propsPath, `[{"selector": {"manufacturer": {"type": "exact", "value": "acme"}}, "props": {"vendor": "acme"}}]`)

	cfgPath := filepath.Join(t.TempDir(), "ofcorectl.yml")
	writeFile(t, cfgPath, "device_db:\n  props_files:\n    - "+propsPath+"\n")

	cfg, err := loadConfig(cfgPath)
	require.NoError(t, err)
	require.Equal(t, []string{propsPath}, cfg.DeviceDB.PropsFiles)
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}
