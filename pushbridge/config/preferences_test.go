package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-bridge/pushbridge/config"
)

const sampleConfigXML = `<?xml version="1.0" encoding="UTF-8"?>
<widget xmlns="http://www.w3.org/ns/widgets" id="com.example.pinboard" version="1.0.0">
    <name>Pinboard</name>
    <preference name="com.urbanairship.in_production" value="true" />
    <preference name="com.urbanairship.production_app_key" value="prod-key" />
    <platform name="blackberry10">
        <preference name="com.urbanairship.bb_cpid" value="1234" />
    </platform>
    <preference value="no-name" />
</widget>`

func TestParsePreferencesXML(t *testing.T) {
	t.Run("Collects preferences at any depth", func(t *testing.T) {
		prefs, err := config.ParsePreferencesXML(strings.NewReader(sampleConfigXML))
		require.NoError(t, err)

		v, ok := prefs.Get("com.urbanairship.in_production")
		require.True(t, ok)
		assert.Equal(t, "true", v)

		v, ok = prefs.Get("com.urbanairship.bb_cpid")
		require.True(t, ok)
		assert.Equal(t, "1234", v)
		assert.Len(t, prefs, 3)
	})

	t.Run("Malformed XML is an error", func(t *testing.T) {
		_, err := config.ParsePreferencesXML(strings.NewReader("<widget><preference"))
		assert.Error(t, err)
	})
}

func TestLoadPreferences(t *testing.T) {
	logger := newTestLogger()
	inline := map[string]string{
		"com.urbanairship.in_production":    "false",
		"com.urbanairship.invoke_target_id": "pushes",
	}

	t.Run("File overrides inline values", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.xml")
		require.NoError(t, os.WriteFile(path, []byte(sampleConfigXML), 0o600))

		prefs, err := config.LoadPreferences(inline, path, logger)
		require.NoError(t, err)

		v, _ := prefs.Get("com.urbanairship.in_production")
		assert.Equal(t, "true", v)
		v, _ = prefs.Get("com.urbanairship.invoke_target_id")
		assert.Equal(t, "pushes", v)
		assert.Equal(t, "false", inline["com.urbanairship.in_production"], "inline map is not mutated")
	})

	t.Run("Missing file keeps inline values", func(t *testing.T) {
		prefs, err := config.LoadPreferences(inline, filepath.Join(t.TempDir(), "absent.xml"), logger)
		require.NoError(t, err)
		assert.Len(t, prefs, 2)
	})

	t.Run("Nil inline map", func(t *testing.T) {
		prefs, err := config.LoadPreferences(nil, "", logger)
		require.NoError(t, err)
		_, ok := prefs.Get("anything")
		assert.False(t, ok)
	})
}
