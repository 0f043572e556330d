package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZerologLoggerMethods(t *testing.T) {
	var buf bytes.Buffer
	l := NewZerologLogger(zerolog.New(&buf).Level(zerolog.DebugLevel), "test")
	l.Debugf("debug %d", 1)
	l.Debugw("debug", map[string]any{"k": 1})
	l.Infof("info %s", "test")
	l.Warnf("warn")
	l.Errorf("error")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 5)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[1], &entry))
	assert.Equal(t, "test", entry["component"])
	assert.Equal(t, float64(1), entry["k"])
}

func TestConfigureRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleet.log")
	require.NoError(t, Configure(Config{Level: "debug", Format: "json", File: path}))
	defer func() { require.NoError(t, Configure(Config{})) }()

	New("file").Infof("hello %s", "file")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello file")
	assert.Contains(t, string(data), `"component":"file"`)
}

func TestConfigValidate(t *testing.T) {
	c := Config{Level: "loud"}
	c.SetDefaults()
	assert.Error(t, c.Validate())
	c = Config{Format: "xml"}
	c.SetDefaults()
	assert.Error(t, c.Validate())
}
