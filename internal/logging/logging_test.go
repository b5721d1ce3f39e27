package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_TextToWriter(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := New(Options{Level: "debug", Format: "text"}, &buf)
	require.NoError(t, err)
	defer closer.Close()

	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	logger.WithField("path", "a.sql").Debug("file event")
	assert.Contains(t, buf.String(), "file event")
	assert.Contains(t, buf.String(), "path=a.sql")
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := New(Options{Level: "info", Format: "JSON"}, &buf)
	require.NoError(t, err)
	defer closer.Close()

	logger.Debug("hidden")
	logger.WithField("entity", "Orders").Info("change applied")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "change applied", entry["msg"])
	assert.Equal(t, "Orders", entry["entity"])
}

func TestNew_RotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sqlwatch.log")
	logger, closer, err := New(Options{Level: "info", File: path, MaxSizeMB: 1}, nil)
	require.NoError(t, err)

	logger.Info("started analyzing project")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "started analyzing project")
}

func TestNew_Invalid(t *testing.T) {
	_, _, err := New(Options{Level: "loud"}, nil)
	assert.Error(t, err)

	_, _, err = New(Options{Level: "info", Format: "xml"}, nil)
	assert.Error(t, err)
}
