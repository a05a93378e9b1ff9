// ABOUTME: This file contains tests for logger initialization
// ABOUTME: Covers level parsing, lowercase level names and file output
package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_WritesLowercaseLevelsToFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "batch.log")

	log, closer, err := Init(Options{
		Level:    "warn",
		FilePath: logPath,
		Service:  "test-service",
	})
	require.NoError(t, err)

	log.Info("suppressed at warn level")
	log.Warn("something happened", "count", 3)
	require.NoError(t, closer())

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &record))
	assert.Equal(t, "warn", record["level"])
	assert.Equal(t, "something happened", record["msg"])
	assert.Equal(t, "test-service", record["service"])
	assert.Equal(t, float64(3), record["count"])
}

func TestParseLevel(t *testing.T) {
	tests := map[string]struct {
		input string
		want  string
	}{
		"debug":         {input: "debug", want: "DEBUG"},
		"info":          {input: "info", want: "INFO"},
		"warn":          {input: "warn", want: "WARN"},
		"warning alias": {input: "warning", want: "WARN"},
		"error":         {input: "error", want: "ERROR"},
		"mixed case":    {input: "Error", want: "ERROR"},
		"unknown":       {input: "whatever", want: "INFO"},
		"empty":         {input: "", want: "INFO"},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.input).String())
		})
	}
}
