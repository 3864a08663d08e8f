package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnvStr(t *testing.T) {
	t.Setenv("VERIFLOW_TEST_STR", "value")

	assert.Equal(t, "value", GetEnvStr("VERIFLOW_TEST_STR", "default"))
	assert.Equal(t, "default", GetEnvStr("VERIFLOW_TEST_STR_MISSING", "default"))
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("VERIFLOW_TEST_INT", "42")
	t.Setenv("VERIFLOW_TEST_INT_BAD", "not-a-number")

	assert.Equal(t, 42, GetEnvInt("VERIFLOW_TEST_INT", 7))
	assert.Equal(t, 7, GetEnvInt("VERIFLOW_TEST_INT_BAD", 7))
	assert.Equal(t, 7, GetEnvInt("VERIFLOW_TEST_INT_MISSING", 7))
}

func TestGetEnvFloat64(t *testing.T) {
	t.Setenv("VERIFLOW_TEST_FLOAT", "2.5")

	assert.InDelta(t, 2.5, GetEnvFloat64("VERIFLOW_TEST_FLOAT", 1.0), 1e-9)
	assert.InDelta(t, 1.0, GetEnvFloat64("VERIFLOW_TEST_FLOAT_MISSING", 1.0), 1e-9)
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"true", true},
		{"1", true},
		{"YES", true},
		{"false", false},
		{"0", false},
		{"no", false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("VERIFLOW_TEST_BOOL", tt.value)
			assert.Equal(t, tt.want, GetEnvBool("VERIFLOW_TEST_BOOL", !tt.want))
		})
	}

	assert.True(t, GetEnvBool("VERIFLOW_TEST_BOOL_MISSING", true))
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("VERIFLOW_TEST_DURATION", "90s")

	assert.Equal(t, 90*time.Second, GetEnvDuration("VERIFLOW_TEST_DURATION", time.Minute))
	assert.Equal(t, time.Minute, GetEnvDuration("VERIFLOW_TEST_DURATION_MISSING", time.Minute))
}

func TestGetEnvLogLevel(t *testing.T) {
	t.Setenv("VERIFLOW_TEST_LOG_LEVEL", "warn")

	assert.Equal(t, slog.LevelWarn, GetEnvLogLevel("VERIFLOW_TEST_LOG_LEVEL", slog.LevelInfo))
	assert.Equal(t, slog.LevelInfo, GetEnvLogLevel("VERIFLOW_TEST_LOG_LEVEL_MISSING", slog.LevelInfo))
}

func TestParseCommaSeparatedList(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, ParseCommaSeparatedList("a, b ,c"))
	assert.Empty(t, ParseCommaSeparatedList(""))
	assert.Equal(t, []string{"x"}, ParseCommaSeparatedList(",x,,"))
}

func TestLoadFile(t *testing.T) {
	t.Run("applies defaults without overriding env", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "veriflow.yaml")
		content := "env:\n  VERIFLOW_FILE_ONLY: \"from-file\"\n  VERIFLOW_FILE_AND_ENV: \"from-file\"\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		t.Setenv("VERIFLOW_FILE_AND_ENV", "from-env")
		t.Setenv("VERIFLOW_FILE_ONLY", "")

		require.NoError(t, LoadFile(path))

		assert.Equal(t, "from-file", os.Getenv("VERIFLOW_FILE_ONLY"))
		assert.Equal(t, "from-env", os.Getenv("VERIFLOW_FILE_AND_ENV"))
	})

	t.Run("missing file is not an error", func(t *testing.T) {
		require.NoError(t, LoadFile(filepath.Join(t.TempDir(), "absent.yaml")))
	})

	t.Run("malformed file is an error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("env: [not a map"), 0o600))
		require.Error(t, LoadFile(path))
	})
}
