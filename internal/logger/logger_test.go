package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want zerolog.Level
		ok   bool
	}{
		{"", zerolog.InfoLevel, true},
		{"D", zerolog.DebugLevel, true},
		{"i", zerolog.InfoLevel, true},
		{"W", zerolog.WarnLevel, true},
		{"E", zerolog.ErrorLevel, true},
		{"F", zerolog.FatalLevel, true},
		{"N", zerolog.Disabled, true},
		{"nolog", zerolog.Disabled, true},
		{" debug ", zerolog.DebugLevel, true},
		{"Warning", zerolog.WarnLevel, true},
		{"loud", zerolog.InfoLevel, false},
	}
	for _, tc := range cases {
		got, ok := ParseLevel(tc.in)
		assert.Equal(t, tc.want, got, "level for %q", tc.in)
		assert.Equal(t, tc.ok, ok, "ok for %q", tc.in)
	}
}

type section map[string]string

func (s section) String(key string) (string, error) {
	v, ok := s[key]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func TestFromSettings(t *testing.T) {
	opt := FromSettings(section{"Level": "W", "Format": "json"})
	assert.Equal(t, "W", opt.Level)
	assert.Equal(t, "json", opt.Format)
	assert.Empty(t, opt.File)
}

func TestNew(t *testing.T) {
	t.Run("JSON Output Respects Level", func(t *testing.T) {
		var buf bytes.Buffer
		log := New(Options{Level: "W", Format: "json", Writer: &buf})
		defer log.Close()

		log.Info().Msg("hidden")
		log.Warn().Msg("shown")

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 1)
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
		assert.Equal(t, "warn", entry["level"])
		assert.Equal(t, "shown", entry["message"])
	})

	t.Run("Invalid Level Warns And Uses Info", func(t *testing.T) {
		var buf bytes.Buffer
		log := New(Options{Level: "loud", Format: "json", Writer: &buf})
		defer log.Close()

		assert.Contains(t, buf.String(), "invalid value for Level")
		assert.Equal(t, zerolog.InfoLevel, log.GetLevel())
	})

	t.Run("Unopenable File Falls Back To Writer", func(t *testing.T) {
		var buf bytes.Buffer
		bad := filepath.Join(t.TempDir(), "missing", "dir", "queryz.log")
		log := New(Options{File: bad, Format: "json", Writer: &buf})
		defer log.Close()

		log.Info().Msg("still here")
		assert.Contains(t, buf.String(), "invalid value for File")
		assert.Contains(t, buf.String(), "still here")
	})

	t.Run("Writes To File", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "queryz.log")
		log := New(Options{File: path, Level: "D"})
		log.Debug().Msg("to file")
		require.NoError(t, log.Close())
		require.NoError(t, log.Close())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "to file")
	})

	t.Run("Disabled", func(t *testing.T) {
		var buf bytes.Buffer
		log := New(Options{Level: "N", Writer: &buf})
		defer log.Close()

		log.Error().Msg("nothing")
		assert.Empty(t, buf.String())
	})
}
