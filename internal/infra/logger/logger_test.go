package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	req := require.New(t)
	req.Equal(LevelDebug, ParseLevel("DEBUG"))
	req.Equal(LevelWarn, ParseLevel("warn"))
	req.Equal(LevelError, ParseLevel("error"))
	req.Equal(LevelInfo, ParseLevel("anything"))
}

func TestLogger_WritesToFile(t *testing.T) {
	req := require.New(t)
	path := filepath.Join(t.TempDir(), "packman.log")

	l, err := New(path, LevelInfo, false)
	req.NoError(err)

	l.Debug("hidden %d", 1)
	l.Info("pack %s installed", "alps")
	_, err = l.Write([]byte("GET /api/packs | 200\n"))
	req.NoError(err)
	l.Sync()

	data, err := os.ReadFile(path)
	req.NoError(err)
	req.Contains(string(data), "pack alps installed")
	req.Contains(string(data), "GET /api/packs | 200")
	req.NotContains(string(data), "hidden")
}
