package corelog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotatingFileWritesIntoDatedFile(t *testing.T) {
	dir := t.TempDir()
	rf, err := NewRotatingFile(dir, "demo")
	require.NoError(t, err)
	defer rf.Close()

	logger := Wrap(New(rf, SeverityDebug, "worker-1"), rf)
	logger.Inf("hello %s", "world")
	logger.Err("boom")
	require.NoError(t, rf.Sync())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "demo-"))

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "[worker-1]")
	assert.Contains(t, text, "hello world")
	assert.Contains(t, text, "ERR")
	assert.Contains(t, text, "INF")
}
