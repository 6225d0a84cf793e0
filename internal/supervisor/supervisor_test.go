package supervisor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpawnOnceReportsChildExitCode(t *testing.T) {
	exe, err := os.Executable()
	require.NoError(t, err)
	_ = exe // the real binary isn't a reinvocable test harness; exercise spawnOnce against a trivial command instead.

	p := &Parent{Exe: "false", RestartDelay: 10 * time.Millisecond}
	code := p.spawnOnce(VerdictNormal)
	assert.NotEqual(t, 0, code)

	p2 := &Parent{Exe: "true", RestartDelay: 10 * time.Millisecond}
	code2 := p2.spawnOnce(VerdictNormal)
	assert.Equal(t, 0, code2)
}

func TestWritePidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "demo.pid")
	require.NoError(t, WritePidFile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestChildShutsDownWhenStdoutWriteFails(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	old := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = old }()

	c := NewChild(5 * time.Millisecond)
	r.Close() // break the pipe so the next write to os.Stdout fails

	select {
	case <-c.ShutdownCh:
	case <-time.After(time.Second):
		t.Fatal("expected shutdown signal after broken stdout pipe")
	}
	w.Close()
}
