package loader

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrydvoinikov/pythomnic-go/internal/corereq"
)

func TestLocatorPrefersCageOverShared(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "cages", "demo"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "cages", ".shared"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "cages", ".shared", "config_resource_db.json"), []byte(`{}`), 0o644))

	l := NewLocator(root, "demo")
	path, err := l.Locate("config_resource_db")
	require.NoError(t, err)
	assert.Contains(t, path, filepath.Join("cages", ".shared"))

	require.NoError(t, os.WriteFile(filepath.Join(root, "cages", "demo", "config_resource_db.json"), []byte(`{}`), 0o644))
	path, err = l.Locate("config_resource_db")
	require.NoError(t, err)
	assert.Contains(t, path, filepath.Join("cages", "demo"))
}

func TestLocatorMissing(t *testing.T) {
	root := t.TempDir()
	l := NewLocator(root, "demo")
	_, err := l.Locate("nope")
	require.Error(t, err)
}

func TestMacroTemplateSubstitution(t *testing.T) {
	macros := Macros{"key": "value", "node": "host1"}
	v, err := ExpandString("hello $key on ${node}", macros)
	require.NoError(t, err)
	assert.Equal(t, "hello value on host1", v)
}

func TestMacroDollarDollarEscapesLiteral(t *testing.T) {
	macros := Macros{"key": "value"}
	v, err := ExpandString("literal $${key}", macros)
	require.NoError(t, err)
	assert.Equal(t, "literal ${key}", v)
}

// TestMacroEvalWhitelist covers E7's number=123 / bytes=b"\x00" fixtures.
func TestMacroEvalWhitelist(t *testing.T) {
	macros := Macros{"number": "123"}
	v, err := ExpandString("eval(int($number))", macros)
	require.NoError(t, err)
	assert.Equal(t, 123, v)

	v, err = ExpandString(`eval(b"\x00")`, macros)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00}, v)
}

func TestMacroEvalRejectsUnknownGrammar(t *testing.T) {
	_, err := ExpandString("eval(__import__('os'))", Macros{})
	require.Error(t, err)
}

// TestMacroIdempotence is testable property 8.
func TestMacroIdempotence(t *testing.T) {
	macros := Macros{"key": "value"}
	once, err := ExpandString("$key", macros)
	require.NoError(t, err)
	twice, err := Expand(once, macros)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

// TestConfigSelfTestOverlay is testable property 9.
func TestConfigSelfTestOverlay(t *testing.T) {
	cfg, err := NewConfig(
		map[string]any{"greeting": "hello"},
		map[string]any{"greeting": "test-hello"},
		Macros{},
	)
	require.NoError(t, err)

	prod := corereq.Create("x", "x", time.Second, nil, "")
	assert.Equal(t, "hello", cfg.Get(prod, "greeting", nil))

	st := corereq.Create("x", "x", time.Second, nil, "")
	st.SelfTest = "1"
	assert.Equal(t, "test-hello", cfg.Get(st, "greeting", nil))

	copyMap := cfg.Copy(st)
	assert.Equal(t, "test-hello", copyMap["greeting"])
	copyMap = cfg.Copy(prod)
	assert.Equal(t, "hello", copyMap["greeting"])
}

func writeConfig(t *testing.T, path string, production map[string]any) {
	t.Helper()
	data, err := json.Marshal(rawSource{Production: production})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

// TestLoaderHotReloadSettles is testable property 7: rapid rewrites
// within settle_timeout must only bind the final content.
func TestLoaderHotReloadSettles(t *testing.T) {
	root := t.TempDir()
	cageDir := filepath.Join(root, "cages", "demo")
	require.NoError(t, os.MkdirAll(cageDir, 0o755))
	path := filepath.Join(cageDir, "config_resource_db.json")
	writeConfig(t, path, map[string]any{"v": "1"})

	locator := NewLocator(root, "demo")
	l, err := New(locator, Macros{}, 0, 80*time.Millisecond)
	require.NoError(t, err)
	defer l.Close()

	cfg, err := l.Get("config_resource_db")
	require.NoError(t, err)
	req := corereq.Create("x", "x", time.Second, nil, "")
	assert.Equal(t, "1", cfg.Get(req, "v", nil))

	for i := 2; i <= 4; i++ {
		writeConfig(t, path, map[string]any{"v": string(rune('0' + i))})
		time.Sleep(20 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return l.Version("config_resource_db") > 1
	}, 2*time.Second, 10*time.Millisecond)

	cfg, err = l.Get("config_resource_db")
	require.NoError(t, err)
	assert.Equal(t, "4", cfg.Get(req, "v", nil))
}
