// Package loader implements the module loader / config resolver (C6):
// file lookup with a shared-directory fallback, hot reload debounced by
// a settle window, and the macro/self-test config resolution of §4.6.
package loader

import (
	"os"
	"path/filepath"
)

// Locator finds a named config source under a cage directory, falling
// back to a directory shared across cages, mirroring §4.6's "look for
// m.py first in <cages>/<cage>/, then in <cages>/.shared/".
//
// The Go rewrite has no Python modules to `exec`; a config "module" is
// instead a JSON file of the same name, read and macro-expanded by
// Config below.
type Locator struct {
	CageDir   string
	SharedDir string
}

// NewLocator builds a Locator rooted at root/cages/<cage> with the
// <root>/cages/.shared fallback of §6's filesystem layout.
func NewLocator(root, cage string) *Locator {
	return &Locator{
		CageDir:   filepath.Join(root, "cages", cage),
		SharedDir: filepath.Join(root, "cages", ".shared"),
	}
}

// Locate returns the resolved path for name (without extension), or an
// error if neither location has it. Cage-local files always shadow
// shared ones.
func (l *Locator) Locate(name string) (path string, err error) {
	cagePath := filepath.Join(l.CageDir, name+".json")
	if _, statErr := os.Stat(cagePath); statErr == nil {
		return cagePath, nil
	}
	sharedPath := filepath.Join(l.SharedDir, name+".json")
	if _, statErr := os.Stat(sharedPath); statErr == nil {
		return sharedPath, nil
	}
	return "", &os.PathError{Op: "locate", Path: name, Err: os.ErrNotExist}
}
