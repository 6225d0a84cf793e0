package loader

import (
	"github.com/dmitrydvoinikov/pythomnic-go/internal/corereq"
)

// Environment supplies the builtin macros §12 adds to every config's
// macro dictionary, populated once at process start from the resolved
// hostname and the `-cages/<cage>` path (mirroring startup.py's
// `<node>.<cage>` argument parsing).
type Environment struct {
	Node    string
	Cage    string
	CageDir string
}

// Builtins returns the __node__/__cage__/__cage_dir__ macro entries.
func (e Environment) Builtins() Macros {
	return Macros{
		"__node__":     e.Node,
		"__cage__":     e.Cage,
		"__cage_dir__": e.CageDir,
	}
}

// Config is one resolved config module: a production dict plus an
// optional self-test overlay, both already macro-expanded, matching
// config_config.py's get/copy contract (§4.6, §6).
type Config struct {
	production Macros
	selfTest   Macros
}

// NewConfig builds a Config from raw (unexpanded) production and
// self-test dicts, expanding every value against macros immediately so
// Get/Copy never re-expand (property 8: expanding twice is a no-op, but
// doing it once up front is simply cheaper).
func NewConfig(rawProduction, rawSelfTest map[string]any, macros Macros) (*Config, error) {
	prod, err := expandDict(rawProduction, macros)
	if err != nil {
		return nil, err
	}
	st, err := expandDict(rawSelfTest, macros)
	if err != nil {
		return nil, err
	}
	return &Config{production: prod, selfTest: st}, nil
}

func expandDict(raw map[string]any, macros Macros) (Macros, error) {
	out := make(Macros, len(raw))
	for k, v := range raw {
		ev, err := Expand(v, macros)
		if err != nil {
			return nil, err
		}
		out[k] = ev
	}
	return out, nil
}

// Get resolves key, preferring the self-test overlay when req carries a
// non-empty SelfTest tag (testable property 9). default_ is returned,
// with no error, on a plain miss.
func (c *Config) Get(req *corereq.Request, key string, default_ any) any {
	if req != nil && req.SelfTest != "" {
		if v, ok := c.selfTest[key]; ok {
			return v
		}
	}
	if v, ok := c.production[key]; ok {
		return v
	}
	return default_
}

// Copy returns the full effective dict for req: production overlaid by
// self-test entries when req.SelfTest is set, matching Get's precedence
// (property 9).
func (c *Config) Copy(req *corereq.Request) Macros {
	out := make(Macros, len(c.production)+len(c.selfTest))
	for k, v := range c.production {
		out[k] = v
	}
	if req != nil && req.SelfTest != "" {
		for k, v := range c.selfTest {
			out[k] = v
		}
	}
	return out
}
