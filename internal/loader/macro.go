package loader

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/dmitrydvoinikov/pythomnic-go/internal/classify"
)

// Macros is the flat name→value dictionary a string value is expanded
// against: the merged contents of config_config plus the builtins
// __node__/__cage__/__cage_dir__ (§4.6, §12).
type Macros map[string]any

var templateToken = regexp.MustCompile(`\$\$|\$\{(\w+)\}|\$(\w+)`)

// substituteTemplate implements string.Template's $name / ${name}
// substitution with its standard `$$` → literal `$` escape, which is
// exactly the rule cages/.shared/config.py builds on. A name absent
// from macros is left untouched (string.Template's "safe substitute"
// behaviour) rather than raising, since config values commonly contain
// unrelated `$` characters (e.g. currency amounts).
func substituteTemplate(s string, macros Macros) string {
	return templateToken.ReplaceAllStringFunc(s, func(tok string) string {
		if tok == "$$" {
			return "$"
		}
		name := strings.Trim(tok, "${}")
		if v, ok := macros[name]; ok {
			return toMacroString(v)
		}
		return tok
	})
}

func toMacroString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return formatScalar(v)
	}
}

func formatScalar(v any) string {
	switch t := v.(type) {
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

var evalWrapper = regexp.MustCompile(`^eval\((.*)\)$`)
var evalInt = regexp.MustCompile(`^int\((.*)\)$`)
var evalFloat = regexp.MustCompile(`^float\((.*)\)$`)
var evalBool = regexp.MustCompile(`^bool\((.*)\)$`)
var evalBytesCall = regexp.MustCompile(`^bytes\((.*)\)$`)
var bytesLiteral = regexp.MustCompile(`^b"(.*)"$`)

// evalWhitelisted implements a deliberately restricted `eval(...)`
// grammar: int(...), float(...), bool(...), and a byte-string literal
// (bytes(...) or a bare b"..." literal). Anything else is rejected with
// a classified config error rather than evaluated — a config file
// author gets a fixed set of type coercions, never an interpreter.
func evalWhitelisted(expr string) (any, error) {
	switch {
	case evalInt.MatchString(expr):
		inner := evalInt.FindStringSubmatch(expr)[1]
		n, err := strconv.Atoi(strings.TrimSpace(inner))
		if err != nil {
			return nil, classify.Config("eval(int(...))", err)
		}
		return n, nil
	case evalFloat.MatchString(expr):
		inner := evalFloat.FindStringSubmatch(expr)[1]
		f, err := strconv.ParseFloat(strings.TrimSpace(inner), 64)
		if err != nil {
			return nil, classify.Config("eval(float(...))", err)
		}
		return f, nil
	case evalBool.MatchString(expr):
		inner := strings.TrimSpace(evalBool.FindStringSubmatch(expr)[1])
		return inner == "True" || inner == "true" || inner == "1", nil
	case evalBytesCall.MatchString(expr):
		inner := evalBytesCall.FindStringSubmatch(expr)[1]
		return decodeByteLiteral(inner)
	case bytesLiteral.MatchString(expr):
		inner := bytesLiteral.FindStringSubmatch(expr)[1]
		return decodeByteLiteral(`b"` + inner + `"`)
	default:
		return nil, classify.Config("eval("+expr+")", nil)
	}
}

// decodeByteLiteral decodes a Python-style b"...\x00..." literal (with
// or without the leading b"..." wrapper) into a []byte, handling the
// \xHH escape used by E7's fixture.
func decodeByteLiteral(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, `b"`)
	s = strings.TrimSuffix(s, `"`)
	var out []byte
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) && s[i+1] == 'x' {
			hex := s[i+2 : i+4]
			b, err := strconv.ParseUint(hex, 16, 8)
			if err != nil {
				return nil, classify.Config("bytes literal", err)
			}
			out = append(out, byte(b))
			i += 3
			continue
		}
		out = append(out, s[i])
	}
	return out, nil
}

// ExpandString applies substituteTemplate then, if the result is an
// `eval(...)` wrapper, evaluates it via evalWhitelisted. Otherwise the
// substituted string itself is the value.
func ExpandString(s string, macros Macros) (any, error) {
	substituted := substituteTemplate(s, macros)
	if m := evalWrapper.FindStringSubmatch(substituted); m != nil {
		return evalWhitelisted(strings.TrimSpace(m[1]))
	}
	return substituted, nil
}

// Expand recurses through containers per §4.6: ordered sequences,
// mappings, and scalars are expanded; string scalars go through
// ExpandString, everything else passes through unchanged. Property 8
// (idempotence) holds because an already-expanded value is either not
// a string (passes through) or a string with no remaining `$`/`eval(`
// markers (substituteTemplate and evalWrapper are then no-ops). The
// exception is a `$$` escape: its output `$` is a live marker again, so
// "$${key}" expands to "${key}" and a second pass substitutes key.
func Expand(value any, macros Macros) (any, error) {
	switch v := value.(type) {
	case string:
		return ExpandString(v, macros)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			ev, err := Expand(item, macros)
			if err != nil {
				return nil, err
			}
			out[i] = ev
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			ev, err := Expand(item, macros)
			if err != nil {
				return nil, err
			}
			out[k] = ev
		}
		return out, nil
	default:
		return value, nil
	}
}
