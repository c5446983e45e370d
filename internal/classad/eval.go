package classad

import (
	"fmt"
	"strings"
	"sync"

	"github.com/dop251/goja"
	"github.com/me/daskcondor/pkg/model"
)

// Evaluator matches job ads against constraint expressions.
//
// It supports the subset of the ClassAd language the controller emits:
// attribute references (case-insensitive, optional MY. prefix), integer and
// string literals, true/false/undefined, comparison, arithmetic, the boolean
// operators and the meta-comparisons =?= and =!=. Function calls are
// rejected. Attributes missing from the ad evaluate to undefined, and an
// expression only matches when it evaluates to boolean true.
type Evaluator struct {
	mu       sync.Mutex
	vm       *goja.Runtime
	programs map[string]*goja.Program
}

// NewEvaluator creates an Evaluator backed by a private JavaScript runtime.
func NewEvaluator() *Evaluator {
	return &Evaluator{
		vm:       goja.New(),
		programs: make(map[string]*goja.Program),
	}
}

// Matches reports whether ad satisfies expr.
func (e *Evaluator) Matches(expr string, ad model.JobAd) (bool, error) {
	js, err := translate(expr, ad)
	if err != nil {
		return false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	prog, ok := e.programs[js]
	if !ok {
		prog, err = goja.Compile("constraint", js, true)
		if err != nil {
			return false, fmt.Errorf("compile constraint %q: %w", expr, err)
		}
		e.programs[js] = prog
	}

	if err := e.vm.Set("__ad", map[string]any(ad)); err != nil {
		return false, fmt.Errorf("bind job ad: %w", err)
	}
	v, err := e.vm.RunProgram(prog)
	if err != nil {
		return false, fmt.Errorf("evaluate constraint %q: %w", expr, err)
	}
	b, ok := v.Export().(bool)
	return ok && b, nil
}

// translate rewrites a ClassAd expression into JavaScript in which every
// attribute reference reads from the __ad object.
func translate(expr string, ad model.JobAd) (string, error) {
	keys := make(map[string]string, len(ad))
	for k := range ad {
		keys[strings.ToLower(k)] = k
	}

	var b strings.Builder
	for i := 0; i < len(expr); {
		ch := expr[i]
		switch {
		case ch == '"':
			j := i + 1
			for j < len(expr) && expr[j] != '"' {
				if expr[j] == '\\' {
					j++
				}
				j++
			}
			if j >= len(expr) {
				return "", fmt.Errorf("unterminated string in %q", expr)
			}
			b.WriteString(expr[i : j+1])
			i = j + 1
		case ch == '=' || ch == '!' || ch == '<' || ch == '>':
			op, n, err := operator(expr[i:])
			if err != nil {
				return "", fmt.Errorf("%w in %q", err, expr)
			}
			b.WriteString(op)
			i += n
		case isDigit(ch):
			j := i
			for j < len(expr) && (isDigit(expr[j]) || expr[j] == '.') {
				j++
			}
			b.WriteString(expr[i:j])
			i = j
		case isIdentStart(ch):
			j := i
			for j < len(expr) && (isIdentStart(expr[j]) || isDigit(expr[j]) || expr[j] == '.') {
				j++
			}
			name := expr[i:j]
			i = j
			if rest := strings.TrimLeft(expr[i:], " \t"); strings.HasPrefix(rest, "(") {
				return "", fmt.Errorf("unsupported function %s in %q", name, expr)
			}
			lower := strings.ToLower(name)
			lower = strings.TrimPrefix(lower, "my.")
			switch lower {
			case "true", "false":
				b.WriteString(lower)
			case "undefined":
				b.WriteString("undefined")
			default:
				if strings.Contains(lower, ".") {
					return "", fmt.Errorf("unsupported scoped reference %s in %q", name, expr)
				}
				if key, ok := keys[lower]; ok {
					fmt.Fprintf(&b, "__ad[%q]", key)
				} else {
					b.WriteString("undefined")
				}
			}
		case strings.IndexByte(";{}[]$`'", ch) >= 0:
			return "", fmt.Errorf("unexpected %q in %q", ch, expr)
		default:
			b.WriteByte(ch)
			i++
		}
	}
	return b.String(), nil
}

// operator maps a ClassAd comparison or negation operator at the start of s
// to its JavaScript form and reports how many bytes it consumed.
func operator(s string) (string, int, error) {
	for _, op := range []struct{ classad, js string }{
		{"=?=", "==="},
		{"=!=", "!=="},
		{"==", "=="},
		{"!=", "!="},
		{"<=", "<="},
		{">=", ">="},
		{"<", "<"},
		{">", ">"},
		{"!", "!"},
	} {
		if strings.HasPrefix(s, op.classad) {
			return op.js, len(op.classad), nil
		}
	}
	return "", 0, fmt.Errorf("assignment is not an expression")
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isIdentStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}
