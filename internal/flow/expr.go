package flow

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// The condition language is deliberately small: a state reference or
// literal, optionally compared with ==, !=, >, >=, <, <= or `contains`.
// References are bare keys or dotted paths into nested maps; `state.` and
// `${...}` prefixes are accepted and stripped.

var interpolationPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_.]*)\}`)

// Interpolate replaces ${var} references with state values. Unknown
// references render empty.
func Interpolate(template string, state *State) string {
	return interpolationPattern.ReplaceAllStringFunc(template, func(match string) string {
		key := match[2 : len(match)-1]
		if v, ok := lookup(state, key); ok {
			return stringify(v)
		}
		return ""
	})
}

// EvalCondition evaluates a condition expression against state and reports
// truthiness. Malformed expressions evaluate false with an error.
func EvalCondition(expr string, state *State) (bool, error) {
	v, err := Eval(expr, state)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

// Eval evaluates an expression to a value: either a comparison (boolean) or
// a single operand.
func Eval(expr string, state *State) (any, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty expression")
	}

	for _, op := range []string{"==", "!=", ">=", "<=", ">", "<", " contains "} {
		left, right, found := splitOperator(expr, op)
		if !found {
			continue
		}
		lv, err := operand(left, state)
		if err != nil {
			return nil, err
		}
		rv, err := operand(right, state)
		if err != nil {
			return nil, err
		}
		return compare(strings.TrimSpace(op), lv, rv)
	}
	return operand(expr, state)
}

// splitOperator finds the operator outside of quoted strings.
func splitOperator(expr, op string) (string, string, bool) {
	inQuote := false
	for i := 0; i+len(op) <= len(expr); i++ {
		if expr[i] == '\'' || expr[i] == '"' {
			inQuote = !inQuote
			continue
		}
		if !inQuote && expr[i:i+len(op)] == op {
			return expr[:i], expr[i+len(op):], true
		}
	}
	return "", "", false
}

// operand resolves one side of a comparison: a quoted string, a number, a
// boolean literal, or a state reference.
func operand(raw string, state *State) (any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty operand")
	}

	if len(raw) >= 2 {
		if (raw[0] == '\'' && raw[len(raw)-1] == '\'') || (raw[0] == '"' && raw[len(raw)-1] == '"') {
			return raw[1 : len(raw)-1], nil
		}
	}
	switch raw {
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "null", "nil":
		return nil, nil
	}
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return n, nil
	}

	v, _ := lookup(state, raw)
	return v, nil
}

// lookup resolves a dotted state reference.
func lookup(state *State, ref string) (any, bool) {
	ref = strings.TrimPrefix(ref, "state.")
	parts := strings.Split(ref, ".")

	current, ok := state.Get(parts[0])
	if !ok {
		return nil, false
	}
	for _, part := range parts[1:] {
		m, isMap := current.(map[string]any)
		if !isMap {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func compare(op string, left, right any) (any, error) {
	switch op {
	case "==":
		return equal(left, right), nil
	case "!=":
		return !equal(left, right), nil
	case "contains":
		ls, lok := left.(string)
		rs, rok := right.(string)
		if lok && rok {
			return strings.Contains(ls, rs), nil
		}
		if list, ok := left.([]any); ok {
			for _, item := range list {
				if equal(item, right) {
					return true, nil
				}
			}
			return false, nil
		}
		return false, fmt.Errorf("contains requires a string or list left operand")
	}

	ln, lok := asNumber(left)
	rn, rok := asNumber(right)
	if !lok || !rok {
		return nil, fmt.Errorf("operator %s requires numeric operands", op)
	}
	switch op {
	case ">":
		return ln > rn, nil
	case ">=":
		return ln >= rn, nil
	case "<":
		return ln < rn, nil
	case "<=":
		return ln <= rn, nil
	}
	return nil, fmt.Errorf("unknown operator %s", op)
}

func equal(a, b any) bool {
	if an, ok := asNumber(a); ok {
		if bn, ok := asNumber(b); ok {
			return an == bn
		}
	}
	return stringify(a) == stringify(b)
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != "" && t != "false"
	case float64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
