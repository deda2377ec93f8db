package engine

import (
	"encoding/json"
	"reflect"
	"strconv"
	"strings"

	"github.com/tulparlabs/agentrun/types"
)

// Condition expressions are deliberately small: comparisons and boolean
// connectives over context paths, nothing more.
//
//	expr   := clause (("&&" | "||") clause)*
//	clause := operand op operand | operand
//	op     := == | != | >= | <= | > | < | contains
//
// Operands are $path references, single- or double-quoted strings,
// numbers, true/false, null, or bare words (treated as strings).
// Connectives evaluate left to right without precedence. Comparisons go
// numeric when both sides parse as numbers, otherwise lexical. A lone
// operand is truthy unless it is empty, zero, false, null, or an
// unresolved reference.
//
// EvalCondition resolves $path operands through resolve and reports a
// VALIDATION_ERROR for an empty or unparsable expression.
func EvalCondition(expr string, resolve func(path string) (any, bool)) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return false, types.NewError(types.ErrValidation, "condition is empty")
	}

	result := false
	first := true
	connective := "&&"
	for _, part := range splitConnectives(expr) {
		if part.connective != "" {
			connective = part.connective
			continue
		}
		val, err := evalClause(part.text, resolve)
		if err != nil {
			return false, err
		}
		if first {
			result = val
			first = false
			continue
		}
		if connective == "&&" {
			result = result && val
		} else {
			result = result || val
		}
	}
	if first {
		return false, types.Errorf(types.ErrValidation, "condition %q has no clauses", expr)
	}
	return result, nil
}

type conditionPart struct {
	text       string
	connective string
}

// splitConnectives tokenizes on && and || outside quoted strings.
func splitConnectives(expr string) []conditionPart {
	var parts []conditionPart
	var quote byte
	start := 0
	for i := 0; i < len(expr)-1; i++ {
		c := expr[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		if c == '\'' || c == '"' {
			quote = c
			continue
		}
		if (c == '&' && expr[i+1] == '&') || (c == '|' && expr[i+1] == '|') {
			parts = append(parts, conditionPart{text: strings.TrimSpace(expr[start:i])})
			parts = append(parts, conditionPart{connective: expr[i : i+2]})
			i++
			start = i + 1
		}
	}
	parts = append(parts, conditionPart{text: strings.TrimSpace(expr[start:])})
	return parts
}

var comparisonOps = []string{"==", "!=", ">=", "<=", ">", "<", " contains "}

func evalClause(clause string, resolve func(string) (any, bool)) (bool, error) {
	if clause == "" {
		return false, types.NewError(types.ErrValidation, "condition has an empty clause")
	}
	for _, op := range comparisonOps {
		left, right, ok := splitOnOperator(clause, op)
		if !ok {
			continue
		}
		lv := evalOperand(left, resolve)
		rv := evalOperand(right, resolve)
		return compare(lv, rv, strings.TrimSpace(op))
	}
	return truthy(evalOperand(clause, resolve)), nil
}

// splitOnOperator finds op outside quoted strings.
func splitOnOperator(clause, op string) (string, string, bool) {
	var quote byte
	for i := 0; i+len(op) <= len(clause); i++ {
		c := clause[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		if c == '\'' || c == '"' {
			quote = c
			continue
		}
		if clause[i:i+len(op)] == op {
			return strings.TrimSpace(clause[:i]), strings.TrimSpace(clause[i+len(op):]), true
		}
	}
	return "", "", false
}

func evalOperand(raw string, resolve func(string) (any, bool)) any {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return nil
	case raw[0] == '$':
		if v, ok := resolve(raw[1:]); ok {
			return v
		}
		return nil
	case len(raw) >= 2 && (raw[0] == '\'' || raw[0] == '"') && raw[len(raw)-1] == raw[0]:
		return raw[1 : len(raw)-1]
	case raw == "true":
		return true
	case raw == "false":
		return false
	case raw == "null":
		return nil
	}
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return n
	}
	return raw
}

func compare(left, right any, op string) (bool, error) {
	if op == "contains" {
		return contains(left, right), nil
	}

	ln, lok := asNumber(left)
	rn, rok := asNumber(right)
	if lok && rok {
		switch op {
		case "==":
			return ln == rn, nil
		case "!=":
			return ln != rn, nil
		case ">":
			return ln > rn, nil
		case ">=":
			return ln >= rn, nil
		case "<":
			return ln < rn, nil
		case "<=":
			return ln <= rn, nil
		}
	}

	ls, rs := renderValue(left), renderValue(right)
	switch op {
	case "==":
		return ls == rs, nil
	case "!=":
		return ls != rs, nil
	case ">":
		return ls > rs, nil
	case ">=":
		return ls >= rs, nil
	case "<":
		return ls < rs, nil
	case "<=":
		return ls <= rs, nil
	}
	return false, types.Errorf(types.ErrValidation, "unsupported comparison operator %q", op)
}

func contains(haystack, needle any) bool {
	switch h := haystack.(type) {
	case string:
		return strings.Contains(h, renderValue(needle))
	case []any:
		for _, elem := range h {
			if reflect.DeepEqual(elem, needle) || renderValue(elem) == renderValue(needle) {
				return true
			}
		}
	case map[string]any:
		_, ok := h[renderValue(needle)]
		return ok
	}
	return false
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
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return strings.TrimSpace(t) != "" && !tokenPattern.MatchString(t)
	case float64:
		return t != 0
	case int:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return true
}
