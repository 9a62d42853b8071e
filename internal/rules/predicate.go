// Package rules provides a small data-driven predicate evaluator shared by
// the rate-limit, dedup and digest rule tables. Conditions are expressed as
// (field, operator, value) triples so rule sets stay configuration instead
// of hard-coded branches.
package rules

import (
	"strconv"
	"strings"
)

// Operator compares a field value against a rule value.
type Operator string

const (
	OpEq       Operator = "eq"
	OpNe       Operator = "ne"
	OpGt       Operator = "gt"
	OpGte      Operator = "gte"
	OpLt       Operator = "lt"
	OpLte      Operator = "lte"
	OpIn       Operator = "in"
	OpContains Operator = "contains"
)

// Condition is one predicate over a named field.
type Condition struct {
	Field string   `json:"field"`
	Op    Operator `json:"op"`
	Value any      `json:"value"`
}

// Fields is the flat field bag a condition set is evaluated against.
// Values may be string, bool, int variants, float64, or []string.
type Fields map[string]any

// Match reports whether every condition holds. An empty condition set
// matches everything.
func Match(conds []Condition, f Fields) bool {
	for _, c := range conds {
		if !eval(c, f) {
			return false
		}
	}
	return true
}

func eval(c Condition, f Fields) bool {
	got, ok := f[c.Field]
	if !ok {
		return false
	}
	switch c.Op {
	case OpEq:
		return equal(got, c.Value)
	case OpNe:
		return !equal(got, c.Value)
	case OpGt, OpGte, OpLt, OpLte:
		a, aok := toFloat(got)
		b, bok := toFloat(c.Value)
		if !aok || !bok {
			return false
		}
		switch c.Op {
		case OpGt:
			return a > b
		case OpGte:
			return a >= b
		case OpLt:
			return a < b
		default:
			return a <= b
		}
	case OpIn:
		return contains(c.Value, got)
	case OpContains:
		return contains(got, c.Value)
	default:
		return false
	}
}

func equal(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok2 := toFloat(b); ok2 {
			return fa == fb
		}
	}
	return toString(a) == toString(b)
}

// contains checks membership of needle in haystack, where haystack is a
// []string, []any or a comma-separated string.
func contains(haystack, needle any) bool {
	n := toString(needle)
	switch h := haystack.(type) {
	case []string:
		for _, v := range h {
			if v == n {
				return true
			}
		}
	case []any:
		for _, v := range h {
			if toString(v) == n {
				return true
			}
		}
	case string:
		for _, v := range strings.Split(h, ",") {
			if strings.TrimSpace(v) == n {
				return true
			}
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case uint64:
		return float64(x), true
	}
	return 0, false
}

func toString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		if x {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return ""
	}
}
