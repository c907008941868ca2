// Package abac implements the small predicate-tree evaluator used to
// evaluate a tuple's condition expression against a request context
// (design notes §9: "ABAC conditions").
package abac

import "fmt"

// Context is the attribute bag a condition is evaluated against: user
// attributes, request attributes, anything the caller supplied.
type Context map[string]any

// Condition is a node in the predicate tree. Exactly one of the fields
// below is meaningful, selected by Op.
type Condition struct {
	Op       string       // "and", "or", "not", "eq", "lt", "gt", "in"
	Children []*Condition // for and/or/not
	Field    string       // for eq/lt/gt/in
	Value    any          // for eq/lt/gt
	Values   []any        // for in
}

// Evaluate walks the predicate tree against ctx. Unknown operators treat
// the condition as unsatisfied (design notes §9), never as an error —
// ABAC conditions must fail closed.
func Evaluate(c *Condition, ctx Context) bool {
	if c == nil {
		return true
	}
	switch c.Op {
	case "and":
		for _, child := range c.Children {
			if !Evaluate(child, ctx) {
				return false
			}
		}
		return true
	case "or":
		for _, child := range c.Children {
			if Evaluate(child, ctx) {
				return true
			}
		}
		return false
	case "not":
		if len(c.Children) != 1 {
			return false
		}
		return !Evaluate(c.Children[0], ctx)
	case "eq":
		actual, ok := ctx[c.Field]
		return ok && equal(actual, c.Value)
	case "lt":
		actual, ok := ctx[c.Field]
		if !ok {
			return false
		}
		cmp, ok := compare(actual, c.Value)
		return ok && cmp < 0
	case "gt":
		actual, ok := ctx[c.Field]
		if !ok {
			return false
		}
		cmp, ok := compare(actual, c.Value)
		return ok && cmp > 0
	case "in":
		actual, ok := ctx[c.Field]
		if !ok {
			return false
		}
		for _, v := range c.Values {
			if equal(actual, v) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func equal(a, b any) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// compare returns -1/0/1 comparing numeric values; ok is false when either
// operand isn't numeric.
func compare(a, b any) (int, bool) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return 0, false
	}
	switch {
	case af < bf:
		return -1, true
	case af > bf:
		return 1, true
	default:
		return 0, true
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
