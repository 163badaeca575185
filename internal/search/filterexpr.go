package search

import (
	"fmt"
	"strings"

	"elfmemory/internal/schema"
)

// filterableFields is the allowlisted leaf-field set a search_filter_expr
// may reference; anything else is a bad request, not silently ignored.
var filterableFields = map[string]bool{
	"type": true, "scope": true, "key": true, "status": true,
	"tenant": true, "project": true, "agent": true,
	"importance": true, "confidence": true,
}

// Bounds enforced on every incoming filter expression tree.
const (
	filterMaxDepth     = 8
	filterMaxNodes     = 128
	filterMaxInList    = 128
	filterMaxStringLen = 512
)

var filterOps = map[string]bool{
	"and": true, "or": true, "not": true,
	"eq": true, "neq": true, "in": true, "contains": true,
	"gt": true, "gte": true, "lt": true, "lte": true,
}

// ValidateFilter walks an incoming filter expression and rejects anything
// outside the bounded shape: unknown operators, unlisted fields, trees
// deeper than 8 levels or larger than 128 nodes, in-lists over 128
// entries, or string values over 512 bytes.
func ValidateFilter(expr *schema.FilterExpr) error {
	if expr == nil {
		return nil
	}
	nodes := 0
	return validateFilterNode(*expr, 1, &nodes)
}

func validateFilterNode(expr schema.FilterExpr, depth int, nodes *int) error {
	if depth > filterMaxDepth {
		return fmt.Errorf("filter: tree deeper than %d levels", filterMaxDepth)
	}
	*nodes++
	if *nodes > filterMaxNodes {
		return fmt.Errorf("filter: tree larger than %d nodes", filterMaxNodes)
	}
	if !filterOps[expr.Op] {
		return fmt.Errorf("filter: unknown operator %q", expr.Op)
	}
	switch expr.Op {
	case "and", "or", "not":
		if len(expr.Children) == 0 {
			return fmt.Errorf("filter: %q requires children", expr.Op)
		}
		if expr.Op == "not" && len(expr.Children) != 1 {
			return fmt.Errorf("filter: \"not\" takes exactly one child")
		}
		for _, c := range expr.Children {
			if err := validateFilterNode(c, depth+1, nodes); err != nil {
				return err
			}
		}
		return nil
	}
	if !filterableFields[expr.Field] {
		return fmt.Errorf("filter: field %q not filterable", expr.Field)
	}
	if expr.Op == "in" {
		if len(expr.Values) > filterMaxInList {
			return fmt.Errorf("filter: in-list larger than %d entries", filterMaxInList)
		}
		for _, v := range expr.Values {
			if s, ok := v.(string); ok && len(s) > filterMaxStringLen {
				return fmt.Errorf("filter: string value over %d bytes", filterMaxStringLen)
			}
		}
	}
	if s, ok := expr.Value.(string); ok && len(s) > filterMaxStringLen {
		return fmt.Errorf("filter: string value over %d bytes", filterMaxStringLen)
	}
	return nil
}

// applyStructuredFilter filters cands against the authoritative note
// attributes carried in each candidate's revalidated noteView, returning
// the surviving candidates and a before/after impact
// summary for the trajectory.
func applyStructuredFilter(cands []candidate, expr *schema.FilterExpr) ([]candidate, schema.FilterImpactSummary, error) {
	impact := schema.FilterImpactSummary{BeforeCount: len(cands)}
	if expr == nil {
		impact.AfterCount = len(cands)
		return cands, impact, nil
	}
	out := cands[:0]
	for _, c := range cands {
		ok, err := evalFilterExpr(*expr, c.note)
		if err != nil {
			return nil, impact, err
		}
		if ok {
			out = append(out, c)
		}
	}
	impact.AfterCount = len(out)
	return out, impact, nil
}

func evalFilterExpr(expr schema.FilterExpr, n noteView) (bool, error) {
	switch expr.Op {
	case "and":
		for _, child := range expr.Children {
			ok, err := evalFilterExpr(child, n)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case "or":
		for _, child := range expr.Children {
			ok, err := evalFilterExpr(child, n)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case "not":
		if len(expr.Children) != 1 {
			return false, fmt.Errorf("search: filter: not requires exactly one child")
		}
		ok, err := evalFilterExpr(expr.Children[0], n)
		return !ok, err
	case "eq", "neq", "in", "contains", "gt", "gte", "lt", "lte":
		return evalLeaf(expr, n)
	default:
		return false, fmt.Errorf("search: filter: unknown op %q", expr.Op)
	}
}

func evalLeaf(expr schema.FilterExpr, n noteView) (bool, error) {
	if !filterableFields[expr.Field] {
		return false, fmt.Errorf("search: filter: field %q is not allowlisted", expr.Field)
	}
	field := fieldValue(expr.Field, n)

	switch expr.Op {
	case "eq":
		return fmt.Sprint(field) == fmt.Sprint(expr.Value), nil
	case "neq":
		return fmt.Sprint(field) != fmt.Sprint(expr.Value), nil
	case "in":
		for _, v := range expr.Values {
			if fmt.Sprint(field) == fmt.Sprint(v) {
				return true, nil
			}
		}
		return false, nil
	case "contains":
		s, _ := field.(string)
		return strings.Contains(s, fmt.Sprint(expr.Value)), nil
	case "gt", "gte", "lt", "lte":
		return compareNumeric(field, expr.Value, expr.Op)
	default:
		return false, fmt.Errorf("search: filter: unsupported leaf op %q", expr.Op)
	}
}

func fieldValue(field string, n noteView) any {
	switch field {
	case "type":
		return n.Type
	case "scope":
		return n.Scope
	case "key":
		return n.Key
	case "status":
		return n.Status
	case "tenant":
		return n.Tenant
	case "project":
		return n.Project
	case "agent":
		return n.Agent
	case "importance":
		return n.Importance
	case "confidence":
		return n.Confidence
	default:
		return nil
	}
}

func compareNumeric(field, want any, op string) (bool, error) {
	f, ok := toFloat(field)
	if !ok {
		return false, fmt.Errorf("search: filter: field is not numeric")
	}
	w, ok := toFloat(want)
	if !ok {
		return false, fmt.Errorf("search: filter: comparison value is not numeric")
	}
	switch op {
	case "gt":
		return f > w, nil
	case "gte":
		return f >= w, nil
	case "lt":
		return f < w, nil
	case "lte":
		return f <= w, nil
	default:
		return false, fmt.Errorf("search: filter: unsupported numeric op %q", op)
	}
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
	default:
		return 0, false
	}
}
