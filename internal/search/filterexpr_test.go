package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"elfmemory/internal/schema"
)

func leafEq(field string, value any) schema.FilterExpr {
	return schema.FilterExpr{Op: "eq", Field: field, Value: value}
}

func TestValidateFilter(t *testing.T) {
	require.NoError(t, ValidateFilter(nil))
	require.NoError(t, ValidateFilter(&schema.FilterExpr{
		Op: "and",
		Children: []schema.FilterExpr{
			leafEq("type", "fact"),
			{Op: "gte", Field: "importance", Value: 0.5},
		},
	}))

	assert.Error(t, ValidateFilter(&schema.FilterExpr{Op: "like", Field: "type", Value: "f"}))
	assert.Error(t, ValidateFilter(&schema.FilterExpr{Op: "eq", Field: "text", Value: "x"}))
	assert.Error(t, ValidateFilter(&schema.FilterExpr{Op: "not", Children: []schema.FilterExpr{
		leafEq("type", "fact"), leafEq("type", "plan"),
	}}))
}

func TestValidateFilter_DepthBound(t *testing.T) {
	expr := leafEq("type", "fact")
	for i := 0; i < 9; i++ {
		expr = schema.FilterExpr{Op: "not", Children: []schema.FilterExpr{expr}}
	}
	assert.Error(t, ValidateFilter(&expr))
}

func TestValidateFilter_NodeBound(t *testing.T) {
	children := make([]schema.FilterExpr, 130)
	for i := range children {
		children[i] = leafEq("type", "fact")
	}
	assert.Error(t, ValidateFilter(&schema.FilterExpr{Op: "or", Children: children}))
}

func TestApplyStructuredFilter(t *testing.T) {
	cands := []candidate{
		{ChunkID: "a:0", NoteID: "a", note: noteView{Type: "fact", Importance: 0.9}},
		{ChunkID: "b:0", NoteID: "b", note: noteView{Type: "plan", Importance: 0.9}},
		{ChunkID: "c:0", NoteID: "c", note: noteView{Type: "fact", Importance: 0.1}},
	}
	expr := schema.FilterExpr{
		Op: "and",
		Children: []schema.FilterExpr{
			leafEq("type", "fact"),
			{Op: "gt", Field: "importance", Value: 0.5},
		},
	}
	out, impact, err := applyStructuredFilter(cands, &expr)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].NoteID)
	assert.Equal(t, 3, impact.BeforeCount)
	assert.Equal(t, 1, impact.AfterCount)
}

func TestEvalFilterExpr_Operators(t *testing.T) {
	n := noteView{Type: "fact", Scope: "project_shared", Key: "storage_backend", Importance: 0.7}

	ok, err := evalFilterExpr(schema.FilterExpr{Op: "in", Field: "type", Values: []any{"plan", "fact"}}, n)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = evalFilterExpr(schema.FilterExpr{Op: "contains", Field: "key", Value: "backend"}, n)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = evalFilterExpr(schema.FilterExpr{Op: "not", Children: []schema.FilterExpr{leafEq("scope", "agent_private")}}, n)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = evalFilterExpr(schema.FilterExpr{Op: "lte", Field: "importance", Value: 0.5}, n)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = evalFilterExpr(schema.FilterExpr{Op: "gt", Field: "type", Value: 1}, n)
	assert.Error(t, err)
}
