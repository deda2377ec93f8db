package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tulparlabs/agentrun/types"
)

func condResolver(vars map[string]any) func(string) (any, bool) {
	ctx := NewContext(vars)
	return ctx.Resolve
}

func TestEvalCondition_Comparisons(t *testing.T) {
	t.Parallel()
	resolve := condResolver(map[string]any{
		"count":   5,
		"score":   4.5,
		"name":    "Ayşe",
		"city":    "İzmir",
		"active":  true,
		"empty":   "",
		"balance": "12.50", // numeric strings compare numerically
		"tags":    []any{"vip", "yeni"},
		"user":    map[string]any{"age": 30},
	})

	tests := []struct {
		expr string
		want bool
	}{
		{"$count > 3", true},
		{"$count > 5", false},
		{"$count >= 5", true},
		{"$count < 10", true},
		{"$count <= 4", false},
		{"$count == 5", true},
		{"$count != 5", false},
		{"$score > 4", true},
		{"$balance >= 12", true},
		{"$user.age == 30", true},
		{`$name == "Ayşe"`, true},
		{"$name == 'Ayşe'", true},
		{"$name != 'Fatma'", true},
		{"$city == İzmir", true}, // bare word operand
		{"$active == true", true},
		{"$missing == null", true},
		{"$empty == ''", true},
		{"'İzmir kalabalık' contains 'İzmir'", true},
		{"$tags contains 'vip'", true},
		{"$tags contains 'eski'", false},
		{"$name contains 'yş'", true},
		{"$name contains 'z'", false},
	}
	for _, tt := range tests {
		got, err := EvalCondition(tt.expr, resolve)
		require.NoError(t, err, "expr %q", tt.expr)
		assert.Equal(t, tt.want, got, "expr %q", tt.expr)
	}
}

func TestEvalCondition_Connectives(t *testing.T) {
	t.Parallel()
	resolve := condResolver(map[string]any{"a": 1, "b": 2, "flag": false})

	tests := []struct {
		expr string
		want bool
	}{
		{"$a == 1 && $b == 2", true},
		{"$a == 1 && $b == 3", false},
		{"$a == 9 || $b == 2", true},
		{"$a == 9 || $b == 9", false},
		// Left-to-right, no precedence: (false || true) && false.
		{"$a == 9 || $b == 2 && $flag == true", false},
		{"$flag", false},
		{"$a", true},
	}
	for _, tt := range tests {
		got, err := EvalCondition(tt.expr, resolve)
		require.NoError(t, err, "expr %q", tt.expr)
		assert.Equal(t, tt.want, got, "expr %q", tt.expr)
	}
}

func TestEvalCondition_QuotedConnectiveStaysLiteral(t *testing.T) {
	t.Parallel()
	resolve := condResolver(map[string]any{"s": "a && b"})

	got, err := EvalCondition("$s == 'a && b'", resolve)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestEvalCondition_UnresolvedReferenceIsFalsy(t *testing.T) {
	t.Parallel()
	resolve := condResolver(map[string]any{})

	got, err := EvalCondition("$missing", resolve)
	require.NoError(t, err)
	assert.False(t, got)

	got, err = EvalCondition("$missing == 5", resolve)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestEvalCondition_EmptyExpression(t *testing.T) {
	t.Parallel()
	_, err := EvalCondition("   ", condResolver(nil))
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.GetCode(err))
}

func TestEvalCondition_TruthyBareOperands(t *testing.T) {
	t.Parallel()
	resolve := condResolver(map[string]any{
		"text":  "dolu",
		"blank": "   ",
		"zero":  0,
		"list":  []any{},
	})

	tests := []struct {
		expr string
		want bool
	}{
		{"$text", true},
		{"$blank", false},
		{"$zero", false},
		{"$list", false},
		{"true", true},
		{"false", false},
		{"sometext", true},
		{"0", false},
	}
	for _, tt := range tests {
		got, err := EvalCondition(tt.expr, resolve)
		require.NoError(t, err, "expr %q", tt.expr)
		assert.Equal(t, tt.want, got, "expr %q", tt.expr)
	}
}
