package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvalExpression(t *testing.T) {
	cases := []struct {
		expr string
		want float64
	}{
		{"1+2", 3},
		{"2*3+4", 10},
		{"2+3*4", 14},
		{"(2+3)*4", 20},
		{"10/4", 2.5},
		{"2^10", 1024},
		{"7%3", 1},
		{"-3+5", 2},
		{"2*-3", -6},
		{"1.5*2", 3},
		{" ( 1 + 2 ) * ( 3 - 1 ) ", 6},
	}
	for _, tc := range cases {
		got, err := evalExpression(tc.expr)
		require.NoError(t, err, tc.expr)
		assert.InDelta(t, tc.want, got, 1e-9, tc.expr)
	}
}

func TestEvalExpressionErrors(t *testing.T) {
	for _, expr := range []string{
		"",
		"1/0",
		"2%0",
		"(1+2",
		"1+2)",
		"1+",
		"abc",
		"1 2",
		"-",
	} {
		_, err := evalExpression(expr)
		assert.Error(t, err, expr)
	}
}
