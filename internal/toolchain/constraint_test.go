package toolchain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConstraint(t *testing.T) {
	tests := []struct {
		expr    string
		allowed []string
		denied  []string
	}{
		{"^0.8.0", []string{"0.8.0", "0.8.4", "0.8.14"}, []string{"0.7.6", "0.9.0"}},
		{"^0.5.16", []string{"0.5.16", "0.5.17"}, []string{"0.5.15", "0.6.0"}},
		{"^0.0.3", []string{"0.0.3"}, []string{"0.0.4"}},
		{"~0.6.6", []string{"0.6.6", "0.6.12"}, []string{"0.7.0", "0.6.5"}},
		{"=0.6.6", []string{"0.6.6"}, []string{"0.6.7"}},
		{"0.4.18", []string{"0.4.18"}, []string{"0.4.19", "0.4.17"}},
		{"0.8", []string{"0.8.0", "0.8.14"}, []string{"0.9.0"}},
		{">=0.5.0 <0.7.0", []string{"0.5.16", "0.6.6"}, []string{"0.4.18", "0.7.0"}},
		{">= 0.6.2", []string{"0.6.2", "0.8.14"}, []string{"0.6.1"}},
		{">0.5.0 <=0.6.6", []string{"0.6.6"}, []string{"0.5.0", "0.6.7"}},
		{"0.4.18 || ^0.8.0", []string{"0.4.18", "0.8.4"}, []string{"0.5.16", "0.6.6"}},
		{"0.5.0 - 0.6.6", []string{"0.5.0", "0.6.6"}, []string{"0.6.7"}},
		{"^0.8.x", []string{"0.8.0"}, []string{"0.9.0"}},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			c, err := ParseConstraint(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.expr, c.String())

			for _, v := range tt.allowed {
				assert.True(t, c.Allows(v), "%s should allow %s", tt.expr, v)
			}
			for _, v := range tt.denied {
				assert.False(t, c.Allows(v), "%s should deny %s", tt.expr, v)
			}
		})
	}
}

func TestParseConstraint_Invalid(t *testing.T) {
	for _, expr := range []string{"", "^", "abc", "0.8.a", "1.2.3.4", "0.8.0 ||"} {
		t.Run(expr, func(t *testing.T) {
			_, err := ParseConstraint(expr)
			assert.Error(t, err)
		})
	}
}

func TestConstraint_AllowsRejectsGarbage(t *testing.T) {
	c, err := ParseConstraint("^0.8.0")
	require.NoError(t, err)
	assert.False(t, c.Allows("latest"))
}
