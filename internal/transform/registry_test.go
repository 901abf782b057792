package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRuleTransformerResolvesRegisteredNames(t *testing.T) {
	reg := NewRegistry()
	reg.Register("anthropic", func() Transformer { return markerTransformer{"anthropic"} })

	rt, err := BuildRuleTransformer(reg, []RuleConfig{
		{PathPattern: `^/v1/anthropic/`, Transformer: "anthropic"},
	})
	require.NoError(t, err)
	require.Len(t, rt.Rules, 1)
	assert.True(t, rt.Rules[0].PathPattern.MatchString("/v1/anthropic/messages"))
}

func TestBuildRuleTransformerRejectsUnknownName(t *testing.T) {
	reg := NewRegistry()
	_, err := BuildRuleTransformer(reg, []RuleConfig{
		{PathPattern: `^/v1/`, Transformer: "missing"},
	})
	assert.Error(t, err)
}

func TestBuildRuleTransformerRejectsBadPattern(t *testing.T) {
	reg := NewRegistry()
	reg.Register("x", func() Transformer { return PassthroughTransformer{} })
	_, err := BuildRuleTransformer(reg, []RuleConfig{
		{PathPattern: `(`, Transformer: "x"},
	})
	assert.Error(t, err)
}
