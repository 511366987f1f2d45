package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluateCondition_EmptyIsAlwaysTrue(t *testing.T) {
	assert.True(t, evaluateCondition(""))
}

func TestEvaluateCondition_LiteralBooleans(t *testing.T) {
	assert.True(t, evaluateCondition("true"))
	assert.True(t, evaluateCondition("True"))
	assert.False(t, evaluateCondition("false"))
	assert.False(t, evaluateCondition("FALSE"))
}

func TestEvaluateCondition_Equality(t *testing.T) {
	assert.True(t, evaluateCondition("200 == 200"))
	assert.False(t, evaluateCondition("200 == 404"))
}

func TestEvaluateCondition_Inequality(t *testing.T) {
	assert.True(t, evaluateCondition("active != disabled"))
	assert.False(t, evaluateCondition("active != active"))
}

func TestEvaluateCondition_NonEmptyDefaultsTruthy(t *testing.T) {
	assert.True(t, evaluateCondition("some-value"))
}
