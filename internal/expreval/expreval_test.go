package expreval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackcoderx/falcon-runner/internal/rvalue"
)

func TestJSEvaluatorArithmeticAndVars(t *testing.T) {
	e := &JSEvaluator{}
	v, err := e.Evaluate(context.Background(), "status_code == 200", map[string]rvalue.Value{
		"status_code": rvalue.Number(200),
	})
	require.NoError(t, err)
	b, ok := v.Bool()
	require.True(t, ok)
	assert.True(t, b)
}

func TestJSEvaluatorSyntaxErrorSurfaces(t *testing.T) {
	e := &JSEvaluator{}
	_, err := e.Evaluate(context.Background(), "this is not valid js!!!", nil)
	assert.Error(t, err)
}

func TestFakerEvaluatorUUIDAndEmail(t *testing.T) {
	f := FakerEvaluator{}
	v, err := f.Evaluate(context.Background(), "faker.datatype.uuid", nil)
	require.NoError(t, err)
	s, ok := v.String()
	require.True(t, ok)
	assert.Len(t, s, 36)

	v, err = f.Evaluate(context.Background(), "$faker.internet.email", nil)
	require.NoError(t, err)
	s, ok = v.String()
	require.True(t, ok)
	assert.Contains(t, s, "@example.test")
}

func TestFakerEvaluatorUnsupportedMethod(t *testing.T) {
	f := FakerEvaluator{}
	_, err := f.Evaluate(context.Background(), "faker.weather.forecast", nil)
	assert.Error(t, err)
}

func TestFakerEvaluatorMalformedExpression(t *testing.T) {
	f := FakerEvaluator{}
	_, err := f.Evaluate(context.Background(), "not-a-faker-expr", nil)
	assert.Error(t, err)
}
