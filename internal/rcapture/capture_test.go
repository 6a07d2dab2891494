package rcapture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackcoderx/falcon-runner/internal/rsuite"
	"github.com/blackcoderx/falcon-runner/internal/rvalue"
)

func sampleResponse() *rsuite.ResponseSpec {
	body := rvalue.Object().
		Set("data", rvalue.Object().Set("id", rvalue.Number(42)).Build()).
		Build()
	return &rsuite.ResponseSpec{
		StatusCode: 201,
		Headers: map[string]string{
			"X-Request-Id": "abc-123",
			"Set-Cookie":   "session=xyz789; Path=/; HttpOnly",
		},
		Body:    body,
		RawBody: `{"token":"tok_live_9988"}`,
	}
}

func TestEvaluateJSONPath(t *testing.T) {
	out := Evaluate(map[string]string{"id": "body.data.id"}, sampleResponse(), nil)
	n, ok := out["id"].Number()
	require.True(t, ok)
	assert.Equal(t, float64(42), n)
}

func TestEvaluateHeader(t *testing.T) {
	out := Evaluate(map[string]string{"req_id": "header:X-Request-Id"}, sampleResponse(), nil)
	s, ok := out["req_id"].String()
	require.True(t, ok)
	assert.Equal(t, "abc-123", s)
}

func TestEvaluateCookie(t *testing.T) {
	out := Evaluate(map[string]string{"session": "cookie:session"}, sampleResponse(), nil)
	s, ok := out["session"].String()
	require.True(t, ok)
	assert.Equal(t, "xyz789", s)
}

func TestEvaluateRegexWithGroup(t *testing.T) {
	out := Evaluate(map[string]string{"token": `regex:"token":"([^"]+)"`}, sampleResponse(), nil)
	s, ok := out["token"].String()
	require.True(t, ok)
	assert.Equal(t, "tok_live_9988", s)
}

func TestEvaluateFailureIsWarnedNotFatal(t *testing.T) {
	var warned []string
	out := Evaluate(map[string]string{"missing": "body.nope"}, sampleResponse(), func(name string, err error) {
		warned = append(warned, name)
	})
	assert.Empty(t, out)
	assert.Equal(t, []string{"missing"}, warned)
}
