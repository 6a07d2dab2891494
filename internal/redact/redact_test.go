package redact

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/blackcoderx/falcon-runner/internal/rvalue"
)

func TestKeyIsSensitive(t *testing.T) {
	assert.True(t, KeyIsSensitive("Authorization"))
	assert.True(t, KeyIsSensitive("api_key"))
	assert.True(t, KeyIsSensitive("client_secret"))
	assert.False(t, KeyIsSensitive("request_id"))
}

func TestValueMasksBearerToken(t *testing.T) {
	out := Value("Authorization: Bearer sk-abc123.def456")
	assert.Contains(t, out, Mask)
	assert.NotContains(t, out, "sk-abc123")
}

func TestValueMasksInlineKeyValueAssignment(t *testing.T) {
	out := Value("connection?password=hunter2&db=prod")
	assert.Contains(t, out, Mask)
	assert.NotContains(t, out, "hunter2")
	assert.Contains(t, out, "db=prod")
}

func TestValueLeavesNonSensitiveTextAlone(t *testing.T) {
	assert.Equal(t, "status=ok", Value("status=ok"))
}

func TestKeyedValueMasksWholeValueForSensitiveKey(t *testing.T) {
	assert.Equal(t, Mask, KeyedValue("password", "anything-at-all"))
}

func TestMapRedactsOnlySensitiveEntries(t *testing.T) {
	out := Map(map[string]string{
		"Authorization": "Bearer xyz",
		"X-Request-Id":  "req-1",
	})
	assert.Equal(t, Mask, out["Authorization"])
	assert.Equal(t, "req-1", out["X-Request-Id"])
}

func TestValuesMasksSensitiveNamesRegardlessOfType(t *testing.T) {
	out := Values(map[string]rvalue.Value{
		"login.access_token": rvalue.String("sekret"),
		"seed.user_id":        rvalue.Number(42),
	})
	masked, _ := out["login.access_token"].String()
	assert.Equal(t, Mask, masked)
	id, _ := out["seed.user_id"].Number()
	assert.Equal(t, float64(42), id)
}
