package rauth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackcoderx/falcon-runner/internal/rsuite"
)

func TestHeaderNilCredentialIsNoop(t *testing.T) {
	r := NewResolver()
	name, value, err := r.Header(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, name)
	assert.Empty(t, value)
}

func TestHeaderBearer(t *testing.T) {
	r := NewResolver()
	name, value, err := r.Header(context.Background(), &rsuite.CredentialSpec{Kind: "bearer", Token: "abc123"})
	require.NoError(t, err)
	assert.Equal(t, "Authorization", name)
	assert.Equal(t, "Bearer abc123", value)
}

func TestHeaderBearerRequiresToken(t *testing.T) {
	r := NewResolver()
	_, _, err := r.Header(context.Background(), &rsuite.CredentialSpec{Kind: "bearer"})
	assert.Error(t, err)
}

func TestHeaderBasic(t *testing.T) {
	r := NewResolver()
	name, value, err := r.Header(context.Background(), &rsuite.CredentialSpec{Kind: "basic", Username: "admin", Password: "secret123"})
	require.NoError(t, err)
	assert.Equal(t, "Authorization", name)
	assert.Equal(t, "Basic YWRtaW46c2VjcmV0MTIz", value)
}

func TestHeaderBasicRequiresUsernameAndPassword(t *testing.T) {
	r := NewResolver()
	_, _, err := r.Header(context.Background(), &rsuite.CredentialSpec{Kind: "basic", Username: "admin"})
	assert.Error(t, err)
}

func TestHeaderCustomHeaderName(t *testing.T) {
	r := NewResolver()
	name, _, err := r.Header(context.Background(), &rsuite.CredentialSpec{Kind: "bearer", Token: "x", HeaderName: "X-Api-Key"})
	require.NoError(t, err)
	assert.Equal(t, "X-Api-Key", name)
}

func TestHeaderUnknownKind(t *testing.T) {
	r := NewResolver()
	_, _, err := r.Header(context.Background(), &rsuite.CredentialSpec{Kind: "bogus"})
	assert.Error(t, err)
}
