// Package rauth resolves suite-level auth credentials into a request header
// (spec §9 Domain Stack). Grounded on the teacher's
// pkg/core/tools/shared/auth.go, which exposes Bearer/Basic/OAuth2 as
// separate agent tools each producing an "Authorization" header string; this
// package collapses the same three kinds into one resolver invoked by the
// dispatcher before request interpolation instead of by an LLM tool call,
// reusing the teacher's exact client_credentials flow
// (golang.org/x/oauth2/clientcredentials) for the oauth2 kind.
package rauth

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/blackcoderx/falcon-runner/internal/rsuite"
)

// Resolver caches OAuth2 tokens per credential so repeated steps within a
// suite run don't re-authenticate on every request; clientcredentials.Config
// already caches internally via its own TokenSource, but a Resolver is
// reused across an entire run so the cache survives across suites sharing
// identical credentials.
type Resolver struct {
	mu      sync.Mutex
	sources map[string]oauth2.TokenSource
}

// NewResolver returns a Resolver with an empty token cache.
func NewResolver() *Resolver {
	return &Resolver{sources: make(map[string]oauth2.TokenSource)}
}

// Header resolves cred into a (name, value) header pair. A nil cred is not
// an error; callers should skip merging when it returns ("", "", nil).
func (r *Resolver) Header(ctx context.Context, cred *rsuite.CredentialSpec) (string, string, error) {
	if cred == nil {
		return "", "", nil
	}
	name := cred.HeaderName
	if name == "" {
		name = "Authorization"
	}

	switch cred.Kind {
	case "bearer":
		if cred.Token == "" {
			return "", "", fmt.Errorf("rauth: bearer credential missing token")
		}
		return name, "Bearer " + cred.Token, nil

	case "basic":
		if cred.Username == "" || cred.Password == "" {
			return "", "", fmt.Errorf("rauth: basic credential requires username and password")
		}
		encoded := base64.StdEncoding.EncodeToString([]byte(cred.Username + ":" + cred.Password))
		return name, "Basic " + encoded, nil

	case "oauth2_client_credentials":
		token, err := r.clientCredentialsToken(ctx, cred)
		if err != nil {
			return "", "", err
		}
		return name, "Bearer " + token, nil

	default:
		return "", "", fmt.Errorf("rauth: unknown credential kind %q", cred.Kind)
	}
}

func (r *Resolver) clientCredentialsToken(ctx context.Context, cred *rsuite.CredentialSpec) (string, error) {
	key := cred.TokenURL + "|" + cred.ClientID + "|" + cred.ClientSecret
	r.mu.Lock()
	src, ok := r.sources[key]
	if !ok {
		cfg := clientcredentials.Config{
			ClientID:     cred.ClientID,
			ClientSecret: cred.ClientSecret,
			TokenURL:     cred.TokenURL,
			Scopes:       cred.Scopes,
		}
		src = cfg.TokenSource(ctx)
		r.sources[key] = src
	}
	r.mu.Unlock()

	token, err := src.Token()
	if err != nil {
		return "", fmt.Errorf("rauth: client_credentials token request failed: %w", err)
	}
	return token.AccessToken, nil
}
