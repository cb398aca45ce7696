package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// ErrEmptyToken is returned when a credential yields an empty token.
var ErrEmptyToken = errors.New("pipeline: credential returned empty token")

// TokenCredential supplies bearer tokens. Acquisition, caching and refresh
// are the credential's concern.
type TokenCredential interface {
	Token(ctx context.Context, scopes ...string) (string, error)
}

// TokenCredentialFunc adapts a function to the TokenCredential interface.
type TokenCredentialFunc func(ctx context.Context, scopes ...string) (string, error)

// Token calls f(ctx, scopes...).
func (f TokenCredentialFunc) Token(ctx context.Context, scopes ...string) (string, error) {
	return f(ctx, scopes...)
}

// StaticToken is a credential that always returns the same token.
type StaticToken string

// Token implements TokenCredential.
func (s StaticToken) Token(context.Context, ...string) (string, error) {
	return string(s), nil
}

// BearerTokenFactory creates policies that set "Authorization: Bearer <token>".
//
// An Authorization header already on the request, such as one bound from a
// method parameter, takes precedence and the credential is not consulted.
//
// Example:
//
//	pipeline.BearerTokenFactory{
//	    Credential: pipeline.TokenCredentialFunc(func(ctx context.Context, scopes ...string) (string, error) {
//	        return tokenSource.Token(ctx)
//	    }),
//	    Scopes: []string{"https://storage.azure.com/.default"},
//	}
type BearerTokenFactory struct {
	Credential TokenCredential
	Scopes     []string
}

// Create implements Factory.
func (f BearerTokenFactory) Create(next Policy, _ *Options) Policy {
	cred := f.Credential
	scopes := append([]string(nil), f.Scopes...)

	return PolicyFunc(func(ctx context.Context, req *Request) (*Response, error) {
		if cred == nil || req.Header.Get("Authorization") != "" {
			return next.Send(ctx, req)
		}

		token, err := cred.Token(ctx, scopes...)
		if err != nil {
			return nil, fmt.Errorf("pipeline: acquire token: %w", err)
		}
		if token == "" {
			return nil, ErrEmptyToken
		}

		req.Header.Set("Authorization", "Bearer "+token)
		return next.Send(ctx, req)
	})
}

// APIKeyFactory creates policies that set a static API key header when the
// request does not carry one.
type APIKeyFactory struct {
	Header string
	Key    string
}

// Create implements Factory.
func (f APIKeyFactory) Create(next Policy, _ *Options) Policy {
	header, key := f.Header, f.Key
	return PolicyFunc(func(ctx context.Context, req *Request) (*Response, error) {
		if header != "" && req.Header.Get(header) == "" {
			req.Header.Set(header, key)
		}
		return next.Send(ctx, req)
	})
}
