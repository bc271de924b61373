// Package httpauth builds authenticated *http.Client values for the SCM
// and scanner APIs a HandoffConfig points at, the way the teacher builds
// an authenticated DigitalOcean API client: wrap a static credential in
// an oauth2.TokenSource and hand the resulting client to the API SDK/HTTP
// caller, rather than threading an Authorization header through by hand.
package httpauth

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
)

// BearerClient returns an *http.Client that attaches token as a bearer
// Authorization header to every request. Grounded on the teacher's
// `oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})` /
// `oauth2.NewClient` pair in internal/digitalocean/droplet.go, generalized
// from a DigitalOcean-only client constructor to the SCM/scanner client
// construction this system needs instead.
func BearerClient(ctx context.Context, token string) *http.Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	return oauth2.NewClient(ctx, ts)
}

// BasicAuthTransport attaches HTTP Basic auth, for SCM deployments (e.g.
// Bitbucket Data Center app passwords) that don't speak bearer tokens.
type BasicAuthTransport struct {
	Username string
	Password string
	Base     http.RoundTripper
}

func (t *BasicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	cloned.SetBasicAuth(t.Username, t.Password)
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(cloned)
}

// BasicAuthClient returns an *http.Client authenticating with HTTP Basic.
func BasicAuthClient(username, password string) *http.Client {
	return &http.Client{Transport: &BasicAuthTransport{Username: username, Password: password}}
}

// RefreshableTokenSource adapts a function that fetches a fresh token
// (e.g. a GitHub App installation token, minted from the kickoff JWT) into
// an oauth2.TokenSource, so App-style auth reuses the same BearerClient
// plumbing as a static API key.
type RefreshableTokenSource struct {
	Fetch func(ctx context.Context) (*oauth2.Token, error)
	ctx   context.Context
}

func NewRefreshableTokenSource(ctx context.Context, fetch func(ctx context.Context) (*oauth2.Token, error)) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(nil, &RefreshableTokenSource{Fetch: fetch, ctx: ctx})
}

func (r *RefreshableTokenSource) Token() (*oauth2.Token, error) {
	return r.Fetch(r.ctx)
}
