// Package secrets resolves credential references (private keys, API
// tokens, webhook shared secrets) named by a `credential-ref` in config
// into their actual bytes, the way the teacher resolves
// APP_PRIVATE_KEY_FILE from disk and the GitHub-runners callback secret
// from AWS SSM Parameter Store.
package secrets

import "context"

// Resolver looks up a named secret. Implementations must not log the
// resolved value.
type Resolver interface {
	Resolve(ctx context.Context, ref string) ([]byte, error)
}

// Chain tries each Resolver in order, returning the first success. Spec
// §6: "secret-root-path resolves a ref to a file; anything not found on
// disk falls through to the SSM-backed resolver when one is configured."
type Chain struct {
	Resolvers []Resolver
}

func NewChain(resolvers ...Resolver) *Chain {
	return &Chain{Resolvers: resolvers}
}

func (c *Chain) Resolve(ctx context.Context, ref string) ([]byte, error) {
	var lastErr error
	for _, r := range c.Resolvers {
		val, err := r.Resolve(ctx, ref)
		if err == nil {
			return val, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = ErrNoResolvers
	}
	return nil, lastErr
}
