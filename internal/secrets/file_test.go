package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileResolverReadsUnderRoot(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cxone-api-key"), []byte("s3cr3t"), 0o600))

	r := NewFileResolver(dir)
	val, err := r.Resolve(context.Background(), "cxone-api-key")
	require.NoError(t, err)
	require.Equal(t, "s3cr3t", string(val))
}

func TestFileResolverRejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	r := NewFileResolver(dir)
	_, err := r.Resolve(context.Background(), "../../etc/passwd")
	require.Error(t, err)
}

func TestChainFallsThroughOnError(t *testing.T) {
	first := staticResolver{err: errors.New("not found")}
	second := staticResolver{val: []byte("ok")}
	chain := NewChain(first, second)

	val, err := chain.Resolve(context.Background(), "anything")
	require.NoError(t, err)
	require.Equal(t, "ok", string(val))
}

func TestChainReturnsLastErrorWhenAllFail(t *testing.T) {
	chain := NewChain(staticResolver{err: errors.New("boom")})
	_, err := chain.Resolve(context.Background(), "anything")
	require.Error(t, err)
}

type staticResolver struct {
	val []byte
	err error
}

func (s staticResolver) Resolve(context.Context, string) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.val, nil
}
