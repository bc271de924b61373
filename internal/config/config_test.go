package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cxoneflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeTempConfig(t, `
server-base-url: https://cxoneflow.example.com
secret-root-path: /etc/cxoneflow/secrets
gh:
  - repo-match: "^myorg/.*$"
    service-name: github-main
    cxone:
      endpoint: https://ast.checkmarx.net
      tenant: myorg
      credential-ref: cxone-api-key
    connection:
      amqp-url: amqp://broker:5672
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.AllRoutes(), 1)
	require.Equal(t, "github-main", cfg.GH[0].ServiceName)
}

func TestLoadRejectsWildcardRepoMatch(t *testing.T) {
	path := writeTempConfig(t, `
server-base-url: https://cxoneflow.example.com
secret-root-path: /etc/cxoneflow/secrets
gh:
  - repo-match: ".*"
    service-name: catch-all
`)

	_, err := Load(path)
	require.Error(t, err)
	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
}

func TestLoadRejectsNoRoutes(t *testing.T) {
	path := writeTempConfig(t, `
server-base-url: https://cxoneflow.example.com
secret-root-path: /etc/cxoneflow/secrets
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsBadRegex(t *testing.T) {
	path := writeTempConfig(t, `
server-base-url: https://cxoneflow.example.com
secret-root-path: /etc/cxoneflow/secrets
gh:
  - repo-match: "(unclosed"
    service-name: broken
`)

	_, err := Load(path)
	require.Error(t, err)
}
