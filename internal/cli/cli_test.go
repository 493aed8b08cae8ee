package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/expressiv/approvaldesk/internal/docflow"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSetupWritesEnvFile(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env")
	out, err := runCLI(t, "setup", "--env-file", envPath, "--jwt-secret", "fixed-secret")
	require.NoError(t, err)
	assert.Contains(t, out, "wrote "+envPath)

	raw, err := os.ReadFile(envPath)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "MOCKAPI_JWT_SECRET=\"fixed-secret\"\n")
	assert.Contains(t, string(raw), "API_BASE_URL=\"http://localhost:8080\"\n")

	_, err = runCLI(t, "setup", "--env-file", envPath)
	assert.ErrorContains(t, err, "already exists")

	_, err = runCLI(t, "setup", "--env-file", envPath, "--force")
	require.NoError(t, err)
	raw, err = os.ReadFile(envPath)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "fixed-secret", "a new secret is generated")
}

func TestSetupRejectsShortDemoPassword(t *testing.T) {
	_, err := runCLI(t, "setup", "--env-file", filepath.Join(t.TempDir(), ".env"), "--demo-password", "short")
	assert.ErrorContains(t, err, "invalid demo password")
}

func TestRunRejectsUnknownTarget(t *testing.T) {
	_, err := runCLI(t, "run", "everything")
	assert.Error(t, err)
	_, err = runCLI(t, "run")
	assert.Error(t, err)
}

func TestCatalogPrintRoundTrips(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CATALOG_PATH", "")
	out, err := runCLI(t, "catalog", "print", "--config", filepath.Join(dir, "none.yaml"), "--env-file", filepath.Join(dir, ".env"))
	require.NoError(t, err)

	printed, err := docflow.ParseCatalog([]byte(out))
	require.NoError(t, err)
	def, err := docflow.DefaultCatalog()
	require.NoError(t, err)
	assert.Equal(t, def, printed)
}

func TestCatalogValidate(t *testing.T) {
	dir := t.TempDir()
	def, err := docflow.DefaultCatalog()
	require.NoError(t, err)
	raw, err := yaml.Marshal(def)
	require.NoError(t, err)

	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, raw, 0o600))
	out, err := runCLI(t, "catalog", "validate", good)
	require.NoError(t, err)
	assert.Contains(t, out, "catalog ok: 6 kinds")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte(strings.Replace(string(raw), "status-post", "carrier-pigeon", 1)), 0o600))
	_, err = runCLI(t, "catalog", "validate", bad)
	assert.Error(t, err)

	_, err = runCLI(t, "catalog", "validate", filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestEnsureParentDirs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, ensureParentDirs(filepath.Join(dir, "a", "b", "db.sqlite"), "local.db"))
	info, err := os.Stat(filepath.Join(dir, "a", "b"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
