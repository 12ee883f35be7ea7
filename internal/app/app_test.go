package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/booksage/internal/config"
	"github.com/dgallion1/booksage/internal/oracle"
)

func quietLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewOracle_NoKeys(t *testing.T) {
	cfg := config.Defaults()
	cfg.Providers = []oracle.ProviderConfig{{Name: "anthropic", Type: oracle.TypeAnthropic, APIKeyEnv: "UNSET_KEY"}}

	_, err := NewOracle(context.Background(), cfg, quietLog())
	require.Error(t, err)
	assert.ErrorIs(t, err, oracle.ErrNoProvider)
}

func TestNewOracle_CompatibleProvider(t *testing.T) {
	cfg := config.Defaults()
	cfg.Cache.Dir = filepath.Join(t.TempDir(), "cache")
	cfg.Providers = []oracle.ProviderConfig{{
		Name:    "local",
		Type:    oracle.TypeOpenAICompatible,
		APIKey:  "sk-local",
		BaseURL: "http://127.0.0.1:1/v1",
		Models:  map[oracle.Role]string{oracle.RoleReasoning: "qwen"},
	}}

	o, err := NewOracle(context.Background(), cfg, quietLog())
	require.NoError(t, err)
	defer o.Close()
	assert.NotNil(t, o.Stats())
	assert.Len(t, o.providers, 1)
}

func TestNewOracle_UnknownType(t *testing.T) {
	cfg := config.Defaults()
	cfg.Providers = []oracle.ProviderConfig{{Name: "x", Type: "carrier-pigeon", APIKey: "k"}}

	_, err := NewOracle(context.Background(), cfg, quietLog())
	assert.ErrorContains(t, err, "unknown type")
}

func TestNewComponents(t *testing.T) {
	cfg := config.Defaults()
	dir := t.TempDir()
	cfg.Runtime.Dir = filepath.Join(dir, "runtime")
	cfg.Runtime.ReportsDir = filepath.Join(dir, "reports")
	cfg.Output.GenerateCode = false

	comps := NewComponents(cfg, nil, nil, quietLog())
	require.NotNil(t, comps.Engine)
	assert.Equal(t, filepath.Join(cfg.Runtime.Dir, "sessions", "abc"), comps.Sessions.Dir("abc"))
	assert.Equal(t, filepath.Join(cfg.Runtime.ReportsDir, "report_abc.md"), comps.Reports.Path("abc"))
	assert.NotNil(t, comps.Worker(quietLog()))
}
