package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/hilo/config"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, int64(config.MumbaiChainID), cfg.Chain.ID)
	assert.Equal(t, config.MumbaiContract, cfg.Chain.Contract)
	assert.Equal(t, config.MumbaiUSDC, cfg.Chain.PaymentAsset)
	assert.Equal(t, cfg.Chain.RPCURL, cfg.Chain.WSURL)
	assert.True(t, decimal.NewFromInt(45).Equal(cfg.MaxApproval()))
	assert.True(t, decimal.NewFromInt(1).Equal(cfg.LowBuyMargin()))
	assert.Equal(t, 2*time.Second, cfg.PollInterval())
	assert.Equal(t, 30*time.Second, cfg.StillPendingAfter())
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_YAMLAndEnv(t *testing.T) {
	path := writeYAML(t, `
chain:
  id: 137
  network_name: Polygon
  rpc_url: https://polygon-rpc.com
trading:
  low_buy_margin: "2.5"
wallet:
  private_keys: ["aa", "bb"]
log:
  level: debug
`)
	t.Setenv("HILO_WS_URL", "wss://polygon.example/ws")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("HILO_PRIVATE_KEY", "cc,dd,ee")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, int64(137), cfg.Chain.ID)
	assert.Equal(t, "Polygon", cfg.Chain.NetworkName)
	assert.Equal(t, "https://polygon-rpc.com", cfg.Chain.RPCURL)
	assert.Equal(t, "wss://polygon.example/ws", cfg.Chain.WSURL)
	assert.Equal(t, "warn", cfg.Log.Level, "env wins over YAML")
	assert.Equal(t, []string{"cc", "dd", "ee"}, cfg.Wallet.PrivateKeys)
	assert.True(t, decimal.RequireFromString("2.5").Equal(cfg.LowBuyMargin()))
}

func TestLoad_Invalid(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = config.Load(writeYAML(t, "chain: [broken"))
	assert.Error(t, err)

	_, err = config.Load(writeYAML(t, "trading:\n  low_buy_margin: \"0.5\"\n"))
	assert.ErrorContains(t, err, "at least 1")

	_, err = config.Load(writeYAML(t, "trading:\n  max_approval_amount: lots\n"))
	assert.ErrorContains(t, err, "max_approval_amount")
}
