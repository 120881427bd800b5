package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const validYAML = `
scanner:
  poll_interval: 10s
  window_blocks: 64
  safety_buffer: 5
  chunk_min: 128
  chunk_max: 2048
  target_logs_per_call: 150
chains:
  ethereum:
    rpc_url: http://localhost:8545
    supports_finalized_tag: true
  base:
    rpc_url: http://localhost:8546
db:
  path: /tmp/scanner.db
`

func TestLoadFromYAML(t *testing.T) {
	path := writeTempConfig(t, "config.yaml", validYAML)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	require.Equal(t, 10*time.Second, cfg.Scanner.PollInterval.Duration)
	require.Equal(t, uint64(64), cfg.Scanner.WindowBlocks)
	require.Equal(t, uint64(5), cfg.Scanner.SafetyBuffer)
	require.Equal(t, uint64(128), cfg.Scanner.ChunkMin)
	require.Equal(t, uint64(2048), cfg.Scanner.ChunkMax)
	require.Equal(t, uint64(150), cfg.Scanner.TargetLogsPerCall)

	// Canonical NFPM address filled in by defaults
	require.Equal(t, "0xC36442b4a4522E871399CD717aBDD847Ab11FE88", cfg.Chains["ethereum"].NFPMAddress)
	require.Equal(t, "0x03a520b32C04BF3bEEf7BEb72E919cf822Ed34f1", cfg.Chains["base"].NFPMAddress)
	require.True(t, cfg.Chains["ethereum"].SupportsFinalizedTag)
	require.False(t, cfg.Chains["base"].SupportsFinalizedTag)

	// DB defaults applied
	require.Equal(t, "WAL", cfg.DB.JournalMode)
	require.Equal(t, "NORMAL", cfg.DB.Synchronous)
}

func TestLoadFromTOML(t *testing.T) {
	content := `
[scanner]
poll_interval = "15s"

[chains.arbitrum]
rpc_url = "http://localhost:8547"

[db]
path = "/tmp/scanner.db"
`
	path := writeTempConfig(t, "config.toml", content)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, 15*time.Second, cfg.Scanner.PollInterval.Duration)
	require.Equal(t, "0xC36442b4a4522E871399CD717aBDD847Ab11FE88", cfg.Chains["arbitrum"].NFPMAddress)
}

func TestLoadFromJSON(t *testing.T) {
	content := `{
  "scanner": {"poll_interval": "5s"},
  "chains": {"ethereum": {"rpc_url": "http://localhost:8545"}},
  "db": {"path": "/tmp/scanner.db"}
}`
	path := writeTempConfig(t, "config.json", content)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, cfg.Scanner.PollInterval.Duration)
}

func TestLoadFromFile_UnsupportedExtension(t *testing.T) {
	path := writeTempConfig(t, "config.ini", "whatever")
	_, err := LoadFromFile(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported config file format")
}

func TestScannerConfig_Defaults(t *testing.T) {
	content := `
chains:
  ethereum:
    rpc_url: http://localhost:8545
db:
  path: /tmp/scanner.db
`
	path := writeTempConfig(t, "config.yaml", content)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	require.Equal(t, 30*time.Second, cfg.Scanner.PollInterval.Duration)
	require.Equal(t, uint64(128), cfg.Scanner.WindowBlocks)
	require.Equal(t, uint64(5), cfg.Scanner.SafetyBuffer)
	require.Equal(t, uint64(64), cfg.Scanner.ChunkMin)
	require.Equal(t, uint64(4096), cfg.Scanner.ChunkMax)
	require.Equal(t, uint64(200), cfg.Scanner.TargetLogsPerCall)
}

func TestConfig_Validate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Chains: map[string]ChainConfig{
				"ethereum": {RPCURL: "http://localhost:8545"},
			},
			DB: DatabaseConfig{Path: "/tmp/scanner.db"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name: "chunk_min above chunk_max",
			mutate: func(c *Config) {
				c.Scanner.ChunkMin = 5000
				c.Scanner.ChunkMax = 100
			},
			wantErr: "chunk_min",
		},
		{
			name: "unknown chain",
			mutate: func(c *Config) {
				c.Chains["dogecoin"] = ChainConfig{RPCURL: "http://localhost:1234"}
			},
			wantErr: "unsupported chain identifier",
		},
		{
			name: "missing rpc url",
			mutate: func(c *Config) {
				c.Chains["base"] = ChainConfig{}
			},
			wantErr: "rpc_url is required",
		},
		{
			name: "bad nfpm address",
			mutate: func(c *Config) {
				c.Chains["ethereum"] = ChainConfig{
					RPCURL:      "http://localhost:8545",
					NFPMAddress: "not-an-address",
				}
			},
			wantErr: "not a valid address",
		},
		{
			name: "subset references unconfigured chain",
			mutate: func(c *Config) {
				c.Scanner.Chains = []string{"arbitrum"}
			},
			wantErr: "is not configured",
		},
		{
			name: "no chains",
			mutate: func(c *Config) {
				c.Chains = nil
			},
			wantErr: "at least one chain",
		},
		{
			name: "missing db path",
			mutate: func(c *Config) {
				c.DB.Path = ""
			},
			wantErr: "db.path is required",
		},
		{
			name: "invalid component in logging",
			mutate: func(c *Config) {
				c.Logging = &LoggingConfig{
					DefaultLevel:    "info",
					ComponentLevels: map[string]string{"nope": "debug"},
				}
			},
			wantErr: "unknown component",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			cfg.ApplyDefaults()

			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				require.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_ScanChains(t *testing.T) {
	cfg := &Config{
		Chains: map[string]ChainConfig{
			"ethereum": {RPCURL: "u"},
			"base":     {RPCURL: "u"},
		},
	}

	require.ElementsMatch(t, []string{"ethereum", "base"}, cfg.ScanChains())

	cfg.Scanner.Chains = []string{"base"}
	require.Equal(t, []string{"base"}, cfg.ScanChains())
}
