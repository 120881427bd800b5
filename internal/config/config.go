package config

import (
	"fmt"
	"sort"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"github.com/0xNedAlbo/duncan-scanner/internal/common"
	"github.com/0xNedAlbo/duncan-scanner/internal/logger"
)

// SupportedChains is the closed set of chain identifiers the scanner knows.
var SupportedChains = map[string]struct{}{
	"ethereum": {},
	"arbitrum": {},
	"base":     {},
}

// defaultNFPMAddresses holds the canonical NonfungiblePositionManager
// deployment per chain, used when a chain entry omits nfpm_address.
var defaultNFPMAddresses = map[string]string{
	"ethereum": "0xC36442b4a4522E871399CD717aBDD847Ab11FE88",
	"arbitrum": "0xC36442b4a4522E871399CD717aBDD847Ab11FE88",
	"base":     "0x03a520b32C04BF3bEEf7BEb72E919cf822Ed34f1",
}

// Config represents the complete configuration for the scanner worker.
type Config struct {
	// Scanner contains the scan loop configuration
	Scanner ScannerConfig `yaml:"scanner" json:"scanner" toml:"scanner"`

	// Chains maps chain identifiers to their per-chain settings
	Chains map[string]ChainConfig `yaml:"chains" json:"chains" toml:"chains"`

	// DB contains database configuration for the watermark store and ledger
	DB DatabaseConfig `yaml:"db" json:"db" toml:"db"`

	// Logging contains logging configuration
	Logging *LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty" toml:"logging,omitempty"`

	// Metrics contains Prometheus metrics configuration
	Metrics *MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty" toml:"metrics,omitempty"`
}

// ScannerConfig represents the configuration for the scan loop and fetcher.
type ScannerConfig struct {
	// PollInterval is the tick period per chain
	PollInterval common.Duration `yaml:"poll_interval" json:"poll_interval" toml:"poll_interval"`

	// WindowBlocks is the size of the recent window used for reorg detection
	WindowBlocks uint64 `yaml:"window_blocks" json:"window_blocks" toml:"window_blocks"`

	// SafetyBuffer is subtracted from the first affected block when choosing
	// the rollback ancestor
	SafetyBuffer uint64 `yaml:"safety_buffer" json:"safety_buffer" toml:"safety_buffer"`

	// ChunkMin is the lower bound for the adaptive fetch span
	ChunkMin uint64 `yaml:"chunk_min" json:"chunk_min" toml:"chunk_min"`

	// ChunkMax is the upper bound for the adaptive fetch span
	ChunkMax uint64 `yaml:"chunk_max" json:"chunk_max" toml:"chunk_max"`

	// TargetLogsPerCall is the desired log count per getLogs sub-range;
	// it drives span adaptation
	TargetLogsPerCall uint64 `yaml:"target_logs_per_call" json:"target_logs_per_call" toml:"target_logs_per_call"`

	// Chains optionally restricts scanning to a subset of the configured
	// chains; empty means all
	Chains []string `yaml:"chains,omitempty" json:"chains,omitempty" toml:"chains,omitempty"`

	// Retry contains RPC retry configuration with exponential backoff
	Retry *RetryConfig `yaml:"retry,omitempty" json:"retry,omitempty" toml:"retry,omitempty"`
}

// ApplyDefaults sets default values for optional scanner configuration fields.
func (s *ScannerConfig) ApplyDefaults() {
	if s.PollInterval.Duration == 0 {
		s.PollInterval = common.NewDuration(30 * time.Second)
	}
	if s.WindowBlocks == 0 {
		s.WindowBlocks = 128
	}
	if s.SafetyBuffer == 0 {
		s.SafetyBuffer = 5
	}
	if s.ChunkMin == 0 {
		s.ChunkMin = 64
	}
	if s.ChunkMax == 0 {
		s.ChunkMax = 4096
	}
	if s.TargetLogsPerCall == 0 {
		s.TargetLogsPerCall = 200
	}

	if s.Retry != nil {
		s.Retry.ApplyDefaults()
	}
}

// ChainConfig represents the per-chain settings.
type ChainConfig struct {
	// RPCURL is the HTTP endpoint of the chain's execution client
	RPCURL string `yaml:"rpc_url" json:"rpc_url" toml:"rpc_url"`

	// NFPMAddress is the NonfungiblePositionManager contract address;
	// defaults to the canonical deployment for known chains
	NFPMAddress string `yaml:"nfpm_address,omitempty" json:"nfpm_address,omitempty" toml:"nfpm_address,omitempty"`

	// SupportsFinalizedTag indicates whether the backend answers the
	// "finalized"/"safe" block tags
	SupportsFinalizedTag bool `yaml:"supports_finalized_tag" json:"supports_finalized_tag" toml:"supports_finalized_tag"`
}

// NFPMAddr returns the NFPM contract address in parsed form.
func (c ChainConfig) NFPMAddr() ethcommon.Address {
	return ethcommon.HexToAddress(c.NFPMAddress)
}

// RetryConfig represents RPC retry configuration with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial request)
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts" toml:"max_attempts"`

	// InitialBackoff is the initial backoff duration before first retry
	InitialBackoff common.Duration `yaml:"initial_backoff" json:"initial_backoff" toml:"initial_backoff"`

	// MaxBackoff is the maximum backoff duration
	MaxBackoff common.Duration `yaml:"max_backoff" json:"max_backoff" toml:"max_backoff"`

	// BackoffMultiplier is the multiplier for exponential backoff
	BackoffMultiplier float64 `yaml:"backoff_multiplier" json:"backoff_multiplier" toml:"backoff_multiplier"`
}

// ApplyDefaults sets default values for retry configuration.
func (r *RetryConfig) ApplyDefaults() {
	if r.MaxAttempts == 0 {
		r.MaxAttempts = 5
	}
	if r.InitialBackoff.Duration == 0 {
		r.InitialBackoff = common.NewDuration(1 * time.Second)
	}
	if r.MaxBackoff.Duration == 0 {
		r.MaxBackoff = common.NewDuration(30 * time.Second)
	}
	if r.BackoffMultiplier == 0 {
		r.BackoffMultiplier = 2.0
	}
}

// DatabaseConfig represents SQLite database configuration.
type DatabaseConfig struct {
	// Path is the file path to the SQLite database
	Path string `yaml:"path" json:"path" toml:"path"`

	// JournalMode sets the SQLite journal mode (e.g., "WAL", "DELETE")
	JournalMode string `yaml:"journal_mode" json:"journal_mode" toml:"journal_mode"`

	// Synchronous sets the synchronization level ("FULL", "NORMAL", "OFF")
	Synchronous string `yaml:"synchronous" json:"synchronous" toml:"synchronous"`

	// BusyTimeout is the time in milliseconds to wait when the database is locked
	BusyTimeout int `yaml:"busy_timeout" json:"busy_timeout" toml:"busy_timeout"`

	// CacheSize is the size of the page cache (negative = KB, positive = pages)
	CacheSize int `yaml:"cache_size" json:"cache_size" toml:"cache_size"`

	// MaxOpenConnections is the maximum number of open database connections
	MaxOpenConnections int `yaml:"max_open_connections" json:"max_open_connections" toml:"max_open_connections"`

	// MaxIdleConnections is the maximum number of idle connections in the pool
	MaxIdleConnections int `yaml:"max_idle_connections" json:"max_idle_connections" toml:"max_idle_connections"`

	// EnableForeignKeys enables foreign key constraint enforcement
	EnableForeignKeys bool `yaml:"enable_foreign_keys" json:"enable_foreign_keys" toml:"enable_foreign_keys"`
}

// ApplyDefaults sets default values for optional database configuration fields.
func (d *DatabaseConfig) ApplyDefaults() {
	if d.JournalMode == "" {
		d.JournalMode = "WAL"
	}
	if d.Synchronous == "" {
		d.Synchronous = "NORMAL"
	}
	if d.BusyTimeout == 0 {
		d.BusyTimeout = 5000
	}
	if d.CacheSize == 0 {
		d.CacheSize = 10000
	}
	if d.MaxOpenConnections == 0 {
		d.MaxOpenConnections = 25
	}
	if d.MaxIdleConnections == 0 {
		d.MaxIdleConnections = 5
	}
	// EnableForeignKeys defaults to false (zero value)
}

// LoggingConfig configures logging behavior with per-component log levels.
type LoggingConfig struct {
	// DefaultLevel is the default log level for all components
	// Options: "debug", "info", "warn", "error"
	DefaultLevel string `yaml:"default_level" json:"default_level" toml:"default_level"`

	// Development enables development mode (stack traces, console encoder)
	Development bool `yaml:"development" json:"development" toml:"development"`

	// ComponentLevels sets log levels for specific components
	// Available components:
	//   - scanner: Scan loop and reorg controller
	//   - log-fetcher: Adaptive log fetching
	//   - recent-window: Reorg detection window
	//   - watermark-store: Persisted scan position
	//   - ledger: Position event sink
	//   - rpc: Chain RPC client
	ComponentLevels map[string]string `yaml:"component_levels,omitempty" json:"component_levels,omitempty" toml:"component_levels,omitempty"` //nolint:lll
}

// ApplyDefaults sets default values for optional logging configuration fields.
func (l *LoggingConfig) ApplyDefaults() {
	if l.DefaultLevel == "" {
		l.DefaultLevel = "info"
	}
	if l.ComponentLevels == nil {
		l.ComponentLevels = make(map[string]string)
	}
}

// Validate checks if the logging configuration is valid.
func (l *LoggingConfig) Validate() error {
	if l.DefaultLevel != "" {
		if _, valid := logger.ValidLogLevels[common.ToLowerWithTrim(l.DefaultLevel)]; !valid {
			return fmt.Errorf("logging.default_level: must be one of: debug, info, warn, error")
		}
	}

	for component, level := range l.ComponentLevels {
		if _, validComponent := common.AllComponents[common.ToLowerWithTrim(component)]; !validComponent {
			return fmt.Errorf("logging.component_levels: unknown component '%s'", component)
		}

		if _, valid := logger.ValidLogLevels[common.ToLowerWithTrim(level)]; !valid {
			return fmt.Errorf("logging.component_levels[%s]: must be one of: debug, info, warn, error", component)
		}
	}

	return nil
}

// GetComponentLevel returns the log level for a specific component.
// Falls back to DefaultLevel if no component-specific level is set.
func (l *LoggingConfig) GetComponentLevel(component string) string {
	if level, ok := l.ComponentLevels[component]; ok {
		return level
	}
	return common.ToLowerWithTrim(l.DefaultLevel)
}

// GetDefaultLevel returns the default log level.
func (l *LoggingConfig) GetDefaultLevel() string {
	return common.ToLowerWithTrim(l.DefaultLevel)
}

// IsDevelopment returns whether development mode is enabled.
func (l *LoggingConfig) IsDevelopment() bool {
	return l.Development
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	// Enabled controls whether metrics collection and HTTP endpoint are active
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// ListenAddress is the address to bind the metrics HTTP server to
	// Format: "host:port" or ":port"
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`

	// Path is the HTTP path where metrics are exposed
	Path string `yaml:"path" json:"path" toml:"path"`
}

// ApplyDefaults sets default values for optional metrics configuration fields.
func (m *MetricsConfig) ApplyDefaults() {
	if m.ListenAddress == "" {
		m.ListenAddress = ":9090"
	}
	if m.Path == "" {
		m.Path = "/metrics"
	}
}

// Validate checks if the metrics configuration is valid.
func (m *MetricsConfig) Validate() error {
	if m.Enabled {
		if m.ListenAddress == "" {
			return fmt.Errorf("listen_address is required when metrics are enabled")
		}
		if m.Path == "" {
			return fmt.Errorf("path is required when metrics are enabled")
		}
		if m.Path[0] != '/' {
			return fmt.Errorf("path must start with '/'")
		}
	}
	return nil
}

// ApplyDefaults sets default values for optional configuration fields.
func (c *Config) ApplyDefaults() {
	c.Scanner.ApplyDefaults()
	c.DB.ApplyDefaults()

	for id, chain := range c.Chains {
		if chain.NFPMAddress == "" {
			chain.NFPMAddress = defaultNFPMAddresses[id]
			c.Chains[id] = chain
		}
	}

	if c.Logging != nil {
		c.Logging.ApplyDefaults()
	}

	if c.Metrics != nil {
		c.Metrics.ApplyDefaults()
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Scanner.ChunkMin > c.Scanner.ChunkMax {
		return fmt.Errorf("scanner.chunk_min (%d) must not exceed scanner.chunk_max (%d)",
			c.Scanner.ChunkMin, c.Scanner.ChunkMax)
	}

	if c.Scanner.WindowBlocks == 0 {
		return fmt.Errorf("scanner.window_blocks must be positive")
	}

	if c.Scanner.PollInterval.Duration <= 0 {
		return fmt.Errorf("scanner.poll_interval must be positive")
	}

	if c.DB.Path == "" {
		return fmt.Errorf("db.path is required")
	}

	if c.DB.JournalMode != "" && c.DB.JournalMode != "WAL" &&
		c.DB.JournalMode != "DELETE" && c.DB.JournalMode != "TRUNCATE" &&
		c.DB.JournalMode != "PERSIST" && c.DB.JournalMode != "MEMORY" {
		return fmt.Errorf("db.journal_mode must be one of: WAL, DELETE, TRUNCATE, PERSIST, MEMORY")
	}

	if c.DB.Synchronous != "" && c.DB.Synchronous != "FULL" &&
		c.DB.Synchronous != "NORMAL" && c.DB.Synchronous != "OFF" {
		return fmt.Errorf("db.synchronous must be one of: FULL, NORMAL, OFF")
	}

	if len(c.Chains) == 0 {
		return fmt.Errorf("at least one chain must be configured")
	}

	for id, chain := range c.Chains {
		if _, ok := SupportedChains[id]; !ok {
			return fmt.Errorf("chains[%s]: unsupported chain identifier", id)
		}

		if chain.RPCURL == "" {
			return fmt.Errorf("chains[%s]: rpc_url is required", id)
		}

		if chain.NFPMAddress == "" {
			return fmt.Errorf("chains[%s]: nfpm_address is required", id)
		}

		if !ethcommon.IsHexAddress(chain.NFPMAddress) {
			return fmt.Errorf("chains[%s]: nfpm_address %q is not a valid address", id, chain.NFPMAddress)
		}
	}

	for _, id := range c.Scanner.Chains {
		if _, ok := c.Chains[id]; !ok {
			return fmt.Errorf("scanner.chains: chain %q is not configured", id)
		}
	}

	if c.Logging != nil {
		if err := c.Logging.Validate(); err != nil {
			return err
		}
	}

	if c.Metrics != nil {
		if err := c.Metrics.Validate(); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	return nil
}

// ScanChains returns the chain identifiers to scan, honoring the optional
// scanner.chains subset filter.
func (c *Config) ScanChains() []string {
	if len(c.Scanner.Chains) > 0 {
		return c.Scanner.Chains
	}

	chains := make([]string, 0, len(c.Chains))
	for id := range c.Chains {
		chains = append(chains, id)
	}
	sort.Strings(chains)
	return chains
}
