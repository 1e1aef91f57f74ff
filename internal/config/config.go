// Package config resolves the network table and runtime settings from
// defaults, an optional config file, the environment and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

const (
	DefaultNetwork        = "ethereum"
	DefaultSyncTimeout    = 90 * time.Second
	DefaultPollInterval   = 12 * time.Second
	DefaultBatchSize      = 50
	DefaultConcurrency    = 4
	DefaultRPS            = 10.0
	DefaultConfirmTimeout = 3 * time.Minute
)

type Sync struct {
	Enabled      bool
	Timeout      time.Duration
	PollInterval time.Duration
	BatchSize    int
	Concurrency  int
	RPS          float64
}

type Config struct {
	Network Network

	CachePath string
	Sync      Sync

	LogLevel  string
	LogFormat string
	LogFile   string

	ConfirmTimeout  time.Duration
	Journal         string
	MetricsTextfile string
}

// NewViper returns a viper instance with defaults and env binding applied.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("network", DefaultNetwork)
	v.SetDefault("rpc_url", "")
	v.SetDefault("cache.path", "")
	v.SetDefault("sync.enabled", true)
	v.SetDefault("sync.timeout", DefaultSyncTimeout)
	v.SetDefault("sync.poll_interval", DefaultPollInterval)
	v.SetDefault("sync.batch_size", DefaultBatchSize)
	v.SetDefault("sync.concurrency", DefaultConcurrency)
	v.SetDefault("sync.rps", DefaultRPS)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")
	v.SetDefault("tx.confirm_timeout", DefaultConfirmTimeout)
	v.SetDefault("tx.journal", "")
	v.SetDefault("metrics.textfile", "")
	for _, k := range []string{"controller", "voucher", "multicall", "governor", "timelock"} {
		v.SetDefault("contracts."+k, "")
	}

	v.SetEnvPrefix("CARBON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file (explicit path, or carbon.{yaml,json,toml} in
// "." / "./config" when path is empty) and resolves the final Config. A
// missing implicit config file is not an error.
func Load(v *viper.Viper, path string) (Config, error) {
	if v == nil {
		v = NewViper()
	}
	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("carbon")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || strings.TrimSpace(path) != "" {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	return Resolve(v)
}

// Resolve builds a Config from an already populated viper instance.
func Resolve(v *viper.Viper) (Config, error) {
	name := strings.ToLower(strings.TrimSpace(v.GetString("network")))
	network, ok := LookupNetwork(name)
	if !ok {
		return Config{}, fmt.Errorf("unknown network %q (known: %s)", name, strings.Join(NetworkNames(), ", "))
	}

	rpcURL := strings.TrimSpace(firstNonEmpty(v.GetString("rpc_url"), os.Getenv("RPC_WS_URL"), os.Getenv("RPC_URL"), network.RPCURL))
	if err := validateRPCURL(rpcURL); err != nil {
		return Config{}, err
	}
	network.RPCURL = rpcURL

	overrides := []struct {
		key string
		dst *common.Address
	}{
		{"contracts.controller", &network.Contracts.Controller},
		{"contracts.voucher", &network.Contracts.Voucher},
		{"contracts.multicall", &network.Contracts.Multicall},
		{"contracts.governor", &network.Contracts.Governor},
		{"contracts.timelock", &network.Contracts.Timelock},
	}
	for _, o := range overrides {
		raw := strings.TrimSpace(v.GetString(o.key))
		if raw == "" {
			continue
		}
		if !common.IsHexAddress(raw) {
			return Config{}, fmt.Errorf("invalid %s %q", o.key, raw)
		}
		*o.dst = common.HexToAddress(raw)
	}
	if network.Contracts.Controller == (common.Address{}) {
		return Config{}, fmt.Errorf("contracts.controller required for network %s", network.Name)
	}

	cfg := Config{
		Network:   network,
		CachePath: strings.TrimSpace(v.GetString("cache.path")),
		Sync: Sync{
			Enabled:      v.GetBool("sync.enabled"),
			Timeout:      v.GetDuration("sync.timeout"),
			PollInterval: v.GetDuration("sync.poll_interval"),
			BatchSize:    v.GetInt("sync.batch_size"),
			Concurrency:  v.GetInt("sync.concurrency"),
			RPS:          v.GetFloat64("sync.rps"),
		},
		LogLevel:        v.GetString("log.level"),
		LogFormat:       v.GetString("log.format"),
		LogFile:         v.GetString("log.file"),
		ConfirmTimeout:  v.GetDuration("tx.confirm_timeout"),
		Journal:         strings.TrimSpace(v.GetString("tx.journal")),
		MetricsTextfile: strings.TrimSpace(v.GetString("metrics.textfile")),
	}
	if cfg.Sync.Timeout <= 0 {
		cfg.Sync.Timeout = DefaultSyncTimeout
	}
	if cfg.Sync.PollInterval <= 0 {
		cfg.Sync.PollInterval = DefaultPollInterval
	}
	if cfg.Sync.BatchSize <= 0 {
		cfg.Sync.BatchSize = DefaultBatchSize
	}
	if cfg.Sync.Concurrency <= 0 {
		cfg.Sync.Concurrency = DefaultConcurrency
	}
	if cfg.Sync.RPS <= 0 {
		cfg.Sync.RPS = DefaultRPS
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = DefaultConfirmTimeout
	}
	return cfg, nil
}

func validateRPCURL(rpcURL string) error {
	if rpcURL == "" {
		return fmt.Errorf("rpc url required (set rpc_url, CARBON_RPC_URL or RPC_URL)")
	}
	if !strings.HasPrefix(rpcURL, "ws") && !strings.HasPrefix(rpcURL, "http") {
		return fmt.Errorf("rpc url must be ws(s):// or http(s)://, got %q", rpcURL)
	}
	if strings.Contains(rpcURL, "YOUR_KEY") {
		return fmt.Errorf("rpc url still contains placeholder YOUR_KEY")
	}
	return nil
}

// Token resolves a symbol from the network table or a hex address.
func (n Network) Token(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if addr, ok := n.Tokens[strings.ToUpper(s)]; ok {
		return addr, nil
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("unknown token %q (not a symbol of %s nor a hex address)", s, n.Name)
	}
	return common.HexToAddress(s), nil
}

// Symbol returns the table symbol for addr, or its hex form.
func (n Network) Symbol(addr common.Address) string {
	best := ""
	for sym, a := range n.Tokens {
		if a == addr && (best == "" || sym < best) {
			best = sym
		}
	}
	if best == "" {
		return addr.Hex()
	}
	return best
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
