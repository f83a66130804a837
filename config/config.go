package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/ckvault/internal/clients/gateway"
	"github.com/vadiminshakov/ckvault/internal/domain"
)

const (
	DefaultPollInterval   = 60 * time.Second
	DefaultRequestTimeout = gateway.DefaultTimeout
	DefaultSlippageBps    = 100
	DefaultWalDir         = "./wal"
	DefaultWebAddr        = ":8080"

	envPrefix = "CKVAULT_"
)

type Config struct {
	GatewayURL string
	// APIToken bearer token of the gateway, never read from yaml.
	APIToken         string
	Account          string
	ProtocolSpender  string
	BtcMinterSpender string
	EthMinterSpender string
	UsdcLedgerID     string
	PollInterval     time.Duration
	RequestTimeout   time.Duration
	SlippageBps      uint64
	WalDir           string
	WebAddr          string
	WebTLSDomain     string
	LogLevel         string
	LogFile          string
}

// ConfigTmp yaml representation of Config.
type ConfigTmp struct {
	GatewayURL       string        `yaml:"gateway_url"`
	Account          string        `yaml:"account"`
	ProtocolSpender  string        `yaml:"protocol_spender"`
	BtcMinterSpender string        `yaml:"btc_minter_spender,omitempty"`
	EthMinterSpender string        `yaml:"eth_minter_spender,omitempty"`
	UsdcLedgerID     string        `yaml:"usdc_ledger_id,omitempty"`
	PollInterval     time.Duration `yaml:"poll_interval,omitempty"`
	RequestTimeout   time.Duration `yaml:"request_timeout,omitempty"`
	SlippageBpsStr   string        `yaml:"slippage_bps,omitempty"`
	WalDir           string        `yaml:"wal_dir,omitempty"`
	WebAddr          string        `yaml:"web_addr,omitempty"`
	WebTLSDomain     string        `yaml:"web_tls_domain,omitempty"`
	LogLevel         string        `yaml:"log_level,omitempty"`
	LogFile          string        `yaml:"log_file,omitempty"`
}

// Get reads the yaml config at path, loads .env from the working directory
// if present and applies CKVAULT_* overrides. The result is validated.
func Get(path string) (Config, error) {
	var tmp ConfigTmp
	if path != "" {
		f, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrap(err, "read config")
		}
		if err := yaml.Unmarshal(f, &tmp); err != nil {
			return Config{}, errors.Wrapf(err, "parse yaml config %s", path)
		}
	}

	// missing .env is fine
	_ = godotenv.Load()
	applyEnv(&tmp)

	cfg, err := fromTmp(tmp)
	if err != nil {
		return Config{}, err
	}
	cfg.APIToken = os.Getenv(gateway.EnvToken)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func fromTmp(c ConfigTmp) (Config, error) {
	cfg := Config{
		GatewayURL:       strings.TrimSpace(c.GatewayURL),
		Account:          strings.TrimSpace(c.Account),
		ProtocolSpender:  strings.TrimSpace(c.ProtocolSpender),
		BtcMinterSpender: strings.TrimSpace(c.BtcMinterSpender),
		EthMinterSpender: strings.TrimSpace(c.EthMinterSpender),
		UsdcLedgerID:     strings.TrimSpace(c.UsdcLedgerID),
		PollInterval:     c.PollInterval,
		RequestTimeout:   c.RequestTimeout,
		SlippageBps:      DefaultSlippageBps,
		WalDir:           c.WalDir,
		WebAddr:          c.WebAddr,
		WebTLSDomain:     c.WebTLSDomain,
		LogLevel:         c.LogLevel,
		LogFile:          c.LogFile,
	}

	if c.SlippageBpsStr != "" {
		bps, err := strconv.ParseUint(c.SlippageBpsStr, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("incorrect 'slippage_bps' param in yaml config (must be an unsigned integer), error: %w", err)
		}
		cfg.SlippageBps = bps
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.WalDir == "" {
		cfg.WalDir = DefaultWalDir
	}
	if cfg.WebAddr == "" {
		cfg.WebAddr = DefaultWebAddr
	}

	return cfg, nil
}

func applyEnv(c *ConfigTmp) {
	setStr(&c.GatewayURL, "GATEWAY_URL")
	setStr(&c.Account, "ACCOUNT")
	setStr(&c.ProtocolSpender, "PROTOCOL_SPENDER")
	setStr(&c.BtcMinterSpender, "BTC_MINTER_SPENDER")
	setStr(&c.EthMinterSpender, "ETH_MINTER_SPENDER")
	setStr(&c.UsdcLedgerID, "USDC_LEDGER_ID")
	setStr(&c.SlippageBpsStr, "SLIPPAGE_BPS")
	setStr(&c.WalDir, "WAL_DIR")
	setStr(&c.WebAddr, "WEB_ADDR")
	setStr(&c.WebTLSDomain, "WEB_TLS_DOMAIN")
	setStr(&c.LogLevel, "LOG_LEVEL")
	setStr(&c.LogFile, "LOG_FILE")
	setDuration(&c.PollInterval, "POLL_INTERVAL")
	setDuration(&c.RequestTimeout, "REQUEST_TIMEOUT")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// Validate checks the fields every command needs. Spender identities are
// checked only when set; commands that need one reject an empty value.
func (c Config) Validate() error {
	if c.GatewayURL == "" {
		return fmt.Errorf("gateway_url is required")
	}
	u, err := url.Parse(c.GatewayURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("incorrect 'gateway_url' param: %q", c.GatewayURL)
	}
	if err := domain.ValidateAccount(c.Account); err != nil {
		return errors.Wrap(err, "account")
	}
	for name, v := range map[string]string{
		"protocol_spender":   c.ProtocolSpender,
		"btc_minter_spender": c.BtcMinterSpender,
		"eth_minter_spender": c.EthMinterSpender,
		"usdc_ledger_id":     c.UsdcLedgerID,
	} {
		if v == "" {
			continue
		}
		if err := domain.ValidateAccount(v); err != nil {
			return errors.Wrap(err, name)
		}
	}
	if c.SlippageBps >= 10000 {
		return fmt.Errorf("slippage_bps must be below 10000, got %d", c.SlippageBps)
	}
	if c.PollInterval < time.Second {
		return fmt.Errorf("poll_interval must be at least 1s, got %s", c.PollInterval)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	return nil
}

// Tmp converts cfg back to its yaml form. The API token is omitted.
func (c Config) Tmp() ConfigTmp {
	return ConfigTmp{
		GatewayURL:       c.GatewayURL,
		Account:          c.Account,
		ProtocolSpender:  c.ProtocolSpender,
		BtcMinterSpender: c.BtcMinterSpender,
		EthMinterSpender: c.EthMinterSpender,
		UsdcLedgerID:     c.UsdcLedgerID,
		PollInterval:     c.PollInterval,
		RequestTimeout:   c.RequestTimeout,
		SlippageBpsStr:   strconv.FormatUint(c.SlippageBps, 10),
		WalDir:           c.WalDir,
		WebAddr:          c.WebAddr,
		WebTLSDomain:     c.WebTLSDomain,
		LogLevel:         c.LogLevel,
		LogFile:          c.LogFile,
	}
}

// Write stores cfg as yaml at path.
func Write(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg.Tmp())
	if err != nil {
		return errors.Wrap(err, "marshal config")
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.Wrap(err, "write config")
	}
	return nil
}
