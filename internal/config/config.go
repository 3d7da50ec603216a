package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"imanipay/blockchain-service/internal/assets"
	"imanipay/blockchain-service/internal/fees"
)

// Config is the immutable process configuration, built once at startup and
// passed into each component. There is no ambient global lookup.
type Config struct {
	LogLevel string
	HTTPAddr string
	Network  string

	Node        NodeConfig
	Treasury    TreasuryConfig
	WalletStore WalletStoreConfig
	Kafka       KafkaConfig

	// EncryptionSecret keys the vault for stored recovery phrases.
	EncryptionSecret string

	FundingBaseUnits    uint64
	NetworkFeeBaseUnits uint64
	CustodyAssetID      uint64

	Confirmation ConfirmationConfig
	SenderLimit  SenderLimitConfig

	Assets   []assets.Asset
	FeeTiers []fees.Tier
}

type NodeConfig struct {
	URL               string
	APIKey            string
	Timeout           time.Duration
	RequestsPerSecond float64
}

type TreasuryConfig struct {
	Address  string
	Mnemonic string
}

type WalletStoreConfig struct {
	URL   string
	Token string
}

type KafkaConfig struct {
	BrokerAddress string
	Topic         string
}

type ConfirmationConfig struct {
	MaxAttempts int
	Interval    time.Duration
}

type SenderLimitConfig struct {
	RPS   float64
	Burst int
}

// fileConfig is the optional YAML overlay for the asset registry and fee
// schedule. Decimal fields are strings so precision survives parsing.
type fileConfig struct {
	Assets []assets.Asset `yaml:"assets"`
	Fees   struct {
		Tiers []fileTier `yaml:"tiers"`
	} `yaml:"fees"`
}

type fileTier struct {
	Lower     string `yaml:"lower"`
	Upper     string `yaml:"upper"`
	Unbounded bool   `yaml:"unbounded"`
	Rate      string `yaml:"rate"`
	Flat      string `yaml:"flat"`
}

// Load builds the configuration from the environment (a .env file is used
// when present, matching externally-set variables taking precedence) plus an
// optional YAML overlay. The process must not start on an invalid config.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load() // not fatal; env vars may be set externally

	cfg := &Config{
		LogLevel: getEnv("LOG_LEVEL", "info"),
		HTTPAddr: getEnv("HTTP_ADDR", "127.0.0.1:8080"),
		Network:  getEnv("LEDGER_NETWORK", "testnet"),
		Node: NodeConfig{
			URL:               getEnv("LEDGER_NODE_URL", ""),
			APIKey:            getEnv("LEDGER_API_KEY", ""),
			Timeout:           time.Duration(getEnvAsInt("LEDGER_TIMEOUT_SECONDS", 15)) * time.Second,
			RequestsPerSecond: getEnvAsFloat("LEDGER_RATE_LIMIT", 0),
		},
		Treasury: TreasuryConfig{
			Address:  getEnv("TREASURY_ADDRESS", ""),
			Mnemonic: getEnv("TREASURY_MNEMONIC", ""),
		},
		WalletStore: WalletStoreConfig{
			URL:   getEnv("WALLET_STORE_URL", ""),
			Token: getEnv("WALLET_STORE_TOKEN", ""),
		},
		Kafka: KafkaConfig{
			BrokerAddress: getEnv("KAFKA_BROKER", ""),
			Topic:         getEnv("KAFKA_TOPIC", "custody-events"),
		},
		EncryptionSecret:    getEnv("CUSTODY_ENCRYPTION_SECRET", ""),
		FundingBaseUnits:    getEnvAsUint("FUNDING_BASE_UNITS", 300_000),
		NetworkFeeBaseUnits: getEnvAsUint("NETWORK_FEE_BASE_UNITS", 1000),
		CustodyAssetID:      getEnvAsUint("USDC_ASSET_ID", 0),
		Confirmation: ConfirmationConfig{
			MaxAttempts: getEnvAsInt("CONFIRM_MAX_ATTEMPTS", 10),
			Interval:    time.Duration(getEnvAsInt("CONFIRM_INTERVAL_MS", 1000)) * time.Millisecond,
		},
		SenderLimit: SenderLimitConfig{
			RPS:   getEnvAsFloat("SENDER_RATE_LIMIT_RPS", 1),
			Burst: getEnvAsInt("SENDER_RATE_LIMIT_BURST", 3),
		},
	}

	if configPath == "" {
		configPath = getEnv("CUSTODY_CONFIG_FILE", "")
	}
	if configPath != "" {
		if err := cfg.applyFile(configPath); err != nil {
			return nil, err
		}
	}

	if len(cfg.FeeTiers) == 0 {
		cfg.FeeTiers = fees.DefaultTiers()
	}
	if len(cfg.Assets) == 0 && cfg.CustodyAssetID != 0 {
		cfg.Assets = []assets.Asset{{Symbol: "USDC", NetworkID: cfg.CustodyAssetID, Decimals: 6}}
	}
	if cfg.CustodyAssetID == 0 && len(cfg.Assets) > 0 {
		cfg.CustodyAssetID = cfg.Assets[0].NetworkID
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	var parsed fileConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	if len(parsed.Assets) > 0 {
		c.Assets = parsed.Assets
	}
	for i, ft := range parsed.Fees.Tiers {
		tier, err := ft.toTier()
		if err != nil {
			return fmt.Errorf("fee tier %d: %w", i, err)
		}
		c.FeeTiers = append(c.FeeTiers, tier)
	}
	return nil
}

func (ft fileTier) toTier() (fees.Tier, error) {
	tier := fees.Tier{Unbounded: ft.Unbounded, Upper: decimal.Zero, Lower: decimal.Zero, Rate: decimal.Zero, Flat: decimal.Zero}
	var err error
	if ft.Lower != "" {
		if tier.Lower, err = decimal.NewFromString(ft.Lower); err != nil {
			return tier, err
		}
	}
	if ft.Upper != "" {
		if tier.Upper, err = decimal.NewFromString(ft.Upper); err != nil {
			return tier, err
		}
	}
	if ft.Rate != "" {
		if tier.Rate, err = decimal.NewFromString(ft.Rate); err != nil {
			return tier, err
		}
	}
	if ft.Flat != "" {
		if tier.Flat, err = decimal.NewFromString(ft.Flat); err != nil {
			return tier, err
		}
	}
	return tier, nil
}

// Validate fails fast on anything the engine cannot run without.
func (c *Config) Validate() error {
	if c.Node.URL == "" {
		return fmt.Errorf("LEDGER_NODE_URL is not set")
	}
	if c.Treasury.Address == "" {
		return fmt.Errorf("TREASURY_ADDRESS is not set")
	}
	if c.Treasury.Mnemonic == "" {
		return fmt.Errorf("TREASURY_MNEMONIC is not set")
	}
	if c.EncryptionSecret == "" {
		return fmt.Errorf("CUSTODY_ENCRYPTION_SECRET is not set")
	}
	if c.CustodyAssetID == 0 {
		return fmt.Errorf("no custody asset configured: set USDC_ASSET_ID or provide assets in the config file")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvAsUint(key string, fallback uint64) uint64 {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
