package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"imanipay/blockchain-service/internal/fees"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("LEDGER_NODE_URL", "https://node.example")
	t.Setenv("TREASURY_ADDRESS", "imp1treasury")
	t.Setenv("TREASURY_MNEMONIC", "abandon ability able")
	t.Setenv("CUSTODY_ENCRYPTION_SECRET", "process-secret")
	t.Setenv("USDC_ASSET_ID", "10458941")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Network != "testnet" {
		t.Fatalf("unexpected network: %s", cfg.Network)
	}
	if cfg.FundingBaseUnits != 300_000 || cfg.NetworkFeeBaseUnits != 1000 {
		t.Fatalf("unexpected funding defaults: %+v", cfg)
	}
	if cfg.CustodyAssetID != 10458941 {
		t.Fatalf("unexpected custody asset: %d", cfg.CustodyAssetID)
	}
	if len(cfg.Assets) != 1 || cfg.Assets[0].Symbol != "USDC" {
		t.Fatalf("expected default USDC asset, got %+v", cfg.Assets)
	}
	if cfg.Confirmation.MaxAttempts != 10 {
		t.Fatalf("unexpected confirmation policy: %+v", cfg.Confirmation)
	}
}

func TestLoadWithoutOverlayYieldsWorkingSchedule(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	schedule, err := fees.New(cfg.FeeTiers)
	if err != nil {
		t.Fatalf("env-only config must produce a valid fee schedule: %v", err)
	}
	fee, err := schedule.Compute(decimal.NewFromInt(50))
	if err != nil {
		t.Fatalf("compute failed: %v", err)
	}
	if !fee.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("fee = %s, want 0.5", fee)
	}
}

func TestLoadFailsFastOnMissingRequired(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("LEDGER_NODE_URL", "")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for missing node URL")
	}

	setRequiredEnv(t)
	t.Setenv("CUSTODY_ENCRYPTION_SECRET", "")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for missing encryption secret")
	}
}

func TestLoadYAMLOverlay(t *testing.T) {
	setRequiredEnv(t)

	path := filepath.Join(t.TempDir(), "custody.yaml")
	body := `
assets:
  - symbol: USDC
    networkId: 10458941
    decimals: 6
  - symbol: POINTS
    networkId: 77
    decimals: 0
fees:
  tiers:
    - lower: "0"
      upper: "100"
      rate: "0.01"
    - lower: "100"
      unbounded: true
      flat: "5"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(cfg.Assets) != 2 || cfg.Assets[1].Symbol != "POINTS" {
		t.Fatalf("unexpected assets: %+v", cfg.Assets)
	}
	if len(cfg.FeeTiers) != 2 {
		t.Fatalf("unexpected tiers: %+v", cfg.FeeTiers)
	}
	if !cfg.FeeTiers[0].Rate.Equal(decimal.RequireFromString("0.01")) {
		t.Fatalf("unexpected rate: %s", cfg.FeeTiers[0].Rate)
	}
	if !cfg.FeeTiers[1].Unbounded || !cfg.FeeTiers[1].Flat.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("unexpected final tier: %+v", cfg.FeeTiers[1])
	}
}
