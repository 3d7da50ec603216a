package assets

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry([]Asset{
		{Symbol: "USDC", NetworkID: 10458941, Decimals: 6},
		{Symbol: "POINTS", NetworkID: 77, Decimals: 0},
	})
	if err != nil {
		t.Fatalf("new registry failed: %v", err)
	}
	return r
}

func TestRegistryLookup(t *testing.T) {
	r := testRegistry(t)

	usdc, err := r.BySymbol("usdc")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if usdc.NetworkID != 10458941 || usdc.Decimals != 6 {
		t.Fatalf("unexpected asset: %+v", usdc)
	}

	base, err := r.BySymbol("NATIVE")
	if err != nil {
		t.Fatalf("base lookup failed: %v", err)
	}
	if !base.IsBase() || base.Decimals != BaseDecimals {
		t.Fatalf("unexpected base asset: %+v", base)
	}

	if _, err := r.BySymbol("DOGE"); !errors.Is(err, ErrUnsupportedAsset) {
		t.Fatalf("expected ErrUnsupportedAsset, got %v", err)
	}
}

func TestRegistryRejectsBadConfig(t *testing.T) {
	if _, err := NewRegistry([]Asset{{Symbol: "A", NetworkID: 1, Decimals: -1}}); err == nil {
		t.Fatal("expected error for negative decimals")
	}
	if _, err := NewRegistry([]Asset{
		{Symbol: "A", NetworkID: 1, Decimals: 2},
		{Symbol: "a", NetworkID: 2, Decimals: 2},
	}); err == nil {
		t.Fatal("expected error for duplicate symbol")
	}
}

func TestScaling(t *testing.T) {
	if got := FromBaseUnits(1_500_000, 6); !got.Equal(decimal.RequireFromString("1.5")) {
		t.Fatalf("expected 1.5, got %s", got)
	}
	if got := FromBaseUnits(42, 0); !got.Equal(decimal.NewFromInt(42)) {
		t.Fatalf("expected 42, got %s", got)
	}

	raw, err := ToBaseUnits(decimal.RequireFromString("1.5"), 6)
	if err != nil {
		t.Fatalf("scale failed: %v", err)
	}
	if raw != 1_500_000 {
		t.Fatalf("expected 1500000, got %d", raw)
	}
}

func TestToBaseUnitsTruncatesTowardZero(t *testing.T) {
	raw, err := ToBaseUnits(decimal.RequireFromString("0.0000019"), 6)
	if err != nil {
		t.Fatalf("scale failed: %v", err)
	}
	if raw != 1 {
		t.Fatalf("expected truncation to 1 base unit, got %d", raw)
	}
}

func TestToBaseUnitsRejectsNegative(t *testing.T) {
	if _, err := ToBaseUnits(decimal.RequireFromString("-1"), 6); !errors.Is(err, ErrAmountOverflow) {
		t.Fatalf("expected ErrAmountOverflow, got %v", err)
	}
}
