package balances

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"imanipay/blockchain-service/internal/assets"
	"imanipay/blockchain-service/internal/ledger"
)

const usdcID uint64 = 10458941

func testSetup(t *testing.T) (*ledger.MockClient, *Aggregator) {
	t.Helper()
	reg, err := assets.NewRegistry([]assets.Asset{{Symbol: "USDC", NetworkID: usdcID, Decimals: 6}})
	if err != nil {
		t.Fatalf("registry failed: %v", err)
	}
	client := ledger.NewMockClient()
	return client, NewAggregator(client, reg, nil)
}

func TestSnapshotScalesBalances(t *testing.T) {
	client, agg := testSetup(t)
	client.Accounts["imp1sender"] = ledger.AccountState{
		BaseUnits: 1_500_000,
		HeldAssets: []ledger.HeldAsset{
			{AssetID: usdcID, BaseUnits: 2_000_000},
		},
	}

	snap, err := agg.Snapshot(context.Background(), "imp1sender")
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if !snap.Base.Equal(decimal.RequireFromString("1.5")) {
		t.Fatalf("expected base 1.5, got %s", snap.Base)
	}
	usdc := snap.Assets[usdcID]
	if !usdc.Amount.Equal(decimal.NewFromInt(2)) || usdc.Name != "USDC" {
		t.Fatalf("unexpected usdc balance: %+v", usdc)
	}
	if snap.Degraded {
		t.Fatal("snapshot must not be degraded when all assets resolve")
	}
}

func TestSnapshotUsesLedgerMetadataForUnknownAssets(t *testing.T) {
	client, agg := testSetup(t)
	client.Accounts["imp1sender"] = ledger.AccountState{
		HeldAssets: []ledger.HeldAsset{{AssetID: 42, BaseUnits: 42}},
	}
	client.Assets[42] = ledger.AssetMetadata{Decimals: 0, Name: "Loyalty"}

	snap, err := agg.Snapshot(context.Background(), "imp1sender")
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	got := snap.Assets[42]
	if !got.Amount.Equal(decimal.NewFromInt(42)) || got.Name != "Loyalty" {
		t.Fatalf("unexpected balance: %+v", got)
	}
	if snap.Degraded {
		t.Fatal("resolved metadata must not degrade the snapshot")
	}
}

func TestSnapshotDegradesOnMetadataFailure(t *testing.T) {
	client, agg := testSetup(t)
	client.Accounts["imp1sender"] = ledger.AccountState{
		HeldAssets: []ledger.HeldAsset{{AssetID: 42, BaseUnits: 7}},
	}
	// asset 42 has no metadata in the mock, so resolution fails upstream

	snap, err := agg.Snapshot(context.Background(), "imp1sender")
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if !snap.Degraded {
		t.Fatal("metadata failure must surface as a degraded snapshot")
	}
	got := snap.Assets[42]
	if !got.Amount.Equal(decimal.NewFromInt(7)) {
		t.Fatalf("expected unscaled amount 7, got %s", got.Amount)
	}
}

func TestSnapshotUnknownAddress(t *testing.T) {
	_, agg := testSetup(t)
	if _, err := agg.Snapshot(context.Background(), "imp1missing"); !errors.Is(err, ledger.ErrAddressNotFound) {
		t.Fatalf("expected ErrAddressNotFound, got %v", err)
	}
}

func TestSnapshotUpstreamFailure(t *testing.T) {
	client, agg := testSetup(t)
	client.AccountErr = ledger.ErrUpstreamUnavailable
	if _, err := agg.Snapshot(context.Background(), "imp1sender"); !errors.Is(err, ledger.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestAssetAmountZeroWhenNotHeld(t *testing.T) {
	client, agg := testSetup(t)
	client.Accounts["imp1sender"] = ledger.AccountState{BaseUnits: 10}
	snap, err := agg.Snapshot(context.Background(), "imp1sender")
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if !snap.AssetAmount(usdcID).IsZero() {
		t.Fatal("unheld asset must report zero")
	}
}
