package balances

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"imanipay/blockchain-service/internal/assets"
	"imanipay/blockchain-service/internal/ledger"
)

// AssetBalance is one decimal-scaled token position.
type AssetBalance struct {
	Amount decimal.Decimal
	Name   string
}

// Snapshot is a point-in-time view of an account across the base asset and
// every held token. It is recomputed on each request; a stale balance is
// worse than a slow one for a funds check.
type Snapshot struct {
	Address string
	Base    decimal.Decimal
	Assets  map[uint64]AssetBalance
	// Degraded is set when metadata for some held asset was unavailable and
	// its amount is reported unscaled under a zero-decimal assumption.
	Degraded bool
}

// AssetAmount returns the scaled balance of one asset, zero when not held.
func (s *Snapshot) AssetAmount(assetID uint64) decimal.Decimal {
	if b, ok := s.Assets[assetID]; ok {
		return b.Amount
	}
	return decimal.Zero
}

type Aggregator struct {
	client   ledger.Client
	registry *assets.Registry
	log      *slog.Logger
}

func NewAggregator(client ledger.Client, registry *assets.Registry, log *slog.Logger) *Aggregator {
	if log == nil {
		log = slog.Default()
	}
	return &Aggregator{client: client, registry: registry, log: log}
}

// Snapshot fetches raw account state and scales every position to decimals.
// Decimal precision comes from the local registry when the asset is known,
// otherwise from ledger metadata; a metadata failure degrades that one
// position instead of failing the whole call.
func (a *Aggregator) Snapshot(ctx context.Context, address string) (*Snapshot, error) {
	state, err := a.client.AccountState(ctx, address)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Address: address,
		Base:    assets.FromBaseUnits(state.BaseUnits, assets.BaseDecimals),
		Assets:  make(map[uint64]AssetBalance, len(state.HeldAssets)),
	}
	for _, held := range state.HeldAssets {
		decimals, name, ok := a.resolveAsset(ctx, held.AssetID)
		if !ok {
			snap.Degraded = true
		}
		snap.Assets[held.AssetID] = AssetBalance{
			Amount: assets.FromBaseUnits(held.BaseUnits, decimals),
			Name:   name,
		}
	}
	return snap, nil
}

func (a *Aggregator) resolveAsset(ctx context.Context, assetID uint64) (decimals int32, name string, ok bool) {
	if asset, found := a.registry.ByID(assetID); found {
		return asset.Decimals, asset.Symbol, true
	}
	meta, err := a.client.AssetMetadata(ctx, assetID)
	if err != nil {
		a.log.Warn("asset metadata unavailable, reporting unscaled amount",
			"asset_id", assetID, "err", err)
		return 0, fmt.Sprintf("Asset %d", assetID), false
	}
	return meta.Decimals, meta.Name, true
}
