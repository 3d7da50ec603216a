// Package ledger is the narrow port to the external ledger network. The
// engine never talks to the network except through Client; consensus,
// balance enforcement, and atomic-group application are the ledger's job.
package ledger

import (
	"context"
	"errors"

	"imanipay/blockchain-service/internal/txgroup"
)

var (
	ErrAddressNotFound     = errors.New("ledger address not found")
	ErrUpstreamUnavailable = errors.New("ledger upstream unavailable")
	ErrSubmissionRejected  = errors.New("ledger submission rejected")
)

// HeldAsset is one token position in raw base units.
type HeldAsset struct {
	AssetID   uint64 `json:"asset_id"`
	BaseUnits uint64 `json:"base_units"`
}

// AccountState is the raw on-ledger state of an address.
type AccountState struct {
	BaseUnits  uint64      `json:"base_units"`
	HeldAssets []HeldAsset `json:"held_assets"`
}

// AssetMetadata is the on-ledger record for a token.
type AssetMetadata struct {
	Decimals int32  `json:"decimals"`
	Name     string `json:"name"`
}

// Client is the contract an SDK or node gateway must satisfy.
//
// AccountState fails with ErrAddressNotFound for unknown addresses and
// ErrUpstreamUnavailable on transport trouble; both are distinct from a
// legitimately empty account. Submit fails with ErrSubmissionRejected when
// the node refuses the bundle. Submit must never be blindly retried: the
// original submission may have landed. PendingInfo returns the confirmed
// round, or 0 while the operation is still pending.
type Client interface {
	AccountState(ctx context.Context, address string) (*AccountState, error)
	AssetMetadata(ctx context.Context, assetID uint64) (*AssetMetadata, error)
	Submit(ctx context.Context, bundle *txgroup.SignedBundle) (string, error)
	PendingInfo(ctx context.Context, operationID string) (uint64, error)
}
