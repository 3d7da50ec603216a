package assets

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// BaseAssetID is the ledger's native asset. It is implicit on every
	// account and never appears in the held-asset list.
	BaseAssetID uint64 = 0

	// BaseDecimals is the network's fixed base-unit exponent.
	BaseDecimals int32 = 6
)

var (
	ErrUnsupportedAsset = errors.New("unsupported asset")
	ErrAmountOverflow   = errors.New("amount does not fit in base units")
)

var maxUint64 = decimal.NewFromBigInt(new(big.Int).SetUint64(^uint64(0)), 0)

// Asset maps a symbolic name to its on-ledger identifier and decimal precision.
type Asset struct {
	Symbol    string `yaml:"symbol"`
	NetworkID uint64 `yaml:"networkId"`
	Decimals  int32  `yaml:"decimals"`
}

// IsBase reports whether the asset is the ledger's native unit.
func (a Asset) IsBase() bool {
	return a.NetworkID == BaseAssetID
}

// Registry is the process-wide symbol -> asset mapping. It is built once at
// startup and read-only afterwards, so lookups need no locking.
type Registry struct {
	bySymbol map[string]Asset
	byID     map[uint64]Asset
}

// NewRegistry builds a registry from configured assets. The base asset is
// always registered under the "NATIVE" symbol in addition to the configured
// set.
func NewRegistry(configured []Asset) (*Registry, error) {
	r := &Registry{
		bySymbol: make(map[string]Asset, len(configured)+1),
		byID:     make(map[uint64]Asset, len(configured)+1),
	}
	base := Asset{Symbol: "NATIVE", NetworkID: BaseAssetID, Decimals: BaseDecimals}
	r.bySymbol[base.Symbol] = base
	r.byID[base.NetworkID] = base

	for _, a := range configured {
		symbol := strings.ToUpper(strings.TrimSpace(a.Symbol))
		if symbol == "" {
			return nil, fmt.Errorf("asset with network id %d has empty symbol", a.NetworkID)
		}
		if a.Decimals < 0 {
			return nil, fmt.Errorf("asset %s has negative decimals", symbol)
		}
		if _, ok := r.bySymbol[symbol]; ok {
			return nil, fmt.Errorf("duplicate asset symbol %s", symbol)
		}
		a.Symbol = symbol
		r.bySymbol[symbol] = a
		r.byID[a.NetworkID] = a
	}
	return r, nil
}

// BySymbol resolves a symbolic asset name.
func (r *Registry) BySymbol(symbol string) (Asset, error) {
	a, ok := r.bySymbol[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return Asset{}, fmt.Errorf("%w: %s", ErrUnsupportedAsset, symbol)
	}
	return a, nil
}

// ByID resolves an on-ledger asset identifier.
func (r *Registry) ByID(id uint64) (Asset, bool) {
	a, ok := r.byID[id]
	return a, ok
}

// ToBaseUnits scales a decimal amount into an integer number of base units,
// truncating toward zero. A custodial engine must never move more base units
// than the caller's decimal amount authorizes.
func (r *Registry) ToBaseUnits(symbol string, amount decimal.Decimal) (uint64, error) {
	a, err := r.BySymbol(symbol)
	if err != nil {
		return 0, err
	}
	return ToBaseUnits(amount, a.Decimals)
}

// ToBaseUnits scales amount by 10^decimals and truncates to an integer.
func ToBaseUnits(amount decimal.Decimal, decimals int32) (uint64, error) {
	scaled := amount.Shift(decimals).RoundDown(0)
	if scaled.Sign() < 0 {
		return 0, fmt.Errorf("%w: negative amount", ErrAmountOverflow)
	}
	if scaled.Cmp(maxUint64) > 0 {
		return 0, ErrAmountOverflow
	}
	return scaled.BigInt().Uint64(), nil
}

// FromBaseUnits converts a raw base-unit amount back to a decimal.
func FromBaseUnits(raw uint64, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(raw), -decimals)
}
