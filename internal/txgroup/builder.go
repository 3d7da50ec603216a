package txgroup

import (
	"crypto/ed25519"
	"fmt"

	"github.com/shopspring/decimal"

	"imanipay/blockchain-service/internal/assets"
	"imanipay/blockchain-service/internal/fees"
)

// TransferRequest describes one outgoing transfer in asset units.
type TransferRequest struct {
	Sender   string
	Receiver string
	Amount   decimal.Decimal
	Asset    assets.Asset
}

func (r TransferRequest) validate() error {
	if r.Amount.Sign() <= 0 {
		return fmt.Errorf("%w: transfer amount must be positive", fees.ErrInvalidAmount)
	}
	if r.Sender == "" || r.Receiver == "" {
		return fmt.Errorf("%w: sender and receiver are required", fees.ErrInvalidAmount)
	}
	return nil
}

// Builder constructs signed operation bundles. It owns amount scaling: the
// decimal request amounts become integer base units here and nowhere else.
type Builder struct {
	registry   *assets.Registry
	networkFee uint64
}

func NewBuilder(registry *assets.Registry, networkFee uint64) *Builder {
	return &Builder{registry: registry, networkFee: networkFee}
}

// NetworkFee is the flat per-operation fee the ledger charges in base units.
func (b *Builder) NetworkFee() uint64 {
	return b.networkFee
}

func (b *Builder) scale(amount decimal.Decimal, asset assets.Asset) (uint64, error) {
	if _, ok := b.registry.ByID(asset.NetworkID); !ok {
		return 0, fmt.Errorf("%w: id %d", assets.ErrUnsupportedAsset, asset.NetworkID)
	}
	return assets.ToBaseUnits(amount, asset.Decimals)
}

// Transfer builds a single signed operation: a payment for the base asset, an
// asset transfer otherwise. No grouping is required for one operation.
func (b *Builder) Transfer(req TransferRequest, senderKey ed25519.PrivateKey) (*SignedBundle, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	raw, err := b.scale(req.Amount, req.Asset)
	if err != nil {
		return nil, err
	}
	var op Operation
	if req.Asset.IsBase() {
		op = NewPayment(req.Sender, req.Receiver, raw, b.networkFee)
	} else {
		op = NewAssetTransfer(req.Sender, req.Receiver, raw, req.Asset.NetworkID, b.networkFee)
	}
	signed, err := signOperation(op, senderKey)
	if err != nil {
		return nil, err
	}
	return &SignedBundle{Operations: []SignedOperation{signed}}, nil
}

// TransferWithFee builds the two-operation form: the transfer plus a fee skim
// to feeRecipient in the same asset, bound into one atomic group before
// either is signed. The two operations must never leave here ungrouped.
func (b *Builder) TransferWithFee(req TransferRequest, senderKey ed25519.PrivateKey, feeRecipient string, fee decimal.Decimal) (*SignedBundle, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if fee.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative fee", fees.ErrInvalidAmount)
	}
	rawAmount, err := b.scale(req.Amount, req.Asset)
	if err != nil {
		return nil, err
	}
	rawFee, err := b.scale(fee, req.Asset)
	if err != nil {
		return nil, err
	}

	ops := []Operation{
		NewAssetTransfer(req.Sender, req.Receiver, rawAmount, req.Asset.NetworkID, b.networkFee),
		NewAssetTransfer(req.Sender, feeRecipient, rawFee, req.Asset.NetworkID, b.networkFee),
	}
	return signGroup(ops, []ed25519.PrivateKey{senderKey, senderKey})
}

// ProvisioningGroup builds the atomic funding + opt-in pair for a new
// custodial wallet: the treasury funds the account and the account itself
// signs its zero-amount opt-in.
func (b *Builder) ProvisioningGroup(treasury string, treasuryKey ed25519.PrivateKey, account string, accountKey ed25519.PrivateKey, fundBaseUnits, assetID uint64) (*SignedBundle, error) {
	if _, ok := b.registry.ByID(assetID); !ok {
		return nil, fmt.Errorf("%w: id %d", assets.ErrUnsupportedAsset, assetID)
	}
	ops := []Operation{
		NewPayment(treasury, account, fundBaseUnits, b.networkFee),
		OptIn(account, assetID, b.networkFee),
	}
	return signGroup(ops, []ed25519.PrivateKey{treasuryKey, accountKey})
}
