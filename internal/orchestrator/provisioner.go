package orchestrator

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"imanipay/blockchain-service/internal/emitters"
	"imanipay/blockchain-service/internal/keyvault"
	"imanipay/blockchain-service/internal/ledger"
	"imanipay/blockchain-service/internal/metrics"
	"imanipay/blockchain-service/internal/txgroup"
)

var ErrUserIDRequired = errors.New("user id is required")

// ProvisionResult reports a provisioning outcome. On any failure the address
// stays empty and no secret is returned: a partially funded, unconfirmed
// wallet must never be reported as usable.
type ProvisionResult struct {
	UserID            string
	Address           string
	OptedIn           bool
	Network           string
	EncryptedMnemonic []byte
}

// Provisioner creates custodial wallets: a fresh identity, funded from the
// treasury and opted into the custody asset as one atomic group.
type Provisioner struct {
	vault            *keyvault.Vault
	builder          *txgroup.Builder
	client           ledger.Client
	treasuryAddress  string
	treasuryMnemonic string
	fundBaseUnits    uint64
	assetID          uint64
	network          string
	confirm          ConfirmPolicy
	emitter          emitters.Emitter
	log              *slog.Logger
}

func NewProvisioner(
	vault *keyvault.Vault,
	builder *txgroup.Builder,
	client ledger.Client,
	treasuryAddress, treasuryMnemonic string,
	fundBaseUnits, assetID uint64,
	network string,
	confirm ConfirmPolicy,
	emitter emitters.Emitter,
	log *slog.Logger,
) *Provisioner {
	if emitter == nil {
		emitter = emitters.Noop{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Provisioner{
		vault:            vault,
		builder:          builder,
		client:           client,
		treasuryAddress:  treasuryAddress,
		treasuryMnemonic: treasuryMnemonic,
		fundBaseUnits:    fundBaseUnits,
		assetID:          assetID,
		network:          network,
		confirm:          confirm.withDefaults(),
		emitter:          emitter,
		log:              log,
	}
}

// Provision generates a new identity, submits the funding + opt-in group and,
// only after confirmed success, encrypts and returns the recovery phrase for
// the wallet store. The treasury key is derived per call and discarded.
func (p *Provisioner) Provision(ctx context.Context, userID string) (*ProvisionResult, error) {
	failed := &ProvisionResult{UserID: userID, Network: p.network}
	if userID == "" {
		return failed, ErrUserIDRequired
	}

	mnemonic, err := keyvault.NewMnemonic()
	if err != nil {
		return failed, p.fail(ctx, userID, err)
	}
	accountKey, err := keyvault.DeriveSigningKey(mnemonic)
	if err != nil {
		return failed, p.fail(ctx, userID, err)
	}
	address, err := keyvault.AddressFromKey(accountKey.Public().(ed25519.PublicKey))
	if err != nil {
		return failed, p.fail(ctx, userID, err)
	}

	treasuryKey, err := keyvault.DeriveSigningKey(p.treasuryMnemonic)
	if err != nil {
		return failed, p.fail(ctx, userID, fmt.Errorf("%w: treasury phrase rejected", ErrKeyResolutionFailed))
	}
	ok, err := keyvault.VerifyAddress(p.treasuryAddress, treasuryKey.Public().(ed25519.PublicKey))
	if err != nil || !ok {
		return failed, p.fail(ctx, userID, fmt.Errorf("%w: treasury key does not match configured address", ErrKeyResolutionFailed))
	}

	bundle, err := p.builder.ProvisioningGroup(p.treasuryAddress, treasuryKey, address, accountKey, p.fundBaseUnits, p.assetID)
	if err != nil {
		return failed, p.fail(ctx, userID, err)
	}

	operationID, err := p.client.Submit(ctx, bundle)
	if err != nil {
		if errors.Is(err, ledger.ErrUpstreamUnavailable) {
			metrics.UpstreamError()
		}
		return failed, p.fail(ctx, userID, err)
	}

	round, confirmed := awaitConfirmation(ctx, p.client, operationID, p.confirm, p.log)
	if !confirmed {
		// The group may still land, but an unconfirmed wallet is unusable;
		// the caller retries provisioning with a fresh identity.
		return failed, p.fail(ctx, userID, fmt.Errorf("provisioning group %s unconfirmed", operationID))
	}

	encrypted, err := p.vault.Encrypt(mnemonic)
	if err != nil {
		return failed, p.fail(ctx, userID, err)
	}

	p.log.Info("custodial wallet provisioned",
		"user_id", userID, "address", address, "operation_id", operationID, "round", round)
	metrics.ProvisionOutcome("succeeded")
	p.emit(ctx, operationID, address, string(StatusSucceeded))

	return &ProvisionResult{
		UserID:            userID,
		Address:           address,
		OptedIn:           true,
		Network:           p.network,
		EncryptedMnemonic: encrypted,
	}, nil
}

func (p *Provisioner) fail(ctx context.Context, userID string, err error) error {
	p.log.Warn("wallet provisioning failed", "user_id", userID, "err", err)
	metrics.ProvisionOutcome("failed")
	p.emit(ctx, "", "", string(StatusFailed))
	return err
}

func (p *Provisioner) emit(ctx context.Context, operationID, address, status string) {
	event := emitters.Event{
		Kind:        "provision",
		OperationID: operationID,
		Receiver:    address,
		Status:      status,
		Timestamp:   time.Now().UTC(),
	}
	if err := p.emitter.Emit(ctx, event); err != nil {
		p.log.Warn("event emission failed", "operation_id", operationID, "err", err)
	}
}
