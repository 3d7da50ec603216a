package orchestrator

import (
	"context"
	"crypto/ed25519"
	"errors"
	"testing"
	"time"

	"imanipay/blockchain-service/internal/assets"
	"imanipay/blockchain-service/internal/keyvault"
	"imanipay/blockchain-service/internal/ledger"
	"imanipay/blockchain-service/internal/txgroup"
)

func newProvisionerFixture(t *testing.T) (*Provisioner, *ledger.MockClient, *keyvault.Vault) {
	t.Helper()
	vault, err := keyvault.New("test-process-secret")
	if err != nil {
		t.Fatalf("vault failed: %v", err)
	}
	registry, err := assets.NewRegistry([]assets.Asset{{Symbol: "USDC", NetworkID: usdcID, Decimals: 6}})
	if err != nil {
		t.Fatalf("registry failed: %v", err)
	}
	client := ledger.NewMockClient()
	client.ConfirmAfter = 0

	treasuryMnemonic, err := keyvault.NewMnemonic()
	if err != nil {
		t.Fatalf("mnemonic failed: %v", err)
	}
	treasuryKey, err := keyvault.DeriveSigningKey(treasuryMnemonic)
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}
	treasuryAddress, err := keyvault.AddressFromKey(treasuryKey.Public().(ed25519.PublicKey))
	if err != nil {
		t.Fatalf("address failed: %v", err)
	}

	p := NewProvisioner(
		vault,
		txgroup.NewBuilder(registry, networkFee),
		client,
		treasuryAddress, treasuryMnemonic,
		300_000, usdcID,
		"testnet",
		ConfirmPolicy{MaxAttempts: 3, Interval: time.Millisecond},
		nil,
		nil,
	)
	return p, client, vault
}

func TestProvisionSuccess(t *testing.T) {
	p, client, vault := newProvisionerFixture(t)

	result, err := p.Provision(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("provision failed: %v", err)
	}
	if result.Address == "" || !result.OptedIn || result.Network != "testnet" {
		t.Fatalf("unexpected result: %+v", result)
	}

	// The returned secret must decrypt to a valid phrase that reproduces the
	// reported address.
	phrase, err := vault.Decrypt(result.EncryptedMnemonic)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if !keyvault.ValidateMnemonic(phrase) {
		t.Fatal("stored secret must be a valid mnemonic")
	}
	key, err := keyvault.DeriveSigningKey(phrase)
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}
	ok, err := keyvault.VerifyAddress(result.Address, key.Public().(ed25519.PublicKey))
	if err != nil || !ok {
		t.Fatalf("mnemonic must reproduce the provisioned address: ok=%v err=%v", ok, err)
	}

	if client.SubmitCount() != 1 {
		t.Fatalf("expected one submission, got %d", client.SubmitCount())
	}
	bundle := client.Submitted[0]
	if len(bundle.Operations) != 2 {
		t.Fatalf("provisioning must be a two-operation group, got %d", len(bundle.Operations))
	}
	funding, optIn := bundle.Operations[0].Operation, bundle.Operations[1].Operation
	if funding.Type != txgroup.OpPayment || funding.Amount != 300_000 || funding.To != result.Address {
		t.Fatalf("unexpected funding operation: %+v", funding)
	}
	if optIn.Type != txgroup.OpAssetTransfer || optIn.Amount != 0 || optIn.From != result.Address {
		t.Fatalf("unexpected opt-in operation: %+v", optIn)
	}
}

func TestProvisionDistinctIdentities(t *testing.T) {
	p, _, _ := newProvisionerFixture(t)
	a, err := p.Provision(context.Background(), "user-a")
	if err != nil {
		t.Fatalf("provision failed: %v", err)
	}
	b, err := p.Provision(context.Background(), "user-b")
	if err != nil {
		t.Fatalf("provision failed: %v", err)
	}
	if a.Address == b.Address {
		t.Fatal("each provisioning must mint a fresh identity")
	}
}

func TestProvisionSubmitFailureReturnsNoAddress(t *testing.T) {
	p, client, _ := newProvisionerFixture(t)
	client.SubmitErr = ledger.ErrSubmissionRejected

	result, err := p.Provision(context.Background(), "user-1")
	if err == nil {
		t.Fatal("expected error")
	}
	if result.Address != "" || result.OptedIn || result.EncryptedMnemonic != nil {
		t.Fatalf("failed provisioning must carry no address and no secret: %+v", result)
	}
	if result.UserID != "user-1" {
		t.Fatalf("failure result must still identify the user: %+v", result)
	}
}

func TestProvisionConfirmationTimeoutReturnsNoAddress(t *testing.T) {
	p, client, _ := newProvisionerFixture(t)
	client.ConfirmAfter = -1

	result, err := p.Provision(context.Background(), "user-1")
	if err == nil {
		t.Fatal("expected error for unconfirmed provisioning group")
	}
	if result.Address != "" || result.EncryptedMnemonic != nil {
		t.Fatalf("unconfirmed provisioning must carry no address and no secret: %+v", result)
	}
}

func TestProvisionRequiresUserID(t *testing.T) {
	p, _, _ := newProvisionerFixture(t)
	if _, err := p.Provision(context.Background(), ""); !errors.Is(err, ErrUserIDRequired) {
		t.Fatalf("expected ErrUserIDRequired, got %v", err)
	}
}

func TestProvisionTreasuryMismatch(t *testing.T) {
	p, client, _ := newProvisionerFixture(t)
	p.treasuryAddress = "imp1notthetreasury"

	_, err := p.Provision(context.Background(), "user-1")
	if !errors.Is(err, ErrKeyResolutionFailed) {
		t.Fatalf("expected ErrKeyResolutionFailed, got %v", err)
	}
	if client.SubmitCount() != 0 {
		t.Fatal("no submission may be attempted with a mismatched treasury key")
	}
}
