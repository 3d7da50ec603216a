package orchestrator

import (
	"context"
	"crypto/ed25519"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"imanipay/blockchain-service/internal/assets"
	"imanipay/blockchain-service/internal/balances"
	"imanipay/blockchain-service/internal/fees"
	"imanipay/blockchain-service/internal/keyvault"
	"imanipay/blockchain-service/internal/ledger"
	"imanipay/blockchain-service/internal/txgroup"
)

const (
	usdcID     uint64 = 10458941
	networkFee uint64 = 1000
)

type fixture struct {
	vault    *keyvault.Vault
	registry *assets.Registry
	client   *ledger.MockClient
	payments *Payments

	senderAddress string
	senderSecret  []byte
	treasury      string
}

func newIdentity(t *testing.T, vault *keyvault.Vault) (addr string, secret []byte, key ed25519.PrivateKey) {
	t.Helper()
	mnemonic, err := keyvault.NewMnemonic()
	if err != nil {
		t.Fatalf("mnemonic failed: %v", err)
	}
	key, err = keyvault.DeriveSigningKey(mnemonic)
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}
	addr, err = keyvault.AddressFromKey(key.Public().(ed25519.PublicKey))
	if err != nil {
		t.Fatalf("address failed: %v", err)
	}
	secret, err = vault.Encrypt(mnemonic)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	return addr, secret, key
}

func newFixture(t *testing.T) *fixture {
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
	client.ConfirmAfter = 1

	sender, secret, _ := newIdentity(t, vault)
	treasury, _, _ := newIdentity(t, vault)

	payments := NewPayments(
		vault,
		balances.NewAggregator(client, registry, nil),
		fees.Default(),
		txgroup.NewBuilder(registry, networkFee),
		client,
		registry,
		treasury,
		ConfirmPolicy{MaxAttempts: 3, Interval: time.Millisecond},
		nil,
		nil,
	)
	return &fixture{
		vault:         vault,
		registry:      registry,
		client:        client,
		payments:      payments,
		senderAddress: sender,
		senderSecret:  secret,
		treasury:      treasury,
	}
}

func (f *fixture) fund(baseUnits uint64, tokenBaseUnits uint64) {
	state := ledger.AccountState{BaseUnits: baseUnits}
	if tokenBaseUnits > 0 {
		state.HeldAssets = []ledger.HeldAsset{{AssetID: usdcID, BaseUnits: tokenBaseUnits}}
	}
	f.client.Accounts[f.senderAddress] = state
}

func (f *fixture) request(amount, symbol string) PaymentRequest {
	return PaymentRequest{
		SenderAddress:   f.senderAddress,
		EncryptedSecret: f.senderSecret,
		Receiver:        "imp1receiver",
		Amount:          decimal.RequireFromString(amount),
		AssetSymbol:     symbol,
	}
}

func TestSendPaymentTokenWithFeeSkim(t *testing.T) {
	f := newFixture(t)
	f.fund(1_000_000, 100_000_000) // 1 NATIVE, 100 USDC

	result, err := f.payments.SendPayment(context.Background(), f.request("50", "USDC"))
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if result.Status != StatusSucceeded {
		t.Fatalf("expected succeeded, got %s", result.Status)
	}
	if !result.Fee.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("expected fee 0.5, got %s", result.Fee)
	}
	if result.AmountBaseUnits != 50_000_000 {
		t.Fatalf("unexpected base units: %d", result.AmountBaseUnits)
	}
	if result.ConfirmedRound == 0 || result.OperationID == "" {
		t.Fatalf("missing confirmation data: %+v", result)
	}

	if f.client.SubmitCount() != 1 {
		t.Fatalf("expected one submission, got %d", f.client.SubmitCount())
	}
	bundle := f.client.Submitted[0]
	if len(bundle.Operations) != 2 {
		t.Fatalf("token transfer with fee must be a two-operation group, got %d", len(bundle.Operations))
	}
	if string(bundle.Operations[0].Operation.Group) != string(bundle.Operations[1].Operation.Group) {
		t.Fatal("operations must share one group digest")
	}
	if bundle.Operations[1].Operation.To != f.treasury {
		t.Fatal("fee must be skimmed to the treasury")
	}
}

func TestSendPaymentBaseAssetSingleOperation(t *testing.T) {
	f := newFixture(t)
	f.fund(10_000_000, 0) // 10 NATIVE

	result, err := f.payments.SendPayment(context.Background(), f.request("1.5", "NATIVE"))
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if result.Status != StatusSucceeded || !result.Fee.IsZero() {
		t.Fatalf("unexpected result: %+v", result)
	}
	bundle := f.client.Submitted[0]
	if len(bundle.Operations) != 1 || bundle.Operations[0].Operation.Type != txgroup.OpPayment {
		t.Fatalf("expected single payment operation, got %+v", bundle.Operations)
	}
}

func TestSendPaymentInsufficientTokenFunds(t *testing.T) {
	f := newFixture(t)
	f.fund(1_000_000, 10_000_000) // 10 USDC, amount 10 needs 10.1 with the 1% fee

	_, err := f.payments.SendPayment(context.Background(), f.request("10", "USDC"))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if f.client.SubmitCount() != 0 {
		t.Fatal("no submission may be attempted after a failed balance check")
	}
}

func TestSendPaymentInsufficientBaseForNetworkFees(t *testing.T) {
	f := newFixture(t)
	f.fund(1500, 100_000_000) // base covers only one of the two network fees

	_, err := f.payments.SendPayment(context.Background(), f.request("50", "USDC"))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if f.client.SubmitCount() != 0 {
		t.Fatal("no submission may be attempted after a failed balance check")
	}
}

func TestSendPaymentIndeterminateOnConfirmationTimeout(t *testing.T) {
	f := newFixture(t)
	f.fund(1_000_000, 100_000_000)
	f.client.ConfirmAfter = -1 // never confirms

	result, err := f.payments.SendPayment(context.Background(), f.request("50", "USDC"))
	if err != nil {
		t.Fatalf("indeterminate must not surface as an error: %v", err)
	}
	if result.Status != StatusIndeterminate {
		t.Fatalf("expected indeterminate, got %s", result.Status)
	}
	if result.OperationID == "" {
		t.Fatal("indeterminate result must carry the operation id for later polling")
	}
	if result.ConfirmedRound != 0 {
		t.Fatal("indeterminate result must not claim a confirmed round")
	}
}

func TestAwaitConfirmationSkipsWaitAfterFinalPoll(t *testing.T) {
	client := ledger.NewMockClient()
	client.ConfirmAfter = -1 // never confirms
	policy := ConfirmPolicy{MaxAttempts: 2, Interval: 75 * time.Millisecond}

	start := time.Now()
	round, ok := awaitConfirmation(context.Background(), client, "op-x", policy, slog.Default())
	elapsed := time.Since(start)

	if ok || round != 0 {
		t.Fatalf("expected exhaustion, got round=%d ok=%v", round, ok)
	}
	// Two polls bracket a single interval; a wait after the last poll would
	// push elapsed past 2x.
	if elapsed >= 2*policy.Interval {
		t.Fatalf("exhaustion took %s, want under %s", elapsed, 2*policy.Interval)
	}
	if elapsed < policy.Interval {
		t.Fatalf("exhaustion took %s, want at least %s", elapsed, policy.Interval)
	}
}

func TestSendPaymentKeyMismatch(t *testing.T) {
	f := newFixture(t)
	f.fund(1_000_000, 100_000_000)

	// Secret of a different identity stored against the sender's address.
	_, otherSecret, _ := newIdentity(t, f.vault)
	req := f.request("50", "USDC")
	req.EncryptedSecret = otherSecret

	_, err := f.payments.SendPayment(context.Background(), req)
	if !errors.Is(err, ErrKeyResolutionFailed) {
		t.Fatalf("expected ErrKeyResolutionFailed, got %v", err)
	}
	if f.client.SubmitCount() != 0 {
		t.Fatal("no submission may be attempted after key resolution failure")
	}
}

func TestSendPaymentUndecryptableSecret(t *testing.T) {
	f := newFixture(t)
	f.fund(1_000_000, 100_000_000)
	req := f.request("50", "USDC")
	req.EncryptedSecret = []byte("garbage")

	_, err := f.payments.SendPayment(context.Background(), req)
	if !errors.Is(err, ErrKeyResolutionFailed) {
		t.Fatalf("expected ErrKeyResolutionFailed, got %v", err)
	}
	if strings.Contains(err.Error(), "garbage") {
		t.Fatalf("error must not echo the blob: %v", err)
	}
}

func TestSendPaymentUnsupportedAsset(t *testing.T) {
	f := newFixture(t)
	_, err := f.payments.SendPayment(context.Background(), f.request("1", "DOGE"))
	if !errors.Is(err, assets.ErrUnsupportedAsset) {
		t.Fatalf("expected ErrUnsupportedAsset, got %v", err)
	}
}

func TestSendPaymentRejectsNonPositiveAmount(t *testing.T) {
	f := newFixture(t)
	_, err := f.payments.SendPayment(context.Background(), f.request("0", "USDC"))
	if !errors.Is(err, fees.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestSendPaymentSubmissionRejected(t *testing.T) {
	f := newFixture(t)
	f.fund(1_000_000, 100_000_000)
	f.client.SubmitErr = ledger.ErrSubmissionRejected

	_, err := f.payments.SendPayment(context.Background(), f.request("50", "USDC"))
	if !errors.Is(err, ledger.ErrSubmissionRejected) {
		t.Fatalf("expected ErrSubmissionRejected, got %v", err)
	}
}
