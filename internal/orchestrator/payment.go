// Package orchestrator drives the top-level custody workflows: outgoing
// payments and wallet provisioning. Each call is a stateless workflow over
// read-only configuration; nothing here serializes concurrent requests for
// the same sender. The balance check is advisory only — two concurrent
// payments from one custodial identity can both pass it and both submit, and
// only the ledger's own balance enforcement stops the over-draw. That race
// is a documented property of the design, not a bug to lock away.
package orchestrator

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"imanipay/blockchain-service/internal/assets"
	"imanipay/blockchain-service/internal/balances"
	"imanipay/blockchain-service/internal/emitters"
	"imanipay/blockchain-service/internal/fees"
	"imanipay/blockchain-service/internal/keyvault"
	"imanipay/blockchain-service/internal/ledger"
	"imanipay/blockchain-service/internal/metrics"
	"imanipay/blockchain-service/internal/txgroup"
)

var (
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrKeyResolutionFailed = errors.New("key resolution failed")
)

// State is the payment workflow position, for logging and debugging.
type State int

const (
	StateResolving State = iota
	StateBalanceChecking
	StateBuilding
	StateSubmitting
	StateConfirming
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateResolving:
		return "resolving"
	case StateBalanceChecking:
		return "balance_checking"
	case StateBuilding:
		return "building"
	case StateSubmitting:
		return "submitting"
	case StateConfirming:
		return "confirming"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status is the terminal outcome surfaced to callers.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	// StatusIndeterminate means the bundle was submitted but confirmation
	// was not observed within the polling budget. The operation may still
	// land: callers must re-check the balance or poll the operation id, and
	// must not resubmit blindly.
	StatusIndeterminate Status = "indeterminate"
)

// ConfirmPolicy bounds confirmation polling. Exhausting it yields
// StatusIndeterminate, never an infinite wait.
type ConfirmPolicy struct {
	MaxAttempts int
	Interval    time.Duration
}

func (p ConfirmPolicy) withDefaults() ConfirmPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 10
	}
	if p.Interval <= 0 {
		p.Interval = time.Second
	}
	return p
}

// PaymentRequest is one outgoing payment from a custodial wallet. The
// encrypted secret comes from the external wallet store and is opened only
// transiently during signing.
type PaymentRequest struct {
	SenderAddress   string
	EncryptedSecret []byte
	Receiver        string
	Amount          decimal.Decimal
	AssetSymbol     string
}

// PaymentResult is the terminal outcome of one payment workflow.
type PaymentResult struct {
	Status          Status
	OperationID     string
	Amount          decimal.Decimal
	Fee             decimal.Decimal
	AmountBaseUnits uint64
	ConfirmedRound  uint64
}

// Payments runs the payment workflow end to end.
type Payments struct {
	vault    *keyvault.Vault
	balances *balances.Aggregator
	schedule fees.Schedule
	builder  *txgroup.Builder
	client   ledger.Client
	registry *assets.Registry
	treasury string
	confirm  ConfirmPolicy
	emitter  emitters.Emitter
	log      *slog.Logger
}

func NewPayments(
	vault *keyvault.Vault,
	aggregator *balances.Aggregator,
	schedule fees.Schedule,
	builder *txgroup.Builder,
	client ledger.Client,
	registry *assets.Registry,
	treasury string,
	confirm ConfirmPolicy,
	emitter emitters.Emitter,
	log *slog.Logger,
) *Payments {
	if emitter == nil {
		emitter = emitters.Noop{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Payments{
		vault:    vault,
		balances: aggregator,
		schedule: schedule,
		builder:  builder,
		client:   client,
		registry: registry,
		treasury: treasury,
		confirm:  confirm.withDefaults(),
		emitter:  emitter,
		log:      log,
	}
}

// SendPayment walks Resolving -> BalanceChecking -> Building -> Submitting ->
// Confirming. A fee is skimmed to the treasury for token transfers; base
// transfers carry only the ledger's own network fee. On a confirmation
// timeout the result status is StatusIndeterminate with a nil error.
func (o *Payments) SendPayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	asset, err := o.registry.BySymbol(req.AssetSymbol)
	if err != nil {
		return nil, err
	}
	if req.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", fees.ErrInvalidAmount)
	}

	o.transition(StateResolving, req.SenderAddress, "")
	key, err := o.resolveKey(req.SenderAddress, req.EncryptedSecret)
	if err != nil {
		return nil, o.fail(req, err)
	}

	feeApplies := !asset.IsBase()
	fee := decimal.Zero
	if feeApplies {
		if fee, err = o.schedule.Compute(req.Amount); err != nil {
			return nil, o.fail(req, err)
		}
	}

	o.transition(StateBalanceChecking, req.SenderAddress, "")
	if err := o.checkBalance(ctx, req, asset, fee, feeApplies); err != nil {
		return nil, o.fail(req, err)
	}

	o.transition(StateBuilding, req.SenderAddress, "")
	transfer := txgroup.TransferRequest{
		Sender:   req.SenderAddress,
		Receiver: req.Receiver,
		Amount:   req.Amount,
		Asset:    asset,
	}
	var bundle *txgroup.SignedBundle
	if feeApplies {
		bundle, err = o.builder.TransferWithFee(transfer, key, o.treasury, fee)
	} else {
		bundle, err = o.builder.Transfer(transfer, key)
	}
	if err != nil {
		return nil, o.fail(req, err)
	}

	o.transition(StateSubmitting, req.SenderAddress, "")
	operationID, err := o.client.Submit(ctx, bundle)
	if err != nil {
		if errors.Is(err, ledger.ErrUpstreamUnavailable) {
			metrics.UpstreamError()
		}
		return nil, o.fail(req, err)
	}

	o.transition(StateConfirming, req.SenderAddress, operationID)
	round, confirmed := awaitConfirmation(ctx, o.client, operationID, o.confirm, o.log)

	amountBaseUnits, err := assets.ToBaseUnits(req.Amount, asset.Decimals)
	if err != nil {
		return nil, o.fail(req, err)
	}
	result := &PaymentResult{
		OperationID:     operationID,
		Amount:          req.Amount,
		Fee:             fee,
		AmountBaseUnits: amountBaseUnits,
	}
	if confirmed {
		result.Status = StatusSucceeded
		result.ConfirmedRound = round
		o.transition(StateSucceeded, req.SenderAddress, operationID)
	} else {
		result.Status = StatusIndeterminate
		o.log.Warn("payment confirmation window exhausted",
			"sender", req.SenderAddress, "operation_id", operationID)
	}
	o.finish(ctx, req, result)
	return result, nil
}

func (o *Payments) resolveKey(address string, encryptedSecret []byte) (ed25519.PrivateKey, error) {
	phrase, err := o.vault.Decrypt(encryptedSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: stored secret cannot be opened", ErrKeyResolutionFailed)
	}
	key, err := keyvault.DeriveSigningKey(phrase)
	if err != nil {
		return nil, fmt.Errorf("%w: stored secret is not a valid phrase", ErrKeyResolutionFailed)
	}
	ok, err := keyvault.VerifyAddress(address, key.Public().(ed25519.PublicKey))
	if err != nil || !ok {
		return nil, fmt.Errorf("%w: derived key does not match stored address", ErrKeyResolutionFailed)
	}
	return key, nil
}

// checkBalance is a point-in-time check, not a reservation. Token transfers
// must cover amount+fee in the token and the group's network fees in the
// base asset; base transfers must cover amount plus one network fee.
func (o *Payments) checkBalance(ctx context.Context, req PaymentRequest, asset assets.Asset, fee decimal.Decimal, feeApplies bool) error {
	snap, err := o.balances.Snapshot(ctx, req.SenderAddress)
	if err != nil {
		if errors.Is(err, ledger.ErrUpstreamUnavailable) {
			metrics.UpstreamError()
		}
		return err
	}

	networkFee := assets.FromBaseUnits(o.builder.NetworkFee(), assets.BaseDecimals)
	if !feeApplies {
		need := req.Amount.Add(networkFee)
		if snap.Base.Cmp(need) < 0 {
			return fmt.Errorf("%w: base balance %s below required %s", ErrInsufficientFunds, snap.Base, need)
		}
		return nil
	}

	tokenNeed := req.Amount.Add(fee)
	held := snap.AssetAmount(asset.NetworkID)
	if held.Cmp(tokenNeed) < 0 {
		return fmt.Errorf("%w: %s balance %s below required %s", ErrInsufficientFunds, asset.Symbol, held, tokenNeed)
	}
	// Two grouped operations, each paying the flat network fee in base units.
	baseNeed := networkFee.Mul(decimal.NewFromInt(2))
	if snap.Base.Cmp(baseNeed) < 0 {
		return fmt.Errorf("%w: base balance %s cannot cover network fees %s", ErrInsufficientFunds, snap.Base, baseNeed)
	}
	return nil
}

func (o *Payments) transition(s State, sender, operationID string) {
	o.log.Debug("payment state", "state", s.String(), "sender", sender, "operation_id", operationID)
}

func (o *Payments) fail(req PaymentRequest, err error) error {
	o.transition(StateFailed, req.SenderAddress, "")
	metrics.PaymentOutcome(string(StatusFailed))
	o.emit(context.Background(), req, &PaymentResult{Status: StatusFailed})
	return err
}

func (o *Payments) finish(ctx context.Context, req PaymentRequest, result *PaymentResult) {
	metrics.PaymentOutcome(string(result.Status))
	fee, _ := result.Fee.Float64()
	metrics.ObserveFee(fee)
	o.emit(ctx, req, result)
}

func (o *Payments) emit(ctx context.Context, req PaymentRequest, result *PaymentResult) {
	event := emitters.Event{
		Kind:        "payment",
		OperationID: result.OperationID,
		Sender:      req.SenderAddress,
		Receiver:    req.Receiver,
		Asset:       req.AssetSymbol,
		Amount:      req.Amount.String(),
		Fee:         result.Fee.String(),
		Status:      string(result.Status),
		Timestamp:   time.Now().UTC(),
	}
	if err := o.emitter.Emit(ctx, event); err != nil {
		o.log.Warn("event emission failed", "operation_id", result.OperationID, "err", err)
	}
}

// awaitConfirmation polls the pending-operation endpoint within the policy's
// budget. false means the outcome is unknown, not that the operation failed.
// Context cancellation also yields false: a submitted bundle cannot be
// recalled, so cancellation only stops the waiting.
func awaitConfirmation(ctx context.Context, client ledger.Client, operationID string, policy ConfirmPolicy, log *slog.Logger) (uint64, bool) {
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		round, err := client.PendingInfo(ctx, operationID)
		if err != nil {
			if errors.Is(err, ledger.ErrUpstreamUnavailable) {
				metrics.UpstreamError()
			}
			log.Debug("confirmation poll failed", "operation_id", operationID, "attempt", attempt, "err", err)
		} else if round > 0 {
			return round, true
		}
		if attempt == policy.MaxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return 0, false
		case <-time.After(policy.Interval):
		}
	}
	return 0, false
}
