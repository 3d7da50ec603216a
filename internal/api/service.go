// Package api is the thin HTTP surface over the custody engine. Requests are
// validated once at this boundary into typed structs; nothing below works on
// raw maps.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"imanipay/blockchain-service/internal/balances"
	"imanipay/blockchain-service/internal/ledger"
	"imanipay/blockchain-service/internal/orchestrator"
	"imanipay/blockchain-service/internal/platform/ratelimiter"
	"imanipay/blockchain-service/internal/wallets"
)

var (
	ErrValidation  = errors.New("invalid request")
	ErrRateLimited = errors.New("sender is rate limited")
)

type Service struct {
	payments    *orchestrator.Payments
	provisioner *orchestrator.Provisioner
	balances    *balances.Aggregator
	walletStore wallets.Store
	client      ledger.Client
	limiter     *ratelimiter.SenderLimiter
	log         *slog.Logger
}

func NewService(
	payments *orchestrator.Payments,
	provisioner *orchestrator.Provisioner,
	aggregator *balances.Aggregator,
	walletStore wallets.Store,
	client ledger.Client,
	limiter *ratelimiter.SenderLimiter,
	log *slog.Logger,
) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		payments:    payments,
		provisioner: provisioner,
		balances:    aggregator,
		walletStore: walletStore,
		client:      client,
		limiter:     limiter,
		log:         log,
	}
}

type SendPaymentRequest struct {
	UserID          string `json:"user_id"`
	ReceiverAddress string `json:"receiver_wallet_address"`
	Amount          string `json:"amount"`
	Asset           string `json:"asset"`
}

type SendPaymentResponse struct {
	Status          string `json:"status"`
	OperationID     string `json:"txid,omitempty"`
	SenderAddress   string `json:"sender_wallet_address"`
	ReceiverAddress string `json:"receiver_wallet_address"`
	Asset           string `json:"asset"`
	Amount          string `json:"amount"`
	Fee             string `json:"fee_amount"`
	ConfirmedRound  uint64 `json:"confirmed_round,omitempty"`
}

func (s *Service) SendPayment(ctx context.Context, req SendPaymentRequest) (*SendPaymentResponse, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrValidation)
	}
	if req.ReceiverAddress == "" {
		return nil, fmt.Errorf("%w: receiver_wallet_address is required", ErrValidation)
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return nil, fmt.Errorf("%w: amount %q is not a decimal", ErrValidation, req.Amount)
	}
	asset := req.Asset
	if asset == "" {
		asset = "USDC"
	}

	record, err := s.walletStore.Lookup(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if !s.limiter.Allow(record.Address, time.Now()) {
		return nil, fmt.Errorf("%w: %s", ErrRateLimited, record.Address)
	}

	result, err := s.payments.SendPayment(ctx, orchestrator.PaymentRequest{
		SenderAddress:   record.Address,
		EncryptedSecret: record.EncryptedSecret,
		Receiver:        req.ReceiverAddress,
		Amount:          amount,
		AssetSymbol:     asset,
	})
	if err != nil {
		return nil, err
	}
	return &SendPaymentResponse{
		Status:          string(result.Status),
		OperationID:     result.OperationID,
		SenderAddress:   record.Address,
		ReceiverAddress: req.ReceiverAddress,
		Asset:           asset,
		Amount:          result.Amount.String(),
		Fee:             result.Fee.String(),
		ConfirmedRound:  result.ConfirmedRound,
	}, nil
}

type BalanceRequest struct {
	WalletAddress string `json:"wallet_address"`
}

type BalanceResponse struct {
	WalletAddress string                  `json:"wallet_address"`
	Balance       string                  `json:"balance"`
	Assets        map[uint64]AssetBalance `json:"assets"`
	Degraded      bool                    `json:"degraded,omitempty"`
}

type AssetBalance struct {
	Balance string `json:"balance"`
	Name    string `json:"name"`
}

func (s *Service) GetBalance(ctx context.Context, req BalanceRequest) (*BalanceResponse, error) {
	if req.WalletAddress == "" {
		return nil, fmt.Errorf("%w: wallet_address is required", ErrValidation)
	}
	snap, err := s.balances.Snapshot(ctx, req.WalletAddress)
	if err != nil {
		return nil, err
	}
	resp := &BalanceResponse{
		WalletAddress: snap.Address,
		Balance:       snap.Base.String(),
		Assets:        make(map[uint64]AssetBalance, len(snap.Assets)),
		Degraded:      snap.Degraded,
	}
	for id, b := range snap.Assets {
		resp.Assets[id] = AssetBalance{Balance: b.Amount.String(), Name: b.Name}
	}
	return resp, nil
}

type ValidateWalletRequest struct {
	WalletAddress string `json:"wallet_address"`
}

type ValidateWalletResponse struct {
	IsValid       bool   `json:"is_valid"`
	WalletAddress string `json:"wallet_address"`
}

// ValidateWallet probes whether an address exists on the ledger. An unknown
// address is a negative answer; an unreachable ledger is an error, not a
// negative answer.
func (s *Service) ValidateWallet(ctx context.Context, req ValidateWalletRequest) (*ValidateWalletResponse, error) {
	if req.WalletAddress == "" {
		return nil, fmt.Errorf("%w: wallet_address is required", ErrValidation)
	}
	_, err := s.client.AccountState(ctx, req.WalletAddress)
	switch {
	case err == nil:
		return &ValidateWalletResponse{IsValid: true, WalletAddress: req.WalletAddress}, nil
	case errors.Is(err, ledger.ErrAddressNotFound):
		return &ValidateWalletResponse{IsValid: false, WalletAddress: req.WalletAddress}, nil
	default:
		return nil, err
	}
}

type ProvisionWalletRequest struct {
	UserID string `json:"user_id"`
}

type ProvisionWalletResponse struct {
	UserID            string `json:"user_id"`
	WalletAddress     string `json:"wallet_address,omitempty"`
	OptedIn           bool   `json:"opted_in"`
	Network           string `json:"network"`
	EncryptedMnemonic []byte `json:"encrypted_mnemonic_phrase,omitempty"`
}

func (s *Service) ProvisionWallet(ctx context.Context, req ProvisionWalletRequest) (*ProvisionWalletResponse, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrValidation)
	}
	result, err := s.provisioner.Provision(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	return &ProvisionWalletResponse{
		UserID:            result.UserID,
		WalletAddress:     result.Address,
		OptedIn:           result.OptedIn,
		Network:           result.Network,
		EncryptedMnemonic: result.EncryptedMnemonic,
	}, nil
}
