package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"imanipay/blockchain-service/internal/assets"
	"imanipay/blockchain-service/internal/fees"
	"imanipay/blockchain-service/internal/keyvault"
	"imanipay/blockchain-service/internal/ledger"
	"imanipay/blockchain-service/internal/metrics"
	"imanipay/blockchain-service/internal/orchestrator"
	"imanipay/blockchain-service/internal/wallets"
)

const maxBodyBytes = 1 << 16

// Server exposes the custody operations over HTTP. It owns no business
// logic; every handler decodes, calls the service, and maps the error.
type Server struct {
	svc  *Service
	log  *slog.Logger
	http *http.Server
}

func NewServer(addr string, svc *Service, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{svc: svc, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /transactions/send", s.handleSendPayment)
	mux.HandleFunc("POST /wallets/balance", s.handleBalance)
	mux.HandleFunc("POST /wallets/validate", s.handleValidate)
	mux.HandleFunc("POST /wallets/provision", s.handleProvision)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	s.http = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then shuts down draining in-flight
// requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("http server listening", "addr", s.http.Addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

// Handler returns the underlying mux, for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) handleSendPayment(w http.ResponseWriter, r *http.Request) {
	var req SendPaymentRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := s.svc.SendPayment(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	var req BalanceRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := s.svc.GetBalance(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req ValidateWalletRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := s.svc.ValidateWallet(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleProvision(w http.ResponseWriter, r *http.Request) {
	var req ProvisionWalletRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := s.svc.ProvisionWallet(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps domain errors onto HTTP statuses. Key-handling failures
// collapse to a generic 500 so nothing about secret material reaches the
// caller.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	msg := err.Error()

	switch {
	case errors.Is(err, ErrValidation),
		errors.Is(err, fees.ErrInvalidAmount),
		errors.Is(err, assets.ErrUnsupportedAsset),
		errors.Is(err, orchestrator.ErrUserIDRequired):
		status = http.StatusBadRequest
	case errors.Is(err, wallets.ErrWalletNotFound),
		errors.Is(err, ledger.ErrAddressNotFound):
		status = http.StatusNotFound
	case errors.Is(err, orchestrator.ErrInsufficientFunds):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, keyvault.ErrDecryptionFailed),
		errors.Is(err, orchestrator.ErrKeyResolutionFailed):
		status = http.StatusInternalServerError
		msg = "internal error"
	case errors.Is(err, ledger.ErrSubmissionRejected):
		status = http.StatusBadGateway
	case errors.Is(err, ledger.ErrUpstreamUnavailable):
		status = http.StatusServiceUnavailable
	default:
		status = http.StatusInternalServerError
		msg = "internal error"
	}

	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "path", r.URL.Path, "status", status, "err", err)
	} else {
		s.log.Warn("request rejected", "path", r.URL.Path, "status", status, "err", err)
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
