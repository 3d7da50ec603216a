// Package wallets is the contract to the external wallet store. User and
// wallet records are owned by the main backend; this engine only looks them
// up and never caches nor fabricates them.
package wallets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

var ErrWalletNotFound = errors.New("wallet record not found")

// Record is one custodial wallet as stored by the backend. EncryptedSecret
// is opaque here; only the key vault can open it.
type Record struct {
	Address         string `json:"wallet_address"`
	EncryptedSecret []byte `json:"encrypted_secret"`
}

type Store interface {
	Lookup(ctx context.Context, userID string) (*Record, error)
}

// HTTPStore looks wallet records up from the owning backend.
type HTTPStore struct {
	baseURL string
	token   string
	httpc   *http.Client
}

func NewHTTPStore(baseURL, token string, timeout time.Duration) (*HTTPStore, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("wallet store URL is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPStore{
		baseURL: baseURL,
		token:   token,
		httpc:   &http.Client{Timeout: timeout},
	}, nil
}

func (s *HTTPStore) Lookup(ctx context.Context, userID string) (*Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.baseURL+"/internal/wallets/"+url.PathEscape(userID), nil)
	if err != nil {
		return nil, err
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wallet store unreachable: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var rec Record
		if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
			return nil, fmt.Errorf("decoding wallet record: %w", err)
		}
		if rec.Address == "" || len(rec.EncryptedSecret) == 0 {
			return nil, fmt.Errorf("%w: incomplete record for user", ErrWalletNotFound)
		}
		return &rec, nil
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: user has no wallet", ErrWalletNotFound)
	default:
		return nil, fmt.Errorf("wallet store returned %d", resp.StatusCode)
	}
}
