package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"imanipay/blockchain-service/internal/txgroup"
)

const defaultTimeout = 15 * time.Second

// HTTPClient talks to a ledger node's REST gateway. An API key travels in the
// X-API-Key header, matching the node provider's scheme. A shared token
// bucket keeps the engine inside the provider's rate limit across concurrent
// requests.
type HTTPClient struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
	limiter *rate.Limiter
}

// NewHTTPClient builds a client for the node at baseURL. requestsPerSecond
// <= 0 disables client-side rate limiting.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration, requestsPerSecond float64) (*HTTPClient, error) {
	if _, err := url.Parse(baseURL); err != nil || baseURL == "" {
		return nil, fmt.Errorf("invalid node URL %q", baseURL)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	var limiter *rate.Limiter
	if requestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
	}
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: timeout},
		limiter: limiter,
	}, nil
}

type accountResponse struct {
	BaseUnits  uint64 `json:"amount"`
	HeldAssets []struct {
		AssetID   uint64 `json:"asset_id"`
		BaseUnits uint64 `json:"amount"`
	} `json:"assets"`
}

func (c *HTTPClient) AccountState(ctx context.Context, address string) (*AccountState, error) {
	var resp accountResponse
	if err := c.getJSON(ctx, "/v2/accounts/"+url.PathEscape(address), &resp); err != nil {
		return nil, err
	}
	state := &AccountState{BaseUnits: resp.BaseUnits, HeldAssets: make([]HeldAsset, 0, len(resp.HeldAssets))}
	for _, a := range resp.HeldAssets {
		state.HeldAssets = append(state.HeldAssets, HeldAsset{AssetID: a.AssetID, BaseUnits: a.BaseUnits})
	}
	return state, nil
}

type assetResponse struct {
	Params struct {
		Decimals int32  `json:"decimals"`
		Name     string `json:"name"`
	} `json:"params"`
}

func (c *HTTPClient) AssetMetadata(ctx context.Context, assetID uint64) (*AssetMetadata, error) {
	var resp assetResponse
	if err := c.getJSON(ctx, "/v2/assets/"+strconv.FormatUint(assetID, 10), &resp); err != nil {
		return nil, err
	}
	return &AssetMetadata{Decimals: resp.Params.Decimals, Name: resp.Params.Name}, nil
}

type submitResponse struct {
	OperationID string `json:"txid"`
}

func (c *HTTPClient) Submit(ctx context.Context, bundle *txgroup.SignedBundle) (string, error) {
	raw, err := bundle.Encode()
	if err != nil {
		return "", err
	}
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/transactions", bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/msgpack")
	c.auth(req)

	httpResp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer httpResp.Body.Close()

	switch {
	case httpResp.StatusCode == http.StatusOK:
		var resp submitResponse
		if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
			return "", fmt.Errorf("%w: decoding submit response: %v", ErrUpstreamUnavailable, err)
		}
		return resp.OperationID, nil
	case httpResp.StatusCode >= 400 && httpResp.StatusCode < 500:
		return "", fmt.Errorf("%w: node returned %d: %s", ErrSubmissionRejected, httpResp.StatusCode, readBody(httpResp.Body))
	default:
		return "", fmt.Errorf("%w: node returned %d", ErrUpstreamUnavailable, httpResp.StatusCode)
	}
}

type pendingResponse struct {
	ConfirmedRound uint64 `json:"confirmed-round"`
}

func (c *HTTPClient) PendingInfo(ctx context.Context, operationID string) (uint64, error) {
	var resp pendingResponse
	if err := c.getJSON(ctx, "/v2/transactions/pending/"+url.PathEscape(operationID), &resp); err != nil {
		return 0, err
	}
	return resp.ConfirmedRound, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, out any) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	c.auth(req)

	httpResp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer httpResp.Body.Close()

	switch {
	case httpResp.StatusCode == http.StatusOK:
		return json.NewDecoder(httpResp.Body).Decode(out)
	case httpResp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrAddressNotFound, path)
	default:
		return fmt.Errorf("%w: node returned %d", ErrUpstreamUnavailable, httpResp.StatusCode)
	}
}

func (c *HTTPClient) auth(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
}

func (c *HTTPClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	return nil
}

func readBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return string(bytes.TrimSpace(b))
}
