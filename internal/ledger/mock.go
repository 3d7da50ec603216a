package ledger

import (
	"context"
	"fmt"
	"sync"

	"imanipay/blockchain-service/internal/txgroup"
)

// MockClient is an in-memory Client for tests and local development. Knobs
// control failure injection and how many polls an operation stays pending.
type MockClient struct {
	mu sync.Mutex

	Accounts map[string]AccountState
	Assets   map[uint64]AssetMetadata

	AccountErr  error
	MetadataErr error
	SubmitErr   error
	PendingErr  error

	// ConfirmAfter is how many PendingInfo calls an operation stays pending
	// before confirming; negative means it never confirms.
	ConfirmAfter int

	Submitted []*txgroup.SignedBundle
	polls     map[string]int
	nextOp    int
}

func NewMockClient() *MockClient {
	return &MockClient{
		Accounts: make(map[string]AccountState),
		Assets:   make(map[uint64]AssetMetadata),
		polls:    make(map[string]int),
	}
}

func (m *MockClient) AccountState(_ context.Context, address string) (*AccountState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AccountErr != nil {
		return nil, m.AccountErr
	}
	state, ok := m.Accounts[address]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAddressNotFound, address)
	}
	copied := state
	copied.HeldAssets = append([]HeldAsset(nil), state.HeldAssets...)
	return &copied, nil
}

func (m *MockClient) AssetMetadata(_ context.Context, assetID uint64) (*AssetMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MetadataErr != nil {
		return nil, m.MetadataErr
	}
	meta, ok := m.Assets[assetID]
	if !ok {
		return nil, fmt.Errorf("%w: asset %d", ErrUpstreamUnavailable, assetID)
	}
	copied := meta
	return &copied, nil
}

func (m *MockClient) Submit(_ context.Context, bundle *txgroup.SignedBundle) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SubmitErr != nil {
		return "", m.SubmitErr
	}
	m.nextOp++
	m.Submitted = append(m.Submitted, bundle)
	return fmt.Sprintf("op-%d", m.nextOp), nil
}

func (m *MockClient) PendingInfo(_ context.Context, operationID string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PendingErr != nil {
		return 0, m.PendingErr
	}
	m.polls[operationID]++
	if m.ConfirmAfter < 0 || m.polls[operationID] <= m.ConfirmAfter {
		return 0, nil
	}
	return 1000 + uint64(m.nextOp), nil
}

// SubmitCount reports how many bundles were accepted.
func (m *MockClient) SubmitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Submitted)
}
