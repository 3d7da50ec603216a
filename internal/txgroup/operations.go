package txgroup

import (
	"crypto/ed25519"
	"crypto/sha512"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack"
)

const (
	// OpPayment moves the ledger's native asset.
	OpPayment = "pay"
	// OpAssetTransfer moves a fungible token; a zero-amount self-transfer is
	// the opt-in form.
	OpAssetTransfer = "axfer"
)

// Domain separators keep a group digest from ever being a valid signing
// payload and vice versa.
var (
	groupDomain = []byte("IPTG")
	txDomain    = []byte("IPTX")
)

var ErrEmptyGroup = errors.New("transaction group must not be empty")

// Operation is a single ledger operation. Group is the digest binding it to
// its atomic group; it is empty for ungrouped single operations and must be
// set before signing when a group applies, so every signature commits to the
// operation's membership in that exact group.
type Operation struct {
	Type    string `msgpack:"type"`
	From    string `msgpack:"from"`
	To      string `msgpack:"to"`
	Amount  uint64 `msgpack:"amount"`
	AssetID uint64 `msgpack:"asset_id"`
	Fee     uint64 `msgpack:"fee"`
	Group   []byte `msgpack:"group,omitempty"`
}

func NewPayment(from, to string, amount, fee uint64) Operation {
	return Operation{Type: OpPayment, From: from, To: to, Amount: amount, Fee: fee}
}

func NewAssetTransfer(from, to string, amount, assetID, fee uint64) Operation {
	return Operation{Type: OpAssetTransfer, From: from, To: to, Amount: amount, AssetID: assetID, Fee: fee}
}

// OptIn is a zero-amount self-transfer that lets an account hold an asset.
func OptIn(address string, assetID, fee uint64) Operation {
	return NewAssetTransfer(address, address, 0, assetID, fee)
}

// canonical returns the operation's canonical msgpack encoding. Field order
// is fixed by the struct definition, so equal operations always encode to
// equal bytes.
func (op Operation) canonical() ([]byte, error) {
	return msgpack.Marshal(op)
}

// GroupDigest computes the digest binding an ordered operation set into one
// atomic group. Any embedded group fields are cleared first: the digest is a
// function of the operations' content, not of a previous binding.
func GroupDigest(ops []Operation) ([]byte, error) {
	if len(ops) == 0 {
		return nil, ErrEmptyGroup
	}
	cleared := make([]Operation, len(ops))
	for i, op := range ops {
		op.Group = nil
		cleared[i] = op
	}
	raw, err := msgpack.Marshal(cleared)
	if err != nil {
		return nil, err
	}
	digest := sha512.Sum512_256(append(append([]byte{}, groupDomain...), raw...))
	return digest[:], nil
}

// SignedOperation is an operation plus its sender's signature over the
// domain-separated canonical encoding (group digest included when grouped).
type SignedOperation struct {
	Operation Operation `msgpack:"operation"`
	PublicKey []byte    `msgpack:"public_key"`
	Signature []byte    `msgpack:"signature"`
}

// Verify checks the signature against the embedded operation and key.
func (s SignedOperation) Verify() bool {
	if len(s.PublicKey) != ed25519.PublicKeySize {
		return false
	}
	raw, err := s.Operation.canonical()
	if err != nil {
		return false
	}
	return ed25519.Verify(s.PublicKey, append(append([]byte{}, txDomain...), raw...), s.Signature)
}

// SignedBundle is a submittable set of signed operations. Grouped operations
// share a group digest; the ledger applies them all or none.
type SignedBundle struct {
	Operations []SignedOperation `msgpack:"operations"`
}

// Encode serializes the bundle for submission.
func (b *SignedBundle) Encode() ([]byte, error) {
	return msgpack.Marshal(b)
}

func signOperation(op Operation, key ed25519.PrivateKey) (SignedOperation, error) {
	if len(key) != ed25519.PrivateKeySize {
		return SignedOperation{}, fmt.Errorf("invalid signing key size: %d", len(key))
	}
	raw, err := op.canonical()
	if err != nil {
		return SignedOperation{}, err
	}
	sig := ed25519.Sign(key, append(append([]byte{}, txDomain...), raw...))
	pub := key.Public().(ed25519.PublicKey)
	return SignedOperation{
		Operation: op,
		PublicKey: append([]byte(nil), pub...),
		Signature: sig,
	}, nil
}

// signGroup binds ops into one atomic group and signs each with its signer.
// Binding happens before any signing; signing order does not matter.
func signGroup(ops []Operation, signers []ed25519.PrivateKey) (*SignedBundle, error) {
	if len(ops) != len(signers) {
		return nil, fmt.Errorf("got %d operations but %d signers", len(ops), len(signers))
	}
	digest, err := GroupDigest(ops)
	if err != nil {
		return nil, err
	}
	bundle := &SignedBundle{Operations: make([]SignedOperation, len(ops))}
	for i, op := range ops {
		op.Group = digest
		signed, err := signOperation(op, signers[i])
		if err != nil {
			return nil, err
		}
		bundle.Operations[i] = signed
	}
	return bundle, nil
}
