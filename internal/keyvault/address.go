package keyvault

import (
	"crypto/ed25519"
	"fmt"

	"github.com/mr-tron/base58/base58"
	"golang.org/x/crypto/blake2b"
)

const addressPrefix = "imp1"

// AddressFromKey builds the on-ledger address for a signing public key.
func AddressFromKey(pub ed25519.PublicKey) (string, error) {
	if len(pub) != ed25519.PublicKeySize {
		return "", fmt.Errorf("invalid signing public key size: %d", len(pub))
	}
	h := blake2b.Sum256(pub)
	return addressPrefix + base58.Encode(h[:]), nil
}

// VerifyAddress reports whether address is the address of pub.
func VerifyAddress(address string, pub ed25519.PublicKey) (bool, error) {
	expected, err := AddressFromKey(pub)
	if err != nil {
		return false, err
	}
	return address == expected, nil
}
