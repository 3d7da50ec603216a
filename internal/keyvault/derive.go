package keyvault

import (
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"io"
	"strings"

	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/hkdf"
)

const hkdfInfoSigning = "imanipay/custody/signing/v1"

var ErrInvalidMnemonic = errors.New("invalid mnemonic")

// NewMnemonic generates a fresh 24-word recovery phrase from 256 bits of
// entropy.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

func ValidateMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(strings.TrimSpace(mnemonic))
}

// DeriveSigningKey deterministically derives the custodial signing key from a
// recovery phrase. The same phrase always yields the same key, so an identity
// is reproducible from the one stored secret.
func DeriveSigningKey(mnemonic string) (ed25519.PrivateKey, error) {
	mnemonic = strings.TrimSpace(mnemonic)
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	seedBytes := bip39.NewSeed(mnemonic, "")
	defer zeroBytes(seedBytes)

	signingSeed, err := hkdfExpand(seedBytes, hkdfInfoSigning, ed25519.SeedSize)
	if err != nil {
		return nil, err
	}
	defer zeroBytes(signingSeed)
	return ed25519.NewKeyFromSeed(signingSeed), nil
}

func hkdfExpand(seed []byte, info string, outLen int) ([]byte, error) {
	reader := hkdf.New(sha256.New, seed, nil, []byte(info))
	out := make([]byte, outLen)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, err
	}
	return out, nil
}
