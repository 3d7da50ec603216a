package keyvault

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	envelopeVersion = 1
	saltSize        = 16
	blobPrefix      = "IMPENC1\n"
)

var (
	ErrDecryptionFailed = errors.New("keyvault decryption failed")
	ErrSecretRequired   = errors.New("keyvault encryption secret is required")
)

// envelope is the serialized form of an encrypted recovery phrase. The KDF
// parameters travel with the ciphertext so old blobs stay decryptable if the
// defaults ever change.
type envelope struct {
	Version     uint32 `json:"version"`
	KDF         string `json:"kdf"`
	KDFTime     uint32 `json:"kdf_time"`
	KDFMemoryKB uint32 `json:"kdf_memory_kb"`
	KDFThreads  uint8  `json:"kdf_threads"`
	Salt        []byte `json:"salt"`
	Nonce       []byte `json:"nonce"`
	Ciphertext  []byte `json:"ciphertext"`
}

// maxKDFMemoryKB caps attacker-supplied argon2 memory at 256 MiB.
const maxKDFMemoryKB = 256 * 1024

func (e *envelope) validate() error {
	if len(e.Nonce) != chacha20poly1305.NonceSizeX {
		return fmt.Errorf("%w: malformed envelope", ErrDecryptionFailed)
	}
	if len(e.Salt) != saltSize {
		return fmt.Errorf("%w: malformed envelope", ErrDecryptionFailed)
	}
	if e.KDFTime == 0 || e.KDFThreads == 0 {
		return fmt.Errorf("%w: malformed envelope", ErrDecryptionFailed)
	}
	if e.KDFMemoryKB == 0 || e.KDFMemoryKB > maxKDFMemoryKB {
		return fmt.Errorf("%w: malformed envelope", ErrDecryptionFailed)
	}
	return nil
}

// Vault encrypts and decrypts custodial recovery phrases under a single
// process-wide secret supplied at startup. Plaintext phrases exist only
// transiently inside a call; they are never retained, logged, or echoed in
// errors.
type Vault struct {
	secret string
}

func New(secret string) (*Vault, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrSecretRequired
	}
	return &Vault{secret: secret}, nil
}

func (v *Vault) Encrypt(phrase string) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	key := deriveKey(v.secret, salt)
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	ciphertext := aead.Seal(nil, nonce, []byte(phrase), nil)

	env := envelope{
		Version:     envelopeVersion,
		KDF:         "argon2id",
		KDFTime:     2,
		KDFMemoryKB: 64 * 1024,
		KDFThreads:  1,
		Salt:        salt,
		Nonce:       nonce,
		Ciphertext:  ciphertext,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return append([]byte(blobPrefix), raw...), nil
}

func (v *Vault) Decrypt(blob []byte) (string, error) {
	if !strings.HasPrefix(string(blob), blobPrefix) {
		return "", fmt.Errorf("%w: unrecognized blob format", ErrDecryptionFailed)
	}
	var env envelope
	if err := json.Unmarshal(blob[len(blobPrefix):], &env); err != nil {
		return "", fmt.Errorf("%w: malformed envelope", ErrDecryptionFailed)
	}
	if env.Version != envelopeVersion || env.KDF != "argon2id" {
		return "", fmt.Errorf("%w: unsupported envelope version", ErrDecryptionFailed)
	}
	// The blob comes from an external store. Every field is validated before
	// it reaches a primitive that panics on bad input or a KDF parameter
	// that could exhaust memory.
	if err := env.validate(); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(v.secret), env.Salt, env.KDFTime, env.KDFMemoryKB, env.KDFThreads, chacha20poly1305.KeySize)
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", err
	}
	plaintext, err := aead.Open(nil, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		// Key mismatch and tampering are indistinguishable here, and the
		// message must not hint at either.
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

func deriveKey(secret string, salt []byte) []byte {
	return argon2.IDKey([]byte(secret), salt, 2, 64*1024, 1, chacha20poly1305.KeySize)
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
