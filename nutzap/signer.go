package nutzap

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
	"github.com/tyler-smith/go-bip39"
)

// Signer authorizes published events. The wallet never requires
// the raw private key: a remote-signing provider implements the
// same interface.
type Signer interface {
	PublicKey() (string, error)
	SignEvent(ctx context.Context, event *nostr.Event) error
}

// LocalSigner signs with a secret key held in memory.
type LocalSigner struct {
	secretKey string
	publicKey string
}

func NewLocalSigner(secretKey string) (*LocalSigner, error) {
	publicKey, err := nostr.GetPublicKey(secretKey)
	if err != nil {
		return nil, fmt.Errorf("invalid secret key: %v", err)
	}
	return &LocalSigner{secretKey: secretKey, publicKey: publicKey}, nil
}

// NewLocalSignerFromMnemonic derives the signing key from a bip39
// mnemonic, so the wallet identity can be backed up and restored
// as seed words.
func NewLocalSignerFromMnemonic(mnemonic string) (*LocalSigner, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errors.New("invalid mnemonic")
	}

	seed := bip39.NewSeed(mnemonic, "")
	keyBytes := sha256.Sum256(seed)
	return NewLocalSigner(hex.EncodeToString(keyBytes[:]))
}

// GenerateMnemonic returns a fresh 12-word wallet seed.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

func (s *LocalSigner) PublicKey() (string, error) {
	return s.publicKey, nil
}

func (s *LocalSigner) SignEvent(_ context.Context, event *nostr.Event) error {
	return event.Sign(s.secretKey)
}
