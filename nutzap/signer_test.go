package nutzap

import (
	"context"
	"testing"

	"github.com/nbd-wtf/go-nostr"
)

func TestLocalSigner(t *testing.T) {
	secretKey := nostr.GeneratePrivateKey()

	signer, err := NewLocalSigner(secretKey)
	if err != nil {
		t.Fatalf("error creating signer: %v", err)
	}

	publicKey, err := signer.PublicKey()
	if err != nil {
		t.Fatalf("error getting public key: %v", err)
	}
	expected, _ := nostr.GetPublicKey(secretKey)
	if publicKey != expected {
		t.Errorf("expected public key %v but got %v", expected, publicKey)
	}

	event := nostr.Event{Kind: KindNutzap, CreatedAt: nostr.Now(), Content: "hi"}
	if err := signer.SignEvent(context.Background(), &event); err != nil {
		t.Fatalf("error signing event: %v", err)
	}
	ok, err := event.CheckSignature()
	if err != nil || !ok {
		t.Errorf("expected valid signature, got ok=%v err=%v", ok, err)
	}
	if event.PubKey != publicKey {
		t.Errorf("expected event signed by %v but got %v", publicKey, event.PubKey)
	}
}

func TestLocalSignerInvalidKey(t *testing.T) {
	if _, err := NewLocalSigner("notakey"); err == nil {
		t.Error("expected error for invalid secret key")
	}
}

func TestSignerFromMnemonic(t *testing.T) {
	mnemonic, err := GenerateMnemonic()
	if err != nil {
		t.Fatalf("error generating mnemonic: %v", err)
	}

	signer1, err := NewLocalSignerFromMnemonic(mnemonic)
	if err != nil {
		t.Fatalf("error creating signer: %v", err)
	}
	signer2, err := NewLocalSignerFromMnemonic(mnemonic)
	if err != nil {
		t.Fatalf("error creating signer: %v", err)
	}

	key1, _ := signer1.PublicKey()
	key2, _ := signer2.PublicKey()
	if key1 != key2 {
		t.Error("same mnemonic should derive the same identity")
	}

	if _, err := NewLocalSignerFromMnemonic("not a valid seed phrase"); err == nil {
		t.Error("expected error for invalid mnemonic")
	}
}
