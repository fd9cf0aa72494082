package mint

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/RUNSTR-LLC/nutzap/cashu"
	"github.com/RUNSTR-LLC/nutzap/crypto"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Capability is the cryptographic surface the gateway consumes to
// mint and redeem proofs. Keeping it behind an interface lets the
// ledger logic run against a fake in tests.
type Capability interface {
	// CreateBlindedMessages splits amount into powers of 2 and
	// returns one blinded message per part, along with the secrets
	// and blinding factors needed to unblind the signatures.
	CreateBlindedMessages(amount uint64, keysetId string) (cashu.BlindedMessages, []string, []*secp256k1.PrivateKey, error)

	// ConstructProofs unblinds the mint's signatures into proofs.
	// A response that cannot be unblinded against the keyset is a
	// hard failure; proofs are never fabricated from a malformed
	// mint response.
	ConstructProofs(signatures cashu.BlindedSignatures, secrets []string,
		rs []*secp256k1.PrivateKey, keyset *crypto.Keyset) (cashu.Proofs, error)
}

// BDHKE is the default Capability, implementing the wallet side of
// the blind Diffie-Hellman key exchange.
type BDHKE struct{}

func (BDHKE) CreateBlindedMessages(amount uint64, keysetId string) (
	cashu.BlindedMessages, []string, []*secp256k1.PrivateKey, error) {

	splitAmounts := cashu.AmountSplit(amount)
	splitLen := len(splitAmounts)

	blindedMessages := make(cashu.BlindedMessages, splitLen)
	secrets := make([]string, splitLen)
	rs := make([]*secp256k1.PrivateKey, splitLen)

	for i, amt := range splitAmounts {
		secretBytes := make([]byte, 32)
		if _, err := rand.Read(secretBytes); err != nil {
			return nil, nil, nil, err
		}
		secret := hex.EncodeToString(secretBytes)

		r, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			return nil, nil, nil, err
		}

		B_ := crypto.BlindMessage([]byte(secret), r)
		B_str := hex.EncodeToString(B_.SerializeCompressed())

		blindedMessages[i] = cashu.BlindedMessage{Amount: amt, B_: B_str, Id: keysetId}
		secrets[i] = secret
		rs[i] = r
	}

	return blindedMessages, secrets, rs, nil
}

func (BDHKE) ConstructProofs(signatures cashu.BlindedSignatures, secrets []string,
	rs []*secp256k1.PrivateKey, keyset *crypto.Keyset) (cashu.Proofs, error) {

	if len(signatures) > len(secrets) || len(signatures) > len(rs) {
		return nil, errors.New("mint returned more signatures than requested outputs")
	}

	proofs := make(cashu.Proofs, len(signatures))
	for i, signature := range signatures {
		C_bytes, err := hex.DecodeString(signature.C_)
		if err != nil {
			return nil, fmt.Errorf("invalid blinded signature: %v", err)
		}
		C_, err := secp256k1.ParsePubKey(C_bytes)
		if err != nil {
			return nil, fmt.Errorf("invalid blinded signature: %v", err)
		}

		K, ok := keyset.Keys[signature.Amount]
		if !ok {
			return nil, fmt.Errorf("mint signed for amount %d not in keyset", signature.Amount)
		}

		C := crypto.UnblindSignature(C_, rs[i], K)
		proofs[i] = cashu.Proof{
			Amount: signature.Amount,
			Secret: secrets[i],
			C:      hex.EncodeToString(C.SerializeCompressed()),
			Id:     signature.Id,
		}
	}

	return proofs, nil
}
