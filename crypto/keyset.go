package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Keyset is the public half of a mint keyset: one public key
// per power-of-2 amount. The wallet never sees private keys.
type Keyset struct {
	Id      string
	MintURL string
	Unit    string
	Active  bool
	Keys    map[uint64]*secp256k1.PublicKey `json:"-"`
}

// ParseKeys parses the hex public keys from a mint /v1/keys
// response into curve points. A key that does not parse makes the
// whole keyset invalid.
func ParseKeys(keys map[uint64]string) (map[uint64]*secp256k1.PublicKey, error) {
	parsed := make(map[uint64]*secp256k1.PublicKey, len(keys))
	for amount, key := range keys {
		pkbytes, err := hex.DecodeString(key)
		if err != nil {
			return nil, fmt.Errorf("invalid key for amount %d: %v", amount, err)
		}
		pubkey, err := secp256k1.ParsePubKey(pkbytes)
		if err != nil {
			return nil, fmt.Errorf("invalid key for amount %d: %v", amount, err)
		}
		parsed[amount] = pubkey
	}
	return parsed, nil
}

// DeriveKeysetId derives the keyset id from the sorted
// concatenation of the compressed public keys.
func DeriveKeysetId(keys map[uint64]*secp256k1.PublicKey) string {
	amounts := make([]uint64, 0, len(keys))
	for amount := range keys {
		amounts = append(amounts, amount)
	}
	sort.Slice(amounts, func(i, j int) bool { return amounts[i] < amounts[j] })

	pubkeys := make([]byte, 0)
	for _, amount := range amounts {
		pubkeys = append(pubkeys, keys[amount].SerializeCompressed()...)
	}
	hash := sha256.Sum256(pubkeys)

	return "00" + hex.EncodeToString(hash[:])[:14]
}
