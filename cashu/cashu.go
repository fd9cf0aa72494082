// Package cashu contains the Cashu protocol types and token
// serialization used by the wallet.
package cashu

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

type Unit int

const (
	Sat Unit = iota
)

func (unit Unit) String() string {
	switch unit {
	case Sat:
		return "sat"
	default:
		return "unknown"
	}
}

var (
	ErrInvalidTokenV3 = errors.New("invalid V3 token")
	ErrInvalidTokenV4 = errors.New("invalid V4 token")
	ErrInvalidUnit    = errors.New("invalid unit")
)

// Proof is a bearer token fragment issued by a mint.
// See https://github.com/cashubtc/nuts/blob/main/00.md#proof
type Proof struct {
	Amount  uint64 `json:"amount"`
	Id      string `json:"id"`
	Secret  string `json:"secret"`
	C       string `json:"C"`
	Witness string `json:"witness,omitempty"`
}

type Proofs []Proof

// Amount returns the total amount from the array of Proof
func (proofs Proofs) Amount() uint64 {
	var totalAmount uint64 = 0
	for _, proof := range proofs {
		totalAmount += proof.Amount
	}
	return totalAmount
}

// BlindedMessage. See https://github.com/cashubtc/nuts/blob/main/00.md#blindedmessage
type BlindedMessage struct {
	Amount uint64 `json:"amount"`
	B_     string `json:"B_"`
	Id     string `json:"id"`
}

type BlindedMessages []BlindedMessage

func (bm BlindedMessages) Amount() uint64 {
	var totalAmount uint64 = 0
	for _, msg := range bm {
		totalAmount += msg.Amount
	}
	return totalAmount
}

// BlindedSignature. See https://github.com/cashubtc/nuts/blob/main/00.md#blindsignature
type BlindedSignature struct {
	Amount uint64 `json:"amount"`
	C_     string `json:"C_"`
	Id     string `json:"id"`
}

type BlindedSignatures []BlindedSignature

func (bs BlindedSignatures) Amount() uint64 {
	var totalAmount uint64 = 0
	for _, sig := range bs {
		totalAmount += sig.Amount
	}
	return totalAmount
}

type CashuErrCode int

// Error represents an error returned by the mint
type Error struct {
	Detail string       `json:"detail"`
	Code   CashuErrCode `json:"code"`
}

func (e Error) Error() string {
	return e.Detail
}

// Error codes the wallet cares about when classifying
// mint responses.
const (
	StandardErrCode         CashuErrCode = 10000
	InvalidProofErrCode     CashuErrCode = 10003
	ProofAlreadyUsedErrCode CashuErrCode = 11001
	InsufficientProofAmount CashuErrCode = 11002
	UnknownKeysetErrCode    CashuErrCode = 12001
	QuoteNotPaidErrCode     CashuErrCode = 20001
	QuoteAlreadyIssuedCode  CashuErrCode = 20002
	MeltQuotePendingErrCode CashuErrCode = 20005
)

// IsTokenAlreadySpent reports whether err is a mint error
// for a proof that was already redeemed.
func IsTokenAlreadySpent(err error) bool {
	var cashuErr Error
	if errors.As(err, &cashuErr) {
		return cashuErr.Code == ProofAlreadyUsedErrCode
	}
	return false
}

// AmountSplit returns the powers of 2 that sum to amount,
// e.g 13 -> [1, 4, 8]. Used to build blinded messages for
// mint and split operations.
func AmountSplit(amount uint64) []uint64 {
	rv := make([]uint64, 0)
	for pos := 0; amount > 0; pos++ {
		if amount&1 == 1 {
			rv = append(rv, 1<<pos)
		}
		amount >>= 1
	}
	return rv
}

func CheckDuplicateProofs(proofs Proofs) bool {
	proofsMap := make(map[Proof]bool)

	for _, proof := range proofs {
		if proofsMap[proof] {
			return true
		} else {
			proofsMap[proof] = true
		}
	}

	return false
}

// TokenHash returns the dedup key for an encoded token: the hex
// sha256 of the serialized token string. Redemption is keyed by
// this value rather than any carrier event id.
func TokenHash(tokenstr string) string {
	hash := sha256.Sum256([]byte(tokenstr))
	return hex.EncodeToString(hash[:])
}

func GenerateRandomQuoteId() (string, error) {
	randomBytes := make([]byte, 32)
	_, err := rand.Read(randomBytes)
	if err != nil {
		return "", err
	}
	hash := sha256.Sum256(randomBytes)
	return hex.EncodeToString(hash[:]), nil
}
