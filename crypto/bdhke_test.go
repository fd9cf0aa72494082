package crypto

import (
	"encoding/hex"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

func TestHashToCurve(t *testing.T) {
	tests := []struct {
		message  string
		expected string
	}{
		{
			message:  "0000000000000000000000000000000000000000000000000000000000000000",
			expected: "0266687aadf862bd776c8fc18b8e9f8e20089714856ee233b3902a591d0d5f2925",
		},
		{
			message:  "0000000000000000000000000000000000000000000000000000000000000001",
			expected: "02ec4916dd28fc4c10d78e287ca5d9cc51ee1ae73cbfde08c6b37324cbfaac8bc5",
		},
		{
			message:  "0000000000000000000000000000000000000000000000000000000000000002",
			expected: "02076c988b353fcbb748178ecb286bc9d0b4acf474d4ba31ba62334e46c97c416a",
		},
	}

	for _, test := range tests {
		msgBytes, err := hex.DecodeString(test.message)
		if err != nil {
			t.Fatalf("error decoding msg: %v", err)
		}

		point := HashToCurve(msgBytes)
		hexStr := hex.EncodeToString(point.SerializeCompressed())
		if hexStr != test.expected {
			t.Errorf("expected %v but got %v", test.expected, hexStr)
		}
	}
}

// Blinds a secret, signs the blinded point with a mint key and checks
// that unblinding recovers k*HashToCurve(secret).
func TestBlindUnblindRoundTrip(t *testing.T) {
	secret := []byte("test_message")

	r, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("error generating private key: %v", err)
	}
	k, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("error generating private key: %v", err)
	}

	B_ := BlindMessage(secret, r)

	// mint side: C_ = k*B_
	var bPoint, cBlindedPoint secp256k1.JacobianPoint
	B_.AsJacobian(&bPoint)
	secp256k1.ScalarMultNonConst(&k.Key, &bPoint, &cBlindedPoint)
	cBlindedPoint.ToAffine()
	C_ := secp256k1.NewPublicKey(&cBlindedPoint.X, &cBlindedPoint.Y)

	C := UnblindSignature(C_, r, k.PubKey())

	// expected C = k*HashToCurve(secret)
	var yPoint, expectedPoint secp256k1.JacobianPoint
	HashToCurve(secret).AsJacobian(&yPoint)
	secp256k1.ScalarMultNonConst(&k.Key, &yPoint, &expectedPoint)
	expectedPoint.ToAffine()
	expected := secp256k1.NewPublicKey(&expectedPoint.X, &expectedPoint.Y)

	if !C.IsEqual(expected) {
		t.Error("unblinded signature does not match k*HashToCurve(secret)")
	}
}
