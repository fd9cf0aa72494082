// Package testutils has in-process fakes for wallet tests: a mint
// HTTP server that signs whatever it is asked and tracks spent
// proofs, and a Capability that skips the blinding math.
package testutils

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/RUNSTR-LLC/nutzap/cashu"
	"github.com/RUNSTR-LLC/nutzap/crypto"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

type fakeQuote struct {
	amount uint64
	paid   bool
	issued bool
}

type FakeMint struct {
	server *httptest.Server

	mu       sync.Mutex
	pubkey   string
	keysetId string
	quotes   map[string]*fakeQuote
	spent    map[string]bool

	// FailStandardMint makes /v1/mint/bolt11 respond 500 so the
	// legacy path gets exercised.
	FailStandardMint bool
	// MeltAmount is the amount quoted for any melt request.
	MeltAmount uint64
	// MeltFeeReserve is the fee reserve quoted for any melt request.
	MeltFeeReserve uint64
	// MeltChange is the fee-reserve change signed back on melt. It
	// is matched against a prefix of the request's blank outputs,
	// so it must be a prefix sum of AmountSplit(MeltFeeReserve).
	MeltChange uint64
}

func NewFakeMint() (*FakeMint, error) {
	privKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	keys := make(map[uint64]*secp256k1.PublicKey)
	for amount := uint64(1); amount <= 2048; amount <<= 1 {
		keys[amount] = privKey.PubKey()
	}

	fm := &FakeMint{
		pubkey:   hex.EncodeToString(privKey.PubKey().SerializeCompressed()),
		keysetId: crypto.DeriveKeysetId(keys),
		quotes:   make(map[string]*fakeQuote),
		spent:    make(map[string]bool),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/keys", fm.handleKeys)
	mux.HandleFunc("POST /v1/mint/quote/bolt11", fm.handleMintQuote)
	mux.HandleFunc("GET /v1/mint/quote/bolt11/", fm.handleQuoteState)
	mux.HandleFunc("POST /v1/mint/bolt11", fm.handleMint)
	mux.HandleFunc("POST /mint/bolt11", fm.handleLegacyMint)
	mux.HandleFunc("POST /v1/swap", fm.handleSwap)
	mux.HandleFunc("POST /v1/melt/quote/bolt11", fm.handleMeltQuote)
	mux.HandleFunc("POST /v1/melt/bolt11", fm.handleMelt)
	fm.server = httptest.NewServer(mux)

	return fm, nil
}

func (fm *FakeMint) URL() string { return fm.server.URL }

// KeysetId is the id of the mint's only keyset, derived from its
// keys the way a real mint derives it.
func (fm *FakeMint) KeysetId() string { return fm.keysetId }

func (fm *FakeMint) Close() { fm.server.Close() }

// SetPaid marks a mint quote as paid, as if the mint observed the
// Lightning payment.
func (fm *FakeMint) SetPaid(quoteId string) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	if quote, ok := fm.quotes[quoteId]; ok {
		quote.paid = true
	}
}

// MarkSpent marks proof secrets as already redeemed, as if another
// wallet got to them first.
func (fm *FakeMint) MarkSpent(secrets ...string) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	for _, secret := range secrets {
		fm.spent[secret] = true
	}
}

func (fm *FakeMint) handleKeys(w http.ResponseWriter, r *http.Request) {
	keys := make(map[uint64]string)
	for amount := uint64(1); amount <= 2048; amount <<= 1 {
		keys[amount] = fm.pubkey
	}

	res := map[string]any{
		"keysets": []map[string]any{
			{"id": fm.keysetId, "unit": "sat", "keys": keys},
		},
	}
	json.NewEncoder(w).Encode(res)
}

func (fm *FakeMint) handleMintQuote(w http.ResponseWriter, r *http.Request) {
	var req cashu.PostMintQuoteBolt11Request
	json.NewDecoder(r.Body).Decode(&req)

	quoteId, _ := cashu.GenerateRandomQuoteId()
	fm.mu.Lock()
	fm.quotes[quoteId] = &fakeQuote{amount: req.Amount}
	fm.mu.Unlock()

	json.NewEncoder(w).Encode(cashu.PostMintQuoteBolt11Response{
		Quote:   quoteId,
		Request: "lnbcfake" + quoteId[:16],
	})
}

func (fm *FakeMint) handleQuoteState(w http.ResponseWriter, r *http.Request) {
	quoteId := strings.TrimPrefix(r.URL.Path, "/v1/mint/quote/bolt11/")

	fm.mu.Lock()
	quote, ok := fm.quotes[quoteId]
	fm.mu.Unlock()
	if !ok {
		writeMintError(w, "quote does not exist", cashu.QuoteNotPaidErrCode)
		return
	}

	json.NewEncoder(w).Encode(cashu.PostMintQuoteBolt11Response{
		Quote: quoteId, Paid: quote.paid,
	})
}

func (fm *FakeMint) handleMint(w http.ResponseWriter, r *http.Request) {
	if fm.FailStandardMint {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	fm.mint(w, r)
}

func (fm *FakeMint) handleLegacyMint(w http.ResponseWriter, r *http.Request) {
	fm.mint(w, r)
}

func (fm *FakeMint) mint(w http.ResponseWriter, r *http.Request) {
	var req cashu.PostMintBolt11Request
	json.NewDecoder(r.Body).Decode(&req)

	fm.mu.Lock()
	defer fm.mu.Unlock()

	quote, ok := fm.quotes[req.Quote]
	if !ok || !quote.paid {
		writeMintError(w, "quote request has not been paid", cashu.QuoteNotPaidErrCode)
		return
	}
	if quote.issued {
		writeMintError(w, "quote already issued", cashu.QuoteAlreadyIssuedCode)
		return
	}
	quote.issued = true

	json.NewEncoder(w).Encode(cashu.PostMintBolt11Response{
		Signatures: fm.sign(req.Outputs),
	})
}

func (fm *FakeMint) handleSwap(w http.ResponseWriter, r *http.Request) {
	var req cashu.PostSwapRequest
	json.NewDecoder(r.Body).Decode(&req)

	fm.mu.Lock()
	defer fm.mu.Unlock()

	for _, proof := range req.Inputs {
		if fm.spent[proof.Secret] {
			writeMintError(w, "proof already used", cashu.ProofAlreadyUsedErrCode)
			return
		}
	}
	for _, proof := range req.Inputs {
		fm.spent[proof.Secret] = true
	}

	json.NewEncoder(w).Encode(cashu.PostSwapResponse{
		Signatures: fm.sign(req.Outputs),
	})
}

func (fm *FakeMint) handleMeltQuote(w http.ResponseWriter, r *http.Request) {
	var req cashu.PostMeltQuoteBolt11Request
	json.NewDecoder(r.Body).Decode(&req)

	quoteId, _ := cashu.GenerateRandomQuoteId()
	json.NewEncoder(w).Encode(cashu.PostMeltQuoteBolt11Response{
		Quote:      quoteId,
		Amount:     fm.MeltAmount,
		FeeReserve: fm.MeltFeeReserve,
	})
}

func (fm *FakeMint) handleMelt(w http.ResponseWriter, r *http.Request) {
	var req cashu.PostMeltBolt11Request
	json.NewDecoder(r.Body).Decode(&req)

	fm.mu.Lock()
	for _, proof := range req.Inputs {
		fm.spent[proof.Secret] = true
	}
	fm.mu.Unlock()

	var change cashu.BlindedSignatures
	if fm.MeltChange > 0 {
		var changeSum uint64
		prefix := 0
		for _, output := range req.Outputs {
			if changeSum >= fm.MeltChange {
				break
			}
			changeSum += output.Amount
			prefix++
		}
		change = fm.sign(req.Outputs[:prefix])
	}

	json.NewEncoder(w).Encode(cashu.PostMeltBolt11Response{
		Paid:     true,
		Preimage: "fakepreimage",
		Change:   change,
	})
}

func (fm *FakeMint) sign(outputs cashu.BlindedMessages) cashu.BlindedSignatures {
	signatures := make(cashu.BlindedSignatures, len(outputs))
	for i, output := range outputs {
		signatures[i] = cashu.BlindedSignature{
			Amount: output.Amount,
			C_:     fm.pubkey,
			Id:     output.Id,
		}
	}
	return signatures
}

func writeMintError(w http.ResponseWriter, detail string, code cashu.CashuErrCode) {
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(cashu.Error{Detail: detail, Code: code})
}

// FakeCapability satisfies the gateway's Capability without the
// blinding math: secrets are random, proofs echo the signatures.
type FakeCapability struct{}

func (FakeCapability) CreateBlindedMessages(amount uint64, keysetId string) (
	cashu.BlindedMessages, []string, []*secp256k1.PrivateKey, error) {

	splits := cashu.AmountSplit(amount)
	blindedMessages := make(cashu.BlindedMessages, len(splits))
	secrets := make([]string, len(splits))
	rs := make([]*secp256k1.PrivateKey, len(splits))

	for i, amt := range splits {
		secretBytes := make([]byte, 32)
		if _, err := rand.Read(secretBytes); err != nil {
			return nil, nil, nil, err
		}
		secret := hex.EncodeToString(secretBytes)
		blindedMessages[i] = cashu.BlindedMessage{Amount: amt, B_: secret, Id: keysetId}
		secrets[i] = secret
	}
	return blindedMessages, secrets, rs, nil
}

func (FakeCapability) ConstructProofs(signatures cashu.BlindedSignatures, secrets []string,
	_ []*secp256k1.PrivateKey, _ *crypto.Keyset) (cashu.Proofs, error) {

	if len(signatures) > len(secrets) {
		return nil, fmt.Errorf("more signatures than secrets")
	}
	proofs := make(cashu.Proofs, len(signatures))
	for i, signature := range signatures {
		proofs[i] = cashu.Proof{
			Amount: signature.Amount,
			Secret: secrets[i],
			C:      signature.C_,
			Id:     signature.Id,
		}
	}
	return proofs, nil
}
