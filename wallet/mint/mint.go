// Package mint is the wallet's gateway to Cashu mints: connection
// with multi-mint fallback, quote issuance, minting, melting and
// proof splitting.
package mint

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/RUNSTR-LLC/nutzap/cashu"
	"github.com/RUNSTR-LLC/nutzap/crypto"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
)

const (
	// per-attempt bound for any mint call
	requestTimeout = 10 * time.Second
	// retries per mint during connect, with exponential backoff
	connectRetries = 2
)

// DefaultFallbackMints are tried in order when the preferred mint
// is unreachable.
var DefaultFallbackMints = []string{
	"https://mint.minibits.cash/Bitcoin",
	"https://mint.coinos.io",
	"https://8333.space:3338",
}

var (
	ErrNotConnected    = errors.New("not connected to a mint")
	ErrNoMintReachable = errors.New("no mint reachable")
	// ErrForeignMint rejects tokens issued by a mint other than the
	// connected one. The proof store holds a single keyset; proofs
	// from another mint could never be swapped or melted there.
	ErrForeignMint = errors.New("token issued by a different mint")
)

type Gateway struct {
	client     *Client
	capability Capability
	logger     zerolog.Logger

	mu      sync.RWMutex
	mintURL string
	keyset  crypto.Keyset
}

func NewGateway(capability Capability, logger zerolog.Logger) *Gateway {
	return &Gateway{
		client:     NewClient(requestTimeout),
		capability: capability,
		logger:     logger.With().Str("component", "mint").Logger(),
	}
}

// Connect tries the preferred mint first, then each fallback.
// Every candidate gets up to connectRetries retries with
// exponential backoff. The first mint that returns a valid sat
// keyset wins; its url is returned so the caller can persist it
// as the new preferred mint.
func (g *Gateway) Connect(ctx context.Context, preferredMintURL string, fallbacks []string) (string, error) {
	if len(fallbacks) == 0 {
		fallbacks = DefaultFallbackMints
	}

	candidates := make([]string, 0, len(fallbacks)+1)
	seen := make(map[string]bool)
	for _, candidate := range append([]string{preferredMintURL}, fallbacks...) {
		candidate = strings.TrimSuffix(candidate, "/")
		if candidate == "" || seen[candidate] {
			continue
		}
		if _, err := url.ParseRequestURI(candidate); err != nil {
			continue
		}
		seen[candidate] = true
		candidates = append(candidates, candidate)
	}

	for _, mintURL := range candidates {
		backoff := retry.WithMaxRetries(connectRetries, retry.NewExponential(time.Second))

		var keyset crypto.Keyset
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			attemptCtx, cancel := context.WithTimeout(ctx, requestTimeout)
			defer cancel()

			ks, err := g.fetchActiveKeyset(attemptCtx, mintURL)
			if err != nil {
				return retry.RetryableError(err)
			}
			keyset = ks
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			g.logger.Warn().Str("mint", mintURL).Err(err).Msg("mint unreachable, trying next")
			continue
		}

		g.mu.Lock()
		g.mintURL = mintURL
		g.keyset = keyset
		g.mu.Unlock()

		g.logger.Info().Str("mint", mintURL).Str("keyset", keyset.Id).Msg("connected to mint")
		return mintURL, nil
	}

	return "", ErrNoMintReachable
}

func (g *Gateway) fetchActiveKeyset(ctx context.Context, mintURL string) (crypto.Keyset, error) {
	keysRes, err := g.client.GetActiveKeysets(ctx, mintURL)
	if err != nil {
		return crypto.Keyset{}, err
	}

	for _, keyset := range keysRes.Keysets {
		if keyset.Unit != cashu.Sat.String() {
			continue
		}
		keys, err := crypto.ParseKeys(keyset.Keys)
		if err != nil {
			return crypto.Keyset{}, fmt.Errorf("mint %s returned invalid keys: %v", mintURL, err)
		}
		if len(keys) == 0 {
			continue
		}
		return crypto.Keyset{
			Id:      keyset.Id,
			MintURL: mintURL,
			Unit:    keyset.Unit,
			Active:  true,
			Keys:    keys,
		}, nil
	}

	return crypto.Keyset{}, fmt.Errorf("mint %s has no active sat keyset", mintURL)
}

func (g *Gateway) Connected() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.mintURL != ""
}

func (g *Gateway) MintURL() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.mintURL
}

func (g *Gateway) activeKeyset() (string, crypto.Keyset, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.mintURL == "" {
		return "", crypto.Keyset{}, ErrNotConnected
	}
	return g.mintURL, g.keyset, nil
}

// CreateQuote requests a Lightning invoice from the mint for the
// given amount.
func (g *Gateway) CreateQuote(ctx context.Context, amount uint64) (*cashu.PostMintQuoteBolt11Response, error) {
	mintURL, _, err := g.activeKeyset()
	if err != nil {
		return nil, err
	}

	quoteRequest := cashu.PostMintQuoteBolt11Request{Amount: amount, Unit: cashu.Sat.String()}
	return g.client.PostMintQuoteBolt11(ctx, mintURL, quoteRequest)
}

// QuoteState fetches the current payment state of a mint quote.
func (g *Gateway) QuoteState(ctx context.Context, quoteId string) (*cashu.PostMintQuoteBolt11Response, error) {
	mintURL, _, err := g.activeKeyset()
	if err != nil {
		return nil, err
	}
	return g.client.GetMintQuoteState(ctx, mintURL, quoteId)
}

// MintFromQuote mints new proofs for a paid quote. If the standard
// minting call fails, the unversioned legacy path is tried once
// before surfacing the failure.
func (g *Gateway) MintFromQuote(ctx context.Context, quoteId string, amount uint64) (cashu.Proofs, error) {
	mintURL, keyset, err := g.activeKeyset()
	if err != nil {
		return nil, err
	}

	blindedMessages, secrets, rs, err := g.capability.CreateBlindedMessages(amount, keyset.Id)
	if err != nil {
		return nil, err
	}

	mintRequest := cashu.PostMintBolt11Request{Quote: quoteId, Outputs: blindedMessages}
	mintRes, err := g.client.PostMintBolt11(ctx, mintURL, mintRequest)
	if err != nil {
		var mintErr cashu.Error
		if errors.As(err, &mintErr) {
			// the mint understood and rejected the request
			return nil, err
		}
		g.logger.Warn().Err(err).Msg("standard minting call failed, trying legacy endpoint")
		mintRes, err = g.client.PostMintBolt11Legacy(ctx, mintURL, mintRequest)
		if err != nil {
			return nil, err
		}
	}

	if len(mintRes.Signatures) == 0 {
		return nil, errors.New("mint returned no signatures for paid quote")
	}

	return g.capability.ConstructProofs(mintRes.Signatures, secrets, rs, &keyset)
}

// Split swaps the given proofs for a set worth exactly sendAmount
// plus change for the remainder. The input proofs are consumed by
// the mint; on success only the returned proofs exist.
func (g *Gateway) Split(ctx context.Context, proofs cashu.Proofs, sendAmount uint64) (
	send cashu.Proofs, change cashu.Proofs, err error) {

	mintURL, keyset, err := g.activeKeyset()
	if err != nil {
		return nil, nil, err
	}

	total := proofs.Amount()
	if total < sendAmount {
		return nil, nil, fmt.Errorf("insufficient proofs: need %d, have %d", sendAmount, total)
	}

	sendMsgs, sendSecrets, sendRs, err := g.capability.CreateBlindedMessages(sendAmount, keyset.Id)
	if err != nil {
		return nil, nil, err
	}
	changeMsgs, changeSecrets, changeRs, err := g.capability.CreateBlindedMessages(total-sendAmount, keyset.Id)
	if err != nil {
		return nil, nil, err
	}

	outputs := append(append(cashu.BlindedMessages{}, sendMsgs...), changeMsgs...)
	secrets := append(append([]string{}, sendSecrets...), changeSecrets...)
	rs := append(sendRs, changeRs...)

	swapRequest := cashu.PostSwapRequest{Inputs: proofs, Outputs: outputs}
	swapRes, err := g.client.PostSwap(ctx, mintURL, swapRequest)
	if err != nil {
		return nil, nil, err
	}

	// signatures come back in output order
	allProofs, err := g.capability.ConstructProofs(swapRes.Signatures, secrets, rs, &keyset)
	if err != nil {
		return nil, nil, err
	}
	if len(allProofs) != len(outputs) {
		return nil, nil, errors.New("mint signed fewer outputs than requested")
	}

	return allProofs[:len(sendMsgs)], allProofs[len(sendMsgs):], nil
}

// Receive redeems a token by swapping its proofs for fresh proofs
// only this wallet knows the secrets of. The token must come from
// the connected mint: proofs of a foreign keyset would sit in the
// store as balance that no later swap or melt could ever spend.
func (g *Gateway) Receive(ctx context.Context, token cashu.Token) (cashu.Proofs, error) {
	mintURL, keyset, err := g.activeKeyset()
	if err != nil {
		return nil, err
	}
	if strings.TrimSuffix(token.Mint(), "/") != mintURL {
		return nil, ErrForeignMint
	}

	tokenProofs := token.Proofs()
	if cashu.CheckDuplicateProofs(tokenProofs) {
		return nil, errors.New("token contains duplicate proofs")
	}

	outputs, secrets, rs, err := g.capability.CreateBlindedMessages(tokenProofs.Amount(), keyset.Id)
	if err != nil {
		return nil, err
	}

	swapRequest := cashu.PostSwapRequest{Inputs: tokenProofs, Outputs: outputs}
	swapRes, err := g.client.PostSwap(ctx, mintURL, swapRequest)
	if err != nil {
		return nil, err
	}

	return g.capability.ConstructProofs(swapRes.Signatures, secrets, rs, &keyset)
}

// MeltQuote asks the mint what paying the invoice will cost.
func (g *Gateway) MeltQuote(ctx context.Context, invoice string) (*cashu.PostMeltQuoteBolt11Response, error) {
	mintURL, _, err := g.activeKeyset()
	if err != nil {
		return nil, err
	}

	quoteRequest := cashu.PostMeltQuoteBolt11Request{Request: invoice, Unit: cashu.Sat.String()}
	return g.client.PostMeltQuoteBolt11(ctx, mintURL, quoteRequest)
}

type MeltResult struct {
	Paid     bool
	Preimage string
	Change   cashu.Proofs
	FeePaid  uint64
}

// Melt spends proofs to settle the quoted Lightning payment. Melt
// is never retried: a second attempt after an ambiguous failure
// risks reporting a double spend. Callers surface the error as-is.
func (g *Gateway) Melt(ctx context.Context, quote *cashu.PostMeltQuoteBolt11Response,
	proofs cashu.Proofs) (*MeltResult, error) {

	mintURL, keyset, err := g.activeKeyset()
	if err != nil {
		return nil, err
	}

	// blank outputs the mint signs fee-reserve change against
	changeMsgs, changeSecrets, changeRs, err := g.capability.CreateBlindedMessages(quote.FeeReserve, keyset.Id)
	if err != nil {
		return nil, err
	}

	meltRequest := cashu.PostMeltBolt11Request{Quote: quote.Quote, Inputs: proofs, Outputs: changeMsgs}
	meltRes, err := g.client.PostMeltBolt11(ctx, mintURL, meltRequest)
	if err != nil {
		return nil, err
	}

	result := &MeltResult{Paid: meltRes.Paid, Preimage: meltRes.Preimage}
	if meltRes.Paid {
		if len(meltRes.Change) > 0 && len(meltRes.Change) <= len(changeMsgs) {
			change, err := g.capability.ConstructProofs(meltRes.Change, changeSecrets, changeRs, &keyset)
			if err != nil {
				g.logger.Error().Err(err).Msg("could not unblind melt change, change lost")
			} else {
				result.Change = change
			}
		}
		changeAmount := result.Change.Amount()
		result.FeePaid = proofs.Amount() - quote.Amount - changeAmount
	}

	return result, nil
}
