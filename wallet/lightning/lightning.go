// Package lightning moves value in and out of the wallet over
// Lightning: deposit invoices minted into proofs, and withdrawals
// melting proofs to pay an invoice or lightning address.
package lightning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/RUNSTR-LLC/nutzap/cashu"
	"github.com/RUNSTR-LLC/nutzap/wallet/mint"
	decodepay "github.com/nbd-wtf/ln-decodepay"
	"github.com/rs/zerolog"
)

const (
	// PollInterval is the cadence of the deposit payment poll loop.
	PollInterval = 2 * time.Second
	// DepositRetention bounds how long an unpaid deposit quote is
	// polled before being abandoned.
	DepositRetention = 10 * time.Minute
)

var (
	ErrDepositExpired = errors.New("deposit not paid within retention window")
	ErrZeroAmount     = errors.New("amount must be greater than zero")

	// ErrLNURLUnreachable marks transport failures during lightning
	// address resolution, as opposed to the address being invalid.
	ErrLNURLUnreachable = errors.New("lnurl endpoint unreachable")
)

// Deposit is a pending Lightning deposit: the caller pays Invoice,
// the wallet mints proofs once the mint observes the payment.
type Deposit struct {
	QuoteId   string
	Invoice   string
	Amount    uint64
	CreatedAt time.Time
}

type Bridge struct {
	gateway *mint.Gateway
	logger  zerolog.Logger
}

func NewBridge(gateway *mint.Gateway, logger zerolog.Logger) *Bridge {
	return &Bridge{
		gateway: gateway,
		logger:  logger.With().Str("component", "lightning").Logger(),
	}
}

// CreateDeposit requests a mint quote and returns the invoice to
// pay. The quote starts in the Requested state.
func (b *Bridge) CreateDeposit(ctx context.Context, amount uint64) (*Deposit, error) {
	if amount == 0 {
		return nil, ErrZeroAmount
	}

	quote, err := b.gateway.CreateQuote(ctx, amount)
	if err != nil {
		return nil, err
	}

	return &Deposit{
		QuoteId:   quote.Quote,
		Invoice:   quote.Request,
		Amount:    amount,
		CreatedAt: time.Now(),
	}, nil
}

// CheckDeposit polls the mint once for the quote's payment state.
func (b *Bridge) CheckDeposit(ctx context.Context, quoteId string) (bool, error) {
	state, err := b.gateway.QuoteState(ctx, quoteId)
	if err != nil {
		return false, err
	}
	return state.PaidOrIssued(), nil
}

// AwaitPayment polls until the quote is paid, the retention window
// since createdAt elapses, or ctx is cancelled. Poll errors are
// logged and retried on the next tick; only a definitive outcome
// ends the loop.
func (b *Bridge) AwaitPayment(ctx context.Context, quoteId string, createdAt time.Time) error {
	deadline := createdAt.Add(DepositRetention)
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		if time.Now().After(deadline) {
			return ErrDepositExpired
		}

		paid, err := b.CheckDeposit(ctx, quoteId)
		if err != nil {
			b.logger.Debug().Str("quote", quoteId).Err(err).Msg("deposit poll failed")
		} else if paid {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// MintDeposit turns a paid quote into proofs. Terminal state of
// the deposit machine: the quote is spent after this succeeds.
func (b *Bridge) MintDeposit(ctx context.Context, quoteId string, amount uint64) (cashu.Proofs, error) {
	return b.gateway.MintFromQuote(ctx, quoteId, amount)
}

// ResolveTarget turns a payment target into a bolt11 invoice and
// its amount in sats. The target is either an invoice, or a
// lightning address resolved through the LNURL-pay well-known
// endpoint. For a zero-amount invoice or an address, amountSat
// must be provided.
func (b *Bridge) ResolveTarget(ctx context.Context, target string, amountSat uint64) (string, uint64, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", 0, errors.New("empty payment target")
	}

	if strings.Contains(target, "@") {
		if amountSat == 0 {
			return "", 0, errors.New("amount required to pay a lightning address")
		}
		invoice, err := resolveLightningAddress(ctx, target, amountSat)
		if err != nil {
			return "", 0, err
		}
		return invoice, amountSat, nil
	}

	invoice := strings.TrimPrefix(strings.ToLower(target), "lightning:")
	decoded, err := decodepay.Decodepay(invoice)
	if err != nil {
		return "", 0, fmt.Errorf("invalid invoice: %v", err)
	}

	invoiceSat := uint64(decoded.MSatoshi / 1000)
	if invoiceSat == 0 {
		if amountSat == 0 {
			return "", 0, errors.New("amount required for zero-amount invoice")
		}
		invoiceSat = amountSat
	}

	return invoice, invoiceSat, nil
}

// QuotePayment asks the mint for the melt cost of the invoice.
// The caller checks amount + fee reserve against its balance
// before committing proofs.
func (b *Bridge) QuotePayment(ctx context.Context, invoice string) (*cashu.PostMeltQuoteBolt11Response, error) {
	return b.gateway.MeltQuote(ctx, invoice)
}

// Pay melts the given proofs to settle the quoted payment. Not
// retriable; see Gateway.Melt.
func (b *Bridge) Pay(ctx context.Context, quote *cashu.PostMeltQuoteBolt11Response,
	proofs cashu.Proofs) (*mint.MeltResult, error) {
	return b.gateway.Melt(ctx, quote, proofs)
}
