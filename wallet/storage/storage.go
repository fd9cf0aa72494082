// Package storage persists the wallet's local state: the proof
// set, transaction history, pending mint quotes and the set of
// already-redeemed tokens.
package storage

import (
	"time"

	"github.com/RUNSTR-LLC/nutzap/cashu"
)

// TransactionKind classifies a value movement in the history.
type TransactionKind string

const (
	TxNutzapSent        TransactionKind = "nutzap_sent"
	TxNutzapReceived    TransactionKind = "nutzap_received"
	TxLightningSent     TransactionKind = "lightning_sent"
	TxLightningReceived TransactionKind = "lightning_received"
	TxCashuSent         TransactionKind = "cashu_sent"
	TxCashuReceived     TransactionKind = "cashu_received"
)

// Transaction is an append-only history record. Records are never
// mutated; the store retains only the most recent MaxTransactions.
type Transaction struct {
	Id           string          `json:"id"`
	Kind         TransactionKind `json:"kind"`
	Amount       uint64          `json:"amount"`
	Timestamp    time.Time       `json:"timestamp"`
	Counterparty string          `json:"counterparty,omitempty"`
	Memo         string          `json:"memo,omitempty"`
	Fee          uint64          `json:"fee,omitempty"`
}

// PendingQuote is a mint quote awaiting Lightning payment.
type PendingQuote struct {
	QuoteId   string    `json:"quote_id"`
	Invoice   string    `json:"invoice"`
	Amount    uint64    `json:"amount"`
	Memo      string    `json:"memo,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type DB interface {
	// GetProofs returns the full proof set. A corrupt store yields
	// an empty set and a non-nil error describing the corruption;
	// callers treat that as a zero-balance wallet.
	GetProofs() (cashu.Proofs, error)
	// SaveProofs replaces the entire proof set.
	SaveProofs(cashu.Proofs) error

	SaveTransaction(Transaction) error
	GetTransactions(limit int) ([]Transaction, error)

	SavePendingQuote(PendingQuote) error
	GetPendingQuote(quoteId string) (*PendingQuote, error)
	DeletePendingQuote(quoteId string) error
	GetPendingQuotes() ([]PendingQuote, error)

	// MarkTokenRedeemed records that the token with the given hash
	// (cashu.TokenHash) was processed, so it is never credited twice.
	MarkTokenRedeemed(tokenHash string) error
	IsTokenRedeemed(tokenHash string) (bool, error)

	SaveMintURL(url string) error
	GetMintURL() string

	// Reset clears all wallet state. Used on sign-out.
	Reset() error
	Close() error
}
