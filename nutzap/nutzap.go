// Package nutzap implements the peer-to-peer ecash transfer
// protocol on top of a public signed-event broadcast network:
// tokens travel as recipient-addressed events, and a deterministic
// per-identity descriptor event makes a wallet discoverable from
// its public key alone.
package nutzap

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/rs/zerolog"
)

const (
	// KindNutzap carries an encoded token addressed to one recipient.
	KindNutzap = 9321
	// KindWalletDescriptor is the replaceable per-identity wallet
	// metadata event, keyed by the fixed d tag.
	KindWalletDescriptor = 37375

	// ClaimLookback bounds how far back incoming nutzaps are queried.
	ClaimLookback = 7 * 24 * time.Hour
)

type Engine struct {
	signer      Signer
	broadcaster Broadcaster
	logger      zerolog.Logger
}

func NewEngine(signer Signer, broadcaster Broadcaster, logger zerolog.Logger) *Engine {
	return &Engine{
		signer:      signer,
		broadcaster: broadcaster,
		logger:      logger.With().Str("component", "nutzap").Logger(),
	}
}

// PublishNutzap signs and broadcasts an event carrying the encoded
// token to the recipient. The token is already split off the
// sender's proof set; a publish failure here means the value sits
// in the event content unspent, and the caller must not retry with
// a fresh publish (two successful publishes of the same token can
// be claimed only once, but partial relay acceptance of two
// different events could double-spend).
func (e *Engine) PublishNutzap(ctx context.Context, recipientKey, encodedToken string,
	amount uint64, mintURL, memo string) (string, error) {

	event := nostr.Event{
		Kind:      KindNutzap,
		CreatedAt: nostr.Now(),
		Content:   memo,
		Tags: nostr.Tags{
			{"p", recipientKey},
			{"amount", strconv.FormatUint(amount, 10)},
			{"unit", "sat"},
			{"proof", encodedToken},
			{"u", mintURL},
		},
	}

	if err := e.signer.SignEvent(ctx, &event); err != nil {
		return "", fmt.Errorf("error signing nutzap event: %v", err)
	}
	if err := e.broadcaster.Publish(ctx, event); err != nil {
		return "", err
	}

	e.logger.Info().Str("recipient", recipientKey).Uint64("amount", amount).
		Str("event", event.ID).Msg("nutzap published")
	return event.ID, nil
}

// IncomingNutzap is a token found on the network addressed to this
// wallet. EventID identifies the carrier event but redemption is
// keyed by the token value.
type IncomingNutzap struct {
	EventID   string
	SenderKey string
	Token     string
	Amount    uint64
	Memo      string
	CreatedAt time.Time
}

// FetchIncoming queries for nutzap events addressed to this
// wallet's key within the lookback window. Events without a proof
// tag are skipped; duplicate tokens across events collapse to one
// entry, since the same token can be rebroadcast under a new
// event id.
func (e *Engine) FetchIncoming(ctx context.Context) ([]IncomingNutzap, error) {
	publicKey, err := e.signer.PublicKey()
	if err != nil {
		return nil, err
	}

	since := nostr.Timestamp(time.Now().Add(-ClaimLookback).Unix())
	filter := nostr.Filter{
		Kinds: []int{KindNutzap},
		Tags:  nostr.TagMap{"p": []string{publicKey}},
		Since: &since,
	}

	events, err := e.broadcaster.Query(ctx, filter)
	if err != nil {
		return nil, err
	}

	seenTokens := make(map[string]bool)
	incoming := make([]IncomingNutzap, 0, len(events))
	for _, event := range events {
		tags := ParseEventTags(event)
		if tags.Proof == "" || tags.P != publicKey {
			continue
		}
		if tags.Unit != "" && tags.Unit != "sat" {
			continue
		}
		if seenTokens[tags.Proof] {
			continue
		}
		seenTokens[tags.Proof] = true

		incoming = append(incoming, IncomingNutzap{
			EventID:   event.ID,
			SenderKey: event.PubKey,
			Token:     tags.Proof,
			Amount:    tags.AmountSat(),
			Memo:      event.Content,
			CreatedAt: event.CreatedAt.Time(),
		})
	}

	return incoming, nil
}
