package nutzap

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// WalletDescriptorTag is the fixed d tag of the wallet descriptor
// event. Deterministic, so a wallet is rediscoverable from its
// owner key alone.
const WalletDescriptorTag = "nutzap-wallet"

var ErrNoDescriptor = errors.New("no wallet descriptor found")

// WalletDescriptor is the public wallet metadata published to the
// network. It carries no secret material; the balance is a hint
// for diagnostics, never authoritative.
type WalletDescriptor struct {
	OwnerKey    string
	MintURL     string
	DisplayName string
	BalanceHint uint64
	EventID     string
	CreatedAt   time.Time
}

// PublishDescriptor broadcasts the wallet descriptor, replacing
// the prior logical value for (owner, d tag) on the network.
func (e *Engine) PublishDescriptor(ctx context.Context, mintURL, displayName string,
	balanceHint uint64) error {

	event := nostr.Event{
		Kind:      KindWalletDescriptor,
		CreatedAt: nostr.Now(),
		Tags: nostr.Tags{
			{"d", WalletDescriptorTag},
			{"mint", mintURL},
			{"name", displayName},
			{"balance", strconv.FormatUint(balanceHint, 10)},
		},
	}

	if err := e.signer.SignEvent(ctx, &event); err != nil {
		return fmt.Errorf("error signing wallet descriptor: %v", err)
	}
	return e.broadcaster.Publish(ctx, event)
}

// DiscoverWallet queries for the owner's wallet descriptor. When
// relays return multiple physical events before convergence, the
// most recent by creation timestamp is authoritative.
func (e *Engine) DiscoverWallet(ctx context.Context, ownerKey string) (*WalletDescriptor, error) {
	filter := nostr.Filter{
		Kinds:   []int{KindWalletDescriptor},
		Authors: []string{ownerKey},
		Tags:    nostr.TagMap{"d": []string{WalletDescriptorTag}},
	}

	events, err := e.broadcaster.Query(ctx, filter)
	if err != nil {
		return nil, err
	}

	var latest *nostr.Event
	for i := range events {
		event := &events[i]
		if ParseEventTags(*event).D != WalletDescriptorTag {
			continue
		}
		if latest == nil || event.CreatedAt > latest.CreatedAt {
			latest = event
		}
	}
	if latest == nil {
		return nil, ErrNoDescriptor
	}

	tags := ParseEventTags(*latest)
	return &WalletDescriptor{
		OwnerKey:    latest.PubKey,
		MintURL:     tags.Mint,
		DisplayName: tags.Name,
		BalanceHint: tags.BalanceSat(),
		EventID:     latest.ID,
		CreatedAt:   latest.CreatedAt.Time(),
	}, nil
}
