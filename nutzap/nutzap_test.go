package nutzap

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakeBroadcaster keeps published events in memory and answers
// queries by filter match.
type fakeBroadcaster struct {
	events     []nostr.Event
	publishErr error
}

func (b *fakeBroadcaster) Publish(_ context.Context, event nostr.Event) error {
	if b.publishErr != nil {
		return b.publishErr
	}
	b.events = append(b.events, event)
	return nil
}

func (b *fakeBroadcaster) Query(_ context.Context, filter nostr.Filter) ([]nostr.Event, error) {
	matches := []nostr.Event{}
	for _, event := range b.events {
		if filter.Matches(&event) {
			matches = append(matches, event)
		}
	}
	return matches, nil
}

func newTestEngine(t *testing.T) (*Engine, *LocalSigner, *fakeBroadcaster) {
	t.Helper()

	signer, err := NewLocalSigner(nostr.GeneratePrivateKey())
	require.NoError(t, err)

	broadcaster := &fakeBroadcaster{}
	return NewEngine(signer, broadcaster, zerolog.Nop()), signer, broadcaster
}

func TestPublishNutzap(t *testing.T) {
	engine, _, broadcaster := newTestEngine(t)

	eventId, err := engine.PublishNutzap(context.Background(),
		"recipientkey", "cashuBtoken", 210, "https://mint.example.com", "gm")
	require.NoError(t, err)
	require.NotEmpty(t, eventId)
	require.Len(t, broadcaster.events, 1)

	event := broadcaster.events[0]
	require.Equal(t, KindNutzap, event.Kind)
	require.Equal(t, "gm", event.Content)

	tags := ParseEventTags(event)
	require.Equal(t, "recipientkey", tags.P)
	require.Equal(t, "210", tags.Amount)
	require.Equal(t, "sat", tags.Unit)
	require.Equal(t, "cashuBtoken", tags.Proof)
	require.Equal(t, "https://mint.example.com", tags.Mint)

	ok, err := event.CheckSignature()
	require.NoError(t, err)
	require.True(t, ok)
}

func TestPublishNutzapBroadcastFailure(t *testing.T) {
	engine, _, broadcaster := newTestEngine(t)
	broadcaster.publishErr = errors.New("all relays down")

	_, err := engine.PublishNutzap(context.Background(),
		"recipientkey", "cashuBtoken", 21, "https://mint.example.com", "")
	require.Error(t, err)
}

func TestFetchIncoming(t *testing.T) {
	engine, signer, broadcaster := newTestEngine(t)
	ctx := context.Background()
	myKey, _ := signer.PublicKey()

	sender, err := NewLocalSigner(nostr.GeneratePrivateKey())
	require.NoError(t, err)
	senderEngine := NewEngine(sender, broadcaster, zerolog.Nop())

	_, err = senderEngine.PublishNutzap(ctx, myKey, "cashuBtoken1", 100, "https://mint.example.com", "one")
	require.NoError(t, err)
	_, err = senderEngine.PublishNutzap(ctx, myKey, "cashuBtoken2", 50, "https://mint.example.com", "two")
	require.NoError(t, err)

	// addressed to someone else, must not show up
	_, err = senderEngine.PublishNutzap(ctx, "otherkey", "cashuBtoken3", 5, "https://mint.example.com", "")
	require.NoError(t, err)

	incoming, err := engine.FetchIncoming(ctx)
	require.NoError(t, err)
	require.Len(t, incoming, 2)

	total := uint64(0)
	for _, nz := range incoming {
		require.Equal(t, sender.publicKey, nz.SenderKey)
		total += nz.Amount
	}
	require.Equal(t, uint64(150), total)
}

func TestFetchIncomingDuplicateToken(t *testing.T) {
	engine, signer, broadcaster := newTestEngine(t)
	ctx := context.Background()
	myKey, _ := signer.PublicKey()

	sender, err := NewLocalSigner(nostr.GeneratePrivateKey())
	require.NoError(t, err)
	senderEngine := NewEngine(sender, broadcaster, zerolog.Nop())

	// the same token rebroadcast under two event ids counts once
	_, err = senderEngine.PublishNutzap(ctx, myKey, "cashuBsametoken", 40, "https://mint.example.com", "")
	require.NoError(t, err)
	_, err = senderEngine.PublishNutzap(ctx, myKey, "cashuBsametoken", 40, "https://mint.example.com", "")
	require.NoError(t, err)

	incoming, err := engine.FetchIncoming(ctx)
	require.NoError(t, err)
	require.Len(t, incoming, 1)
	require.Equal(t, "cashuBsametoken", incoming[0].Token)
}

func TestFetchIncomingSkipsMalformed(t *testing.T) {
	engine, signer, broadcaster := newTestEngine(t)
	ctx := context.Background()
	myKey, _ := signer.PublicKey()

	sender, err := NewLocalSigner(nostr.GeneratePrivateKey())
	require.NoError(t, err)

	// no proof tag
	noProof := nostr.Event{
		Kind:      KindNutzap,
		CreatedAt: nostr.Now(),
		Tags:      nostr.Tags{{"p", myKey}, {"amount", "10"}},
	}
	require.NoError(t, sender.SignEvent(ctx, &noProof))
	require.NoError(t, broadcaster.Publish(ctx, noProof))

	// wrong unit
	wrongUnit := nostr.Event{
		Kind:      KindNutzap,
		CreatedAt: nostr.Now(),
		Tags:      nostr.Tags{{"p", myKey}, {"proof", "cashuBeur"}, {"unit", "eur"}},
	}
	require.NoError(t, sender.SignEvent(ctx, &wrongUnit))
	require.NoError(t, broadcaster.Publish(ctx, wrongUnit))

	incoming, err := engine.FetchIncoming(ctx)
	require.NoError(t, err)
	require.Empty(t, incoming)
}

func TestPublishAndDiscoverWallet(t *testing.T) {
	engine, signer, _ := newTestEngine(t)
	ctx := context.Background()
	myKey, _ := signer.PublicKey()

	err := engine.PublishDescriptor(ctx, "https://mint.example.com", "alice", 500)
	require.NoError(t, err)

	descriptor, err := engine.DiscoverWallet(ctx, myKey)
	require.NoError(t, err)
	require.Equal(t, myKey, descriptor.OwnerKey)
	require.Equal(t, "https://mint.example.com", descriptor.MintURL)
	require.Equal(t, "alice", descriptor.DisplayName)
	require.Equal(t, uint64(500), descriptor.BalanceHint)

	// a newer descriptor supersedes the old one
	time.Sleep(1100 * time.Millisecond)
	err = engine.PublishDescriptor(ctx, "https://other.example.com", "alice", 300)
	require.NoError(t, err)

	descriptor, err = engine.DiscoverWallet(ctx, myKey)
	require.NoError(t, err)
	require.Equal(t, "https://other.example.com", descriptor.MintURL)
	require.Equal(t, uint64(300), descriptor.BalanceHint)
}

func TestDiscoverWalletNotFound(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	_, err := engine.DiscoverWallet(context.Background(), "unknownkey")
	require.ErrorIs(t, err, ErrNoDescriptor)
}
