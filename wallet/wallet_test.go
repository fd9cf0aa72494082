package wallet

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/RUNSTR-LLC/nutzap/cashu"
	"github.com/RUNSTR-LLC/nutzap/nutzap"
	"github.com/RUNSTR-LLC/nutzap/testutils"
	"github.com/RUNSTR-LLC/nutzap/wallet/lightning"
	"github.com/RUNSTR-LLC/nutzap/wallet/mint"
	"github.com/RUNSTR-LLC/nutzap/wallet/storage"
	"github.com/nbd-wtf/go-nostr"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// bolt11 test invoice for 2500u (250000 sat)
const testInvoice = "lnbc2500u1pvjluezpp5qqqsyqcyq5rqwzqfqqqsyqcyq5rqwzqfqqqsyqcyq5rqwzqfqypqdq5xysxxatsyp3k7enxv4jsxqzpuaztrnwngzn3kdzw5hydlzf03qdgm2hdq27cqv3agm2awhz5se903vruatfhq77w3ls4evs3ch9zw97j25emudupq63nyw24cg27h2rspfj9srp"

// memoryBroadcaster is an in-process broadcast network shared by
// the sessions under test.
type memoryBroadcaster struct {
	mu     sync.Mutex
	events []nostr.Event
}

func (b *memoryBroadcaster) Publish(_ context.Context, event nostr.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

func (b *memoryBroadcaster) Query(_ context.Context, filter nostr.Filter) ([]nostr.Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	matches := []nostr.Event{}
	for _, event := range b.events {
		if filter.Matches(&event) {
			matches = append(matches, event)
		}
	}
	return matches, nil
}

func (b *memoryBroadcaster) published() []nostr.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]nostr.Event{}, b.events...)
}

func newTestSession(t *testing.T, fm *testutils.FakeMint, broadcaster nutzap.Broadcaster) *Session {
	t.Helper()

	signer, err := nutzap.NewLocalSigner(nostr.GeneratePrivateKey())
	require.NoError(t, err)

	db, err := storage.InitBolt(t.TempDir())
	require.NoError(t, err)

	gateway := mint.NewGateway(testutils.FakeCapability{}, zerolog.Nop())
	session := &Session{
		config: Config{
			MintURL:     fm.URL(),
			DisplayName: "testwallet",
		},
		signer:  signer,
		db:      db,
		gateway: gateway,
		bridge:  lightning.NewBridge(gateway, zerolog.Nop()),
		engine:  nutzap.NewEngine(signer, broadcaster, zerolog.Nop()),
		logger:  zerolog.Nop(),
		state:   Uninitialized,
	}
	t.Cleanup(func() { session.Close() })

	state, err := session.Initialize(context.Background())
	require.NoError(t, err)
	require.Equal(t, Ready, session.State())
	require.Equal(t, fm.URL(), state.MintURL)

	return session
}

// fund mints amount sats into the session through a paid deposit.
func fund(t *testing.T, session *Session, fm *testutils.FakeMint, amount uint64) {
	t.Helper()
	ctx := context.Background()

	deposit, err := session.CreateDeposit(ctx, amount, "")
	require.NoError(t, err)
	fm.SetPaid(deposit.QuoteId)

	done, err := session.CheckDeposit(ctx, deposit.QuoteId)
	require.NoError(t, err)
	require.True(t, done)
}

func newTestEnv(t *testing.T) (*Session, *testutils.FakeMint, *memoryBroadcaster) {
	t.Helper()

	fm, err := testutils.NewFakeMint()
	require.NoError(t, err)
	t.Cleanup(fm.Close)

	broadcaster := &memoryBroadcaster{}
	return newTestSession(t, fm, broadcaster), fm, broadcaster
}

func TestInitializeOffline(t *testing.T) {
	signer, err := nutzap.NewLocalSigner(nostr.GeneratePrivateKey())
	require.NoError(t, err)
	db, err := storage.InitBolt(t.TempDir())
	require.NoError(t, err)

	// the wallet has proofs from an earlier run
	stored := cashu.Proofs{{Amount: 42, Id: "00ad268c4d1f5826", Secret: "s", C: "c"}}
	require.NoError(t, db.SaveProofs(stored))

	gateway := mint.NewGateway(testutils.FakeCapability{}, zerolog.Nop())
	session := &Session{
		config:  Config{MintURL: "http://127.0.0.1:1", FallbackMints: []string{"http://127.0.0.1:1"}},
		signer:  signer,
		db:      db,
		gateway: gateway,
		bridge:  lightning.NewBridge(gateway, zerolog.Nop()),
		engine:  nutzap.NewEngine(signer, &memoryBroadcaster{}, zerolog.Nop()),
		logger:  zerolog.Nop(),
	}
	defer session.Close()

	state, err := session.Initialize(context.Background())
	require.NoError(t, err)
	require.Equal(t, DegradedOffline, session.State())
	require.Equal(t, uint64(42), state.Balance)

	// network dependent operations fail fast instead of hanging
	err = session.SendNutzap(context.Background(), validTestKey(), 10, "")
	require.Equal(t, KindOffline, KindOf(err))

	// local reads still work
	require.Equal(t, uint64(42), session.Balance())
}

func validTestKey() string {
	key, _ := nostr.GetPublicKey(nostr.GeneratePrivateKey())
	return key
}

func TestDepositLifecycle(t *testing.T) {
	session, fm, _ := newTestEnv(t)
	ctx := context.Background()

	deposit, err := session.CreateDeposit(ctx, 500, "topup")
	require.NoError(t, err)
	require.NotEmpty(t, deposit.Invoice)

	// unpaid yet
	done, err := session.CheckDeposit(ctx, deposit.QuoteId)
	require.NoError(t, err)
	require.False(t, done)
	require.Equal(t, uint64(0), session.Balance())

	fm.SetPaid(deposit.QuoteId)

	done, err = session.CheckDeposit(ctx, deposit.QuoteId)
	require.NoError(t, err)
	require.True(t, done)
	require.Equal(t, uint64(500), session.Balance())

	history, err := session.History(0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, storage.TxLightningReceived, history[0].Kind)
	require.Equal(t, uint64(500), history[0].Amount)
	require.Equal(t, "topup", history[0].Memo)

	// the quote was consumed; a second check is an unknown quote
	_, err = session.CheckDeposit(ctx, deposit.QuoteId)
	require.Equal(t, KindValidation, KindOf(err))
	require.Equal(t, uint64(500), session.Balance())
}

func TestCheckDepositUnknownQuote(t *testing.T) {
	session, _, _ := newTestEnv(t)

	_, err := session.CheckDeposit(context.Background(), "neverissued")
	require.Equal(t, KindValidation, KindOf(err))
}

func TestSendNutzap(t *testing.T) {
	session, fm, broadcaster := newTestEnv(t)
	ctx := context.Background()

	fund(t, session, fm, 500)
	recipient := validTestKey()

	err := session.SendNutzap(ctx, recipient, 200, "gm")
	require.NoError(t, err)
	require.Equal(t, uint64(300), session.Balance())

	history, err := session.History(1)
	require.NoError(t, err)
	require.Equal(t, storage.TxNutzapSent, history[0].Kind)
	require.Equal(t, uint64(200), history[0].Amount)
	require.Equal(t, recipient, history[0].Counterparty)

	var zap *nostr.Event
	for _, event := range broadcaster.published() {
		if event.Kind == nutzap.KindNutzap {
			zap = &event
			break
		}
	}
	require.NotNil(t, zap)
	tags := nutzap.ParseEventTags(*zap)
	require.Equal(t, recipient, tags.P)
	require.Equal(t, "200", tags.Amount)
	require.NotEmpty(t, tags.Proof)
}

func TestSendNutzapValidation(t *testing.T) {
	session, fm, _ := newTestEnv(t)
	ctx := context.Background()

	fund(t, session, fm, 100)
	recipient := validTestKey()

	err := session.SendNutzap(ctx, recipient, 0, "")
	require.Equal(t, KindValidation, KindOf(err))

	err = session.SendNutzap(ctx, "tooshort", 10, "")
	require.Equal(t, KindValidation, KindOf(err))

	err = session.SendNutzap(ctx, recipient, 5000, "")
	require.Equal(t, KindInsufficientFunds, KindOf(err))

	// nothing was spent or recorded
	require.Equal(t, uint64(100), session.Balance())
}

func TestClaim(t *testing.T) {
	fm, err := testutils.NewFakeMint()
	require.NoError(t, err)
	t.Cleanup(fm.Close)
	broadcaster := &memoryBroadcaster{}

	sender := newTestSession(t, fm, broadcaster)
	receiver := newTestSession(t, fm, broadcaster)
	ctx := context.Background()

	fund(t, sender, fm, 500)

	receiverState, err := receiver.WalletState()
	require.NoError(t, err)
	require.NoError(t, sender.SendNutzap(ctx, receiverState.OwnerPubkey, 200, "for you"))

	result, err := receiver.Claim(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(200), result.Claimed)
	require.Equal(t, uint64(200), result.TotalSeen)
	require.Equal(t, uint64(200), receiver.Balance())

	history, err := receiver.History(1)
	require.NoError(t, err)
	require.Equal(t, storage.TxNutzapReceived, history[0].Kind)
	require.Equal(t, "for you", history[0].Memo)

	// claiming again credits nothing
	result, err = receiver.Claim(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(0), result.Claimed)
	require.Equal(t, uint64(200), receiver.Balance())

	// value was moved, not created
	require.Equal(t, uint64(300), sender.Balance())
}

func TestClaimNothingIncoming(t *testing.T) {
	session, _, _ := newTestEnv(t)

	result, err := session.Claim(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(0), result.Claimed)
	require.Equal(t, uint64(0), result.TotalSeen)
}

func TestClaimForeignMintToken(t *testing.T) {
	session, _, broadcaster := newTestEnv(t)
	ctx := context.Background()

	senderSigner, err := nutzap.NewLocalSigner(nostr.GeneratePrivateKey())
	require.NoError(t, err)
	sender := nutzap.NewEngine(senderSigner, broadcaster, zerolog.Nop())

	proofs := cashu.Proofs{{Amount: 8, Id: "00ad268c4d1f5826", Secret: "far", C: "cc"}}
	token, err := cashu.NewTokenV4(proofs, "https://other.example.mint", cashu.Sat, "")
	require.NoError(t, err)
	encoded, err := token.Serialize()
	require.NoError(t, err)

	state, err := session.WalletState()
	require.NoError(t, err)
	_, err = sender.PublishNutzap(ctx, state.OwnerPubkey, encoded, 8,
		"https://other.example.mint", "")
	require.NoError(t, err)

	// seen but not claimable at this wallet's mint, nothing credited
	result, err := session.Claim(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(8), result.TotalSeen)
	require.Equal(t, uint64(0), result.Claimed)
	require.Equal(t, uint64(0), session.Balance())

	// left unmarked so a wallet pointed at that mint could still
	// claim it later
	result, err = session.Claim(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(8), result.TotalSeen)
}

func TestPayInvoice(t *testing.T) {
	session, fm, _ := newTestEnv(t)
	ctx := context.Background()

	fund(t, session, fm, 260000)
	fm.MeltAmount = 250000
	fm.MeltFeeReserve = 16

	result, err := session.PayInvoice(ctx, testInvoice, 0)
	require.NoError(t, err)
	require.Equal(t, "fakepreimage", result.Preimage)
	require.Equal(t, uint64(16), result.Fee)

	// amount + the consumed fee reserve left the wallet
	require.Equal(t, uint64(260000-250016), session.Balance())

	history, err := session.History(1)
	require.NoError(t, err)
	require.Equal(t, storage.TxLightningSent, history[0].Kind)
	require.Equal(t, uint64(250000), history[0].Amount)
	require.Equal(t, uint64(16), history[0].Fee)
}

func TestPayInvoiceInsufficientFunds(t *testing.T) {
	session, fm, _ := newTestEnv(t)

	fund(t, session, fm, 100)
	fm.MeltAmount = 250000
	fm.MeltFeeReserve = 16

	_, err := session.PayInvoice(context.Background(), testInvoice, 0)
	require.Equal(t, KindInsufficientFunds, KindOf(err))
	require.Equal(t, uint64(100), session.Balance())
}

func TestPayInvoiceInvalidTarget(t *testing.T) {
	session, fm, _ := newTestEnv(t)

	fund(t, session, fm, 100)

	_, err := session.PayInvoice(context.Background(), "notaninvoice", 0)
	require.Equal(t, KindValidation, KindOf(err))
}

func TestPayAddressUnreachable(t *testing.T) {
	session, fm, _ := newTestEnv(t)

	fund(t, session, fm, 100)

	// nothing listens on port 1, address resolution fails at the
	// transport rather than the address being malformed
	_, err := session.PayInvoice(context.Background(), "alice@127.0.0.1:1", 50)
	require.Equal(t, KindOffline, KindOf(err))
	require.Equal(t, uint64(100), session.Balance())
}

func TestPortableTokenRoundTrip(t *testing.T) {
	fm, err := testutils.NewFakeMint()
	require.NoError(t, err)
	t.Cleanup(fm.Close)
	broadcaster := &memoryBroadcaster{}

	alice := newTestSession(t, fm, broadcaster)
	bob := newTestSession(t, fm, broadcaster)
	ctx := context.Background()

	fund(t, alice, fm, 500)

	token, err := alice.GeneratePortableToken(ctx, 300, "cold storage")
	require.NoError(t, err)
	require.Equal(t, uint64(200), alice.Balance())

	amount, err := bob.ReceivePortableToken(ctx, token)
	require.NoError(t, err)
	require.Equal(t, uint64(300), amount)
	require.Equal(t, uint64(300), bob.Balance())

	// redeeming the same token again changes nothing
	amount, err = bob.ReceivePortableToken(ctx, token)
	require.Equal(t, KindAlreadyProcessed, KindOf(err))
	require.Equal(t, uint64(0), amount)
	require.Equal(t, uint64(300), bob.Balance())
}

func TestReceivePortableTokenSpentElsewhere(t *testing.T) {
	fm, err := testutils.NewFakeMint()
	require.NoError(t, err)
	t.Cleanup(fm.Close)
	broadcaster := &memoryBroadcaster{}

	alice := newTestSession(t, fm, broadcaster)
	bob := newTestSession(t, fm, broadcaster)
	carol := newTestSession(t, fm, broadcaster)
	ctx := context.Background()

	fund(t, alice, fm, 100)

	token, err := alice.GeneratePortableToken(ctx, 100, "")
	require.NoError(t, err)

	_, err = bob.ReceivePortableToken(ctx, token)
	require.NoError(t, err)

	// carol never saw this token locally, but the mint did
	amount, err := carol.ReceivePortableToken(ctx, token)
	require.Equal(t, KindAlreadyProcessed, KindOf(err))
	require.Equal(t, uint64(0), amount)
	require.Equal(t, uint64(0), carol.Balance())
}

func TestReceivePortableTokenInvalid(t *testing.T) {
	session, _, _ := newTestEnv(t)

	_, err := session.ReceivePortableToken(context.Background(), "notatoken")
	require.Equal(t, KindValidation, KindOf(err))
}

func TestReceivePortableTokenForeignMint(t *testing.T) {
	session, _, _ := newTestEnv(t)

	proofs := cashu.Proofs{{Amount: 4, Id: "00ad268c4d1f5826", Secret: "far", C: "cc"}}
	token, err := cashu.NewTokenV4(proofs, "https://other.example.mint", cashu.Sat, "")
	require.NoError(t, err)
	encoded, err := token.Serialize()
	require.NoError(t, err)

	amount, err := session.ReceivePortableToken(context.Background(), encoded)
	require.Equal(t, KindValidation, KindOf(err))
	require.Equal(t, uint64(0), amount)
	require.Equal(t, uint64(0), session.Balance())
}

// failingDedupDB refuses every redeemed-token write.
type failingDedupDB struct {
	storage.DB
}

func (failingDedupDB) MarkTokenRedeemed(string) error {
	return errors.New("disk full")
}

func TestReceiveCreditsWhenDedupWriteFails(t *testing.T) {
	fm, err := testutils.NewFakeMint()
	require.NoError(t, err)
	t.Cleanup(fm.Close)
	broadcaster := &memoryBroadcaster{}

	alice := newTestSession(t, fm, broadcaster)
	bob := newTestSession(t, fm, broadcaster)
	bob.db = failingDedupDB{bob.db}
	ctx := context.Background()

	fund(t, alice, fm, 100)
	token, err := alice.GeneratePortableToken(ctx, 100, "")
	require.NoError(t, err)

	// a dedup bookkeeping failure must not void the redemption
	amount, err := bob.ReceivePortableToken(ctx, token)
	require.NoError(t, err)
	require.Equal(t, uint64(100), amount)
	require.Equal(t, uint64(100), bob.Balance())

	// replays are still caught, by the mint instead of the local index
	_, err = bob.ReceivePortableToken(ctx, token)
	require.Equal(t, KindAlreadyProcessed, KindOf(err))
	require.Equal(t, uint64(100), bob.Balance())
}

func TestBackgroundSyncPublishesDescriptor(t *testing.T) {
	session, _, broadcaster := newTestEnv(t)

	select {
	case err := <-session.SyncDone():
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("background sync did not finish")
	}

	var descriptor *nostr.Event
	for _, event := range broadcaster.published() {
		if event.Kind == nutzap.KindWalletDescriptor {
			descriptor = &event
			break
		}
	}
	require.NotNil(t, descriptor)
	tags := nutzap.ParseEventTags(*descriptor)
	require.Equal(t, nutzap.WalletDescriptorTag, tags.D)
	require.Equal(t, "testwallet", tags.Name)
}

func TestReset(t *testing.T) {
	session, fm, _ := newTestEnv(t)

	fund(t, session, fm, 100)
	require.Equal(t, uint64(100), session.Balance())

	require.NoError(t, session.Reset())
	require.Equal(t, Uninitialized, session.State())
	require.Equal(t, uint64(0), session.Balance())

	history, err := session.History(0)
	require.NoError(t, err)
	require.Empty(t, history)
}
