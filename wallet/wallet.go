// Package wallet is the session facade of the NutZap ecash
// wallet. A Session wires the proof store, mint gateway, lightning
// bridge and nutzap engine together for one identity and exposes
// the operations the application consumes.
package wallet

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/RUNSTR-LLC/nutzap/cashu"
	"github.com/RUNSTR-LLC/nutzap/nutzap"
	"github.com/RUNSTR-LLC/nutzap/wallet/lightning"
	"github.com/RUNSTR-LLC/nutzap/wallet/mint"
	"github.com/RUNSTR-LLC/nutzap/wallet/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// State of the session lifecycle. Ready and DegradedOffline both
// serve reads and locally-resolvable operations; only Ready serves
// mint and network dependent operations.
type State int

const (
	Uninitialized State = iota
	Initializing
	Ready
	DegradedOffline
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case DegradedOffline:
		return "degraded_offline"
	default:
		return "uninitialized"
	}
}

// initNetworkTimeout bounds the mint handshake during Initialize.
// Initialization never blocks longer than this on the network.
const initNetworkTimeout = 10 * time.Second

// WalletState is derived from the proof store on every read, never
// cached as ground truth.
type WalletState struct {
	Balance     uint64
	MintURL     string
	Proofs      cashu.Proofs
	OwnerPubkey string
}

type ClaimResult struct {
	Claimed   uint64
	TotalSeen uint64
}

type PayResult struct {
	Fee      uint64
	Preimage string
}

// Session is a per-identity wallet instance. Construct one per
// authenticated identity; independent identities run as
// independent sessions.
type Session struct {
	config  Config
	signer  nutzap.Signer
	db      storage.DB
	gateway *mint.Gateway
	bridge  *lightning.Bridge
	engine  *nutzap.Engine
	logger  zerolog.Logger

	// opMu serializes mutating operations end to end: no two
	// read-modify-write cycles of the proof set interleave.
	opMu sync.Mutex
	// proofMu guards proof set access. Never held across a
	// network call: proofs are copied out, the lock released, and
	// re-acquired only to commit the final set.
	proofMu sync.Mutex

	stateMu sync.RWMutex
	state   State

	bgCancel context.CancelFunc
	syncDone chan error
}

func NewSession(config Config, signer nutzap.Signer, logger zerolog.Logger) (*Session, error) {
	db, err := storage.InitBolt(config.WalletPath)
	if err != nil {
		return nil, fmt.Errorf("error opening wallet storage: %v", err)
	}

	broadcaster := nutzap.NewRelayPool(config.Relays, logger)
	gateway := mint.NewGateway(mint.BDHKE{}, logger)

	return &Session{
		config:  config,
		signer:  signer,
		db:      db,
		gateway: gateway,
		bridge:  lightning.NewBridge(gateway, logger),
		engine:  nutzap.NewEngine(signer, broadcaster, logger),
		logger:  logger.With().Str("component", "wallet").Logger(),
		state:   Uninitialized,
	}, nil
}

// Initialize loads local proofs, attempts the mint handshake
// (best effort, time-boxed) and kicks off background discovery
// sync. It always returns a usable wallet state: with the network
// down the session lands in DegradedOffline reflecting exactly the
// locally persisted proofs.
func (s *Session) Initialize(ctx context.Context) (WalletState, error) {
	s.setState(Initializing)

	ownerPubkey, err := s.signer.PublicKey()
	if err != nil {
		s.setState(Uninitialized)
		return WalletState{}, validationError("cannot resolve signing identity: %v", err)
	}

	proofs := s.readProofs()

	// drop deposit quotes that expired while the wallet was closed
	if quotes, err := s.db.GetPendingQuotes(); err == nil {
		for _, quote := range quotes {
			if time.Since(quote.CreatedAt) > lightning.DepositRetention {
				s.dropQuote(quote.QuoteId)
			}
		}
	}

	preferredMint := s.db.GetMintURL()
	if preferredMint == "" {
		preferredMint = s.config.MintURL
	}

	connectCtx, cancel := context.WithTimeout(ctx, initNetworkTimeout)
	connectedMint, err := s.gateway.Connect(connectCtx, preferredMint, s.config.FallbackMints)
	cancel()

	if err != nil {
		s.logger.Warn().Err(err).Msg("mint unreachable, starting in degraded offline mode")
		s.setState(DegradedOffline)
	} else {
		if err := s.db.SaveMintURL(connectedMint); err != nil {
			s.logger.Error().Err(err).Msg("could not persist preferred mint")
		}
		s.setState(Ready)
		s.startBackgroundSync()
	}

	return WalletState{
		Balance:     proofs.Amount(),
		MintURL:     s.gateway.MintURL(),
		Proofs:      proofs,
		OwnerPubkey: ownerPubkey,
	}, nil
}

// startBackgroundSync publishes the wallet descriptor off the
// initialization path. Advisory only; skipping it loses nothing.
func (s *Session) startBackgroundSync() {
	bgCtx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel
	s.syncDone = make(chan error, 1)

	go func() {
		syncCtx, cancel := context.WithTimeout(bgCtx, initNetworkTimeout)
		defer cancel()

		err := s.engine.PublishDescriptor(syncCtx, s.gateway.MintURL(),
			s.config.DisplayName, s.Balance())
		if err != nil {
			s.logger.Debug().Err(err).Msg("wallet descriptor sync failed")
		}
		s.syncDone <- err
	}()
}

// SyncDone reports completion of the background discovery sync.
// Nil until Initialize reaches Ready.
func (s *Session) SyncDone() <-chan error {
	return s.syncDone
}

func (s *Session) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.stateMu.Lock()
	s.state = state
	s.stateMu.Unlock()
}

// requireReady fails fast with an offline error instead of letting
// a network-dependent operation hang.
func (s *Session) requireReady() error {
	switch s.State() {
	case Ready:
		return nil
	case Uninitialized:
		return validationError("wallet not initialized")
	default:
		return offlineError(mint.ErrNoMintReachable)
	}
}

// Balance is the sum of held proof amounts, recomputed from the
// store on every call.
func (s *Session) Balance() uint64 {
	return s.readProofs().Amount()
}

// WalletState recomputes the derived wallet state.
func (s *Session) WalletState() (WalletState, error) {
	ownerPubkey, err := s.signer.PublicKey()
	if err != nil {
		return WalletState{}, validationError("cannot resolve signing identity: %v", err)
	}
	proofs := s.readProofs()
	return WalletState{
		Balance:     proofs.Amount(),
		MintURL:     s.gateway.MintURL(),
		Proofs:      proofs,
		OwnerPubkey: ownerPubkey,
	}, nil
}

// readProofs returns a copy of the proof set. A corrupt store
// reads as an empty wallet; the corruption is logged, never
// repaired with fabricated data.
func (s *Session) readProofs() cashu.Proofs {
	s.proofMu.Lock()
	defer s.proofMu.Unlock()

	proofs, err := s.db.GetProofs()
	if err != nil {
		s.logger.Error().Err(err).Msg("proof store unreadable, treating wallet as empty")
		return cashu.Proofs{}
	}
	return proofs
}

func (s *Session) commitProofs(proofs cashu.Proofs) error {
	s.proofMu.Lock()
	defer s.proofMu.Unlock()
	return s.db.SaveProofs(proofs)
}

// markRedeemed records a token hash in the dedup index. A write
// failure only risks a replay attempt that the mint rejects anyway,
// so it is logged rather than propagated.
func (s *Session) markRedeemed(tokenHash string) {
	if err := s.db.MarkTokenRedeemed(tokenHash); err != nil {
		s.logger.Error().Err(err).Str("token", tokenHash).
			Msg("could not record redeemed token")
	}
}

// dropQuote removes a pending deposit quote, logging any store error.
func (s *Session) dropQuote(quoteId string) {
	if err := s.db.DeletePendingQuote(quoteId); err != nil {
		s.logger.Error().Err(err).Str("quote", quoteId).
			Msg("could not delete pending quote")
	}
}

func (s *Session) appendTransaction(kind storage.TransactionKind, amount uint64,
	counterparty, memo string, fee uint64) {

	transaction := storage.Transaction{
		Id:           uuid.NewString(),
		Kind:         kind,
		Amount:       amount,
		Timestamp:    time.Now().UTC(),
		Counterparty: counterparty,
		Memo:         memo,
		Fee:          fee,
	}
	if err := s.db.SaveTransaction(transaction); err != nil {
		s.logger.Error().Err(err).Str("kind", string(kind)).Msg("could not record transaction")
	}
}

// selectProofsForAmount greedily picks proofs covering amount.
// Returns the selection and the untouched remainder.
func selectProofsForAmount(proofs cashu.Proofs, amount uint64) (selected, rest cashu.Proofs) {
	var selectedAmount uint64
	for _, proof := range proofs {
		if selectedAmount < amount {
			selected = append(selected, proof)
			selectedAmount += proof.Amount
		} else {
			rest = append(rest, proof)
		}
	}
	return selected, rest
}

func validPublicKey(key string) bool {
	if len(key) != 64 {
		return false
	}
	_, err := hex.DecodeString(key)
	return err == nil
}

// SendNutzap splits off exactly amount worth of proofs, publishes
// them as a token addressed to recipientKey, and persists the
// change as the new proof set. After the mint-side split the spent
// proofs are gone from this wallet by design, like handed-over
// cash: a publish failure is reported but never retried, since a
// second publish could be claimed independently of the first.
func (s *Session) SendNutzap(ctx context.Context, recipientKey string, amount uint64, memo string) error {
	if amount == 0 {
		return validationError("amount must be greater than zero")
	}
	if !validPublicKey(recipientKey) {
		return validationError("invalid recipient key")
	}
	if err := s.requireReady(); err != nil {
		return err
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	proofs := s.readProofs()
	if proofs.Amount() < amount {
		return insufficientFundsError(amount, proofs.Amount())
	}

	selected, rest := selectProofsForAmount(proofs, amount)
	sendProofs, changeProofs, err := s.gateway.Split(ctx, selected, amount)
	if err != nil {
		return unknownError("could not prepare token", err)
	}

	token, err := cashu.NewTokenV4(sendProofs, s.gateway.MintURL(), cashu.Sat, memo)
	if err != nil {
		return unknownError("could not encode token", err)
	}
	encodedToken, err := token.Serialize()
	if err != nil {
		return unknownError("could not encode token", err)
	}

	// the selected proofs no longer exist at the mint; the change
	// is the correct new balance whatever happens next
	if err := s.commitProofs(append(rest, changeProofs...)); err != nil {
		return unknownError("could not persist proofs", err)
	}
	s.appendTransaction(storage.TxNutzapSent, amount, recipientKey, memo, 0)

	if _, err := s.engine.PublishNutzap(ctx, recipientKey, encodedToken, amount,
		s.gateway.MintURL(), memo); err != nil {
		return unknownError("token created but publish failed", err)
	}
	return nil
}

// Claim queries for nutzaps addressed to this wallet and attempts
// to redeem each unseen token exactly once. The result separates
// what was credited from what was seen, so callers can tell
// "nothing available" from "available but unredeemable".
func (s *Session) Claim(ctx context.Context) (ClaimResult, error) {
	if err := s.requireReady(); err != nil {
		return ClaimResult{}, err
	}

	incoming, err := s.engine.FetchIncoming(ctx)
	if err != nil {
		return ClaimResult{}, offlineError(err)
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	var result ClaimResult
	for _, zap := range incoming {
		tokenHash := cashu.TokenHash(zap.Token)
		redeemed, err := s.db.IsTokenRedeemed(tokenHash)
		if err != nil {
			s.logger.Error().Err(err).Msg("dedup lookup failed")
			continue
		}
		if redeemed {
			continue
		}

		token, err := cashu.DecodeToken(zap.Token)
		if err != nil {
			// malformed token can never redeem, drop it for good
			s.logger.Warn().Str("event", zap.EventID).Err(err).Msg("malformed nutzap token")
			s.markRedeemed(tokenHash)
			continue
		}
		result.TotalSeen += token.Amount()

		newProofs, err := s.gateway.Receive(ctx, token)
		switch {
		case err == nil:
			if err := s.commitProofs(append(s.readProofs(), newProofs...)); err != nil {
				s.logger.Error().Err(err).Msg("could not persist claimed proofs")
				continue
			}
			s.markRedeemed(tokenHash)
			s.appendTransaction(storage.TxNutzapReceived, newProofs.Amount(),
				zap.SenderKey, zap.Memo, 0)
			result.Claimed += newProofs.Amount()

		case cashu.IsTokenAlreadySpent(err):
			// another device or party got there first; goal state
			// already holds, mark processed and move on quietly
			s.markRedeemed(tokenHash)

		case errors.Is(err, mint.ErrForeignMint):
			// counted in TotalSeen but never claimable from this
			// mint; left unmarked in case the wallet switches mints
			s.logger.Warn().Str("event", zap.EventID).Str("mint", token.Mint()).
				Msg("nutzap token from a different mint, cannot claim")

		case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
			// retriable on a later claim cycle
			s.logger.Debug().Str("event", zap.EventID).Msg("redemption timed out, will retry")

		default:
			s.logger.Warn().Str("event", zap.EventID).Err(err).Msg("redemption failed, will retry")
		}
	}

	return result, nil
}

// CreateDeposit requests a Lightning invoice that, once paid,
// mints amount sats into this wallet.
func (s *Session) CreateDeposit(ctx context.Context, amount uint64, memo string) (*lightning.Deposit, error) {
	if amount == 0 {
		return nil, validationError("amount must be greater than zero")
	}
	if err := s.requireReady(); err != nil {
		return nil, err
	}

	deposit, err := s.bridge.CreateDeposit(ctx, amount)
	if err != nil {
		return nil, unknownError("could not create deposit", err)
	}

	quote := storage.PendingQuote{
		QuoteId:   deposit.QuoteId,
		Invoice:   deposit.Invoice,
		Amount:    deposit.Amount,
		Memo:      memo,
		CreatedAt: deposit.CreatedAt,
	}
	if err := s.db.SavePendingQuote(quote); err != nil {
		return nil, unknownError("could not persist deposit quote", err)
	}

	return deposit, nil
}

// CheckDeposit polls the quote once and, if paid, mints the proofs
// and records the deposit. Returns whether the deposit completed.
func (s *Session) CheckDeposit(ctx context.Context, quoteId string) (bool, error) {
	if err := s.requireReady(); err != nil {
		return false, err
	}

	quote, err := s.db.GetPendingQuote(quoteId)
	if err != nil {
		return false, unknownError("could not read deposit quote", err)
	}
	if quote == nil {
		return false, validationError("unknown deposit quote")
	}

	if time.Since(quote.CreatedAt) > lightning.DepositRetention {
		s.dropQuote(quoteId)
		return false, validationError("deposit quote expired unpaid")
	}

	paid, err := s.bridge.CheckDeposit(ctx, quoteId)
	if err != nil {
		return false, offlineError(err)
	}
	if !paid {
		return false, nil
	}

	return true, s.finalizeDeposit(ctx, quote)
}

// AwaitDeposit blocks polling until the deposit is paid and
// minted, the retention window elapses, or ctx is cancelled.
func (s *Session) AwaitDeposit(ctx context.Context, quoteId string) error {
	if err := s.requireReady(); err != nil {
		return err
	}

	quote, err := s.db.GetPendingQuote(quoteId)
	if err != nil {
		return unknownError("could not read deposit quote", err)
	}
	if quote == nil {
		return validationError("unknown deposit quote")
	}

	if err := s.bridge.AwaitPayment(ctx, quoteId, quote.CreatedAt); err != nil {
		if errors.Is(err, lightning.ErrDepositExpired) {
			s.dropQuote(quoteId)
			return validationError("deposit quote expired unpaid")
		}
		return err
	}

	return s.finalizeDeposit(ctx, quote)
}

func (s *Session) finalizeDeposit(ctx context.Context, quote *storage.PendingQuote) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	// re-check under the operation lock: a concurrent poll may
	// have minted this quote already
	current, err := s.db.GetPendingQuote(quote.QuoteId)
	if err != nil {
		return unknownError("could not read deposit quote", err)
	}
	if current == nil {
		return nil
	}

	newProofs, err := s.gateway.MintFromQuote(ctx, quote.QuoteId, quote.Amount)
	if err != nil {
		return unknownError("minting paid deposit failed", err)
	}

	if err := s.commitProofs(append(s.readProofs(), newProofs...)); err != nil {
		return unknownError("could not persist minted proofs", err)
	}
	s.dropQuote(quote.QuoteId)
	s.appendTransaction(storage.TxLightningReceived, newProofs.Amount(), "", quote.Memo, 0)

	s.logger.Info().Uint64("amount", newProofs.Amount()).Msg("deposit minted")
	return nil
}

// PayInvoice melts proofs to pay a bolt11 invoice or a lightning
// address. amountSat is required for addresses and zero-amount
// invoices. The balance is checked locally against amount plus fee
// reserve before the mint is contacted with proofs.
func (s *Session) PayInvoice(ctx context.Context, target string, amountSat uint64) (*PayResult, error) {
	if err := s.requireReady(); err != nil {
		return nil, err
	}

	invoice, invoiceAmount, err := s.bridge.ResolveTarget(ctx, target, amountSat)
	if err != nil {
		if errors.Is(err, lightning.ErrLNURLUnreachable) {
			return nil, offlineError(err)
		}
		return nil, validationError("%v", err)
	}

	// cheap local pre-check before asking the mint for a quote
	if balance := s.Balance(); balance < invoiceAmount {
		return nil, insufficientFundsError(invoiceAmount, balance)
	}

	quote, err := s.bridge.QuotePayment(ctx, invoice)
	if err != nil {
		return nil, offlineError(err)
	}
	needed := quote.Amount + quote.FeeReserve

	s.opMu.Lock()
	defer s.opMu.Unlock()

	proofs := s.readProofs()
	if proofs.Amount() < needed {
		return nil, insufficientFundsError(needed, proofs.Amount())
	}

	selected, rest := selectProofsForAmount(proofs, needed)
	meltInputs, splitChange, err := s.gateway.Split(ctx, selected, needed)
	if err != nil {
		return nil, unknownError("could not prepare payment", err)
	}

	// melt is issued exactly once; an ambiguous failure keeps the
	// inputs locally rather than risking a double spend by retry
	meltResult, err := s.bridge.Pay(ctx, quote, meltInputs)
	if err != nil || !meltResult.Paid {
		if commitErr := s.commitProofs(append(append(rest, splitChange...), meltInputs...)); commitErr != nil {
			s.logger.Error().Err(commitErr).Msg("could not persist proofs after failed melt")
		}
		if err == nil {
			err = errors.New("mint reported payment not completed")
		}
		return nil, unknownError("payment failed", err)
	}

	remaining := append(append(rest, splitChange...), meltResult.Change...)
	if err := s.commitProofs(remaining); err != nil {
		return nil, unknownError("payment sent but persisting proofs failed", err)
	}
	s.appendTransaction(storage.TxLightningSent, quote.Amount, "", target, meltResult.FeePaid)

	return &PayResult{Fee: meltResult.FeePaid, Preimage: meltResult.Preimage}, nil
}

// GeneratePortableToken splits off amount sats as a serialized
// token the caller can hand over out of band. The wallet balance
// drops immediately; the token is bearer value.
func (s *Session) GeneratePortableToken(ctx context.Context, amount uint64, memo string) (string, error) {
	if amount == 0 {
		return "", validationError("amount must be greater than zero")
	}
	if err := s.requireReady(); err != nil {
		return "", err
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	proofs := s.readProofs()
	if proofs.Amount() < amount {
		return "", insufficientFundsError(amount, proofs.Amount())
	}

	selected, rest := selectProofsForAmount(proofs, amount)
	sendProofs, changeProofs, err := s.gateway.Split(ctx, selected, amount)
	if err != nil {
		return "", unknownError("could not prepare token", err)
	}

	token, err := cashu.NewTokenV4(sendProofs, s.gateway.MintURL(), cashu.Sat, memo)
	if err != nil {
		return "", unknownError("could not encode token", err)
	}
	encodedToken, err := token.Serialize()
	if err != nil {
		return "", unknownError("could not encode token", err)
	}

	if err := s.commitProofs(append(rest, changeProofs...)); err != nil {
		return "", unknownError("could not persist proofs", err)
	}
	s.appendTransaction(storage.TxCashuSent, amount, "", memo, 0)

	return encodedToken, nil
}

// ReceivePortableToken redeems a serialized token into this
// wallet. A token already redeemed anywhere returns an
// already-claimed error with zero amount and an unchanged balance.
func (s *Session) ReceivePortableToken(ctx context.Context, encodedToken string) (uint64, error) {
	token, err := cashu.DecodeToken(encodedToken)
	if err != nil {
		return 0, validationError("invalid token: %v", err)
	}
	if err := s.requireReady(); err != nil {
		return 0, err
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	tokenHash := cashu.TokenHash(encodedToken)
	redeemed, err := s.db.IsTokenRedeemed(tokenHash)
	if err != nil {
		return 0, unknownError("dedup lookup failed", err)
	}
	if redeemed {
		return 0, alreadyProcessedError()
	}

	newProofs, err := s.gateway.Receive(ctx, token)
	if err != nil {
		if cashu.IsTokenAlreadySpent(err) {
			s.markRedeemed(tokenHash)
			return 0, alreadyProcessedError()
		}
		if errors.Is(err, mint.ErrForeignMint) {
			return 0, validationError("%v", err)
		}
		return 0, unknownError("could not redeem token", err)
	}

	if err := s.commitProofs(append(s.readProofs(), newProofs...)); err != nil {
		return 0, unknownError("could not persist proofs", err)
	}
	s.markRedeemed(tokenHash)
	s.appendTransaction(storage.TxCashuReceived, newProofs.Amount(), "", "", 0)

	return newProofs.Amount(), nil
}

// History returns the most recent transactions, newest first.
func (s *Session) History(limit int) ([]storage.Transaction, error) {
	transactions, err := s.db.GetTransactions(limit)
	if err != nil {
		return nil, unknownError("could not read history", err)
	}
	return transactions, nil
}

// DiscoverWallet looks up the public wallet descriptor of any
// identity on the broadcast network.
func (s *Session) DiscoverWallet(ctx context.Context, ownerKey string) (*nutzap.WalletDescriptor, error) {
	if !validPublicKey(ownerKey) {
		return nil, validationError("invalid owner key")
	}
	descriptor, err := s.engine.DiscoverWallet(ctx, ownerKey)
	if err != nil {
		if errors.Is(err, nutzap.ErrNoDescriptor) {
			return nil, validationError("no wallet descriptor for key")
		}
		return nil, offlineError(err)
	}
	return descriptor, nil
}

// Reset clears all local wallet state. Used on sign-out.
func (s *Session) Reset() error {
	if s.bgCancel != nil {
		s.bgCancel()
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.db.Reset(); err != nil {
		return unknownError("could not reset wallet", err)
	}
	s.setState(Uninitialized)
	return nil
}

func (s *Session) Close() error {
	if s.bgCancel != nil {
		s.bgCancel()
	}
	return s.db.Close()
}
