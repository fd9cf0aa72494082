package nutzap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/rs/zerolog"
)

// Broadcaster is the event-broadcast network the wallet publishes
// to and queries from.
type Broadcaster interface {
	Publish(ctx context.Context, event nostr.Event) error
	Query(ctx context.Context, filter nostr.Filter) ([]nostr.Event, error)
}

// DefaultRelays are used when the caller does not configure any.
var DefaultRelays = []string{
	"wss://relay.damus.io",
	"wss://nos.lol",
	"wss://relay.primal.net",
}

const relayTimeout = 10 * time.Second

// RelayPool broadcasts to and queries a fixed set of relays.
// Publish succeeds if at least one relay accepts the event; Query
// merges results across relays, deduplicated by event id.
type RelayPool struct {
	urls   []string
	logger zerolog.Logger
}

func NewRelayPool(urls []string, logger zerolog.Logger) *RelayPool {
	if len(urls) == 0 {
		urls = DefaultRelays
	}
	return &RelayPool{
		urls:   urls,
		logger: logger.With().Str("component", "relaypool").Logger(),
	}
}

func (p *RelayPool) Publish(ctx context.Context, event nostr.Event) error {
	var lastErr error
	accepted := 0

	for _, url := range p.urls {
		relayCtx, cancel := context.WithTimeout(ctx, relayTimeout)
		err := p.publishOne(relayCtx, url, event)
		cancel()

		if err != nil {
			p.logger.Debug().Str("relay", url).Err(err).Msg("publish failed")
			lastErr = err
			continue
		}
		accepted++
	}

	if accepted == 0 {
		if lastErr == nil {
			lastErr = errors.New("no relays configured")
		}
		return fmt.Errorf("event rejected by all relays: %w", lastErr)
	}
	return nil
}

func (p *RelayPool) publishOne(ctx context.Context, url string, event nostr.Event) error {
	relay, err := nostr.RelayConnect(ctx, url)
	if err != nil {
		return err
	}
	defer relay.Close()

	return relay.Publish(ctx, event)
}

func (p *RelayPool) Query(ctx context.Context, filter nostr.Filter) ([]nostr.Event, error) {
	seen := make(map[string]bool)
	events := []nostr.Event{}
	var lastErr error
	reachable := 0

	for _, url := range p.urls {
		relayCtx, cancel := context.WithTimeout(ctx, relayTimeout)
		relayEvents, err := p.queryOne(relayCtx, url, filter)
		cancel()

		if err != nil {
			p.logger.Debug().Str("relay", url).Err(err).Msg("query failed")
			lastErr = err
			continue
		}
		reachable++

		for _, event := range relayEvents {
			if event == nil || seen[event.ID] {
				continue
			}
			seen[event.ID] = true
			events = append(events, *event)
		}
	}

	if reachable == 0 {
		if lastErr == nil {
			lastErr = errors.New("no relays configured")
		}
		return nil, fmt.Errorf("no relay reachable: %w", lastErr)
	}
	return events, nil
}

func (p *RelayPool) queryOne(ctx context.Context, url string, filter nostr.Filter) ([]*nostr.Event, error) {
	relay, err := nostr.RelayConnect(ctx, url)
	if err != nil {
		return nil, err
	}
	defer relay.Close()

	return relay.QuerySync(ctx, filter)
}
