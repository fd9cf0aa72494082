package nutzap

import (
	"strconv"

	"github.com/nbd-wtf/go-nostr"
)

// EventTags holds the tag values the wallet reads, extracted once
// per event instead of scanning the tag list at every use site.
type EventTags struct {
	D       string
	P       string
	Amount  string
	Unit    string
	Proof   string
	Mint    string
	Name    string
	Balance string
}

// ParseEventTags extracts the first value of each known tag. A
// repeated tag keeps its first occurrence.
func ParseEventTags(event nostr.Event) EventTags {
	var tags EventTags
	for _, tag := range event.Tags {
		if len(tag) < 2 {
			continue
		}
		set := func(dst *string) {
			if *dst == "" {
				*dst = tag[1]
			}
		}
		switch tag[0] {
		case "d":
			set(&tags.D)
		case "p":
			set(&tags.P)
		case "amount":
			set(&tags.Amount)
		case "unit":
			set(&tags.Unit)
		case "proof":
			set(&tags.Proof)
		case "u", "mint":
			set(&tags.Mint)
		case "name":
			set(&tags.Name)
		case "balance":
			set(&tags.Balance)
		}
	}
	return tags
}

// AmountSat parses the amount tag; 0 if absent or malformed.
func (t EventTags) AmountSat() uint64 {
	amount, err := strconv.ParseUint(t.Amount, 10, 64)
	if err != nil {
		return 0
	}
	return amount
}

// BalanceSat parses the balance hint tag; 0 if absent or malformed.
func (t EventTags) BalanceSat() uint64 {
	balance, err := strconv.ParseUint(t.Balance, 10, 64)
	if err != nil {
		return 0
	}
	return balance
}
