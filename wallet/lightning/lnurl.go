package lightning

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// lnurlClient is overridable in tests.
var lnurlClient = &http.Client{Timeout: 10 * time.Second}

type lnurlPayParams struct {
	Callback    string `json:"callback"`
	MinSendable int64  `json:"minSendable"`
	MaxSendable int64  `json:"maxSendable"`
	Tag         string `json:"tag"`
}

type lnurlPayInvoice struct {
	PR     string `json:"pr"`
	Status string `json:"status,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// resolveLightningAddress resolves name@domain to a bolt11 invoice
// for amountSat via the LNURL-pay well-known lookup.
func resolveLightningAddress(ctx context.Context, address string, amountSat uint64) (string, error) {
	name, domain, found := strings.Cut(address, "@")
	if !found || name == "" || domain == "" {
		return "", fmt.Errorf("invalid lightning address: %s", address)
	}

	wellKnownURL := fmt.Sprintf("https://%s/.well-known/lnurlp/%s", domain, name)
	var params lnurlPayParams
	if err := lnurlGet(ctx, wellKnownURL, &params); err != nil {
		return "", fmt.Errorf("lightning address lookup failed: %w", err)
	}
	if params.Tag != "payRequest" || params.Callback == "" {
		return "", fmt.Errorf("%s does not accept payments", address)
	}

	amountMsat := int64(amountSat * 1000)
	if amountMsat < params.MinSendable || (params.MaxSendable > 0 && amountMsat > params.MaxSendable) {
		return "", fmt.Errorf("amount %d sat outside accepted range for %s", amountSat, address)
	}

	callbackURL, err := url.Parse(params.Callback)
	if err != nil {
		return "", fmt.Errorf("invalid callback from %s: %v", address, err)
	}
	query := callbackURL.Query()
	query.Set("amount", strconv.FormatInt(amountMsat, 10))
	callbackURL.RawQuery = query.Encode()

	var invoiceRes lnurlPayInvoice
	if err := lnurlGet(ctx, callbackURL.String(), &invoiceRes); err != nil {
		return "", fmt.Errorf("invoice request failed: %w", err)
	}
	if invoiceRes.PR == "" {
		if invoiceRes.Reason != "" {
			return "", fmt.Errorf("invoice request rejected: %s", invoiceRes.Reason)
		}
		return "", fmt.Errorf("no invoice returned for %s", address)
	}

	return invoiceRes.PR, nil
}

func lnurlGet(ctx context.Context, url string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := lnurlClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLNURLUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(result)
}
