package lightning

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// lnurlTestServer serves the LNURL-pay well-known and callback
// endpoints over TLS and points lnurlClient at itself.
func lnurlTestServer(t *testing.T, handler http.Handler) string {
	t.Helper()

	server := httptest.NewTLSServer(handler)
	t.Cleanup(server.Close)

	previous := lnurlClient
	lnurlClient = server.Client()
	t.Cleanup(func() { lnurlClient = previous })

	// the address domain, including the test server port
	return strings.TrimPrefix(server.URL, "https://")
}

func TestResolveLightningAddress(t *testing.T) {
	mux := http.NewServeMux()
	var domain string

	mux.HandleFunc("/.well-known/lnurlp/alice", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(lnurlPayParams{
			Callback:    "https://" + domain + "/lnurlp/callback",
			MinSendable: 1000,
			MaxSendable: 100000000,
			Tag:         "payRequest",
		})
	})
	mux.HandleFunc("/lnurlp/callback", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "21000", r.URL.Query().Get("amount"))
		json.NewEncoder(w).Encode(lnurlPayInvoice{PR: "lnbc210n1fakeinvoice"})
	})

	domain = lnurlTestServer(t, mux)

	invoice, err := resolveLightningAddress(context.Background(), "alice@"+domain, 21)
	require.NoError(t, err)
	require.Equal(t, "lnbc210n1fakeinvoice", invoice)
}

func TestResolveLightningAddressAmountOutOfRange(t *testing.T) {
	mux := http.NewServeMux()
	var domain string

	mux.HandleFunc("/.well-known/lnurlp/bob", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(lnurlPayParams{
			Callback:    "https://" + domain + "/lnurlp/callback",
			MinSendable: 100000,
			MaxSendable: 100000000,
			Tag:         "payRequest",
		})
	})

	domain = lnurlTestServer(t, mux)

	// 21 sat is below the 100 sat minimum
	_, err := resolveLightningAddress(context.Background(), "bob@"+domain, 21)
	require.Error(t, err)
	require.Contains(t, err.Error(), "outside accepted range")
}

func TestResolveLightningAddressNotPayable(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/lnurlp/carol", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(lnurlPayParams{Tag: "withdrawRequest"})
	})

	domain := lnurlTestServer(t, mux)

	_, err := resolveLightningAddress(context.Background(), "carol@"+domain, 21)
	require.Error(t, err)
	require.Contains(t, err.Error(), "does not accept payments")
}

func TestResolveLightningAddressUnknownUser(t *testing.T) {
	domain := lnurlTestServer(t, http.NotFoundHandler())

	_, err := resolveLightningAddress(context.Background(), "nobody@"+domain, 21)
	require.Error(t, err)
}

func TestResolveLightningAddressUnreachable(t *testing.T) {
	// shut the server down before resolving so the lookup hits a
	// dead endpoint instead of a protocol-level rejection
	server := httptest.NewTLSServer(http.NotFoundHandler())
	domain := strings.TrimPrefix(server.URL, "https://")

	previous := lnurlClient
	lnurlClient = server.Client()
	t.Cleanup(func() { lnurlClient = previous })
	server.Close()

	_, err := resolveLightningAddress(context.Background(), "alice@"+domain, 21)
	require.ErrorIs(t, err, ErrLNURLUnreachable)
}
