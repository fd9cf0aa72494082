package mint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/RUNSTR-LLC/nutzap/cashu"
)

// Client speaks the client side of the mint HTTP API. Every call
// takes a context and is bounded by the client timeout.
type Client struct {
	http *http.Client
}

func NewClient(timeout time.Duration) *Client {
	return &Client{http: &http.Client{Timeout: timeout}}
}

func (c *Client) do(ctx context.Context, method, url string, reqBody, resBody any) error {
	var body io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("json.Marshal: %v", err)
		}
		body = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		var mintErr cashu.Error
		if err := json.Unmarshal(respBytes, &mintErr); err == nil && mintErr.Detail != "" {
			return mintErr
		}
		return fmt.Errorf("mint responded with %s", resp.Status)
	}

	if err := json.Unmarshal(respBytes, resBody); err != nil {
		return fmt.Errorf("error reading response from mint: %v", err)
	}
	return nil
}

func (c *Client) GetActiveKeysets(ctx context.Context, mintURL string) (*cashu.GetKeysResponse, error) {
	var keysetRes cashu.GetKeysResponse
	if err := c.do(ctx, http.MethodGet, mintURL+"/v1/keys", nil, &keysetRes); err != nil {
		return nil, err
	}
	return &keysetRes, nil
}

func (c *Client) PostMintQuoteBolt11(ctx context.Context, mintURL string,
	quoteRequest cashu.PostMintQuoteBolt11Request) (*cashu.PostMintQuoteBolt11Response, error) {
	var quoteRes cashu.PostMintQuoteBolt11Response
	if err := c.do(ctx, http.MethodPost, mintURL+"/v1/mint/quote/bolt11", quoteRequest, &quoteRes); err != nil {
		return nil, err
	}
	return &quoteRes, nil
}

func (c *Client) GetMintQuoteState(ctx context.Context, mintURL, quoteId string) (
	*cashu.PostMintQuoteBolt11Response, error) {
	var quoteRes cashu.PostMintQuoteBolt11Response
	if err := c.do(ctx, http.MethodGet, mintURL+"/v1/mint/quote/bolt11/"+quoteId, nil, &quoteRes); err != nil {
		return nil, err
	}
	return &quoteRes, nil
}

func (c *Client) PostMintBolt11(ctx context.Context, mintURL string,
	mintRequest cashu.PostMintBolt11Request) (*cashu.PostMintBolt11Response, error) {
	var mintRes cashu.PostMintBolt11Response
	if err := c.do(ctx, http.MethodPost, mintURL+"/v1/mint/bolt11", mintRequest, &mintRes); err != nil {
		return nil, err
	}
	return &mintRes, nil
}

// PostMintBolt11Legacy hits the unversioned minting path some
// non-standard mints still expose. Tried once when the /v1 call
// fails.
func (c *Client) PostMintBolt11Legacy(ctx context.Context, mintURL string,
	mintRequest cashu.PostMintBolt11Request) (*cashu.PostMintBolt11Response, error) {
	var mintRes cashu.PostMintBolt11Response
	if err := c.do(ctx, http.MethodPost, mintURL+"/mint/bolt11", mintRequest, &mintRes); err != nil {
		return nil, err
	}
	return &mintRes, nil
}

func (c *Client) PostSwap(ctx context.Context, mintURL string,
	swapRequest cashu.PostSwapRequest) (*cashu.PostSwapResponse, error) {
	var swapRes cashu.PostSwapResponse
	if err := c.do(ctx, http.MethodPost, mintURL+"/v1/swap", swapRequest, &swapRes); err != nil {
		return nil, err
	}
	return &swapRes, nil
}

func (c *Client) PostMeltQuoteBolt11(ctx context.Context, mintURL string,
	quoteRequest cashu.PostMeltQuoteBolt11Request) (*cashu.PostMeltQuoteBolt11Response, error) {
	var quoteRes cashu.PostMeltQuoteBolt11Response
	if err := c.do(ctx, http.MethodPost, mintURL+"/v1/melt/quote/bolt11", quoteRequest, &quoteRes); err != nil {
		return nil, err
	}
	return &quoteRes, nil
}

func (c *Client) PostMeltBolt11(ctx context.Context, mintURL string,
	meltRequest cashu.PostMeltBolt11Request) (*cashu.PostMeltBolt11Response, error) {
	var meltRes cashu.PostMeltBolt11Response
	if err := c.do(ctx, http.MethodPost, mintURL+"/v1/melt/bolt11", meltRequest, &meltRes); err != nil {
		return nil, err
	}
	return &meltRes, nil
}
