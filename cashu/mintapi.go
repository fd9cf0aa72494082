package cashu

// Request and response bodies for the client side of the mint
// HTTP API. Only the endpoints the wallet calls are covered.

type KeysetKeys map[uint64]string

type GetKeysResponse struct {
	Keysets []struct {
		Id   string     `json:"id"`
		Unit string     `json:"unit"`
		Keys KeysetKeys `json:"keys"`
	} `json:"keysets"`
}

type PostMintQuoteBolt11Request struct {
	Amount uint64 `json:"amount"`
	Unit   string `json:"unit"`
}

type PostMintQuoteBolt11Response struct {
	Quote   string `json:"quote"`
	Request string `json:"request"`
	Paid    bool   `json:"paid"`
	State   string `json:"state,omitempty"`
	Expiry  int64  `json:"expiry"`
}

// PaidOrIssued covers both response shapes mints are seen
// returning: the older boolean and the newer state string.
func (r PostMintQuoteBolt11Response) PaidOrIssued() bool {
	return r.Paid || r.State == "PAID" || r.State == "ISSUED"
}

type PostMintBolt11Request struct {
	Quote   string          `json:"quote"`
	Outputs BlindedMessages `json:"outputs"`
}

type PostMintBolt11Response struct {
	Signatures BlindedSignatures `json:"signatures"`
}

type PostSwapRequest struct {
	Inputs  Proofs          `json:"inputs"`
	Outputs BlindedMessages `json:"outputs"`
}

type PostSwapResponse struct {
	Signatures BlindedSignatures `json:"signatures"`
}

type PostMeltQuoteBolt11Request struct {
	Request string `json:"request"`
	Unit    string `json:"unit"`
}

type PostMeltQuoteBolt11Response struct {
	Quote      string `json:"quote"`
	Amount     uint64 `json:"amount"`
	FeeReserve uint64 `json:"fee_reserve"`
	Paid       bool   `json:"paid"`
	Expiry     int64  `json:"expiry"`
}

type PostMeltBolt11Request struct {
	Quote  string `json:"quote"`
	Inputs Proofs `json:"inputs"`
	// Outputs are blank blinded messages the mint signs change for
	// when the Lightning fee comes in under the reserve.
	Outputs BlindedMessages `json:"outputs,omitempty"`
}

type PostMeltBolt11Response struct {
	Paid     bool              `json:"paid"`
	Preimage string            `json:"payment_preimage"`
	Change   BlindedSignatures `json:"change,omitempty"`
}
