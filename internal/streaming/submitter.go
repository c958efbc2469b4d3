package streaming

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Submitter wraps an RPCClient and implements follower.Ledger through
// SubmitTrustSet and SubmitPayment, so Follower can depend on the
// narrow interface while production wiring passes a *Submitter. Grounded in
// original_source/memecoin_monitor.py's set_trust_line/make_small_purchase,
// which build a TrustSet/Payment, submit it, and wait for validation;
// this client uses the combined sign-and-submit "submit" command
// (tx_json + secret) rather than client-side binary signing, matching
// this package's choice to speak the raw websocket protocol directly
// instead of importing an unverified third-party signing API (see
// DESIGN.md).
type Submitter struct {
	*RPCClient
	account string
	secret  string
}

// NewSubmitter wraps an RPCClient with the follower account's address
// and seed, so it can satisfy follower.Ledger.
func NewSubmitter(rpc *RPCClient, account, secret string) *Submitter {
	return &Submitter{RPCClient: rpc, account: account, secret: secret}
}

// SubmitTrustSet builds and submits a TrustSet transaction, returning
// the submit response's preliminary engine_result. It does not wait
// for the transaction to be validated in a ledger, and does not read
// meta.TransactionResult.
func (s *Submitter) SubmitTrustSet(ctx context.Context, currency, issuer, value string) (string, error) {
	txJSON := map[string]interface{}{
		"TransactionType": "TrustSet",
		"Account":         s.account,
		"LimitAmount": map[string]string{
			"currency": currency,
			"issuer":   issuer,
			"value":    value,
		},
	}
	return s.submitAndWait(ctx, txJSON)
}

// SubmitPayment builds and submits a partial-payment Payment
// transaction (tfPartialPayment), floored at deliverMin, paid for with
// up to sendMaxNative drops of the native currency.
func (s *Submitter) SubmitPayment(ctx context.Context, currency, issuer string, deliverMin, amount, sendMaxNative decimal.Decimal) (string, error) {
	txJSON := map[string]interface{}{
		"TransactionType": "Payment",
		"Account":         s.account,
		"Destination":     s.account,
		"Flags":           uint32(0x00020000), // tfPartialPayment
		"Amount": map[string]string{
			"currency": currency,
			"issuer":   issuer,
			"value":    amount.String(),
		},
		"DeliverMin": map[string]string{
			"currency": currency,
			"issuer":   issuer,
			"value":    deliverMin.String(),
		},
		"SendMax": sendMaxNative.Mul(decimal.NewFromInt(1_000_000)).StringFixed(0),
	}
	return s.submitAndWait(ctx, txJSON)
}

func (s *Submitter) submitAndWait(ctx context.Context, txJSON map[string]interface{}) (string, error) {
	params := map[string]interface{}{
		"tx_json":      txJSON,
		"secret":       s.secret,
		"fee_mult_max": 1000,
	}
	raw, err := s.call(ctx, "submit", params)
	if err != nil {
		return "", fmt.Errorf("streaming: submit: %w", err)
	}

	var body struct {
		EngineResult string `json:"engine_result"`
		Accepted     bool   `json:"accepted"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", fmt.Errorf("streaming: decode submit response: %w", err)
	}
	return body.EngineResult, nil
}
