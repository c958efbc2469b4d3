package txparser

import (
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/ledgeroracle/xrpl-oracle/internal/model"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newParser(t *testing.T) *Parser {
	t.Helper()
	return New(Config{MinTradeVolume: decimal.NewFromInt(1)}, testLogger())
}

func TestParse_TrustSet(t *testing.T) {
	p := newParser(t)
	raw := []byte(`{
		"type": "transaction",
		"validated": true,
		"hash": "ABC123",
		"transaction": {
			"TransactionType": "TrustSet",
			"Account": "rWallet",
			"LimitAmount": {"currency": "TST", "issuer": "rIssuer", "value": "1000"}
		},
		"meta": {"TransactionResult": "tesSUCCESS"}
	}`)

	before := time.Now().UTC()
	frame := p.Parse(raw)
	after := time.Now().UTC()

	require.Equal(t, model.KindTrustSet, frame.Kind)
	require.True(t, frame.Validated)
	require.Equal(t, "ABC123", frame.Hash)
	require.NotNil(t, frame.TrustSet)
	require.Equal(t, "TST", frame.TrustSet.Currency)
	require.Equal(t, "rIssuer", frame.TrustSet.Issuer)
	require.Equal(t, "1000", frame.TrustSet.Value)
	require.Equal(t, "rWallet", frame.TrustSet.Wallet)

	// Stamped at the parser boundary, not derived from any wire field.
	require.False(t, frame.Timestamp.Before(before))
	require.False(t, frame.Timestamp.After(after))
}

func TestParse_TrustSetRemoval(t *testing.T) {
	p := newParser(t)
	raw := []byte(`{
		"type": "transaction", "validated": true, "hash": "REMOVE1",
		"transaction": {
			"TransactionType": "TrustSet", "Account": "rWallet",
			"LimitAmount": {"currency": "TST", "issuer": "rIssuer", "value": "0"}
		}
	}`)
	frame := p.Parse(raw)
	require.Equal(t, model.KindTrustSet, frame.Kind)
	require.Equal(t, "0", frame.TrustSet.Value)
}

func TestParse_Payment_DerivesPriceNativeFromSendMax(t *testing.T) {
	p := newParser(t)
	raw := []byte(`{
		"type": "transaction", "validated": true, "hash": "PAY1",
		"transaction": {
			"TransactionType": "Payment",
			"Account": "rSeller",
			"Destination": "rBuyer",
			"Amount": {"currency": "TST", "issuer": "rIssuer", "value": "100"},
			"SendMax": "50000000"
		},
		"meta": {
			"TransactionResult": "tesSUCCESS",
			"DeliveredAmount": {"currency": "TST", "issuer": "rIssuer", "value": "100"}
		}
	}`)

	frame := p.Parse(raw)
	require.Equal(t, model.KindPayment, frame.Kind)
	require.NotNil(t, frame.Payment)
	require.Equal(t, "rBuyer", frame.Payment.Buyer)
	require.Equal(t, "rSeller", frame.Payment.Seller)
	require.True(t, frame.Payment.DeliveredValue.Equal(decimal.NewFromInt(100)))

	// 50,000,000 drops = 50 XRP, delivered 100 tokens -> 0.5 XRP/token.
	require.True(t, frame.Payment.PriceNative.Equal(decimal.NewFromFloat(0.5)),
		"got %s", frame.Payment.PriceNative.String())
}

func TestParse_Payment_NoSendMaxLeavesPriceZero(t *testing.T) {
	p := newParser(t)
	raw := []byte(`{
		"type": "transaction", "validated": true, "hash": "PAY2",
		"transaction": {
			"TransactionType": "Payment", "Account": "rSeller", "Destination": "rBuyer",
			"Amount": {"currency": "TST", "issuer": "rIssuer", "value": "100"}
		},
		"meta": {"TransactionResult": "tesSUCCESS"}
	}`)
	frame := p.Parse(raw)
	require.Equal(t, model.KindPayment, frame.Kind)
	require.True(t, frame.Payment.PriceNative.IsZero())
}

func TestParse_Payment_NativeAmountIsOther(t *testing.T) {
	p := newParser(t)
	raw := []byte(`{
		"type": "transaction", "validated": true, "hash": "PAY3",
		"transaction": {"TransactionType": "Payment", "Account": "rA", "Destination": "rB", "Amount": "1000000"}
	}`)
	frame := p.Parse(raw)
	require.Equal(t, model.KindOther, frame.Kind)
}

func TestParse_Payment_BelowMinVolumeIsOther(t *testing.T) {
	p := New(Config{MinTradeVolume: decimal.NewFromInt(1000)}, testLogger())
	raw := []byte(`{
		"type": "transaction", "validated": true, "hash": "PAY4",
		"transaction": {
			"TransactionType": "Payment", "Account": "rA", "Destination": "rB",
			"Amount": {"currency": "TST", "issuer": "rIssuer", "value": "1"}
		}
	}`)
	frame := p.Parse(raw)
	require.Equal(t, model.KindOther, frame.Kind)
}

func TestParse_UnvalidatedFrame(t *testing.T) {
	p := newParser(t)
	raw := []byte(`{"type": "transaction", "validated": false, "hash": "PENDING1"}`)
	frame := p.Parse(raw)
	require.Equal(t, model.KindUnvalidated, frame.Kind)
}

func TestParse_MalformedJSON(t *testing.T) {
	p := newParser(t)
	frame := p.Parse([]byte(`not json`))
	require.Equal(t, model.KindError, frame.Kind)
}

func TestParse_ResponseEnvelopeIsOther(t *testing.T) {
	p := newParser(t)
	frame := p.Parse([]byte(`{"type": "response"}`))
	require.Equal(t, model.KindOther, frame.Kind)
}

func TestIsSuccessful(t *testing.T) {
	require.True(t, IsSuccessful(model.Frame{Validated: true, ResultCode: "tesSUCCESS"}))
	require.False(t, IsSuccessful(model.Frame{Validated: true, ResultCode: "tecUNFUNDED"}))
	require.False(t, IsSuccessful(model.Frame{Validated: false, ResultCode: "tesSUCCESS"}))
}

func TestParse_TxJSONFallback(t *testing.T) {
	p := newParser(t)
	var raw json.RawMessage = []byte(`{
		"type": "transaction", "validated": true, "hash": "TXJSON1",
		"tx_json": {
			"TransactionType": "TrustSet", "Account": "rWallet",
			"LimitAmount": {"currency": "TST", "issuer": "rIssuer", "value": "500"}
		}
	}`)
	frame := p.Parse(raw)
	require.Equal(t, model.KindTrustSet, frame.Kind)
	require.Equal(t, "500", frame.TrustSet.Value)
}
