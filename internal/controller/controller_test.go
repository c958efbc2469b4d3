package controller

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/ledgeroracle/xrpl-oracle/internal/follower"
	"github.com/ledgeroracle/xrpl-oracle/internal/store/memstore"
	"github.com/ledgeroracle/xrpl-oracle/internal/tracker"
	"github.com/ledgeroracle/xrpl-oracle/internal/txparser"

	"github.com/shopspring/decimal"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestController(t *testing.T) (*Controller, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	logger := testLogger()
	parser := txparser.New(txparser.Config{MinTradeVolume: decimal.NewFromInt(1)}, logger)
	trk := tracker.New(tracker.Config{HotThreshold: 5}, st, logger, nil)
	ctrl := New(DefaultConfig(), Dependencies{Store: st, Parser: parser, Tracker: trk}, logger)
	return ctrl, st
}

func TestHandleFrame_TrustSetPersistsLimitAndTimestamp(t *testing.T) {
	ctrl, st := newTestController(t)
	raw := []byte(`{
		"type": "transaction", "validated": true, "hash": "CTL-TL1",
		"transaction": {
			"TransactionType": "TrustSet", "Account": "rWallet",
			"LimitAmount": {"currency": "TST", "issuer": "rIssuer", "value": "777"}
		}
	}`)

	ctrl.HandleFrame(context.Background(), raw)

	lines, err := st.GetWalletTrustLines(context.Background(), "rWallet", nil)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	require.True(t, lines[0].Limit.Equal(decimal.NewFromInt(777)))
	require.False(t, lines[0].Timestamp.IsZero())
	require.Equal(t, int64(1), ctrl.Status().TrustLinesToday)
}

func TestHandleFrame_PaymentPersistsPriceNative(t *testing.T) {
	ctrl, st := newTestController(t)
	raw := []byte(`{
		"type": "transaction", "validated": true, "hash": "CTL-PAY1",
		"transaction": {
			"TransactionType": "Payment", "Account": "rSeller", "Destination": "rBuyer",
			"Amount": {"currency": "TST", "issuer": "rIssuer", "value": "100"},
			"SendMax": "50000000"
		},
		"meta": {
			"TransactionResult": "tesSUCCESS",
			"DeliveredAmount": {"currency": "TST", "issuer": "rIssuer", "value": "100"}
		}
	}`)

	ctrl.HandleFrame(context.Background(), raw)

	trades, err := st.GetWalletTrades(context.Background(), "rBuyer", nil)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.True(t, trades[0].PriceNative.Equal(decimal.NewFromFloat(0.5)))
	require.Equal(t, int64(1), ctrl.Status().TransactionsToday)
}

func TestHandleFrame_DuplicateTrustSetIsTolerated(t *testing.T) {
	ctrl, st := newTestController(t)
	raw := []byte(`{
		"type": "transaction", "validated": true, "hash": "CTL-DUP1",
		"transaction": {
			"TransactionType": "TrustSet", "Account": "rWallet",
			"LimitAmount": {"currency": "TST", "issuer": "rIssuer", "value": "100"}
		}
	}`)
	ctrl.HandleFrame(context.Background(), raw)
	ctrl.HandleFrame(context.Background(), raw)

	lines, err := st.GetWalletTrustLines(context.Background(), "rWallet", nil)
	require.NoError(t, err)
	require.Len(t, lines, 1, "duplicate tx_hash must not produce a second row")
	require.Equal(t, int64(2), ctrl.Status().TrustLinesToday, "the counter increments per observed frame, even on a store-level duplicate")
}

func TestRecordTrustLineSubmission_AddsToDailyCounter(t *testing.T) {
	ctrl, _ := newTestController(t)
	require.Equal(t, int64(0), ctrl.Status().TrustLinesToday)
	ctrl.RecordTrustLineSubmission()
	ctrl.RecordTrustLineSubmission()
	require.Equal(t, int64(2), ctrl.Status().TrustLinesToday)
}

func TestHandleFollowerFrame_IgnoresNonTrustSetFrames(t *testing.T) {
	ctrl, _ := newTestController(t)
	ctrl.follow = follower.New(follower.Config{TargetWallet: "rTarget"}, nil, testLogger(), nil, nil)

	raw := []byte(`{"type": "transaction", "validated": true, "hash": "CTL-PAY-IGNORE", "transaction": {"TransactionType": "Payment", "Account": "rA", "Destination": "rB", "Amount": "1000000"}}`)
	// Must not panic even though the Follower has a nil Ledger: a
	// non-TrustSet frame never reaches submission.
	ctrl.HandleFollowerFrame(context.Background(), raw)
}
