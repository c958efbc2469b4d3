package tracker

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/ledgeroracle/xrpl-oracle/internal/model"
	"github.com/ledgeroracle/xrpl-oracle/internal/store/memstore"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func decimalFromString(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func TestOnTrustLine_DiscoveryStampsFirstSeenTxHash(t *testing.T) {
	st := memstore.New()
	trk := New(Config{HotThreshold: 5, SnapshotInterval: time.Hour}, st, testLogger(), nil)

	id := model.TokenID{Currency: "TST", Issuer: "rIssuer"}
	ev := model.TrustLineEvent{TokenID: id, Wallet: "rWallet", TxHash: "DISCOVERY1", Timestamp: time.Now().UTC()}

	trk.OnTrustLine(context.Background(), ev)

	state, err := st.GetTokenState(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, "DISCOVERY1", state.FirstSeenTxHash)
	require.Equal(t, int64(1), state.TrustLines)
	require.Equal(t, model.StatusPending, state.Status)
}

func TestOnTrustLine_HotThresholdLatchesOnce(t *testing.T) {
	st := memstore.New()
	var hotCalls int
	trk := New(Config{HotThreshold: 3, SnapshotInterval: time.Hour}, st, testLogger(), func(model.TokenID) {
		hotCalls++
	})

	id := model.TokenID{Currency: "TST", Issuer: "rIssuer"}
	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		ev := model.TrustLineEvent{TokenID: id, Wallet: "rWallet", TxHash: "TL" + string(rune('A'+i)), Timestamp: now.Add(time.Duration(i) * time.Minute)}
		trk.OnTrustLine(context.Background(), ev)
	}

	require.True(t, trk.IsHot(id))
	require.Equal(t, 1, hotCalls, "onHot must fire exactly once (Invariant 2: latching)")
}

func TestOnTrustLine_RemovalForUnknownTokenIsNoop(t *testing.T) {
	st := memstore.New()
	trk := New(Config{HotThreshold: 5, SnapshotInterval: time.Hour}, st, testLogger(), nil)

	id := model.TokenID{Currency: "TST", Issuer: "rIssuer"}
	ev := model.TrustLineEvent{TokenID: id, Wallet: "rWallet", TxHash: "RM1", IsRemoval: true, Timestamp: time.Now().UTC()}
	trk.OnTrustLine(context.Background(), ev)

	_, err := st.GetTokenState(context.Background(), id)
	require.Error(t, err, "a removal for a never-seen token must not create a row")
}

func TestOnPayment_AccumulatesVolumeOnKnownToken(t *testing.T) {
	st := memstore.New()
	trk := New(Config{HotThreshold: 5, SnapshotInterval: time.Hour}, st, testLogger(), nil)

	id := model.TokenID{Currency: "TST", Issuer: "rIssuer"}
	now := time.Now().UTC()
	trk.OnTrustLine(context.Background(), model.TrustLineEvent{TokenID: id, Wallet: "rWallet", TxHash: "TL1", Timestamp: now})

	trade := model.TradeEvent{TokenID: id, Buyer: "rBuyer", Seller: "rSeller", DeliveredAmount: decimalFromString(t, "42"), TxHash: "TR1", Timestamp: now.Add(time.Minute)}
	trk.OnPayment(context.Background(), trade)

	state, err := st.GetTokenState(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, int64(1), state.Trades)
	require.True(t, state.TotalVolume.Equal(decimalFromString(t, "42")))
	require.NotNil(t, state.FirstTradeAt)
}
