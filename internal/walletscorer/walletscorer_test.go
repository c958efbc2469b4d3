package walletscorer

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

func tok(n int) model.TokenID {
	name := []string{"T1", "T2", "T3", "T4", "T5"}[n]
	return model.TokenID{Currency: name, Issuer: "rIssuer" + name}
}

// TestScoreWallet_ExactArithmetic reproduces the documented scenario: a
// wallet early (position 1) on 4 of 5 tokens, successful (ROI>=200%) on
// 3 of 5, with perfectly even trustline spacing (consistency=1.0).
// early_rate=0.8, trade_success_rate=0.6, consistency=1.0 ->
// score = 0.8*4 + 0.6*4 + 1.0*2 = 7.6.
func TestScoreWallet_ExactArithmetic(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// Alice opens a trustline to each of 5 tokens, 48h apart -> zero
	// variance in the gaps, so consistency is exactly 1.0.
	for i := 0; i < 5; i++ {
		ts := base.Add(time.Duration(i) * 48 * time.Hour)
		require.NoError(t, st.AppendTrustLine(ctx, model.TrustLineEvent{
			TokenID: tok(i), Wallet: "rAlice", TxHash: "TL-ALICE-" + tok(i).Currency, Timestamp: ts,
		}))
	}

	// T5 gets 10 earlier trustlines from other wallets, pushing Alice's
	// position there to 11th (not early); every other token has only
	// Alice, so her position is 1st (early) on those four.
	t5 := tok(4)
	t5Time := base.Add(4 * 48 * time.Hour)
	for i := 0; i < 10; i++ {
		require.NoError(t, st.AppendTrustLine(ctx, model.TrustLineEvent{
			TokenID: t5, Wallet: "rCompetitor", TxHash: "TL-COMP-" + string(rune('A'+i)), Timestamp: t5Time.Add(-time.Duration(i+1) * time.Hour),
		}))
	}

	// Trades: T1, T2, T3 clear 200% ROI; T4 does not; T5 has none.
	setMaxPrice := func(id model.TokenID, price string) {
		p, err := decimal.NewFromString(price)
		require.NoError(t, err)
		_, err = st.UpdateMaxPriceIfHigher(ctx, id, p, base)
		require.NoError(t, err)
	}
	buy := func(id model.TokenID, hash, price string) {
		p, err := decimal.NewFromString(price)
		require.NoError(t, err)
		require.NoError(t, st.AppendTrade(ctx, model.TradeEvent{
			TokenID: id, Buyer: "rAlice", Seller: "rSeller", DeliveredAmount: decimal.NewFromInt(1),
			PriceNative: p, TxHash: hash, Timestamp: base,
		}))
	}

	buy(tok(0), "TR1", "1")
	setMaxPrice(tok(0), "5") // roi = (5-1)/1 = 4.0 -> success

	buy(tok(1), "TR2", "2")
	setMaxPrice(tok(1), "10") // roi = (10-2)/2 = 4.0 -> success

	buy(tok(2), "TR3", "1")
	setMaxPrice(tok(2), "3") // roi = (3-1)/1 = 2.0 -> success (>=)

	buy(tok(3), "TR4", "10")
	setMaxPrice(tok(3), "11") // roi = 0.1 -> fail

	scorer := New(DefaultConfig("/tmp/alpha-scorer-test.csv"), st, testLogger())
	score, err := scorer.scoreWallet(ctx, "rAlice")
	require.NoError(t, err)
	require.True(t, score.Equal(decimal.NewFromFloat(7.6)), "got %s", score.String())
}

func TestScoreWallet_BelowMinTradesScoresZero(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	require.NoError(t, st.AppendTrustLine(ctx, model.TrustLineEvent{
		TokenID: tok(0), Wallet: "rBob", TxHash: "TL1", Timestamp: time.Now().UTC(),
	}))
	scorer := New(DefaultConfig("/tmp/alpha-scorer-test2.csv"), st, testLogger())
	score, err := scorer.scoreWallet(ctx, "rBob")
	require.NoError(t, err)
	require.True(t, score.IsZero())
}

func TestCalculateConsistency_ZeroVarianceIsOne(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	trustlines := []model.TrustLineEvent{
		{Timestamp: base},
		{Timestamp: base.Add(24 * time.Hour)},
		{Timestamp: base.Add(48 * time.Hour)},
	}
	require.Equal(t, 1.0, calculateConsistency(trustlines))
}

func TestCalculateConsistency_SingleEventIsZero(t *testing.T) {
	require.Equal(t, 0.0, calculateConsistency([]model.TrustLineEvent{{Timestamp: time.Now()}}))
}

func TestCountEarlyAdoptions_RespectsEarlyAdopterMax(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	base := time.Now().UTC()

	id := tok(0)
	for i := 0; i < 11; i++ {
		require.NoError(t, st.AppendTrustLine(ctx, model.TrustLineEvent{
			TokenID: id, Wallet: "rWallet" + string(rune('A'+i)), TxHash: "TL" + string(rune('A'+i)), Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	scorer := New(DefaultConfig("/tmp/alpha-scorer-test3.csv"), st, testLogger())
	trustlines, err := st.GetWalletTrustLines(ctx, "rWalletK", nil)
	require.NoError(t, err)
	count, err := scorer.countEarlyAdoptions(ctx, "rWalletK", trustlines)
	require.NoError(t, err)
	require.Equal(t, 0, count, "the 11th truster is past EarlyAdopterMax and should not count")
}
