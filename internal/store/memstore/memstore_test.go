package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ledgeroracle/xrpl-oracle/internal/model"
	"github.com/ledgeroracle/xrpl-oracle/internal/store"
)

func TestAppendTrustLine_DuplicateTxHashRejected(t *testing.T) {
	s := New()
	ev := model.TrustLineEvent{TokenID: model.TokenID{Currency: "TST", Issuer: "rIssuer"}, Wallet: "rWallet", TxHash: "TL1", Timestamp: time.Now().UTC()}
	require.NoError(t, s.AppendTrustLine(context.Background(), ev))
	require.ErrorIs(t, s.AppendTrustLine(context.Background(), ev), store.ErrDuplicate)
}

func TestAppendTrade_DuplicateTxHashRejected(t *testing.T) {
	s := New()
	ev := model.TradeEvent{TokenID: model.TokenID{Currency: "TST", Issuer: "rIssuer"}, Buyer: "rBuyer", Seller: "rSeller", TxHash: "TR1", Timestamp: time.Now().UTC()}
	require.NoError(t, s.AppendTrade(context.Background(), ev))
	require.ErrorIs(t, s.AppendTrade(context.Background(), ev), store.ErrDuplicate)
}

func TestAppendTrade_MissingCounterpartyRejected(t *testing.T) {
	s := New()
	ev := model.TradeEvent{TokenID: model.TokenID{Currency: "TST", Issuer: "rIssuer"}, Buyer: "", Seller: "rSeller", TxHash: "TR2"}
	require.ErrorIs(t, s.AppendTrade(context.Background(), ev), store.ErrNotFound)
}

func TestUpsertTokenState_FirstSeenTxHashRoundTrips(t *testing.T) {
	s := New()
	id := model.TokenID{Currency: "TST", Issuer: "rIssuer"}
	now := time.Now().UTC()
	hash := "DISCOVERY1"
	require.NoError(t, s.UpsertTokenState(context.Background(), id, store.TokenStatePatch{FirstSeen: &now, FirstSeenTxHash: &hash}))

	ts, err := s.GetTokenState(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, "DISCOVERY1", ts.FirstSeenTxHash)
	require.WithinDuration(t, now, ts.FirstSeen, 0)
}

func TestUpsertTokenState_TooOldNeverRepromoted(t *testing.T) {
	s := New()
	id := model.TokenID{Currency: "TST", Issuer: "rIssuer"}
	require.NoError(t, s.MarkToken(context.Background(), id, model.StatusTooOld))

	active := model.StatusActive
	require.NoError(t, s.UpsertTokenState(context.Background(), id, store.TokenStatePatch{Status: &active}))

	ts, err := s.GetTokenState(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, model.StatusTooOld, ts.Status, "Invariant 4: a too_old token is never re-promoted")
}

func TestMarkToken_TooOldNeverRepromoted(t *testing.T) {
	s := New()
	id := model.TokenID{Currency: "TST", Issuer: "rIssuer"}
	require.NoError(t, s.MarkToken(context.Background(), id, model.StatusTooOld))
	require.NoError(t, s.MarkToken(context.Background(), id, model.StatusActive))

	ts, err := s.GetTokenState(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, model.StatusTooOld, ts.Status)
}

func TestGetUnanalyzedTokens_IncludesPendingRegardlessOfCutoff(t *testing.T) {
	s := New()
	id := model.TokenID{Currency: "TST", Issuer: "rIssuer"}
	require.NoError(t, s.UpsertTokenState(context.Background(), id, store.TokenStatePatch{}))

	tokens, err := s.GetUnanalyzedTokens(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, tokens, 1)
}

func TestGetUnanalyzedTokens_ActiveOnlyBeforeCutoff(t *testing.T) {
	s := New()
	id := model.TokenID{Currency: "TST", Issuer: "rIssuer"}
	active := model.StatusActive
	require.NoError(t, s.UpsertTokenState(context.Background(), id, store.TokenStatePatch{Status: &active}))

	future := time.Now().UTC().Add(time.Hour)
	tokens, err := s.GetUnanalyzedTokens(context.Background(), future)
	require.NoError(t, err)
	require.Len(t, tokens, 1)

	past := time.Now().UTC().Add(-time.Hour)
	tokens, err = s.GetUnanalyzedTokens(context.Background(), past)
	require.NoError(t, err)
	require.Len(t, tokens, 0)
}

func TestGetTrustlinePosition_RanksByTimestamp(t *testing.T) {
	s := New()
	id := model.TokenID{Currency: "TST", Issuer: "rIssuer"}
	base := time.Now().UTC()

	for i, wallet := range []string{"rA", "rB", "rC"} {
		ev := model.TrustLineEvent{TokenID: id, Wallet: wallet, TxHash: "TL" + wallet, Timestamp: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, s.AppendTrustLine(context.Background(), ev))
	}

	pos, err := s.GetTrustlinePosition(context.Background(), id, base)
	require.NoError(t, err)
	require.Equal(t, 1, pos)

	pos, err = s.GetTrustlinePosition(context.Background(), id, base.Add(2*time.Minute))
	require.NoError(t, err)
	require.Equal(t, 3, pos)
}

func TestGetActiveWallets_FiltersByLastActive(t *testing.T) {
	s := New()
	now := time.Now().UTC()
	require.NoError(t, s.AppendTrustLine(context.Background(), model.TrustLineEvent{
		TokenID: model.TokenID{Currency: "TST", Issuer: "rIssuer"}, Wallet: "rActive", TxHash: "TL1", Timestamp: now,
	}))

	wallets, err := s.GetActiveWallets(context.Background(), now.Add(-time.Hour))
	require.NoError(t, err)
	require.Contains(t, wallets, "rActive")

	wallets, err = s.GetActiveWallets(context.Background(), now.Add(time.Hour))
	require.NoError(t, err)
	require.NotContains(t, wallets, "rActive")
}

func TestUpdateMaxPriceIfHigher_OnlyUpdatesWhenHigher(t *testing.T) {
	s := New()
	id := model.TokenID{Currency: "TST", Issuer: "rIssuer"}
	now := time.Now().UTC()

	updated, err := s.UpdateMaxPriceIfHigher(context.Background(), id, decimal.NewFromInt(5), now)
	require.NoError(t, err)
	require.True(t, updated)

	updated, err = s.UpdateMaxPriceIfHigher(context.Background(), id, decimal.NewFromInt(3), now)
	require.NoError(t, err)
	require.False(t, updated)

	price, err := s.GetMaxPrice(context.Background(), id)
	require.NoError(t, err)
	require.True(t, price.Equal(decimal.NewFromInt(5)))
}
