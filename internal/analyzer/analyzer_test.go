package analyzer

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/ledgeroracle/xrpl-oracle/internal/model"
	"github.com/ledgeroracle/xrpl-oracle/internal/store"
	"github.com/ledgeroracle/xrpl-oracle/internal/store/memstore"
	"github.com/ledgeroracle/xrpl-oracle/internal/streaming"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// fakeRPC stands in for streaming.RequestResponse.
type fakeRPC struct {
	txResults  map[string]streaming.TxResult
	txErr      error
	accountTx  []streaming.TxResult
	bookOffers []streaming.Offer
}

func (f *fakeRPC) Tx(ctx context.Context, hash string) (streaming.TxResult, error) {
	if f.txErr != nil {
		return streaming.TxResult{}, f.txErr
	}
	res, ok := f.txResults[hash]
	if !ok {
		return streaming.TxResult{}, context.DeadlineExceeded
	}
	return res, nil
}

func (f *fakeRPC) AccountTx(ctx context.Context, account string, limit int) ([]streaming.TxResult, error) {
	return f.accountTx, nil
}

func (f *fakeRPC) BookOffers(ctx context.Context, takerGetsCurrency, takerGetsIssuer, takerPaysCurrency, takerPaysIssuer string) ([]streaming.Offer, error) {
	return f.bookOffers, nil
}

func (f *fakeRPC) AccountLines(ctx context.Context, account string) ([]streaming.AccountLine, error) {
	return nil, nil
}

func (f *fakeRPC) GatewayBalances(ctx context.Context, account string) (streaming.GatewayBalances, error) {
	return streaming.GatewayBalances{}, nil
}

func rippleNow() int64 {
	return time.Now().UTC().Unix() - model.RippleEpoch.Unix()
}

func TestAnalyzeToken_RecentTokenBecomesActive(t *testing.T) {
	st := memstore.New()
	id := model.TokenID{Currency: "TST", Issuer: "rIssuer"}
	firstSeen := time.Now().UTC()
	require.NoError(t, st.UpsertTokenState(context.Background(), id, store.TokenStatePatch{
		Status: statusPtr(model.StatusPending), FirstSeen: &firstSeen, FirstSeenTxHash: strPtr("DISCOVERY1"),
	}))

	rpc := &fakeRPC{txResults: map[string]streaming.TxResult{
		"DISCOVERY1": {Hash: "DISCOVERY1", Date: rippleNow()},
	}}
	a := New(DefaultConfig(), st, rpc, testLogger())

	tok, err := st.GetTokenState(context.Background(), id)
	require.NoError(t, err)
	require.NoError(t, a.analyzeToken(context.Background(), tok))

	after, err := st.GetTokenState(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, model.StatusActive, after.Status)
}

func TestAnalyzeToken_OldTokenBecomesTooOld(t *testing.T) {
	st := memstore.New()
	id := model.TokenID{Currency: "TST", Issuer: "rIssuer"}
	firstSeen := time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, st.UpsertTokenState(context.Background(), id, store.TokenStatePatch{
		Status: statusPtr(model.StatusPending), FirstSeen: &firstSeen, FirstSeenTxHash: strPtr("DISCOVERY2"),
	}))

	oldRippleTime := time.Now().UTC().Add(-48*time.Hour).Unix() - model.RippleEpoch.Unix()
	rpc := &fakeRPC{txResults: map[string]streaming.TxResult{
		"DISCOVERY2": {Hash: "DISCOVERY2", Date: oldRippleTime},
	}}
	cfg := DefaultConfig()
	cfg.MaxTokenAgeHours = 12
	a := New(cfg, st, rpc, testLogger())

	tok, err := st.GetTokenState(context.Background(), id)
	require.NoError(t, err)
	require.NoError(t, a.analyzeToken(context.Background(), tok))

	after, err := st.GetTokenState(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, model.StatusTooOld, after.Status)
}

func TestTokenAgeHours_MissingFirstSeenTxHashErrors(t *testing.T) {
	st := memstore.New()
	a := New(DefaultConfig(), st, &fakeRPC{}, testLogger())
	_, err := a.tokenAgeHours(context.Background(), model.TokenState{TokenID: model.TokenID{Currency: "TST", Issuer: "rIssuer"}})
	require.Error(t, err)
}

func TestEnrich_DetectsCreatorAndFreeze(t *testing.T) {
	st := memstore.New()
	id := model.TokenID{Currency: "TST", Issuer: "rIssuer"}
	require.NoError(t, st.UpsertTokenState(context.Background(), id, store.TokenStatePatch{Status: statusPtr(model.StatusPending)}))

	rpc := &fakeRPC{
		accountTx: []streaming.TxResult{
			{TransactionType: "AccountSet", Account: "rIssuer", Flags: 0x00100000, Date: rippleNow() - 100},
			{TransactionType: "TrustSet", Account: "rFirstHolder", Date: rippleNow() - 200},
		},
	}
	a := New(DefaultConfig(), st, rpc, testLogger())
	require.NoError(t, a.enrich(context.Background(), id))

	after, err := st.GetTokenState(context.Background(), id)
	require.NoError(t, err)
	require.True(t, after.IsFrozen)
	require.Equal(t, "rFirstHolder", after.Creator)
}

func TestSamplePrice_RecordsAndTracksMax(t *testing.T) {
	st := memstore.New()
	id := model.TokenID{Currency: "TST", Issuer: "rIssuer"}
	require.NoError(t, st.UpsertTokenState(context.Background(), id, store.TokenStatePatch{Status: statusPtr(model.StatusActive)}))

	rpc := &fakeRPC{bookOffers: []streaming.Offer{{TakerGetsValue: "10", TakerPaysValue: "20"}}}
	a := New(DefaultConfig(), st, rpc, testLogger())
	require.NoError(t, a.samplePrice(context.Background(), id))

	after, err := st.GetTokenState(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, after.MaxPrice)
	require.True(t, after.MaxPrice.Equal(decimal.NewFromFloat(0.5)))
}

func TestSamplePrice_NoOffersIsNoop(t *testing.T) {
	st := memstore.New()
	id := model.TokenID{Currency: "TST", Issuer: "rIssuer"}
	require.NoError(t, st.UpsertTokenState(context.Background(), id, store.TokenStatePatch{Status: statusPtr(model.StatusActive)}))

	a := New(DefaultConfig(), st, &fakeRPC{}, testLogger())
	require.NoError(t, a.samplePrice(context.Background(), id))

	after, err := st.GetTokenState(context.Background(), id)
	require.NoError(t, err)
	require.Nil(t, after.MaxPrice)
}

func statusPtr(s model.TokenStatus) *model.TokenStatus { return &s }
func strPtr(s string) *string                          { return &s }
