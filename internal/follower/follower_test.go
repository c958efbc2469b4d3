package follower

import (
	"context"
	"io"
	"sync"
	"testing"

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

// fakeLedger records every submission it is asked to make and returns
// a pre-configured result, standing in for streaming.Submitter.
type fakeLedger struct {
	mu             sync.Mutex
	trustSetCalls  int
	paymentCalls   int
	lastTrustValue string
	trustResult    string
	trustErr       error
	paymentResult  string
	paymentErr     error
}

func (f *fakeLedger) SubmitTrustSet(ctx context.Context, currency, issuer, value string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trustSetCalls++
	f.lastTrustValue = value
	if f.trustResult == "" {
		return "tesSUCCESS", f.trustErr
	}
	return f.trustResult, f.trustErr
}

func (f *fakeLedger) SubmitPayment(ctx context.Context, currency, issuer string, deliverMin, amount, sendMaxNative decimal.Decimal) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paymentCalls++
	if f.paymentResult == "" {
		return "tesSUCCESS", f.paymentErr
	}
	return f.paymentResult, f.paymentErr
}

func baseConfig() Config {
	return Config{
		TargetWallet:       "rTarget",
		MinTrustLineAmount: decimal.NewFromInt(10),
		MaxTrustLineAmount: decimal.NewFromInt(1000),
	}
}

func trustFrame(account, currency, issuer, value string) model.Frame {
	return model.Frame{
		Kind:    model.KindTrustSet,
		Account: account,
		TrustSet: &model.TrustSetFields{
			Currency: currency, Issuer: issuer, Value: value, Wallet: account,
		},
	}
}

func TestClamp(t *testing.T) {
	min, max := decimal.NewFromInt(10), decimal.NewFromInt(1000)
	require.True(t, clamp(decimal.NewFromInt(5), min, max).Equal(min))
	require.True(t, clamp(decimal.NewFromInt(5000), min, max).Equal(max))
	require.True(t, clamp(decimal.NewFromInt(500), min, max).Equal(decimal.NewFromInt(500)))
}

func TestOnTrustLine_IgnoresFramesForOtherAccounts(t *testing.T) {
	ledger := &fakeLedger{}
	f := New(baseConfig(), ledger, testLogger(), nil, nil)
	f.OnTrustLine(context.Background(), trustFrame("rSomeoneElse", "TST", "rIssuer", "100"))
	require.Equal(t, 0, ledger.trustSetCalls)
}

func TestOnTrustLine_IgnoresRemoval(t *testing.T) {
	ledger := &fakeLedger{}
	f := New(baseConfig(), ledger, testLogger(), nil, nil)
	f.OnTrustLine(context.Background(), trustFrame("rTarget", "TST", "rIssuer", "0"))
	require.Equal(t, 0, ledger.trustSetCalls)
}

func TestOnTrustLine_ClampsBelowMinimum(t *testing.T) {
	ledger := &fakeLedger{}
	f := New(baseConfig(), ledger, testLogger(), nil, nil)
	f.OnTrustLine(context.Background(), trustFrame("rTarget", "TST", "rIssuer", "1"))
	require.Equal(t, 1, ledger.trustSetCalls)
	require.Equal(t, "10", ledger.lastTrustValue)
}

func TestOnTrustLine_SuccessfulSubmissionInvokesOnSubmitted(t *testing.T) {
	ledger := &fakeLedger{}
	var submittedCalls int
	f := New(baseConfig(), ledger, testLogger(), nil, func() { submittedCalls++ })
	f.OnTrustLine(context.Background(), trustFrame("rTarget", "TST", "rIssuer", "100"))
	require.Equal(t, 1, submittedCalls)
}

func TestOnTrustLine_RejectedSubmissionReportsErrorNotOnSubmitted(t *testing.T) {
	ledger := &fakeLedger{trustResult: "tecNO_LINE_REDUNDANT"}
	var submittedCalls int
	var reportedErr error
	f := New(baseConfig(), ledger, testLogger(), func(err error) { reportedErr = err }, func() { submittedCalls++ })
	f.OnTrustLine(context.Background(), trustFrame("rTarget", "TST", "rIssuer", "100"))
	require.Equal(t, 0, submittedCalls)
	require.Error(t, reportedErr)
}

func TestOnTrustLine_TestModeNeverSubmits(t *testing.T) {
	ledger := &fakeLedger{}
	cfg := baseConfig()
	cfg.TestMode = true
	f := New(cfg, ledger, testLogger(), nil, nil)
	f.OnTrustLine(context.Background(), trustFrame("rTarget", "TST", "rIssuer", "100"))
	require.Equal(t, 0, ledger.trustSetCalls)
}

func TestOnTrustLine_AutoPurchaseGatedByConfigFlag(t *testing.T) {
	ledger := &fakeLedger{}
	cfg := baseConfig()
	cfg.AutoPurchaseOnTrust = true
	cfg.InitialPurchaseAmount = decimal.NewFromInt(5)
	cfg.SendMaxNative = decimal.NewFromInt(1)
	cfg.SlippagePercent = decimal.NewFromInt(1)
	f := New(cfg, ledger, testLogger(), nil, nil)
	f.OnTrustLine(context.Background(), trustFrame("rTarget", "TST", "rIssuer", "100"))
	require.Equal(t, 1, ledger.paymentCalls)
}

func TestOnTrustLine_NoAutoPurchaseWhenFlagUnset(t *testing.T) {
	ledger := &fakeLedger{}
	f := New(baseConfig(), ledger, testLogger(), nil, nil)
	f.OnTrustLine(context.Background(), trustFrame("rTarget", "TST", "rIssuer", "100"))
	require.Equal(t, 0, ledger.paymentCalls)
}

func TestOnTrustLine_MalformedLimitIsIgnored(t *testing.T) {
	ledger := &fakeLedger{}
	f := New(baseConfig(), ledger, testLogger(), nil, nil)
	f.OnTrustLine(context.Background(), trustFrame("rTarget", "TST", "rIssuer", "not-a-number"))
	require.Equal(t, 0, ledger.trustSetCalls)
}
