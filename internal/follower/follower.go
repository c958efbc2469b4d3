// Package follower implements the Follower contract of spec.md §4.5:
// a specialization that mirrors a target account's trust-line
// openings onto a controlled account, subject to a min/max clamp.
// Grounded in original_source/memecoin_monitor.py's set_trust_line and
// make_small_purchase (the latter backing the optional
// trading.auto_purchase_on_trust behavior from SPEC_FULL.md §12).
package follower

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ledgeroracle/xrpl-oracle/internal/model"
)

// Ledger is the narrow submission surface the Follower needs: build
// and submit a TrustSet, and optionally a partial-payment Payment,
// returning a result code. streaming.Submitter returns the submit
// response's engine_result without waiting for ledger validation.
type Ledger interface {
	SubmitTrustSet(ctx context.Context, currency, issuer, value string) (resultCode string, err error)
	SubmitPayment(ctx context.Context, currency, issuer string, deliverMin, amount decimal.Decimal, sendMaxNative decimal.Decimal) (resultCode string, err error)
}

// Config bounds the clamp, test-mode, and auto-purchase behavior.
type Config struct {
	TargetWallet           string
	MinTrustLineAmount     decimal.Decimal
	MaxTrustLineAmount     decimal.Decimal
	TestMode               bool
	AutoPurchaseOnTrust    bool
	InitialPurchaseAmount  decimal.Decimal
	SendMaxNative          decimal.Decimal
	SlippagePercent        decimal.Decimal
}

// Follower reacts to TrustLineEvents observed for cfg.TargetWallet.
type Follower struct {
	cfg    Config
	ledger Ledger
	logger *logrus.Logger

	mu        sync.Mutex
	inFlight  map[model.TokenID]bool

	lastErr     func(error)
	onSubmitted func()
}

// New constructs a Follower. onSubmitted, if non-nil, is called once
// per TrustSet submission whose Ledger result code is tesSUCCESS, so the
// Controller can fold the follower's own submissions into its daily
// trust_lines_today counter alongside market-observed ones.
func New(cfg Config, ledger Ledger, logger *logrus.Logger, onError func(error), onSubmitted func()) *Follower {
	return &Follower{cfg: cfg, ledger: ledger, logger: logger, inFlight: make(map[model.TokenID]bool), lastErr: onError, onSubmitted: onSubmitted}
}

// OnTrustLine is the frame handler wired to the account-scoped
// StreamingMonitor subscribed to cfg.TargetWallet. Only non-removal
// events for the target account are mirrored.
func (f *Follower) OnTrustLine(ctx context.Context, frame model.Frame) {
	if frame.Kind != model.KindTrustSet || frame.TrustSet == nil {
		return
	}
	if frame.Account != f.cfg.TargetWallet {
		return
	}
	ts := frame.TrustSet
	if ts.Value == "0" {
		return
	}

	id := model.TokenID{Currency: ts.Currency, Issuer: ts.Issuer}

	f.mu.Lock()
	if f.inFlight[id] {
		f.mu.Unlock()
		f.logger.WithField("token", id.String()).Debug("follower: dropping duplicate trust-line frame, submission in flight")
		return
	}
	f.inFlight[id] = true
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		delete(f.inFlight, id)
		f.mu.Unlock()
	}()

	limit, err := decimal.NewFromString(ts.Value)
	if err != nil {
		f.logger.WithError(err).WithField("token", id.String()).Warn("follower: non-decimal trust-line limit")
		return
	}
	clamped := clamp(limit, f.cfg.MinTrustLineAmount, f.cfg.MaxTrustLineAmount)

	if f.cfg.TestMode {
		f.logger.WithFields(logrus.Fields{"token": id.String(), "clamped_limit": clamped.String()}).
			Info("follower: [test mode] would submit TrustSet")
		return
	}

	resultCode, err := f.ledger.SubmitTrustSet(ctx, ts.Currency, ts.Issuer, clamped.String())
	if err != nil {
		f.report(fmt.Errorf("follower: TrustSet submission failed for %s: %w", id.String(), err))
		return
	}
	if resultCode != "tesSUCCESS" {
		f.report(fmt.Errorf("follower: TrustSet for %s rejected: %s", id.String(), resultCode))
		return
	}
	f.logger.WithField("token", id.String()).Info("follower: TrustSet validated")
	if f.onSubmitted != nil {
		f.onSubmitted()
	}

	if f.cfg.AutoPurchaseOnTrust {
		f.purchase(ctx, id)
	}
}

func (f *Follower) purchase(ctx context.Context, id model.TokenID) {
	slippageFactor := decimal.NewFromInt(1).Sub(f.cfg.SlippagePercent.Div(decimal.NewFromInt(100)))
	deliverMin := f.cfg.InitialPurchaseAmount.Mul(slippageFactor)

	if f.cfg.TestMode {
		f.logger.WithField("token", id.String()).Info("follower: [test mode] would submit auto-purchase Payment")
		return
	}

	resultCode, err := f.ledger.SubmitPayment(ctx, id.Currency, id.Issuer, deliverMin, f.cfg.InitialPurchaseAmount, f.cfg.SendMaxNative)
	if err != nil {
		f.report(fmt.Errorf("follower: auto-purchase Payment failed for %s: %w", id.String(), err))
		return
	}
	if resultCode != "tesSUCCESS" {
		f.report(fmt.Errorf("follower: auto-purchase Payment for %s rejected: %s", id.String(), resultCode))
		return
	}
	f.logger.WithField("token", id.String()).Info("follower: auto-purchase validated")
}

func (f *Follower) report(err error) {
	f.logger.Warn(err.Error())
	if f.lastErr != nil {
		f.lastErr(err)
	}
}

// clamp implements spec.md §4.5 bullet 1: clamp(limit, min, max).
func clamp(value, min, max decimal.Decimal) decimal.Decimal {
	if value.LessThan(min) {
		return min
	}
	if value.GreaterThan(max) {
		return max
	}
	return value
}
