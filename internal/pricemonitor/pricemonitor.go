// Package pricemonitor implements PriceMonitor (spec.md §4.7): poll
// the best native/token order-book offer for every active token and
// update current/max price with hysteresis on the max.
package pricemonitor

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ledgeroracle/xrpl-oracle/internal/model"
	"github.com/ledgeroracle/xrpl-oracle/internal/store"
	"github.com/ledgeroracle/xrpl-oracle/internal/streaming"
)

// Config bounds the monitor's interval, hysteresis, and inter-token
// wait, matching spec.md §4.7's stated defaults.
type Config struct {
	Interval       time.Duration
	MinPriceChange decimal.Decimal
	PerTokenWait   time.Duration
}

// DefaultConfig matches spec.md §4.7: 120s interval, 5% hysteresis,
// 5s inter-token wait.
func DefaultConfig() Config {
	return Config{
		Interval:       120 * time.Second,
		MinPriceChange: decimal.NewFromFloat(0.05),
		PerTokenWait:   5 * time.Second,
	}
}

// Monitor is the PriceMonitor background worker.
type Monitor struct {
	cfg    Config
	st     store.Store
	rpc    streaming.RequestResponse
	logger *logrus.Logger
}

// New constructs a Monitor.
func New(cfg Config, st store.Store, rpc streaming.RequestResponse, logger *logrus.Logger) *Monitor {
	return &Monitor{cfg: cfg, st: st, rpc: rpc, logger: logger}
}

// Run loops every cfg.Interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		if err := m.runOnce(ctx); err != nil {
			m.logger.WithError(err).Warn("pricemonitor: pass failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (m *Monitor) runOnce(ctx context.Context) error {
	tokens, err := m.st.GetActiveTokens(ctx, nil)
	if err != nil {
		return fmt.Errorf("pricemonitor: get active tokens: %w", err)
	}

	for _, tok := range tokens {
		if err := m.sampleOne(ctx, tok.TokenID); err != nil {
			m.logger.WithError(err).WithField("token", tok.TokenID.String()).Debug("pricemonitor: sample failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(m.cfg.PerTokenWait):
		}
	}
	return nil
}

func (m *Monitor) sampleOne(ctx context.Context, id model.TokenID) error {
	offers, err := m.rpc.BookOffers(ctx, "XRP", "", id.Currency, id.Issuer)
	if err != nil {
		return fmt.Errorf("pricemonitor: book_offers: %w", err)
	}
	if len(offers) == 0 {
		return nil
	}

	baseAmount, err := decimal.NewFromString(offers[0].TakerGetsValue)
	if err != nil {
		return fmt.Errorf("pricemonitor: parse TakerGets: %w", err)
	}
	tokenAmount, err := decimal.NewFromString(offers[0].TakerPaysValue)
	if err != nil {
		return fmt.Errorf("pricemonitor: parse TakerPays: %w", err)
	}
	if tokenAmount.IsZero() {
		return nil
	}

	// price = (best_offer.base_amount_in_minor_units / 10^6) / token_amount
	price := model.DropsToNative(baseAmount.IntPart()).Div(tokenAmount)
	now := time.Now().UTC()

	if err := m.st.RecordPriceSample(ctx, id, price, now); err != nil {
		return fmt.Errorf("pricemonitor: record price sample: %w", err)
	}

	previousMax, err := m.st.GetMaxPrice(ctx, id)
	if err != nil {
		// No prior max: first observation always becomes the max.
		_, err := m.st.UpdateMaxPriceIfHigher(ctx, id, price, now)
		return err
	}

	threshold := previousMax.Mul(decimal.NewFromInt(1).Add(m.cfg.MinPriceChange))
	if price.GreaterThan(threshold) {
		if _, err := m.st.UpdateMaxPriceIfHigher(ctx, id, price, now); err != nil {
			return fmt.Errorf("pricemonitor: update max price: %w", err)
		}
	}
	return nil
}
