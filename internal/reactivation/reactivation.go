// Package reactivation implements ReactivationScanner (SPEC_FULL.md
// §12): a periodic worker that rescans dormant active tokens for renewed
// activity and raises a REACTIVATION alert when the combination of
// recent price growth and trust-line count crosses a threshold score.
// Generalized from the reference's internal/reactivation.System,
// dropping its Memory-of-Trust smart-wallet-return detection (the
// dependency it relied on, internal/memory, was not carried forward —
// see DESIGN.md) in favor of the metric-change half of its score,
// which survives unchanged in spirit.
package reactivation

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ledgeroracle/xrpl-oracle/internal/alerting"
	"github.com/ledgeroracle/xrpl-oracle/internal/model"
	"github.com/ledgeroracle/xrpl-oracle/internal/store"
)

// Config bounds the scan cadence and the dormancy/trigger thresholds.
type Config struct {
	ScanInterval     time.Duration
	DormancyWindow   time.Duration
	ReactivationScore float64
}

// DefaultConfig mirrors the reference's 15-minute scan interval.
func DefaultConfig() Config {
	return Config{ScanInterval: 15 * time.Minute, DormancyWindow: 48 * time.Hour, ReactivationScore: 60}
}

// Scanner is the ReactivationScanner background worker.
type Scanner struct {
	cfg     Config
	st      store.Store
	alerts  *alerting.Manager
	logger  *logrus.Logger
}

// New constructs a Scanner.
func New(cfg Config, st store.Store, alerts *alerting.Manager, logger *logrus.Logger) *Scanner {
	return &Scanner{cfg: cfg, st: st, alerts: alerts, logger: logger}
}

// Run loops every cfg.ScanInterval until ctx is cancelled, matching the
// reference's scanRoutine ticker-with-ctx.Done shape.
func (s *Scanner) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.runOnce(ctx); err != nil {
				s.logger.WithError(err).Warn("reactivation: scan failed")
			}
		}
	}
}

func (s *Scanner) runOnce(ctx context.Context) error {
	tokens, err := s.st.GetActiveTokens(ctx, nil)
	if err != nil {
		return fmt.Errorf("reactivation: get active tokens: %w", err)
	}

	cutoff := time.Now().UTC().Add(-s.cfg.DormancyWindow)
	var dormant []model.TokenState
	for _, t := range tokens {
		if t.LastUpdated.Before(cutoff) {
			dormant = append(dormant, t)
		}
	}
	s.logger.WithField("count", len(dormant)).Info("reactivation: dormant tokens found")

	for _, tok := range dormant {
		score, err := s.scoreReactivation(ctx, tok)
		if err != nil {
			s.logger.WithError(err).WithField("token", tok.TokenID.String()).Warn("reactivation: scoring failed")
			continue
		}
		if score >= s.cfg.ReactivationScore {
			if _, err := s.alerts.Reactivation(ctx, tok.TokenID, score); err != nil {
				s.logger.WithError(err).WithField("token", tok.TokenID.String()).Warn("reactivation: alert failed")
			}
		}
	}
	return nil
}

// scoreReactivation weighs the price rise over the last 24h (50%, full
// weight at +30%) and the token's current trust-line count (50%, full
// weight at 50 trust lines; not growth over a window), on a 0-100 scale,
// following the shape (not the exact weights, since holder/volume
// windows aren't tracked the same way here) of the reference's
// calculateReactivationScore.
func (s *Scanner) scoreReactivation(ctx context.Context, tok model.TokenState) (float64, error) {
	now := time.Now().UTC()
	recent, err := s.st.GetPriceHistory(ctx, tok.TokenID, now.Add(-24*time.Hour), now)
	if err != nil {
		return 0, fmt.Errorf("reactivation: price history: %w", err)
	}
	if len(recent) < 2 {
		return 0, nil
	}

	first := recent[0].Price
	last := recent[len(recent)-1].Price
	priceChange := 0.0
	if !first.IsZero() {
		priceChange, _ = last.Sub(first).Div(first).Float64()
	}
	priceFactor := math.Min(1.0, math.Max(0, priceChange)/0.3)

	trustLineGrowthFactor := 0.0
	if tok.TrustLines > 0 {
		trustLineGrowthFactor = math.Min(1.0, float64(tok.TrustLines)/50.0)
	}

	score := (priceFactor*0.5 + trustLineGrowthFactor*0.5) * 100
	return math.Max(0, math.Min(100, score)), nil
}
