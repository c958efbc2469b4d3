// Package dumpdetector implements the dump-pattern detection
// supplemented in SPEC_FULL.md §12: cluster a token's sell trades into
// 5-minute windows and raise a DUMP_DETECTED alert once at least 3
// clusters of 3+ sells each appear, with at least 5 sells total.
// Grounded in the reference's internal/token.Engine.checkAntiDumpPattern,
// generalized from its per-wallet "sell" classification to every
// trade's seller leg (there is no separate holding-direction signal in
// this domain's TradeEvent).
//
// Consumes the eventbus "trade_events" stream Controller publishes to,
// rather than being called inline, so a slow dump scan never blocks
// frame dispatch.
package dumpdetector

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ledgeroracle/xrpl-oracle/internal/alerting"
	"github.com/ledgeroracle/xrpl-oracle/internal/eventbus"
	"github.com/ledgeroracle/xrpl-oracle/internal/model"
)

const tradeEventsStream = "trade_events"

// Config bounds the clustering window and trigger thresholds.
type Config struct {
	ClusterWindow  time.Duration
	MinClusterSize int
	MinClusters    int
	MinTotalSells  int
	RetentionWindow time.Duration
}

// DefaultConfig matches SPEC_FULL.md §12: 5-minute cluster windows,
// 3+ sells per cluster, 3+ clusters, 5+ total sells.
func DefaultConfig() Config {
	return Config{
		ClusterWindow:   5 * time.Minute,
		MinClusterSize:  3,
		MinClusters:     3,
		MinTotalSells:   5,
		RetentionWindow: 24 * time.Hour,
	}
}

// Detector tracks a rolling window of sell timestamps per token.
type Detector struct {
	cfg    Config
	alerts *alerting.Manager
	logger *logrus.Logger

	mu      sync.Mutex
	history map[model.TokenID][]time.Time
	tripped map[model.TokenID]time.Time
}

// New constructs a Detector.
func New(cfg Config, alerts *alerting.Manager, logger *logrus.Logger) *Detector {
	return &Detector{
		cfg:     cfg,
		alerts:  alerts,
		logger:  logger,
		history: make(map[model.TokenID][]time.Time),
		tripped: make(map[model.TokenID]time.Time),
	}
}

// Subscribe registers this Detector as a trade_events consumer.
func (d *Detector) Subscribe(ctx context.Context, bus *eventbus.Bus, consumerName string) error {
	return bus.Subscribe(ctx, tradeEventsStream, consumerName, d.handle)
}

func (d *Detector) handle(ctx context.Context, stream string, payload map[string]interface{}) error {
	currency, _ := payload["currency"].(string)
	issuer, _ := payload["issuer"].(string)
	tsRaw, _ := payload["timestamp"].(string)
	if currency == "" || issuer == "" {
		return fmt.Errorf("dumpdetector: payload missing currency/issuer")
	}
	ts, err := time.Parse(time.RFC3339, tsRaw)
	if err != nil {
		return fmt.Errorf("dumpdetector: parse timestamp: %w", err)
	}

	id := model.TokenID{Currency: currency, Issuer: issuer}
	clusters, total := d.record(id, ts)

	if clusters >= d.cfg.MinClusters && total >= d.cfg.MinTotalSells && !d.recentlyTripped(id) {
		if _, err := d.alerts.DumpPattern(ctx, id, clusters, total); err != nil {
			d.logger.WithError(err).WithField("token", id.String()).Warn("dumpdetector: alert failed")
		}
		d.markTripped(id)
	}
	return nil
}

// record appends ts to id's history, trims entries past RetentionWindow,
// and returns the current cluster count and total sell count.
func (d *Detector) record(id model.TokenID, ts time.Time) (clusters, total int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	hist := append(d.history[id], ts)
	sort.Slice(hist, func(i, j int) bool { return hist[i].Before(hist[j]) })

	cutoff := ts.Add(-d.cfg.RetentionWindow)
	trimmed := hist[:0]
	for _, t := range hist {
		if t.After(cutoff) {
			trimmed = append(trimmed, t)
		}
	}
	d.history[id] = trimmed

	return countClusters(trimmed, d.cfg.ClusterWindow, d.cfg.MinClusterSize), len(trimmed)
}

func countClusters(sorted []time.Time, window time.Duration, minSize int) int {
	if len(sorted) == 0 {
		return 0
	}
	clusters := 0
	clusterStart := 0
	for i := 1; i <= len(sorted); i++ {
		if i < len(sorted) && sorted[i].Sub(sorted[i-1]) <= window {
			continue
		}
		if i-clusterStart >= minSize {
			clusters++
		}
		clusterStart = i
	}
	return clusters
}

func (d *Detector) recentlyTripped(id model.TokenID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	last, ok := d.tripped[id]
	return ok && time.Since(last) < d.cfg.RetentionWindow
}

func (d *Detector) markTripped(id model.TokenID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tripped[id] = time.Now().UTC()
}
