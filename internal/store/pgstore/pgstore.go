// Package pgstore is the production store.Store implementation over
// Postgres, grounded in the reference's internal/storage/db package:
// a pooled pgxpool.Pool and raw SQL per operation. Every write is a
// single statement (insert or upsert); no operation opens a
// transaction or replaces rows by delete-then-insert.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ledgeroracle/xrpl-oracle/internal/model"
	"github.com/ledgeroracle/xrpl-oracle/internal/store"
)

// Config mirrors the reference's DatabaseConfig fields used to build
// the pooled connection.
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

func (c Config) dsn() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// Store is the Postgres-backed store.Store.
type Store struct {
	pool   *pgxpool.Pool
	logger *logrus.Logger
}

// New connects to Postgres and verifies reachability with a ping,
// exactly as the reference's NewConnection does.
func New(ctx context.Context, cfg Config, logger *logrus.Logger) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("pgstore: parse config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("pgstore: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}

	logger.WithFields(logrus.Fields{"host": cfg.Host, "database": cfg.Database}).Info("pgstore: connected")
	return &Store{pool: pool, logger: logger}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) AppendTrustLine(ctx context.Context, ev model.TrustLineEvent) error {
	cmd, err := s.pool.Exec(ctx, `
		INSERT INTO trust_line_events (tx_hash, wallet, currency, issuer, limit_value, is_removal, event_timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tx_hash, wallet, currency, issuer) DO NOTHING`,
		ev.TxHash, ev.Wallet, ev.TokenID.Currency, ev.TokenID.Issuer, ev.Limit.String(), ev.IsRemoval, ev.Timestamp)
	if err != nil {
		return fmt.Errorf("pgstore: append trust line: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return store.ErrDuplicate
	}
	return nil
}

func (s *Store) AppendTrade(ctx context.Context, ev model.TradeEvent) error {
	if ev.Buyer == "" || ev.Seller == "" {
		return store.ErrNotFound
	}
	cmd, err := s.pool.Exec(ctx, `
		INSERT INTO trade_events (tx_hash, currency, issuer, buyer, seller, amount, delivered_amount, price_native, event_timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tx_hash) DO NOTHING`,
		ev.TxHash, ev.TokenID.Currency, ev.TokenID.Issuer, ev.Buyer, ev.Seller,
		ev.Amount.String(), ev.DeliveredAmount.String(), ev.PriceNative.String(), ev.Timestamp)
	if err != nil {
		return fmt.Errorf("pgstore: append trade: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return store.ErrDuplicate
	}
	return nil
}

func (s *Store) UpsertTokenState(ctx context.Context, id model.TokenID, patch store.TokenStatePatch) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO token_states (currency, issuer, status, last_updated)
		VALUES ($1, $2, 'pending', now())
		ON CONFLICT (currency, issuer) DO NOTHING`, id.Currency, id.Issuer)
	if err != nil {
		return fmt.Errorf("pgstore: ensure token row: %w", err)
	}

	if patch.FirstSeen != nil || patch.FirstSeenTxHash != nil {
		var txHash string
		if patch.FirstSeenTxHash != nil {
			txHash = *patch.FirstSeenTxHash
		}
		if _, err := s.pool.Exec(ctx, `
			UPDATE token_states SET first_seen = COALESCE($3, first_seen),
				first_seen_tx_hash = COALESCE(NULLIF($4, ''), first_seen_tx_hash), last_updated = now()
			WHERE currency = $1 AND issuer = $2`,
			id.Currency, id.Issuer, patch.FirstSeen, txHash); err != nil {
			return fmt.Errorf("pgstore: update first-seen fields: %w", err)
		}
	}
	if patch.TrustLineDelta != nil {
		if _, err := s.pool.Exec(ctx, `
			UPDATE token_states SET trust_lines = GREATEST(0, trust_lines + $3), last_updated = now()
			WHERE currency = $1 AND issuer = $2`, id.Currency, id.Issuer, *patch.TrustLineDelta); err != nil {
			return fmt.Errorf("pgstore: update trust_lines: %w", err)
		}
	}
	if patch.TradesDelta != nil || patch.TotalVolumeDelta != nil {
		delta := int64(0)
		if patch.TradesDelta != nil {
			delta = *patch.TradesDelta
		}
		volDelta := decimal.Zero
		if patch.TotalVolumeDelta != nil {
			volDelta = *patch.TotalVolumeDelta
		}
		if _, err := s.pool.Exec(ctx, `
			UPDATE token_states SET trades = trades + $3, total_volume = total_volume + $4,
				first_trade_at = COALESCE(first_trade_at, $5), last_updated = now()
			WHERE currency = $1 AND issuer = $2`,
			id.Currency, id.Issuer, delta, volDelta.String(), patch.FirstTradeAt); err != nil {
			return fmt.Errorf("pgstore: update trade counters: %w", err)
		}
	}
	if patch.Status != nil {
		if err := s.MarkToken(ctx, id, *patch.Status); err != nil {
			return err
		}
	}
	if patch.CreationDate != nil || patch.Creator != nil || patch.IsFrozen != nil {
		if _, err := s.pool.Exec(ctx, `
			UPDATE token_states SET creation_date = COALESCE($3, creation_date),
				creator = COALESCE($4, creator), is_frozen = COALESCE($5, is_frozen), last_updated = now()
			WHERE currency = $1 AND issuer = $2`,
			id.Currency, id.Issuer, patch.CreationDate, patch.Creator, patch.IsFrozen); err != nil {
			return fmt.Errorf("pgstore: update analyzer fields: %w", err)
		}
	}
	return nil
}

func (s *Store) MarkToken(ctx context.Context, id model.TokenID, status model.TokenStatus) error {
	// Invariant 4: a too_old token is never re-promoted; enforced here
	// with a WHERE guard rather than a read-modify-write round trip.
	_, err := s.pool.Exec(ctx, `
		UPDATE token_states SET status = $3, last_updated = now()
		WHERE currency = $1 AND issuer = $2 AND status <> 'too_old'`,
		id.Currency, id.Issuer, string(status))
	if err != nil {
		return fmt.Errorf("pgstore: mark token: %w", err)
	}
	return nil
}

func (s *Store) GetTokenState(ctx context.Context, id model.TokenID) (model.TokenState, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT currency, issuer, first_seen, first_seen_tx_hash, trust_lines, trades, total_volume, status,
		       creation_date, creator, is_frozen, current_price, max_price, last_updated
		FROM token_states WHERE currency = $1 AND issuer = $2`, id.Currency, id.Issuer)

	var ts model.TokenState
	var totalVolume, currentPrice, maxPrice *string
	var status string
	ts.TokenID = id
	err := row.Scan(&ts.TokenID.Currency, &ts.TokenID.Issuer, &ts.FirstSeen, &ts.FirstSeenTxHash, &ts.TrustLines, &ts.Trades,
		&totalVolume, &status, &ts.CreationDate, &ts.Creator, &ts.IsFrozen, &currentPrice, &maxPrice, &ts.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.TokenState{}, store.ErrNotFound
	}
	if err != nil {
		return model.TokenState{}, fmt.Errorf("pgstore: get token state: %w", err)
	}
	ts.Status = model.TokenStatus(status)
	if totalVolume != nil {
		if d, err := decimal.NewFromString(*totalVolume); err == nil {
			ts.TotalVolume = d
		}
	}
	if currentPrice != nil {
		if d, err := decimal.NewFromString(*currentPrice); err == nil {
			ts.CurrentPrice = &d
		}
	}
	if maxPrice != nil {
		if d, err := decimal.NewFromString(*maxPrice); err == nil {
			ts.MaxPrice = &d
		}
	}
	return ts, nil
}

func (s *Store) RecordPriceSample(ctx context.Context, id model.TokenID, price decimal.Decimal, ts time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO price_samples (currency, issuer, price, sample_timestamp) VALUES ($1, $2, $3, $4)`,
		id.Currency, id.Issuer, price.String(), ts)
	if err != nil {
		return fmt.Errorf("pgstore: record price sample: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE token_states SET current_price = $3,
			first_price = COALESCE(first_price, $3), first_price_at = COALESCE(first_price_at, $4)
		WHERE currency = $1 AND issuer = $2`, id.Currency, id.Issuer, price.String(), ts)
	if err != nil {
		return fmt.Errorf("pgstore: update current price: %w", err)
	}
	return nil
}

func (s *Store) UpdateMaxPriceIfHigher(ctx context.Context, id model.TokenID, price decimal.Decimal, ts time.Time) (bool, error) {
	cmd, err := s.pool.Exec(ctx, `
		UPDATE token_states SET max_price = $3, max_price_at = $4
		WHERE currency = $1 AND issuer = $2 AND (max_price IS NULL OR max_price < $3)`,
		id.Currency, id.Issuer, price.String(), ts)
	if err != nil {
		return false, fmt.Errorf("pgstore: update max price: %w", err)
	}
	return cmd.RowsAffected() > 0, nil
}

func (s *Store) GetActiveTokens(ctx context.Context, maxAge *time.Duration) ([]model.TokenState, error) {
	query := `SELECT currency, issuer, status, trust_lines, trades, last_updated FROM token_states WHERE status = 'active'`
	args := []any{}
	if maxAge != nil {
		query += ` AND last_updated < $1`
		args = append(args, time.Now().UTC().Add(-*maxAge))
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pgstore: get active tokens: %w", err)
	}
	defer rows.Close()

	var out []model.TokenState
	for rows.Next() {
		var ts model.TokenState
		var status string
		if err := rows.Scan(&ts.TokenID.Currency, &ts.TokenID.Issuer, &status, &ts.TrustLines, &ts.Trades, &ts.LastUpdated); err != nil {
			return nil, fmt.Errorf("pgstore: scan active token: %w", err)
		}
		ts.Status = model.TokenStatus(status)
		out = append(out, ts)
	}
	return out, rows.Err()
}

func (s *Store) GetUnanalyzedTokens(ctx context.Context, cutoff time.Time) ([]model.TokenState, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT currency, issuer, first_seen_tx_hash, status, trust_lines, trades, last_updated FROM token_states
		WHERE status = 'pending' OR (status = 'active' AND last_updated < $1)`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("pgstore: get unanalyzed tokens: %w", err)
	}
	defer rows.Close()

	var out []model.TokenState
	for rows.Next() {
		var ts model.TokenState
		var status string
		if err := rows.Scan(&ts.TokenID.Currency, &ts.TokenID.Issuer, &ts.FirstSeenTxHash, &status, &ts.TrustLines, &ts.Trades, &ts.LastUpdated); err != nil {
			return nil, fmt.Errorf("pgstore: scan unanalyzed token: %w", err)
		}
		ts.Status = model.TokenStatus(status)
		out = append(out, ts)
	}
	return out, rows.Err()
}

func (s *Store) GetWalletTrustLines(ctx context.Context, wallet string, since *time.Time) ([]model.TrustLineEvent, error) {
	query := `SELECT currency, issuer, wallet, limit_value, tx_hash, event_timestamp, is_removal
		FROM trust_line_events WHERE wallet = $1`
	args := []any{wallet}
	if since != nil {
		query += ` AND event_timestamp >= $2`
		args = append(args, *since)
	}
	query += ` ORDER BY event_timestamp ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pgstore: get wallet trust lines: %w", err)
	}
	defer rows.Close()

	var out []model.TrustLineEvent
	for rows.Next() {
		var ev model.TrustLineEvent
		var limitStr string
		if err := rows.Scan(&ev.TokenID.Currency, &ev.TokenID.Issuer, &ev.Wallet, &limitStr, &ev.TxHash, &ev.Timestamp, &ev.IsRemoval); err != nil {
			return nil, fmt.Errorf("pgstore: scan trust line: %w", err)
		}
		ev.Limit, _ = decimal.NewFromString(limitStr)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Store) GetWalletTrades(ctx context.Context, wallet string, id *model.TokenID) ([]model.TradeEvent, error) {
	query := `SELECT currency, issuer, buyer, seller, amount, delivered_amount, price_native, tx_hash, event_timestamp
		FROM trade_events WHERE (buyer = $1 OR seller = $1)`
	args := []any{wallet}
	if id != nil {
		query += ` AND currency = $2 AND issuer = $3`
		args = append(args, id.Currency, id.Issuer)
	}
	query += ` ORDER BY event_timestamp ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pgstore: get wallet trades: %w", err)
	}
	defer rows.Close()

	var out []model.TradeEvent
	for rows.Next() {
		var ev model.TradeEvent
		var amount, delivered, priceNative string
		if err := rows.Scan(&ev.TokenID.Currency, &ev.TokenID.Issuer, &ev.Buyer, &ev.Seller,
			&amount, &delivered, &priceNative, &ev.TxHash, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("pgstore: scan trade: %w", err)
		}
		ev.Amount, _ = decimal.NewFromString(amount)
		ev.DeliveredAmount, _ = decimal.NewFromString(delivered)
		ev.PriceNative, _ = decimal.NewFromString(priceNative)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Store) GetPriceHistory(ctx context.Context, id model.TokenID, from, to time.Time) ([]model.PriceSample, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT currency, issuer, price, sample_timestamp FROM price_samples
		WHERE currency = $1 AND issuer = $2 AND sample_timestamp BETWEEN $3 AND $4
		ORDER BY sample_timestamp ASC`, id.Currency, id.Issuer, from, to)
	if err != nil {
		return nil, fmt.Errorf("pgstore: get price history: %w", err)
	}
	defer rows.Close()

	var out []model.PriceSample
	for rows.Next() {
		var p model.PriceSample
		var price string
		if err := rows.Scan(&p.TokenID.Currency, &p.TokenID.Issuer, &price, &p.Timestamp); err != nil {
			return nil, fmt.Errorf("pgstore: scan price sample: %w", err)
		}
		p.Price, _ = decimal.NewFromString(price)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) GetMaxPrice(ctx context.Context, id model.TokenID) (decimal.Decimal, error) {
	var maxPrice *string
	err := s.pool.QueryRow(ctx, `SELECT max_price FROM token_states WHERE currency = $1 AND issuer = $2`,
		id.Currency, id.Issuer).Scan(&maxPrice)
	if errors.Is(err, pgx.ErrNoRows) || maxPrice == nil {
		return decimal.Zero, store.ErrNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("pgstore: get max price: %w", err)
	}
	d, err := decimal.NewFromString(*maxPrice)
	if err != nil {
		return decimal.Zero, fmt.Errorf("pgstore: parse max price: %w", err)
	}
	return d, nil
}

func (s *Store) GetActiveWallets(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT address FROM wallet_states WHERE last_active >= $1`, since)
	if err != nil {
		return nil, fmt.Errorf("pgstore: get active wallets: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("pgstore: scan active wallet: %w", err)
		}
		out = append(out, addr)
	}
	return out, rows.Err()
}

func (s *Store) GetTrustlinePosition(ctx context.Context, id model.TokenID, ts time.Time) (int, error) {
	var position int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM trust_line_events
		WHERE currency = $1 AND issuer = $2 AND is_removal = false AND event_timestamp <= $3`,
		id.Currency, id.Issuer, ts).Scan(&position)
	if err != nil {
		return 0, fmt.Errorf("pgstore: get trustline position: %w", err)
	}
	return position, nil
}

func (s *Store) UpsertWalletState(ctx context.Context, address string, patch store.WalletStatePatch) error {
	firstSeen := time.Now().UTC()
	if patch.FirstSeen != nil {
		firstSeen = *patch.FirstSeen
	}
	lastActive := firstSeen
	if patch.LastActive != nil {
		lastActive = *patch.LastActive
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO wallet_states (address, first_seen, last_active)
		VALUES ($1, $2, $3)
		ON CONFLICT (address) DO UPDATE SET last_active = GREATEST(wallet_states.last_active, $3)`,
		address, firstSeen, lastActive)
	if err != nil {
		return fmt.Errorf("pgstore: upsert wallet state: %w", err)
	}
	return nil
}

func (s *Store) UpdateWalletAlphaScore(ctx context.Context, address string, score decimal.Decimal, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO wallet_states (address, first_seen, last_active, alpha_score, score_updated)
		VALUES ($1, $2, $2, $3, $2)
		ON CONFLICT (address) DO UPDATE SET alpha_score = $3, score_updated = $2`,
		address, at, score.String())
	if err != nil {
		return fmt.Errorf("pgstore: update wallet alpha score: %w", err)
	}
	return nil
}

func (s *Store) RecordAlert(ctx context.Context, alert model.TokenAlert) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO token_alerts (id, currency, issuer, alert_type, severity, message, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		alert.ID, alert.TokenID.Currency, alert.TokenID.Issuer, alert.AlertType, alert.Severity, alert.Message, alert.DetectedAt)
	if err != nil {
		return fmt.Errorf("pgstore: record alert: %w", err)
	}
	return nil
}

func (s *Store) RecentAlerts(ctx context.Context, limit int) ([]model.TokenAlert, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, currency, issuer, alert_type, severity, message, detected_at, confirmed
		FROM token_alerts ORDER BY detected_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("pgstore: recent alerts: %w", err)
	}
	defer rows.Close()

	var out []model.TokenAlert
	for rows.Next() {
		var a model.TokenAlert
		if err := rows.Scan(&a.ID, &a.TokenID.Currency, &a.TokenID.Issuer, &a.AlertType, &a.Severity, &a.Message, &a.DetectedAt, &a.Confirmed); err != nil {
			return nil, fmt.Errorf("pgstore: scan alert: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
