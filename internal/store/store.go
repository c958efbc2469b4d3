// Package store defines the thin persistence port every component
// depends on instead of a concrete database driver (spec §4.2, §9
// "Store abstraction"). Production wires internal/store/pgstore;
// tests substitute internal/store/memstore.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledgeroracle/xrpl-oracle/internal/model"
)

// ErrDuplicate is returned by the append operations when an event
// with the same deduplication key has already been recorded.
var ErrDuplicate = errors.New("store: duplicate event")

// ErrNotFound is returned by lookups that find no matching row.
var ErrNotFound = errors.New("store: not found")

// Store is the append-only event log plus mutable projection tables
// spec §4.2 names. All query operations must be serviceable in time
// logarithmic or linear in the result size, never the full collection
// size — implementations are expected to carry the indexes §4.2 lists.
type Store interface {
	AppendTrustLine(ctx context.Context, ev model.TrustLineEvent) error
	AppendTrade(ctx context.Context, ev model.TradeEvent) error

	UpsertTokenState(ctx context.Context, id model.TokenID, patch TokenStatePatch) error
	MarkToken(ctx context.Context, id model.TokenID, status model.TokenStatus) error
	GetTokenState(ctx context.Context, id model.TokenID) (model.TokenState, error)

	RecordPriceSample(ctx context.Context, id model.TokenID, price decimal.Decimal, ts time.Time) error
	UpdateMaxPriceIfHigher(ctx context.Context, id model.TokenID, price decimal.Decimal, ts time.Time) (bool, error)

	GetActiveTokens(ctx context.Context, maxAge *time.Duration) ([]model.TokenState, error)
	GetUnanalyzedTokens(ctx context.Context, cutoff time.Time) ([]model.TokenState, error)
	GetWalletTrustLines(ctx context.Context, wallet string, since *time.Time) ([]model.TrustLineEvent, error)
	GetWalletTrades(ctx context.Context, wallet string, id *model.TokenID) ([]model.TradeEvent, error)
	GetPriceHistory(ctx context.Context, id model.TokenID, from, to time.Time) ([]model.PriceSample, error)
	GetMaxPrice(ctx context.Context, id model.TokenID) (decimal.Decimal, error)
	GetActiveWallets(ctx context.Context, since time.Time) ([]string, error)
	GetTrustlinePosition(ctx context.Context, id model.TokenID, ts time.Time) (int, error)

	UpsertWalletState(ctx context.Context, address string, patch WalletStatePatch) error
	UpdateWalletAlphaScore(ctx context.Context, address string, score decimal.Decimal, at time.Time) error

	RecordAlert(ctx context.Context, alert model.TokenAlert) error
	RecentAlerts(ctx context.Context, limit int) ([]model.TokenAlert, error)

	Close() error
}

// TokenStatePatch carries last-writer-wins field updates for
// UpsertTokenState. Nil pointers leave the corresponding field
// untouched.
type TokenStatePatch struct {
	FirstSeen       *time.Time
	FirstSeenTxHash *string
	TrustLines   *int64
	TrustLineDelta *int64
	Trades       *int64
	TradesDelta  *int64
	TotalVolumeDelta *decimal.Decimal
	FirstTradeAt *time.Time
	Status       *model.TokenStatus
	CreationDate *time.Time
	Creator      *string
	IsFrozen     *bool
	CurrentPrice *decimal.Decimal
	FirstPrice   *decimal.Decimal
	FirstPriceAt *time.Time
}

// WalletStatePatch carries last-writer-wins field updates for
// UpsertWalletState.
type WalletStatePatch struct {
	FirstSeen  *time.Time
	LastActive *time.Time
}
