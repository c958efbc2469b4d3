// Package model holds the shared data types that flow between every
// component of the oracle: parsed ledger events, per-token and
// per-wallet projections, and the tagged-variant frame classification
// used at the parser boundary.
package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TokenID is the primary key for all per-token state: a currency code
// paired with its issuer account. Currency is opaque (3-40 chars);
// issuer is a ledger account address.
type TokenID struct {
	Currency string
	Issuer   string
}

// String renders the canonical "CURRENCY:ISSUER" key used for maps,
// snapshot files, and log fields.
func (t TokenID) String() string {
	return fmt.Sprintf("%s:%s", t.Currency, t.Issuer)
}

// TokenStatus is the lifecycle state of a TokenState row.
type TokenStatus string

const (
	StatusPending  TokenStatus = "pending"
	StatusActive   TokenStatus = "active"
	StatusTooOld   TokenStatus = "too_old"
	StatusFiltered TokenStatus = "filtered"
)

// FrameKind tags the classification TxParser assigns to a decoded
// ledger frame. Downstream code dispatches on Kind, never on the
// shape of the original payload.
type FrameKind string

const (
	KindTrustSet    FrameKind = "trust_set"
	KindPayment     FrameKind = "payment"
	KindUnvalidated FrameKind = "unvalidated"
	KindOther       FrameKind = "other"
	KindError       FrameKind = "error"
)

// TrustLineEvent is an immutable record of a TrustSet transaction
// establishing, adjusting, or removing a trust line.
type TrustLineEvent struct {
	TokenID   TokenID
	Wallet    string
	Limit     decimal.Decimal
	TxHash    string
	Timestamp time.Time
	IsRemoval bool
}

// TradeEvent is an immutable record of a token-denominated Payment.
type TradeEvent struct {
	TokenID          TokenID
	Buyer            string
	Seller           string
	Amount           decimal.Decimal
	DeliveredAmount  decimal.Decimal
	PriceNative      decimal.Decimal
	TxHash           string
	Timestamp        time.Time
}

// TokenState is the mutable per-token projection. Mutated only by
// TokenTracker, TokenAnalyzer, and PriceMonitor, never directly by
// TxParser or StreamingMonitor.
type TokenState struct {
	TokenID         TokenID
	FirstSeen       time.Time
	FirstSeenTxHash string
	TrustLines   int64
	Trades       int64
	TotalVolume  decimal.Decimal
	FirstTradeAt *time.Time
	Status       TokenStatus
	CreationDate *time.Time
	Creator      string
	IsFrozen     bool
	CurrentPrice *decimal.Decimal
	FirstPrice   *decimal.Decimal
	FirstPriceAt *time.Time
	MaxPrice     *decimal.Decimal
	MaxPriceAt   *time.Time
	LastUpdated  time.Time
}

// PriceSample is an append-only observation of a token's price at a
// point in time.
type PriceSample struct {
	TokenID   TokenID
	Price     decimal.Decimal
	Timestamp time.Time
}

// WalletState is the mutable per-wallet projection.
type WalletState struct {
	Address     string
	FirstSeen   time.Time
	LastActive  time.Time
	AlphaScore  *decimal.Decimal
	ScoreUpdated *time.Time
}

// Frame is the normalized shape of a decoded ledger message, after
// TxParser has resolved the transaction/tx_json ambiguity. Timestamp
// is the wall-clock UTC time TxParser parsed the frame, not a
// ledger-reported time. All downstream
// code operates on Frame, never on the raw transport payload.
type Frame struct {
	Kind          FrameKind
	Validated     bool
	Account       string
	TransactionType string
	Hash          string
	Timestamp     time.Time
	ResultCode    string
	TrustSet      *TrustSetFields
	Payment       *PaymentFields
}

// TrustSetFields holds the fields TxParser extracts from a validated
// TrustSet transaction.
type TrustSetFields struct {
	Currency string
	Issuer   string
	Value    string
	Wallet   string
}

// PaymentFields holds the fields TxParser extracts from a validated,
// token-denominated Payment transaction.
type PaymentFields struct {
	Currency        string
	Issuer          string
	Value           decimal.Decimal
	DeliveredValue  decimal.Decimal
	PriceNative     decimal.Decimal
	Buyer           string
	Seller          string
}

// RippleEpoch is the ledger's reference epoch: seconds reported by
// ledger timestamps (tx.date, close_time) count from this instant,
// not from the Unix epoch.
var RippleEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// RippleTimeToUTC converts a ledger-epoch second count to wall-clock
// UTC time.
func RippleTimeToUTC(seconds int64) time.Time {
	return RippleEpoch.Add(time.Duration(seconds) * time.Second)
}

// DropsToNative converts an integer drops amount (the ledger's minor
// unit, 10^-6 of the display unit) to a decimal display-unit amount.
func DropsToNative(drops int64) decimal.Decimal {
	return decimal.NewFromInt(drops).Div(decimal.NewFromInt(1_000_000))
}

const globalFreezeFlag = 0x00100000

// HasGlobalFreeze reports whether an AccountSet Flags bitmask carries
// the global-freeze bit.
func HasGlobalFreeze(flags uint32) bool {
	return flags&globalFreezeFlag != 0
}

const partialPaymentFlag = 0x00020000

// PartialPaymentFlag is the tfPartialPayment bit set on a Payment that
// allows delivering less than the nominal Amount, used by Follower's
// optional auto-purchase.
const PartialPaymentFlag = partialPaymentFlag

// TokenAlert is a threshold-tripped observability record raised through
// alerting.Manager, by the dump-pattern detector (internal/dumpdetector)
// and by ReactivationScanner.
type TokenAlert struct {
	ID          string
	TokenID     TokenID
	AlertType   string
	Severity    string
	Message     string
	DetectedAt  time.Time
	Confirmed   bool
}
