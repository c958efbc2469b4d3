// Package txparser decodes opaque ledger frames into the tagged
// model.Frame variant, normalizing the transaction/tx_json ambiguity
// at this single boundary so nothing downstream ever re-inspects the
// raw wire shape. Each frame is stamped with its parse time in UTC; no
// ledger-epoch timestamp is read from the frame.
package txparser

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ledgeroracle/xrpl-oracle/internal/model"
)

// rawFrame mirrors the wire shape of a streamed transaction message:
// type/validated/hash/meta are top-level, while the transaction body
// itself is reachable under either "transaction" or "tx_json"
// depending on the API version the ledger node speaks.
type rawFrame struct {
	Type            string          `json:"type"`
	Validated       bool            `json:"validated"`
	Hash            string          `json:"hash"`
	Transaction     json.RawMessage `json:"transaction"`
	TxJSON          json.RawMessage `json:"tx_json"`
	Meta            json.RawMessage `json:"meta"`
	EngineResult    string          `json:"engine_result"`
}

type txBody struct {
	TransactionType string          `json:"TransactionType"`
	Account         string          `json:"Account"`
	Destination     string          `json:"Destination"`
	LimitAmount     json.RawMessage `json:"LimitAmount"`
	Amount          json.RawMessage `json:"Amount"`
	DeliverMax      json.RawMessage `json:"DeliverMax"`
	SendMax         json.RawMessage `json:"SendMax"`
	Flags           uint32          `json:"Flags"`
}

type issuedAmount struct {
	Currency string `json:"currency"`
	Issuer   string `json:"issuer"`
	Value    string `json:"value"`
}

type txMeta struct {
	TransactionResult string          `json:"TransactionResult"`
	DeliveredAmount   json.RawMessage `json:"DeliveredAmount"`
}

// Config bounds the decisions the parser makes that are not purely
// structural: the minimum token-denominated trade size a Payment must
// carry to classify as a Payment rather than Other.
type Config struct {
	MinTradeVolume decimal.Decimal
}

// Parser decodes raw ledger frames into model.Frame values.
type Parser struct {
	cfg    Config
	logger *logrus.Logger
}

// New constructs a Parser.
func New(cfg Config, logger *logrus.Logger) *Parser {
	return &Parser{cfg: cfg, logger: logger}
}

// Parse decodes a single raw streaming message. It never returns an
// error to the caller: structural failures are logged at debug level
// and reported as model.KindError so the monitor's consumer loop can
// continue unconditionally, per spec's error-policy taxonomy.
func (p *Parser) Parse(raw []byte) model.Frame {
	var rf rawFrame
	if err := json.Unmarshal(raw, &rf); err != nil {
		p.logger.WithError(err).Debug("txparser: malformed frame")
		return model.Frame{Kind: model.KindError}
	}

	if rf.Type == "response" {
		return model.Frame{Kind: model.KindOther}
	}

	if !rf.Validated {
		return model.Frame{Kind: model.KindUnvalidated, Hash: rf.Hash}
	}

	body := rf.Transaction
	if len(body) == 0 {
		body = rf.TxJSON
	}
	if len(body) == 0 {
		p.logger.WithField("hash", rf.Hash).Debug("txparser: no transaction body in validated frame")
		return model.Frame{Kind: model.KindError, Hash: rf.Hash}
	}

	var tx txBody
	if err := json.Unmarshal(body, &tx); err != nil {
		p.logger.WithError(err).Debug("txparser: malformed transaction body")
		return model.Frame{Kind: model.KindError, Hash: rf.Hash}
	}

	var meta txMeta
	if len(rf.Meta) > 0 {
		_ = json.Unmarshal(rf.Meta, &meta)
	}

	// Stamped here, at the single parser boundary, rather than derived
	// from the ledger's own close_time: wall-clock-at-ingestion, not
	// wall-clock-at-chain-event, matches the reference's insert-time
	// datetime.utcnow() convention.
	now := time.Now().UTC()

	var frame model.Frame
	switch tx.TransactionType {
	case "TrustSet":
		frame = p.parseTrustSet(rf.Hash, tx)
	case "Payment":
		frame = p.parsePayment(rf.Hash, tx, meta)
	default:
		frame = model.Frame{Kind: model.KindOther, Hash: rf.Hash, Account: tx.Account, TransactionType: tx.TransactionType}
	}
	frame.Timestamp = now
	return frame
}

func (p *Parser) parseTrustSet(hash string, tx txBody) model.Frame {
	if len(tx.LimitAmount) == 0 {
		p.logger.WithField("hash", hash).Debug("txparser: TrustSet without LimitAmount")
		return model.Frame{Kind: model.KindError, Hash: hash}
	}
	var limit issuedAmount
	if err := json.Unmarshal(tx.LimitAmount, &limit); err != nil {
		p.logger.WithError(err).Debug("txparser: malformed LimitAmount")
		return model.Frame{Kind: model.KindError, Hash: hash}
	}
	if limit.Currency == "" || limit.Issuer == "" || tx.Account == "" {
		return model.Frame{Kind: model.KindError, Hash: hash}
	}

	return model.Frame{
		Kind:            model.KindTrustSet,
		Validated:       true,
		Account:         tx.Account,
		TransactionType: tx.TransactionType,
		Hash:            hash,
		TrustSet: &model.TrustSetFields{
			Currency: limit.Currency,
			Issuer:   limit.Issuer,
			Value:    limit.Value,
			Wallet:   tx.Account,
		},
	}
}

func (p *Parser) parsePayment(hash string, tx txBody, meta txMeta) model.Frame {
	// A scalar Amount means native-coin payment; spec classifies this
	// as Other, not Payment.
	if len(tx.Amount) == 0 || tx.Amount[0] != '{' {
		return model.Frame{Kind: model.KindOther, Hash: hash, Account: tx.Account, TransactionType: tx.TransactionType}
	}

	var amt issuedAmount
	if err := json.Unmarshal(tx.Amount, &amt); err != nil {
		p.logger.WithError(err).Debug("txparser: malformed Payment Amount")
		return model.Frame{Kind: model.KindError, Hash: hash}
	}

	value, err := decimal.NewFromString(amt.Value)
	if err != nil {
		p.logger.WithError(err).Debug("txparser: non-decimal Payment value")
		return model.Frame{Kind: model.KindError, Hash: hash}
	}

	if value.LessThan(p.cfg.MinTradeVolume) {
		return model.Frame{Kind: model.KindOther, Hash: hash, Account: tx.Account, TransactionType: tx.TransactionType}
	}

	delivered := value
	if len(meta.DeliveredAmount) > 0 && meta.DeliveredAmount[0] == '{' {
		var da issuedAmount
		if err := json.Unmarshal(meta.DeliveredAmount, &da); err == nil {
			if dv, err := decimal.NewFromString(da.Value); err == nil {
				delivered = dv
			}
		}
	}

	// Price is the native currency the buyer was willing to spend
	// (SendMax, a scalar drops amount for an XRP-funded purchase)
	// divided by the token amount actually delivered, mirroring the
	// book_offers-derived price formula pricemonitor uses elsewhere.
	var priceNative decimal.Decimal
	if len(tx.SendMax) > 0 && tx.SendMax[0] != '{' && !delivered.IsZero() {
		var sendMaxDropsStr string
		if err := json.Unmarshal(tx.SendMax, &sendMaxDropsStr); err == nil {
			if drops, err := decimal.NewFromString(sendMaxDropsStr); err == nil {
				priceNative = model.DropsToNative(drops.IntPart()).Div(delivered)
			}
		}
	}

	return model.Frame{
		Kind:            model.KindPayment,
		Validated:       true,
		Account:         tx.Account,
		TransactionType: tx.TransactionType,
		Hash:            hash,
		ResultCode:      meta.TransactionResult,
		Payment: &model.PaymentFields{
			Currency:       amt.Currency,
			Issuer:         amt.Issuer,
			Value:          value,
			DeliveredValue: delivered,
			PriceNative:    priceNative,
			Buyer:          tx.Destination,
			Seller:         tx.Account,
		},
	}
}

// IsSuccessful reports whether a frame represents a validated
// transaction whose meta carries the ledger's success result code.
func IsSuccessful(f model.Frame) bool {
	return f.Validated && f.ResultCode == "tesSUCCESS"
}
