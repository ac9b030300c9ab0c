// Package serum implements the market-access layer for the Serum
// decentralized exchange: market registry and caching, order lifecycle
// orchestration, fill reconciliation and ticker resolution. It consumes
// narrow provider interfaces for everything chain-specific.
package serum

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the caller-facing order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType is the caller-facing order type.
type OrderType string

const (
	OrderTypeLimit    OrderType = "LIMIT"
	OrderTypeIOC      OrderType = "IOC"
	OrderTypePostOnly OrderType = "POST_ONLY"
)

// OrderStatus is the lifecycle state of an order as seen by the gateway.
type OrderStatus string

const (
	OrderStatusOpen               OrderStatus = "OPEN"
	OrderStatusFilled             OrderStatus = "FILLED"
	OrderStatusCanceled           OrderStatus = "CANCELED"
	OrderStatusCreationPending    OrderStatus = "CREATION_PENDING"
	OrderStatusCancelationPending OrderStatus = "CANCELATION_PENDING"
	OrderStatusUnknown            OrderStatus = "UNKNOWN"
	OrderStatusFailed             OrderStatus = "FAILED"
	OrderStatusDone               OrderStatus = "DONE"
)

// MarketDescriptor is one row of the published markets list.
type MarketDescriptor struct {
	Name          string `json:"name"`
	Address       string `json:"address"`
	ProgramID     string `json:"programId"`
	Deprecated    bool   `json:"deprecated"`
	TickerAddress string `json:"tickerAddress,omitempty"`
}

// Market is a tradable base/quote pair hosted at an on-chain address.
// Immutable once loaded; cached by the registry with a TTL.
type Market struct {
	Name             string          `json:"name"`
	Address          string          `json:"address"`
	ProgramID        string          `json:"programId"`
	BaseSymbol       string          `json:"baseSymbol"`
	QuoteSymbol      string          `json:"quoteSymbol"`
	MinimumOrderSize decimal.Decimal `json:"minimumOrderSize"`
	TickSize         decimal.Decimal `json:"tickSize"`
	Deprecated       bool            `json:"deprecated"`
	TickerAddress    string          `json:"-"`

	API MarketAPI `json:"-"`
}

// SplitMarketName returns the base and quote symbols of a "BASE/QUOTE" name.
func SplitMarketName(name string) (base, quote string) {
	parts := strings.SplitN(name, "/", 2)
	base = parts[0]
	if len(parts) == 2 {
		quote = parts[1]
	}
	return base, quote
}

// PriceLevel is one aggregated price point of an order book side.
type PriceLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// OrderBook is a point-in-time snapshot of one market's bids and asks.
type OrderBook struct {
	MarketName string       `json:"marketName"`
	Bids       []PriceLevel `json:"bids"`
	Asks       []PriceLevel `json:"asks"`
	Timestamp  time.Time    `json:"timestamp"`
}

// Ticker is the last traded price of a market.
type Ticker struct {
	MarketName string          `json:"marketName"`
	Price      decimal.Decimal `json:"price"`
	Timestamp  time.Time       `json:"timestamp"`
	Source     string          `json:"source"`
}

// Fill is a historical record of a match against a counterparty.
type Fill struct {
	ExchangeID string          `json:"exchangeOrderId,omitempty"`
	SeqNum     uint64          `json:"seqNum,omitempty"`
	MarketName string          `json:"marketName"`
	Side       Side            `json:"side"`
	Price      decimal.Decimal `json:"price"`
	Amount     decimal.Decimal `json:"amount"`
	FeeCost    decimal.Decimal `json:"feeCost"`
	Timestamp  time.Time       `json:"timestamp"`
}

// OpenOrdersAccount is the per-owner-per-market escrow account holding
// balances pending settlement.
type OpenOrdersAccount struct {
	Address        string          `json:"address"`
	Owner          string          `json:"owner"`
	BaseTokenFree  decimal.Decimal `json:"baseTokenFree"`
	QuoteTokenFree decimal.Decimal `json:"quoteTokenFree"`
}

// HasFreeBalance reports whether any funds are waiting to be settled.
func (a OpenOrdersAccount) HasFreeBalance() bool {
	return a.BaseTokenFree.IsPositive() || a.QuoteTokenFree.IsPositive()
}

// TransactionSignatures collects the signatures associated with an order's
// lifecycle phases. Each phase is append-only: once populated it is never
// replaced with emptier data, except when an ambiguous outcome makes the
// association unknowable.
type TransactionSignatures struct {
	Creation     []string `json:"creation,omitempty"`
	Cancellation []string `json:"cancellation,omitempty"`
	Settlement   []string `json:"settlement,omitempty"`
}

func (s *TransactionSignatures) AppendCreation(sigs ...string) {
	s.Creation = append(s.Creation, sigs...)
}

func (s *TransactionSignatures) AppendCancellation(sigs ...string) {
	s.Cancellation = append(s.Cancellation, sigs...)
}

func (s *TransactionSignatures) AppendSettlement(sigs ...string) {
	s.Settlement = append(s.Settlement, sigs...)
}

// DropCreation forgets the creation signatures after an ambiguous outcome;
// they cannot be known to apply to the order.
func (s *TransactionSignatures) DropCreation() { s.Creation = nil }

// DropCancellation forgets the cancellation signatures after an ambiguous
// outcome.
func (s *TransactionSignatures) DropCancellation() { s.Cancellation = nil }

// Order is the gateway's view of a venue order.
type Order struct {
	ID           string                `json:"id,omitempty"`
	ExchangeID   string                `json:"exchangeOrderId,omitempty"`
	MarketName   string                `json:"marketName"`
	OwnerAddress string                `json:"ownerAddress"`
	Side         Side                  `json:"side"`
	Price        decimal.Decimal       `json:"price"`
	Amount       decimal.Decimal       `json:"amount"`
	Type         OrderType             `json:"type"`
	Status       OrderStatus           `json:"status"`
	Signatures   TransactionSignatures `json:"signatures"`
	FillTime     time.Time             `json:"fillTime,omitempty"`
}

// CreateOrderRequest is one candidate order of a create call.
type CreateOrderRequest struct {
	ID              string          `json:"id,omitempty"`
	MarketName      string          `json:"marketName"`
	OwnerAddress    string          `json:"ownerAddress"`
	PayerAddress    string          `json:"payerAddress,omitempty"`
	Side            Side            `json:"side"`
	Price           decimal.Decimal `json:"price"`
	Amount          decimal.Decimal `json:"amount"`
	Type            OrderType       `json:"type"`
	ReplaceIfExists bool            `json:"replaceIfExists,omitempty"`
}

// CancelOrderRequest identifies orders to cancel. ID and ExchangeID are
// optional filters; absent both, every open order for owner+market matches.
type CancelOrderRequest struct {
	ID           string `json:"id,omitempty"`
	ExchangeID   string `json:"exchangeOrderId,omitempty"`
	MarketName   string `json:"marketName"`
	OwnerAddress string `json:"ownerAddress"`
}

// GetOrderRequest identifies a single order. MarketName is an optional
// narrowing hint; without it every market is scanned.
type GetOrderRequest struct {
	ID           string `json:"id,omitempty"`
	ExchangeID   string `json:"exchangeOrderId,omitempty"`
	MarketName   string `json:"marketName,omitempty"`
	OwnerAddress string `json:"ownerAddress"`
}

// GetFillsRequest bounds a fill-history query.
type GetFillsRequest struct {
	MarketNames []string `json:"marketNames"`
	Account     string   `json:"account"`
	Limit       int      `json:"limit"`
}
