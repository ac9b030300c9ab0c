package serum

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Signer is a signing credential resolved by the chain provider.
type Signer interface {
	PublicKey() string
	Sign(message []byte) ([]byte, error)
}

// Token is an SPL token known to the chain provider.
type Token struct {
	Symbol   string
	Mint     string
	Decimals int
}

// ChainProvider is the chain-level capability the connector depends on.
// One provider instance holds one physical RPC connection per network.
type ChainProvider interface {
	Network() string
	GetKeypair(address string) (Signer, error)
	GetTokenForSymbol(symbol string) (*Token, error)
	// GetOrCreateAssociatedTokenAccount returns the owner's token wallet for
	// the given mint, creating it on chain when absent.
	GetOrCreateAssociatedTokenAccount(ctx context.Context, owner Signer, mint string) (string, error)
	Ready() bool
}

// VenueOrder is a venue-native open order record.
type VenueOrder struct {
	ExchangeID        string
	ClientID          string
	OpenOrdersAddress string
	Side              string
	Price             decimal.Decimal
	Size              decimal.Decimal
	FeeCost           decimal.Decimal
}

// VenueFill is a venue-native fill event.
type VenueFill struct {
	ExchangeID string
	SeqNum     uint64
	Side       string
	Price      decimal.Decimal
	Size       decimal.Decimal
	FeeCost    decimal.Decimal
	Timestamp  time.Time
}

// OrderCandidate is the venue-native form of a create-order request,
// ready for inclusion in a physical transaction.
type OrderCandidate struct {
	ClientID string
	Side     string
	Type     string
	Price    decimal.Decimal
	Size     decimal.Decimal
	// Payer is the token wallet funding the order.
	Payer string
}

// MarketAPI is the venue-specific handle of one loaded market. A physical
// transaction per call; PlaceOrders, ReplaceOrders and CancelOrders each
// submit exactly one.
type MarketAPI interface {
	LoadBids(ctx context.Context) ([]PriceLevel, error)
	LoadAsks(ctx context.Context) ([]PriceLevel, error)
	LoadOrdersForOwner(ctx context.Context, owner string) ([]VenueOrder, error)
	LoadRecentFills(ctx context.Context) ([]VenueFill, error)
	FindOpenOrdersAccounts(ctx context.Context, owner string) ([]OpenOrdersAccount, error)
	PlaceOrders(ctx context.Context, owner Signer, candidates []OrderCandidate) (string, error)
	ReplaceOrders(ctx context.Context, owner Signer, candidates []OrderCandidate) (string, error)
	CancelOrders(ctx context.Context, owner Signer, orders []VenueOrder) (string, error)
	SettleFunds(ctx context.Context, owner Signer, account OpenOrdersAccount, baseWallet, quoteWallet string) (string, error)
}

// MarketLoader resolves a market descriptor into a loaded market with a
// live venue handle.
type MarketLoader interface {
	LoadMarket(ctx context.Context, descriptor MarketDescriptor) (*Market, error)
}
