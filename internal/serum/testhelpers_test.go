package serum

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openclob/serum-gateway/internal/config"
	"github.com/openclob/serum-gateway/pkg/executor"
)

type fakeSigner struct {
	pub string
}

func (s fakeSigner) PublicKey() string { return s.pub }

func (s fakeSigner) Sign([]byte) ([]byte, error) { return []byte("signed"), nil }

type fakeChain struct {
	network  string
	notReady bool

	mu       sync.Mutex
	ataCalls int
}

func (c *fakeChain) Network() string {
	if c.network == "" {
		return "mainnet-beta"
	}
	return c.network
}

func (c *fakeChain) GetKeypair(address string) (Signer, error) {
	return fakeSigner{pub: address}, nil
}

func (c *fakeChain) GetTokenForSymbol(symbol string) (*Token, error) {
	return &Token{Symbol: symbol, Mint: "mint-" + symbol, Decimals: 6}, nil
}

func (c *fakeChain) GetOrCreateAssociatedTokenAccount(_ context.Context, owner Signer, mint string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ataCalls++
	return "wallet-" + owner.PublicKey() + "-" + mint, nil
}

func (c *fakeChain) Ready() bool { return !c.notReady }

type fakeMarketAPI struct {
	mu           sync.Mutex
	placeCalls   [][]OrderCandidate
	replaceCalls [][]OrderCandidate
	cancelCalls  [][]VenueOrder
	settleCalls  []OpenOrdersAccount

	placeErr  error
	cancelErr error
	settleErr error

	openOrders []VenueOrder
	fills      []VenueFill
	accounts   []OpenOrdersAccount
	bids       []PriceLevel
	asks       []PriceLevel
}

func (m *fakeMarketAPI) LoadBids(context.Context) ([]PriceLevel, error) { return m.bids, nil }

func (m *fakeMarketAPI) LoadAsks(context.Context) ([]PriceLevel, error) { return m.asks, nil }

func (m *fakeMarketAPI) LoadOrdersForOwner(context.Context, string) ([]VenueOrder, error) {
	return m.openOrders, nil
}

func (m *fakeMarketAPI) LoadRecentFills(context.Context) ([]VenueFill, error) {
	return m.fills, nil
}

func (m *fakeMarketAPI) FindOpenOrdersAccounts(context.Context, string) ([]OpenOrdersAccount, error) {
	return m.accounts, nil
}

func (m *fakeMarketAPI) PlaceOrders(_ context.Context, _ Signer, candidates []OrderCandidate) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.placeErr != nil {
		return "", m.placeErr
	}
	m.placeCalls = append(m.placeCalls, candidates)
	return "place-sig", nil
}

func (m *fakeMarketAPI) ReplaceOrders(_ context.Context, _ Signer, candidates []OrderCandidate) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replaceCalls = append(m.replaceCalls, candidates)
	return "replace-sig", nil
}

func (m *fakeMarketAPI) CancelOrders(_ context.Context, _ Signer, orders []VenueOrder) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancelErr != nil {
		return "", m.cancelErr
	}
	m.cancelCalls = append(m.cancelCalls, orders)
	return "cancel-sig", nil
}

func (m *fakeMarketAPI) SettleFunds(_ context.Context, _ Signer, account OpenOrdersAccount, _, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settleErr != nil {
		return "", m.settleErr
	}
	m.settleCalls = append(m.settleCalls, account)
	return "settle-sig", nil
}

type fakeLoader struct {
	mu    sync.Mutex
	loads int
	apis  map[string]*fakeMarketAPI
}

func (l *fakeLoader) LoadMarket(_ context.Context, d MarketDescriptor) (*Market, error) {
	l.mu.Lock()
	l.loads++
	api := l.apis[d.Name]
	l.mu.Unlock()
	if api == nil {
		api = &fakeMarketAPI{}
	}
	base, quote := SplitMarketName(d.Name)
	return &Market{
		Name:        d.Name,
		Address:     d.Address,
		ProgramID:   d.ProgramID,
		BaseSymbol:  base,
		QuoteSymbol: quote,
		API:         api,
	}, nil
}

func (l *fakeLoader) loadCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loads
}

// marketsServer serves a markets list the way the published JSON does.
func marketsServer(t *testing.T, descriptors []MarketDescriptor) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(descriptors))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testSerumConfig(marketsURL string) config.SerumConfig {
	return config.SerumConfig{
		ProgramID: "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin",
		Markets:   config.MarketsConfig{URL: marketsURL},
		Cache: config.CacheConfig{
			MarketsInformation: time.Minute,
			Markets:            time.Minute,
		},
		Orders: config.OrdersConfig{
			FilledLimit:             1000,
			CreateMaxPerTransaction: 8,
			CancelMaxPerTransaction: 25,
		},
		Transactions: config.TransactionsConfig{
			MergeCreateOrders: true,
			MergeCancelOrders: true,
		},
		Tickers: config.TickersConfig{Sources: []string{"aggregator", "lastFill"}},
		Fills:   config.FillsConfig{Timeout: time.Second},
	}
}

func testPolicies() (executor.RetryPolicy, executor.BatchPolicy) {
	retry := executor.RetryPolicy{MaxRetries: 0, Delay: time.Millisecond, Timeout: 5 * time.Second}
	batch := executor.BatchPolicy{Size: 10}
	return retry, batch
}

func newTestRegistry(t *testing.T, cfg config.SerumConfig, loader *fakeLoader) *Registry {
	t.Helper()
	retry, batch := testPolicies()
	return NewRegistry(cfg, retry, batch, loader, zap.NewNop())
}

func newTestEngine(t *testing.T, cfg config.SerumConfig, loader *fakeLoader, chain *fakeChain) *Engine {
	t.Helper()
	retry, batch := testPolicies()
	registry := NewRegistry(cfg, retry, batch, loader, zap.NewNop())
	history := NewHistoryClient(cfg.Fills, zap.NewNop())
	return NewEngine(cfg, retry, batch, registry, chain, history, zap.NewNop())
}
