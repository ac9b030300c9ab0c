package serumdex

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclob/serum-gateway/internal/serum"
	"github.com/openclob/serum-gateway/internal/solana"
)

type fakeChain struct{}

func (fakeChain) Network() string { return "mainnet-beta" }

func (fakeChain) GetKeypair(string) (serum.Signer, error) { return nil, nil }

func (fakeChain) GetTokenForSymbol(symbol string) (*serum.Token, error) {
	decimals := map[string]int{"SOL": 9, "USDC": 6}
	return &serum.Token{Symbol: symbol, Mint: testKey(40), Decimals: decimals[symbol]}, nil
}

func (fakeChain) GetOrCreateAssociatedTokenAccount(context.Context, serum.Signer, string) (string, error) {
	return "", nil
}

func (fakeChain) Ready() bool { return true }

// rpcFixture answers the JSON-RPC methods the venue layer uses from canned
// account data.
type rpcFixture struct {
	accounts        map[string][]byte
	programAccounts map[string][]byte

	mu   sync.Mutex
	sent []string
}

func (f *rpcFixture) sentTransactions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *rpcFixture) server(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
			Params []any  `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		w.Header().Set("Content-Type", "application/json")
		write := func(result any) {
			json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": 1, "result": result})
		}

		switch req.Method {
		case "getAccountInfo":
			address := req.Params[0].(string)
			data, ok := f.accounts[address]
			if !ok {
				write(map[string]any{"value": nil})
				return
			}
			write(map[string]any{"value": map[string]any{
				"owner":    testKey(50),
				"lamports": 1,
				"data":     []string{base64.StdEncoding.EncodeToString(data), "base64"},
			}})
		case "getProgramAccounts":
			rows := make([]any, 0, len(f.programAccounts))
			for pubkey, data := range f.programAccounts {
				rows = append(rows, map[string]any{
					"pubkey": pubkey,
					"account": map[string]any{
						"data": []string{base64.StdEncoding.EncodeToString(data), "base64"},
					},
				})
			}
			write(rows)
		case "getLatestBlockhash":
			write(map[string]any{"value": map[string]any{"blockhash": base58.Encode(make([]byte, 32))}})
		case "getMinimumBalanceForRentExemption":
			write(23357760)
		case "sendTransaction":
			f.mu.Lock()
			f.sent = append(f.sent, req.Params[0].(string))
			f.mu.Unlock()
			write("tx-signature-1")
		default:
			t.Fatalf("unexpected rpc method %s", req.Method)
		}
	}))
}

func marketFixture(t *testing.T) (string, []byte, *marketState) {
	t.Helper()
	address := testKey(30)
	state := &marketState{
		OwnAddress:       address,
		VaultSignerNonce: 1,
		BaseMint:         testKey(31),
		QuoteMint:        testKey(32),
		BaseVault:        testKey(33),
		QuoteVault:       testKey(34),
		RequestQueue:     testKey(35),
		EventQueue:       testKey(36),
		Bids:             testKey(37),
		Asks:             testKey(38),
		BaseLotSize:      100000000,
		QuoteLotSize:     100,
	}

	b := &byteBuilder{}
	b.pad(5)
	b.pad(8)
	b.pubkey(state.OwnAddress)
	b.u64(state.VaultSignerNonce)
	b.pubkey(state.BaseMint)
	b.pubkey(state.QuoteMint)
	b.pubkey(state.BaseVault)
	b.pad(16)
	b.pubkey(state.QuoteVault)
	b.pad(24)
	b.pubkey(state.RequestQueue)
	b.pubkey(state.EventQueue)
	b.pubkey(state.Bids)
	b.pubkey(state.Asks)
	b.u64(state.BaseLotSize)
	b.u64(state.QuoteLotSize)
	b.pad(16) // fee rate bps, referrer rebates accrued
	b.pad(7)
	return address, b.bytes(), state
}

func openOrdersFixture(market, owner string, baseFree, quoteFree uint64) []byte {
	b := &byteBuilder{}
	b.pad(5)
	b.pad(8)
	b.pubkey(market)
	b.pubkey(owner)
	b.u64(baseFree)
	b.u64(baseFree)
	b.u64(quoteFree)
	b.u64(quoteFree)
	b.pad(openOrdersAccountSize - b.buf.Len())
	return b.bytes()
}

func newTestMarket(t *testing.T, fixture *rpcFixture) (*serum.Market, func()) {
	t.Helper()
	srv := fixture.server(t)
	rpc := solana.NewRPCClient(srv.URL, 5*time.Second)
	loader := NewLoader(rpc, fakeChain{}, testKey(39))

	market, err := loader.LoadMarket(context.Background(), serum.MarketDescriptor{
		Name:    "SOL/USDC",
		Address: testKey(30),
	})
	require.NoError(t, err)
	return market, srv.Close
}

func TestLoadMarketDerivesSizesFromLots(t *testing.T) {
	address, data, _ := marketFixture(t)
	fixture := &rpcFixture{accounts: map[string][]byte{address: data}}

	market, done := newTestMarket(t, fixture)
	defer done()

	assert.Equal(t, "SOL/USDC", market.Name)
	assert.Equal(t, "SOL", market.BaseSymbol)
	assert.Equal(t, "USDC", market.QuoteSymbol)
	assert.True(t, market.TickSize.Equal(decimal.RequireFromString("0.001")))
	assert.True(t, market.MinimumOrderSize.Equal(decimal.RequireFromString("0.1")))
	assert.NotNil(t, market.API)
}

func TestLoadBidsSortedBestFirst(t *testing.T) {
	address, data, state := marketFixture(t)
	owner := testKey(41)
	bids := slabFixture(t, []slabOrder{
		{OrderID: slabKey(490, 1), SizeLots: 5, OpenOrders: owner},
		{OrderID: slabKey(500, 2), SizeLots: 10, OpenOrders: owner},
	}, false)

	fixture := &rpcFixture{accounts: map[string][]byte{
		address:    data,
		state.Bids: bids,
	}}
	market, done := newTestMarket(t, fixture)
	defer done()

	levels, err := market.API.LoadBids(context.Background())
	require.NoError(t, err)
	require.Len(t, levels, 2)
	assert.True(t, levels[0].Price.Equal(decimal.RequireFromString("0.5")))
	assert.True(t, levels[1].Price.Equal(decimal.RequireFromString("0.49")))
}

func TestLoadOrdersForOwnerFiltersByOpenOrdersAccount(t *testing.T) {
	address, data, state := marketFixture(t)
	owner := testKey(42)
	myOOA := testKey(43)
	otherOOA := testKey(44)

	fixture := &rpcFixture{
		accounts: map[string][]byte{
			address: data,
			state.Bids: slabFixture(t, []slabOrder{
				{OrderID: slabKey(500, 1), SizeLots: 10, OpenOrders: myOOA, ClientID: 7},
				{OrderID: slabKey(490, 2), SizeLots: 3, OpenOrders: otherOOA},
			}, false),
			state.Asks: slabFixture(t, nil, false),
		},
		programAccounts: map[string][]byte{
			myOOA: openOrdersFixture(address, owner, 0, 0),
		},
	}
	market, done := newTestMarket(t, fixture)
	defer done()

	orders, err := market.API.LoadOrdersForOwner(context.Background(), owner)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "buy", orders[0].Side)
	assert.Equal(t, "7", orders[0].ClientID)
	assert.Equal(t, myOOA, orders[0].OpenOrdersAddress)
	assert.True(t, orders[0].Price.Equal(decimal.RequireFromString("0.5")))
}

func TestLoadRecentFillsDerivesPriceFromNativeQuantities(t *testing.T) {
	address, data, state := marketFixture(t)
	owner := testKey(45)

	events := []fillEvent{
		// a buyer: released 2 SOL base, paid 50 USDC quote
		{OrderID: slabKey(500, 1), NativeQtyOut: 2_000_000_000, NativeQtyIn: 50_000_000, NativeFee: 1000, OpenOrders: owner, ClientID: 9},
	}
	flags := []byte{eventFlagFill | eventFlagBid}

	fixture := &rpcFixture{accounts: map[string][]byte{
		address:          data,
		state.EventQueue: eventQueueFixture(t, 0, 1, 1, events, flags),
	}}
	market, done := newTestMarket(t, fixture)
	defer done()

	fills, err := market.API.LoadRecentFills(context.Background())
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, "buy", fills[0].Side)
	assert.True(t, fills[0].Size.Equal(decimal.RequireFromString("2")))
	assert.True(t, fills[0].Price.Equal(decimal.RequireFromString("25")))
	assert.True(t, fills[0].FeeCost.Equal(decimal.RequireFromString("0.001")))
}

func TestFindOpenOrdersAccountsConvertsFreeBalances(t *testing.T) {
	address, data, _ := marketFixture(t)
	owner := testKey(46)
	ooa := testKey(47)

	fixture := &rpcFixture{
		accounts: map[string][]byte{address: data},
		programAccounts: map[string][]byte{
			ooa: openOrdersFixture(address, owner, 1_500_000_000, 42_000_000),
		},
	}
	market, done := newTestMarket(t, fixture)
	defer done()

	accounts, err := market.API.FindOpenOrdersAccounts(context.Background(), owner)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, ooa, accounts[0].Address)
	assert.Equal(t, owner, accounts[0].Owner)
	assert.True(t, accounts[0].BaseTokenFree.Equal(decimal.RequireFromString("1.5")))
	assert.True(t, accounts[0].QuoteTokenFree.Equal(decimal.RequireFromString("42")))
}

func TestPlaceOrdersSubmitsOneTransaction(t *testing.T) {
	address, data, _ := marketFixture(t)
	signer, err := solana.NewRandomKeypair()
	require.NoError(t, err)
	ooa := testKey(48)

	fixture := &rpcFixture{
		accounts: map[string][]byte{address: data},
		programAccounts: map[string][]byte{
			ooa: openOrdersFixture(address, signer.PublicKey(), 0, 0),
		},
	}
	market, done := newTestMarket(t, fixture)
	defer done()

	candidates := []serum.OrderCandidate{
		{ClientID: "1", Side: "buy", Type: "limit", Price: decimal.RequireFromString("0.5"), Size: decimal.RequireFromString("1"), Payer: testKey(49)},
		{ClientID: "2", Side: "sell", Type: "ioc", Price: decimal.RequireFromString("0.6"), Size: decimal.RequireFromString("2"), Payer: testKey(49)},
	}
	signature, err := market.API.PlaceOrders(context.Background(), signer, candidates)
	require.NoError(t, err)
	assert.Equal(t, "tx-signature-1", signature)
	assert.Len(t, fixture.sentTransactions(), 1)
}

func TestPlaceOrdersRejectsDustOrders(t *testing.T) {
	address, data, _ := marketFixture(t)
	signer, err := solana.NewRandomKeypair()
	require.NoError(t, err)

	fixture := &rpcFixture{
		accounts:        map[string][]byte{address: data},
		programAccounts: map[string][]byte{testKey(48): openOrdersFixture(address, signer.PublicKey(), 0, 0)},
	}
	market, done := newTestMarket(t, fixture)
	defer done()

	_, err = market.API.PlaceOrders(context.Background(), signer, []serum.OrderCandidate{
		{ClientID: "1", Side: "buy", Type: "limit", Price: decimal.RequireFromString("0.0000001"), Size: decimal.RequireFromString("1"), Payer: testKey(49)},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "below market lot sizes")
	assert.Empty(t, fixture.sentTransactions())
}

func TestCancelOrdersRejectsMalformedExchangeID(t *testing.T) {
	address, data, _ := marketFixture(t)
	signer, err := solana.NewRandomKeypair()
	require.NoError(t, err)

	fixture := &rpcFixture{accounts: map[string][]byte{address: data}}
	market, done := newTestMarket(t, fixture)
	defer done()

	_, err = market.API.CancelOrders(context.Background(), signer, []serum.VenueOrder{
		{ExchangeID: "not-a-number", Side: "buy", OpenOrdersAddress: testKey(48)},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid exchange order id")
}

func TestSettleFundsSubmitsOneTransaction(t *testing.T) {
	address, data, _ := marketFixture(t)
	signer, err := solana.NewRandomKeypair()
	require.NoError(t, err)

	fixture := &rpcFixture{accounts: map[string][]byte{address: data}}
	market, done := newTestMarket(t, fixture)
	defer done()

	account := serum.OpenOrdersAccount{Address: testKey(48), Owner: signer.PublicKey()}
	signature, err := market.API.SettleFunds(context.Background(), signer, account, testKey(49), testKey(50))
	require.NoError(t, err)
	assert.Equal(t, "tx-signature-1", signature)
	assert.Len(t, fixture.sentTransactions(), 1)
}
