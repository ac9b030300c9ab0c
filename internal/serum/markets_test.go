package serum

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang.org/x/sync/errgroup"
)

func testDescriptors() []MarketDescriptor {
	return []MarketDescriptor{
		{Name: "SOL/USDC", Address: "addr-sol-usdc", ProgramID: "prog"},
		{Name: "SRM/SOL", Address: "addr-srm-sol", ProgramID: "prog"},
		{Name: "SRM/USDC", Address: "addr-srm-usdc", ProgramID: "prog"},
		{Name: "OLD/USDC", Address: "addr-old", ProgramID: "prog", Deprecated: true},
	}
}

func TestGetAllMarketsFiltersDeprecated(t *testing.T) {
	srv := marketsServer(t, testDescriptors())
	registry := newTestRegistry(t, testSerumConfig(srv.URL), &fakeLoader{})

	markets, err := registry.GetAllMarkets(context.Background())
	require.NoError(t, err)

	assert.Len(t, markets, 3)
	assert.NotContains(t, markets, "OLD/USDC")
}

func TestGetAllMarketsBlacklist(t *testing.T) {
	srv := marketsServer(t, testDescriptors())
	cfg := testSerumConfig(srv.URL)
	cfg.Markets.Blacklist = []string{"SRM/SOL"}

	registry := newTestRegistry(t, cfg, &fakeLoader{})
	markets, err := registry.GetAllMarkets(context.Background())
	require.NoError(t, err)

	assert.Len(t, markets, 2)
	assert.Contains(t, markets, "SOL/USDC")
	assert.Contains(t, markets, "SRM/USDC")
	assert.NotContains(t, markets, "SRM/SOL")
}

func TestGetAllMarketsWhitelistIncludeOnly(t *testing.T) {
	srv := marketsServer(t, testDescriptors())
	cfg := testSerumConfig(srv.URL)
	cfg.Markets.Whitelist = []string{"SOL/USDC"}

	registry := newTestRegistry(t, cfg, &fakeLoader{})
	markets, err := registry.GetAllMarkets(context.Background())
	require.NoError(t, err)

	assert.Len(t, markets, 1)
	assert.Contains(t, markets, "SOL/USDC")
}

func TestGetMarketReturnsCachedInstance(t *testing.T) {
	srv := marketsServer(t, testDescriptors())
	registry := newTestRegistry(t, testSerumConfig(srv.URL), &fakeLoader{})

	all, err := registry.GetAllMarkets(context.Background())
	require.NoError(t, err)

	market, err := registry.GetMarket(context.Background(), "SOL/USDC")
	require.NoError(t, err)
	assert.Same(t, all["SOL/USDC"], market, "lookup returned a different instance than the cached map")
}

func TestGetMarketUnknownName(t *testing.T) {
	srv := marketsServer(t, testDescriptors())
	registry := newTestRegistry(t, testSerumConfig(srv.URL), &fakeLoader{})

	_, err := registry.GetMarket(context.Background(), "DOGE/USDC")
	require.Error(t, err)

	var notFound *MarketNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "DOGE/USDC", notFound.Name)
}

func TestGetMarketsFailsOnFirstUnknown(t *testing.T) {
	srv := marketsServer(t, testDescriptors())
	registry := newTestRegistry(t, testSerumConfig(srv.URL), &fakeLoader{})

	_, err := registry.GetMarkets(context.Background(), []string{"SOL/USDC", "DOGE/USDC"})
	var notFound *MarketNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestConcurrentCallersShareOneLoad(t *testing.T) {
	srv := marketsServer(t, testDescriptors())
	loader := &fakeLoader{}
	registry := newTestRegistry(t, testSerumConfig(srv.URL), loader)

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			_, err := registry.GetAllMarkets(context.Background())
			return err
		})
	}
	require.NoError(t, g.Wait())

	// three non-deprecated markets, each loaded exactly once
	assert.Equal(t, 3, loader.loadCount())
}

func TestMarketsListFallsBackToBundledList(t *testing.T) {
	cfg := testSerumConfig("http://127.0.0.1:1/markets.json")
	registry := newTestRegistry(t, cfg, &fakeLoader{})

	markets, err := registry.GetAllMarkets(context.Background())
	require.NoError(t, err)

	assert.Contains(t, markets, "SOL/USDC")
	assert.NotEmpty(t, markets)
}
