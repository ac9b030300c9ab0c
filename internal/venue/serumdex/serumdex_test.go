package serumdex

import (
	"bytes"
	"encoding/binary"
	"math/big"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type byteBuilder struct {
	buf bytes.Buffer
}

func (b *byteBuilder) pad(n int)     { b.buf.Write(make([]byte, n)) }
func (b *byteBuilder) u32(v uint32)  { binary.Write(&b.buf, binary.LittleEndian, v) }
func (b *byteBuilder) u64(v uint64)  { binary.Write(&b.buf, binary.LittleEndian, v) }
func (b *byteBuilder) byte(v byte)   { b.buf.WriteByte(v) }
func (b *byteBuilder) bytes() []byte { return b.buf.Bytes() }

func (b *byteBuilder) pubkey(address string) {
	raw, err := base58.Decode(address)
	if err != nil || len(raw) != 32 {
		panic("bad test pubkey " + address)
	}
	b.buf.Write(raw)
}

func (b *byteBuilder) u128(v *big.Int) {
	be := v.FillBytes(make([]byte, 16))
	for i := 15; i >= 0; i-- {
		b.buf.WriteByte(be[i])
	}
}

func testKey(seed byte) string {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = seed
	}
	return base58.Encode(raw)
}

func TestDecodeMarketState(t *testing.T) {
	own := testKey(1)
	baseMint := testKey(2)
	quoteMint := testKey(3)
	baseVault := testKey(4)
	quoteVault := testKey(5)
	requestQueue := testKey(6)
	eventQueue := testKey(7)
	bids := testKey(8)
	asks := testKey(9)

	b := &byteBuilder{}
	b.pad(5) // "serum" padding
	b.pad(8) // account flags
	b.pubkey(own)
	b.u64(3) // vault signer nonce
	b.pubkey(baseMint)
	b.pubkey(quoteMint)
	b.pubkey(baseVault)
	b.pad(16)
	b.pubkey(quoteVault)
	b.pad(24)
	b.pubkey(requestQueue)
	b.pubkey(eventQueue)
	b.pubkey(bids)
	b.pubkey(asks)
	b.u64(100000000) // base lot size
	b.u64(100)       // quote lot size
	b.pad(16)        // fee rate bps, referrer rebates accrued
	b.pad(7)

	require.Len(t, b.bytes(), marketStateSize)

	state, err := decodeMarketState(b.bytes())
	require.NoError(t, err)
	assert.Equal(t, own, state.OwnAddress)
	assert.Equal(t, uint64(3), state.VaultSignerNonce)
	assert.Equal(t, baseMint, state.BaseMint)
	assert.Equal(t, quoteMint, state.QuoteMint)
	assert.Equal(t, baseVault, state.BaseVault)
	assert.Equal(t, quoteVault, state.QuoteVault)
	assert.Equal(t, requestQueue, state.RequestQueue)
	assert.Equal(t, eventQueue, state.EventQueue)
	assert.Equal(t, bids, state.Bids)
	assert.Equal(t, asks, state.Asks)
	assert.Equal(t, uint64(100000000), state.BaseLotSize)
	assert.Equal(t, uint64(100), state.QuoteLotSize)
}

func TestDecodeMarketStateTruncated(t *testing.T) {
	_, err := decodeMarketState(make([]byte, 50))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too small")
}

func slabKey(priceLots uint64, lower uint64) *big.Int {
	key := new(big.Int).SetUint64(priceLots)
	key.Lsh(key, 64)
	return key.Or(key, new(big.Int).SetUint64(lower))
}

func slabFixture(t *testing.T, leaves []slabOrder, withInner bool) []byte {
	t.Helper()
	nodes := len(leaves)
	if withInner {
		nodes++
	}

	b := &byteBuilder{}
	b.pad(5)
	b.pad(8)
	b.u32(uint32(nodes)) // bump index
	b.pad(4)
	b.u64(0) // free list length
	b.pad(4) // free list head
	b.pad(4) // root
	b.pad(12)

	if withInner {
		// an inner node the decoder must skip
		b.u32(1)
		b.pad(slabNodeSize - 4)
	}
	for _, leaf := range leaves {
		b.u32(2) // leaf tag
		b.pad(4)
		b.u128(leaf.OrderID)
		b.pubkey(leaf.OpenOrders)
		b.u64(leaf.SizeLots)
		b.u64(leaf.ClientID)
	}
	return b.bytes()
}

func TestDecodeSlabLeaves(t *testing.T) {
	owner := testKey(11)
	leaves := []slabOrder{
		{OrderID: slabKey(500, 1), SizeLots: 40, OpenOrders: owner, ClientID: 777},
		{OrderID: slabKey(510, 2), SizeLots: 15, OpenOrders: owner, ClientID: 0},
	}

	orders, err := decodeSlab(slabFixture(t, leaves, true))
	require.NoError(t, err)
	require.Len(t, orders, 2)

	assert.Equal(t, uint64(500), orders[0].PriceLots)
	assert.Equal(t, uint64(40), orders[0].SizeLots)
	assert.Equal(t, owner, orders[0].OpenOrders)
	assert.Equal(t, uint64(777), orders[0].ClientID)
	assert.Equal(t, leaves[0].OrderID.String(), orders[0].OrderID.String())

	assert.Equal(t, uint64(510), orders[1].PriceLots)
	assert.Equal(t, uint64(0), orders[1].ClientID)
}

func eventQueueFixture(t *testing.T, head, count, seqNum uint32, events []fillEvent, flags []byte) []byte {
	t.Helper()
	b := &byteBuilder{}
	b.pad(5)
	b.pad(8)
	b.u32(head)
	b.pad(4)
	b.u32(count)
	b.pad(4)
	b.u32(seqNum)
	b.pad(4)
	for i, event := range events {
		b.byte(flags[i])
		b.pad(7)
		b.u64(event.NativeQtyOut)
		b.u64(event.NativeQtyIn)
		b.u64(event.NativeFee)
		b.u128(event.OrderID)
		b.pubkey(event.OpenOrders)
		b.u64(event.ClientID)
	}
	b.pad(7)
	return b.bytes()
}

func TestDecodeEventQueueFiltersNonFills(t *testing.T) {
	owner := testKey(12)
	events := []fillEvent{
		{OrderID: slabKey(500, 1), NativeQtyOut: 4_000_000_000, NativeQtyIn: 2_000_000, NativeFee: 880, OpenOrders: owner, ClientID: 5},
		{OrderID: slabKey(501, 2), NativeQtyOut: 1, NativeQtyIn: 1, OpenOrders: owner},
	}
	// first is a maker bid fill, second is an "out" event the decoder drops
	flags := []byte{eventFlagFill | eventFlagBid | eventFlagMake, 0x2}

	fills, err := decodeEventQueue(eventQueueFixture(t, 0, 2, 2, events, flags))
	require.NoError(t, err)
	require.Len(t, fills, 1)

	fill := fills[0]
	assert.True(t, fill.Bid)
	assert.True(t, fill.Maker)
	assert.Equal(t, uint64(4_000_000_000), fill.NativeQtyOut)
	assert.Equal(t, uint64(2_000_000), fill.NativeQtyIn)
	assert.Equal(t, uint64(880), fill.NativeFee)
	assert.Equal(t, uint64(5), fill.ClientID)
	assert.Equal(t, owner, fill.OpenOrders)
	// the two ring events carry sequences 0 and 1; the fill is the first
	assert.Equal(t, uint64(0), fill.SeqNum)
}

func TestDecodeEventQueueSequenceNumbers(t *testing.T) {
	owner := testKey(12)
	events := []fillEvent{
		{OrderID: slabKey(500, 1), NativeQtyOut: 1, NativeQtyIn: 1, OpenOrders: owner},
		{OrderID: slabKey(501, 2), NativeQtyOut: 2, NativeQtyIn: 2, OpenOrders: owner},
	}
	flags := []byte{0x2, eventFlagFill}

	// seqNum 7 with 2 unconsumed events: they carry sequences 5 and 6,
	// and the skipped non-fill still advances the numbering
	fills, err := decodeEventQueue(eventQueueFixture(t, 0, 2, 7, events, flags))
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, uint64(6), fills[0].SeqNum)

	// a header reporting fewer emissions than unconsumed events must not
	// wrap the sequence around
	fills, err = decodeEventQueue(eventQueueFixture(t, 0, 2, 1, events, flags))
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, uint64(1), fills[0].SeqNum)
}

func TestDecodeOpenOrders(t *testing.T) {
	market := testKey(13)
	owner := testKey(14)

	b := &byteBuilder{}
	b.pad(5)
	b.pad(8)
	b.pubkey(market)
	b.pubkey(owner)
	b.u64(1_500_000_000) // base free
	b.u64(2_000_000_000) // base total
	b.u64(42_000_000)    // quote free
	b.u64(50_000_000)    // quote total

	state, err := decodeOpenOrders(b.bytes())
	require.NoError(t, err)
	assert.Equal(t, market, state.Market)
	assert.Equal(t, owner, state.Owner)
	assert.Equal(t, uint64(1_500_000_000), state.BaseTokenFree)
	assert.Equal(t, uint64(42_000_000), state.QuoteTokenFree)
}

func testConverter() lotConverter {
	// SOL/USDC shape: 9 base decimals, 6 quote decimals
	state := &marketState{BaseLotSize: 100000000, QuoteLotSize: 100}
	return newLotConverter(state, 9, 6)
}

func TestLotConverterPriceAndSize(t *testing.T) {
	conv := testConverter()

	assert.True(t, conv.priceFromLots(1).Equal(decimal.RequireFromString("0.001")))
	assert.True(t, conv.sizeFromLots(1).Equal(decimal.RequireFromString("0.1")))
	assert.True(t, conv.baseFromNative(1_500_000_000).Equal(decimal.RequireFromString("1.5")))
	assert.True(t, conv.quoteFromNative(42_000_000).Equal(decimal.RequireFromString("42")))
}

func TestLotConverterRoundTrips(t *testing.T) {
	conv := testConverter()

	price := decimal.RequireFromString("23.417")
	lots := conv.priceToLots(price)
	assert.True(t, conv.priceFromLots(lots).Equal(price))

	size := decimal.RequireFromString("12.3")
	sizeLots := conv.sizeToLots(size)
	assert.True(t, conv.sizeFromLots(sizeLots).Equal(size))
}

func TestLevelsAggregateAndSort(t *testing.T) {
	h := &marketHandle{conv: testConverter()}
	orders := []slabOrder{
		{PriceLots: 500, SizeLots: 10},
		{PriceLots: 490, SizeLots: 5},
		{PriceLots: 500, SizeLots: 30},
	}

	bids := h.levels(orders, true)
	require.Len(t, bids, 2)
	assert.True(t, bids[0].Price.GreaterThan(bids[1].Price))
	// the two 500-lot orders collapse into one level of 4 units
	assert.True(t, bids[0].Size.Equal(decimal.RequireFromString("4")))

	asks := h.levels(orders, false)
	assert.True(t, asks[0].Price.LessThan(asks[1].Price))
}

func TestInstructionDataFraming(t *testing.T) {
	data := instructionData(insNewOrderV3, []byte{0xaa, 0xbb})
	require.Len(t, data, 1+4+2)
	assert.Equal(t, byte(0), data[0])
	assert.Equal(t, uint32(insNewOrderV3), binary.LittleEndian.Uint32(data[1:5]))
	assert.Equal(t, []byte{0xaa, 0xbb}, data[5:])
}

func TestVaultSignerAddressDeterministic(t *testing.T) {
	market := testKey(21)
	program := testKey(22)

	first, err := vaultSignerAddress(market, program, 1)
	require.NoError(t, err)
	second, err := vaultSignerAddress(market, program, 1)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	other, err := vaultSignerAddress(market, program, 2)
	require.NoError(t, err)
	assert.NotEqual(t, first, other)

	raw, err := base58.Decode(first)
	require.NoError(t, err)
	assert.Len(t, raw, 32)
}

func TestSideAndOrderTypeTags(t *testing.T) {
	buy, err := sideTag("buy")
	require.NoError(t, err)
	assert.Equal(t, uint32(0), buy)
	sell, err := sideTag("sell")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), sell)
	_, err = sideTag("short")
	require.Error(t, err)

	for venue, want := range map[string]uint32{"limit": 0, "ioc": 1, "postOnly": 2} {
		tag, err := orderTypeTag(venue)
		require.NoError(t, err)
		assert.Equal(t, want, tag)
	}
	_, err = orderTypeTag("stop")
	require.Error(t, err)
}

func TestClientIDToUint(t *testing.T) {
	assert.Equal(t, uint64(0), clientIDToUint(""))
	assert.Equal(t, uint64(12345), clientIDToUint("12345"))

	hashed := clientIDToUint("my-order")
	assert.NotZero(t, hashed)
	assert.Equal(t, hashed, clientIDToUint("my-order"))
}

func TestU128LittleEndian(t *testing.T) {
	le := u128LE(new(big.Int).SetUint64(0x0102))
	require.Len(t, le, 16)
	assert.Equal(t, byte(0x02), le[0])
	assert.Equal(t, byte(0x01), le[1])
	for _, b := range le[2:] {
		assert.Equal(t, byte(0), b)
	}
}
