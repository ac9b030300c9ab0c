// Package serumdex is the default venue provider: it talks the Serum DEX
// program's binary account layouts and instruction encodings over the
// chain RPC connection. The connector consumes it only through the provider
// interfaces; the depth here is deliberately coarse.
package serumdex

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
)

// marketState is the decoded header of a market account.
type marketState struct {
	OwnAddress       string
	VaultSignerNonce uint64
	BaseMint         string
	QuoteMint        string
	BaseVault        string
	QuoteVault       string
	RequestQueue     string
	EventQueue       string
	Bids             string
	Asks             string
	BaseLotSize      uint64
	QuoteLotSize     uint64
}

const marketStateSize = 5 + 8 + 32 + 8 + 32 + 32 + 32 + 8 + 8 + 32 + 8 + 8 + 8 + 32 + 32 + 32 + 32 + 8 + 8 + 8 + 8 + 7

type reader struct {
	data []byte
	off  int
	err  error
}

func (r *reader) skip(n int) {
	if r.err != nil {
		return
	}
	if r.off+n > len(r.data) {
		r.err = fmt.Errorf("account data truncated at offset %d", r.off)
		return
	}
	r.off += n
}

func (r *reader) u64() uint64 {
	if r.err != nil {
		return 0
	}
	if r.off+8 > len(r.data) {
		r.err = fmt.Errorf("account data truncated at offset %d", r.off)
		return 0
	}
	v := binary.LittleEndian.Uint64(r.data[r.off:])
	r.off += 8
	return v
}

func (r *reader) u32() uint32 {
	if r.err != nil {
		return 0
	}
	if r.off+4 > len(r.data) {
		r.err = fmt.Errorf("account data truncated at offset %d", r.off)
		return 0
	}
	v := binary.LittleEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v
}

func (r *reader) pubkey() string {
	if r.err != nil {
		return ""
	}
	if r.off+32 > len(r.data) {
		r.err = fmt.Errorf("account data truncated at offset %d", r.off)
		return ""
	}
	v := base58.Encode(r.data[r.off : r.off+32])
	r.off += 32
	return v
}

func (r *reader) u128() *big.Int {
	if r.err != nil {
		return new(big.Int)
	}
	if r.off+16 > len(r.data) {
		r.err = fmt.Errorf("account data truncated at offset %d", r.off)
		return new(big.Int)
	}
	// little endian on the wire
	buf := make([]byte, 16)
	for i := 0; i < 16; i++ {
		buf[15-i] = r.data[r.off+i]
	}
	r.off += 16
	return new(big.Int).SetBytes(buf)
}

func decodeMarketState(data []byte) (*marketState, error) {
	if len(data) < marketStateSize {
		return nil, fmt.Errorf("market account too small: %d bytes", len(data))
	}

	r := &reader{data: data}
	r.skip(5) // "serum" padding
	r.skip(8) // account flags
	state := &marketState{}
	state.OwnAddress = r.pubkey()
	state.VaultSignerNonce = r.u64()
	state.BaseMint = r.pubkey()
	state.QuoteMint = r.pubkey()
	state.BaseVault = r.pubkey()
	r.skip(16) // base deposits, base fees
	state.QuoteVault = r.pubkey()
	r.skip(24) // quote deposits, quote fees, dust threshold
	state.RequestQueue = r.pubkey()
	state.EventQueue = r.pubkey()
	state.Bids = r.pubkey()
	state.Asks = r.pubkey()
	state.BaseLotSize = r.u64()
	state.QuoteLotSize = r.u64()
	if r.err != nil {
		return nil, r.err
	}
	return state, nil
}

// slabOrder is one resting order decoded from a bids or asks slab.
type slabOrder struct {
	OrderID    *big.Int
	PriceLots  uint64
	SizeLots   uint64
	OpenOrders string
	ClientID   uint64
}

const slabNodeSize = 72

// decodeSlab walks the slab's node array and returns its leaf orders. The
// crit-bit tree structure is ignored; leaves carry everything needed.
func decodeSlab(data []byte) ([]slabOrder, error) {
	r := &reader{data: data}
	r.skip(5) // padding
	r.skip(8) // account flags
	bumpIndex := r.u32()
	r.skip(4)
	r.skip(8)  // free list length
	r.skip(4)  // free list head
	r.skip(4)  // root
	r.skip(12) // leaf count + zeros
	if r.err != nil {
		return nil, r.err
	}

	var orders []slabOrder
	for i := uint32(0); i < bumpIndex; i++ {
		start := r.off + int(i)*slabNodeSize
		if start+slabNodeSize > len(data) {
			break
		}
		node := &reader{data: data[start : start+slabNodeSize]}
		tag := node.u32()
		if tag != 2 { // leaf
			continue
		}
		node.skip(4) // owner slot, fee tier, padding
		key := node.u128()
		owner := node.pubkey()
		quantity := node.u64()
		clientID := node.u64()
		if node.err != nil {
			return nil, node.err
		}
		orders = append(orders, slabOrder{
			OrderID:    key,
			PriceLots:  new(big.Int).Rsh(key, 64).Uint64(),
			SizeLots:   quantity,
			OpenOrders: owner,
			ClientID:   clientID,
		})
	}
	return orders, nil
}

// fillEvent is one fill decoded from the event queue.
type fillEvent struct {
	OrderID      *big.Int
	SeqNum       uint64
	Bid          bool
	Maker        bool
	NativeQtyOut uint64
	NativeQtyIn  uint64
	NativeFee    uint64
	OpenOrders   string
	ClientID     uint64
}

const eventSize = 88

const (
	eventFlagFill = 0x1
	eventFlagBid  = 0x4
	eventFlagMake = 0x8
)

// decodeEventQueue returns the queue's fill events, oldest first.
func decodeEventQueue(data []byte) ([]fillEvent, error) {
	r := &reader{data: data}
	r.skip(5) // padding
	r.skip(8) // account flags
	head := r.u32()
	r.skip(4)
	count := r.u32()
	r.skip(4)
	seqNum := r.u32()
	r.skip(4)
	if r.err != nil {
		return nil, r.err
	}

	ringStart := r.off
	ringLen := (len(data) - ringStart - 7) / eventSize
	if ringLen <= 0 {
		return nil, nil
	}

	// The header sequence counts every event ever emitted, so the i-th
	// unconsumed event carries seqNum-count+i. A queue reporting fewer
	// emissions than unconsumed events is malformed; number from zero.
	var base uint64
	if uint64(seqNum) >= uint64(count) {
		base = uint64(seqNum) - uint64(count)
	}

	var fills []fillEvent
	for i := uint32(0); i < count; i++ {
		slot := (int(head) + int(i)) % ringLen
		start := ringStart + slot*eventSize
		node := &reader{data: data[start : start+eventSize]}

		flags := node.data[0]
		node.skip(8) // flags, owner slot, fee tier, padding
		if flags&eventFlagFill == 0 {
			continue
		}
		out := node.u64()
		in := node.u64()
		fee := node.u64()
		orderID := node.u128()
		owner := node.pubkey()
		clientID := node.u64()
		if node.err != nil {
			return nil, node.err
		}
		fills = append(fills, fillEvent{
			OrderID:      orderID,
			SeqNum:       base + uint64(i),
			Bid:          flags&eventFlagBid != 0,
			Maker:        flags&eventFlagMake != 0,
			NativeQtyOut: out,
			NativeQtyIn:  in,
			NativeFee:    fee,
			OpenOrders:   owner,
			ClientID:     clientID,
		})
	}
	return fills, nil
}

// openOrdersState is the decoded header of an open-orders account.
type openOrdersState struct {
	Market         string
	Owner          string
	BaseTokenFree  uint64
	BaseTokenTotal uint64
	QuoteTokenFree uint64
	QuoteTotal     uint64
}

const (
	openOrdersMarketOffset = 5 + 8
	openOrdersOwnerOffset  = 5 + 8 + 32
	openOrdersAccountSize  = 3228
)

func decodeOpenOrders(data []byte) (*openOrdersState, error) {
	r := &reader{data: data}
	r.skip(5)
	r.skip(8)
	state := &openOrdersState{}
	state.Market = r.pubkey()
	state.Owner = r.pubkey()
	state.BaseTokenFree = r.u64()
	state.BaseTokenTotal = r.u64()
	state.QuoteTokenFree = r.u64()
	state.QuoteTotal = r.u64()
	if r.err != nil {
		return nil, r.err
	}
	return state, nil
}

// lotConverter translates between native lot units and human amounts.
type lotConverter struct {
	baseLotSize  decimal.Decimal
	quoteLotSize decimal.Decimal
	baseFactor   decimal.Decimal
	quoteFactor  decimal.Decimal
}

func newLotConverter(state *marketState, baseDecimals, quoteDecimals int) lotConverter {
	return lotConverter{
		baseLotSize:  decimal.NewFromUint64(state.BaseLotSize),
		quoteLotSize: decimal.NewFromUint64(state.QuoteLotSize),
		baseFactor:   decimal.New(1, int32(baseDecimals)),
		quoteFactor:  decimal.New(1, int32(quoteDecimals)),
	}
}

func (c lotConverter) priceFromLots(lots uint64) decimal.Decimal {
	return decimal.NewFromUint64(lots).
		Mul(c.quoteLotSize).
		Mul(c.baseFactor).
		Div(c.baseLotSize.Mul(c.quoteFactor))
}

func (c lotConverter) sizeFromLots(lots uint64) decimal.Decimal {
	return decimal.NewFromUint64(lots).Mul(c.baseLotSize).Div(c.baseFactor)
}

func (c lotConverter) priceToLots(price decimal.Decimal) uint64 {
	return uint64(price.Mul(c.baseLotSize).Mul(c.quoteFactor).
		Div(c.quoteLotSize.Mul(c.baseFactor)).IntPart())
}

func (c lotConverter) sizeToLots(size decimal.Decimal) uint64 {
	return uint64(size.Mul(c.baseFactor).Div(c.baseLotSize).IntPart())
}

func (c lotConverter) quoteFromNative(native uint64) decimal.Decimal {
	return decimal.NewFromUint64(native).Div(c.quoteFactor)
}

func (c lotConverter) baseFromNative(native uint64) decimal.Decimal {
	return decimal.NewFromUint64(native).Div(c.baseFactor)
}
