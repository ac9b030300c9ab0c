package serumdex

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/mr-tron/base58"

	"github.com/openclob/serum-gateway/internal/solana"
)

const (
	tokenProgramID = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	rentSysvarID   = "SysvarRent111111111111111111111111111111111"
)

// Serum instruction tags.
const (
	insSettleFunds               = 5
	insNewOrderV3                = 10
	insCancelOrderV2             = 11
	insCancelOrderByClientIDV2   = 12
	selfTradeBehaviorDecrement   = 0
	orderFlightLimit             = 65535
)

const (
	sideTagBid = 0
	sideTagAsk = 1
)

func sideTag(side string) (uint32, error) {
	switch side {
	case "buy":
		return sideTagBid, nil
	case "sell":
		return sideTagAsk, nil
	default:
		return 0, fmt.Errorf("unknown venue side %q", side)
	}
}

func orderTypeTag(orderType string) (uint32, error) {
	switch orderType {
	case "limit":
		return 0, nil
	case "ioc":
		return 1, nil
	case "postOnly":
		return 2, nil
	default:
		return 0, fmt.Errorf("unknown venue order type %q", orderType)
	}
}

// instructionData prefixes the payload with the version byte and tag the
// program expects.
func instructionData(tag uint32, payload []byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte(0) // version
	binary.Write(&buf, binary.LittleEndian, tag)
	buf.Write(payload)
	return buf.Bytes()
}

// vaultSignerAddress derives the program address authorized to move the
// market's vaults, from the market key and its stored nonce.
func vaultSignerAddress(market, programID string, nonce uint64) (string, error) {
	marketRaw, err := base58.Decode(market)
	if err != nil {
		return "", fmt.Errorf("invalid market address: %w", err)
	}
	programRaw, err := base58.Decode(programID)
	if err != nil {
		return "", fmt.Errorf("invalid program id: %w", err)
	}

	var nonceRaw [8]byte
	binary.LittleEndian.PutUint64(nonceRaw[:], nonce)

	h := sha256.New()
	h.Write(marketRaw)
	h.Write(nonceRaw[:])
	h.Write(programRaw)
	h.Write([]byte("ProgramDerivedAddress"))
	return base58.Encode(h.Sum(nil)), nil
}

func newOrderV3Instruction(programID, market string, state *marketState, openOrders, payer, owner string,
	side uint32, orderType uint32, priceLots, sizeLots, maxQuoteLots, clientID uint64) solana.Instruction {

	var payload bytes.Buffer
	binary.Write(&payload, binary.LittleEndian, side)
	binary.Write(&payload, binary.LittleEndian, priceLots)
	binary.Write(&payload, binary.LittleEndian, sizeLots)
	binary.Write(&payload, binary.LittleEndian, maxQuoteLots)
	binary.Write(&payload, binary.LittleEndian, uint32(selfTradeBehaviorDecrement))
	binary.Write(&payload, binary.LittleEndian, orderType)
	binary.Write(&payload, binary.LittleEndian, clientID)
	binary.Write(&payload, binary.LittleEndian, uint16(orderFlightLimit))

	return solana.Instruction{
		ProgramID: programID,
		Accounts: []solana.AccountMeta{
			{PublicKey: market, IsWritable: true},
			{PublicKey: openOrders, IsWritable: true},
			{PublicKey: state.RequestQueue, IsWritable: true},
			{PublicKey: state.EventQueue, IsWritable: true},
			{PublicKey: state.Bids, IsWritable: true},
			{PublicKey: state.Asks, IsWritable: true},
			{PublicKey: payer, IsWritable: true},
			{PublicKey: owner, IsSigner: true},
			{PublicKey: state.BaseVault, IsWritable: true},
			{PublicKey: state.QuoteVault, IsWritable: true},
			{PublicKey: tokenProgramID},
			{PublicKey: rentSysvarID},
		},
		Data: instructionData(insNewOrderV3, payload.Bytes()),
	}
}

func cancelOrderV2Instruction(programID, market string, state *marketState, openOrders, owner string,
	side uint32, orderID *big.Int) solana.Instruction {

	var payload bytes.Buffer
	binary.Write(&payload, binary.LittleEndian, side)
	payload.Write(u128LE(orderID))

	return solana.Instruction{
		ProgramID: programID,
		Accounts: []solana.AccountMeta{
			{PublicKey: market},
			{PublicKey: state.Bids, IsWritable: true},
			{PublicKey: state.Asks, IsWritable: true},
			{PublicKey: openOrders, IsWritable: true},
			{PublicKey: owner, IsSigner: true},
			{PublicKey: state.EventQueue, IsWritable: true},
		},
		Data: instructionData(insCancelOrderV2, payload.Bytes()),
	}
}

func cancelByClientIDInstruction(programID, market string, state *marketState, openOrders, owner string, clientID uint64) solana.Instruction {
	var payload bytes.Buffer
	binary.Write(&payload, binary.LittleEndian, clientID)

	return solana.Instruction{
		ProgramID: programID,
		Accounts: []solana.AccountMeta{
			{PublicKey: market},
			{PublicKey: state.Bids, IsWritable: true},
			{PublicKey: state.Asks, IsWritable: true},
			{PublicKey: openOrders, IsWritable: true},
			{PublicKey: owner, IsSigner: true},
			{PublicKey: state.EventQueue, IsWritable: true},
		},
		Data: instructionData(insCancelOrderByClientIDV2, payload.Bytes()),
	}
}

func settleFundsInstruction(programID, market string, state *marketState, openOrders, owner, baseWallet, quoteWallet, vaultSigner string) solana.Instruction {
	return solana.Instruction{
		ProgramID: programID,
		Accounts: []solana.AccountMeta{
			{PublicKey: market, IsWritable: true},
			{PublicKey: openOrders, IsWritable: true},
			{PublicKey: owner, IsSigner: true},
			{PublicKey: state.BaseVault, IsWritable: true},
			{PublicKey: state.QuoteVault, IsWritable: true},
			{PublicKey: baseWallet, IsWritable: true},
			{PublicKey: quoteWallet, IsWritable: true},
			{PublicKey: vaultSigner},
			{PublicKey: tokenProgramID},
		},
		Data: instructionData(insSettleFunds, nil),
	}
}

// u128LE writes a big.Int as a 16-byte little-endian value.
func u128LE(v *big.Int) []byte {
	be := v.FillBytes(make([]byte, 16))
	le := make([]byte, 16)
	for i := 0; i < 16; i++ {
		le[i] = be[15-i]
	}
	return le
}
