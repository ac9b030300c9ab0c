package solana

import (
	"bytes"
	"encoding/base64"
	"fmt"

	"github.com/mr-tron/base58"
)

// Signer signs transaction messages. *Keypair satisfies it.
type Signer interface {
	PublicKey() string
	Sign(message []byte) ([]byte, error)
}

// AccountMeta describes one account referenced by an instruction.
type AccountMeta struct {
	PublicKey  string
	IsSigner   bool
	IsWritable bool
}

// Instruction is one program invocation within a transaction.
type Instruction struct {
	ProgramID string
	Accounts  []AccountMeta
	Data      []byte
}

// BuildTransaction assembles and signs a legacy transaction: fee payer
// first, account keys ordered signer-writable, signer-readonly,
// writable, readonly. The result is base64 for sendTransaction.
func BuildTransaction(blockhash string, feePayer Signer, signers []Signer, instructions []Instruction) (string, error) {
	type keyMeta struct {
		signer   bool
		writable bool
	}

	metas := map[string]*keyMeta{}
	order := []string{}
	upsert := func(key string, signer, writable bool) {
		m, ok := metas[key]
		if !ok {
			m = &keyMeta{}
			metas[key] = m
			order = append(order, key)
		}
		m.signer = m.signer || signer
		m.writable = m.writable || writable
	}

	upsert(feePayer.PublicKey(), true, true)
	for _, ins := range instructions {
		for _, acc := range ins.Accounts {
			upsert(acc.PublicKey, acc.IsSigner, acc.IsWritable)
		}
		upsert(ins.ProgramID, false, false)
	}

	// classify into the four layout groups, preserving first-seen order
	// within each group; the fee payer stays first by construction
	var keys []string
	for _, pick := range []func(*keyMeta) bool{
		func(m *keyMeta) bool { return m.signer && m.writable },
		func(m *keyMeta) bool { return m.signer && !m.writable },
		func(m *keyMeta) bool { return !m.signer && m.writable },
		func(m *keyMeta) bool { return !m.signer && !m.writable },
	} {
		for _, key := range order {
			if pick(metas[key]) {
				keys = append(keys, key)
			}
		}
	}

	index := make(map[string]int, len(keys))
	for i, key := range keys {
		index[key] = i
	}

	var numSigners, numReadonlySigned, numReadonlyUnsigned int
	for _, key := range keys {
		m := metas[key]
		if m.signer {
			numSigners++
			if !m.writable {
				numReadonlySigned++
			}
		} else if !m.writable {
			numReadonlyUnsigned++
		}
	}

	var msg bytes.Buffer
	msg.WriteByte(byte(numSigners))
	msg.WriteByte(byte(numReadonlySigned))
	msg.WriteByte(byte(numReadonlyUnsigned))

	writeCompactU16(&msg, len(keys))
	for _, key := range keys {
		raw, err := base58.Decode(key)
		if err != nil {
			return "", fmt.Errorf("invalid account key %s: %w", key, err)
		}
		if len(raw) != 32 {
			return "", fmt.Errorf("account key %s is not 32 bytes", key)
		}
		msg.Write(raw)
	}

	rawHash, err := base58.Decode(blockhash)
	if err != nil {
		return "", fmt.Errorf("invalid blockhash: %w", err)
	}
	msg.Write(rawHash)

	writeCompactU16(&msg, len(instructions))
	for _, ins := range instructions {
		msg.WriteByte(byte(index[ins.ProgramID]))
		writeCompactU16(&msg, len(ins.Accounts))
		for _, acc := range ins.Accounts {
			msg.WriteByte(byte(index[acc.PublicKey]))
		}
		writeCompactU16(&msg, len(ins.Data))
		msg.Write(ins.Data)
	}

	message := msg.Bytes()

	bySigner := map[string]Signer{feePayer.PublicKey(): feePayer}
	for _, s := range signers {
		bySigner[s.PublicKey()] = s
	}

	var tx bytes.Buffer
	writeCompactU16(&tx, numSigners)
	for _, key := range keys[:numSigners] {
		s, ok := bySigner[key]
		if !ok {
			return "", fmt.Errorf("missing signer for account %s", key)
		}
		sig, err := s.Sign(message)
		if err != nil {
			return "", fmt.Errorf("signing as %s: %w", key, err)
		}
		if len(sig) != 64 {
			return "", fmt.Errorf("signature for %s is not 64 bytes", key)
		}
		tx.Write(sig)
	}
	tx.Write(message)

	return base64.StdEncoding.EncodeToString(tx.Bytes()), nil
}

// writeCompactU16 writes the shortvec length encoding.
func writeCompactU16(buf *bytes.Buffer, value int) {
	for {
		if value < 0x80 {
			buf.WriteByte(byte(value))
			return
		}
		buf.WriteByte(byte(value&0x7f | 0x80))
		value >>= 7
	}
}
