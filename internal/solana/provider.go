package solana

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/mr-tron/base58"
	"go.uber.org/zap"

	"github.com/openclob/serum-gateway/internal/config"
	"github.com/openclob/serum-gateway/internal/serum"
	"github.com/openclob/serum-gateway/pkg/executor"
)

const (
	systemProgramID = "11111111111111111111111111111111"
	tokenProgramID  = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	rentSysvarID    = "SysvarRent111111111111111111111111111111111"

	tokenAccountSize = 165
)

// Provider is the chain connection for one network. It owns the single RPC
// client, the wallet keystore and the token registry shared by every
// component on that network.
type Provider struct {
	cfg      config.SolanaConfig
	rpc      *RPCClient
	keystore *Keystore
	tokens   *TokenRegistry
	retry    executor.RetryPolicy
	log      *zap.Logger

	mu      sync.Mutex
	ready   bool
	wallets map[string]string
}

// NewProvider builds an uninitialized provider; call Init before use.
func NewProvider(cfg config.SolanaConfig, log *zap.Logger) *Provider {
	return &Provider{
		cfg:      cfg,
		rpc:      NewRPCClient(cfg.RPCURL, cfg.Timeout),
		keystore: NewKeystore(cfg.KeystorePath),
		tokens:   NewTokenRegistry(cfg.TokenListURL, cfg.Timeout, log),
		retry:    cfg.RetryPolicy(),
		log:      log,
		wallets:  make(map[string]string),
	}
}

// RPC exposes the shared connection to the venue layer.
func (p *Provider) RPC() *RPCClient { return p.rpc }

// Network returns the configured network name.
func (p *Provider) Network() string { return p.cfg.Network }

// Init loads the token registry and verifies the RPC endpoint answers.
// Idempotent.
func (p *Provider) Init(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ready {
		return nil
	}

	if err := p.tokens.Load(ctx); err != nil {
		return fmt.Errorf("loading token registry: %w", err)
	}
	if _, err := executor.Run(ctx, "rpc ping", p.retry, func(ctx context.Context) (uint64, error) {
		return p.rpc.GetSlot(ctx)
	}); err != nil {
		return fmt.Errorf("rpc endpoint %s unreachable: %w", p.cfg.RPCURL, err)
	}

	p.ready = true
	p.log.Info("chain provider ready",
		zap.String("network", p.cfg.Network),
		zap.String("rpc", p.cfg.RPCURL))
	return nil
}

// Ready reports whether Init has completed.
func (p *Provider) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

// GetKeypair resolves a signing credential from the keystore.
func (p *Provider) GetKeypair(address string) (serum.Signer, error) {
	return p.keystore.Get(address)
}

// GetTokenForSymbol resolves a token by symbol.
func (p *Provider) GetTokenForSymbol(symbol string) (*serum.Token, error) {
	info, err := p.tokens.Get(symbol)
	if err != nil {
		return nil, err
	}
	return &serum.Token{Symbol: info.Symbol, Mint: info.Mint, Decimals: info.Decimals}, nil
}

// CurrentBlockNumber returns the chain's current slot.
func (p *Provider) CurrentBlockNumber(ctx context.Context) (uint64, error) {
	return executor.Run(ctx, "get slot", p.retry, func(ctx context.Context) (uint64, error) {
		return p.rpc.GetSlot(ctx)
	})
}

// GetOrCreateAssociatedTokenAccount returns the owner's token wallet for a
// mint. An existing account is reused; otherwise a fresh token account is
// created and initialized on chain. Results are cached for the process
// lifetime since token accounts are immutable once created.
func (p *Provider) GetOrCreateAssociatedTokenAccount(ctx context.Context, owner serum.Signer, mint string) (string, error) {
	key := owner.PublicKey() + "|" + mint

	p.mu.Lock()
	wallet, ok := p.wallets[key]
	p.mu.Unlock()
	if ok {
		return wallet, nil
	}

	accounts, err := executor.Run(ctx, "find token accounts", p.retry, func(ctx context.Context) ([]string, error) {
		return p.rpc.GetTokenAccountsByOwner(ctx, owner.PublicKey(), mint)
	})
	if err != nil {
		return "", err
	}

	if len(accounts) > 0 {
		wallet = accounts[0]
	} else {
		wallet, err = p.createTokenAccount(ctx, owner, mint)
		if err != nil {
			return "", err
		}
	}

	p.mu.Lock()
	p.wallets[key] = wallet
	p.mu.Unlock()
	return wallet, nil
}

func (p *Provider) createTokenAccount(ctx context.Context, owner serum.Signer, mint string) (string, error) {
	account, err := NewRandomKeypair()
	if err != nil {
		return "", err
	}

	rent, err := executor.Run(ctx, "rent exemption", p.retry, func(ctx context.Context) (uint64, error) {
		return p.rpc.GetMinimumBalanceForRentExemption(ctx, tokenAccountSize)
	})
	if err != nil {
		return "", err
	}

	blockhash, err := executor.Run(ctx, "latest blockhash", p.retry, func(ctx context.Context) (string, error) {
		return p.rpc.GetLatestBlockhash(ctx)
	})
	if err != nil {
		return "", err
	}

	instructions := []Instruction{
		CreateAccountInstruction(owner.PublicKey(), account.PublicKey(), rent, tokenAccountSize, tokenProgramID),
		initializeTokenAccountInstruction(account.PublicKey(), mint, owner.PublicKey()),
	}

	signed, err := BuildTransaction(blockhash, owner, []Signer{owner, account}, instructions)
	if err != nil {
		return "", err
	}

	if _, err := executor.Run(ctx, "create token account", p.retry, func(ctx context.Context) (string, error) {
		return p.rpc.SendTransaction(ctx, signed)
	}); err != nil {
		return "", err
	}

	p.log.Info("token account created",
		zap.String("owner", owner.PublicKey()),
		zap.String("mint", mint),
		zap.String("account", account.PublicKey()))
	return account.PublicKey(), nil
}

// NewRandomKeypair generates a throwaway keypair for new accounts.
func NewRandomKeypair() (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Keypair{priv: priv, pub: base58.Encode(pub)}, nil
}

// CreateAccountInstruction builds a system-program CreateAccount funding a
// fresh account owned by ownerProgram.
func CreateAccountInstruction(funder, account string, lamports uint64, space int, ownerProgram string) Instruction {
	var data bytes.Buffer
	binary.Write(&data, binary.LittleEndian, uint32(0)) // CreateAccount
	binary.Write(&data, binary.LittleEndian, lamports)
	binary.Write(&data, binary.LittleEndian, uint64(space))
	raw, _ := base58.Decode(ownerProgram)
	data.Write(raw)

	return Instruction{
		ProgramID: systemProgramID,
		Accounts: []AccountMeta{
			{PublicKey: funder, IsSigner: true, IsWritable: true},
			{PublicKey: account, IsSigner: true, IsWritable: true},
		},
		Data: data.Bytes(),
	}
}

func initializeTokenAccountInstruction(account, mint, owner string) Instruction {
	return Instruction{
		ProgramID: tokenProgramID,
		Accounts: []AccountMeta{
			{PublicKey: account, IsSigner: false, IsWritable: true},
			{PublicKey: mint, IsSigner: false, IsWritable: false},
			{PublicKey: owner, IsSigner: false, IsWritable: false},
			{PublicKey: rentSysvarID, IsSigner: false, IsWritable: false},
		},
		Data: []byte{1}, // InitializeAccount
	}
}
