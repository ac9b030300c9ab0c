// Package solana provides the chain-level capabilities consumed by the
// venue connector: a JSON-RPC client, a keypair store, the token registry
// and transaction assembly.
package solana

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// RPCClient is a thin Solana JSON-RPC client. One client per network; it is
// the single physical connection shared by every component on that network.
type RPCClient struct {
	http *resty.Client
	url  string
}

// NewRPCClient builds a client for the given endpoint.
func NewRPCClient(url string, timeout time.Duration) *RPCClient {
	return &RPCClient{
		http: resty.New().SetTimeout(timeout),
		url:  url,
	}
}

// URL returns the endpoint this client talks to.
func (c *RPCClient) URL() string { return c.url }

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// Call performs one JSON-RPC call, decoding the result into out when
// non-nil.
func (c *RPCClient) Call(ctx context.Context, method string, params []any, out any) error {
	var body rpcResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params}).
		SetResult(&body).
		Post(c.url)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("rpc %s returned %s", method, resp.Status())
	}
	if body.Error != nil {
		return fmt.Errorf("rpc %s failed: %s (code %d)", method, body.Error.Message, body.Error.Code)
	}
	if out != nil {
		if err := json.Unmarshal(body.Result, out); err != nil {
			return fmt.Errorf("rpc %s: decoding result: %w", method, err)
		}
	}
	return nil
}

// AccountInfo is the decoded payload of one on-chain account.
type AccountInfo struct {
	Owner    string
	Lamports uint64
	Data     []byte
}

type accountInfoResult struct {
	Value *struct {
		Owner    string   `json:"owner"`
		Lamports uint64   `json:"lamports"`
		Data     []string `json:"data"`
	} `json:"value"`
}

// GetAccountInfo fetches and base64-decodes one account.
func (c *RPCClient) GetAccountInfo(ctx context.Context, address string) (*AccountInfo, error) {
	var result accountInfoResult
	params := []any{address, map[string]any{"encoding": "base64"}}
	if err := c.Call(ctx, "getAccountInfo", params, &result); err != nil {
		return nil, err
	}
	if result.Value == nil {
		return nil, fmt.Errorf("account %s not found", address)
	}
	if len(result.Value.Data) == 0 {
		return nil, fmt.Errorf("account %s has no data", address)
	}
	data, err := base64.StdEncoding.DecodeString(result.Value.Data[0])
	if err != nil {
		return nil, fmt.Errorf("account %s: decoding data: %w", address, err)
	}
	return &AccountInfo{
		Owner:    result.Value.Owner,
		Lamports: result.Value.Lamports,
		Data:     data,
	}, nil
}

type blockhashResult struct {
	Value struct {
		Blockhash string `json:"blockhash"`
	} `json:"value"`
}

// GetLatestBlockhash returns a recent blockhash for transaction assembly.
func (c *RPCClient) GetLatestBlockhash(ctx context.Context) (string, error) {
	var result blockhashResult
	if err := c.Call(ctx, "getLatestBlockhash", nil, &result); err != nil {
		return "", err
	}
	return result.Value.Blockhash, nil
}

// SendTransaction submits a signed, base64-encoded transaction and returns
// its signature.
func (c *RPCClient) SendTransaction(ctx context.Context, signedTx string) (string, error) {
	var signature string
	params := []any{signedTx, map[string]any{"encoding": "base64"}}
	if err := c.Call(ctx, "sendTransaction", params, &signature); err != nil {
		return "", err
	}
	return signature, nil
}

// GetSlot returns the current slot, the chain's block-height equivalent.
func (c *RPCClient) GetSlot(ctx context.Context) (uint64, error) {
	var slot uint64
	if err := c.Call(ctx, "getSlot", nil, &slot); err != nil {
		return 0, err
	}
	return slot, nil
}

type tokenAccountsResult struct {
	Value []struct {
		Pubkey string `json:"pubkey"`
	} `json:"value"`
}

// GetTokenAccountsByOwner lists the owner's token accounts for one mint.
func (c *RPCClient) GetTokenAccountsByOwner(ctx context.Context, owner, mint string) ([]string, error) {
	var result tokenAccountsResult
	params := []any{
		owner,
		map[string]any{"mint": mint},
		map[string]any{"encoding": "base64"},
	}
	if err := c.Call(ctx, "getTokenAccountsByOwner", params, &result); err != nil {
		return nil, err
	}
	accounts := make([]string, 0, len(result.Value))
	for _, v := range result.Value {
		accounts = append(accounts, v.Pubkey)
	}
	return accounts, nil
}

// MemcmpFilter matches accounts whose data at Offset equals the
// base58-encoded Bytes.
type MemcmpFilter struct {
	Offset int
	Bytes  string
}

// ProgramAccount is one account owned by a program.
type ProgramAccount struct {
	Pubkey string
	Data   []byte
}

type programAccountsResult []struct {
	Pubkey  string `json:"pubkey"`
	Account struct {
		Data []string `json:"data"`
	} `json:"account"`
}

// GetProgramAccounts lists accounts owned by a program, optionally narrowed
// by memcmp filters.
func (c *RPCClient) GetProgramAccounts(ctx context.Context, program string, filters []MemcmpFilter) ([]ProgramAccount, error) {
	cfg := map[string]any{"encoding": "base64"}
	if len(filters) > 0 {
		fs := make([]any, 0, len(filters))
		for _, f := range filters {
			fs = append(fs, map[string]any{
				"memcmp": map[string]any{"offset": f.Offset, "bytes": f.Bytes},
			})
		}
		cfg["filters"] = fs
	}

	var result programAccountsResult
	if err := c.Call(ctx, "getProgramAccounts", []any{program, cfg}, &result); err != nil {
		return nil, err
	}

	accounts := make([]ProgramAccount, 0, len(result))
	for _, row := range result {
		if len(row.Account.Data) == 0 {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(row.Account.Data[0])
		if err != nil {
			return nil, fmt.Errorf("account %s: decoding data: %w", row.Pubkey, err)
		}
		accounts = append(accounts, ProgramAccount{Pubkey: row.Pubkey, Data: data})
	}
	return accounts, nil
}

// GetMinimumBalanceForRentExemption returns the lamports needed to keep an
// account of the given size alive.
func (c *RPCClient) GetMinimumBalanceForRentExemption(ctx context.Context, size int) (uint64, error) {
	var lamports uint64
	if err := c.Call(ctx, "getMinimumBalanceForRentExemption", []any{size}, &lamports); err != nil {
		return 0, err
	}
	return lamports, nil
}
