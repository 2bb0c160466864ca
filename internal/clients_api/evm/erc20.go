package evm

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ERC-20 / pair selectors.
var (
	selectorBalanceOf   = []byte{0x70, 0xa0, 0x82, 0x31}
	selectorTotalSupply = []byte{0x18, 0x16, 0x0d, 0xdd}
	selectorGetReserves = []byte{0x09, 0x02, 0xf1, 0xac}
)

type callMsg struct {
	To   string `json:"to"`
	Data string `json:"data"`
}

func parseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return common.HexToAddress(s), nil
}

func resultString(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("failed to decode RPC result %s: %w", string(raw), err)
	}
	return s, nil
}

// decodeQuantity parses a JSON-RPC QUANTITY ("0x1bc16d674ec80000").
func decodeQuantity(raw json.RawMessage) (*big.Int, error) {
	s, err := resultString(raw)
	if err != nil {
		return nil, err
	}
	v, err := hexutil.DecodeBig(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode quantity %q: %w", s, err)
	}
	return v, nil
}

// decodeData parses JSON-RPC DATA returned by eth_call.
func decodeData(raw json.RawMessage) ([]byte, error) {
	s, err := resultString(raw)
	if err != nil {
		return nil, err
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode call data %q: %w", s, err)
	}
	if len(b) == 0 {
		return nil, ErrEmptyResult
	}
	return b, nil
}

func (c *Client) ethCall(ctx context.Context, network string, to common.Address, data []byte) (json.RawMessage, error) {
	return c.Call(ctx, network, "eth_call", callMsg{To: to.Hex(), Data: hexutil.Encode(data)}, "latest")
}

func (c *Client) callUint(ctx context.Context, network string, to common.Address, data []byte) (string, error) {
	raw, err := c.ethCall(ctx, network, to, data)
	if err != nil {
		return "", err
	}
	b, err := decodeData(raw)
	if err != nil {
		return "", err
	}
	return new(big.Int).SetBytes(b).String(), nil
}

// GetEthBalance returns the native balance of address in wei as a base-10 string.
func (c *Client) GetEthBalance(ctx context.Context, network, address string) (string, error) {
	addr, err := parseAddress(address)
	if err != nil {
		return "", err
	}
	raw, err := c.Call(ctx, network, "eth_getBalance", addr.Hex(), "latest")
	if err != nil {
		return "", fmt.Errorf("failed to get balance: %w", err)
	}
	v, err := decodeQuantity(raw)
	if err != nil {
		return "", err
	}
	return v.String(), nil
}

// GetTokenBalance calls balanceOf(wallet) on token.
func (c *Client) GetTokenBalance(ctx context.Context, network, token, wallet string) (string, error) {
	tokenAddr, err := parseAddress(token)
	if err != nil {
		return "", err
	}
	walletAddr, err := parseAddress(wallet)
	if err != nil {
		return "", err
	}

	data := append(append([]byte{}, selectorBalanceOf...), common.LeftPadBytes(walletAddr.Bytes(), 32)...)
	v, err := c.callUint(ctx, network, tokenAddr, data)
	if err != nil {
		return "", fmt.Errorf("failed to get token balance: %w", err)
	}
	return v, nil
}

// GetTokenSupply calls totalSupply() on token.
func (c *Client) GetTokenSupply(ctx context.Context, network, token string) (string, error) {
	tokenAddr, err := parseAddress(token)
	if err != nil {
		return "", err
	}
	v, err := c.callUint(ctx, network, tokenAddr, selectorTotalSupply)
	if err != nil {
		return "", fmt.Errorf("failed to get token supply: %w", err)
	}
	return v, nil
}

func (c *Client) GetGasPrice(ctx context.Context, network string) (string, error) {
	raw, err := c.Call(ctx, network, "eth_gasPrice")
	if err != nil {
		return "", fmt.Errorf("failed to get gas price: %w", err)
	}
	v, err := decodeQuantity(raw)
	if err != nil {
		return "", err
	}
	return v.String(), nil
}

// CallContractFunction sends a bare selector to contract and returns the raw hex result.
// args are not ABI encoded.
func (c *Client) CallContractFunction(ctx context.Context, network, contract, selector string, args []any) (string, error) {
	addr, err := parseAddress(contract)
	if err != nil {
		return "", err
	}
	sel, err := hexutil.Decode("0x" + strings.TrimPrefix(strings.TrimSpace(selector), "0x"))
	if err != nil || len(sel) == 0 {
		return "", fmt.Errorf("invalid function selector %q", selector)
	}

	raw, err := c.ethCall(ctx, network, addr, sel)
	if err != nil {
		return "", fmt.Errorf("failed to call contract function: %w", err)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return string(raw), nil
	}
	return s, nil
}

// Block is the header subset read from eth_getBlockByNumber.
type Block struct {
	Number     *hexutil.Big   `json:"number"`
	Hash       common.Hash    `json:"hash"`
	ParentHash common.Hash    `json:"parentHash"`
	Timestamp  hexutil.Uint64 `json:"timestamp"`
	GasUsed    hexutil.Uint64 `json:"gasUsed"`
	GasLimit   hexutil.Uint64 `json:"gasLimit"`
	Miner      common.Address `json:"miner"`
}

func (c *Client) GetLatestBlock(ctx context.Context, network string) (*Block, error) {
	raw, err := c.Call(ctx, network, "eth_getBlockByNumber", "latest", false)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest block: %w", err)
	}
	if string(raw) == "null" {
		return nil, ErrEmptyResult
	}
	var b Block
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("failed to decode block: %w", err)
	}
	return &b, nil
}

// Reserves are the decoded words of a Uniswap V2 style getReserves() call.
type Reserves struct {
	Reserve0           *big.Int
	Reserve1           *big.Int
	BlockTimestampLast uint32
}

func (c *Client) GetPairReserves(ctx context.Context, network, pair string) (*Reserves, error) {
	addr, err := parseAddress(pair)
	if err != nil {
		return nil, err
	}
	raw, err := c.ethCall(ctx, network, addr, selectorGetReserves)
	if err != nil {
		return nil, fmt.Errorf("failed to get pair reserves: %w", err)
	}
	b, err := decodeData(raw)
	if err != nil {
		return nil, err
	}
	if len(b) < 96 {
		return nil, fmt.Errorf("getReserves returned %d bytes, want 96", len(b))
	}
	return &Reserves{
		Reserve0:           new(big.Int).SetBytes(b[0:32]),
		Reserve1:           new(big.Int).SetBytes(b[32:64]),
		BlockTimestampLast: uint32(new(big.Int).SetBytes(b[64:96]).Uint64()),
	}, nil
}
