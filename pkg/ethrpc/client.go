// Package ethrpc adapts go-ethereum's ethclient to the eth.Client contract
// the mempool submitter and autopilot inclusion watcher are written
// against.
package ethrpc

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/cowbatch/autopilot/pkg/eth"
)

// Client wraps an RPC connection to one Ethereum-compatible node.
type Client struct {
	eth *ethclient.Client
	rpc *rpc.Client
}

// Dial connects to rpcURL and returns a Client.
func Dial(ctx context.Context, rpcURL string) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("ethrpc: dial: %w", err)
	}
	return &Client{eth: ethclient.NewClient(rpcClient), rpc: rpcClient}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.rpc.Close()
}

func (c *Client) CurrentBlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("ethrpc: block number: %w", err)
	}
	return n, nil
}

func (c *Client) NonceAt(ctx context.Context, addr common.Address) (uint64, error) {
	n, err := c.eth.PendingNonceAt(ctx, addr)
	if err != nil {
		return 0, fmt.Errorf("ethrpc: nonce: %w", err)
	}
	return n, nil
}

func (c *Client) EstimateGas(ctx context.Context, from, to common.Address, value *big.Int, data []byte) (uint64, error) {
	gas, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
		From:  from,
		To:    &to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return 0, fmt.Errorf("ethrpc: estimate gas: %w", err)
	}
	return gas, nil
}

func (c *Client) SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return common.Hash{}, fmt.Errorf("ethrpc: decode raw transaction: %w", err)
	}
	if err := c.eth.SendTransaction(ctx, tx); err != nil {
		return common.Hash{}, fmt.Errorf("ethrpc: send transaction: %w", err)
	}
	return tx.Hash(), nil
}

func (c *Client) TransactionStatus(ctx context.Context, hash common.Hash) (eth.TxStatus, error) {
	receipt, err := c.eth.TransactionReceipt(ctx, hash)
	if err == ethereum.NotFound {
		return eth.TxPending, nil
	}
	if err != nil {
		return eth.TxPending, fmt.Errorf("ethrpc: transaction receipt: %w", err)
	}
	if receipt.Status == types.ReceiptStatusSuccessful {
		return eth.TxExecuted, nil
	}
	return eth.TxReverted, nil
}

func (c *Client) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	if token == (common.Address{}) {
		bal, err := c.eth.BalanceAt(ctx, owner, nil)
		if err != nil {
			return nil, fmt.Errorf("ethrpc: native balance: %w", err)
		}
		return bal, nil
	}

	const balanceOfSelector = "0x70a08231"
	data := append(common.FromHex(balanceOfSelector), common.LeftPadBytes(owner.Bytes(), 32)...)
	result, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("ethrpc: erc20 balanceOf: %w", err)
	}
	return new(big.Int).SetBytes(result), nil
}

// txpoolContentResult mirrors the txpool_content RPC's per-sender shape:
// nonce -> transaction, for the pending and queued sub-maps.
type txpoolContentResult struct {
	Pending map[string]map[string]rpcTx `json:"pending"`
	Queued  map[string]map[string]rpcTx `json:"queued"`
}

type rpcTx struct {
	Hash                 common.Hash     `json:"hash"`
	Nonce                string          `json:"nonce"`
	MaxFeePerGas         *big.Int        `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *big.Int        `json:"maxPriorityFeePerGas"`
	GasPrice             *big.Int        `json:"gasPrice"`
}

func (c *Client) PendingTransactionsFrom(ctx context.Context, from common.Address) ([]eth.PendingTx, error) {
	var result txpoolContentResult
	if err := c.rpc.CallContext(ctx, &result, "txpool_content"); err != nil {
		return nil, fmt.Errorf("ethrpc: txpool_content: %w", err)
	}

	var out []eth.PendingTx
	for _, bucket := range []map[string]map[string]rpcTx{result.Pending, result.Queued} {
		byNonce, ok := bucket[from.Hex()]
		if !ok {
			continue
		}
		for _, tx := range byNonce {
			nonce, err := parseHexUint(tx.Nonce)
			if err != nil {
				continue
			}
			gasPrice := tx.MaxFeePerGas
			if gasPrice == nil {
				gasPrice = tx.GasPrice
			}
			out = append(out, eth.PendingTx{
				Hash:     tx.Hash,
				Nonce:    nonce,
				GasPrice: gasPrice,
				GasTip:   tx.MaxPriorityFeePerGas,
			})
		}
	}
	return out, nil
}

func (c *Client) CurrentGasPrice(ctx context.Context) (*big.Int, error) {
	price, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("ethrpc: suggest gas price: %w", err)
	}
	return price, nil
}

func (c *Client) TransactionCallData(ctx context.Context, hash common.Hash) ([]byte, error) {
	tx, _, err := c.eth.TransactionByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("ethrpc: transaction by hash: %w", err)
	}
	return tx.Data(), nil
}

func parseHexUint(s string) (uint64, error) {
	var n uint64
	_, err := fmt.Sscanf(s, "0x%x", &n)
	return n, err
}
