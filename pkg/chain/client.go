// Package chain wraps the go-ethereum RPC client with the thin
// polling surface the event source adapter needs (§4.4). Decoding a
// raw log into a RawEvent is contract-ABI-specific and is supplied by
// the caller as a Decoder — this package only knows how to fetch logs
// and block headers.
package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/perpl-dex/state-replica/pkg/stream"
)

// Decoder turns one contract log into a RawEvent. It returns ok=false
// for logs the exchange contract emits that carry no replica-relevant
// event (e.g. ERC20 Transfer on the collateral token).
type Decoder interface {
	DecodeLog(log types.Log) (event stream.RawEvent, ok bool, err error)
}

// Client polls a chain's JSON-RPC endpoint for the exchange
// contract's logs, in (tx_index, log_index) order within a block.
type Client struct {
	eth      *ethclient.Client
	exchange common.Address
	decoder  Decoder
}

// Dial connects to rpcEndpoint and builds a Client that decodes logs
// from the exchange contract at address exchange using decoder.
func Dial(ctx context.Context, rpcEndpoint string, exchange common.Address, decoder Decoder) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcEndpoint)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", rpcEndpoint, err)
	}
	return &Client{eth: eth, exchange: exchange, decoder: decoder}, nil
}

func (c *Client) Close() { c.eth.Close() }

// HeadBlockNumber implements stream.LogSource.
func (c *Client) HeadBlockNumber(ctx context.Context) (uint64, error) {
	return c.eth.BlockNumber(ctx)
}

// BlockEvents implements stream.LogSource: it fetches every exchange
// log in blockNumber, decodes each via the configured Decoder, and
// reads the block's timestamp from its header. Logs are returned by
// the node already ordered by (tx_index, log_index) within a block.
func (c *Client) BlockEvents(ctx context.Context, blockNumber uint64) ([]stream.RawEvent, uint64, error) {
	num := new(big.Int).SetUint64(blockNumber)

	header, err := c.eth.HeaderByNumber(ctx, num)
	if err != nil {
		return nil, 0, fmt.Errorf("chain: header %d: %w", blockNumber, err)
	}

	logs, err := c.eth.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: num,
		ToBlock:   num,
		Addresses: []common.Address{c.exchange},
	})
	if err != nil {
		return nil, 0, fmt.Errorf("chain: filter logs %d: %w", blockNumber, err)
	}

	events := make([]stream.RawEvent, 0, len(logs))
	for _, l := range logs {
		ev, ok, err := c.decoder.DecodeLog(l)
		if err != nil {
			return nil, 0, fmt.Errorf("chain: decode log tx=%s idx=%d: %w", l.TxHash, l.Index, err)
		}
		if !ok {
			continue
		}
		ev.TxHash = l.TxHash
		ev.TxIndex = uint64(l.TxIndex)
		ev.LogIndex = uint64(l.Index)
		events = append(events, ev)
	}
	return events, header.Time, nil
}

var _ stream.LogSource = (*Client)(nil)
