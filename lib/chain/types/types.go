// Package types common blockchain types.
package types

import (
	"errors"
	"time"
)

// Trans contains the transaction fields relevant to interaction tracking: who called which contract in which block.
type Trans struct {
	Block  string `json:"block"`
	Hash   string `json:"hash"`
	From   string `json:"from"`
	To     string `json:"to"`
	Method string `json:"method,omitempty"` // decoded call classification: transfer, transferFrom, call
	Value  string `json:"value,omitempty"`
}

// Block contains a simplified list of block fields.
type Block struct {
	Hash   string  `json:"hash"`
	PHash  string  `json:"parentHash"`
	Number string  `json:"number"`
	TS     string  `json:"timestamp"`
	Tx     []Trans `json:"transactions"`
}

// ContractEvent is one interaction of a wallet with a tracked project's contract, as delivered to the tracker. The
// stream makes no ordering or exactly-once guarantee.
type ContractEvent struct {
	ProjectID       string    `json:"projectId"`
	ContractAddress string    `json:"contractAddress"`
	EventName       string    `json:"eventName"`
	WalletAddress   string    `json:"walletAddress"`
	BlockNumber     uint64    `json:"blockNumber"`
	TransactionHash string    `json:"transactionHash"`
	TS              time.Time `json:"timestamp"`
}

// Error codes.
var (
	ErrBlockDecode   = errors.New("unable to decode block data into Block type")
	ErrNoBlockNumber = errors.New("block data does not contain a block number")
	ErrNoTS          = errors.New("block data does not contain a timestamp")
	ErrNoHash        = errors.New("block data does not contain a hash")
	ErrNoParentHash  = errors.New("block data does not contain a parenthash")
	ErrNoBlock       = errors.New("block not available yet")
	ErrNoTrx         = errors.New("transaction not found")
	ErrNoTrxHash     = errors.New("malformed tx data in block, field 'hash' missing")
	ErrNoTrxFrom     = errors.New("malformed tx data in block, field 'from' missing")
)
