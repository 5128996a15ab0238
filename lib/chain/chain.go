// Package chain defines the interface required for all blockchain or network connections.
package chain

import (
	"log"

	"github.com/cryptomap/pulse/lib/chain/ethereum"
	"github.com/cryptomap/pulse/lib/chain/types"
	"github.com/cryptomap/pulse/lib/config"
)

// Chain is an interface that contains the methods the tracker needs to scan a network's mined blocks. It has been
// designed to be as much standard as possible, however, there may be specific blockchains or networks that would
// require different types or more methods.
type Chain interface {
	MaxBlocks() int // number of blocks that are controlled for orphans (uncles)
	AvgBlock() int  // average block mining rate in seconds
	Close()
	GetBlock(block uint64, full bool, response interface{}) error
	DecodeBlock(b interface{}) (types.Block, error)
	DecodeTxs(t interface{}) ([]types.Trans, error)
}

// Init loads clients for all the configured networks with a node url into a map. Networks without a node url are
// skipped here: their events arrive through the message broker instead of direct scanning.
func Init(bc []config.BlockConfig) (m map[string]Chain, err error) {
	m = make(map[string]Chain)

	for _, block := range bc {
		if block.Node == "" {
			continue
		}

		var tmp *ethereum.Ethereum

		if tmp, err = ethereum.Init(block.Node, block.Secret, block.MaxBlocks); err != nil {
			return
		}

		m[block.Name] = tmp

		log.Printf("[%s] Blockchain client loaded for %s", block.Name, block.Node)
	}

	return
}

// End closes gracefully all the blockchain clients opened.
func End(bc map[string]Chain) {
	for _, block := range bc {
		block.Close()
	}
}
