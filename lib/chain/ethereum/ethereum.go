// Implements interface for ethereum networks
package ethereum

import (
	"errors"
	"log"

	"github.com/tarancss/ethcli"

	"github.com/cryptomap/pulse/lib/chain/types"
)

// Ethereum implements a connection to an ethereum-type chain.
type Ethereum struct {
	c  *ethcli.EthCli
	mb int
}

// Ethereum ERC20 token methodID (keccak-256 of the function name and arguments)
const (
	ERC20transfer256     = "a9059cbb" // transfer(address,uint256)
	ERC20transferFrom256 = "23b872dd" // transferFrom(address,address,uint256)
	ERC20transfer        = "6cb927d8" // transfer(address,uint)
	ERC20transferFrom    = "a978501e" // transferFrom(address,address,uint)
)

// Call classifications set in Trans.Method.
const (
	MethodTransfer     = "transfer"
	MethodTransferFrom = "transferFrom"
	MethodCall         = "call"
)

// Init returns a connection to an ethereum node, using secret if necessary for authentication. maxBlocks indicates
// how many blocks will be taken into account for uncle management.
func Init(node, secret string, maxBlocks int) (*Ethereum, error) {
	var c *ethcli.EthCli
	var err error
	if c = ethcli.Init(node, secret); c == nil {
		err = errors.New("cannot connect to ethereum blockchain in " + node)
	}
	return &Ethereum{c: c, mb: maxBlocks}, err
}

// MaxBlocks returns how many blocks will be taken into account for uncle management.
func (e *Ethereum) MaxBlocks() int {
	return e.mb
}

// AvgBlock returns the average time to mine a block in seconds.
func (e *Ethereum) AvgBlock() int {
	return 15 // we could put this in the config file...
}

// Close ends a connection
func (e *Ethereum) Close() {
	e.c.End()
}

// GetBlock returns in response the block number requested. If full, it provides all the details of the transactions.
func (e *Ethereum) GetBlock(block uint64, full bool, response interface{}) (err error) {
	if err = e.c.GetBlockByNumber(block, full, response.(*map[string]interface{})); err == ethcli.ErrNoBlock {
		err = types.ErrNoBlock
	}
	return
}

// DecodeBlock returns a struct with the values from the block data. It is used after a call to GetBlock.
func (e *Ethereum) DecodeBlock(t interface{}) (b types.Block, err error) {
	m, ok := t.(map[string]interface{})
	if !ok {
		err = types.ErrBlockDecode
		return
	}
	if b.Hash, ok = m["hash"].(string); !ok {
		err = types.ErrNoHash
		return
	}
	if b.PHash, ok = m["parentHash"].(string); !ok {
		err = types.ErrNoParentHash
		return
	}
	if b.Number, ok = m["number"].(string); !ok {
		err = types.ErrNoBlockNumber
		return
	}
	if b.TS, ok = m["timestamp"].(string); !ok {
		err = types.ErrNoTS
		return
	}
	return
}

// DecodeTxs returns a slice of transactions from the block data, keeping only the fields needed to attribute a
// contract interaction to a wallet. The "to" field of a token transfer still points at the contract, which is what
// interaction tracking needs, so unlike a balance explorer the token recipient inside "input" is left alone. It is
// used after a call to GetBlock.
func (e *Ethereum) DecodeTxs(t interface{}) (txs []types.Trans, err error) {
	var txList []interface{}
	var txObj map[string]interface{}

	m, ok := t.(map[string]interface{})
	if !ok {
		err = types.ErrNoTrx
		return
	}
	if txList, ok = m["transactions"].([]interface{}); !ok {
		err = types.ErrNoTrx
		return
	}

	if len(txList) > 0 {
		txs = make([]types.Trans, len(txList))
		switch txList[0].(type) {
		case string:
			for i := 0; i < len(txList); i++ {
				txs[i].Hash = txList[i].(string) // only transaction hashes
			}
		case map[string]interface{}:
			// full data of the transactions
			for i := 0; i < len(txList); i++ {
				txObj = txList[i].(map[string]interface{})
				if txs[i].Block, ok = txObj["blockNumber"].(string); !ok {
					err = types.ErrNoBlockNumber
					return
				}
				if txs[i].Hash, ok = txObj["hash"].(string); !ok {
					err = types.ErrNoTrxHash
					return
				}
				if txs[i].To, ok = txObj["to"].(string); !ok {
					continue // contract creation, no target to track
				}
				if txs[i].From, ok = txObj["from"].(string); !ok {
					err = types.ErrNoTrxFrom
					return
				}
				txs[i].Value, _ = txObj["value"].(string)

				// classify the call by its method selector
				input, _ := txObj["input"].(string)
				switch {
				case len(input) > 10 && (input[2:10] == ERC20transfer || input[2:10] == ERC20transfer256):
					txs[i].Method = MethodTransfer
				case len(input) > 10 && (input[2:10] == ERC20transferFrom || input[2:10] == ERC20transferFrom256):
					txs[i].Method = MethodTransferFrom
				case input == "0x" || input == "":
					txs[i].Method = MethodTransfer // plain ether transfer
				default:
					txs[i].Method = MethodCall
				}
			}
		default:
			log.Printf("NODE ERROR: unknown txList type %T\n", t)
		}
	}
	return
}
