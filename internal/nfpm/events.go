// Package nfpm decodes the position lifecycle events emitted by the
// Uniswap v3 NonfungiblePositionManager contract.
package nfpm

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Topic0 constants for the three tracked events.
var (
	TopicIncreaseLiquidity = crypto.Keccak256Hash([]byte("IncreaseLiquidity(uint256,uint128,uint256,uint256)"))
	TopicDecreaseLiquidity = crypto.Keccak256Hash([]byte("DecreaseLiquidity(uint256,uint128,uint256,uint256)"))
	TopicCollect           = crypto.Keccak256Hash([]byte("Collect(uint256,address,uint256,uint256)"))
)

// Topics returns the three tracked topic0 values in a fixed order.
func Topics() [3]common.Hash {
	return [3]common.Hash{TopicIncreaseLiquidity, TopicDecreaseLiquidity, TopicCollect}
}

// EventKind identifies which NFPM event a log encodes.
type EventKind string

const (
	KindIncreaseLiquidity EventKind = "IncreaseLiquidity"
	KindDecreaseLiquidity EventKind = "DecreaseLiquidity"
	KindCollect           EventKind = "Collect"
)

// PositionEvent is the parsed form of an NFPM log, carrying full provenance
// so the ledger can key it on (chain, txHash, logIndex).
type PositionEvent struct {
	Chain string
	Kind  EventKind

	// TokenID is the NFT token id of the position (indexed topic 1).
	TokenID *big.Int

	// Liquidity is set for IncreaseLiquidity and DecreaseLiquidity.
	Liquidity *big.Int

	// Amount0 and Amount1 are set for all three kinds.
	Amount0 *big.Int
	Amount1 *big.Int

	// Recipient is set for Collect only.
	Recipient common.Address

	BlockNumber uint64
	BlockHash   common.Hash
	TxHash      common.Hash
	TxIndex     uint
	LogIndex    uint
}

const (
	wordSize      = 32
	eventTopicLen = 2 // topic0 + indexed tokenId
	eventDataLen  = 3 * wordSize
)

// ParseLog decodes a raw log into a PositionEvent. It returns an error for
// logs whose topic0 is not one of the tracked events or whose shape violates
// the event ABI; callers treat that as a single-log anomaly, not a fatal
// condition.
func ParseLog(chain string, lg types.Log) (*PositionEvent, error) {
	if len(lg.Topics) == 0 {
		return nil, fmt.Errorf("log %s[%d] has no topics", lg.TxHash.Hex(), lg.Index)
	}

	var kind EventKind
	switch lg.Topics[0] {
	case TopicIncreaseLiquidity:
		kind = KindIncreaseLiquidity
	case TopicDecreaseLiquidity:
		kind = KindDecreaseLiquidity
	case TopicCollect:
		kind = KindCollect
	default:
		return nil, fmt.Errorf("log %s[%d] has unknown topic0 %s", lg.TxHash.Hex(), lg.Index, lg.Topics[0].Hex())
	}

	if len(lg.Topics) != eventTopicLen {
		return nil, fmt.Errorf("%s log %s[%d] has %d topics, want %d",
			kind, lg.TxHash.Hex(), lg.Index, len(lg.Topics), eventTopicLen)
	}

	if len(lg.Data) != eventDataLen {
		return nil, fmt.Errorf("%s log %s[%d] has %d data bytes, want %d",
			kind, lg.TxHash.Hex(), lg.Index, len(lg.Data), eventDataLen)
	}

	event := &PositionEvent{
		Chain:       chain,
		Kind:        kind,
		TokenID:     new(big.Int).SetBytes(lg.Topics[1].Bytes()),
		Amount0:     new(big.Int).SetBytes(lg.Data[wordSize : 2*wordSize]),
		Amount1:     new(big.Int).SetBytes(lg.Data[2*wordSize : 3*wordSize]),
		BlockNumber: lg.BlockNumber,
		BlockHash:   lg.BlockHash,
		TxHash:      lg.TxHash,
		TxIndex:     lg.TxIndex,
		LogIndex:    lg.Index,
	}

	switch kind {
	case KindIncreaseLiquidity, KindDecreaseLiquidity:
		event.Liquidity = new(big.Int).SetBytes(lg.Data[:wordSize])
	case KindCollect:
		// First data word is the abi-padded recipient address.
		event.Recipient = common.BytesToAddress(lg.Data[:wordSize])
	}

	return event, nil
}
