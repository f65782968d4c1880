package storage

import "fmt"

// Key schema for replica checkpoint storage:
//
//	cursor                              → last applied Instant
//	trd:<perpetual_id>:<block_number>   → []fill.TakerTrade for that perpetual at that block
const (
	keyCursor    = "cursor"
	prefixTrades = "trd:"
)

func tradesKey(perpetualId uint32, blockNumber uint64) []byte {
	return append([]byte(fmt.Sprintf("%s%010d:", prefixTrades, perpetualId)), blockNumberKey(blockNumber)...)
}

func tradesPrefix(perpetualId uint32) []byte {
	return []byte(fmt.Sprintf("%s%010d:", prefixTrades, perpetualId))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
