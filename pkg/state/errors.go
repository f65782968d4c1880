package state

import (
	"errors"
	"fmt"
)

// Order book errors. These always indicate either a bug or a corrupted
// input batch; the engine rejects the whole batch and leaves state
// untouched when one surfaces (§7 "Internal inconsistency").
var (
	ErrOrderAlreadyExists      = errors.New("order already exists")
	ErrOrderNotFound           = errors.New("order not found")
	ErrOrderNotAtExpectedLevel = errors.New("order not at expected level")
	ErrOrderIdMismatch         = errors.New("order id mismatch")
	ErrInvalidOrderSize        = errors.New("invalid order size")
	ErrInvalidOrderPrice       = errors.New("invalid order price")
	ErrLevelNotFound           = errors.New("level not found")
	ErrDanglingOrderReference  = errors.New("dangling order reference in snapshot")
)

// BlockOutOfOrderError signals a batch was rejected because its instant
// does not immediately follow the exchange's current instant.
type BlockOutOfOrderError struct {
	Expected uint64
	Got      uint64
}

func (e *BlockOutOfOrderError) Error() string {
	return fmt.Sprintf("block out of order, expected: %d, got: %d", e.Expected, e.Got)
}

// OrderContextExpectedError signals a raw event required an OrderContext
// that was not present (missing OrderRequest earlier in the transaction).
type OrderContextExpectedError struct {
	TxIndex  uint64
	LogIndex uint64
}

func (e *OrderContextExpectedError) Error() string {
	return fmt.Sprintf("order context expected, tx: %d, log: %d", e.TxIndex, e.LogIndex)
}

// PositionNotFoundError signals a position-scoped event referenced an
// (account, perpetual) pair with no tracked position.
type PositionNotFoundError struct {
	AccountId   AccountId
	PerpetualId PerpetualId
}

func (e *PositionNotFoundError) Error() string {
	return fmt.Sprintf("position not found, acc: %d, perp: %d", e.AccountId, e.PerpetualId)
}
