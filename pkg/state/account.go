package state

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/perpl-dex/state-replica/pkg/num"
)

// Account is an exchange account: a collateral balance plus up to one
// open position per perpetual contract.
type Account struct {
	Instant       Instant
	Id            AccountId
	Address       common.Address
	Balance       num.UD128
	LockedBalance num.UD128
	Frozen        bool
	Positions     map[PerpetualId]*Position
}

// NewAccountFromEvent constructs a freshly-created account with zero
// balances and no positions, as produced by an AccountCreated event.
func NewAccountFromEvent(instant Instant, id AccountId, address common.Address) *Account {
	return &Account{
		Instant:   instant,
		Id:        id,
		Address:   address,
		Positions: make(map[PerpetualId]*Position),
	}
}

// NewAccountFromPosition constructs an account discovered only through
// a position read during snapshot reconstruction; its own on-chain
// fields are not yet known.
func NewAccountFromPosition(instant Instant, position *Position) *Account {
	a := &Account{
		Instant:   instant,
		Id:        position.AccountId,
		Positions: make(map[PerpetualId]*Position),
	}
	a.Positions[position.PerpetualId] = position
	return a
}

func (a *Account) UpdateFrozen(instant Instant, frozen bool) {
	a.Frozen = frozen
	a.Instant = instant
}

func (a *Account) UpdateBalance(instant Instant, balance num.UD128) {
	a.Balance = balance
	a.Instant = instant
}

func (a *Account) UpdateLockedBalance(instant Instant, lockedBalance num.UD128) {
	a.LockedBalance = lockedBalance
	a.Instant = instant
}

// positionBitmapBanks holds the bit width of each of the four banks in the
// on-chain PositionBitMap, and the PerpetualId offset of the first bit
// of each bank. Bank 1 reserves its top 3 bits for flags unrelated to
// position membership.
var positionBitmapBanks = [4]struct {
	offset PerpetualId
	bits   int
}{
	{offset: 0, bits: 253},
	{offset: 253, bits: 256},
	{offset: 509, bits: 256},
	{offset: 765, bits: 256},
}

// PerpetualsWithPosition decodes the four 256-bit bank words of a
// PositionBitMap into the set of perpetual IDs the account holds a
// position in.
func PerpetualsWithPosition(bank1, bank2, bank3, bank4 *big.Int) []PerpetualId {
	banks := [4]*big.Int{bank1, bank2, bank3, bank4}
	var ids []PerpetualId
	for bi, bank := range banks {
		if bank == nil || bank.Sign() == 0 {
			continue
		}
		spec := positionBitmapBanks[bi]
		for i := 0; i < spec.bits; i++ {
			if bank.Bit(i) == 1 {
				ids = append(ids, spec.offset+PerpetualId(i))
			}
		}
	}
	return ids
}
