package domain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Party identifies a wallet taking part in settlement: a player, a bettor,
// or a record administrator. The zero value is the empty identity, which no
// record may reference.
type Party = common.Address

// ZeroParty is the empty identity.
var ZeroParty Party

// ParseParty decodes a 0x-prefixed hex address into a Party.
func ParseParty(s string) (Party, error) {
	if !common.IsHexAddress(s) {
		return ZeroParty, fmt.Errorf("%w: %q is not a hex address", ErrInvalidParty, s)
	}
	return common.HexToAddress(s), nil
}
