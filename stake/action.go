// Copyright (c) 2025 The Geyser developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package stake

import (
	"fmt"

	"github.com/geyser-labs/geyser/geyser"
	"github.com/holiman/uint256"
)

// Kind of a stake action.
type Kind uint8

const (
	Stake Kind = iota
	Unstake
)

func (k Kind) String() string {
	switch k {
	case Stake:
		return "stake"
	case Unstake:
		return "unstake"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "stake":
		*k = Stake
	case "unstake":
		*k = Unstake
	default:
		return fmt.Errorf("unknown stake kind %q", text)
	}
	return nil
}

// Action is a single stake or unstake recorded for an account.
type Action struct {
	Account   geyser.Address `yaml:"account"`
	Kind      Kind           `yaml:"kind"`
	Amount    *uint256.Int   `yaml:"amount"`
	Timestamp uint64         `yaml:"timestamp"`
}

// NewStake returns a Stake action.
func NewStake(account geyser.Address, amount uint64, ts uint64) Action {
	return Action{account, Stake, uint256.NewInt(amount), ts}
}

// NewUnstake returns an Unstake action.
func NewUnstake(account geyser.Address, amount uint64, ts uint64) Action {
	return Action{account, Unstake, uint256.NewInt(amount), ts}
}

func (a Action) String() string {
	return fmt.Sprintf("%v %v %v@%d", a.Account, a.Kind, a.Amount, a.Timestamp)
}
