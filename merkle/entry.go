// Copyright (c) 2025 The Geyser developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package merkle

import (
	"math/big"

	"github.com/geyser-labs/geyser/abi"
	"github.com/geyser-labs/geyser/cry"
	"github.com/geyser-labs/geyser/geyser"
	"github.com/holiman/uint256"
)

// ClaimEntry is the claim of one account in a cycle.
type ClaimEntry struct {
	Index             uint64
	Account           geyser.Address
	Cycle             uint64
	Tokens            []geyser.Address // sorted by address bytes
	CumulativeAmounts []*uint256.Int   // aligned with Tokens
}

// Node returns the abi encoded node content.
func (e *ClaimEntry) Node() ([]byte, error) {
	amounts := make([]*big.Int, len(e.CumulativeAmounts))
	for i, a := range e.CumulativeAmounts {
		amounts[i] = a.ToBig()
	}
	return abi.EncodeNode(e.Index, e.Account, e.Cycle, e.Tokens, amounts)
}

// Leaf returns keccak256 of the node content.
func (e *ClaimEntry) Leaf() (geyser.Bytes32, error) {
	node, err := e.Node()
	if err != nil {
		return geyser.Bytes32{}, err
	}
	return cry.Keccak256(node), nil
}

// Amount returns the cumulative amount of token, zero if absent.
func (e *ClaimEntry) Amount(token geyser.Address) *uint256.Int {
	for i, t := range e.Tokens {
		if t == token {
			return new(uint256.Int).Set(e.CumulativeAmounts[i])
		}
	}
	return new(uint256.Int)
}

func (e *ClaimEntry) clone() ClaimEntry {
	c := *e
	c.Tokens = append([]geyser.Address(nil), e.Tokens...)
	c.CumulativeAmounts = make([]*uint256.Int, len(e.CumulativeAmounts))
	for i, a := range e.CumulativeAmounts {
		c.CumulativeAmounts[i] = new(uint256.Int).Set(a)
	}
	return c
}
