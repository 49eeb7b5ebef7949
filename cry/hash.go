// Copyright (c) 2025 The Geyser developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package cry

import (
	"bytes"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/geyser-labs/geyser/geyser"
)

// Keccak256 computes keccak256 of the concatenation of data.
func Keccak256(data ...[]byte) geyser.Bytes32 {
	return geyser.Bytes32(crypto.Keccak256Hash(data...))
}

// Keccak256Text hashes the utf8 bytes of s.
func Keccak256Text(s string) geyser.Bytes32 {
	return Keccak256([]byte(s))
}

// SortedPairHash hashes the byte-wise sorted concatenation of a and b, so the
// result does not depend on the order of the arguments.
func SortedPairHash(a, b geyser.Bytes32) geyser.Bytes32 {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return Keccak256(a[:], b[:])
}
