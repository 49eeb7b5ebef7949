// Copyright (c) 2025 The Geyser developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package cry

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/geyser-labs/geyser/geyser"
)

func TestKeccak256(t *testing.T) {
	assert.Equal(t,
		"0xc5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470",
		Keccak256().String())
	assert.Equal(t, Keccak256([]byte("ab")), Keccak256([]byte("a"), []byte("b")))
	assert.Equal(t, Keccak256([]byte("0xabc")), Keccak256Text("0xabc"))
}

func TestSortedPairHash(t *testing.T) {
	a := geyser.BytesToBytes32([]byte{1})
	b := geyser.BytesToBytes32([]byte{2})

	assert.Equal(t, SortedPairHash(a, b), SortedPairHash(b, a))
	assert.Equal(t, Keccak256(a[:], b[:]), SortedPairHash(b, a))
	assert.NotEqual(t, Keccak256(b[:], a[:]), SortedPairHash(b, a))
}
