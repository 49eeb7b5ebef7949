// Copyright (c) 2025 The Geyser developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package merkle

import (
	"encoding/binary"
	"math/big"
	"testing"

	"github.com/geyser-labs/geyser/cry"
	"github.com/geyser-labs/geyser/geyser"
	"github.com/geyser-labs/geyser/ledger"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	badger = geyser.MustParseAddress("0x3472a5a71965499acd81997a54bba8d852c6e53d")
	digg   = geyser.MustParseAddress("0x798d1be841a82a273720ce31c822c61a67a601c3")
	blocks = geyser.NewBlockRange(100, 200)
)

func account(i int) geyser.Address {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(i+1))
	return geyser.BytesToAddress(b[:])
}

func ledgerOf(t *testing.T, n int) *ledger.Ledger {
	l := ledger.New(5)
	for i := range n {
		require.NoError(t, l.IncreaseUserRewards(account(i), badger, big.NewInt(int64(1000+i))))
		if i%2 == 0 {
			require.NoError(t, l.IncreaseUserRewards(account(i), digg, big.NewInt(int64(i))))
		}
	}
	return l
}

func checkAllProofs(t *testing.T, tree *Tree, n int) {
	for i := range n {
		leaf, ok := tree.Leaf(account(i))
		require.True(t, ok)
		proof, ok := tree.Proof(account(i))
		require.True(t, ok)
		assert.True(t, VerifyProof(tree.Root(), leaf, proof), "account %d of %d", i, n)
	}
}

func TestBuildAndProve(t *testing.T) {
	for _, n := range []int{1, 2, 3, 4, 5, 7, 8, 9, 33} {
		tree, err := Build(ledgerOf(t, n), 5, blocks)
		require.NoError(t, err)
		assert.Equal(t, n, tree.Len())
		checkAllProofs(t, tree, n)
	}
}

func TestSingleLeaf(t *testing.T) {
	tree, err := Build(ledgerOf(t, 1), 5, blocks)
	require.NoError(t, err)
	leaf, _ := tree.Leaf(account(0))
	assert.Equal(t, leaf, tree.Root())
	proof, _ := tree.Proof(account(0))
	assert.Empty(t, proof)
}

func TestThreeLeavesLayout(t *testing.T) {
	tree, err := Build(ledgerOf(t, 3), 5, blocks)
	require.NoError(t, err)

	sorted := tree.layers[0]
	require.Len(t, sorted, 3)
	assert.True(t, sorted[0].Compare(sorted[1]) < 0 && sorted[1].Compare(sorted[2]) < 0)

	// the odd leaf is promoted, not hashed with itself
	want := cry.SortedPairHash(cry.SortedPairHash(sorted[0], sorted[1]), sorted[2])
	assert.Equal(t, want, tree.Root())

	pos := tree.position[sorted[2]]
	assert.Equal(t, 2, pos)
	for i := range 3 {
		leaf, _ := tree.Leaf(account(i))
		if leaf == sorted[2] {
			proof, _ := tree.Proof(account(i))
			assert.Len(t, proof, 1)
		}
	}
}

func TestEntries(t *testing.T) {
	tree, err := Build(ledgerOf(t, 4), 5, blocks)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), tree.Cycle())
	assert.Equal(t, blocks, tree.Blocks())

	entries := tree.Entries()
	for i, e := range entries {
		assert.Equal(t, uint64(i), e.Index)
		assert.Equal(t, account(i), e.Account)
	}
	e, ok := tree.Entry(account(0))
	require.True(t, ok)
	assert.Equal(t, []geyser.Address{badger, digg}, e.Tokens)
	assert.Equal(t, uint64(1000), e.Amount(badger).Uint64())
	assert.True(t, e.Amount(geyser.Address{}).IsZero())

	// mutating a copy does not affect the tree
	entries[0].CumulativeAmounts[0].SetUint64(1)
	again, _ := tree.Entry(account(0))
	assert.Equal(t, uint64(1000), again.CumulativeAmounts[0].Uint64())

	_, ok = tree.Proof(geyser.Address{})
	assert.False(t, ok)
}

func TestRebuildFromEntries(t *testing.T) {
	tree, err := Build(ledgerOf(t, 6), 5, blocks)
	require.NoError(t, err)

	entries := tree.Entries()
	entries[0], entries[5] = entries[5], entries[0]
	rebuilt, err := BuildEntries(entries)
	require.NoError(t, err)
	assert.Equal(t, tree.Root(), rebuilt.Root())
}

func TestProofBitFlips(t *testing.T) {
	tree, err := Build(ledgerOf(t, 9), 5, blocks)
	require.NoError(t, err)
	leaf, _ := tree.Leaf(account(4))
	proof, _ := tree.Proof(account(4))
	require.NotEmpty(t, proof)

	for i := range proof {
		for bit := range 256 {
			flipped := append([]geyser.Bytes32(nil), proof...)
			flipped[i][bit/8] ^= 1 << (bit % 8)
			assert.False(t, VerifyProof(tree.Root(), leaf, flipped))
		}
	}
	for bit := range 256 {
		bad := leaf
		bad[bit/8] ^= 1 << (bit % 8)
		assert.False(t, VerifyProof(tree.Root(), bad, proof))
	}
	assert.False(t, VerifyProof(tree.Root(), leaf, proof[:len(proof)-1]))
}

func TestBuildErrors(t *testing.T) {
	_, err := Build(ledger.New(1), 1, blocks)
	assert.True(t, geyser.IsKind(err, geyser.KindEmptyDistribution))
	assert.Equal(t, uint64(1), err.(*geyser.Error).Cycle)

	e := ClaimEntry{Account: account(0), Cycle: 1, Tokens: []geyser.Address{badger}, CumulativeAmounts: []*uint256.Int{uint256.NewInt(1)}}
	dup := e
	dup.Index = 1
	_, err = BuildEntries([]ClaimEntry{e, dup})
	assert.True(t, geyser.IsKind(err, geyser.KindDuplicateLeaf))

	other := e
	other.Account = account(1)
	_, err = BuildEntries([]ClaimEntry{e, other})
	assert.True(t, geyser.IsKind(err, geyser.KindInvalidInput), "same index twice")

	other.Index = 1
	other.Cycle = 2
	_, err = BuildEntries([]ClaimEntry{e, other})
	assert.True(t, geyser.IsKind(err, geyser.KindInvalidInput), "mixed cycles")

	bad := e
	bad.CumulativeAmounts = nil
	_, err = BuildEntries([]ClaimEntry{bad})
	assert.Error(t, err)
}

func TestParallelLeafHashing(t *testing.T) {
	n := parallelThreshold + 17
	tree, err := Build(ledgerOf(t, n), 5, blocks)
	require.NoError(t, err)
	checkAllProofs(t, tree, n)

	entries := tree.Entries()
	small, err := BuildEntries(entries[len(entries)-3:])
	require.Error(t, err, "indexes no longer dense")
	assert.Nil(t, small)
}
