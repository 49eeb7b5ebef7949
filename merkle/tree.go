// Copyright (c) 2025 The Geyser developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package merkle builds the claim tree committed on chain and derives proofs.
//
// Leaves are keccak256 of the abi encoded claim node, sorted by hash. Each layer
// pairs neighbours left to right, hashing the byte-wise sorted pair; an odd last
// node is promoted unchanged. Proof verification is therefore order independent
// and matches the MerkleProof verifier of the claim contract.
package merkle

import (
	"sort"

	"github.com/geyser-labs/geyser/co"
	"github.com/geyser-labs/geyser/cry"
	"github.com/geyser-labs/geyser/geyser"
	"github.com/geyser-labs/geyser/ledger"
	"github.com/geyser-labs/geyser/log"
	"github.com/holiman/uint256"
)

var logger = log.WithContext("pkg", "merkle")

// leaves above this count are hashed in parallel.
const parallelThreshold = 512

// Tree is an immutable claim tree of one cycle.
type Tree struct {
	cycle    uint64
	blocks   geyser.BlockRange
	entries  []ClaimEntry // sorted by account
	byAcc    map[geyser.Address]int
	leaves   []geyser.Bytes32 // aligned with entries
	position map[geyser.Bytes32]int
	layers   [][]geyser.Bytes32
}

// Build creates the tree of all claims in l. Accounts are sorted by address
// bytes and get dense indexes in that order, tokens of an entry are sorted too.
func Build(l *ledger.Ledger, cycle uint64, blocks geyser.BlockRange) (*Tree, error) {
	accounts := l.Accounts()
	entries := make([]ClaimEntry, len(accounts))
	for i, account := range accounts {
		tokens := l.Tokens(account)
		amounts := make([]*uint256.Int, len(tokens))
		for j, token := range tokens {
			amounts[j] = l.Claim(account, token)
		}
		entries[i] = ClaimEntry{
			Index:             uint64(i),
			Account:           account,
			Cycle:             cycle,
			Tokens:            tokens,
			CumulativeAmounts: amounts,
		}
	}
	t, err := BuildEntries(entries)
	if err != nil {
		if e, ok := err.(*geyser.Error); ok {
			e.WithCycle(cycle)
		}
		return nil, err
	}
	t.cycle = cycle
	t.blocks = blocks
	return t, nil
}

// BuildEntries creates a tree from entries with assigned indexes, e.g. read back
// from a distribution file. Indexes must be a permutation of 0..n-1.
func BuildEntries(entries []ClaimEntry) (*Tree, error) {
	if len(entries) == 0 {
		return nil, geyser.Errorf(geyser.KindEmptyDistribution, "no claims to commit")
	}

	t := &Tree{
		entries:  make([]ClaimEntry, len(entries)),
		byAcc:    make(map[geyser.Address]int, len(entries)),
		leaves:   make([]geyser.Bytes32, len(entries)),
		position: make(map[geyser.Bytes32]int, len(entries)),
	}
	for i := range entries {
		t.entries[i] = entries[i].clone()
	}
	sort.Slice(t.entries, func(i, j int) bool { return t.entries[i].Account.Less(t.entries[j].Account) })

	seenIndex := make(map[uint64]struct{}, len(entries))
	for i := range t.entries {
		e := &t.entries[i]
		if _, dup := t.byAcc[e.Account]; dup {
			return nil, geyser.Errorf(geyser.KindDuplicateLeaf, "account appears twice").
				WithCycle(e.Cycle).WithAccount(e.Account)
		}
		t.byAcc[e.Account] = i
		if _, dup := seenIndex[e.Index]; dup || e.Index >= uint64(len(entries)) {
			return nil, geyser.Errorf(geyser.KindInvalidInput, "index %d not in a dense 0..%d range", e.Index, len(entries)-1).
				WithAccount(e.Account)
		}
		seenIndex[e.Index] = struct{}{}
		if i > 0 && e.Cycle != t.entries[0].Cycle {
			return nil, geyser.Errorf(geyser.KindInvalidInput, "entries of mixed cycles %d and %d", t.entries[0].Cycle, e.Cycle).
				WithAccount(e.Account)
		}
		t.cycle = e.Cycle
	}

	if err := t.hashLeaves(); err != nil {
		return nil, err
	}

	layer := make([]geyser.Bytes32, len(t.leaves))
	copy(layer, t.leaves)
	sort.Slice(layer, func(i, j int) bool { return layer[i].Compare(layer[j]) < 0 })
	for i, leaf := range layer {
		if i > 0 && layer[i-1] == leaf {
			return nil, geyser.Errorf(geyser.KindDuplicateLeaf, "duplicate leaf %v", leaf).WithCycle(t.cycle)
		}
		t.position[leaf] = i
	}

	t.layers = [][]geyser.Bytes32{layer}
	for len(layer) > 1 {
		next := make([]geyser.Bytes32, 0, (len(layer)+1)/2)
		for i := 0; i < len(layer); i += 2 {
			if i+1 == len(layer) {
				next = append(next, layer[i])
			} else {
				next = append(next, cry.SortedPairHash(layer[i], layer[i+1]))
			}
		}
		t.layers = append(t.layers, next)
		layer = next
	}
	logger.Debug("tree built", "cycle", t.cycle, "leaves", len(t.leaves), "depth", len(t.layers), "root", t.Root())
	return t, nil
}

func (t *Tree) hashLeaves() error {
	if len(t.entries) < parallelThreshold {
		for i := range t.entries {
			leaf, err := t.entries[i].Leaf()
			if err != nil {
				return err
			}
			t.leaves[i] = leaf
		}
		return nil
	}

	errs := make([]error, len(t.entries))
	<-co.Parallel(func(queue chan<- func()) {
		for i := range t.entries {
			queue <- func() {
				t.leaves[i], errs[i] = t.entries[i].Leaf()
			}
		}
	})
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Root returns the merkle root.
func (t *Tree) Root() geyser.Bytes32 {
	top := t.layers[len(t.layers)-1]
	return top[0]
}

// Cycle returns the cycle the entries are bound to.
func (t *Tree) Cycle() uint64 { return t.cycle }

// Blocks returns the block range of the cycle, zero for trees built from entries.
func (t *Tree) Blocks() geyser.BlockRange { return t.blocks }

// Len returns the number of leaves.
func (t *Tree) Len() int { return len(t.entries) }

// Entries returns a copy of all entries, sorted by account.
func (t *Tree) Entries() []ClaimEntry {
	out := make([]ClaimEntry, len(t.entries))
	for i := range t.entries {
		out[i] = t.entries[i].clone()
	}
	return out
}

// Entry returns the entry of account.
func (t *Tree) Entry(account geyser.Address) (ClaimEntry, bool) {
	i, ok := t.byAcc[account]
	if !ok {
		return ClaimEntry{}, false
	}
	return t.entries[i].clone(), true
}

// Leaf returns the leaf hash of account.
func (t *Tree) Leaf(account geyser.Address) (geyser.Bytes32, bool) {
	i, ok := t.byAcc[account]
	if !ok {
		return geyser.Bytes32{}, false
	}
	return t.leaves[i], true
}

// Proof returns the sibling hashes from the leaf of account up to the root.
// Levels where the node was promoted contribute nothing.
func (t *Tree) Proof(account geyser.Address) ([]geyser.Bytes32, bool) {
	leaf, ok := t.Leaf(account)
	if !ok {
		return nil, false
	}
	pos := t.position[leaf]
	proof := make([]geyser.Bytes32, 0, len(t.layers)-1)
	for _, layer := range t.layers[:len(t.layers)-1] {
		if sibling := pos ^ 1; sibling < len(layer) {
			proof = append(proof, layer[sibling])
		}
		pos /= 2
	}
	return proof, true
}

// VerifyProof reports whether proof links leaf to root.
func VerifyProof(root, leaf geyser.Bytes32, proof []geyser.Bytes32) bool {
	h := leaf
	for _, p := range proof {
		h = cry.SortedPairHash(h, p)
	}
	return h == root
}
