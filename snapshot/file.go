// Copyright (c) 2025 The Geyser developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package snapshot is the persisted distribution file of a published cycle. It is
// both the audit trail and the merge base of the next cycle.
package snapshot

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/geyser-labs/geyser/cry"
	"github.com/geyser-labs/geyser/geyser"
	"github.com/geyser-labs/geyser/ledger"
	"github.com/geyser-labs/geyser/merkle"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

// Claim is the claim of one account with everything needed to submit it.
type Claim struct {
	Index             uint64           `json:"index"`
	User              geyser.Address   `json:"user"`
	Cycle             uint64           `json:"cycle"`
	Tokens            []geyser.Address `json:"tokens"`
	CumulativeAmounts []string         `json:"cumulativeAmounts"`
	Proof             []geyser.Bytes32 `json:"proof"`
	Node              hexutil.Bytes    `json:"node"`
}

// Metadata is the audit metadata of one account.
type Metadata struct {
	ShareSeconds        string `json:"shareSeconds"`
	ShareSecondsInRange string `json:"shareSecondsInRange"`
}

// File is the distribution of one cycle. Amounts are decimal strings.
type File struct {
	MerkleRoot  geyser.Bytes32               `json:"merkleRoot"`
	Cycle       uint64                       `json:"cycle"`
	StartBlock  uint64                       `json:"startBlock"`
	EndBlock    uint64                       `json:"endBlock"`
	TokenTotals map[geyser.Address]string    `json:"tokenTotals"`
	Claims      map[geyser.Address]*Claim    `json:"claims"`
	Metadata    map[geyser.Address]*Metadata `json:"metadata,omitempty"`
}

// New packages a built tree and the ledger it was built from.
func New(tree *merkle.Tree, l *ledger.Ledger) (*File, error) {
	f := &File{
		MerkleRoot:  tree.Root(),
		Cycle:       tree.Cycle(),
		StartBlock:  tree.Blocks().Start,
		EndBlock:    tree.Blocks().End,
		TokenTotals: make(map[geyser.Address]string),
		Claims:      make(map[geyser.Address]*Claim, tree.Len()),
		Metadata:    make(map[geyser.Address]*Metadata),
	}
	for _, token := range l.AllTokens() {
		f.TokenTotals[token] = l.Total(token).Dec()
	}
	for _, e := range tree.Entries() {
		node, err := e.Node()
		if err != nil {
			return nil, err
		}
		proof, _ := tree.Proof(e.Account)
		amounts := make([]string, len(e.CumulativeAmounts))
		for i, a := range e.CumulativeAmounts {
			amounts[i] = a.Dec()
		}
		f.Claims[e.Account] = &Claim{
			Index:             e.Index,
			User:              e.Account,
			Cycle:             e.Cycle,
			Tokens:            e.Tokens,
			CumulativeAmounts: amounts,
			Proof:             proof,
			Node:              node,
		}
	}
	for _, account := range l.MetadataAccounts() {
		m := l.Metadata(account)
		f.Metadata[account] = &Metadata{
			ShareSeconds:        m.ShareSeconds.Dec(),
			ShareSecondsInRange: m.ShareSecondsInRange.Dec(),
		}
	}
	return f, nil
}

// Blocks returns the block range of the cycle.
func (f *File) Blocks() geyser.BlockRange {
	return geyser.NewBlockRange(f.StartBlock, f.EndBlock)
}

// Encode returns the canonical encoding: compact json with map keys sorted.
func (f *File) Encode() ([]byte, error) {
	return json.Marshal(f)
}

// ContentHash is keccak256 of the canonical encoding.
func (f *File) ContentHash() (geyser.Bytes32, error) {
	data, err := f.Encode()
	if err != nil {
		return geyser.Bytes32{}, err
	}
	return cry.Keccak256(data), nil
}

// Decode parses a distribution file, pretty printed or not.
func Decode(data []byte) (*File, error) {
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, geyser.Errorf(geyser.KindInvalidInput, "decode distribution file: %v", err)
	}
	if f.Claims == nil {
		f.Claims = make(map[geyser.Address]*Claim)
	}
	if f.TokenTotals == nil {
		f.TokenTotals = make(map[geyser.Address]string)
	}
	return &f, nil
}

// FileName is the export name of a distribution file.
func FileName(chainID uint64, contentHash geyser.Bytes32) string {
	return fmt.Sprintf("rewards-%d-%v.json", chainID, contentHash)
}

func parseAmount(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, errors.Wrapf(err, "amount %q", s)
	}
	return v, nil
}

// Entries returns the claim entries, unordered.
func (f *File) Entries() ([]merkle.ClaimEntry, error) {
	entries := make([]merkle.ClaimEntry, 0, len(f.Claims))
	for account, c := range f.Claims {
		if c.User != account {
			return nil, geyser.Errorf(geyser.KindInvalidInput, "claim keyed by %v names user %v", account, c.User).
				WithCycle(f.Cycle)
		}
		e, err := c.Entry()
		if err != nil {
			if ge, ok := err.(*geyser.Error); ok {
				ge.WithCycle(f.Cycle)
			}
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// ClaimsLedger restores the cumulative claims without metadata, the merge base
// of the next cycle.
func (f *File) ClaimsLedger() (*ledger.Ledger, error) {
	entries, err := f.Entries()
	if err != nil {
		return nil, err
	}
	l := ledger.New(f.Cycle)
	for _, e := range entries {
		for i, token := range e.Tokens {
			if err := l.IncreaseUserRewards(e.Account, token, e.CumulativeAmounts[i].ToBig()); err != nil {
				return nil, err
			}
		}
	}
	return l, nil
}

// ToLedger restores the cumulative ledger the file was built from.
func (f *File) ToLedger() (*ledger.Ledger, error) {
	l, err := f.ClaimsLedger()
	if err != nil {
		return nil, err
	}
	for account, m := range f.Metadata {
		ss, err := parseAmount(m.ShareSeconds)
		if err != nil {
			return nil, geyser.Errorf(geyser.KindInvalidInput, "%v", err).WithCycle(f.Cycle).WithAccount(account)
		}
		inRange, err := parseAmount(m.ShareSecondsInRange)
		if err != nil {
			return nil, geyser.Errorf(geyser.KindInvalidInput, "%v", err).WithCycle(f.Cycle).WithAccount(account)
		}
		if err := l.TrackUserMetadata(account, ss, inRange); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Verify rebuilds the tree from the file and checks the root, every node and
// proof, and the token totals. It returns the rebuilt tree.
func (f *File) Verify() (*merkle.Tree, error) {
	entries, err := f.Entries()
	if err != nil {
		return nil, err
	}
	tree, err := merkle.BuildEntries(entries)
	if err != nil {
		return nil, err
	}
	if tree.Root() != f.MerkleRoot {
		return nil, geyser.Errorf(geyser.KindRootMismatch, "file root %v, rebuilt %v", f.MerkleRoot, tree.Root()).
			WithCycle(f.Cycle)
	}
	if tree.Cycle() != f.Cycle {
		return nil, geyser.Errorf(geyser.KindWrongCycle, "claims are bound to cycle %d", tree.Cycle()).WithCycle(f.Cycle)
	}
	for account, c := range f.Claims {
		e, _ := tree.Entry(account)
		node, err := e.Node()
		if err != nil {
			return nil, err
		}
		if hexutil.Encode(node) != hexutil.Encode(c.Node) {
			return nil, geyser.Errorf(geyser.KindInvalidInput, "stored node differs from encoded claim").
				WithCycle(f.Cycle).WithAccount(account)
		}
		leaf, _ := tree.Leaf(account)
		if !merkle.VerifyProof(f.MerkleRoot, leaf, c.Proof) {
			return nil, geyser.Errorf(geyser.KindRootMismatch, "stored proof does not verify").
				WithCycle(f.Cycle).WithAccount(account)
		}
	}

	l, err := f.ToLedger()
	if err != nil {
		return nil, err
	}
	if len(f.TokenTotals) != len(l.AllTokens()) {
		return nil, geyser.Errorf(geyser.KindReconciliationFailed, "file lists %d token totals, claims hold %d",
			len(f.TokenTotals), len(l.AllTokens())).WithCycle(f.Cycle)
	}
	for token, s := range f.TokenTotals {
		total, err := parseAmount(s)
		if err != nil {
			return nil, geyser.Errorf(geyser.KindInvalidInput, "%v", err).WithCycle(f.Cycle).WithToken(token)
		}
		if !total.Eq(l.Total(token)) {
			return nil, geyser.Errorf(geyser.KindReconciliationFailed, "token total %v, sum of claims %v", total, l.Total(token)).
				WithCycle(f.Cycle).WithToken(token)
		}
	}
	return tree, nil
}

// Entry converts the claim back to the merkle entry it was built from.
func (c *Claim) Entry() (merkle.ClaimEntry, error) {
	if len(c.Tokens) != len(c.CumulativeAmounts) {
		return merkle.ClaimEntry{}, geyser.Errorf(geyser.KindInvalidInput, "tokens/amounts length mismatch").WithAccount(c.User)
	}
	e := merkle.ClaimEntry{
		Index:             c.Index,
		Account:           c.User,
		Cycle:             c.Cycle,
		Tokens:            c.Tokens,
		CumulativeAmounts: make([]*uint256.Int, len(c.CumulativeAmounts)),
	}
	for i, s := range c.CumulativeAmounts {
		v, err := parseAmount(s)
		if err != nil {
			return merkle.ClaimEntry{}, geyser.Errorf(geyser.KindInvalidInput, "%v", err).WithAccount(c.User)
		}
		e.CumulativeAmounts[i] = v
	}
	return e, nil
}

// ClaimAmounts returns the cumulative amounts of a claim as big ints.
func (c *Claim) ClaimAmounts() ([]*big.Int, error) {
	out := make([]*big.Int, len(c.CumulativeAmounts))
	for i, s := range c.CumulativeAmounts {
		v, err := parseAmount(s)
		if err != nil {
			return nil, err
		}
		out[i] = v.ToBig()
	}
	return out, nil
}
