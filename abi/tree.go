// Copyright (c) 2025 The Geyser developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package abi

import (
	"math/big"

	ethabi "github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/geyser-labs/geyser/geyser"
	"github.com/pkg/errors"
)

const treeJSON = `[
	{"type":"function","name":"proposeRoot","stateMutability":"nonpayable","inputs":[
		{"name":"root","type":"bytes32"},{"name":"contentHash","type":"bytes32"},
		{"name":"cycle","type":"uint256"},{"name":"startBlock","type":"uint256"},{"name":"endBlock","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"approveRoot","stateMutability":"nonpayable","inputs":[
		{"name":"root","type":"bytes32"},{"name":"contentHash","type":"bytes32"},
		{"name":"cycle","type":"uint256"},{"name":"startBlock","type":"uint256"},{"name":"endBlock","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"claim","stateMutability":"nonpayable","inputs":[
		{"name":"tokens","type":"address[]"},{"name":"cumulativeAmounts","type":"uint256[]"},
		{"name":"index","type":"uint256"},{"name":"cycle","type":"uint256"},{"name":"merkleProof","type":"bytes32[]"}],"outputs":[]},
	{"type":"function","name":"getCurrentMerkleData","stateMutability":"view","inputs":[],"outputs":[
		{"name":"root","type":"bytes32"},{"name":"contentHash","type":"bytes32"},
		{"name":"cycle","type":"uint256"},{"name":"endBlock","type":"uint256"}]},
	{"type":"event","name":"RootProposed","anonymous":false,"inputs":[
		{"name":"cycle","type":"uint256","indexed":true},{"name":"root","type":"bytes32","indexed":true},
		{"name":"contentHash","type":"bytes32","indexed":true},{"name":"startBlock","type":"uint256","indexed":false},
		{"name":"endBlock","type":"uint256","indexed":false},{"name":"timestamp","type":"uint256","indexed":false}]},
	{"type":"event","name":"RootUpdated","anonymous":false,"inputs":[
		{"name":"cycle","type":"uint256","indexed":true},{"name":"root","type":"bytes32","indexed":true},
		{"name":"contentHash","type":"bytes32","indexed":true},{"name":"startBlock","type":"uint256","indexed":false},
		{"name":"endBlock","type":"uint256","indexed":false},{"name":"timestamp","type":"uint256","indexed":false}]}
]`

// Tree is the ABI of the claim tree contract.
var Tree = MustNew([]byte(treeJSON))

var (
	uint256Type, _      = ethabi.NewType("uint256", "", nil)
	addressType, _      = ethabi.NewType("address", "", nil)
	addressSliceType, _ = ethabi.NewType("address[]", "", nil)
	uint256SliceType, _ = ethabi.NewType("uint256[]", "", nil)

	nodeArgs = ethabi.Arguments{
		{Name: "index", Type: uint256Type},
		{Name: "account", Type: addressType},
		{Name: "cycle", Type: uint256Type},
		{Name: "tokens", Type: addressSliceType},
		{Name: "cumulativeAmounts", Type: uint256SliceType},
	}
)

// EncodeNode returns the node content the claim contract hashes into a leaf:
// abi.encode(uint256 index, address account, uint256 cycle, address[] tokens, uint256[] cumulativeAmounts).
func EncodeNode(index uint64, account geyser.Address, cycle uint64, tokens []geyser.Address, amounts []*big.Int) ([]byte, error) {
	if len(tokens) != len(amounts) {
		return nil, errors.Errorf("tokens/amounts length mismatch: %d != %d", len(tokens), len(amounts))
	}
	addrs := make([]common.Address, len(tokens))
	for i, t := range tokens {
		addrs[i] = t.Common()
	}
	return nodeArgs.Pack(
		new(big.Int).SetUint64(index),
		account.Common(),
		new(big.Int).SetUint64(cycle),
		addrs,
		amounts,
	)
}

// RootCall is the argument set of proposeRoot and approveRoot.
type RootCall struct {
	Root        geyser.Bytes32
	ContentHash geyser.Bytes32
	Cycle       uint64
	StartBlock  uint64
	EndBlock    uint64
}

// EncodeRootCall packs calldata for proposeRoot or approveRoot.
func EncodeRootCall(method string, c *RootCall) ([]byte, error) {
	m, ok := Tree.MethodByName(method)
	if !ok || (method != "proposeRoot" && method != "approveRoot") {
		return nil, errors.Errorf("not a root method: %q", method)
	}
	return m.EncodeInput(
		[32]byte(c.Root),
		[32]byte(c.ContentHash),
		new(big.Int).SetUint64(c.Cycle),
		new(big.Int).SetUint64(c.StartBlock),
		new(big.Int).SetUint64(c.EndBlock),
	)
}

// DecodeRootCall unpacks proposeRoot or approveRoot calldata.
func DecodeRootCall(input []byte) (string, *RootCall, error) {
	m, err := Tree.MethodByInput(input)
	if err != nil {
		return "", nil, err
	}
	if m.Name() != "proposeRoot" && m.Name() != "approveRoot" {
		return "", nil, errors.Errorf("not a root method: %q", m.Name())
	}
	var args struct {
		Root        [32]byte
		ContentHash [32]byte
		Cycle       *big.Int
		StartBlock  *big.Int
		EndBlock    *big.Int
	}
	if err := m.DecodeInput(input, &args); err != nil {
		return "", nil, errors.Wrap(err, "decode root call")
	}
	for _, v := range []*big.Int{args.Cycle, args.StartBlock, args.EndBlock} {
		if !v.IsUint64() {
			return "", nil, errors.New("root call value exceeds uint64")
		}
	}
	return m.Name(), &RootCall{
		Root:        geyser.Bytes32(args.Root),
		ContentHash: geyser.Bytes32(args.ContentHash),
		Cycle:       args.Cycle.Uint64(),
		StartBlock:  args.StartBlock.Uint64(),
		EndBlock:    args.EndBlock.Uint64(),
	}, nil
}

// EncodeClaim packs calldata for a claim against the approved root.
func EncodeClaim(tokens []geyser.Address, amounts []*big.Int, index, cycle uint64, proof []geyser.Bytes32) ([]byte, error) {
	m, _ := Tree.MethodByName("claim")
	addrs := make([]common.Address, len(tokens))
	for i, t := range tokens {
		addrs[i] = t.Common()
	}
	hashes := make([][32]byte, len(proof))
	for i, p := range proof {
		hashes[i] = p
	}
	return m.EncodeInput(addrs, amounts, new(big.Int).SetUint64(index), new(big.Int).SetUint64(cycle), hashes)
}
