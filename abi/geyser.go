// Copyright (c) 2025 The Geyser developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package abi

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/geyser-labs/geyser/geyser"
	"github.com/pkg/errors"
)

const geyserJSON = `[
	{"type":"event","name":"Staked","anonymous":false,"inputs":[
		{"name":"user","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false},
		{"name":"total","type":"uint256","indexed":false},{"name":"timestamp","type":"uint256","indexed":false},
		{"name":"blockNumber","type":"uint256","indexed":false},{"name":"data","type":"bytes","indexed":false}]},
	{"type":"event","name":"Unstaked","anonymous":false,"inputs":[
		{"name":"user","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false},
		{"name":"total","type":"uint256","indexed":false},{"name":"timestamp","type":"uint256","indexed":false},
		{"name":"blockNumber","type":"uint256","indexed":false},{"name":"data","type":"bytes","indexed":false}]}
]`

// Geyser is the ABI of the staking vault events.
var Geyser = MustNew([]byte(geyserJSON))

// StakeLog is a decoded Staked or Unstaked event.
type StakeLog struct {
	Unstake     bool
	User        geyser.Address
	Amount      *big.Int
	Total       *big.Int
	Timestamp   uint64
	BlockNumber uint64
}

// DecodeStakeLog decodes a raw vault log into a StakeLog.
func DecodeStakeLog(topics []geyser.Bytes32, data []byte) (*StakeLog, error) {
	if len(topics) == 0 {
		return nil, errors.New("stake log: no topics")
	}
	ev, ok := Geyser.EventByID(topics[0])
	if !ok {
		return nil, errors.Errorf("stake log: unknown event %v", topics[0])
	}
	var out struct {
		Amount      *big.Int
		Total       *big.Int
		Timestamp   *big.Int
		BlockNumber *big.Int
		Data        []byte
	}
	var indexed struct {
		User common.Address
	}
	if err := ev.DecodeTopics(topics, &indexed); err != nil {
		return nil, errors.Wrap(err, "stake log")
	}
	if err := ev.Decode(data, &out); err != nil {
		return nil, errors.Wrap(err, "stake log")
	}
	if !out.Timestamp.IsUint64() || !out.BlockNumber.IsUint64() {
		return nil, errors.New("stake log: timestamp or block exceeds uint64")
	}
	return &StakeLog{
		Unstake:     ev.Name() == "Unstaked",
		User:        geyser.Address(indexed.User),
		Amount:      out.Amount,
		Total:       out.Total,
		Timestamp:   out.Timestamp.Uint64(),
		BlockNumber: out.BlockNumber.Uint64(),
	}, nil
}
