// Copyright (c) 2025 The Geyser developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package source provides chain data to the keeper: a file backed dataset and
// a retrying wrapper for any source.
package source

import (
	"context"
	"os"
	"sort"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/geyser-labs/geyser/abi"
	"github.com/geyser-labs/geyser/emission"
	"github.com/geyser-labs/geyser/geyser"
	"github.com/geyser-labs/geyser/keeper"
	"github.com/geyser-labs/geyser/log"
	"github.com/geyser-labs/geyser/stake"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

var logger = log.WithContext("pkg", "source")

// ActionRecord is a stake action with the block it was mined in.
type ActionRecord struct {
	stake.Action `yaml:",inline"`
	Block        uint64 `yaml:"block"`
}

// LogRecord is a raw Staked or Unstaked log of a vault.
type LogRecord struct {
	Topics []geyser.Bytes32 `yaml:"topics"`
	Data   hexutil.Bytes    `yaml:"data"`
}

// BalanceSnapshot holds vault balances as of a block.
type BalanceSnapshot struct {
	Block    uint64                          `yaml:"block"`
	Balances map[geyser.Address]*uint256.Int `yaml:"balances"`
}

// VaultData is everything the dataset knows about one vault.
type VaultData struct {
	keeper.VaultInfo `yaml:",inline"`
	Schedules        emission.Schedules `yaml:"schedules"`
	Actions          []ActionRecord     `yaml:"actions"`
	Logs             []LogRecord        `yaml:"logs"`
	Balances         []BalanceSnapshot  `yaml:"balances"`
}

// Clock maps blocks not listed explicitly to time, one block every Interval seconds.
type Clock struct {
	GenesisBlock uint64 `yaml:"genesisBlock"`
	GenesisTime  uint64 `yaml:"genesisTime"`
	Interval     uint64 `yaml:"interval"`
}

// Dataset is the yaml document read by FileSource.
type Dataset struct {
	Vaults []VaultData       `yaml:"vaults"`
	Blocks map[uint64]uint64 `yaml:"blocks"` // block => timestamp
	Clock  *Clock            `yaml:"clock"`
}

type vaultState struct {
	info      keeper.VaultInfo
	schedules emission.Schedules
	actions   []ActionRecord // sorted by block
	balances  []BalanceSnapshot
}

// FileSource serves a dataset from memory.
type FileSource struct {
	head   uint64
	order  []geyser.Address
	vaults map[geyser.Address]*vaultState
	blocks map[uint64]uint64
	clock  *Clock
}

var _ keeper.Source = (*FileSource)(nil)

// Load reads a yaml dataset file.
func Load(path string) (*FileSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read dataset")
	}
	var ds Dataset
	if err := yaml.Unmarshal(data, &ds); err != nil {
		return nil, geyser.Errorf(geyser.KindInvalidInput, "parse dataset %s: %v", path, err)
	}
	return New(&ds)
}

// New validates ds and decodes its raw logs.
func New(ds *Dataset) (*FileSource, error) {
	fs := &FileSource{
		vaults: make(map[geyser.Address]*vaultState, len(ds.Vaults)),
		blocks: ds.Blocks,
		clock:  ds.Clock,
	}
	if fs.clock != nil && fs.clock.Interval == 0 {
		return nil, geyser.Errorf(geyser.KindInvalidInput, "clock interval must be positive")
	}
	for i := range ds.Vaults {
		v := &ds.Vaults[i]
		if v.Address.IsZero() {
			return nil, geyser.Errorf(geyser.KindInvalidInput, "vault %d has no address", i)
		}
		if _, dup := fs.vaults[v.Address]; dup {
			return nil, geyser.Errorf(geyser.KindInvalidInput, "vault %v listed twice", v.Address)
		}
		st := &vaultState{
			info:      v.VaultInfo,
			schedules: v.Schedules,
			actions:   append([]ActionRecord(nil), v.Actions...),
			balances:  append([]BalanceSnapshot(nil), v.Balances...),
		}
		for j, l := range v.Logs {
			decoded, err := abi.DecodeStakeLog(l.Topics, l.Data)
			if err != nil {
				return nil, geyser.Errorf(geyser.KindInvalidInput, "vault %v log %d: %v", v.Address, j, err)
			}
			amount, overflow := uint256.FromBig(decoded.Amount)
			if overflow {
				return nil, geyser.Errorf(geyser.KindOverflow, "vault %v log %d amount", v.Address, j)
			}
			kind := stake.Stake
			if decoded.Unstake {
				kind = stake.Unstake
			}
			st.actions = append(st.actions, ActionRecord{
				Action: stake.Action{Account: decoded.User, Kind: kind, Amount: amount, Timestamp: decoded.Timestamp},
				Block:  decoded.BlockNumber,
			})
		}
		for j, a := range st.actions {
			if a.Amount == nil {
				return nil, geyser.Errorf(geyser.KindInvalidInput, "vault %v action %d has no amount", v.Address, j).
					WithAccount(a.Account)
			}
		}
		sort.SliceStable(st.actions, func(a, b int) bool { return st.actions[a].Block < st.actions[b].Block })
		sort.SliceStable(st.balances, func(a, b int) bool { return st.balances[a].Block < st.balances[b].Block })
		if n := len(st.actions); n > 0 {
			fs.head = max(fs.head, st.actions[n-1].Block)
		}
		if n := len(st.balances); n > 0 {
			fs.head = max(fs.head, st.balances[n-1].Block)
		}
		fs.vaults[v.Address] = st
		fs.order = append(fs.order, v.Address)
	}
	for block := range fs.blocks {
		fs.head = max(fs.head, block)
	}
	logger.Debug("dataset loaded", "vaults", len(fs.order), "head", fs.head)
	return fs, nil
}

// Head returns the highest block the dataset knows of.
func (fs *FileSource) Head() uint64 { return fs.head }

func (fs *FileSource) vault(addr geyser.Address) (*vaultState, error) {
	v, ok := fs.vaults[addr]
	if !ok {
		return nil, geyser.Errorf(geyser.KindInvalidInput, "unknown vault %v", addr)
	}
	return v, nil
}

// Vaults lists the vaults in dataset order.
func (fs *FileSource) Vaults(ctx context.Context) ([]keeper.VaultInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]keeper.VaultInfo, len(fs.order))
	for i, addr := range fs.order {
		out[i] = fs.vaults[addr].info
	}
	return out, nil
}

// FetchStakeEvents returns the actions mined inside r.
func (fs *FileSource) FetchStakeEvents(ctx context.Context, vault geyser.Address, r geyser.BlockRange) ([]stake.Action, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, err := fs.vault(vault)
	if err != nil {
		return nil, err
	}
	var out []stake.Action
	for _, a := range v.actions {
		if a.Block > r.End {
			break
		}
		if a.Block >= r.Start {
			out = append(out, a.Action)
		}
	}
	return out, nil
}

// FetchBalances returns the latest snapshot at or before block, empty if none.
func (fs *FileSource) FetchBalances(ctx context.Context, vault geyser.Address, block uint64) (map[geyser.Address]*uint256.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, err := fs.vault(vault)
	if err != nil {
		return nil, err
	}
	i := sort.Search(len(v.balances), func(i int) bool { return v.balances[i].Block > block })
	out := make(map[geyser.Address]*uint256.Int)
	if i == 0 {
		return out, nil
	}
	for a, b := range v.balances[i-1].Balances {
		if b != nil {
			out[a] = new(uint256.Int).Set(b)
		}
	}
	return out, nil
}

// BlockTime returns the listed timestamp of block, or derives it from the clock.
func (fs *FileSource) BlockTime(ctx context.Context, block uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if ts, ok := fs.blocks[block]; ok {
		return ts, nil
	}
	if c := fs.clock; c != nil && block >= c.GenesisBlock {
		return c.GenesisTime + (block-c.GenesisBlock)*c.Interval, nil
	}
	return 0, geyser.Errorf(geyser.KindInvalidInput, "no timestamp for block %d", block)
}

// Schedules returns the unlock schedules of vault.
func (fs *FileSource) Schedules(ctx context.Context, vault geyser.Address) (emission.Schedules, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, err := fs.vault(vault)
	if err != nil {
		return nil, err
	}
	return v.schedules, nil
}
