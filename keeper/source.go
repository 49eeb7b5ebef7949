// Copyright (c) 2025 The Geyser developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package keeper

import (
	"context"

	"github.com/geyser-labs/geyser/emission"
	"github.com/geyser-labs/geyser/geyser"
	"github.com/geyser-labs/geyser/stake"
	"github.com/holiman/uint256"
)

// VaultInfo describes a staking vault.
type VaultInfo struct {
	Address geyser.Address `yaml:"address" json:"address"`
	Name    string         `yaml:"name" json:"name"`
	// Native vaults count towards the native side of the boost stake ratio.
	Native bool `yaml:"native" json:"native"`
}

// Source provides the chain data a cycle is computed from. Errors that carry
// a geyser kind are permanent, all others are treated as transient I/O.
type Source interface {
	Vaults(ctx context.Context) ([]VaultInfo, error)
	// FetchStakeEvents returns the stake actions of vault inside r, with timestamps.
	FetchStakeEvents(ctx context.Context, vault geyser.Address, r geyser.BlockRange) ([]stake.Action, error)
	// FetchBalances returns the balance of every holder of vault at block,
	// in a unit comparable across vaults.
	FetchBalances(ctx context.Context, vault geyser.Address, block uint64) (map[geyser.Address]*uint256.Int, error)
	BlockTime(ctx context.Context, block uint64) (uint64, error)
	Schedules(ctx context.Context, vault geyser.Address) (emission.Schedules, error)
}
