// Copyright (c) 2025 The Geyser developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package boost

import (
	"math/big"
	"testing"

	"github.com/geyser-labs/geyser/geyser"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	accA = geyser.MustParseAddress("0x000000000000000000000000000000000000000a")
	accB = geyser.MustParseAddress("0x000000000000000000000000000000000000000b")
	accC = geyser.MustParseAddress("0x000000000000000000000000000000000000000c")
	accD = geyser.MustParseAddress("0x000000000000000000000000000000000000000d")
)

func assertRat(t *testing.T, want, got *big.Rat) {
	t.Helper()
	assert.Zero(t, want.Cmp(got), "want %v, got %v", want, got)
}

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func TestDefaultTable(t *testing.T) {
	c := NewCalculator()
	require.NoError(t, c.Validate())
	assert.Len(t, c.Table, 20)
	assertRat(t, big.NewRat(2000, 1), c.Table[19].Multiplier)

	c.Table[3], c.Table[4] = c.Table[4], c.Table[3]
	assert.Error(t, c.Validate())
	assert.Error(t, (&Calculator{}).Validate())
}

func TestComputeMultipliers(t *testing.T) {
	c := NewCalculator()
	native := map[geyser.Address]*uint256.Int{
		accA: u(50),  // ratio 0.5, not above 0.5 -> 0.4 tier
		accB: u(300), // ratio 3 -> top tier
		accC: u(10),  // no non-native
	}
	nonNative := map[geyser.Address]*uint256.Int{
		accA: u(100),
		accB: u(100),
		accD: u(100), // no native
	}
	boosts := c.ComputeMultipliers(native, nonNative)
	require.Len(t, boosts, 4)

	assertRat(t, big.NewRat(800, 1), boosts[accA].Multiplier)
	assertRat(t, big.NewRat(1, 2), boosts[accA].StakeRatio)
	assertRat(t, big.NewRat(2000, 1), boosts[accB].Multiplier)
	assertRat(t, big.NewRat(1, 1), boosts[accC].Multiplier)
	assert.Equal(t, -1, boosts[accC].Tier)
	assertRat(t, big.NewRat(1, 1), boosts[accD].Multiplier)

	assert.Equal(t, 1, boosts[accB].Rank)
	assert.Equal(t, 2, boosts[accA].Rank)
	assert.Equal(t, 3, boosts[accC].Rank, "zero ratios tie-break by address")
	assert.Equal(t, 4, boosts[accD].Rank)

	hist := c.Histogram(boosts)
	assert.Equal(t, 2, hist[0].Accounts)
	assert.Equal(t, 1, hist[14].Accounts) // 0.4 tier
	assert.Equal(t, 1, hist[20].Accounts)
	assert.Equal(t, "base: 2", hist[0].String())
}

func TestTinyRatioGetsBase(t *testing.T) {
	c := NewCalculator()
	boosts := c.ComputeMultipliers(
		map[geyser.Address]*uint256.Int{accA: u(1)},
		map[geyser.Address]*uint256.Int{accA: u(1_000_000)},
	)
	// 0.000001 > 0 so the first tier applies
	assert.Equal(t, 0, boosts[accA].Tier)
	assertRat(t, big.NewRat(1, 1), boosts[accA].Multiplier)
}

func TestDust(t *testing.T) {
	c := &Calculator{Table: DefaultTable(), Dust: u(1)}
	boosts := c.ComputeMultipliers(
		map[geyser.Address]*uint256.Int{accA: u(1)},
		map[geyser.Address]*uint256.Int{accA: u(1)},
	)
	assert.Equal(t, -1, boosts[accA].Tier)
	assert.True(t, boosts[accA].Native.IsZero())
}

func TestApply(t *testing.T) {
	weights := map[geyser.Address]*uint256.Int{accA: u(10), accB: u(7)}
	boosts := map[geyser.Address]*Boost{accA: {Multiplier: big.NewRat(3, 2)}}

	out, err := Apply(weights, boosts)
	require.NoError(t, err)
	assert.Equal(t, uint64(15), out[accA].Uint64())
	assert.Equal(t, uint64(7), out[accB].Uint64())
	assert.Equal(t, uint64(10), weights[accA].Uint64(), "input untouched")

	out, err = Apply(map[geyser.Address]*uint256.Int{accA: u(5)}, map[geyser.Address]*Boost{accA: {Multiplier: big.NewRat(1, 3)}})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), out[accA].Uint64(), "floored")

	_, err = Apply(map[geyser.Address]*uint256.Int{accA: new(uint256.Int).SetAllOne()}, boosts)
	assert.True(t, geyser.IsKind(err, geyser.KindOverflow))
}

func TestParseTier(t *testing.T) {
	tier, err := ParseTier("1/4", "500")
	require.NoError(t, err)
	assertRat(t, big.NewRat(1, 4), tier.Threshold)

	_, err = ParseTier("x", "1")
	assert.Error(t, err)
	_, err = ParseTier("0.1", "0")
	assert.Error(t, err)
}
