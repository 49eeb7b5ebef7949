// Copyright (c) 2025 The Geyser developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package emission

import (
	"testing"

	"github.com/geyser-labs/geyser/geyser"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	badger = geyser.MustParseAddress("0x3472a5a71965499acd81997a54bba8d852c6e53d")
	digg   = geyser.MustParseAddress("0x798d1be841a82a273720ce31c822c61a67a601c3")
)

func TestDistributedAt(t *testing.T) {
	s := &Schedule{Token: badger, InitialLocked: uint256.NewInt(1000), StartTime: 100, Duration: 300}

	assert.True(t, s.DistributedAt(0).IsZero())
	assert.True(t, s.DistributedAt(100).IsZero())
	assert.Equal(t, uint64(333), s.DistributedAt(200).Uint64())
	assert.Equal(t, uint64(1000), s.DistributedAt(400).Uint64())
	assert.Equal(t, uint64(1000), s.DistributedAt(10_000).Uint64())
	assert.Equal(t, uint64(400), s.EndTime())

	assert.Equal(t, uint64(666-333), s.ReleasedInRange(200, 300).Uint64())
	assert.Equal(t, uint64(1000), s.ReleasedInRange(0, 500).Uint64())
	assert.True(t, s.ReleasedInRange(300, 300).IsZero())
	assert.True(t, s.ReleasedInRange(300, 200).IsZero())

	instant := &Schedule{Token: badger, InitialLocked: uint256.NewInt(5), StartTime: 10}
	assert.Equal(t, uint64(5), instant.DistributedAt(10).Uint64())
}

func TestDistributedAtLargeAmounts(t *testing.T) {
	locked := new(uint256.Int).Lsh(uint256.NewInt(1), 250)
	s := &Schedule{Token: badger, InitialLocked: locked, StartTime: 0, Duration: 4}
	want := new(uint256.Int).Lsh(uint256.NewInt(1), 248)
	assert.Equal(t, want, s.DistributedAt(1))
}

func TestSchedulesReleasedInRange(t *testing.T) {
	ss := Schedules{
		{Token: badger, InitialLocked: uint256.NewInt(100), StartTime: 0, Duration: 100},
		{Token: badger, InitialLocked: uint256.NewInt(50), StartTime: 50, Duration: 50},
		{Token: digg, InitialLocked: uint256.NewInt(10), StartTime: 1000, Duration: 10},
	}
	assert.Equal(t, []geyser.Address{badger, digg}, ss.Tokens())

	got, err := ss.ReleasedInRange(0, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(150), got[badger].Uint64())
	assert.True(t, got[digg].IsZero())

	sum, err := Add(nil, got)
	require.NoError(t, err)
	sum, err = Add(sum, got)
	require.NoError(t, err)
	assert.Equal(t, uint64(300), sum[badger].Uint64())
}
