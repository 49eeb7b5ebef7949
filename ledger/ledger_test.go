// Copyright (c) 2025 The Geyser developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package ledger

import (
	"math/big"
	"testing"

	"github.com/geyser-labs/geyser/geyser"
	fuzz "github.com/google/gofuzz"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	accA   = geyser.MustParseAddress("0x000000000000000000000000000000000000000a")
	accB   = geyser.MustParseAddress("0x000000000000000000000000000000000000000b")
	badger = geyser.MustParseAddress("0x3472a5a71965499acd81997a54bba8d852c6e53d")
	digg   = geyser.MustParseAddress("0x798d1be841a82a273720ce31c822c61a67a601c3")
)

func TestIncreaseUserRewards(t *testing.T) {
	l := New(3)
	require.NoError(t, l.IncreaseUserRewards(accB, badger, big.NewInt(10)))
	require.NoError(t, l.IncreaseUserRewards(accA, badger, big.NewInt(5)))
	require.NoError(t, l.IncreaseUserRewards(accA, digg, big.NewInt(7)))
	require.NoError(t, l.IncreaseUserRewards(accA, badger, big.NewInt(1)))

	assert.Equal(t, uint64(6), l.Claim(accA, badger).Uint64())
	assert.Equal(t, uint64(16), l.Total(badger).Uint64())
	assert.Equal(t, uint64(7), l.Total(digg).Uint64())
	assert.True(t, l.Claim(accB, digg).IsZero())
	assert.False(t, l.HasClaim(accB, digg))

	assert.Equal(t, []geyser.Address{accA, accB}, l.Accounts())
	assert.Equal(t, []geyser.Address{badger, digg}, l.Tokens(accA))
	assert.Equal(t, []geyser.Address{badger, digg}, l.AllTokens())
	assert.NoError(t, l.CheckConservation())
}

func TestIncreaseUserRewardsFailsClosed(t *testing.T) {
	l := New(1)
	require.NoError(t, l.IncreaseUserRewards(accA, badger, big.NewInt(10)))

	// negative is clamped to zero, never subtracted
	require.NoError(t, l.IncreaseUserRewards(accA, badger, big.NewInt(-4)))
	assert.Equal(t, uint64(10), l.Claim(accA, badger).Uint64())
	assert.Equal(t, 1, l.Clamped())

	err := l.IncreaseUserRewards(accA, badger, nil)
	assert.True(t, geyser.IsKind(err, geyser.KindInvalidInput))

	tooBig := new(big.Int).Lsh(big.NewInt(1), 256)
	err = l.IncreaseUserRewards(accA, badger, tooBig)
	assert.True(t, geyser.IsKind(err, geyser.KindOverflow))

	// fits alone but overflows the running claim, state untouched
	max := new(uint256.Int).SetAllOne().ToBig()
	err = l.IncreaseUserRewards(accA, badger, max)
	assert.True(t, geyser.IsKind(err, geyser.KindOverflow))
	assert.Equal(t, uint64(10), l.Claim(accA, badger).Uint64())
	assert.Equal(t, uint64(10), l.Total(badger).Uint64())

	// claim of B fits, but the token total would overflow
	err = l.IncreaseUserRewards(accB, badger, max)
	assert.True(t, geyser.IsKind(err, geyser.KindOverflow))
	assert.False(t, l.HasClaim(accB, badger))
	assert.NoError(t, l.CheckConservation())
}

func TestNegativeDeltaCreatesNoClaim(t *testing.T) {
	l := New(1)
	require.NoError(t, l.IncreaseUserRewards(accA, badger, big.NewInt(-5)))
	require.NoError(t, l.IncreaseUserRewardsSource("vault", accB, badger, big.NewInt(-1)))

	assert.Equal(t, 2, l.Clamped())
	assert.False(t, l.HasClaim(accA, badger))
	assert.False(t, l.HasClaim(accB, badger))
	assert.Equal(t, 0, l.Len())
	assert.Empty(t, l.Sources())
	assert.True(t, l.Total(badger).IsZero())
}

func TestSourcesAndMetadata(t *testing.T) {
	l := New(1)
	require.NoError(t, l.IncreaseUserRewardsSource("geyser-a", accA, badger, big.NewInt(3)))
	require.NoError(t, l.IncreaseUserRewardsSource("geyser-b", accA, badger, big.NewInt(4)))
	require.NoError(t, l.IncreaseUserRewardsSource("geyser-a", accA, badger, big.NewInt(1)))

	assert.Equal(t, uint64(8), l.Claim(accA, badger).Uint64())
	assert.Equal(t, uint64(4), l.Source("geyser-a", accA, badger).Uint64())
	assert.Equal(t, []string{"geyser-a", "geyser-b"}, l.Sources())
	assert.True(t, l.Source("none", accB, digg).IsZero())

	require.NoError(t, l.TrackUserMetadata(accA, uint256.NewInt(100), uint256.NewInt(40)))
	require.NoError(t, l.TrackUserMetadata(accA, uint256.NewInt(1), nil))
	m := l.Metadata(accA)
	require.NotNil(t, m)
	assert.Equal(t, uint64(101), m.ShareSeconds.Uint64())
	assert.Equal(t, uint64(40), m.ShareSecondsInRange.Uint64())
	assert.Nil(t, l.Metadata(accB))
	assert.Equal(t, []geyser.Address{accA}, l.MetadataAccounts())
}

func TestCheckConservationDetectsDrift(t *testing.T) {
	l := New(1)
	require.NoError(t, l.IncreaseUserRewards(accA, badger, big.NewInt(10)))
	l.totals[badger] = uint256.NewInt(11)
	assert.True(t, geyser.IsKind(l.CheckConservation(), geyser.KindReconciliationFailed))

	l.totals[badger] = uint256.NewInt(10)
	l.totals[digg] = uint256.NewInt(0)
	assert.Error(t, l.CheckConservation())
}

func TestCloneIsDeep(t *testing.T) {
	l := New(2)
	require.NoError(t, l.IncreaseUserRewardsSource("s", accA, badger, big.NewInt(10)))
	require.NoError(t, l.TrackUserMetadata(accA, uint256.NewInt(1), uint256.NewInt(1)))

	c := l.Clone()
	assert.True(t, c.Equal(l))
	require.NoError(t, c.IncreaseUserRewards(accA, badger, big.NewInt(1)))
	assert.Equal(t, uint64(10), l.Claim(accA, badger).Uint64())
	assert.False(t, c.Equal(l))

	assert.Equal(t, uint64(9), l.WithCycle(9).Cycle())
	assert.Equal(t, uint64(2), l.Cycle())
}

// op is a fuzzed ledger mutation over a tiny address space, so ledgers overlap.
type op struct {
	Account uint8
	Token   uint8
	Delta   uint32
	Source  bool
	SS      uint16
}

func randomLedger(f *fuzz.Fuzzer, cycle uint64) *Ledger {
	var ops []op
	f.Fuzz(&ops)
	l := New(cycle)
	for _, o := range ops {
		account := geyser.BytesToAddress([]byte{o.Account % 4})
		token := geyser.BytesToAddress([]byte{0xf0, o.Token % 3})
		delta := big.NewInt(int64(o.Delta))
		if o.Source {
			_ = l.IncreaseUserRewardsSource("src", account, token, delta)
		} else {
			_ = l.IncreaseUserRewards(account, token, delta)
		}
		_ = l.TrackUserMetadata(account, uint256.NewInt(uint64(o.SS)), uint256.NewInt(uint64(o.SS/2)))
	}
	return l
}

func TestMergeProperties(t *testing.T) {
	f := fuzz.NewWithSeed(42).NilChance(0).NumElements(0, 12)
	for i := range 200 {
		a := randomLedger(f, uint64(i%3))
		b := randomLedger(f, uint64(i%5))
		c := randomLedger(f, 1)
		aBefore := a.Clone()

		ab, err := a.Merge(b)
		require.NoError(t, err)
		ba, err := b.Merge(a)
		require.NoError(t, err)
		assert.True(t, ab.Equal(ba), "commutative")

		abc1, err := ab.Merge(c)
		require.NoError(t, err)
		bc, err := b.Merge(c)
		require.NoError(t, err)
		abc2, err := a.Merge(bc)
		require.NoError(t, err)
		assert.True(t, abc1.Equal(abc2), "associative")

		all, err := Merge(a, b, c)
		require.NoError(t, err)
		assert.True(t, all.Equal(abc1))

		assert.NoError(t, abc1.CheckConservation())
		assert.True(t, a.Equal(aBefore), "inputs untouched")
		assert.Equal(t, max(a.Cycle(), b.Cycle(), c.Cycle()), abc1.Cycle())

		// cumulative: nothing in a shrinks after merging
		for _, acc := range a.Accounts() {
			for _, tok := range a.Tokens(acc) {
				assert.False(t, abc1.Claim(acc, tok).Lt(a.Claim(acc, tok)))
			}
		}
	}
}

func TestMergeEmptyAndNil(t *testing.T) {
	l := New(4)
	require.NoError(t, l.IncreaseUserRewards(accA, badger, big.NewInt(1)))
	m, err := Merge(nil, l, New(0))
	require.NoError(t, err)
	assert.True(t, m.Equal(l))

	m, err = Merge()
	require.NoError(t, err)
	assert.Equal(t, 0, m.Len())
}

func TestMergeOverflow(t *testing.T) {
	a := New(1)
	require.NoError(t, a.IncreaseUserRewards(accA, badger, new(uint256.Int).SetAllOne().ToBig()))
	b := New(1)
	require.NoError(t, b.IncreaseUserRewards(accB, badger, big.NewInt(1)))
	_, err := a.Merge(b)
	assert.True(t, geyser.IsKind(err, geyser.KindOverflow))
}
