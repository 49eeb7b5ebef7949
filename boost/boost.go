// Copyright (c) 2025 The Geyser developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package boost derives per-account reward multipliers from the ratio of
// native to non-native holdings.
package boost

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/geyser-labs/geyser/geyser"
	"github.com/geyser-labs/geyser/log"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

var logger = log.WithContext("pkg", "boost")

// Tier maps a stake ratio threshold to a multiplier.
type Tier struct {
	Threshold  *big.Rat
	Multiplier *big.Rat
}

// ParseTier parses a tier from decimal or fractional strings, e.g. "0.0025" and "5".
func ParseTier(threshold, multiplier string) (Tier, error) {
	th, ok := new(big.Rat).SetString(threshold)
	if !ok || th.Sign() < 0 {
		return Tier{}, errors.Errorf("invalid threshold %q", threshold)
	}
	m, ok := new(big.Rat).SetString(multiplier)
	if !ok || m.Sign() <= 0 {
		return Tier{}, errors.Errorf("invalid multiplier %q", multiplier)
	}
	return Tier{th, m}, nil
}

func mustTier(threshold, multiplier string) Tier {
	t, err := ParseTier(threshold, multiplier)
	if err != nil {
		panic(err)
	}
	return t
}

// DefaultTable returns the stake ratio ranges used in production.
func DefaultTable() []Tier {
	return []Tier{
		mustTier("0", "1"),
		mustTier("0.001", "2"),
		mustTier("0.0025", "5"),
		mustTier("0.005", "10"),
		mustTier("0.01", "20"),
		mustTier("0.025", "50"),
		mustTier("0.05", "100"),
		mustTier("0.075", "150"),
		mustTier("0.1", "200"),
		mustTier("0.15", "300"),
		mustTier("0.2", "400"),
		mustTier("0.25", "500"),
		mustTier("0.3", "600"),
		mustTier("0.4", "800"),
		mustTier("0.5", "1000"),
		mustTier("0.6", "1200"),
		mustTier("0.7", "1400"),
		mustTier("0.8", "1600"),
		mustTier("0.9", "1800"),
		mustTier("1", "2000"),
	}
}

// Boost is the multiplier of one account plus the inputs it was derived from.
type Boost struct {
	Multiplier *big.Rat
	StakeRatio *big.Rat
	Native     *uint256.Int
	NonNative  *uint256.Int
	Rank       int // 1-based, by stake ratio descending
	Tier       int // index into the table, -1 for the base multiplier
}

// Calculator computes multipliers from a tier table.
type Calculator struct {
	Table []Tier
	// Dust balances, at or below this value, count as zero.
	Dust *uint256.Int
}

// NewCalculator returns a calculator over the default table.
func NewCalculator() *Calculator {
	return &Calculator{Table: DefaultTable()}
}

// Validate checks the table is sorted by strictly increasing threshold.
func (c *Calculator) Validate() error {
	if len(c.Table) == 0 {
		return errors.New("empty boost table")
	}
	for i := 1; i < len(c.Table); i++ {
		if c.Table[i].Threshold.Cmp(c.Table[i-1].Threshold) <= 0 {
			return errors.Errorf("boost table not increasing at tier %d", i)
		}
	}
	return nil
}

func (c *Calculator) balance(m map[geyser.Address]*uint256.Int, addr geyser.Address) *uint256.Int {
	v, ok := m[addr]
	if !ok || v == nil || (c.Dust != nil && !v.Gt(c.Dust)) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}

// ComputeMultipliers returns the boost of every account present in either map.
// An account whose native or non-native balance is zero gets the base 1x.
// Otherwise the tier with the highest threshold strictly below its ratio wins.
func (c *Calculator) ComputeMultipliers(native, nonNative map[geyser.Address]*uint256.Int) map[geyser.Address]*Boost {
	accounts := make(map[geyser.Address]struct{}, len(native)+len(nonNative))
	for a := range native {
		accounts[a] = struct{}{}
	}
	for a := range nonNative {
		accounts[a] = struct{}{}
	}

	boosts := make(map[geyser.Address]*Boost, len(accounts))
	ranked := make([]geyser.Address, 0, len(accounts))
	for a := range accounts {
		b := &Boost{
			Native:     c.balance(native, a),
			NonNative:  c.balance(nonNative, a),
			StakeRatio: new(big.Rat),
			Multiplier: big.NewRat(1, 1),
			Tier:       -1,
		}
		if !b.Native.IsZero() && !b.NonNative.IsZero() {
			b.StakeRatio.SetFrac(b.Native.ToBig(), b.NonNative.ToBig())
			for i, tier := range c.Table {
				if b.StakeRatio.Cmp(tier.Threshold) > 0 {
					b.Multiplier = new(big.Rat).Set(tier.Multiplier)
					b.Tier = i
				}
			}
		}
		boosts[a] = b
		ranked = append(ranked, a)
	}

	sort.Slice(ranked, func(i, j int) bool {
		if c := boosts[ranked[i]].StakeRatio.Cmp(boosts[ranked[j]].StakeRatio); c != 0 {
			return c > 0
		}
		return ranked[i].Less(ranked[j])
	})
	for i, a := range ranked {
		boosts[a].Rank = i + 1
	}
	logger.Debug("computed boosts", "accounts", len(boosts))
	return boosts
}

// Apply scales weights by the account multipliers, flooring each product.
// Accounts without a boost keep their weight. The result only changes relative
// shares, distribution renormalises against the sum of adjusted weights.
func Apply(weights map[geyser.Address]*uint256.Int, boosts map[geyser.Address]*Boost) (map[geyser.Address]*uint256.Int, error) {
	out := make(map[geyser.Address]*uint256.Int, len(weights))
	for a, w := range weights {
		b, ok := boosts[a]
		if !ok || b.Multiplier == nil {
			out[a] = new(uint256.Int).Set(w)
			continue
		}
		scaled := new(big.Int).Mul(w.ToBig(), b.Multiplier.Num())
		scaled.Quo(scaled, b.Multiplier.Denom())
		v, overflow := uint256.FromBig(scaled)
		if overflow {
			return nil, geyser.Errorf(geyser.KindOverflow, "boosted weight overflows").WithAccount(a)
		}
		out[a] = v
	}
	return out, nil
}

// TierCount is a row of the boost histogram.
type TierCount struct {
	Threshold *big.Rat // nil for the base multiplier
	Accounts  int
}

func (t TierCount) String() string {
	if t.Threshold == nil {
		return fmt.Sprintf("base: %d", t.Accounts)
	}
	return fmt.Sprintf(">%s: %d", t.Threshold.FloatString(4), t.Accounts)
}

// Histogram counts accounts per tier, the base multiplier first.
func (c *Calculator) Histogram(boosts map[geyser.Address]*Boost) []TierCount {
	rows := make([]TierCount, len(c.Table)+1)
	for i, tier := range c.Table {
		rows[i+1].Threshold = tier.Threshold
	}
	for _, b := range boosts {
		rows[b.Tier+1].Accounts++
	}
	return rows
}
