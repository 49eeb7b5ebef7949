// Copyright (c) 2025 The Geyser developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package emission computes how many reward tokens unlock schedules release.
package emission

import (
	"github.com/geyser-labs/geyser/geyser"
	"github.com/holiman/uint256"
)

// Schedule linearly unlocks InitialLocked tokens over Duration seconds from StartTime.
type Schedule struct {
	Token         geyser.Address `yaml:"token" json:"token"`
	InitialLocked *uint256.Int   `yaml:"initialLocked" json:"initialLocked"`
	StartTime     uint64         `yaml:"startTime" json:"startTime"`
	Duration      uint64         `yaml:"duration" json:"duration"`
}

// EndTime returns when the schedule is fully unlocked.
func (s *Schedule) EndTime() uint64 {
	return s.StartTime + s.Duration
}

// DistributedAt returns the tokens unlocked by time t:
// min(locked, locked*(t-start)/duration), zero before start.
func (s *Schedule) DistributedAt(t uint64) *uint256.Int {
	if s.InitialLocked == nil || t < s.StartTime {
		return new(uint256.Int)
	}
	if s.Duration == 0 {
		return new(uint256.Int).Set(s.InitialLocked)
	}
	elapsed := t - s.StartTime
	if elapsed >= s.Duration {
		return new(uint256.Int).Set(s.InitialLocked)
	}
	// elapsed < duration, so the quotient is below locked. Compute in 512 bits.
	v, overflow := new(uint256.Int).MulDivOverflow(s.InitialLocked, uint256.NewInt(elapsed), uint256.NewInt(s.Duration))
	if overflow {
		return new(uint256.Int).Set(s.InitialLocked)
	}
	return v
}

// ReleasedInRange returns the tokens unlocked in (from, to].
func (s *Schedule) ReleasedInRange(from, to uint64) *uint256.Int {
	if to <= from {
		return new(uint256.Int)
	}
	end, start := s.DistributedAt(to), s.DistributedAt(from)
	return end.Sub(end, start)
}

// Schedules is the set of unlock schedules of one vault.
type Schedules []Schedule

// Tokens returns the distinct tokens, sorted.
func (ss Schedules) Tokens() []geyser.Address {
	seen := make(map[geyser.Address]struct{})
	var tokens []geyser.Address
	for _, s := range ss {
		if _, ok := seen[s.Token]; !ok {
			seen[s.Token] = struct{}{}
			tokens = append(tokens, s.Token)
		}
	}
	return geyser.SortAddresses(tokens)
}

// ReleasedInRange sums the releases of all schedules per token. Tokens with
// schedules but nothing released map to zero.
func (ss Schedules) ReleasedInRange(from, to uint64) (map[geyser.Address]*uint256.Int, error) {
	out := make(map[geyser.Address]*uint256.Int)
	for i := range ss {
		s := &ss[i]
		sum, ok := out[s.Token]
		if !ok {
			sum = new(uint256.Int)
			out[s.Token] = sum
		}
		if _, overflow := sum.AddOverflow(sum, s.ReleasedInRange(from, to)); overflow {
			return nil, geyser.Errorf(geyser.KindOverflow, "released amount overflows").WithToken(s.Token)
		}
	}
	return out, nil
}

// Add sums b into a per token, allocating a when nil.
func Add(a, b map[geyser.Address]*uint256.Int) (map[geyser.Address]*uint256.Int, error) {
	if a == nil {
		a = make(map[geyser.Address]*uint256.Int, len(b))
	}
	for token, v := range b {
		sum, ok := a[token]
		if !ok {
			sum = new(uint256.Int)
			a[token] = sum
		}
		if _, overflow := sum.AddOverflow(sum, v); overflow {
			return nil, geyser.Errorf(geyser.KindOverflow, "emission overflows").WithToken(token)
		}
	}
	return a, nil
}
