// Copyright (c) 2025 The Geyser developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package geyser

import "fmt"

// BlockRange is an inclusive block interval covered by a cycle.
type BlockRange struct {
	Start uint64 `json:"startBlock" yaml:"start"`
	End   uint64 `json:"endBlock" yaml:"end"`
}

// NewBlockRange returns the range [start, end].
func NewBlockRange(start, end uint64) BlockRange {
	return BlockRange{Start: start, End: end}
}

// Valid reports whether start <= end.
func (r BlockRange) Valid() bool {
	return r.Start <= r.End
}

// Next returns the first block of the range that must follow r.
func (r BlockRange) Next() uint64 {
	return r.End + 1
}

// Follows reports whether r starts exactly one block after prev ends.
func (r BlockRange) Follows(prev BlockRange) bool {
	return r.Start == prev.End+1
}

func (r BlockRange) String() string {
	return fmt.Sprintf("[%d, %d]", r.Start, r.End)
}
