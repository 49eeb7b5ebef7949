// Copyright (c) 2025 The Geyser developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package cache

import (
	"sync/atomic"

	"github.com/geyser-labs/geyser/metrics"
)

var metricCacheLookups = metrics.LazyLoadCounterVec("cache_lookups_count", []string{"cache", "result"})

// Stats counts lookups of a named cache and reports them as cache_lookups_count.
type Stats struct {
	name      string
	hit, miss atomic.Int64
}

func (cs *Stats) Hit() {
	cs.hit.Add(1)
	metricCacheLookups().AddWithLabel(1, map[string]string{"cache": cs.name, "result": "hit"})
}

func (cs *Stats) Miss() {
	cs.miss.Add(1)
	metricCacheLookups().AddWithLabel(1, map[string]string{"cache": cs.name, "result": "miss"})
}

// Stats returns the hit and miss counts and the hit rate, 0 before any lookup.
func (cs *Stats) Stats() (hit, miss int64, rate float64) {
	hit, miss = cs.hit.Load(), cs.miss.Load()
	if hit+miss > 0 {
		rate = float64(hit) / float64(hit+miss)
	}
	return
}
