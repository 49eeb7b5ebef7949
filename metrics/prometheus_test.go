// Copyright (c) 2025 The Geyser developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopMetrics(t *testing.T) {
	assert.Nil(t, noopMetrics{}.GetOrCreateHandler())
	noopMetrics{}.GetOrCreateCountMeter("x").Add(1)
	noopMetrics{}.GetOrCreateCountVecMeter("x", []string{"kind"}).AddWithLabel(1, map[string]string{"kind": "a"})
	noopMetrics{}.GetOrCreateGaugeMeter("x").Set(1)
	noopMetrics{}.GetOrCreateHistogramMeter("x", nil).Observe(1)
}

func TestPromMetrics(t *testing.T) {
	m := newIsolatedPrometheusMetrics()

	proposed := m.GetOrCreateCountMeter("cycles_proposed")
	assert.Same(t, proposed, m.GetOrCreateCountMeter("cycles_proposed"))
	proposed.Add(2)

	m.GetOrCreateCountVecMeter("rejections", []string{"kind"}).
		AddWithLabel(1, map[string]string{"kind": "self_approval"})
	m.GetOrCreateGaugeMeter("last_approved_cycle").Set(7)
	m.GetOrCreateHistogramMeter("compute_duration_ms", BucketComputeMs).Observe(42)

	rec := httptest.NewRecorder()
	m.GetOrCreateHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, "geyser_cycles_proposed 2")
	assert.Contains(t, text, `geyser_rejections{kind="self_approval"} 1`)
	assert.Contains(t, text, "geyser_last_approved_cycle 7")
	assert.Contains(t, text, "geyser_compute_duration_ms_count 1")
	assert.Contains(t, text, "go_goroutines")
}

func TestLazyLoad(t *testing.T) {
	calls := 0
	f := LazyLoad(func() int { calls++; return calls })
	assert.Equal(t, 1, f())
	assert.Equal(t, 1, f())
}
