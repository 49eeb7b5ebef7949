// Copyright (c) 2025 The Geyser developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package log

import (
	"bytes"
	"encoding/json"
	"math/rand/v2"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sink []byte

func TestAppendUint64(t *testing.T) {
	assert.Equal(t, "99999", string(appendUint64(nil, 99999, false)))
	assert.Equal(t, "100,000", string(appendUint64(nil, 100000, false)))
	assert.Equal(t, "-1,234,567", string(appendInt64(nil, -1234567)))
}

func TestTerminalHandler(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(NewTerminalHandler(&buf, false))
	l.Info("merkle root built", "cycle", 7, "total", uint256.NewInt(1500))

	out := buf.String()
	assert.Contains(t, out, "INFO ")
	assert.Contains(t, out, "merkle root built")
	assert.Contains(t, out, "cycle=7")
	assert.Contains(t, out, "total=1500")
}

func TestJSONHandlerAndRoot(t *testing.T) {
	var buf bytes.Buffer
	old := Root()
	SetDefault(NewLogger(JSONHandler(&buf)))
	defer SetDefault(old)

	pkgLogger := WithContext("pkg", "test")
	pkgLogger.Warn("clamped", "amount", uint256.NewInt(5))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "test", rec["pkg"])
	assert.Equal(t, "5", rec["amount"])
	assert.Equal(t, "warn", rec["lvl"])
}

func TestParseLevel(t *testing.T) {
	lvl, ok := ParseLevel("trace")
	assert.True(t, ok)
	assert.Equal(t, LevelTrace, lvl)
	_, ok = ParseLevel("loud")
	assert.False(t, ok)
}

func BenchmarkPrettyUint64Logfmt(b *testing.B) {
	buf := make([]byte, 100)
	b.ReportAllocs()
	for b.Loop() {
		sink = appendUint64(buf, rand.Uint64(), false) //#nosec G404
	}
}
