// Copyright (c) 2025 The Geyser developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/geyser-labs/geyser/api/claims"
	"github.com/geyser-labs/geyser/api/cycles"
	"github.com/geyser-labs/geyser/emission"
	"github.com/geyser-labs/geyser/geyser"
	"github.com/geyser-labs/geyser/keeper"
	"github.com/geyser-labs/geyser/lvldb"
	"github.com/geyser-labs/geyser/publish"
	"github.com/geyser-labs/geyser/snapshot"
	"github.com/geyser-labs/geyser/source"
	"github.com/geyser-labs/geyser/stake"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	badger   = geyser.MustParseAddress("0x3472a5a71965499acd81997a54bba8d852c6e53d")
	vault    = geyser.MustParseAddress("0x19d97d8fa813ee2f51ad4b4e04ea08baf4dffc28")
	accountA = geyser.MustParseAddress("0x000000000000000000000000000000000000000a")
	accountB = geyser.MustParseAddress("0x000000000000000000000000000000000000000b")
	proposer = geyser.MustParseAddress("0x00000000000000000000000000000000000000aa")
	guardian = geyser.MustParseAddress("0x00000000000000000000000000000000000000bb")
)

func action(a stake.Action) source.ActionRecord {
	return source.ActionRecord{Action: a, Block: a.Timestamp}
}

func newDataset(t *testing.T) keeper.Source {
	src, err := source.New(&source.Dataset{
		Clock: &source.Clock{Interval: 1},
		Vaults: []source.VaultData{{
			VaultInfo: keeper.VaultInfo{Address: vault, Name: "bBADGER", Native: true},
			Schedules: emission.Schedules{{Token: badger, InitialLocked: uint256.NewInt(1500), StartTime: 0, Duration: 20}},
			Actions: []source.ActionRecord{
				action(stake.NewStake(accountA, 100, 0)),
				action(stake.NewStake(accountB, 50, 10)),
				action(stake.NewUnstake(accountA, 100, 10)),
			},
		}},
	})
	require.NoError(t, err)
	return src
}

// newServers starts the api of a proposer and of a guardian sharing one store.
func newServers(t *testing.T, opts Options) (*httptest.Server, *httptest.Server) {
	db, err := lvldb.NewMem()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	snaps, err := snapshot.NewStore(db, 1, "", 8)
	require.NoError(t, err)

	src := newDataset(t)
	now := time.Unix(1_600_000_000, 0)
	start := func(identity geyser.Address) *httptest.Server {
		k, err := keeper.New(context.Background(), src, snaps, publish.NewKVStore(db), keeper.Config{
			ChainID:  1,
			Identity: identity,
			Roles:    publish.Roles{Proposers: []geyser.Address{proposer}, Approvers: []geyser.Address{guardian}},
			Now:      func() time.Time { return now },
		})
		require.NoError(t, err)
		ts := httptest.NewServer(New(k, opts))
		t.Cleanup(ts.Close)
		return ts
	}
	return start(proposer), start(guardian)
}

func httpDo(t *testing.T, method, url string, body any) ([]byte, int) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, r)
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return data, res.StatusCode
}

func TestCycleLifecycle(t *testing.T) {
	prop, guard := newServers(t, Options{EnableTriggers: true})

	body, code := httpDo(t, http.MethodGet, prop.URL+"/cycles/status", nil)
	require.Equal(t, http.StatusOK, code, string(body))
	var status cycles.Status
	require.NoError(t, json.Unmarshal(body, &status))
	assert.Equal(t, publish.Idle, status.Phase)
	assert.Equal(t, uint64(0), status.NextStart)

	_, code = httpDo(t, http.MethodGet, prop.URL+"/claims/"+accountA.String(), nil)
	assert.Equal(t, http.StatusNotFound, code, "nothing approved yet")

	body, code = httpDo(t, http.MethodPost, prop.URL+"/cycles/propose", cycles.ProposeRequest{EndBlock: 20})
	require.Equal(t, http.StatusOK, code, string(body))
	var proposal cycles.Proposal
	require.NoError(t, json.Unmarshal(body, &proposal))
	assert.Equal(t, uint64(1), proposal.Cycle)
	assert.Equal(t, geyser.NewBlockRange(0, 20), proposal.Blocks)
	assert.Equal(t, 2, proposal.Claims)
	assert.NotEmpty(t, proposal.ProposeCalldata)

	_, code = httpDo(t, http.MethodPost, prop.URL+"/cycles/propose", cycles.ProposeRequest{EndBlock: 30})
	assert.Equal(t, http.StatusConflict, code, "cycle 1 is pending")

	body, code = httpDo(t, http.MethodGet, guard.URL+"/cycles/1", nil)
	require.Equal(t, http.StatusOK, code, string(body))
	var pending cycles.CycleFile
	require.NoError(t, json.Unmarshal(body, &pending))
	assert.Equal(t, publish.Proposed, pending.Phase)

	body, code = httpDo(t, http.MethodPost, prop.URL+"/cycles/approve", nil)
	require.Equal(t, http.StatusOK, code, string(body))
	var decision cycles.Decision
	require.NoError(t, json.Unmarshal(body, &decision))
	assert.False(t, decision.Approved)
	assert.Equal(t, geyser.KindSelfApproval.Label(), decision.Kind)

	body, code = httpDo(t, http.MethodPost, guard.URL+"/cycles/approve", nil)
	require.Equal(t, http.StatusOK, code, string(body))
	decision = cycles.Decision{}
	require.NoError(t, json.Unmarshal(body, &decision))
	assert.True(t, decision.Approved, decision.Reason)
	require.NotNil(t, decision.Record)
	assert.Equal(t, guardian, decision.Record.Actor)

	_, code = httpDo(t, http.MethodPost, guard.URL+"/cycles/approve", nil)
	assert.Equal(t, http.StatusConflict, code, "nothing pending")

	body, code = httpDo(t, http.MethodGet, guard.URL+"/cycles/1", nil)
	require.Equal(t, http.StatusOK, code, string(body))
	var file cycles.CycleFile
	require.NoError(t, json.Unmarshal(body, &file))
	assert.Equal(t, publish.Approved, file.Phase)
	assert.Equal(t, proposal.ContentHash, file.ContentHash)
	assert.Equal(t, proposal.Root.Root, file.File.MerkleRoot)

	_, code = httpDo(t, http.MethodGet, guard.URL+"/cycles/7", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func approveFirstCycle(t *testing.T) (*httptest.Server, *httptest.Server) {
	prop, guard := newServers(t, Options{EnableTriggers: true})
	_, code := httpDo(t, http.MethodPost, prop.URL+"/cycles/propose", cycles.ProposeRequest{EndBlock: 20})
	require.Equal(t, http.StatusOK, code)
	_, code = httpDo(t, http.MethodPost, guard.URL+"/cycles/approve", nil)
	require.Equal(t, http.StatusOK, code)
	return prop, guard
}

func TestClaims(t *testing.T) {
	_, guard := approveFirstCycle(t)

	body, code := httpDo(t, http.MethodGet, guard.URL+"/claims/"+accountA.String(), nil)
	require.Equal(t, http.StatusOK, code, string(body))
	var claim claims.ClaimResponse
	require.NoError(t, json.Unmarshal(body, &claim))
	assert.Equal(t, uint64(1), claim.Cycle)
	assert.Equal(t, []geyser.Address{badger}, claim.Claim.Tokens)
	assert.Equal(t, []string{"1000"}, claim.Claim.CumulativeAmounts)

	body, code = httpDo(t, http.MethodGet, guard.URL+"/claims/"+accountB.String()+"?cycle=1", nil)
	require.Equal(t, http.StatusOK, code, string(body))
	var claimB claims.ClaimResponse
	require.NoError(t, json.Unmarshal(body, &claimB))
	assert.Equal(t, []string{"500"}, claimB.Claim.CumulativeAmounts)

	_, code = httpDo(t, http.MethodGet, guard.URL+"/claims/"+guardian.String(), nil)
	assert.Equal(t, http.StatusNotFound, code)
	_, code = httpDo(t, http.MethodGet, guard.URL+"/claims/0xzz", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	_, code = httpDo(t, http.MethodGet, guard.URL+"/claims/"+accountA.String()+"?cycle=2", nil)
	assert.Equal(t, http.StatusNotFound, code)
	_, code = httpDo(t, http.MethodGet, guard.URL+"/claims/"+accountA.String()+"?cycle=x", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	t.Run("verify", func(t *testing.T) {
		body, code := httpDo(t, http.MethodPost, guard.URL+"/claims/verify", claims.VerifyRequest{Claim: claim.Claim})
		require.Equal(t, http.StatusOK, code, string(body))
		var res claims.VerifyResponse
		require.NoError(t, json.Unmarshal(body, &res))
		assert.True(t, res.Valid)
		assert.Equal(t, claim.MerkleRoot, res.Root)

		tampered := *claim.Claim
		tampered.CumulativeAmounts = []string{"1001"}
		body, code = httpDo(t, http.MethodPost, guard.URL+"/claims/verify", claims.VerifyRequest{Claim: &tampered})
		require.Equal(t, http.StatusOK, code, string(body))
		res = claims.VerifyResponse{}
		require.NoError(t, json.Unmarshal(body, &res))
		assert.False(t, res.Valid)

		other := geyser.Bytes32{1}
		body, code = httpDo(t, http.MethodPost, guard.URL+"/claims/verify", claims.VerifyRequest{Root: &other, Claim: claim.Claim})
		require.Equal(t, http.StatusOK, code, string(body))
		res = claims.VerifyResponse{}
		require.NoError(t, json.Unmarshal(body, &res))
		assert.False(t, res.Valid)

		tampered.CumulativeAmounts = []string{"-1"}
		_, code = httpDo(t, http.MethodPost, guard.URL+"/claims/verify", claims.VerifyRequest{Claim: &tampered})
		assert.Equal(t, http.StatusBadRequest, code)

		_, code = httpDo(t, http.MethodPost, guard.URL+"/claims/verify", map[string]string{"unknown": "x"})
		assert.Equal(t, http.StatusBadRequest, code)
	})
}

func TestTriggersDisabled(t *testing.T) {
	prop, _ := newServers(t, Options{})

	_, code := httpDo(t, http.MethodPost, prop.URL+"/cycles/propose", cycles.ProposeRequest{EndBlock: 20})
	assert.Equal(t, http.StatusNotFound, code)
	_, code = httpDo(t, http.MethodGet, prop.URL+"/cycles/status", nil)
	assert.Equal(t, http.StatusOK, code)
}
