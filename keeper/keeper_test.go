// Copyright (c) 2025 The Geyser developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package keeper

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/geyser-labs/geyser/abi"
	"github.com/geyser-labs/geyser/boost"
	"github.com/geyser-labs/geyser/emission"
	"github.com/geyser-labs/geyser/geyser"
	"github.com/geyser-labs/geyser/lvldb"
	"github.com/geyser-labs/geyser/merkle"
	"github.com/geyser-labs/geyser/publish"
	"github.com/geyser-labs/geyser/snapshot"
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
	roles    = publish.Roles{Proposers: []geyser.Address{proposer}, Approvers: []geyser.Address{guardian}}
	genesis  = time.Unix(1_600_000_000, 0)
)

// fakeSource has one block per second starting at time 0, so block n has timestamp n.
type fakeSource struct {
	vaults    []VaultInfo
	actions   map[geyser.Address][]stake.Action
	balances  map[geyser.Address]map[geyser.Address]*uint256.Int
	schedules map[geyser.Address]emission.Schedules
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		vaults: []VaultInfo{{Address: vault, Name: "bBADGER", Native: true}},
		actions: map[geyser.Address][]stake.Action{vault: {
			stake.NewStake(accountA, 100, 0),
			stake.NewStake(accountB, 50, 10),
			stake.NewUnstake(accountA, 100, 10),
		}},
		schedules: map[geyser.Address]emission.Schedules{vault: {
			{Token: badger, InitialLocked: uint256.NewInt(1500), StartTime: 0, Duration: 20},
			{Token: badger, InitialLocked: uint256.NewInt(400), StartTime: 20, Duration: 20},
		}},
	}
}

func (f *fakeSource) Vaults(context.Context) ([]VaultInfo, error) { return f.vaults, nil }

func (f *fakeSource) FetchStakeEvents(_ context.Context, v geyser.Address, r geyser.BlockRange) ([]stake.Action, error) {
	var out []stake.Action
	for _, a := range f.actions[v] {
		if a.Timestamp >= r.Start && a.Timestamp <= r.End {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeSource) FetchBalances(_ context.Context, v geyser.Address, _ uint64) (map[geyser.Address]*uint256.Int, error) {
	return f.balances[v], nil
}

func (f *fakeSource) BlockTime(_ context.Context, block uint64) (uint64, error) { return block, nil }

func (f *fakeSource) Schedules(_ context.Context, v geyser.Address) (emission.Schedules, error) {
	return f.schedules[v], nil
}

type env struct {
	snapshots *snapshot.Store
	states    publish.Store
	now       time.Time
}

func newEnv(t *testing.T) *env {
	db, err := lvldb.NewMem()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	snaps, err := snapshot.NewStore(db, 1, "", 8)
	require.NoError(t, err)
	return &env{snapshots: snaps, states: publish.NewKVStore(db), now: genesis}
}

func (e *env) keeper(t *testing.T, src Source, identity geyser.Address, mod func(*Config)) *Keeper {
	cfg := Config{
		ChainID:     1,
		Identity:    identity,
		Roles:       roles,
		MinInterval: time.Hour,
		Workers:     2,
		Now:         func() time.Time { return e.now },
	}
	if mod != nil {
		mod(&cfg)
	}
	k, err := New(context.Background(), src, e.snapshots, e.states, cfg)
	require.NoError(t, err)
	return k
}

func claimOf(t *testing.T, f *snapshot.File, account geyser.Address) uint64 {
	c, ok := f.Claims[account]
	require.True(t, ok, "no claim for %v", account)
	require.Equal(t, []geyser.Address{badger}, c.Tokens)
	v, err := uint256.FromDecimal(c.CumulativeAmounts[0])
	require.NoError(t, err)
	return v.Uint64()
}

func checkProofs(t *testing.T, f *snapshot.File) {
	entries, err := f.Entries()
	require.NoError(t, err)
	for _, e := range entries {
		leaf, err := e.Leaf()
		require.NoError(t, err)
		assert.True(t, merkle.VerifyProof(f.MerkleRoot, leaf, f.Claims[e.Account].Proof), "%v", e.Account)
	}
}

func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	src := newFakeSource()
	keeper := e.keeper(t, src, proposer, nil)
	guard := e.keeper(t, src, guardian, nil)

	_, err := guard.ApproveIfPending(ctx)
	assert.True(t, geyser.IsKind(err, geyser.KindNothingToDo))

	p, err := keeper.ProposeIfDue(ctx, e.now, 20)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), p.Cycle)
	assert.Equal(t, geyser.NewBlockRange(0, 20), p.Blocks)
	assert.Equal(t, uint64(1000), claimOf(t, p.File, accountA))
	assert.Equal(t, uint64(500), claimOf(t, p.File, accountB))
	assert.Equal(t, "1500", p.File.TokenTotals[badger])
	assert.True(t, p.Report.Acceptable)
	assert.Equal(t, "1000", p.File.Metadata[accountA].ShareSecondsInRange)
	checkProofs(t, p.File)

	name, call, err := abi.DecodeRootCall(p.ProposeCalldata)
	require.NoError(t, err)
	assert.Equal(t, "proposeRoot", name)
	assert.Equal(t, p.Root.Root, call.Root)
	assert.Equal(t, uint64(20), call.EndBlock)

	_, err = keeper.ProposeIfDue(ctx, e.now, 30)
	assert.True(t, geyser.IsKind(err, geyser.KindNothingToDo))

	d, err := guard.ApproveIfPending(ctx)
	require.NoError(t, err)
	require.True(t, d.Approved, "%v", d.Reason)
	assert.Equal(t, guardian, d.Record.Actor)
	assert.Equal(t, publish.Approved, keeper.Protocol().Status().Phase)
	assert.Equal(t, uint64(21), keeper.Protocol().NextStart())

	// too early for the next cycle
	_, err = keeper.ProposeIfDue(ctx, e.now.Add(time.Minute), 40)
	assert.True(t, geyser.IsKind(err, geyser.KindNothingToDo))

	e.now = e.now.Add(2 * time.Hour)
	_, err = keeper.ProposeIfDue(ctx, e.now, 20)
	assert.True(t, geyser.IsKind(err, geyser.KindNothingToDo))

	p2, err := keeper.ProposeIfDue(ctx, e.now, 40)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), p2.Cycle)
	// B alone held stake over (20, 40] and receives the second schedule
	assert.Equal(t, uint64(1000), claimOf(t, p2.File, accountA))
	assert.Equal(t, uint64(900), claimOf(t, p2.File, accountB))
	checkProofs(t, p2.File)

	d, err = guard.ApproveIfPending(ctx)
	require.NoError(t, err)
	require.True(t, d.Approved, "%v", d.Reason)
	assert.Equal(t, uint64(2), guard.Protocol().Status().LastCycle())

	latest, err := e.snapshots.Latest()
	require.NoError(t, err)
	assert.Equal(t, p2.Root.Root, latest.MerkleRoot)
}

func TestSelfApprovalRejected(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	src := newFakeSource()
	keeper := e.keeper(t, src, proposer, func(c *Config) {
		c.Roles.Approvers = append(c.Roles.Approvers, proposer)
	})

	_, err := keeper.ProposeIfDue(ctx, e.now, 20)
	require.NoError(t, err)
	d, err := keeper.ApproveIfPending(ctx)
	require.NoError(t, err)
	assert.False(t, d.Approved)
	assert.Equal(t, geyser.KindSelfApproval, d.Kind())
	assert.Equal(t, publish.Proposed, keeper.Protocol().Status().Phase)
}

func TestGuardianDisagrees(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	keeper := e.keeper(t, newFakeSource(), proposer, nil)

	// the guardian sees an extra stake the keeper missed
	other := newFakeSource()
	other.actions[vault] = append(other.actions[vault], stake.NewStake(accountB, 50, 15))
	guard := e.keeper(t, other, guardian, nil)

	_, err := keeper.ProposeIfDue(ctx, e.now, 20)
	require.NoError(t, err)
	d, err := guard.ApproveIfPending(ctx)
	require.NoError(t, err)
	assert.False(t, d.Approved)
	assert.Equal(t, geyser.KindContentHashMismatch, d.Kind())
	assert.Equal(t, publish.Proposed, guard.Protocol().Status().Phase)
}

func TestVerifyAndApproveChecksProposal(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	src := newFakeSource()
	keeper := e.keeper(t, src, proposer, nil)
	guard := e.keeper(t, src, guardian, nil)

	p, err := keeper.ProposeIfDue(ctx, e.now, 20)
	require.NoError(t, err)

	tampered := *p
	data, err := p.File.Encode()
	require.NoError(t, err)
	tampered.File, err = snapshot.Decode(data)
	require.NoError(t, err)
	tampered.File.Claims[accountB].CumulativeAmounts[0] = "501"

	d, err := guard.VerifyAndApprove(ctx, &tampered)
	require.NoError(t, err)
	assert.Equal(t, geyser.KindContentHashMismatch, d.Kind())

	noFile := *p
	noFile.File = nil
	d, err = guard.VerifyAndApprove(ctx, &noFile)
	require.NoError(t, err)
	assert.Equal(t, geyser.KindInvalidInput, d.Kind())

	d, err = guard.VerifyAndApprove(ctx, p)
	require.NoError(t, err)
	assert.True(t, d.Approved)
}

func TestComputeNextCycleContiguity(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	keeper := e.keeper(t, newFakeSource(), proposer, nil)

	_, err := keeper.ComputeNextCycle(ctx, geyser.NewBlockRange(1, 20))
	assert.True(t, geyser.IsKind(err, geyser.KindNonContiguousBlocks))
	_, err = keeper.ComputeNextCycle(ctx, geyser.NewBlockRange(0, 20))
	require.NoError(t, err)
	// computing has no side effects
	assert.Equal(t, publish.Idle, keeper.Protocol().Status().Phase)
	_, err = e.snapshots.Latest()
	assert.True(t, snapshot.IsNotFound(err))
}

func TestEmptyDistribution(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	src := newFakeSource()
	src.actions = nil
	keeper := e.keeper(t, src, proposer, nil)

	_, err := keeper.ProposeIfDue(ctx, e.now, 20)
	assert.True(t, geyser.IsKind(err, geyser.KindEmptyDistribution))
	assert.Equal(t, publish.Idle, keeper.Protocol().Status().Phase)
}

func TestBoostAndProgress(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	src := newFakeSource()
	src.vaults = append(src.vaults, VaultInfo{Address: badger, Name: "bLP"})
	src.balances = map[geyser.Address]map[geyser.Address]*uint256.Int{
		vault: {accountA: uint256.NewInt(10)},
		badger: {
			accountA: uint256.NewInt(10),
			accountB: uint256.NewInt(10),
		},
	}
	var calls atomic.Int32
	keeper := e.keeper(t, src, proposer, func(c *Config) {
		c.Boost = boost.NewCalculator()
		c.OnVault = func(done, total int) {
			calls.Add(1)
			assert.Equal(t, 2, total)
		}
	})

	p, err := keeper.ComputeNextCycle(ctx, geyser.NewBlockRange(0, 20))
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	// A has a 1:1 stake ratio and earns 1800x, B is unboosted
	assert.Equal(t, uint64(1499), claimOf(t, p.File, accountA))
	assert.Equal(t, uint64(0), claimOf(t, p.File, accountB))
	assert.Equal(t, uint64(1), p.Dust[badger].Uint64())
	assert.True(t, p.Report.Acceptable)
}
