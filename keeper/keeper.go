// Copyright (c) 2025 The Geyser developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package keeper drives the rewards pipeline: it computes the next cumulative
// distribution, proposes it, and independently re-derives it before approving.
// It never loops or sleeps, an external scheduler calls ProposeIfDue and
// ApproveIfPending.
package keeper

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/geyser-labs/geyser/boost"
	"github.com/geyser-labs/geyser/distribution"
	"github.com/geyser-labs/geyser/geyser"
	"github.com/geyser-labs/geyser/ledger"
	"github.com/geyser-labs/geyser/log"
	"github.com/geyser-labs/geyser/merkle"
	"github.com/geyser-labs/geyser/metrics"
	"github.com/geyser-labs/geyser/publish"
	"github.com/geyser-labs/geyser/reconcile"
	"github.com/geyser-labs/geyser/snapshot"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

var (
	logger = log.WithContext("pkg", "keeper")

	metricComputeMs = metrics.LazyLoadHistogram("compute_duration_ms", metrics.BucketComputeMs)
	metricFlagged   = metrics.LazyLoadGauge("flagged_accounts")
)

// Config configures a Keeper.
type Config struct {
	ChainID uint64
	// Identity is the address this keeper acts as, proposer or approver.
	Identity geyser.Address
	Roles    publish.Roles
	// FirstBlock is the start block of cycle 1.
	FirstBlock uint64
	// Boost enables stake ratio multipliers when set.
	Boost        *boost.Calculator
	ToleranceBps uint64
	// MinInterval is the least time between an approval and the next proposal.
	MinInterval time.Duration
	// Workers bounds concurrent vault computations.
	Workers int
	// OnVault, if set, is called from worker goroutines as vaults finish.
	OnVault func(done, total int)
	Now     func() time.Time
}

// Keeper runs cycles over a Source.
type Keeper struct {
	src       Source
	snapshots *snapshot.Store
	protocol  *publish.Protocol
	verifier  reconcile.Verifier
	cfg       Config
}

// New creates a keeper. Protocol state is loaded from states, distribution
// files are kept in snapshots.
func New(ctx context.Context, src Source, snapshots *snapshot.Store, states publish.Store, cfg Config) (*Keeper, error) {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Boost != nil {
		if err := cfg.Boost.Validate(); err != nil {
			return nil, err
		}
	}
	k := &Keeper{
		src:       src,
		snapshots: snapshots,
		verifier:  reconcile.Verifier{ToleranceBps: cfg.ToleranceBps},
		cfg:       cfg,
	}
	p, err := publish.New(ctx, states, publish.VerifierFunc(k.rederive), publish.Config{
		Roles:      cfg.Roles,
		FirstBlock: cfg.FirstBlock,
		Now:        cfg.Now,
	})
	if err != nil {
		return nil, err
	}
	k.protocol = p
	return k, nil
}

// Protocol returns the publication protocol the keeper drives.
func (k *Keeper) Protocol() *publish.Protocol { return k.protocol }

// Snapshots returns the distribution file store.
func (k *Keeper) Snapshots() *snapshot.Store { return k.snapshots }

// Now returns the time of the keeper clock.
func (k *Keeper) Now() time.Time { return k.cfg.Now() }

// computed is everything derived for one cycle.
type computed struct {
	file        *snapshot.File
	contentHash geyser.Bytes32
	tree        *merkle.Tree
	report      *reconcile.Report
	outcome     *distribution.Outcome
}

// approvedBase loads the claims of the last approved cycle. The stored file
// must reproduce the approved root.
func (k *Keeper) approvedBase(s *publish.State) (*ledger.Ledger, error) {
	if s.Approved == nil {
		return ledger.New(0), nil
	}
	f, err := k.snapshots.Get(s.Approved.ContentHash)
	if err != nil {
		return nil, errors.Wrapf(err, "load approved cycle %d", s.Approved.Cycle)
	}
	if f.MerkleRoot != s.Approved.Root.Root {
		return nil, geyser.Errorf(geyser.KindRootMismatch, "stored file root %v, approved %v", f.MerkleRoot, s.Approved.Root.Root).
			WithCycle(s.Approved.Cycle)
	}
	if _, err := f.Verify(); err != nil {
		return nil, err
	}
	return f.ClaimsLedger()
}

func (k *Keeper) vaults(ctx context.Context, blocks geyser.BlockRange) ([]VaultInfo, []*distribution.Vault, error) {
	infos, err := k.src.Vaults(ctx)
	if err != nil {
		return nil, nil, errors.Wrap(err, "list vaults")
	}
	// opening balances need the whole history up to the end of the cycle
	history := geyser.NewBlockRange(0, blocks.End)
	vaults := make([]*distribution.Vault, 0, len(infos))
	for _, info := range infos {
		actions, err := k.src.FetchStakeEvents(ctx, info.Address, history)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "stake events of %v", info.Address)
		}
		schedules, err := k.src.Schedules(ctx, info.Address)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "schedules of %v", info.Address)
		}
		vaults = append(vaults, &distribution.Vault{
			Address:   info.Address,
			Name:      info.Name,
			Actions:   actions,
			Schedules: schedules,
		})
	}
	return infos, vaults, nil
}

func (k *Keeper) boosts(ctx context.Context, infos []VaultInfo, block uint64) (map[geyser.Address]*boost.Boost, error) {
	if k.cfg.Boost == nil {
		return nil, nil
	}
	native := make(map[geyser.Address]*uint256.Int)
	nonNative := make(map[geyser.Address]*uint256.Int)
	for _, info := range infos {
		balances, err := k.src.FetchBalances(ctx, info.Address, block)
		if err != nil {
			return nil, errors.Wrapf(err, "balances of %v", info.Address)
		}
		side := nonNative
		if info.Native {
			side = native
		}
		for account, v := range balances {
			cur, ok := side[account]
			if !ok {
				cur = new(uint256.Int)
			}
			sum, overflow := new(uint256.Int).AddOverflow(cur, v)
			if overflow {
				return nil, geyser.Errorf(geyser.KindOverflow, "boost balance overflows").WithAccount(account)
			}
			side[account] = sum
		}
	}
	boosts := k.cfg.Boost.ComputeMultipliers(native, nonNative)
	for _, row := range k.cfg.Boost.Histogram(boosts) {
		if row.Accounts > 0 {
			logger.Debug("boost tier", "tier", row)
		}
	}
	return boosts, nil
}

// compute derives the cumulative distribution of cycle over blocks on top of
// the approved state s.
func (k *Keeper) compute(ctx context.Context, s *publish.State, cycle uint64, blocks geyser.BlockRange) (*computed, error) {
	started := k.cfg.Now()

	base, err := k.approvedBase(s)
	if err != nil {
		return nil, err
	}
	// the period continues where the previous one ended, so no emission falls
	// between the last block of one cycle and the first of the next
	fromBlock := blocks.Start
	if s.Approved != nil && fromBlock > 0 {
		fromBlock--
	}
	from, err := k.src.BlockTime(ctx, fromBlock)
	if err != nil {
		return nil, errors.Wrapf(err, "time of block %d", fromBlock)
	}
	to, err := k.src.BlockTime(ctx, blocks.End)
	if err != nil {
		return nil, errors.Wrapf(err, "time of block %d", blocks.End)
	}
	infos, vaults, err := k.vaults(ctx, blocks)
	if err != nil {
		return nil, err
	}
	boosts, err := k.boosts(ctx, infos, blocks.End)
	if err != nil {
		return nil, err
	}

	var onDone func(*distribution.VaultResult)
	if k.cfg.OnVault != nil {
		var done atomic.Int32
		onDone = func(*distribution.VaultResult) {
			k.cfg.OnVault(int(done.Add(1)), len(vaults))
		}
	}
	outcome, err := distribution.ComputeVaults(ctx, vaults,
		distribution.Params{Cycle: cycle, From: from, To: to, Boosts: boosts}, k.cfg.Workers, onDone)
	if err != nil {
		return nil, err
	}

	cumulative, err := ledger.Merge(base, outcome.Ledger)
	if err != nil {
		return nil, err
	}
	cumulative = cumulative.WithCycle(cycle)
	if err := cumulative.CheckConservation(); err != nil {
		return nil, err
	}

	tree, err := merkle.Build(cumulative, cycle, blocks)
	if err != nil {
		return nil, err
	}
	file, err := snapshot.New(tree, cumulative)
	if err != nil {
		return nil, err
	}
	hash, err := file.ContentHash()
	if err != nil {
		return nil, err
	}
	var before *ledger.Ledger
	if s.Approved != nil {
		before = base
	}
	report := k.verifier.Verify(before, cumulative, outcome.Released)

	elapsed := k.cfg.Now().Sub(started)
	metricComputeMs().Observe(elapsed.Milliseconds())
	metricFlagged().Set(int64(len(outcome.Flagged)))
	logger.Info("cycle computed", "cycle", cycle, "blocks", blocks, "period", to-from, "claims", tree.Len(),
		"root", tree.Root(), "contentHash", hash, "flagged", len(outcome.Flagged), "elapsed", elapsed)
	return &computed{file: file, contentHash: hash, tree: tree, report: report, outcome: outcome}, nil
}

// rederive is the approver side verification of a pending root.
func (k *Keeper) rederive(ctx context.Context, pending publish.Root) (*publish.Verification, error) {
	s := k.protocol.Status()
	c, err := k.compute(ctx, s, pending.Cycle, pending.Blocks)
	if err != nil {
		return nil, err
	}
	return &publish.Verification{Root: c.tree.Root(), ContentHash: c.contentHash, Report: c.report}, nil
}
