// Copyright (c) 2025 The Geyser developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package keeper

import (
	"context"
	"time"

	"github.com/geyser-labs/geyser/abi"
	"github.com/geyser-labs/geyser/geyser"
	"github.com/geyser-labs/geyser/publish"
	"github.com/geyser-labs/geyser/reconcile"
	"github.com/geyser-labs/geyser/snapshot"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

// Proposal is a computed cycle ready to be proposed or approved.
type Proposal struct {
	publish.Root
	File *snapshot.File
	// Report is nil for a proposal read back from the store.
	Report   *reconcile.Report
	Released map[geyser.Address]*uint256.Int
	Dust     map[geyser.Address]*uint256.Int
	Flagged  []geyser.Address

	ProposeCalldata []byte
	ApproveCalldata []byte
}

func newProposal(f *snapshot.File, contentHash geyser.Bytes32) (*Proposal, error) {
	p := &Proposal{
		Root: publish.Root{
			Root:        f.MerkleRoot,
			ContentHash: contentHash,
			Cycle:       f.Cycle,
			Blocks:      f.Blocks(),
		},
		File: f,
	}
	call := &abi.RootCall{
		Root:        f.MerkleRoot,
		ContentHash: contentHash,
		Cycle:       f.Cycle,
		StartBlock:  f.StartBlock,
		EndBlock:    f.EndBlock,
	}
	var err error
	if p.ProposeCalldata, err = abi.EncodeRootCall("proposeRoot", call); err != nil {
		return nil, err
	}
	if p.ApproveCalldata, err = abi.EncodeRootCall("approveRoot", call); err != nil {
		return nil, err
	}
	return p, nil
}

// Decision is the outcome of VerifyAndApprove.
type Decision struct {
	Approved bool
	Record   *publish.Record
	// Reason is why the proposal was rejected, nil when approved.
	Reason error
}

// Kind returns the kind of the rejection reason.
func (d *Decision) Kind() geyser.Kind {
	return geyser.KindOf(d.Reason)
}

// ComputeNextCycle computes the cumulative distribution of the cycle following
// the last approved one, over blocks. It has no side effects.
func (k *Keeper) ComputeNextCycle(ctx context.Context, blocks geyser.BlockRange) (*Proposal, error) {
	s, err := k.protocol.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	cycle := s.LastCycle() + 1
	if want := k.protocol.NextStart(); blocks.Start != want {
		return nil, geyser.Errorf(geyser.KindNonContiguousBlocks, "range %v must start at %d", blocks, want).WithCycle(cycle)
	}
	if !blocks.Valid() {
		return nil, geyser.Errorf(geyser.KindNonContiguousBlocks, "range %v ends before it starts", blocks).WithCycle(cycle)
	}

	c, err := k.compute(ctx, s, cycle, blocks)
	if err != nil {
		return nil, err
	}
	p, err := newProposal(c.file, c.contentHash)
	if err != nil {
		return nil, err
	}
	p.Report = c.report
	p.Released = c.outcome.Released
	p.Dust = c.outcome.Dust
	p.Flagged = c.outcome.Flagged
	return p, nil
}

// Propose stores the distribution file of p and submits its root. A proposal
// whose own reconciliation failed is never submitted.
func (k *Keeper) Propose(ctx context.Context, p *Proposal) (*publish.Record, error) {
	if p.Report != nil {
		if err := p.Report.Err(); err != nil {
			return nil, err
		}
	}
	if _, err := k.snapshots.Put(p.File); err != nil {
		return nil, err
	}
	return k.protocol.Propose(ctx, k.cfg.Identity, p.Root)
}

// VerifyAndApprove checks p against its own file, then approves it, which
// re-derives the whole cycle independently. Protocol and reconciliation
// failures are returned as a rejected decision, I/O failures as an error.
func (k *Keeper) VerifyAndApprove(ctx context.Context, p *Proposal) (*Decision, error) {
	if reason := checkProposal(p); reason != nil {
		logger.Warn("proposal rejected", "cycle", p.Cycle, "reason", reason)
		return &Decision{Reason: reason}, nil
	}

	rec, err := k.protocol.Approve(ctx, k.cfg.Identity, p.Root)
	if err != nil {
		if geyser.IsPermanent(err) {
			return &Decision{Reason: err}, nil
		}
		return nil, err
	}
	// the approver publishes the verified file too
	if _, err := k.snapshots.Put(p.File); err != nil {
		return nil, err
	}
	return &Decision{Approved: true, Record: rec}, nil
}

func checkProposal(p *Proposal) error {
	if p.File == nil {
		return geyser.Errorf(geyser.KindInvalidInput, "proposal has no distribution file").WithCycle(p.Cycle)
	}
	hash, err := p.File.ContentHash()
	if err != nil {
		return err
	}
	if hash != p.ContentHash {
		return geyser.Errorf(geyser.KindContentHashMismatch, "file hashes to %v, proposal says %v", hash, p.ContentHash).
			WithCycle(p.Cycle)
	}
	tree, err := p.File.Verify()
	if err != nil {
		return err
	}
	if tree.Root() != p.Root.Root {
		return geyser.Errorf(geyser.KindRootMismatch, "file root %v, proposal says %v", tree.Root(), p.Root.Root).
			WithCycle(p.Cycle)
	}
	if p.File.Cycle != p.Cycle || p.File.Blocks() != p.Blocks {
		return geyser.Errorf(geyser.KindWrongCycle, "file is cycle %d %v", p.File.Cycle, p.File.Blocks()).WithCycle(p.Cycle)
	}
	return nil
}

// ProposeIfDue computes and proposes the cycle ending at endBlock unless a
// proposal is pending, the last approval is younger than MinInterval, or there
// are no new blocks. Those cases return a KindNothingToDo error.
func (k *Keeper) ProposeIfDue(ctx context.Context, now time.Time, endBlock uint64) (*Proposal, error) {
	s, err := k.protocol.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	if s.Phase == publish.Proposed {
		return nil, geyser.Errorf(geyser.KindNothingToDo, "cycle %d is pending approval", s.Pending.Cycle)
	}
	if s.Approved != nil && k.cfg.MinInterval > 0 {
		last := time.Unix(int64(s.Approved.Timestamp), 0)
		if next := last.Add(k.cfg.MinInterval); now.Before(next) {
			return nil, geyser.Errorf(geyser.KindNothingToDo, "next cycle due at %v", next.UTC())
		}
	}
	start := k.protocol.NextStart()
	if endBlock < start {
		return nil, geyser.Errorf(geyser.KindNothingToDo, "no blocks after %d", start)
	}

	p, err := k.ComputeNextCycle(ctx, geyser.NewBlockRange(start, endBlock))
	if err != nil {
		return nil, err
	}
	if _, err := k.Propose(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// ApproveIfPending verifies and approves the pending root, KindNothingToDo
// when there is none.
func (k *Keeper) ApproveIfPending(ctx context.Context) (*Decision, error) {
	s, err := k.protocol.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	if s.Phase != publish.Proposed {
		return nil, geyser.Errorf(geyser.KindNothingToDo, "no pending root")
	}
	f, err := k.snapshots.Get(s.Pending.ContentHash)
	if err != nil {
		if snapshot.IsNotFound(err) {
			return &Decision{Reason: geyser.Errorf(geyser.KindContentHashMismatch, "no file stored for pending content hash %v",
				s.Pending.ContentHash).WithCycle(s.Pending.Cycle)}, nil
		}
		return nil, errors.Wrap(err, "load pending file")
	}
	p, err := newProposal(f, s.Pending.ContentHash)
	if err != nil {
		return nil, err
	}
	return k.VerifyAndApprove(ctx, p)
}
