// Copyright (c) 2025 The Geyser developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package publish runs a root through propose, independent verification and
// approval before it becomes the claimable root.
package publish

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/geyser-labs/geyser/geyser"
	"github.com/geyser-labs/geyser/log"
	"github.com/geyser-labs/geyser/metrics"
	"github.com/geyser-labs/geyser/reconcile"
	"github.com/pkg/errors"
)

var (
	logger = log.WithContext("pkg", "publish")

	metricProposed   = metrics.LazyLoadCounter("cycles_proposed")
	metricApproved   = metrics.LazyLoadCounter("cycles_approved")
	metricRejections = metrics.LazyLoadCounterVec("rejections", []string{"op", "kind"})
	metricLastCycle  = metrics.LazyLoadGauge("last_approved_cycle")
)

// Roles lists who may propose and who may approve.
type Roles struct {
	Proposers []geyser.Address
	Approvers []geyser.Address
}

func contains(set []geyser.Address, a geyser.Address) bool {
	for _, x := range set {
		if x == a {
			return true
		}
	}
	return false
}

// Verification is the result of independently re-deriving a pending root.
type Verification struct {
	Root        geyser.Bytes32
	ContentHash geyser.Bytes32
	Report      *reconcile.Report
}

// Verifier re-derives the distribution behind a pending root.
type Verifier interface {
	Rederive(ctx context.Context, pending Root) (*Verification, error)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, pending Root) (*Verification, error)

func (f VerifierFunc) Rederive(ctx context.Context, pending Root) (*Verification, error) {
	return f(ctx, pending)
}

// Config configures a Protocol.
type Config struct {
	Roles Roles
	// FirstBlock is the start block required of cycle 1.
	FirstBlock uint64
	// Now returns the current time, time.Now when nil.
	Now func() time.Time
}

// Protocol is the propose/approve state machine. Mutations are serialized and
// an overlapping mutation fails with KindBusy instead of waiting.
type Protocol struct {
	mu       sync.Mutex
	state    atomic.Pointer[State]
	store    Store
	verifier Verifier
	cfg      Config
}

// New loads the persisted state from store.
func New(ctx context.Context, store Store, verifier Verifier, cfg Config) (*Protocol, error) {
	if verifier == nil {
		return nil, errors.New("publish: nil verifier")
	}
	s, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	p := &Protocol{store: store, verifier: verifier, cfg: cfg}
	p.state.Store(s)
	metricLastCycle().Set(int64(s.LastCycle()))
	logger.Info("protocol state loaded", "phase", s.Phase, "lastCycle", s.LastCycle())
	return p, nil
}

// Status returns a copy of the stored state, so transitions made by another
// protocol instance sharing the store are visible. It never blocks on a running
// mutation and falls back to the last known state when the store fails.
func (p *Protocol) Status() *State {
	s, err := p.Refresh(context.Background())
	if err != nil {
		logger.Warn("failed to reload protocol state", "err", err)
		return p.state.Load().Copy()
	}
	return s
}

// Refresh reloads the state from the store, picking up changes made by another
// protocol instance sharing it.
func (p *Protocol) Refresh(ctx context.Context) (*State, error) {
	s, err := p.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	p.state.Store(s)
	return s.Copy(), nil
}

// Propose submits r as the pending root of the next cycle.
func (p *Protocol) Propose(ctx context.Context, proposer geyser.Address, r Root) (*Record, error) {
	return p.mutate(ctx, "propose", func(s *State) (*Record, error) {
		if s.Phase == Proposed {
			return nil, geyser.Errorf(geyser.KindAlreadyProposed, "cycle %d is pending", s.Pending.Cycle).WithCycle(r.Cycle)
		}
		if !contains(p.cfg.Roles.Proposers, proposer) {
			return nil, geyser.Errorf(geyser.KindUnauthorized, "%v is not a proposer", proposer).WithCycle(r.Cycle)
		}
		if err := p.checkNext(s, r); err != nil {
			return nil, err
		}
		rec := p.record(r, proposer)
		s.Phase, s.Pending = Proposed, rec
		return rec, nil
	})
}

// Supersede replaces the pending root with r.
func (p *Protocol) Supersede(ctx context.Context, proposer geyser.Address, r Root) (*Record, error) {
	return p.mutate(ctx, "supersede", func(s *State) (*Record, error) {
		if s.Phase != Proposed {
			return nil, geyser.Errorf(geyser.KindNotProposed, "nothing to supersede").WithCycle(r.Cycle)
		}
		if !contains(p.cfg.Roles.Proposers, proposer) {
			return nil, geyser.Errorf(geyser.KindUnauthorized, "%v is not a proposer", proposer).WithCycle(r.Cycle)
		}
		if err := p.checkNext(s, r); err != nil {
			return nil, err
		}
		logger.Warn("superseding pending root", "cycle", r.Cycle, "old", s.Pending.Root.Root, "new", r.Root)
		rec := p.record(r, proposer)
		s.Pending = rec
		return rec, nil
	})
}

// Approve makes the pending root the approved one. r must match the pending
// root exactly and the verifier must reproduce it with an acceptable report.
func (p *Protocol) Approve(ctx context.Context, approver geyser.Address, r Root) (*Record, error) {
	return p.mutate(ctx, "approve", func(s *State) (*Record, error) {
		if s.Phase != Proposed {
			return nil, geyser.Errorf(geyser.KindNotProposed, "no root to approve").WithCycle(r.Cycle)
		}
		pending := s.Pending
		if approver == pending.Actor {
			return nil, geyser.Errorf(geyser.KindSelfApproval, "%v proposed this root", approver).WithCycle(r.Cycle)
		}
		if !contains(p.cfg.Roles.Approvers, approver) {
			return nil, geyser.Errorf(geyser.KindUnauthorized, "%v is not an approver", approver).WithCycle(r.Cycle)
		}
		if err := matchPending(pending.Root, r); err != nil {
			return nil, err
		}

		v, err := p.verifier.Rederive(ctx, pending.Root)
		if err != nil {
			return nil, err
		}
		if v.ContentHash != pending.ContentHash {
			return nil, geyser.Errorf(geyser.KindContentHashMismatch, "re-derived content hash %v, pending %v",
				v.ContentHash, pending.ContentHash).WithCycle(r.Cycle)
		}
		if v.Root != pending.Root.Root {
			return nil, geyser.Errorf(geyser.KindRootMismatch, "re-derived root %v, pending %v", v.Root, pending.Root.Root).
				WithCycle(r.Cycle)
		}
		if v.Report == nil {
			return nil, geyser.Errorf(geyser.KindReconciliationFailed, "verifier returned no report").WithCycle(r.Cycle)
		}
		if err := v.Report.Err(); err != nil {
			return nil, err
		}

		rec := p.record(r, approver)
		s.Phase, s.Pending, s.Approved = Approved, nil, rec
		return rec, nil
	})
}

func matchPending(pending, r Root) error {
	switch {
	case r.Cycle != pending.Cycle:
		return geyser.Errorf(geyser.KindWrongCycle, "pending cycle is %d", pending.Cycle).WithCycle(r.Cycle)
	case r.Blocks != pending.Blocks:
		return geyser.Errorf(geyser.KindNonContiguousBlocks, "pending range is %v, got %v", pending.Blocks, r.Blocks).
			WithCycle(r.Cycle)
	case r.ContentHash != pending.ContentHash:
		return geyser.Errorf(geyser.KindContentHashMismatch, "pending content hash is %v", pending.ContentHash).
			WithCycle(r.Cycle)
	case r.Root != pending.Root:
		return geyser.Errorf(geyser.KindRootMismatch, "pending root is %v", pending.Root).WithCycle(r.Cycle)
	}
	return nil
}

// NextStart returns the start block required of the next cycle.
func (p *Protocol) NextStart() uint64 {
	return p.nextStart(p.Status())
}

func (p *Protocol) nextStart(s *State) uint64 {
	if s.Approved == nil {
		return p.cfg.FirstBlock
	}
	return s.Approved.Blocks.Next()
}

func (p *Protocol) checkNext(s *State, r Root) error {
	if want := s.LastCycle() + 1; r.Cycle != want {
		return geyser.Errorf(geyser.KindWrongCycle, "next cycle is %d", want).WithCycle(r.Cycle)
	}
	if want := p.nextStart(s); r.Blocks.Start != want {
		return geyser.Errorf(geyser.KindNonContiguousBlocks, "range %v must start at %d", r.Blocks, want).WithCycle(r.Cycle)
	}
	if !r.Blocks.Valid() {
		return geyser.Errorf(geyser.KindNonContiguousBlocks, "range %v ends before it starts", r.Blocks).WithCycle(r.Cycle)
	}
	if r.Root.IsZero() || r.ContentHash.IsZero() {
		return geyser.Errorf(geyser.KindInvalidInput, "zero root or content hash").WithCycle(r.Cycle)
	}
	return nil
}

func (p *Protocol) record(r Root, actor geyser.Address) *Record {
	return &Record{Root: r, Actor: actor, Timestamp: uint64(p.cfg.Now().Unix())}
}

// mutate applies f to the stored state and publishes the result only after it
// is saved back.
func (p *Protocol) mutate(ctx context.Context, op string, f func(s *State) (*Record, error)) (*Record, error) {
	if !p.mu.TryLock() {
		err := geyser.Errorf(geyser.KindBusy, "another protocol operation is in progress")
		p.reject(op, err)
		return nil, err
	}
	defer p.mu.Unlock()

	next, err := p.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	p.state.Store(next.Copy())
	rec, err := f(next)
	if err != nil {
		p.reject(op, err)
		return nil, err
	}
	if err := p.store.Save(ctx, next); err != nil {
		logger.Error("failed to save protocol state", "op", op, "err", err)
		return nil, err
	}
	p.state.Store(next)

	switch op {
	case "approve":
		metricApproved().Add(1)
		metricLastCycle().Set(int64(rec.Cycle))
	default:
		metricProposed().Add(1)
	}
	logger.Info("root "+op+"d", "cycle", rec.Cycle, "root", rec.Root.Root, "contentHash", rec.ContentHash,
		"blocks", rec.Blocks, "actor", rec.Actor)
	return rec, nil
}

func (p *Protocol) reject(op string, err error) {
	metricRejections().AddWithLabel(1, map[string]string{"op": op, "kind": geyser.KindOf(err).Label()})
	logger.Warn("rejected", "op", op, "err", err)
}
