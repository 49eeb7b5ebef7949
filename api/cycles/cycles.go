// Copyright (c) 2025 The Geyser developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package cycles

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/geyser-labs/geyser/api/utils"
	"github.com/geyser-labs/geyser/geyser"
	"github.com/geyser-labs/geyser/keeper"
	"github.com/geyser-labs/geyser/publish"
	"github.com/geyser-labs/geyser/snapshot"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

// Cycles exposes the publication state and lets an operator trigger the
// keeper operations. Triggers are only mounted when enabled.
type Cycles struct {
	keeper   *keeper.Keeper
	triggers bool
}

func New(k *keeper.Keeper, triggers bool) *Cycles {
	return &Cycles{
		keeper:   k,
		triggers: triggers,
	}
}

func (c *Cycles) handleStatus(w http.ResponseWriter, req *http.Request) error {
	p := c.keeper.Protocol()
	s, err := p.Refresh(req.Context())
	if err != nil {
		return err
	}
	return utils.WriteJSON(w, &Status{
		State:     s,
		NextStart: p.NextStart(),
	})
}

func (c *Cycles) handleGetFile(w http.ResponseWriter, req *http.Request) error {
	cycle, err := utils.ParseUint(req, "cycle")
	if err != nil {
		return err
	}
	s, err := c.keeper.Protocol().Refresh(req.Context())
	if err != nil {
		return err
	}
	f, err := c.keeper.Snapshots().ByCycle(cycle)
	if err != nil {
		if snapshot.IsNotFound(err) {
			return utils.NotFound(errors.Errorf("cycle %d", cycle))
		}
		return err
	}
	hash, err := f.ContentHash()
	if err != nil {
		return err
	}
	phase := phaseOf(s, cycle, hash)
	if phase == publish.Idle {
		return utils.NotFound(errors.Errorf("cycle %d has no approved or pending file", cycle))
	}
	return utils.WriteJSON(w, &CycleFile{Phase: phase, ContentHash: hash, File: f})
}

// phaseOf returns Approved or Proposed for a file the protocol has accepted or
// is voting on, Idle for anything else such as a superseded proposal.
func phaseOf(s *publish.State, cycle uint64, hash geyser.Bytes32) publish.Phase {
	switch {
	case s.Approved != nil && cycle < s.Approved.Cycle:
		return publish.Approved
	case s.Approved != nil && cycle == s.Approved.Cycle && hash == s.Approved.ContentHash:
		return publish.Approved
	case s.Pending != nil && cycle == s.Pending.Cycle && hash == s.Pending.ContentHash:
		return publish.Proposed
	}
	return publish.Idle
}

func (c *Cycles) handlePropose(w http.ResponseWriter, req *http.Request) error {
	var body ProposeRequest
	if err := utils.ParseJSON(req.Body, &body); err != nil {
		return utils.BadRequest(errors.WithMessage(err, "body"))
	}
	p, err := c.keeper.ProposeIfDue(req.Context(), c.keeper.Now(), body.EndBlock)
	if err != nil {
		return err
	}
	return utils.WriteJSON(w, convertProposal(p))
}

func (c *Cycles) handleApprove(w http.ResponseWriter, req *http.Request) error {
	d, err := c.keeper.ApproveIfPending(req.Context())
	if err != nil {
		return err
	}
	out := &Decision{Approved: d.Approved, Record: d.Record}
	if d.Reason != nil {
		out.Reason = d.Reason.Error()
		out.Kind = d.Kind().Label()
	}
	return utils.WriteJSON(w, out)
}

func (c *Cycles) Mount(root *mux.Router, pathPrefix string) {
	sub := root.PathPrefix(pathPrefix).Subrouter()

	sub.Path("/status").
		Methods(http.MethodGet).
		Name("cycles_get_status").
		HandlerFunc(utils.WrapHandlerFunc(c.handleStatus))
	sub.Path("/{cycle:[0-9]+}").
		Methods(http.MethodGet).
		Name("cycles_get_file").
		HandlerFunc(utils.WrapHandlerFunc(c.handleGetFile))
	if !c.triggers {
		return
	}
	sub.Path("/propose").
		Methods(http.MethodPost).
		Name("cycles_propose").
		HandlerFunc(utils.WrapHandlerFunc(c.handlePropose))
	sub.Path("/approve").
		Methods(http.MethodPost).
		Name("cycles_approve").
		HandlerFunc(utils.WrapHandlerFunc(c.handleApprove))
}

type Status struct {
	*publish.State
	NextStart uint64 `json:"nextStart"`
}

// CycleFile is a stored distribution file with its publication phase.
type CycleFile struct {
	Phase       publish.Phase  `json:"phase"`
	ContentHash geyser.Bytes32 `json:"contentHash"`
	File        *snapshot.File `json:"file"`
}

type ProposeRequest struct {
	EndBlock uint64 `json:"endBlock"`
}

// Proposal is a proposed cycle without its claims.
type Proposal struct {
	publish.Root
	Released        map[geyser.Address]*uint256.Int `json:"released"`
	Dust            map[geyser.Address]*uint256.Int `json:"dust"`
	Flagged         []geyser.Address                `json:"flagged"`
	Claims          int                             `json:"claims"`
	ProposeCalldata hexutil.Bytes                   `json:"proposeCalldata"`
	ApproveCalldata hexutil.Bytes                   `json:"approveCalldata"`
}

func convertProposal(p *keeper.Proposal) *Proposal {
	flagged := p.Flagged
	if flagged == nil {
		flagged = []geyser.Address{}
	}
	return &Proposal{
		Root:            p.Root,
		Released:        p.Released,
		Dust:            p.Dust,
		Flagged:         flagged,
		Claims:          len(p.File.Claims),
		ProposeCalldata: p.ProposeCalldata,
		ApproveCalldata: p.ApproveCalldata,
	}
}

type Decision struct {
	Approved bool            `json:"approved"`
	Record   *publish.Record `json:"record,omitempty"`
	Reason   string          `json:"reason,omitempty"`
	Kind     string          `json:"kind,omitempty"`
}
