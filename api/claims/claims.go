// Copyright (c) 2025 The Geyser developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package claims

import (
	"net/http"
	"strconv"

	"github.com/geyser-labs/geyser/api/utils"
	"github.com/geyser-labs/geyser/geyser"
	"github.com/geyser-labs/geyser/merkle"
	"github.com/geyser-labs/geyser/publish"
	"github.com/geyser-labs/geyser/snapshot"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
)

// Claims serves claims and proofs of approved cycles.
type Claims struct {
	protocol  *publish.Protocol
	snapshots *snapshot.Store
}

func New(protocol *publish.Protocol, snapshots *snapshot.Store) *Claims {
	return &Claims{
		protocol:  protocol,
		snapshots: snapshots,
	}
}

// approvedFile returns the file of the last approved cycle, or of cycle when set.
func (c *Claims) approvedFile(cycle uint64) (*snapshot.File, error) {
	approved := c.protocol.Status().Approved
	if approved == nil {
		return nil, utils.NotFound(errors.New("no approved cycle"))
	}
	if cycle == 0 || cycle == approved.Cycle {
		return c.snapshots.Get(approved.ContentHash)
	}
	if cycle > approved.Cycle {
		return nil, utils.NotFound(errors.Errorf("cycle %d is not approved", cycle))
	}
	f, err := c.snapshots.ByCycle(cycle)
	if snapshot.IsNotFound(err) {
		return nil, utils.NotFound(errors.Errorf("cycle %d", cycle))
	}
	return f, err
}

func (c *Claims) handleGetClaim(w http.ResponseWriter, req *http.Request) error {
	account, err := utils.ParseAddress(req, "account")
	if err != nil {
		return err
	}
	var cycle uint64
	if q := req.URL.Query().Get("cycle"); q != "" {
		n, err := parseCycle(q)
		if err != nil {
			return err
		}
		cycle = n
	}
	f, err := c.approvedFile(cycle)
	if err != nil {
		return err
	}
	claim, ok := f.Claims[account]
	if !ok {
		return utils.NotFound(errors.Errorf("no claim for %v in cycle %d", account, f.Cycle))
	}
	return utils.WriteJSON(w, &ClaimResponse{
		MerkleRoot: f.MerkleRoot,
		Cycle:      f.Cycle,
		StartBlock: f.StartBlock,
		EndBlock:   f.EndBlock,
		Claim:      claim,
	})
}

func parseCycle(s string) (uint64, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil || n == 0 {
		return 0, utils.BadRequest(errors.Errorf("cycle: invalid value %q", s))
	}
	return n, nil
}

func (c *Claims) handleVerify(w http.ResponseWriter, req *http.Request) error {
	var body VerifyRequest
	if err := utils.ParseJSON(req.Body, &body); err != nil {
		return utils.BadRequest(errors.WithMessage(err, "body"))
	}
	if body.Claim == nil {
		return utils.BadRequest(errors.New("body: missing claim"))
	}
	root := body.Root
	if root == nil {
		approved := c.protocol.Status().Approved
		if approved == nil {
			return utils.NotFound(errors.New("no approved cycle"))
		}
		root = &approved.Root.Root
	}
	entry, err := body.Claim.Entry()
	if err != nil {
		return err
	}
	leaf, err := entry.Leaf()
	if err != nil {
		return err
	}
	return utils.WriteJSON(w, &VerifyResponse{
		Valid: merkle.VerifyProof(*root, leaf, body.Claim.Proof),
		Leaf:  leaf,
		Root:  *root,
	})
}

func (c *Claims) Mount(root *mux.Router, pathPrefix string) {
	sub := root.PathPrefix(pathPrefix).Subrouter()

	sub.Path("/verify").
		Methods(http.MethodPost).
		Name("claims_verify").
		HandlerFunc(utils.WrapHandlerFunc(c.handleVerify))
	sub.Path("/{account}").
		Methods(http.MethodGet).
		Name("claims_get_claim").
		HandlerFunc(utils.WrapHandlerFunc(c.handleGetClaim))
}

// ClaimResponse is the claim of an account with the root it is proven against.
type ClaimResponse struct {
	MerkleRoot geyser.Bytes32  `json:"merkleRoot"`
	Cycle      uint64          `json:"cycle"`
	StartBlock uint64          `json:"startBlock"`
	EndBlock   uint64          `json:"endBlock"`
	Claim      *snapshot.Claim `json:"claim"`
}

// VerifyRequest checks a claim against Root, the last approved root when nil.
type VerifyRequest struct {
	Root  *geyser.Bytes32 `json:"root,omitempty"`
	Claim *snapshot.Claim `json:"claim"`
}

type VerifyResponse struct {
	Valid bool           `json:"valid"`
	Leaf  geyser.Bytes32 `json:"leaf"`
	Root  geyser.Bytes32 `json:"root"`
}
