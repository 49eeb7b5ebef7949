// Copyright (c) 2025 The Geyser developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package distribution turns per-vault stake activity and unlock schedules into a
// rewards ledger for one cycle.
package distribution

import (
	"context"
	"runtime"

	"github.com/geyser-labs/geyser/emission"
	"github.com/geyser-labs/geyser/geyser"
	"github.com/geyser-labs/geyser/ledger"
	"github.com/holiman/uint256"
	"golang.org/x/sync/errgroup"
)

// Outcome of a whole cycle across vaults.
type Outcome struct {
	Ledger   *ledger.Ledger                  // this cycle only, not cumulative
	Vaults   []*VaultResult                  // in input order
	Released map[geyser.Address]*uint256.Int // expected emission of the cycle
	Dust     map[geyser.Address]*uint256.Int
	Flagged  []geyser.Address
}

// ComputeVaults distributes all vaults with at most workers concurrent vaults
// (NumCPU when workers < 1) and merges the vault ledgers. The outcome does not
// depend on completion order. onDone, if set, is called once per finished vault
// from the worker goroutine.
func ComputeVaults(ctx context.Context, vaults []*Vault, p Params, workers int, onDone func(*VaultResult)) (*Outcome, error) {
	if p.From > p.To {
		return nil, geyser.Errorf(geyser.KindInvalidInput, "period from %d > to %d", p.From, p.To).WithCycle(p.Cycle)
	}
	if workers < 1 {
		workers = runtime.NumCPU()
	}

	results := make([]*VaultResult, len(vaults))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, v := range vaults {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := DistributeVault(v, p)
			if err != nil {
				return err
			}
			results[i] = res
			if onDone != nil {
				onDone(res)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &Outcome{Vaults: results}
	ledgers := make([]*ledger.Ledger, 0, len(results)+1)
	ledgers = append(ledgers, ledger.New(p.Cycle))
	flagged := make(map[geyser.Address]struct{})
	var err error
	for _, r := range results {
		ledgers = append(ledgers, r.Ledger)
		if out.Released, err = emission.Add(out.Released, r.Released); err != nil {
			return nil, err
		}
		if out.Dust, err = emission.Add(out.Dust, r.Dust); err != nil {
			return nil, err
		}
		for _, a := range r.Flagged {
			flagged[a] = struct{}{}
		}
	}
	if out.Ledger, err = ledger.Merge(ledgers...); err != nil {
		return nil, err
	}
	if out.Released == nil {
		out.Released = make(map[geyser.Address]*uint256.Int)
	}
	if out.Dust == nil {
		out.Dust = make(map[geyser.Address]*uint256.Int)
	}
	for a := range flagged {
		out.Flagged = append(out.Flagged, a)
	}
	geyser.SortAddresses(out.Flagged)

	logger.Info("cycle distributed", "cycle", p.Cycle, "vaults", len(vaults),
		"accounts", out.Ledger.Len(), "flagged", len(out.Flagged))
	return out, nil
}
