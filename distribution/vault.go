// Copyright (c) 2025 The Geyser developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package distribution

import (
	"github.com/geyser-labs/geyser/boost"
	"github.com/geyser-labs/geyser/emission"
	"github.com/geyser-labs/geyser/geyser"
	"github.com/geyser-labs/geyser/ledger"
	"github.com/geyser-labs/geyser/log"
	"github.com/geyser-labs/geyser/stake"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

var logger = log.WithContext("pkg", "distribution")

// Vault is the already fetched input of one staking vault.
type Vault struct {
	Address   geyser.Address
	Name      string
	Actions   []stake.Action
	Schedules emission.Schedules
}

// Source returns the name rewards of the vault are recorded under.
func (v *Vault) Source() string {
	if v.Name != "" {
		return v.Name
	}
	return v.Address.String()
}

// Params are shared by all vaults of a cycle.
type Params struct {
	Cycle uint64
	// From and To bound the reward period, in seconds.
	From, To uint64
	// Boosts scale effective weights, nil to distribute by raw share-seconds.
	Boosts map[geyser.Address]*boost.Boost
}

// VaultResult is the distribution of one vault.
type VaultResult struct {
	Vault       geyser.Address
	Source      string
	Ledger      *ledger.Ledger
	Released    map[geyser.Address]*uint256.Int // unlocked in the period
	Distributed map[geyser.Address]*uint256.Int
	Dust        map[geyser.Address]*uint256.Int // released but not distributed, rounding or no stakers
	Flagged     []geyser.Address
}

// DistributeVault splits the tokens released by v in the period among its stakers
// pro rata to (boosted) in-range share-seconds, each share floored.
func DistributeVault(v *Vault, p Params) (*VaultResult, error) {
	integrated, err := stake.Integrate(v.Actions, p.From, p.To)
	if err != nil {
		var nbe *stake.NegativeBalanceError
		if !errors.As(err, &nbe) {
			return nil, errors.Wrapf(err, "vault %v", v.Address)
		}
		logger.Warn("vault has accounts with negative balance, flagged for review",
			"vault", v.Source(), "accounts", len(nbe.Accounts))
	}

	released, err := v.Schedules.ReleasedInRange(p.From, p.To)
	if err != nil {
		return nil, err
	}

	weights := integrated.Weights()
	if p.Boosts != nil {
		if weights, err = boost.Apply(weights, p.Boosts); err != nil {
			return nil, err
		}
	}
	totalWeight := new(uint256.Int)
	for _, w := range weights {
		if _, overflow := totalWeight.AddOverflow(totalWeight, w); overflow {
			return nil, geyser.Errorf(geyser.KindOverflow, "total weight overflows in vault %v", v.Address)
		}
	}

	res := &VaultResult{
		Vault:       v.Address,
		Source:      v.Source(),
		Ledger:      ledger.New(p.Cycle),
		Released:    released,
		Distributed: make(map[geyser.Address]*uint256.Int, len(released)),
		Dust:        make(map[geyser.Address]*uint256.Int, len(released)),
		Flagged:     integrated.Flagged,
	}

	tokens := v.Schedules.Tokens()
	for _, account := range integrated.SortedAccounts() {
		st := integrated.Accounts[account]
		if err := res.Ledger.TrackUserMetadata(account, st.ShareSeconds, st.ShareSecondsInRange); err != nil {
			return nil, err
		}
		w, ok := weights[account]
		if !ok || w.IsZero() || totalWeight.IsZero() {
			continue
		}
		for _, token := range tokens {
			share, overflow := shareOf(released[token], w, totalWeight)
			if overflow {
				return nil, geyser.Errorf(geyser.KindOverflow, "share of %v released in vault %v overflows",
					released[token], v.Address).WithCycle(p.Cycle).WithAccount(account).WithToken(token)
			}
			if err := res.Ledger.IncreaseUserRewardsSource(res.Source, account, token, share.ToBig()); err != nil {
				return nil, err
			}
		}
	}

	for _, token := range tokens {
		distributed := res.Ledger.Total(token)
		res.Distributed[token] = distributed
		res.Dust[token] = new(uint256.Int).Sub(released[token], distributed)
		if totalWeight.IsZero() && !released[token].IsZero() {
			logger.Warn("no stake in range, release left undistributed",
				"vault", v.Source(), "token", token, "released", released[token])
		}
	}
	logger.Debug("vault distributed", "vault", v.Source(), "accounts", len(integrated.Accounts),
		"weight", totalWeight, "tokens", len(tokens))
	return res, nil
}

// shareOf returns released*weight/total rounded down, and whether it overflows.
func shareOf(released, weight, total *uint256.Int) (*uint256.Int, bool) {
	return new(uint256.Int).MulDivOverflow(released, weight, total)
}
