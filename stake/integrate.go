// Copyright (c) 2025 The Geyser developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package stake

import (
	"fmt"
	"sort"
	"strings"

	"github.com/geyser-labs/geyser/geyser"
	"github.com/geyser-labs/geyser/log"
	"github.com/holiman/uint256"
)

var logger = log.WithContext("pkg", "stake")

// AccountState is the time-weighted position of one account.
type AccountState struct {
	Deposited           *uint256.Int
	LastUpdate          uint64
	ShareSeconds        *uint256.Int // lifetime, never decreases
	ShareSecondsInRange *uint256.Int // accrued inside [from, to]
}

func newAccountState(ts uint64) *AccountState {
	return &AccountState{
		Deposited:           new(uint256.Int),
		LastUpdate:          ts,
		ShareSeconds:        new(uint256.Int),
		ShareSecondsInRange: new(uint256.Int),
	}
}

// NegativeBalanceError lists the accounts whose unstakes exceeded the tracked
// balance. Their balance was clamped to zero, the result is still usable.
type NegativeBalanceError struct {
	Accounts []geyser.Address
}

func (e *NegativeBalanceError) Error() string {
	strs := make([]string, len(e.Accounts))
	for i, a := range e.Accounts {
		strs[i] = a.String()
	}
	return fmt.Sprintf("negative balance: unstake exceeds tracked balance for %d account(s): %s",
		len(e.Accounts), strings.Join(strs, ","))
}

// Unwrap exposes the kind, so geyser.KindOf reports KindNegativeBalance.
func (e *NegativeBalanceError) Unwrap() error {
	err := &geyser.Error{Kind: geyser.KindNegativeBalance, Msg: "unstake exceeds tracked balance"}
	if len(e.Accounts) == 1 {
		err.WithAccount(e.Accounts[0])
	}
	return err
}

// Result of an integration.
type Result struct {
	From, To     uint64
	Accounts     map[geyser.Address]*AccountState
	TotalInRange *uint256.Int
	Flagged      []geyser.Address // sorted, clamped on unstake
	Skipped      int              // actions after To
}

// ShareSeconds returns lifetime share-seconds of addr, zero if unknown.
func (r *Result) ShareSeconds(addr geyser.Address) *uint256.Int {
	if st, ok := r.Accounts[addr]; ok {
		return new(uint256.Int).Set(st.ShareSeconds)
	}
	return new(uint256.Int)
}

// InRange returns share-seconds of addr accrued inside [From, To].
func (r *Result) InRange(addr geyser.Address) *uint256.Int {
	if st, ok := r.Accounts[addr]; ok {
		return new(uint256.Int).Set(st.ShareSecondsInRange)
	}
	return new(uint256.Int)
}

// SortedAccounts returns all accounts ordered by address bytes.
func (r *Result) SortedAccounts() []geyser.Address {
	addrs := make([]geyser.Address, 0, len(r.Accounts))
	for a := range r.Accounts {
		addrs = append(addrs, a)
	}
	return geyser.SortAddresses(addrs)
}

// Weights returns the in-range share-seconds of every account that accrued any.
func (r *Result) Weights() map[geyser.Address]*uint256.Int {
	w := make(map[geyser.Address]*uint256.Int, len(r.Accounts))
	for a, st := range r.Accounts {
		if !st.ShareSecondsInRange.IsZero() {
			w[a] = new(uint256.Int).Set(st.ShareSecondsInRange)
		}
	}
	return w
}

// Integrate converts stake actions into share-seconds over [from, to].
//
// Actions before from build the opening balances: they accrue lifetime
// share-seconds but nothing in range. Actions after to are skipped. At to every
// open position is settled, so holders who did not act in range still accrue.
// When an unstake exceeds the tracked balance the balance is clamped to zero and
// both the result and a *NegativeBalanceError are returned.
func Integrate(actions []Action, from, to uint64) (*Result, error) {
	if from > to {
		return nil, geyser.Errorf(geyser.KindInvalidInput, "integrate: from %d > to %d", from, to)
	}

	sorted := make([]Action, len(actions))
	copy(sorted, actions)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Timestamp != sorted[j].Timestamp {
			return sorted[i].Timestamp < sorted[j].Timestamp
		}
		return sorted[i].Kind < sorted[j].Kind
	})

	res := &Result{
		From:         from,
		To:           to,
		Accounts:     make(map[geyser.Address]*AccountState),
		TotalInRange: new(uint256.Int),
	}
	flagged := make(map[geyser.Address]struct{})

	for _, a := range sorted {
		if a.Amount == nil {
			return nil, geyser.Errorf(geyser.KindInvalidInput, "%v action without amount at %d", a.Kind, a.Timestamp).
				WithAccount(a.Account)
		}
		if a.Timestamp > to {
			res.Skipped++
			continue
		}
		st, ok := res.Accounts[a.Account]
		if !ok {
			st = newAccountState(a.Timestamp)
			res.Accounts[a.Account] = st
		}
		if err := settle(st, a.Timestamp, from); err != nil {
			return nil, err.WithAccount(a.Account)
		}

		switch a.Kind {
		case Stake:
			if _, overflow := st.Deposited.AddOverflow(st.Deposited, a.Amount); overflow {
				return nil, geyser.Errorf(geyser.KindOverflow, "deposit overflows at %d", a.Timestamp).WithAccount(a.Account)
			}
		case Unstake:
			if st.Deposited.Lt(a.Amount) {
				logger.Warn("unstake exceeds tracked balance, clamped",
					"account", a.Account, "tracked", st.Deposited, "unstake", a.Amount, "ts", a.Timestamp)
				st.Deposited.Clear()
				flagged[a.Account] = struct{}{}
			} else {
				st.Deposited.Sub(st.Deposited, a.Amount)
			}
		default:
			return nil, geyser.Errorf(geyser.KindInvalidInput, "unknown action %v", a.Kind).WithAccount(a.Account)
		}
	}

	for _, addr := range res.SortedAccounts() {
		st := res.Accounts[addr]
		if err := settle(st, to, from); err != nil {
			return nil, err.WithAccount(addr)
		}
		if _, overflow := res.TotalInRange.AddOverflow(res.TotalInRange, st.ShareSecondsInRange); overflow {
			return nil, geyser.Errorf(geyser.KindOverflow, "total share-seconds overflow")
		}
	}

	if res.Skipped > 0 {
		logger.Debug("skipped actions after range end", "count", res.Skipped, "to", to)
	}
	if len(flagged) == 0 {
		return res, nil
	}
	for a := range flagged {
		res.Flagged = append(res.Flagged, a)
	}
	geyser.SortAddresses(res.Flagged)
	return res, &NegativeBalanceError{Accounts: append([]geyser.Address(nil), res.Flagged...)}
}

// settle accrues share-seconds at the current balance from st.LastUpdate up to ts.
func settle(st *AccountState, ts, from uint64) *geyser.Error {
	if ts <= st.LastUpdate {
		return nil
	}
	if !st.Deposited.IsZero() {
		if err := accrue(st.ShareSeconds, st.Deposited, ts-st.LastUpdate); err != nil {
			return err
		}
		if start := max(from, st.LastUpdate); ts > start {
			if err := accrue(st.ShareSecondsInRange, st.Deposited, ts-start); err != nil {
				return err
			}
		}
	}
	st.LastUpdate = ts
	return nil
}

func accrue(acc, balance *uint256.Int, elapsed uint64) *geyser.Error {
	delta, overflow := new(uint256.Int).MulOverflow(balance, uint256.NewInt(elapsed))
	if !overflow {
		_, overflow = acc.AddOverflow(acc, delta)
	}
	if overflow {
		return geyser.Errorf(geyser.KindOverflow, "share-seconds overflow")
	}
	return nil
}
