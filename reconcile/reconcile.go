// Copyright (c) 2025 The Geyser developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package reconcile compares two cumulative ledgers against the emission that
// was expected between them.
package reconcile

import (
	"fmt"
	"strings"

	"github.com/geyser-labs/geyser/geyser"
	"github.com/geyser-labs/geyser/ledger"
	"github.com/geyser-labs/geyser/log"
	"github.com/holiman/uint256"
)

var logger = log.WithContext("pkg", "reconcile")

const bpsDenominator = 10_000

// Rule names the check a violation failed.
type Rule string

const (
	Monotonicity      Rule = "monotonicity"
	EmissionCeiling   Rule = "emission-ceiling"
	AggregateDecrease Rule = "aggregate-decrease"
)

// Violation is one failed check.
type Violation struct {
	Rule    Rule
	Account *geyser.Address
	Token   geyser.Address
	Before  *uint256.Int
	After   *uint256.Int
	Limit   *uint256.Int // ceiling for EmissionCeiling
}

func (v Violation) String() string {
	switch v.Rule {
	case Monotonicity:
		return fmt.Sprintf("%s: %v %v decreased %v -> %v", v.Rule, *v.Account, v.Token, v.Before, v.After)
	case EmissionCeiling:
		return fmt.Sprintf("%s: %v total %v exceeds %v", v.Rule, v.Token, v.After, v.Limit)
	default:
		return fmt.Sprintf("%s: %v total %v -> %v", v.Rule, v.Token, v.Before, v.After)
	}
}

// Delta is the change of one claim between the ledgers.
type Delta struct {
	Account geyser.Address
	Token   geyser.Address
	Before  *uint256.Int
	After   *uint256.Int
	Gained  *uint256.Int // zero when the claim decreased
}

// TokenTotal is the change of one token total.
type TokenTotal struct {
	Token    geyser.Address
	Before   *uint256.Int
	After    *uint256.Int
	Gained   *uint256.Int
	Expected *uint256.Int
	Ceiling  *uint256.Int
}

// Report is the outcome of a reconciliation.
type Report struct {
	Cycle      uint64
	Deltas     []Delta // sorted by account then token
	Totals     []TokenTotal
	Violations []Violation
	Acceptable bool
}

// Err returns a ReconciliationFailed error listing the violations, nil when acceptable.
func (r *Report) Err() error {
	if r.Acceptable {
		return nil
	}
	msgs := make([]string, len(r.Violations))
	for i, v := range r.Violations {
		msgs[i] = v.String()
	}
	return geyser.Errorf(geyser.KindReconciliationFailed, "%d violation(s): %s", len(r.Violations), strings.Join(msgs, "; ")).
		WithCycle(r.Cycle)
}

// Total returns the totals entry of token.
func (r *Report) Total(token geyser.Address) (TokenTotal, bool) {
	for _, t := range r.Totals {
		if t.Token == token {
			return t, true
		}
	}
	return TokenTotal{}, false
}

// Verifier checks a new cumulative ledger against the previous one.
type Verifier struct {
	// ToleranceBps lets the gain of a token exceed its expected emission by
	// this many basis points.
	ToleranceBps uint64
}

// Verify compares before and after. before may be nil for the first cycle.
// expected is the emission per token released between the two ledgers.
func (v *Verifier) Verify(before, after *ledger.Ledger, expected map[geyser.Address]*uint256.Int) *Report {
	if before == nil {
		before = ledger.New(0)
	}
	r := &Report{Cycle: after.Cycle()}

	accounts := make(map[geyser.Address]struct{})
	for _, a := range before.Accounts() {
		accounts[a] = struct{}{}
	}
	for _, a := range after.Accounts() {
		accounts[a] = struct{}{}
	}
	sorted := make([]geyser.Address, 0, len(accounts))
	for a := range accounts {
		sorted = append(sorted, a)
	}
	for _, account := range geyser.SortAddresses(sorted) {
		tokens := make(map[geyser.Address]struct{})
		for _, t := range before.Tokens(account) {
			tokens[t] = struct{}{}
		}
		for _, t := range after.Tokens(account) {
			tokens[t] = struct{}{}
		}
		list := make([]geyser.Address, 0, len(tokens))
		for t := range tokens {
			list = append(list, t)
		}
		for _, token := range geyser.SortAddresses(list) {
			b, a := before.Claim(account, token), after.Claim(account, token)
			d := Delta{Account: account, Token: token, Before: b, After: a, Gained: new(uint256.Int)}
			if a.Lt(b) {
				acc := account
				r.Violations = append(r.Violations, Violation{Rule: Monotonicity, Account: &acc, Token: token, Before: b, After: a})
			} else {
				d.Gained.Sub(a, b)
			}
			r.Deltas = append(r.Deltas, d)
		}
	}

	tokens := make(map[geyser.Address]struct{})
	for _, t := range before.AllTokens() {
		tokens[t] = struct{}{}
	}
	for _, t := range after.AllTokens() {
		tokens[t] = struct{}{}
	}
	for t := range expected {
		tokens[t] = struct{}{}
	}
	list := make([]geyser.Address, 0, len(tokens))
	for t := range tokens {
		list = append(list, t)
	}
	for _, token := range geyser.SortAddresses(list) {
		r.Totals = append(r.Totals, v.checkToken(r, token, before.Total(token), after.Total(token), expected[token]))
	}

	r.Acceptable = len(r.Violations) == 0
	if r.Acceptable {
		logger.Debug("reconciliation passed", "cycle", r.Cycle, "claims", len(r.Deltas), "tokens", len(r.Totals))
	} else {
		logger.Warn("reconciliation failed", "cycle", r.Cycle, "violations", len(r.Violations))
	}
	return r
}

func (v *Verifier) checkToken(r *Report, token geyser.Address, before, after, expected *uint256.Int) TokenTotal {
	if expected == nil {
		expected = new(uint256.Int)
	}
	t := TokenTotal{Token: token, Before: before, After: after, Gained: new(uint256.Int), Expected: expected}

	// ceiling = before + expected * (1 + tolerance), saturating at 2^256-1
	allowed, overflow := new(uint256.Int).MulDivOverflow(expected,
		uint256.NewInt(bpsDenominator+v.ToleranceBps), uint256.NewInt(bpsDenominator))
	ceiling := new(uint256.Int)
	if !overflow {
		ceiling, overflow = ceiling.AddOverflow(before, allowed)
	}
	if overflow {
		ceiling.SetAllOne()
	}
	t.Ceiling = ceiling

	if after.Lt(before) {
		r.Violations = append(r.Violations, Violation{Rule: AggregateDecrease, Token: token, Before: before, After: after})
		return t
	}
	t.Gained.Sub(after, before)
	if after.Gt(ceiling) {
		r.Violations = append(r.Violations, Violation{Rule: EmissionCeiling, Token: token, Before: before, After: after, Limit: ceiling})
	}
	return t
}
