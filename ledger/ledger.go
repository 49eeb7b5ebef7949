// Copyright (c) 2025 The Geyser developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package ledger holds cumulative reward claims per account and token.
package ledger

import (
	"math/big"
	"sort"

	"github.com/geyser-labs/geyser/geyser"
	"github.com/geyser-labs/geyser/log"
	"github.com/holiman/uint256"
)

var logger = log.WithContext("pkg", "ledger")

// Metadata is audit information of an account, never used for payout math.
type Metadata struct {
	ShareSeconds        *uint256.Int `json:"shareSeconds"`
	ShareSecondsInRange *uint256.Int `json:"shareSecondsInRange"`
}

func (m *Metadata) clone() *Metadata {
	return &Metadata{
		ShareSeconds:        new(uint256.Int).Set(m.ShareSeconds),
		ShareSecondsInRange: new(uint256.Int).Set(m.ShareSecondsInRange),
	}
}

type amounts map[geyser.Address]*uint256.Int

func (a amounts) get(k geyser.Address) *uint256.Int {
	if v, ok := a[k]; ok {
		return v
	}
	return new(uint256.Int)
}

func (a amounts) clone() amounts {
	c := make(amounts, len(a))
	for k, v := range a {
		c[k] = new(uint256.Int).Set(v)
	}
	return c
}

// Ledger maps account => token => cumulative amount and keeps per token totals
// in sync. It is not safe for concurrent use.
type Ledger struct {
	cycle    uint64
	claims   map[geyser.Address]amounts
	totals   amounts
	metadata map[geyser.Address]*Metadata
	sources  map[string]map[geyser.Address]amounts
	clamped  int
}

// New creates an empty ledger for cycle.
func New(cycle uint64) *Ledger {
	return &Ledger{
		cycle:    cycle,
		claims:   make(map[geyser.Address]amounts),
		totals:   make(amounts),
		metadata: make(map[geyser.Address]*Metadata),
		sources:  make(map[string]map[geyser.Address]amounts),
	}
}

// Cycle returns the cycle of the ledger.
func (l *Ledger) Cycle() uint64 { return l.cycle }

// Clamped returns how many negative deltas were dropped.
func (l *Ledger) Clamped() int { return l.clamped }

// IncreaseUserRewards adds delta to the claim of account for token and to the token
// total. A negative delta is treated as zero and logged. A delta that would overflow
// a claim or total is rejected and leaves the ledger unchanged.
func (l *Ledger) IncreaseUserRewards(account, token geyser.Address, delta *big.Int) error {
	d, err := l.checkDelta(account, token, delta)
	if err != nil || d == nil {
		return err
	}
	return l.add(account, token, d)
}

// IncreaseUserRewardsSource is IncreaseUserRewards with the delta also recorded
// under source, for an audit breakdown of where rewards came from.
func (l *Ledger) IncreaseUserRewardsSource(source string, account, token geyser.Address, delta *big.Int) error {
	d, err := l.checkDelta(account, token, delta)
	if err != nil || d == nil {
		return err
	}
	bySource, ok := l.sources[source]
	if !ok {
		bySource = make(map[geyser.Address]amounts)
	}
	prev := bySource[account].get(token)
	sum, overflow := new(uint256.Int).AddOverflow(prev, d)
	if overflow {
		return geyser.Errorf(geyser.KindOverflow, "source %q amount overflows", source).
			WithCycle(l.cycle).WithAccount(account).WithToken(token)
	}
	if err := l.add(account, token, d); err != nil {
		return err
	}
	l.sources[source] = bySource
	if bySource[account] == nil {
		bySource[account] = make(amounts)
	}
	bySource[account][token] = sum
	return nil
}

// checkDelta returns nil, nil for a clamped negative delta.
func (l *Ledger) checkDelta(account, token geyser.Address, delta *big.Int) (*uint256.Int, error) {
	if delta == nil {
		return nil, geyser.Errorf(geyser.KindInvalidInput, "nil reward delta").
			WithCycle(l.cycle).WithAccount(account).WithToken(token)
	}
	if delta.Sign() < 0 {
		l.clamped++
		logger.Warn("negative reward delta clamped to zero",
			"cycle", l.cycle, "account", account, "token", token, "delta", delta)
		return nil, nil
	}
	d, overflow := uint256.FromBig(delta)
	if overflow {
		return nil, geyser.Errorf(geyser.KindOverflow, "reward delta exceeds 2^256-1").
			WithCycle(l.cycle).WithAccount(account).WithToken(token)
	}
	return d, nil
}

// add is the only place claims and totals change.
func (l *Ledger) add(account, token geyser.Address, d *uint256.Int) error {
	claim, overflow := new(uint256.Int).AddOverflow(l.claims[account].get(token), d)
	if overflow {
		return geyser.Errorf(geyser.KindOverflow, "claim overflows").
			WithCycle(l.cycle).WithAccount(account).WithToken(token)
	}
	total, overflow := new(uint256.Int).AddOverflow(l.totals.get(token), d)
	if overflow {
		return geyser.Errorf(geyser.KindOverflow, "token total overflows").
			WithCycle(l.cycle).WithToken(token)
	}
	if l.claims[account] == nil {
		l.claims[account] = make(amounts)
	}
	l.claims[account][token] = claim
	l.totals[token] = total
	return nil
}

// TrackUserMetadata adds share-seconds to the audit metadata of account.
func (l *Ledger) TrackUserMetadata(account geyser.Address, shareSeconds, shareSecondsInRange *uint256.Int) error {
	m, ok := l.metadata[account]
	if !ok {
		m = &Metadata{new(uint256.Int), new(uint256.Int)}
	}
	ss, o1 := new(uint256.Int).AddOverflow(m.ShareSeconds, orZero(shareSeconds))
	inRange, o2 := new(uint256.Int).AddOverflow(m.ShareSecondsInRange, orZero(shareSecondsInRange))
	if o1 || o2 {
		return geyser.Errorf(geyser.KindOverflow, "share-seconds metadata overflows").
			WithCycle(l.cycle).WithAccount(account)
	}
	l.metadata[account] = &Metadata{ss, inRange}
	return nil
}

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}

// Claim returns the cumulative amount of token owed to account.
func (l *Ledger) Claim(account, token geyser.Address) *uint256.Int {
	return new(uint256.Int).Set(l.claims[account].get(token))
}

// HasClaim reports whether account has an entry for token, even a zero one.
func (l *Ledger) HasClaim(account, token geyser.Address) bool {
	_, ok := l.claims[account][token]
	return ok
}

// Total returns the sum of all claims for token.
func (l *Ledger) Total(token geyser.Address) *uint256.Int {
	return new(uint256.Int).Set(l.totals.get(token))
}

// Totals returns a copy of all token totals.
func (l *Ledger) Totals() map[geyser.Address]*uint256.Int {
	return l.totals.clone()
}

// Metadata returns the audit metadata of account, nil if none.
func (l *Ledger) Metadata(account geyser.Address) *Metadata {
	if m, ok := l.metadata[account]; ok {
		return m.clone()
	}
	return nil
}

// MetadataAccounts returns the accounts with metadata, sorted.
func (l *Ledger) MetadataAccounts() []geyser.Address {
	addrs := make([]geyser.Address, 0, len(l.metadata))
	for a := range l.metadata {
		addrs = append(addrs, a)
	}
	return geyser.SortAddresses(addrs)
}

// Source returns the amount recorded for account and token under source.
func (l *Ledger) Source(source string, account, token geyser.Address) *uint256.Int {
	return new(uint256.Int).Set(l.sources[source][account].get(token))
}

// Sources returns the recorded source names, sorted.
func (l *Ledger) Sources() []string {
	names := make([]string, 0, len(l.sources))
	for s := range l.sources {
		names = append(names, s)
	}
	sort.Strings(names)
	return names
}

// Accounts returns all accounts holding claims, sorted by address bytes.
func (l *Ledger) Accounts() []geyser.Address {
	addrs := make([]geyser.Address, 0, len(l.claims))
	for a := range l.claims {
		addrs = append(addrs, a)
	}
	return geyser.SortAddresses(addrs)
}

// Tokens returns the tokens account holds claims for, sorted by address bytes.
func (l *Ledger) Tokens(account geyser.Address) []geyser.Address {
	tokens := make([]geyser.Address, 0, len(l.claims[account]))
	for t := range l.claims[account] {
		tokens = append(tokens, t)
	}
	return geyser.SortAddresses(tokens)
}

// AllTokens returns every token with a total, sorted.
func (l *Ledger) AllTokens() []geyser.Address {
	tokens := make([]geyser.Address, 0, len(l.totals))
	for t := range l.totals {
		tokens = append(tokens, t)
	}
	return geyser.SortAddresses(tokens)
}

// Len returns the number of accounts holding claims.
func (l *Ledger) Len() int { return len(l.claims) }

// Clone returns a deep copy.
func (l *Ledger) Clone() *Ledger {
	c := New(l.cycle)
	c.clamped = l.clamped
	for a, m := range l.claims {
		c.claims[a] = m.clone()
	}
	c.totals = l.totals.clone()
	for a, m := range l.metadata {
		c.metadata[a] = m.clone()
	}
	for s, byAccount := range l.sources {
		c.sources[s] = make(map[geyser.Address]amounts, len(byAccount))
		for a, m := range byAccount {
			c.sources[s][a] = m.clone()
		}
	}
	return c
}

// WithCycle returns a copy of the ledger relabelled to cycle.
func (l *Ledger) WithCycle(cycle uint64) *Ledger {
	c := l.Clone()
	c.cycle = cycle
	return c
}
