// Copyright (c) 2025 The Geyser developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package ledger

import (
	"github.com/geyser-labs/geyser/geyser"
	"github.com/holiman/uint256"
)

// Merge sums l with others into a new ledger. Claims, totals, metadata and
// sources add up, the cycle is the highest of all inputs. Inputs are not
// modified. The operation is associative and commutative.
func (l *Ledger) Merge(others ...*Ledger) (*Ledger, error) {
	return Merge(append([]*Ledger{l}, others...)...)
}

// Merge sums all ledgers into a new one, see Ledger.Merge. Nil ledgers are skipped.
func Merge(ledgers ...*Ledger) (*Ledger, error) {
	var cycle uint64
	for _, l := range ledgers {
		if l != nil && l.cycle > cycle {
			cycle = l.cycle
		}
	}
	out := New(cycle)
	for _, l := range ledgers {
		if l == nil {
			continue
		}
		out.clamped += l.clamped
		for _, account := range l.Accounts() {
			for token, v := range l.claims[account] {
				if err := out.add(account, token, v); err != nil {
					return nil, err
				}
			}
		}
		for account, m := range l.metadata {
			if err := out.TrackUserMetadata(account, m.ShareSeconds, m.ShareSecondsInRange); err != nil {
				return nil, err
			}
		}
		for source, byAccount := range l.sources {
			dst, ok := out.sources[source]
			if !ok {
				dst = make(map[geyser.Address]amounts)
				out.sources[source] = dst
			}
			for account, m := range byAccount {
				if dst[account] == nil {
					dst[account] = make(amounts)
				}
				for token, v := range m {
					sum, overflow := new(uint256.Int).AddOverflow(dst[account].get(token), v)
					if overflow {
						return nil, geyser.Errorf(geyser.KindOverflow, "source %q amount overflows on merge", source).
							WithAccount(account).WithToken(token)
					}
					dst[account][token] = sum
				}
			}
		}
	}
	return out, nil
}

// Equal reports whether both ledgers hold the same cycle, claims, totals,
// metadata and sources.
func (l *Ledger) Equal(o *Ledger) bool {
	if l.cycle != o.cycle || len(l.claims) != len(o.claims) || len(l.metadata) != len(o.metadata) ||
		len(l.sources) != len(o.sources) {
		return false
	}
	for a, m := range l.claims {
		if !equalAmounts(m, o.claims[a]) {
			return false
		}
	}
	if !equalAmounts(l.totals, o.totals) {
		return false
	}
	for a, m := range l.metadata {
		om, ok := o.metadata[a]
		if !ok || !m.ShareSeconds.Eq(om.ShareSeconds) || !m.ShareSecondsInRange.Eq(om.ShareSecondsInRange) {
			return false
		}
	}
	for s, byAccount := range l.sources {
		ob, ok := o.sources[s]
		if !ok || len(byAccount) != len(ob) {
			return false
		}
		for a, m := range byAccount {
			if !equalAmounts(m, ob[a]) {
				return false
			}
		}
	}
	return true
}

// EqualClaims compares claims only, ignoring cycle, metadata and sources.
func (l *Ledger) EqualClaims(o *Ledger) bool {
	if len(l.claims) != len(o.claims) {
		return false
	}
	for a, m := range l.claims {
		if !equalAmounts(m, o.claims[a]) {
			return false
		}
	}
	return true
}

func equalAmounts(a, b amounts) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		w, ok := b[k]
		if !ok || !v.Eq(w) {
			return false
		}
	}
	return true
}

// CheckConservation verifies every token total equals the sum of its claims.
func (l *Ledger) CheckConservation() error {
	sums := make(amounts, len(l.totals))
	for _, m := range l.claims {
		for token, v := range m {
			sum, overflow := new(uint256.Int).AddOverflow(sums.get(token), v)
			if overflow {
				return geyser.Errorf(geyser.KindOverflow, "sum of claims overflows").WithCycle(l.cycle).WithToken(token)
			}
			sums[token] = sum
		}
	}
	if len(sums) != len(l.totals) {
		return geyser.Errorf(geyser.KindReconciliationFailed, "%d tokens claimed, %d totals", len(sums), len(l.totals)).
			WithCycle(l.cycle)
	}
	for token, total := range l.totals {
		if !sums.get(token).Eq(total) {
			return geyser.Errorf(geyser.KindReconciliationFailed, "total %v != sum of claims %v", total, sums.get(token)).
				WithCycle(l.cycle).WithToken(token)
		}
	}
	return nil
}
