// Copyright (c) 2025 The Geyser developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package geyser

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the closed set of distribution failures.
type Kind uint8

const (
	KindUnknown Kind = iota

	// input data errors
	KindInvalidInput
	KindNegativeBalance
	KindDuplicateLeaf
	KindEmptyDistribution
	KindOverflow

	// protocol invariant violations
	KindWrongCycle
	KindNonContiguousBlocks
	KindContentHashMismatch
	KindRootMismatch
	KindSelfApproval
	KindNotProposed
	KindAlreadyProposed
	KindUnauthorized
	KindBusy

	// reconciliation failures
	KindReconciliationFailed

	// expected no-op outcome, e.g. no pending root to approve
	KindNothingToDo
)

// Class groups kinds by how the caller should react.
type Class uint8

const (
	ClassUnknown Class = iota
	ClassInputData
	ClassProtocol
	ClassReconciliation
	ClassNoop
)

var kindNames = map[Kind]string{
	KindUnknown:              "unknown",
	KindInvalidInput:         "invalid input",
	KindNegativeBalance:      "negative balance",
	KindDuplicateLeaf:        "duplicate leaf",
	KindEmptyDistribution:    "empty distribution",
	KindOverflow:             "overflow",
	KindWrongCycle:           "wrong cycle",
	KindNonContiguousBlocks:  "non-contiguous blocks",
	KindContentHashMismatch:  "content hash mismatch",
	KindRootMismatch:         "root mismatch",
	KindSelfApproval:         "self approval",
	KindNotProposed:          "no pending proposal",
	KindAlreadyProposed:      "proposal already pending",
	KindUnauthorized:         "unauthorized",
	KindBusy:                 "busy",
	KindReconciliationFailed: "reconciliation failed",
	KindNothingToDo:          "nothing to do",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Label returns a metric friendly name of the kind.
func (k Kind) Label() string {
	return strings.ReplaceAll(strings.ReplaceAll(k.String(), " ", "_"), "-", "_")
}

// Class returns the class of the kind.
func (k Kind) Class() Class {
	switch {
	case k >= KindInvalidInput && k <= KindOverflow:
		return ClassInputData
	case k >= KindWrongCycle && k <= KindBusy:
		return ClassProtocol
	case k == KindReconciliationFailed:
		return ClassReconciliation
	case k == KindNothingToDo:
		return ClassNoop
	}
	return ClassUnknown
}

// Error is a distribution failure with enough context to investigate it by hand.
type Error struct {
	Kind    Kind
	Cycle   uint64
	Account *Address
	Token   *Address
	Msg     string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Cycle != 0 {
		fmt.Fprintf(&b, " cycle=%d", e.Cycle)
	}
	if e.Account != nil {
		fmt.Fprintf(&b, " account=%v", *e.Account)
	}
	if e.Token != nil {
		fmt.Fprintf(&b, " token=%v", *e.Token)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	return b.String()
}

// Is matches any *Error of the same kind, so errors.Is(err, &Error{Kind: k}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Errorf creates an error of kind k.
func Errorf(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

// WithCycle sets the cycle context.
func (e *Error) WithCycle(cycle uint64) *Error {
	e.Cycle = cycle
	return e
}

// WithAccount sets the account context.
func (e *Error) WithAccount(account Address) *Error {
	e.Account = &account
	return e
}

// WithToken sets the token context.
func (e *Error) WithToken(token Address) *Error {
	e.Token = &token
	return e
}

// KindOf extracts the kind from err, KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries kind k.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// IsPermanent reports whether retrying cannot help. Errors without a kind are
// treated as transient I/O.
func IsPermanent(err error) bool {
	return KindOf(err) != KindUnknown
}
