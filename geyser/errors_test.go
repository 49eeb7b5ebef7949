// Copyright (c) 2025 The Geyser developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package geyser

import (
	"errors"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	acc := MustParseAddress("0x00000000000000000000000000000000000000aa")
	err := Errorf(KindWrongCycle, "want %d", 3).WithCycle(4).WithAccount(acc)

	assert.Equal(t, "wrong cycle cycle=4 account=0x00000000000000000000000000000000000000aa: want 3", err.Error())
	assert.Equal(t, KindWrongCycle, KindOf(err))
	assert.True(t, errors.Is(err, &Error{Kind: KindWrongCycle}))
	assert.False(t, errors.Is(err, &Error{Kind: KindRootMismatch}))

	wrapped := pkgerrors.Wrap(err, "propose")
	assert.True(t, IsKind(wrapped, KindWrongCycle))
	assert.True(t, IsPermanent(wrapped))
	assert.False(t, IsPermanent(errors.New("connection reset")))
}

func TestKindClass(t *testing.T) {
	assert.Equal(t, ClassInputData, KindNegativeBalance.Class())
	assert.Equal(t, ClassInputData, KindOverflow.Class())
	assert.Equal(t, ClassProtocol, KindSelfApproval.Class())
	assert.Equal(t, ClassProtocol, KindBusy.Class())
	assert.Equal(t, ClassReconciliation, KindReconciliationFailed.Class())
	assert.Equal(t, ClassNoop, KindNothingToDo.Class())
	assert.Equal(t, "non_contiguous_blocks", KindNonContiguousBlocks.Label())
}
