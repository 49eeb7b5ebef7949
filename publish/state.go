// Copyright (c) 2025 The Geyser developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/geyser-labs/geyser/geyser"
	"github.com/geyser-labs/geyser/kv"
	"github.com/pkg/errors"
)

// Phase of the publication protocol.
type Phase uint8

const (
	Idle Phase = iota
	Proposed
	Approved
)

var phaseNames = [...]string{"idle", "proposed", "approved"}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", uint8(p))
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Phase) UnmarshalText(text []byte) error {
	for i, name := range phaseNames {
		if name == string(text) {
			*p = Phase(i)
			return nil
		}
	}
	return errors.Errorf("unknown phase %q", text)
}

// Root is a commitment submitted to the protocol.
type Root struct {
	Root        geyser.Bytes32    `json:"root"`
	ContentHash geyser.Bytes32    `json:"contentHash"`
	Cycle       uint64            `json:"cycle"`
	Blocks      geyser.BlockRange `json:"blocks"`
}

// Record is a root with the actor that proposed or approved it.
type Record struct {
	Root
	Actor     geyser.Address `json:"actor"`
	Timestamp uint64         `json:"timestamp"`
}

// State is the persisted protocol state.
type State struct {
	Phase    Phase   `json:"phase"`
	Pending  *Record `json:"pending,omitempty"`
	Approved *Record `json:"approved,omitempty"`
}

// LastCycle returns the last approved cycle, 0 when none.
func (s *State) LastCycle() uint64 {
	if s.Approved == nil {
		return 0
	}
	return s.Approved.Cycle
}

// Copy returns a deep copy.
func (s *State) Copy() *State {
	c := &State{Phase: s.Phase}
	if s.Pending != nil {
		p := *s.Pending
		c.Pending = &p
	}
	if s.Approved != nil {
		a := *s.Approved
		c.Approved = &a
	}
	return c
}

// Store persists the protocol state.
type Store interface {
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, s *State) error
}

// MemStore keeps the state in memory.
type MemStore struct {
	mu    sync.Mutex
	state *State
}

func (m *MemStore) Load(context.Context) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return &State{}, nil
	}
	return m.state.Copy(), nil
}

func (m *MemStore) Save(_ context.Context, s *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s.Copy()
	return nil
}

var stateKey = []byte("publish.state")

// KVStore keeps the state as json under a fixed key of a kv store.
type KVStore struct {
	db kv.Store
}

// NewKVStore creates a state store on db.
func NewKVStore(db kv.Store) *KVStore {
	return &KVStore{db}
}

func (k *KVStore) Load(context.Context) (*State, error) {
	data, err := k.db.Get(stateKey)
	if err != nil {
		if k.db.IsNotFound(err) {
			return &State{}, nil
		}
		return nil, errors.Wrap(err, "load protocol state")
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrap(err, "decode protocol state")
	}
	return &s, nil
}

func (k *KVStore) Save(_ context.Context, s *State) error {
	data, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "encode protocol state")
	}
	return errors.Wrap(k.db.Put(stateKey, data), "save protocol state")
}
