// Copyright (c) 2025 The Geyser developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package abi

import (
	ethabi "github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/geyser-labs/geyser/geyser"
	"github.com/pkg/errors"
)

// Event is a log signature, its data holds the non-indexed inputs and its
// topics the id followed by the indexed ones.
type Event struct {
	id      geyser.Bytes32
	event   *ethabi.Event
	indexed ethabi.Arguments
	data    ethabi.Arguments
}

func newEvent(event *ethabi.Event) *Event {
	e := &Event{id: geyser.Bytes32(event.ID), event: event}
	for _, arg := range event.Inputs {
		if arg.Indexed {
			e.indexed = append(e.indexed, arg)
		} else {
			e.data = append(e.data, arg)
		}
	}
	return e
}

func (e *Event) ID() geyser.Bytes32 { return e.id }

func (e *Event) Name() string { return e.event.Name }

// Encode packs the non-indexed args into log data.
func (e *Event) Encode(args ...any) ([]byte, error) {
	return e.data.Pack(args...)
}

// Topics returns the topics of a log with the given indexed args, in order.
func (e *Event) Topics(indexed ...any) ([]geyser.Bytes32, error) {
	if len(indexed) != len(e.indexed) {
		return nil, errors.Errorf("%s: %d indexed args, got %d", e.Name(), len(e.indexed), len(indexed))
	}
	query := make([][]any, len(indexed))
	for i, arg := range indexed {
		query[i] = []any{arg}
	}
	hashes, err := ethabi.MakeTopics(query...)
	if err != nil {
		return nil, err
	}
	topics := make([]geyser.Bytes32, 0, len(hashes)+1)
	topics = append(topics, e.id)
	for _, h := range hashes {
		topics = append(topics, geyser.Bytes32(h[0]))
	}
	return topics, nil
}

// Decode unpacks log data into v.
func (e *Event) Decode(data []byte, v any) error {
	values, err := e.data.Unpack(data)
	if err != nil {
		return err
	}
	return e.data.Copy(v, values)
}

// DecodeTopics unpacks the indexed args into v, skipping the id topic.
func (e *Event) DecodeTopics(topics []geyser.Bytes32, v any) error {
	if len(topics) != len(e.indexed)+1 {
		return errors.Errorf("%s: expected %d topics, got %d", e.Name(), len(e.indexed)+1, len(topics))
	}
	if topics[0] != e.id {
		return errors.Errorf("%s: topic %v is not the event id", e.Name(), topics[0])
	}
	hashes := make([]common.Hash, len(topics)-1)
	for i, t := range topics[1:] {
		hashes[i] = common.Hash(t)
	}
	return ethabi.ParseTopics(v, e.indexed, hashes)
}
