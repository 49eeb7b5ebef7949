// Copyright (c) 2025 The Geyser developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package kv defines the key-value store the keeper persists distribution
// files and protocol state in.
package kv

// Getter reads values. IsNotFound tells a missing key from a failed read.
type Getter interface {
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	IsNotFound(err error) bool
}

// Putter writes values.
type Putter interface {
	Put(key, val []byte) error
	Delete(key []byte) error
}

// Snapshot is a consistent read view, released when done.
type Snapshot interface {
	Getter
	Release()
}

// Bulk batches writes until Write. With auto flush enabled large batches are
// written in parts and are no longer atomic.
type Bulk interface {
	Putter
	EnableAutoFlush()
	Write() error
}

// Iterator walks a key range in byte order.
type Iterator interface {
	First() bool
	Last() bool
	Next() bool
	Prev() bool
	Key() []byte
	Value() []byte
	Release()
	Error() error
}

// Range is [Start, Limit), an empty Limit means no upper bound.
type Range struct {
	Start []byte
	Limit []byte
}

// Store is a full read-write store.
type Store interface {
	Getter
	Putter

	Snapshot() Snapshot
	Bulk() Bulk
	Iterate(r Range) Iterator
}

// StoreCloser is a store which holds resources to be released.
type StoreCloser interface {
	Store
	Close() error
}
