// Copyright (c) 2025 The Geyser developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package kv

import (
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Bucket is a key prefix that partitions one store into namespaces, e.g.
// distribution files and the cycle index share a database.
type Bucket string

// Key returns key inside the bucket. The result is a new slice.
func (b Bucket) Key(key []byte) []byte {
	k := make([]byte, 0, len(b)+len(key))
	return append(append(k, b...), key...)
}

// NewGetter creates a bucket getter from the source getter.
func (b Bucket) NewGetter(src Getter) Getter {
	return &bucketGetter{b, src}
}

// NewPutter creates a bucket putter from the source putter.
func (b Bucket) NewPutter(src Putter) Putter {
	return &bucketPutter{b, src}
}

// NewStore creates a bucket store from the source store. Iterated keys have
// the prefix stripped.
func (b Bucket) NewStore(src Store) Store {
	return &bucketStore{
		bucketGetter{b, src},
		bucketPutter{b, src},
		src,
	}
}

type bucketGetter struct {
	b   Bucket
	src Getter
}

func (g *bucketGetter) Get(key []byte) ([]byte, error) { return g.src.Get(g.b.Key(key)) }
func (g *bucketGetter) Has(key []byte) (bool, error)   { return g.src.Has(g.b.Key(key)) }
func (g *bucketGetter) IsNotFound(err error) bool      { return g.src.IsNotFound(err) }

type bucketPutter struct {
	b   Bucket
	src Putter
}

func (p *bucketPutter) Put(key, val []byte) error { return p.src.Put(p.b.Key(key), val) }
func (p *bucketPutter) Delete(key []byte) error   { return p.src.Delete(p.b.Key(key)) }

type bucketStore struct {
	bucketGetter
	bucketPutter
	src Store
}

func (s *bucketStore) Snapshot() Snapshot {
	snap := s.src.Snapshot()
	return &struct {
		Getter
		ReleaseFunc
	}{
		s.bucketGetter.b.NewGetter(snap),
		snap.Release,
	}
}

func (s *bucketStore) Bulk() Bulk {
	bulk := s.src.Bulk()
	return &struct {
		Putter
		EnableAutoFlushFunc
		WriteFunc
	}{
		s.bucketPutter.b.NewPutter(bulk),
		bulk.EnableAutoFlush,
		bulk.Write,
	}
}

func (s *bucketStore) Iterate(r Range) Iterator {
	b := s.bucketGetter.b
	r.Start = b.Key(r.Start)
	if len(r.Limit) == 0 {
		r.Limit = util.BytesPrefix([]byte(b)).Limit
	} else {
		r.Limit = b.Key(r.Limit)
	}
	return &bucketIterator{s.src.Iterate(r), len(b)}
}

type bucketIterator struct {
	Iterator
	prefixLen int
}

func (it *bucketIterator) Key() []byte { return it.Iterator.Key()[it.prefixLen:] }
