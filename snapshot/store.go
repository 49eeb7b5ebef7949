// Copyright (c) 2025 The Geyser developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package snapshot

import (
	"encoding/binary"
	"os"
	"path/filepath"

	"github.com/geyser-labs/geyser/cache"
	"github.com/geyser-labs/geyser/cry"
	"github.com/geyser-labs/geyser/geyser"
	"github.com/geyser-labs/geyser/kv"
	"github.com/geyser-labs/geyser/log"
	"github.com/pkg/errors"
)

var logger = log.WithContext("pkg", "snapshot")

const (
	fileBucket  = kv.Bucket("snap.f") // content hash => canonical file bytes
	cycleBucket = kv.Bucket("snap.c") // big endian cycle => content hash
)

// ErrNotFound is returned when no file is stored under the requested key.
var ErrNotFound = errors.New("snapshot not found")

// Store keeps distribution files by content hash and indexes them by cycle.
type Store struct {
	db        kv.Store
	files     kv.Store
	cycles    kv.Store
	cache     *cache.LRU
	chainID   uint64
	exportDir string
}

// NewStore creates a store on db. When exportDir is not empty every stored
// file is also written there as rewards-<chainID>-<contentHash>.json.
func NewStore(db kv.Store, chainID uint64, exportDir string, cacheSize int) (*Store, error) {
	if cacheSize <= 0 {
		cacheSize = 16
	}
	c, err := cache.NewLRU("snapshot_files", cacheSize)
	if err != nil {
		return nil, err
	}
	return &Store{
		db:        db,
		files:     fileBucket.NewStore(db),
		cycles:    cycleBucket.NewStore(db),
		cache:     c,
		chainID:   chainID,
		exportDir: exportDir,
	}, nil
}

func cycleKey(cycle uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], cycle)
	return k[:]
}

// Put stores f and returns its content hash. Storing the same file twice is a no-op.
func (s *Store) Put(f *File) (geyser.Bytes32, error) {
	data, err := f.Encode()
	if err != nil {
		return geyser.Bytes32{}, errors.Wrap(err, "encode distribution file")
	}
	hash := cry.Keccak256(data)

	// file and cycle index are written in one batch
	bulk := s.db.Bulk()
	if err := fileBucket.NewPutter(bulk).Put(hash[:], data); err != nil {
		return geyser.Bytes32{}, err
	}
	if err := cycleBucket.NewPutter(bulk).Put(cycleKey(f.Cycle), hash[:]); err != nil {
		return geyser.Bytes32{}, err
	}
	if err := bulk.Write(); err != nil {
		return geyser.Bytes32{}, errors.Wrap(err, "write distribution file")
	}
	s.cache.Add(hash, f)

	if s.exportDir != "" {
		if _, err := s.export(s.exportDir, hash, data); err != nil {
			return geyser.Bytes32{}, err
		}
	}
	logger.Debug("stored distribution file", "cycle", f.Cycle, "contentHash", hash, "claims", len(f.Claims))
	return hash, nil
}

// Get loads the file with the given content hash. The stored bytes are checked
// against the hash.
func (s *Store) Get(contentHash geyser.Bytes32) (*File, error) {
	v, err := s.cache.GetOrLoad(contentHash, func(key any) (any, error) {
		return s.load(key.(geyser.Bytes32))
	})
	if err != nil {
		return nil, err
	}
	return v.(*File), nil
}

func (s *Store) load(hash geyser.Bytes32) (*File, error) {
	data, err := s.files.Get(hash[:])
	if err != nil {
		if s.files.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "read distribution file")
	}
	if got := cry.Keccak256(data); got != hash {
		return nil, geyser.Errorf(geyser.KindContentHashMismatch, "stored bytes hash to %v, want %v", got, hash)
	}
	return Decode(data)
}

// ByCycle loads the file published for cycle.
func (s *Store) ByCycle(cycle uint64) (*File, error) {
	v, err := s.cycles.Get(cycleKey(cycle))
	if err != nil {
		if s.cycles.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "read cycle index")
	}
	return s.Get(geyser.BytesToBytes32(v))
}

// Latest loads the file of the highest stored cycle.
func (s *Store) Latest() (*File, error) {
	it := s.cycles.Iterate(kv.Range{})
	defer it.Release()

	if !it.Last() {
		if err := it.Error(); err != nil {
			return nil, errors.Wrap(err, "iterate cycle index")
		}
		return nil, ErrNotFound
	}
	return s.Get(geyser.BytesToBytes32(it.Value()))
}

// Export writes f into dir and returns the path.
func (s *Store) Export(f *File, dir string) (string, error) {
	data, err := f.Encode()
	if err != nil {
		return "", errors.Wrap(err, "encode distribution file")
	}
	return s.export(dir, cry.Keccak256(data), data)
}

func (s *Store) export(dir string, hash geyser.Bytes32, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "create export dir")
	}
	path := filepath.Join(dir, FileName(s.chainID, hash))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", errors.Wrap(err, "write export file")
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", errors.Wrap(err, "rename export file")
	}
	logger.Info("exported distribution file", "path", path)
	return path, nil
}

// IsNotFound reports whether err means the requested file is not stored.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
