// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package storage

import (
	"context"
	"errors"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/ids"

	log "github.com/inconshreveable/log15"

	"github.com/ava-labs/forkvm/types"
)

const (
	cachedAbsent  byte = 0
	cachedPresent byte = 1
)

var (
	errCorruptCacheEntry = errors.New("corrupt storage cache entry")

	_ Source = (*RemoteSource)(nil)
)

// Provider is the network collaborator that serves state of a live chain.
type Provider interface {
	// GetStorage returns the value of [key] at block [blockHash].
	GetStorage(ctx context.Context, blockHash ids.ID, key []byte) ([]byte, bool, error)
	// GetHeader returns the header of block [hash].
	GetHeader(ctx context.Context, hash ids.ID) (*types.Header, bool, error)
	// GetExtrinsics returns the body of block [hash].
	GetExtrinsics(ctx context.Context, hash ids.ID) ([][]byte, bool, error)
	// GetBlockHash returns the hash of block [number], or of the best block
	// when [number] is nil.
	GetBlockHash(ctx context.Context, number *uint64) (ids.ID, bool, error)
}

// KVStore persists fetched remote state. Get returns database.ErrNotFound
// for unknown keys.
type KVStore interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Close() error
}

// RemoteSource serves reads at one block of a remote chain. State of a past
// block never changes, so every answer (misses included) is cached in [db]
// for good.
type RemoteSource struct {
	provider  Provider
	blockHash ids.ID
	db        KVStore
}

// NewRemoteSource binds [provider] at [blockHash], caching reads into [db].
func NewRemoteSource(provider Provider, blockHash ids.ID, db KVStore) *RemoteSource {
	return &RemoteSource{
		provider:  provider,
		blockHash: blockHash,
		db:        db,
	}
}

// BlockHash is the block this source reads at.
func (s *RemoteSource) BlockHash() ids.ID { return s.blockHash }

func (s *RemoteSource) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	cacheKey := make([]byte, 0, len(s.blockHash)+len(key))
	cacheKey = append(cacheKey, s.blockHash[:]...)
	cacheKey = append(cacheKey, key...)

	cached, err := s.db.Get(cacheKey)
	switch {
	case err == nil:
		return decodeCached(cached)
	case err != database.ErrNotFound:
		return nil, false, err
	}

	value, ok, err := s.provider.GetStorage(ctx, s.blockHash, key)
	if err != nil {
		return nil, false, err
	}
	if err := s.db.Put(cacheKey, encodeCached(value, ok)); err != nil {
		log.Warn("failed to cache remote storage", "block", s.blockHash, "key", key, "err", err)
	}
	return value, ok, nil
}

func encodeCached(value []byte, ok bool) []byte {
	if !ok {
		return []byte{cachedAbsent}
	}
	out := make([]byte, 1, len(value)+1)
	out[0] = cachedPresent
	return append(out, value...)
}

func decodeCached(b []byte) ([]byte, bool, error) {
	if len(b) == 0 {
		return nil, false, errCorruptCacheEntry
	}
	switch b[0] {
	case cachedAbsent:
		return nil, false, nil
	case cachedPresent:
		return append([]byte{}, b[1:]...), true, nil
	default:
		return nil, false, errCorruptCacheEntry
	}
}
