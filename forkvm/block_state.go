// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package forkvm

import (
	"encoding/binary"

	"github.com/ava-labs/avalanchego/cache"
	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/ids"
)

const (
	defaultBlockCacheSize = 64
)

var _ BlockState = &blockState{}

// BlockState stores block records by hash and indexes them by number.
type BlockState interface {
	GetRecord(hash ids.ID) (*blockRecord, error)
	PutBlock(blk *Block) error
	DeleteBlock(blk *Block) error

	// GetHashByNumber returns database.ErrNotFound for unknown numbers.
	GetHashByNumber(number uint64) (ids.ID, error)

	ClearCache()
}

type blockState struct {
	// Caches decoded records. nil marks a block known to be absent.
	blkCache cache.Cacher
	blockDB  database.Database
	numberDB database.Database
}

func NewBlockState(blockDB, numberDB database.Database, cacheSize int) BlockState {
	if cacheSize <= 0 {
		cacheSize = defaultBlockCacheSize
	}
	return &blockState{
		blkCache: &cache.LRU{Size: cacheSize},
		blockDB:  blockDB,
		numberDB: numberDB,
	}
}

func (s *blockState) GetRecord(hash ids.ID) (*blockRecord, error) {
	if recordIntf, ok := s.blkCache.Get(hash); ok {
		if recordIntf == nil {
			return nil, database.ErrNotFound
		}
		return recordIntf.(*blockRecord), nil
	}

	recordBytes, err := s.blockDB.Get(hash[:])
	if err == database.ErrNotFound {
		s.blkCache.Put(hash, nil)
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	record, err := unmarshalBlockRecord(recordBytes)
	if err != nil {
		return nil, err
	}
	s.blkCache.Put(hash, record)
	return record, nil
}

func (s *blockState) PutBlock(blk *Block) error {
	record, err := newBlockRecord(blk)
	if err != nil {
		return err
	}
	recordBytes, err := marshalBlockRecord(record)
	if err != nil {
		return err
	}

	hash := blk.Hash()
	s.blkCache.Put(hash, record)
	if err := s.blockDB.Put(hash[:], recordBytes); err != nil {
		return err
	}
	return s.numberDB.Put(numberKey(blk.Number()), hash[:])
}

func (s *blockState) DeleteBlock(blk *Block) error {
	hash := blk.Hash()
	s.blkCache.Put(hash, nil)
	if err := s.blockDB.Delete(hash[:]); err != nil {
		return err
	}
	indexed, err := s.GetHashByNumber(blk.Number())
	switch {
	case err == database.ErrNotFound:
		return nil
	case err != nil:
		return err
	case indexed != hash:
		return nil
	}
	return s.numberDB.Delete(numberKey(blk.Number()))
}

func (s *blockState) GetHashByNumber(number uint64) (ids.ID, error) {
	b, err := s.numberDB.Get(numberKey(number))
	if err != nil {
		return ids.Empty, err
	}
	return ids.ToID(b)
}

func (s *blockState) ClearCache() {
	s.blkCache.Flush()
}

func numberKey(number uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, number)
	return b
}
