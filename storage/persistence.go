// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package storage

import (
	"fmt"

	"github.com/ava-labs/avalanchego/database"
	"github.com/syndtr/goleveldb/leveldb"
	leveldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
)

var _ KVStore = (*LevelStore)(nil)

// LevelStore is an on-disk KVStore so fetched remote state survives restarts.
type LevelStore struct {
	db *leveldb.DB
}

// OpenLevelStore opens or creates a LevelDB database at [path]. An empty
// path opens an in-memory database.
func OpenLevelStore(path string) (*LevelStore, error) {
	var (
		db  *leveldb.DB
		err error
	)
	if path == "" {
		db, err = leveldb.Open(leveldbstorage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %q: %w", path, err)
	}
	return &LevelStore{db: db}, nil
}

func (s *LevelStore) Get(key []byte) ([]byte, error) {
	value, err := s.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, database.ErrNotFound
	}
	return value, err
}

func (s *LevelStore) Put(key, value []byte) error {
	return s.db.Put(key, value, nil)
}

func (s *LevelStore) Close() error {
	return s.db.Close()
}
