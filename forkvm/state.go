// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package forkvm

import (
	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/database/prefixdb"
	"github.com/ava-labs/avalanchego/database/versiondb"
)

var (
	// These are prefixes for db keys.
	// It's important to set different prefixes for each separate database objects.
	singletonStatePrefix = []byte("singleton")
	blockStatePrefix     = []byte("block")
	numberIndexPrefix    = []byte("number")

	_ State = &state{}
)

// State persists built blocks and the head pointer of a chain.
// Writes are buffered until Commit.
type State interface {
	HeadState
	BlockState

	Commit() error
	Close() error
}

type state struct {
	HeadState
	BlockState

	baseDB *versiondb.Database
}

func NewState(db database.Database, cacheSize int) State {
	baseDB := versiondb.New(db)

	singletonDB := prefixdb.New(singletonStatePrefix, baseDB)
	blockDB := prefixdb.New(blockStatePrefix, baseDB)
	numberDB := prefixdb.New(numberIndexPrefix, baseDB)

	return &state{
		HeadState:  NewHeadState(singletonDB),
		BlockState: NewBlockState(blockDB, numberDB, cacheSize),
		baseDB:     baseDB,
	}
}

// Commit commits pending operations to the underlying database
func (s *state) Commit() error {
	return s.baseDB.Commit()
}

// Close closes the underlying base database
func (s *state) Close() error {
	return s.baseDB.Close()
}
