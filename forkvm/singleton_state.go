// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package forkvm

import (
	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/ids"
)

var (
	headKey = []byte{0}

	_ HeadState = (*headState)(nil)
)

// HeadState remembers the hash of the chain's head block.
type HeadState interface {
	// GetHead returns database.ErrNotFound before the first SetHead.
	GetHead() (ids.ID, error)
	SetHead(ids.ID) error
}

type headState struct {
	singletonDB database.Database
}

func NewHeadState(db database.Database) HeadState {
	return &headState{
		singletonDB: db,
	}
}

func (s *headState) GetHead() (ids.ID, error) {
	b, err := s.singletonDB.Get(headKey)
	if err != nil {
		return ids.Empty, err
	}
	return ids.ToID(b)
}

func (s *headState) SetHead(hash ids.ID) error {
	return s.singletonDB.Put(headKey, hash[:])
}
