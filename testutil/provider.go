// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package testutil

import (
	"context"
	"sync"

	"github.com/ava-labs/avalanchego/ids"

	"github.com/ava-labs/forkvm/storage"
	"github.com/ava-labs/forkvm/types"
)

var _ storage.Provider = (*Provider)(nil)

// Provider is an in-memory remote chain.
type Provider struct {
	lock    sync.Mutex
	headers map[ids.ID]*types.Header
	bodies  map[ids.ID][][]byte
	hashes  map[uint64]ids.ID
	state   map[ids.ID]map[string][]byte
	best    ids.ID
	reads   int
}

func NewProvider() *Provider {
	return &Provider{
		headers: make(map[ids.ID]*types.Header),
		bodies:  make(map[ids.ID][][]byte),
		hashes:  make(map[uint64]ids.ID),
		state:   make(map[ids.ID]map[string][]byte),
	}
}

// AddBlock stores [header] with its full [state] and makes it the best block.
func (p *Provider) AddBlock(header *types.Header, state map[string][]byte) ids.ID {
	hash, err := header.Hash()
	if err != nil {
		panic(err)
	}

	p.lock.Lock()
	defer p.lock.Unlock()

	p.headers[hash] = header
	p.hashes[header.Number] = hash
	p.state[hash] = state
	p.best = hash
	return hash
}

// SetExtrinsics sets the body of block [hash].
func (p *Provider) SetExtrinsics(hash ids.ID, extrinsics [][]byte) {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.bodies[hash] = extrinsics
}

func (p *Provider) GetStorage(_ context.Context, blockHash ids.ID, key []byte) ([]byte, bool, error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.reads++
	v, ok := p.state[blockHash][string(key)]
	return v, ok, nil
}

func (p *Provider) GetHeader(_ context.Context, hash ids.ID) (*types.Header, bool, error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	header, ok := p.headers[hash]
	return header, ok, nil
}

// GetExtrinsics serves an empty body for known blocks without one.
func (p *Provider) GetExtrinsics(_ context.Context, hash ids.ID) ([][]byte, bool, error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	if _, ok := p.headers[hash]; !ok {
		return nil, false, nil
	}
	return p.bodies[hash], true, nil
}

func (p *Provider) GetBlockHash(_ context.Context, number *uint64) (ids.ID, bool, error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	if number == nil {
		return p.best, p.best != ids.Empty, nil
	}
	hash, ok := p.hashes[*number]
	return hash, ok, nil
}

// Reads is the number of storage reads served.
func (p *Provider) Reads() int {
	p.lock.Lock()
	defer p.lock.Unlock()

	return p.reads
}
