// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package forkvm

import (
	"context"
	"fmt"
	"sync"

	"github.com/ava-labs/avalanchego/ids"

	"github.com/ava-labs/forkvm/inherent"
	"github.com/ava-labs/forkvm/runtime"
	"github.com/ava-labs/forkvm/storage"
	"github.com/ava-labs/forkvm/types"
)

// maxStorageDepth caps the layers a lookup walks before the remote state.
// A child of a deeper parent starts from a flattened copy of its state.
const maxStorageDepth = 64

var codeKey = []byte(":code")

var (
	_ inherent.Parent     = &Block{}
	_ runtime.StorageView = &Block{}
)

// Runtime bundles the collaborators a block calls into.
type Runtime struct {
	Executor runtime.Executor
	Loader   runtime.MetadataLoader
}

// Block is a block of the forked chain.
// Each block contains:
// 1) its header and extrinsics
// 2) a storage layer stack on top of its parent's storage, or on top of the
// remote state for the block the fork started at
type Block struct {
	rt *Runtime

	number     uint64
	hash       ids.ID
	header     *types.Header
	extrinsics [][]byte
	parent     *Block

	lock sync.Mutex
	// base is the parent's layer this block's writes sit on, nil for a root.
	base    *storage.Layer
	storage *storage.Layer
	meta    runtime.Metadata
}

// NewRootBlock is a block whose state is read from [source].
func NewRootBlock(rt *Runtime, hash ids.ID, header *types.Header, extrinsics [][]byte, source storage.Source) *Block {
	return &Block{
		rt:         rt,
		number:     header.Number,
		hash:       hash,
		header:     header,
		extrinsics: extrinsics,
		storage:    storage.NewLayer(source),
	}
}

// newChildBlock is a block whose own state is exactly [diff] on top of
// [base], a layer of [parent].
func newChildBlock(parent *Block, base *storage.Layer, header *types.Header, extrinsics [][]byte, diff []storage.KV) (*Block, error) {
	hash, err := header.Hash()
	if err != nil {
		return nil, err
	}
	if base.Depth() >= maxStorageDepth {
		base = base.Flatten()
	}
	layer := base.Push()
	layer.SetAll(diff)
	return &Block{
		rt:         parent.rt,
		number:     header.Number,
		hash:       hash,
		header:     header,
		extrinsics: extrinsics,
		parent:     parent,
		base:       base,
		storage:    layer,
	}, nil
}

func (b *Block) Number() uint64        { return b.number }
func (b *Block) Hash() ids.ID          { return b.hash }
func (b *Block) Header() *types.Header { return b.header }
func (b *Block) Extrinsics() [][]byte  { return b.extrinsics }

// Parent is nil for the block the fork started at.
func (b *Block) Parent() *Block { return b.parent }

// Storage is the current top layer of the block.
func (b *Block) Storage() *storage.Layer {
	b.lock.Lock()
	defer b.lock.Unlock()

	return b.storage
}

func (b *Block) Get(ctx context.Context, key []byte) (storage.Value, error) {
	return b.Storage().Get(ctx, key)
}

// Call runs [method] against the block's current state.
func (b *Block) Call(ctx context.Context, method string, args [][]byte) (*runtime.Response, error) {
	return b.rt.Executor.Call(ctx, b.Storage(), method, args)
}

// PushStorageLayer freezes the current top layer and returns a new mutable
// one.
func (b *Block) PushStorageLayer() *storage.Layer {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.storage = b.storage.Push()
	return b.storage
}

// SetStorage writes [kvs] into a new layer. Touching the runtime code drops
// the cached metadata.
func (b *Block) SetStorage(kvs []storage.KV) {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.storage = b.storage.Push()
	b.storage.SetAll(kvs)
	for _, kv := range kvs {
		if string(kv.Key) == string(codeKey) {
			b.meta = nil
		}
	}
}

// StorageDiff is the block's own writes ordered by key.
func (b *Block) StorageDiff() []storage.KV {
	b.lock.Lock()
	top, base := b.storage, b.base
	b.lock.Unlock()

	diff := make(map[string]storage.Value)
	top.MergeUntil(diff, base)
	return storage.SortedDiff(diff)
}

func (b *Block) ownsCode() bool {
	diff := make(map[string]storage.Value)
	b.storage.MergeUntil(diff, b.base)
	_, ok := diff[string(codeKey)]
	return ok
}

// Meta returns the block's runtime metadata. It is the parent's unless this
// block changed the runtime code.
func (b *Block) Meta(ctx context.Context) (runtime.Metadata, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.meta != nil {
		return b.meta, nil
	}
	if b.parent != nil && !b.ownsCode() {
		meta, err := b.parent.Meta(ctx)
		if err != nil {
			return nil, err
		}
		b.meta = meta
		return meta, nil
	}

	res, err := b.rt.Executor.Call(ctx, b.storage, runtime.MetadataMetadata, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch metadata of block %d: %w", b.number, err)
	}
	meta, err := b.rt.Loader.Load(ctx, res.Result)
	if err != nil {
		return nil, fmt.Errorf("failed to load metadata of block %d: %w", b.number, err)
	}
	b.meta = meta
	return meta, nil
}
