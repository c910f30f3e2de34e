// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package forkvm

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/ava-labs/avalanchego/cache"
	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/database/memdb"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/timer/mockable"
	"github.com/ethereum/go-ethereum/common/hexutil"

	log "github.com/inconshreveable/log15"

	"github.com/ava-labs/forkvm/config"
	"github.com/ava-labs/forkvm/decoder"
	"github.com/ava-labs/forkvm/inherent"
	"github.com/ava-labs/forkvm/runtime"
	"github.com/ava-labs/forkvm/storage"
)

const latestBlock = "latest"

var (
	ErrBlockNotFound = errors.New("block not found")

	errNoProvider   = errors.New("a provider or a genesis file is required")
	errInvalidBlock = errors.New("invalid block selector")
)

// ChainConfig are the options of a Chain.
type ChainConfig struct {
	// Block is "latest", a block number or a 0x prefixed block hash.
	Block               string
	MockSignatureHost   bool
	MaxMemoryBlockCount int
}

// Chain is one forked chain. It owns the head, the blocks built on top of
// the fork point and the caches serving them.
type Chain struct {
	provider  storage.Provider
	rt        *Runtime
	inherents *inherent.Registry
	decoder   *decoder.Cache
	remote    storage.KVStore
	state     State

	mockSignatureHost bool

	// lock serializes head changes
	lock sync.Mutex
	// blocks caches *Block by hash
	blocks cache.Cacher
	root   *Block
	head   *Block
}

// Open creates a chain from [cfg]. [provider] may be nil when cfg.Genesis
// is set.
func Open(ctx context.Context, cfg *config.Config, rt *Runtime, provider storage.Provider) (*Chain, error) {
	if cfg.Genesis != "" {
		genesis, err := storage.LoadGenesis(cfg.Genesis)
		if err != nil {
			return nil, err
		}
		log.Info("forking from genesis", "chain", genesis.Name(), "path", cfg.Genesis)
		provider = genesis
	}
	if provider == nil {
		return nil, errNoProvider
	}

	var remote storage.KVStore = memdb.New()
	if cfg.DBPath != "" {
		levelStore, err := storage.OpenLevelStore(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		remote = levelStore
	}

	chain, err := NewChain(
		ctx,
		provider,
		rt,
		inherent.NewDefaultRegistry(&mockable.Clock{}),
		remote,
		memdb.New(),
		ChainConfig{
			Block:               cfg.Block,
			MockSignatureHost:   cfg.MockSignatureHost,
			MaxMemoryBlockCount: cfg.MaxMemoryBlockCount,
		},
	)
	if err != nil {
		_ = remote.Close()
		return nil, err
	}
	return chain, nil
}

// NewChain forks the chain [provider] serves at cfg.Block. Remote reads are
// cached in [remote] and built blocks are stored in [db]. A head stored in
// [db] by an earlier session on the same fork point is restored.
func NewChain(
	ctx context.Context,
	provider storage.Provider,
	rt *Runtime,
	inherents *inherent.Registry,
	remote storage.KVStore,
	db database.Database,
	cfg ChainConfig,
) (*Chain, error) {
	if cfg.MaxMemoryBlockCount <= 0 {
		cfg.MaxMemoryBlockCount = config.DefaultMaxMemoryBlockCount
	}

	c := &Chain{
		provider:          provider,
		rt:                rt,
		inherents:         inherents,
		decoder:           decoder.NewCache(),
		remote:            remote,
		state:             NewState(db, cfg.MaxMemoryBlockCount),
		mockSignatureHost: cfg.MockSignatureHost,
		blocks:            &cache.LRU{Size: cfg.MaxMemoryBlockCount},
	}

	hash, err := c.resolveBlock(ctx, cfg.Block)
	if err != nil {
		return nil, err
	}
	root, err := c.remoteBlock(ctx, hash)
	if err != nil {
		return nil, err
	}
	c.root = root
	c.head = root

	if err := c.restore(ctx); err != nil {
		return nil, err
	}
	log.Info("forked chain",
		"root", c.root.Number(),
		"rootHash", c.root.Hash(),
		"head", c.head.Number(),
	)
	return c, nil
}

func (c *Chain) resolveBlock(ctx context.Context, selector string) (ids.ID, error) {
	var (
		hash ids.ID
		ok   bool
		err  error
	)
	switch {
	case selector == "" || selector == latestBlock:
		hash, ok, err = c.provider.GetBlockHash(ctx, nil)
	case strings.HasPrefix(selector, "0x"):
		b, decodeErr := hexutil.Decode(selector)
		if decodeErr != nil {
			return ids.Empty, fmt.Errorf("%w %q: %w", errInvalidBlock, selector, decodeErr)
		}
		hash, err = ids.ToID(b)
		ok = true
	default:
		number, parseErr := strconv.ParseUint(selector, 10, 64)
		if parseErr != nil {
			return ids.Empty, fmt.Errorf("%w %q: %w", errInvalidBlock, selector, parseErr)
		}
		hash, ok, err = c.provider.GetBlockHash(ctx, &number)
	}
	if err != nil {
		return ids.Empty, err
	}
	if !ok {
		return ids.Empty, fmt.Errorf("%w: %s", ErrBlockNotFound, selector)
	}
	return hash, nil
}

// remoteBlock is block [hash] of the remote chain, reading its body and
// state through the provider.
func (c *Chain) remoteBlock(ctx context.Context, hash ids.ID) (*Block, error) {
	header, ok, err := c.provider.GetHeader(ctx, hash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: remote %s", ErrBlockNotFound, hash)
	}
	extrinsics, ok, err := c.provider.GetExtrinsics(ctx, hash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: remote body %s", ErrBlockNotFound, hash)
	}
	return NewRootBlock(c.rt, hash, header, extrinsics, storage.NewRemoteSource(c.provider, hash, c.remote)), nil
}

// restore replays storage overrides of the root and moves the head to the
// last head stored on top of it.
func (c *Chain) restore(ctx context.Context) error {
	record, err := c.state.GetRecord(c.root.Hash())
	switch {
	case err == nil:
		c.root.SetStorage(record.diff())
	case err != database.ErrNotFound:
		return err
	}

	headHash, err := c.state.GetHead()
	switch {
	case err == database.ErrNotFound:
		return nil
	case err != nil:
		return err
	}
	head, err := c.GetBlock(ctx, headHash)
	if err != nil {
		log.Warn("stored head is not on this fork", "head", headHash, "err", err)
		return nil
	}
	c.head = head
	return nil
}

// Head is the block new blocks are built on.
func (c *Chain) Head() *Block {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.head
}

// Root is the remote block the fork started at.
func (c *Chain) Root() *Block { return c.root }

// Decoder is the storage key decoder of this chain.
func (c *Chain) Decoder() *decoder.Cache { return c.decoder }

// MockSignatureHost reports whether fake signatures are accepted.
func (c *Chain) MockSignatureHost() bool { return c.mockSignatureHost }

// GetBlock returns block [hash], rebuilding it from its stored record when
// it is not in memory.
func (c *Chain) GetBlock(ctx context.Context, hash ids.ID) (*Block, error) {
	if hash == c.root.Hash() {
		return c.root, nil
	}
	if blkIntf, ok := c.blocks.Get(hash); ok {
		return blkIntf.(*Block), nil
	}

	record, err := c.state.GetRecord(hash)
	if err == database.ErrNotFound {
		return nil, fmt.Errorf("%w: %s", ErrBlockNotFound, hash)
	}
	if err != nil {
		return nil, err
	}
	parent, err := c.GetBlock(ctx, record.Parent)
	if err != nil {
		return nil, err
	}
	header, err := record.header()
	if err != nil {
		return nil, err
	}
	blk, err := newChildBlock(parent, parent.Storage(), header, record.Extrinsics, record.diff())
	if err != nil {
		return nil, err
	}
	c.blocks.Put(hash, blk)
	return blk, nil
}

// GetBlockAt returns the block at [number]. Numbers below the fork point
// are served by the remote chain.
func (c *Chain) GetBlockAt(ctx context.Context, number uint64) (*Block, error) {
	head := c.Head()
	switch {
	case number > head.Number():
		return nil, fmt.Errorf("%w: number %d above head %d", ErrBlockNotFound, number, head.Number())
	case number == c.root.Number():
		return c.root, nil
	case number < c.root.Number():
		hash, ok, err := c.provider.GetBlockHash(ctx, &number)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: remote number %d", ErrBlockNotFound, number)
		}
		if blkIntf, ok := c.blocks.Get(hash); ok {
			return blkIntf.(*Block), nil
		}
		blk, err := c.remoteBlock(ctx, hash)
		if err != nil {
			return nil, err
		}
		c.blocks.Put(hash, blk)
		return blk, nil
	}

	hash, err := c.state.GetHashByNumber(number)
	if err == database.ErrNotFound {
		return nil, fmt.Errorf("%w: number %d", ErrBlockNotFound, number)
	}
	if err != nil {
		return nil, err
	}
	return c.GetBlock(ctx, hash)
}

// NewBlock builds a block on the head and makes it the new head. It
// returns the extrinsics left out of the block.
func (c *Chain) NewBlock(ctx context.Context, in BuildInput) (*Block, [][]byte, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	blk, pending, err := BuildBlock(ctx, c.head, c.inherents, in)
	if err != nil {
		return nil, nil, err
	}
	if err := c.state.PutBlock(blk); err != nil {
		return nil, nil, err
	}
	if err := c.state.SetHead(blk.Hash()); err != nil {
		return nil, nil, err
	}
	if err := c.state.Commit(); err != nil {
		return nil, nil, err
	}
	c.blocks.Put(blk.Hash(), blk)
	c.head = blk
	return blk, pending, nil
}

// SetHead moves the head to block [hash]. Blocks of the old head's branch
// that are not ancestors of [hash] are discarded.
func (c *Chain) SetHead(ctx context.Context, hash ids.ID) (*Block, error) {
	blk, err := c.GetBlock(ctx, hash)
	if err != nil {
		return nil, err
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	if err := c.pruneBranch(blk); err != nil {
		return nil, err
	}
	// reindex the new branch by number
	for b := blk; b != nil && b != c.root; b = b.Parent() {
		indexed, err := c.state.GetHashByNumber(b.Number())
		if err == nil && indexed == b.Hash() {
			break
		}
		if err != nil && err != database.ErrNotFound {
			return nil, err
		}
		if err := c.state.PutBlock(b); err != nil {
			return nil, err
		}
	}
	if err := c.state.SetHead(hash); err != nil {
		return nil, err
	}
	if err := c.state.Commit(); err != nil {
		return nil, err
	}
	c.head = blk
	log.Info("set head", "number", blk.Number(), "hash", hash)
	return blk, nil
}

// pruneBranch deletes the blocks between the head and its last common
// ancestor with [blk].
func (c *Chain) pruneBranch(blk *Block) error {
	kept := make(map[ids.ID]struct{})
	for b := blk; b != nil && b != c.root; b = b.Parent() {
		kept[b.Hash()] = struct{}{}
	}

	pruned := 0
	for b := c.head; b != nil && b != c.root; b = b.Parent() {
		if _, ok := kept[b.Hash()]; ok {
			break
		}
		if err := c.state.DeleteBlock(b); err != nil {
			return err
		}
		c.blocks.Evict(b.Hash())
		pruned++
	}
	if pruned > 0 {
		log.Debug("pruned abandoned blocks", "count", pruned, "head", c.head.Number())
	}
	return nil
}

// SetStorage overrides storage of the head block.
func (c *Chain) SetStorage(kvs []storage.KV) (*Block, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.head.SetStorage(kvs)
	if err := c.state.PutBlock(c.head); err != nil {
		return nil, err
	}
	if err := c.state.Commit(); err != nil {
		return nil, err
	}
	log.Debug("set storage", "head", c.head.Number(), "keys", len(kvs))
	return c.head, nil
}

// DryRunExtrinsic applies [input] on a child of the head and discards the
// result.
func (c *Chain) DryRunExtrinsic(ctx context.Context, params inherent.BuildParams, input DryRunInput) (*runtime.Response, error) {
	return DryRunExtrinsic(ctx, c.Head(), c.inherents, params, input, c.mockSignatureHost)
}

// DryRunInherents returns the writes the inherents of a child of the head
// would make.
func (c *Chain) DryRunInherents(ctx context.Context, params inherent.BuildParams) ([]storage.KV, error) {
	return DryRunInherents(ctx, c.Head(), c.inherents, params)
}

// Close releases the block store and the remote read cache.
func (c *Chain) Close() error {
	return closeAll(c.state.Close, c.remote.Close)
}
