// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package forkvm

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"

	"github.com/ChainSafe/gossamer/pkg/scale"
	"github.com/ava-labs/avalanchego/database/memdb"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/stretchr/testify/require"

	"github.com/ava-labs/forkvm/inherent"
	"github.com/ava-labs/forkvm/runtime"
	"github.com/ava-labs/forkvm/storage"
	"github.com/ava-labs/forkvm/testutil"
	"github.com/ava-labs/forkvm/types"
)

const (
	testParentNumber    = 100
	testParentTimestamp = 1_700_000_000_000
)

var (
	errRuntimeTrap = errors.New("wasm trap")

	timestampNowKey = storage.PrefixKey("Timestamp", "Now")
	systemNumberKey = storage.PrefixKey("System", "Number")
)

// applyOutcome is how the test runtime answers one extrinsic.
type applyOutcome struct {
	result []byte
	diff   []storage.KV
	err    error
}

// testRuntime answers BlockBuilder_apply_extrinsic per extrinsic. Unknown
// extrinsics apply successfully without writes.
type testRuntime struct {
	lock     sync.Mutex
	outcomes map[string]applyOutcome
}

func (r *testRuntime) set(ext []byte, outcome applyOutcome) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.outcomes[string(ext)] = outcome
}

func (r *testRuntime) apply(_ context.Context, _ runtime.StorageView, args [][]byte) (*runtime.Response, error) {
	r.lock.Lock()
	outcome, ok := r.outcomes[string(args[0])]
	r.lock.Unlock()

	if !ok {
		return &runtime.Response{Result: testutil.ApplyOK}, nil
	}
	if outcome.err != nil {
		return nil, outcome.err
	}
	return &runtime.Response{Result: outcome.result, StorageDiff: outcome.diff}, nil
}

type testEnv struct {
	provider *testutil.Provider
	executor *testutil.Executor
	meta     *testutil.Metadata
	loader   *testutil.Loader
	runtime  *testRuntime
	rt       *Runtime
	hash     ids.ID
	parent   *Block
}

// newTestEnv serves block #100 with [digest] and [state] from a remote
// provider. Timestamp.set is always callable.
func newTestEnv(t *testing.T, meta *testutil.Metadata, digest []types.DigestItem, state map[string][]byte) *testEnv {
	t.Helper()

	if meta == nil {
		meta = testutil.NewMetadata()
	}
	meta.WithCall("Timestamp", "set")

	if state == nil {
		state = make(map[string][]byte)
	}
	if _, ok := state[string(timestampNowKey)]; !ok {
		state[string(timestampNowKey)] = u64(testParentTimestamp)
	}

	env := &testEnv{
		provider: testutil.NewProvider(),
		executor: testutil.NewExecutor(),
		meta:     meta,
		loader:   testutil.NewLoader(meta),
		runtime:  &testRuntime{outcomes: make(map[string]applyOutcome)},
	}
	env.rt = &Runtime{Executor: env.executor, Loader: env.loader}

	header := &types.Header{
		ParentHash: ids.ID{0x99},
		Number:     testParentNumber,
		Digest:     digest,
	}
	env.hash = env.provider.AddBlock(header, state)
	env.parent = NewRootBlock(env.rt, env.hash, header, nil, storage.NewRemoteSource(env.provider, env.hash, memdb.New()))

	env.executor.
		Returns(runtime.MetadataMetadata, []byte{0x6d, 0x65, 0x74, 0x61}).
		Handle(runtime.CoreInitializeBlock, func(_ context.Context, _ runtime.StorageView, args [][]byte) (*runtime.Response, error) {
			h, err := types.ParseHeader(args[0])
			if err != nil {
				return nil, err
			}
			return &runtime.Response{StorageDiff: []storage.KV{
				{Key: systemNumberKey, Value: storage.NewValue(u32(uint32(h.Number)))},
			}}, nil
		}).
		Handle(runtime.BlockBuilderApplyExtrinsic, env.runtime.apply).
		Returns(runtime.BlockBuilderFinalizeBlock, nil, storage.KV{
			Key:   []byte("finalized"),
			Value: storage.NewValue([]byte{1}),
		})
	return env
}

func (e *testEnv) registry() *inherent.Registry {
	return inherent.NewDefaultRegistry(nil)
}

// timestampInherent is the inherent expected on top of the test parent.
func (e *testEnv) timestampInherent(t *testing.T) []byte {
	t.Helper()

	arg, err := scale.Marshal(uint(testParentTimestamp + inherent.DefaultSlotDuration))
	require.NoError(t, err)
	ext, err := inherent.UnsignedExtrinsic(e.meta, "Timestamp", "set", arg)
	require.NoError(t, err)
	return ext
}

func inherentParams(timestamp *uint64) inherent.BuildParams {
	return inherent.BuildParams{Timestamp: timestamp}
}

func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func u64(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

func kv(key, value string) storage.KV {
	return storage.KV{Key: []byte(key), Value: storage.NewValue([]byte(value))}
}
