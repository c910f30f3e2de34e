// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package forkvm

import (
	"context"
	"testing"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/database/memdb"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/stretchr/testify/require"

	"github.com/ava-labs/forkvm/storage"
	"github.com/ava-labs/forkvm/types"
)

func buildTestBlock(t *testing.T) (*testEnv, *Block) {
	t.Helper()

	env := newTestEnv(t, nil, types.AuraDigest{Slot: 42}.Items(), nil)
	ext := []byte("remove me")
	env.runtime.set(ext, applyOutcome{
		result: []byte{0, 0},
		diff: []storage.KV{
			kv("kept", "v"),
			{Key: []byte("removed"), Value: storage.DeletedValue},
		},
	})
	blk, _, err := BuildBlock(context.Background(), env.parent, env.registry(), BuildInput{Extrinsics: [][]byte{ext}})
	require.NoError(t, err)
	return env, blk
}

func TestBlockRecordRoundTrip(t *testing.T) {
	require := require.New(t)

	env, blk := buildTestBlock(t)

	record, err := newBlockRecord(blk)
	require.NoError(err)
	require.Equal(ids.ID(record.Parent), env.hash)

	b, err := marshalBlockRecord(record)
	require.NoError(err)
	require.Equal(CodecVersion, b[0])

	parsed, err := unmarshalBlockRecord(b)
	require.NoError(err)
	require.Equal(blk.Number(), parsed.Number)
	require.Equal(blk.Extrinsics(), parsed.Extrinsics)
	require.Equal(blk.StorageDiff(), parsed.diff())

	header, err := parsed.header()
	require.NoError(err)
	hash, err := header.Hash()
	require.NoError(err)
	require.Equal(blk.Hash(), hash)
}

func TestUnmarshalBlockRecordErrors(t *testing.T) {
	require := require.New(t)

	_, err := unmarshalBlockRecord(nil)
	require.ErrorIs(err, errEmptyBlockRecord)

	_, err = unmarshalBlockRecord([]byte{CodecVersion + 1, 0})
	require.ErrorIs(err, errBlockWrongVersion)
}

func TestState(t *testing.T) {
	require := require.New(t)

	_, blk := buildTestBlock(t)

	db := memdb.New()
	state := NewState(db, 0)

	_, err := state.GetHead()
	require.ErrorIs(err, database.ErrNotFound)
	_, err = state.GetRecord(blk.Hash())
	require.ErrorIs(err, database.ErrNotFound)

	require.NoError(state.PutBlock(blk))
	require.NoError(state.SetHead(blk.Hash()))
	require.NoError(state.Commit())

	// a fresh state over the same database sees the commit
	reopened := NewState(db, 0)
	head, err := reopened.GetHead()
	require.NoError(err)
	require.Equal(blk.Hash(), head)

	hash, err := reopened.GetHashByNumber(blk.Number())
	require.NoError(err)
	require.Equal(blk.Hash(), hash)

	record, err := reopened.GetRecord(blk.Hash())
	require.NoError(err)
	require.Equal(blk.Extrinsics(), record.Extrinsics)

	require.NoError(reopened.DeleteBlock(blk))
	_, err = reopened.GetRecord(blk.Hash())
	require.ErrorIs(err, database.ErrNotFound)
	_, err = reopened.GetHashByNumber(blk.Number())
	require.ErrorIs(err, database.ErrNotFound)

	reopened.ClearCache()
	require.NoError(reopened.Close())
}

func TestCloseAll(t *testing.T) {
	require := require.New(t)

	closed := 0
	ok := func() error {
		closed++
		return nil
	}
	require.NoError(closeAll(ok, ok))
	require.Equal(2, closed)

	err := closeAll(ok, func() error { return errRuntimeTrap }, ok)
	require.ErrorIs(err, errRuntimeTrap)
	require.Equal(5, closed)
}
