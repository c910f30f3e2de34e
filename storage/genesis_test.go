// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package storage

import (
	"context"
	"testing"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/stretchr/testify/require"
)

const testChainSpec = `{
	"name": "Local Testnet",
	"id": "local_testnet",
	"genesis": {
		"raw": {
			"top": {
				"0x3a636f6465": "0x0061736d",
				"0x26aa394eea5630e07c48ae0c9558cef702a5c1b19ab7a04f536c519aca4983ac": "0x00000000"
			}
		}
	}
}`

func TestGenesisProvider(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	genesis, err := ParseGenesis([]byte(testChainSpec))
	require.NoError(err)
	require.Equal("Local Testnet", genesis.Name())

	hash, ok, err := genesis.GetBlockHash(ctx, nil)
	require.NoError(err)
	require.True(ok)

	zero := uint64(0)
	hash0, ok, err := genesis.GetBlockHash(ctx, &zero)
	require.NoError(err)
	require.True(ok)
	require.Equal(hash, hash0)

	one := uint64(1)
	_, ok, err = genesis.GetBlockHash(ctx, &one)
	require.NoError(err)
	require.False(ok)

	extrinsics, ok, err := genesis.GetExtrinsics(ctx, hash)
	require.NoError(err)
	require.True(ok)
	require.Empty(extrinsics)
	_, ok, err = genesis.GetExtrinsics(ctx, ids.ID{1})
	require.NoError(err)
	require.False(ok)

	header, ok, err := genesis.GetHeader(ctx, hash)
	require.NoError(err)
	require.True(ok)
	require.Zero(header.Number)
	require.Equal(ids.Empty, header.ParentHash)

	code, ok, err := genesis.GetStorage(ctx, hash, []byte(":code"))
	require.NoError(err)
	require.True(ok)
	require.Equal([]byte{0, 'a', 's', 'm'}, code)

	_, ok, err = genesis.GetStorage(ctx, ids.ID{9}, []byte(":code"))
	require.NoError(err)
	require.False(ok)
}

func TestGenesisProviderRequiresRaw(t *testing.T) {
	_, err := ParseGenesis([]byte(`{"genesis": {"runtime": {}}}`))
	require.ErrorIs(t, err, errNoRawGenesis)
}
