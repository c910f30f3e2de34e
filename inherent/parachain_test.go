// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package inherent

import (
	"context"
	"testing"

	"github.com/ChainSafe/gossamer/pkg/scale"
	"github.com/stretchr/testify/require"

	"github.com/ava-labs/forkvm/testutil"
)

func TestValidationData(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	meta := testutil.NewMetadata().WithCall("ParachainSystem", "set_validation_data")
	parent := newTestParent(meta)

	_, err := ValidationData{}.CreateInherents(ctx, parent, BuildParams{})
	require.ErrorIs(err, errNoValidationData)

	previous := parachainInherentData{
		ValidationData: persistedValidationData{
			ParentHead:             []byte{1, 2, 3},
			RelayParentNumber:      41,
			RelayParentStorageRoot: [32]byte{7},
			MaxPovSize:             5 << 20,
		},
		RelayChainState:  [][]byte{{0xaa}, {0xbb}},
		DownwardMessages: []inboundDownwardMessage{{SentAt: 40, Msg: []byte{9}}},
	}
	encoded := scale.MustMarshal(previous)
	tail := []byte{0xfe}
	ext, err := UnsignedExtrinsic(meta, "ParachainSystem", "set_validation_data", encoded, tail)
	require.NoError(err)
	parent.extrinsics = [][]byte{ext}

	params := BuildParams{
		DownwardMessages: []DownwardMessage{{SentAt: 42, Msg: []byte{1}}},
		HorizontalMessages: map[uint32][]HorizontalMessage{
			2004: {{SentAt: 42, Data: []byte{4}}},
			1000: {{SentAt: 41, Data: []byte{3}}},
		},
	}
	exts, err := ValidationData{}.CreateInherents(ctx, parent, params)
	require.NoError(err)
	require.Len(exts, 1)

	_, args, err := DecodeUnsignedExtrinsic(exts[0])
	require.NoError(err)
	require.Equal(tail, args[len(args)-1:])

	var next parachainInherentData
	require.NoError(scale.Unmarshal(args, &next))

	parentHead, err := parent.header.Bytes()
	require.NoError(err)
	require.Equal(parentHead, next.ValidationData.ParentHead)
	require.Equal(uint32(42), next.ValidationData.RelayParentNumber)
	require.Equal(previous.ValidationData.RelayParentStorageRoot, next.ValidationData.RelayParentStorageRoot)
	require.Equal(previous.RelayChainState, next.RelayChainState)
	require.Equal([]inboundDownwardMessage{{SentAt: 42, Msg: []byte{1}}}, next.DownwardMessages)
	require.Len(next.HorizontalMessages, 2)
	require.Equal(uint32(1000), next.HorizontalMessages[0].Sender)
	require.Equal(uint32(2004), next.HorizontalMessages[1].Sender)
}

func TestValidationDataOnGenesis(t *testing.T) {
	require := require.New(t)

	meta := testutil.NewMetadata().WithCall("ParachainSystem", "set_validation_data")
	parent := newTestParent(meta)
	parent.header.Number = 0

	exts, err := ValidationData{}.CreateInherents(context.Background(), parent, BuildParams{
		DownwardMessages: []DownwardMessage{{SentAt: 1, Msg: []byte{5}}},
	})
	require.NoError(err)
	require.Len(exts, 1)

	_, args, err := DecodeUnsignedExtrinsic(exts[0])
	require.NoError(err)
	var data parachainInherentData
	require.NoError(scale.Unmarshal(args, &data))

	parentHead, err := parent.header.Bytes()
	require.NoError(err)
	require.Equal(parentHead, data.ValidationData.ParentHead)
	require.Equal(uint32(1), data.ValidationData.RelayParentNumber)
	require.Equal(uint32(genesisMaxPovSize), data.ValidationData.MaxPovSize)
	require.Empty(data.RelayChainState)
	require.Equal([]inboundDownwardMessage{{SentAt: 1, Msg: []byte{5}}}, data.DownwardMessages)
}

func TestParaInherentEnter(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	exts, err := ParaInherentEnter{}.CreateInherents(ctx, newTestParent(testutil.NewMetadata()), BuildParams{})
	require.NoError(err)
	require.Empty(exts)

	meta := testutil.NewMetadata().WithCall("ParaInherent", "enter")
	parent := newTestParent(meta)
	exts, err = ParaInherentEnter{}.CreateInherents(ctx, parent, BuildParams{})
	require.NoError(err)
	require.Len(exts, 1)

	_, args, err := DecodeUnsignedExtrinsic(exts[0])
	require.NoError(err)
	parentHeader, err := parent.header.Bytes()
	require.NoError(err)
	require.Equal(append([]byte{0, 0, 0}, parentHeader...), args)
}
