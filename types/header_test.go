// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package types

import (
	"testing"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/stretchr/testify/require"
)

func TestHeaderEncoding(t *testing.T) {
	require := require.New(t)

	header := &Header{
		ParentHash: ids.ID{1, 2, 3},
		Number:     100,
		Digest: []DigestItem{
			AuraDigest{Slot: 42}.Items()[0],
			{Type: DigestSeal, Engine: AuraEngineID, Data: []byte{9, 9}},
			{Type: DigestRuntimeEnvironmentUpdated},
		},
	}
	b, err := header.Bytes()
	require.NoError(err)

	// number 100 is a two byte compact integer
	require.Equal([]byte{0x91, 0x01}, b[32:34])
	// three digest items
	require.Equal(byte(3<<2), b[98])
	// aura pre-runtime: variant, engine, compact length 8, slot
	require.Equal([]byte{6, 'a', 'u', 'r', 'a', 8 << 2, 42, 0, 0, 0, 0, 0, 0, 0}, b[99:113])

	parsed, err := ParseHeader(b)
	require.NoError(err)
	require.Equal(header.ParentHash, parsed.ParentHash)
	require.Equal(header.Number, parsed.Number)
	require.Len(parsed.Digest, 3)
	require.Equal(header.Digest[1], parsed.Digest[1])
	require.Equal(DigestRuntimeEnvironmentUpdated, parsed.Digest[2].Type)

	hash, err := header.Hash()
	require.NoError(err)
	parsedHash, err := parsed.Hash()
	require.NoError(err)
	require.Equal(hash, parsedHash)
	require.NotEqual(ids.Empty, hash)
}

func TestHeaderUnknownDigestItem(t *testing.T) {
	require := require.New(t)

	header := &Header{Digest: []DigestItem{{Type: 7}}}
	_, err := header.Bytes()
	require.ErrorIs(err, errUnknownDigestItem)
}

func TestParseHeaderTruncated(t *testing.T) {
	_, err := ParseHeader([]byte{1, 2, 3})
	require.Error(t, err)
}
