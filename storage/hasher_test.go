// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package storage

import (
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/require"
)

func TestPrefixKey(t *testing.T) {
	require := require.New(t)

	require.Equal(
		hexutil.MustDecode("0x26aa394eea5630e07c48ae0c9558cef702a5c1b19ab7a04f536c519aca4983ac"),
		PrefixKey("System", "Number"),
	)
	require.Equal(
		hexutil.MustDecode("0xf0c365c3cf59d671eb72da0e7a4113c49f1f0515f462cdcf84e0f1d6045dfcbb"),
		PrefixKey("Timestamp", "Now"),
	)
	require.Equal(hexutil.MustDecode("0x26aa394eea5630e07c48ae0c9558cef7"), TwoxHash128([]byte("System")))
}

func TestHashers(t *testing.T) {
	require := require.New(t)
	data := []byte{1, 2, 3, 4}

	for h := Blake2_128; h <= Identity; h++ {
		hashed := h.Hash(data)
		if h.Concat() {
			require.Len(hashed, h.HashLen()+len(data), h.String())
			require.Equal(data, hashed[h.HashLen():], h.String())
		} else {
			require.Len(hashed, h.HashLen(), h.String())
		}
	}

	require.Equal(TwoxHash128(data)[:8], Twox64Concat.Hash(data)[:8])
	require.Equal("Hasher(9)", Hasher(9).String())
}

func TestMapKey(t *testing.T) {
	key := MapKey("System", "Account", Blake2_128Concat.Hash([]byte{0xaa}))
	require.Len(t, key, 32+16+1)
	require.Equal(t, PrefixKey("System", "Account"), key[:32])
	require.Equal(t, byte(0xaa), key[48])
}
