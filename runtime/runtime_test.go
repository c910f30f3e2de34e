// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package runtime

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ava-labs/forkvm/storage"
)

func TestStorageEntryPrefix(t *testing.T) {
	entry := &StorageEntry{
		Pallet:  "System",
		Name:    "Account",
		Hashers: []storage.Hasher{storage.Blake2_128Concat},
	}
	require.Equal(t, storage.PrefixKey("System", "Account"), entry.Prefix())
}
