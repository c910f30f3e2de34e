// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package runtime describes the collaborators that execute and describe the
// on-chain runtime. Nothing here interprets WASM or metadata; callers plug in
// an executor and a metadata loader.
package runtime

import (
	"context"

	"github.com/ava-labs/forkvm/storage"
)

// Runtime entrypoints driven by the block builder.
const (
	CoreInitializeBlock        = "Core_initialize_block"
	BlockBuilderApplyExtrinsic = "BlockBuilder_apply_extrinsic"
	BlockBuilderFinalizeBlock  = "BlockBuilder_finalize_block"
	MetadataMetadata           = "Metadata_metadata"
	AuraApiAuthorities         = "AuraApi_authorities"
	AuraApiSlotDuration        = "AuraApi_slot_duration"
)

// StorageView is the state a runtime call reads.
type StorageView interface {
	Get(ctx context.Context, key []byte) (storage.Value, error)
}

// Response is the outcome of one runtime call.
type Response struct {
	Result      []byte
	StorageDiff []storage.KV
}

// Executor runs a runtime entrypoint against [view]. [args] are SCALE
// encoded and concatenated by the executor.
type Executor interface {
	Call(ctx context.Context, view StorageView, method string, args [][]byte) (*Response, error)
}

// StorageEntry describes one pallet storage item.
type StorageEntry struct {
	Pallet string
	Name   string
	// Hashers and KeyTypes are empty for plain values and have one element
	// per key for maps.
	Hashers   []storage.Hasher
	KeyTypes  []string
	ValueType string
}

// Prefix is twox128(pallet) ++ twox128(name).
func (e *StorageEntry) Prefix() []byte {
	return storage.PrefixKey(e.Pallet, e.Name)
}

// Registry decodes SCALE values by type name.
type Registry interface {
	// Decode decodes one value of [typeName] from the start of [data] and
	// returns it with the number of bytes consumed.
	Decode(typeName string, data []byte) (interface{}, int, error)
}

// Metadata answers capability questions about a runtime version.
type Metadata interface {
	// HasCall reports whether [pallet].[call] exists.
	HasCall(pallet, call string) bool
	// CallIndex returns the (pallet, call) index pair used to encode a call.
	CallIndex(pallet, call string) ([2]byte, bool)
	// HasStorage reports whether [pallet].[item] exists.
	HasStorage(pallet, item string) bool
	// HasRuntimeAPI reports whether the runtime exposes entrypoint [method].
	HasRuntimeAPI(method string) bool
	// Constant returns the SCALE encoded value of [pallet].[name].
	Constant(pallet, name string) ([]byte, bool)
	// StorageEntries lists every storage item of every pallet.
	StorageEntries() []*StorageEntry
	// SignedExtensions lists the identifiers of the signed extensions of
	// the extrinsic format, in encoding order.
	SignedExtensions() []string
	Registry() Registry
}

// MetadataLoader turns the raw output of Metadata_metadata into Metadata.
type MetadataLoader interface {
	Load(ctx context.Context, raw []byte) (Metadata, error)
}
