// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package decoder

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"
	lru "github.com/hashicorp/golang-lru/v2"

	log "github.com/inconshreveable/log15"

	"github.com/ava-labs/forkvm/runtime"
	"github.com/ava-labs/forkvm/storage"
)

const (
	// CacheSize is the number of storage prefixes remembered per chain.
	CacheSize = 50

	// SubstrateSection groups keys that belong to no pallet.
	SubstrateSection = "substrate"

	prefixLen = 32
)

// DecodedKey is a storage key resolved against the metadata.
type DecodedKey struct {
	Entry *runtime.StorageEntry
	// Args holds one decoded value per map key. Keys behind an opaque hasher
	// are hex strings of the hash.
	Args []interface{}
}

// Decoded is a storage key and value in readable form.
type Decoded struct {
	Section string
	Method  string
	Args    []interface{}
	// Value is nil for absent values.
	Value interface{}
}

// BlockView is the state a diff is compared against.
type BlockView interface {
	Get(ctx context.Context, key []byte) (storage.Value, error)
	Meta(ctx context.Context) (runtime.Metadata, error)
}

// Cache resolves storage keys to their metadata entries. One Cache serves
// one chain. It is safe for concurrent use.
type Cache struct {
	lock    sync.Mutex
	entries *lru.Cache[string, *runtime.StorageEntry]
}

func NewCache() *Cache {
	entries, err := lru.New[string, *runtime.StorageEntry](CacheSize)
	if err != nil {
		// only fails for a non-positive size
		panic(err)
	}
	return &Cache{entries: entries}
}

// Len is the number of cached prefixes.
func (c *Cache) Len() int {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.entries.Len()
}

func (c *Cache) storageEntry(meta runtime.Metadata, key []byte) *runtime.StorageEntry {
	c.lock.Lock()
	defer c.lock.Unlock()

	keys := c.entries.Keys()
	for i := len(keys) - 1; i >= 0; i-- {
		if strings.HasPrefix(string(key), keys[i]) {
			entry, _ := c.entries.Get(keys[i])
			return entry
		}
	}

	for _, entry := range meta.StorageEntries() {
		prefix := entry.Prefix()
		if bytes.HasPrefix(key, prefix) {
			c.entries.Add(string(prefix), entry)
			return entry
		}
	}
	return nil
}

// DecodeKey finds the storage item [key] belongs to and decodes its map
// keys. It reports false for keys no storage item owns.
func (c *Cache) DecodeKey(meta runtime.Metadata, key []byte) (*DecodedKey, bool) {
	entry := c.storageEntry(meta, key)
	if entry == nil {
		return nil, false
	}
	return &DecodedKey{
		Entry: entry,
		Args:  decodeArgs(meta.Registry(), entry, key[prefixLen:]),
	}, true
}

func decodeArgs(registry runtime.Registry, entry *runtime.StorageEntry, rest []byte) []interface{} {
	args := make([]interface{}, 0, len(entry.Hashers))
	for i, hasher := range entry.Hashers {
		n := hasher.HashLen()
		if len(rest) < n {
			return append(args, hexutil.Encode(rest))
		}
		if !hasher.Concat() {
			args = append(args, hexutil.Encode(rest[:n]))
			rest = rest[n:]
			continue
		}
		rest = rest[n:]
		if i >= len(entry.KeyTypes) {
			return append(args, hexutil.Encode(rest))
		}
		v, read, err := registry.Decode(entry.KeyTypes[i], rest)
		if err != nil {
			log.Debug("failed to decode storage key argument",
				"pallet", entry.Pallet,
				"item", entry.Name,
				"type", entry.KeyTypes[i],
				"err", err,
			)
			return append(args, hexutil.Encode(rest))
		}
		args = append(args, v)
		rest = rest[read:]
	}
	return args
}

// DecodeKeyValue decodes [key] and [value]. Well known keys outside of any
// pallet are reported under SubstrateSection.
func (c *Cache) DecodeKeyValue(meta runtime.Metadata, key []byte, value storage.Value) (*Decoded, bool) {
	if d, ok := decodeWellKnownKey(key, value); ok {
		return d, true
	}

	decoded, ok := c.DecodeKey(meta, key)
	if !ok {
		return nil, false
	}
	d := &Decoded{
		Section: lowerFirst(decoded.Entry.Pallet),
		Method:  lowerFirst(decoded.Entry.Name),
		Args:    decoded.Args,
	}
	if value.Exists() {
		v, _, err := meta.Registry().Decode(decoded.Entry.ValueType, value.Data)
		if err != nil {
			v = hexutil.Encode(value.Data)
		}
		d.Value = v
	}
	return d, true
}

var (
	wellKnownExact = map[string]string{
		":code":               "code",
		":heappages":          "heapPages",
		":extrinsic_index":    "extrinsicIndex",
		":intrablock_entropy": "intrablockEntropy",
	}
	transactionLevelKey = ":transaction_level:"
	childStoragePrefix  = ":child_storage:"
)

func decodeWellKnownKey(key []byte, value storage.Value) (*Decoded, bool) {
	k := string(key)
	d := &Decoded{Section: SubstrateSection}
	switch {
	case wellKnownExact[k] != "":
		d.Method = wellKnownExact[k]
	case k == transactionLevelKey:
		d.Method = "transactionLevel"
	case strings.HasPrefix(k, childStoragePrefix):
		d.Method = "childStorage"
		d.Args = []interface{}{hexutil.Encode(key[len(childStoragePrefix):])}
	default:
		return nil, false
	}
	if !value.Exists() {
		return d, true
	}

	switch {
	case k == ":heappages" && len(value.Data) == 8:
		d.Value = binary.LittleEndian.Uint64(value.Data)
	case (k == ":extrinsic_index" || k == transactionLevelKey) && len(value.Data) == 4:
		d.Value = uint64(binary.LittleEndian.Uint32(value.Data))
	default:
		d.Value = hexutil.Encode(value.Data)
	}
	return d, true
}

// storageObject nests [d] as section -> method -> args... -> value.
func storageObject(d *Decoded) map[string]interface{} {
	obj := d.Value
	for i := len(d.Args) - 1; i >= 0; i-- {
		obj = map[string]interface{}{fmt.Sprint(d.Args[i]): obj}
	}
	return map[string]interface{}{
		d.Section: map[string]interface{}{d.Method: obj},
	}
}

// DecodeBlockStorageDiff decodes [diff] into the state before it, as read
// from [block], and the state after it. Both are nested by section, method
// and map keys. Undecodable keys appear at the top level in hex.
func (c *Cache) DecodeBlockStorageDiff(ctx context.Context, block BlockView, diff []storage.KV) (map[string]interface{}, map[string]interface{}, error) {
	meta, err := block.Meta(ctx)
	if err != nil {
		return nil, nil, err
	}

	oldState := make(map[string]interface{})
	newState := make(map[string]interface{})
	for _, kv := range diff {
		old, err := block.Get(ctx, kv.Key)
		if err != nil {
			return nil, nil, err
		}
		merge(oldState, c.storageObjectOrRaw(meta, kv.Key, old))
		merge(newState, c.storageObjectOrRaw(meta, kv.Key, kv.Value))
	}
	return oldState, newState, nil
}

func (c *Cache) storageObjectOrRaw(meta runtime.Metadata, key []byte, value storage.Value) map[string]interface{} {
	if d, ok := c.DecodeKeyValue(meta, key, value); ok {
		return storageObject(d)
	}
	var raw interface{}
	if value.Exists() {
		raw = hexutil.Encode(value.Data)
	}
	return map[string]interface{}{hexutil.Encode(key): raw}
}

// merge deep merges [src] into [dst]. Nested maps are merged, anything else
// in [src] wins.
func merge(dst, src map[string]interface{}) {
	for k, v := range src {
		srcMap, srcIsMap := v.(map[string]interface{})
		dstMap, dstIsMap := dst[k].(map[string]interface{})
		if srcIsMap && dstIsMap {
			merge(dstMap, srcMap)
			continue
		}
		dst[k] = v
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
