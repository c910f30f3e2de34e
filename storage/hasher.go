// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/crypto/blake2b"
)

// Hasher is a storage map key hasher, in metadata index order.
type Hasher byte

const (
	Blake2_128 Hasher = iota
	Blake2_256
	Blake2_128Concat
	Twox128
	Twox256
	Twox64Concat
	Identity
)

var hasherNames = [...]string{
	Blake2_128:       "Blake2_128",
	Blake2_256:       "Blake2_256",
	Blake2_128Concat: "Blake2_128Concat",
	Twox128:          "Twox128",
	Twox256:          "Twox256",
	Twox64Concat:     "Twox64Concat",
	Identity:         "Identity",
}

func (h Hasher) String() string {
	if int(h) < len(hasherNames) {
		return hasherNames[h]
	}
	return fmt.Sprintf("Hasher(%d)", byte(h))
}

// HashLen is the length of the hash part of a key produced by [h].
func (h Hasher) HashLen() int {
	switch h {
	case Blake2_128, Blake2_128Concat, Twox128:
		return 16
	case Blake2_256, Twox256:
		return 32
	case Twox64Concat:
		return 8
	default:
		return 0
	}
}

// Concat reports whether the hashed input follows its hash in the key, which
// makes the input recoverable.
func (h Hasher) Concat() bool {
	switch h {
	case Blake2_128Concat, Twox64Concat, Identity:
		return true
	default:
		return false
	}
}

// Hash returns the key fragment for [data].
func (h Hasher) Hash(data []byte) []byte {
	switch h {
	case Blake2_128:
		return blake2b128(data)
	case Blake2_256:
		sum := blake2b.Sum256(data)
		return sum[:]
	case Blake2_128Concat:
		return append(blake2b128(data), data...)
	case Twox128:
		return twox(data, 2)
	case Twox256:
		return twox(data, 4)
	case Twox64Concat:
		return append(twox(data, 1), data...)
	default:
		return append([]byte{}, data...)
	}
}

// TwoxHash128 is the 128 bit xxhash used for pallet and item prefixes.
func TwoxHash128(data []byte) []byte {
	return twox(data, 2)
}

// PrefixKey is the storage prefix of a pallet item, also the full key of a
// plain storage value.
func PrefixKey(pallet, item string) []byte {
	key := make([]byte, 0, 32)
	key = append(key, twox([]byte(pallet), 2)...)
	return append(key, twox([]byte(item), 2)...)
}

// MapKey is the key of a map entry. Each element of [hashed] must already be
// hashed with the entry's hasher.
func MapKey(pallet, item string, hashed ...[]byte) []byte {
	key := PrefixKey(pallet, item)
	for _, h := range hashed {
		key = append(key, h...)
	}
	return key
}

func blake2b128(data []byte) []byte {
	h, err := blake2b.New(16, nil)
	if err != nil {
		panic(err)
	}
	h.Write(data)
	return h.Sum(nil)
}

func twox(data []byte, rounds int) []byte {
	out := make([]byte, 8*rounds)
	for seed := 0; seed < rounds; seed++ {
		d := xxhash.NewWithSeed(uint64(seed))
		_, _ = d.Write(data)
		binary.LittleEndian.PutUint64(out[8*seed:], d.Sum64())
	}
	return out
}
