// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package inherent

import (
	"errors"
	"fmt"

	"github.com/ChainSafe/gossamer/pkg/scale"

	"github.com/ava-labs/forkvm/runtime"
)

const (
	// ExtrinsicVersion is the format version of unsigned extrinsics.
	ExtrinsicVersion byte = 4
	// SignedBit marks a signed extrinsic in the version byte.
	SignedBit byte = 0x80
)

var (
	errUnknownCall    = errors.New("call not in metadata")
	errNotUnsigned    = errors.New("not an unsigned extrinsic")
	errShortExtrinsic = errors.New("extrinsic too short")
)

// UnsignedExtrinsic encodes [pallet].[call] with pre-encoded [args] as a
// length prefixed unsigned extrinsic.
func UnsignedExtrinsic(meta runtime.Metadata, pallet, call string, args ...[]byte) ([]byte, error) {
	idx, ok := meta.CallIndex(pallet, call)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", errUnknownCall, pallet, call)
	}
	body := []byte{ExtrinsicVersion, idx[0], idx[1]}
	for _, arg := range args {
		body = append(body, arg...)
	}
	return scale.Marshal(body)
}

// DecodeUnsignedExtrinsic splits a length prefixed unsigned extrinsic into
// its call index and encoded arguments.
func DecodeUnsignedExtrinsic(ext []byte) ([2]byte, []byte, error) {
	var body []byte
	if err := scale.Unmarshal(ext, &body); err != nil {
		return [2]byte{}, nil, err
	}
	if len(body) < 3 {
		return [2]byte{}, nil, errShortExtrinsic
	}
	if body[0] != ExtrinsicVersion {
		return [2]byte{}, nil, fmt.Errorf("%w: version byte 0x%x", errNotUnsigned, body[0])
	}
	return [2]byte{body[1], body[2]}, body[3:], nil
}

// FindCall returns the arguments of the first unsigned extrinsic in [exts]
// calling [pallet].[call].
func FindCall(meta runtime.Metadata, exts [][]byte, pallet, call string) ([]byte, bool) {
	want, ok := meta.CallIndex(pallet, call)
	if !ok {
		return nil, false
	}
	for _, ext := range exts {
		idx, args, err := DecodeUnsignedExtrinsic(ext)
		if err != nil {
			continue
		}
		if idx == want {
			return args, true
		}
	}
	return nil, false
}
