// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package types

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ChainSafe/gossamer/pkg/scale"
	"github.com/ava-labs/avalanchego/ids"
	"golang.org/x/crypto/blake2b"
)

// DigestItemType is the SCALE variant index of a header digest item.
type DigestItemType byte

const (
	DigestOther                     DigestItemType = 0
	DigestConsensus                 DigestItemType = 4
	DigestSeal                      DigestItemType = 5
	DigestPreRuntime                DigestItemType = 6
	DigestRuntimeEnvironmentUpdated DigestItemType = 8
)

// ConsensusEngineID is the four byte tag carried by engine-specific digests.
type ConsensusEngineID [4]byte

var (
	AuraEngineID   = ConsensusEngineID{'a', 'u', 'r', 'a'}
	BabeEngineID   = ConsensusEngineID{'B', 'A', 'B', 'E'}
	NimbusEngineID = ConsensusEngineID{'n', 'm', 'b', 's'}

	errUnknownDigestItem = errors.New("unknown digest item type")
)

func (e ConsensusEngineID) String() string { return string(e[:]) }

// DigestItem is a single header log.
// Engine is only meaningful for pre-runtime, consensus and seal items.
type DigestItem struct {
	Type   DigestItemType
	Engine ConsensusEngineID
	Data   []byte
}

// PreRuntime returns a pre-runtime digest item for [engine].
func PreRuntime(engine ConsensusEngineID, data []byte) DigestItem {
	return DigestItem{Type: DigestPreRuntime, Engine: engine, Data: data}
}

// IsPreRuntime reports whether the item is a pre-runtime digest.
func (d DigestItem) IsPreRuntime() bool { return d.Type == DigestPreRuntime }

func (d DigestItem) bytes() ([]byte, error) {
	out := []byte{byte(d.Type)}
	switch d.Type {
	case DigestPreRuntime, DigestConsensus, DigestSeal:
		out = append(out, d.Engine[:]...)
		fallthrough
	case DigestOther:
		data, err := scale.Marshal(d.Data)
		if err != nil {
			return nil, err
		}
		return append(out, data...), nil
	case DigestRuntimeEnvironmentUpdated:
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %d", errUnknownDigestItem, d.Type)
	}
}

// Header is a Substrate block header. The roots are never computed by this
// engine and stay zero-filled for synthesized blocks.
type Header struct {
	ParentHash     ids.ID
	Number         uint64
	StateRoot      ids.ID
	ExtrinsicsRoot ids.ID
	Digest         []DigestItem
}

// Bytes returns the SCALE encoding of the header.
func (h *Header) Bytes() ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	buf.Write(h.ParentHash[:])
	number, err := scale.Marshal(uint(h.Number))
	if err != nil {
		return nil, err
	}
	buf.Write(number)
	buf.Write(h.StateRoot[:])
	buf.Write(h.ExtrinsicsRoot[:])

	count, err := scale.Marshal(uint(len(h.Digest)))
	if err != nil {
		return nil, err
	}
	buf.Write(count)
	for _, item := range h.Digest {
		itemBytes, err := item.bytes()
		if err != nil {
			return nil, err
		}
		buf.Write(itemBytes)
	}
	return buf.Bytes(), nil
}

// Hash returns the blake2b-256 hash of the encoded header.
func (h *Header) Hash() (ids.ID, error) {
	headerBytes, err := h.Bytes()
	if err != nil {
		return ids.Empty, err
	}
	return ids.ID(blake2b.Sum256(headerBytes)), nil
}

// ParseHeader decodes a SCALE encoded header.
func ParseHeader(b []byte) (*Header, error) {
	var (
		header     Header
		parentHash [32]byte
		number     uint
		stateRoot  [32]byte
		extRoot    [32]byte
		count      uint
	)
	d := scale.NewDecoder(bytes.NewReader(b))
	for _, dst := range []interface{}{&parentHash, &number, &stateRoot, &extRoot, &count} {
		if err := d.Decode(dst); err != nil {
			return nil, fmt.Errorf("failed to decode header: %w", err)
		}
	}
	header.ParentHash = ids.ID(parentHash)
	header.Number = uint64(number)
	header.StateRoot = ids.ID(stateRoot)
	header.ExtrinsicsRoot = ids.ID(extRoot)

	for i := uint(0); i < count; i++ {
		var (
			itemType byte
			item     DigestItem
		)
		if err := d.Decode(&itemType); err != nil {
			return nil, fmt.Errorf("failed to decode digest item %d: %w", i, err)
		}
		item.Type = DigestItemType(itemType)
		switch item.Type {
		case DigestPreRuntime, DigestConsensus, DigestSeal:
			var engine [4]byte
			if err := d.Decode(&engine); err != nil {
				return nil, fmt.Errorf("failed to decode digest engine %d: %w", i, err)
			}
			item.Engine = ConsensusEngineID(engine)
			fallthrough
		case DigestOther:
			if err := d.Decode(&item.Data); err != nil {
				return nil, fmt.Errorf("failed to decode digest data %d: %w", i, err)
			}
		case DigestRuntimeEnvironmentUpdated:
		default:
			return nil, fmt.Errorf("%w: %d", errUnknownDigestItem, itemType)
		}
		header.Digest = append(header.Digest, item)
	}
	return &header, nil
}
