// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package types

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	slotLen           = 8
	babeAuthorityLen  = 4
	babePreDigestBase = 1 + babeAuthorityLen + slotLen
)

// Babe pre-digest variants.
const (
	BabePrimary        byte = 1
	BabeSecondaryPlain byte = 2
	BabeSecondaryVRF   byte = 3
)

var (
	ErrUnknownDigest      = errors.New("unknown consensus digest")
	errMalformedPreDigest = errors.New("malformed pre-runtime digest")

	_ ConsensusDigest = AuraDigest{}
	_ ConsensusDigest = BabeDigest{}
	_ ConsensusDigest = TwoEngineDigest{}
	_ ConsensusDigest = AuthorOnlyDigest{}
	_ ConsensusDigest = NoDigest{}
)

// ConsensusDigest is the parsed pre-runtime part of a header digest. It is one
// of AuraDigest, BabeDigest, TwoEngineDigest, AuthorOnlyDigest or NoDigest.
type ConsensusDigest interface {
	// Items returns the pre-runtime logs that encode this digest.
	Items() []DigestItem
}

// AuraDigest is a plain slot number.
type AuraDigest struct {
	Slot uint64
}

func (d AuraDigest) Items() []DigestItem {
	return []DigestItem{PreRuntime(AuraEngineID, encodeSlot(d.Slot))}
}

// BabeDigest is a RawBabePreDigest. Rest holds the variant specific tail (VRF
// output and proof) and is carried unchanged.
type BabeDigest struct {
	Variant        byte
	AuthorityIndex uint32
	Slot           uint64
	Rest           []byte
}

func (d BabeDigest) Items() []DigestItem {
	data := make([]byte, babePreDigestBase, babePreDigestBase+len(d.Rest))
	data[0] = d.Variant
	binary.LittleEndian.PutUint32(data[1:], d.AuthorityIndex)
	binary.LittleEndian.PutUint64(data[1+babeAuthorityLen:], d.Slot)
	data = append(data, d.Rest...)
	return []DigestItem{PreRuntime(BabeEngineID, data)}
}

// TwoEngineDigest carries a relay-style aura slot together with a nimbus
// author key.
type TwoEngineDigest struct {
	Slot   uint64
	Author []byte
}

func (d TwoEngineDigest) Items() []DigestItem {
	return []DigestItem{
		PreRuntime(AuraEngineID, encodeSlot(d.Slot)),
		PreRuntime(NimbusEngineID, d.Author),
	}
}

// AuthorOnlyDigest is a nimbus author marker without a slot.
type AuthorOnlyDigest struct {
	Author []byte
}

func (d AuthorOnlyDigest) Items() []DigestItem {
	return []DigestItem{PreRuntime(NimbusEngineID, d.Author)}
}

// NoDigest is a header without pre-runtime logs.
type NoDigest struct{}

func (NoDigest) Items() []DigestItem { return nil }

// ParseConsensusDigest classifies the pre-runtime logs of [items].
func ParseConsensusDigest(items []DigestItem) (ConsensusDigest, error) {
	var aura, babe, nimbus *DigestItem
	for i := range items {
		item := &items[i]
		if !item.IsPreRuntime() {
			continue
		}
		switch item.Engine {
		case AuraEngineID:
			aura = item
		case BabeEngineID:
			babe = item
		case NimbusEngineID:
			nimbus = item
		default:
			return nil, fmt.Errorf("%w: engine %q", ErrUnknownDigest, item.Engine.String())
		}
	}

	switch {
	case aura != nil && nimbus != nil:
		slot, err := decodeSlot(aura.Data)
		if err != nil {
			return nil, err
		}
		return TwoEngineDigest{Slot: slot, Author: copyBytes(nimbus.Data)}, nil
	case aura != nil:
		slot, err := decodeSlot(aura.Data)
		if err != nil {
			return nil, err
		}
		return AuraDigest{Slot: slot}, nil
	case babe != nil:
		digest, err := parseBabe(babe.Data)
		if err != nil {
			return nil, err
		}
		return digest, nil
	case nimbus != nil:
		return AuthorOnlyDigest{Author: copyBytes(nimbus.Data)}, nil
	default:
		return NoDigest{}, nil
	}
}

// NonPreRuntime returns the logs that are carried into a child header as-is.
func NonPreRuntime(items []DigestItem) []DigestItem {
	var out []DigestItem
	for _, item := range items {
		if item.IsPreRuntime() {
			continue
		}
		out = append(out, item)
	}
	return out
}

func parseBabe(data []byte) (BabeDigest, error) {
	if len(data) < babePreDigestBase {
		return BabeDigest{}, fmt.Errorf("%w: babe digest of %d bytes", errMalformedPreDigest, len(data))
	}
	switch data[0] {
	case BabePrimary, BabeSecondaryPlain, BabeSecondaryVRF:
	default:
		return BabeDigest{}, fmt.Errorf("%w: babe variant %d", ErrUnknownDigest, data[0])
	}
	return BabeDigest{
		Variant:        data[0],
		AuthorityIndex: binary.LittleEndian.Uint32(data[1:]),
		Slot:           binary.LittleEndian.Uint64(data[1+babeAuthorityLen:]),
		Rest:           copyBytes(data[babePreDigestBase:]),
	}, nil
}

func encodeSlot(slot uint64) []byte {
	b := make([]byte, slotLen)
	binary.LittleEndian.PutUint64(b, slot)
	return b
}

func decodeSlot(data []byte) (uint64, error) {
	if len(data) != slotLen {
		return 0, fmt.Errorf("%w: slot of %d bytes", errMalformedPreDigest, len(data))
	}
	return binary.LittleEndian.Uint64(data), nil
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}
