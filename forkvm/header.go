// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package forkvm

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ChainSafe/gossamer/pkg/scale"

	log "github.com/inconshreveable/log15"

	"github.com/ava-labs/forkvm/runtime"
	"github.com/ava-labs/forkvm/storage"
	"github.com/ava-labs/forkvm/types"
)

var (
	babeCurrentSlotKey         = storage.PrefixKey("Babe", "CurrentSlot")
	notingAuthoritiesKey       = storage.PrefixKey("AuthoritiesNoting", "Authorities")
	randomnessNotFirstBlockKey = storage.PrefixKey("Randomness", "NotFirstBlock")

	errNoAuthorities = errors.New("no authorities to pick the next author from")
)

// newHeader synthesizes the header of the child of [parent]. Writes the
// runtime needs before initialization are returned as [sideEffects].
func newHeader(ctx context.Context, parent *Block, number *uint64) (header *types.Header, sideEffects []storage.KV, err error) {
	parentHeader := parent.Header()
	digest, err := types.ParseConsensusDigest(parentHeader.Digest)
	if err != nil {
		return nil, nil, err
	}

	var next types.ConsensusDigest
	switch d := digest.(type) {
	case types.AuraDigest:
		next = types.AuraDigest{Slot: d.Slot + 1}
	case types.BabeDigest:
		slot, err := babeSlot(ctx, parent, d)
		if err != nil {
			return nil, nil, err
		}
		d.Slot = slot + 1
		next = d
	case types.TwoEngineDigest:
		slot := d.Slot + 1
		author, err := nextAuthor(ctx, parent, slot)
		if err != nil {
			return nil, nil, err
		}
		next = types.TwoEngineDigest{Slot: slot, Author: author}
	case types.AuthorOnlyDigest:
		next = d
		meta, err := parent.Meta(ctx)
		if err != nil {
			return nil, nil, err
		}
		// no VRF proof is produced, so randomness must skip its checks
		if meta.HasStorage("Randomness", "NotFirstBlock") {
			sideEffects = append(sideEffects, storage.KV{Key: randomnessNotFirstBlockKey, Value: storage.DeletedValue})
		}
	case types.NoDigest:
		next = d
	default:
		return nil, nil, fmt.Errorf("%w: %T", types.ErrUnknownDigest, digest)
	}

	header = &types.Header{
		ParentHash: parent.Hash(),
		Number:     parent.Number() + 1,
		Digest:     append(next.Items(), types.NonPreRuntime(parentHeader.Digest)...),
	}
	if number != nil {
		header.Number = *number
	}
	return header, sideEffects, nil
}

// babeSlot is the parent's current slot, or the slot of its digest when the
// runtime does not store one.
func babeSlot(ctx context.Context, parent *Block, d types.BabeDigest) (uint64, error) {
	v, err := parent.Get(ctx, babeCurrentSlotKey)
	if err != nil {
		return 0, err
	}
	if !v.Exists() || len(v.Data) < 8 {
		return d.Slot, nil
	}
	return binary.LittleEndian.Uint64(v.Data), nil
}

// nextAuthor picks authorities[slot % n] from the container chain's noted
// authorities, or from the aura authority set.
func nextAuthor(ctx context.Context, parent *Block, slot uint64) ([]byte, error) {
	var raw []byte
	v, err := parent.Get(ctx, notingAuthoritiesKey)
	if err != nil {
		return nil, err
	}
	if v.Exists() {
		raw = v.Data
	} else {
		res, err := parent.Call(ctx, runtime.AuraApiAuthorities, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch aura authorities: %w", err)
		}
		raw = res.Result
	}

	var authorities [][32]byte
	if err := scale.Unmarshal(raw, &authorities); err != nil {
		return nil, fmt.Errorf("failed to decode authorities: %w", err)
	}
	if len(authorities) == 0 {
		return nil, errNoAuthorities
	}
	author := authorities[slot%uint64(len(authorities))]
	log.Debug("picked next author", "slot", slot, "authorities", len(authorities))
	return author[:], nil
}
