// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package forkvm

import (
	"context"
	"errors"
	"fmt"

	log "github.com/inconshreveable/log15"

	"github.com/ava-labs/forkvm/inherent"
	"github.com/ava-labs/forkvm/runtime"
	"github.com/ava-labs/forkvm/storage"
	"github.com/ava-labs/forkvm/types"
)

var ErrInherentFailed = errors.New("failed to apply inherents")

// PhaseKind names a step of the build pipeline that produced a storage layer.
type PhaseKind byte

const (
	PhaseInitialize PhaseKind = iota
	PhaseInherent
	PhaseExtrinsic
	PhaseFinalize
)

func (k PhaseKind) String() string {
	switch k {
	case PhaseInitialize:
		return "initialize"
	case PhaseInherent:
		return "inherent"
	case PhaseExtrinsic:
		return "extrinsic"
	default:
		return "finalize"
	}
}

// Phase identifies an applied step. Index counts inherents and included
// extrinsics separately.
type Phase struct {
	Kind  PhaseKind
	Index int
}

// BuildCallbacks are optional observers called synchronously while a block
// is built.
type BuildCallbacks struct {
	// OnApplyExtrinsicError is called for an extrinsic the runtime rejected
	// as invalid. The extrinsic is dropped.
	OnApplyExtrinsicError func(extrinsic []byte, validityError []byte)
	// OnDispatchError is called for an included extrinsic whose call failed.
	OnDispatchError func(extrinsic []byte, dispatchError []byte)
	// OnPhaseApplied is called after a step's diff was applied.
	OnPhaseApplied func(phase Phase, resp *runtime.Response)
}

func (c *BuildCallbacks) applyExtrinsicError(ext, err []byte) {
	if c != nil && c.OnApplyExtrinsicError != nil {
		c.OnApplyExtrinsicError(ext, err)
	}
}

func (c *BuildCallbacks) dispatchError(ext, err []byte) {
	if c != nil && c.OnDispatchError != nil {
		c.OnDispatchError(ext, err)
	}
}

func (c *BuildCallbacks) phaseApplied(phase Phase, resp *runtime.Response) {
	if c != nil && c.OnPhaseApplied != nil {
		c.OnPhaseApplied(phase, resp)
	}
}

// BuildInput is everything a caller chooses about a new block.
type BuildInput struct {
	Params     inherent.BuildParams
	Extrinsics [][]byte
	// UpwardMessages are injected into the relay chain's queues, by para id.
	UpwardMessages map[uint32][][]byte
	Callbacks      *BuildCallbacks
	// Number overrides parent number + 1.
	Number *uint64
}

// pendingBlock is a block being built: one layer per applied step on top of
// the parent's storage.
type pendingBlock struct {
	*Block
	inherents [][]byte
}

// initBlock runs header synthesis, initialization and inherents. The layer
// returned as [afterInit] separates the initialization writes from the
// inherent writes.
func initBlock(
	ctx context.Context,
	parent *Block,
	inherents *inherent.Registry,
	params inherent.BuildParams,
	callbacks *BuildCallbacks,
	number *uint64,
) (pending *pendingBlock, afterInit *storage.Layer, err error) {
	header, sideEffects, err := newHeader(ctx, parent, number)
	if err != nil {
		return nil, nil, err
	}

	base := parent.Storage()
	block, err := newChildBlock(parent, base, header, nil, sideEffects)
	if err != nil {
		return nil, nil, err
	}

	headerBytes, err := header.Bytes()
	if err != nil {
		return nil, nil, err
	}
	resp, err := block.Call(ctx, runtime.CoreInitializeBlock, [][]byte{headerBytes})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize block %d: %w", header.Number, err)
	}
	block.PushStorageLayer().SetAll(resp.StorageDiff)
	callbacks.phaseApplied(Phase{Kind: PhaseInitialize}, resp)
	afterInit = block.PushStorageLayer()

	exts, err := inherents.Collect(ctx, parent, params)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInherentFailed, err)
	}
	for i, ext := range exts {
		resp, err := block.Call(ctx, runtime.BlockBuilderApplyExtrinsic, [][]byte{ext})
		if err != nil {
			log.Warn("failed to apply inherent", "index", i, "err", err)
			return nil, nil, fmt.Errorf("%w: inherent %d: %w", ErrInherentFailed, i, err)
		}
		res, err := runtime.ParseApplyResult(resp.Result)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: inherent %d: %w", ErrInherentFailed, i, err)
		}
		switch res.Outcome {
		case runtime.Invalid:
			return nil, nil, fmt.Errorf("%w: inherent %d invalid: 0x%x", ErrInherentFailed, i, res.Error)
		case runtime.DispatchFailed:
			log.Warn("inherent dispatch failed", "index", i, "error", fmt.Sprintf("0x%x", res.Error))
		}
		block.PushStorageLayer().SetAll(resp.StorageDiff)
		callbacks.phaseApplied(Phase{Kind: PhaseInherent, Index: i}, resp)
	}
	return &pendingBlock{Block: block, inherents: exts}, afterInit, nil
}

// BuildBlock builds a child of [parent]. Extrinsics the runtime refuses to
// apply are returned as pending and left out of the block. The new block's
// state is a single layer on top of [parent]'s storage.
func BuildBlock(ctx context.Context, parent *Block, inherents *inherent.Registry, in BuildInput) (*Block, [][]byte, error) {
	log.Info("building block",
		"parent", parent.Number(),
		"extrinsics", len(in.Extrinsics),
		"ump", len(in.UpwardMessages),
	)

	pending, _, err := initBlock(ctx, parent, inherents, in.Params, in.Callbacks, in.Number)
	if err != nil {
		return nil, nil, err
	}

	if len(in.UpwardMessages) > 0 {
		meta, err := pending.Meta(ctx)
		if err != nil {
			return nil, nil, err
		}
		writes, err := upwardMessageWrites(meta, in.UpwardMessages)
		if err != nil {
			return nil, nil, err
		}
		pending.PushStorageLayer().SetAll(writes)
	}

	var included, rejected [][]byte
	for _, ext := range in.Extrinsics {
		resp, err := pending.Call(ctx, runtime.BlockBuilderApplyExtrinsic, [][]byte{ext})
		if err != nil {
			log.Info("failed to apply extrinsic", "err", err)
			rejected = append(rejected, ext)
			continue
		}
		res, err := runtime.ParseApplyResult(resp.Result)
		if err != nil {
			log.Info("failed to parse extrinsic result", "err", err)
			rejected = append(rejected, ext)
			continue
		}
		switch res.Outcome {
		case runtime.Invalid:
			in.Callbacks.applyExtrinsicError(ext, res.Error)
			continue
		case runtime.DispatchFailed:
			in.Callbacks.dispatchError(ext, res.Error)
		}
		pending.PushStorageLayer().SetAll(resp.StorageDiff)
		included = append(included, ext)
		in.Callbacks.phaseApplied(Phase{Kind: PhaseExtrinsic, Index: len(included) - 1}, resp)
	}

	resp, err := pending.Call(ctx, runtime.BlockBuilderFinalizeBlock, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to finalize block %d: %w", pending.Number(), err)
	}
	pending.PushStorageLayer().SetAll(resp.StorageDiff)
	in.Callbacks.phaseApplied(Phase{Kind: PhaseFinalize}, resp)

	extrinsics := make([][]byte, 0, len(pending.inherents)+len(included))
	extrinsics = append(extrinsics, pending.inherents...)
	extrinsics = append(extrinsics, included...)
	block, err := newChildBlock(parent, pending.base, pending.Header(), extrinsics, pending.StorageDiff())
	if err != nil {
		return nil, nil, err
	}

	log.Info("built block",
		"number", block.Number(),
		"hash", block.Hash(),
		"extrinsics", len(included),
		"pending", len(rejected),
	)
	return block, rejected, nil
}

// DryRunInherents returns the writes of the inherents of a child of [parent].
func DryRunInherents(ctx context.Context, parent *Block, inherents *inherent.Registry, params inherent.BuildParams) ([]storage.KV, error) {
	pending, afterInit, err := initBlock(ctx, parent, inherents, params, nil, nil)
	if err != nil {
		return nil, err
	}
	diff := make(map[string]storage.Value)
	pending.Storage().MergeUntil(diff, afterInit)
	return storage.SortedDiff(diff), nil
}

func headerSlot(header *types.Header) (uint64, bool) {
	digest, err := types.ParseConsensusDigest(header.Digest)
	if err != nil {
		return 0, false
	}
	switch d := digest.(type) {
	case types.AuraDigest:
		return d.Slot, true
	case types.BabeDigest:
		return d.Slot, true
	case types.TwoEngineDigest:
		return d.Slot, true
	default:
		return 0, false
	}
}
