// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package inherent

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/ChainSafe/gossamer/pkg/scale"
	"github.com/ava-labs/avalanchego/utils/timer/mockable"

	"github.com/ava-labs/forkvm/runtime"
	"github.com/ava-labs/forkvm/storage"
)

// DefaultSlotDuration is used when the runtime exposes no slot duration.
const DefaultSlotDuration uint64 = 12_000

var timestampNowKey = storage.PrefixKey("Timestamp", "Now")

// Timestamp is Timestamp.set(now + slot duration), where now is the parent's
// Timestamp.Now.
type Timestamp struct {
	clock *mockable.Clock
}

// NewTimestamp falls back to [clock] when the parent has no timestamp.
func NewTimestamp(clock *mockable.Clock) *Timestamp {
	if clock == nil {
		clock = &mockable.Clock{}
	}
	return &Timestamp{clock: clock}
}

func (t *Timestamp) CreateInherents(ctx context.Context, parent Parent, params BuildParams) ([][]byte, error) {
	meta, err := parent.Meta(ctx)
	if err != nil {
		return nil, err
	}
	if !meta.HasCall("Timestamp", "set") {
		return nil, nil
	}

	var next uint64
	if params.Timestamp != nil {
		next = *params.Timestamp
	} else {
		now, err := t.parentTime(ctx, parent)
		if err != nil {
			return nil, err
		}
		slot, err := slotDuration(ctx, parent, meta, params)
		if err != nil {
			return nil, err
		}
		next = now + slot
	}

	arg, err := scale.Marshal(uint(next))
	if err != nil {
		return nil, err
	}
	ext, err := UnsignedExtrinsic(meta, "Timestamp", "set", arg)
	if err != nil {
		return nil, err
	}
	return [][]byte{ext}, nil
}

func (t *Timestamp) parentTime(ctx context.Context, parent Parent) (uint64, error) {
	v, err := parent.Get(ctx, timestampNowKey)
	if err != nil {
		return 0, err
	}
	if v.Exists() && len(v.Data) >= 8 {
		return binary.LittleEndian.Uint64(v.Data), nil
	}
	return uint64(t.clock.Time().UnixMilli()), nil
}

func slotDuration(ctx context.Context, parent Parent, meta runtime.Metadata, params BuildParams) (uint64, error) {
	if params.SlotDuration != nil {
		return *params.SlotDuration, nil
	}
	if v, ok := meta.Constant("Babe", "ExpectedBlockTime"); ok && len(v) >= 8 {
		return binary.LittleEndian.Uint64(v), nil
	}
	if meta.HasRuntimeAPI(runtime.AuraApiSlotDuration) {
		res, err := parent.Call(ctx, runtime.AuraApiSlotDuration, nil)
		if err != nil {
			return 0, fmt.Errorf("failed to read aura slot duration: %w", err)
		}
		if len(res.Result) < 8 {
			return 0, fmt.Errorf("aura slot duration of %d bytes", len(res.Result))
		}
		return binary.LittleEndian.Uint64(res.Result), nil
	}
	if v, ok := meta.Constant("AsyncBacking", "ExpectedBlockTime"); ok && len(v) >= 8 {
		return binary.LittleEndian.Uint64(v), nil
	}
	return DefaultSlotDuration, nil
}
