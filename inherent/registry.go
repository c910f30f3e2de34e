// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package inherent produces the inherent extrinsics a runtime expects at the
// start of every block.
package inherent

import (
	"context"
	"fmt"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/timer/mockable"

	log "github.com/inconshreveable/log15"

	"github.com/ava-labs/forkvm/runtime"
	"github.com/ava-labs/forkvm/storage"
	"github.com/ava-labs/forkvm/types"
)

// Parent is the block an inherent set is built on.
type Parent interface {
	Number() uint64
	Hash() ids.ID
	Header() *types.Header
	Extrinsics() [][]byte
	Meta(ctx context.Context) (runtime.Metadata, error)
	Get(ctx context.Context, key []byte) (storage.Value, error)
	Call(ctx context.Context, method string, args [][]byte) (*runtime.Response, error)
}

// DownwardMessage is a relay chain to parachain message.
type DownwardMessage struct {
	SentAt uint32
	Msg    []byte
}

// HorizontalMessage is a parachain to parachain message.
type HorizontalMessage struct {
	SentAt uint32
	Data   []byte
}

// BuildParams are the caller controlled inputs of one block.
type BuildParams struct {
	// Timestamp, when set, is used as the block timestamp in milliseconds.
	Timestamp *uint64
	// SlotDuration, when set, overrides the runtime's slot duration.
	SlotDuration *uint64

	DownwardMessages   []DownwardMessage
	HorizontalMessages map[uint32][]HorizontalMessage
}

// Provider creates zero or more inherents for a block on top of [parent].
// A provider whose target call is not in the parent's metadata returns no
// inherents and no error.
type Provider interface {
	CreateInherents(ctx context.Context, parent Parent, params BuildParams) ([][]byte, error)
}

// Registry runs its providers in order, the timestamp provider first.
type Registry struct {
	timestamp Provider
	providers []Provider
}

func NewRegistry(timestamp Provider, providers ...Provider) *Registry {
	return &Registry{
		timestamp: timestamp,
		providers: providers,
	}
}

// NewDefaultRegistry knows the inherents of aura, babe, nimbus, relay chain
// and parachain runtimes.
func NewDefaultRegistry(clock *mockable.Clock) *Registry {
	return NewRegistry(
		NewTimestamp(clock),
		ValidationData{},
		ParaInherentEnter{},
		NimbusAuthor{},
		NimbusSetAuthor{},
		BabeRandomness{},
		LatestAuthor{},
	)
}

// Collect concatenates the inherents of every provider.
func (r *Registry) Collect(ctx context.Context, parent Parent, params BuildParams) ([][]byte, error) {
	var inherents [][]byte
	for _, p := range append([]Provider{r.timestamp}, r.providers...) {
		exts, err := p.CreateInherents(ctx, parent, params)
		if err != nil {
			return nil, fmt.Errorf("inherent provider %T: %w", p, err)
		}
		inherents = append(inherents, exts...)
	}
	log.Debug("collected inherents", "parent", parent.Number(), "count", len(inherents))
	return inherents, nil
}

// emptyCall builds [pallet].[call]() when the parent runtime has it.
func emptyCall(ctx context.Context, parent Parent, pallet, call string) ([][]byte, error) {
	meta, err := parent.Meta(ctx)
	if err != nil {
		return nil, err
	}
	if !meta.HasCall(pallet, call) {
		return nil, nil
	}
	ext, err := UnsignedExtrinsic(meta, pallet, call)
	if err != nil {
		return nil, err
	}
	return [][]byte{ext}, nil
}

// NimbusAuthor is AuthorInherent.kick_off_authorship.
type NimbusAuthor struct{}

func (NimbusAuthor) CreateInherents(ctx context.Context, parent Parent, _ BuildParams) ([][]byte, error) {
	return emptyCall(ctx, parent, "AuthorInherent", "kick_off_authorship")
}

// BabeRandomness is Randomness.set_babe_randomness_results.
type BabeRandomness struct{}

func (BabeRandomness) CreateInherents(ctx context.Context, parent Parent, _ BuildParams) ([][]byte, error) {
	return emptyCall(ctx, parent, "Randomness", "set_babe_randomness_results")
}

// NimbusSetAuthor is the legacy AuthorInherent.set_author, re-using the
// author of the parent's nimbus digest.
type NimbusSetAuthor struct{}

func (NimbusSetAuthor) CreateInherents(ctx context.Context, parent Parent, _ BuildParams) ([][]byte, error) {
	meta, err := parent.Meta(ctx)
	if err != nil {
		return nil, err
	}
	if !meta.HasCall("AuthorInherent", "set_author") {
		return nil, nil
	}
	var author []byte
	for _, item := range parent.Header().Digest {
		if item.IsPreRuntime() && item.Engine == types.NimbusEngineID {
			author = item.Data
			break
		}
	}
	if author == nil {
		log.Debug("parent has no nimbus author, skipping set_author", "parent", parent.Number())
		return nil, nil
	}
	ext, err := UnsignedExtrinsic(meta, "AuthorInherent", "set_author", author)
	if err != nil {
		return nil, err
	}
	return [][]byte{ext}, nil
}

// LatestAuthor is AuthorNoting.set_latest_author_data with an empty relay
// storage proof.
type LatestAuthor struct{}

func (LatestAuthor) CreateInherents(ctx context.Context, parent Parent, _ BuildParams) ([][]byte, error) {
	meta, err := parent.Meta(ctx)
	if err != nil {
		return nil, err
	}
	if !meta.HasCall("AuthorNoting", "set_latest_author_data") {
		return nil, nil
	}
	// relay_storage_proof: StorageProof { trie_nodes: [] }
	ext, err := UnsignedExtrinsic(meta, "AuthorNoting", "set_latest_author_data", []byte{0})
	if err != nil {
		return nil, err
	}
	return [][]byte{ext}, nil
}
