// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package inherent

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ChainSafe/gossamer/pkg/scale"

	log "github.com/inconshreveable/log15"
)

// genesisMaxPovSize is the PoV limit assumed when there is no previous
// validation data.
const genesisMaxPovSize = 5_000_000

var errNoValidationData = errors.New("parent block has no validation data inherent")

type persistedValidationData struct {
	ParentHead             []byte
	RelayParentNumber      uint32
	RelayParentStorageRoot [32]byte
	MaxPovSize             uint32
}

type inboundDownwardMessage struct {
	SentAt uint32
	Msg    []byte
}

type inboundHrmpMessage struct {
	SentAt uint32
	Data   []byte
}

// hrmpChannel is one entry of BTreeMap<ParaId, Vec<InboundHrmpMessage>>,
// which encodes like a sorted vector of pairs.
type hrmpChannel struct {
	Sender   uint32
	Messages []inboundHrmpMessage
}

type parachainInherentData struct {
	ValidationData     persistedValidationData
	RelayChainState    [][]byte
	DownwardMessages   []inboundDownwardMessage
	HorizontalMessages []hrmpChannel
}

// ValidationData is ParachainSystem.set_validation_data, derived from the
// parent's own validation data inherent. The relay parent advances by one,
// the parent head becomes the parent header and the inbound messages are the
// ones in the build params. The relay state proof is reused as-is.
type ValidationData struct{}

func (ValidationData) CreateInherents(ctx context.Context, parent Parent, params BuildParams) ([][]byte, error) {
	meta, err := parent.Meta(ctx)
	if err != nil {
		return nil, err
	}
	if !meta.HasCall("ParachainSystem", "set_validation_data") {
		return nil, nil
	}
	var (
		data parachainInherentData
		tail []byte
	)
	args, ok := FindCall(meta, parent.Extrinsics(), "ParachainSystem", "set_validation_data")
	switch {
	case ok:
		if err := scale.Unmarshal(args, &data); err != nil {
			return nil, fmt.Errorf("failed to decode parent validation data: %w", err)
		}
		// newer runtimes append fields this engine does not touch
		consumed, err := scale.Marshal(data)
		if err != nil {
			return nil, err
		}
		tail = args[len(consumed):]
	case parent.Number() == 0:
		// genesis carries no inherents, start from relay block 0
		data.ValidationData.MaxPovSize = genesisMaxPovSize
		data.RelayChainState = [][]byte{}
	default:
		return nil, errNoValidationData
	}

	parentHead, err := parent.Header().Bytes()
	if err != nil {
		return nil, err
	}
	data.ValidationData.ParentHead = parentHead
	data.ValidationData.RelayParentNumber++
	data.DownwardMessages = downwardMessages(params.DownwardMessages)
	data.HorizontalMessages = horizontalMessages(params.HorizontalMessages)

	encoded, err := scale.Marshal(data)
	if err != nil {
		return nil, err
	}
	log.Debug("built validation data",
		"relayParent", data.ValidationData.RelayParentNumber,
		"dmp", len(data.DownwardMessages),
		"hrmp", len(data.HorizontalMessages),
	)
	ext, err := UnsignedExtrinsic(meta, "ParachainSystem", "set_validation_data", encoded, tail)
	if err != nil {
		return nil, err
	}
	return [][]byte{ext}, nil
}

func downwardMessages(msgs []DownwardMessage) []inboundDownwardMessage {
	out := make([]inboundDownwardMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, inboundDownwardMessage{SentAt: m.SentAt, Msg: m.Msg})
	}
	return out
}

func horizontalMessages(msgs map[uint32][]HorizontalMessage) []hrmpChannel {
	out := make([]hrmpChannel, 0, len(msgs))
	for sender, ms := range msgs {
		channel := hrmpChannel{
			Sender:   sender,
			Messages: make([]inboundHrmpMessage, 0, len(ms)),
		}
		for _, m := range ms {
			channel.Messages = append(channel.Messages, inboundHrmpMessage{SentAt: m.SentAt, Data: m.Data})
		}
		out = append(out, channel)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sender < out[j].Sender })
	return out
}

// ParaInherentEnter is ParaInherent.enter for relay chains, with no
// bitfields, backed candidates or disputes.
type ParaInherentEnter struct{}

func (ParaInherentEnter) CreateInherents(ctx context.Context, parent Parent, _ BuildParams) ([][]byte, error) {
	meta, err := parent.Meta(ctx)
	if err != nil {
		return nil, err
	}
	if !meta.HasCall("ParaInherent", "enter") {
		return nil, nil
	}
	parentHeader, err := parent.Header().Bytes()
	if err != nil {
		return nil, err
	}
	// bitfields, backed_candidates and disputes are empty vectors
	ext, err := UnsignedExtrinsic(meta, "ParaInherent", "enter", []byte{0, 0, 0}, parentHeader)
	if err != nil {
		return nil, err
	}
	return [][]byte{ext}, nil
}
