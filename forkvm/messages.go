// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package forkvm

import (
	"encoding/binary"
	"errors"
	"sort"

	"github.com/ChainSafe/gossamer/pkg/scale"

	log "github.com/inconshreveable/log15"

	"github.com/ava-labs/forkvm/runtime"
	"github.com/ava-labs/forkvm/storage"
)

var ErrUnknownQueueShape = errors.New("unknown upward message queue storage")

type queueSize struct {
	Count uint32
	Size  uint32
}

// umpOrigin is AggregateMessageOrigin::Ump(UmpQueueId::Para(id)).
type umpOrigin [6]byte

func newUmpOrigin(paraID uint32) umpOrigin {
	var o umpOrigin
	binary.LittleEndian.PutUint32(o[2:], paraID)
	return o
}

type neighbours struct {
	Prev umpOrigin
	Next umpOrigin
}

type bookState struct {
	Begin           uint32
	End             uint32
	Count           uint32
	ReadyNeighbours *neighbours
	MessageCount    uint64
	Size            uint64
}

type page struct {
	Remaining     uint32
	RemainingSize uint32
	FirstIndex    uint32
	First         uint32
	Last          uint32
	Heap          []byte
}

type heapItemHeader struct {
	PayloadLen  uint32
	IsProcessed bool
}

// upwardMessageWrites writes [ump] straight into the relay chain's queue
// storage, bypassing the runtime. Each para's queue is replaced, not
// appended to.
func upwardMessageWrites(meta runtime.Metadata, ump map[uint32][][]byte) ([]storage.KV, error) {
	paraIDs := make([]uint32, 0, len(ump))
	for id := range ump {
		paraIDs = append(paraIDs, id)
	}
	sort.Slice(paraIDs, func(i, j int) bool { return paraIDs[i] < paraIDs[j] })

	legacy := meta.HasStorage("Ump", "RelayDispatchQueues")
	if !legacy && !meta.HasStorage("MessageQueue", "BookStateFor") {
		return nil, ErrUnknownQueueShape
	}

	var writes []storage.KV
	for _, id := range paraIDs {
		msgs := ump[id]
		size := 0
		for _, m := range msgs {
			size += len(m)
		}

		var (
			kvs []storage.KV
			err error
		)
		if legacy {
			kvs, err = legacyQueueWrites(id, msgs, size)
		} else {
			kvs, err = pagedQueueWrites(id, msgs, size)
		}
		if err != nil {
			return nil, err
		}
		writes = append(writes, kvs...)
		log.Debug("injected upward messages", "para", id, "count", len(msgs), "size", size)
	}

	if legacy {
		needsDispatch, err := scale.Marshal(paraIDs)
		if err != nil {
			return nil, err
		}
		writes = append(writes, storage.KV{
			Key:   storage.PrefixKey("Ump", "NeedsDispatch"),
			Value: storage.NewValue(needsDispatch),
		})
	}
	return writes, nil
}

func legacyQueueWrites(paraID uint32, msgs [][]byte, size int) ([]storage.KV, error) {
	paraKey := storage.Twox64Concat.Hash(scale.MustMarshal(paraID))
	queue, err := scale.Marshal(msgs)
	if err != nil {
		return nil, err
	}
	queueSizeBytes, err := scale.Marshal(queueSize{Count: uint32(len(msgs)), Size: uint32(size)})
	if err != nil {
		return nil, err
	}
	return []storage.KV{
		{Key: storage.MapKey("Ump", "RelayDispatchQueues", paraKey), Value: storage.NewValue(queue)},
		{Key: storage.MapKey("Ump", "RelayDispatchQueueSize", paraKey), Value: storage.NewValue(queueSizeBytes)},
	}, nil
}

func pagedQueueWrites(paraID uint32, msgs [][]byte, size int) ([]storage.KV, error) {
	origin := newUmpOrigin(paraID)
	originKey := storage.Twox64Concat.Hash(origin[:])
	pageKey := storage.Twox64Concat.Hash(scale.MustMarshal(uint32(0)))

	var (
		heap []byte
		last int
	)
	for _, m := range msgs {
		header, err := scale.Marshal(heapItemHeader{PayloadLen: uint32(len(m))})
		if err != nil {
			return nil, err
		}
		last = len(heap)
		heap = append(heap, header...)
		heap = append(heap, m...)
	}

	book, err := scale.Marshal(bookState{
		Begin:           0,
		End:             1,
		Count:           1,
		ReadyNeighbours: &neighbours{Prev: origin, Next: origin},
		MessageCount:    uint64(len(msgs)),
		Size:            uint64(size),
	})
	if err != nil {
		return nil, err
	}
	pg, err := scale.Marshal(page{
		Remaining:     uint32(len(msgs)),
		RemainingSize: uint32(size),
		Last:          uint32(last),
		Heap:          heap,
	})
	if err != nil {
		return nil, err
	}
	return []storage.KV{
		{Key: storage.MapKey("MessageQueue", "BookStateFor", originKey), Value: storage.NewValue(book)},
		{Key: storage.PrefixKey("MessageQueue", "ServiceHead"), Value: storage.NewValue(origin[:])},
		{Key: storage.MapKey("MessageQueue", "Pages", originKey, pageKey), Value: storage.NewValue(pg)},
	}, nil
}
