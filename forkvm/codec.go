// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package forkvm

import (
	"errors"

	"github.com/ChainSafe/gossamer/pkg/scale"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/wrappers"

	"github.com/ava-labs/forkvm/storage"
	"github.com/ava-labs/forkvm/types"
)

const (
	// CodecVersion is the current block record format
	CodecVersion byte = 0
)

var (
	errBlockWrongVersion = errors.New("wrong version")
	errEmptyBlockRecord  = errors.New("empty block record")
)

type diffEntry struct {
	Key     []byte
	Deleted bool
	Value   []byte
}

// blockRecord is the persisted form of a built block. Its state is the diff
// against its parent.
type blockRecord struct {
	Number     uint64
	Parent     [32]byte
	Header     []byte
	Extrinsics [][]byte
	Diff       []diffEntry
}

func newBlockRecord(blk *Block) (*blockRecord, error) {
	headerBytes, err := blk.Header().Bytes()
	if err != nil {
		return nil, err
	}
	var parent ids.ID
	if blk.Parent() != nil {
		parent = blk.Parent().Hash()
	}
	diff := blk.StorageDiff()
	record := &blockRecord{
		Number:     blk.Number(),
		Parent:     parent,
		Header:     headerBytes,
		Extrinsics: blk.Extrinsics(),
		Diff:       make([]diffEntry, 0, len(diff)),
	}
	for _, kv := range diff {
		record.Diff = append(record.Diff, diffEntry{
			Key:     kv.Key,
			Deleted: kv.Value.Kind == storage.Deleted,
			Value:   kv.Value.Data,
		})
	}
	return record, nil
}

func (r *blockRecord) header() (*types.Header, error) {
	return types.ParseHeader(r.Header)
}

func (r *blockRecord) diff() []storage.KV {
	kvs := make([]storage.KV, 0, len(r.Diff))
	for _, e := range r.Diff {
		v := storage.NewValue(e.Value)
		if e.Deleted {
			v = storage.DeletedValue
		}
		kvs = append(kvs, storage.KV{Key: e.Key, Value: v})
	}
	return kvs
}

func marshalBlockRecord(r *blockRecord) ([]byte, error) {
	b, err := scale.Marshal(*r)
	if err != nil {
		return nil, err
	}
	return append([]byte{CodecVersion}, b...), nil
}

func unmarshalBlockRecord(b []byte) (*blockRecord, error) {
	if len(b) == 0 {
		return nil, errEmptyBlockRecord
	}
	if b[0] != CodecVersion {
		return nil, errBlockWrongVersion
	}
	r := &blockRecord{}
	if err := scale.Unmarshal(b[1:], r); err != nil {
		return nil, err
	}
	return r, nil
}

// closeAll closes every closer and reports all failures.
func closeAll(closers ...func() error) error {
	errs := wrappers.Errs{}
	for _, c := range closers {
		errs.Add(c())
	}
	return errs.Err
}
