// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package forkvm

import (
	"errors"
	"net/http"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/rpc/v2"

	cjson "github.com/ava-labs/avalanchego/utils/json"

	"github.com/ava-labs/forkvm/inherent"
	"github.com/ava-labs/forkvm/storage"
)

// Name is the name the service is registered under.
const Name = "forkvm"

var errHashAndNumber = errors.New("only one of hash and number may be set")

// Service is the JSON-RPC API of a Chain
type Service struct{ chain *Chain }

// NewHandler serves the API of [chain] over HTTP.
func NewHandler(chain *Chain) (http.Handler, error) {
	server := rpc.NewServer()
	server.RegisterCodec(cjson.NewCodec(), "application/json")
	server.RegisterCodec(cjson.NewCodec(), "application/json;charset=UTF-8")
	if err := server.RegisterService(&Service{chain: chain}, Name); err != nil {
		return nil, err
	}
	return server, nil
}

// StorageItem is one storage write. A nil Value deletes the key.
type StorageItem struct {
	Key   hexutil.Bytes  `json:"key"`
	Value *hexutil.Bytes `json:"value"`
}

func toStorageItems(kvs []storage.KV) []StorageItem {
	items := make([]StorageItem, 0, len(kvs))
	for _, kv := range kvs {
		item := StorageItem{Key: kv.Key}
		if kv.Value.Exists() {
			v := hexutil.Bytes(kv.Value.Data)
			item.Value = &v
		}
		items = append(items, item)
	}
	return items
}

func fromStorageItems(items []StorageItem) []storage.KV {
	kvs := make([]storage.KV, 0, len(items))
	for _, item := range items {
		value := storage.DeletedValue
		if item.Value != nil {
			value = storage.NewValue(*item.Value)
		}
		kvs = append(kvs, storage.KV{Key: item.Key, Value: value})
	}
	return kvs
}

type DownwardMessageArgs struct {
	SentAt cjson.Uint32  `json:"sentAt"`
	Msg    hexutil.Bytes `json:"msg"`
}

type HorizontalMessageArgs struct {
	SentAt cjson.Uint32  `json:"sentAt"`
	Data   hexutil.Bytes `json:"data"`
}

// BuildParamsArgs are the inherent inputs of a block. Timestamps are in
// milliseconds.
type BuildParamsArgs struct {
	Timestamp          *cjson.Uint64                      `json:"timestamp"`
	SlotDuration       *cjson.Uint64                      `json:"slotDuration"`
	DownwardMessages   []DownwardMessageArgs              `json:"downwardMessages"`
	HorizontalMessages map[uint32][]HorizontalMessageArgs `json:"horizontalMessages"`
}

func (a *BuildParamsArgs) params() inherent.BuildParams {
	var params inherent.BuildParams
	if a.Timestamp != nil {
		ts := uint64(*a.Timestamp)
		params.Timestamp = &ts
	}
	if a.SlotDuration != nil {
		d := uint64(*a.SlotDuration)
		params.SlotDuration = &d
	}
	for _, m := range a.DownwardMessages {
		params.DownwardMessages = append(params.DownwardMessages, inherent.DownwardMessage{
			SentAt: uint32(m.SentAt),
			Msg:    m.Msg,
		})
	}
	if len(a.HorizontalMessages) > 0 {
		params.HorizontalMessages = make(map[uint32][]inherent.HorizontalMessage, len(a.HorizontalMessages))
		for sender, msgs := range a.HorizontalMessages {
			for _, m := range msgs {
				params.HorizontalMessages[sender] = append(params.HorizontalMessages[sender], inherent.HorizontalMessage{
					SentAt: uint32(m.SentAt),
					Data:   m.Data,
				})
			}
		}
	}
	return params
}

type NewBlockArgs struct {
	BuildParamsArgs
	Extrinsics     []hexutil.Bytes            `json:"extrinsics"`
	UpwardMessages map[uint32][]hexutil.Bytes `json:"upwardMessages"`
	Number         *cjson.Uint64              `json:"number"`
}

type NewBlockReply struct {
	Hash    ids.ID          `json:"hash"`
	Number  cjson.Uint64    `json:"number"`
	Pending []hexutil.Bytes `json:"pending"`
}

// NewBlock builds a block with [args].Extrinsics on top of the head.
func (s *Service) NewBlock(r *http.Request, args *NewBlockArgs, reply *NewBlockReply) error {
	in := BuildInput{
		Params:     args.params(),
		Extrinsics: make([][]byte, 0, len(args.Extrinsics)),
	}
	for _, ext := range args.Extrinsics {
		in.Extrinsics = append(in.Extrinsics, ext)
	}
	if len(args.UpwardMessages) > 0 {
		in.UpwardMessages = make(map[uint32][][]byte, len(args.UpwardMessages))
		for id, msgs := range args.UpwardMessages {
			for _, m := range msgs {
				in.UpwardMessages[id] = append(in.UpwardMessages[id], m)
			}
		}
	}
	if args.Number != nil {
		n := uint64(*args.Number)
		in.Number = &n
	}

	blk, pending, err := s.chain.NewBlock(r.Context(), in)
	if err != nil {
		return err
	}
	reply.Hash = blk.Hash()
	reply.Number = cjson.Uint64(blk.Number())
	reply.Pending = make([]hexutil.Bytes, 0, len(pending))
	for _, ext := range pending {
		reply.Pending = append(reply.Pending, ext)
	}
	return nil
}

// GetBlockArgs selects a block by hash or number. The head is used when
// neither is set.
type GetBlockArgs struct {
	Hash   *ids.ID       `json:"hash"`
	Number *cjson.Uint64 `json:"number"`
}

type GetBlockReply struct {
	Hash       ids.ID          `json:"hash"`
	ParentHash ids.ID          `json:"parentHash"`
	Number     cjson.Uint64    `json:"number"`
	Header     hexutil.Bytes   `json:"header"`
	Extrinsics []hexutil.Bytes `json:"extrinsics"`
	// Slot is set for blocks with a slot based digest.
	Slot *cjson.Uint64 `json:"slot,omitempty"`
}

func (s *Service) block(r *http.Request, args *GetBlockArgs) (*Block, error) {
	switch {
	case args.Hash != nil && args.Number != nil:
		return nil, errHashAndNumber
	case args.Hash != nil:
		return s.chain.GetBlock(r.Context(), *args.Hash)
	case args.Number != nil:
		return s.chain.GetBlockAt(r.Context(), uint64(*args.Number))
	default:
		return s.chain.Head(), nil
	}
}

// GetBlock returns the header and extrinsics of a block.
func (s *Service) GetBlock(r *http.Request, args *GetBlockArgs, reply *GetBlockReply) error {
	blk, err := s.block(r, args)
	if err != nil {
		return err
	}
	header, err := blk.Header().Bytes()
	if err != nil {
		return err
	}
	reply.Hash = blk.Hash()
	reply.ParentHash = blk.Header().ParentHash
	reply.Number = cjson.Uint64(blk.Number())
	reply.Header = header
	if slot, ok := headerSlot(blk.Header()); ok {
		v := cjson.Uint64(slot)
		reply.Slot = &v
	}
	reply.Extrinsics = make([]hexutil.Bytes, 0, len(blk.Extrinsics()))
	for _, ext := range blk.Extrinsics() {
		reply.Extrinsics = append(reply.Extrinsics, ext)
	}
	return nil
}

type SetHeadArgs struct {
	Hash ids.ID `json:"hash"`
}

type SetHeadReply struct {
	Number cjson.Uint64 `json:"number"`
}

// SetHead moves the head to an earlier block.
func (s *Service) SetHead(r *http.Request, args *SetHeadArgs, reply *SetHeadReply) error {
	blk, err := s.chain.SetHead(r.Context(), args.Hash)
	if err != nil {
		return err
	}
	reply.Number = cjson.Uint64(blk.Number())
	return nil
}

type SetStorageArgs struct {
	Items []StorageItem `json:"items"`
}

type SetStorageReply struct {
	Hash ids.ID `json:"hash"`
}

// SetStorage overrides storage of the head block.
func (s *Service) SetStorage(_ *http.Request, args *SetStorageArgs, reply *SetStorageReply) error {
	blk, err := s.chain.SetStorage(fromStorageItems(args.Items))
	if err != nil {
		return err
	}
	reply.Hash = blk.Hash()
	return nil
}

// DryRunExtrinsicArgs holds either a complete extrinsic or a call to sign
// with a fake signature of Address.
type DryRunExtrinsicArgs struct {
	BuildParamsArgs
	Extrinsic hexutil.Bytes `json:"extrinsic"`
	Call      hexutil.Bytes `json:"call"`
	Address   string        `json:"address"`
}

type DryRunReply struct {
	Result      hexutil.Bytes `json:"result,omitempty"`
	StorageDiff []StorageItem `json:"storageDiff"`
}

// DryRunExtrinsic applies one extrinsic on a child of the head without
// keeping its effects.
func (s *Service) DryRunExtrinsic(r *http.Request, args *DryRunExtrinsicArgs, reply *DryRunReply) error {
	resp, err := s.chain.DryRunExtrinsic(r.Context(), args.params(), DryRunInput{
		Extrinsic: args.Extrinsic,
		Call:      args.Call,
		Address:   args.Address,
	})
	if err != nil {
		return err
	}
	reply.Result = resp.Result
	reply.StorageDiff = toStorageItems(resp.StorageDiff)
	return nil
}

// DryRunInherents returns the writes of the inherents of the next block.
func (s *Service) DryRunInherents(r *http.Request, args *BuildParamsArgs, reply *DryRunReply) error {
	diff, err := s.chain.DryRunInherents(r.Context(), args.params())
	if err != nil {
		return err
	}
	reply.StorageDiff = toStorageItems(diff)
	return nil
}

type DecodeKeyArgs struct {
	GetBlockArgs
	Key hexutil.Bytes `json:"key"`
}

type DecodeKeyReply struct {
	Found   bool          `json:"found"`
	Section string        `json:"section,omitempty"`
	Method  string        `json:"method,omitempty"`
	Args    []interface{} `json:"args,omitempty"`
	Value   interface{}   `json:"value,omitempty"`
}

// DecodeKey decodes a storage key and its value at a block.
func (s *Service) DecodeKey(r *http.Request, args *DecodeKeyArgs, reply *DecodeKeyReply) error {
	blk, err := s.block(r, &args.GetBlockArgs)
	if err != nil {
		return err
	}
	meta, err := blk.Meta(r.Context())
	if err != nil {
		return err
	}
	value, err := blk.Get(r.Context(), args.Key)
	if err != nil {
		return err
	}
	decoded, ok := s.chain.Decoder().DecodeKeyValue(meta, args.Key, value)
	if !ok {
		return nil
	}
	reply.Found = true
	reply.Section = decoded.Section
	reply.Method = decoded.Method
	reply.Args = decoded.Args
	reply.Value = decoded.Value
	return nil
}

type StorageDiffReply struct {
	Diff     []StorageItem          `json:"diff"`
	OldState map[string]interface{} `json:"oldState"`
	NewState map[string]interface{} `json:"newState"`
}

// GetStorageDiff returns the writes of a built block, raw and decoded
// against its parent.
func (s *Service) GetStorageDiff(r *http.Request, args *GetBlockArgs, reply *StorageDiffReply) error {
	blk, err := s.block(r, args)
	if err != nil {
		return err
	}
	diff := blk.StorageDiff()
	reply.Diff = toStorageItems(diff)

	parent := blk.Parent()
	if parent == nil {
		return nil
	}
	reply.OldState, reply.NewState, err = s.chain.Decoder().DecodeBlockStorageDiff(r.Context(), parent, diff)
	return err
}
