// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package client

import (
	"context"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/rpc"

	"github.com/ava-labs/forkvm/forkvm"
)

// Client defines forkvm client operations.
type Client interface {
	// NewBlock builds a block on the head and returns it with the
	// extrinsics left pending
	NewBlock(ctx context.Context, args *forkvm.NewBlockArgs) (*forkvm.NewBlockReply, error)

	// GetBlock fetches a block by hash or number, or the head when
	// [args] is empty
	GetBlock(ctx context.Context, args *forkvm.GetBlockArgs) (*forkvm.GetBlockReply, error)

	// SetHead moves the head and returns its number
	SetHead(ctx context.Context, hash ids.ID) (uint64, error)

	// SetStorage overrides storage of the head
	SetStorage(ctx context.Context, items []forkvm.StorageItem) (ids.ID, error)

	DryRunExtrinsic(ctx context.Context, args *forkvm.DryRunExtrinsicArgs) (*forkvm.DryRunReply, error)
	DryRunInherents(ctx context.Context, args *forkvm.BuildParamsArgs) (*forkvm.DryRunReply, error)

	DecodeKey(ctx context.Context, args *forkvm.DecodeKeyArgs) (*forkvm.DecodeKeyReply, error)
	GetStorageDiff(ctx context.Context, args *forkvm.GetBlockArgs) (*forkvm.StorageDiffReply, error)
}

// New creates a new client object.
func New(uri string) Client {
	req := rpc.NewEndpointRequester(uri)
	return &client{req: req}
}

type client struct {
	req rpc.EndpointRequester
}

func (cli *client) NewBlock(ctx context.Context, args *forkvm.NewBlockArgs) (*forkvm.NewBlockReply, error) {
	resp := new(forkvm.NewBlockReply)
	err := cli.req.SendRequest(ctx, forkvm.Name+".newBlock", args, resp)
	return resp, err
}

func (cli *client) GetBlock(ctx context.Context, args *forkvm.GetBlockArgs) (*forkvm.GetBlockReply, error) {
	resp := new(forkvm.GetBlockReply)
	err := cli.req.SendRequest(ctx, forkvm.Name+".getBlock", args, resp)
	return resp, err
}

func (cli *client) SetHead(ctx context.Context, hash ids.ID) (uint64, error) {
	resp := new(forkvm.SetHeadReply)
	err := cli.req.SendRequest(ctx,
		forkvm.Name+".setHead",
		&forkvm.SetHeadArgs{Hash: hash},
		resp,
	)
	if err != nil {
		return 0, err
	}
	return uint64(resp.Number), nil
}

func (cli *client) SetStorage(ctx context.Context, items []forkvm.StorageItem) (ids.ID, error) {
	resp := new(forkvm.SetStorageReply)
	err := cli.req.SendRequest(ctx,
		forkvm.Name+".setStorage",
		&forkvm.SetStorageArgs{Items: items},
		resp,
	)
	if err != nil {
		return ids.Empty, err
	}
	return resp.Hash, nil
}

func (cli *client) DryRunExtrinsic(ctx context.Context, args *forkvm.DryRunExtrinsicArgs) (*forkvm.DryRunReply, error) {
	resp := new(forkvm.DryRunReply)
	err := cli.req.SendRequest(ctx, forkvm.Name+".dryRunExtrinsic", args, resp)
	return resp, err
}

func (cli *client) DryRunInherents(ctx context.Context, args *forkvm.BuildParamsArgs) (*forkvm.DryRunReply, error) {
	resp := new(forkvm.DryRunReply)
	err := cli.req.SendRequest(ctx, forkvm.Name+".dryRunInherents", args, resp)
	return resp, err
}

func (cli *client) DecodeKey(ctx context.Context, args *forkvm.DecodeKeyArgs) (*forkvm.DecodeKeyReply, error) {
	resp := new(forkvm.DecodeKeyReply)
	err := cli.req.SendRequest(ctx, forkvm.Name+".decodeKey", args, resp)
	return resp, err
}

func (cli *client) GetStorageDiff(ctx context.Context, args *forkvm.GetBlockArgs) (*forkvm.StorageDiffReply, error) {
	resp := new(forkvm.StorageDiffReply)
	err := cli.req.SendRequest(ctx, forkvm.Name+".getStorageDiff", args, resp)
	return resp, err
}
