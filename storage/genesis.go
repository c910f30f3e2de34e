// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/ava-labs/forkvm/types"
)

var (
	errNoRawGenesis = errors.New("chain spec has no raw genesis storage")

	_ Provider = (*GenesisProvider)(nil)
)

type chainSpec struct {
	Name    string `json:"name"`
	ID      string `json:"id"`
	Genesis struct {
		Raw *struct {
			Top map[string]hexutil.Bytes `json:"top"`
		} `json:"raw"`
	} `json:"genesis"`
}

// GenesisProvider serves block 0 of a chain built from a raw chain spec. It
// is used instead of a network provider to fork a chain that is not running.
type GenesisProvider struct {
	name   string
	header *types.Header
	hash   ids.ID
	top    map[string][]byte
}

// LoadGenesis reads a raw chain spec from [path].
func LoadGenesis(path string) (*GenesisProvider, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseGenesis(b)
}

// ParseGenesis parses a raw chain spec. The genesis header has zeroed roots.
func ParseGenesis(b []byte) (*GenesisProvider, error) {
	var spec chainSpec
	if err := json.Unmarshal(b, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse chain spec: %w", err)
	}
	if spec.Genesis.Raw == nil {
		return nil, errNoRawGenesis
	}

	top := make(map[string][]byte, len(spec.Genesis.Raw.Top))
	for k, v := range spec.Genesis.Raw.Top {
		key, err := hexutil.Decode(k)
		if err != nil {
			return nil, fmt.Errorf("bad genesis key %q: %w", k, err)
		}
		top[string(key)] = v
	}

	header := &types.Header{}
	hash, err := header.Hash()
	if err != nil {
		return nil, err
	}
	return &GenesisProvider{
		name:   spec.Name,
		header: header,
		hash:   hash,
		top:    top,
	}, nil
}

// Name is the chain name from the spec.
func (g *GenesisProvider) Name() string { return g.name }

func (g *GenesisProvider) GetStorage(_ context.Context, blockHash ids.ID, key []byte) ([]byte, bool, error) {
	if blockHash != g.hash {
		return nil, false, nil
	}
	value, ok := g.top[string(key)]
	return value, ok, nil
}

func (g *GenesisProvider) GetHeader(_ context.Context, hash ids.ID) (*types.Header, bool, error) {
	if hash != g.hash {
		return nil, false, nil
	}
	header := *g.header
	return &header, true, nil
}

// GetExtrinsics serves the empty body of the genesis block.
func (g *GenesisProvider) GetExtrinsics(_ context.Context, hash ids.ID) ([][]byte, bool, error) {
	if hash != g.hash {
		return nil, false, nil
	}
	return nil, true, nil
}

func (g *GenesisProvider) GetBlockHash(_ context.Context, number *uint64) (ids.ID, bool, error) {
	if number != nil && *number != 0 {
		return ids.Empty, false, nil
	}
	return g.hash, true, nil
}
