// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package forkvm

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/ChainSafe/gossamer/pkg/scale"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"

	log "github.com/inconshreveable/log15"

	"github.com/ava-labs/forkvm/inherent"
	"github.com/ava-labs/forkvm/runtime"
	"github.com/ava-labs/forkvm/storage"
)

const (
	accountIDLen    = 32
	signatureLen    = 64
	ss58ChecksumLen = 2
)

var (
	ErrMockSignatureDisabled = errors.New("cannot fake signature because mock signature host is not enabled")

	errEmptyDryRun            = errors.New("dry run needs an extrinsic or a call")
	errInvalidAddress         = errors.New("invalid address")
	errUnknownSignedExtension = errors.New("cannot fake extra data of signed extension")

	// mockSignatureMarker prefixes signatures accepted by a mock signature host.
	mockSignatureMarker = []byte{0xde, 0xad, 0xbe, 0xef}
	ss58Prefix          = []byte("SS58PRE")
)

// DryRunInput is either a complete extrinsic or a call to be fake signed by
// Address.
type DryRunInput struct {
	Extrinsic []byte
	Call      []byte
	Address   string
}

// DryRunExtrinsic applies one extrinsic on top of a child of [parent] and
// returns the raw response. Nothing is committed.
func DryRunExtrinsic(
	ctx context.Context,
	parent *Block,
	inherents *inherent.Registry,
	params inherent.BuildParams,
	input DryRunInput,
	mockSignatureHost bool,
) (*runtime.Response, error) {
	var (
		ext     = input.Extrinsic
		account []byte
	)
	if ext == nil {
		if input.Call == nil {
			return nil, errEmptyDryRun
		}
		if !mockSignatureHost {
			return nil, ErrMockSignatureDisabled
		}
		var err error
		account, err = ParseAddress(input.Address)
		if err != nil {
			return nil, err
		}
	}

	pending, _, err := initBlock(ctx, parent, inherents, params, nil, nil)
	if err != nil {
		return nil, err
	}

	if ext == nil {
		meta, err := pending.Meta(ctx)
		if err != nil {
			return nil, err
		}
		// the nonce is read after the inherents are applied
		nonce, err := accountNonce(ctx, pending.Block, account)
		if err != nil {
			return nil, err
		}
		ext, err = fakeSignedExtrinsic(account, nonce, input.Call, meta.SignedExtensions())
		if err != nil {
			return nil, err
		}
		log.Info("dry run call", "address", input.Address, "nonce", nonce, "call", hexutil.Encode(input.Call))
	} else {
		log.Info("dry run extrinsic", "extrinsic", hexutil.Encode(ext))
	}
	return pending.Call(ctx, runtime.BlockBuilderApplyExtrinsic, [][]byte{ext})
}

// accountNonce reads AccountInfo.nonce of [account], zero for a new account.
func accountNonce(ctx context.Context, block *Block, account []byte) (uint32, error) {
	key := storage.MapKey("System", "Account", storage.Blake2_128Concat.Hash(account))
	v, err := block.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if !v.Exists() || len(v.Data) < 4 {
		return 0, nil
	}
	return binary.LittleEndian.Uint32(v.Data), nil
}

// fakeSignedExtrinsic is a v4 signed extrinsic from [account] whose
// signature only a mock signature host accepts. [extensions] are the
// runtime's signed extensions in order.
func fakeSignedExtrinsic(account []byte, nonce uint32, call []byte, extensions []string) ([]byte, error) {
	signature := make([]byte, signatureLen)
	copy(signature, mockSignatureMarker)

	extra, err := signedExtra(extensions, nonce)
	if err != nil {
		return nil, err
	}

	buf := bytes.NewBuffer(nil)
	buf.WriteByte(inherent.ExtrinsicVersion | inherent.SignedBit)
	buf.WriteByte(0) // MultiAddress::Id
	buf.Write(account)
	buf.WriteByte(1) // MultiSignature::Sr25519
	buf.Write(signature)
	buf.Write(extra)
	buf.Write(call)
	return scale.Marshal(buf.Bytes())
}

// signedExtra encodes the data each extension carries in the extrinsic:
// an immortal era, [nonce], no tip, no fee asset and no metadata hash.
func signedExtra(extensions []string, nonce uint32) ([]byte, error) {
	compactNonce, err := scale.Marshal(uint(nonce))
	if err != nil {
		return nil, err
	}
	noTip, err := scale.Marshal(uint(0))
	if err != nil {
		return nil, err
	}

	buf := bytes.NewBuffer(nil)
	for _, ext := range extensions {
		switch ext {
		case "CheckNonZeroSender", "CheckSpecVersion", "CheckTxVersion",
			"CheckGenesis", "CheckWeight", "StorageWeightReclaim":
			// implicit only
		case "CheckMortality", "CheckEra":
			buf.WriteByte(0)
		case "CheckNonce":
			buf.Write(compactNonce)
		case "ChargeTransactionPayment":
			buf.Write(noTip)
		case "ChargeAssetTxPayment":
			buf.Write(noTip)
			buf.WriteByte(0) // Option<AssetId>::None
		case "CheckMetadataHash":
			buf.WriteByte(0) // Mode::Disabled
		default:
			return nil, fmt.Errorf("%w: %s", errUnknownSignedExtension, ext)
		}
	}
	return buf.Bytes(), nil
}

// ParseAddress accepts a 0x prefixed account id or an SS58 address.
func ParseAddress(address string) ([]byte, error) {
	if strings.HasPrefix(address, "0x") {
		account, err := hexutil.Decode(address)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errInvalidAddress, err)
		}
		if len(account) != accountIDLen {
			return nil, fmt.Errorf("%w: %d byte account id", errInvalidAddress, len(account))
		}
		return account, nil
	}

	raw, err := base58.Decode(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidAddress, err)
	}
	if len(raw) == 0 {
		return nil, errInvalidAddress
	}
	prefixLen := 1
	if raw[0]&0x40 != 0 {
		prefixLen = 2
	}
	if len(raw) != prefixLen+accountIDLen+ss58ChecksumLen {
		return nil, fmt.Errorf("%w: %d byte ss58 payload", errInvalidAddress, len(raw))
	}
	body := raw[:prefixLen+accountIDLen]
	checksum := blake2b.Sum512(append(append([]byte{}, ss58Prefix...), body...))
	if !bytes.Equal(checksum[:ss58ChecksumLen], raw[len(body):]) {
		return nil, fmt.Errorf("%w: bad checksum", errInvalidAddress)
	}
	return append([]byte{}, body[prefixLen:]...), nil
}
