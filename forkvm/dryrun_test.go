// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package forkvm

import (
	"context"
	"testing"

	"github.com/ChainSafe/gossamer/pkg/scale"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/require"

	"github.com/ava-labs/forkvm/runtime"
	"github.com/ava-labs/forkvm/storage"
	"github.com/ava-labs/forkvm/testutil"
	"github.com/ava-labs/forkvm/types"
)

const (
	aliceSS58 = "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY"
	aliceHex  = "0xd43593c715fdd31c61141abd04a99fd6822c8558854ccde39a5684e7a56da27d"
)

func TestParseAddress(t *testing.T) {
	alice := hexutil.MustDecode(aliceHex)
	tests := []struct {
		name    string
		address string
		want    []byte
		err     bool
	}{
		{name: "ss58", address: aliceSS58, want: alice},
		{name: "hex", address: aliceHex, want: alice},
		{name: "short hex", address: "0xd43593", err: true},
		{name: "bad hex", address: "0xzz", err: true},
		{name: "bad checksum", address: "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQZ", err: true},
		{name: "not base58", address: "0OIl", err: true},
		{name: "empty", address: "", err: true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require := require.New(t)

			account, err := ParseAddress(test.address)
			if test.err {
				require.ErrorIs(err, errInvalidAddress)
				return
			}
			require.NoError(err)
			require.Equal(test.want, account)
		})
	}
}

func TestFakeSignedExtrinsic(t *testing.T) {
	require := require.New(t)

	alice := hexutil.MustDecode(aliceHex)
	call := []byte{0x05, 0x03, 0xaa}
	ext, err := fakeSignedExtrinsic(alice, 5, call, testutil.DefaultSignedExtensions)
	require.NoError(err)

	var body []byte
	require.NoError(scale.Unmarshal(ext, &body))

	require.Equal(byte(0x84), body[0])
	require.Equal(byte(0), body[1])
	require.Equal(alice, body[2:34])
	require.Equal(byte(1), body[34])
	require.Equal([]byte{0xde, 0xad, 0xbe, 0xef}, body[35:39])
	require.Equal(make([]byte, 60), body[39:99])
	require.Equal([]byte{0x00, 0x14, 0x00}, body[99:102])
	require.Equal(call, body[102:])
}

func TestFakeSignedExtrinsicExtensions(t *testing.T) {
	require := require.New(t)

	alice := hexutil.MustDecode(aliceHex)
	call := []byte{0x05, 0x03}
	ext, err := fakeSignedExtrinsic(alice, 1, call, []string{
		"CheckSpecVersion",
		"CheckEra",
		"CheckNonce",
		"CheckWeight",
		"ChargeAssetTxPayment",
		"CheckMetadataHash",
		"StorageWeightReclaim",
	})
	require.NoError(err)

	var body []byte
	require.NoError(scale.Unmarshal(ext, &body))
	// era, nonce 1, tip, no asset id, metadata hash disabled
	require.Equal([]byte{0x00, 0x04, 0x00, 0x00, 0x00}, body[99:104])
	require.Equal(call, body[104:])

	_, err = fakeSignedExtrinsic(alice, 1, call, []string{"CheckNonce", "PrevalidateAttests"})
	require.ErrorIs(err, errUnknownSignedExtension)
}

func TestDryRunExtrinsicMockSignatureDisabled(t *testing.T) {
	require := require.New(t)

	env := newTestEnv(t, nil, types.AuraDigest{Slot: 1}.Items(), nil)
	_, err := DryRunExtrinsic(context.Background(), env.parent, env.registry(), inherentParams(nil), DryRunInput{
		Call:    []byte{0x05, 0x03},
		Address: aliceSS58,
	}, false)
	require.ErrorIs(err, ErrMockSignatureDisabled)
	require.Empty(env.executor.Calls())
}

func TestDryRunExtrinsicFakeSigned(t *testing.T) {
	require := require.New(t)

	alice := hexutil.MustDecode(aliceHex)
	accountKey := storage.MapKey("System", "Account", storage.Blake2_128Concat.Hash(alice))
	// AccountInfo starts with the nonce
	state := map[string][]byte{string(accountKey): append(u32(5), make([]byte, 20)...)}
	env := newTestEnv(t, nil, types.AuraDigest{Slot: 1}.Items(), state)

	call := []byte{0x05, 0x03}
	want, err := fakeSignedExtrinsic(alice, 5, call, testutil.DefaultSignedExtensions)
	require.NoError(err)
	env.runtime.set(want, applyOutcome{result: testutil.ApplyOK, diff: []storage.KV{kv("transfer", "done")}})

	resp, err := DryRunExtrinsic(context.Background(), env.parent, env.registry(), inherentParams(nil), DryRunInput{
		Call:    call,
		Address: aliceSS58,
	}, true)
	require.NoError(err)
	require.Equal(testutil.ApplyOK, resp.Result)
	require.Equal([]storage.KV{kv("transfer", "done")}, resp.StorageDiff)

	calls := env.executor.Calls()
	last := calls[len(calls)-1]
	require.Equal(runtime.BlockBuilderApplyExtrinsic, last.Method)
	require.Equal([][]byte{want}, last.Args)
	require.Zero(env.executor.CallCount(runtime.BlockBuilderFinalizeBlock))
}

func TestDryRunExtrinsicRaw(t *testing.T) {
	require := require.New(t)

	env := newTestEnv(t, nil, nil, nil)
	ext := []byte("signed elsewhere")
	env.runtime.set(ext, applyOutcome{result: testutil.ApplyDispatchError})

	resp, err := DryRunExtrinsic(context.Background(), env.parent, env.registry(), inherentParams(nil), DryRunInput{Extrinsic: ext}, false)
	require.NoError(err)
	require.Equal(testutil.ApplyDispatchError, resp.Result)
}

func TestDryRunExtrinsicEmpty(t *testing.T) {
	require := require.New(t)

	env := newTestEnv(t, nil, nil, nil)
	_, err := DryRunExtrinsic(context.Background(), env.parent, env.registry(), inherentParams(nil), DryRunInput{}, true)
	require.ErrorIs(err, errEmptyDryRun)
	require.Empty(env.executor.Calls())
}

func TestDryRunExtrinsicInvalidAddress(t *testing.T) {
	require := require.New(t)

	env := newTestEnv(t, nil, types.AuraDigest{Slot: 1}.Items(), nil)
	_, err := DryRunExtrinsic(context.Background(), env.parent, env.registry(), inherentParams(nil), DryRunInput{
		Call:    []byte{0x05, 0x03},
		Address: "0xd43593",
	}, true)
	require.ErrorIs(err, errInvalidAddress)
	require.Empty(env.executor.Calls())
}

func TestDryRunExtrinsicNonceAfterInherents(t *testing.T) {
	require := require.New(t)

	alice := hexutil.MustDecode(aliceHex)
	accountKey := storage.MapKey("System", "Account", storage.Blake2_128Concat.Hash(alice))
	state := map[string][]byte{string(accountKey): append(u32(5), make([]byte, 20)...)}
	env := newTestEnv(t, nil, types.AuraDigest{Slot: 1}.Items(), state)
	env.runtime.set(env.timestampInherent(t), applyOutcome{
		result: testutil.ApplyOK,
		diff: []storage.KV{{
			Key:   accountKey,
			Value: storage.NewValue(append(u32(6), make([]byte, 20)...)),
		}},
	})

	call := []byte{0x05, 0x03}
	want, err := fakeSignedExtrinsic(alice, 6, call, testutil.DefaultSignedExtensions)
	require.NoError(err)

	_, err = DryRunExtrinsic(context.Background(), env.parent, env.registry(), inherentParams(nil), DryRunInput{
		Call:    call,
		Address: aliceHex,
	}, true)
	require.NoError(err)

	calls := env.executor.Calls()
	require.Equal([][]byte{want}, calls[len(calls)-1].Args)
}

func TestDryRunExtrinsicSignedExtensions(t *testing.T) {
	require := require.New(t)

	alice := hexutil.MustDecode(aliceHex)
	meta := testutil.NewMetadata().WithSignedExtensions("CheckNonce", "ChargeAssetTxPayment")
	env := newTestEnv(t, meta, types.AuraDigest{Slot: 1}.Items(), nil)

	call := []byte{0x05, 0x03}
	want, err := fakeSignedExtrinsic(alice, 0, call, []string{"CheckNonce", "ChargeAssetTxPayment"})
	require.NoError(err)

	_, err = DryRunExtrinsic(context.Background(), env.parent, env.registry(), inherentParams(nil), DryRunInput{
		Call:    call,
		Address: aliceSS58,
	}, true)
	require.NoError(err)
	calls := env.executor.Calls()
	require.Equal([][]byte{want}, calls[len(calls)-1].Args)

	meta.WithSignedExtensions("CheckNonce", "CheckUnknown")
	_, err = DryRunExtrinsic(context.Background(), env.parent, env.registry(), inherentParams(nil), DryRunInput{
		Call:    call,
		Address: aliceSS58,
	}, true)
	require.ErrorIs(err, errUnknownSignedExtension)
}
