// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package testutil holds in-memory stand-ins for the runtime executor, the
// metadata service and the network provider.
package testutil

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/ava-labs/forkvm/runtime"
	"github.com/ava-labs/forkvm/storage"
)

var (
	// ApplyOK is Ok(Ok(())).
	ApplyOK = []byte{0, 0}
	// ApplyDispatchError is Ok(Err(DispatchError::Other)).
	ApplyDispatchError = []byte{0, 1, 0}
	// ApplyInvalid is Err(Invalid(Payment)).
	ApplyInvalid = []byte{1, 0, 1}

	ErrNoHandler = errors.New("no handler for runtime method")
	errShortData = errors.New("not enough data")

	_ runtime.Executor       = (*Executor)(nil)
	_ runtime.Metadata       = (*Metadata)(nil)
	_ runtime.MetadataLoader = (*Loader)(nil)
	_ runtime.Registry       = (*Registry)(nil)
)

// Handler serves one runtime method.
type Handler func(ctx context.Context, view runtime.StorageView, args [][]byte) (*runtime.Response, error)

// Call records one executor invocation.
type Call struct {
	Method string
	Args   [][]byte
}

// Executor dispatches runtime calls to registered handlers and records them.
type Executor struct {
	lock     sync.Mutex
	handlers map[string]Handler
	calls    []Call
}

func NewExecutor() *Executor {
	return &Executor{handlers: make(map[string]Handler)}
}

// Handle registers [h] for [method], replacing any earlier handler.
func (e *Executor) Handle(method string, h Handler) *Executor {
	e.lock.Lock()
	defer e.lock.Unlock()

	e.handlers[method] = h
	return e
}

// Returns registers a handler that always answers [result] with [diff].
func (e *Executor) Returns(method string, result []byte, diff ...storage.KV) *Executor {
	return e.Handle(method, func(context.Context, runtime.StorageView, [][]byte) (*runtime.Response, error) {
		return &runtime.Response{Result: result, StorageDiff: diff}, nil
	})
}

func (e *Executor) Call(ctx context.Context, view runtime.StorageView, method string, args [][]byte) (*runtime.Response, error) {
	e.lock.Lock()
	h, ok := e.handlers[method]
	e.calls = append(e.calls, Call{Method: method, Args: args})
	e.lock.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, method)
	}
	return h(ctx, view, args)
}

// Calls returns every recorded call in order.
func (e *Executor) Calls() []Call {
	e.lock.Lock()
	defer e.lock.Unlock()

	return append([]Call{}, e.calls...)
}

// CallCount is the number of recorded calls to [method].
func (e *Executor) CallCount(method string) int {
	e.lock.Lock()
	defer e.lock.Unlock()

	n := 0
	for _, c := range e.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// DefaultSignedExtensions is the extension set of a stock substrate node.
var DefaultSignedExtensions = []string{
	"CheckNonZeroSender",
	"CheckSpecVersion",
	"CheckTxVersion",
	"CheckGenesis",
	"CheckMortality",
	"CheckNonce",
	"CheckWeight",
	"ChargeTransactionPayment",
}

// Metadata is a hand-assembled runtime description.
type Metadata struct {
	calls      map[string][2]byte
	storage    map[string]bool
	apis       map[string]bool
	constants  map[string][]byte
	entries    []*runtime.StorageEntry
	extensions []string
	registry   *Registry
}

func NewMetadata() *Metadata {
	return &Metadata{
		calls:      make(map[string][2]byte),
		storage:    make(map[string]bool),
		apis:       make(map[string]bool),
		constants:  make(map[string][]byte),
		extensions: DefaultSignedExtensions,
		registry:   NewRegistry(),
	}
}

// WithSignedExtensions replaces the default extension set.
func (m *Metadata) WithSignedExtensions(extensions ...string) *Metadata {
	m.extensions = extensions
	return m
}

// WithCall registers [pallet].[call] under the next free call index.
func (m *Metadata) WithCall(pallet, call string) *Metadata {
	m.calls[pallet+"."+call] = [2]byte{byte(len(m.calls)), 0}
	return m
}

// WithStorage registers a storage item. Map items list their hashers and
// key types in order.
func (m *Metadata) WithStorage(entry *runtime.StorageEntry) *Metadata {
	m.storage[entry.Pallet+"."+entry.Name] = true
	m.entries = append(m.entries, entry)
	return m
}

func (m *Metadata) WithRuntimeAPI(method string) *Metadata {
	m.apis[method] = true
	return m
}

func (m *Metadata) WithConstant(pallet, name string, value []byte) *Metadata {
	m.constants[pallet+"."+name] = value
	return m
}

func (m *Metadata) HasCall(pallet, call string) bool {
	_, ok := m.calls[pallet+"."+call]
	return ok
}

func (m *Metadata) CallIndex(pallet, call string) ([2]byte, bool) {
	idx, ok := m.calls[pallet+"."+call]
	return idx, ok
}

func (m *Metadata) HasStorage(pallet, item string) bool { return m.storage[pallet+"."+item] }

func (m *Metadata) HasRuntimeAPI(method string) bool { return m.apis[method] }

func (m *Metadata) Constant(pallet, name string) ([]byte, bool) {
	v, ok := m.constants[pallet+"."+name]
	return v, ok
}

func (m *Metadata) StorageEntries() []*runtime.StorageEntry { return m.entries }

func (m *Metadata) SignedExtensions() []string { return m.extensions }

func (m *Metadata) Registry() runtime.Registry { return m.registry }

// Loader hands out the same Metadata for any runtime blob.
type Loader struct {
	lock     sync.Mutex
	metadata runtime.Metadata
	loads    int
}

func NewLoader(metadata runtime.Metadata) *Loader {
	return &Loader{metadata: metadata}
}

func (l *Loader) Load(context.Context, []byte) (runtime.Metadata, error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	l.loads++
	return l.metadata, nil
}

// Loads is the number of times Load was called.
func (l *Loader) Loads() int {
	l.lock.Lock()
	defer l.lock.Unlock()

	return l.loads
}

// Registry decodes a handful of primitive types. Other fixed size types can
// be added with WithType and decode to hex strings.
type Registry struct {
	sizes map[string]int
}

func NewRegistry() *Registry {
	return &Registry{sizes: map[string]int{
		"u8":          1,
		"u32":         4,
		"u64":         8,
		"AccountId32": 32,
		"H256":        32,
	}}
}

func (r *Registry) WithType(name string, size int) *Registry {
	r.sizes[name] = size
	return r
}

func (r *Registry) Decode(typeName string, data []byte) (interface{}, int, error) {
	size, ok := r.sizes[typeName]
	if !ok {
		return nil, 0, fmt.Errorf("unknown type %q", typeName)
	}
	if len(data) < size {
		return nil, 0, fmt.Errorf("%w: %s needs %d bytes", errShortData, typeName, size)
	}
	switch typeName {
	case "u8":
		return uint64(data[0]), size, nil
	case "u32":
		return uint64(binary.LittleEndian.Uint32(data)), size, nil
	case "u64":
		return binary.LittleEndian.Uint64(data), size, nil
	default:
		return hexutil.Encode(data[:size]), size, nil
	}
}
