// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrStorageUnavailable = errors.New("storage unavailable")

	errFrozenLayer = errors.New("write to frozen storage layer")
)

// ValueKind distinguishes a stored value from an explicit deletion and from
// a key that no layer knows about.
type ValueKind byte

const (
	Absent ValueKind = iota
	Present
	Deleted
)

func (k ValueKind) String() string {
	switch k {
	case Present:
		return "present"
	case Deleted:
		return "deleted"
	default:
		return "absent"
	}
}

// Value is the result of a storage lookup or the content of a layer entry.
type Value struct {
	Kind ValueKind
	Data []byte
}

// DeletedValue marks a key as removed in the layer it is written to.
var DeletedValue = Value{Kind: Deleted}

// NewValue returns a present value holding [data].
func NewValue(data []byte) Value {
	return Value{Kind: Present, Data: data}
}

// Exists reports whether the value holds data.
func (v Value) Exists() bool { return v.Kind == Present }

// KV is a single storage write.
type KV struct {
	Key   []byte
	Value Value
}

// Source is the root of a layer stack, usually remote chain state.
type Source interface {
	// Get returns the value stored under [key]. A missing key is reported
	// with ok == false and a nil error.
	Get(ctx context.Context, key []byte) (value []byte, ok bool, err error)
}

// Layer is a copy-on-write overlay of storage writes.
//
// A layer is mutable until Push is called on it. From then on it is frozen
// and shared read-only by every descendant. Lookups walk an explicit list of
// frozen ancestors (newest first) and finally the root Source.
type Layer struct {
	lock    sync.RWMutex
	entries map[string]Value
	frozen  bool

	ancestors []*Layer
	source    Source
}

// NewLayer returns an empty mutable layer on top of [source]. [source] may be
// nil, in which case keys not written in the stack are absent.
func NewLayer(source Source) *Layer {
	return &Layer{
		entries: make(map[string]Value),
		source:  source,
	}
}

// Get looks [key] up in this layer, then its ancestors, then the source. The
// nearest entry wins and a deletion stops the search.
func (l *Layer) Get(ctx context.Context, key []byte) (Value, error) {
	if v, ok := l.local(key); ok {
		return v, nil
	}
	for _, ancestor := range l.ancestors {
		if v, ok := ancestor.local(key); ok {
			return v, nil
		}
	}
	if l.source == nil {
		return Value{}, nil
	}
	data, ok, err := l.source.Get(ctx, key)
	if err != nil {
		return Value{}, fmt.Errorf("%w: key 0x%x: %w", ErrStorageUnavailable, key, err)
	}
	if !ok {
		return Value{}, nil
	}
	return NewValue(data), nil
}

func (l *Layer) local(key []byte) (Value, bool) {
	l.lock.RLock()
	defer l.lock.RUnlock()

	v, ok := l.entries[string(key)]
	return v, ok
}

// Set writes [value] into this layer. Writing Absent is a no-op.
// Set panics if the layer is frozen.
func (l *Layer) Set(key []byte, value Value) {
	l.lock.Lock()
	defer l.lock.Unlock()

	l.set(key, value)
}

// SetAll writes [kvs] in order, so a later write to the same key wins.
func (l *Layer) SetAll(kvs []KV) {
	l.lock.Lock()
	defer l.lock.Unlock()

	for _, kv := range kvs {
		l.set(kv.Key, kv.Value)
	}
}

func (l *Layer) set(key []byte, value Value) {
	if l.frozen {
		panic(errFrozenLayer)
	}
	switch value.Kind {
	case Present:
		l.entries[string(key)] = NewValue(append([]byte{}, value.Data...))
	case Deleted:
		l.entries[string(key)] = DeletedValue
	}
}

// Push freezes this layer and returns an empty mutable child.
func (l *Layer) Push() *Layer {
	l.lock.Lock()
	l.frozen = true
	l.lock.Unlock()

	ancestors := make([]*Layer, 0, len(l.ancestors)+1)
	ancestors = append(ancestors, l)
	ancestors = append(ancestors, l.ancestors...)
	return &Layer{
		entries:   make(map[string]Value),
		ancestors: ancestors,
		source:    l.source,
	}
}

// Frozen reports whether Push has been called on this layer.
func (l *Layer) Frozen() bool {
	l.lock.RLock()
	defer l.lock.RUnlock()

	return l.frozen
}

// Depth is the number of layers searched before the source.
func (l *Layer) Depth() int {
	return len(l.ancestors) + 1
}

// MergeInto flattens this layer and all of its ancestors into [into]. The
// source is not read. Deletions are kept as explicit entries.
func (l *Layer) MergeInto(into map[string]Value) {
	l.MergeUntil(into, nil)
}

// MergeUntil is MergeInto stopping before [base]. If [base] is not an
// ancestor the whole stack is merged.
func (l *Layer) MergeUntil(into map[string]Value, base *Layer) {
	stack := l.stackUntil(base)
	for i := len(stack) - 1; i >= 0; i-- {
		stack[i].copyInto(into)
	}
}

func (l *Layer) stackUntil(base *Layer) []*Layer {
	if base == l {
		return nil
	}
	stack := []*Layer{l}
	for _, ancestor := range l.ancestors {
		if ancestor == base {
			break
		}
		stack = append(stack, ancestor)
	}
	return stack
}

func (l *Layer) copyInto(into map[string]Value) {
	l.lock.RLock()
	defer l.lock.RUnlock()

	for k, v := range l.entries {
		into[k] = v
	}
}

// Flatten returns a single mutable layer holding the merged contents of this
// stack on top of the same source.
func (l *Layer) Flatten() *Layer {
	flat := NewLayer(l.source)
	l.MergeInto(flat.entries)
	return flat
}

// SortedDiff returns the entries of [m] ordered by key.
func SortedDiff(m map[string]Value) []KV {
	diff := make([]KV, 0, len(m))
	for k, v := range m {
		diff = append(diff, KV{Key: []byte(k), Value: v})
	}
	sort.Slice(diff, func(i, j int) bool {
		return bytes.Compare(diff[i].Key, diff[j].Key) < 0
	})
	return diff
}
