package bridge

import (
	"reflect"
	"sync"
)

// DeltaResult is the output of a delta computation.
type DeltaResult struct {
	HasChanges bool
	Delta      map[string]any
}

// DeltaCompressor shrinks frequent full-state synchronization messages by
// computing the structural diff against a per-stream baseline snapshot.
//
// The contract is explicitly two-call: ComputeDeltaFromHistory never updates
// the baseline. Callers must RecordState with the new full state after a
// successful send, or subsequent deltas are computed against a stale
// baseline. RecordAndDiff performs both under one lock for callers that
// always commit.
//
// Deletion is not representable: keys present in the baseline but absent
// from the new state do not appear in the delta. Callers needing deletion
// semantics must send an explicit sentinel value.
type DeltaCompressor struct {
	mu        sync.Mutex
	snapshots map[string]map[string]any
}

// NewDeltaCompressor creates an empty compressor.
func NewDeltaCompressor() *DeltaCompressor {
	return &DeltaCompressor{snapshots: make(map[string]map[string]any)}
}

// RecordState stores fullState as the new baseline for streamKey, replacing
// any prior snapshot unconditionally. The state is deep-copied; later caller
// mutations do not leak into the baseline.
func (d *DeltaCompressor) RecordState(streamKey string, fullState map[string]any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.snapshots[streamKey] = deepCopyMap(fullState)
}

// ComputeDeltaFromHistory diffs newState against the stored baseline for
// streamKey. Nested maps are recursed to produce partial nested deltas;
// scalars and non-map composites compare by deep equality. With no baseline
// recorded, the full state is the delta (bootstrap). A pure function of the
// stored baseline and input: calling it twice without an intervening
// RecordState yields the same result.
func (d *DeltaCompressor) ComputeDeltaFromHistory(streamKey string, newState map[string]any) DeltaResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.computeLocked(streamKey, newState)
}

// RecordAndDiff computes the delta and atomically commits newState as the
// new baseline, removing the two-call footgun for callers that always send
// what they diff.
func (d *DeltaCompressor) RecordAndDiff(streamKey string, newState map[string]any) DeltaResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	res := d.computeLocked(streamKey, newState)
	d.snapshots[streamKey] = deepCopyMap(newState)
	return res
}

// DropStream removes the baseline for streamKey.
func (d *DeltaCompressor) DropStream(streamKey string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.snapshots, streamKey)
}

func (d *DeltaCompressor) computeLocked(streamKey string, newState map[string]any) DeltaResult {
	base, ok := d.snapshots[streamKey]
	if !ok {
		return DeltaResult{HasChanges: len(newState) > 0, Delta: deepCopyMap(newState)}
	}
	delta := diffMaps(base, newState)
	return DeltaResult{HasChanges: len(delta) > 0, Delta: delta}
}

// diffMaps returns the subset of next that differs from base. Nested maps
// recurse; an unchanged nested map contributes nothing.
func diffMaps(base, next map[string]any) map[string]any {
	delta := make(map[string]any)
	for k, nv := range next {
		bv, exists := base[k]
		if !exists {
			delta[k] = deepCopyValue(nv)
			continue
		}
		nm, nOK := nv.(map[string]any)
		bm, bOK := bv.(map[string]any)
		if nOK && bOK {
			sub := diffMaps(bm, nm)
			if len(sub) > 0 {
				delta[k] = sub
			}
			continue
		}
		if !reflect.DeepEqual(bv, nv) {
			delta[k] = deepCopyValue(nv)
		}
	}
	return delta
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		return deepCopyMap(tv)
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}
