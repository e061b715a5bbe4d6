package store

import (
	"github.com/google/btree"

	"github.com/sls-project/sls/pkg/errors"
	"github.com/sls-project/sls/pkg/types"
)

// allocator implements the Object Store's free-space allocator: two
// B-trees over the same set of free extents, one keyed by (size, offset)
// for best-fit selection, one keyed by offset for adjacent-extent merging
// on free. Grounded on spec.md 4.D's allocator description; google/btree
// is the real in-pack dependency (pulled transitively by containerd in
// the teacher's go.mod) standing in for the hand-rolled size/offset
// B-trees the original keeps rooted from the superblock.
type allocator struct {
	sizeTree   *btree.BTreeG[extentItem]
	offsetTree *btree.BTreeG[extentItem]
}

// extentItem is a free extent as held in either tree; Less is supplied
// per-tree so the same value type orders two different ways.
type extentItem struct {
	offset int64
	size   int64
}

func bySizeThenOffset(a, b extentItem) bool {
	if a.size != b.size {
		return a.size < b.size
	}
	return a.offset < b.offset
}

func byOffset(a, b extentItem) bool {
	return a.offset < b.offset
}

// newAllocator creates an allocator over a single free extent spanning
// [start, start+size).
func newAllocator(start, size int64) *allocator {
	a := &allocator{
		sizeTree:   btree.NewG(32, bySizeThenOffset),
		offsetTree: btree.NewG(32, byOffset),
	}
	if size > 0 {
		a.insert(extentItem{offset: start, size: size})
	}
	return a
}

func (a *allocator) insert(e extentItem) {
	a.sizeTree.ReplaceOrInsert(e)
	a.offsetTree.ReplaceOrInsert(e)
}

func (a *allocator) remove(e extentItem) {
	a.sizeTree.Delete(e)
	a.offsetTree.Delete(e)
}

// alloc selects the smallest free extent that is at least size bytes
// (best fit), splitting off and reinserting the remainder if larger than
// requested. Returns the offset of the allocated extent.
func (a *allocator) alloc(size int64) (int64, error) {
	var found extentItem
	ok := false
	a.sizeTree.AscendGreaterOrEqual(extentItem{size: size}, func(item extentItem) bool {
		found = item
		ok = true
		return false
	})
	if !ok {
		return 0, errors.ResourceExhaustion("object store: no free extent large enough")
	}

	a.remove(found)
	if found.size > size {
		a.insert(extentItem{offset: found.offset + size, size: found.size - size})
	}
	return found.offset, nil
}

// free returns an extent to the pool, merging with its immediate
// predecessor and successor in the offset tree when they are adjacent.
func (a *allocator) free(offset, size int64) {
	merged := extentItem{offset: offset, size: size}

	var pred extentItem
	hasPred := false
	a.offsetTree.DescendLessOrEqual(extentItem{offset: offset}, func(item extentItem) bool {
		if item.offset+item.size == merged.offset {
			pred = item
			hasPred = true
		}
		return false
	})
	if hasPred {
		a.remove(pred)
		merged = extentItem{offset: pred.offset, size: pred.size + merged.size}
	}

	var succ extentItem
	hasSucc := false
	a.offsetTree.AscendGreaterOrEqual(extentItem{offset: merged.offset + merged.size}, func(item extentItem) bool {
		if item.offset == merged.offset+merged.size {
			succ = item
			hasSucc = true
		}
		return false
	})
	if hasSucc {
		a.remove(succ)
		merged = extentItem{offset: merged.offset, size: merged.size + succ.size}
	}

	a.insert(merged)
}

// snapshot returns every free extent, for serializing an allocator root.
func (a *allocator) snapshot() []types.Extent {
	out := make([]types.Extent, 0, a.offsetTree.Len())
	a.offsetTree.Ascend(func(item extentItem) bool {
		out = append(out, types.Extent{Offset: item.offset, Size: item.size})
		return true
	})
	return out
}

// restoreAllocator rebuilds an allocator from a serialized free list (as
// written into an allocator root by a prior commit).
func restoreAllocator(free []types.Extent) *allocator {
	a := &allocator{
		sizeTree:   btree.NewG(32, bySizeThenOffset),
		offsetTree: btree.NewG(32, byOffset),
	}
	for _, e := range free {
		a.insert(extentItem{offset: e.Offset, size: e.Size})
	}
	return a
}
