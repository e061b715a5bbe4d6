// Package pageindex implements the Page Index: a vaddr-keyed table used
// during restore composition to merge a delta chain newest-epoch-first,
// so the first writer of a given vaddr wins and older epochs never
// overwrite it. Grounded on the engine's restore-composition description
// (spec.md's metrodelta scenario generalized to an arbitrary-length
// chain, per original_source/tests/metrodelta/metrodelta.c covering 3+
// epochs rather than just two).
package pageindex

import (
	"sync"

	"github.com/sls-project/sls/pkg/types"
)

// Index is a vaddr -> page-bytes table built by repeated InsertIfAbsent
// calls across a sequence of epochs, newest first.
type Index struct {
	mu      sync.Mutex
	entries map[uintptr]types.SavedPage
}

// New creates an empty Index with capacity hinted by the caller (0 is
// fine; it is only a sizing hint for the underlying map).
func New(capacityHint int) *Index {
	return &Index{entries: make(map[uintptr]types.SavedPage, capacityHint)}
}

// InsertIfAbsent adds page if its vaddr is not already present, and
// reports whether it was inserted. Used while composing a restore: the
// caller walks epochs newest-first and calls this once per saved page,
// so the first (newest) writer of a vaddr always wins.
func (idx *Index) InsertIfAbsent(page types.SavedPage) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.entries[page.VAddr]; ok {
		return false
	}
	idx.entries[page.VAddr] = page
	return true
}

// Get returns the page at vaddr, if present.
func (idx *Index) Get(vaddr uintptr) (types.SavedPage, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	p, ok := idx.entries[vaddr]
	return p, ok
}

// Len returns the number of distinct vaddrs currently indexed.
func (idx *Index) Len() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return len(idx.entries)
}

// Pages returns every indexed page, in no particular order.
func (idx *Index) Pages() []types.SavedPage {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	out := make([]types.SavedPage, 0, len(idx.entries))
	for _, p := range idx.entries {
		out = append(out, p)
	}
	return out
}

// EpochPages is one epoch's worth of saved pages, as loaded from the
// object store during restore composition.
type EpochPages struct {
	Epoch types.Epoch
	Pages []types.SavedPage
}

// Compose builds the newest-wins merge of a delta chain. chain must be
// ordered newest epoch first; Compose does not sort it. Each epoch's
// pages are inserted in order, so a page already contributed by a newer
// epoch is never overwritten by an older one.
func Compose(chain []EpochPages) *Index {
	total := 0
	for _, e := range chain {
		total += len(e.Pages)
	}

	idx := New(total)
	for _, e := range chain {
		for _, p := range e.Pages {
			idx.InsertIfAbsent(p)
		}
	}
	return idx
}
