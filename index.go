package frameseq

import (
	"github.com/google/btree"

	"github.com/frameseq/frameseq/env"
)

// Index is an in-memory index of decoded frames ordered by their position in
// the decompressed stream.
type Index struct {
	tree *btree.BTreeG[*env.FrameOffsetEntry]
	size uint64
}

func NewIndex() *Index {
	return &Index{tree: btree.NewG[*env.FrameOffsetEntry](8, env.Less)}
}

// Add inserts a copy of e.
func (i *Index) Add(e env.FrameOffsetEntry) {
	if _, replaced := i.tree.ReplaceOrInsert(&e); replaced {
		return
	}
	if end := e.DecompOffset + e.DecompSize; end > i.size {
		i.size = end
	}
}

// Len returns the number of indexed frames.
func (i *Index) Len() int {
	return i.tree.Len()
}

// Size returns the size of the decompressed stream.
func (i *Index) Size() uint64 {
	return i.size
}

// GetByDecompOffset returns the frame holding the byte at off of the decompressed stream.
// Will return nil if off is greater or equal than Size().
func (i *Index) GetByDecompOffset(off uint64) (found *env.FrameOffsetEntry) {
	if off >= i.size {
		return nil
	}

	pivot := &env.FrameOffsetEntry{DecompOffset: off, ID: int64(^uint64(0) >> 1)}
	i.tree.DescendLessOrEqual(pivot, func(e *env.FrameOffsetEntry) bool {
		if off < e.DecompOffset+e.DecompSize {
			found = e
			return false
		}
		// empty frames share the offset of their neighbours
		return e.DecompSize == 0
	})
	return
}

// GetByID returns the frame with the given ID, or nil.
func (i *Index) GetByID(id int64) (found *env.FrameOffsetEntry) {
	i.tree.Ascend(func(e *env.FrameOffsetEntry) bool {
		if e.ID == id {
			found = e
			return false
		}
		return true
	})
	return
}

// Entries returns the indexed frames in stream order.
func (i *Index) Entries() []env.FrameOffsetEntry {
	entries := make([]env.FrameOffsetEntry, 0, i.tree.Len())
	i.tree.Ascend(func(e *env.FrameOffsetEntry) bool {
		entries = append(entries, *e)
		return true
	})
	return entries
}

// Equal reports whether both indexes describe the same frames.
func (i *Index) Equal(other *Index) bool {
	if i.Len() != other.Len() || i.size != other.size {
		return false
	}
	a, b := i.Entries(), other.Entries()
	for n := range a {
		if a[n] != b[n] {
			return false
		}
	}
	return true
}
