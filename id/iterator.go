package id

// BitIterator walks the set ("ones") or clear ("zeroes") bit positions of an
// identifier. It supports both forward (Next, ascending index) and reverse
// (NextBack, descending index) traversal from either end, mirroring the
// original implementation's double-ended bit iterators; the routing table's
// bounce walk (routing.Table.ClosestTo) relies on exactly this shape.
type BitIterator struct {
	id    ID
	want  bool
	front int
	back  int
}

// Ones returns an iterator over the positions of set bits, ascending.
func (id ID) Ones() *BitIterator {
	return &BitIterator{id: id, want: true, front: 0, back: Size}
}

// Zeroes returns an iterator over the positions of clear bits, ascending.
func (id ID) Zeroes() *BitIterator {
	return &BitIterator{id: id, want: false, front: 0, back: Size}
}

// Next returns the next matching bit position walking forward, or
// ok=false once the iterator is exhausted.
func (it *BitIterator) Next() (pos int, ok bool) {
	for it.front < it.back {
		p := it.front
		it.front++
		if it.id.Bit(p) == it.want {
			return p, true
		}
	}
	return 0, false
}

// NextBack returns the next matching bit position walking backward
// (descending), or ok=false once the iterator is exhausted.
func (it *BitIterator) NextBack() (pos int, ok bool) {
	for it.back > it.front {
		it.back--
		if it.id.Bit(it.back) == it.want {
			return it.back, true
		}
	}
	return 0, false
}

// Slice drains the iterator from the front into a plain slice, ascending.
// Convenient at call sites that don't need lazy/early-exit behavior.
func (it *BitIterator) Slice() []int {
	var out []int
	for {
		pos, ok := it.Next()
		if !ok {
			break
		}
		out = append(out, pos)
	}
	return out
}

// ReverseSlice drains the iterator from the back, descending.
func (it *BitIterator) ReverseSlice() []int {
	var out []int
	for {
		pos, ok := it.NextBack()
		if !ok {
			break
		}
		out = append(out, pos)
	}
	return out
}
