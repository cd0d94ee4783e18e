// Package bitset is a fixed-size set of small non-negative integers, used to mark
// registry indices visited by a batch.
package bitset

import "math/bits"

func NewBitSet(len uint64) BitSet {
	words := (len + 63) / 64
	return make(BitSet, words)
}

type BitSet []uint64

func (b BitSet) IsSet(index uint64) bool {
	wordPosition := index / 64
	if wordPosition >= uint64(len(b)) {
		return false
	}
	mask := uint64(1) << (index % 64)

	return (b[wordPosition] & mask) != 0
}

func (b BitSet) Set(index uint64) {
	mask := uint64(1) << (index % 64)

	b[index/64] |= mask
}

func (b BitSet) Unset(index uint64) {
	mask := uint64(1) << (index % 64)

	b[index/64] &^= mask
}

func (b BitSet) Clear() {
	for i := range b {
		b[i] = 0
	}
}

// Count returns the number of set bits.
func (b BitSet) Count() int {
	n := 0
	for _, w := range b {
		n += bits.OnesCount64(w)
	}
	return n
}

// Indices returns the set bits in ascending order.
func (b BitSet) Indices() []uint64 {
	out := make([]uint64, 0, b.Count())
	for i, w := range b {
		for w != 0 {
			out = append(out, uint64(i)*64+uint64(bits.TrailingZeros64(w)))
			w &= w - 1
		}
	}
	return out
}
