package tickbitmap

import (
	"sort"
)

// Compress maps a tick to its position in the bitmap, rounding toward negative infinity.
func Compress(tick, tickSpacing int64) int64 {
	compressed := tick / tickSpacing
	if tick < 0 && tick%tickSpacing != 0 {
		compressed--
	}
	return compressed
}

// Position returns the word index and bit position of a compressed tick.
func Position(compressed int64) (wordPos int64, bitPos uint8) {
	return compressed >> 8, uint8(compressed & 0xff)
}

// NextInitializedTickWithinOneWord finds the next initialized tick in a sorted slice of
// initialized ticks, searching no further than the 256-tick bitmap word that holds the
// starting position.
//
// Parameters:
//   - ticks: sorted initialized tick indices, each a multiple of tickSpacing.
//   - tick: the starting tick for the search.
//   - lte: search direction.
//   - If true, it finds the largest initialized tick less than or equal to `tick`.
//   - If false, it finds the smallest initialized tick greater than `tick`.
//
// When nothing is initialized within the word the word boundary is returned with
// initialized set to false, so a swap advances at most one word per step. The returned
// tick may lie outside the global tick range; callers clamp it.
func NextInitializedTickWithinOneWord(
	ticks []int64,
	tick int64,
	tickSpacing int64,
	lte bool,
) (next int64, initialized bool) {
	compressed := Compress(tick, tickSpacing)

	if lte {
		wordPos, _ := Position(compressed)
		lowest := (wordPos << 8) * tickSpacing

		// smallest index with ticks[i] > tick; the candidate sits just before it
		index := sort.Search(len(ticks), func(i int) bool {
			return ticks[i] > tick
		})
		if index > 0 && ticks[index-1] >= lowest {
			return ticks[index-1], true
		}
		return lowest, false
	}

	wordPos, _ := Position(compressed + 1)
	highest := ((wordPos << 8) + 255) * tickSpacing

	index := sort.Search(len(ticks), func(i int) bool {
		return ticks[i] > tick
	})
	if index < len(ticks) && ticks[index] <= highest {
		return ticks[index], true
	}
	return highest, false
}
