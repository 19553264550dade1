// Package chunker splits raw text into bounded, contiguous pieces for LLM consumption.
package chunker

import (
	"iter"
	"unicode/utf8"
)

// DefaultSize is the chunk length used when callers pass a non-positive size.
const DefaultSize = 5000

// Chunks yields (index, chunk) pairs of at most size code points each.
// Every chunk except the last has exactly size code points; concatenating them
// reproduces text. There is no overlap and no awareness of word or sentence
// boundaries. The sequence is lazy and can be ranged over any number of times.
func Chunks(text string, size int) iter.Seq2[int, string] {
	if size <= 0 {
		size = DefaultSize
	}
	return func(yield func(int, string) bool) {
		index, start, runes := 0, 0, 0
		for i := range text {
			if runes == size {
				if !yield(index, text[start:i]) {
					return
				}
				index++
				start, runes = i, 0
			}
			runes++
		}
		if start < len(text) {
			yield(index, text[start:])
		}
	}
}

// Split collects Chunks into a slice. Empty text yields an empty slice.
func Split(text string, size int) []string {
	out := make([]string, 0, Count(text, size))
	for _, c := range Chunks(text, size) {
		out = append(out, c)
	}
	return out
}

// Count returns the number of chunks Chunks would yield: ceil(len/size).
func Count(text string, size int) int {
	if size <= 0 {
		size = DefaultSize
	}
	n := utf8.RuneCountInString(text)
	return (n + size - 1) / size
}
