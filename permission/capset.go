package permission

import "math/bits"

// MaxWidth is the widest capability set a catalog can use.
const MaxWidth = 128

// CapSet is a capability bitset. Bits 0-63 live in the first word and bits
// 64-127 in the second. A registry decides how many bits are usable and
// which one stands for [Wildcard].
type CapSet [2]uint64

// Has reports whether bit is set. Out-of-range bits are never set.
func (s CapSet) Has(bit int) bool {
	if bit < 0 || bit >= MaxWidth {
		return false
	}
	return s[bit>>6]&(1<<(bit&63)) != 0
}

// With returns a copy of s with bit set.
func (s CapSet) With(bit int) CapSet {
	if bit >= 0 && bit < MaxWidth {
		s[bit>>6] |= 1 << (bit & 63)
	}
	return s
}

// Without returns a copy of s with bit cleared.
func (s CapSet) Without(bit int) CapSet {
	if bit >= 0 && bit < MaxWidth {
		s[bit>>6] &^= 1 << (bit & 63)
	}
	return s
}

// Covers reports whether every bit of other is also in s.
func (s CapSet) Covers(other CapSet) bool {
	return other[0]&^s[0] == 0 && other[1]&^s[1] == 0
}

// Count returns the number of set bits.
func (s CapSet) Count() int {
	return bits.OnesCount64(s[0]) + bits.OnesCount64(s[1])
}

// Bits returns the set bit indexes in ascending order.
func (s CapSet) Bits() []int {
	out := make([]int, 0, s.Count())
	for w, word := range s {
		for word != 0 {
			i := bits.TrailingZeros64(word)
			out = append(out, w*64+i)
			word &^= 1 << i
		}
	}
	return out
}
