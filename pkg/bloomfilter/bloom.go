// Package bloomfilter implements a Bloom filter over strings.
//
// Contains never returns a false negative; a positive answer must be confirmed
// against an exact set. logsift puts one in front of the address blacklist so
// that the common case, an address that is not listed, never touches the map.
//
// A Filter is filled once and then shared read-only. Add must not run
// concurrently with Contains.
package bloomfilter

import (
	"hash/maphash"
	"math"
	"math/bits"
)

var seed = maphash.MakeSeed()

type Filter struct {
	bits  []uint64
	m     uint64
	k     uint64
	count int
}

// Sizing returns the bit count m and hash count k for n items at false
// positive rate p:
//
//	m = -n*ln(p) / ln(2)^2
//	k = m/n * ln(2)
//
// n defaults to 1000 and p to 0.01 when out of range.
func Sizing(n int, p float64) (m, k uint64) {
	if n <= 0 {
		n = 1000
	}
	if p <= 0 || p >= 1 {
		p = 0.01
	}
	m = uint64(math.Ceil(-float64(n) * math.Log(p) / (math.Ln2 * math.Ln2)))
	k = uint64(math.Ceil(float64(m) / float64(n) * math.Ln2))
	if k == 0 {
		k = 1
	}
	return m, k
}

func New(expectedItems int, fpRate float64) *Filter {
	m, k := Sizing(expectedItems, fpRate)
	return &Filter{
		bits: make([]uint64, (m+63)/64),
		m:    m,
		k:    k,
	}
}

func (f *Filter) Add(s string) {
	h1, h2 := hash(s)
	for i := uint64(0); i < f.k; i++ {
		pos := (h1 + i*h2) % f.m
		f.bits[pos>>6] |= 1 << (pos & 63)
	}
	f.count++
}

func (f *Filter) Contains(s string) bool {
	h1, h2 := hash(s)
	for i := uint64(0); i < f.k; i++ {
		pos := (h1 + i*h2) % f.m
		if f.bits[pos>>6]&(1<<(pos&63)) == 0 {
			return false
		}
	}
	return true
}

// Count is the number of Add calls, duplicates included.
func (f *Filter) Count() int {
	return f.count
}

// FillRatio is the fraction of set bits.
func (f *Filter) FillRatio() float64 {
	var set int
	for _, w := range f.bits {
		set += bits.OnesCount64(w)
	}
	return float64(set) / float64(f.m)
}

// EstimatedFPRate approximates the current false positive rate as fill^k.
func (f *Filter) EstimatedFPRate() float64 {
	return math.Pow(f.FillRatio(), float64(f.k))
}

// hash splits one 64-bit maphash into the two halves used for double hashing.
// h2 is forced odd so successive probes never collapse onto one bit.
func hash(s string) (uint64, uint64) {
	sum := maphash.String(seed, s)
	return sum, bits.RotateLeft64(sum, 32) | 1
}
