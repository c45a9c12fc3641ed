package bloom

import (
	"hash/fnv"
	"math"
)

const (
	minBits   = 64
	maxProbes = 30
)

// Create allocates a filter sized for n keys at bitsPerKey.
// The last byte of the filter stores the probe count.
func Create(n, bitsPerKey int) []byte {
	if bitsPerKey < 1 {
		bitsPerKey = 1
	}
	// k = (m/n) * ln(2)
	k := int(float64(bitsPerKey) * math.Ln2)
	if k < 1 {
		k = 1
	}
	if k > maxProbes {
		k = maxProbes
	}

	bits := n * bitsPerKey
	if bits < minBits {
		bits = minBits
	}
	nBytes := (bits + 7) / 8

	filter := make([]byte, nBytes+1)
	filter[nBytes] = byte(k)
	return filter
}

// Hash is the key hash fed to Add and used by Find.
func Hash(key []byte) uint32 {
	h := fnv.New32a()
	_, _ = h.Write(key)
	return h.Sum32()
}

// Add sets the probe bits of hash in filter.
func Add(hash uint32, filter []byte) {
	if len(filter) < 2 {
		return
	}
	k := int(filter[len(filter)-1])
	nBits := uint32(len(filter)-1) * 8

	delta := hash>>17 | hash<<15
	for i := 0; i < k; i++ {
		pos := hash % nBits
		filter[pos/8] |= 1 << (pos % 8)
		hash += delta
	}
}

// Find reports whether key may have been added. It never returns false for an added key.
func Find(key []byte, filter []byte) bool {
	return FindHash(Hash(key), filter)
}

func FindHash(hash uint32, filter []byte) bool {
	if len(filter) < 2 {
		// empty or missing filter cannot reject anything
		return true
	}
	k := int(filter[len(filter)-1])
	if k > maxProbes {
		// unknown encoding, treat as match
		return true
	}
	nBits := uint32(len(filter)-1) * 8

	delta := hash>>17 | hash<<15
	for i := 0; i < k; i++ {
		pos := hash % nBits
		if filter[pos/8]&(1<<(pos%8)) == 0 {
			return false
		}
		hash += delta
	}
	return true
}
