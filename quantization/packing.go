package quantization

// Bit-plane layout of a packed residual, per embedding:
//
//	bit index of (plane p, dimension d) = p*dim + d
//	byte = bit/8, position within byte = bit%8 (LSB first)
//
// Plane p holds bit p of every dimension's bucket index, lowest plane first.
// For dim divisible by 8 this means plane p occupies bytes
// [p*dim/8, (p+1)*dim/8) and byte k of a plane covers dimensions
// [8k, 8k+8). This layout is persisted in chunk residual files and is pinned
// by tests; it cannot change without a format version bump.

// PackedLen returns the packed residual size in bytes for one embedding.
// dim*nbits must be a multiple of 8.
func PackedLen(dim, nbits int) int {
	return dim * nbits / 8
}

// Pack bit-packs bucket indices for n embeddings into dst. buckets holds
// n*dim indices in [0, 2^nbits); dst must hold n*PackedLen(dim, nbits)
// bytes and is zeroed before packing.
func Pack(buckets []uint8, dim, nbits int, dst []byte) {
	packedLen := PackedLen(dim, nbits)
	n := len(buckets) / dim

	for i := range dst {
		dst[i] = 0
	}

	for e := 0; e < n; e++ {
		base := e * packedLen

		for p := 0; p < nbits; p++ {
			planeBit := p * dim

			for d := 0; d < dim; d++ {
				bit := (buckets[e*dim+d] >> p) & 1
				pos := planeBit + d
				dst[base+pos/8] |= bit << (pos % 8)
			}
		}
	}
}

// Unpack reverses Pack, writing n*dim bucket indices into dst. packed holds
// n embeddings of PackedLen(dim, nbits) bytes each.
func Unpack(packed []byte, dim, nbits int, dst []uint8) {
	packedLen := PackedLen(dim, nbits)
	n := len(packed) / packedLen

	for i := range dst {
		dst[i] = 0
	}

	for e := 0; e < n; e++ {
		base := e * packedLen

		for p := 0; p < nbits; p++ {
			planeBit := p * dim

			for d := 0; d < dim; d++ {
				pos := planeBit + d
				bit := (packed[base+pos/8] >> (pos % 8)) & 1
				dst[e*dim+d] |= bit << p
			}
		}
	}
}
