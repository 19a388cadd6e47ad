// Package vector provides the binary vector codec and the durable
// vector record store.
package vector

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrDimensionMismatch indicates a payload whose byte length does
	// not match the recorded dimensionality.
	ErrDimensionMismatch = errors.New("vector payload does not match dimensionality")

	// ErrEmptyVector indicates an empty or nil vector.
	ErrEmptyVector = errors.New("empty vector")
)

// Encode serializes a vector as a fixed-width little-endian float32
// array with no delimiters. Dimensionality is carried in the record
// metadata, not inferred from the payload.
func Encode(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// Decode deserializes a binary payload into a vector of the given
// dimensionality. The payload length must equal dim*4 exactly.
func Decode(data []byte, dim int) ([]float32, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: dimensionality %d", ErrDimensionMismatch, dim)
	}
	if len(data) != dim*4 {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrDimensionMismatch, len(data), dim*4)
	}

	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}

// Cosine computes the full re-normalized cosine similarity between two
// vectors. Vectors from different providers are not pre-normalized
// consistently, so callers comparing across providers must use this
// rather than a raw dot product.
func Cosine(a, b []float32) (float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, ErrEmptyVector
	}
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}

	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}
