// Package batch splits slices into fixed-size, order-preserving chunks.
package batch

import "github.com/rotisserie/eris"

// ErrInvalidSize is returned when a non-positive chunk size is requested.
var ErrInvalidSize = eris.New("batch: size must be positive")

// Split partitions items into chunks of at most size elements, preserving
// order. The last chunk may be shorter. Concatenating the chunks in order
// reproduces the input exactly. Chunks alias the input slice; callers must
// not mutate items while chunks are in use.
func Split[T any](items []T, size int) ([][]T, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	if len(items) == 0 {
		return nil, nil
	}

	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end:end])
	}
	return chunks, nil
}
