package delta

import (
	"fmt"
	"io"
)

type writeCloser struct {
	wc    io.WriteCloser
	state [stateSize]byte
	delta int
}

func (wc *writeCloser) Write(p []byte) (int, error) {
	if wc.wc == nil {
		return 0, ErrAlreadyClosed
	}

	buffer := make([]byte, len(p))

	var (
		state [stateSize]byte
		j     int
	)

	copy(state[:], wc.state[:wc.delta])

	for i := 0; i < len(p); {
		for j = 0; j < wc.delta && i < len(p); i++ {
			buffer[i] = p[i] - state[j]
			state[j] = p[i]
			j++
		}
	}

	if j == wc.delta {
		j = 0
	}

	copy(wc.state[:], state[j:wc.delta])
	copy(wc.state[wc.delta-j:], state[:j])

	n, err := wc.wc.Write(buffer)
	if err != nil {
		return n, fmt.Errorf("delta: error writing: %w", err)
	}

	return n, nil
}

func (wc *writeCloser) Close() error {
	if wc.wc == nil {
		return ErrAlreadyClosed
	}

	if err := wc.wc.Close(); err != nil {
		return fmt.Errorf("delta: error closing: %w", err)
	}

	wc.wc = nil

	return nil
}

// Properties returns the single-byte property blob (distance - 1) that must
// be stored alongside the coder so a reader can reconstruct delta.
func Properties(distance int) []byte {
	return []byte{byte(distance - 1)}
}

// NewWriter returns an io.WriteCloser that applies the Delta filter with the
// given distance (1-256) ahead of w.
func NewWriter(w io.WriteCloser, distance int) (io.WriteCloser, error) {
	if distance < 1 || distance > stateSize {
		return nil, ErrInsufficientProperties
	}

	return &writeCloser{wc: w, delta: distance}, nil
}
