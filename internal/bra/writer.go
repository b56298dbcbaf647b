package bra

import (
	"errors"
	"fmt"
	"io"
)

type writeCloser struct {
	wc   io.WriteCloser
	conv converter
	buf  []byte
}

var errAlreadyClosedWriter = errors.New("bra: already closed")

func (wc *writeCloser) Write(p []byte) (int, error) {
	if wc.wc == nil {
		return 0, errAlreadyClosedWriter
	}

	wc.buf = append(wc.buf, p...)

	n := wc.conv.Convert(wc.buf, true)

	if n > 0 {
		if _, err := wc.wc.Write(wc.buf[:n]); err != nil {
			return 0, fmt.Errorf("bra: error writing: %w", err)
		}

		wc.buf = wc.buf[:copy(wc.buf, wc.buf[n:])]
	}

	return len(p), nil
}

func (wc *writeCloser) Close() error {
	if wc.wc == nil {
		return errAlreadyClosedWriter
	}

	if len(wc.buf) > 0 {
		if _, err := wc.wc.Write(wc.buf); err != nil {
			return fmt.Errorf("bra: error flushing: %w", err)
		}
	}

	if err := wc.wc.Close(); err != nil {
		return fmt.Errorf("bra: error closing: %w", err)
	}

	wc.wc = nil

	return nil
}

func newWriter(w io.WriteCloser, conv converter) (io.WriteCloser, error) {
	return &writeCloser{wc: w, conv: conv}, nil
}

// NewBCJWriter returns a new BCJ (x86) io.WriteCloser.
func NewBCJWriter(w io.WriteCloser) (io.WriteCloser, error) {
	return newWriter(w, new(bcj))
}

// NewARMWriter returns a new ARM io.WriteCloser.
func NewARMWriter(w io.WriteCloser) (io.WriteCloser, error) {
	return newWriter(w, new(arm))
}

// NewARM64Writer returns a new ARM64 io.WriteCloser.
func NewARM64Writer(w io.WriteCloser) (io.WriteCloser, error) {
	return newWriter(w, new(arm64))
}

// NewPPCWriter returns a new PPC io.WriteCloser.
func NewPPCWriter(w io.WriteCloser) (io.WriteCloser, error) {
	return newWriter(w, new(ppc))
}

// NewSPARCWriter returns a new SPARC io.WriteCloser.
func NewSPARCWriter(w io.WriteCloser) (io.WriteCloser, error) {
	return newWriter(w, new(sparc))
}
