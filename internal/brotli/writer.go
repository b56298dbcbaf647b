package brotli

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
)

// writeCloser buffers the Brotli stream in memory so the 7-Zip frame header
// (which embeds the compressed size) can be written before it.
type writeCloser struct {
	wc   io.WriteCloser
	br   *brotli.Writer
	buf  *bytes.Buffer
	size uint64
}

var errAlreadyClosedWriter = errors.New("brotli: already closed")

func (wc *writeCloser) Write(p []byte) (int, error) {
	if wc.br == nil {
		return 0, errAlreadyClosedWriter
	}

	n, err := wc.br.Write(p)
	if err != nil {
		return n, fmt.Errorf("brotli: error writing: %w", err)
	}

	wc.size += uint64(n) //nolint:gosec

	return n, nil
}

func (wc *writeCloser) Close() error {
	if wc.br == nil {
		return errAlreadyClosedWriter
	}

	if err := wc.br.Close(); err != nil {
		return fmt.Errorf("brotli: error closing: %w", err)
	}

	hr := headerFrame{
		FrameMagic:       frameMagic,
		FrameSize:        frameSize,
		CompressedSize:   uint32(wc.buf.Len()), //nolint:gosec
		BrotliMagic:      brotliMagic,
		UncompressedSize: uint16(wc.size / (64 * 1024)), //nolint:gosec
	}

	if err := binary.Write(wc.wc, binary.LittleEndian, hr); err != nil {
		return fmt.Errorf("brotli: error writing frame: %w", err)
	}

	if _, err := wc.wc.Write(wc.buf.Bytes()); err != nil {
		return fmt.Errorf("brotli: error writing payload: %w", err)
	}

	if err := wc.wc.Close(); err != nil {
		return fmt.Errorf("brotli: error closing underlying writer: %w", err)
	}

	wc.br = nil

	return nil
}

// NewWriter returns a new Brotli io.WriteCloser at the given quality level,
// ahead of w. The compressed payload is fully buffered so the 7-Zip frame
// header can be emitted first.
func NewWriter(w io.WriteCloser, quality int) (io.WriteCloser, error) {
	buf := new(bytes.Buffer)

	return &writeCloser{
		wc:  w,
		br:  brotli.NewWriterLevel(buf, quality),
		buf: buf,
	}, nil
}
