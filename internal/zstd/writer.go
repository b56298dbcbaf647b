package zstd

import (
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

type writeCloser struct {
	wc io.WriteCloser
	w  *zstd.Encoder
}

var errNeedWriter = errors.New("zstd: need a writer")

func (wc *writeCloser) Write(p []byte) (int, error) {
	if wc.w == nil {
		return 0, errNeedWriter
	}

	n, err := wc.w.Write(p)
	if err != nil {
		err = fmt.Errorf("zstd: error writing: %w", err)
	}

	return n, err
}

func (wc *writeCloser) Close() error {
	if wc.w == nil {
		return errNeedWriter
	}

	if err := wc.w.Close(); err != nil {
		return fmt.Errorf("zstd: error closing: %w", err)
	}

	if err := wc.wc.Close(); err != nil {
		return fmt.Errorf("zstd: error closing underlying writer: %w", err)
	}

	wc.w = nil

	return nil
}

// NewWriter returns a new Zstandard io.WriteCloser at the given encoder
// level, ahead of w.
func NewWriter(w io.WriteCloser, level zstd.EncoderLevel) (io.WriteCloser, error) {
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(level))
	if err != nil {
		return nil, fmt.Errorf("zstd: error creating writer: %w", err)
	}

	return &writeCloser{wc: w, w: zw}, nil
}
