package lz4

import (
	"errors"
	"fmt"
	"io"

	lz4 "github.com/pierrec/lz4/v4"
)

type writeCloser struct {
	wc io.WriteCloser
	w  *lz4.Writer
}

var errNeedWriter = errors.New("lz4: need a writer")

func (wc *writeCloser) Write(p []byte) (int, error) {
	if wc.w == nil {
		return 0, errNeedWriter
	}

	n, err := wc.w.Write(p)
	if err != nil {
		err = fmt.Errorf("lz4: error writing: %w", err)
	}

	return n, err
}

func (wc *writeCloser) Close() error {
	if wc.w == nil {
		return errNeedWriter
	}

	if err := wc.w.Close(); err != nil {
		return fmt.Errorf("lz4: error closing: %w", err)
	}

	if err := wc.wc.Close(); err != nil {
		return fmt.Errorf("lz4: error closing underlying writer: %w", err)
	}

	wc.w = nil

	return nil
}

// NewWriter returns a new LZ4 io.WriteCloser ahead of w.
func NewWriter(w io.WriteCloser) (io.WriteCloser, error) {
	lw := lz4.NewWriter(w)

	return &writeCloser{wc: w, w: lw}, nil
}
