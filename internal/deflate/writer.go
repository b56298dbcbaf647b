package deflate

import (
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

type writeCloser struct {
	wc io.WriteCloser
	fw *flate.Writer
}

var errNeedWriter = errors.New("deflate: need a writer")

func (wc *writeCloser) Write(p []byte) (int, error) {
	if wc.fw == nil {
		return 0, errNeedWriter
	}

	n, err := wc.fw.Write(p)
	if err != nil {
		err = fmt.Errorf("deflate: error writing: %w", err)
	}

	return n, err
}

func (wc *writeCloser) Close() error {
	if wc.fw == nil {
		return errNeedWriter
	}

	if err := wc.fw.Close(); err != nil {
		return fmt.Errorf("deflate: error closing: %w", err)
	}

	if err := wc.wc.Close(); err != nil {
		return fmt.Errorf("deflate: error closing underlying writer: %w", err)
	}

	wc.fw = nil

	return nil
}

// NewWriter returns a new DEFLATE io.WriteCloser at the given compression
// level, ahead of w.
func NewWriter(w io.WriteCloser, level int) (io.WriteCloser, error) {
	fw, err := flate.NewWriter(w, level)
	if err != nil {
		return nil, fmt.Errorf("deflate: error creating writer: %w", err)
	}

	return &writeCloser{wc: w, fw: fw}, nil
}
