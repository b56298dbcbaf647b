package lzma

import (
	"errors"
	"fmt"
	"io"

	"github.com/ulikunitz/xz/lzma"
)

type writeCloser struct {
	wc io.WriteCloser
	w  *lzma.Writer
}

var errNeedWriter = errors.New("lzma: need a writer")

func (wc *writeCloser) Write(p []byte) (int, error) {
	if wc.w == nil {
		return 0, errNeedWriter
	}

	n, err := wc.w.Write(p)
	if err != nil {
		err = fmt.Errorf("lzma: error writing: %w", err)
	}

	return n, err
}

func (wc *writeCloser) Close() error {
	if wc.w == nil {
		return errNeedWriter
	}

	if err := wc.w.Close(); err != nil {
		return fmt.Errorf("lzma: error closing: %w", err)
	}

	if err := wc.wc.Close(); err != nil {
		return fmt.Errorf("lzma: error closing underlying writer: %w", err)
	}

	wc.w = nil

	return nil
}

// NewWriter returns an io.WriteCloser producing a raw LZMA1 stream (no
// classic alone-format header) ahead of w, along with the 5-byte coder
// properties blob (lc/lp/pb and dictionary size) that must be stored
// alongside the coder so a reader can reconstruct it.
func NewWriter(w io.WriteCloser, dictCap int) (io.WriteCloser, []byte, error) {
	config := lzma.WriterConfig{
		DictCap:      dictCap,
		Size:         -1,
		SizeInHeader: false,
		EOSMarker:    true,
	}

	if err := config.Verify(); err != nil {
		return nil, nil, fmt.Errorf("lzma: error verifying config: %w", err)
	}

	lw, err := config.NewWriter(w)
	if err != nil {
		return nil, nil, fmt.Errorf("lzma: error creating writer: %w", err)
	}

	props := lw.Properties()

	blob := append([]byte{props.Code()}, make([]byte, 4)...) //nolint:gocritic
	for i := range blob[1:] {
		blob[1+i] = byte(dictCap >> (8 * i)) //nolint:gosec
	}

	return &writeCloser{wc: w, w: lw}, blob, nil
}
