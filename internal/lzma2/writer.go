package lzma2

import (
	"errors"
	"fmt"
	"io"

	"github.com/ulikunitz/xz/lzma"
)

type writeCloser struct {
	wc io.WriteCloser
	w  *lzma.Writer2
}

var errNeedWriter = errors.New("lzma2: need a writer")

func (wc *writeCloser) Write(p []byte) (int, error) {
	if wc.w == nil {
		return 0, errNeedWriter
	}

	n, err := wc.w.Write(p)
	if err != nil {
		err = fmt.Errorf("lzma2: error writing: %w", err)
	}

	return n, err
}

func (wc *writeCloser) Close() error {
	if wc.w == nil {
		return errNeedWriter
	}

	if err := wc.w.Close(); err != nil {
		return fmt.Errorf("lzma2: error closing: %w", err)
	}

	if err := wc.wc.Close(); err != nil {
		return fmt.Errorf("lzma2: error closing underlying writer: %w", err)
	}

	wc.w = nil

	return nil
}

// dictSizeProp packs a dictionary size into the single property byte the
// LZMA2 coder stores in the folder header, inverting the formula the reader
// uses to unpack it (Lzma2Dec.c's scheme).
func dictSizeProp(dictCap int) byte {
	for p := 0; p < 40; p++ {
		size := (2 | (p & 1)) << (p/2 + 11)
		if size >= dictCap {
			return byte(p)
		}
	}

	return 40
}

// NewWriter returns an io.WriteCloser producing an LZMA2 stream ahead of w,
// along with the single coder property byte encoding dictCap.
func NewWriter(w io.WriteCloser, dictCap int) (io.WriteCloser, []byte, error) {
	config := lzma.Writer2Config{
		DictCap: dictCap,
	}

	if err := config.Verify(); err != nil {
		return nil, nil, fmt.Errorf("lzma2: error verifying config: %w", err)
	}

	lw, err := config.NewWriter2(w)
	if err != nil {
		return nil, nil, fmt.Errorf("lzma2: error creating writer: %w", err)
	}

	return &writeCloser{wc: w, w: lw}, []byte{dictSizeProp(dictCap)}, nil
}
