package sevenzip

import (
	"errors"
	"io"
	"sync"

	"github.com/andrebrait/sevenzip/internal/aes7z"
	"github.com/andrebrait/sevenzip/internal/bcj2"
	"github.com/andrebrait/sevenzip/internal/bra"
	"github.com/andrebrait/sevenzip/internal/brotli"
	"github.com/andrebrait/sevenzip/internal/bzip2"
	"github.com/andrebrait/sevenzip/internal/deflate"
	"github.com/andrebrait/sevenzip/internal/delta"
	"github.com/andrebrait/sevenzip/internal/lz4"
	"github.com/andrebrait/sevenzip/internal/lzma"
	"github.com/andrebrait/sevenzip/internal/lzma2"
	"github.com/andrebrait/sevenzip/internal/zstd"
)

// Decompressor builds a decoding io.ReadCloser for one coder in a folder's
// graph from its properties, declared output size, and already-opened
// input streams (more than one only for multi-input coders such as BCJ2).
type Decompressor func([]byte, uint64, []io.ReadCloser) (io.ReadCloser, error)

var decompressors sync.Map //nolint:gochecknoglobals

// Coder IDs, as assigned by 7-Zip. Multi-byte IDs are the ones actually
// emitted by mainstream encoders; some filters also have obsolete
// single-byte aliases that nothing still in use produces, and those are
// deliberately not registered.
//
//nolint:gochecknoglobals
var (
	idCopy    = []byte{0x00}
	idDelta   = []byte{0x03, 0x03, 0x01, 0x03}
	idBCJX86  = []byte{0x03, 0x03, 0x01, 0x05}
	idPPC     = []byte{0x03, 0x03, 0x02, 0x05}
	idARM     = []byte{0x03, 0x03, 0x05, 0x01}
	idBCJ2    = []byte{0x03, 0x03, 0x07, 0x01}
	idSPARC   = []byte{0x03, 0x03, 0x08, 0x05}
	idARM64   = []byte{0x0a}
	idLZMA1   = []byte{0x03, 0x01, 0x01}
	idPPMd    = []byte{0x03, 0x04, 0x01}
	idDeflate = []byte{0x04, 0x01, 0x08}
	idBZip2   = []byte{0x04, 0x02, 0x02}
	idAES256  = []byte{0x06, 0xf1, 0x07, 0x01}
	idLZMA2   = []byte{0x21}
	idZstd    = []byte{0x04, 0xf7, 0x11, 0x01}
	idBrotli  = []byte{0x04, 0xf7, 0x11, 0x02}
	idLZ4     = []byte{0x04, 0xf7, 0x11, 0x04}
)

var errPPMdUnsupported = errors.New(`sevenzip: unsupported compression method "PPMd" (id 03 04 01)`)

func init() { //nolint:gochecknoinits
	RegisterDecompressor(idCopy, Decompressor(func(_ []byte, _ uint64, r []io.ReadCloser) (io.ReadCloser, error) {
		if len(r) != 1 {
			return nil, errAlgorithm
		}

		return r[0], nil
	}))
	RegisterDecompressor(idLZMA1, Decompressor(lzma.NewReader))
	RegisterDecompressor(idLZMA2, Decompressor(lzma2.NewReader))
	RegisterDecompressor(idDelta, Decompressor(delta.NewReader))
	RegisterDecompressor(idBCJX86, Decompressor(bra.NewBCJReader))
	RegisterDecompressor(idARM, Decompressor(bra.NewARMReader))
	RegisterDecompressor(idARM64, Decompressor(bra.NewARM64Reader))
	RegisterDecompressor(idPPC, Decompressor(bra.NewPPCReader))
	RegisterDecompressor(idSPARC, Decompressor(bra.NewSPARCReader))
	RegisterDecompressor(idBCJ2, Decompressor(bcj2.NewReader))
	RegisterDecompressor(idDeflate, Decompressor(deflate.NewReader))
	RegisterDecompressor(idBZip2, Decompressor(bzip2.NewReader))
	RegisterDecompressor(idBrotli, Decompressor(brotli.NewReader))
	RegisterDecompressor(idZstd, Decompressor(zstd.NewReader))
	RegisterDecompressor(idLZ4, Decompressor(lz4.NewReader))
	RegisterDecompressor(idAES256, Decompressor(aes7z.NewReader))
	RegisterDecompressor(idPPMd, Decompressor(func(_ []byte, _ uint64, _ []io.ReadCloser) (io.ReadCloser, error) {
		return nil, errPPMdUnsupported
	}))
}

// RegisterDecompressor allows a decompressor to be registered against a
// coder method ID for use by all archives, in addition to the ones this
// package registers for itself.
func RegisterDecompressor(method []byte, dcomp Decompressor) {
	if _, dup := decompressors.LoadOrStore(string(method), dcomp); dup {
		panic("sevenzip: decompressor already registered")
	}
}

func decompressor(method []byte) Decompressor {
	di, ok := decompressors.Load(string(method))
	if !ok {
		return nil
	}

	d, ok := di.(Decompressor)
	if !ok {
		return nil
	}

	return d
}
