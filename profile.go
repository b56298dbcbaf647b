package sevenzip

import (
	"errors"
	"fmt"
	"io"

	"github.com/andrebrait/sevenzip/internal/bra"
	"github.com/andrebrait/sevenzip/internal/brotli"
	"github.com/andrebrait/sevenzip/internal/deflate"
	"github.com/andrebrait/sevenzip/internal/delta"
	"github.com/andrebrait/sevenzip/internal/lz4"
	"github.com/andrebrait/sevenzip/internal/lzma"
	"github.com/andrebrait/sevenzip/internal/lzma2"
	"github.com/andrebrait/sevenzip/internal/zstd"
	kzstd "github.com/klauspost/compress/zstd"
)

// CompressionMethod selects the main coder a folder is compressed with.
type CompressionMethod int

// Supported compression methods. MethodBZip2 is accepted by CompressionProfile
// for symmetry with the registry's read support but is always refused at
// folder-build time: see WriteRefused and DESIGN.md.
const (
	MethodCopy CompressionMethod = iota
	MethodLZMA
	MethodLZMA2
	MethodDeflate
	MethodBZip2
	MethodBrotli
	MethodZstd
	MethodLZ4
)

// FilterMethod selects an optional branch-converter filter applied ahead of
// the main coder. Only one filter may be active per folder.
type FilterMethod int

// Supported filters.
const (
	FilterNone FilterMethod = iota
	FilterDelta
	FilterBCJX86
	FilterARM
	FilterARM64
	FilterPPC
	FilterSPARC
)

// CompressionProfile configures how the writer compresses each folder. The
// zero value is not valid; use DefaultCompressionProfile or set Method
// explicitly.
type CompressionProfile struct {
	Method CompressionMethod
	Filter FilterMethod

	// DeltaDistance is the byte distance used when Filter is FilterDelta,
	// in the range 1-256. Ignored for every other filter.
	DeltaDistance int

	// DictCap is the LZMA/LZMA2 dictionary size in bytes. Zero selects
	// defaultDictCap.
	DictCap int

	// Level is the generic compression effort, 0-9, mapped onto whichever
	// knob the chosen Method exposes (flate/brotli/zstd level). Copy,
	// LZMA, LZMA2 and LZ4 ignore it.
	Level int
}

// DefaultCompressionProfile mirrors 7-Zip's -mx=7: solid LZMA2 with no
// filter and an 8 MiB dictionary.
var DefaultCompressionProfile = CompressionProfile{ //nolint:gochecknoglobals
	Method: MethodLZMA2,
	Filter: FilterNone,
	Level:  7,
}

// WriteRefused is returned when a CompressionProfile names a coder or
// filter combination the writer cannot produce: PPMd, BCJ2, AES-256, or
// BZip2 (no suitable encoder is available; see DESIGN.md), or an
// out-of-range DeltaDistance.
var WriteRefused = errors.New("sevenzip: write refused") //nolint:stylecheck

// defaultDictCap is used whenever a profile doesn't name an explicit
// dictionary size. The writer streams folders as they're built rather than
// buffering every file first, so there's no total size to derive a dictionary
// from the way 7-Zip's own CLI does; 8 MiB matches -mx=7's dictionary on
// inputs too small to benefit from anything larger.
const defaultDictCap = 8 << 20

func dictCapFor(profile CompressionProfile) int {
	if profile.DictCap > 0 {
		return profile.DictCap
	}

	return defaultDictCap
}

// buildCoders returns the coder chain (innermost/main coder first, as
// stored in the folder header) needed to compress a folder under profile,
// plus a constructor that wraps the packed-stream sink with the matching
// encoder chain.
//
//nolint:cyclop
func buildCoders(profile CompressionProfile) ([]*coder, func(io.WriteCloser) (io.WriteCloser, error), error) {
	var (
		id         []byte
		properties []byte
		wrap       func(io.WriteCloser) (io.WriteCloser, error)
	)

	switch profile.Method {
	case MethodCopy:
		id = idCopy
		wrap = func(w io.WriteCloser) (io.WriteCloser, error) { return w, nil }
	case MethodLZMA:
		id = idLZMA1
		wrap = func(w io.WriteCloser) (io.WriteCloser, error) {
			lw, props, err := lzma.NewWriter(w, dictCapFor(profile))
			properties = props

			return lw, err
		}
	case MethodLZMA2:
		id = idLZMA2
		wrap = func(w io.WriteCloser) (io.WriteCloser, error) {
			lw, props, err := lzma2.NewWriter(w, dictCapFor(profile))
			properties = props

			return lw, err
		}
	case MethodDeflate:
		id = idDeflate
		wrap = func(w io.WriteCloser) (io.WriteCloser, error) {
			return deflate.NewWriter(w, min(max(profile.Level, 1), 9))
		}
	case MethodBrotli:
		id = idBrotli
		wrap = func(w io.WriteCloser) (io.WriteCloser, error) {
			return brotli.NewWriter(w, min(max(profile.Level, 0), 11))
		}
	case MethodZstd:
		id = idZstd
		wrap = func(w io.WriteCloser) (io.WriteCloser, error) {
			return zstd.NewWriter(w, zstdLevel(profile.Level))
		}
	case MethodLZ4:
		id = idLZ4
		wrap = func(w io.WriteCloser) (io.WriteCloser, error) {
			return lz4.NewWriter(w)
		}
	case MethodBZip2:
		return nil, nil, fmt.Errorf("%w: bzip2 encoding is not supported", WriteRefused)
	default:
		return nil, nil, fmt.Errorf("%w: unknown compression method", WriteRefused)
	}

	main := &coder{id: id, in: 1, out: 1}

	coders := []*coder{main}

	filterID, filterProps, filterWrap, err := buildFilter(profile)
	if err != nil {
		return nil, nil, err
	}

	if filterWrap == nil {
		return coders, func(sink io.WriteCloser) (io.WriteCloser, error) {
			w, err := wrap(sink)
			main.properties = properties

			return w, err
		}, nil
	}

	coders = append(coders, &coder{id: filterID, in: 1, out: 1, properties: filterProps})

	return coders, func(sink io.WriteCloser) (io.WriteCloser, error) {
		w, err := wrap(sink)
		main.properties = properties

		if err != nil {
			return nil, err
		}

		return filterWrap(w)
	}, nil
}

// zstdLevel maps the generic 0-9 effort scale onto klauspost/compress/zstd's
// four encoder speed tiers.
func zstdLevel(level int) kzstd.EncoderLevel {
	switch {
	case level <= 1:
		return kzstd.SpeedFastest
	case level <= 4:
		return kzstd.SpeedDefault
	case level <= 7:
		return kzstd.SpeedBetterCompression
	default:
		return kzstd.SpeedBestCompression
	}
}

func buildFilter(profile CompressionProfile) ([]byte, []byte, func(io.WriteCloser) (io.WriteCloser, error), error) {
	switch profile.Filter {
	case FilterNone:
		return nil, nil, nil, nil
	case FilterDelta:
		if profile.DeltaDistance < 1 || profile.DeltaDistance > 256 {
			return nil, nil, nil, fmt.Errorf("%w: delta distance out of range", WriteRefused)
		}

		return idDelta, delta.Properties(profile.DeltaDistance), func(w io.WriteCloser) (io.WriteCloser, error) {
			return delta.NewWriter(w, profile.DeltaDistance)
		}, nil
	case FilterBCJX86:
		return idBCJX86, nil, bra.NewBCJWriter, nil
	case FilterARM:
		return idARM, nil, bra.NewARMWriter, nil
	case FilterARM64:
		return idARM64, nil, bra.NewARM64Writer, nil
	case FilterPPC:
		return idPPC, nil, bra.NewPPCWriter, nil
	case FilterSPARC:
		return idSPARC, nil, bra.NewSPARCWriter, nil
	default:
		return nil, nil, nil, fmt.Errorf("%w: unknown filter", WriteRefused)
	}
}
