// Package util provides small helpers shared by the archive reader, writer
// and the codec implementations under internal/.
package util

import (
	"bufio"
	"io"
)

// SizeReadSeekCloser is implemented by anything that can be read, seeked,
// closed and that knows its own total size. The folder pool keys on this so
// that a partially consumed folder stream can be suspended and resumed from
// the correct offset later.
type SizeReadSeekCloser interface {
	io.ReadSeeker
	io.Closer
	Size() int64
}

// ReadCloser is implemented by anything that can be read a byte at a time
// and closed. BCJ2 (its main and range-coder streams), the Deflate reader
// and the encoded-header parser need ReadByte on their input streams.
type ReadCloser interface {
	io.ByteReader
	io.ReadCloser
}

// CRC32Equal reports whether the CRC32 checksum held in sum (as produced by
// a [hash.Hash32]'s Sum method) matches want.
func CRC32Equal(sum []byte, want uint32) bool {
	if len(sum) != 4 {
		return false
	}

	got := uint32(sum[0])<<24 | uint32(sum[1])<<16 | uint32(sum[2])<<8 | uint32(sum[3])

	return got == want
}

type nopCloser struct {
	io.Reader
}

func (nopCloser) Close() error { return nil }

// NopCloser returns an io.ReadCloser wrapping r with a no-op Close method,
// mirroring io.NopCloser but keeping the concrete type internal so callers
// can't accidentally rely on it being exactly io.NopCloser's type.
func NopCloser(r io.Reader) io.ReadCloser {
	return nopCloser{r}
}

type byteReadCloser struct {
	io.ReadCloser
	br io.ByteReader
}

func (b *byteReadCloser) ReadByte() (byte, error) {
	return b.br.ReadByte()
}

// ByteReadCloser returns a ReadCloser that also satisfies io.ByteReader. If
// rc already implements io.ByteReader it is wrapped as-is, otherwise a
// buffered reader is interposed to supply ReadByte.
func ByteReadCloser(rc io.ReadCloser) ReadCloser {
	if brc, ok := rc.(ReadCloser); ok {
		return brc
	}

	br, ok := rc.(io.ByteReader)
	if !ok {
		br = bufio.NewReader(rc)
	}

	return &byteReadCloser{ReadCloser: rc, br: br}
}
