package sevenzip

import (
	"bufio"
	"bytes"
	"io"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadNumber(t *testing.T) {
	t.Parallel()

	values := []uint64{
		0, 1, 0x7f, 0x80, 0xff, 0x100, 0xffff, 0x10000,
		0xffffffff, 0x100000000, 0xffffffffffffff, math.MaxUint64,
	}

	for _, v := range values {
		var buf bytes.Buffer

		require.NoError(t, writeNumber(&buf, v))

		got, err := readNumber(bufio.NewReader(&buf))
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestWriteReadBitVector(t *testing.T) {
	t.Parallel()

	vec := []bool{true, false, true, true, false, false, false, true, true, false}

	var buf bytes.Buffer

	require.NoError(t, writeBitVector(&buf, vec))

	got, err := readBitVector(&buf, len(vec))
	require.NoError(t, err)
	assert.Equal(t, vec, got)
}

func TestWriteReadOptionalBitVectorAllTrue(t *testing.T) {
	t.Parallel()

	vec := []bool{true, true, true}

	var buf bytes.Buffer

	require.NoError(t, writeOptionalBitVector(&buf, vec))
	assert.Equal(t, []byte{1}, buf.Bytes())

	got, err := readOptionalBitVector(&buf, len(vec))
	require.NoError(t, err)
	assert.Equal(t, vec, got)
}

func TestWriteReadOptionalBitVectorMixed(t *testing.T) {
	t.Parallel()

	vec := []bool{true, false, true}

	var buf bytes.Buffer

	require.NoError(t, writeOptionalBitVector(&buf, vec))

	got, err := readOptionalBitVector(bufio.NewReader(&buf), len(vec))
	require.NoError(t, err)
	assert.Equal(t, vec, got)
}

func TestWriteReadDigests(t *testing.T) {
	t.Parallel()

	digest := []uint32{0xdeadbeef, 0, 0xcafef00d}

	var buf bytes.Buffer

	require.NoError(t, writeDigests(&buf, digest))

	got, err := readDigests(bufio.NewReader(&buf), len(digest))
	require.NoError(t, err)
	assert.Equal(t, digest, got)
}

func TestWriteReadNames(t *testing.T) {
	t.Parallel()

	names := []string{"hello.txt", "sub/nested.txt", "éèê"}

	var buf bytes.Buffer

	require.NoError(t, writeNames(&buf, names))

	br := bufio.NewReader(&buf)

	id, err := readID(br)
	require.NoError(t, err)
	require.Equal(t, byte(idName), id)

	size, err := readNumber(br)
	require.NoError(t, err)

	body := io.LimitReader(br, int64(size)) //nolint:gosec

	external, err := readByteFrom(body)
	require.NoError(t, err)
	require.Equal(t, byte(0), external)

	raw, err := io.ReadAll(body)
	require.NoError(t, err)

	got, err := readNames(raw, len(names))
	require.NoError(t, err)
	assert.Equal(t, names, got)
}

func TestWriteReadHeaderRoundTrip(t *testing.T) {
	t.Parallel()

	files := []FileHeader{
		{Name: "a.txt", Modified: time.Now().UTC().Truncate(time.Second)},
		{Name: "dir", isEmptyStream: true},
	}

	h := &header{
		streamsInfo: &streamsInfo{
			packInfo: &packInfo{position: 0, streams: 1, size: []uint64{42}},
			unpackInfo: &unpackInfo{
				folder: []*folder{{
					coder: []*coder{{id: idCopy, in: 1, out: 1}},
					in:    1,
					out:   1,
					size:  []uint64{42},
				}},
				digest: []uint32{0x12345678},
			},
			subStreamsInfo: &subStreamsInfo{
				streams: []uint64{1},
				size:    []uint64{42},
				digest:  []uint32{0x12345678},
			},
		},
		filesInfo: &filesInfo{file: files},
	}

	var buf bytes.Buffer

	require.NoError(t, writeHeader(&buf, h))

	br := bufio.NewReader(&buf)

	id, err := readID(br)
	require.NoError(t, err)
	require.Equal(t, byte(idHeader), id)

	got, err := readHeader(br)
	require.NoError(t, err)

	require.NotNil(t, got.streamsInfo)
	require.NotNil(t, got.streamsInfo.packInfo)
	assert.Equal(t, h.streamsInfo.packInfo.size, got.streamsInfo.packInfo.size)

	require.Len(t, got.filesInfo.file, 2)
	assert.Equal(t, "a.txt", got.filesInfo.file[0].Name)
	assert.Equal(t, "dir", got.filesInfo.file[1].Name)
	assert.True(t, got.filesInfo.file[1].isEmptyStream)
}
