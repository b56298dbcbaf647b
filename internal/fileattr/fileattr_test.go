package fileattr_test

import (
	iofs "io/fs"
	"testing"

	"github.com/andrebrait/sevenzip/internal/fileattr"
	"github.com/stretchr/testify/assert"
)

func TestEncodeRegularFile(t *testing.T) {
	t.Parallel()

	attr := fileattr.Encode(0o644, false)

	// Top nibble must be non-zero so the reader prefers the POSIX bits.
	assert.NotZero(t, attr&0xf0000000)
	assert.Equal(t, uint32(0o644), (attr>>16)&0o777)
	assert.Zero(t, attr&0x01) // not read-only
}

func TestEncodeReadOnlyFile(t *testing.T) {
	t.Parallel()

	attr := fileattr.Encode(0o444, false)

	assert.NotZero(t, attr&0x01)
}

func TestEncodeDirectory(t *testing.T) {
	t.Parallel()

	attr := fileattr.Encode(iofs.ModeDir|0o755, false)

	assert.NotZero(t, attr&0x10)
	assert.Equal(t, uint32(0o755), (attr>>16)&0o777)
}

func TestEncodeSymlink(t *testing.T) {
	t.Parallel()

	attr := fileattr.Encode(0o777, true)

	assert.NotZero(t, attr&0xf0000000)
	assert.Equal(t, uint32(0xa000), (attr>>16)&0xf000)
}
