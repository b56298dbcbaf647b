// Package fileattr builds the WinAttributes value for a file being added to
// an archive, mirroring on the write side the bit layout struct.go's
// FileHeader.Mode already decodes on reads: POSIX type and permission bits
// packed into the upper 16 bits, MS-DOS bits in the lower 16.
package fileattr

import iofs "io/fs"

const (
	sIFLNK = 0xa000
	sIFREG = 0x8000
	sIFDIR = 0x4000

	msdosDir      = 0x10
	msdosReadOnly = 0x01
)

// Encode returns the WinAttributes value for a file with the given mode.
// Setting the POSIX type nibble in the high 16 bits is what FileHeader.Mode
// checks (Attributes&0xf0000000 != 0) to prefer the POSIX bits over the
// MS-DOS ones on read.
func Encode(mode iofs.FileMode, symlink bool) uint32 {
	var dos uint32

	if mode.IsDir() {
		dos |= msdosDir
	}

	if mode&0o200 == 0 && !mode.IsDir() {
		dos |= msdosReadOnly
	}

	unix := uint32(mode.Perm()) //nolint:gosec

	switch {
	case symlink || mode&iofs.ModeSymlink != 0:
		unix |= sIFLNK
	case mode.IsDir():
		unix |= sIFDIR
	default:
		unix |= sIFREG
	}

	return dos | unix<<16 //nolint:gosec
}
