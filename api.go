package sevenzip

import (
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/andrebrait/sevenzip/internal/util"
)

// FileRecord is the language-neutral listing entry for a single file in the
// archive, independent of the fs.FS-shaped File/FileHeader pair.
type FileRecord struct {
	Name             string
	UncompressedSize uint64
	CRC32            uint32
	HasCRC32         bool
	IsDir            bool
	IsSymlink        bool
	Modified         string
	Attributes       uint32
}

// GetNames returns the archive's file names in header order.
func (z *Reader) GetNames() []string {
	names := make([]string, len(z.File))
	for i, f := range z.File {
		names[i] = f.Name
	}

	return names
}

// List returns a FileRecord per entry in the archive, in header order.
func (z *Reader) List() []FileRecord {
	records := make([]FileRecord, len(z.File))

	for i, f := range z.File {
		records[i] = FileRecord{
			Name:             f.Name,
			UncompressedSize: f.UncompressedSize,
			CRC32:            f.CRC32,
			HasCRC32:         !f.isEmptyStream && f.CRC32 != 0,
			IsDir:            f.FileInfo().IsDir(),
			IsSymlink:        f.Mode()&os.ModeSymlink != 0,
			Modified:         f.Modified.UTC().Format("2006-01-02T15:04:05Z"),
			Attributes:       f.Attributes,
		}
	}

	return records
}

// Test reads every file with content in the archive, which runs each
// folder's coders to completion, and verifies every file CRC that's
// defined. It returns true only if every check passed.
func (z *Reader) Test() (bool, error) {
	for _, f := range z.File {
		if f.isEmptyStream || f.isEmptyFile {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return false, fmt.Errorf("sevenzip: error testing %q: %w", f.Name, err)
		}

		h := crc32.NewIEEE()

		_, err = io.Copy(h, rc)

		closeErr := rc.Close()
		if err != nil {
			return false, fmt.Errorf("sevenzip: error testing %q: %w", f.Name, err)
		}

		if closeErr != nil {
			return false, fmt.Errorf("sevenzip: error testing %q: %w", f.Name, closeErr)
		}

		if f.CRC32 != 0 && !util.CRC32Equal(crc32ToBytes(h.Sum32()), f.CRC32) {
			return false, nil
		}
	}

	return true, nil
}

func crc32ToBytes(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

var errEscapesRoot = errors.New("sevenzip: entry escapes extraction directory")

// Extract writes the named files to dir, creating parent directories,
// symlinks and directory entries as needed. Regular files are created with
// the stored permission bits and get the stored modification time;
// directories and symlinks get neither, and no other attribute bits are
// applied. An empty names list means every file in the archive.
func (z *Reader) Extract(dir string, names []string) error {
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}

	for _, f := range z.File {
		if len(names) > 0 && !wanted[f.Name] {
			continue
		}

		if err := extractOne(dir, f); err != nil {
			return err
		}
	}

	return nil
}

// ExtractAll writes every file in the archive to dir.
func (z *Reader) ExtractAll(dir string) error {
	return z.Extract(dir, nil)
}

func extractOne(dir string, f *File) error {
	target := filepath.Join(dir, filepath.FromSlash(f.Name))

	rel, err := filepath.Rel(dir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return errEscapesRoot
	}

	if f.Anti() {
		return nil
	}

	if f.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o777)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o777); err != nil {
		return fmt.Errorf("sevenzip: error creating parent directory for %q: %w", f.Name, err)
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("sevenzip: error opening %q: %w", f.Name, err)
	}
	defer rc.Close()

	if f.Mode()&os.ModeSymlink != 0 {
		target, err := io.ReadAll(rc)
		if err != nil {
			return fmt.Errorf("sevenzip: error reading symlink target for %q: %w", f.Name, err)
		}

		return os.Symlink(string(target), filepath.Join(dir, filepath.FromSlash(f.Name)))
	}

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode().Perm())
	if err != nil {
		return fmt.Errorf("sevenzip: error creating %q: %w", f.Name, err)
	}

	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		_ = os.Remove(target)

		return fmt.Errorf("sevenzip: error writing %q: %w", f.Name, err)
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("sevenzip: error closing %q: %w", f.Name, err)
	}

	if !f.Modified.IsZero() {
		_ = os.Chtimes(target, f.Modified, f.Modified)
	}

	return nil
}
