package sevenzip

import (
	"bytes"
	"io"
	iofs "io/fs"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildArchive writes files/dirs/symlinks under an afero.MemMapFs tree,
// archives it with WriteAll and the given profile, then returns the raw
// archive bytes.
func buildArchive(t *testing.T, profile CompressionProfile, encoded bool, populate func(fsys afero.Fs)) []byte {
	t.Helper()

	src := afero.NewMemMapFs()
	populate(src)

	dst := afero.NewMemMapFs()
	f, err := dst.Create("archive.7z")
	require.NoError(t, err)

	w, err := NewWriterWithOptions(f, profile, "")
	require.NoError(t, err)

	w.SetEncodedHeaderMode(encoded)

	require.NoError(t, w.WriteAll(src, "/root", ""))
	require.NoError(t, w.Close())

	require.NoError(t, f.Close())

	data, err := afero.ReadFile(dst, "archive.7z")
	require.NoError(t, err)

	return data
}

func openArchive(t *testing.T, data []byte) *Reader {
	t.Helper()

	r, err := NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	return r
}

func TestWriterRoundTrip(t *testing.T) {
	t.Parallel()

	for _, encoded := range []bool{false, true} {
		data := buildArchive(t, DefaultCompressionProfile, encoded, func(fsys afero.Fs) {
			require.NoError(t, fsys.MkdirAll("/root/sub", 0o755))
			require.NoError(t, afero.WriteFile(fsys, "/root/hello.txt", []byte("hello, world"), 0o644))
			require.NoError(t, afero.WriteFile(fsys, "/root/sub/nested.txt", []byte("nested content"), 0o644))
		})

		r := openArchive(t, data)

		names := r.GetNames()
		assert.ElementsMatch(t, []string{"sub/", "hello.txt", "sub/nested.txt"}, names)

		want := map[string]string{
			"hello.txt":      "hello, world",
			"sub/nested.txt": "nested content",
		}

		for _, file := range r.File {
			if file.FileInfo().IsDir() {
				continue
			}

			rc, err := file.Open()
			require.NoError(t, err)

			content, err := io.ReadAll(rc)
			require.NoError(t, rc.Close())
			require.NoError(t, err)

			assert.Equal(t, want[file.Name], string(content))
		}

		ok, err := r.Test()
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestWriterSymlink(t *testing.T) {
	t.Parallel()

	src := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(src, "/root/target.txt", []byte("payload"), 0o644))

	linker, ok := src.(afero.Linker)
	require.True(t, ok, "afero.MemMapFs should implement afero.Linker")
	require.NoError(t, linker.SymlinkIfPossible("target.txt", "/root/link.txt"))

	dst := afero.NewMemMapFs()
	f, err := dst.Create("archive.7z")
	require.NoError(t, err)

	w, err := NewWriter(f)
	require.NoError(t, err)

	require.NoError(t, w.WriteAll(src, "/root", ""))
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	data, err := afero.ReadFile(dst, "archive.7z")
	require.NoError(t, err)

	r := openArchive(t, data)

	for _, file := range r.File {
		if file.Name != "link.txt" {
			continue
		}

		assert.NotEqual(t, iofs.FileMode(0), file.Mode()&iofs.ModeSymlink)

		rc, err := file.Open()
		require.NoError(t, err)

		target, err := io.ReadAll(rc)
		require.NoError(t, rc.Close())
		require.NoError(t, err)

		assert.Equal(t, "target.txt", string(target))
	}
}

func TestWriterDirectoryOnlyArchive(t *testing.T) {
	t.Parallel()

	data := buildArchive(t, DefaultCompressionProfile, false, func(fsys afero.Fs) {
		require.NoError(t, fsys.MkdirAll("/root/empty/nested", 0o755))
	})

	r := openArchive(t, data)

	require.Len(t, r.File, 2)

	for _, file := range r.File {
		assert.True(t, file.FileInfo().IsDir())
	}
}

func TestWriterEmptyFile(t *testing.T) {
	t.Parallel()

	data := buildArchive(t, DefaultCompressionProfile, false, func(fsys afero.Fs) {
		require.NoError(t, afero.WriteFile(fsys, "/root/empty.txt", nil, 0o644))
	})

	r := openArchive(t, data)

	require.Len(t, r.File, 1)
	assert.Equal(t, uint64(0), r.File[0].UncompressedSize)

	rc, err := r.File[0].Open()
	require.NoError(t, err)

	content, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Empty(t, content)
}

func TestWriterFlushCreatesSeparateFolders(t *testing.T) {
	t.Parallel()

	src := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(src, "/a.txt", []byte("first folder"), 0o644))
	require.NoError(t, afero.WriteFile(src, "/b.txt", []byte("second folder"), 0o644))

	dst := afero.NewMemMapFs()
	f, err := dst.Create("archive.7z")
	require.NoError(t, err)

	w, err := NewWriter(f)
	require.NoError(t, err)

	require.NoError(t, w.Write(src, "/a.txt", "a.txt"))
	require.NoError(t, w.Flush())
	require.NoError(t, w.Write(src, "/b.txt", "b.txt"))
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	data, err := afero.ReadFile(dst, "archive.7z")
	require.NoError(t, err)

	r := openArchive(t, data)
	require.Len(t, r.si.unpackInfo.folder, 2)
}

func TestWriterPasswordRefused(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	_, err := NewWriterWithOptions(fakeWriteSeeker{&buf}, DefaultCompressionProfile, "secret")
	require.ErrorIs(t, err, WriteRefused)

	_, err = CreateWithOptions(t.TempDir()+"/archive.7z", DefaultCompressionProfile, "secret")
	require.ErrorIs(t, err, WriteRefused)
}

func TestWriterClosedRejectsWrite(t *testing.T) {
	t.Parallel()

	src := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(src, "/a.txt", []byte("x"), 0o644))

	dst := afero.NewMemMapFs()
	f, err := dst.Create("archive.7z")
	require.NoError(t, err)

	w, err := NewWriter(f)
	require.NoError(t, err)

	require.NoError(t, w.Write(src, "/a.txt", "a.txt"))
	require.NoError(t, w.Close())

	err = w.Write(src, "/a.txt", "a.txt")
	assert.ErrorIs(t, err, errWriterClosed)

	err = w.Close()
	assert.ErrorIs(t, err, errWriterClosed)
}

func TestCompressionProfileRefusals(t *testing.T) {
	t.Parallel()

	src := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(src, "/a.txt", []byte("x"), 0o644))

	tables := map[string]CompressionProfile{
		"bzip2 unsupported": {Method: MethodBZip2},
		"delta out of range": {
			Method:        MethodLZMA2,
			Filter:        FilterDelta,
			DeltaDistance: 9000,
		},
	}

	for name, profile := range tables {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer

			w, err := NewWriterWithOptions(fakeWriteSeeker{&buf}, profile, "")
			require.NoError(t, err) // refusal happens lazily, on first folder build

			err = w.Write(src, "/a.txt", "a.txt")
			assert.ErrorIs(t, err, WriteRefused)
		})
	}
}

// fakeWriteSeeker is a minimal in-memory io.WriteSeeker for tests that don't
// need a readable result afterwards.
type fakeWriteSeeker struct {
	buf *bytes.Buffer
}

func (f fakeWriteSeeker) Write(p []byte) (int, error) { return f.buf.Write(p) }

func (f fakeWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	return int64(f.buf.Len()), nil
}
