package sevenzip

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	iofs "io/fs"
	"path/filepath"

	"github.com/andrebrait/sevenzip/internal/fileattr"
	"github.com/bodgit/plumbing"
	"github.com/spf13/afero"
)

type writerState int

const (
	stateOpen writerState = iota
	stateWriting
	stateHeaderPending
	stateClosed
)

var (
	errWriterClosed = errors.New("sevenzip: writer is closed")
	errNoSeek       = errors.New("sevenzip: writer needs a seekable destination")
)

// sinkWriteCloser adapts a plain io.Writer to io.WriteCloser for the coder
// chain built by buildCoders: the underlying archive stream is only closed
// once, by Writer.Close, never per-folder.
type sinkWriteCloser struct {
	io.Writer
}

func (sinkWriteCloser) Close() error { return nil }

// folderWriter drives the encode-direction coder chain for a single solid
// folder: every non-empty file queued between two folder boundaries shares
// one compressed stream. It mirrors struct.go's decode-side folder model,
// built forwards instead of resolved from parsed bytes.
type folderWriter struct {
	folder  *folder
	chain   io.WriteCloser
	counter *plumbing.WriteCounter
	crc     hash.Hash32

	plainTotal uint64
	subSizes   []uint64
	subCRCs    []uint32
}

func newFolderWriter(sink io.Writer, profile CompressionProfile) (*folderWriter, error) {
	coders, wrap, err := buildCoders(profile)
	if err != nil {
		return nil, err
	}

	counter := new(plumbing.WriteCounter)

	chain, err := wrap(sinkWriteCloser{io.MultiWriter(sink, counter)})
	if err != nil {
		return nil, err
	}

	f := &folder{coder: coders, packedStreams: 1, packed: []uint64{0}}

	switch len(coders) {
	case 1:
		f.in, f.out = 1, 1
	case 2:
		f.in, f.out = 2, 2
		f.bindPair = []*bindPair{{in: 1, out: 0}}
	}

	return &folderWriter{folder: f, chain: chain, counter: counter, crc: crc32.NewIEEE()}, nil
}

func (fw *folderWriter) startFile() {
	fw.crc.Reset()
}

func (fw *folderWriter) Write(p []byte) (int, error) {
	n, err := fw.chain.Write(p)
	fw.crc.Write(p[:n])
	fw.plainTotal += uint64(n) //nolint:gosec

	if err != nil {
		err = fmt.Errorf("sevenzip: error writing folder content: %w", err)
	}

	return n, err
}

func (fw *folderWriter) endFile(size uint64) {
	fw.subSizes = append(fw.subSizes, size)
	fw.subCRCs = append(fw.subCRCs, fw.crc.Sum32())
}

// finish closes the coder chain and returns the folder's total packed
// (compressed) byte count.
func (fw *folderWriter) finish() (uint64, error) {
	if err := fw.chain.Close(); err != nil {
		return 0, fmt.Errorf("sevenzip: error closing folder: %w", err)
	}

	fw.folder.size = make([]uint64, len(fw.folder.coder))
	for i := range fw.folder.size {
		// Every filter this writer supports preserves byte count, so each
		// coder in the chain sees the same total regardless of position.
		fw.folder.size[i] = fw.plainTotal
	}

	return fw.counter.Count(), nil
}

// Writer creates 7z archives. The zero value is not usable; construct one
// with Create, NewWriter, CreateWithOptions or NewWriterWithOptions.
type Writer struct {
	w       io.WriteSeeker
	closer  func() error
	profile CompressionProfile
	encoded bool
	state   writerState

	packOffset uint64
	packSizes  []uint64
	folders    []*folder
	folderCRC  []uint32

	ssiStreams []uint64
	ssiSize    []uint64
	ssiCRC     []uint32

	files []FileHeader

	cur *folderWriter
}

// Create creates a new archive at name, truncating any existing file.
func Create(name string) (*Writer, error) {
	return CreateWithOptions(name, DefaultCompressionProfile, "")
}

// CreateWithOptions creates a new archive at name using profile. A non-empty
// password is rejected immediately with WriteRefused: password-protected
// writing is not implemented.
func CreateWithOptions(name string, profile CompressionProfile, password string) (*Writer, error) {
	if password != "" {
		return nil, fmt.Errorf("%w: password-protected writing is not supported", WriteRefused)
	}

	fs := afero.NewOsFs()

	f, err := fs.Create(filepath.Clean(name))
	if err != nil {
		return nil, fmt.Errorf("sevenzip: error creating %q: %w", name, err)
	}

	w, err := newWriter(f, profile, f.Close)
	if err != nil {
		_ = f.Close()

		return nil, err
	}

	return w, nil
}

// NewWriter returns a new [*Writer] using DefaultCompressionProfile, writing
// into w. w must be seekable: Close patches the 32-byte signature header in
// place once the packed data and header have been written.
func NewWriter(w io.WriteSeeker) (*Writer, error) {
	return NewWriterWithOptions(w, DefaultCompressionProfile, "")
}

// NewWriterWithOptions returns a new [*Writer] using profile, writing into
// w. See CreateWithOptions for the password restriction.
func NewWriterWithOptions(w io.WriteSeeker, profile CompressionProfile, password string) (*Writer, error) {
	if password != "" {
		return nil, fmt.Errorf("%w: password-protected writing is not supported", WriteRefused)
	}

	return newWriter(w, profile, nil)
}

func newWriter(w io.WriteSeeker, profile CompressionProfile, closer func() error) (*Writer, error) {
	var placeholder [32]byte

	if _, err := w.Write(placeholder[:]); err != nil {
		return nil, fmt.Errorf("sevenzip: error reserving signature header: %w", err)
	}

	return &Writer{w: w, closer: closer, profile: profile}, nil
}

// SetEncodedHeaderMode toggles whether the final header is itself stored as
// a compressed packed stream (tag EncodedHeader) rather than written plain.
func (w *Writer) SetEncodedHeaderMode(encoded bool) {
	w.encoded = encoded
}

func lstatIfPossible(fsys afero.Fs, name string) (iofs.FileInfo, error) {
	if lstater, ok := fsys.(afero.Lstater); ok {
		info, _, err := lstater.LstatIfPossible(name)

		return info, err //nolint:wrapcheck
	}

	return fsys.Stat(name) //nolint:wrapcheck
}

func readlinkIfPossible(fsys afero.Fs, name string) (string, error) {
	if reader, ok := fsys.(afero.LinkReader); ok {
		return reader.ReadlinkIfPossible(name) //nolint:wrapcheck
	}

	return "", fmt.Errorf("sevenzip: %T does not support reading symlinks", fsys)
}

// Write adds a single file, directory or symlink at pathInFS to the
// archive, stored under arcname.
//
//nolint:cyclop
func (w *Writer) Write(fsys afero.Fs, pathInFS, arcname string) error {
	if w.state == stateClosed || w.state == stateHeaderPending {
		return errWriterClosed
	}

	info, err := lstatIfPossible(fsys, pathInFS)
	if err != nil {
		return fmt.Errorf("sevenzip: error statting %q: %w", pathInFS, err)
	}

	fh := FileHeader{
		Name:       filepath.ToSlash(arcname),
		Modified:   info.ModTime().UTC(),
		Attributes: fileattr.Encode(info.Mode(), info.Mode()&iofs.ModeSymlink != 0),
	}

	switch {
	case info.IsDir():
		fh.isEmptyStream = true
		w.files = append(w.files, fh)

		return nil
	case info.Mode()&iofs.ModeSymlink != 0:
		target, err := readlinkIfPossible(fsys, pathInFS)
		if err != nil {
			return fmt.Errorf("sevenzip: error reading symlink %q: %w", pathInFS, err)
		}

		return w.writeContent(fh, bytes.NewReader([]byte(filepath.ToSlash(target))), uint64(len(target))) //nolint:gosec
	case info.Size() == 0:
		fh.isEmptyStream = true
		fh.isEmptyFile = true
		w.files = append(w.files, fh)

		return nil
	default:
		f, err := fsys.Open(pathInFS)
		if err != nil {
			return fmt.Errorf("sevenzip: error opening %q: %w", pathInFS, err)
		}
		defer f.Close()

		return w.writeContent(fh, f, uint64(info.Size())) //nolint:gosec
	}
}

func (w *Writer) writeContent(fh FileHeader, r io.Reader, size uint64) error {
	if w.cur == nil {
		fw, err := newFolderWriter(w.w, w.profile)
		if err != nil {
			return err
		}

		w.cur = fw
		w.state = stateWriting
	}

	w.cur.startFile()

	n, err := io.Copy(w.cur, r)
	if err != nil {
		return fmt.Errorf("sevenzip: error writing %q: %w", fh.Name, err)
	}

	w.cur.endFile(uint64(n)) //nolint:gosec

	fh.UncompressedSize = size
	fh.CRC32 = w.cur.subCRCs[len(w.cur.subCRCs)-1]
	w.files = append(w.files, fh)

	return nil
}

// WriteAll recursively adds every entry under root, in deterministic
// directory-then-children order, stored under arcnamePrefix joined with
// each entry's path relative to root.
func (w *Writer) WriteAll(fsys afero.Fs, root, arcnamePrefix string) error {
	return afero.Walk(fsys, root, func(path string, info iofs.FileInfo, err error) error {
		if err != nil {
			return fmt.Errorf("sevenzip: error walking %q: %w", path, err)
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("sevenzip: error computing relative path for %q: %w", path, err)
		}

		if rel == "." {
			return nil
		}

		arcname := filepath.ToSlash(filepath.Join(arcnamePrefix, rel))

		return w.Write(fsys, path, arcname)
	})
}

// Flush ends the current solid folder early. The next file written starts a
// new folder. A no-op if no folder is currently open.
func (w *Writer) Flush() error {
	if w.cur == nil {
		return nil
	}

	packed, err := w.cur.finish()
	if err != nil {
		return err
	}

	var digest uint32
	if len(w.cur.subCRCs) == 1 {
		digest = w.cur.subCRCs[0]
	}

	w.folders = append(w.folders, w.cur.folder)
	w.folderCRC = append(w.folderCRC, digest)
	w.packSizes = append(w.packSizes, packed)
	w.ssiStreams = append(w.ssiStreams, uint64(len(w.cur.subSizes))) //nolint:gosec
	w.ssiSize = append(w.ssiSize, w.cur.subSizes...)
	w.ssiCRC = append(w.ssiCRC, w.cur.subCRCs...)

	w.packOffset += packed
	w.cur = nil

	return nil
}

func (w *Writer) buildStreamsInfo() *streamsInfo {
	if len(w.folders) == 0 {
		return nil
	}

	return &streamsInfo{
		packInfo: &packInfo{
			position: 0,
			streams:  uint64(len(w.packSizes)), //nolint:gosec
			size:     w.packSizes,
		},
		unpackInfo: &unpackInfo{
			folder: w.folders,
			digest: w.folderCRC,
		},
		subStreamsInfo: &subStreamsInfo{
			streams: w.ssiStreams,
			size:    w.ssiSize,
			digest:  w.ssiCRC,
		},
	}
}

// Close flushes the current folder, finalizes and writes the header, then
// patches the signature header with the correct offset, size and CRC of
// the header region.
//
//nolint:cyclop
func (w *Writer) Close() error {
	if w.state == stateClosed {
		return errWriterClosed
	}

	if err := w.Flush(); err != nil {
		return err
	}

	w.state = stateHeaderPending

	h := &header{
		streamsInfo: w.buildStreamsInfo(),
		filesInfo:   &filesInfo{file: w.files},
	}

	var raw bytes.Buffer
	if err := writeHeader(&raw, h); err != nil {
		return err
	}

	var (
		metadata []byte
		err      error
	)

	if w.encoded {
		metadata, err = w.writeEncodedHeader(raw.Bytes())
	} else {
		metadata = raw.Bytes()
	}

	if err == nil {
		if _, werr := w.w.Write(metadata); werr != nil {
			err = fmt.Errorf("sevenzip: error writing header: %w", werr)
		}
	}

	if err != nil {
		return err
	}

	headerOffset := w.packOffset
	w.packOffset += uint64(len(metadata)) //nolint:gosec

	if err := w.writeSignature(headerOffset, uint64(len(metadata)), crc32.ChecksumIEEE(metadata)); err != nil { //nolint:gosec
		return err
	}

	w.state = stateClosed

	if w.closer != nil {
		if err := w.closer(); err != nil {
			return fmt.Errorf("sevenzip: error closing: %w", err)
		}
	}

	return nil
}

// writeEncodedHeader compresses raw through a one-off folder, writes the
// compressed bytes directly to the archive (as just another packed stream),
// and returns the EncodedHeader + StreamsInfo bytes that describe it - the
// metadata StartHeader ultimately points to.
func (w *Writer) writeEncodedHeader(raw []byte) ([]byte, error) {
	fw, err := newFolderWriter(w.w, w.profile)
	if err != nil {
		return nil, err
	}

	fw.startFile()

	if _, err := fw.Write(raw); err != nil {
		return nil, err
	}

	fw.endFile(uint64(len(raw))) //nolint:gosec

	packed, err := fw.finish()
	if err != nil {
		return nil, err
	}

	si := &streamsInfo{
		packInfo: &packInfo{
			position: w.packOffset,
			streams:  1,
			size:     []uint64{packed},
		},
		unpackInfo: &unpackInfo{
			folder: []*folder{fw.folder},
			digest: []uint32{crc32.ChecksumIEEE(raw)},
		},
	}

	w.packOffset += packed

	var metadata bytes.Buffer
	if err := writeID(&metadata, idEncodedHeader); err != nil {
		return nil, err
	}

	if err := writeStreamsInfo(&metadata, si); err != nil {
		return nil, err
	}

	return metadata.Bytes(), nil
}

func (w *Writer) writeSignature(offset, size uint64, crc uint32) error {
	sh := startHeader{Offset: offset, Size: size, CRC: crc}

	var shBuf bytes.Buffer
	if err := binary.Write(&shBuf, binary.LittleEndian, sh); err != nil {
		return fmt.Errorf("sevenzip: error encoding start header: %w", err)
	}

	sig := signatureHeader{
		Signature: [6]byte{'7', 'z', 0xbc, 0xaf, 0x27, 0x1c},
		Major:     0,
		Minor:     4,
		CRC:       crc32.ChecksumIEEE(shBuf.Bytes()),
	}

	if _, err := w.w.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("%w: %w", errNoSeek, err)
	}

	if err := binary.Write(w.w, binary.LittleEndian, sig); err != nil {
		return fmt.Errorf("sevenzip: error writing signature header: %w", err)
	}

	if _, err := w.w.Write(shBuf.Bytes()); err != nil {
		return fmt.Errorf("sevenzip: error writing start header: %w", err)
	}

	return nil
}
