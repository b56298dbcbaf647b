package sevenzip

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/andrebrait/sevenzip/internal/util"
	"golang.org/x/text/encoding/unicode"
)

// Property IDs, as laid out in the 7z format's header grammar. Every
// section opened by one of these is terminated by idEnd.
const (
	idEnd                   = 0x00
	idHeader                = 0x01
	idArchiveProperties     = 0x02
	idAdditionalStreamsInfo = 0x03
	idMainStreamsInfo       = 0x04
	idFilesInfo             = 0x05
	idPackInfo              = 0x06
	idUnpackInfo            = 0x07
	idSubStreamsInfo        = 0x08
	idSize                  = 0x09
	idCRC                   = 0x0a
	idFolder                = 0x0b
	idCodersUnpackSize      = 0x0c
	idNumUnpackStream       = 0x0d
	idEmptyStream           = 0x0e
	idEmptyFile             = 0x0f
	idAnti                  = 0x10
	idName                  = 0x11
	idCTime                 = 0x12
	idATime                 = 0x13
	idMTime                 = 0x14
	idWinAttributes         = 0x15
	idEncodedHeader         = 0x17
	idDummy                 = 0x19

	// windowsEpochDelta is the number of seconds between the FILETIME
	// epoch (1601-01-01) and the Unix epoch (1970-01-01).
	windowsEpochDelta = 11644473600
)

var (
	errUnexpectedID          = errors.New("sevenzip: unexpected id")
	errExternalUnsupported   = errors.New("sevenzip: external data streams are not supported")
	errMultipleFolders       = errors.New("sevenzip: folder must have exactly one output stream")
	errCoderIDTooLarge       = errors.New("sevenzip: coder id too large")
	errHeaderStreamsMismatch = errors.New("sevenzip: files info does not match streams info")
)

// byteReader is satisfied by both *bufio.Reader (used while the header is
// being read straight off the backing file) and util.ReadCloser (used when
// re-reading a decoded header stream), so the parsing functions below don't
// care which one they were handed.
type byteReader interface {
	io.Reader
	io.ByteReader
}

// readNumber decodes a 7z "packed" UInt64: the leading byte's high-bit run
// indicates how many extra little-endian bytes follow, and its remaining
// low bits supply the top bits of the value. Every possible leading byte
// produces a value that fits in 64 bits by construction - there is no
// pattern that needs to be rejected as an overflow.
func readNumber(r byteReader) (uint64, error) {
	first, err := r.ReadByte()
	if err != nil {
		return 0, fmt.Errorf("sevenzip: error reading number: %w", err)
	}

	var (
		value uint64
		mask  byte = 0x80
	)

	for i := 0; i < 8; i++ {
		if first&mask == 0 {
			value |= uint64(first&(mask-1)) << (8 * i)

			return value, nil
		}

		b, err := r.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("sevenzip: error reading number: %w", err)
		}

		value |= uint64(b) << (8 * i)
		mask >>= 1
	}

	return value, nil
}

func readUint32(r io.Reader) (uint32, error) {
	var v uint32
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return 0, fmt.Errorf("sevenzip: error reading uint32: %w", err)
	}

	return v, nil
}

func readUint64(r io.Reader) (uint64, error) {
	var v uint64
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return 0, fmt.Errorf("sevenzip: error reading uint64: %w", err)
	}

	return v, nil
}

// readBitVector reads a packed boolean vector of n bits, MSB-first within
// each of the ceil(n/8) bytes.
func readBitVector(r io.Reader, n int) ([]bool, error) {
	vec := make([]bool, n)

	var (
		b    byte
		mask byte
		err  error
	)

	for i := 0; i < n; i++ {
		if mask == 0 {
			if b, err = readByteFrom(r); err != nil {
				return nil, err
			}

			mask = 0x80
		}

		vec[i] = b&mask != 0
		mask >>= 1
	}

	return vec, nil
}

func readByteFrom(r io.Reader) (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("sevenzip: error reading byte: %w", err)
	}

	return buf[0], nil
}

// readOptionalBitVector implements the common "AllAreDefined" framing: a
// single bool byte, and only when it's zero does an explicit bit vector
// follow.
func readOptionalBitVector(r io.Reader, n int) ([]bool, error) {
	allDefined, err := readByteFrom(r)
	if err != nil {
		return nil, err
	}

	if allDefined != 0 {
		vec := make([]bool, n)
		for i := range vec {
			vec[i] = true
		}

		return vec, nil
	}

	return readBitVector(r, n)
}

// readDigests reads a CRC section: an AllAreDefined-framed bool vector
// followed by a UInt32 for every set bit. Entries that are undefined come
// back as zero, which is also py7zr/7-Zip's own "no checksum known" value,
// so a zero digest is never mistaken for a validated one downstream.
func readDigests(r byteReader, n int) ([]uint32, error) {
	defined, err := readOptionalBitVector(r, n)
	if err != nil {
		return nil, err
	}

	digest := make([]uint32, n)

	for i, d := range defined {
		if !d {
			continue
		}

		if digest[i], err = readUint32(r); err != nil {
			return nil, err
		}
	}

	return digest, nil
}

func readID(r byteReader) (byte, error) {
	id, err := r.ReadByte()
	if err != nil {
		return 0, fmt.Errorf("sevenzip: error reading id: %w", err)
	}

	return id, nil
}

func readPackInfo(r byteReader) (*packInfo, error) {
	position, err := readNumber(r)
	if err != nil {
		return nil, err
	}

	streams, err := readNumber(r)
	if err != nil {
		return nil, err
	}

	pi := &packInfo{position: position, streams: streams}

	for {
		id, err := readID(r)
		if err != nil {
			return nil, err
		}

		switch id {
		case idSize:
			pi.size = make([]uint64, streams)

			for i := range pi.size {
				if pi.size[i], err = readNumber(r); err != nil {
					return nil, err
				}
			}
		case idCRC:
			if pi.digest, err = readDigests(r, int(streams)); err != nil { //nolint:gosec
				return nil, err
			}
		case idEnd:
			return pi, nil
		default:
			return nil, errUnexpectedID
		}
	}
}

const maxCoderIDLength = 0x0f

func readFolder(r byteReader) (*folder, error) {
	numCoders, err := readNumber(r)
	if err != nil {
		return nil, err
	}

	f := &folder{coder: make([]*coder, numCoders)}

	var totalIn, totalOut uint64

	for i := range f.coder {
		flags, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("sevenzip: error reading coder flags: %w", err)
		}

		idSize := int(flags & maxCoderIDLength)
		if idSize > maxCoderIDLength {
			return nil, errCoderIDTooLarge
		}

		c := &coder{id: make([]byte, idSize), in: 1, out: 1}

		if _, err := io.ReadFull(r, c.id); err != nil {
			return nil, fmt.Errorf("sevenzip: error reading coder id: %w", err)
		}

		if flags&0x10 != 0 { // complex coder: explicit in/out stream counts
			if c.in, err = readNumber(r); err != nil {
				return nil, err
			}

			if c.out, err = readNumber(r); err != nil {
				return nil, err
			}
		}

		if flags&0x20 != 0 { // coder carries a properties blob
			size, err := readNumber(r)
			if err != nil {
				return nil, err
			}

			c.properties = make([]byte, size)
			if _, err := io.ReadFull(r, c.properties); err != nil {
				return nil, fmt.Errorf("sevenzip: error reading coder properties: %w", err)
			}
		}

		// flags & 0x80 ("there are more alternative methods") is obsolete
		// and never produced by any encoder still in use.

		f.coder[i] = c
		totalIn += c.in
		totalOut += c.out
	}

	f.in, f.out = totalIn, totalOut

	numBindPairs := totalOut - 1
	f.bindPair = make([]*bindPair, numBindPairs)

	for i := range f.bindPair {
		in, err := readNumber(r)
		if err != nil {
			return nil, err
		}

		out, err := readNumber(r)
		if err != nil {
			return nil, err
		}

		f.bindPair[i] = &bindPair{in: in, out: out}
	}

	f.packedStreams = totalIn - numBindPairs
	f.packed = make([]uint64, f.packedStreams)

	if f.packedStreams == 1 {
		for i := uint64(0); i < totalIn; i++ {
			if f.findInBindPair(i) == nil {
				f.packed[0] = i

				break
			}
		}
	} else {
		for i := range f.packed {
			if f.packed[i], err = readNumber(r); err != nil {
				return nil, err
			}
		}
	}

	return f, nil
}

func readUnpackInfo(r byteReader) (*unpackInfo, error) {
	id, err := readID(r)
	if err != nil {
		return nil, err
	}

	if id != idFolder {
		return nil, errUnexpectedID
	}

	numFolders, err := readNumber(r)
	if err != nil {
		return nil, err
	}

	external, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("sevenzip: error reading external flag: %w", err)
	}

	if external != 0 {
		return nil, errExternalUnsupported
	}

	folders := make([]*folder, numFolders)

	for i := range folders {
		if folders[i], err = readFolder(r); err != nil {
			return nil, err
		}
	}

	if id, err = readID(r); err != nil {
		return nil, err
	}

	if id != idCodersUnpackSize {
		return nil, errUnexpectedID
	}

	for _, f := range folders {
		f.size = make([]uint64, f.out)

		for i := range f.size {
			if f.size[i], err = readNumber(r); err != nil {
				return nil, err
			}
		}

		unbound := 0

		for i := uint64(0); i < f.out; i++ {
			if f.findOutBindPair(i) == nil {
				unbound++
			}
		}

		if unbound != 1 {
			return nil, errMultipleFolders
		}
	}

	ui := &unpackInfo{folder: folders}

	for {
		if id, err = readID(r); err != nil {
			return nil, err
		}

		switch id {
		case idCRC:
			if ui.digest, err = readDigests(r, int(numFolders)); err != nil { //nolint:gosec
				return nil, err
			}
		case idEnd:
			return ui, nil
		default:
			return nil, errUnexpectedID
		}
	}
}

//nolint:cyclop,funlen
func readSubStreamsInfo(r byteReader, ui *unpackInfo) (*subStreamsInfo, error) {
	numFolders := len(ui.folder)

	streams := make([]uint64, numFolders)
	for i := range streams {
		streams[i] = 1
	}

	id, err := readID(r)
	if err != nil {
		return nil, err
	}

	if id == idNumUnpackStream {
		for i := range streams {
			if streams[i], err = readNumber(r); err != nil {
				return nil, err
			}
		}

		if id, err = readID(r); err != nil {
			return nil, err
		}
	}

	var sizes []uint64

	for i, f := range ui.folder {
		if streams[i] == 0 {
			continue
		}

		var sum uint64

		for j := uint64(1); j < streams[i]; j++ {
			if id != idSize {
				continue
			}

			sz, err := readNumber(r)
			if err != nil {
				return nil, err
			}

			sizes = append(sizes, sz)
			sum += sz
		}

		sizes = append(sizes, f.unpackSize()-sum)
	}

	if id == idSize {
		if id, err = readID(r); err != nil {
			return nil, err
		}
	}

	ssi := &subStreamsInfo{streams: streams, size: sizes}

	numDigestsNeeded := 0

	for i := range ui.folder {
		if streams[i] != 1 || ui.digest == nil || ui.digest[i] == 0 {
			numDigestsNeeded += int(streams[i]) //nolint:gosec
		}
	}

	var read []uint32

	if id == idCRC {
		if read, err = readDigests(r, numDigestsNeeded); err != nil {
			return nil, err
		}

		if id, err = readID(r); err != nil {
			return nil, err
		}
	}

	total := 0
	for _, s := range streams {
		total += int(s) //nolint:gosec
	}

	ssi.digest = make([]uint32, total)

	di, ri := 0, 0

	for i := range ui.folder {
		if streams[i] == 1 && ui.digest != nil && ui.digest[i] != 0 {
			ssi.digest[di] = ui.digest[i]
			di++

			continue
		}

		for j := uint64(0); j < streams[i]; j++ {
			if ri < len(read) {
				ssi.digest[di] = read[ri]
				ri++
			}

			di++
		}
	}

	if id != idEnd {
		return nil, errUnexpectedID
	}

	return ssi, nil
}

func readStreamsInfo(r byteReader) (*streamsInfo, error) {
	si := new(streamsInfo)

	for {
		id, err := readID(r)
		if err != nil {
			return nil, err
		}

		switch id {
		case idPackInfo:
			if si.packInfo, err = readPackInfo(r); err != nil {
				return nil, err
			}
		case idUnpackInfo:
			if si.unpackInfo, err = readUnpackInfo(r); err != nil {
				return nil, err
			}
		case idSubStreamsInfo:
			if si.unpackInfo == nil {
				return nil, errUnexpectedID
			}

			if si.subStreamsInfo, err = readSubStreamsInfo(r, si.unpackInfo); err != nil {
				return nil, err
			}
		case idEnd:
			return si, nil
		default:
			return nil, errUnexpectedID
		}
	}
}

func skipProperty(r byteReader) error {
	size, err := readNumber(r)
	if err != nil {
		return err
	}

	if _, err := io.CopyN(io.Discard, r, int64(size)); err != nil { //nolint:gosec
		return fmt.Errorf("sevenzip: error skipping property: %w", err)
	}

	return nil
}

func readArchiveProperties(r byteReader) error {
	for {
		id, err := readID(r)
		if err != nil {
			return err
		}

		if id == idEnd {
			return nil
		}

		if err := skipProperty(r); err != nil {
			return err
		}
	}
}

var utf16LE = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM) //nolint:gochecknoglobals

func readNames(raw []byte, n int) ([]string, error) {
	decoded, err := utf16LE.NewDecoder().Bytes(raw)
	if err != nil {
		return nil, fmt.Errorf("sevenzip: error decoding names: %w", err)
	}

	names := make([]string, 0, n)

	start := 0
	for i := 0; i < len(decoded); i++ {
		if decoded[i] != 0 {
			continue
		}

		names = append(names, string(decoded[start:i]))
		start = i + 1
	}

	return names, nil
}

func filetimeToTime(ft uint64) time.Time {
	if ft == 0 {
		return time.Time{}
	}

	sec := int64(ft/10000000) - windowsEpochDelta //nolint:gosec
	nsec := int64(ft%10000000) * 100              //nolint:gosec

	return time.Unix(sec, nsec).UTC()
}

func timeToFiletime(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}

	sec := uint64(t.Unix() + windowsEpochDelta) //nolint:gosec

	return sec*10000000 + uint64(t.Nanosecond()/100) //nolint:gosec
}

//nolint:cyclop,funlen,gocognit
func readFilesInfo(r byteReader) (*filesInfo, error) {
	count, err := readNumber(r)
	if err != nil {
		return nil, err
	}

	numFiles := int(count) //nolint:gosec

	fi := &filesInfo{file: make([]FileHeader, numFiles)}

	var emptyStream, emptyFile, anti []bool

	for {
		id, err := readID(r)
		if err != nil {
			return nil, err
		}

		if id == idEnd {
			break
		}

		size, err := readNumber(r)
		if err != nil {
			return nil, err
		}

		body := io.LimitReader(r, int64(size)) //nolint:gosec

		switch id {
		case idEmptyStream:
			if emptyStream, err = readBitVector(body, numFiles); err != nil {
				return nil, err
			}
		case idEmptyFile:
			if emptyFile, err = readBitVector(body, countTrue(emptyStream)); err != nil {
				return nil, err
			}
		case idAnti:
			if anti, err = readBitVector(body, countTrue(emptyStream)); err != nil {
				return nil, err
			}
		case idName:
			external, err := readByteFrom(body)
			if err != nil {
				return nil, err
			}

			if external != 0 {
				return nil, errExternalUnsupported
			}

			raw, err := io.ReadAll(body)
			if err != nil {
				return nil, fmt.Errorf("sevenzip: error reading names: %w", err)
			}

			names, err := readNames(raw, numFiles)
			if err != nil {
				return nil, err
			}

			if len(names) != numFiles {
				return nil, errHeaderStreamsMismatch
			}

			for i, name := range names {
				fi.file[i].Name = name
			}
		case idCTime, idATime, idMTime:
			if err := readTimes(body, fi, numFiles, id); err != nil {
				return nil, err
			}
		case idWinAttributes:
			if err := readAttributes(body, fi, numFiles); err != nil {
				return nil, err
			}
		case idDummy:
			// Declared-length padding; the content is never meaningful.
		}

		if _, err := io.Copy(io.Discard, body); err != nil { //nolint:gosec
			return nil, fmt.Errorf("sevenzip: error discarding property tail: %w", err)
		}
	}

	j := 0

	for i := range fi.file {
		if emptyStream == nil || !emptyStream[i] {
			continue
		}

		fi.file[i].isEmptyStream = true

		if emptyFile != nil && j < len(emptyFile) && emptyFile[j] {
			fi.file[i].isEmptyFile = true
		}

		if anti != nil && j < len(anti) && anti[j] {
			fi.file[i].isAnti = true
		}

		j++
	}

	return fi, nil
}

func countTrue(v []bool) int {
	n := 0

	for _, b := range v {
		if b {
			n++
		}
	}

	return n
}

func readTimes(r io.Reader, fi *filesInfo, n int, id byte) error {
	defined, err := readOptionalBitVector(r, n)
	if err != nil {
		return err
	}

	external, err := readByteFrom(r)
	if err != nil {
		return err
	}

	if external != 0 {
		return errExternalUnsupported
	}

	for i, d := range defined {
		if !d {
			continue
		}

		raw, err := readUint64(r)
		if err != nil {
			return err
		}

		t := filetimeToTime(raw)

		switch id {
		case idCTime:
			fi.file[i].Created = t
		case idATime:
			fi.file[i].Accessed = t
		case idMTime:
			fi.file[i].Modified = t
		}
	}

	return nil
}

func readAttributes(r io.Reader, fi *filesInfo, n int) error {
	defined, err := readOptionalBitVector(r, n)
	if err != nil {
		return err
	}

	external, err := readByteFrom(r)
	if err != nil {
		return err
	}

	if external != 0 {
		return errExternalUnsupported
	}

	for i, d := range defined {
		if !d {
			continue
		}

		if fi.file[i].Attributes, err = readUint32(r); err != nil {
			return err
		}
	}

	return nil
}

//nolint:cyclop
func readHeader(r byteReader) (*header, error) {
	h := new(header)

	for {
		id, err := readID(r)
		if err != nil {
			return nil, err
		}

		switch id {
		case idArchiveProperties:
			if err := readArchiveProperties(r); err != nil {
				return nil, err
			}
		case idAdditionalStreamsInfo:
			return nil, errExternalUnsupported
		case idMainStreamsInfo:
			if h.streamsInfo, err = readStreamsInfo(r); err != nil {
				return nil, err
			}
		case idFilesInfo:
			if h.filesInfo, err = readFilesInfo(r); err != nil {
				return nil, err
			}
		case idEnd:
			if err := attachSizesAndDigests(h); err != nil {
				return nil, err
			}

			return h, nil
		default:
			return nil, errUnexpectedID
		}
	}
}

// attachSizesAndDigests fills in each non-empty file's UncompressedSize and
// CRC32 now that both StreamsInfo and FilesInfo are fully parsed - neither
// one carries enough information on its own.
func attachSizesAndDigests(h *header) error {
	if h.filesInfo == nil {
		return nil
	}

	j := 0

	for i := range h.filesInfo.file {
		fh := &h.filesInfo.file[i]
		if fh.isEmptyStream || fh.isEmptyFile {
			continue
		}

		if h.streamsInfo == nil {
			return errHeaderStreamsMismatch
		}

		_, size, crc := h.streamsInfo.FileFolderAndSize(j)
		fh.UncompressedSize = size
		fh.CRC32 = crc
		j++
	}

	return nil
}

// readEncodedHeader parses the real Header that was stored as a packed
// stream: r is the already-decoded byte stream, so it must begin directly
// with the idHeader tag.
func readEncodedHeader(r util.ReadCloser) (*header, error) {
	id, err := readID(r)
	if err != nil {
		return nil, err
	}

	if id != idHeader {
		return nil, errUnexpectedID
	}

	return readHeader(r)
}
