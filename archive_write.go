package sevenzip

import (
	"encoding/binary"
	"fmt"
	"io"
)

// writeNumber encodes n using the 7z packed UInt64 scheme: readNumber's
// exact inverse.
func writeNumber(w io.Writer, n uint64) error {
	var (
		buf       [9]byte
		extra     int
		firstMask byte
	)

	// Count how many extra little-endian bytes are needed: the first byte
	// can hold up to 7 bits directly (values below 0x80); each additional
	// byte shifts one more bit into the leading byte's available low bits,
	// following readNumber's mask progression in reverse.
	hi := n

	for extra = 0; extra < 8; extra++ {
		limit := uint64(1) << uint(7-extra)
		if hi < limit {
			break
		}

		hi >>= 8
	}

	if extra == 8 {
		buf[0] = 0xff

		for i := range 8 {
			buf[1+i] = byte(n >> (8 * i))
		}

		if _, err := w.Write(buf[:9]); err != nil {
			return fmt.Errorf("sevenzip: error writing number: %w", err)
		}

		return nil
	}

	firstMask = byte(0xff << uint(8-extra))
	buf[0] = firstMask | byte(hi)

	for i := 0; i < extra; i++ {
		buf[1+i] = byte(n >> (8 * i))
	}

	if _, err := w.Write(buf[:1+extra]); err != nil {
		return fmt.Errorf("sevenzip: error writing number: %w", err)
	}

	return nil
}

func writeUint32(w io.Writer, v uint32) error {
	if err := binary.Write(w, binary.LittleEndian, v); err != nil {
		return fmt.Errorf("sevenzip: error writing uint32: %w", err)
	}

	return nil
}

func writeUint64(w io.Writer, v uint64) error {
	if err := binary.Write(w, binary.LittleEndian, v); err != nil {
		return fmt.Errorf("sevenzip: error writing uint64: %w", err)
	}

	return nil
}

func writeID(w io.Writer, id byte) error {
	if _, err := w.Write([]byte{id}); err != nil {
		return fmt.Errorf("sevenzip: error writing id: %w", err)
	}

	return nil
}

// writeBitVector writes n booleans MSB-first within ceil(n/8) bytes.
func writeBitVector(w io.Writer, v []bool) error {
	buf := make([]byte, (len(v)+7)/8)

	for i, b := range v {
		if b {
			buf[i/8] |= 0x80 >> uint(i%8)
		}
	}

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("sevenzip: error writing bit vector: %w", err)
	}

	return nil
}

// writeOptionalBitVector writes the AllAreDefined framing: a single byte of
// 1 and nothing else when every entry is true, otherwise a byte of 0
// followed by the explicit vector.
func writeOptionalBitVector(w io.Writer, v []bool) error {
	all := true

	for _, b := range v {
		if !b {
			all = false

			break
		}
	}

	if all {
		_, err := w.Write([]byte{1})
		if err != nil {
			return fmt.Errorf("sevenzip: error writing bit vector: %w", err)
		}

		return nil
	}

	if _, err := w.Write([]byte{0}); err != nil {
		return fmt.Errorf("sevenzip: error writing bit vector: %w", err)
	}

	return writeBitVector(w, v)
}

// writeDigests writes an AllAreDefined-framed CRC section: digest[i] == 0 is
// treated as "undefined", matching readDigests' convention.
func writeDigests(w io.Writer, digest []uint32) error {
	defined := make([]bool, len(digest))
	for i, d := range digest {
		defined[i] = d != 0
	}

	if err := writeOptionalBitVector(w, defined); err != nil {
		return err
	}

	for i, d := range digest {
		if !defined[i] {
			continue
		}

		if err := writeUint32(w, d); err != nil {
			return err
		}
	}

	return nil
}

func writePackInfo(w io.Writer, pi *packInfo) error {
	if err := writeID(w, idPackInfo); err != nil {
		return err
	}

	if err := writeNumber(w, pi.position); err != nil {
		return err
	}

	if err := writeNumber(w, pi.streams); err != nil {
		return err
	}

	if err := writeID(w, idSize); err != nil {
		return err
	}

	for _, s := range pi.size {
		if err := writeNumber(w, s); err != nil {
			return err
		}
	}

	hasDigest := false

	for _, d := range pi.digest {
		if d != 0 {
			hasDigest = true

			break
		}
	}

	if hasDigest {
		if err := writeID(w, idCRC); err != nil {
			return err
		}

		if err := writeDigests(w, pi.digest); err != nil {
			return err
		}
	}

	return writeID(w, idEnd)
}

func writeFolder(w io.Writer, f *folder) error {
	if err := writeNumber(w, uint64(len(f.coder))); err != nil {
		return err
	}

	for _, c := range f.coder {
		flags := byte(len(c.id))
		if c.in != 1 || c.out != 1 {
			flags |= 0x10
		}

		if len(c.properties) > 0 {
			flags |= 0x20
		}

		if _, err := w.Write([]byte{flags}); err != nil {
			return fmt.Errorf("sevenzip: error writing coder flags: %w", err)
		}

		if _, err := w.Write(c.id); err != nil {
			return fmt.Errorf("sevenzip: error writing coder id: %w", err)
		}

		if flags&0x10 != 0 {
			if err := writeNumber(w, c.in); err != nil {
				return err
			}

			if err := writeNumber(w, c.out); err != nil {
				return err
			}
		}

		if flags&0x20 != 0 {
			if err := writeNumber(w, uint64(len(c.properties))); err != nil {
				return err
			}

			if _, err := w.Write(c.properties); err != nil {
				return fmt.Errorf("sevenzip: error writing coder properties: %w", err)
			}
		}
	}

	for _, bp := range f.bindPair {
		if err := writeNumber(w, bp.in); err != nil {
			return err
		}

		if err := writeNumber(w, bp.out); err != nil {
			return err
		}
	}

	if f.packedStreams > 1 {
		for _, p := range f.packed {
			if err := writeNumber(w, p); err != nil {
				return err
			}
		}
	}

	return nil
}

func writeUnpackInfo(w io.Writer, ui *unpackInfo) error {
	if err := writeID(w, idUnpackInfo); err != nil {
		return err
	}

	if err := writeID(w, idFolder); err != nil {
		return err
	}

	if err := writeNumber(w, uint64(len(ui.folder))); err != nil {
		return err
	}

	if _, err := w.Write([]byte{0}); err != nil { // external = false
		return fmt.Errorf("sevenzip: error writing external flag: %w", err)
	}

	for _, f := range ui.folder {
		if err := writeFolder(w, f); err != nil {
			return err
		}
	}

	if err := writeID(w, idCodersUnpackSize); err != nil {
		return err
	}

	for _, f := range ui.folder {
		for _, s := range f.size {
			if err := writeNumber(w, s); err != nil {
				return err
			}
		}
	}

	hasDigest := false

	for _, d := range ui.digest {
		if d != 0 {
			hasDigest = true

			break
		}
	}

	if hasDigest {
		if err := writeID(w, idCRC); err != nil {
			return err
		}

		if err := writeDigests(w, ui.digest); err != nil {
			return err
		}
	}

	return writeID(w, idEnd)
}

// writeSubStreamsInfo writes the per-folder substream counts, sizes (every
// substream but the last in each folder; the last is implied) and digests
// (only for substreams whose folder doesn't already carry a single,
// equivalent folder-level CRC).
func writeSubStreamsInfo(w io.Writer, ui *unpackInfo, ssi *subStreamsInfo) error {
	if err := writeID(w, idSubStreamsInfo); err != nil {
		return err
	}

	uniform := true

	for _, s := range ssi.streams {
		if s != 1 {
			uniform = false

			break
		}
	}

	if !uniform {
		if err := writeID(w, idNumUnpackStream); err != nil {
			return err
		}

		for _, s := range ssi.streams {
			if err := writeNumber(w, s); err != nil {
				return err
			}
		}
	}

	needSizes := false

	for _, s := range ssi.streams {
		if s > 1 {
			needSizes = true

			break
		}
	}

	if needSizes {
		if err := writeID(w, idSize); err != nil {
			return err
		}
	}

	idx := 0

	for i := range ui.folder {
		if ssi.streams[i] == 0 {
			continue
		}

		for j := uint64(1); j < ssi.streams[i]; j++ {
			if err := writeNumber(w, ssi.size[idx]); err != nil {
				return err
			}

			idx++
		}

		idx++ // the final substream's size in the folder is implied, not written
	}

	needed := make([]bool, 0, len(ssi.digest))

	for i := range ui.folder {
		reuse := ssi.streams[i] == 1 && ui.digest != nil && ui.digest[i] != 0

		for j := uint64(0); j < ssi.streams[i]; j++ {
			needed = append(needed, !reuse)
		}
	}

	hasAny := false

	for _, n := range needed {
		if n {
			hasAny = true

			break
		}
	}

	if hasAny {
		if err := writeID(w, idCRC); err != nil {
			return err
		}

		toWrite := make([]uint32, 0, len(needed))

		for i, n := range needed {
			if n {
				toWrite = append(toWrite, ssi.digest[i])
			}
		}

		if err := writeDigests(w, toWrite); err != nil {
			return err
		}
	}

	return writeID(w, idEnd)
}

func writeStreamsInfo(w io.Writer, si *streamsInfo) error {
	if err := writePackInfo(w, si.packInfo); err != nil {
		return err
	}

	if err := writeUnpackInfo(w, si.unpackInfo); err != nil {
		return err
	}

	if si.subStreamsInfo != nil {
		if err := writeSubStreamsInfo(w, si.unpackInfo, si.subStreamsInfo); err != nil {
			return err
		}
	}

	return writeID(w, idEnd)
}

func writeNames(w io.Writer, names []string) error {
	encoded, err := utf16LE.NewEncoder().Bytes([]byte(joinUTF16Input(names)))
	if err != nil {
		return fmt.Errorf("sevenzip: error encoding names: %w", err)
	}

	size := uint64(len(encoded) + 1) //nolint:gosec

	if err := writeID(w, idName); err != nil {
		return err
	}

	if err := writeNumber(w, size); err != nil {
		return err
	}

	if _, err := w.Write([]byte{0}); err != nil { // external = false
		return fmt.Errorf("sevenzip: error writing external flag: %w", err)
	}

	if _, err := w.Write(encoded); err != nil {
		return fmt.Errorf("sevenzip: error writing names: %w", err)
	}

	return nil
}

// joinUTF16Input builds the NUL-separated, NUL-terminated string that, once
// UTF-16LE encoded, is byte-identical to what readNames decodes and splits
// on NUL characters.
func joinUTF16Input(names []string) string {
	var b []byte

	for _, n := range names {
		b = append(b, n...)
		b = append(b, 0)
	}

	return string(b)
}

func writeTimes(w io.Writer, id byte, times []uint64, defined []bool) error {
	if err := writeID(w, id); err != nil {
		return err
	}

	size := optionalBitVectorSize(defined) + 1 + 8*uint64(countTrue(defined)) //nolint:gosec

	if err := writeNumber(w, size); err != nil {
		return err
	}

	if err := writeOptionalBitVector(w, defined); err != nil {
		return err
	}

	if _, err := w.Write([]byte{0}); err != nil { // external = false
		return fmt.Errorf("sevenzip: error writing external flag: %w", err)
	}

	for i, d := range defined {
		if !d {
			continue
		}

		if err := writeUint64(w, times[i]); err != nil {
			return err
		}
	}

	return nil
}

func allTrue(v []bool) bool {
	for _, b := range v {
		if !b {
			return false
		}
	}

	return true
}

// optionalBitVectorSize returns the number of bytes writeOptionalBitVector
// actually emits for defined: a single flag byte when every entry is true,
// otherwise the flag byte plus the packed bitmap's ceil(n/8) bytes.
func optionalBitVectorSize(defined []bool) uint64 {
	if allTrue(defined) {
		return 1
	}

	return 1 + uint64((len(defined)+7)/8) //nolint:gosec
}

func writeAttributes(w io.Writer, attr []uint32, defined []bool) error {
	if err := writeID(w, idWinAttributes); err != nil {
		return err
	}

	size := optionalBitVectorSize(defined) + 1 + 4*uint64(countTrue(defined)) //nolint:gosec

	if err := writeNumber(w, size); err != nil {
		return err
	}

	if err := writeOptionalBitVector(w, defined); err != nil {
		return err
	}

	if _, err := w.Write([]byte{0}); err != nil {
		return fmt.Errorf("sevenzip: error writing external flag: %w", err)
	}

	for i, d := range defined {
		if !d {
			continue
		}

		if err := writeUint32(w, attr[i]); err != nil {
			return err
		}
	}

	return nil
}

//nolint:funlen
func writeFilesInfo(w io.Writer, files []FileHeader) error {
	if err := writeID(w, idFilesInfo); err != nil {
		return err
	}

	if err := writeNumber(w, uint64(len(files))); err != nil { //nolint:gosec
		return err
	}

	emptyStream := make([]bool, len(files))
	names := make([]string, len(files))

	var (
		emptyFile, anti                         []bool
		mtimes, ctimes, atimes                   []uint64
		mtimesDef, ctimesDef, atimesDef, attrDef []bool
		attrs                                    []uint32
	)

	for i, f := range files {
		names[i] = f.Name
		emptyStream[i] = f.isEmptyStream

		if f.isEmptyStream {
			emptyFile = append(emptyFile, f.isEmptyFile)
			anti = append(anti, f.isAnti)
		}

		mtimes = append(mtimes, timeToFiletime(f.Modified))
		ctimes = append(ctimes, timeToFiletime(f.Created))
		atimes = append(atimes, timeToFiletime(f.Accessed))
		mtimesDef = append(mtimesDef, !f.Modified.IsZero())
		ctimesDef = append(ctimesDef, !f.Created.IsZero())
		atimesDef = append(atimesDef, !f.Accessed.IsZero())
		attrs = append(attrs, f.Attributes)
		attrDef = append(attrDef, f.Attributes != 0)
	}

	if countTrue(emptyStream) > 0 {
		if err := writeID(w, idEmptyStream); err != nil {
			return err
		}

		if err := writeNumber(w, uint64(len(emptyStream)+7)/8); err != nil { //nolint:gosec
			return err
		}

		if err := writeBitVector(w, emptyStream); err != nil {
			return err
		}

		if countTrue(emptyFile) > 0 {
			if err := writeID(w, idEmptyFile); err != nil {
				return err
			}

			if err := writeNumber(w, uint64(len(emptyFile)+7)/8); err != nil { //nolint:gosec
				return err
			}

			if err := writeBitVector(w, emptyFile); err != nil {
				return err
			}
		}

		if countTrue(anti) > 0 {
			if err := writeID(w, idAnti); err != nil {
				return err
			}

			if err := writeNumber(w, uint64(len(anti)+7)/8); err != nil { //nolint:gosec
				return err
			}

			if err := writeBitVector(w, anti); err != nil {
				return err
			}
		}
	}

	if err := writeNames(w, names); err != nil {
		return err
	}

	if countTrue(mtimesDef) > 0 {
		if err := writeTimes(w, idMTime, mtimes, mtimesDef); err != nil {
			return err
		}
	}

	if countTrue(ctimesDef) > 0 {
		if err := writeTimes(w, idCTime, ctimes, ctimesDef); err != nil {
			return err
		}
	}

	if countTrue(atimesDef) > 0 {
		if err := writeTimes(w, idATime, atimes, atimesDef); err != nil {
			return err
		}
	}

	if countTrue(attrDef) > 0 {
		if err := writeAttributes(w, attrs, attrDef); err != nil {
			return err
		}
	}

	return writeID(w, idEnd)
}

func writeHeader(w io.Writer, h *header) error {
	if err := writeID(w, idHeader); err != nil {
		return err
	}

	if h.streamsInfo != nil {
		if err := writeID(w, idMainStreamsInfo); err != nil {
			return err
		}

		if err := writeStreamsInfo(w, h.streamsInfo); err != nil {
			return err
		}
	}

	if h.filesInfo != nil {
		if err := writeFilesInfo(w, h.filesInfo.file); err != nil {
			return err
		}
	}

	return writeID(w, idEnd)
}
