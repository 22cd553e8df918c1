// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package parfmt reads and writes PAR archive-control files: the v1.0
// fixed-header format plus file-list and comment/parity regions, and a
// read-only path for the legacy v0.x "PAR"/"PXX" layout.
package parfmt

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"io"
	"sort"
	"unicode/utf16"

	"github.com/pkg/errors"
)

// Sentinel errors surfaced by Open/parse; parapi/parerr classify these
// into the caller-facing status codes.
var (
	ErrNotPar          = errors.New("not a PAR file")
	ErrVersionMismatch = errors.New("unsupported PAR version")
	ErrCorrupt         = errors.New("control hash mismatch")
)

const (
	headerSize   = 0x60
	entryPrefix  = 0x38
	v1ClientID   = 0x0002_0500
	maxVersion   = 0x0001_FFFF
	wantVersion  = 0x0001_0000
)

var v1Magic = [8]byte{'P', 'A', 'R', 0, 0, 0, 0, 0}

// FileEntry is one record of a PAR file list.
type FileEntry struct {
	Status    uint64
	FileSize  uint64
	FullMD5   [16]byte
	PrefixMD5 [16]byte
	Name      string
}

// Included reports whether status bit 0 ("in the parity set") is set.
func (e FileEntry) Included() bool { return e.Status&1 != 0 }

func (e FileEntry) encodedSize() int64 {
	return entryPrefix + int64(len(utf16.Encode([]rune(e.Name))))*2
}

// Manifest is the unified, already-classified view of a PAR file's
// header and file list, whether it was read from the v1.0 layout or
// upgraded from the legacy one.
type Manifest struct {
	Legacy       bool
	Version      uint32
	ClientID     uint32
	ControlHash  [16]byte
	SetHash      [16]byte
	VolumeNumber uint64
	Files        []FileEntry
	Comment      string
	DataOffset   int64
	DataSize     int64
}

// Open reads a PAR control file's header and file list from r, which
// the caller owns and closes. For a volume-0 file the comment has
// already been read into Manifest.Comment; for volume-k≥1, r is left
// positioned at DataOffset so the caller can stream the parity payload
// straight into C3.
func Open(r io.ReadSeeker, checkControlHash bool) (*Manifest, error) {
	var probe [8]byte
	if _, err := io.ReadFull(r, probe[:]); err != nil {
		return nil, errors.Wrap(ErrNotPar, err.Error())
	}
	if probe == v1Magic {
		return parseV1(r, checkControlHash)
	}
	if string(probe[:3]) == "PAR" || string(probe[:3]) == "PXX" {
		if _, err := r.Seek(4, io.SeekStart); err != nil {
			return nil, err
		}
		return parseLegacy(r, string(probe[:3]) == "PXX", checkControlHash)
	}
	return nil, ErrNotPar
}

func parseV1(r io.ReadSeeker, checkControlHash bool) (*Manifest, error) {
	if _, err := r.Seek(8, io.SeekStart); err != nil {
		return nil, err
	}
	var hdr [headerSize - 8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, errors.Wrap(ErrNotPar, err.Error())
	}
	version := binary.LittleEndian.Uint32(hdr[0:4])
	if version > maxVersion {
		return nil, ErrVersionMismatch
	}
	m := &Manifest{
		Version:      version,
		ClientID:     binary.LittleEndian.Uint32(hdr[4:8]),
		VolumeNumber: binary.LittleEndian.Uint64(hdr[0x30-8 : 0x38-8]),
	}
	copy(m.ControlHash[:], hdr[0x10-8:0x20-8])
	copy(m.SetHash[:], hdr[0x20-8:0x30-8])
	numFiles := binary.LittleEndian.Uint64(hdr[0x38-8 : 0x40-8])
	fileListOffset := int64(binary.LittleEndian.Uint64(hdr[0x40-8 : 0x48-8]))
	fileListSize := int64(binary.LittleEndian.Uint64(hdr[0x48-8 : 0x50-8]))
	m.DataOffset = int64(binary.LittleEndian.Uint64(hdr[0x50-8 : 0x58-8]))
	m.DataSize = int64(binary.LittleEndian.Uint64(hdr[0x58-8 : 0x60-8]))

	if checkControlHash {
		if err := verifyControlHash(r, m.ControlHash); err != nil {
			return nil, err
		}
	}

	if _, err := r.Seek(fileListOffset, io.SeekStart); err != nil {
		return nil, err
	}
	files, err := readFileList(r, fileListSize, numFiles)
	if err != nil {
		return nil, err
	}
	m.Files = files

	if m.VolumeNumber == 0 {
		if _, err := r.Seek(m.DataOffset, io.SeekStart); err != nil {
			return nil, err
		}
		buf := make([]byte, m.DataSize)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		m.Comment = decodeUTF16LE(buf)
	} else {
		if _, err := r.Seek(m.DataOffset, io.SeekStart); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func verifyControlHash(r io.ReadSeeker, want [16]byte) error {
	if _, err := r.Seek(0x20, io.SeekStart); err != nil {
		return err
	}
	h := md5.New()
	if _, err := io.Copy(h, r); err != nil {
		return err
	}
	var got [16]byte
	copy(got[:], h.Sum(nil))
	if got != want {
		return ErrCorrupt
	}
	return nil
}

func readFileList(r io.Reader, listSize int64, numFiles uint64) ([]FileEntry, error) {
	buf := make([]byte, listSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errors.Wrap(ErrCorrupt, "short file list: "+err.Error())
	}
	files := make([]FileEntry, 0, numFiles)
	off := int64(0)
	for off < listSize {
		if off+entryPrefix > listSize {
			return nil, errors.Wrap(ErrCorrupt, "truncated file entry")
		}
		entrySize := int64(binary.LittleEndian.Uint64(buf[off : off+8]))
		if entrySize < entryPrefix || off+entrySize > listSize {
			return nil, errors.Wrap(ErrCorrupt, "bad file entry size")
		}
		e := FileEntry{
			Status:   binary.LittleEndian.Uint64(buf[off+0x08 : off+0x10]),
			FileSize: binary.LittleEndian.Uint64(buf[off+0x10 : off+0x18]),
		}
		copy(e.FullMD5[:], buf[off+0x18:off+0x28])
		copy(e.PrefixMD5[:], buf[off+0x28:off+0x38])
		e.Name = decodeUTF16LE(buf[off+entryPrefix : off+entrySize])
		files = append(files, e)
		off += entrySize
	}
	return files, nil
}

// Writer emits a v1.0 PAR control file: header placeholder, file list,
// then either the comment (volume 0) or the parity payload
// (volume ≥ 1), followed by Finalize patching the set-hash and
// control-hash once the payload is known.
type Writer struct {
	w              io.WriteSeeker
	volumeNumber   uint64
	clientID       uint32
	files          []FileEntry
	fileListOffset int64
	fileListSize   int64
	dataOffset     int64
}

// Create writes the header and file list for a new PAR control file
// and returns a Writer positioned to accept the comment or payload.
func Create(w io.WriteSeeker, volumeNumber uint64, files []FileEntry) (*Writer, error) {
	listSize := int64(0)
	for _, e := range files {
		listSize += e.encodedSize()
	}

	var hdr [headerSize]byte
	copy(hdr[0:8], v1Magic[:])
	binary.LittleEndian.PutUint32(hdr[8:12], wantVersion)
	binary.LittleEndian.PutUint32(hdr[12:16], v1ClientID)
	binary.LittleEndian.PutUint64(hdr[0x30:0x38], volumeNumber)
	binary.LittleEndian.PutUint64(hdr[0x38:0x40], uint64(len(files)))
	binary.LittleEndian.PutUint64(hdr[0x40:0x48], headerSize)
	binary.LittleEndian.PutUint64(hdr[0x48:0x50], uint64(listSize))
	dataOffset := headerSize + listSize
	binary.LittleEndian.PutUint64(hdr[0x50:0x58], uint64(dataOffset))

	if _, err := w.Write(hdr[:]); err != nil {
		return nil, err
	}
	for _, e := range files {
		if err := writeEntry(w, e); err != nil {
			return nil, err
		}
	}

	return &Writer{
		w:              w,
		volumeNumber:   volumeNumber,
		clientID:       v1ClientID,
		files:          files,
		fileListOffset: headerSize,
		fileListSize:   listSize,
		dataOffset:     dataOffset,
	}, nil
}

func writeEntry(w io.Writer, e FileEntry) error {
	size := e.encodedSize()
	var prefix [entryPrefix]byte
	binary.LittleEndian.PutUint64(prefix[0:8], uint64(size))
	binary.LittleEndian.PutUint64(prefix[8:16], e.Status)
	binary.LittleEndian.PutUint64(prefix[16:24], e.FileSize)
	copy(prefix[24:40], e.FullMD5[:])
	copy(prefix[40:56], e.PrefixMD5[:])
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	_, err := w.Write(encodeUTF16LE(e.Name))
	return err
}

// DataOffset is where the comment or parity payload begins.
func (wr *Writer) DataOffset() int64 { return wr.dataOffset }

// WriteComment writes the volume-0 comment region and finalizes the
// header; there is no streaming payload for a comment.
func (wr *Writer) WriteComment(comment string) error {
	enc := encodeUTF16LE(comment)
	if _, err := wr.w.Write(enc); err != nil {
		return err
	}
	return wr.Finalize(int64(len(enc)))
}

// Finalize patches data-size, set-hash, and control-hash into the
// header once dataSize bytes have been written at DataOffset (either
// the comment, written by WriteComment, or a parity payload streamed
// directly by the caller via C3).
func (wr *Writer) Finalize(dataSize int64) error {
	setHash := computeSetHash(wr.files)

	// Set-hash and data size live inside the control-hashed region
	// (0x20..end), so both are patched before the control hash is taken.
	if _, err := wr.w.Seek(0x20, io.SeekStart); err != nil {
		return err
	}
	if _, err := wr.w.Write(setHash[:]); err != nil {
		return err
	}
	if _, err := wr.w.Seek(0x58, io.SeekStart); err != nil {
		return err
	}
	var sizeBuf [8]byte
	binary.LittleEndian.PutUint64(sizeBuf[:], uint64(dataSize))
	if _, err := wr.w.Write(sizeBuf[:]); err != nil {
		return err
	}

	rs, ok := wr.w.(io.ReadSeeker)
	var controlHash [16]byte
	if ok {
		var err error
		controlHash, err = computeControlHash(rs, wr.dataOffset+dataSize)
		if err != nil {
			return err
		}
	}

	if _, err := wr.w.Seek(0x10, io.SeekStart); err != nil {
		return err
	}
	if _, err := wr.w.Write(controlHash[:]); err != nil {
		return err
	}
	_, err := wr.w.Seek(0, io.SeekEnd)
	return err
}

// computeSetHash hashes the sorted full-MD5s of the status-bit-0
// files: sorting (rather than list order) is what makes set-hash
// depend only on the multiset of included files, invariant to how the
// file list happens to be ordered.
func computeSetHash(files []FileEntry) [16]byte {
	var included [][16]byte
	for _, e := range files {
		if e.Included() {
			included = append(included, e.FullMD5)
		}
	}
	sort.Slice(included, func(i, j int) bool {
		return bytes.Compare(included[i][:], included[j][:]) < 0
	})
	h := md5.New()
	for _, d := range included {
		h.Write(d[:])
	}
	var out [16]byte
	copy(out[:], h.Sum(nil))
	return out
}

func computeControlHash(rs io.ReadSeeker, end int64) ([16]byte, error) {
	var out [16]byte
	if _, err := rs.Seek(0x20, io.SeekStart); err != nil {
		return out, err
	}
	h := md5.New()
	if _, err := io.CopyN(h, rs, end-0x20); err != nil && err != io.EOF {
		return out, err
	}
	copy(out[:], h.Sum(nil))
	return out, nil
}

func decodeUTF16LE(b []byte) string {
	u := make([]uint16, len(b)/2)
	for i := range u {
		u[i] = binary.LittleEndian.Uint16(b[i*2 : i*2+2])
	}
	return string(utf16.Decode(u))
}

func encodeUTF16LE(s string) []byte {
	u := utf16.Encode([]rune(s))
	b := make([]byte, len(u)*2)
	for i, v := range u {
		binary.LittleEndian.PutUint16(b[i*2:i*2+2], v)
	}
	return b
}
