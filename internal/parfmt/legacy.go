package parfmt

import (
	"crypto/md5"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

const (
	legacyParHeaderSize = 0x36
	legacyPxxHeaderSize = 0x40
	legacyEntryPrefix   = 0x3A
)

// parseLegacy reads the old v0.x "PAR"/"PXX" header, assumed already
// positioned at offset 4 (just past the 4-byte magic probed by Open).
// It upgrades the result into the same Manifest shape v1.0 produces,
// per original_source/readoldpar.c's read_old_par.
func parseLegacy(r io.ReadSeeker, extended bool, checkControlHash bool) (*Manifest, error) {
	var u16 [2]byte
	if _, err := io.ReadFull(r, u16[:]); err != nil {
		return nil, errors.Wrap(ErrNotPar, err.Error())
	}
	version := binary.LittleEndian.Uint16(u16[:])

	var setHash [16]byte
	if _, err := io.ReadFull(r, setHash[:]); err != nil {
		return nil, errors.Wrap(ErrNotPar, err.Error())
	}

	var volumeNumber uint64
	if extended {
		if _, err := io.ReadFull(r, u16[:]); err != nil {
			return nil, errors.Wrap(ErrNotPar, err.Error())
		}
		volumeNumber = uint64(binary.LittleEndian.Uint16(u16[:]))
		if version != 0x85 {
			volumeNumber = 1
		}
	}

	fileListOffset, err := readLE64(r)
	if err != nil {
		return nil, err
	}
	dataOffset, err := readLE64(r)
	if err != nil {
		return nil, err
	}
	var dataSize int64
	if extended {
		v, err := readLE64(r)
		if err != nil {
			return nil, err
		}
		dataSize = v
	}

	var controlHash [16]byte
	if _, err := io.ReadFull(r, controlHash[:]); err != nil {
		return nil, errors.Wrap(ErrNotPar, err.Error())
	}

	if checkControlHash {
		start := int64(legacyParHeaderSize)
		if extended {
			start = legacyPxxHeaderSize
		}
		if _, err := r.Seek(start, io.SeekStart); err != nil {
			return nil, err
		}
		h := md5.New()
		if _, err := io.Copy(h, r); err != nil {
			return nil, err
		}
		var got [16]byte
		copy(got[:], h.Sum(nil))
		if got != controlHash {
			return nil, ErrCorrupt
		}
	}

	if !extended {
		end, err := r.Seek(0, io.SeekEnd)
		if err != nil {
			return nil, err
		}
		dataSize = end - dataOffset
	}

	if _, err := r.Seek(fileListOffset, io.SeekStart); err != nil {
		return nil, err
	}
	totalListField, err := readLE64(r)
	if err != nil {
		return nil, err
	}
	files, err := readLegacyFileList(r, totalListField-8)
	if err != nil {
		return nil, err
	}

	m := &Manifest{
		Legacy:       true,
		Version:      uint32(version),
		ClientID:     0x0200_0500,
		ControlHash:  controlHash,
		SetHash:      setHash,
		VolumeNumber: volumeNumber,
		Files:        files,
		DataOffset:   dataOffset,
		DataSize:     dataSize,
	}

	if _, err := r.Seek(dataOffset, io.SeekStart); err != nil {
		return nil, err
	}
	if volumeNumber == 0 {
		buf := make([]byte, dataSize)
		if len(buf) > 0 {
			if _, err := io.ReadFull(r, buf); err != nil {
				return nil, err
			}
		}
		m.Comment = decodeUTF16LE(buf)
	}
	return m, nil
}

func readLE64(r io.Reader) (int64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, errors.Wrap(ErrNotPar, err.Error())
	}
	return int64(binary.LittleEndian.Uint64(b[:])), nil
}

// readLegacyFileList parses the old-style file-entry run: each entry's
// own first 8 bytes give its total size (prefix + filename), and the
// prefix field order differs from v1.0 (full MD5 and prefix MD5 are
// swapped, and the filename starts two bytes later).
func readLegacyFileList(r io.Reader, size int64) ([]FileEntry, error) {
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errors.Wrap(ErrCorrupt, "short legacy file list: "+err.Error())
	}
	var files []FileEntry
	off := int64(0)
	for off < size {
		if off+legacyEntryPrefix > size {
			return nil, errors.Wrap(ErrCorrupt, "truncated legacy file entry")
		}
		entrySize := int64(binary.LittleEndian.Uint64(buf[off : off+8]))
		if entrySize < legacyEntryPrefix || off+entrySize > size {
			return nil, errors.Wrap(ErrCorrupt, "bad legacy file entry size")
		}
		e := FileEntry{
			Status:   binary.LittleEndian.Uint64(buf[off+0x08 : off+0x10]),
			FileSize: binary.LittleEndian.Uint64(buf[off+0x10 : off+0x18]),
		}
		copy(e.PrefixMD5[:], buf[off+0x18:off+0x28])
		copy(e.FullMD5[:], buf[off+0x28:off+0x38])
		e.Name = decodeUTF16LE(buf[off+legacyEntryPrefix : off+entrySize])
		files = append(files, e)
		off += entrySize
	}
	return files, nil
}
