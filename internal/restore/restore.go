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

// Package restore runs the restore/create pseudo-protocol: split
// present from missing, assemble the coding-matrix row lists, invoke
// internal/rs and internal/codec, verify, and finalize — the same
// pipeline for both "recover what's missing" and "create everything".
package restore

import (
	"crypto/md5"
	"io"
	"os"
	"path/filepath"

	"github.com/xtaci/parcheck/internal/codec"
	"github.com/xtaci/parcheck/internal/config"
	"github.com/xtaci/parcheck/internal/parerr"
	"github.com/xtaci/parcheck/internal/parfmt"
	"github.com/xtaci/parcheck/internal/progress"
	"github.com/xtaci/parcheck/internal/reconcile"
	"github.com/xtaci/parcheck/internal/rs"
)

// DataTarget is one data file named by the archive: present on disk
// at PresentPath, or missing (PresentPath == "").
type DataTarget struct {
	Name        string
	Included    bool
	Size        int64
	FullMD5     [16]byte
	PresentPath string
}

// VolumeTarget is one recovery volume: present on disk at
// PresentPath with its manifest already open for reading at its
// parity payload, or missing and needing to be (re)created.
type VolumeTarget struct {
	Number      uint64
	Columns     []int
	PresentPath string
	File        *os.File // open, positioned at DataOffset, when PresentPath != ""
	DataSize    int64
}

// Outcome is one target's final status line.
type Outcome struct {
	Name   string
	Status progress.Status
}

// Run executes the restore/create pipeline shared by both operations:
// files/volumes already PresentPath!="" are treated as inputs; every
// other one is an output to attempt to (re)produce. Restore and create
// differ only in which targets the caller marks present.
func Run(dir string, files []DataTarget, volumes []VolumeTarget, cfg *config.Config, rep *progress.Reporter) ([]Outcome, error) {
	var outcomes []Outcome

	// outputKind/outputRef/outputVolWriter are parallel to outputs/
	// outputSinks/outputFiles: outputKind tells the finalize loop
	// below whether to MD5-verify a data file or Finalize a volume
	// header, without re-deriving that from index arithmetic.
	type kind int
	const (
		kindData kind = iota
		kindVolume
	)
	// Solvability bound: only present recovery volumes carry parity
	// equations usable to recover missing data — a present data file
	// costs nothing to include, it only removes an unknown. Checked
	// before any rename-away or file creation so an unrestorable call
	// leaves the filesystem untouched, matching original_source's
	// checkpar.c:140 ("if (m > mvol)") comparing missing-data-file
	// count against matched-recovery-volume count.
	missingDataCount := 0
	for _, f := range files {
		if f.PresentPath == "" && f.Included {
			missingDataCount++
		}
	}
	volumeInputCount := 0
	for _, v := range volumes {
		if v.PresentPath != "" {
			volumeInputCount++
		}
	}
	if missingDataCount > volumeInputCount {
		return outcomes, parerr.New(parerr.KindUnrestorable,
			"insufficient recovery volumes: need at least as many intact volumes as missing files")
	}

	// When --move is off, a pre-existing output target must block the
	// whole operation before anything is created, not just the output
	// whose turn it is to be opened — otherwise an earlier output in
	// the loop below would already be on disk by the time a later
	// conflict is found, violating "fails without mutating the
	// filesystem".
	if !cfg.MoveAway {
		for _, f := range files {
			if f.PresentPath != "" || !f.Included {
				continue
			}
			outPath := filepath.Join(dir, f.Name)
			if _, err := os.Stat(outPath); err == nil {
				return outcomes, parerr.New(parerr.KindWriteBlocked, outPath)
			}
		}
		for _, v := range volumes {
			if v.PresentPath != "" || !cfg.RecoverVolumes {
				continue
			}
			outPath := filepath.Join(dir, volumeFileName(v.Number))
			if _, err := os.Stat(outPath); err == nil {
				return outcomes, parerr.New(parerr.KindWriteBlocked, outPath)
			}
		}
	}

	var inputs, outputs []rs.RowTag
	var inputSources []codec.Source
	var outputKind []kind
	var outputRef []int // index into files, or into volumes
	var outputSinks []codec.Sink
	var outputFiles []*os.File
	var outputVolWriter []*parfmt.Writer

	for i, f := range files {
		if f.PresentPath != "" {
			inputs = append(inputs, rs.DataColumn(i))
			fh, err := os.Open(f.PresentPath)
			if err != nil {
				return outcomes, parerr.Wrap(parerr.KindIO, err, "open present data file")
			}
			defer fh.Close()
			inputSources = append(inputSources, codec.Source{Name: f.Name, Reader: fh, Len: f.Size})
			continue
		}
		if !f.Included {
			outcomes = append(outcomes, Outcome{Name: f.Name, Status: progress.NotFound})
			continue
		}
		outPath := filepath.Join(dir, f.Name)
		if _, err := os.Stat(outPath); err == nil {
			// cfg.MoveAway is guaranteed true here: the precheck above
			// already rejected this call before anything was created.
			if _, err := reconcile.RenameAwayBad(outPath); err != nil {
				closeAll(outputFiles)
				return outcomes, parerr.Wrap(parerr.KindIO, err, "rename-away before restore")
			}
		}
		fh, err := os.Create(outPath)
		if err != nil {
			return outcomes, parerr.Wrap(parerr.KindIO, err, "create restore output")
		}
		outputs = append(outputs, rs.DataColumn(i))
		outputKind = append(outputKind, kindData)
		outputRef = append(outputRef, i)
		outputSinks = append(outputSinks, codec.Sink{Name: f.Name, Writer: fh, Len: f.Size})
		outputFiles = append(outputFiles, fh)
		outputVolWriter = append(outputVolWriter, nil)
	}

	for vi, v := range volumes {
		if v.PresentPath != "" {
			inputs = append(inputs, rs.RecoveryVolume(int(v.Number), v.Columns))
			inputSources = append(inputSources, codec.Source{Name: v.PresentPath, Reader: v.File, Len: v.DataSize})
			continue
		}
		if !cfg.RecoverVolumes {
			continue
		}
		outPath := filepath.Join(dir, volumeFileName(v.Number))
		if _, err := os.Stat(outPath); err == nil {
			// cfg.MoveAway is guaranteed true here; see the precheck above.
			if _, err := reconcile.RenameAwayBad(outPath); err != nil {
				closeAll(outputFiles)
				return outcomes, parerr.Wrap(parerr.KindIO, err, "rename-away before volume recreate")
			}
		}
		fh, err := os.Create(outPath)
		if err != nil {
			return outcomes, parerr.Wrap(parerr.KindIO, err, "create recovery volume")
		}
		entries := dataFileEntries(files, v.Columns)
		wr, err := parfmt.Create(fh, v.Number, entries)
		if err != nil {
			fh.Close()
			return outcomes, parerr.Wrap(parerr.KindIO, err, "write volume header")
		}
		payloadLen := maxIncludedSize(files, v.Columns)
		outputs = append(outputs, rs.RecoveryVolume(int(v.Number), v.Columns))
		outputKind = append(outputKind, kindVolume)
		outputRef = append(outputRef, vi)
		outputSinks = append(outputSinks, codec.Sink{Name: outPath, Writer: fh, Len: payloadLen})
		outputFiles = append(outputFiles, fh)
		outputVolWriter = append(outputVolWriter, wr)
	}

	if len(outputs) == 0 {
		return outcomes, nil
	}

	muls := rs.Solve(inputs, outputs)

	progressFn := func(pct int) {
		if rep != nil {
			rep.Percent(pct)
		}
	}
	if err := codec.Run(inputSources, outputSinks, muls, progressFn); err != nil {
		closeAll(outputFiles)
		return outcomes, parerr.Wrap(parerr.KindIO, err, "codec run")
	}

	for oi, k := range outputKind {
		fh := outputFiles[oi]

		if k == kindData {
			f := files[outputRef[oi]]
			fh.Close()
			if muls[oi] == nil {
				outcomes = append(outcomes, Outcome{Name: f.Name, Status: progress.NotRestored})
				if !cfg.Keep {
					os.Remove(filepath.Join(dir, f.Name))
				}
				continue
			}
			sum, err := fullMD5(filepath.Join(dir, f.Name))
			if err != nil || sum != f.FullMD5 {
				outcomes = append(outcomes, Outcome{Name: f.Name, Status: progress.NotRestored})
				if !cfg.Keep {
					os.Remove(filepath.Join(dir, f.Name))
				}
				continue
			}
			outcomes = append(outcomes, Outcome{Name: f.Name, Status: progress.Recovered})
			continue
		}

		v := volumes[outputRef[oi]]
		name := volumeFileName(v.Number)
		wr := outputVolWriter[oi]
		if muls[oi] == nil || wr == nil {
			fh.Close()
			outcomes = append(outcomes, Outcome{Name: name, Status: progress.NotRestored})
			if !cfg.Keep {
				os.Remove(filepath.Join(dir, name))
			}
			continue
		}
		payloadLen := outputSinks[oi].Len
		if err := wr.Finalize(payloadLen); err != nil {
			fh.Close()
			outcomes = append(outcomes, Outcome{Name: name, Status: progress.Failed})
			if !cfg.Keep {
				os.Remove(filepath.Join(dir, name))
			}
			continue
		}
		fh.Close()
		outcomes = append(outcomes, Outcome{Name: name, Status: progress.Recovered})
	}

	return outcomes, nil
}

func closeAll(files []*os.File) {
	for _, f := range files {
		f.Close()
	}
}

func fullMD5(path string) ([16]byte, error) {
	var out [16]byte
	f, err := os.Open(path)
	if err != nil {
		return out, err
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return out, err
	}
	copy(out[:], h.Sum(nil))
	return out, nil
}

func volumeFileName(k uint64) string {
	return "recovery.vol" + itoa(k)
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

func dataFileEntries(files []DataTarget, columns []int) []parfmt.FileEntry {
	out := make([]parfmt.FileEntry, 0, len(columns))
	for _, c := range columns {
		f := files[c]
		status := uint64(0)
		if f.Included {
			status = 1
		}
		out = append(out, parfmt.FileEntry{
			Status:   status,
			FileSize: uint64(f.Size),
			FullMD5:  f.FullMD5,
			Name:     f.Name,
		})
	}
	return out
}

func maxIncludedSize(files []DataTarget, columns []int) int64 {
	var max int64
	for _, c := range columns {
		if files[c].Size > max {
			max = files[c].Size
		}
	}
	return max
}
