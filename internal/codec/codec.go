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

// Package codec runs the block-wise multiply-and-XOR engine that turns a
// solved internal/rs coefficient matrix into actual recovered or
// recreated bytes, streaming sequentially over sources and sinks the
// way the teacher's std.Pipe streams between two ends of a connection.
package codec

import (
	"io"

	"github.com/pkg/errors"

	"github.com/xtaci/parcheck/internal/gf"
)

// BlockSize is the fixed block size the codec reads and writes in.
const BlockSize = 16 * 1024

// ErrRead and ErrWrite mark the two abort conditions the codec can
// raise; both are returned wrapped with the offending input/output
// name and block offset so the caller can name it in a log line.
var (
	ErrRead  = errors.New("READ ERROR")
	ErrWrite = errors.New("WRITE ERROR")
)

// Source is one input stream to the codec: a sequential reader together
// with its declared length (a data file's size, or a recovery volume's
// parity-payload size).
type Source struct {
	Name   string
	Reader io.Reader
	Len    int64
}

// Sink is one output stream the codec reconstructs into.
type Sink struct {
	Name   string
	Writer io.Writer
	Len    int64
}

// ProgressFunc is called with the running percentage (0-100) at 2%
// granularity as blocks are processed; nil is allowed.
type ProgressFunc func(pct int)

// Run executes the block loop described by spec §4.3: for every block
// offset, every present input is read once, multiplied by its
// coefficient for every output that wants it via a per-coefficient
// lookup table, and XORed into that output's working buffer; once all
// inputs for a block have been folded in, every output's working buffer
// for that block is flushed to its writer.
//
// muls[j][i] is the GF(2^8) coefficient for combining inputs[i] into
// outputs[j]; a zero coefficient means input i does not participate in
// output j and is skipped without even touching the LUT.
func Run(inputs []Source, outputs []Sink, muls [][]byte, progress ProgressFunc) error {
	total := int64(0)
	for _, in := range inputs {
		if in.Len > total {
			total = in.Len
		}
	}
	for _, out := range outputs {
		if out.Len > total {
			total = out.Len
		}
	}

	working := make([][]byte, len(outputs))
	for j := range working {
		working[j] = make([]byte, BlockSize)
	}
	scratch := make([]byte, BlockSize)

	// muls[j] is nil for an output rs.Solve couldn't determine (an
	// under-determined recovery): leave its working buffer all-zero and
	// keep streaming rather than indexing into a row that isn't there.
	// The caller's post-hoc hash check is what reports this output as
	// not restored.
	validOut := make([]bool, len(outputs))
	for j := range outputs {
		validOut[j] = muls[j] != nil
	}

	lastPct := -1
	report := func(s int64) {
		if progress == nil || total == 0 {
			return
		}
		pct := int(s * 100 / total)
		if pct >= lastPct+2 {
			lastPct = pct
			progress(pct)
		}
	}

	for s := int64(0); s < total; s += BlockSize {
		for j := range working {
			for k := range working[j] {
				working[j][k] = 0
			}
		}

		for i, in := range inputs {
			if s >= in.Len {
				continue
			}
			want := int64(BlockSize)
			if remain := in.Len - s; remain < want {
				want = remain
			}
			n, err := io.ReadFull(in.Reader, scratch[:want])
			if err != nil && err != io.ErrUnexpectedEOF {
				return errors.Wrapf(ErrRead, "input %q at offset %d: %v", in.Name, s, err)
			}
			if int64(n) != want {
				return errors.Wrapf(ErrRead, "input %q at offset %d: short read", in.Name, s)
			}

			for j, out := range outputs {
				if s >= out.Len || !validOut[j] {
					continue
				}
				c := muls[j][i]
				if c == 0 {
					continue
				}
				lut := gf.MulTable(c)
				dst := working[j]
				for q := 0; q < n; q++ {
					dst[q] ^= lut[scratch[q]]
				}
			}
		}

		for j, out := range outputs {
			if s >= out.Len {
				continue
			}
			want := int64(BlockSize)
			if remain := out.Len - s; remain < want {
				want = remain
			}
			n, err := out.Writer.Write(working[j][:want])
			if err != nil {
				return errors.Wrapf(ErrWrite, "output %q at offset %d: %v", out.Name, s, err)
			}
			if int64(n) != want {
				return errors.Wrapf(ErrWrite, "output %q at offset %d: short write", out.Name, s)
			}
		}

		report(s + BlockSize)
	}

	report(total)
	return nil
}
