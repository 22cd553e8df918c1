// Package rs builds the Reed-Solomon coding matrix over internal/gf and
// inverts it for whatever subset of recovery volumes and data-file
// columns happen to be available, producing the per-output
// multiplication coefficients the streaming codec needs.
package rs

import "github.com/xtaci/parcheck/internal/gf"

// RowTag identifies one row of the coding matrix: either a data-file
// column (by 0-based index) or a recovery volume (by its 1-based volume
// number and the 0-based data-file columns it was built over).
type RowTag struct {
	Volume       bool
	Column       int   // valid when !Volume: the data-file column
	VolumeNumber int   // valid when Volume: the 1-based volume number k
	Columns      []int // valid when Volume: the subset S of data-file columns covered
}

// DataColumn tags data-file column i (0-based).
func DataColumn(i int) RowTag {
	return RowTag{Column: i}
}

// RecoveryVolume tags recovery volume number k (1-based), covering the
// given 0-based data-file columns.
func RecoveryVolume(k int, columns []int) RowTag {
	cp := append([]int(nil), columns...)
	return RowTag{Volume: true, VolumeNumber: k, Columns: cp}
}

func newMatrix(rows, cols int) [][]byte {
	m := make([][]byte, rows)
	for i := range m {
		m[i] = make([]byte, cols)
	}
	return m
}

// Solve builds the coding matrix for inputs/outputs and returns, for each
// requested output (in the same order as outputs), one coefficient per
// entry of inputs: MULS[o][p] is the GF(2^8) coefficient by which
// inputs[p]'s raw stream (a data file's bytes, or a recovery volume's
// parity bytes) must be multiplied and XORed into the running sum to
// reconstruct output o. An output that could not be solved for (fewer
// intact rows than needed) gets a nil row.
//
// Internally, every data-file column doubles as its own tracking slot in
// the coding matrix (present data simply substitutes a known value), but
// each recovery volume - whether an input or a requested output - needs
// a private column reserved purely to track "this row's own raw value",
// disjoint from the real data-file columns; that reservation is what the
// N/Ntotal split below is for.
func Solve(inputs, outputs []RowTag) [][]byte {
	N := 0
	grow := func(t RowTag) {
		if !t.Volume {
			if t.Column+1 > N {
				N = t.Column + 1
			}
			return
		}
		for _, c := range t.Columns {
			if c+1 > N {
				N = c + 1
			}
		}
	}
	for _, t := range inputs {
		grow(t)
	}
	for _, t := range outputs {
		grow(t)
	}

	var recInIdx []int // indices into inputs that are recovery volumes
	for idx, t := range inputs {
		if t.Volume {
			recInIdx = append(recInIdx, idx)
		}
	}
	var recOutIdx []int // indices into outputs that are recovery volumes
	for idx, t := range outputs {
		if t.Volume {
			recOutIdx = append(recOutIdx, idx)
		}
	}
	Rin := len(recInIdx)
	Rout := len(recOutIdx)
	R := Rin + Rout
	Ntotal := N + Rin + Rout

	// inputIdentityCol[p] is the column (in the extended N..Ntotal-1
	// space for recovery inputs, or the real 0..N-1 data column for data
	// inputs) whose final IMT coefficient is this input's own weight.
	inputIdentityCol := make([]int, len(inputs))
	for p, t := range inputs {
		if !t.Volume {
			inputIdentityCol[p] = t.Column
		}
	}
	for j, idx := range recInIdx {
		inputIdentityCol[idx] = N + j
	}

	mt := newMatrix(R, Ntotal)
	imt := newMatrix(R, Ntotal)

	row := 0
	for j, idx := range recInIdx {
		t := inputs[idx]
		imt[row][N+j] = 1
		for _, c := range t.Columns {
			mt[row][c] = gf.Pow(byte(c+1), t.VolumeNumber-1)
		}
		row++
	}

	outputRow := make(map[int]int, Rout) // outputs[idx] -> row, for recovery-volume outputs
	l := Ntotal
	for _, idx := range recOutIdx {
		t := outputs[idx]
		l--
		imt[row][l] = 1
		for _, c := range t.Columns {
			mt[row][c] = gf.Pow(byte(c+1), t.VolumeNumber-1)
		}
		outputRow[idx] = row
		row++
	}

	// Substitute in known data-file columns: present data is a trivial
	// "row" whose only coefficient is on itself, so folding it in is
	// just an XOR of that column's current contribution into IMT,
	// followed by clearing the column everywhere.
	for _, t := range inputs {
		if t.Volume {
			continue
		}
		i := t.Column
		for j := 0; j < R; j++ {
			imt[j][i] ^= mt[j][i]
			mt[j][i] = 0
		}
	}

	// Gauss-Jordan eliminate MT to identity over the remaining (unknown)
	// columns, applying every row operation to IMT too. Recovery-input
	// rows are processed before recovery-output rows (by construction,
	// rows 0..Rin-1 precede Rin..R-1). The reserved synthetic columns are
	// set only in IMT, never in MT, so once the input rows have claimed
	// every missing-data-column pivot an output row's MT entries are all
	// zero: it takes no pivot and its IMT row is left holding its
	// coefficients over the inputs. With fewer input volumes than missing
	// data columns, an output row can still claim a data-column pivot.
	for i := 0; i < R; i++ {
		p := 0
		for p < Ntotal && mt[i][p] == 0 {
			p++
		}
		if p == Ntotal {
			continue
		}
		d := mt[i][p]
		for j := 0; j < Ntotal; j++ {
			mt[i][j] = gf.Div(mt[i][j], d)
			imt[i][j] = gf.Div(imt[i][j], d)
		}
		for k := 0; k < R; k++ {
			if k == i {
				continue
			}
			d := mt[k][p]
			if d == 0 {
				continue
			}
			for j := 0; j < Ntotal; j++ {
				mt[k][j] ^= gf.Mul(mt[i][j], d)
				imt[k][j] ^= gf.Mul(imt[i][j], d)
			}
		}
	}

	project := func(rawRow []byte) []byte {
		out := make([]byte, len(inputs))
		nonzero := false
		for p := range inputs {
			v := rawRow[inputIdentityCol[p]]
			out[p] = v
			if v != 0 {
				nonzero = true
			}
		}
		if !nonzero {
			return nil
		}
		return out
	}

	muls := make([][]byte, len(outputs))
	for idx, t := range outputs {
		if t.Volume {
			if j, ok := outputRow[idx]; ok {
				muls[idx] = project(imt[j])
			}
			continue
		}
		c := t.Column
		found := -1
		for j := 0; j < R; j++ {
			if mt[j][c] != 1 {
				continue
			}
			ok := true
			for k := 0; k < Ntotal; k++ {
				if k == c {
					continue
				}
				if mt[j][k] != 0 {
					ok = false
					break
				}
			}
			if ok {
				found = j
				break
			}
		}
		if found != -1 {
			muls[idx] = project(imt[found])
		}
	}
	return muls
}
