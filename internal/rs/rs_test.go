package rs

import (
	"math/rand"
	"testing"

	"github.com/xtaci/parcheck/internal/gf"
)

func allColumns(n int) []int {
	cols := make([]int, n)
	for i := range cols {
		cols[i] = i
	}
	return cols
}

// encodeVolume computes the recovery-volume payload byte for volume
// number k (1-based) over the given data column values, following the
// Vandermonde definition V[k,i] = (i+1)^(k-1).
func encodeVolume(k int, data []byte) byte {
	var acc byte
	for i, v := range data {
		acc ^= gf.Mul(v, gf.Pow(byte(i+1), k-1))
	}
	return acc
}

// combine applies a MULS row to the matching inputValues slice the way
// internal/codec will: XOR of Mul(value, coefficient) over all inputs.
func combine(row []byte, values []byte) byte {
	var acc byte
	for p, c := range row {
		if c == 0 {
			continue
		}
		acc ^= gf.Mul(values[p], c)
	}
	return acc
}

func TestSolveHandWorkedExample(t *testing.T) {
	// Two data files, one recovery volume (k=1, the parity/XOR volume),
	// data file 0 missing, data file 1 present.
	data := []byte{0x42, 0x17}
	v1 := encodeVolume(1, data)

	inputs := []RowTag{DataColumn(1), RecoveryVolume(1, allColumns(2))}
	outputs := []RowTag{DataColumn(0)}
	muls := Solve(inputs, outputs)
	if muls[0] == nil {
		t.Fatal("expected column 0 to be recoverable")
	}
	got := combine(muls[0], []byte{data[1], v1})
	if got != data[0] {
		t.Fatalf("reconstructed %#x, want %#x (coeffs=%v)", got, data[0], muls[0])
	}
}

// TestEndToEndRecovery is spec.md property 2 / scenario S1-S2: for random
// N data files and M recovery volumes, deleting a random subset L of up to
// M data files and recovering from the survivors plus volumes 1..|L|
// reproduces the deleted data exactly.
func TestEndToEndRecovery(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	for trial := 0; trial < 500; trial++ {
		n := 1 + rnd.Intn(8)
		m := 1 + rnd.Intn(4)
		data := make([]byte, n)
		for i := range data {
			data[i] = byte(rnd.Intn(256))
		}
		volPayload := make([]byte, m)
		for vi := 0; vi < m; vi++ {
			volPayload[vi] = encodeVolume(vi+1, data)
		}

		missCount := rnd.Intn(m + 1)
		if missCount > n {
			missCount = n
		}
		perm := rnd.Perm(n)
		missing := make(map[int]bool, missCount)
		for i := 0; i < missCount; i++ {
			missing[perm[i]] = true
		}

		var inputs, outputs []RowTag
		var inputValues []byte
		for i := 0; i < n; i++ {
			if missing[i] {
				outputs = append(outputs, DataColumn(i))
				continue
			}
			inputs = append(inputs, DataColumn(i))
			inputValues = append(inputValues, data[i])
		}
		for vi := 0; vi < missCount; vi++ {
			inputs = append(inputs, RecoveryVolume(vi+1, allColumns(n)))
			inputValues = append(inputValues, volPayload[vi])
		}

		muls := Solve(inputs, outputs)
		oi := 0
		for i := 0; i < n; i++ {
			if !missing[i] {
				continue
			}
			row := muls[oi]
			oi++
			if row == nil {
				t.Fatalf("trial %d (n=%d m=%d miss=%d): column %d should be recoverable", trial, n, m, missCount, i)
			}
			got := combine(row, inputValues)
			if got != data[i] {
				t.Fatalf("trial %d: column %d reconstructed %#x, want %#x", trial, i, got, data[i])
			}
		}
	}
}

func TestSolveMarksUnrecoverableWhenUnderDetermined(t *testing.T) {
	inputs := []RowTag{
		DataColumn(0),
		RecoveryVolume(1, allColumns(3)),
	}
	outputs := []RowTag{DataColumn(1), DataColumn(2)}
	muls := Solve(inputs, outputs)
	if muls[0] != nil || muls[1] != nil {
		t.Fatal("expected both outputs unrecoverable with only one recovery volume for two missing columns")
	}
}

func TestSolveRecoversMissingRecoveryVolume(t *testing.T) {
	// All data files present, one recovery volume missing: recreating it
	// should just reduce to its own encoding formula.
	data := []byte{1, 2, 3, 4}
	inputs := []RowTag{DataColumn(0), DataColumn(1), DataColumn(2), DataColumn(3)}
	outputs := []RowTag{RecoveryVolume(1, allColumns(4))}
	muls := Solve(inputs, outputs)
	if muls[0] == nil {
		t.Fatal("expected recovery volume to be constructible from all data present")
	}
	got := combine(muls[0], data)
	want := encodeVolume(1, data)
	if got != want {
		t.Fatalf("got %#x want %#x", got, want)
	}
}
