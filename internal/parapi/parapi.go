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

// Package parapi is the stable operation set the REPL and the CLI both
// drive: load/search/unload a set of PAR volumes, reconcile their file
// list against what's on disk, and invoke check/recover/create. It owns
// all process-wide state (the loaded volume list, the working file
// list, the directory index) so C11/C9 stay thin dispatchers.
package parapi

import (
	"crypto/md5"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xtaci/parcheck/internal/config"
	"github.com/xtaci/parcheck/internal/fsindex"
	"github.com/xtaci/parcheck/internal/parerr"
	"github.com/xtaci/parcheck/internal/parfmt"
	"github.com/xtaci/parcheck/internal/progress"
	"github.com/xtaci/parcheck/internal/reconcile"
	"github.com/xtaci/parcheck/internal/restore"
)

// Volume is one loaded PAR control file.
type Volume struct {
	Name     string
	Manifest *parfmt.Manifest
	handle   *os.File
}

// API holds the single caller's active volume list, working file list,
// and directory index, per spec.md §5's single-threaded process-wide
// state model.
type API struct {
	Dir string
	Cfg *config.Config
	Rep *progress.Reporter

	idx     *fsindex.Index
	volumes []*Volume
	files   []parfmt.FileEntry
	comment string
}

// New returns an API rooted at dir.
func New(dir string, cfg *config.Config, rep *progress.Reporter) *API {
	return &API{
		Dir: dir,
		Cfg: cfg,
		Rep: rep,
		idx: fsindex.New(cfg.CaseInsensitive),
	}
}

func classifyParseErr(err error) error {
	switch {
	case err == nil:
		return nil
	case parfmtIs(err, parfmt.ErrNotPar):
		return parerr.Wrap(parerr.KindNotPar, err, "load")
	case parfmtIs(err, parfmt.ErrVersionMismatch):
		return parerr.Wrap(parerr.KindVersionMismatch, err, "load")
	case parfmtIs(err, parfmt.ErrCorrupt):
		return parerr.Wrap(parerr.KindCorrupt, err, "load")
	default:
		return parerr.Wrap(parerr.KindIO, err, "load")
	}
}

// parfmtIs checks err against a parfmt sentinel across pkg/errors wrapping.
func parfmtIs(err, target error) bool {
	for err != nil {
		if err == target {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func (a *API) findVolume(name string) (int, bool) {
	for i, v := range a.volumes {
		if strings.EqualFold(v.Name, name) {
			return i, true
		}
	}
	return -1, false
}

// insertVolume adds v in case-insensitive name order. A recovery volume
// whose number is already loaded is discarded with a warning, so the
// first-loaded manifest for each volume number wins.
func (a *API) insertVolume(v *Volume) {
	if v.Manifest != nil && v.Manifest.VolumeNumber > 0 {
		for _, have := range a.volumes {
			if have.Manifest != nil && have.Manifest.VolumeNumber == v.Manifest.VolumeNumber {
				if v.handle != nil {
					v.handle.Close()
				}
				if a.Rep != nil {
					a.Rep.Warningf("%s: recovery volume %d already loaded as %s; discarded", v.Name, v.Manifest.VolumeNumber, have.Name)
				}
				return
			}
		}
	}
	i := sort.Search(len(a.volumes), func(i int) bool {
		return strings.ToLower(a.volumes[i].Name) >= strings.ToLower(v.Name)
	})
	a.volumes = append(a.volumes, nil)
	copy(a.volumes[i+1:], a.volumes[i:])
	a.volumes[i] = v
}

// Load parses name as a PAR manifest and inserts it into the volume
// list in case-insensitive name order. If this is the first volume-0
// manifest loaded, its file list becomes the working file list.
func (a *API) Load(name string) error {
	if _, ok := a.findVolume(name); ok {
		return parerr.New(parerr.KindAlreadyLoaded, name)
	}
	f, err := os.Open(filepath.Join(a.Dir, name))
	if err != nil {
		return parerr.Wrap(parerr.KindIO, err, "load: open")
	}
	man, err := parfmt.Open(f, !a.Cfg.SkipControlHash)
	if err != nil {
		f.Close()
		return classifyParseErr(err)
	}
	a.insertVolume(&Volume{Name: name, Manifest: man, handle: f})
	if man.VolumeNumber == 0 && len(a.files) == 0 {
		a.files = append([]parfmt.FileEntry(nil), man.Files...)
		a.comment = man.Comment
	}
	return nil
}

// Search scans the working directory for other PAR control files whose
// file lists match (or, if partial, intersect) the current working
// file list, loading every new match.
func (a *API) Search(partial bool) error {
	entries, err := os.ReadDir(a.Dir)
	if err != nil {
		return parerr.Wrap(parerr.KindIO, err, "search")
	}
	want := make(map[string]bool, len(a.files))
	for _, e := range a.files {
		want[strings.ToLower(e.Name)] = true
	}
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		name := de.Name()
		if _, ok := a.findVolume(name); ok {
			continue
		}
		f, err := os.Open(filepath.Join(a.Dir, name))
		if err != nil {
			continue
		}
		man, err := parfmt.Open(f, false)
		if err != nil {
			f.Close()
			continue
		}
		if matchesFileList(man.Files, want, partial) {
			a.insertVolume(&Volume{Name: name, Manifest: man, handle: f})
		} else {
			f.Close()
		}
	}
	return nil
}

func matchesFileList(files []parfmt.FileEntry, want map[string]bool, partial bool) bool {
	if len(files) == 0 {
		return false
	}
	hit := 0
	for _, e := range files {
		if want[strings.ToLower(e.Name)] {
			hit++
		}
	}
	if partial {
		return hit > 0
	}
	return hit == len(files) && hit == len(want)
}

// Unload removes a previously loaded manifest by name, closing its handle.
func (a *API) Unload(name string) error {
	i, ok := a.findVolume(name)
	if !ok {
		return parerr.New(parerr.KindNotFound, name)
	}
	a.volumes[i].handle.Close()
	a.volumes = append(a.volumes[:i], a.volumes[i+1:]...)
	return nil
}

// ParList returns the loaded volume names in order.
func (a *API) ParList() []string {
	out := make([]string, len(a.volumes))
	for i, v := range a.volumes {
		out[i] = v.Name
	}
	return out
}

// FileList returns the working file list's names in order.
func (a *API) FileList() []string {
	out := make([]string, len(a.files))
	for i, e := range a.files {
		out[i] = e.Name
	}
	return out
}

// scanDir (re)builds the directory index from a.Dir's current contents;
// append-only per spec.md §5, so files already indexed are left alone.
func (a *API) scanDir() error {
	seen := make(map[string]bool, len(a.idx.Entries()))
	for _, e := range a.idx.Entries() {
		seen[e.Path] = true
	}
	entries, err := os.ReadDir(a.Dir)
	if err != nil {
		return parerr.Wrap(parerr.KindIO, err, "scan directory")
	}
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		path := filepath.Join(a.Dir, de.Name())
		if seen[path] {
			continue
		}
		a.idx.Add(path)
	}
	return nil
}

func (a *API) expected() []reconcile.ExpectedFile {
	out := make([]reconcile.ExpectedFile, len(a.files))
	for i, e := range a.files {
		out[i] = reconcile.ExpectedFile{Name: e.Name, FullMD5: e.FullMD5, Included: e.Included()}
	}
	return out
}

func (a *API) reconcileAll() ([]reconcile.Result, error) {
	if err := a.scanDir(); err != nil {
		return nil, err
	}
	var logf reconcile.Logf
	if a.Rep != nil {
		logf = a.Rep.Duplicate
	}
	return reconcile.Reconcile(a.expected(), a.idx, a.Cfg.CaseInsensitive, a.Cfg.DuplicateSearch, logf), nil
}

// Check runs a full-hash match for a single named file entry, reporting
// its outcome through the configured progress.Reporter.
func (a *API) Check(name string) (reconcile.Status, error) {
	results, err := a.reconcileAll()
	if err != nil {
		return reconcile.StatusUnmatched, err
	}
	for _, r := range results {
		if !strings.EqualFold(r.Expected.Name, name) {
			continue
		}
		a.report(r)
		return r.Status, nil
	}
	return reconcile.StatusUnmatched, parerr.New(parerr.KindNotFound, name)
}

func (a *API) report(r reconcile.Result) {
	if a.Rep == nil {
		return
	}
	switch r.Status {
	case reconcile.StatusMatched:
		a.Rep.Line(r.Expected.Name, progress.OK)
	case reconcile.StatusCorrupt:
		a.Rep.Line(r.Expected.Name, progress.Corrupt)
	default:
		a.Rep.Line(r.Expected.Name, progress.NotFound)
	}
}

// Find returns the on-disk path currently bound to name's expected
// entry, if reconciliation could bind one.
func (a *API) Find(name string) (string, bool, error) {
	results, err := a.reconcileAll()
	if err != nil {
		return "", false, err
	}
	for _, r := range results {
		if !strings.EqualFold(r.Expected.Name, name) {
			continue
		}
		if r.Status == reconcile.StatusMatched {
			return r.Match.Path, true, nil
		}
		return "", false, nil
	}
	return "", false, parerr.New(parerr.KindNotFound, name)
}

// FixName reconciles the whole file list and, where an entry's
// on-disk name differs only by the smart-rename substitution pattern or
// by case, renames it into place using the rename-away safety protocol.
func (a *API) FixName() (int, error) {
	if !a.Cfg.FixNames {
		return 0, nil
	}
	results, err := a.reconcileAll()
	if err != nil {
		return 0, err
	}

	fixed := 0
	for _, r := range results {
		if r.Status != reconcile.StatusMatched {
			continue
		}
		if r.NameMatch == fsindex.Equal {
			continue
		}
		if err := a.renameInto(r.Match.Path, r.Expected.Name); err != nil {
			return fixed, err
		}
		fixed++
	}

	onDisk := make(map[string]bool)
	for _, e := range a.idx.Entries() {
		onDisk[e.Name()] = true
	}
	if p, _, ok := reconcile.BestSmartRenamePattern(results, onDisk); ok {
		predictions := reconcile.ApplySmartRenamePredictions(results, p)
		for _, r := range results {
			if r.Status == reconcile.StatusMatched {
				continue
			}
			predicted, ok := predictions[r.Expected.Name]
			if !ok {
				continue
			}
			if err := a.renameInto(filepath.Join(a.Dir, predicted), r.Expected.Name); err != nil {
				continue
			}
			fixed++
		}
	}
	return fixed, nil
}

func (a *API) renameInto(fromPath, expectedName string) error {
	target := filepath.Join(a.Dir, expectedName)
	if fromPath == target {
		return nil
	}
	if _, err := os.Stat(target); err == nil {
		if !a.Cfg.MoveAway {
			return parerr.New(parerr.KindWriteBlocked, target)
		}
		if _, err := reconcile.RenameAwayBad(target); err != nil {
			return parerr.Wrap(parerr.KindIO, err, "fixname: rename-away")
		}
	}
	if err := os.Rename(fromPath, target); err != nil {
		return parerr.Wrap(parerr.KindIO, err, "fixname: rename")
	}
	return nil
}

// GetStatus returns the status bits of the named entry.
func (a *API) GetStatus(name string) (uint64, error) {
	for _, e := range a.files {
		if strings.EqualFold(e.Name, name) {
			return e.Status, nil
		}
	}
	return 0, parerr.New(parerr.KindNotFound, name)
}

// SetStatus writes the status bits of the named entry.
func (a *API) SetStatus(name string, status uint64) error {
	for i, e := range a.files {
		if strings.EqualFold(e.Name, name) {
			a.files[i].Status = status
			return nil
		}
	}
	return parerr.New(parerr.KindNotFound, name)
}

// SetComment replaces the working comment buffer, applied the next time
// Create writes volume 0.
func (a *API) SetComment(text string) {
	a.comment = text
}

// AddFile inserts a new file entry in case-insensitive name order. It
// fails AlreadyLoaded if a hash-equal entry with the same name already
// exists, or NameClash if the name exists with a different hash.
func (a *API) AddFile(path string) error {
	sum, size, err := hashFile(path)
	if err != nil {
		return parerr.Wrap(parerr.KindIO, err, "addfile")
	}
	name := filepath.Base(path)
	for _, e := range a.files {
		if strings.EqualFold(e.Name, name) {
			if e.FullMD5 == sum {
				return parerr.New(parerr.KindAlreadyLoaded, name)
			}
			return parerr.New(parerr.KindNameClash, name)
		}
	}
	entry := parfmt.FileEntry{Status: 1, FileSize: uint64(size), FullMD5: sum, Name: name}
	i := sort.Search(len(a.files), func(i int) bool {
		return strings.ToLower(a.files[i].Name) >= strings.ToLower(name)
	})
	a.files = append(a.files, parfmt.FileEntry{})
	copy(a.files[i+1:], a.files[i:])
	a.files[i] = entry
	return nil
}

func hashFile(path string) ([16]byte, int64, error) {
	var out [16]byte
	f, err := os.Open(path)
	if err != nil {
		return out, 0, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return out, 0, err
	}
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return out, 0, err
	}
	copy(out[:], h.Sum(nil))
	return out, fi.Size(), nil
}

func allColumns(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
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

// AddPars ensures recovery volumes 1..n exist in the volume list,
// provisioning new ones (not yet written to disk) by name.
func (a *API) AddPars(n int) error {
	have := make(map[uint64]bool)
	for _, v := range a.volumes {
		if v.Manifest != nil && v.Manifest.VolumeNumber > 0 {
			have[v.Manifest.VolumeNumber] = true
		}
	}
	for k := uint64(1); k <= uint64(n); k++ {
		if have[k] {
			continue
		}
		name := volumeFileName(k)
		a.insertVolume(&Volume{
			Name:     name,
			Manifest: &parfmt.Manifest{VolumeNumber: k},
		})
	}
	return nil
}

// dataTargets builds restore.DataTarget from the current working file
// list and the most recent reconciliation pass.
func (a *API) dataTargets(results []reconcile.Result) []restore.DataTarget {
	out := make([]restore.DataTarget, len(a.files))
	for i, e := range a.files {
		t := restore.DataTarget{Name: e.Name, Included: e.Included(), Size: int64(e.FileSize), FullMD5: e.FullMD5}
		if results[i].Status == reconcile.StatusMatched {
			t.PresentPath = results[i].Match.Path
			t.Size = results[i].Match.Size
		}
		out[i] = t
	}
	return out
}

// volumeTargets builds restore.VolumeTarget for every loaded or
// provisioned recovery volume.
func (a *API) volumeTargets() []restore.VolumeTarget {
	var out []restore.VolumeTarget
	for _, v := range a.volumes {
		if v.Manifest == nil || v.Manifest.VolumeNumber == 0 {
			continue
		}
		var cols []int
		if v.handle != nil && len(v.Manifest.Files) > 0 {
			cols = columnsForVolume(v.Manifest, a.files)
		} else {
			// Freshly provisioned (AddPars), not yet written: it has no
			// recorded file list of its own yet, so it covers every
			// current file.
			cols = allColumns(len(a.files))
		}
		t := restore.VolumeTarget{Number: v.Manifest.VolumeNumber, Columns: cols}
		if v.handle != nil {
			t.PresentPath = filepath.Join(a.Dir, v.Name)
			t.File = v.handle
			t.DataSize = v.Manifest.DataSize
		}
		out = append(out, t)
	}
	return out
}

// columnsForVolume reconstructs a loaded volume's fnrs column mapping
// by intersecting its own recorded file list against the current
// index's file list by full-MD5 hash, since archives whose recovery
// volumes were built over different, evolving file subsets don't all
// share one column set.
func columnsForVolume(m *parfmt.Manifest, files []parfmt.FileEntry) []int {
	var cols []int
	for i, f := range files {
		for _, vf := range m.Files {
			if vf.FullMD5 == f.FullMD5 {
				cols = append(cols, i)
				break
			}
		}
	}
	return cols
}

// Recover reconciles the working file list against disk and invokes
// internal/restore to reconstruct anything missing, reporting each
// outcome through the configured progress.Reporter.
func (a *API) Recover() ([]restore.Outcome, error) {
	results, err := a.reconcileAll()
	if err != nil {
		return nil, err
	}
	outcomes, err := restore.Run(a.Dir, a.dataTargets(results), a.volumeTargets(), a.Cfg, a.Rep)
	if a.Rep != nil {
		for _, o := range outcomes {
			a.Rep.Line(o.Name, o.Status)
		}
	}
	if err != nil {
		return outcomes, err
	}
	return outcomes, nil
}

// Create runs the same pipeline as Recover, but with every recovery
// volume treated as an output: spec.md §4.7 notes create is restore
// with the expected list supplied directly and no volumes present.
func (a *API) Create() ([]restore.Outcome, error) {
	results, err := a.reconcileAll()
	if err != nil {
		return nil, err
	}
	for i, r := range results {
		if r.Status != reconcile.StatusMatched {
			return nil, parerr.New(parerr.KindNotFound, a.files[i].Name)
		}
	}

	dataTargets := a.dataTargets(results)
	volumeTargets := a.volumeTargets()
	for i := range volumeTargets {
		volumeTargets[i].PresentPath = ""
		volumeTargets[i].File = nil
	}

	if v0, ok := a.findVolume("recovery.par"); ok {
		a.volumes[v0].handle.Close()
		a.volumes = append(a.volumes[:v0], a.volumes[v0+1:]...)
	}
	f, err := os.Create(filepath.Join(a.Dir, "recovery.par"))
	if err != nil {
		return nil, parerr.Wrap(parerr.KindIO, err, "create: volume 0")
	}
	wr, err := parfmt.Create(f, 0, a.files)
	if err != nil {
		f.Close()
		return nil, parerr.Wrap(parerr.KindIO, err, "create: write header")
	}
	if err := wr.WriteComment(a.comment); err != nil {
		f.Close()
		return nil, parerr.Wrap(parerr.KindIO, err, "create: write comment")
	}
	f.Close()

	if rf, err := os.Open(filepath.Join(a.Dir, "recovery.par")); err == nil {
		if man, err := parfmt.Open(rf, false); err == nil {
			a.insertVolume(&Volume{Name: "recovery.par", Manifest: man, handle: rf})
		} else {
			rf.Close()
		}
	}

	// Create always provisions every requested volume regardless of
	// cfg.RecoverVolumes, which only governs whether Recover backfills
	// volumes missing from an existing archive.
	createCfg := *a.Cfg
	createCfg.RecoverVolumes = true
	outcomes, err := restore.Run(a.Dir, dataTargets, volumeTargets, &createCfg, a.Rep)
	if a.Rep != nil {
		for _, o := range outcomes {
			a.Rep.Line(o.Name, o.Status)
		}
	}
	return outcomes, err
}

// Verify runs Check over every entry in list order and returns the
// aggregated failure bitmask: bit 0 set if any entry is unmatched, bit 1
// set if any entry's on-disk copy is corrupt.
func (a *API) Verify() (int, error) {
	results, err := a.reconcileAll()
	if err != nil {
		return 0, err
	}
	mask := 0
	for _, r := range results {
		a.report(r)
		switch r.Status {
		case reconcile.StatusUnmatched:
			mask |= 1
		case reconcile.StatusCorrupt:
			mask |= 2
		}
	}
	return mask, nil
}
