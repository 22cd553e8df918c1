// Package reconcile matches an archive's expected file list against
// what is actually present on disk, via internal/fsindex, and applies
// the optional smart-rename heuristic and rename-away safety protocol
// when the caller asks to fix names in place.
package reconcile

import (
	"fmt"
	"os"

	"github.com/xtaci/parcheck/internal/fsindex"
)

// ExpectedFile is one entry from an archive's file list that
// reconciliation tries to bind to a file on disk.
type ExpectedFile struct {
	Name     string
	FullMD5  [16]byte
	Included bool
}

// Status is the outcome of trying to bind one ExpectedFile.
type Status int

const (
	StatusUnmatched Status = iota
	StatusMatched
	StatusCorrupt
)

// Result is the reconciliation outcome for one expected file.
type Result struct {
	Expected  ExpectedFile
	Match     *fsindex.Entry
	Status    Status
	NameMatch fsindex.NameMatch
}

// Logf receives "Duplicate" and similar informational lines; nil is
// allowed to discard them.
type Logf func(format string, args ...interface{})

// Reconcile binds each expected entry to a candidate in idx by
// case-sensitive name first, falling back to case-folded names when
// caseInsensitive is set, then confirming the binding via a full-MD5
// compare. When duplicateSearch is set, every bound entry additionally
// gets scanned against the whole index for other files sharing its
// hash, which are logged but never rebind the match.
func Reconcile(expected []ExpectedFile, idx *fsindex.Index, caseInsensitive, duplicateSearch bool, log Logf) []Result {
	results := make([]Result, len(expected))
	used := make(map[*fsindex.Entry]bool)

	tryTier := func(i int, tier fsindex.NameMatch) (bool, bool) {
		exp := expected[i]
		sawCorrupt := false
		for _, cand := range idx.Entries() {
			if used[cand] {
				continue
			}
			if fsindex.CompareNames(exp.Name, cand.Name()) != tier {
				continue
			}
			idx.EnsureHashed(cand, fsindex.LevelPrefix)
			if cand.Err != nil {
				sawCorrupt = true
				continue
			}
			idx.EnsureHashed(cand, fsindex.LevelFull)
			if cand.Err != nil {
				sawCorrupt = true
				continue
			}
			if cand.FullMD5 == exp.FullMD5 {
				results[i].Match = cand
				results[i].Status = StatusMatched
				results[i].NameMatch = tier
				used[cand] = true
				return true, sawCorrupt
			}
		}
		return false, sawCorrupt
	}

	for i, exp := range expected {
		results[i] = Result{Expected: exp}
		bound, corrupt := tryTier(i, fsindex.Equal)
		if !bound && caseInsensitive {
			var c2 bool
			bound, c2 = tryTier(i, fsindex.EqualCaseInsensitiveOnly)
			corrupt = corrupt || c2
		}
		if !bound && corrupt {
			results[i].Status = StatusCorrupt
		}
	}

	if duplicateSearch {
		for i := range results {
			if results[i].Status != StatusMatched {
				continue
			}
			exp := results[i].Expected
			for _, cand := range idx.Entries() {
				if cand == results[i].Match {
					continue
				}
				idx.EnsureHashed(cand, fsindex.LevelFull)
				if cand.Err != nil {
					continue
				}
				if cand.FullMD5 == exp.FullMD5 && log != nil {
					log("Duplicate: %s also matches %s", cand.Path, exp.Name)
				}
			}
		}
	}

	return results
}

// RenameAwayBad moves path aside by appending ".bad", falling back to
// ".bad00".."bad99" if that name is already taken, before an output
// file gets overwritten.
func RenameAwayBad(path string) (string, error) {
	return renameAway(path, ".bad", true)
}

// RenameAwayOld moves path aside by appending ".old", used when a
// prior archive header is being replaced.
func RenameAwayOld(path string) (string, error) {
	return renameAway(path, ".old", false)
}

func renameAway(path, suffix string, numberedFallback bool) (string, error) {
	candidate := path + suffix
	if _, err := os.Stat(candidate); os.IsNotExist(err) {
		return candidate, os.Rename(path, candidate)
	}
	if numberedFallback {
		for i := 0; i < 100; i++ {
			candidate = fmt.Sprintf("%s%s%02d", path, suffix, i)
			if _, err := os.Stat(candidate); os.IsNotExist(err) {
				return candidate, os.Rename(path, candidate)
			}
		}
	}
	return "", fmt.Errorf("rename-away: no available name for %s", path)
}
