package reconcile

import "strings"

// threshold is the minimum coverage a candidate substitution pattern
// must strictly exceed before smart rename will apply it.
const threshold = 2

// pattern is a learned "expected name -> on-disk name" transform: cut
// both names around their longest common substring and remember how
// the head and tail differ.
type pattern struct {
	headFrom, headTo string
	tailFrom, tailTo string
}

// apply transforms name the way the pattern's matched pair transformed,
// or reports false if name doesn't share the pattern's head/tail shape.
func (p pattern) apply(name string) (string, bool) {
	if !strings.HasPrefix(name, p.headFrom) || !strings.HasSuffix(name, p.tailFrom) {
		return "", false
	}
	if len(p.headFrom)+len(p.tailFrom) > len(name) {
		return "", false
	}
	mid := name[len(p.headFrom) : len(name)-len(p.tailFrom)]
	return p.headTo + mid + p.tailTo, true
}

// derivePattern builds the substitution pattern implied by one matched
// (expected, actual) name pair via a single longest-common-substring
// split: the shared run stays fixed, and whatever falls on either side of
// it becomes the head/tail substitution rule. The head and tail are not
// split further, so a pair differing in more than two places yields one
// coarse head/tail rule.
func derivePattern(expected, actual string) pattern {
	ai, bi, l := longestCommonSubstring(expected, actual)
	if l == 0 {
		return pattern{headFrom: expected, headTo: actual}
	}
	return pattern{
		headFrom: expected[:ai],
		headTo:   actual[:bi],
		tailFrom: expected[ai+l:],
		tailTo:   actual[bi+l:],
	}
}

// longestCommonSubstring returns the start offsets in a and b of their
// longest common contiguous run, and its length.
func longestCommonSubstring(a, b string) (ai, bi, length int) {
	dp := make([]int, len(b)+1)
	prev := make([]int, len(b)+1)
	best, bestI, bestJ := 0, 0, 0
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				dp[j] = prev[j-1] + 1
				if dp[j] > best {
					best = dp[j]
					bestI = i
					bestJ = j
				}
			} else {
				dp[j] = 0
			}
		}
		prev, dp = dp, prev
	}
	return bestI - best, bestJ - best, best
}

// BestSmartRenamePattern scans every matched pair in results for the
// substitution pattern with the highest coverage over the still-
// unmatched expected names: how many of them, transformed by the
// pattern, land on the exact name of some not-yet-bound on-disk entry.
// Returns ok=false if no candidate pattern clears the threshold.
func BestSmartRenamePattern(results []Result, onDiskNames map[string]bool) (pattern, int, bool) {
	boundOnDisk := make(map[string]bool)
	for _, r := range results {
		if r.Status == StatusMatched {
			boundOnDisk[r.Match.Name()] = true
		}
	}

	seen := make(map[pattern]bool)
	var best pattern
	bestCov := 0
	for _, r := range results {
		if r.Status != StatusMatched {
			continue
		}
		p := derivePattern(r.Expected.Name, r.Match.Name())
		if seen[p] {
			continue
		}
		seen[p] = true

		cov := 0
		for _, u := range results {
			if u.Status == StatusMatched {
				continue
			}
			predicted, ok := p.apply(u.Expected.Name)
			if !ok {
				continue
			}
			if onDiskNames[predicted] && !boundOnDisk[predicted] {
				cov++
			}
		}
		if cov > bestCov {
			bestCov = cov
			best = p
		}
	}
	if bestCov > threshold {
		return best, bestCov, true
	}
	return pattern{}, 0, false
}

// ApplySmartRenamePredictions maps every still-unmatched expected name
// through p and returns the predicted on-disk name for each, keyed by
// expected name, for names where the pattern actually applies.
func ApplySmartRenamePredictions(results []Result, p pattern) map[string]string {
	out := make(map[string]string)
	for _, r := range results {
		if r.Status == StatusMatched {
			continue
		}
		if predicted, ok := p.apply(r.Expected.Name); ok {
			out[r.Expected.Name] = predicted
		}
	}
	return out
}
