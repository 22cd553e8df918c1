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

// Package progress reports per-file status lines and phase summaries
// the way the teacher reports QPP/scavenger warnings: color.Red for
// trouble, plain log.Logger output otherwise.
package progress

import (
	"fmt"
	"io"
	"log"

	"github.com/fatih/color"
)

// Status is one of the fixed per-file outcomes spec.md §7 names.
type Status string

const (
	OK           Status = "OK"
	Found        Status = "FOUND"
	Corrupt      Status = "CORRUPT"
	NotFound     Status = "NOT FOUND"
	Recovered    Status = "RECOVERED"
	NotRestored  Status = "NOT RESTORED"
	Failed       Status = "FAILED"
)

func (s Status) bad() bool {
	switch s {
	case Corrupt, NotFound, NotRestored, Failed:
		return true
	default:
		return false
	}
}

// Reporter writes per-file status lines, codec progress ticks, and
// phase summaries.
type Reporter struct {
	log       *log.Logger
	verbosity int
}

// New returns a Reporter writing to w. verbosity 0 suppresses percent
// ticks; any positive value shows them.
func New(w io.Writer, verbosity int) *Reporter {
	return &Reporter{log: log.New(w, "", 0), verbosity: verbosity}
}

// Line reports one file's outcome, coloring bad outcomes red and good
// ones green, matching the teacher's direct color.Red/color.Green
// calls rather than routing color through the logger.
func (r *Reporter) Line(name string, status Status) {
	text := fmt.Sprintf("%-40s %s", name, status)
	if status.bad() {
		r.log.Println(color.RedString("%s", text))
	} else {
		r.log.Println(color.GreenString("%s", text))
	}
}

// Duplicate logs a "Duplicate" line the way internal/reconcile's Logf
// callback is wired to this Reporter.
func (r *Reporter) Duplicate(format string, args ...interface{}) {
	r.log.Println(color.YellowString("Duplicate: "+format, args...))
}

// Percent emits a codec progress tick if verbosity allows it.
func (r *Reporter) Percent(pct int) {
	if r.verbosity > 0 {
		r.log.Printf("%d%%", pct)
	}
}

// Warningf prints a standalone warning the way the teacher's QPP/
// scavenger code calls color.Red directly, independent of any
// per-file status line.
func (r *Reporter) Warningf(format string, args ...interface{}) {
	r.log.Println(color.RedString(format, args...))
}

// Summary prints a phase's closing counts, e.g. "restore: 3 OK, 1 RECOVERED, 1 FAILED".
func (r *Reporter) Summary(phase string, counts map[Status]int) {
	line := phase + ":"
	sep := " "
	for _, s := range []Status{OK, Found, Recovered, Corrupt, NotFound, NotRestored, Failed} {
		if n := counts[s]; n > 0 {
			line += fmt.Sprintf("%s%d %s", sep, n, s)
			sep = ", "
		}
	}
	r.log.Println(line)
}
