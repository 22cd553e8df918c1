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

package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli"

	"github.com/xtaci/parcheck/internal/config"
	"github.com/xtaci/parcheck/internal/parapi"
	"github.com/xtaci/parcheck/internal/progress"
	"github.com/xtaci/parcheck/internal/repl"
)

// VERSION is injected by buildflags.
var VERSION = "SELFBUILD"

// commonFlags mirrors spec.md §6's flag set as plain BoolFlags, since
// urfave/cli v1 has no native toggle-group concept: a flag left off keeps
// the config.Default (or JSON) value. 'r' and 'd' default to on, so they
// are switched off with -r=false / -d=false rather than by omission.
var commonFlags = []cli.Flag{
	cli.BoolFlag{Name: "m", Usage: "move away existing files before overwriting (move-away)"},
	cli.BoolFlag{Name: "r", Usage: "recover missing recovery volumes too"},
	cli.BoolFlag{Name: "f", Usage: "fix on-disk file names to match the archive"},
	cli.IntFlag{Name: "p", Usage: "volumes per file (accepted but has no effect)"},
	cli.IntFlag{Name: "n", Usage: "total volume count"},
	cli.BoolFlag{Name: "d", Usage: "search for duplicate files"},
	cli.BoolFlag{Name: "k", Usage: "keep broken output instead of deleting it"},
	cli.BoolFlag{Name: "i", Usage: "don't include following files in the parity set (accepted but has no effect)"},
	cli.BoolFlag{Name: "c", Usage: "skip writing recovery volumes (accepted but has no effect)"},
	cli.BoolFlag{Name: "C", Usage: "case-insensitive name compare"},
	cli.BoolFlag{Name: "H", Usage: "skip control-hash validation"},
	cli.BoolFlag{Name: "O", Usage: "work around the open-file-handle limit (accepted but has no effect)"},
	cli.IntFlag{Name: "v", Usage: "verbosity level"},
	cli.StringFlag{Name: "c2", Usage: "config from JSON file; flags given explicitly override its values"},
}

func configFromContext(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String("c2"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if c.IsSet("m") {
		cfg.MoveAway = c.Bool("m")
	}
	if c.IsSet("r") {
		cfg.RecoverVolumes = c.Bool("r")
	}
	if c.IsSet("f") {
		cfg.FixNames = c.Bool("f")
	}
	if c.IsSet("p") {
		cfg.VolumesPerFile = c.Int("p")
	}
	if c.IsSet("n") {
		cfg.TotalVolumes = c.Int("n")
	}
	if c.IsSet("d") {
		cfg.DuplicateSearch = c.Bool("d")
	}
	if c.IsSet("k") {
		cfg.Keep = c.Bool("k")
	}
	if c.IsSet("c") {
		cfg.SkipWriteRecovery = c.Bool("c")
	}
	if c.IsSet("C") {
		cfg.CaseInsensitive = c.Bool("C")
	}
	if c.IsSet("H") {
		cfg.SkipControlHash = c.Bool("H")
	}
	if c.IsSet("O") {
		cfg.WorkaroundOpenLimit = c.Bool("O")
	}
	if c.IsSet("v") {
		cfg.Verbosity = c.Int("v")
	}
	return cfg, nil
}

// loadWithPars opens the named archive and pulls in every recovery
// volume sharing its base name (<stem>.volN), matching the CLI
// convention the REPL's load+search pair exposes interactively.
func loadWithPars(api *parapi.API, parPath string) error {
	dir, name := filepath.Split(parPath)
	if dir == "" {
		dir = "."
	}
	api.Dir = dir
	if err := api.Load(name); err != nil {
		return err
	}
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(strings.ToLower(e.Name()), strings.ToLower(stem)+".vol") {
			_ = api.Load(e.Name()) // best-effort: a name clash just skips this candidate
		}
	}
	return nil
}

// exitCodeFor maps a run's outcome to spec.md §6's exit codes: 0
// success, 1 partial/uncorrectable loss, 2 fatal parse failure.
func exitCodeFor(err error, mask int) int {
	if err != nil {
		return 2
	}
	if mask != 0 {
		return 1
	}
	return 0
}

func runCheck(c *cli.Context) error {
	cfg, err := configFromContext(c)
	if err != nil {
		return cli.NewExitError(err.Error(), 2)
	}
	if c.NArg() < 1 {
		return cli.NewExitError("usage: parcheck check <par>", 2)
	}
	rep := progress.New(os.Stdout, cfg.Verbosity)
	api := parapi.New(".", cfg, rep)
	if err := loadWithPars(api, c.Args().Get(0)); err != nil {
		return cli.NewExitError(err.Error(), 2)
	}
	mask, err := api.Verify()
	rep.Summary("check", summaryCounts(mask))
	return cli.NewExitError("", exitCodeFor(err, mask))
}

func runRecover(c *cli.Context) error {
	cfg, err := configFromContext(c)
	if err != nil {
		return cli.NewExitError(err.Error(), 2)
	}
	if c.NArg() < 1 {
		return cli.NewExitError("usage: parcheck recover <par>", 2)
	}
	rep := progress.New(os.Stdout, cfg.Verbosity)
	api := parapi.New(".", cfg, rep)
	if err := loadWithPars(api, c.Args().Get(0)); err != nil {
		return cli.NewExitError(err.Error(), 2)
	}
	if cfg.FixNames {
		if _, err := api.FixName(); err != nil {
			rep.Warningf("fixname: %v", err)
		}
	}
	outcomes, err := api.Recover()
	mask := 0
	for _, o := range outcomes {
		if o.Status != progress.OK && o.Status != progress.Recovered {
			mask |= 1
		}
	}
	return cli.NewExitError("", exitCodeFor(err, mask))
}

func runAdd(c *cli.Context) error {
	cfg, err := configFromContext(c)
	if err != nil {
		return cli.NewExitError(err.Error(), 2)
	}
	if c.NArg() < 1 {
		return cli.NewExitError("usage: parcheck add <par> [files...]", 2)
	}
	dir, name := filepath.Split(c.Args().Get(0))
	if dir == "" {
		dir = "."
	}
	rep := progress.New(os.Stdout, cfg.Verbosity)
	api := parapi.New(dir, cfg, rep)
	if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
		if err := api.Load(name); err != nil {
			return cli.NewExitError(err.Error(), 2)
		}
	}
	for _, f := range c.Args()[1:] {
		if err := api.AddFile(f); err != nil {
			return cli.NewExitError(err.Error(), 2)
		}
	}
	if cfg.TotalVolumes > 0 {
		if err := api.AddPars(cfg.TotalVolumes); err != nil {
			return cli.NewExitError(err.Error(), 2)
		}
	}
	if _, err := api.Create(); err != nil {
		return cli.NewExitError(err.Error(), 2)
	}
	return nil
}

func runMix(c *cli.Context) error {
	cfg, err := configFromContext(c)
	if err != nil {
		return cli.NewExitError(err.Error(), 2)
	}
	rep := progress.New(os.Stdout, cfg.Verbosity)
	entries, err := os.ReadDir(".")
	if err != nil {
		return cli.NewExitError(err.Error(), 2)
	}
	mask := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".par") {
			continue
		}
		api := parapi.New(".", cfg, rep)
		if err := loadWithPars(api, e.Name()); err != nil {
			rep.Warningf("%s: %v", e.Name(), err)
			continue
		}
		if err := api.Search(true); err != nil {
			rep.Warningf("%s: search: %v", e.Name(), err)
		}
		outcomes, err := api.Recover()
		if err != nil {
			mask |= 1
		}
		for _, o := range outcomes {
			if o.Status != progress.OK && o.Status != progress.Recovered {
				mask |= 1
			}
		}
	}
	return cli.NewExitError("", exitCodeFor(nil, mask))
}

func runInteractive(c *cli.Context) error {
	cfg, err := configFromContext(c)
	if err != nil {
		return cli.NewExitError(err.Error(), 2)
	}
	rep := progress.New(os.Stdout, cfg.Verbosity)
	api := parapi.New(".", cfg, rep)
	if c.NArg() >= 1 {
		if err := loadWithPars(api, c.Args().Get(0)); err != nil {
			fmt.Fprintf(os.Stderr, "%+v\n", err)
		}
	}
	return repl.Run(api, os.Stdin, os.Stdout)
}

// summaryCounts turns Verify's aggregated bitmask into the counts
// progress.Summary prints; it is a coarse view (the mask doesn't carry
// per-file detail), matching §7's "aggregated failure bitmask" contract.
func summaryCounts(mask int) map[progress.Status]int {
	counts := map[progress.Status]int{}
	if mask&1 != 0 {
		counts[progress.NotFound] = 1
	}
	if mask&2 != 0 {
		counts[progress.Corrupt] = 1
	}
	if mask == 0 {
		counts[progress.OK] = 1
	}
	return counts
}

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "parcheck"
	myApp.Usage = "verify and recover Parity Archive (PAR) file sets"
	myApp.Version = VERSION
	myApp.Commands = []cli.Command{
		{
			Name:      "check",
			Usage:     "verify a PAR file set without modifying anything",
			ArgsUsage: "<par>",
			Flags:     commonFlags,
			Action:    runCheck,
		},
		{
			Name:      "recover",
			Usage:     "check and restore missing or damaged files",
			ArgsUsage: "<par>",
			Flags:     commonFlags,
			Action:    runRecover,
		},
		{
			Name:      "add",
			Usage:     "create or extend a PAR file set",
			ArgsUsage: "<par> [files...]",
			Flags:     commonFlags,
			Action:    runAdd,
		},
		{
			Name:   "mix",
			Usage:  "find every PAR archive in the working directory and attempt cross-volume restore",
			Flags:  commonFlags,
			Action: runMix,
		},
		{
			Name:      "interactive",
			Usage:     "enter the line-oriented REPL",
			ArgsUsage: "[par]",
			Flags:     commonFlags,
			Action:    runInteractive,
		},
	}
	myApp.Run(os.Args)
}
