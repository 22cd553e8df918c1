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

// Package repl is a line-oriented dispatcher over internal/parapi: it
// reads whitespace-split commands and calls straight through to the API,
// carrying no business logic of its own.
package repl

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xtaci/parcheck/internal/parapi"
)

// Run reads commands from in, one per line, dispatching each to api and
// writing results/errors to out, until "quit" or EOF.
func Run(api *parapi.API, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		cmd, args := fields[0], fields[1:]
		if cmd == "quit" {
			return nil
		}
		if err := dispatch(api, out, cmd, args); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
	return scanner.Err()
}

func dispatch(api *parapi.API, out io.Writer, cmd string, args []string) error {
	switch cmd {
	case "load":
		if len(args) != 1 {
			return fmt.Errorf("usage: load <name>")
		}
		return api.Load(args[0])

	case "search":
		partial := len(args) > 0 && args[0] == "partial"
		return api.Search(partial)

	case "unload":
		if len(args) != 1 {
			return fmt.Errorf("usage: unload <name>")
		}
		return api.Unload(args[0])

	case "parlist":
		for _, name := range api.ParList() {
			fmt.Fprintln(out, name)
		}
		return nil

	case "filelist":
		for _, name := range api.FileList() {
			fmt.Fprintln(out, name)
		}
		return nil

	case "check":
		if len(args) != 1 {
			return fmt.Errorf("usage: check <name>")
		}
		status, err := api.Check(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(out, status)
		return nil

	case "find":
		if len(args) != 1 {
			return fmt.Errorf("usage: find <name>")
		}
		path, ok, err := api.Find(args[0])
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(out, "not found")
			return nil
		}
		fmt.Fprintln(out, path)
		return nil

	case "fixname":
		n, err := api.FixName()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%d renamed\n", n)
		return nil

	case "status":
		if len(args) == 1 {
			st, err := api.GetStatus(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(out, st)
			return nil
		}
		if len(args) == 2 {
			st, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("status: bad value %q", args[1])
			}
			return api.SetStatus(args[0], st)
		}
		return fmt.Errorf("usage: status <name> [value]")

	case "recover":
		outcomes, err := api.Recover()
		for _, o := range outcomes {
			fmt.Fprintf(out, "%s: %s\n", o.Name, o.Status)
		}
		return err

	case "addfile":
		if len(args) != 1 {
			return fmt.Errorf("usage: addfile <path>")
		}
		return api.AddFile(args[0])

	case "addpars":
		if len(args) != 1 {
			return fmt.Errorf("usage: addpars <n>")
		}
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("addpars: bad count %q", args[0])
		}
		return api.AddPars(n)

	case "create":
		outcomes, err := api.Create()
		for _, o := range outcomes {
			fmt.Fprintf(out, "%s: %s\n", o.Name, o.Status)
		}
		return err

	case "comment":
		api.SetComment(strings.Join(args, " "))
		return nil

	case "verify":
		mask, err := api.Verify()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%d\n", mask)
		return nil

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}
