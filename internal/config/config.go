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

// Package config holds the CLI-tunable flags spec.md §6 names, with a
// JSON overlay loader shaped like the teacher's parseJSONConfig.
package config

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// Config is every flag-tunable knob the CLI, the REPL, and internal/restore
// read from.
type Config struct {
	MoveAway            bool `json:"move_away"`
	RecoverVolumes      bool `json:"recover_volumes"`
	FixNames            bool `json:"fix_names"`
	VolumesPerFile      int  `json:"volumes_per_file"`
	TotalVolumes        int  `json:"total_volumes"`
	DuplicateSearch     bool `json:"duplicate_search"`
	Keep                bool `json:"keep"`
	SkipParitySet       bool `json:"skip_parity_set"`
	SkipWriteRecovery   bool `json:"skip_write_recovery"`
	CaseInsensitive     bool `json:"case_insensitive"`
	SkipControlHash     bool `json:"skip_control_hash"`
	WorkaroundOpenLimit bool `json:"workaround_open_limit"`
	Verbosity           int  `json:"verbosity"`
}

// Default returns the flag defaults the CLI starts from before any
// `-`/`+` switches or JSON overlay apply.
func Default() *Config {
	return &Config{
		RecoverVolumes:  true,
		DuplicateSearch: true,
	}
}

// Load reads path as JSON and overlays it onto a fresh Default
// config, the way the teacher's parseJSONConfig decodes straight into
// an existing struct so unset JSON fields keep their defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "config.Load")
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(cfg); err != nil {
		return nil, errors.Wrap(err, "config.Load: decode")
	}
	return cfg, nil
}
