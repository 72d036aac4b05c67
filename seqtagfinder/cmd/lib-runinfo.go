// Copyright © 2024 The SeqTagFinder Authors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package cmd

import (
	"bufio"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/shenwei356/xopen"
)

// RunInfo records the version, parameters and results of a run.
type RunInfo struct {
	Version   string    `toml:"version" comment:"SeqTagFinder version"`
	Command   string    `toml:"command"`
	StartTime time.Time `toml:"start-time"`
	Elapsed   string    `toml:"elapsed"`

	Whitelist string `toml:"whitelist"`
	Targets   int    `toml:"targets"`

	Parameters RunParameters `toml:"parameters"`

	Files []*RunFile `toml:"files"`
}

// RunParameters are the main parameters of a run.
type RunParameters struct {
	Tag         string `toml:"tag"`
	NumReads    int    `toml:"num-reads"`
	Tolerance   int    `toml:"tolerance"`
	NoAnchor    string `toml:"no-anchor"`
	BatchSize   int    `toml:"batch-size"`
	BufferSize  int    `toml:"buffer-size"`
	Workers     int    `toml:"workers"`
	MaxFileConc int    `toml:"max-file-conc"`
}

// RunFile is the result of an input file.
type RunFile struct {
	Input   string `toml:"input"`
	Output  string `toml:"output,omitempty"`
	Status  string `toml:"status"`
	Error   string `toml:"error,omitempty"`
	Reads   uint64 `toml:"reads"`
	Tagged  uint64 `toml:"tagged"`
	Elapsed string `toml:"elapsed"`
}

// NewRunInfo creates a RunInfo from options and outcomes of files.
func NewRunInfo(whitelist string, targets int, opt *TaggingOptions, outcomes []*FileOutcome) *RunInfo {
	info := &RunInfo{
		Version:   VERSION,
		Command:   opt.CmdLine,
		Whitelist: whitelist,
		Targets:   targets,
		Parameters: RunParameters{
			Tag:         opt.Tag.String(),
			NumReads:    opt.NumReads,
			Tolerance:   opt.Tolerance,
			NoAnchor:    opt.NoAnchor.String(),
			BatchSize:   opt.BatchSize,
			BufferSize:  opt.BufferSize,
			Workers:     opt.Workers,
			MaxFileConc: opt.MaxFileConc,
		},
		Files: make([]*RunFile, 0, len(outcomes)),
	}

	for _, o := range outcomes {
		f := &RunFile{
			Input:   o.File,
			Output:  o.Output,
			Status:  "ok",
			Elapsed: o.Elapsed.String(),
		}
		if o.Err != nil {
			f.Status = "failed"
			f.Error = o.Err.Error()
		} else {
			f.Reads = o.Metrics.TotalReads
			f.Tagged = o.Metrics.Tagged()
		}
		info.Files = append(info.Files, f)
	}
	return info
}

// Failed returns the number of failed files.
func (info *RunInfo) Failed() int {
	var n int
	for _, f := range info.Files {
		if f.Status != "ok" {
			n++
		}
	}
	return n
}

// WriteRunInfo writes RunInfo into a TOML file.
func WriteRunInfo(file string, info *RunInfo) error {
	fh, err := os.Create(file)
	if err != nil {
		return errors.Wrap(err, file)
	}
	bw := bufio.NewWriter(fh)

	enc := toml.NewEncoder(bw)
	enc.SetIndentTables(true)
	if err = enc.Encode(info); err != nil {
		fh.Close()
		return errors.Wrap(err, file)
	}

	if err = bw.Flush(); err != nil {
		fh.Close()
		return errors.Wrap(err, file)
	}
	return fh.Close()
}

// ReadRunInfo reads RunInfo from a TOML file.
func ReadRunInfo(file string) (*RunInfo, error) {
	fh, err := xopen.Ropen(file)
	if err != nil {
		return nil, errors.Wrap(err, file)
	}
	defer fh.Close()

	info := &RunInfo{}
	if err = toml.NewDecoder(fh).Decode(info); err != nil {
		return nil, errors.Wrap(err, file)
	}
	return info, nil
}
