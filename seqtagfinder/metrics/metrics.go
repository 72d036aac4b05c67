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

// Package metrics counts matches of a file and saves the summary in JSON format.
package metrics

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/scalebio/SeqTagFinder/seqtagfinder/anchor"
	"github.com/scalebio/SeqTagFinder/seqtagfinder/match"
	"github.com/scalebio/SeqTagFinder/seqtagfinder/target"
)

// TargetMetrics holds counts and the anchor of a target.
type TargetMetrics struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Sequence string `json:"sequence"`

	Exact    uint64 `json:"exact"`
	Mismatch uint64 `json:"mismatch"`

	Anchor            int         `json:"anchor"`
	AnchorSamples     int         `json:"anchor_samples"`
	AnchorConfident   bool        `json:"anchor_confident"`
	PositionFrequency map[int]int `json:"position_frequency,omitempty"`
}

// Metrics of a file. It is owned by a single writer and not safe for concurrent use.
type Metrics struct {
	File   string `json:"file"`
	Output string `json:"output,omitempty"`

	TotalReads uint64 `json:"reads"`
	Exact      uint64 `json:"exact"`
	Mismatch   uint64 `json:"mismatch"`
	Untagged   uint64 `json:"untagged"`
	Skipped    uint64 `json:"skipped"` // included in Untagged

	SampledReads int              `json:"sampled_reads"`
	Targets      []*TargetMetrics `json:"targets"`

	finalized bool
}

// New creates Metrics for a file. tbl could be nil.
func New(file string, ts *target.Set, tbl *anchor.Table) *Metrics {
	m := &Metrics{
		File:    file,
		Targets: make([]*TargetMetrics, ts.Len()),
	}
	if tbl != nil {
		m.SampledReads = tbl.Reads()
	}

	var a *anchor.Anchor
	for i, t := range ts.Targets() {
		tm := &TargetMetrics{
			ID:       t.ID,
			Name:     t.Name,
			Sequence: string(t.Seq),
		}
		if tbl != nil {
			a = tbl.Get(i)
			tm.Anchor = a.Offset
			tm.AnchorSamples = a.Samples
			tm.AnchorConfident = a.Confident
			if len(a.Positions) > 0 {
				tm.PositionFrequency = make(map[int]int, 8)
				for _, p := range a.Positions {
					tm.PositionFrequency[p]++
				}
			}
		}
		m.Targets[i] = tm
	}
	return m
}

// AddHit counts a tagged read.
func (m *Metrics) AddHit(h match.Hit) {
	m.TotalReads++
	if h.Exact() {
		m.Targets[h.Target.ID].Exact++
	} else {
		m.Targets[h.Target.ID].Mismatch++
	}
}

// AddUntagged counts a read without any target.
func (m *Metrics) AddUntagged() {
	m.TotalReads++
	m.Untagged++
}

// AddSkipped counts a read which could not be processed, it's also untagged.
func (m *Metrics) AddSkipped() {
	m.AddUntagged()
	m.Skipped++
}

// Finalize sums up counts of all targets and checks that every read
// is counted exactly once. It could only be called once.
func (m *Metrics) Finalize() error {
	if m.finalized {
		return fmt.Errorf("metrics: %s: finalized twice", m.File)
	}
	m.finalized = true

	m.Exact, m.Mismatch = 0, 0
	for _, tm := range m.Targets {
		m.Exact += tm.Exact
		m.Mismatch += tm.Mismatch
	}
	return m.Check()
}

// Check checks the conservation of read counts.
func (m *Metrics) Check() error {
	var tagged uint64
	for _, tm := range m.Targets {
		tagged += tm.Exact + tm.Mismatch
	}
	if tagged+m.Untagged != m.TotalReads {
		return fmt.Errorf("metrics: %s: tagged (%d) + untagged (%d) != total reads (%d)",
			m.File, tagged, m.Untagged, m.TotalReads)
	}
	if m.Skipped > m.Untagged {
		return fmt.Errorf("metrics: %s: skipped (%d) > untagged (%d)", m.File, m.Skipped, m.Untagged)
	}
	return nil
}

// Tagged returns the number of tagged reads.
func (m *Metrics) Tagged() uint64 {
	return m.TotalReads - m.Untagged
}

// Write writes a list of metrics in indented JSON format.
func Write(w io.Writer, ms ...*Metrics) error {
	if ms == nil {
		ms = []*Metrics{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	return enc.Encode(ms)
}

// WriteFile writes a list of metrics to a file.
func WriteFile(file string, ms ...*Metrics) error {
	fh, err := os.Create(file)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(fh)
	if err = Write(bw, ms...); err != nil {
		fh.Close()
		return err
	}
	if err = bw.Flush(); err != nil {
		fh.Close()
		return err
	}
	return fh.Close()
}

// Read reads a list of metrics in JSON format.
func Read(r io.Reader) ([]*Metrics, error) {
	var ms []*Metrics
	if err := json.NewDecoder(r).Decode(&ms); err != nil {
		return nil, err
	}
	return ms, nil
}
