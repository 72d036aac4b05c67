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

// Package anchor estimates where each target starts in reads of a file,
// so that the main pass only needs to probe a narrow window.
package anchor

import (
	"errors"
	"io"

	"github.com/scalebio/SeqTagFinder/seqtagfinder/match"
	"github.com/scalebio/SeqTagFinder/seqtagfinder/target"
	"github.com/scalebio/SeqTagFinder/seqtagfinder/util"
)

// ErrNoPositions means the target has no hit in sampled reads.
var ErrNoPositions = errors.New("anchor: no hit positions")

// SeqSource provides read sequences in file order.
type SeqSource interface {
	// NextSeq returns the sequence of the next read, or io.EOF.
	NextSeq() ([]byte, error)
}

// Anchor is the estimated start position of a target.
type Anchor struct {
	TargetID int

	// Offset is the rounded mean of leftmost hit positions,
	// or 0 if no sampled read contains the target.
	Offset int

	// Samples is the number of sampled reads with a hit.
	Samples int

	// Confident tells if any sampled read contains the target.
	Confident bool

	// Positions are the leftmost hit positions, one per contributing read.
	Positions []int
}

// Table holds anchors of all targets for a file.
// It must not be modified after Estimate returns.
type Table struct {
	reads   int
	anchors []*Anchor
}

// Len returns the number of anchors, i.e., the number of targets.
func (t *Table) Len() int { return len(t.anchors) }

// Reads returns the number of reads actually sampled.
func (t *Table) Reads() int { return t.reads }

// Get returns the anchor of a target.
func (t *Table) Get(id int) *Anchor { return t.anchors[id] }

// Confident returns the number of targets with a confident anchor.
func (t *Table) Confident() int {
	var n int
	for _, a := range t.anchors {
		if a.Confident {
			n++
		}
	}
	return n
}

// Anchors returns the anchors in the form used by match.Tagger.
func (t *Table) Anchors() []match.Anchor {
	anchors := make([]match.Anchor, len(t.anchors))
	for i, a := range t.anchors {
		anchors[i] = match.Anchor{Offset: a.Offset, Confident: a.Confident}
	}
	return anchors
}

// Estimate samples the first n reads of src, and scans every read
// exhaustively for every target. For each read and target, the leftmost
// position with at most one mismatch counts as a sample.
// The anchor offset is the mean of samples, rounded to the nearest
// integer with ties rounded toward zero.
//
// Targets without any sample get a low-confidence anchor at offset 0.
// n <= 0 samples nothing.
func Estimate(src SeqSource, ts *target.Set, n int) (*Table, error) {
	targets := ts.Targets()
	sums := make([]int, len(targets))
	tbl := &Table{anchors: make([]*Anchor, len(targets))}
	for i, t := range targets {
		tbl.anchors[i] = &Anchor{TargetID: t.ID, Positions: make([]int, 0, 64)}
	}

	var s []byte
	var err error
	var pos int
	var ok bool
	var a *Anchor
	for tbl.reads < n {
		s, err = src.NextSeq()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		tbl.reads++

		for i, t := range targets {
			if pos, _, ok = match.Leftmost(s, t.Seq); !ok {
				continue
			}
			a = tbl.anchors[i]
			a.Positions = append(a.Positions, pos)
			sums[i] += pos
		}
	}

	for i, a := range tbl.anchors {
		a.Samples = len(a.Positions)
		if a.Samples == 0 {
			continue
		}
		a.Confident = true
		a.Offset = util.RoundDiv(sums[i], a.Samples)
	}

	return tbl, nil
}
