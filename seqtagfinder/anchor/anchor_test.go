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

package anchor

import (
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/scalebio/SeqTagFinder/seqtagfinder/target"
)

type seqs struct {
	data [][]byte
	i    int
	err  error // returned after all data
}

func newSeqs(ss ...string) *seqs {
	data := make([][]byte, len(ss))
	for i, s := range ss {
		data[i] = []byte(s)
	}
	return &seqs{data: data}
}

func (s *seqs) NextSeq() ([]byte, error) {
	if s.i >= len(s.data) {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	s.i++
	return s.data[s.i-1], nil
}

func TestEstimate(t *testing.T) {
	ts, err := target.NewSet("ACGT", "TTTT", "GGCC")
	if err != nil {
		t.Fatal(err)
	}

	src := newSeqs(
		"NNACGTNN",
		"NNNACGANN", // one mismatch
		"NNACGTNNGGCC",
		"ACGTACGT", // leftmost only
		"NNNNNNNN",
	)
	tbl, err := Estimate(src, ts, 100)
	if err != nil {
		t.Error(err)
		return
	}
	if tbl.Reads() != 5 {
		t.Errorf("expected 5 sampled reads, returned %d", tbl.Reads())
	}
	if tbl.Len() != 3 {
		t.Errorf("expected 3 anchors, returned %d", tbl.Len())
	}

	// ACGT: 2, 3, 2, 0 => 7/4 = 1.75 => 2
	a := tbl.Get(0)
	if !a.Confident || a.Samples != 4 || a.Offset != 2 {
		t.Errorf("ACGT: unexpected anchor: %+v", a)
	}

	// TTTT: nothing
	a = tbl.Get(1)
	if a.Confident || a.Samples != 0 || a.Offset != 0 {
		t.Errorf("TTTT: unexpected anchor: %+v", a)
	}

	// GGCC: 8
	a = tbl.Get(2)
	if !a.Confident || a.Samples != 1 || a.Offset != 8 {
		t.Errorf("GGCC: unexpected anchor: %+v", a)
	}

	if tbl.Confident() != 2 {
		t.Errorf("expected 2 confident anchors, returned %d", tbl.Confident())
	}

	anchors := tbl.Anchors()
	if len(anchors) != 3 || anchors[0].Offset != 2 || !anchors[0].Confident || anchors[1].Confident {
		t.Errorf("unexpected anchors: %+v", anchors)
	}
}

func TestEstimateRounding(t *testing.T) {
	ts, err := target.NewSet("ACGT")
	if err != nil {
		t.Fatal(err)
	}

	// 2, 3 => 2.5 => 2
	tbl, err := Estimate(newSeqs("NNACGT", "NNNACGT"), ts, 10)
	if err != nil {
		t.Fatal(err)
	}
	if tbl.Get(0).Offset != 2 {
		t.Errorf("expected anchor offset 2, returned %d", tbl.Get(0).Offset)
	}

	// 2, 3, 3 => 2.67 => 3
	tbl, err = Estimate(newSeqs("NNACGT", "NNNACGT", "NNNACGT"), ts, 10)
	if err != nil {
		t.Fatal(err)
	}
	if tbl.Get(0).Offset != 3 {
		t.Errorf("expected anchor offset 3, returned %d", tbl.Get(0).Offset)
	}
}

func TestEstimateSampleSize(t *testing.T) {
	ts, err := target.NewSet("ACGT", "TTTT")
	if err != nil {
		t.Fatal(err)
	}

	// only the first read is sampled
	src := newSeqs("NNACGT", "ACGTNN", "TTTTNN")
	tbl, err := Estimate(src, ts, 1)
	if err != nil {
		t.Fatal(err)
	}
	if tbl.Reads() != 1 || tbl.Get(0).Offset != 2 || tbl.Get(1).Confident {
		t.Errorf("unexpected table: reads %d, anchors %+v %+v", tbl.Reads(), tbl.Get(0), tbl.Get(1))
	}
	if src.i != 1 {
		t.Errorf("expected 1 read consumed, %d consumed", src.i)
	}

	for _, n := range []int{0, -1} {
		tbl, err = Estimate(newSeqs("ACGT"), ts, n)
		if err != nil {
			t.Fatal(err)
		}
		if tbl.Reads() != 0 || tbl.Confident() != 0 {
			t.Errorf("n=%d: expected no samples, returned %d reads, %d confident anchors", n, tbl.Reads(), tbl.Confident())
		}
	}

	// empty file
	tbl, err = Estimate(newSeqs(), ts, 100)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < tbl.Len(); i++ {
		if a := tbl.Get(i); a.Confident || a.Offset != 0 {
			t.Errorf("empty source: unexpected anchor: %+v", a)
		}
	}
}

func TestEstimateError(t *testing.T) {
	ts, err := target.NewSet("ACGT")
	if err != nil {
		t.Fatal(err)
	}
	src := newSeqs("ACGT")
	src.err = errors.New("broken record")
	if _, err = Estimate(src, ts, 100); err == nil || err.Error() != "broken record" {
		t.Errorf("expected error from source, returned %v", err)
	}
}

func TestStats(t *testing.T) {
	a := &Anchor{Positions: []int{9, 1, 2}, Samples: 3, Confident: true}
	s := a.Stats()
	if s.Mean != 4 || s.Median != 2 || s.Min != 1 || s.Max != 9 {
		t.Errorf("unexpected stats: %+v", s)
	}
	if math.Abs(s.Stdev-math.Sqrt(19)) > 1e-9 {
		t.Errorf("expected stdev %f, returned %f", math.Sqrt(19), s.Stdev)
	}

	a = &Anchor{Positions: []int{3}}
	s = a.Stats()
	if s.Mean != 3 || s.Stdev != 0 || s.Median != 3 {
		t.Errorf("unexpected stats: %+v", s)
	}

	a = &Anchor{}
	if s = a.Stats(); s != (Stats{}) {
		t.Errorf("unexpected stats: %+v", s)
	}
}

func TestHistogram(t *testing.T) {
	a := &Anchor{Positions: []int{4, 2, 2, 5}}
	min, counts := a.Histogram()
	expected := []int{2, 0, 1, 1}
	if min != 2 || len(counts) != len(expected) {
		t.Errorf("unexpected histogram: %d, %v", min, counts)
		return
	}
	for i, c := range counts {
		if c != expected[i] {
			t.Errorf("position %d: expected %d, returned %d", min+i, expected[i], c)
		}
	}

	file := filepath.Join(t.TempDir(), "hist.png")
	if err := a.PlotHistogram(file, "ACGT"); err != nil {
		t.Error(err)
		return
	}
	info, err := os.Stat(file)
	if err != nil {
		t.Error(err)
		return
	}
	if info.Size() == 0 {
		t.Errorf("empty plot file")
	}

	a = &Anchor{}
	if err = a.PlotHistogram(file, "none"); err != ErrNoPositions {
		t.Errorf("expected error %v, returned %v", ErrNoPositions, err)
	}
}
