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

package match

import (
	"testing"

	"github.com/scalebio/SeqTagFinder/seqtagfinder/target"
)

func newTagger(t *testing.T, seqs []string, anchors []Anchor, tolerance int, policy Policy) *Tagger {
	ts, err := target.NewSet(seqs...)
	if err != nil {
		t.Fatal(err)
	}
	tg, err := NewTagger(ts, anchors, tolerance, policy)
	if err != nil {
		t.Fatal(err)
	}
	return tg
}

func TestTagger(t *testing.T) {
	tests := []struct {
		name      string
		seqs      []string
		anchors   []Anchor
		tolerance int
		policy    Policy
		read      string

		tagged     bool
		id         int
		offset     int
		mismatches int
	}{
		{
			name:    "exact at anchor",
			seqs:    []string{"ACGT", "TTTT"},
			anchors: []Anchor{{2, true}, {0, false}},
			read:    "NNACGTNN", tolerance: 1,
			tagged: true, id: 0, offset: 2, mismatches: 0,
		},
		{
			name:    "one mismatch",
			seqs:    []string{"ACGA"},
			anchors: []Anchor{{2, true}},
			read:    "NNACGTNN", tolerance: 1,
			tagged: true, id: 0, offset: 2, mismatches: 1,
		},
		{
			name:    "outside of the tolerance window",
			seqs:    []string{"ACGT"},
			anchors: []Anchor{{4, true}},
			read:    "ACGTNNNN", tolerance: 1,
			tagged: false,
		},
		{
			name:    "jitter within the tolerance window",
			seqs:    []string{"ACGT"},
			anchors: []Anchor{{3, true}},
			read:    "NNACGTNN", tolerance: 1,
			tagged: true, id: 0, offset: 2, mismatches: 0,
		},
		{
			name:    "fewer mismatches wins",
			seqs:    []string{"ACGA", "ACGT"},
			anchors: []Anchor{{0, true}, {0, true}},
			read:    "ACGTTT", tolerance: 0,
			tagged: true, id: 1, offset: 0, mismatches: 0,
		},
		{
			name:    "lower ordinal wins",
			seqs:    []string{"ACGA", "ACGC"},
			anchors: []Anchor{{0, true}, {0, true}},
			read:    "ACGTTT", tolerance: 0,
			tagged: true, id: 0, offset: 0, mismatches: 1,
		},
		{
			name:    "duplicated targets",
			seqs:    []string{"ACGT", "ACGT"},
			anchors: []Anchor{{0, true}, {0, true}},
			read:    "ACGTTT", tolerance: 1,
			tagged: true, id: 0, offset: 0, mismatches: 0,
		},
		{
			name:    "closest to the anchor wins",
			seqs:    []string{"AAAA"},
			anchors: []Anchor{{1, true}},
			read:    "AAAAAA", tolerance: 1,
			tagged: true, id: 0, offset: 1, mismatches: 0,
		},
		{
			name:    "equal distances, the leftmost wins",
			seqs:    []string{"ACA"},
			anchors: []Anchor{{2, true}},
			read:    "ACAGACA", tolerance: 2,
			tagged: true, id: 0, offset: 0, mismatches: 0,
		},
		{
			name:    "no anchor, scan the whole read",
			seqs:    []string{"ACGT"},
			anchors: []Anchor{{0, false}},
			read:    "NNNNNNACGA", tolerance: 1, policy: Scan,
			tagged: true, id: 0, offset: 6, mismatches: 1,
		},
		{
			name:    "no anchor, skipped",
			seqs:    []string{"ACGT"},
			anchors: []Anchor{{0, false}},
			read:    "ACGT", tolerance: 1, policy: Skip,
			tagged: false,
		},
		{
			name:    "read shorter than target",
			seqs:    []string{"ACGTACGT"},
			anchors: []Anchor{{0, true}},
			read:    "ACGT", tolerance: 1,
			tagged: false,
		},
		{
			name:    "empty read",
			seqs:    []string{"ACGT"},
			anchors: []Anchor{{0, false}},
			read:    "", tolerance: 1,
			tagged: false,
		},
		{
			name:    "targets of different lengths",
			seqs:    []string{"ACGTAC", "GGG"},
			anchors: []Anchor{{0, true}, {6, true}},
			read:    "ACTTACGGG", tolerance: 0,
			tagged: true, id: 1, offset: 6, mismatches: 0,
		},
	}

	for _, test := range tests {
		tg := newTagger(t, test.seqs, test.anchors, test.tolerance, test.policy)
		h, ok := tg.Tag([]byte(test.read))
		if ok != test.tagged {
			t.Errorf("[%s] expected tagged=%v, returned %v", test.name, test.tagged, ok)
			continue
		}
		if !ok {
			continue
		}
		if h.Target.ID != test.id || h.Offset != test.offset || h.Mismatches != test.mismatches {
			t.Errorf("[%s] expected (target #%d, offset %d, mismatches %d), returned (target #%d, offset %d, mismatches %d)",
				test.name, test.id, test.offset, test.mismatches, h.Target.ID, h.Offset, h.Mismatches)
		}
	}
}

func TestTaggerDeterminism(t *testing.T) {
	tg := newTagger(t, []string{"ACGC", "ACGA", "ACGG"},
		[]Anchor{{1, true}, {1, true}, {1, true}}, 1, Scan)
	read := []byte("NACGTN")
	for i := 0; i < 100; i++ {
		h, ok := tg.Tag(read)
		if !ok || h.Target.ID != 0 || h.Mismatches != 1 {
			t.Errorf("round %d: expected target #0 with 1 mismatch, returned %v %+v", i, ok, h)
			return
		}
	}
}

func TestNewTaggerErrors(t *testing.T) {
	ts, err := target.NewSet("ACGT", "TTTT")
	if err != nil {
		t.Fatal(err)
	}
	if _, err = NewTagger(ts, []Anchor{{0, true}}, 1, Scan); err == nil {
		t.Errorf("expected error for unmatched anchors")
	}
	if _, err = NewTagger(ts, []Anchor{{0, true}, {0, true}}, -1, Scan); err == nil {
		t.Errorf("expected error for negative tolerance")
	}
	if _, err = NewTagger(ts, []Anchor{{0, true}, {-2, true}}, 1, Scan); err == nil {
		t.Errorf("expected error for negative anchor")
	}
}

func TestParsePolicy(t *testing.T) {
	for _, p := range []Policy{Scan, Skip} {
		_p, err := ParsePolicy(p.String())
		if err != nil || _p != p {
			t.Errorf("ParsePolicy(%s): returned %s, %v", p, _p, err)
		}
	}
	if _, err := ParsePolicy("guess"); err == nil {
		t.Errorf("expected error for invalid policy")
	}
}
