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
	"fmt"
	"strings"

	"github.com/scalebio/SeqTagFinder/seqtagfinder/target"
	"github.com/scalebio/SeqTagFinder/seqtagfinder/util"
)

// Policy decides how targets without a confident anchor are searched.
type Policy int

const (
	// Scan searches the whole read, the leftmost best hit wins.
	Scan Policy = iota
	// Skip never assigns a target without a confident anchor.
	Skip
)

func (p Policy) String() string {
	switch p {
	case Scan:
		return "scan"
	case Skip:
		return "skip"
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// ParsePolicy parses a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(s) {
	case "scan":
		return Scan, nil
	case "skip":
		return Skip, nil
	}
	return Scan, fmt.Errorf("invalid no-anchor policy: %s, available values: scan, skip", s)
}

// Anchor is the expected start position of a target in reads.
type Anchor struct {
	Offset    int
	Confident bool
}

// Hit is the chosen match of a read.
type Hit struct {
	Target     *target.Target
	Offset     int // start position in the read
	Mismatches int

	dist int // distance to the anchor
}

// Exact tells if the hit has no mismatch.
func (h Hit) Exact() bool { return h.Mismatches == 0 }

// better tells if a beats b: fewer mismatches, lower target ordinal,
// closer to the anchor, then the leftmost.
func (a *Hit) better(b *Hit) bool {
	if a.Mismatches != b.Mismatches {
		return a.Mismatches < b.Mismatches
	}
	if a.Target.ID != b.Target.ID {
		return a.Target.ID < b.Target.ID
	}
	if a.dist != b.dist {
		return a.dist < b.dist
	}
	return a.Offset < b.Offset
}

// Tagger assigns the most likely target to reads.
// It is read-only after creation and safe for concurrent use.
type Tagger struct {
	targets   []*target.Target
	anchors   []Anchor
	tolerance int
	policy    Policy
}

// NewTagger creates a Tagger. anchors must be in the order of target IDs.
func NewTagger(ts *target.Set, anchors []Anchor, tolerance int, policy Policy) (*Tagger, error) {
	if len(anchors) != ts.Len() {
		return nil, fmt.Errorf("match: %d anchors given for %d targets", len(anchors), ts.Len())
	}
	if tolerance < 0 {
		return nil, fmt.Errorf("match: negative tolerance: %d", tolerance)
	}
	for i, a := range anchors {
		if a.Offset < 0 {
			return nil, fmt.Errorf("match: negative anchor offset for target #%d: %d", i, a.Offset)
		}
	}
	_anchors := make([]Anchor, len(anchors))
	copy(_anchors, anchors)
	return &Tagger{
		targets:   ts.Targets(),
		anchors:   _anchors,
		tolerance: tolerance,
		policy:    policy,
	}, nil
}

// Tag searches all targets around their anchors in s.
// It returns false if no target matches.
func (tg *Tagger) Tag(s []byte) (Hit, bool) {
	var best, h Hit
	var found bool
	var a Anchor
	var k, last, begin, end, o int
	var r Result
	var ok bool
	for i, t := range tg.targets {
		// a lower ordinal has already won with an exact match
		if found && best.Mismatches == 0 {
			break
		}

		k = t.Len()
		last = len(s) - k
		if last < 0 {
			continue
		}

		a = tg.anchors[i]
		if a.Confident {
			begin, end = a.Offset-tg.tolerance, a.Offset+tg.tolerance
			if begin < 0 {
				begin = 0
			}
			if end > last {
				end = last
			}
		} else if tg.policy == Skip {
			continue
		} else {
			begin, end = 0, last
		}

		for o = begin; o <= end; o++ {
			if r, ok = Match(s[o:o+k], t.Seq); !ok {
				continue
			}
			h = Hit{Target: t, Offset: o, Mismatches: r.Mismatches, dist: util.AbsInt(o - a.Offset)}
			if !found || h.better(&best) {
				best = h
				found = true
			}
		}
	}
	return best, found
}
