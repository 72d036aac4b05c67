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

// Package match compares read windows with target sequences,
// tolerating at most one substitution. Insertions and deletions are not modeled.
package match

// MaxMismatches is the maximum number of substitutions of a match.
const MaxMismatches = 1

// Result is the result of a successful comparison.
type Result struct {
	Mismatches int
}

// Exact tells if it's an exact match.
func (r Result) Exact() bool { return r.Mismatches == 0 }

// Match compares a window with a target position-wise.
// It returns false if their lengths differ or there are more than
// MaxMismatches mismatches.
func Match(window, target []byte) (Result, bool) {
	if len(window) != len(target) {
		return Result{}, false
	}
	window = window[:len(target)] // let the compiler to reduce boundary checking

	var mm int
	for i, b := range target {
		if window[i] != b {
			mm++
			if mm > MaxMismatches {
				return Result{}, false
			}
		}
	}
	return Result{Mismatches: mm}, true
}

// Leftmost slides the target along s and returns the leftmost position
// where it matches.
func Leftmost(s, target []byte) (int, Result, bool) {
	k := len(target)
	if k == 0 {
		return 0, Result{}, false
	}
	var r Result
	var ok bool
	for i := 0; i+k <= len(s); i++ {
		if r, ok = Match(s[i:i+k], target); ok {
			return i, r, true
		}
	}
	return 0, Result{}, false
}
