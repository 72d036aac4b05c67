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

package util

import "github.com/twotwotwo/sorts/sortutil"

// RoundDiv returns sum/n rounded to the nearest integer, with ties
// rounded toward zero. n must be positive.
func RoundDiv(sum, n int) int {
	q, r := sum/n, sum%n
	if r < 0 {
		r = -r
	}
	if r<<1 > n {
		if sum < 0 {
			return q - 1
		}
		return q + 1
	}
	return q
}

// AbsInt returns the absolute value of x.
func AbsInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// SortedFloat64s converts a list of ints to a new sorted list of float64s.
func SortedFloat64s(vals []int) []float64 {
	s := make([]float64, len(vals))
	for i, v := range vals {
		s[i] = float64(v)
	}
	sortutil.Float64s(s)
	return s
}

// MinMaxInts returns the minimum and maximum of a list of ints,
// or 0, 0 for an empty list.
func MinMaxInts(vals []int) (int, int) {
	if len(vals) == 0 {
		return 0, 0
	}
	min, max := vals[0], vals[0]
	for _, v := range vals[1:] {
		if v < min {
			min = v
		} else if v > max {
			max = v
		}
	}
	return min, max
}
