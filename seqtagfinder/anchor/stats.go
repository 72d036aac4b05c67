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
	"fmt"
	"math"
	"strconv"

	"github.com/scalebio/SeqTagFinder/seqtagfinder/util"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// Stats summarizes the hit positions of an anchor.
type Stats struct {
	Mean   float64
	Stdev  float64
	Median float64
	Min    int
	Max    int
}

// Stats computes statistics of hit positions.
// All values are 0 for an anchor without samples.
func (a *Anchor) Stats() Stats {
	var s Stats
	if len(a.Positions) == 0 {
		return s
	}

	x := util.SortedFloat64s(a.Positions)
	s.Mean, s.Stdev = stat.MeanStdDev(x, nil)
	if len(x) < 2 || math.IsNaN(s.Stdev) {
		s.Stdev = 0
	}
	s.Median = stat.Quantile(0.5, stat.Empirical, x, nil)
	s.Min, s.Max = util.MinMaxInts(a.Positions)
	return s
}

// Histogram returns the number of samples at each position from
// the minimum to the maximum hit position.
func (a *Anchor) Histogram() (int, []int) {
	if len(a.Positions) == 0 {
		return 0, nil
	}
	min, max := util.MinMaxInts(a.Positions)
	counts := make([]int, max-min+1)
	for _, p := range a.Positions {
		counts[p-min]++
	}
	return min, counts
}

// MaxPlotPositions is the maximum number of positions shown in a plot.
var MaxPlotPositions = 500

// PlotHistogram saves a bar chart of hit positions to a file,
// the format is decided by the file extension, e.g., .png, .pdf, .svg.
func (a *Anchor) PlotHistogram(file string, title string) error {
	min, counts := a.Histogram()
	if len(counts) == 0 {
		return ErrNoPositions
	}
	if len(counts) > MaxPlotPositions {
		return fmt.Errorf("anchor: too wide range of hit positions to plot: [%d, %d]", min, min+len(counts)-1)
	}

	vals := make(plotter.Values, len(counts))
	labels := make([]string, len(counts))
	step := (len(counts) + 19) / 20 // at most 20 labels
	for i, c := range counts {
		vals[i] = float64(c)
		if i%step == 0 {
			labels[i] = strconv.Itoa(min + i)
		}
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "start position in read"
	p.Y.Label.Text = "reads"

	bars, err := plotter.NewBarChart(vals, vg.Points(8))
	if err != nil {
		return err
	}
	bars.LineStyle.Width = vg.Length(0)
	p.Add(bars)
	p.NominalX(labels...)

	return p.Save(6*vg.Inch, 4*vg.Inch, file)
}
