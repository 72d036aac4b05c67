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
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/biogo/hts/sam"
	"github.com/pkg/errors"
	"github.com/scalebio/SeqTagFinder/seqtagfinder/anchor"
	"github.com/scalebio/SeqTagFinder/seqtagfinder/bamio"
	"github.com/scalebio/SeqTagFinder/seqtagfinder/match"
	"github.com/scalebio/SeqTagFinder/seqtagfinder/metrics"
	"github.com/scalebio/SeqTagFinder/seqtagfinder/pipeline"
	"github.com/scalebio/SeqTagFinder/seqtagfinder/target"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// TmpFileExt is the path extension for temporary files
const TmpFileExt = ".tmp"

// TaggedBamExt is the extension of output BAM files.
const TaggedBamExt = ".tagged.bam"

// MetricsExt is the extension of per-file metrics files.
const MetricsExt = ".metrics.json"

// FileMetrics is the name of the metrics file of all input files.
const FileMetrics = "metrics.json"

// FileRunInfo is the name of the run information file.
const FileRunInfo = "run.toml"

// ProgramID is the ID of the @PG header line.
const ProgramID = "seqtagfinder"

type TaggingOptions struct {
	// general
	NumCPUs  int
	Verbose  bool // show log and progress bar
	Log2File bool

	OutDir  string
	CmdLine string // command line in the @PG header line

	// position estimation
	NumReads int // number of reads for estimating anchors

	// matching
	Tag       sam.Tag
	Tolerance int          // half width of the window around an anchor
	NoAnchor  match.Policy // for targets without an anchor

	// pipeline
	BatchSize   int // records per batch
	BufferSize  int // batches per queue
	Workers     int // match workers per file, 0 for threads of a file
	MaxFileConc int // files processed simultaneously
}

// CheckTaggingOptions check the options
func CheckTaggingOptions(opt *TaggingOptions) error {
	if opt.NumCPUs < 1 {
		return fmt.Errorf("invalid number of threads: %d, should be >= 1", opt.NumCPUs)
	}
	if opt.OutDir == "" {
		return fmt.Errorf("output directory needed")
	}
	if opt.NumReads < 0 {
		return fmt.Errorf("invalid number of reads for estimating positions: %d, should be >= 0", opt.NumReads)
	}
	if opt.Tag == (sam.Tag{}) {
		return fmt.Errorf("tag needed")
	}
	if opt.Tolerance < 0 {
		return fmt.Errorf("invalid tolerance: %d, should be >= 0", opt.Tolerance)
	}
	if opt.BatchSize < 1 {
		return fmt.Errorf("invalid batch size: %d, should be >= 1", opt.BatchSize)
	}
	if opt.BufferSize < 1 {
		return fmt.Errorf("invalid buffer size: %d, should be >= 1", opt.BufferSize)
	}
	if opt.Workers < 0 {
		return fmt.Errorf("invalid number of workers: %d, should be >= 0", opt.Workers)
	}
	if opt.MaxFileConc < 1 {
		return fmt.Errorf("invalid number of files processed simultaneously: %d, should be >= 1", opt.MaxFileConc)
	}
	return nil
}

// threads returns the number of threads for each file.
func (opt *TaggingOptions) threads() int {
	n := opt.NumCPUs / opt.MaxFileConc
	if n < 1 {
		return 1
	}
	return n
}

// FileOutcome is the result of tagging a file.
type FileOutcome struct {
	File    string
	Output  string // empty if failed
	Anchors *anchor.Table
	Metrics *metrics.Metrics
	Elapsed time.Duration
	Err     error
}

// OutputFiles returns paths of the tagged BAM and the metrics file of an input file.
func OutputFiles(outDir, file string) (string, string) {
	name, _, _ := filepathTrimExtension(filepath.Base(file), nil)
	return filepath.Join(outDir, name+TaggedBamExt), filepath.Join(outDir, name+MetricsExt)
}

// CheckOutputFiles makes sure that different input files do not share outputs.
func CheckOutputFiles(outDir string, files []string) error {
	m := make(map[string]string, len(files))
	var out string
	for _, file := range files {
		out, _ = OutputFiles(outDir, file)
		if f, ok := m[out]; ok {
			return fmt.Errorf("input files %s and %s have the same output file: %s", f, file, out)
		}
		m[out] = file
	}
	return nil
}

// EstimateAnchors estimates anchors of targets from the first n reads of a BAM file.
func EstimateAnchors(file string, ts *target.Set, n int, threads int) (*anchor.Table, error) {
	r, err := bamio.Open(file, threads)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return anchor.Estimate(r, ts, n)
}

// TagFile estimates anchors from a BAM file, and writes a tagged copy and the metrics file.
// Outputs are only kept if all records are written.
func TagFile(ctx context.Context, file string, ts *target.Set, opt *TaggingOptions) (out *FileOutcome) {
	timeStart := time.Now()
	out = &FileOutcome{File: file}
	defer func() {
		out.Elapsed = time.Since(timeStart)
	}()

	threads := opt.threads()

	// ---------------------------------------------------------------
	// 1. position estimation

	tbl, err := EstimateAnchors(file, ts, opt.NumReads, threads)
	if err != nil {
		out.Err = errors.Wrap(err, "estimating positions")
		return
	}
	out.Anchors = tbl

	tagger, err := match.NewTagger(ts, tbl.Anchors(), opt.Tolerance, opt.NoAnchor)
	if err != nil {
		out.Err = err
		return
	}

	// ---------------------------------------------------------------
	// 2. tagging

	r, err := bamio.Open(file, threads)
	if err != nil {
		out.Err = err
		return
	}
	defer r.Close()

	h, err := bamio.OutputHeader(r.Header(), ProgramID, VERSION, opt.CmdLine)
	if err != nil {
		log.Warningf("%s: @PG line not added: %s", file, err)
	}

	outFile, metricsFile := OutputFiles(opt.OutDir, file)
	tmpFile := outFile + TmpFileExt

	w, err := bamio.Create(tmpFile, h, threads)
	if err != nil {
		out.Err = err
		return
	}

	m := metrics.New(file, ts, tbl)
	m.Output = outFile

	popt := &pipeline.Options{
		BatchSize:  opt.BatchSize,
		BufferSize: opt.BufferSize,
		Workers:    opt.Workers,
		Tag:        opt.Tag,
		Logger:     log,
	}
	if popt.Workers == 0 {
		popt.Workers = threads
	}

	err = pipeline.Run(ctx, r, w, tagger, m, popt)
	if err2 := w.Close(); err == nil {
		err = err2
	}
	if err != nil {
		os.Remove(tmpFile)
		out.Err = errors.Wrapf(err, "tagging %s to %s", r.File(), w.File())
		return
	}

	if err = os.Rename(tmpFile, outFile); err != nil {
		os.Remove(tmpFile)
		out.Err = err
		return
	}

	// ---------------------------------------------------------------
	// 3. metrics

	if err = metrics.WriteFile(metricsFile, m); err != nil {
		os.Remove(outFile)
		out.Err = errors.Wrap(err, "writing metrics")
		return
	}

	out.Output = outFile
	out.Metrics = m
	return
}

// TagFiles tags files with at most MaxFileConc files at the same time.
// A failed file does not stop others. Outcomes are in the order of files.
func TagFiles(ctx context.Context, files []string, ts *target.Set, opt *TaggingOptions) []*FileOutcome {
	outcomes := make([]*FileOutcome, len(files))

	// process bar
	showProgress := opt.Verbose && len(files) > 1
	var pbs *mpb.Progress
	var bar *mpb.Bar
	var chDuration chan time.Duration
	var doneDuration chan int
	if showProgress {
		pbs = mpb.New(mpb.WithWidth(40), mpb.WithOutput(os.Stderr))
		bar = pbs.AddBar(int64(len(files)),
			mpb.PrependDecorators(
				decor.Name("processed files: ", decor.WC{W: len("processed files: "), C: decor.DindentRight}),
				decor.Name("", decor.WCSyncSpaceR),
				decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
			),
			mpb.AppendDecorators(
				decor.Name("ETA: ", decor.WC{W: len("ETA: ")}),
				decor.EwmaETA(decor.ET_STYLE_GO, 10),
				decor.OnComplete(decor.Name(""), ". done"),
			),
		)

		chDuration = make(chan time.Duration, opt.MaxFileConc)
		doneDuration = make(chan int)
		go func() {
			for t := range chDuration {
				bar.EwmaIncrBy(1, t)
			}
			doneDuration <- 1
		}()
	}

	tokens := make(chan int, opt.MaxFileConc)
	var wg sync.WaitGroup
	for i, file := range files {
		tokens <- 1
		wg.Add(1)
		go func(i int, file string) {
			defer func() {
				wg.Done()
				<-tokens
			}()

			outcomes[i] = TagFile(ctx, file, ts, opt)

			if showProgress {
				chDuration <- outcomes[i].Elapsed
			}
		}(i, file)
	}
	wg.Wait()

	if showProgress {
		close(chDuration)
		<-doneDuration
		pbs.Wait()
	}

	return outcomes
}

// SuccessfulMetrics returns metrics of successful files.
func SuccessfulMetrics(outcomes []*FileOutcome) []*metrics.Metrics {
	ms := make([]*metrics.Metrics, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Err == nil {
			ms = append(ms, o.Metrics)
		}
	}
	return ms
}
