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
	"os/signal"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/scalebio/SeqTagFinder/seqtagfinder/bamio"
	"github.com/scalebio/SeqTagFinder/seqtagfinder/match"
	"github.com/scalebio/SeqTagFinder/seqtagfinder/metrics"
	"github.com/scalebio/SeqTagFinder/seqtagfinder/target"
	"github.com/shenwei356/util/pathutil"
	"github.com/spf13/cobra"
)

var tagCmd = &cobra.Command{
	Use:   "tag",
	Short: "Find whitelist sequences in reads and tag BAM records",
	Long: `Find whitelist sequences in reads and tag BAM records

Input:
  1. BAM files can be given via positional arguments or the flag -X/--infile-list
     with the list of input files,
  2. Or a directory containing BAM files via the flag -I/--in-dir,
     with multiple-level sub-directories allowed. A regular expression
     for matching BAM files is available via the flag -r/--file-regexp.
  3. A whitelist file (-w/--whitelist), one target per line:
       SEQUENCE
       NAME  SEQUENCE [SEQUENCE ...]
     Lines starting with "#" are ignored. The name is used as the tag value.

Steps for each BAM file:
  1. The first -n/--num-reads reads are scanned for every target, and the
     expected start position (anchor) of a target is the mean of the leftmost
     positions where it matches with at most one mismatch.
  2. Every read is searched around the anchors (+-T/--tolerance), and the
     best match is chosen by: fewer mismatches, the earlier target in the
     whitelist, closer to the anchor, then the leftmost position.
     Targets never found in step 1 are handled according to --no-anchor:
       scan: search the whole read.
       skip: never tag reads with them.
  3. Records are written in the input order, with the name of the matched
     target in the tag -t/--tag. An existing tag with the same name is replaced.

Output (in -O/--out-dir):
  <name>.tagged.bam      tagged BAM files
  <name>.metrics.json    metrics of each file
  metrics.json           metrics of all successful files
  run.toml               parameters and the status of each file

  A failed file leaves no output, and other files are still processed.
  The exit status is 1 if any file failed.

`,
	Run: func(cmd *cobra.Command, args []string) {
		opt := getOptions(cmd)

		var fhLog *os.File
		if opt.Log2File {
			fhLog = addLog(opt.LogFile, opt.Verbose)
		}
		verbose := opt.Verbose || opt.Log2File
		timeStart := time.Now()
		var failed int
		defer func() {
			if verbose {
				log.Info()
				log.Infof("elapsed time: %s", time.Since(timeStart))
				log.Info()
			}
			if opt.Log2File {
				fhLog.Close()
			}
			if failed > 0 {
				os.Exit(1)
			}
		}()

		// ---------------------------------------------------------------
		// basic flags

		whitelist := getFlagString(cmd, "whitelist")
		if whitelist == "" {
			checkError(fmt.Errorf("flag -w/--whitelist needed"))
		}
		whitelist = expandPath(whitelist)

		outDir := getFlagString(cmd, "out-dir")
		if outDir == "" {
			checkError(fmt.Errorf("flag -O/--out-dir is needed"))
		}
		outDir = filepath.Clean(expandPath(outDir))
		force := getFlagBool(cmd, "force")

		tag, err := bamio.ParseTag(getFlagString(cmd, "tag"))
		checkError(errors.Wrap(err, "flag -t/--tag"))

		noAnchor, err := match.ParsePolicy(getFlagString(cmd, "no-anchor"))
		checkError(errors.Wrap(err, "flag --no-anchor"))

		topt := &TaggingOptions{
			NumCPUs:  opt.NumCPUs,
			Verbose:  opt.Verbose,
			Log2File: opt.Log2File,

			OutDir:  outDir,
			CmdLine: strings.Join(os.Args, " "),

			NumReads: getFlagNonNegativeInt(cmd, "num-reads"),

			Tag:       tag,
			Tolerance: getFlagNonNegativeInt(cmd, "tolerance"),
			NoAnchor:  noAnchor,

			BatchSize:   getFlagPositiveInt(cmd, "batch-size"),
			BufferSize:  getFlagPositiveInt(cmd, "buffer-size"),
			Workers:     getFlagNonNegativeInt(cmd, "workers"),
			MaxFileConc: getFlagPositiveInt(cmd, "max-file-conc"),
		}
		checkError(CheckTaggingOptions(topt))

		// ---------------------------------------------------------------
		// input files

		if verbose {
			log.Infof("SeqTagFinder v%s", VERSION)
			log.Info()
			log.Info("checking input files ...")
		}

		files := getInputFiles(cmd, args, opt)
		for _, file := range files {
			if isStdin(file) {
				checkError(fmt.Errorf("no BAM files given, stdin is not supported as files are read twice"))
			}
			inside, err := isInDir(outDir, file)
			checkError(err)
			if inside {
				checkError(fmt.Errorf("input file should not be in the output directory: %s", file))
			}
		}
		if len(files) < 1 {
			checkError(fmt.Errorf("BAM files needed"))
		} else if verbose {
			log.Infof("  %d input file(s) given", len(files))
		}
		checkError(CheckOutputFiles(outDir, files))

		ts, err := target.Load(whitelist)
		checkError(errors.Wrap(err, whitelist))
		if verbose {
			log.Infof("  %d target sequence(s) with %d distinct name(s) loaded from %s, length range: [%d, %d]",
				ts.Len(), len(ts.Names()), whitelist, ts.MinLen(), ts.MaxLen())
		}
		for _, d := range ts.Duplicates() {
			log.Warningf("  duplicated target sequence: %s and %s, the former always wins",
				ts.Get(d[0]), ts.Get(d[1]))
		}

		// ---------------------------------------------------------------
		// log

		if verbose {
			log.Info()
			log.Infof("-------------------- [main parameters] --------------------")
			log.Info()
			log.Info("input and output:")
			log.Infof("  whitelist: %s", whitelist)
			log.Infof("  output directory: %s", outDir)
			log.Infof("  output tag: %s", tag)
			log.Info()
			log.Info("position estimation:")
			log.Infof("  number of reads: %d", topt.NumReads)
			log.Info()
			log.Info("matching:")
			log.Infof("  tolerance of positions: %d", topt.Tolerance)
			log.Infof("  targets without anchors: %s", topt.NoAnchor)
			log.Info()
			log.Info("pipeline:")
			log.Infof("  batch size: %d", topt.BatchSize)
			log.Infof("  buffer size: %d", topt.BufferSize)
			log.Infof("  workers per file: %d", topt.Workers)
			log.Infof("  files processed simultaneously: %d", topt.MaxFileConc)
			log.Info()
			log.Infof("-------------------- [main parameters] --------------------")
			log.Info()
			log.Infof("tagging reads ...")
		}

		// ---------------------------------------------------------------

		makeOutDir(outDir, force, "output directory", verbose)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		outcomes := TagFiles(ctx, files, ts, topt)

		for _, o := range outcomes {
			if o.Err != nil {
				failed++
				log.Errorf("%s: %s", o.File, o.Err)
				continue
			}
			if verbose {
				logOutcome(o)
			}
		}

		// ---------------------------------------------------------------
		// summary

		if err = metrics.WriteFile(filepath.Join(outDir, FileMetrics), SuccessfulMetrics(outcomes)...); err != nil {
			checkError(errors.Wrap(err, "writing metrics"))
		}

		info := NewRunInfo(whitelist, ts.Len(), topt, outcomes)
		info.StartTime = timeStart
		info.Elapsed = time.Since(timeStart).String()
		checkError(WriteRunInfo(filepath.Join(outDir, FileRunInfo), info))

		if verbose {
			log.Info()
			log.Infof("%d/%d file(s) tagged, output directory: %s", len(files)-failed, len(files), outDir)
		}
	},
}

func getInputFiles(cmd *cobra.Command, args []string, opt *Options) []string {
	inDir := getFlagString(cmd, "in-dir")
	if inDir == "" {
		return getFileListFromArgsAndFile(cmd, args, true, "infile-list", true)
	}
	inDir = expandPath(inDir)

	isDir, err := pathutil.IsDir(inDir)
	if err != nil {
		checkError(errors.Wrapf(err, "checking -I/--in-dir"))
	}
	if !isDir {
		checkError(fmt.Errorf("value of -I/--in-dir should be a directory: %s", inDir))
	}

	reFileStr := getFlagString(cmd, "file-regexp")
	if !reIgnoreCase.MatchString(reFileStr) {
		reFileStr = reIgnoreCaseStr + reFileStr
	}
	reFile, err := regexp.Compile(reFileStr)
	checkError(errors.Wrapf(err, "failed to parse regular expression for matching file: %s", reFileStr))

	files, err := getFileListFromDir(inDir, reFile, opt.NumCPUs)
	if err != nil {
		checkError(errors.Wrapf(err, "walking dir: %s", inDir))
	}
	if len(files) == 0 {
		log.Warningf("  no files matching regular expression: %s", reFileStr)
	}
	return files
}

func logOutcome(o *FileOutcome) {
	m := o.Metrics
	log.Infof("%s: %d reads, %d tagged (%.2f%%, exact: %d, one mismatch: %d), untagged: %d, skipped: %d",
		o.File, m.TotalReads, m.Tagged(), percent(m.Tagged(), m.TotalReads),
		m.Exact, m.Mismatch, m.Untagged, m.Skipped)

	var anchored int
	for _, tm := range m.Targets {
		if tm.AnchorConfident {
			anchored++
		}
	}
	var speed float64
	if o.Elapsed > 0 {
		speed = float64(m.TotalReads) / o.Elapsed.Minutes()
	}
	log.Infof("  %d/%d targets anchored from %d reads, elapsed time: %s, speed: %.0f reads/minute",
		anchored, len(m.Targets), m.SampledReads, o.Elapsed, speed)
	log.Infof("  saved to: %s", o.Output)
}

func percent(a, b uint64) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b) * 100
}

func init() {
	RootCmd.AddCommand(tagCmd)

	// -----------------------------  input  -----------------------------

	tagCmd.Flags().StringP("whitelist", "w", "",
		formatFlagUsage(`Whitelist file of target sequences, with optional names.`))

	tagCmd.Flags().StringP("infile-list", "X", "",
		formatFlagUsage(`File of input file list (one file per line). If given, they are appended to files from CLI arguments.`))

	tagCmd.Flags().StringP("in-dir", "I", "",
		formatFlagUsage(`Directory containing BAM files. Directory symlinks are followed.`))

	tagCmd.Flags().StringP("file-regexp", "r", `\.bam$`,
		formatFlagUsage(`Regular expression for matching BAM files in -I/--in-dir, case ignored.`))

	// -----------------------------  output  -----------------------------

	tagCmd.Flags().StringP("out-dir", "O", "taggedBams",
		formatFlagUsage(`Output directory.`))

	tagCmd.Flags().BoolP("force", "", false,
		formatFlagUsage(`Overwrite existed output directory.`))

	tagCmd.Flags().StringP("tag", "t", "SP",
		formatFlagUsage(`Two-character tag for the name of the matched target.`))

	// -----------------------------  matching  -----------------------------

	tagCmd.Flags().IntP("num-reads", "n", 100000,
		formatFlagUsage(`Number of reads at the beginning of each file for estimating positions of targets.`))

	tagCmd.Flags().IntP("tolerance", "T", 1,
		formatFlagUsage(`Maximum distance between a match and the estimated position of the target.`))

	tagCmd.Flags().StringP("no-anchor", "", "scan",
		formatFlagUsage(`Search strategy for targets not found in position estimation. Available values: scan, skip.`))

	// -----------------------------  pipeline  -----------------------------

	tagCmd.Flags().IntP("batch-size", "b", 100,
		formatFlagUsage(`Number of records in a batch.`))

	tagCmd.Flags().IntP("buffer-size", "B", 10,
		formatFlagUsage(`Maximum number of batches waiting in each queue.`))

	tagCmd.Flags().IntP("workers", "W", 0,
		formatFlagUsage(`Number of match workers for each file. 0 for -j/--threads divided by -J/--max-file-conc.`))

	tagCmd.Flags().IntP("max-file-conc", "J", 1,
		formatFlagUsage(`Maximum number of files processed simultaneously.`))

	tagCmd.SetUsageTemplate(usageTemplate("-w <whitelist> [-O <out dir>] <bam> [<bam> ...]"))
}
