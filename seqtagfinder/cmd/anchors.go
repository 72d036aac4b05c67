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
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/scalebio/SeqTagFinder/seqtagfinder/anchor"
	"github.com/scalebio/SeqTagFinder/seqtagfinder/target"
	"github.com/spf13/cobra"
)

var anchorsCmd = &cobra.Command{
	Use:   "anchors",
	Short: "Estimate positions of whitelist sequences in reads",
	Long: `Estimate positions of whitelist sequences in reads

This command only runs the position estimation step of "seqtagfinder tag",
and reports statistics of the hit positions of every target in every file.

Output format:
  1. file,       input BAM file
  2. target,     target ID (0-based, in the order of the whitelist)
  3. name,       target name
  4. anchor,     estimated start position (rounded mean of hit positions)
  5. samples,    number of sampled reads containing the target
  6. confident,  yes if samples > 0, otherwise the anchor is unknown
  7. mean,       mean of hit positions
  8. stdev,      standard deviation of hit positions
  9. median,     median of hit positions
  10. min,       minimum hit position
  11. max,       maximum hit position

Histograms of hit positions can be plotted with the flag --plot-dir.

`,
	Run: func(cmd *cobra.Command, args []string) {
		opt := getOptions(cmd)

		var fhLog *os.File
		if opt.Log2File {
			fhLog = addLog(opt.LogFile, opt.Verbose)
		}
		verbose := opt.Verbose || opt.Log2File
		timeStart := time.Now()
		defer func() {
			if verbose {
				log.Info()
				log.Infof("elapsed time: %s", time.Since(timeStart))
				log.Info()
			}
			if opt.Log2File {
				fhLog.Close()
			}
		}()

		// ---------------------------------------------------------------

		whitelist := getFlagString(cmd, "whitelist")
		if whitelist == "" {
			checkError(fmt.Errorf("flag -w/--whitelist needed"))
		}
		whitelist = expandPath(whitelist)

		numReads := getFlagNonNegativeInt(cmd, "num-reads")
		maxFileConc := getFlagPositiveInt(cmd, "max-file-conc")
		outFile := getFlagString(cmd, "out-file")
		plotDir := getFlagString(cmd, "plot-dir")
		plotExt := getFlagString(cmd, "plot-ext")
		if plotDir != "" {
			plotDir = expandPath(plotDir)
			if !strings.HasPrefix(plotExt, ".") {
				plotExt = "." + plotExt
			}
			makeOutDir(plotDir, getFlagBool(cmd, "force"), "plot directory", verbose)
		}

		files := getInputFiles(cmd, args, opt)
		for _, file := range files {
			if isStdin(file) {
				checkError(fmt.Errorf("no BAM files given, stdin is not supported"))
			}
		}
		if len(files) < 1 {
			checkError(fmt.Errorf("BAM files needed"))
		}

		ts, err := target.Load(whitelist)
		checkError(errors.Wrap(err, whitelist))

		if verbose {
			log.Infof("estimating positions of %d target(s) from the first %d reads of %d file(s) ...",
				ts.Len(), numReads, len(files))
		}

		// ---------------------------------------------------------------

		threads := opt.NumCPUs / maxFileConc
		if threads < 1 {
			threads = 1
		}

		tables := make([]*anchor.Table, len(files))
		errs := make([]error, len(files))
		tokens := make(chan int, maxFileConc)
		var wg sync.WaitGroup
		for i, file := range files {
			tokens <- 1
			wg.Add(1)
			go func(i int, file string) {
				defer func() {
					wg.Done()
					<-tokens
				}()
				tables[i], errs[i] = EstimateAnchors(file, ts, numReads, threads)
			}(i, file)
		}
		wg.Wait()

		// ---------------------------------------------------------------

		outfh, gw, w, err := outStream(outFile, strings.HasSuffix(outFile, ".gz"), opt.CompressionLevel)
		checkError(err)
		defer func() {
			outfh.Flush()
			if gw != nil {
				gw.Close()
			}
			w.Close()
		}()

		outfh.WriteString("file\ttarget\tname\tanchor\tsamples\tconfident\tmean\tstdev\tmedian\tmin\tmax\n")
		var nFailed int
		var a *anchor.Anchor
		var s anchor.Stats
		var confident string
		for i, file := range files {
			if errs[i] != nil {
				nFailed++
				log.Errorf("%s: %s", file, errs[i])
				continue
			}
			name, _, _ := filepathTrimExtension(filepath.Base(file), nil)

			for _, t := range ts.Targets() {
				a = tables[i].Get(t.ID)
				s = a.Stats()
				confident = "no"
				if a.Confident {
					confident = "yes"
				}
				fmt.Fprintf(outfh, "%s\t%d\t%s\t%d\t%d\t%s\t%.2f\t%.2f\t%.1f\t%d\t%d\n",
					file, t.ID, t.Name, a.Offset, a.Samples, confident,
					s.Mean, s.Stdev, s.Median, s.Min, s.Max)

				if plotDir == "" || !a.Confident {
					continue
				}
				plotFile := filepath.Join(plotDir, fmt.Sprintf("%s.target%d%s", name, t.ID, plotExt))
				title := fmt.Sprintf("%s: %s", filepath.Base(file), t.Name)
				if err = a.PlotHistogram(plotFile, title); err != nil {
					log.Warningf("%s: failed to plot target #%d: %s", file, t.ID, err)
				}
			}
		}

		if nFailed > 0 {
			outfh.Flush()
			checkError(fmt.Errorf("%d file(s) failed", nFailed))
		}
	},
}

func init() {
	RootCmd.AddCommand(anchorsCmd)

	anchorsCmd.Flags().StringP("whitelist", "w", "",
		formatFlagUsage(`Whitelist file of target sequences, with optional names.`))

	anchorsCmd.Flags().StringP("infile-list", "X", "",
		formatFlagUsage(`File of input file list (one file per line). If given, they are appended to files from CLI arguments.`))

	anchorsCmd.Flags().StringP("in-dir", "I", "",
		formatFlagUsage(`Directory containing BAM files. Directory symlinks are followed.`))

	anchorsCmd.Flags().StringP("file-regexp", "r", `\.bam$`,
		formatFlagUsage(`Regular expression for matching BAM files in -I/--in-dir, case ignored.`))

	anchorsCmd.Flags().IntP("num-reads", "n", 100000,
		formatFlagUsage(`Number of reads at the beginning of each file for estimating positions of targets.`))

	anchorsCmd.Flags().IntP("max-file-conc", "J", 1,
		formatFlagUsage(`Maximum number of files processed simultaneously.`))

	anchorsCmd.Flags().StringP("out-file", "o", "-",
		formatFlagUsage(`Out file, supports the ".gz" suffix ("-" for stdout).`))

	anchorsCmd.Flags().StringP("plot-dir", "", "",
		formatFlagUsage(`Directory for histograms of hit positions, one plot per file and target.`))

	anchorsCmd.Flags().StringP("plot-ext", "", ".png",
		formatFlagUsage(`Image format of plots, supported formats: png, pdf, svg, jpg.`))

	anchorsCmd.Flags().BoolP("force", "", false,
		formatFlagUsage(`Overwrite existed plot directory.`))

	anchorsCmd.SetUsageTemplate(usageTemplate("-w <whitelist> <bam> [<bam> ...] [-o anchors.tsv.gz]"))
}
