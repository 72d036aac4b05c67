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

// Package bamio reads and writes BAM files, and edits aux tags of records.
package bamio

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"

	"github.com/biogo/hts/bam"
	"github.com/biogo/hts/sam"
	"github.com/pkg/errors"
)

// BufferSize is size of reading and writing buffer
var BufferSize = 65536

var reTag = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]$`)

// ParseTag checks and converts a two-character aux tag.
func ParseTag(s string) (sam.Tag, error) {
	if !reTag.MatchString(s) {
		return sam.Tag{}, fmt.Errorf("invalid tag: %q, it should match %s", s, reTag.String())
	}
	return sam.NewTag(s), nil
}

// Reader reads records from a BAM file.
type Reader struct {
	file string
	fh   *os.File
	r    *bam.Reader

	n int // records read
}

// Open opens a BAM file.
// threads is the number of decompressing goroutines, 0 for GOMAXPROCS.
func Open(file string, threads int) (*Reader, error) {
	fh, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	r, err := bam.NewReader(bufio.NewReaderSize(fh, BufferSize), threads)
	if err != nil {
		fh.Close()
		return nil, errors.Wrapf(err, "read bam: %s", file)
	}
	return &Reader{file: file, fh: fh, r: r}, nil
}

// File returns the file path.
func (r *Reader) File() string { return r.file }

// Header returns the BAM header.
func (r *Reader) Header() *sam.Header { return r.r.Header() }

// Read returns the next record, or io.EOF.
func (r *Reader) Read() (*sam.Record, error) {
	rec, err := r.r.Read()
	if err != nil {
		if err == io.EOF {
			return nil, err
		}
		return nil, errors.Wrapf(err, "read record #%d of %s", r.n+1, r.file)
	}
	r.n++
	return rec, nil
}

// NextSeq returns the sequence of the next record, or io.EOF.
func (r *Reader) NextSeq() ([]byte, error) {
	rec, err := r.Read()
	if err != nil {
		return nil, err
	}
	return Seq(rec), nil
}

// Close closes the reader and the file.
func (r *Reader) Close() error {
	err := r.r.Close()
	if err2 := r.fh.Close(); err == nil {
		err = err2
	}
	return err
}

// Writer writes records to a BAM file.
type Writer struct {
	file string
	fh   *os.File
	bw   *bufio.Writer
	w    *bam.Writer
}

// Create creates a BAM file.
// threads is the number of compressing goroutines, 0 for GOMAXPROCS.
func Create(file string, h *sam.Header, threads int) (*Writer, error) {
	fh, err := os.Create(file)
	if err != nil {
		return nil, err
	}
	bw := bufio.NewWriterSize(fh, BufferSize)
	w, err := bam.NewWriter(bw, h, threads)
	if err != nil {
		fh.Close()
		return nil, errors.Wrapf(err, "write bam: %s", file)
	}
	return &Writer{file: file, fh: fh, bw: bw, w: w}, nil
}

// File returns the file path.
func (w *Writer) File() string { return w.file }

// Write writes a record.
func (w *Writer) Write(rec *sam.Record) error {
	return w.w.Write(rec)
}

// Close flushes all data and closes the file.
func (w *Writer) Close() error {
	err := w.w.Close()
	if err2 := w.bw.Flush(); err == nil {
		err = err2
	}
	if err2 := w.fh.Close(); err == nil {
		err = err2
	}
	return err
}

// Seq returns the upper-case sequence of a record, nil for records without sequence.
func Seq(rec *sam.Record) []byte {
	if rec.Seq.Length == 0 {
		return nil
	}
	return rec.Seq.Expand()
}

// SetTag sets a string aux field, an existing one with the same tag is replaced.
func SetTag(rec *sam.Record, tag sam.Tag, value string) error {
	aux, err := sam.NewAux(tag, value)
	if err != nil {
		return err
	}
	for i, a := range rec.AuxFields {
		if a.Tag() == tag {
			rec.AuxFields[i] = aux
			return nil
		}
	}
	rec.AuxFields = append(rec.AuxFields, aux)
	return nil
}

// GetTag returns the value of a string aux field.
func GetTag(rec *sam.Record, tag sam.Tag) (string, bool) {
	for _, a := range rec.AuxFields {
		if a.Tag() != tag {
			continue
		}
		v, ok := a.Value().(string)
		return v, ok
	}
	return "", false
}

// OutputHeader clones a header for the tagged output, and adds a @PG line.
// A clash with an existing program ID is returned as an error
// together with the usable header.
func OutputHeader(h *sam.Header, name, version, cmdline string) (*sam.Header, error) {
	oh := h.Clone()
	var prev string
	if progs := oh.Progs(); len(progs) > 0 {
		prev = progs[len(progs)-1].UID()
	}
	err := oh.AddProgram(sam.NewProgram(name, name, cmdline, prev, version))
	return oh, err
}

// NewUnmappedRecord creates an unmapped record, which is useful for tests and fixtures.
// An empty seq gives a record without stored sequence.
func NewUnmappedRecord(name string, seq []byte) (*sam.Record, error) {
	if len(seq) == 0 {
		return &sam.Record{
			Name:    name,
			Pos:     -1,
			MatePos: -1,
			MapQ:    255,
			Flags:   sam.Unmapped,
		}, nil
	}
	qual := make([]byte, len(seq))
	for i := range qual {
		qual[i] = 30
	}
	rec, err := sam.NewRecord(name, nil, nil, -1, -1, 0, 255, nil, seq, qual, nil)
	if err != nil {
		return nil, err
	}
	rec.Flags |= sam.Unmapped
	return rec, nil
}
