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

// Package pipeline tags records of a file with a reader, a pool of
// match workers and a single writer, connected by bounded channels.
//
// Records are grouped into numbered batches. Workers may finish batches
// out of order, the writer puts them back in order before writing, and
// a worker stalls rather than running more than BufferSize batches ahead
// of the writer. So output records are in the same order as input, and
// at most about (2*BufferSize+Workers)*BatchSize records are in memory.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"sync"

	"github.com/biogo/hts/sam"
	"github.com/pkg/errors"
	"github.com/scalebio/SeqTagFinder/seqtagfinder/bamio"
	"github.com/scalebio/SeqTagFinder/seqtagfinder/match"
	"github.com/scalebio/SeqTagFinder/seqtagfinder/metrics"
	"github.com/shenwei356/go-logging"
)

// ErrAborted means the pipeline stopped before all batches were written.
var ErrAborted = errors.New("pipeline: aborted")

// Source provides records in file order.
type Source interface {
	// Read returns the next record, or io.EOF.
	Read() (*sam.Record, error)
}

// Sink receives records in file order.
type Sink interface {
	Write(*sam.Record) error
}

// Options contains the options of a pipeline.
type Options struct {
	BatchSize  int // records per batch
	BufferSize int // batches held by each queue
	Workers    int // number of match workers, 0 for all CPUs

	Tag sam.Tag // aux tag of the detected target

	Logger *logging.Logger // optional, for warnings of skipped records
}

// DefaultOptions returns the default options.
func DefaultOptions() *Options {
	return &Options{
		BatchSize:  100,
		BufferSize: 10,
		Workers:    runtime.NumCPU(),
		Tag:        sam.NewTag("SP"),
	}
}

// CheckOptions checks the options.
func CheckOptions(opt *Options) error {
	if opt.BatchSize < 1 {
		return fmt.Errorf("invalid batch size: %d, should be >= 1", opt.BatchSize)
	}
	if opt.BufferSize < 1 {
		return fmt.Errorf("invalid buffer size: %d, should be >= 1", opt.BufferSize)
	}
	if opt.Workers < 0 {
		return fmt.Errorf("invalid number of workers: %d, should be >= 0", opt.Workers)
	}
	return nil
}

// Read is a record flowing through the pipeline.
type Read struct {
	Record *sam.Record

	Hit     match.Hit
	Tagged  bool
	Skipped bool // the tag could not be added
}

// Batch is a group of sequential records.
type Batch struct {
	Index int // batch number in the file, starting from 0
	Reads []Read
}

// Run tags all records from src, writes them to dst in the input order,
// and counts them in m. m is finalized only if all records are written.
//
// A read or write error stops the pipeline, in-flight batches are dropped,
// and the error is returned.
func Run(ctx context.Context, src Source, dst Sink, tg *match.Tagger, m *metrics.Metrics, opt *Options) error {
	p, err := newPipe(tg, m, opt)
	if err != nil {
		return err
	}
	return p.run(ctx, src, dst)
}

type pipe struct {
	opt *Options
	tg  *match.Tagger
	m   *metrics.Metrics

	gate *gate

	mu  sync.Mutex
	err error

	// for tests
	beforeSend func(*Batch)
	maxPending int
	written    int
}

func newPipe(tg *match.Tagger, m *metrics.Metrics, opt *Options) (*pipe, error) {
	if opt == nil {
		opt = DefaultOptions()
	}
	if err := CheckOptions(opt); err != nil {
		return nil, err
	}
	_opt := *opt
	if _opt.Workers == 0 {
		_opt.Workers = runtime.NumCPU()
	}
	if _opt.Tag == (sam.Tag{}) {
		_opt.Tag = sam.NewTag("SP")
	}
	return &pipe{
		opt:  &_opt,
		tg:   tg,
		m:    m,
		gate: newGate(_opt.BufferSize),
	}, nil
}

// setErr saves the first error.
func (p *pipe) setErr(err error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return false
	}
	p.err = err
	return true
}

func (p *pipe) firstErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *pipe) run(parent context.Context, src Source, dst Sink) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	fail := func(err error) {
		if p.setErr(err) {
			cancel()
		}
	}
	go func() {
		<-ctx.Done()
		p.gate.abort()
	}()

	chBatches := make(chan *Batch, p.opt.BufferSize)
	chResults := make(chan *Batch, p.opt.BufferSize)

	// 1. reader
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		defer close(chBatches)
		if err := readBatches(ctx, src, p.opt.BatchSize, chBatches); err != nil {
			fail(errors.Wrap(err, "pipeline: read"))
		}
	}()

	// 2. workers
	var wg sync.WaitGroup
	for i := 0; i < p.opt.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.work(ctx, chBatches, chResults)
		}()
	}
	go func() {
		wg.Wait()
		close(chResults)
	}()

	// 3. writer
	if err := p.write(dst, chResults); err != nil {
		fail(err)
	}
	for range chResults { // let blocked workers exit
	}
	// src must not be used after returning
	<-readerDone

	if err := parent.Err(); err != nil {
		return err
	}
	if err := p.firstErr(); err != nil {
		return err
	}
	return p.m.Finalize()
}

// readBatches reads records into batches, it blocks when out is full.
// It stops reading as soon as ctx is done.
func readBatches(ctx context.Context, src Source, size int, out chan<- *Batch) error {
	var idx int
	b := &Batch{Index: idx, Reads: make([]Read, 0, size)}
	for {
		if ctx.Err() != nil {
			return nil
		}
		rec, err := src.Read()
		if err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
		b.Reads = append(b.Reads, Read{Record: rec})
		if len(b.Reads) < size {
			continue
		}

		if ctx.Err() != nil {
			return nil
		}
		select {
		case out <- b:
		case <-ctx.Done():
			return nil
		}
		idx++
		b = &Batch{Index: idx, Reads: make([]Read, 0, size)}
	}

	if len(b.Reads) > 0 {
		select {
		case out <- b:
		case <-ctx.Done():
		}
	}
	return nil
}

func (p *pipe) work(ctx context.Context, in <-chan *Batch, out chan<- *Batch) {
	var b *Batch
	var ok bool
	for {
		select {
		case <-ctx.Done():
			return
		case b, ok = <-in:
			if !ok {
				return
			}
		}

		p.tag(b)

		if p.beforeSend != nil {
			p.beforeSend(b)
		}
		if !p.gate.wait(b.Index) {
			return
		}

		select {
		case out <- b:
		case <-ctx.Done():
			return
		}
	}
}

func (p *pipe) tag(b *Batch) {
	var r *Read
	var err error
	for i := range b.Reads {
		r = &b.Reads[i]
		r.Hit, r.Tagged = p.tg.Tag(bamio.Seq(r.Record))
		if !r.Tagged {
			continue
		}

		if err = bamio.SetTag(r.Record, p.opt.Tag, r.Hit.Target.Name); err != nil {
			r.Tagged = false
			r.Skipped = true
			if p.opt.Logger != nil {
				p.opt.Logger.Warningf("failed to add tag to record %s: %s", r.Record.Name, err)
			}
		}
	}
}

// write puts batches back in order, writes records and counts them.
func (p *pipe) write(dst Sink, in <-chan *Batch) error {
	pending := make(map[int]*Batch, p.opt.BufferSize)
	var next int
	var b *Batch
	var ok bool
	var r *Read
	for _b := range in {
		pending[_b.Index] = _b
		if len(pending) > p.maxPending {
			p.maxPending = len(pending)
		}

		for {
			if b, ok = pending[next]; !ok {
				break
			}
			delete(pending, next)

			for i := range b.Reads {
				r = &b.Reads[i]
				if err := dst.Write(r.Record); err != nil {
					return errors.Wrapf(err, "pipeline: write record %s", r.Record.Name)
				}
				switch {
				case r.Tagged:
					p.m.AddHit(r.Hit)
				case r.Skipped:
					p.m.AddSkipped()
				default:
					p.m.AddUntagged()
				}
			}

			p.written++
			next++
			p.gate.advance(next)
		}
	}

	if len(pending) > 0 {
		return errors.Wrapf(ErrAborted, "%d batches not written", len(pending))
	}
	return nil
}
