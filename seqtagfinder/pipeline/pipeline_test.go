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

package pipeline

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/biogo/hts/sam"
	"github.com/pkg/errors"
	"github.com/scalebio/SeqTagFinder/seqtagfinder/bamio"
	"github.com/scalebio/SeqTagFinder/seqtagfinder/match"
	"github.com/scalebio/SeqTagFinder/seqtagfinder/metrics"
	"github.com/scalebio/SeqTagFinder/seqtagfinder/target"
)

type memSource struct {
	recs []*sam.Record
	i    int

	failAt int
	err    error
}

func (s *memSource) Read() (*sam.Record, error) {
	if s.err != nil && s.i == s.failAt {
		return nil, s.err
	}
	if s.i >= len(s.recs) {
		return nil, io.EOF
	}
	rec := s.recs[s.i]
	s.i++
	return rec, nil
}

type memSink struct {
	recs []*sam.Record

	failAt int
	err    error
}

func (s *memSink) Write(rec *sam.Record) error {
	if s.err != nil && len(s.recs) == s.failAt {
		return s.err
	}
	s.recs = append(s.recs, rec)
	return nil
}

var bases = []byte("ACGT")

// makeReads creates reads of 24 bp, a third of them carry the first
// target at position 5, another third carry the second target with
// one mismatch at position 6.
func makeReads(t *testing.T, n int, ts *target.Set) ([]*sam.Record, [][]byte) {
	r := rand.New(rand.NewSource(11))
	recs := make([]*sam.Record, n)
	seqs := make([][]byte, n)
	for i := 0; i < n; i++ {
		s := make([]byte, 24)
		for j := range s {
			s[j] = bases[r.Intn(4)]
		}
		switch i % 3 {
		case 0:
			copy(s[5:], ts.Get(0).Seq)
		case 1:
			copy(s[6:], ts.Get(1).Seq)
			s[6] = 'N'
		}
		rec, err := bamio.NewUnmappedRecord(fmt.Sprintf("r%05d", i), s)
		if err != nil {
			t.Fatal(err)
		}
		recs[i] = rec
		seqs[i] = s
	}
	return recs, seqs
}

func newTestTagger(t *testing.T) (*target.Set, *match.Tagger) {
	ts, err := target.NewSet("ACGTACGG", "GGTTCATC")
	if err != nil {
		t.Fatal(err)
	}
	tg, err := match.NewTagger(ts, []match.Anchor{{Offset: 5, Confident: true}, {Offset: 5, Confident: true}}, 1, match.Skip)
	if err != nil {
		t.Fatal(err)
	}
	return ts, tg
}

func checkOutput(t *testing.T, tg *match.Tagger, tag sam.Tag, seqs [][]byte, out []*sam.Record, m *metrics.Metrics) {
	if len(out) != len(seqs) {
		t.Fatalf("number of output records: %d, expected: %d", len(out), len(seqs))
	}

	var tagged, untagged uint64
	for i, rec := range out {
		if name := fmt.Sprintf("r%05d", i); rec.Name != name {
			t.Fatalf("record #%d: %s, expected: %s", i, rec.Name, name)
		}

		h, ok := tg.Tag(seqs[i])
		v, found := bamio.GetTag(rec, tag)
		if ok != found {
			t.Fatalf("record %s: tagged: %v, expected: %v", rec.Name, found, ok)
		}
		if !ok {
			untagged++
			continue
		}
		tagged++
		if v != h.Target.Name {
			t.Errorf("record %s: tag value: %s, expected: %s", rec.Name, v, h.Target.Name)
		}
	}

	if m.TotalReads != uint64(len(seqs)) {
		t.Errorf("total reads: %d, expected: %d", m.TotalReads, len(seqs))
	}
	if m.Tagged() != tagged || m.Untagged != untagged {
		t.Errorf("tagged/untagged: %d/%d, expected: %d/%d", m.Tagged(), m.Untagged, tagged, untagged)
	}
	if m.Exact+m.Mismatch != tagged {
		t.Errorf("exact (%d) + mismatch (%d) != tagged (%d)", m.Exact, m.Mismatch, tagged)
	}
	if err := m.Check(); err != nil {
		t.Error(err)
	}
}

func TestRun(t *testing.T) {
	ts, tg := newTestTagger(t)
	tag := sam.NewTag("SP")

	for _, n := range []int{0, 1, 99, 100, 1000} {
		for _, batchSize := range []int{1, 7, 100} {
			for _, bufferSize := range []int{1, 2, 10} {
				for _, workers := range []int{1, 4} {
					recs, seqs := makeReads(t, n, ts)
					src := &memSource{recs: recs}
					dst := &memSink{}
					m := metrics.New("test", ts, nil)
					opt := &Options{
						BatchSize:  batchSize,
						BufferSize: bufferSize,
						Workers:    workers,
						Tag:        tag,
					}

					err := Run(context.Background(), src, dst, tg, m, opt)
					if err != nil {
						t.Fatalf("n=%d batch=%d buffer=%d workers=%d: %s", n, batchSize, bufferSize, workers, err)
					}
					checkOutput(t, tg, tag, seqs, dst.recs, m)
				}
			}
		}
	}
}

func TestRunCounts(t *testing.T) {
	ts, tg := newTestTagger(t)
	recs, seqs := makeReads(t, 300, ts)
	dst := &memSink{}
	m := metrics.New("test", ts, nil)

	if err := Run(context.Background(), &memSource{recs: recs}, dst, tg, m, nil); err != nil {
		t.Fatal(err)
	}
	checkOutput(t, tg, sam.NewTag("SP"), seqs, dst.recs, m)

	if m.Targets[0].Exact < 100 {
		t.Errorf("exact matches of target 0: %d, expected >= 100", m.Targets[0].Exact)
	}
	if m.Targets[1].Mismatch < 100 {
		t.Errorf("1-mismatch matches of target 1: %d, expected >= 100", m.Targets[1].Mismatch)
	}
}

func TestRunOutOfOrderWorkers(t *testing.T) {
	ts, tg := newTestTagger(t)
	recs, seqs := makeReads(t, 2000, ts)

	for _, bufferSize := range []int{1, 3, 10} {
		for i := range recs { // records were tagged in the previous round
			recs[i].AuxFields = nil
		}
		dst := &memSink{}
		m := metrics.New("test", ts, nil)
		opt := &Options{BatchSize: 10, BufferSize: bufferSize, Workers: 8, Tag: sam.NewTag("SP")}

		p, err := newPipe(tg, m, opt)
		if err != nil {
			t.Fatal(err)
		}
		p.beforeSend = func(b *Batch) {
			time.Sleep(time.Duration((b.Index*7919)%5) * time.Millisecond)
		}

		if err = p.run(context.Background(), &memSource{recs: recs}, dst); err != nil {
			t.Fatal(err)
		}
		checkOutput(t, tg, opt.Tag, seqs, dst.recs, m)

		if p.written != 200 {
			t.Errorf("written batches: %d, expected: %d", p.written, 200)
		}
		if p.maxPending > bufferSize {
			t.Errorf("max pending batches: %d, should be <= %d", p.maxPending, bufferSize)
		}
	}
}

func TestRunReadError(t *testing.T) {
	ts, tg := newTestTagger(t)
	recs, _ := makeReads(t, 500, ts)
	errBad := errors.New("bad record")
	src := &memSource{recs: recs, failAt: 321, err: errBad}
	dst := &memSink{}
	m := metrics.New("test", ts, nil)

	err := Run(context.Background(), src, dst, tg, m, &Options{BatchSize: 10, BufferSize: 2, Workers: 4})
	if err == nil {
		t.Fatal("error expected")
	}
	if errors.Cause(err) != errBad {
		t.Errorf("unexpected error: %s", err)
	}
	if len(dst.recs) > 321 {
		t.Errorf("records written after the read error: %d", len(dst.recs))
	}
	for i, rec := range dst.recs {
		if name := fmt.Sprintf("r%05d", i); rec.Name != name {
			t.Fatalf("record #%d: %s, expected: %s", i, rec.Name, name)
		}
	}
	if err = m.Finalize(); err != nil { // not finalized by the failed run
		t.Error(err)
	}
}

func TestRunWriteError(t *testing.T) {
	ts, tg := newTestTagger(t)
	recs, _ := makeReads(t, 1000, ts)
	errFull := errors.New("disk full")
	dst := &memSink{failAt: 150, err: errFull}
	m := metrics.New("test", ts, nil)

	err := Run(context.Background(), &memSource{recs: recs}, dst, tg, m, &Options{BatchSize: 7, BufferSize: 3, Workers: 4})
	if err == nil {
		t.Fatal("error expected")
	}
	if errors.Cause(err) != errFull {
		t.Errorf("unexpected error: %s", err)
	}
	if len(dst.recs) != 150 {
		t.Errorf("written records: %d, expected: %d", len(dst.recs), 150)
	}
	if m.TotalReads != 150 {
		t.Errorf("counted reads: %d, expected: %d", m.TotalReads, 150)
	}
}

func TestRunCanceled(t *testing.T) {
	ts, tg := newTestTagger(t)
	recs, _ := makeReads(t, 1000, ts)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Run(ctx, &memSource{recs: recs}, &memSink{}, tg, metrics.New("test", ts, nil), nil)
	if err != context.Canceled {
		t.Errorf("error: %v, expected: %v", err, context.Canceled)
	}
}

// slowSource counts reads made after the pipeline returned.
type slowSource struct {
	src *memSource

	returned atomic.Bool
	late     atomic.Int64
}

func (s *slowSource) Read() (*sam.Record, error) {
	if s.returned.Load() {
		s.late.Add(1)
	}
	time.Sleep(100 * time.Microsecond)
	return s.src.Read()
}

func TestRunStopsReadingAfterError(t *testing.T) {
	ts, tg := newTestTagger(t)
	recs, _ := makeReads(t, 2000, ts)
	errFull := errors.New("disk full")

	for _, opt := range []*Options{
		{BatchSize: 10, BufferSize: 4, Workers: 4},
		{BatchSize: 1, BufferSize: 1, Workers: 1},
	} {
		src := &slowSource{src: &memSource{recs: recs}}
		dst := &memSink{failAt: 0, err: errFull}

		err := Run(context.Background(), src, dst, tg, metrics.New("test", ts, nil), opt)
		src.returned.Store(true)
		if errors.Cause(err) != errFull {
			t.Errorf("unexpected error: %v", err)
		}

		time.Sleep(20 * time.Millisecond)
		if n := src.late.Load(); n != 0 {
			t.Errorf("source read %d times after the pipeline returned", n)
		}
	}
}

func TestRunEmptySequences(t *testing.T) {
	ts, tg := newTestTagger(t)
	recs := make([]*sam.Record, 5)
	for i := range recs {
		rec, err := bamio.NewUnmappedRecord(fmt.Sprintf("r%05d", i), nil)
		if err != nil {
			t.Fatal(err)
		}
		recs[i] = rec
	}
	dst := &memSink{}
	m := metrics.New("test", ts, nil)

	if err := Run(context.Background(), &memSource{recs: recs}, dst, tg, m, nil); err != nil {
		t.Fatal(err)
	}
	if len(dst.recs) != 5 || m.TotalReads != 5 || m.Untagged != 5 || m.Skipped != 0 {
		t.Errorf("unexpected result: %d records, %d reads, %d untagged, %d skipped",
			len(dst.recs), m.TotalReads, m.Untagged, m.Skipped)
	}
}

type endlessSource struct {
	n atomic.Int64
}

func (s *endlessSource) Read() (*sam.Record, error) {
	i := s.n.Add(1)
	return bamio.NewUnmappedRecord(fmt.Sprintf("r%d", i), []byte("ACGTACGT"))
}

func TestReadBatchesBackpressure(t *testing.T) {
	src := &endlessSource{}
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan *Batch, 2)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := readBatches(ctx, src, 3, out); err != nil {
			t.Error(err)
		}
	}()

	time.Sleep(50 * time.Millisecond)
	// two batches in the queue, and a full one waiting to be sent
	if n := src.n.Load(); n > 9 {
		t.Errorf("records read without consumer: %d, should be <= %d", n, 9)
	}

	b := <-out
	if b.Index != 0 || len(b.Reads) != 3 {
		t.Errorf("unexpected first batch: index %d, %d reads", b.Index, len(b.Reads))
	}
	time.Sleep(20 * time.Millisecond)
	if n := src.n.Load(); n > 12 {
		t.Errorf("records read after consuming one batch: %d, should be <= %d", n, 12)
	}

	cancel()
	wg.Wait()
}

func TestCheckOptions(t *testing.T) {
	for _, opt := range []*Options{
		{BatchSize: 0, BufferSize: 1, Workers: 1},
		{BatchSize: 1, BufferSize: 0, Workers: 1},
		{BatchSize: 1, BufferSize: 1, Workers: -1},
	} {
		if err := CheckOptions(opt); err == nil {
			t.Errorf("error expected for options: %+v", opt)
		}
	}
	if err := CheckOptions(DefaultOptions()); err != nil {
		t.Error(err)
	}
}

func TestGate(t *testing.T) {
	g := newGate(2)
	if !g.wait(0) || !g.wait(1) {
		t.Fatal("batches inside of the window should pass")
	}

	passed := make(chan bool)
	go func() { passed <- g.wait(2) }()

	select {
	case <-passed:
		t.Fatal("batch 2 should wait for batch 0")
	case <-time.After(20 * time.Millisecond):
	}

	g.advance(1)
	if ok := <-passed; !ok {
		t.Error("batch 2 should pass after advancing")
	}

	go func() { passed <- g.wait(10) }()
	g.abort()
	if ok := <-passed; ok {
		t.Error("wait should return false after aborting")
	}
}
