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

// Package target loads the whitelist of target sequences.
//
// A whitelist is a plain or compressed text file. Each non-blank line is
// either a single sequence, or a name followed by one or more sequences,
// separated by white space. Lines starting with "#" are comments.
// The order of sequences defines the target ordinal IDs.
package target

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/shenwei356/bio/seq"
	"github.com/shenwei356/xopen"
)

// ErrEmptyWhitelist means no target sequence was found in the whitelist.
var ErrEmptyWhitelist = errors.New("target: no target sequences in whitelist")

// ErrInvalidSequence means a target sequence contains invalid letters.
var ErrInvalidSequence = errors.New("target: invalid target sequence")

// MaxLineSize is the maximum length of a whitelist line.
var MaxLineSize = 1 << 20

// Target is a known short sequence to search for.
type Target struct {
	ID   int    // ordinal position in the whitelist, starting from 0
	Name string // value written to the output tag
	Seq  []byte // upper-case bases
}

// Len returns the length of the target sequence.
func (t *Target) Len() int { return len(t.Seq) }

func (t *Target) String() string {
	return fmt.Sprintf("%d:%s:%s", t.ID, t.Name, t.Seq)
}

// Set is an immutable list of targets.
type Set struct {
	targets []*Target

	minLen int
	maxLen int
}

// Targets returns all targets in ordinal order.
// The returned slice must not be modified.
func (s *Set) Targets() []*Target { return s.targets }

// Len returns the number of targets.
func (s *Set) Len() int { return len(s.targets) }

// Get returns the target with the given ordinal ID.
func (s *Set) Get(id int) *Target { return s.targets[id] }

// MinLen returns the length of the shortest target.
func (s *Set) MinLen() int { return s.minLen }

// MaxLen returns the length of the longest target.
func (s *Set) MaxLen() int { return s.maxLen }

// Names returns the distinct target names in order of first appearance.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.targets))
	m := make(map[string]struct{}, len(s.targets))
	var ok bool
	for _, t := range s.targets {
		if _, ok = m[t.Name]; ok {
			continue
		}
		m[t.Name] = struct{}{}
		names = append(names, t.Name)
	}
	return names
}

// Duplicates returns pairs of target IDs sharing the same sequence.
func (s *Set) Duplicates() [][2]int {
	var dups [][2]int
	m := make(map[string]int, len(s.targets))
	var first int
	var ok bool
	for _, t := range s.targets {
		if first, ok = m[string(t.Seq)]; ok {
			dups = append(dups, [2]int{first, t.ID})
			continue
		}
		m[string(t.Seq)] = t.ID
	}
	return dups
}

func (s *Set) add(name string, sequence []byte) error {
	sequence = bytes.ToUpper(sequence)
	if err := checkSeq(sequence); err != nil {
		return err
	}

	t := &Target{
		ID:   len(s.targets),
		Name: name,
		Seq:  sequence,
	}
	s.targets = append(s.targets, t)

	if len(s.targets) == 1 || t.Len() < s.minLen {
		s.minLen = t.Len()
	}
	if t.Len() > s.maxLen {
		s.maxLen = t.Len()
	}
	return nil
}

func checkSeq(s []byte) error {
	if len(s) == 0 {
		return ErrInvalidSequence
	}
	for _, b := range s {
		switch b {
		case '-', '.', ' ':
			return fmt.Errorf("%w: gap letter '%c' in %s", ErrInvalidSequence, b, s)
		}
	}
	if err := seq.DNAredundant.IsValid(s); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidSequence, err)
	}
	return nil
}

// NewSet creates a Set from sequences, each sequence being its own name.
func NewSet(seqs ...string) (*Set, error) {
	s := &Set{targets: make([]*Target, 0, len(seqs))}
	for _, _s := range seqs {
		if err := s.add(_s, []byte(_s)); err != nil {
			return nil, err
		}
	}
	if len(s.targets) == 0 {
		return nil, ErrEmptyWhitelist
	}
	return s, nil
}

// Read parses a whitelist from a reader.
func Read(r io.Reader) (*Set, error) {
	s := &Set{targets: make([]*Target, 0, 128)}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), MaxLineSize)

	var line []byte
	var fields [][]byte
	var name string
	var lineNo int
	for scanner.Scan() {
		lineNo++
		line = bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}

		fields = bytes.Fields(line)
		if len(fields) == 1 {
			// the sequence is its own name
			if err := s.add(string(bytes.ToUpper(fields[0])), append([]byte{}, fields[0]...)); err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			continue
		}

		name = string(fields[0])
		for _, f := range fields[1:] {
			if err := s.add(name, append([]byte{}, f...)); err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if len(s.targets) == 0 {
		return nil, ErrEmptyWhitelist
	}
	return s, nil
}

// Load reads a whitelist file, which could be compressed.
func Load(file string) (*Set, error) {
	fh, err := xopen.Ropen(file)
	if err != nil {
		if err == xopen.ErrNoContent {
			return nil, fmt.Errorf("%s: %w", file, ErrEmptyWhitelist)
		}
		return nil, err
	}

	s, err := Read(fh)
	if err != nil {
		fh.Close()
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	return s, fh.Close()
}
