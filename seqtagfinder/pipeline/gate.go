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

import "sync"

// gate keeps workers from running too far ahead of the writer.
// A batch may only be sent when its index is below next+window,
// where next is the index of the batch the writer expects.
type gate struct {
	mu   sync.Mutex
	cond *sync.Cond

	next    int
	window  int
	aborted bool
}

func newGate(window int) *gate {
	g := &gate{window: window}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// wait blocks until the batch could be sent. It returns false if aborted.
func (g *gate) wait(idx int) bool {
	g.mu.Lock()
	for !g.aborted && idx >= g.next+g.window {
		g.cond.Wait()
	}
	ok := !g.aborted
	g.mu.Unlock()
	return ok
}

func (g *gate) advance(next int) {
	g.mu.Lock()
	g.next = next
	g.mu.Unlock()
	g.cond.Broadcast()
}

func (g *gate) abort() {
	g.mu.Lock()
	g.aborted = true
	g.mu.Unlock()
	g.cond.Broadcast()
}
