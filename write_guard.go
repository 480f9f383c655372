// Copyright 2020 Nathan Taylor (nbtaylor@gmail.com)
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package olc

import (
	"fmt"
	"sync/atomic"
)

// WriteGuard is exclusive access to a Lock's value.  At most one exists
// per cell at any instant; exclusivity is enforced by the acquiring
// compare-and-swap in Lock.Write and holds until Unlock or Release.
//
// A writer has two legitimate endings.  Unlock commits: the version
// advances by one and the lock bit clears, atomically.  Release, run
// deferred, covers the other ending: if control unwinds past the writer
// before Unlock, Release poisons the cell, leaving the lock bit set and
// the version untouched so that no later observer can mistake the
// half-written value for a committed one.  The intended shape is
//
//	g, err := l.Write()
//	if err != nil { ... }
//	defer g.Release()
//	// mutate *g.Value()
//	g.Unlock()
//
// Note that Release poisons on any path where Unlock did not run, panic or
// not; an early return that skips Unlock counts as a failed writer.
type WriteGuard[T any] struct {
	lock     *Lock[T]
	released bool
}

// Value returns the guarded value for reading and mutation.
func (g *WriteGuard[T]) Value() *T {
	return &g.lock.data
}

// Unlock commits the write.  The single atomic add clears the lock bit and
// advances the version field by one; the new word is immediately visible
// to every subsequent observation.  Unlock after the guard has already
// ended is a no-op.
func (g *WriteGuard[T]) Unlock() {
	if g.released {
		return
	}
	g.released = true
	atomic.AddUint64(&g.lock.state, lockIncrement)
}

// Release ends the guard abnormally unless Unlock already ran.  It sets
// the poison flag and leaves the state word alone: the lock bit stays set
// and the version does not advance, so every subsequent Read, Write and
// TrySync on the cell fails with ErrPoisoned.
//
// Release is meant to run deferred, immediately after a successful Write.
func (g *WriteGuard[T]) Release() {
	if g.released {
		return
	}
	g.released = true
	atomic.StoreUint32(&g.lock.poisoned, 1)
}

// String formats the guard as WriteGuard{version: N, data: ...} where N is
// the version field of the current state word.
func (g *WriteGuard[T]) String() string {
	return fmt.Sprintf("WriteGuard{version: %d, data: %v}", stateVersion(atomic.LoadUint64(&g.lock.state)), g.lock.data)
}
