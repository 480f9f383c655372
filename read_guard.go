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

import "fmt"

// ReadGuard is an unvalidated observation of a Lock.  It carries the state
// word snapshotted at acquisition; that snapshot is the sole datum used to
// decide, after the fact, whether anything read through the guard can be
// trusted.
//
// The protocol is: acquire via Lock.Read, read whatever is needed through
// Value, then call TrySync.  Only a nil return from TrySync makes the
// observations meaningful.  A guard discarded without TrySync has no side
// effect on the lock; the caller simply learned nothing.
//
// A ReadGuard is bound to the goroutine that acquired it and must not be
// handed to another one.  It must not be used after TrySync returns.
type ReadGuard[T any] struct {
	lock     *Lock[T]
	snapshot uint64
}

// Value returns the guarded value for reading.  A writer may be mutating
// it concurrently; the bytes observed are only meaningful once TrySync
// succeeds, so anything derived from them must be discarded on validation
// failure.  Callers must not mutate through the returned pointer.
func (g *ReadGuard[T]) Value() *T {
	return &g.lock.data
}

// Version returns the version field of the acquisition snapshot.
func (g *ReadGuard[T]) Version() uint64 {
	return stateVersion(g.snapshot)
}

// TrySync validates the guard, consuming it.  It succeeds only if a fresh
// observation of the state word is byte-identical to the acquisition
// snapshot on the full 64 bits: a writer that committed in between moved
// the version field, a writer in progress shows the lock bit, and an
// outdated cell shows bit 0, so any interference at all fails validation.
//
// On failure TrySync returns ErrVersionUpdated, ErrBlocked, ErrOutdated or
// ErrPoisoned; the first two are resolved by redoing the read from
// Lock.Read, which ReadTxn automates.
func (g *ReadGuard[T]) TrySync() error {
	state, err := g.lock.tryLock()
	if err != nil {
		return err
	}
	if state != g.snapshot {
		return ErrVersionUpdated
	}
	return nil
}

// String formats the guard as ReadGuard{version: N, data: ...} where N is
// the version field of the acquisition snapshot.
func (g *ReadGuard[T]) String() string {
	return fmt.Sprintf("ReadGuard{version: %d, data: %v}", stateVersion(g.snapshot), g.lock.data)
}
