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

// Package olc implements an optimistic lock coupling cell, a concurrency
// primitive for tree-like data structures traversed with lock coupling.
//
// Consider a concurrent index structure such as a Bw-tree, an ART, or a
// split-ordered list.  Classic lock coupling takes a reader-writer lock on
// each node as the traversal descends, which means every traversal, even a
// pure read, dirties the cache line of every node it touches.  Under any
// real fan-in near the root that turns into a coherence storm, and the
// "clever" lock-free structure ends up slower than a single brainless
// Mutex.  The intermediate form implemented here keeps reads entirely
// passive: a reader loads a version word, reads the node, and then loads
// the version word again.  If the two observations agree, the read was as
// good as one taken under a lock; if they disagree, the reader throws the
// observation away and retries.  Only writers ever perform an atomic
// read-modify-write, so contention collapses to the write path.
//
// # State word
//
// Each Lock guards one value and one 64-bit state word:
//
//	|63                        2|  1   |    0     |
//	 \         version         / \lock/ \outdated/
//
// Bit 0 is the outdated flag, set by the enclosing container just before it
// unlinks the cell; once set it never clears.  Bit 1 is the write lock.
// The remaining 62 bits are a version counter that advances exactly once
// per committed write.  A writer acquires by compare-and-swapping the lock
// bit on, and commits by adding 0b10: the add clears the lock bit and, in
// combination with the acquire, leaves the version one higher.  Packing all
// three channels into one word means a single atomic load tells a reader
// everything it needs to classify the cell.
//
// A separate poison flag records a writer that failed before releasing.  A
// poisoned cell refuses every subsequent operation; the value is presumed
// corrupt.
//
// # Failure and retry
//
// No operation on a Lock ever waits.  Readers and writers that lose a race
// fail immediately with one of four errors, split into two classes:
//
//	ErrBlocked         transient   a writer holds the lock right now
//	ErrVersionUpdated  transient   the word moved between snapshot and use
//	ErrOutdated        permanent   the cell was detached by its container
//	ErrPoisoned        permanent   a writer died holding the lock
//
// Transient errors are resolved by retrying; ReadTxn packages the retry
// loop.  Permanent errors are terminal for the cell and the caller must
// fall back to whatever its container provides, typically re-traversing
// from the root.
package olc

import (
	"sync/atomic"
)

const outdatedMask uint64 = 0b01
const lockedMask uint64 = 0b10
const versionShift = 2

// lockIncrement flips the lock bit.  Added once at acquire and once at
// release, the carry advances the version field by exactly one.
const lockIncrement uint64 = 0b10

func isLocked(state uint64) bool {
	return state&lockedMask != 0
}

func isOutdated(state uint64) bool {
	return state&outdatedMask != 0
}

func stateVersion(state uint64) uint64 {
	return state >> versionShift
}

// Lock owns a single value of type T and mediates concurrent access to it.
// Reads are optimistic: they take no lock, dirty no shared cache line, and
// validate afterwards against the state word.  Writes are pessimistic and
// exclusive.  The zero value of Lock is ready to use and holds the zero
// value of T at version 0.
//
// A Lock may be shared freely between goroutines.  The guards it hands out
// may not; see ReadGuard and WriteGuard.
type Lock[T any] struct {
	state    uint64 // version | lock bit | outdated bit, accessed atomically
	poisoned uint32 // accessed atomically
	data     T
}

// New returns a Lock holding data, at version 0, unlocked, not outdated and
// not poisoned.
func New[T any](data T) *Lock[T] {
	return &Lock[T]{data: data}
}

// tryLock classifies the cell and returns the current state word.  It is a
// pure observation: no store, no read-modify-write.
func (l *Lock[T]) tryLock() (uint64, error) {
	if l.IsPoisoned() {
		return 0, ErrPoisoned
	}
	state := atomic.LoadUint64(&l.state)
	if isOutdated(state) {
		return 0, ErrOutdated
	}
	if isLocked(state) {
		return 0, ErrBlocked
	}
	return state, nil
}

// Read returns a ReadGuard carrying a snapshot of the state word, or fails
// with ErrPoisoned, ErrOutdated or ErrBlocked.  Read performs no atomic
// read-modify-write, so any number of readers may acquire concurrently,
// and concurrent readers observe identical snapshots.
//
// The observation made through the guard is unverified until TrySync
// succeeds.  Callers that want the acquire/read/validate/retry dance
// handled for them should use ReadTxn instead.
func (l *Lock[T]) Read() (ReadGuard[T], error) {
	snapshot, err := l.tryLock()
	if err != nil {
		return ReadGuard[T]{}, err
	}
	return ReadGuard[T]{lock: l, snapshot: snapshot}, nil
}

// Write acquires exclusive write access.  It takes a clean snapshot via the
// same classification Read uses, then compare-and-swaps the lock bit on.
// If the word moved between snapshot and swap (another writer won the race,
// or the cell was outdated), Write fails with ErrVersionUpdated; writers are
// not queued and the caller retries at its own discretion.
//
// Every returned guard must be released: call Unlock on the success path
// and arrange for Release to run on unwinding, or use Update which does
// both.
func (l *Lock[T]) Write() (*WriteGuard[T], error) {
	snapshot, err := l.tryLock()
	if err != nil {
		return nil, err
	}
	if !atomic.CompareAndSwapUint64(&l.state, snapshot, snapshot+lockIncrement) {
		return nil, ErrVersionUpdated
	}
	return &WriteGuard[T]{lock: l}, nil
}

// MakeOutdated sets the outdated bit.  The bit is sticky: it survives every
// later transition of the word, and every subsequent Read, Write and
// TrySync fails with ErrOutdated (or ErrPoisoned, which is checked first,
// if the cell is also poisoned).  Idempotent, infallible, and safe to call
// concurrently with readers and writers.
//
// Containers call this just before unlinking the cell so that in-flight
// readers fail validation instead of trusting a node that is no longer
// reachable.
//
// MakeOutdated does not touch the lock bit.  If a writer holds the lock
// when the bit is set, its release still commits normally (version
// advanced, lock bit cleared), but the committed value is unreachable:
// everything after the release sees ErrOutdated.  Callers coordinating
// outdating with their own writers should sequence the two.
func (l *Lock[T]) MakeOutdated() {
	for {
		state := atomic.LoadUint64(&l.state)
		if isOutdated(state) {
			return
		}
		if atomic.CompareAndSwapUint64(&l.state, state, state|outdatedMask) {
			return
		}
	}
}

// IsPoisoned reports whether a writer failed before releasing.  Poison is
// sticky; once true, every operation on the cell fails with ErrPoisoned.
func (l *Lock[T]) IsPoisoned() bool {
	return atomic.LoadUint32(&l.poisoned) != 0
}

// ReadTxn runs logic inside the read retry envelope: acquire a guard, run
// logic against it, validate, and retry the whole sequence whenever any
// step fails transiently.  Permanent errors, and any error from logic that
// is not transient, are returned as is.
//
// logic may run many times and must be safe to re-execute; it should not
// commit to anything it observed until ReadTxn returns nil.  ReadTxn spins
// without backoff; a caller that wants bounded retry or backoff imposes it
// around the call.
//
// Use the package-level ReadTxn to carry a result value out of the
// transaction.
func (l *Lock[T]) ReadTxn(logic func(*ReadGuard[T]) error) error {
	for {
		guard, err := l.Read()
		if err != nil {
			if IsTransient(err) {
				continue
			}
			return err
		}
		if err := logic(&guard); err != nil {
			if IsTransient(err) {
				continue
			}
			return err
		}
		if err := guard.TrySync(); err != nil {
			if IsTransient(err) {
				continue
			}
			return err
		}
		return nil
	}
}

// ReadTxn is the result-carrying form of Lock.ReadTxn: logic returns a
// value of type R which is handed back to the caller once a run of logic
// has been validated.  Classification and retry behavior are identical.
func ReadTxn[T, R any](l *Lock[T], logic func(*ReadGuard[T]) (R, error)) (R, error) {
	var zero R
	for {
		guard, err := l.Read()
		if err != nil {
			if IsTransient(err) {
				continue
			}
			return zero, err
		}
		r, err := logic(&guard)
		if err != nil {
			if IsTransient(err) {
				continue
			}
			return zero, err
		}
		if err := guard.TrySync(); err != nil {
			if IsTransient(err) {
				continue
			}
			return zero, err
		}
		return r, nil
	}
}

// Update acquires write access, applies fn to the value, and commits.
// Acquisition failures are returned without running fn.  If fn panics the
// cell is poisoned before the panic propagates, exactly as if the caller
// had paired Write with a deferred Release.
func (l *Lock[T]) Update(fn func(*T)) error {
	guard, err := l.Write()
	if err != nil {
		return err
	}
	defer guard.Release()
	fn(guard.Value())
	guard.Unlock()
	return nil
}
