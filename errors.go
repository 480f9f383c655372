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

import "errors"

// The four ways an operation on a Lock can fail.  ErrPoisoned and
// ErrOutdated are permanent: the cell will never again hand out a guard.
// ErrBlocked and ErrVersionUpdated are transient: the caller lost a race
// and may simply try again.
var (
	// ErrPoisoned means a writer failed before releasing the lock.  The
	// value is presumed corrupt.
	ErrPoisoned = errors.New("olc: poisoned, a writer failed before releasing")

	// ErrOutdated means the cell has been logically detached by its
	// container via MakeOutdated.
	ErrOutdated = errors.New("olc: outdated, cell detached by its container")

	// ErrBlocked means a writer held the lock at the moment of
	// observation.
	ErrBlocked = errors.New("olc: blocked by a concurrent writer")

	// ErrVersionUpdated means the state word moved between snapshot and
	// use: at validation, or during a writer's acquiring compare-and-swap.
	ErrVersionUpdated = errors.New("olc: version updated since snapshot")
)

// IsTransient reports whether err resolves by retrying the whole
// operation.  The classification is fixed: exactly ErrBlocked and
// ErrVersionUpdated, matched through errors.Is, are transient.
func IsTransient(err error) bool {
	return errors.Is(err, ErrBlocked) || errors.Is(err, ErrVersionUpdated)
}

// IsPermanent reports whether err is terminal for the cell that returned
// it.  Callers seeing a permanent error must fall back to their container:
// re-traverse from the root, report upward, or drop the cell.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPoisoned) || errors.Is(err, ErrOutdated)
}
