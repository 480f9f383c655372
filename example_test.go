package olc_test

import (
	"errors"
	"fmt"

	olc "github.com/dijkstracula/go-olc"
)

func Example() {
	lock := olc.New(1)
	val, err := olc.ReadTxn(lock, func(g *olc.ReadGuard[int]) (int, error) {
		return *g.Value(), nil
	})
	fmt.Println(val, err)
	// Output: 1 <nil>
}

// A raw read is an observation plus an explicit validation.  Nothing read
// through the guard may be trusted until TrySync returns nil.
func ExampleLock_Read() {
	lock := olc.New(1)

	guard, err := lock.Read()
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Printf("my operations: %d + 1 = %d\n", *guard.Value(), *guard.Value()+1)
	if err := guard.TrySync(); err == nil {
		fmt.Println("safely synced")
	}
	// Output:
	// my operations: 1 + 1 = 2
	// safely synced
}

// Writers that lose a race retry; each committed write advances the
// version by exactly one.
func ExampleLock_Write() {
	lock := olc.New(0)

	for i := 0; i < 3; i++ {
		for {
			w, err := lock.Write()
			if err != nil {
				continue
			}
			*w.Value()++
			w.Unlock()
			break
		}
	}

	val, _ := olc.ReadTxn(lock, func(g *olc.ReadGuard[int]) (int, error) {
		return *g.Value(), nil
	})
	fmt.Println(val)
	// Output: 3
}

func ExampleLock_Update() {
	lock := olc.New(1)
	_ = lock.Update(func(v *int) { *v = 2 })

	guard, _ := lock.Read()
	fmt.Println(guard.String())
	// Output: ReadGuard{version: 1, data: 2}
}

// A container outdates a cell just before unlinking it; readers holding a
// stale pointer fail fast instead of trusting a detached node.
func ExampleLock_MakeOutdated() {
	lock := olc.New("node")
	lock.MakeOutdated()

	_, err := lock.Read()
	fmt.Println(errors.Is(err, olc.ErrOutdated))
	// Output: true
}
