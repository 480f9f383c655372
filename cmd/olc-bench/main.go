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

// Package main provides olc-bench, a contention workload driver that runs
// reader and writer fleets against a shared counter guarded by sync.Mutex,
// sync.RWMutex, or the optimistic lock, and reports throughput and retry
// counts.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/natefinch/atomic"
	flag "github.com/spf13/pflag"
	"github.com/tailscale/hujson"
	"golang.org/x/sync/errgroup"

	olc "github.com/dijkstracula/go-olc"
)

var (
	errUnknownLock    = errors.New("unknown lock kind")
	errLostUpdate     = errors.New("final value does not match committed writes")
	errConfigFileRead = errors.New("cannot read config file")
	errConfigInvalid  = errors.New("invalid config file")
)

// Config holds all benchmark configuration.  Zero/empty fields mean
// "unset" and are filled by lower-precedence sources.
type Config struct {
	Readers int      `json:"readers"`
	Writers int      `json:"writers"`
	Seconds float64  `json:"seconds"`
	Locks   []string `json:"locks"`
	Out     string   `json:"out,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Readers: runtime.GOMAXPROCS(0),
		Writers: 2,
		Seconds: 2,
		Locks:   []string{"mutex", "rwmutex", "optimistic"},
	}
}

// loadConfigFile reads a HuJSON (JSON with comments and trailing commas)
// config file.
func loadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %w", errConfigFileRead, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %w", errConfigInvalid, err)
	}

	var cfg Config
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", errConfigInvalid, err)
	}

	return cfg, nil
}

// mergeConfig overlays override onto base; unset override fields keep the
// base value.
func mergeConfig(base, override Config) Config {
	if override.Readers != 0 {
		base.Readers = override.Readers
	}
	if override.Writers != 0 {
		base.Writers = override.Writers
	}
	if override.Seconds != 0 {
		base.Seconds = override.Seconds
	}
	if len(override.Locks) != 0 {
		base.Locks = override.Locks
	}
	if override.Out != "" {
		base.Out = override.Out
	}
	return base
}

// counter is the shared object every workload hammers: read returns the
// current value, bump increments it.  Both also report how many retries
// the operation needed (always zero for the blocking baselines).
type counter interface {
	read() (val, retries int)
	bump() (retries int)
}

type mutexCounter struct {
	mu sync.Mutex
	n  int
}

func (c *mutexCounter) read() (int, int) {
	c.mu.Lock()
	n := c.n
	c.mu.Unlock()
	return n, 0
}

func (c *mutexCounter) bump() int {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
	return 0
}

type rwCounter struct {
	mu sync.RWMutex
	n  int
}

func (c *rwCounter) read() (int, int) {
	c.mu.RLock()
	n := c.n
	c.mu.RUnlock()
	return n, 0
}

func (c *rwCounter) bump() int {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
	return 0
}

type optimisticCounter struct {
	lock *olc.Lock[int]
}

func (c *optimisticCounter) read() (int, int) {
	retries := 0
	for {
		g, err := c.lock.Read()
		if err != nil {
			retries++
			continue
		}
		n := *g.Value()
		if g.TrySync() != nil {
			retries++
			continue
		}
		return n, retries
	}
}

func (c *optimisticCounter) bump() int {
	retries := 0
	for {
		w, err := c.lock.Write()
		if err != nil {
			retries++
			continue
		}
		*w.Value()++
		w.Unlock()
		return retries
	}
}

func newCounter(kind string) (counter, error) {
	switch kind {
	case "mutex":
		return &mutexCounter{}, nil
	case "rwmutex":
		return &rwCounter{}, nil
	case "optimistic":
		return &optimisticCounter{lock: olc.New(0)}, nil
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownLock, kind)
	}
}

// Report holds the result of one workload run.
type Report struct {
	Lock         string  `json:"lock"`
	Readers      int     `json:"readers"`
	Writers      int     `json:"writers"`
	Seconds      float64 `json:"seconds"`
	Reads        uint64  `json:"reads"`
	Writes       uint64  `json:"writes"`
	ReadRetries  uint64  `json:"read_retries"`
	WriteRetries uint64  `json:"write_retries"`
	FinalValue   int     `json:"final_value"`
}

type tally struct {
	ops     uint64
	retries uint64
}

// runWorkload drives readers+writers goroutines against c for the given
// duration, then checks that no committed write was lost.
func runWorkload(c counter, kind string, readers, writers int, d time.Duration) (Report, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	readTallies := make([]tally, readers)
	for i := 0; i < readers; i++ {
		i := i
		g.Go(func() error {
			for ctx.Err() == nil {
				_, retries := c.read()
				readTallies[i].ops++
				readTallies[i].retries += uint64(retries)
			}
			return nil
		})
	}

	writeTallies := make([]tally, writers)
	for i := 0; i < writers; i++ {
		i := i
		g.Go(func() error {
			for ctx.Err() == nil {
				retries := c.bump()
				writeTallies[i].ops++
				writeTallies[i].retries += uint64(retries)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	report := Report{
		Lock:    kind,
		Readers: readers,
		Writers: writers,
		Seconds: d.Seconds(),
	}
	for _, t := range readTallies {
		report.Reads += t.ops
		report.ReadRetries += t.retries
	}
	for _, t := range writeTallies {
		report.Writes += t.ops
		report.WriteRetries += t.retries
	}

	report.FinalValue, _ = c.read()
	if uint64(report.FinalValue) != report.Writes {
		return Report{}, fmt.Errorf("%w: %s committed %d, counted %d",
			errLostUpdate, kind, report.Writes, report.FinalValue)
	}

	return report, nil
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("olc-bench", flag.ContinueOnError)
	configPath := fs.String("config", "", "Optional HuJSON config file")
	readers := fs.Int("readers", 0, "Reader goroutines (default GOMAXPROCS)")
	writers := fs.Int("writers", 0, "Writer goroutines")
	seconds := fs.Float64("seconds", 0, "Duration of each workload run")
	locks := fs.StringSlice("locks", nil, "Lock kinds to run: mutex, rwmutex, optimistic")
	outPath := fs.String("out", "", "Write a JSON report to this path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := DefaultConfig()
	if *configPath != "" {
		fileCfg, err := loadConfigFile(*configPath)
		if err != nil {
			return err
		}
		cfg = mergeConfig(cfg, fileCfg)
	}
	cfg = mergeConfig(cfg, Config{
		Readers: *readers,
		Writers: *writers,
		Seconds: *seconds,
		Locks:   *locks,
		Out:     *outPath,
	})

	reports := make([]Report, 0, len(cfg.Locks))
	for _, kind := range cfg.Locks {
		c, err := newCounter(kind)
		if err != nil {
			return err
		}

		duration := time.Duration(cfg.Seconds * float64(time.Second))
		report, err := runWorkload(c, kind, cfg.Readers, cfg.Writers, duration)
		if err != nil {
			return err
		}
		reports = append(reports, report)

		fmt.Fprintf(out, "%-10s %dr/%dw %.1fs: %d reads (%d retries), %d writes (%d retries)\n",
			kind, report.Readers, report.Writers, report.Seconds,
			report.Reads, report.ReadRetries, report.Writes, report.WriteRetries)
	}

	if cfg.Out != "" {
		data, err := json.MarshalIndent(reports, "", "  ")
		if err != nil {
			return err
		}
		if err := atomic.WriteFile(cfg.Out, bytes.NewReader(data)); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
	}

	return nil
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "olc-bench:", err)
		os.Exit(1)
	}
}
