package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeConfig(t *testing.T) {
	base := DefaultConfig()

	merged := mergeConfig(base, Config{})
	if diff := cmp.Diff(base, merged); diff != "" {
		t.Errorf("empty override changed config (-want +got):\n%s", diff)
	}

	merged = mergeConfig(base, Config{Writers: 8, Locks: []string{"optimistic"}})
	want := base
	want.Writers = 8
	want.Locks = []string{"optimistic"}
	if diff := cmp.Diff(want, merged); diff != "" {
		t.Errorf("override merge mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.hujson")
	content := `{
		// contention-heavy run
		"readers": 4,
		"writers": 16,
		"seconds": 0.5,
		"locks": ["optimistic", "mutex"],
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := loadConfigFile(path)
	require.NoError(t, err)

	want := Config{
		Readers: 4,
		Writers: 16,
		Seconds: 0.5,
		Locks:   []string{"optimistic", "mutex"},
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigFileMissing(t *testing.T) {
	_, err := loadConfigFile(filepath.Join(t.TempDir(), "nope.hujson"))
	assert.ErrorIs(t, err, errConfigFileRead)
}

func TestNewCounterUnknown(t *testing.T) {
	_, err := newCounter("spinlock")
	assert.ErrorIs(t, err, errUnknownLock)
}

func TestWorkloadCountsEveryCommit(t *testing.T) {
	for _, kind := range []string{"mutex", "rwmutex", "optimistic"} {
		kind := kind
		t.Run(kind, func(t *testing.T) {
			c, err := newCounter(kind)
			require.NoError(t, err)

			report, err := runWorkload(c, kind, 0, 3, 50*time.Millisecond)
			require.NoError(t, err)

			assert.Positive(t, report.Writes)
			assert.Equal(t, report.Writes, uint64(report.FinalValue))
			assert.Equal(t, kind, report.Lock)
		})
	}
}
