// internal/cache/cache_test.go
package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"tcrflow/internal/chunk"
	"tcrflow/internal/tool"
)

func testKey(t *testing.T) Key {
	t.Helper()
	dir := t.TempDir()
	r1 := filepath.Join(dir, "c_R1.fastq.gz")
	r2 := filepath.Join(dir, "c_R2.fastq.gz")
	require.NoError(t, os.WriteFile(r1, []byte("r1"), 0o644))
	require.NoError(t, os.WriteFile(r2, []byte("r2"), 0o644))
	ch := chunk.Chunk{Sample: "s1", Span: chunk.Span{Index: 0, Start: 0, End: 100}, R1: r1, R2: r2}
	k, err := NewKey(ch, tool.Params{Tool: "mixcr", Preset: "p", Species: "hsa"})
	require.NoError(t, err)
	return k
}

func newManager(t *testing.T, dir string) *Manager {
	t.Helper()
	m, err := NewManager(dir, nil)
	require.NoError(t, err)
	return m
}

func completeClaim(t *testing.T, c *Claim, content string) Result {
	t.Helper()
	table := filepath.Join(c.WorkDir(), "clones.tsv")
	require.NoError(t, os.WriteFile(table, []byte(content), 0o644))
	res, err := c.Complete(table)
	require.NoError(t, err)
	return res
}

func TestKeyDeterministic(t *testing.T) {
	dir := t.TempDir()
	r1 := filepath.Join(dir, "c_R1.fastq.gz")
	r2 := filepath.Join(dir, "c_R2.fastq.gz")
	require.NoError(t, os.WriteFile(r1, []byte("r1"), 0o644))
	require.NoError(t, os.WriteFile(r2, []byte("r2"), 0o644))
	ch := chunk.Chunk{Sample: "s1", Span: chunk.Span{Index: 2, Start: 0, End: 100}, R1: r1, R2: r2}
	p := tool.Params{Tool: "trust4", Species: "hsa", RefDB: "ref.fa"}

	k1, err := NewKey(ch, p)
	require.NoError(t, err)
	k2, err := NewKey(ch, p)
	require.NoError(t, err)
	require.Equal(t, k1, k2)

	p2 := p
	p2.Species = "mmu"
	k3, err := NewKey(ch, p2)
	require.NoError(t, err)
	require.NotEqual(t, k1, k3)
}

func TestAcquireMissThenHit(t *testing.T) {
	m := newManager(t, t.TempDir())
	key := testKey(t)
	ctx := context.Background()

	_, claim, err := m.Acquire(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, claim, "first acquire must be a MISS")

	want := completeClaim(t, claim, "table")

	res, claim2, err := m.Acquire(ctx, key)
	require.NoError(t, err)
	require.Nil(t, claim2, "second acquire must be a HIT")
	require.Equal(t, want.TablePath, res.TablePath)

	hits, misses := m.Stats()
	require.Equal(t, int64(1), hits)
	require.Equal(t, int64(1), misses)
}

func TestAcquireConcurrentSingleMiss(t *testing.T) {
	m := newManager(t, t.TempDir())
	key := testKey(t)
	ctx := context.Background()

	const n = 32
	var missCount, hitCount atomic.Int64
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			res, claim, err := m.Acquire(ctx, key)
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			if claim != nil {
				missCount.Add(1)
				completeClaim(t, claim, "table")
				return
			}
			hitCount.Add(1)
			if res.TablePath == "" {
				t.Error("hit without a result path")
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int64(1), missCount.Load(), "exactly one MISS per key")
	require.Equal(t, int64(n-1), hitCount.Load())
}

func TestAcquireFailurePropagates(t *testing.T) {
	m := newManager(t, t.TempDir())
	key := testKey(t)
	ctx := context.Background()

	_, claim, err := m.Acquire(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, claim)

	cause := errors.New("tool exploded")
	waitErr := make(chan error, 1)
	go func() {
		_, c2, err := m.Acquire(ctx, key)
		if c2 != nil {
			_ = c2.Fail(errors.New("unexpected second claim"))
		}
		waitErr <- err
	}()

	require.NoError(t, claim.Fail(cause))
	require.ErrorIs(t, <-waitErr, cause)
}

func TestRestartCompleteIsHit(t *testing.T) {
	dir := t.TempDir()
	key := testKey(t)

	m1 := newManager(t, dir)
	_, claim, err := m1.Acquire(context.Background(), key)
	require.NoError(t, err)
	require.NotNil(t, claim)
	completeClaim(t, claim, "table")

	// Fresh manager over the same store: must HIT without recomputing.
	m2 := newManager(t, dir)
	res, claim2, err := m2.Acquire(context.Background(), key)
	require.NoError(t, err)
	require.Nil(t, claim2)
	raw, err := os.ReadFile(res.TablePath)
	require.NoError(t, err)
	require.Equal(t, "table", string(raw))
}

func TestRestartStalePendingIsRetried(t *testing.T) {
	dir := t.TempDir()
	key := testKey(t)

	m1 := newManager(t, dir)
	_, claim, err := m1.Acquire(context.Background(), key)
	require.NoError(t, err)
	require.NotNil(t, claim)

	// Simulate a crash: overwrite the claim owner with a dead pid and
	// open a fresh manager without resolving the claim.
	claimPath := filepath.Join(m1.entryDir(key), claimFile)
	require.NoError(t, os.WriteFile(claimPath, []byte("999999999\n"), 0o644))

	m2 := newManager(t, dir)
	_, claim2, err := m2.Acquire(context.Background(), key)
	require.NoError(t, err)
	require.NotNil(t, claim2, "stale pending entry must be reclaimed, never trusted as a HIT")
	completeClaim(t, claim2, "recomputed")
}

func TestClaimTakeoverRespectsLiveHolder(t *testing.T) {
	dir := t.TempDir()
	key := testKey(t)
	m := newManager(t, dir)

	// A live claimant from another manager appeared between the disk
	// probe and the claim attempt. Its claim and in-flight output must
	// survive the attempt untouched.
	entDir := m.entryDir(key)
	wd := filepath.Join(entDir, workDir)
	require.NoError(t, os.MkdirAll(wd, 0o755))
	claimPath := filepath.Join(entDir, claimFile)
	owner := fmt.Sprintf("%d\n", os.Getpid())
	require.NoError(t, os.WriteFile(claimPath, []byte(owner), 0o644))
	partial := filepath.Join(wd, "clones.tsv")
	require.NoError(t, os.WriteFile(partial, []byte("in progress"), 0o644))

	c, err := m.openClaim(key, &flight{done: make(chan struct{})})
	require.NoError(t, err)
	require.Nil(t, c, "held claim must not be taken")

	raw, err := os.ReadFile(claimPath)
	require.NoError(t, err)
	require.Equal(t, owner, string(raw), "holder's claim must be intact")
	raw, err = os.ReadFile(partial)
	require.NoError(t, err)
	require.Equal(t, "in progress", string(raw), "holder's work must be intact")
}

func TestClaimTakeoverReclaimsDeadHolder(t *testing.T) {
	dir := t.TempDir()
	key := testKey(t)
	m := newManager(t, dir)

	entDir := m.entryDir(key)
	wd := filepath.Join(entDir, workDir)
	require.NoError(t, os.MkdirAll(wd, 0o755))
	claimPath := filepath.Join(entDir, claimFile)
	require.NoError(t, os.WriteFile(claimPath, []byte("999999999\n"), 0o644))
	leftover := filepath.Join(wd, "clones.tsv")
	require.NoError(t, os.WriteFile(leftover, []byte("half-written"), 0o644))

	fl := &flight{done: make(chan struct{})}
	c, err := m.openClaim(key, fl)
	require.NoError(t, err)
	require.NotNil(t, c, "dead holder's claim must be reclaimed")

	pid, ok := readClaimPid(claimPath)
	require.True(t, ok)
	require.Equal(t, os.Getpid(), pid)
	_, err = os.Stat(leftover)
	require.True(t, os.IsNotExist(err), "dead holder's leftovers must be cleared")

	completeClaim(t, c, "fresh")
}

func TestClaimTakeoverKeepsCompletedEntry(t *testing.T) {
	dir := t.TempDir()
	key := testKey(t)

	m1 := newManager(t, dir)
	_, claim, err := m1.Acquire(context.Background(), key)
	require.NoError(t, err)
	require.NotNil(t, claim)
	want := completeClaim(t, claim, "table")

	// Another manager probed before the completion landed and now tries
	// to claim. The terminal result must win, never be recomputed.
	m2 := newManager(t, dir)
	c, err := m2.openClaim(key, &flight{done: make(chan struct{})})
	require.NoError(t, err)
	require.Nil(t, c, "completed entry must not be reclaimed")

	res, claim2, err := m2.Acquire(context.Background(), key)
	require.NoError(t, err)
	require.Nil(t, claim2)
	require.Equal(t, want.TablePath, res.TablePath)
	raw, err := os.ReadFile(res.TablePath)
	require.NoError(t, err)
	require.Equal(t, "table", string(raw))
}

func TestCorruptEntryForcesMiss(t *testing.T) {
	dir := t.TempDir()
	key := testKey(t)

	m1 := newManager(t, dir)
	_, claim, err := m1.Acquire(context.Background(), key)
	require.NoError(t, err)
	completeClaim(t, claim, "table")

	// Corrupt the terminal record.
	entPath := filepath.Join(m1.entryDir(key), entryFile)
	require.NoError(t, os.WriteFile(entPath, []byte("{not json"), 0o644))

	m2 := newManager(t, dir)
	_, claim2, err := m2.Acquire(context.Background(), key)
	require.NoError(t, err)
	require.NotNil(t, claim2, "corrupt entry must force a MISS")
	completeClaim(t, claim2, "recomputed")
}

func TestFailedEntryRetriedNextRun(t *testing.T) {
	dir := t.TempDir()
	key := testKey(t)

	m1 := newManager(t, dir)
	_, claim, err := m1.Acquire(context.Background(), key)
	require.NoError(t, err)
	require.NoError(t, claim.Fail(errors.New("transient")))

	m2 := newManager(t, dir)
	_, claim2, err := m2.Acquire(context.Background(), key)
	require.NoError(t, err)
	require.NotNil(t, claim2, "persisted failure must be retried by a later run")
	completeClaim(t, claim2, "ok now")
}
