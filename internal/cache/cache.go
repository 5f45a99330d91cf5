// Package cache stores per-chunk tool results keyed by content
// fingerprint. The manager guarantees exactly one MISS per key under
// concurrency: the first caller receives a claim and the obligation to
// resolve it, every other caller suspends until the claim resolves and
// then observes the same outcome. Entries persist on disk and survive
// restarts; a pending claim left behind by a crashed run is retried.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Result is the completed output location of one chunk computation.
type Result struct {
	// TablePath is the absolute path of the cached clonotype table.
	TablePath string
}

// StateError marks a corrupted or unreadable cache entry. The manager
// recovers by forcing a MISS and recomputing; callers only ever see it in
// logs.
type StateError struct {
	Key Key
	Err error
}

func (e *StateError) Error() string { return fmt.Sprintf("cache entry %s: %v", e.Key, e.Err) }
func (e *StateError) Unwrap() error { return e.Err }

const (
	statusComplete = "complete"
	statusFailed   = "failed"

	claimFile = "claim"
	entryFile = "entry.json"
	workDir   = "work"

	memoSize = 4096
)

// entry is the terminal on-disk record. Written once via tmp+rename,
// never mutated afterwards.
type entry struct {
	Status    string    `json:"status"`
	Artifact  string    `json:"artifact,omitempty"` // relative to the entry dir
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Manager owns all cache state transitions. Per-key serialization lives
// in the inflight map; there is no lock held across unrelated keys while
// a computation runs.
type Manager struct {
	dir string
	log *slog.Logger

	mu       sync.Mutex
	inflight map[Key]*flight
	memo     *lru.Cache[Key, Result]

	hits   atomic.Int64
	misses atomic.Int64
}

// flight is one in-process claim: waiters block on done and then read
// res/err, which are written exactly once before close(done).
type flight struct {
	done chan struct{}
	res  Result
	err  error
}

// NewManager opens (creating if needed) the on-disk store rooted at dir.
func NewManager(dir string, log *slog.Logger) (*Manager, error) {
	if dir == "" {
		return nil, errors.New("cache: store dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	memo, err := lru.New[Key, Result](memoSize)
	if err != nil {
		return nil, err
	}
	return &Manager{dir: dir, log: log, inflight: make(map[Key]*flight), memo: memo}, nil
}

// Stats returns the hit/miss counters accumulated so far.
func (m *Manager) Stats() (hits, misses int64) {
	return m.hits.Load(), m.misses.Load()
}

func (m *Manager) entryDir(key Key) string {
	return filepath.Join(m.dir, key.shard(), string(key))
}

// Acquire resolves key to either a HIT (claim == nil, res valid) or a
// MISS (claim != nil; the caller must call Complete or Fail). When the
// key's claimant fails, suspended acquirers receive the claimant's error.
func (m *Manager) Acquire(ctx context.Context, key Key) (res Result, claim *Claim, err error) {
	for {
		m.mu.Lock()

		if r, ok := m.memo.Get(key); ok {
			m.mu.Unlock()
			m.hits.Add(1)
			return r, nil, nil
		}

		if fl, ok := m.inflight[key]; ok {
			m.mu.Unlock()
			select {
			case <-fl.done:
			case <-ctx.Done():
				return Result{}, nil, ctx.Err()
			}
			if fl.err != nil {
				if errors.Is(fl.err, errRaced) {
					continue
				}
				return Result{}, nil, fl.err
			}
			m.hits.Add(1)
			return fl.res, nil, nil
		}

		r, state := m.probeDisk(key)
		switch state {
		case diskComplete:
			m.memo.Add(key, r)
			m.mu.Unlock()
			m.hits.Add(1)
			return r, nil, nil

		case diskForeignClaim:
			// Another process is computing this key; poll until its
			// claim resolves or goes stale.
			m.mu.Unlock()
			select {
			case <-time.After(200 * time.Millisecond):
			case <-ctx.Done():
				return Result{}, nil, ctx.Err()
			}
			continue

		default:
			// Absent, stale pending, failed, or corrupt: take the claim.
			fl := &flight{done: make(chan struct{})}
			m.inflight[key] = fl
			m.mu.Unlock()

			c, err := m.openClaim(key, fl)
			if err != nil {
				m.resolve(key, fl, Result{}, err)
				return Result{}, nil, err
			}
			if c == nil {
				// Lost a cross-process race; drop the flight and re-probe.
				m.resolve(key, fl, Result{}, errRaced)
				continue
			}
			m.misses.Add(1)
			return Result{}, c, nil
		}
	}
}

var errRaced = errors.New("cache: claim raced")

type diskState int

const (
	diskAbsent diskState = iota
	diskComplete
	diskForeignClaim
	diskStale // stale pending, failed, or corrupt: reclaimable
)

// probeDisk classifies the persisted state of key. Called under m.mu,
// which is fine: it is a handful of stats and one small read.
func (m *Manager) probeDisk(key Key) (Result, diskState) {
	dir := m.entryDir(key)

	if ent, err := m.readEntry(dir); err == nil {
		switch ent.Status {
		case statusComplete:
			table := filepath.Join(dir, ent.Artifact)
			if fi, err := os.Stat(table); err != nil || fi.Size() == 0 {
				m.log.Warn("cache entry lost its artifact, recomputing", "key", string(key))
				return Result{}, diskStale
			}
			return Result{TablePath: table}, diskComplete
		case statusFailed:
			// Terminal failure from an earlier run: a fresh acquire retries.
			return Result{}, diskStale
		default:
			m.log.Warn("cache entry has unknown status, recomputing",
				"key", string(key), "status", ent.Status)
			return Result{}, diskStale
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		serr := &StateError{Key: key, Err: err}
		m.log.Warn("corrupted cache entry, forcing miss", "err", serr)
		return Result{}, diskStale
	}

	// No terminal record. A claim file from a live process means a
	// foreign claimant; from a dead one it is stale and reclaimable.
	if pid, ok := readClaimPid(filepath.Join(dir, claimFile)); ok {
		if processAlive(pid) {
			return Result{}, diskForeignClaim
		}
		return Result{}, diskStale
	}
	return Result{}, diskAbsent
}

func (m *Manager) readEntry(dir string) (entry, error) {
	raw, err := os.ReadFile(filepath.Join(dir, entryFile))
	if err != nil {
		return entry{}, err
	}
	var ent entry
	if err := json.Unmarshal(raw, &ent); err != nil {
		return entry{}, fmt.Errorf("decode: %w", err)
	}
	return ent, nil
}

// openClaim atomically takes ownership of the key's on-disk entry.
// The claim file's create-if-absent is the serialization point across
// processes: nothing may be deleted before winning it, because another
// process can appear between the disk probe and this call. Returns
// (nil, nil) when someone else holds or wins the claim.
func (m *Manager) openClaim(key Key, fl *flight) (*Claim, error) {
	dir := m.entryDir(key)
	claimPath := filepath.Join(dir, claimFile)

	if err := os.MkdirAll(filepath.Join(dir, workDir), 0o755); err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}

	// A claim left by a dead process blocks the exclusive create; steal
	// it with an atomic rename. At most one contender's rename succeeds,
	// and a live holder's claim is never touched.
	if pid, ok := readClaimPid(claimPath); ok && !processAlive(pid) {
		stale := claimPath + ".stale"
		if err := os.Rename(claimPath, stale); err == nil {
			_ = os.Remove(stale)
		}
	}

	f, err := os.OpenFile(claimPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("cache: create claim: %w", err)
	}
	_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
	if err := f.Close(); err != nil {
		_ = os.Remove(claimPath)
		return nil, err
	}

	// A foreign claimant may have completed the entry in the probe
	// window; its terminal result is kept, never recomputed.
	if ent, err := m.readEntry(dir); err == nil && ent.Status == statusComplete {
		if fi, err := os.Stat(filepath.Join(dir, ent.Artifact)); err == nil && fi.Size() > 0 {
			_ = os.Remove(claimPath)
			return nil, nil
		}
	}

	// The claim is ours; now clear stale remains and hand out a fresh
	// work dir.
	_ = os.Remove(filepath.Join(dir, entryFile))
	_ = os.Remove(filepath.Join(dir, entryFile+".tmp"))
	wd := filepath.Join(dir, workDir)
	if err := os.RemoveAll(wd); err != nil {
		_ = os.Remove(claimPath)
		return nil, fmt.Errorf("cache: clear stale work dir: %w", err)
	}
	if err := os.MkdirAll(wd, 0o755); err != nil {
		_ = os.Remove(claimPath)
		return nil, fmt.Errorf("cache: %w", err)
	}
	return &Claim{m: m, key: key, fl: fl, dir: dir}, nil
}

// resolve publishes the flight outcome and unblocks all waiters.
func (m *Manager) resolve(key Key, fl *flight, res Result, err error) {
	m.mu.Lock()
	fl.res, fl.err = res, err
	delete(m.inflight, key)
	if err == nil {
		m.memo.Add(key, res)
	}
	m.mu.Unlock()
	close(fl.done)
}

func readClaimPid(path string) (int, bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(string(bytesTrim(raw)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

func bytesTrim(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r' || b[len(b)-1] == ' ') {
		b = b[:len(b)-1]
	}
	return b
}

// processAlive reports whether pid exists. Signal 0 probes without
// delivering anything.
func processAlive(pid int) bool {
	if pid == os.Getpid() {
		return true
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
