// internal/cache/claim.go
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Claim is the obligation returned on a MISS. Exactly one of Complete or
// Fail must eventually be called; until then every other acquirer of the
// key stays suspended.
type Claim struct {
	m    *Manager
	key  Key
	fl   *flight
	dir  string
	done bool
}

// WorkDir is the unit-scoped directory the tool invocation must write
// its artifacts into. It lives inside the cache entry, so completing the
// claim needs no copy.
func (c *Claim) WorkDir() string { return filepath.Join(c.dir, workDir) }

// Key returns the fingerprint this claim covers.
func (c *Claim) Key() Key { return c.key }

// Complete records tablePath (which must be inside WorkDir) as the
// entry's artifact, marks the entry complete, and wakes all waiters with
// a HIT.
func (c *Claim) Complete(tablePath string) (Result, error) {
	if c.done {
		return Result{}, errors.New("cache: claim already resolved")
	}
	c.done = true

	rel, err := filepath.Rel(c.dir, tablePath)
	if err != nil || filepath.IsAbs(rel) || rel == "" || rel[0] == '.' {
		err = fmt.Errorf("cache: artifact %s is outside the entry dir", tablePath)
		c.m.resolve(c.key, c.fl, Result{}, err)
		return Result{}, err
	}
	ent := entry{Status: statusComplete, Artifact: rel, CreatedAt: time.Now().UTC()}
	if err := c.writeEntry(ent); err != nil {
		c.m.resolve(c.key, c.fl, Result{}, err)
		return Result{}, err
	}
	_ = os.Remove(filepath.Join(c.dir, claimFile))

	res := Result{TablePath: filepath.Join(c.dir, rel)}
	c.m.resolve(c.key, c.fl, res, nil)
	return res, nil
}

// Fail records cause as the entry's terminal failure and propagates it to
// all suspended acquirers of the key.
func (c *Claim) Fail(cause error) error {
	if c.done {
		return errors.New("cache: claim already resolved")
	}
	c.done = true

	ent := entry{Status: statusFailed, Error: cause.Error(), CreatedAt: time.Now().UTC()}
	if err := c.writeEntry(ent); err != nil {
		c.m.log.Warn("recording cache failure", "key", string(c.key), "err", err)
	}
	_ = os.Remove(filepath.Join(c.dir, claimFile))

	c.m.resolve(c.key, c.fl, Result{}, cause)
	return nil
}

// writeEntry persists the terminal record atomically (tmp + rename) so a
// crash mid-write never yields a half-readable entry.
func (c *Claim) writeEntry(ent entry) error {
	raw, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	tmp := filepath.Join(c.dir, entryFile+".tmp")
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("cache: write entry: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(c.dir, entryFile)); err != nil {
		return fmt.Errorf("cache: publish entry: %w", err)
	}
	return nil
}
