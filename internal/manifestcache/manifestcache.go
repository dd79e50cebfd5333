// Package manifestcache is a tiny embedded on-disk key-value store
// memoizing pass artifacts between compiler invocations — keyed by the
// same invalidation_key pkg/passmgr already computes, one file per key
// under a cache directory. It implements passmgr.Cache directly, so a
// driver can hand a *Store straight to Manager.Run.
//
// This replaces the teacher's embedded CozoDB engine for a concern that
// has nothing to do with Datalog queries: here the only operation ever
// needed is "does this exact key already have bytes on disk," so a flat
// file store stands in for what CozoDB's pluggable mem/sqlite/rocksdb
// engines did for code-intelligence facts.
package manifestcache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pipit-lang/pcc/pkg/passmgr"
)

// Store is an on-disk Cache rooted at one directory, created on first
// use and otherwise reused across invocations.
type Store struct {
	dir string
}

var _ passmgr.Cache = (*Store)(nil)

// Open returns a Store rooted at dir, creating dir if it does not yet
// exist (idempotent: opening an existing cache directory is not an
// error).
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("manifestcache: create cache dir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Get returns the bytes stored under key, if any.
func (s *Store) Get(key string) ([]byte, bool) {
	data, err := os.ReadFile(s.entryPath(key))
	if err != nil {
		return nil, false
	}
	return data, true
}

// Put stores data under key, writing atomically (temp file + rename)
// so a reader never observes a partially written entry.
func (s *Store) Put(key string, data []byte) {
	path := s.entryPath(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
	}
}

// Clear removes every entry from the cache, for `--emit` invocations
// that want to force full recomputation (e.g. a future `--no-cache`
// flag) without deleting the directory other state might share.
func (s *Store) Clear() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("manifestcache: read cache dir %s: %w", s.dir, err)
	}
	for _, e := range entries {
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			return fmt.Errorf("manifestcache: remove %s: %w", e.Name(), err)
		}
	}
	return nil
}

// entryPath maps a cache key to its file path. Keys are already
// content hashes in practice (pkg/passmgr's InvalidationKey), but
// hashing again here keeps the store correct even for a caller that
// passes an arbitrary string key, and keeps every filename a fixed,
// filesystem-safe length.
func (s *Store) entryPath(key string) string {
	h := sha256.Sum256([]byte(key))
	return filepath.Join(s.dir, hex.EncodeToString(h[:]))
}
