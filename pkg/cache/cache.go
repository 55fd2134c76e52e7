// Package cache persists per-bug check results between runs so unchanged
// bugs are not re-checked. The cache is advisory: every failure path
// degrades to a fresh check.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	log "github.com/sirupsen/logrus"

	"github.com/project-archbot/archbot/pkg/types"
)

// DefaultMaxAge is how long a cached verdict stays valid.
const DefaultMaxAge = 12 * time.Hour

// Entry is the cached state for one bug.
type Entry struct {
	LastChange  time.Time `json:"last_change"`
	Fingerprint string    `json:"fingerprint"`
	Verdict     string    `json:"verdict"`
	CheckedAt   time.Time `json:"checked_at"`
	// Updated records whether the verdict was actually pushed to the
	// tracker; entries from pretend runs do not satisfy an update run.
	Updated bool `json:"updated"`
}

// Fingerprint hashes the check-relevant bug content: the raw package list,
// the CC set and the dependency references.
func Fingerprint(bug *types.Bug) string {
	h := sha256.New()
	h.Write([]byte(bug.Atoms))
	h.Write([]byte{0})
	cc := append([]string{}, bug.CC...)
	sort.Strings(cc)
	h.Write([]byte(strings.Join(cc, ",")))
	h.Write([]byte{0})
	deps := append([]int{}, bug.Depends...)
	deps = append(deps, bug.Blocks...)
	sort.Ints(deps)
	for _, d := range deps {
		fmt.Fprintf(h, "%d,", d)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Valid reports whether the entry still covers the bug: same last-change
// time, same fingerprint and young enough.
func (e *Entry) Valid(bug *types.Bug, maxAge time.Duration, now time.Time) bool {
	return e.LastChange.Equal(bug.LastChangeTime) &&
		e.Fingerprint == Fingerprint(bug) &&
		now.Sub(e.CheckedAt) < maxAge
}

// Store is a BadgerDB-backed cache keyed by bug id. A nil Store is a valid
// disabled cache.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the cache at dir. An empty dir returns a
// disabled cache; open errors do too, after logging, since losing the
// cache only loses the speed-up.
func Open(dir string) *Store {
	if dir == "" {
		return nil
	}
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		log.Warnf("cannot open cache at %s, running without: %v", dir, err)
		return nil
	}
	return &Store{db: db}
}

// OpenInMemory returns an in-memory cache, used by tests.
func OpenInMemory() *Store {
	db, err := badger.Open(
		badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil
	}
	return &Store{db: db}
}

func key(id int) []byte {
	return []byte("bug/" + strconv.Itoa(id))
}

// Get looks up the entry for a bug. Any error reads as a miss.
func (s *Store) Get(id int) *Entry {
	if s == nil {
		return nil
	}
	var entry *Entry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var e Entry
			if err := json.Unmarshal(val, &e); err != nil {
				return err
			}
			entry = &e
			return nil
		})
	})
	if err != nil && err != badger.ErrKeyNotFound {
		log.Warnf("cache read for bug %d failed: %v", id, err)
	}
	return entry
}

// Put stores the entry for a bug. Failures are logged and swallowed.
func (s *Store) Put(id int, e *Entry) {
	if s == nil {
		return
	}
	val, err := json.Marshal(e)
	if err != nil {
		log.Warnf("cache encode for bug %d failed: %v", id, err)
		return
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(id), val)
	})
	if err != nil {
		log.Warnf("cache write for bug %d failed: %v", id, err)
	}
}

// Close flushes and closes the store.
func (s *Store) Close() {
	if s == nil {
		return
	}
	if err := s.db.Close(); err != nil {
		log.Warnf("cache close failed: %v", err)
	}
}
