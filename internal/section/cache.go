package section

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"
)

// cacheKey identifies a cached section by absolute path and header.
type cacheKey struct {
	path   string
	header string
}

// cacheEntry is the in-memory cache value: the section content as of mtime.
type cacheEntry struct {
	mtime   time.Time
	content []byte
	found   bool
}

// diskEntry is the JSON shape persisted under <root>/cache/sections/.
type diskEntry struct {
	FilePath         string    `json:"file_path"`
	Header           string    `json:"header"`
	Mtime            time.Time `json:"mtime"`
	NormalizedContent string   `json:"normalized_content"`
	ContentHash      string    `json:"content_hash"`
	Found            bool      `json:"found"`
}

// Store is the two-tier section cache described in §4.B: an in-memory map
// invalidated on mtime mismatch, backed by a warm disk cache at
// <root>/cache/sections/ used across process restarts. The cache is always
// re-derivable — any read that fails to parse a disk entry is treated as a
// miss and the stale file is deleted, never surfaced as an error.
type Store struct {
	root string

	mu  sync.Mutex
	mem map[cacheKey]cacheEntry
}

// NewStore creates a Store rooted at <root>/cache/sections.
func NewStore(root string) *Store {
	return &Store{root: root, mem: make(map[cacheKey]cacheEntry)}
}

func (s *Store) diskPath(key cacheKey) string {
	h := sha256.Sum256([]byte(key.path + "\x00" + key.header))
	return filepath.Join(s.root, "cache", "sections", hex.EncodeToString(h[:])+".json")
}

// Extract reads path, finds header's section (using the cache where the
// file's mtime has not changed), and returns the exact original bytes. A
// missing section returns (nil, false), never an error; a file that cannot
// be statted or read is also treated as a miss.
func (s *Store) Extract(path, header string) ([]byte, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, false
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, false
	}
	mtime := info.ModTime()
	key := cacheKey{path: abs, header: header}

	s.mu.Lock()
	if e, ok := s.mem[key]; ok && e.mtime.Equal(mtime) {
		s.mu.Unlock()
		return e.content, e.found
	}
	s.mu.Unlock()

	if content, found, ok := s.readDisk(key, mtime); ok {
		s.storeMem(key, mtime, content, found)
		return content, found
	}

	source, err := os.ReadFile(abs)
	if err != nil {
		return nil, false
	}
	content, found := Extract(source, header)
	s.storeMem(key, mtime, content, found)
	s.writeDisk(key, mtime, content, found)
	return content, found
}

func (s *Store) storeMem(key cacheKey, mtime time.Time, content []byte, found bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mem[key] = cacheEntry{mtime: mtime, content: content, found: found}
}

// readDisk loads the disk-tier entry for key, validating it is fresh
// (matching mtime). A corrupt or stale entry is silently deleted and
// reported as a cache miss (ok=false), per the CacheCorruption error kind:
// the disk cache is always re-derivable from the source file.
func (s *Store) readDisk(key cacheKey, mtime time.Time) (content []byte, found bool, ok bool) {
	p := s.diskPath(key)
	raw, err := os.ReadFile(p)
	if err != nil {
		return nil, false, false
	}
	var d diskEntry
	if err := json.Unmarshal(raw, &d); err != nil {
		_ = os.Remove(p)
		return nil, false, false
	}
	if !d.Mtime.Equal(mtime) || d.FilePath != key.path || d.Header != key.header {
		_ = os.Remove(p)
		return nil, false, false
	}
	if !d.Found {
		return nil, false, true
	}
	return []byte(d.NormalizedContent), true, true
}

// writeDisk persists the disk-tier entry via the atomic write-then-rename
// idiom used throughout the engine (see internal/session), so a reader never
// observes a torn cache file.
func (s *Store) writeDisk(key cacheKey, mtime time.Time, content []byte, found bool) {
	d := diskEntry{
		FilePath: key.path,
		Header:   key.header,
		Mtime:    mtime,
		Found:    found,
	}
	if found {
		d.NormalizedContent = string(content)
		d.ContentHash = Hash(string(content))
	}
	data, err := json.Marshal(d)
	if err != nil {
		return
	}
	p := s.diskPath(key)
	_ = os.MkdirAll(filepath.Dir(p), 0o755)
	_ = renameio.WriteFile(p, data, 0o644)
}

// Invalidate drops any cached entry (memory and disk) for (path, header).
func (s *Store) Invalidate(path, header string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	key := cacheKey{path: abs, header: header}
	s.mu.Lock()
	delete(s.mem, key)
	s.mu.Unlock()
	_ = os.Remove(s.diskPath(key))
}
