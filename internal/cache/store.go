package cache

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"jitgen/internal/declare"
	"jitgen/internal/logging"
)

// Store maps checksums to validated implementations. Entry files live under
// dir; a SQLite index provides lookup and history. The store never fails
// hard: with no usable index it falls back to header-scanning entry files,
// and with no usable filesystem it reports misses, degrading the engine to
// always-regenerate.
type Store struct {
	dir string
	db  *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS entries (
	checksum     TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	decl_file    TEXT NOT NULL,
	package      TEXT NOT NULL,
	version      INTEGER NOT NULL,
	created_at   TEXT NOT NULL,
	tests_passed INTEGER NOT NULL,
	attempt_id   TEXT,
	trace        TEXT,
	entry_path   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entries_name ON entries(name, decl_file);

CREATE TABLE IF NOT EXISTS fingerprints (
	checksum TEXT NOT NULL,
	file     TEXT NOT NULL,
	fp       TEXT NOT NULL,
	PRIMARY KEY (checksum, file)
);
`

// NewStore opens (or creates) the cache at dir with a SQLite index at
// indexPath. Index failures are logged and tolerated.
func NewStore(dir, indexPath string) *Store {
	s := &Store{dir: dir}

	if err := os.MkdirAll(dir, 0755); err != nil {
		logging.CacheWarn("cache dir unavailable, running without cache: %v", err)
		return s
	}

	db, err := sql.Open("sqlite3", indexPath)
	if err == nil {
		if _, err = db.Exec(schema); err != nil {
			db.Close()
			db = nil
		}
	}
	if err != nil {
		logging.CacheWarn("cache index unavailable, falling back to file scan: %v", err)
		s.db = nil
		return s
	}
	s.db = db

	logging.Cache("Cache store opened: dir=%s index=%s", dir, indexPath)
	return s
}

// Close closes the index. Safe on a nil store.
func (s *Store) Close() {
	if s != nil && s.db != nil {
		s.db.Close()
	}
}

// EntryPath returns where the current entry for a declaration lives:
// <dir>/<decl file sans .go>/<Name>.go, mirroring the declaring tree.
func (s *Store) EntryPath(decl declare.Declaration) string {
	rel := strings.TrimSuffix(filepath.ToSlash(decl.File), ".go")
	rel = strings.TrimPrefix(rel, "/")
	name := strings.ReplaceAll(decl.Name, ".", "_")
	return filepath.Join(s.dir, filepath.FromSlash(rel), name+".go")
}

// failedPath returns where a rejected candidate is kept for inspection.
func (s *Store) failedPath(decl declare.Declaration, version int) string {
	p := s.EntryPath(decl)
	return strings.TrimSuffix(p, ".go") + fmt.Sprintf(".v%02d_failed.go", version)
}

// Lookup returns the entry for checksum if one exists and still matches.
// A stale or unreadable entry is a miss, never an error. The caller's
// current context fingerprints let an indexed-but-stale entry miss fast,
// without reading the entry file.
func (s *Store) Lookup(decl declare.Declaration, checksum string, fingerprints map[string]uint64) (*Entry, bool) {
	path := s.EntryPath(decl)

	if s.db != nil {
		var dbPath string
		err := s.db.QueryRow(
			`SELECT entry_path FROM entries WHERE checksum = ? AND tests_passed = 1`,
			checksum).Scan(&dbPath)
		switch err {
		case nil:
			path = dbPath
		case sql.ErrNoRows:
			// No row for this checksum. If the index still describes this
			// declaration's on-disk entry and that entry was built from
			// different context files, the file scan cannot match.
			if s.contextChanged(decl, fingerprints) {
				logging.CacheDebug("fingerprint probe: context changed for %s", decl.Name)
				return nil, false
			}
			// Otherwise fall through to the file scan so a rebuilt index
			// never hides valid entries.
		default:
			logging.CacheWarn("index lookup failed, scanning entry file: %v", err)
		}
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	entry, err := ParseEntry(string(content))
	if err != nil {
		logging.CacheWarn("unparseable cache entry %s: %v", path, err)
		return nil, false
	}
	if entry.Checksum != checksum {
		logging.CacheDebug("checksum mismatch for %s: cached=%s want=%s",
			decl.Name, short(entry.Checksum), short(checksum))
		return nil, false
	}

	entry.Path = path
	s.loadTrace(entry)
	logging.Cache("Cache hit: %s (version %d)", decl.Name, entry.Version)
	return entry, true
}

// Store writes a validated entry, superseding any prior entry for the same
// declaration. The file write is atomic (temp file + rename) so a reader
// never observes a partial entry. Index failures degrade, never fail.
func (s *Store) Store(decl declare.Declaration, entry *Entry, fingerprints map[string]uint64) error {
	entry.Path = s.EntryPath(decl)

	if err := writeAtomic(entry.Path, entry.Render()); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	s.index(entry)
	s.indexFingerprints(entry.Checksum, fingerprints)

	logging.Cache("Stored entry: %s version=%d checksum=%s",
		entry.Name, entry.Version, short(entry.Checksum))
	return nil
}

// StoreFailed keeps a rejected candidate alongside the entry path for
// post-mortems. Best effort only.
func (s *Store) StoreFailed(decl declare.Declaration, entry *Entry) {
	path := s.failedPath(decl, entry.Version)
	if err := writeAtomic(path, entry.Render()); err != nil {
		logging.CacheWarn("could not keep failed candidate: %v", err)
		return
	}
	logging.CacheDebug("Kept failed candidate: %s", path)
}

// ListEntry is one row of cache history.
type ListEntry struct {
	Checksum    string
	Name        string
	DeclFile    string
	Version     int
	CreatedAt   time.Time
	TestsPassed bool
	Path        string
}

// List returns all indexed entries, newest first.
func (s *Store) List() ([]ListEntry, error) {
	if s.db == nil {
		return nil, fmt.Errorf("cache index unavailable")
	}
	rows, err := s.db.Query(
		`SELECT checksum, name, decl_file, version, created_at, tests_passed, entry_path
		 FROM entries ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ListEntry
	for rows.Next() {
		var e ListEntry
		var created string
		var passed int
		if err := rows.Scan(&e.Checksum, &e.Name, &e.DeclFile, &e.Version, &created, &passed, &e.Path); err != nil {
			return nil, err
		}
		e.TestsPassed = passed == 1
		e.CreatedAt, _ = time.Parse(time.RFC3339, created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Clear removes all entries and index rows.
func (s *Store) Clear() error {
	if s.db != nil {
		if _, err := s.db.Exec(`DELETE FROM entries`); err != nil {
			logging.CacheWarn("failed to clear index: %v", err)
		}
		if _, err := s.db.Exec(`DELETE FROM fingerprints`); err != nil {
			logging.CacheWarn("failed to clear fingerprints: %v", err)
		}
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(s.dir, e.Name())); err != nil {
			return err
		}
	}
	logging.Cache("Cache cleared")
	return nil
}

// index records entry metadata; the entry file stays the source of truth
// for code, so losing the index never loses implementations.
func (s *Store) index(entry *Entry) {
	if s.db == nil {
		return
	}
	passed := 0
	if entry.TestsPassed {
		passed = 1
	}
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO entries
		 (checksum, name, decl_file, package, version, created_at, tests_passed, attempt_id, trace, entry_path)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Checksum, entry.Name, entry.DeclFile, entry.Package, entry.Version,
		entry.CreatedAt.UTC().Format(time.RFC3339), passed, entry.AttemptID,
		strings.Join(entry.Trace, "\n"), entry.Path)
	if err != nil {
		logging.CacheWarn("failed to index entry: %v", err)
	}
}

// contextChanged probes the stored fingerprints for this declaration's
// indexed entry against the caller's current context files. True means the
// on-disk entry was built from different context and cannot match the wanted
// checksum. Any index gap answers false, so a lost index still falls back to
// the file scan. Store writes the entry file and its index row together, so
// a present row describes the file on disk.
func (s *Store) contextChanged(decl declare.Declaration, current map[string]uint64) bool {
	if s.db == nil || len(current) == 0 {
		return false
	}
	var indexed string
	err := s.db.QueryRow(
		`SELECT checksum FROM entries WHERE name = ? AND decl_file = ? AND tests_passed = 1`,
		decl.Name, decl.File).Scan(&indexed)
	if err != nil {
		return false
	}
	rows, err := s.db.Query(`SELECT file, fp FROM fingerprints WHERE checksum = ?`, indexed)
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var file, fp string
		if rows.Scan(&file, &fp) != nil {
			return false
		}
		if fmt.Sprintf("%016x", current[file]) != fp {
			return true
		}
	}
	return false
}

func (s *Store) indexFingerprints(checksum string, fps map[string]uint64) {
	if s.db == nil || len(fps) == 0 {
		return
	}
	for file, fp := range fps {
		_, err := s.db.Exec(
			`INSERT OR REPLACE INTO fingerprints (checksum, file, fp) VALUES (?, ?, ?)`,
			checksum, file, fmt.Sprintf("%016x", fp))
		if err != nil {
			logging.CacheWarn("failed to index fingerprint: %v", err)
			return
		}
	}
}

// loadTrace restores the rationale trace from the index; entry files carry
// it only as comments.
func (s *Store) loadTrace(entry *Entry) {
	if s.db == nil {
		return
	}
	var trace string
	err := s.db.QueryRow(`SELECT trace FROM entries WHERE checksum = ?`, entry.Checksum).Scan(&trace)
	if err == nil && trace != "" {
		entry.Trace = strings.Split(trace, "\n")
	}
}

// short truncates a checksum for log lines. Hand-edited or truncated entry
// headers may carry fewer than twelve characters.
func short(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}

// writeAtomic writes content so readers see either the old file or the new
// one, never a partial write.
func writeAtomic(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".jitgen-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
