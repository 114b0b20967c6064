// Package cache stores generated Zig keyed by the decoded input and the
// generator options, so unchanged modules are not regenerated.
package cache

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/metal0/codegen"
)

var log = commonlog.GetLogger("metal0.cache")

// ErrNotFound indicates no entry exists for a key.
var ErrNotFound = errors.New("cache entry not found")

// schemaVersion is mixed into every key; bump it when generated output
// changes for the same input.
const schemaVersion = "metal0-cache-1"

// Entry is one cached generation result.
type Entry struct {
	ID      string // row identifier
	Key     string
	Zig     []byte
	Report  []byte // canonical CBOR, see codegen.Report.Encode
	Created time.Time
}

// Cache handles SQLite storage for generated modules.
type Cache struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens or creates the cache database at path.
func Open(path string) (*Cache, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating cache dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A single connection keeps :memory: databases alive and serializes
	// writers.
	db.SetMaxOpenConns(1)

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS modules (
		key     TEXT PRIMARY KEY,
		id      TEXT NOT NULL,
		zig     BLOB NOT NULL,
		report  BLOB,
		created INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	log.Debugf("opened cache %s", path)
	return &Cache{db: db, path: path}, nil
}

// Close closes the database connection.
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Key derives the cache key for an input and the options it is generated
// with.
func Key(input []byte, opts codegen.Options) string {
	h := sha256.New()
	h.Write([]byte(schemaVersion))
	h.Write([]byte{0})
	h.Write(input)
	h.Write([]byte{0})

	inline := append([]string(nil), opts.InlineModules...)
	sort.Strings(inline)
	fmt.Fprintf(h, "module=%t;int=%s;runtime=%s;inline=%t:%s",
		opts.ModuleMode, opts.DefaultInt, opts.RuntimeImport,
		opts.InlineModules != nil, strings.Join(inline, ","))
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the entry stored under key, or ErrNotFound.
func (c *Cache) Get(key string) (*Entry, error) {
	e := &Entry{Key: key}
	var created int64
	err := c.db.QueryRow("SELECT id, zig, report, created FROM modules WHERE key = ?", key).
		Scan(&e.ID, &e.Zig, &e.Report, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying cache: %w", err)
	}
	e.Created = time.Unix(0, created)
	log.Debugf("cache hit %s", key)
	return e, nil
}

// Put stores zig and its report under key, replacing any stale entry.
func (c *Cache) Put(key string, zig []byte, report *codegen.Report) (*Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var rep []byte
	if report != nil {
		var err error
		if rep, err = report.Encode(); err != nil {
			return nil, fmt.Errorf("encoding report: %w", err)
		}
	}
	e := &Entry{ID: uuid.NewString(), Key: key, Zig: zig, Report: rep, Created: time.Now()}
	_, err := c.db.Exec(
		"INSERT OR REPLACE INTO modules (key, id, zig, report, created) VALUES (?, ?, ?, ?, ?)",
		e.Key, e.ID, e.Zig, e.Report, e.Created.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("saving cache entry: %w", err)
	}
	return e, nil
}

// Len returns the number of stored entries.
func (c *Cache) Len() (int, error) {
	var n int
	if err := c.db.QueryRow("SELECT COUNT(*) FROM modules").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting cache entries: %w", err)
	}
	return n, nil
}

// Prune deletes entries created before cutoff and returns how many were
// removed.
func (c *Cache) Prune(cutoff time.Time) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.db.Exec("DELETE FROM modules WHERE created < ?", cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("pruning cache: %w", err)
	}
	return res.RowsAffected()
}

// DecodeReport decodes the stored report of e, or returns nil when none
// was stored.
func (e *Entry) DecodeReport() (*codegen.Report, error) {
	if len(e.Report) == 0 {
		return nil, nil
	}
	return codegen.DecodeReport(e.Report)
}
