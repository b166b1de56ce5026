// Package cache persists per-function verdicts between CLI runs. The
// analysis itself is stateless; the cache sits entirely on the CLI side,
// keyed by a hash of the function's canonical form, so unchanged functions
// skip re-analysis and replay their recorded diagnostics.
package cache

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
	_ "modernc.org/sqlite"

	"github.com/veld-lang/veld/internal/diagnostics"
	"github.com/veld-lang/veld/internal/ir"
)

const schema = `
CREATE TABLE IF NOT EXISTS verdicts (
	id         TEXT PRIMARY KEY,
	key        TEXT NOT NULL UNIQUE,
	fn         TEXT NOT NULL,
	ok         INTEGER NOT NULL,
	diags      BLOB,
	created_at TEXT NOT NULL
);
`

// Cache is an open verdict store.
type Cache struct {
	db *sql.DB
}

// Open opens (creating if needed) a verdict store at path.
func Open(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing cache %s: %w", path, err)
	}
	return &Cache{db: db}, nil
}

// Close releases the store.
func (c *Cache) Close() error { return c.db.Close() }

// Key derives the cache key for a function: its name plus a hash of its
// canonical encoding, so any change to contract or body misses.
func Key(fn *ir.Function) (string, error) {
	data, err := fn.Marshal()
	if err != nil {
		return "", fmt.Errorf("encoding %s: %w", fn.Sig.Name, err)
	}
	sum := sha256.Sum256(data)
	return fn.Sig.Name + "-" + hex.EncodeToString(sum[:8]), nil
}

// Lookup returns the recorded diagnostics for key. The second result is
// false on a miss; a hit with no diagnostics means the function was
// accepted.
func (c *Cache) Lookup(key string) ([]*diagnostics.DiagnosticError, bool, error) {
	var blob []byte
	err := c.db.QueryRow(`SELECT diags FROM verdicts WHERE key = ?`, key).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache lookup: %w", err)
	}
	if len(blob) == 0 {
		return nil, true, nil
	}
	var diags []*diagnostics.DiagnosticError
	if err := yaml.Unmarshal(blob, &diags); err != nil {
		return nil, false, fmt.Errorf("cache entry %s is corrupt: %w", key, err)
	}
	return diags, true, nil
}

// Store records the verdict for key, replacing any previous entry.
func (c *Cache) Store(key, fn string, diags []*diagnostics.DiagnosticError) error {
	var blob []byte
	if len(diags) > 0 {
		var err error
		blob, err = yaml.Marshal(diags)
		if err != nil {
			return fmt.Errorf("encoding diagnostics: %w", err)
		}
	}
	_, err := c.db.Exec(
		`INSERT INTO verdicts (id, key, fn, ok, diags, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET ok = excluded.ok, diags = excluded.diags, created_at = excluded.created_at`,
		uuid.NewString(), key, fn, boolInt(len(diags) == 0), blob,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("cache store: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
