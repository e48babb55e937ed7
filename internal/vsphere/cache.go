package vsphere

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// ioCacheMaxAge is how long a cached I/O reading may stand in for a missing
// rollup sample
const ioCacheMaxAge = time.Hour

// IORead is one cached disk/network rollup reading for a VM
type IORead struct {
	VMID      string
	DiskMBps  float64
	NetMBps   float64
	UpdatedAt time.Time
}

// IOCache persists the most recent per-VM I/O readings in SQLite. When a
// collection cycle cannot retrieve a VM's rollup counters (perf manager
// errors, counter not yet rolled up), a recent cached reading is better than
// the zero the planner would otherwise assume.
type IOCache struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
	log  logrus.FieldLogger
}

// DefaultCachePath places the cache database next to the executable,
// falling back to the working directory.
func DefaultCachePath() string {
	exePath, err := os.Executable()
	if err != nil {
		exePath = "."
	}
	return filepath.Join(filepath.Dir(exePath), "fdrs_cache.db")
}

// OpenIOCache opens (creating if needed) the cache database at path
func OpenIOCache(path string, log logrus.FieldLogger) (*IOCache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	c := &IOCache{db: db, path: path, log: log}
	if err := c.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize cache schema: %w", err)
	}
	log.Infof("[IOCache] I/O cache initialized at %s", path)
	return c, nil
}

func (c *IOCache) initSchema() error {
	_, err := c.db.Exec(`
		CREATE TABLE IF NOT EXISTS vm_io_cache (
			vm_id TEXT NOT NULL PRIMARY KEY,
			disk_mbps REAL NOT NULL,
			net_mbps REAL NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create cache table: %w", err)
	}
	_, err = c.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_vm_io_cache_updated
		ON vm_io_cache(updated_at)
	`)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

// Get retrieves the cached reading for a VM, or nil if absent or stale
func (c *IOCache) Get(vmID string) *IORead {
	c.mu.Lock()
	defer c.mu.Unlock()

	var read IORead
	var updatedAtUnix int64
	err := c.db.QueryRow(`
		SELECT vm_id, disk_mbps, net_mbps, updated_at
		FROM vm_io_cache
		WHERE vm_id = ?
	`, vmID).Scan(&read.VMID, &read.DiskMBps, &read.NetMBps, &updatedAtUnix)
	if err != nil {
		if err != sql.ErrNoRows {
			c.log.Warnf("[IOCache] Cache read error for VM %s: %v", vmID, err)
		}
		return nil
	}

	read.UpdatedAt = time.Unix(updatedAtUnix, 0)
	if time.Since(read.UpdatedAt) > ioCacheMaxAge {
		return nil
	}
	return &read
}

// SetBatch stores readings for multiple VMs in a single transaction
func (c *IOCache) SetBatch(reads []IORead) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO vm_io_cache (vm_id, disk_mbps, net_mbps, updated_at)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, read := range reads {
		if _, err := stmt.Exec(read.VMID, read.DiskMBps, read.NetMBps, now); err != nil {
			return fmt.Errorf("failed to cache I/O reading for VM %s: %w", read.VMID, err)
		}
	}
	return tx.Commit()
}

// Cleanup removes entries older than 7 days
func (c *IOCache) Cleanup() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-7 * 24 * time.Hour).Unix()
	result, err := c.db.Exec(`DELETE FROM vm_io_cache WHERE updated_at < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to cleanup cache: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected > 0 {
		c.log.Infof("[IOCache] Cleaned up %d old cache entries", affected)
	}
	return nil
}

// Close closes the database connection
func (c *IOCache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
