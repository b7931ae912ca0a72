package bstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"github.com/ValentinKolb/kvlog/lib/lockmgr"
	"github.com/ValentinKolb/kvlog/lib/store"
	"github.com/ValentinKolb/kvlog/lib/store/bstore/internal"
	"github.com/boltdb/bolt"
	"github.com/puzpuzpuz/xsync/v3"
	"os"
	"path/filepath"
)

const (
	fileExtension = ".bolt"
	dbDirName     = "db"
)

// HashName returns the hex SHA-256 of a database name
func HashName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:])
}

// DatabasePath derives the file of a database: <dataDir>/db/<h[0:3]>/<h[3:6]>/<h>.bolt
func DatabasePath(dataDir, name string) string {
	h := HashName(name)
	return filepath.Join(dataDir, dbDirName, h[0:3], h[3:6], h+fileExtension)
}

// Manager opens and caches the stores of all databases below one data directory.
//
// Thread-safety: all methods are safe for concurrent use. Concurrent first
// references to the same database create its file exactly once.
type Manager struct {
	dataDir string
	opts    *Options
	stores  *xsync.MapOf[string, *storeImpl]
	locks   lockmgr.ILockManager
}

// NewManager creates a manager for dataDir. opts may be nil.
func NewManager(dataDir string, opts *Options) *Manager {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &Manager{
		dataDir: dataDir,
		opts:    opts,
		stores:  xsync.NewMapOf[string, *storeImpl](),
		locks:   lockmgr.NewLockManager(),
	}
}

// DataDir returns the root directory of the manager
func (m *Manager) DataDir() string {
	return m.dataDir
}

// Open returns the store for name, creating the database file if needed
func (m *Manager) Open(name string) (store.IStore, error) {
	if s, ok := m.stores.Load(name); ok {
		return s, nil
	}

	m.locks.Lock(name)
	defer m.locks.Unlock(name)

	// another goroutine may have opened it while we waited
	if s, ok := m.stores.Load(name); ok {
		return s, nil
	}

	path := DatabasePath(m.dataDir, name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := m.create(path); err != nil {
			return nil, store.Errorf(store.RetCFailed, "create database %q: %v", name, err)
		}
		Logger.Infof("created database %q at %s", name, path)
	} else if err != nil {
		return nil, store.Errorf(store.RetCFailed, "stat database %q: %v", name, err)
	}

	s, err := openStore(name, path, m.opts)
	if err != nil {
		return nil, store.Errorf(store.RetCFailed, "open database %q: %v", name, err)
	}
	m.stores.Store(name, s)
	return s, nil
}

// create writes a fresh database to a temporary sibling file and renames it into place
func (m *Manager) create(path string) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if err := tmp.Close(); err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	// bolt initializes empty files
	db, err := bolt.Open(tmpPath, 0644, &bolt.Options{Timeout: m.opts.Timeout})
	if err != nil {
		return err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(rowsBucket); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(keysBucket); err != nil {
			return err
		}
		// sentinel row (0, 0, 0, null, null, null)
		return tx.Bucket(rowsBucket).Put(internal.EncodeSeq(0), internal.EncodeRow(newOpenRow(0)))
	})
	if closeErr := db.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}

	if err = os.Rename(tmpPath, path); err != nil {
		return err
	}
	return syncDir(dir)
}

// syncDir flushes the directory entry created by the rename
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", dir, err)
	}
	return nil
}

// Close closes all open stores
func (m *Manager) Close() error {
	var firstErr error
	m.stores.Range(func(name string, s *storeImpl) bool {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		m.stores.Delete(name)
		return true
	})
	return firstErr
}
