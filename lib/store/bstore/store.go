package bstore

import (
	"bytes"
	"fmt"
	"github.com/ValentinKolb/kvlog/lib/store"
	"github.com/ValentinKolb/kvlog/lib/store/bstore/internal"
	"github.com/boltdb/bolt"
	"github.com/lni/dragonboat/v4/logger"
	"time"
)

var Logger = logger.GetLogger("store")

var (
	rowsBucket = []byte("rows")
	keysBucket = []byte("keys")
)

// Options configures how database files are opened
type Options struct {
	// NoSync skips fsync after each commit. Only safe for tests.
	NoSync bool
	// Timeout is the time to wait for the bolt file lock.
	Timeout time.Duration
}

// DefaultOptions returns the default store options
func DefaultOptions() *Options {
	return &Options{
		NoSync:  false,
		Timeout: 1 * time.Second,
	}
}

type storeImpl struct {
	name string
	path string
	db   *bolt.DB
}

// openStore opens an existing database file
func openStore(name, path string, opts *Options) (*storeImpl, error) {
	db, err := bolt.Open(path, 0644, &bolt.Options{Timeout: opts.Timeout})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	db.NoSync = opts.NoSync

	// files created by older versions may lack the index bucket
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(rowsBucket); err != nil {
			return fmt.Errorf("create bucket: %s", err)
		}
		if _, err := tx.CreateBucketIfNotExists(keysBucket); err != nil {
			return fmt.Errorf("create bucket: %s", err)
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &storeImpl{name: name, path: path, db: db}, nil
}

// --------------------------------------------------------------------------
// Transaction Helpers
// --------------------------------------------------------------------------

// getRow reads a row inside a transaction, nil if it does not exist
func getRow(tx *bolt.Tx, logSeq uint64) (*store.Row, error) {
	v := tx.Bucket(rowsBucket).Get(internal.EncodeSeq(logSeq))
	if v == nil {
		return nil, nil
	}
	return internal.DecodeRow(logSeq, v)
}

// putRow writes a row and keeps the key index in line with it.
// old is the previous state of the row or nil if the row is new.
func putRow(tx *bolt.Tx, old, row *store.Row) error {
	keys := tx.Bucket(keysBucket)
	if old != nil && old.Key != nil {
		if err := keys.Delete(internal.EncodeIndexKey(*old.Key, old.Version, old.LogSeq)); err != nil {
			return err
		}
	}
	if row.Key != nil {
		if err := keys.Put(internal.EncodeIndexKey(*row.Key, row.Version, row.LogSeq), []byte{}); err != nil {
			return err
		}
	}
	return tx.Bucket(rowsBucket).Put(internal.EncodeSeq(row.LogSeq), internal.EncodeRow(row))
}

// errLearned is returned when a raw update targets an immutable row
func errLearned(logSeq uint64) error {
	return store.Errorf(store.RetCInvalidSeqOrUnknown, "row %d is learned", logSeq)
}

// newOpenRow returns the initial state of a row
func newOpenRow(logSeq uint64) *store.Row {
	return &store.Row{LogSeq: logSeq}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Name() string {
	return s.name
}

func (s *storeImpl) ReadRow(logSeq uint64) (row *store.Row, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		row, err = getRow(tx, logSeq)
		return err
	})
	return row, err
}

func (s *storeImpl) MaxLogSeq() (logSeq uint64, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		k, _ := tx.Bucket(rowsBucket).Cursor().Last()
		if k == nil {
			return nil
		}
		logSeq, err = internal.DecodeSeq(k)
		return err
	})
	return logSeq, err
}

func (s *storeImpl) InsertOpenRow(logSeq uint64) error {
	_, err := s.Update(logSeq, func(*store.Row) (bool, error) {
		return false, nil
	})
	return err
}

func (s *storeImpl) UpdatePromise(logSeq, proposalSeq uint64) error {
	_, err := s.Update(logSeq, func(row *store.Row) (bool, error) {
		if row.Learned {
			return false, errLearned(logSeq)
		}
		row.PromisedSeq = proposalSeq
		return true, nil
	})
	return err
}

func (s *storeImpl) UpdateAccept(logSeq, proposalSeq uint64, entry store.Entry) error {
	_, err := s.Update(logSeq, func(row *store.Row) (bool, error) {
		if row.Learned {
			return false, errLearned(logSeq)
		}
		row.AcceptedSeq = proposalSeq
		row.Entry = entry
		return true, nil
	})
	return err
}

func (s *storeImpl) MarkLearned(logSeq uint64) error {
	_, err := s.Update(logSeq, func(row *store.Row) (bool, error) {
		row.Learned = true
		row.PromisedSeq = 0
		row.AcceptedSeq = 0
		return true, nil
	})
	return err
}

func (s *storeImpl) Update(logSeq uint64, fn store.RowMutator) (*store.Row, error) {
	var (
		result *store.Row
		fnErr  error
	)

	err := s.db.Update(func(tx *bolt.Tx) error {
		old, err := getRow(tx, logSeq)
		if err != nil {
			return err
		}

		row := newOpenRow(logSeq)
		if old != nil {
			row = old.Clone()
		}

		changed, err := fn(row)
		row.LogSeq = logSeq

		/*
		 A rejected mutation still leaves the row behind: a row exists from the
		 first time any rpc references its slot, which keeps max log seq in line
		 with what peers have seen.
		*/
		if err != nil {
			fnErr = err
			if old == nil {
				return putRow(tx, nil, newOpenRow(logSeq))
			}
			result = old
			return nil
		}

		if changed || old == nil {
			if err := putRow(tx, old, row); err != nil {
				return err
			}
		}
		result = row
		return nil
	})
	if err != nil {
		Logger.Errorf("db %s: update of row %d failed: %v", s.name, logSeq, err)
		return nil, store.Errorf(store.RetCFailed, "update row %d: %v", logSeq, err)
	}
	if fnErr != nil {
		return result, fnErr
	}
	return result.Clone(), nil
}

func (s *storeImpl) KeyLatestSeq(key string) (uint64, error) {
	var versionedSeq, unversionedSeq uint64

	err := s.db.View(func(tx *bolt.Tx) error {
		prefix := internal.KeyPrefix(key)
		c := tx.Bucket(keysBucket).Cursor()

		var (
			bestVersion uint64
			found       bool
		)
		// entries are sorted by (version state, version, seq): the first entry
		// seen for a version is the smallest seq holding that version
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			hasVersion, version, logSeq, err := internal.DecodeIndexKey(prefix, k)
			if err != nil {
				return err
			}
			if !hasVersion {
				unversionedSeq = max(unversionedSeq, logSeq)
				continue
			}
			if !found || version > bestVersion {
				found = true
				bestVersion = version
				versionedSeq = logSeq
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return max(versionedSeq, unversionedSeq), nil
}

func (s *storeImpl) CountKeysPendingAccept(key string) (count uint64, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		prefix := internal.KeyPrefix(key)
		c := tx.Bucket(keysBucket).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			_, _, logSeq, err := internal.DecodeIndexKey(prefix, k)
			if err != nil {
				return err
			}
			row, err := getRow(tx, logSeq)
			if err != nil {
				return err
			}
			if row != nil && !row.Learned {
				count++
			}
		}
		return nil
	})
	return count, err
}

func (s *storeImpl) Close() error {
	return s.db.Close()
}
