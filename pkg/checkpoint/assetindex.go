package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"coursemirror/pkg/log"
	"coursemirror/pkg/models"
	"coursemirror/pkg/utils"
)

const (
	assetKeyPrefix = "asset:"   // Prefix for asset URL keys in DB
	assetDBDir     = "asset_db" // Subdirectory name within stateDir for Badger DB files
)

// AssetIndex implements AssetStore using BadgerDB. Keys are normalized
// asset URLs, so a file referenced by several lessons (or several courses)
// is downloaded once and found again on every later crawl.
type AssetIndex struct {
	db       *badger.DB
	log      *logrus.Entry
	keyCount atomic.Int64 // Cached key count for O(1) AssetCount
}

// NewAssetIndex initializes and returns a new AssetIndex
func NewAssetIndex(stateDir string, resume bool, logger *logrus.Entry) (*AssetIndex, error) {
	idx := &AssetIndex{log: logger}

	dbPath := filepath.Join(stateDir, assetDBDir)

	if !resume {
		logger.Warnf("Resume flag is false. REMOVING existing asset index: %s", dbPath)
		if err := os.RemoveAll(dbPath); err != nil {
			logger.Errorf("Failed to remove existing asset index %s: %v", dbPath, err)
		}
	}

	logger.Infof("Initializing asset index at: %s (Resume: %v)", dbPath, resume)

	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("cannot create asset index directory %s: %w", dbPath, err)
	}

	badgerLogger := log.NewBadgerLogrusAdapter(logger.WithField("component", "badgerdb"))
	opts := badger.DefaultOptions(dbPath).
		WithLogger(badgerLogger).
		WithNumVersionsToKeep(1) // Only the latest download state matters

	var err error
	idx.db, err = badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open asset index at %s: %w", dbPath, err)
	}

	// A pending claim only means something while the worker that wrote it
	// is alive, and no workers exist at open time. Anything still pending
	// was interrupted mid-download; demote it so the next claim fetches
	// instead of waiting on a worker that no longer exists.
	if err := idx.reclaimInterruptedClaims(); err != nil {
		logger.Warnf("Failed to sweep interrupted download claims: %v", err)
	}

	// Initialize key count from existing data (matters for resume mode)
	if resume {
		count, err := idx.countKeys()
		if err != nil {
			logger.Warnf("Failed to count existing asset keys on resume: %v", err)
		} else {
			idx.keyCount.Store(int64(count))
			logger.Infof("Loaded existing asset count on resume: %d", count)
		}
	}

	logger.Info("Asset index initialized successfully.")
	return idx, nil
}

// countKeys performs a one-time full key scan (used only during initialization on resume).
func (s *AssetIndex) countKeys() (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// reclaimInterruptedClaims demotes every pending entry to partial. Runs
// once at open, before any worker can hold a live claim.
func (s *AssetIndex) reclaimInterruptedClaims() error {
	type staleClaim struct {
		key   []byte
		entry models.AssetDBEntry
	}
	var found []staleClaim

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(assetKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var decoded models.AssetDBEntry
			errVal := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &decoded)
			})
			if errVal != nil {
				// Unreadable entries are reclaimed by Claim itself
				continue
			}
			if decoded.Status == models.AssetStatusPending {
				found = append(found, staleClaim{key: item.KeyCopy(nil), entry: decoded})
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, sc := range found {
		sc.entry.Status = models.AssetStatusPartial
		data, errJson := json.Marshal(&sc.entry)
		if errJson != nil {
			continue
		}
		if errSet := s.dbUpdate(func(txn *badger.Txn) error {
			return txn.SetEntry(badger.NewEntry(sc.key, data))
		}); errSet != nil {
			return errSet
		}
	}
	if len(found) > 0 {
		s.log.Warnf("Demoted %d interrupted download claim(s) to partial", len(found))
	}
	return nil
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts.
// Concurrent MVCC transactions on overlapping keys can return badger.ErrConflict;
// these resolve in microseconds, so a tight retry loop is sufficient.
func (s *AssetIndex) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := 0; i < maxConflictRetries; i++ {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

// Claim implements the AssetStore interface. The Get-then-Set runs inside
// one transaction, so two workers racing on the same URL resolve to exactly
// one claim.
func (s *AssetIndex) Claim(normalizedURL string, entry *models.AssetDBEntry) (bool, *models.AssetDBEntry, error) {
	if s.db == nil {
		return false, nil, errors.New("asset index not initialized")
	}
	key := []byte(assetKeyPrefix + normalizedURL)

	entryBytes, errJson := json.Marshal(entry)
	if errJson != nil {
		return false, nil, fmt.Errorf("%w: failed to marshal AssetDBEntry for key '%s': %w", utils.ErrParsing, string(key), errJson)
	}

	claimed := false
	var existing *models.AssetDBEntry

	err := s.dbUpdate(func(txn *badger.Txn) error {
		claimed = false
		existing = nil

		item, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			if errSet := txn.SetEntry(badger.NewEntry(key, entryBytes)); errSet != nil {
				return errSet
			}
			claimed = true
			return nil
		}
		if errGet != nil {
			return errGet
		}

		return item.Value(func(val []byte) error {
			var decoded models.AssetDBEntry
			if errDecode := json.Unmarshal(val, &decoded); errDecode != nil {
				// An unreadable entry is reclaimed by the caller
				s.log.Warnf("Failed to unmarshal AssetDBEntry for key '%s': %v. Reclaiming.", string(key), errDecode)
				if errSet := txn.SetEntry(badger.NewEntry(key, entryBytes)); errSet != nil {
					return errSet
				}
				claimed = true
				return nil
			}
			existing = &decoded
			return nil
		})
	})

	if err != nil {
		s.log.WithField("key", string(key)).Errorf("DB Update error in Claim: %v", err)
		return false, nil, fmt.Errorf("%w: claiming asset key '%s': %w", utils.ErrDatabase, string(key), err)
	}
	if claimed && existing == nil {
		s.keyCount.Add(1)
	}

	return claimed, existing, nil
}

// CheckAsset implements the AssetStore interface
func (s *AssetIndex) CheckAsset(normalizedURL string) (models.AssetStatus, *models.AssetDBEntry, error) {
	status := models.AssetStatusUnset
	var entry *models.AssetDBEntry
	key := []byte(assetKeyPrefix + normalizedURL)

	errView := s.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			status = models.AssetStatusUnset
			return nil
		}
		if errGet != nil {
			return fmt.Errorf("%w: failed getting asset key '%s': %w", utils.ErrDatabase, string(key), errGet)
		}

		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				s.log.Warnf("Asset key '%s' found with empty value, invalid state. Treating as unset.", string(key))
				status = models.AssetStatusUnset
				return nil
			}

			var decoded models.AssetDBEntry
			if errJson := json.Unmarshal(val, &decoded); errJson != nil {
				s.log.Warnf("Failed to unmarshal AssetDBEntry for key '%s': %v. Treating as unset.", string(key), errJson)
				status = models.AssetStatusUnset
				return nil
			}

			entry = &decoded
			status = decoded.Status
			return nil
		})
	})

	if errView != nil {
		s.log.Errorf("DB View error in CheckAsset for key '%s': %v", string(key), errView)
		return models.AssetStatusUnset, nil, errView
	}

	return status, entry, nil
}

// UpdateAsset implements the AssetStore interface
func (s *AssetIndex) UpdateAsset(normalizedURL string, entry *models.AssetDBEntry) error {
	if s.db == nil {
		return errors.New("asset index not initialized")
	}
	key := []byte(assetKeyPrefix + normalizedURL)

	entryBytes, errJson := json.Marshal(entry)
	if errJson != nil {
		wrappedErr := fmt.Errorf("%w: failed to marshal AssetDBEntry for key '%s': %w", utils.ErrParsing, string(key), errJson)
		s.log.Error(wrappedErr)
		return wrappedErr
	}

	isNew := false
	err := s.dbUpdate(func(txn *badger.Txn) error {
		_, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			isNew = true
		}
		return txn.SetEntry(badger.NewEntry(key, entryBytes))
	})

	if err != nil {
		s.log.WithField("key", string(key)).Errorf("DB Update error in UpdateAsset: %v", err)
		return fmt.Errorf("%w: failed setting asset status for key '%s': %w", utils.ErrDatabase, string(key), err)
	}
	if isNew {
		s.keyCount.Add(1)
	}

	s.log.Debugf("Updated asset status for key '%s' to '%s'", string(key), entry.Status)
	return nil
}

// AssetCount implements the AssetStore interface.
// Returns the cached key count (O(1)) maintained by atomic increments on writes.
func (s *AssetIndex) AssetCount() (int, error) {
	return int(s.keyCount.Load()), nil
}

// RunGC runs BadgerDB's garbage collection periodically
func (s *AssetIndex) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute // Default interval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info("Asset index GC goroutine started.")

	for {
		select {
		case <-ticker.C:
			if s.db == nil || s.db.IsClosed() {
				s.log.Info("Asset index GC: database is nil or closed, skipping cycle.")
				continue
			}

			s.log.Info("Running asset index value log garbage collection...")
			var err error
			// Loop GC until it returns ErrNoRewrite or another error
			for {
				// Run GC if log is at least 50% reclaimable space
				err = s.db.RunValueLogGC(0.5)
				if err != nil {
					break
				}
				s.log.Info("Asset index GC cycle completed.")
			}

			if errors.Is(err, badger.ErrNoRewrite) {
				s.log.Info("Asset index GC finished (no rewrite needed).")
			} else {
				s.log.Errorf("Asset index GC error: %v", err)
			}

		case <-ctx.Done():
			s.log.Infof("Stopping asset index garbage collection goroutine: %v", ctx.Err())
			return
		}
	}
}

// Close implements the AssetStore interface
func (s *AssetIndex) Close() error {
	if s.db != nil && !s.db.IsClosed() {
		s.log.Info("Closing asset index...")
		if err := s.db.Close(); err != nil {
			s.log.Errorf("Error closing asset index: %v", err)
			return err
		}
		s.log.Info("Asset index closed.")
		return nil
	}
	s.log.Info("Asset index already closed or was not initialized.")
	return nil
}

var _ AssetStore = (*AssetIndex)(nil)
