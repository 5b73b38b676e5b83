package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/foliolabs/folio/internal/domain"
	bolt "go.etcd.io/bbolt"
)

// Bucket names
var (
	bucketSections  = []byte("sections")
	bucketResources = []byte("resources")
	bucketMeta      = []byte("meta")
)

// BoltStore implements domain.PageStore using BoltDB. Keys are namespaced
// by book ID ({bookID}:{unitIndex}, {bookID}:{path}) so all open documents
// can share one store without coordination.
//
// When the database cannot be opened the store degrades to memory-only
// mode: persistence is lost but callers never see a store error.
type BoltStore struct {
	db     *bolt.DB
	logger *slog.Logger

	mu sync.RWMutex // Protects memory cache

	// In-memory cache for hot-path reads (promoted on access)
	cache map[string][]byte
}

// NewBoltStore opens (or creates) the page store under dir. An empty dir
// selects memory-only mode explicitly.
func NewBoltStore(dir string, logger *slog.Logger) *BoltStore {
	if logger == nil {
		logger = slog.Default()
	}

	s := &BoltStore{logger: logger, cache: make(map[string][]byte)}
	if dir == "" {
		// Memory-only mode (no persistence)
		return s
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		logger.Warn("store unavailable, falling back to memory-only", "error", err)
		return s
	}

	dbPath := filepath.Join(dir, "folio.db")
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		logger.Warn("store unavailable, falling back to memory-only", "error", err, "path", dbPath)
		return s
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketSections, bucketResources, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		logger.Warn("store unavailable, falling back to memory-only", "error", err)
		return s
	}

	s.db = db
	return s
}

func (s *BoltStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// === Generic helpers ===

func (s *BoltStore) get(bucket []byte, key string, dest interface{}) bool {
	cacheKey := string(bucket) + ":" + key

	// Check memory cache first
	s.mu.RLock()
	if data, ok := s.cache[cacheKey]; ok {
		s.mu.RUnlock()
		return json.Unmarshal(data, dest) == nil
	}
	s.mu.RUnlock()

	if s.db == nil {
		return false
	}

	// Read from BoltDB
	var data []byte
	s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			data = make([]byte, len(v))
			copy(data, v)
		}
		return nil
	})

	if data == nil {
		return false
	}

	// Promote to memory cache
	s.mu.Lock()
	s.cache[cacheKey] = data
	s.mu.Unlock()

	return json.Unmarshal(data, dest) == nil
}

func (s *BoltStore) set(bucket []byte, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	cacheKey := string(bucket) + ":" + key

	// Update memory cache
	s.mu.Lock()
	s.cache[cacheKey] = data
	s.mu.Unlock()

	if s.db == nil {
		return nil // Memory-only mode
	}

	// Write to BoltDB
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		return b.Put([]byte(key), data)
	})
	if err != nil {
		// Persistence failure degrades silently; the memory tier still holds the value
		s.logger.Warn("store write failed", "key", key, "error", err)
	}
	return nil
}

func (s *BoltStore) delete(bucket []byte, key string) {
	cacheKey := string(bucket) + ":" + key

	// Clear from memory cache
	s.mu.Lock()
	delete(s.cache, cacheKey)
	s.mu.Unlock()

	if s.db == nil {
		return
	}

	s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b != nil {
			b.Delete([]byte(key))
		}
		return nil
	})
}

func (s *BoltStore) deletePrefix(bucket []byte, prefix string) {
	// Clear from memory cache
	s.mu.Lock()
	cachePrefix := string(bucket) + ":" + prefix
	for k := range s.cache {
		if strings.HasPrefix(k, cachePrefix) {
			delete(s.cache, k)
		}
	}
	s.mu.Unlock()

	if s.db == nil {
		return
	}

	// Delete from BoltDB using prefix scan
	s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		prefixBytes := []byte(prefix)
		for k, _ := c.Seek(prefixBytes); k != nil && strings.HasPrefix(string(k), prefix); k, _ = c.Next() {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// === Sections (key: {bookID}:{unitIndex}) ===

func unitKey(bookID string, index int) string {
	return bookID + ":" + strconv.Itoa(index)
}

func (s *BoltStore) GetUnit(bookID string, index int) (*domain.ContentUnit, bool) {
	var unit domain.ContentUnit
	if !s.get(bucketSections, unitKey(bookID, index), &unit) {
		return nil, false
	}
	return &unit, true
}

func (s *BoltStore) PutUnit(unit *domain.ContentUnit) error {
	return s.set(bucketSections, unitKey(unit.BookID, unit.Index), unit)
}

// === Resources (key: {bookID}:{path}) ===

func resourceKey(bookID, path string) string {
	return fmt.Sprintf("%s:%s", bookID, path)
}

func (s *BoltStore) GetResource(bookID, path string) (*domain.SharedResource, bool) {
	var res domain.SharedResource
	if !s.get(bucketResources, resourceKey(bookID, path), &res) {
		return nil, false
	}
	return &res, true
}

func (s *BoltStore) PutResource(res *domain.SharedResource) error {
	return s.set(bucketResources, resourceKey(res.BookID, res.Path), res)
}

// === Metadata (key: {bookID}) ===

func (s *BoltStore) GetMeta(bookID string) ([]byte, bool) {
	var data []byte
	if !s.get(bucketMeta, bookID, &data) {
		return nil, false
	}
	return data, true
}

func (s *BoltStore) PutMeta(bookID string, data []byte) error {
	return s.set(bucketMeta, bookID, data)
}

// === Deletion ===

// DeleteUnit removes a single cached unit.
func (s *BoltStore) DeleteUnit(bookID string, index int) {
	s.delete(bucketSections, unitKey(bookID, index))
}

// DeleteResource removes a single cached resource.
func (s *BoltStore) DeleteResource(bookID, path string) {
	s.delete(bucketResources, resourceKey(bookID, path))
}

// DeleteBook wipes all sections, resources and metadata for one book via
// prefix deletion over the namespaced keys.
func (s *BoltStore) DeleteBook(bookID string) {
	prefix := bookID + ":"
	s.deletePrefix(bucketSections, prefix)
	s.deletePrefix(bucketResources, prefix)
	s.delete(bucketMeta, bookID)
	s.logger.Debug("deleted book from store", "bookID", bookID)
}
