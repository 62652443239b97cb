// Package persist implements a badger-backed key-value contract:
// "persist.media.<criterion>" -> i32, with a deliberately reproduced
// single-work-item debounced save (see DESIGN.md's Open Questions entry
// for why the overwrite behavior is kept rather than fixed).
package persist

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/openvela/mediad/internal/errors"
	"github.com/openvela/mediad/internal/logger"
)

// Store wraps a badger KV database with a deliberately single-slot
// debounced save: only one deferred work item exists for the whole
// store. A second criterion changing within the debounce window
// overwrites the first's pending (key, value) pair before the timer
// fires, so the first write is silently lost. This is reproduced
// deliberately, not as an oversight — see DESIGN.md.
type Store struct {
	db       *badger.DB
	debounce time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	pending struct {
		key   string
		value int32
		ok    bool
	}
}

// Open opens (or creates) a badger database rooted at dir with the
// given debounce delay for deferred saves.
func Open(dir string, debounce time.Duration) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.NewIOError("persist.open", err)
	}
	return &Store{db: db, debounce: debounce}, nil
}

// Close flushes any pending debounced write before closing the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		if s.pending.ok {
			s.flushLocked()
		}
	}
	s.mu.Unlock()
	return s.db.Close()
}

// Get reads a persisted i32 by its full key ("persist.media.<criterion>").
// Returns NotFoundError if never written.
func (s *Store) Get(key string) (int32, error) {
	var v int32
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return errors.NewNotFoundError("persist.get", nil)
			}
			return errors.NewIOError("persist.get", err)
		}
		return item.Value(func(val []byte) error {
			if len(val) != 4 {
				return errors.NewIOError("persist.get", nil)
			}
			v = int32(binary.NativeEndian.Uint32(val))
			return nil
		})
	})
	return v, err
}

// ScheduleSave debounces a write of key=value, reproducing the single
// process-wide work item: a pending write not yet flushed is replaced
// outright, not queued, so it is lost if another key is scheduled
// before the timer fires.
func (s *Store) ScheduleSave(key string, value int32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending.key = key
	s.pending.value = value
	s.pending.ok = true

	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.pending.ok {
			s.flushLocked()
		}
	})
}

func (s *Store) flushLocked() {
	key, value := s.pending.key, s.pending.value
	s.pending.ok = false
	var buf [4]byte
	binary.NativeEndian.PutUint32(buf[:], uint32(value))
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), buf[:])
	})
	if err != nil {
		logger.Logger().Error("persist debounced save failed", "key", key, "error", err)
	}
}

// FlushNow forces an immediate flush of any pending debounced write,
// used by shutdown paths and tests; it does not wait out the debounce.
func (s *Store) FlushNow(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	if s.pending.ok {
		s.flushLocked()
	}
}
