// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/DesignAgent/services/designer/datatypes"
)

// keyPrefix namespaces session records inside the database.
const keyPrefix = "session/"

// maxConflictRetries bounds the read-modify-write retry loop in Update.
const maxConflictRetries = 5

// lockStripes is the number of per-id writer locks.
const lockStripes = 64

// =============================================================================
// Configuration
// =============================================================================

// BadgerConfig configures the persistent session store.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string `yaml:"path"`

	// InMemory keeps everything in RAM. Used by tests.
	InMemory bool `yaml:"in_memory"`

	// SyncWrites fsyncs every commit.
	SyncWrites bool `yaml:"sync_writes"`

	// GCInterval is how often value log GC runs. Zero disables it.
	GCInterval time.Duration `yaml:"gc_interval"`

	// GCDiscardRatio is the discardable fraction that triggers a rewrite.
	GCDiscardRatio float64 `yaml:"gc_discard_ratio"`

	// Logger receives badger's internal logs. Nil silences them.
	Logger *slog.Logger `yaml:"-"`
}

// DefaultBadgerConfig returns production defaults.
func DefaultBadgerConfig() BadgerConfig {
	return BadgerConfig{
		Path:           "./data/sessions",
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryBadgerConfig returns a config for tests.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

// badgerLogger adapts slog to badger.Logger.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// =============================================================================
// BadgerStore
// =============================================================================

// BadgerStore persists sessions as JSON documents in BadgerDB.
//
// # Description
//
// Each session lives under "session/<id>". Update reads, mutates and writes
// inside one transaction and retries on badger.ErrConflict. Writers to the
// same id are additionally serialised in-process by a striped lock so the
// retry loop only matters when several processes share the directory.
//
// # Assumptions
//
//   - Sessions are small (the message log is the largest field), so JSON
//     encoding each write is acceptable.
type BadgerStore struct {
	db     *badger.DB
	gc     *gcRunner
	locks  [lockStripes]sync.Mutex
	closed atomic.Bool
	opts   options
}

// OpenBadger opens (or creates) a persistent session store.
func OpenBadger(cfg BadgerConfig, opts ...Option) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badger path is required for persistent store")
	}

	var bopts badger.Options
	if cfg.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create session directory %s: %w", cfg.Path, err)
		}
		bopts = badger.DefaultOptions(cfg.Path)
	}
	bopts = bopts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		bopts = bopts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		bopts = bopts.WithLogger(nil)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open session database: %w", err)
	}

	store := &BadgerStore{db: db, opts: buildOptions(opts)}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		store.gc = newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		store.gc.start()
	}
	return store, nil
}

func sessionKey(id string) []byte {
	return []byte(keyPrefix + id)
}

func (b *BadgerStore) lockFor(id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &b.locks[h.Sum32()%lockStripes]
}

func readSession(txn *badger.Txn, id string) (*datatypes.Session, error) {
	item, err := txn.Get(sessionKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", id, err)
	}
	var s datatypes.Session
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &s)
	}); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &s, nil
}

func writeSession(txn *badger.Txn, s *datatypes.Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", s.ID, err)
	}
	return txn.Set(sessionKey(s.ID), raw)
}

// Create implements Store.
func (b *BadgerStore) Create(_ context.Context, id string, image datatypes.ImageRef) (datatypes.Session, error) {
	if b.closed.Load() {
		return datatypes.Session{}, ErrStoreClosed
	}
	if err := datatypes.ValidateSessionID(id); err != nil {
		return datatypes.Session{}, err
	}

	s := datatypes.NewSession(id, image, b.opts.now())
	err := b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(sessionKey(id)); err == nil {
			return fmt.Errorf("%w: %s", ErrSessionExists, id)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return writeSession(txn, &s)
	})
	if err != nil {
		return datatypes.Session{}, err
	}
	return s, nil
}

// Get implements Store.
func (b *BadgerStore) Get(_ context.Context, id string) (datatypes.Session, error) {
	if b.closed.Load() {
		return datatypes.Session{}, ErrStoreClosed
	}
	var out datatypes.Session
	err := b.db.View(func(txn *badger.Txn) error {
		s, err := readSession(txn, id)
		if err != nil {
			return err
		}
		out = *s
		return nil
	})
	return out, err
}

// Update implements Store.
func (b *BadgerStore) Update(ctx context.Context, id string, fn UpdateFunc) (datatypes.Session, error) {
	if b.closed.Load() {
		return datatypes.Session{}, ErrStoreClosed
	}

	mu := b.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	var out datatypes.Session
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err := b.db.Update(func(txn *badger.Txn) error {
			s, err := readSession(txn, id)
			if err != nil {
				return err
			}
			if err := fn(s); err != nil {
				return err
			}
			s.ID = id
			s.UpdatedAt = b.opts.now()
			if err := writeSession(txn, s); err != nil {
				return err
			}
			out = *s
			return nil
		})
		if !errors.Is(err, badger.ErrConflict) {
			return out, err
		}
		if ctx.Err() != nil {
			return datatypes.Session{}, ctx.Err()
		}
	}
	return datatypes.Session{}, fmt.Errorf("update session %s: %w", id, badger.ErrConflict)
}

// Delete implements Store.
func (b *BadgerStore) Delete(_ context.Context, id string) error {
	if b.closed.Load() {
		return ErrStoreClosed
	}

	mu := b.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	return b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(sessionKey(id)); errors.Is(err, badger.ErrKeyNotFound) {
			return notFound(id)
		} else if err != nil {
			return err
		}
		return txn.Delete(sessionKey(id))
	})
}

// List implements Store.
func (b *BadgerStore) List(_ context.Context) ([]datatypes.Session, error) {
	if b.closed.Load() {
		return nil, ErrStoreClosed
	}
	var out []datatypes.Session
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(keyPrefix), PrefetchValues: true, PrefetchSize: 32})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var s datatypes.Session
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &s)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, s)
		}
		return nil
	})
	return out, err
}

// Count implements Store.
func (b *BadgerStore) Count(_ context.Context) (int, error) {
	if b.closed.Load() {
		return 0, ErrStoreClosed
	}
	n := 0
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(keyPrefix)})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Close stops GC and closes the database.
func (b *BadgerStore) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	if b.gc != nil {
		b.gc.stop()
	}
	return b.db.Close()
}

var _ Store = (*BadgerStore)(nil)

// =============================================================================
// Value log GC
// =============================================================================

// gcRunner periodically reclaims value log space.
type gcRunner struct {
	db       *badger.DB
	interval time.Duration
	ratio    float64
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func newGCRunner(db *badger.DB, interval time.Duration, ratio float64, logger *slog.Logger) *gcRunner {
	if ratio <= 0 || ratio > 1 {
		ratio = 0.5
	}
	return &gcRunner{
		db:       db,
		interval: interval,
		ratio:    ratio,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (r *gcRunner) start() {
	go func() {
		defer close(r.doneCh)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stopCh:
				return
			case <-ticker.C:
				// ErrNoRewrite just means there was nothing to collect.
				if err := r.db.RunValueLogGC(r.ratio); err != nil && !errors.Is(err, badger.ErrNoRewrite) && r.logger != nil {
					r.logger.Warn("session store value log GC failed", slog.String("error", err.Error()))
				}
			}
		}
	}()
}

func (r *gcRunner) stop() {
	close(r.stopCh)
	<-r.doneCh
}
