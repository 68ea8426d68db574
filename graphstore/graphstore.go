/*
	Copyright 2025 Google Inc.

	Licensed under the Apache License, Version 2.0 (the "License");
	you may not use this file except in compliance with the License.
	You may obtain a copy of the License at

			http://www.apache.org/licenses/LICENSE-2.0

	Unless required by applicable law or agreed to in writing, software
	distributed under the License is distributed on an "AS IS" BASIS,
	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
	See the License for the specific language governing permissions and
	limitations under the License.
*/

// Package graphstore persists built execution graphs in a badger database,
// keyed by a digest of the traces they were built from.
package graphstore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ilhamster/execgraph/graph"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrNotFound is returned by Get when no graph is stored under a key.
var ErrNotFound = errors.New("graph not found")

const keyPrefix = "graph/"

// Key identifies a stored graph.
type Key [sha256.Size]byte

func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

func (k Key) bytes() []byte {
	return append([]byte(keyPrefix), k[:]...)
}

// Digest returns the Key of the graph built from the specified traces, given
// as a map from host name to trace file path, with the specified
// construction settings.  The key covers settings, host names and trace
// contents, not paths.  settings must encode deterministically; use a
// struct, not a map.
func Digest(traces map[string]string, settings any) (Key, error) {
	h := sha256.New()
	enc, err := msgpack.Marshal(settings)
	if err != nil {
		return Key{}, fmt.Errorf("failed to digest settings: %w", err)
	}
	fmt.Fprintf(h, "%d:", len(enc))
	h.Write(enc)
	for _, host := range slices.Sorted(maps.Keys(traces)) {
		f, err := os.Open(traces[host])
		if err != nil {
			return Key{}, fmt.Errorf("failed to digest trace of %s: %w", host, err)
		}
		fmt.Fprintf(h, "%d:%s", len(host), host)
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return Key{}, fmt.Errorf("failed to digest trace of %s: %w", host, err)
		}
		// Separates this trace's content from the next host's name.
		h.Write([]byte{0})
	}
	var ret Key
	h.Sum(ret[:0])
	return ret, nil
}

// Record is a stored graph with a summary of its construction.
type Record struct {
	Hosts          []string        `msgpack:"hosts"`
	Events         int             `msgpack:"events"`
	FlowsLinked    int             `msgpack:"flows_linked"`
	FlowsUnmatched int             `msgpack:"flows_unmatched"`
	Stored         time.Time       `msgpack:"stored"`
	Snapshot       *graph.Snapshot `msgpack:"snapshot"`
}

// Graph rebuilds the stored graph.
func (r *Record) Graph() (*graph.Graph, error) {
	if r.Snapshot == nil {
		return nil, errors.New("record has no graph")
	}
	return graph.FromSnapshot(r.Snapshot)
}

type options struct {
	inMemory   bool
	syncWrites bool
	logger     *slog.Logger
}

// Option configures a Store.
type Option func(opts *options)

// InMemory keeps the store in memory; nothing is written to disk.
func InMemory() Option {
	return func(opts *options) {
		opts.inMemory = true
	}
}

// WithSyncWrites syncs every write to disk before it returns.
func WithSyncWrites() Option {
	return func(opts *options) {
		opts.syncWrites = true
	}
}

// WithLogger routes badger's own logging to logger.  By default, badger's
// logging is discarded.
func WithLogger(logger *slog.Logger) Option {
	return func(opts *options) {
		opts.logger = logger
	}
}

func buildOptions(opts ...Option) *options {
	ret := &options{}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// badgerLogger adapts a slog.Logger to badger.Logger.
type badgerLogger struct {
	logger *slog.Logger
}

func (bl *badgerLogger) Errorf(format string, args ...any) {
	bl.logger.Error(fmt.Sprintf(format, args...))
}

func (bl *badgerLogger) Warningf(format string, args ...any) {
	bl.logger.Warn(fmt.Sprintf(format, args...))
}

func (bl *badgerLogger) Infof(format string, args ...any) {
	bl.logger.Info(fmt.Sprintf(format, args...))
}

func (bl *badgerLogger) Debugf(format string, args ...any) {
	bl.logger.Debug(fmt.Sprintf(format, args...))
}

// Store is a persistent collection of graphs.  It is safe for concurrent
// use.
type Store struct {
	db *badger.DB
}

// Open opens the store in directory path, creating it if needed.  path is
// ignored for in-memory stores.
func Open(path string, opts ...Option) (*Store, error) {
	o := buildOptions(opts...)
	var bo badger.Options
	if o.inMemory {
		bo = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if path == "" {
			return nil, errors.New("a store path is required")
		}
		if err := os.MkdirAll(path, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create store directory %s: %w", path, err)
		}
		bo = badger.DefaultOptions(path)
	}
	bo = bo.WithSyncWrites(o.syncWrites).WithNumVersionsToKeep(1)
	if o.logger != nil {
		bo = bo.WithLogger(&badgerLogger{o.logger})
	} else {
		bo = bo.WithLogger(nil)
	}
	db, err := badger.Open(bo)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return &Store{db: db}, nil
}

// Put stores rec under key, replacing any previous record.  rec.Stored is
// set if it is zero.
func (s *Store) Put(key Key, rec *Record) error {
	if rec.Stored.IsZero() {
		rec.Stored = time.Now().UTC()
	}
	val, err := msgpack.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode graph %s: %w", key, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key.bytes(), val)
	})
}

// Get returns the record stored under key, or ErrNotFound.
func (s *Store) Get(key Key) (*Record, error) {
	ret := &Record{}
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key.bytes())
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, ret)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read graph %s: %w", key, err)
	}
	return ret, nil
}

// Delete removes the record stored under key, if any.
func (s *Store) Delete(key Key) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key.bytes())
	})
}

// Keys returns the keys of all stored records.
func (s *Store) Keys() ([]Key, error) {
	var ret []Key
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(keyPrefix)})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var k Key
			copy(k[:], it.Item().Key()[len(keyPrefix):])
			ret = append(ret, k)
		}
		return nil
	})
	return ret, err
}

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}
