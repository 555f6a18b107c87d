// Package stringdb the append-only key/value database over a jump chain file.
package stringdb

import (
	"errors"

	"go.uber.org/zap"

	"github.com/zendbit/StringDB/internal/chainfile"
)

var (
	ErrClosed = errors.New("stringdb: database is closed")
)

// KV one key/value pair to insert.
type KV struct {
	Key   []byte
	Value []byte
}

// ValueLoader a lazy handle to one stored value. Load materializes the value
// on first call and caches it.
type ValueLoader interface {
	Load() ([]byte, error)
}

// Iterator a single-pass cursor over the database in insertion order.
//
// IMPORTANT: iterators do not provide thread safety, they share the owning
// database's stream cursor.
type Iterator interface {
	// Next advances to the next entry, false at the end or on error.
	Next() bool
	// Key the current key, valid until the next call to Next.
	Key() []byte
	// Value the lazy loader for the current value.
	Value() ValueLoader
	// Err the error that terminated iteration, nil on a clean end.
	Err() error
}

// Databaser the programmatic surface shared by Database and Buffered.
type Databaser interface {
	Insert(key, value []byte) error
	InsertRange(items []KV) error
	Iterator() Iterator
	Close() error
}

// Database the base database: transactional insert batches and lazy
// iteration over a chain file device. Not safe for concurrent use, callers
// serialize through a single owner (see the query manager).
type Database struct {
	dev    *ioDevice
	closed bool

	sugar *zap.SugaredLogger
}

// New opens a database over stream. The stream is owned by the database
// until Close.
func New(stream chainfile.Stream, logger *zap.Logger) (*Database, error) {
	dev, err := chainfile.NewDevice(stream, logger)
	if err != nil {
		return nil, err
	}
	return &Database{
		dev:   newIODevice(dev),
		sugar: logger.Sugar(),
	}, nil
}

// Insert appends one pair as a single-item batch.
func (db *Database) Insert(key, value []byte) error {
	return db.InsertRange([]KV{{Key: key, Value: value}})
}

// InsertRange appends items as one atomic block.
func (db *Database) InsertRange(items []KV) error {
	if db.closed {
		return ErrClosed
	}
	if len(items) == 0 {
		return nil
	}
	if err := db.dev.insert(items); err != nil {
		return err
	}
	db.sugar.Debugw("inserted batch", "items", len(items))
	return nil
}

// Iterator returns a fresh cursor positioned before the first entry.
func (db *Database) Iterator() Iterator {
	return &chainIterator{db: db, cur: newCursor(), pos: begin}
}

// tailIterator returns a cursor bounded to the chain's tail as of this
// call: blocks appended later are not observed. The buffered wrapper uses
// it so a flush of its snapshotted pending entries cannot be delivered a
// second time through the chain.
func (db *Database) tailIterator() Iterator {
	limit, err := db.dev.tail()
	if err != nil {
		return &chainIterator{db: db, pos: end, err: err}
	}
	cur := newCursor()
	cur.limit = limit
	return &chainIterator{db: db, cur: cur, pos: begin}
}

// OptimalReadingTime reports whether the last read crossed a block boundary,
// a hint that the next read starts a new block.
func (db *Database) OptimalReadingTime() bool {
	return db.dev.optimalReadingTime()
}

// Close flushes the chain head into the header and releases the device.
// Close is idempotent.
func (db *Database) Close() error {
	if db.closed {
		return nil
	}
	db.closed = true
	return db.dev.close()
}
