package stringdb

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/zendbit/StringDB/internal/chainfile"
)

const (
	// MinBufferSize the smallest allowed buffer capacity.
	MinBufferSize = 16
	// DefaultBufferSize the capacity used when the caller passes 0.
	DefaultBufferSize = 4096
)

var ErrBufferSize = errors.New("stringdb: buffer size below minimum")

// Buffered coalesces single inserts into one underlying batch per flush.
// Not safe for concurrent use; inserts interleaved with a live iterator
// must be serialized by the caller (the query manager's worker lock does
// this), and the iterator keeps delivering its construction-time snapshot.
type Buffered struct {
	inner      Databaser
	buf        []KV
	n          int
	closeInner bool
	closed     bool

	sugar *zap.SugaredLogger
}

// NewBuffered wraps inner with a buffer of size entries (0 selects
// DefaultBufferSize). When closeInner is set, Close also closes inner.
func NewBuffered(inner Databaser, size int, closeInner bool, logger *zap.Logger) (*Buffered, error) {
	if size == 0 {
		size = DefaultBufferSize
	}
	if size < MinBufferSize {
		return nil, fmt.Errorf("%w: %d < %d", ErrBufferSize, size, MinBufferSize)
	}
	return &Buffered{
		inner:      inner,
		buf:        make([]KV, size),
		closeInner: closeInner,
		sugar:      logger.Sugar(),
	}, nil
}

// Insert appends one pair, flushing first when the buffer is full. A key or
// value the chain file can not store is rejected before it is buffered.
func (b *Buffered) Insert(key, value []byte) error {
	if b.closed {
		return ErrClosed
	}
	if len(key) == 0 || len(key) > chainfile.MaxKeyLength {
		return fmt.Errorf("%w: %d bytes", chainfile.ErrKeyLength, len(key))
	}
	if int64(len(value)) > chainfile.MaxValueLength {
		return fmt.Errorf("%w: %d bytes", chainfile.ErrValueLength, len(value))
	}
	if b.n == len(b.buf) {
		if err := b.Flush(); err != nil {
			return err
		}
	}
	b.buf[b.n] = KV{Key: key, Value: value}
	b.n++
	return nil
}

// InsertRange appends items, filling and flushing the buffer as needed.
func (b *Buffered) InsertRange(items []KV) error {
	if b.closed {
		return ErrClosed
	}
	for len(items) > 0 {
		if b.n == len(b.buf) {
			if err := b.Flush(); err != nil {
				return err
			}
		}
		n := copy(b.buf[b.n:], items)
		b.n += n
		items = items[n:]
	}
	return nil
}

// Flush emits the pending entries as one batch and empties the buffer.
func (b *Buffered) Flush() error {
	if b.closed {
		return ErrClosed
	}
	if b.n == 0 {
		return nil
	}
	if err := b.inner.InsertRange(b.buf[:b.n]); err != nil {
		return err
	}
	b.sugar.Debugw("flushed buffer", "items", b.n)
	for i := 0; i < b.n; i++ {
		b.buf[i] = KV{} // release the references
	}
	b.n = 0
	return nil
}

// Len the number of pending entries.
func (b *Buffered) Len() int {
	return b.n
}

// Iterator yields the inner database's entries followed by the pending
// buffered entries. Both halves are pinned at construction: the pending set
// is snapshotted, and a base database's chain walk is bounded to its
// current tail. A flush between construction and exhaustion therefore
// neither disturbs nor duplicates entries already captured in the snapshot.
func (b *Buffered) Iterator() Iterator {
	pending := make([]KV, b.n)
	copy(pending, b.buf[:b.n])

	inner := b.inner.Iterator()
	if db, ok := b.inner.(*Database); ok {
		inner = db.tailIterator()
	}
	return &bufferedIterator{
		inner:   inner,
		pending: pending,
	}
}

// Close flushes and, when configured, closes the inner database. Close is
// idempotent.
func (b *Buffered) Close() error {
	if b.closed {
		return nil
	}
	err := b.Flush()
	b.closed = true
	if b.closeInner {
		if cerr := b.inner.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// bufferedIterator chains the inner iterator with the pending entries.
type bufferedIterator struct {
	inner   Iterator
	pending []KV
	next    int
	current KV
	inBuf   bool
	done    bool
}

func (it *bufferedIterator) Next() bool {
	if it.done {
		return false
	}
	if !it.inBuf {
		if it.inner.Next() {
			return true
		}
		if err := it.inner.Err(); err != nil {
			it.done = true
			return false
		}
		it.inBuf = true
	}
	if it.next >= len(it.pending) {
		it.done = true
		return false
	}
	it.current = it.pending[it.next]
	it.next++
	return true
}

func (it *bufferedIterator) Key() []byte {
	if it.inBuf {
		return it.current.Key
	}
	return it.inner.Key()
}

func (it *bufferedIterator) Value() ValueLoader {
	if it.inBuf {
		return eagerLoader{value: it.current.Value}
	}
	return it.inner.Value()
}

func (it *bufferedIterator) Err() error {
	return it.inner.Err()
}
