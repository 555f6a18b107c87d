package stringdb

// position of a cursor-style iterator, as in a classic tree iterator.
type position byte

const (
	begin, onmyway, end position = 0, 1, 2
)

// chainIterator walks the jump chain in insertion order.
type chainIterator struct {
	db  *Database
	cur cursor
	pos position

	key    []byte
	loader *Loader
	err    error
}

func (it *chainIterator) Next() bool {
	if it.pos == end {
		return false
	}
	if it.db.closed {
		it.err = ErrClosed
		it.pos = end
		return false
	}
	it.pos = onmyway

	idx, ok, err := it.db.dev.readNext(&it.cur)
	if err != nil {
		it.err = err
		it.pos = end
		return false
	}
	if !ok {
		it.pos = end
		return false
	}

	it.key = idx.Key
	it.loader = &Loader{dev: it.db.dev, pos: idx.DataPos}
	return true
}

func (it *chainIterator) Key() []byte {
	return it.key
}

func (it *chainIterator) Value() ValueLoader {
	return it.loader
}

func (it *chainIterator) Err() error {
	return it.err
}

// Loader the lazy value handle handed out during iteration. It carries a
// back-reference to the device and must be used under the same serialization
// discipline as the iterator that produced it. Do not keep loaders past the
// database's lifetime.
type Loader struct {
	dev    *ioDevice
	pos    int64
	value  []byte
	loaded bool
}

// Load reads and caches the value. Repeated calls return the cached bytes.
func (l *Loader) Load() ([]byte, error) {
	if l.loaded {
		return l.value, nil
	}
	value, err := l.dev.readValue(l.pos)
	if err != nil {
		return nil, err
	}
	l.value = value
	l.loaded = true
	return value, nil
}

// eagerLoader wraps an in-memory value, used for buffered pending entries.
type eagerLoader struct {
	value []byte
}

func (l eagerLoader) Load() ([]byte, error) {
	return l.value, nil
}
