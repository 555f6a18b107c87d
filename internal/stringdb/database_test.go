package stringdb

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zendbit/StringDB/internal/chainfile"
)

func newTestDatabase(t *testing.T) (*Database, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "stringdb.data")
	db := openTestDatabase(t, path)
	return db, path
}

func openTestDatabase(t *testing.T, path string) *Database {
	t.Helper()

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)
	t.Cleanup(func() { _ = file.Close() })

	db, err := New(file, zaptest.NewLogger(t))
	require.NoError(t, err)
	return db
}

func collect(t *testing.T, db Databaser) []KV {
	t.Helper()

	var out []KV
	it := db.Iterator()
	for it.Next() {
		value, err := it.Value().Load()
		require.NoError(t, err)
		out = append(out, KV{Key: it.Key(), Value: value})
	}
	require.NoError(t, it.Err())
	return out
}

func TestDatabase_EmptyIterate(t *testing.T) {
	db, _ := newTestDatabase(t)
	defer db.Close()

	it := db.Iterator()
	require.False(t, it.Next())
	require.NoError(t, it.Err())
}

func TestDatabase_RoundTrip(t *testing.T) {
	db, _ := newTestDatabase(t)
	defer db.Close()

	want := []KV{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("b"), Value: []byte("2")},
		{Key: []byte("c"), Value: []byte("3")},
		{Key: []byte("dd"), Value: []byte{}},
	}
	require.NoError(t, db.Insert(want[0].Key, want[0].Value))
	require.NoError(t, db.InsertRange(want[1:3]))
	require.NoError(t, db.Insert(want[3].Key, want[3].Value))

	require.Equal(t, want, collect(t, db))
}

func TestDatabase_Persistence(t *testing.T) {
	db, path := newTestDatabase(t)

	want := []KV{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("b"), Value: []byte("2")},
	}
	require.NoError(t, db.Insert(want[0].Key, want[0].Value))
	require.NoError(t, db.Insert(want[1].Key, want[1].Value))
	require.NoError(t, db.Close())

	db = openTestDatabase(t, path)
	defer db.Close()
	require.Equal(t, want, collect(t, db))
}

// TestDatabase_BlockLayout checks the exact bytes of one two-item batch:
// indices, one open jump, then values, with the header pointing at the jump.
func TestDatabase_BlockLayout(t *testing.T) {
	db, path := newTestDatabase(t)

	require.NoError(t, db.InsertRange([]KV{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("b"), Value: []byte("2")},
	}))
	require.NoError(t, db.Close())

	// offsets: indices at 8 and 19, jump at 30, values at 39 and 43
	var want []byte
	want = binary.LittleEndian.AppendUint64(want, 30) // header: open jump
	want = append(want, 0x01)                         // key length
	want = binary.LittleEndian.AppendUint64(want, 39) // data position
	want = append(want, 0x01, 'a')                    // type tag, key
	want = append(want, 0x01)
	want = binary.LittleEndian.AppendUint64(want, 43)
	want = append(want, 0x01, 'b')
	want = append(want, 0xFF, 0, 0, 0, 0, 0, 0, 0, 0) // open jump
	want = append(want, 0x01, 0x01, 0x01, '1')        // value records
	want = append(want, 0x01, 0x01, 0x01, '2')

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, want, raw)
}

// TestDatabase_ChainedBlocks checks that a second insert patches the first
// block's jump and that iteration follows the chain.
func TestDatabase_ChainedBlocks(t *testing.T) {
	db, path := newTestDatabase(t)

	require.NoError(t, db.Insert([]byte("a"), []byte("1")))
	require.NoError(t, db.Insert([]byte("b"), []byte("2")))

	want := []KV{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("b"), Value: []byte("2")},
	}
	require.Equal(t, want, collect(t, db))
	require.NoError(t, db.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	// block 1: index at 8, jump at 19, value at 28; block 2 starts at 32
	require.Equal(t, byte(0xFF), raw[19])
	require.EqualValues(t, 32, binary.LittleEndian.Uint64(raw[20:28]))
	// block 2: index at 32, open jump at 43
	require.Equal(t, byte(0xFF), raw[43])
	require.EqualValues(t, 0, binary.LittleEndian.Uint64(raw[44:52]))
	// header points at the open jump
	require.EqualValues(t, 43, binary.LittleEndian.Uint64(raw[:8]))

	db = openTestDatabase(t, path)
	defer db.Close()
	require.Equal(t, want, collect(t, db))
}

func TestDatabase_LoaderIdempotent(t *testing.T) {
	db, _ := newTestDatabase(t)
	defer db.Close()

	require.NoError(t, db.Insert([]byte("a"), []byte("payload")))

	it := db.Iterator()
	require.True(t, it.Next())
	loader := it.Value()

	first, err := loader.Load()
	require.NoError(t, err)
	second, err := loader.Load()
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), first)
	require.Equal(t, first, second)
}

func TestDatabase_KeyLimit(t *testing.T) {
	db, path := newTestDatabase(t)
	defer db.Close()

	require.NoError(t, db.Insert(bytes.Repeat([]byte{'k'}, chainfile.MaxKeyLength), []byte("v")))

	before, err := os.ReadFile(path)
	require.NoError(t, err)

	err = db.Insert(bytes.Repeat([]byte{'k'}, 255), []byte("v"))
	require.ErrorIs(t, err, chainfile.ErrKeyLength)

	// a rejected batch leaves the file untouched
	after, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestDatabase_RejectedBatchIsAtomic(t *testing.T) {
	db, path := newTestDatabase(t)
	defer db.Close()

	before, err := os.ReadFile(path)
	require.NoError(t, err)

	err = db.InsertRange([]KV{
		{Key: []byte("ok"), Value: []byte("1")},
		{Key: nil, Value: []byte("2")},
	})
	require.ErrorIs(t, err, chainfile.ErrKeyLength)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestDatabase_NewIteratorSeesAppends(t *testing.T) {
	db, _ := newTestDatabase(t)
	defer db.Close()

	require.NoError(t, db.Insert([]byte("a"), []byte("1")))
	require.Len(t, collect(t, db), 1)

	require.NoError(t, db.Insert([]byte("b"), []byte("2")))
	require.Len(t, collect(t, db), 2)
}

func TestDatabase_OptimalReadingTime(t *testing.T) {
	db, _ := newTestDatabase(t)
	defer db.Close()

	require.NoError(t, db.Insert([]byte("a"), []byte("1")))
	require.NoError(t, db.Insert([]byte("b"), []byte("2")))

	it := db.Iterator()
	require.True(t, it.Next())
	require.False(t, db.OptimalReadingTime())
	require.True(t, it.Next()) // crossed the jump into block 2
	require.True(t, db.OptimalReadingTime())
}

func TestDatabase_CloseIdempotent(t *testing.T) {
	db, _ := newTestDatabase(t)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())
	require.ErrorIs(t, db.Insert([]byte("a"), []byte("1")), ErrClosed)
}
