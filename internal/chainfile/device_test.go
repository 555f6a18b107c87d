package chainfile

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestDevice(t *testing.T) (*Device, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "chain.data")
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)
	t.Cleanup(func() { _ = file.Close() })

	dev, err := NewDevice(file, zaptest.NewLogger(t))
	require.NoError(t, err)
	return dev, path
}

func TestDevice_InitEmpty(t *testing.T) {
	dev, path := newTestDevice(t)
	require.NoError(t, dev.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, make([]byte, HeaderSize), raw)
}

func TestDevice_HeaderPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chain.data")

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)
	dev, err := NewDevice(file, zaptest.NewLogger(t))
	require.NoError(t, err)
	dev.SetHeadOfChain(123)
	require.NoError(t, dev.Close())
	require.NoError(t, file.Close())

	file, err = os.OpenFile(path, os.O_RDWR, 0o644)
	require.NoError(t, err)
	defer file.Close()
	dev, err = NewDevice(file, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.EqualValues(t, 123, dev.HeadOfChain())
}

func TestDevice_IndexRoundTrip(t *testing.T) {
	dev, _ := newTestDevice(t)

	_, err := dev.SeekEnd()
	require.NoError(t, err)
	require.NoError(t, dev.WriteIndex([]byte("abc"), 42))

	require.NoError(t, dev.Reset())
	kind, err := dev.Peek()
	require.NoError(t, err)
	require.Equal(t, KindIndex, kind)

	idx, err := dev.ReadIndex()
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), idx.Key)
	require.EqualValues(t, 42, idx.DataPos)

	pos, err := dev.Position()
	require.NoError(t, err)
	require.Equal(t, int64(HeaderSize)+IndexSize([]byte("abc")), pos)
}

func TestDevice_JumpRoundTrip(t *testing.T) {
	dev, _ := newTestDevice(t)

	_, err := dev.SeekEnd()
	require.NoError(t, err)
	require.NoError(t, dev.WriteJump(77))

	require.NoError(t, dev.Reset())
	kind, err := dev.Peek()
	require.NoError(t, err)
	require.Equal(t, KindJump, kind)

	next, err := dev.ReadJump()
	require.NoError(t, err)
	require.EqualValues(t, 77, next)
}

func TestDevice_ValueRoundTripRestoresCursor(t *testing.T) {
	dev, _ := newTestDevice(t)

	pos, err := dev.SeekEnd()
	require.NoError(t, err)
	require.NoError(t, dev.WriteValue([]byte("hello")))

	require.NoError(t, dev.Reset())
	before, err := dev.Position()
	require.NoError(t, err)

	value, err := dev.ReadValue(pos)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), value)

	after, err := dev.Position()
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestDevice_ValueLengthTags(t *testing.T) {
	tests := []struct {
		name   string
		length int
		tag    byte
	}{
		{"empty", 0, lengthTag1},
		{"one byte max", 254, lengthTag1},
		{"two byte min", 255, lengthTag2},
		{"two byte max", 65534, lengthTag2},
		{"four byte min", 65535, lengthTag4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev, path := newTestDevice(t)

			pos, err := dev.SeekEnd()
			require.NoError(t, err)
			value := bytes.Repeat([]byte{0xAB}, tt.length)
			require.NoError(t, dev.WriteValue(value))

			raw, err := os.ReadFile(path)
			require.NoError(t, err)
			require.Equal(t, typeTagRaw, raw[pos])
			require.Equal(t, tt.tag, raw[pos+1])
			require.Len(t, raw, int(pos+ValueSize(value)))

			got, err := dev.ReadValue(pos)
			require.NoError(t, err)
			require.Equal(t, value, got)
		})
	}
}

func TestDevice_KeyLengthLimits(t *testing.T) {
	dev, _ := newTestDevice(t)

	_, err := dev.SeekEnd()
	require.NoError(t, err)

	require.ErrorIs(t, dev.WriteIndex(nil, 0), ErrKeyLength)
	require.ErrorIs(t, dev.WriteIndex(bytes.Repeat([]byte{'k'}, MaxKeyLength+1), 0), ErrKeyLength)
	require.NoError(t, dev.WriteIndex(bytes.Repeat([]byte{'k'}, MaxKeyLength), 0))
}

func TestDevice_BadLengthTag(t *testing.T) {
	dev, path := newTestDevice(t)
	require.NoError(t, dev.Close())

	rec := []byte{typeTagRaw, 0x05, 0x01, 'x'}
	file, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = file.Write(rec)
	require.NoError(t, err)
	require.NoError(t, file.Close())

	file, err = os.OpenFile(path, os.O_RDWR, 0o644)
	require.NoError(t, err)
	defer file.Close()
	dev, err = NewDevice(file, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = dev.ReadValue(HeaderSize)
	require.ErrorIs(t, err, ErrFormat)
}

func TestDevice_TruncatedIndex(t *testing.T) {
	dev, path := newTestDevice(t)
	require.NoError(t, dev.Close())

	file, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = file.Write([]byte{0x03, 0x01}) // claims a key but the stream ends
	require.NoError(t, err)
	require.NoError(t, file.Close())

	file, err = os.OpenFile(path, os.O_RDWR, 0o644)
	require.NoError(t, err)
	defer file.Close()
	dev, err = NewDevice(file, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = dev.ReadIndex()
	require.ErrorIs(t, err, ErrFormat)
}

func TestDevice_PeekKinds(t *testing.T) {
	tests := []struct {
		name  string
		first byte
		kind  Kind
	}{
		{"eof marker", 0x00, KindEOF},
		{"deleted marker", 0xFE, KindEOF},
		{"jump marker", 0xFF, KindJump},
		{"key length", 'a', KindIndex},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev, _ := newTestDevice(t)

			_, err := dev.SeekEnd()
			require.NoError(t, err)
			_, err = dev.stream.Write([]byte{tt.first})
			require.NoError(t, err)

			require.NoError(t, dev.Reset())
			kind, err := dev.Peek()
			require.NoError(t, err)
			require.Equal(t, tt.kind, kind)

			// peek does not consume
			kind, err = dev.Peek()
			require.NoError(t, err)
			require.Equal(t, tt.kind, kind)
		})
	}
}

func TestDevice_PeekAtEndOfStream(t *testing.T) {
	dev, _ := newTestDevice(t)

	kind, err := dev.Peek()
	require.NoError(t, err)
	require.Equal(t, KindEOF, kind)
}

func TestDevice_ClosedOperations(t *testing.T) {
	dev, _ := newTestDevice(t)
	require.NoError(t, dev.Close())
	require.NoError(t, dev.Close()) // idempotent

	_, err := dev.Peek()
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, dev.WriteJump(0), ErrClosed)
	_, err = dev.ReadValue(HeaderSize)
	require.ErrorIs(t, err, ErrClosed)
}

func TestIndexSize(t *testing.T) {
	require.EqualValues(t, 11, IndexSize([]byte("a")))
	require.EqualValues(t, 13, IndexSize([]byte("abc")))
}

func TestValueSize(t *testing.T) {
	require.EqualValues(t, 3, ValueSize(nil))
	require.EqualValues(t, 4, ValueSize([]byte("1")))
	require.EqualValues(t, 2+2+300, ValueSize(make([]byte, 300)))
	require.EqualValues(t, 2+4+70000, ValueSize(make([]byte, 70000)))
}

func TestJumpEncoding(t *testing.T) {
	dev, path := newTestDevice(t)

	pos, err := dev.SeekEnd()
	require.NoError(t, err)
	require.NoError(t, dev.WriteJump(0x0102030405060708))
	require.NoError(t, dev.Flush())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, byte(0xFF), raw[pos])
	require.EqualValues(t, 0x0102030405060708, binary.LittleEndian.Uint64(raw[pos+1:]))
}
