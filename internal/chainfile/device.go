// Package chainfile reads and writes the StringDB jump chain format.
package chainfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// Stream a seekable byte stream, usually an *os.File.
type Stream interface {
	io.Reader
	io.Writer
	io.Seeker
}

type syncer interface {
	Sync() error
}

// Device the low-level reader/writer. It owns the stream cursor and is not
// safe for concurrent use.
type Device struct {
	stream Stream
	head   int64 // offset of the open jump record, 0 if none
	closed bool

	sugar *zap.SugaredLogger
}

// NewDevice opens stream, initializing or validating the 8 byte header.
func NewDevice(stream Stream, logger *zap.Logger) (*Device, error) {
	d := &Device{
		stream: stream,
		sugar:  logger.Sugar(),
	}

	size, err := stream.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}

	if size < HeaderSize {
		if _, err := stream.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		var zero [HeaderSize]byte
		if _, err := stream.Write(zero[:]); err != nil {
			return nil, err
		}
		d.sugar.Debugw("initialized empty chain file")
	} else {
		if _, err := stream.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		var hdr [HeaderSize]byte
		if _, err := io.ReadFull(stream, hdr[:]); err != nil {
			return nil, fmt.Errorf("read header: %w", err)
		}
		d.head = int64(binary.LittleEndian.Uint64(hdr[:]))
		d.sugar.Debugw("opened chain file", "size", size, "head", d.head)
	}

	if err := d.Reset(); err != nil {
		return nil, err
	}
	return d, nil
}

// HeadOfChain the offset of the open jump record, 0 if no block was written.
func (d *Device) HeadOfChain() int64 {
	return d.head
}

// SetHeadOfChain records p as the open jump record. The header is rewritten
// on Close.
func (d *Device) SetHeadOfChain(p int64) {
	d.head = p
}

// Reset seeks the cursor to the first record.
func (d *Device) Reset() error {
	_, err := d.Seek(HeaderSize)
	return err
}

// Seek moves the cursor to the absolute offset p.
func (d *Device) Seek(p int64) (int64, error) {
	if d.closed {
		return 0, ErrClosed
	}
	if p < 0 {
		return 0, fmt.Errorf("%w: %d", ErrSeekRange, p)
	}
	return d.stream.Seek(p, io.SeekStart)
}

// SeekEnd moves the cursor to the tail of the stream.
func (d *Device) SeekEnd() (int64, error) {
	if d.closed {
		return 0, ErrClosed
	}
	return d.stream.Seek(0, io.SeekEnd)
}

// Position reports the current cursor offset.
func (d *Device) Position() (int64, error) {
	if d.closed {
		return 0, ErrClosed
	}
	return d.stream.Seek(0, io.SeekCurrent)
}

// Peek reads the record marker under the cursor without consuming it.
func (d *Device) Peek() (Kind, error) {
	if d.closed {
		return KindEOF, ErrClosed
	}

	var b [1]byte
	n, err := d.stream.Read(b[:])
	if n == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			return KindEOF, nil
		}
		return KindEOF, err
	}
	if _, err := d.stream.Seek(-1, io.SeekCurrent); err != nil {
		return KindEOF, err
	}

	switch b[0] {
	case markerEOF, markerDeleted:
		return KindEOF, nil
	case markerJump:
		return KindJump, nil
	}
	return KindIndex, nil
}

// ReadIndex decodes the index record under the cursor.
func (d *Device) ReadIndex() (Index, error) {
	if d.closed {
		return Index{}, ErrClosed
	}

	var fixed [10]byte // len + data_pos + type tag
	if err := d.readFull(fixed[:]); err != nil {
		return Index{}, err
	}

	keyLen := fixed[0]
	if keyLen == markerEOF || keyLen == markerDeleted || keyLen == markerJump {
		return Index{}, fmt.Errorf("%w: key length byte 0x%02X", ErrFormat, keyLen)
	}

	idx := Index{
		Key:     make([]byte, keyLen),
		DataPos: int64(binary.LittleEndian.Uint64(fixed[1:9])),
	}
	if err := d.readFull(idx.Key); err != nil {
		return Index{}, err
	}
	return idx, nil
}

// ReadValue decodes the value record at the absolute offset p. The cursor is
// restored afterwards, value reads never move the logical read position.
func (d *Device) ReadValue(p int64) ([]byte, error) {
	saved, err := d.Position()
	if err != nil {
		return nil, err
	}
	if _, err := d.Seek(p); err != nil {
		return nil, err
	}

	value, err := d.readValueHere()

	if _, serr := d.Seek(saved); serr != nil && err == nil {
		err = serr
	}
	return value, err
}

func (d *Device) readValueHere() ([]byte, error) {
	var tags [2]byte // type tag + length tag
	if err := d.readFull(tags[:]); err != nil {
		return nil, err
	}

	length, err := d.readLength(tags[1])
	if err != nil {
		return nil, err
	}

	value := make([]byte, length)
	if err := d.readFull(value); err != nil {
		return nil, err
	}
	return value, nil
}

func (d *Device) readLength(tag byte) (int, error) {
	switch tag {
	case lengthTag1:
		var b [1]byte
		if err := d.readFull(b[:]); err != nil {
			return 0, err
		}
		return int(b[0]), nil
	case lengthTag2:
		var b [2]byte
		if err := d.readFull(b[:]); err != nil {
			return 0, err
		}
		return int(binary.LittleEndian.Uint16(b[:])), nil
	case lengthTag4:
		var b [4]byte
		if err := d.readFull(b[:]); err != nil {
			return 0, err
		}
		return int(binary.LittleEndian.Uint32(b[:])), nil
	}
	return 0, fmt.Errorf("%w: length tag 0x%02X", ErrFormat, tag)
}

// ReadJump decodes the jump record under the cursor and returns the next
// block offset, 0 for the open tail.
func (d *Device) ReadJump() (int64, error) {
	if d.closed {
		return 0, ErrClosed
	}

	var rec [JumpSize]byte
	if err := d.readFull(rec[:]); err != nil {
		return 0, err
	}
	if rec[0] != markerJump {
		return 0, fmt.Errorf("%w: jump marker 0x%02X", ErrFormat, rec[0])
	}
	return int64(binary.LittleEndian.Uint64(rec[1:])), nil
}

// WriteJump writes a jump record pointing at p.
func (d *Device) WriteJump(p int64) error {
	if d.closed {
		return ErrClosed
	}

	var rec [JumpSize]byte
	rec[0] = markerJump
	binary.LittleEndian.PutUint64(rec[1:], uint64(p))
	_, err := d.stream.Write(rec[:])
	return err
}

// WriteIndex writes an index record mapping key to the value record at dataPos.
func (d *Device) WriteIndex(key []byte, dataPos int64) error {
	if d.closed {
		return ErrClosed
	}
	if len(key) == 0 || len(key) > MaxKeyLength {
		return fmt.Errorf("%w: %d bytes", ErrKeyLength, len(key))
	}

	rec := make([]byte, 0, IndexSize(key))
	rec = append(rec, byte(len(key)))
	rec = binary.LittleEndian.AppendUint64(rec, uint64(dataPos))
	rec = append(rec, typeTagRaw)
	rec = append(rec, key...)
	_, err := d.stream.Write(rec)
	return err
}

// WriteValue writes a length-prefixed value record.
func (d *Device) WriteValue(value []byte) error {
	if d.closed {
		return ErrClosed
	}
	if int64(len(value)) > MaxValueLength {
		return fmt.Errorf("%w: %d bytes", ErrValueLength, len(value))
	}

	rec := make([]byte, 0, ValueSize(value))
	rec = append(rec, typeTagRaw)
	switch {
	case len(value) < 0xFF:
		rec = append(rec, lengthTag1, byte(len(value)))
	case len(value) < 0xFFFF:
		rec = append(rec, lengthTag2)
		rec = binary.LittleEndian.AppendUint16(rec, uint16(len(value)))
	default:
		rec = append(rec, lengthTag4)
		rec = binary.LittleEndian.AppendUint32(rec, uint32(len(value)))
	}
	rec = append(rec, value...)
	_, err := d.stream.Write(rec)
	return err
}

// Flush pushes buffered writes to stable storage when the stream supports it.
func (d *Device) Flush() error {
	if d.closed {
		return ErrClosed
	}
	if s, ok := d.stream.(syncer); ok {
		return s.Sync()
	}
	return nil
}

// Close writes the head-of-chain offset back into the header and flushes.
// Close is idempotent.
func (d *Device) Close() error {
	if d.closed {
		return nil
	}

	var hdr [HeaderSize]byte
	binary.LittleEndian.PutUint64(hdr[:], uint64(d.head))
	if _, err := d.stream.Seek(0, io.SeekStart); err != nil {
		d.closed = true
		return err
	}
	if _, err := d.stream.Write(hdr[:]); err != nil {
		d.closed = true
		return err
	}
	err := d.Flush()
	d.closed = true
	d.sugar.Debugw("closed chain file", "head", d.head)
	return err
}

// readFull reads exactly len(buf) bytes, a short read is a format error.
func (d *Device) readFull(buf []byte) error {
	if _, err := io.ReadFull(d.stream, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: truncated record: %v", ErrFormat, err)
		}
		return err
	}
	return nil
}
