package stringdb

import (
	"fmt"

	"github.com/zendbit/StringDB/internal/chainfile"
)

// cursor the logical position of one reader walking the chain. Several
// cursors may exist per device, each readNext re-seeks the stream. A
// non-zero limit ends the walk before any block at or past that offset, so
// the cursor never observes blocks appended after it was created.
type cursor struct {
	off   int64
	limit int64
}

func newCursor() cursor {
	return cursor{off: chainfile.HeaderSize}
}

// ioDevice composes the low-level device into a linear stream of
// (key, data position) pairs and the atomic insert-batch protocol.
type ioDevice struct {
	dev     *chainfile.Device
	optimal bool // last readNext traversed at least one jump
}

func newIODevice(dev *chainfile.Device) *ioDevice {
	return &ioDevice{dev: dev}
}

// readNext yields the next index record at cur, transparently following jump
// records. ok is false at the end of the chain; the cursor then stays on the
// open jump (or tail) so a later call picks up appended blocks.
func (d *ioDevice) readNext(cur *cursor) (idx chainfile.Index, ok bool, err error) {
	if _, err = d.dev.Seek(cur.off); err != nil {
		return chainfile.Index{}, false, err
	}

	jumps := 0
	for {
		kind, err := d.dev.Peek()
		if err != nil {
			return chainfile.Index{}, false, err
		}

		switch kind {
		case chainfile.KindJump:
			next, err := d.dev.ReadJump()
			if err != nil {
				return chainfile.Index{}, false, err
			}
			if next == 0 {
				// open tail, stay on the jump record
				d.optimal = false
				return chainfile.Index{}, false, nil
			}
			if cur.limit > 0 && next >= cur.limit {
				// the jump leads into a block appended after this cursor
				// was bounded
				d.optimal = false
				return chainfile.Index{}, false, nil
			}
			if _, err := d.dev.Seek(next); err != nil {
				return chainfile.Index{}, false, err
			}
			cur.off = next
			jumps++

		case chainfile.KindEOF:
			d.optimal = false
			return chainfile.Index{}, false, nil

		case chainfile.KindIndex:
			idx, err := d.dev.ReadIndex()
			if err != nil {
				return chainfile.Index{}, false, err
			}
			pos, err := d.dev.Position()
			if err != nil {
				return chainfile.Index{}, false, err
			}
			cur.off = pos
			d.optimal = jumps > 0
			return idx, true, nil

		default:
			return chainfile.Index{}, false, fmt.Errorf("unexpected record kind %v", kind)
		}
	}
}

// tail the stream offset one past the last written byte.
func (d *ioDevice) tail() (int64, error) {
	return d.dev.SeekEnd()
}

// readValue materializes the value record at pos without touching the
// logical iteration state.
func (d *ioDevice) readValue(pos int64) ([]byte, error) {
	return d.dev.ReadValue(pos)
}

// optimalReadingTime one-shot block boundary hint, refreshed by readNext.
func (d *ioDevice) optimalReadingTime() bool {
	return d.optimal
}

// insert commits items as one block: indices, one open jump, then values,
// patching the previous block's jump to the new block's first index.
func (d *ioDevice) insert(items []KV) error {
	// Validate up front so a caller fault leaves the file untouched.
	for _, item := range items {
		if len(item.Key) == 0 || len(item.Key) > chainfile.MaxKeyLength {
			return fmt.Errorf("%w: %d bytes", chainfile.ErrKeyLength, len(item.Key))
		}
		if int64(len(item.Value)) > chainfile.MaxValueLength {
			return fmt.Errorf("%w: %d bytes", chainfile.ErrValueLength, len(item.Value))
		}
	}

	offset, err := d.dev.SeekEnd()
	if err != nil {
		return err
	}

	if prev := d.dev.HeadOfChain(); prev != 0 {
		if _, err := d.dev.Seek(prev); err != nil {
			return err
		}
		if err := d.dev.WriteJump(offset); err != nil {
			return err
		}
		if _, err := d.dev.Seek(offset); err != nil {
			return err
		}
	}

	// First value record lands after every index and the trailing jump.
	dataPos := offset
	for _, item := range items {
		dataPos += chainfile.IndexSize(item.Key)
	}
	dataPos += chainfile.JumpSize

	for _, item := range items {
		if err := d.dev.WriteIndex(item.Key, dataPos); err != nil {
			return err
		}
		dataPos += chainfile.ValueSize(item.Value)
	}

	jumpPos, err := d.dev.Position()
	if err != nil {
		return err
	}
	if err := d.dev.WriteJump(0); err != nil {
		return err
	}
	d.dev.SetHeadOfChain(jumpPos)

	for _, item := range items {
		if err := d.dev.WriteValue(item.Value); err != nil {
			return err
		}
	}
	return nil
}

func (d *ioDevice) close() error {
	return d.dev.Close()
}
