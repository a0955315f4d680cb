package diskstore

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// shardFileName returns the canonical name for a payload shard.
func shardFileName(id uint16) string {
	return fmt.Sprintf("shard_%04d.dat", id)
}

// ShardWriter appends payload records to a single active shard file, rolling
// over to a new shard once it would exceed maxBytes. Rolling forward rather
// than rewriting in place keeps every write append-only, so a crash mid-write
// can only ever truncate the tail of the active shard.
type ShardWriter struct {
	dir      string
	maxBytes int64

	activeID uint16
	f        *os.File
	size     int64
}

// OpenShardWriter opens (creating if necessary) the shard identified by
// activeID as the append target, seeking to its current end.
func OpenShardWriter(dir string, activeID uint16, maxBytes int64) (*ShardWriter, error) {
	path := filepath.Join(dir, shardFileName(activeID))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "diskstore: open shard")
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "diskstore: stat shard")
	}
	return &ShardWriter{dir: dir, maxBytes: maxBytes, activeID: activeID, f: f, size: info.Size()}, nil
}

// ActiveShardID reports which shard new writes currently land in.
func (w *ShardWriter) ActiveShardID() uint16 { return w.activeID }

// Append writes one {payloadLen, pixelBytes} record to the active shard,
// rolling to a fresh shard first if payload would overflow maxBytes. It
// returns the shard id and byte offset the payload was written at (the
// offset points at the payload bytes themselves, after the length prefix) so
// the caller can build an IndexRecord locator.
func (w *ShardWriter) Append(payload []byte) (shardID uint16, offset uint32, size uint32, err error) {
	recordLen := int64(4 + len(payload))
	if w.size > 0 && w.size+recordLen > w.maxBytes {
		if err := w.roll(); err != nil {
			return 0, 0, 0, err
		}
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.f.Write(lenBuf[:]); err != nil {
		return 0, 0, 0, errors.Wrap(err, "diskstore: write payload length")
	}
	payloadOffset := w.size + 4
	if _, err := w.f.Write(payload); err != nil {
		return 0, 0, 0, errors.Wrap(err, "diskstore: write payload")
	}
	w.size += recordLen
	return w.activeID, uint32(payloadOffset), uint32(len(payload)), nil
}

// Flush fsyncs the active shard so that index records pointing into it are
// safe to persist.
func (w *ShardWriter) Flush() error {
	if err := w.f.Sync(); err != nil {
		return errors.Wrap(err, "diskstore: fsync shard")
	}
	return nil
}

func (w *ShardWriter) roll() error {
	if err := w.Flush(); err != nil {
		return err
	}
	if err := w.f.Close(); err != nil {
		return errors.Wrap(err, "diskstore: close rolled shard")
	}
	next := w.activeID + 1
	path := filepath.Join(w.dir, shardFileName(next))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrap(err, "diskstore: create next shard")
	}
	w.f = f
	w.activeID = next
	w.size = 0
	return nil
}

// Close releases the underlying file handle.
func (w *ShardWriter) Close() error {
	if w.f == nil {
		return nil
	}
	return w.f.Close()
}

// ReadPayload hydrates a single record's bytes from shard `shardID` at
// `offset` (pointing past the length prefix, as returned by Append) with the
// given declared size. The on-disk length prefix is cross-checked against
// size so a truncated or corrupted shard surfaces as an error rather than a
// silently wrong read.
func ReadPayload(dir string, shardID uint16, offset uint32, size uint32) ([]byte, error) {
	path := filepath.Join(dir, shardFileName(shardID))
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "diskstore: open shard for read")
	}
	defer f.Close()

	if offset < 4 {
		return nil, errors.New("diskstore: invalid payload offset")
	}
	lenBuf := make([]byte, 4)
	if _, err := f.ReadAt(lenBuf, int64(offset)-4); err != nil {
		return nil, errors.Wrap(err, "diskstore: read payload length prefix")
	}
	declared := binary.BigEndian.Uint32(lenBuf)
	if declared != size {
		return nil, errors.Errorf("diskstore: payload length mismatch: index says %d, shard says %d", size, declared)
	}

	buf := make([]byte, size)
	if _, err := f.ReadAt(buf, int64(offset)); err != nil {
		return nil, errors.Wrap(err, "diskstore: read payload bytes")
	}
	return buf, nil
}
