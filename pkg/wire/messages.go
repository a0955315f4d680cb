package wire

import (
	"io"

	"github.com/pkg/errors"
)

/* -------------------------------------------------------------------------
   REQUEST_CACHED_DATA: type(1) pad(1) contentId(8)
   ------------------------------------------------------------------------- */

type RequestCachedData struct {
	ContentID uint64
}

func WriteRequestCachedData(w io.Writer, m RequestCachedData) error {
	return writeAll(w, MsgRequestCachedData, uint8(0), m.ContentID)
}

// ReadRequestCachedData reads the body following the already-consumed
// message-type byte.
func ReadRequestCachedData(r io.Reader) (RequestCachedData, error) {
	var pad uint8
	var m RequestCachedData
	if err := readAll(r, &pad, &m.ContentID); err != nil {
		return RequestCachedData{}, err
	}
	return m, nil
}

/* -------------------------------------------------------------------------
   EVICTION_NOTICE: type(1) pad(1) count(2) contentId*count(8 each)
   ------------------------------------------------------------------------- */

type EvictionNotice struct {
	IDs []uint64
}

// WriteEvictionNotice splits ids into MaxEvictionIDsPerMessage-sized chunks,
// emitting one message per chunk.
func WriteEvictionNotice(w io.Writer, ids []uint64) error {
	for len(ids) > 0 {
		n := len(ids)
		if n > MaxEvictionIDsPerMessage {
			n = MaxEvictionIDsPerMessage
		}
		chunk := ids[:n]
		if err := writeAll(w, MsgEvictionNotice, uint8(0), uint16(len(chunk))); err != nil {
			return err
		}
		for _, id := range chunk {
			if err := writeAll(w, id); err != nil {
				return err
			}
		}
		ids = ids[n:]
	}
	return nil
}

func ReadEvictionNotice(r io.Reader) (EvictionNotice, error) {
	var pad uint8
	var count uint16
	if err := readAll(r, &pad, &count); err != nil {
		return EvictionNotice{}, err
	}
	if count > MaxEvictionIDsPerMessage {
		return EvictionNotice{}, errors.Wrapf(ErrProtocolViolation, "eviction notice count %d exceeds max", count)
	}
	ids := make([]uint64, count)
	for i := range ids {
		if err := readAll(r, &ids[i]); err != nil {
			return EvictionNotice{}, err
		}
	}
	return EvictionNotice{IDs: ids}, nil
}

/* -------------------------------------------------------------------------
   HASH_REPORT: type(1) canonical(8) actual(8)
   ------------------------------------------------------------------------- */

type HashReport struct {
	Canonical uint64
	Actual    uint64
}

func WriteHashReport(w io.Writer, m HashReport) error {
	return writeAll(w, MsgHashReport, m.Canonical, m.Actual)
}

func ReadHashReport(r io.Reader) (HashReport, error) {
	var m HashReport
	if err := readAll(r, &m.Canonical, &m.Actual); err != nil {
		return HashReport{}, err
	}
	return m, nil
}

/* -------------------------------------------------------------------------
   HASH_LIST (optional bootstrap): type(1) seq(4) totalChunks(2) chunkIndex(2)
   count(2) contentId*count(8 each)
   ------------------------------------------------------------------------- */

type HashList struct {
	SequenceID  uint32
	TotalChunks uint16
	ChunkIndex  uint16
	IDs         []uint64
}

func WriteHashList(w io.Writer, m HashList) error {
	if len(m.IDs) > 0xFFFF {
		return errors.Wrapf(ErrProtocolViolation, "hash list chunk too large: %d ids", len(m.IDs))
	}
	if err := writeAll(w, MsgHashList, m.SequenceID, m.TotalChunks, m.ChunkIndex, uint16(len(m.IDs))); err != nil {
		return err
	}
	for _, id := range m.IDs {
		if err := writeAll(w, id); err != nil {
			return err
		}
	}
	return nil
}

func ReadHashList(r io.Reader) (HashList, error) {
	var m HashList
	var count uint16
	if err := readAll(r, &m.SequenceID, &m.TotalChunks, &m.ChunkIndex, &count); err != nil {
		return HashList{}, err
	}
	if m.ChunkIndex >= m.TotalChunks && m.TotalChunks != 0 {
		return HashList{}, errors.Wrapf(ErrProtocolViolation, "hash list chunkIndex %d >= totalChunks %d", m.ChunkIndex, m.TotalChunks)
	}
	m.IDs = make([]uint64, count)
	for i := range m.IDs {
		if err := readAll(r, &m.IDs[i]); err != nil {
			return HashList{}, err
		}
	}
	return m, nil
}

/* -------------------------------------------------------------------------
   Message dispatch
   ------------------------------------------------------------------------- */

// ReadMessageType reads the single leading byte identifying which
// client-to-server message follows.
func ReadMessageType(r io.Reader) (uint8, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, errors.Wrap(err, "wire: read message type")
	}
	return b[0], nil
}
